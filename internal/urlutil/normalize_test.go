package urlutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonical(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"HTTPS://Shop.IO:443/a//b/", "https://shop.io/a/b"},
		{"http://shop.io:80", "http://shop.io/"},
		{"https://shop.io/p?b=2&a=1&utm_source=x&gclid=y#frag", "https://shop.io/p?a=1&b=2"},
		{"https://shop.io/a/./b/../c", "https://shop.io/a/c"},
		{"https://shop.io/sitemap.xml?flag", "https://shop.io/sitemap.xml?flag"},
	}
	for _, tt := range tests {
		got, err := Canonical(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestKeyCollapsesCaseAndWhitespace(t *testing.T) {
	assert.Equal(t, Key("https://x.com/p"), Key(" https://X.com/P "))
	assert.NotEqual(t, Key("https://x.com/p"), Key("https://x.com/q"))
}

func TestDomain(t *testing.T) {
	tests := map[string]string{
		"https://www.shop.co.uk/p/1": "shop.co.uk",
		"shop.io":                    "shop.io",
		"https://Sub.Shop.io:8080/x": "shop.io",
		"http://127.0.0.1:9000/":     "127.0.0.1",
		"localhost":                  "localhost",
	}
	for in, want := range tests {
		got, err := Domain(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := Domain("  ")
	assert.Error(t, err)
}

func TestSameSiteAndResolve(t *testing.T) {
	assert.True(t, SameSite("https://cdn.shop.io/img.png", "shop.io"))
	assert.False(t, SameSite("https://other.io/", "shop.io"))

	got, err := ResolveURL("https://shop.io/c/list", "../p/1")
	require.NoError(t, err)
	assert.Equal(t, "https://shop.io/p/1", got)

	assert.True(t, IsAbsoluteURL("https://shop.io/x"))
	assert.False(t, IsAbsoluteURL("/x"))
	assert.False(t, IsAbsoluteURL("ftp://shop.io/x"))
}
