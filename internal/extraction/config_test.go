package extraction

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spider-crawler/shopsync/internal/apperr"
	"github.com/spider-crawler/shopsync/internal/storage"
)

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		valid bool
	}{
		{"empty object", `{}`, true},
		{"full", productConfig, true},
		{"unknown keys allowed", `{"notes": 1}`, true},
		{"array", `[]`, false},
		{"null", `null`, false},
		{"selectors not object", `{"selectors": "h1"}`, false},
		{"selector not string", `{"selectors": {"title": 3}}`, false},
		{"images not string", `{"images": ["a"]}`, false},
		{"page_type not string", `{"page_type": 1}`, false},
		{"variants without container", `{"variants": {"fields": {}}}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateConfig(json.RawMessage(tt.raw))
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.Is(err, apperr.ErrInvalidConfig), "got %v", err)
			}
		})
	}
}

func TestResolveConfig(t *testing.T) {
	stored := &storage.ConfigVersion{Version: 4, Config: json.RawMessage(`{"selectors":{"title":"h1"}}`)}

	res, err := ResolveConfig(CurrentVersion{}, stored)
	require.NoError(t, err)
	require.NotNil(t, res.Version)
	assert.Equal(t, 4, *res.Version)
	assert.False(t, res.Overridden)

	res, err = ResolveConfig(nil, stored)
	require.NoError(t, err)
	assert.Equal(t, "h1", res.Config.Selectors["title"])

	res, err = ResolveConfig(InlineOverride(`{"selectors":{"title":"h2"}}`), stored)
	require.NoError(t, err)
	assert.Nil(t, res.Version)
	assert.True(t, res.Overridden)
	assert.Equal(t, "h2", res.Config.Selectors["title"])

	res, err = ResolveConfig(ExplicitVersion(4), stored)
	require.NoError(t, err)
	assert.Equal(t, 4, *res.Version)

	_, err = ResolveConfig(ExplicitVersion(3), stored)
	assert.True(t, errors.Is(err, apperr.ErrInvalidConfig))
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	_, err = ResolveConfig(CurrentVersion{}, nil)
	assert.True(t, errors.Is(err, apperr.ErrInvalidConfig))

	_, err = ResolveConfig(InlineOverride(`[1]`), nil)
	assert.True(t, errors.Is(err, apperr.ErrInvalidConfig))
}
