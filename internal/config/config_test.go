package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	require.NoError(t, cfg.CompilePatterns())
	for _, r := range cfg.Crawl.TypeRules {
		assert.NotNil(t, r.Regexp(), r.PageType)
	}
}

func TestValidateClampsAndRejects(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Fetch.Timeout = 0
	cfg.Crawl.MaxSitemaps = -4
	cfg.Render.Mode = ""
	require.NoError(t, cfg.Validate())
	assert.Equal(t, time.Second, cfg.Fetch.Timeout)
	assert.Equal(t, 1, cfg.Crawl.MaxSitemaps)
	assert.Equal(t, RenderHTML, cfg.Render.Mode)

	cfg.Target.Driver = "oracle"
	assert.Error(t, cfg.Validate())
}

func TestLoadYAMLWithEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shopsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
environment: production
storage:
  path: /tmp/x.db
fetch:
  timeout: 15s
  requests_per_second: 4
target:
  driver: postgres
  table_prefix: shop_
crawl:
  max_sitemaps: 20
  type_rules:
    - page_type: product
      pattern: "/item-"
`), 0644))

	t.Setenv("SHOPSYNC_TARGET_PREFIX", "env_")
	t.Setenv("SHOPSYNC_MAX_SITEMAPS", "7")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, "/tmp/x.db", cfg.Storage.Path)
	assert.Equal(t, 15*time.Second, cfg.Fetch.Timeout)
	assert.Equal(t, 4.0, cfg.Fetch.RequestsPerSecond)
	assert.Equal(t, DriverPostgres, cfg.Target.Driver)
	assert.Equal(t, "env_", cfg.Target.TablePrefix)
	assert.Equal(t, 7, cfg.Crawl.MaxSitemaps)
	require.Len(t, cfg.Crawl.TypeRules, 1)
	assert.True(t, cfg.Crawl.TypeRules[0].Regexp().MatchString("https://s.io/item-9"))
}

func TestSaveLoadJSONRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shopsync.json")

	cfg := DefaultConfig()
	cfg.Target.DSN = "user:pw@tcp(db:3306)/shop"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Target.DSN, loaded.Target.DSN)
	assert.Equal(t, cfg.Fetch.Timeout, loaded.Fetch.Timeout)
}

func TestLoadRejectsBadPattern(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"crawl":{"type_rules":[{"page_type":"x","pattern":"("}]}}`), 0644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestClone(t *testing.T) {
	cfg := DefaultConfig()
	clone := cfg.Clone()
	clone.Crawl.TypeRules[0].PageType = "changed"
	assert.Equal(t, "product", cfg.Crawl.TypeRules[0].PageType)
}
