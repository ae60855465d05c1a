// Package config defines shopsync runtime configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/spider-crawler/shopsync/internal/logger"
)

// RenderMode defines how pages are loaded before extraction.
type RenderMode string

const (
	RenderHTML RenderMode = "html" // Plain HTTP fetch
	RenderJS   RenderMode = "js"   // JavaScript rendering (Chromium)
)

// TargetDriver names the SQL driver used for the commerce store.
type TargetDriver string

const (
	DriverMySQL    TargetDriver = "mysql"
	DriverPostgres TargetDriver = "postgres"
)

// AppConfig holds all configuration for a shopsync process.
type AppConfig struct {
	// Environment: production or development
	Environment string `json:"environment" yaml:"environment" env:"SHOPSYNC_ENV"`

	Log logger.Config `json:"log" yaml:"log"`

	Storage StorageConfig `json:"storage" yaml:"storage"`
	Fetch   FetchConfig   `json:"fetch" yaml:"fetch"`
	Render  RenderConfig  `json:"render" yaml:"render"`
	Crawl   CrawlConfig   `json:"crawl" yaml:"crawl"`
	Target  TargetConfig  `json:"target" yaml:"target"`
	API     APIConfig     `json:"api" yaml:"api"`

	// Directory holding locally downloaded product images
	ImagesDir string `json:"images_dir" yaml:"images_dir" env:"SHOPSYNC_IMAGES_DIR"`
}

// StorageConfig locates the local sqlite database.
type StorageConfig struct {
	Path string `json:"path" yaml:"path" env:"SHOPSYNC_DB_PATH"`
}

// FetchConfig controls outbound HTTP.
type FetchConfig struct {
	UserAgent string `json:"user_agent" yaml:"user_agent" env:"SHOPSYNC_USER_AGENT"`

	// Per-request timeout
	Timeout time.Duration `json:"timeout" yaml:"timeout" env:"SHOPSYNC_FETCH_TIMEOUT"`

	// Maximum response size in bytes
	MaxBodySize int64 `json:"max_body_size" yaml:"max_body_size"`

	MaxRedirects int `json:"max_redirects" yaml:"max_redirects"`

	// Politeness limit (0 = unlimited)
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second" env:"SHOPSYNC_RPS"`
	Burst             int     `json:"burst" yaml:"burst"`

	InsecureSkipVerify bool `json:"insecure_skip_verify" yaml:"insecure_skip_verify"`
}

// RenderConfig controls Chromium rendering for JS-heavy shops.
type RenderConfig struct {
	Mode         RenderMode    `json:"mode" yaml:"mode" env:"SHOPSYNC_RENDER_MODE"`
	Timeout      time.Duration `json:"timeout" yaml:"timeout"`
	ChromiumPath string        `json:"chromium_path" yaml:"chromium_path" env:"SHOPSYNC_CHROMIUM_PATH"`
	WaitSelector string        `json:"wait_selector" yaml:"wait_selector"`
	PoolSize     int           `json:"pool_size" yaml:"pool_size"`
}

// CrawlConfig bounds sitemap walks and drives URL classification.
type CrawlConfig struct {
	// Total sitemap documents visited per tree walk
	MaxSitemaps int `json:"max_sitemaps" yaml:"max_sitemaps" env:"SHOPSYNC_MAX_SITEMAPS"`

	// Classification rules, first match wins
	TypeRules []TypeRule `json:"type_rules" yaml:"type_rules"`
}

// TypeRule maps a URL regex to a page type.
type TypeRule struct {
	PageType string `json:"page_type" yaml:"page_type"`
	Pattern  string `json:"pattern" yaml:"pattern"`

	compiled *regexp.Regexp
}

// Regexp returns the compiled pattern; nil before CompilePatterns.
func (r TypeRule) Regexp() *regexp.Regexp { return r.compiled }

// TargetConfig describes the PrestaShop-compatible store.
type TargetConfig struct {
	Driver      TargetDriver `json:"driver" yaml:"driver" env:"SHOPSYNC_TARGET_DRIVER"`
	DSN         string       `json:"dsn" yaml:"dsn" env:"SHOPSYNC_TARGET_DSN"`
	TablePrefix string       `json:"table_prefix" yaml:"table_prefix" env:"SHOPSYNC_TARGET_PREFIX"`
	LangID      int          `json:"id_lang" yaml:"id_lang"`
	ShopID      int          `json:"id_shop" yaml:"id_shop"`

	// Per-statement timeout
	StatementTimeout time.Duration `json:"statement_timeout" yaml:"statement_timeout"`

	// Circuit breaker
	BreakerFailures uint32        `json:"breaker_failures" yaml:"breaker_failures"`
	BreakerTimeout  time.Duration `json:"breaker_timeout" yaml:"breaker_timeout"`
}

// APIConfig configures the read-only ops endpoint.
type APIConfig struct {
	Addr string `json:"addr" yaml:"addr" env:"SHOPSYNC_API_ADDR"`

	// Request rate limit; 0 disables it
	RPSLimit float64 `json:"rps_limit" yaml:"rps_limit" env:"SHOPSYNC_API_RPS"`
	RPSBurst int     `json:"rps_burst" yaml:"rps_burst"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Environment: "development",
		Log:         logger.Config{Level: "info"},
		Storage:     StorageConfig{Path: "shopsync.db"},
		Fetch: FetchConfig{
			UserAgent:         "ShopSync/1.0 (+https://github.com/spider-crawler/shopsync)",
			Timeout:           30 * time.Second,
			MaxBodySize:       20 * 1024 * 1024,
			MaxRedirects:      10,
			RequestsPerSecond: 2,
			Burst:             1,
		},
		Render: RenderConfig{
			Mode:     RenderHTML,
			Timeout:  30 * time.Second,
			PoolSize: 1,
		},
		Crawl: CrawlConfig{
			MaxSitemaps: 500,
			TypeRules:   DefaultTypeRules(),
		},
		Target: TargetConfig{
			Driver:           DriverMySQL,
			TablePrefix:      "ps_",
			LangID:           1,
			ShopID:           1,
			StatementTimeout: 15 * time.Second,
			BreakerFailures:  3,
			BreakerTimeout:   30 * time.Second,
		},
		API:       APIConfig{Addr: "127.0.0.1:8088", RPSLimit: 20, RPSBurst: 40},
		ImagesDir: "images",
	}
}

// DefaultTypeRules recognises common e-commerce URL shapes.
func DefaultTypeRules() []TypeRule {
	return []TypeRule{
		{PageType: "product", Pattern: `(?i)(/products?/|/produkt|/p/|/item/)`},
		{PageType: "category", Pattern: `(?i)(categor|kategor|/c/|/collections?/)`},
		{PageType: "page", Pattern: `(?i)(/content/|/cms/|/pages?/|/blog/)`},
	}
}

// Validate clamps out-of-range values and rejects unusable ones.
func (c *AppConfig) Validate() error {
	if c.Fetch.Timeout < time.Second {
		c.Fetch.Timeout = time.Second
	}
	if c.Fetch.MaxRedirects < 0 {
		c.Fetch.MaxRedirects = 0
	}
	if c.Fetch.MaxBodySize <= 0 {
		c.Fetch.MaxBodySize = 20 * 1024 * 1024
	}
	if c.Fetch.RequestsPerSecond < 0 {
		c.Fetch.RequestsPerSecond = 0
	}
	if c.Fetch.Burst < 1 {
		c.Fetch.Burst = 1
	}
	if c.Render.Timeout < time.Second {
		c.Render.Timeout = time.Second
	}
	if c.Render.PoolSize < 1 {
		c.Render.PoolSize = 1
	}
	if c.Crawl.MaxSitemaps < 1 {
		c.Crawl.MaxSitemaps = 1
	}
	if c.Target.StatementTimeout < time.Second {
		c.Target.StatementTimeout = time.Second
	}
	if c.Target.LangID < 1 {
		c.Target.LangID = 1
	}
	if c.Target.ShopID < 1 {
		c.Target.ShopID = 1
	}

	switch c.Render.Mode {
	case RenderHTML, RenderJS:
	case "":
		c.Render.Mode = RenderHTML
	default:
		return fmt.Errorf("unknown render mode %q", c.Render.Mode)
	}

	switch c.Target.Driver {
	case DriverMySQL, DriverPostgres:
	default:
		return fmt.Errorf("unsupported target driver %q", c.Target.Driver)
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		return fmt.Errorf("storage path is required")
	}
	return nil
}

// CompilePatterns compiles the classification rules.
func (c *AppConfig) CompilePatterns() error {
	for i := range c.Crawl.TypeRules {
		rule := &c.Crawl.TypeRules[i]
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return fmt.Errorf("invalid type rule pattern '%s': %w", rule.Pattern, err)
		}
		rule.compiled = re
	}
	return nil
}

// Save saves the configuration as JSON or YAML depending on the extension.
func (c *AppConfig) Save(filePath string) error {
	var (
		data []byte
		err  error
	)
	if isYAML(filePath) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Load loads configuration from a JSON or YAML file, then applies .env
// files and SHOPSYNC_* environment overrides. An empty path loads defaults
// plus the environment.
func Load(filePath string) (*AppConfig, error) {
	if err := loadEnvFiles(); err != nil {
		return nil, err
	}

	config := DefaultConfig()
	if filePath != "" {
		data, err := os.ReadFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if isYAML(filePath) {
			err = yaml.Unmarshal(data, config)
		} else {
			err = json.Unmarshal(data, config)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if err := config.CompilePatterns(); err != nil {
		return nil, fmt.Errorf("failed to compile patterns: %w", err)
	}

	return config, nil
}

// Clone creates a deep copy of the configuration.
func (c *AppConfig) Clone() *AppConfig {
	clone := *c

	clone.Crawl.TypeRules = make([]TypeRule, len(c.Crawl.TypeRules))
	copy(clone.Crawl.TypeRules, c.Crawl.TypeRules)

	clone.Log.OutputPaths = make([]string, len(c.Log.OutputPaths))
	copy(clone.Log.OutputPaths, c.Log.OutputPaths)

	return &clone
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
