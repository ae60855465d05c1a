package extraction

import (
	"encoding/json"
	"strings"

	"github.com/spider-crawler/shopsync/internal/apperr"
	"github.com/spider-crawler/shopsync/internal/storage"
)

// Config is the decoded form of an extraction config.
//
//	{
//	  "selectors": {"title": "h1", "price": "span.price@content"},
//	  "images": "img.product-image@src",
//	  "variants": {"container": ".variant", "fields": {"sku": "@data-sku"}},
//	  "links": "a@href",
//	  "page_type": "product"
//	}
//
// A selector is a CSS selector optionally followed by @attr; without an
// attribute the trimmed text is taken.
type Config struct {
	Selectors map[string]string `json:"selectors,omitempty"`
	Images    string            `json:"images,omitempty"`
	Variants  *VariantRule      `json:"variants,omitempty"`
	Links     string            `json:"links,omitempty"`
	PageType  string            `json:"page_type,omitempty"`
}

// VariantRule extracts one variant per Container match.
type VariantRule struct {
	Container string            `json:"container"`
	Fields    map[string]string `json:"fields"`
}

// ValidateConfig checks an extraction config before any network call.
func ValidateConfig(raw json.RawMessage) (*Config, error) {
	const op = "validate extraction config"

	var obj map[string]json.RawMessage
	if len(raw) == 0 || json.Unmarshal(raw, &obj) != nil || obj == nil {
		return nil, apperr.Ef(apperr.ErrInvalidConfig, op, "config must be a JSON object")
	}

	cfg := &Config{}
	if v, ok := obj["selectors"]; ok {
		var sel map[string]any
		if err := json.Unmarshal(v, &sel); err != nil {
			return nil, apperr.Ef(apperr.ErrInvalidConfig, op, "selectors must be an object")
		}
		cfg.Selectors = make(map[string]string, len(sel))
		for field, s := range sel {
			str, ok := s.(string)
			if !ok {
				return nil, apperr.Ef(apperr.ErrInvalidConfig, op, "selector %q must be a string", field)
			}
			cfg.Selectors[field] = str
		}
	}
	for name, dst := range map[string]*string{"images": &cfg.Images, "links": &cfg.Links, "page_type": &cfg.PageType} {
		v, ok := obj[name]
		if !ok {
			continue
		}
		if err := json.Unmarshal(v, dst); err != nil {
			return nil, apperr.Ef(apperr.ErrInvalidConfig, op, "%s must be a string", name)
		}
	}
	if v, ok := obj["variants"]; ok {
		var rule VariantRule
		if err := json.Unmarshal(v, &rule); err != nil {
			return nil, apperr.Ef(apperr.ErrInvalidConfig, op, "variants must be {container, fields}")
		}
		if strings.TrimSpace(rule.Container) == "" {
			return nil, apperr.Ef(apperr.ErrInvalidConfig, op, "variants.container is required")
		}
		cfg.Variants = &rule
	}
	return cfg, nil
}

// ConfigSelector chooses which extraction config a run uses. It is one of
// CurrentVersion, ExplicitVersion or InlineOverride.
type ConfigSelector interface {
	isConfigSelector()
}

// CurrentVersion uses the newest stored version.
type CurrentVersion struct{}

// ExplicitVersion uses a specific stored version.
type ExplicitVersion int

// InlineOverride uses the given config instead of any stored version.
type InlineOverride json.RawMessage

func (CurrentVersion) isConfigSelector()  {}
func (ExplicitVersion) isConfigSelector() {}
func (InlineOverride) isConfigSelector()  {}

// ResolvedConfig is the config a run will use.
type ResolvedConfig struct {
	Raw        json.RawMessage
	Config     *Config
	Version    *int
	Overridden bool
}

// ResolveConfig applies the precedence override > explicit version >
// current. stored is the version loaded for the selector (nil when absent
// or not needed). The result is validated.
func ResolveConfig(sel ConfigSelector, stored *storage.ConfigVersion) (*ResolvedConfig, error) {
	const op = "resolve extraction config"

	if sel == nil {
		sel = CurrentVersion{}
	}

	var res ResolvedConfig
	switch s := sel.(type) {
	case InlineOverride:
		res.Raw = json.RawMessage(s)
		res.Overridden = true
	case ExplicitVersion:
		if stored == nil || stored.Version != int(s) {
			return nil, apperr.E(apperr.ErrInvalidConfig, op,
				apperr.Ef(apperr.ErrNotFound, op, "config version %d does not exist", int(s)))
		}
		v := stored.Version
		res.Raw, res.Version = stored.Config, &v
	case CurrentVersion:
		if stored == nil {
			return nil, apperr.E(apperr.ErrInvalidConfig, op,
				apperr.Ef(apperr.ErrNotFound, op, "no extraction config saved"))
		}
		v := stored.Version
		res.Raw, res.Version = stored.Config, &v
	default:
		return nil, apperr.Ef(apperr.ErrInvalidConfig, op, "unknown selector %T", sel)
	}

	cfg, err := ValidateConfig(res.Raw)
	if err != nil {
		return nil, err
	}
	res.Config = cfg
	return &res, nil
}
