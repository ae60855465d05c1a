package mapper

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/spider-crawler/shopsync/internal/apperr"
)

// Default paths used when the mapping config leaves them out.
const (
	DefaultImagesPath   = "product.images"
	DefaultVariantsPath = "product.variants"
	LocalImagesPath     = "product.local_images"
)

// Config is a decoded mapping config.
//
//	{
//	  "fields": {"name": "product.title", "price": "product.price", "reference": "product.sku"},
//	  "defaults": {"active": 1, "id_category_default": 2, "id_tax_rules_group": 1},
//	  "images": "product.images",
//	  "variants": "product.variants",
//	  "price_multiplier": 1.0
//	}
//
// Field expressions are dotted paths into the snapshot result (meta.*,
// product.*) or literals prefixed with "=".
type Config struct {
	Fields          map[string]string `json:"fields"`
	Defaults        map[string]any    `json:"defaults"`
	Images          string            `json:"images"`
	Variants        string            `json:"variants"`
	VariantSource   string            `json:"variant_source"`
	PriceMultiplier float64           `json:"price_multiplier"`
}

// productFieldNames lists the target fields a mapping may set.
var productFieldNames = map[string]bool{
	"name":                true,
	"reference":           true,
	"description":         true,
	"description_short":   true,
	"price":               true,
	"wholesale_price":     true,
	"quantity":            true,
	"ean13":               true,
	"weight":              true,
	"meta_title":          true,
	"meta_description":    true,
	"link_rewrite":        true,
	"active":              true,
	"id_category_default": true,
	"id_tax_rules_group":  true,
	"id_manufacturer":     true,
}

// FieldNames returns the target fields a mapping may set, sorted.
func FieldNames() []string {
	out := make([]string, 0, len(productFieldNames))
	for k := range productFieldNames {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ParseConfig decodes and validates a mapping config.
func ParseConfig(raw json.RawMessage) (*Config, error) {
	const op = "parse mapping config"

	var obj map[string]json.RawMessage
	if len(raw) == 0 || json.Unmarshal(raw, &obj) != nil || obj == nil {
		return nil, apperr.Ef(apperr.ErrInvalidConfig, op, "mapping config must be a JSON object")
	}

	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, apperr.E(apperr.ErrInvalidConfig, op, err)
	}

	for name, expr := range cfg.Fields {
		if !productFieldNames[name] {
			return nil, apperr.Ef(apperr.ErrInvalidConfig, op, "unknown target field %q (known: %s)", name, strings.Join(FieldNames(), ", "))
		}
		if strings.TrimSpace(expr) == "" {
			return nil, apperr.Ef(apperr.ErrInvalidConfig, op, "field %q has an empty expression", name)
		}
	}
	for name := range cfg.Defaults {
		if !productFieldNames[name] {
			return nil, apperr.Ef(apperr.ErrInvalidConfig, op, "unknown default field %q (known: %s)", name, strings.Join(FieldNames(), ", "))
		}
	}

	if _, ok := obj["price_multiplier"]; !ok {
		cfg.PriceMultiplier = 1
	}
	if cfg.PriceMultiplier <= 0 {
		return nil, apperr.Ef(apperr.ErrInvalidConfig, op, "price_multiplier must be positive, got %v", cfg.PriceMultiplier)
	}

	if cfg.Images == "" {
		cfg.Images = DefaultImagesPath
	}
	if cfg.Variants == "" {
		cfg.Variants = DefaultVariantsPath
	}
	if cfg.VariantSource == "" {
		cfg.VariantSource = DefaultVariantsPath
	}
	return &cfg, nil
}

// lookup resolves a dotted path (or "=literal") against the snapshot root.
// Numeric segments index into lists.
func lookup(root map[string]any, expr string) (any, bool) {
	expr = strings.TrimSpace(expr)
	if strings.HasPrefix(expr, "=") {
		return expr[1:], true
	}

	var cur any = root
	for _, seg := range strings.Split(expr, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			var idx int
			if _, err := fmt.Sscanf(seg, "%d", &idx); err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	if cur == nil {
		return nil, false
	}
	return cur, true
}
