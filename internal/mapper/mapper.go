// Package mapper turns an extraction snapshot into a store-ready product
// payload under a mapping config. Map is pure and deterministic.
package mapper

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/spider-crawler/shopsync/internal/apperr"
	"github.com/spider-crawler/shopsync/internal/storage"
)

// Image sources recorded on a payload.
const (
	ImageSourceLocal  = "local"
	ImageSourceMapped = "mapped"
	ImageSourceMeta   = "meta"
	ImageSourceNone   = "none"
)

// ProductFields are the product columns written to the target store.
type ProductFields struct {
	Name              string  `json:"name"`
	Reference         string  `json:"reference,omitempty"`
	Description       string  `json:"description,omitempty"`
	DescriptionShort  string  `json:"description_short,omitempty"`
	Price             float64 `json:"price"`
	WholesalePrice    float64 `json:"wholesale_price,omitempty"`
	Quantity          int     `json:"quantity"`
	EAN13             string  `json:"ean13,omitempty"`
	Weight            float64 `json:"weight,omitempty"`
	MetaTitle         string  `json:"meta_title,omitempty"`
	MetaDescription   string  `json:"meta_description,omitempty"`
	LinkRewrite       string  `json:"link_rewrite"`
	Active            int     `json:"active"`
	IDCategoryDefault int     `json:"id_category_default"`
	IDTaxRulesGroup   int     `json:"id_tax_rules_group"`
	IDManufacturer    int     `json:"id_manufacturer,omitempty"`
}

// ImageRef is one product image in display order.
type ImageRef struct {
	Position int    `json:"position"`
	Source   string `json:"source"`
	Local    bool   `json:"local"`
	Cover    bool   `json:"cover"`
}

// Variant is one product combination.
type Variant struct {
	ID         string            `json:"id,omitempty"`
	Reference  string            `json:"reference,omitempty"`
	Price      float64           `json:"price,omitempty"`
	Quantity   int               `json:"quantity"`
	EAN13      string            `json:"ean13,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	URL        string            `json:"url,omitempty"`
	Image      string            `json:"image,omitempty"`

	// sku is the raw "sku" value; variants are matched by ID, then sku.
	sku string
}

// Payload is the mapped, store-ready form of a snapshot.
type Payload struct {
	Domain      string        `json:"domain"`
	URL         string        `json:"url"`
	URLKey      string        `json:"url_key"`
	Product     ProductFields `json:"product"`
	Images      []ImageRef    `json:"images"`
	Variants    []Variant     `json:"variants"`
	ImageSource string        `json:"image_source"`
}

// Map applies a mapping config to a snapshot.
func Map(snap *storage.Snapshot, mappingConfig json.RawMessage) (*Payload, error) {
	cfg, err := ParseConfig(mappingConfig)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, apperr.Ef(apperr.ErrInvalidState, "map", "no snapshot")
	}

	var root map[string]any
	if err := json.Unmarshal(snap.Result, &root); err != nil || root == nil {
		return nil, apperr.Ef(apperr.ErrInvalidState, "map", "snapshot result of %s is not an object", snap.URL)
	}

	p := &Payload{
		Domain: snap.Domain,
		URL:    snap.URL,
		URLKey: snap.URLKey,
	}

	p.Product = mapProduct(root, cfg)
	if p.Product.Name == "" {
		return nil, apperr.Ef(apperr.ErrInvalidConfig, "map", "mapping produced no product name for %s", snap.URL)
	}

	p.Images, p.ImageSource = mapImages(root, cfg)
	p.Variants = mapVariants(root, cfg, p.Product.Price)
	return p, nil
}

func mapProduct(root map[string]any, cfg *Config) ProductFields {
	values := make(map[string]any, len(productFieldNames))
	for name, v := range cfg.Defaults {
		values[name] = v
	}
	for name, expr := range cfg.Fields {
		if v, ok := lookup(root, expr); ok && asString(v) != "" {
			values[name] = v
		}
	}

	var f ProductFields
	f.Name = asString(values["name"])
	if f.Name == "" {
		for _, fallback := range []string{"meta.h1", "meta.title"} {
			if v, ok := lookup(root, fallback); ok {
				if f.Name = asString(v); f.Name != "" {
					break
				}
			}
		}
	}
	f.Reference = asString(values["reference"])
	f.Description = asString(values["description"])
	f.DescriptionShort = asString(values["description_short"])
	f.EAN13 = asString(values["ean13"])
	f.MetaTitle = asString(values["meta_title"])
	f.MetaDescription = asString(values["meta_description"])

	if price, ok := asFloat(values["price"]); ok {
		f.Price = roundPrice(price * cfg.PriceMultiplier)
	}
	if wp, ok := asFloat(values["wholesale_price"]); ok {
		f.WholesalePrice = roundPrice(wp)
	}
	f.Weight, _ = asFloat(values["weight"])
	f.Quantity, _ = asInt(values["quantity"])
	f.IDManufacturer, _ = asInt(values["id_manufacturer"])

	f.Active = 1
	if v, ok := asInt(values["active"]); ok {
		f.Active = v
	}
	f.IDCategoryDefault = 2
	if v, ok := asInt(values["id_category_default"]); ok {
		f.IDCategoryDefault = v
	}
	f.IDTaxRulesGroup = 1
	if v, ok := asInt(values["id_tax_rules_group"]); ok {
		f.IDTaxRulesGroup = v
	}

	f.LinkRewrite = Slug(asString(values["link_rewrite"]))
	if asString(values["link_rewrite"]) == "" {
		f.LinkRewrite = Slug(f.Name)
	}
	if f.MetaTitle == "" {
		f.MetaTitle = f.Name
	}
	return f
}

// mapImages picks the first non-empty of local images, the mapped list and
// the meta image.
func mapImages(root map[string]any, cfg *Config) ([]ImageRef, string) {
	if v, ok := lookup(root, LocalImagesPath); ok {
		if list := dedupe(asStringList(v)); len(list) > 0 {
			return imageRefs(list, true), ImageSourceLocal
		}
	}
	if v, ok := lookup(root, cfg.Images); ok {
		if list := dedupe(asStringList(v)); len(list) > 0 {
			return imageRefs(list, false), ImageSourceMapped
		}
	}
	for _, path := range []string{"meta.og_image", "meta.image"} {
		if v, ok := lookup(root, path); ok {
			if s := asString(v); s != "" {
				return imageRefs([]string{s}, false), ImageSourceMeta
			}
		}
	}
	return []ImageRef{}, ImageSourceNone
}

func imageRefs(sources []string, local bool) []ImageRef {
	out := make([]ImageRef, len(sources))
	for i, s := range sources {
		out[i] = ImageRef{Position: i + 1, Source: s, Local: local, Cover: i == 0}
	}
	return out
}

func dedupe(list []string) []string {
	seen := make(map[string]struct{}, len(list))
	out := make([]string, 0, len(list))
	for _, s := range list {
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// variantKeys are the recognised keys of a raw variant; anything else that
// is a scalar becomes an attribute.
var variantKeys = map[string]bool{
	"id": true, "id_variant": true, "sku": true, "reference": true, "price": true,
	"quantity": true, "stock": true, "ean13": true, "url": true, "image": true, "attributes": true,
}

func mapVariants(root map[string]any, cfg *Config, basePrice float64) []Variant {
	mapped := variantList(root, cfg.Variants, cfg.PriceMultiplier)
	if len(mapped) == 0 {
		return []Variant{}
	}

	raw := variantList(root, cfg.VariantSource, cfg.PriceMultiplier)
	byID := make(map[string]*Variant)
	bySKU := make(map[string]*Variant)
	for i := range raw {
		if raw[i].ID != "" {
			if _, dup := byID[raw[i].ID]; !dup {
				byID[raw[i].ID] = &raw[i]
			}
		}
		if raw[i].sku != "" {
			if _, dup := bySKU[raw[i].sku]; !dup {
				bySKU[raw[i].sku] = &raw[i]
			}
		}
	}

	for i := range mapped {
		v := &mapped[i]
		var src *Variant
		if v.ID != "" {
			src = byID[v.ID]
		}
		if src == nil && v.sku != "" {
			src = bySKU[v.sku]
		}
		if src != nil {
			if len(v.Attributes) == 0 && len(src.Attributes) > 0 {
				v.Attributes = copyAttrs(src.Attributes)
			}
			if v.URL == "" {
				v.URL = src.URL
			}
			if v.Image == "" {
				v.Image = src.Image
			}
		}
		if v.Price == 0 {
			v.Price = basePrice
		}
	}
	return mapped
}

func variantList(root map[string]any, path string, multiplier float64) []Variant {
	v, ok := lookup(root, path)
	if !ok {
		return nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil
	}

	out := make([]Variant, 0, len(items))
	for _, it := range items {
		m, ok := it.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, toVariant(m, multiplier))
	}
	return out
}

func toVariant(m map[string]any, multiplier float64) Variant {
	v := Variant{
		ID:        firstString(m, "id", "id_variant"),
		Reference: firstString(m, "reference", "sku"),
		EAN13:     asString(m["ean13"]),
		URL:       asString(m["url"]),
		Image:     asString(m["image"]),
		sku:       asString(m["sku"]),
	}
	if price, ok := asFloat(m["price"]); ok {
		v.Price = roundPrice(price * multiplier)
	}
	if q, ok := asInt(firstValue(m, "quantity", "stock")); ok {
		v.Quantity = q
	}

	attrs := make(map[string]string)
	if raw, ok := m["attributes"].(map[string]any); ok {
		for k, a := range raw {
			if s := asString(a); s != "" {
				attrs[k] = s
			}
		}
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if variantKeys[k] {
			continue
		}
		switch m[k].(type) {
		case string, float64, bool:
			if s := asString(m[k]); s != "" {
				attrs[k] = s
			}
		}
	}
	if len(attrs) > 0 {
		v.Attributes = attrs
	}
	return v
}

func firstValue(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := asString(m[k]); s != "" {
			return s
		}
	}
	return ""
}

func copyAttrs(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// AttributeNames returns the sorted attribute group names used by variants.
func AttributeNames(variants []Variant) []string {
	seen := make(map[string]struct{})
	for _, v := range variants {
		for k := range v.Attributes {
			seen[k] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// hasPrefixFold reports whether s starts with prefix, ignoring case.
func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

// IsRemote reports whether an image source is an http(s) URL.
func IsRemote(source string) bool {
	return hasPrefixFold(source, "http://") || hasPrefixFold(source, "https://")
}
