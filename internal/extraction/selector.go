package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/spider-crawler/shopsync/internal/apperr"
	"github.com/spider-crawler/shopsync/internal/urlutil"
)

// defaultLinks collects every anchor when the config names no link selector.
const defaultLinks = "a[href]@href"

var (
	attrName   = regexp.MustCompile(`^[A-Za-z_:][-A-Za-z0-9_:.]*$`)
	whitespace = regexp.MustCompile(`\s+`)
)

// urlAttrs are attributes whose values are resolved against the page URL.
var urlAttrs = map[string]bool{"href": true, "src": true, "data-src": true, "data-zoom-image": true}

// SelectorExtractor extracts fields with CSS selectors from pages loaded
// through a PageSource.
type SelectorExtractor struct {
	source PageSource
}

// NewSelectorExtractor creates a selector extractor.
func NewSelectorExtractor(source PageSource) *SelectorExtractor {
	return &SelectorExtractor{source: source}
}

// Extract loads url and applies cfg.
func (e *SelectorExtractor) Extract(ctx context.Context, url string, raw json.RawMessage) (*Result, error) {
	cfg, err := ValidateConfig(raw)
	if err != nil {
		return nil, err
	}

	page, err := e.source.Load(ctx, url)
	if err != nil {
		return nil, err
	}
	return ExtractHTML(page, cfg)
}

// ExtractHTML applies cfg to an already loaded page.
func ExtractHTML(page *Page, cfg *Config) (*Result, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.HTML))
	if err != nil {
		return nil, apperr.E(apperr.ErrExtractor, "parse html", err)
	}

	base := page.FinalURL
	if base == "" {
		base = page.URL
	}

	res := &Result{
		Meta:    extractMeta(doc, page, base),
		Product: make(map[string]any),
		Links:   make([]string, 0),
	}

	for field, sel := range cfg.Selectors {
		if v := selectValue(doc.Selection, sel, base); v != "" {
			res.Product[field] = v
		}
	}

	if cfg.Images != "" {
		if images := selectAll(doc.Selection, cfg.Images, base); len(images) > 0 {
			res.Product["images"] = images
		}
	}

	if cfg.Variants != nil {
		variants := make([]map[string]any, 0)
		doc.Find(cfg.Variants.Container).Each(func(_ int, s *goquery.Selection) {
			v := make(map[string]any, len(cfg.Variants.Fields))
			for field, sel := range cfg.Variants.Fields {
				if val := selectValue(s, sel, base); val != "" {
					v[field] = val
				}
			}
			if len(v) > 0 {
				variants = append(variants, v)
			}
		})
		if len(variants) > 0 {
			res.Product["variants"] = variants
		}
	}

	linkSel := cfg.Links
	if linkSel == "" {
		linkSel = defaultLinks
	}
	for _, l := range selectAll(doc.Selection, linkSel, base) {
		if urlutil.IsAbsoluteURL(l) {
			res.Links = append(res.Links, l)
		}
	}

	return res, nil
}

func extractMeta(doc *goquery.Document, page *Page, base string) map[string]any {
	meta := map[string]any{
		"url":         page.URL,
		"final_url":   base,
		"http_status": page.StatusCode,
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title, _ = doc.Find("meta[property='og:title']").Attr("content")
	}
	setString(meta, "title", title)

	desc, ok := doc.Find("meta[name='description']").Attr("content")
	if !ok {
		desc, _ = doc.Find("meta[property='og:description']").Attr("content")
	}
	setString(meta, "description", desc)

	setString(meta, "h1", collapse(doc.Find("h1").First().Text()))

	if href, ok := doc.Find("link[rel='canonical']").Attr("href"); ok {
		setString(meta, "canonical", resolve(base, href))
	}
	if img, ok := doc.Find("meta[property='og:image']").Attr("content"); ok {
		setString(meta, "og_image", resolve(base, img))
	}
	img, ok := doc.Find("link[rel='image_src']").Attr("href")
	if !ok {
		img, ok = doc.Find("meta[name='twitter:image']").Attr("content")
	}
	if ok {
		setString(meta, "image", resolve(base, img))
	}
	return meta
}

// splitSelector splits "css@attr" into its parts.
func splitSelector(expr string) (css, attr string) {
	expr = strings.TrimSpace(expr)
	i := strings.LastIndexByte(expr, '@')
	if i < 0 {
		return expr, ""
	}
	if a := expr[i+1:]; attrName.MatchString(a) {
		return strings.TrimSpace(expr[:i]), a
	}
	return expr, ""
}

// selectValue returns the first match of expr within s.
func selectValue(s *goquery.Selection, expr, base string) string {
	css, attr := splitSelector(expr)
	target := s
	if css != "" {
		target = s.Find(css).First()
	}
	if target.Length() == 0 {
		return ""
	}
	return valueOf(target, attr, base)
}

// selectAll returns every distinct non-empty match of expr within s.
func selectAll(s *goquery.Selection, expr, base string) []string {
	css, attr := splitSelector(expr)
	if css == "" {
		return nil
	}
	out := make([]string, 0)
	seen := make(map[string]struct{})
	s.Find(css).Each(func(_ int, el *goquery.Selection) {
		v := valueOf(el, attr, base)
		if v == "" {
			return
		}
		if _, dup := seen[v]; dup {
			return
		}
		seen[v] = struct{}{}
		out = append(out, v)
	})
	return out
}

func valueOf(el *goquery.Selection, attr, base string) string {
	if attr == "" {
		return collapse(el.Text())
	}
	v, ok := el.Attr(attr)
	if !ok {
		return ""
	}
	v = strings.TrimSpace(v)
	if v != "" && urlAttrs[strings.ToLower(attr)] {
		v = resolve(base, v)
	}
	return v
}

func resolve(base, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "javascript:") || strings.HasPrefix(ref, "mailto:") {
		return ref
	}
	abs, err := urlutil.ResolveURL(base, ref)
	if err != nil {
		return ref
	}
	return abs
}

func collapse(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

func setString(m map[string]any, key, v string) {
	if v = strings.TrimSpace(v); v != "" {
		m[key] = v
	}
}
