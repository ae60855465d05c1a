package sitemap

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/spider-crawler/shopsync/internal/config"
)

// Page types assigned to catalog URLs.
const (
	TypeProduct  = "product"
	TypeCategory = "category"
	TypePage     = "page"
	TypeOther    = "other"
	TypeUnknown  = "unknown"
)

// sitemapHints map words found in a sitemap file name to a page type.
var sitemapHints = []struct {
	word     string
	pageType string
}{
	{"product", TypeProduct},
	{"categor", TypeCategory},
	{"collection", TypeCategory},
	{"cms", TypePage},
	{"page", TypePage},
}

// Classifier assigns a page type to a URL.
type Classifier struct {
	rules []rule
}

type rule struct {
	pageType string
	pattern  string
	re       *regexp.Regexp
}

// NewClassifier builds a classifier from config rules. Rules whose pattern
// does not compile are skipped.
func NewClassifier(rules []config.TypeRule) *Classifier {
	c := &Classifier{}
	for _, r := range rules {
		re := r.Regexp()
		if re == nil {
			var err error
			if re, err = regexp.Compile(r.Pattern); err != nil {
				continue
			}
		}
		c.rules = append(c.rules, rule{pageType: r.PageType, pattern: r.Pattern, re: re})
	}
	return c
}

// Classify returns the page type for pageURL and the reason it was chosen.
// URL rules are tried in order first; the name of the sitemap the URL came
// from is the fallback.
func (c *Classifier) Classify(pageURL, sitemapURL string) (string, string) {
	if c != nil {
		for _, r := range c.rules {
			if r.re.MatchString(pageURL) {
				return r.pageType, fmt.Sprintf("url matches %s", r.pattern)
			}
		}
	}
	if name := sitemapName(sitemapURL); name != "" {
		for _, h := range sitemapHints {
			if strings.Contains(name, h.word) {
				return h.pageType, fmt.Sprintf("sitemap name %q", name)
			}
		}
	}
	return TypeOther, "no rule matched"
}

// sitemapName is the lower-cased file name of a sitemap URL, without query.
func sitemapName(sitemapURL string) string {
	sitemapURL = strings.TrimSpace(sitemapURL)
	if sitemapURL == "" {
		return ""
	}
	p := sitemapURL
	if u, err := url.Parse(sitemapURL); err == nil {
		p = u.Path
	}
	name := path.Base(p)
	if name == "." || name == "/" {
		return ""
	}
	return strings.ToLower(name)
}
