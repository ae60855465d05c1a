package sitemap

import (
	"regexp"

	"github.com/gobwas/glob"

	"github.com/spider-crawler/shopsync/internal/apperr"
)

// Filters selects leaf URLs. Excludes win over includes; with no include
// patterns every URL not excluded passes.
type Filters struct {
	IncludeGlobs []string `json:"include_globs,omitempty"`
	ExcludeGlobs []string `json:"exclude_globs,omitempty"`
	IncludeRegex []string `json:"include_regex,omitempty"`
	ExcludeRegex []string `json:"exclude_regex,omitempty"`
}

// Matcher is a compiled Filters.
type Matcher struct {
	includes []func(string) bool
	excludes []func(string) bool
}

// Compile compiles every pattern; a bad pattern is an apperr.ErrInvalidFilter.
func (f Filters) Compile() (*Matcher, error) {
	m := &Matcher{}
	var err error
	if m.includes, err = compileAll(f.IncludeGlobs, f.IncludeRegex); err != nil {
		return nil, err
	}
	if m.excludes, err = compileAll(f.ExcludeGlobs, f.ExcludeRegex); err != nil {
		return nil, err
	}
	return m, nil
}

func compileAll(globs, regexes []string) ([]func(string) bool, error) {
	out := make([]func(string) bool, 0, len(globs)+len(regexes))
	for _, p := range globs {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, apperr.Ef(apperr.ErrInvalidFilter, "compile filters", "glob %q: %v", p, err)
		}
		out = append(out, g.Match)
	}
	for _, p := range regexes {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, apperr.Ef(apperr.ErrInvalidFilter, "compile filters", "regex %q: %v", p, err)
		}
		out = append(out, re.MatchString)
	}
	return out, nil
}

// Match reports whether url passes the filters.
func (m *Matcher) Match(url string) bool {
	if m == nil {
		return true
	}
	for _, ex := range m.excludes {
		if ex(url) {
			return false
		}
	}
	if len(m.includes) == 0 {
		return true
	}
	for _, in := range m.includes {
		if in(url) {
			return true
		}
	}
	return false
}
