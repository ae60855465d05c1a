// Package robots reads robots.txt to find a shop's sitemaps.
package robots

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/temoto/robotstxt"

	"github.com/spider-crawler/shopsync/internal/apperr"
	"github.com/spider-crawler/shopsync/internal/fetcher"
)

// robotsTxtPath is the well-known path for robots.txt files.
const robotsTxtPath = "/robots.txt"

// defaultSitemapPath is tried when robots.txt lists no sitemap.
const defaultSitemapPath = "/sitemap.xml"

// Fetcher loads one document.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*fetcher.Response, error)
}

// Info is what robots.txt says about a site.
type Info struct {
	RobotsURL  string        `json:"robots_url"`
	Sitemaps   []string      `json:"sitemaps"`
	CrawlDelay time.Duration `json:"crawl_delay,omitempty"`

	// Fallback is set when no Sitemap directive was found and the
	// conventional /sitemap.xml was returned instead.
	Fallback bool `json:"fallback,omitempty"`
}

// Discover fetches robots.txt for siteURL (a URL or bare host) and returns
// its Sitemap directives. A missing robots.txt is not an error.
func Discover(ctx context.Context, f Fetcher, siteURL, userAgent string) (*Info, error) {
	root, err := siteRoot(siteURL)
	if err != nil {
		return nil, err
	}

	info := &Info{RobotsURL: root + robotsTxtPath}

	resp, err := f.Fetch(ctx, info.RobotsURL)
	status := 0
	var body []byte
	if resp != nil {
		status = resp.StatusCode
		body = resp.Body
	}
	if err != nil && (status == 0 || status >= 500) {
		return nil, err
	}

	data, perr := robotstxt.FromStatusAndBytes(status, body)
	if perr != nil {
		return nil, apperr.E(apperr.ErrFetchFailed, "parse robots.txt", perr)
	}

	for _, s := range data.Sitemaps {
		if s = strings.TrimSpace(s); s != "" {
			info.Sitemaps = append(info.Sitemaps, s)
		}
	}
	if group := data.FindGroup(userAgent); group != nil {
		info.CrawlDelay = group.CrawlDelay
	}

	if len(info.Sitemaps) == 0 {
		info.Sitemaps = []string{root + defaultSitemapPath}
		info.Fallback = true
	}
	return info, nil
}

func siteRoot(siteURL string) (string, error) {
	s := strings.TrimSpace(siteURL)
	if s == "" {
		return "", errors.New("robots: empty site")
	}
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("robots: parse url: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("robots: empty host in url %q", siteURL)
	}
	return u.Scheme + "://" + u.Host, nil
}
