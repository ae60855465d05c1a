// Package sitemap walks sitemap indexes and classifies the URLs they list.
package sitemap

import (
	"bytes"
	"compress/gzip"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// Kind is the document type of a sitemap node.
type Kind string

const (
	KindIndex   Kind = "index"
	KindURLSet  Kind = "urlset"
	KindUnknown Kind = "unknown"
)

// dateOnlyFormat is the date-only layout for lastmod values (e.g. "2024-01-15").
const dateOnlyFormat = "2006-01-02"

// maxUncompressed caps a gunzipped sitemap (protocol limit is 50MB).
const maxUncompressed = 50 * 1024 * 1024

// ErrUnknownFormat is returned for documents that are neither an index nor a urlset.
var ErrUnknownFormat = errors.New("unknown sitemap format")

// xmlURLSet is the root element of a standard sitemap XML file.
type xmlURLSet struct {
	XMLName xml.Name `xml:"urlset"`
	URLs    []xmlLoc `xml:"url"`
}

// xmlSitemapIndex is the root element of a sitemap index XML file.
type xmlSitemapIndex struct {
	XMLName  xml.Name `xml:"sitemapindex"`
	Sitemaps []xmlLoc `xml:"sitemap"`
}

type xmlLoc struct {
	Loc     string `xml:"loc"`
	LastMod string `xml:"lastmod"`
}

// Entry is a <url> or <sitemap> entry.
type Entry struct {
	Loc     string     `json:"loc"`
	LastMod *time.Time `json:"lastmod,omitempty"`
}

// Document is a parsed sitemap file.
type Document struct {
	Kind    Kind
	Entries []Entry
}

// ParseDocument parses a sitemap index or urlset. Gzip-compressed
// documents (.xml.gz served without Content-Encoding) are inflated first.
func ParseDocument(content []byte) (*Document, error) {
	if len(content) >= 2 && content[0] == 0x1f && content[1] == 0x8b {
		zr, err := gzip.NewReader(bytes.NewReader(content))
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer zr.Close()
		inflated, err := io.ReadAll(io.LimitReader(zr, maxUncompressed))
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		content = inflated
	}

	contentStr := string(content)

	if strings.Contains(contentStr, "<sitemapindex") {
		var index xmlSitemapIndex
		if err := xml.Unmarshal(content, &index); err != nil {
			return nil, fmt.Errorf("XML parse error: %w", err)
		}
		return &Document{Kind: KindIndex, Entries: convert(index.Sitemaps)}, nil
	}

	if strings.Contains(contentStr, "<urlset") {
		var set xmlURLSet
		if err := xml.Unmarshal(content, &set); err != nil {
			return nil, fmt.Errorf("XML parse error: %w", err)
		}
		return &Document{Kind: KindURLSet, Entries: convert(set.URLs)}, nil
	}

	return nil, ErrUnknownFormat
}

func convert(locs []xmlLoc) []Entry {
	entries := make([]Entry, 0, len(locs))
	for _, l := range locs {
		loc := strings.TrimSpace(l.Loc)
		if loc == "" {
			continue
		}
		entries = append(entries, Entry{Loc: loc, LastMod: parseLastMod(l.LastMod)})
	}
	return entries
}

// parseLastMod tries RFC3339 then date-only; unparseable values yield nil.
func parseLastMod(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t
	}
	if t, err := time.Parse(dateOnlyFormat, raw); err == nil {
		return &t
	}
	return nil
}
