// Package testutil provides HTTP fixtures for sitemap and page tests.
package testutil

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

// TestServer provides a configurable test HTTP server.
type TestServer struct {
	Server    *httptest.Server
	mu        sync.RWMutex
	pages     map[string]*TestPage
	errors    map[string]int // path -> status code
	hits      map[string]int
	redirects map[string]string
}

// TestPage represents a served document.
type TestPage struct {
	Content     []byte
	ContentType string
	StatusCode  int
	Headers     map[string]string
}

// NewTestServer creates a new test server.
func NewTestServer() *TestServer {
	ts := &TestServer{
		pages:     make(map[string]*TestPage),
		errors:    make(map[string]int),
		hits:      make(map[string]int),
		redirects: make(map[string]string),
	}

	ts.Server = httptest.NewServer(http.HandlerFunc(ts.handler))
	return ts
}

func (ts *TestServer) handler(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	ts.mu.Lock()
	ts.hits[path]++
	errorCode := ts.errors[path]
	redirect := ts.redirects[path]
	page := ts.pages[path]
	ts.mu.Unlock()

	if redirect != "" {
		http.Redirect(w, r, redirect, http.StatusMovedPermanently)
		return
	}

	if errorCode > 0 {
		w.WriteHeader(errorCode)
		return
	}

	if page == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	for k, v := range page.Headers {
		w.Header().Set(k, v)
	}
	w.Header().Set("Content-Type", page.ContentType)
	if page.StatusCode > 0 {
		w.WriteHeader(page.StatusCode)
	}
	_, _ = w.Write(page.Content)
}

// AddPage serves an HTML page at path.
func (ts *TestServer) AddPage(path, content string) {
	ts.AddPageWithType(path, content, "text/html; charset=utf-8")
}

// AddPageWithType serves content with a specific content type.
func (ts *TestServer) AddPageWithType(path, content, contentType string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	ts.pages[path] = &TestPage{
		Content:     []byte(content),
		ContentType: contentType,
		StatusCode:  http.StatusOK,
	}
}

// AddSitemap serves an XML sitemap document.
func (ts *TestServer) AddSitemap(path, xml string) {
	ts.AddPageWithType(path, xml, "application/xml")
}

// AddGzipSitemap serves a gzip-compressed sitemap file (.xml.gz style,
// no Content-Encoding header).
func (ts *TestServer) AddGzipSitemap(path, xml string) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, _ = io.WriteString(zw, xml)
	_ = zw.Close()

	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.pages[path] = &TestPage{
		Content:     buf.Bytes(),
		ContentType: "application/x-gzip",
		StatusCode:  http.StatusOK,
	}
}

// SetError sets error status for a path.
func (ts *TestServer) SetError(path string, statusCode int) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.errors[path] = statusCode
}

// SetRedirect sets redirect for a path.
func (ts *TestServer) SetRedirect(from, to string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.redirects[from] = to
}

// GetHits returns hit count for a path.
func (ts *TestServer) GetHits(path string) int {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.hits[path]
}

// URL returns the server URL, or the absolute URL of path when given.
func (ts *TestServer) URL(path ...string) string {
	return ts.Server.URL + strings.Join(path, "")
}

// Close closes the test server.
func (ts *TestServer) Close() {
	ts.Server.Close()
}

// URLSet renders a sitemap urlset listing locs.
func URLSet(locs ...string) string {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	sb.WriteString(`<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">` + "\n")
	for _, loc := range locs {
		sb.WriteString(fmt.Sprintf("  <url><loc>%s</loc><lastmod>2024-05-01</lastmod></url>\n", loc))
	}
	sb.WriteString("</urlset>")
	return sb.String()
}

// SitemapIndex renders a sitemap index listing child sitemaps.
func SitemapIndex(locs ...string) string {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	sb.WriteString(`<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">` + "\n")
	for _, loc := range locs {
		sb.WriteString(fmt.Sprintf("  <sitemap><loc>%s</loc><lastmod>2024-05-01T10:00:00+00:00</lastmod></sitemap>\n", loc))
	}
	sb.WriteString("</sitemapindex>")
	return sb.String()
}
