package extraction

import (
	"context"

	"github.com/spider-crawler/shopsync/internal/apperr"
	"github.com/spider-crawler/shopsync/internal/fetcher"
	"github.com/spider-crawler/shopsync/internal/renderer"
)

// Page is a loaded HTML document.
type Page struct {
	URL        string
	FinalURL   string
	StatusCode int
	HTML       []byte
}

// PageSource loads pages for the selector extractor.
type PageSource interface {
	Load(ctx context.Context, url string) (*Page, error)
}

// HTTPFetcher is the part of fetcher.Fetcher the HTTP source needs.
type HTTPFetcher interface {
	Fetch(ctx context.Context, rawURL string) (*fetcher.Response, error)
}

// FetcherSource loads pages over plain HTTP.
type FetcherSource struct {
	Fetcher HTTPFetcher
}

// Load fetches url.
func (s FetcherSource) Load(ctx context.Context, url string) (*Page, error) {
	resp, err := s.Fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	if !resp.IsHTML() {
		return nil, apperr.Ef(apperr.ErrExtractor, "load "+url, "not an HTML page (%s)", resp.ContentType)
	}
	return &Page{
		URL:        url,
		FinalURL:   resp.FinalURL,
		StatusCode: resp.StatusCode,
		HTML:       resp.Body,
	}, nil
}

// RendererSource loads pages through headless Chromium.
type RendererSource struct {
	Renderer *renderer.Renderer
}

// Load renders url.
func (s RendererSource) Load(ctx context.Context, url string) (*Page, error) {
	res, err := s.Renderer.Render(ctx, url)
	if err != nil {
		return nil, err
	}
	status := res.StatusCode
	if status == 0 {
		status = 200
	}
	return &Page{
		URL:        url,
		FinalURL:   res.FinalURL,
		StatusCode: status,
		HTML:       []byte(res.HTML),
	}, nil
}
