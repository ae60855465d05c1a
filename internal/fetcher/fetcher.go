package fetcher

import (
	"compress/gzip"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/spider-crawler/shopsync/internal/apperr"
	"github.com/spider-crawler/shopsync/internal/config"
)

// Fetcher handles HTTP requests with redirect tracking and a politeness limit.
type Fetcher struct {
	client      *http.Client
	config      config.FetchConfig
	maxBodySize int64
	transport   *http.Transport
	limiter     *rate.Limiter
}

// NewFetcher creates a new HTTP fetcher.
func NewFetcher(cfg config.FetchConfig) *Fetcher {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // operator opt-in
		},
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	f := &Fetcher{
		config:      cfg,
		maxBodySize: cfg.MaxBodySize,
		transport:   transport,
		limiter:     rate.NewLimiter(limit, burst),
	}
	if f.maxBodySize <= 0 {
		f.maxBodySize = 20 * 1024 * 1024
	}

	// Redirects are followed manually to record the chain
	f.client = &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	return f
}

// Fetch GETs rawURL. The returned error is an apperr.ErrFetchFailed for
// transport failures and for non-2xx final statuses; the Response is still
// returned in the latter case so callers can record the status code.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Response, error) {
	response := &Response{
		RequestURL:    rawURL,
		RedirectChain: make([]RedirectHop, 0),
	}

	currentURL := strings.TrimSpace(rawURL)

	for i := 0; i <= f.config.MaxRedirects; i++ {
		if err := f.limiter.Wait(ctx); err != nil {
			return response, apperr.E(apperr.ErrFetchFailed, "fetch "+rawURL, err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, currentURL, nil)
		if err != nil {
			return response, apperr.E(apperr.ErrFetchFailed, "fetch "+rawURL, fmt.Errorf("failed to create request: %w", err))
		}
		f.setRequestHeaders(req)

		resp, err := f.client.Do(req)
		if err != nil {
			response.FinalURL = currentURL
			response.Retryable = isRetryableError(err)
			return response, apperr.E(apperr.ErrFetchFailed, "fetch "+rawURL, categorizeError(err))
		}

		if resp.StatusCode >= 300 && resp.StatusCode < 400 {
			location := resp.Header.Get("Location")
			resp.Body.Close()

			response.RedirectChain = append(response.RedirectChain, RedirectHop{
				URL:        currentURL,
				StatusCode: resp.StatusCode,
				Location:   location,
			})

			if location != "" {
				redirectURL, err := resolveRedirectURL(currentURL, location)
				if err != nil {
					response.FinalURL = currentURL
					response.StatusCode = resp.StatusCode
					return response, apperr.E(apperr.ErrFetchFailed, "fetch "+rawURL, fmt.Errorf("invalid redirect location: %w", err))
				}
				currentURL = redirectURL
				continue
			}
		}

		response.FinalURL = currentURL
		response.StatusCode = resp.StatusCode
		response.Status = resp.Status
		response.Headers = resp.Header
		response.ContentType = extractContentType(resp.Header.Get("Content-Type"))

		body, err := f.readBody(resp)
		resp.Body.Close()
		if err != nil {
			response.Retryable = true
			return response, apperr.E(apperr.ErrFetchFailed, "fetch "+rawURL, fmt.Errorf("failed to read body: %w", err))
		}
		response.Body = body
		response.BodySize = int64(len(body))

		if !response.IsSuccess() {
			response.Retryable = response.IsServerError() || response.StatusCode == http.StatusTooManyRequests
			return response, apperr.Ef(apperr.ErrFetchFailed, "fetch "+rawURL, "HTTP %d", response.StatusCode)
		}
		return response, nil
	}

	response.FinalURL = currentURL
	return response, apperr.Ef(apperr.ErrFetchFailed, "fetch "+rawURL, "max redirects (%d) exceeded", f.config.MaxRedirects)
}

// setRequestHeaders sets common request headers.
func (f *Fetcher) setRequestHeaders(req *http.Request) {
	req.Header.Set("User-Agent", f.config.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	req.Header.Set("Accept-Encoding", "gzip")
}

// readBody reads the response body with size limit.
func (f *Fetcher) readBody(resp *http.Response) ([]byte, error) {
	var reader io.Reader = resp.Body

	if resp.Header.Get("Content-Encoding") == "gzip" {
		gzReader, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip decode error: %w", err)
		}
		defer gzReader.Close()
		reader = gzReader
	}

	return io.ReadAll(io.LimitReader(reader, f.maxBodySize))
}

// SetCrawlDelay lowers the request rate to one request per d, as asked by
// a robots.txt Crawl-delay. A delay that would speed the fetcher up is
// ignored.
func (f *Fetcher) SetCrawlDelay(d time.Duration) bool {
	if d <= 0 {
		return false
	}
	limit := rate.Every(d)
	if limit >= f.limiter.Limit() {
		return false
	}
	f.limiter.SetLimit(limit)
	f.limiter.SetBurst(1)
	return true
}

// UserAgent returns the configured User-Agent.
func (f *Fetcher) UserAgent() string {
	return f.config.UserAgent
}

// Close releases idle connections.
func (f *Fetcher) Close() {
	f.transport.CloseIdleConnections()
}

// categorizeError labels common network failures.
func categorizeError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("timeout: %w", err)
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return fmt.Errorf("DNS error: %w", err)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return fmt.Errorf("connection failed: %w", err)
	}

	if strings.Contains(err.Error(), "tls:") || strings.Contains(err.Error(), "certificate") {
		return fmt.Errorf("TLS error: %w", err)
	}

	return err
}

// isRetryableError checks if a transport error is retryable.
func isRetryableError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection reset",
		"connection refused",
		"no such host",
		"eof",
		"broken pipe",
	} {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

func resolveRedirectURL(baseURL, location string) (string, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}

	loc, err := url.Parse(location)
	if err != nil {
		return "", err
	}

	return base.ResolveReference(loc).String(), nil
}

func extractContentType(contentType string) string {
	if idx := strings.Index(contentType, ";"); idx != -1 {
		return strings.ToLower(strings.TrimSpace(contentType[:idx]))
	}
	return strings.ToLower(strings.TrimSpace(contentType))
}
