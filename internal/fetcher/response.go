// Package fetcher handles polite HTTP fetching with redirect tracking.
package fetcher

import (
	"net/http"
	"strings"
)

// Response is one fetched document after redirects were followed.
type Response struct {
	RequestURL string
	FinalURL   string
	StatusCode int
	Status     string
	Headers    http.Header

	// ContentType is the media type without parameters, lower-cased.
	ContentType string

	// Body is gunzipped when the server sent Content-Encoding: gzip.
	Body     []byte
	BodySize int64

	RedirectChain []RedirectHop

	// Retryable marks transport errors, 5xx and 429.
	Retryable bool
}

// RedirectHop is one 3xx answer on the way to FinalURL.
type RedirectHop struct {
	URL        string
	StatusCode int
	Location   string
}

// IsSuccess reports a 2xx status.
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// IsServerError reports a 5xx status.
func (r *Response) IsServerError() bool {
	return r.StatusCode >= 500 && r.StatusCode < 600
}

// IsHTML reports whether the body can be handed to an HTML extractor. A
// missing Content-Type is accepted.
func (r *Response) IsHTML() bool {
	switch {
	case r.ContentType == "":
		return true
	case strings.HasPrefix(r.ContentType, "text/html"), strings.HasPrefix(r.ContentType, "application/xhtml"):
		return true
	}
	return false
}
