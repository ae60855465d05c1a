// Package renderer provides JavaScript rendering using Chromium.
package renderer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/spider-crawler/shopsync/internal/apperr"
	"github.com/spider-crawler/shopsync/internal/config"
)

// Result holds the result of rendering a page.
type Result struct {
	// Final HTML after JavaScript execution
	HTML string

	// Final URL after any client-side redirects
	FinalURL string

	Title string

	// Status code of the main document response
	StatusCode int

	Headers map[string]string

	RenderTime time.Duration
}

// Renderer renders pages in a pool of headless Chromium tabs.
type Renderer struct {
	mu     sync.Mutex
	closed bool

	config    config.RenderConfig
	allocator context.Context
	cancel    context.CancelFunc

	// Browser pool for concurrent rendering
	browserPool chan context.Context
	poolSize    int
}

// NewRenderer creates a renderer. Chromium is started lazily on the first
// render.
func NewRenderer(cfg config.RenderConfig, userAgent string) (*Renderer, error) {
	r := &Renderer{
		config:   cfg,
		poolSize: cfg.PoolSize,
	}
	if r.poolSize < 1 {
		r.poolSize = 1
	}
	if r.config.Timeout <= 0 {
		r.config.Timeout = 30 * time.Second
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("window-size", "1920,1080"),
	)
	if userAgent != "" {
		opts = append(opts, chromedp.UserAgent(userAgent))
	}

	// Use custom Chromium path if specified
	if cfg.ChromiumPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ChromiumPath))
	}

	r.allocator, r.cancel = chromedp.NewExecAllocator(context.Background(), opts...)

	r.browserPool = make(chan context.Context, r.poolSize)
	for i := 0; i < r.poolSize; i++ {
		ctx, _ := chromedp.NewContext(r.allocator)
		r.browserPool <- ctx
	}

	return r, nil
}

// PoolSize returns the number of browser tabs.
func (r *Renderer) PoolSize() int {
	return r.poolSize
}

// Render loads urlStr, waits for the configured selector (or body) and
// returns the rendered document.
func (r *Renderer) Render(ctx context.Context, urlStr string) (*Result, error) {
	result := &Result{Headers: make(map[string]string)}
	startTime := time.Now()

	var tab context.Context
	select {
	case tab = <-r.browserPool:
	case <-ctx.Done():
		return nil, apperr.E(apperr.ErrFetchFailed, "render", ctx.Err())
	}
	defer func() {
		r.browserPool <- tab
	}()

	timeoutCtx, cancel := context.WithTimeout(tab, r.config.Timeout)
	defer cancel()

	// Propagate caller cancellation into the tab context.
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var headersMu sync.Mutex
	chromedp.ListenTarget(timeoutCtx, func(ev interface{}) {
		switch e := ev.(type) {
		case *network.EventResponseReceived:
			if e.Type != network.ResourceTypeDocument {
				return
			}
			headersMu.Lock()
			for k, v := range e.Response.Headers {
				if str, ok := v.(string); ok {
					result.Headers[k] = str
				}
			}
			if result.StatusCode == 0 {
				result.StatusCode = int(e.Response.Status)
			}
			headersMu.Unlock()

		case *page.EventJavascriptDialogOpening:
			go chromedp.Run(timeoutCtx, page.HandleJavaScriptDialog(true))
		}
	})

	if err := chromedp.Run(timeoutCtx, network.Enable()); err != nil {
		return nil, apperr.E(apperr.ErrFetchFailed, "render", fmt.Errorf("enable network: %w", err))
	}

	waitAction := chromedp.WaitReady("body", chromedp.ByQuery)
	if r.config.WaitSelector != "" {
		waitAction = chromedp.WaitVisible(r.config.WaitSelector, chromedp.ByQuery)
	}

	var html, title, finalURL string
	err := chromedp.Run(timeoutCtx,
		chromedp.Navigate(urlStr),
		waitAction,
		chromedp.Location(&finalURL),
		chromedp.Title(&title),
		chromedp.ActionFunc(func(ctx context.Context) error {
			node, err := dom.GetDocument().Do(ctx)
			if err != nil {
				return err
			}
			html, err = dom.GetOuterHTML().WithNodeID(node.NodeID).Do(ctx)
			return err
		}),
	)
	if err != nil {
		return nil, apperr.E(apperr.ErrFetchFailed, "render "+urlStr, err)
	}

	headersMu.Lock()
	status := result.StatusCode
	headersMu.Unlock()
	if status >= 400 {
		return nil, apperr.Ef(apperr.ErrFetchFailed, "render "+urlStr, "HTTP %d", status)
	}

	result.HTML = html
	result.Title = title
	result.FinalURL = finalURL
	result.RenderTime = time.Since(startTime)
	return result, nil
}

// Close shuts down the renderer and releases resources.
func (r *Renderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	for i := 0; i < r.poolSize; i++ {
		chromedp.Cancel(<-r.browserPool)
	}

	if r.cancel != nil {
		r.cancel()
	}
	return nil
}
