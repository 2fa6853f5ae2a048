package fetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
)

// TransportConfig controls the HTTP probe transport.
type TransportConfig struct {
	UserAgent string
	Timeout   time.Duration
}

// CollyTransport is the fast HTTP path. Each Get clones the base collector
// so per-request callbacks never leak between fetches; clones share the
// base's http backend, so session cookies planted by SetCookie apply to
// every subsequent request.
type CollyTransport struct {
	cfg  TransportConfig
	base *colly.Collector
}

// NewCollyTransport builds the transport with a pooled http.Transport.
func NewCollyTransport(cfg TransportConfig) *CollyTransport {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = true
	c.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	})
	return &CollyTransport{cfg: cfg, base: c}
}

// Get executes a single HTTP GET and reports the body plus the URL the
// request finally resolved to.
func (t *CollyTransport) Get(ctx context.Context, rawURL string, allowRedirects bool) (Result, error) {
	var (
		result   Result
		fetchErr error
	)
	collector := t.buildCollector(rawURL, allowRedirects, &result, &fetchErr)

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return Result{}, fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return Result{}, fmt.Errorf("visit %s: %w", rawURL, err)
		}
		if fetchErr != nil {
			return Result{}, fetchErr
		}
		return result, nil
	}
}

// SetCookie plants a session cookie on the shared backend jar.
func (t *CollyTransport) SetCookie(rawURL, name, value string) error {
	cookie := &http.Cookie{Name: name, Value: value, Path: "/"}
	if err := t.base.SetCookies(rawURL, []*http.Cookie{cookie}); err != nil {
		return fmt.Errorf("set cookie on %s: %w", rawURL, err)
	}
	return nil
}

func (t *CollyTransport) buildCollector(rawURL string, allowRedirects bool, result *Result, fetchErr *error) *colly.Collector {
	collector := t.base.Clone()
	if t.cfg.UserAgent != "" {
		collector.UserAgent = t.cfg.UserAgent
	}
	collector.SetRequestTimeout(t.cfg.Timeout)

	if !allowRedirects {
		// Surface the redirect response itself instead of following it.
		collector.SetRedirectHandler(func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		})
		collector.ParseHTTPErrorResponse = true
	}

	collector.OnResponse(func(r *colly.Response) {
		if !allowRedirects && r.StatusCode >= http.StatusBadRequest {
			*fetchErr = fmt.Errorf("fetch %s: http status %d", rawURL, r.StatusCode)
			return
		}
		*result = Result{
			HTML:     string(r.Body),
			FinalURL: r.Request.URL.String(),
		}
	})
	collector.OnError(func(_ *colly.Response, err error) {
		*fetchErr = fmt.Errorf("fetch %s: %w", rawURL, err)
	})
	return collector
}
