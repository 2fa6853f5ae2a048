// Package headless renders pages in a real browser via chromedp.
package headless

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/pulscan/catalog-crawler/internal/fetcher"
)

// Config controls the behavior of the renderer.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
}

// Renderer implements fetcher.Transport using one Chrome process shared
// across the whole run. The process is started lazily on the first Get and
// torn down exactly once by Close; every Get runs in a fresh isolated tab
// context so cookies and page state never leak between URLs.
type Renderer struct {
	cfg     Config
	limiter chan struct{}

	startOnce   sync.Once
	closeOnce   sync.Once
	allocator   context.Context
	allocCancel context.CancelFunc
}

// New creates a Renderer. The browser process is not started yet.
func New(cfg Config) *Renderer {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}
	return &Renderer{cfg: cfg, limiter: limiter}
}

// Close tears the browser process down. Safe to call multiple times and
// before the first Get.
func (r *Renderer) Close() {
	r.closeOnce.Do(func() {
		if r.allocCancel != nil {
			r.allocCancel()
		}
	})
}

// Get navigates to rawURL, waits for the page to settle and returns the
// rendered DOM. Browsers always follow redirects, so allowRedirects is
// ignored; the resolved location is reported as FinalURL.
func (r *Renderer) Get(ctx context.Context, rawURL string, _ bool) (fetcher.Result, error) {
	if err := r.acquire(ctx); err != nil {
		return fetcher.Result{}, err
	}
	defer r.release()

	r.startOnce.Do(r.startBrowser)

	tabCtx, tabCancel := chromedp.NewContext(r.allocator)
	defer tabCancel()

	tabCtx, cancel := context.WithTimeout(tabCtx, r.cfg.NavigationTimeout)
	defer cancel()

	stop := context.AfterFunc(ctx, tabCancel)
	defer stop()

	var (
		html     string
		finalURL string
	)
	actions := []chromedp.Action{
		r.sessionSetupAction(),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500 * time.Millisecond),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(tabCtx, actions...); err != nil {
		return fetcher.Result{}, fmt.Errorf("render %s: %w", rawURL, err)
	}
	return fetcher.Result{HTML: html, FinalURL: finalURL}, nil
}

func (r *Renderer) startBrowser() {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	r.allocator, r.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
}

func (r *Renderer) sessionSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if r.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(r.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (r *Renderer) acquire(ctx context.Context) error {
	if r.limiter == nil {
		return nil
	}
	select {
	case r.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("render slot wait canceled: %w", ctx.Err())
	}
}

func (r *Renderer) release() {
	if r.limiter == nil {
		return
	}
	select {
	case <-r.limiter:
	default:
	}
}
