// Package orchestrator runs the three-stage crawl pipeline: category
// discovery, link collection and product fetch/parse/store.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pulscan/catalog-crawler/internal/model"
	"github.com/pulscan/catalog-crawler/internal/walker"
)

// Fetcher is the retrying fetch client the pipeline runs on.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, allowRedirects bool) (html, finalURL string, err error)
}

// Sink persists one parsed product.
type Sink interface {
	Store(ctx context.Context, p model.Product) error
}

// Extractors are the site-specific HTML mapping functions, injected so the
// pipeline never depends on a particular site's markup.
type Extractors struct {
	Categories   func(html, baseURL string) ([]model.Category, error)
	ProductLinks func(html, baseURL string) ([]model.ProductLink, error)
	Product      func(html, pageURL string) (model.Product, error)
}

// Config bounds the two fan-out stages and points at the optional debug
// capture directory.
type Config struct {
	CategoryURL        string
	LinkConcurrency    int
	ProductConcurrency int
	DebugDir           string
}

// Summary reports what a run accomplished.
type Summary struct {
	Categories int
	Links      int
	Stored     int
	Failed     int
}

// Orchestrator owns the crawl run. Per-category and per-product failures
// are logged and skipped; only run-level failures (an unreachable root
// page) abort the pipeline.
type Orchestrator struct {
	cfg     Config
	fetch   Fetcher
	sink    Sink
	ex      Extractors
	logger  *zap.Logger
	runID   string
	sampled atomic.Bool
}

// New constructs an Orchestrator. Each run gets a fresh ID for log
// correlation.
func New(cfg Config, fetch Fetcher, sink Sink, ex Extractors, logger *zap.Logger) *Orchestrator {
	if cfg.LinkConcurrency <= 0 {
		cfg.LinkConcurrency = 5
	}
	if cfg.ProductConcurrency <= 0 {
		cfg.ProductConcurrency = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	runID := uuid.NewString()
	return &Orchestrator{
		cfg:    cfg,
		fetch:  fetch,
		sink:   sink,
		ex:     ex,
		logger: logger.With(zap.String("run_id", runID)),
		runID:  runID,
	}
}

// Run executes the pipeline and returns its summary. The returned error is
// fatal for the run; callers should discard partial output on it.
func (o *Orchestrator) Run(ctx context.Context) (Summary, error) {
	categories, err := o.discoverCategories(ctx)
	if err != nil {
		return Summary{}, err
	}
	o.logger.Info("categories discovered", zap.Int("count", len(categories)))

	links := o.collectLinks(ctx, categories)
	o.logger.Info("product links collected", zap.Int("count", len(links)))

	stored, failed := o.processProducts(ctx, links)

	summary := Summary{
		Categories: len(categories),
		Links:      len(links),
		Stored:     stored,
		Failed:     failed,
	}
	if ctx.Err() != nil {
		return summary, fmt.Errorf("crawl run interrupted: %w", ctx.Err())
	}
	return summary, nil
}

// discoverCategories is the only stage whose failure is fatal: with no
// subcategories there is nothing to crawl.
func (o *Orchestrator) discoverCategories(ctx context.Context) ([]model.Category, error) {
	html, _, err := o.fetch.Fetch(ctx, o.cfg.CategoryURL, true)
	if err != nil {
		return nil, fmt.Errorf("fetch root category page: %w", err)
	}
	categories, err := o.ex.Categories(html, o.cfg.CategoryURL)
	if err != nil {
		return nil, fmt.Errorf("extract categories: %w", err)
	}
	return categories, nil
}

// collectLinks walks every category's listing pages with bounded
// parallelism. A failing category is logged and skipped; its siblings keep
// running. Links are deduplicated by URL across categories and pages: a
// product listed under two subcategories is fetched and persisted once, so
// the output file carries one line per distinct URL.
func (o *Orchestrator) collectLinks(ctx context.Context, categories []model.Category) []model.ProductLink {
	var (
		mu    sync.Mutex
		seen  = make(map[string]struct{})
		links []model.ProductLink
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.LinkConcurrency)

	for _, category := range categories {
		g.Go(func() error {
			found, err := walker.Collect(gctx, o.fetch, o.ex.ProductLinks, category.URL, o.logger)
			if err != nil {
				o.logger.Error("link collection failed for category",
					zap.String("category", category.Title),
					zap.String("url", category.URL),
					zap.Error(err),
				)
				return nil
			}
			mu.Lock()
			for _, link := range found {
				if _, dup := seen[link.URL]; dup {
					continue
				}
				seen[link.URL] = struct{}{}
				link.Category = category.Title
				links = append(links, link)
			}
			mu.Unlock()
			o.logger.Info("category walked",
				zap.String("category", category.Title),
				zap.Int("links", len(found)),
			)
			return nil
		})
	}
	g.Wait() //nolint:errcheck // workers never return errors
	return links
}

// processProducts fetches, parses and stores every link with its own
// concurrency bound. Any per-URL failure is logged with its link and
// skipped; it never aborts the batch.
func (o *Orchestrator) processProducts(ctx context.Context, links []model.ProductLink) (stored, failed int) {
	var storedCount, failedCount atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.ProductConcurrency)

	for _, link := range links {
		g.Go(func() error {
			if err := o.processProduct(gctx, link); err != nil {
				failedCount.Add(1)
				o.logger.Error("product skipped",
					zap.String("url", link.URL),
					zap.String("title", link.Title),
					zap.String("category", link.Category),
					zap.Error(err),
				)
				return nil
			}
			storedCount.Add(1)
			return nil
		})
	}
	g.Wait() //nolint:errcheck // workers never return errors
	return int(storedCount.Load()), int(failedCount.Load())
}

func (o *Orchestrator) processProduct(ctx context.Context, link model.ProductLink) error {
	html, _, err := o.fetch.Fetch(ctx, link.URL, true)
	if err != nil {
		return err
	}
	o.maybeCaptureDebugSample(link.URL, html)

	product, err := o.ex.Product(html, link.URL)
	if err != nil {
		return err
	}
	return o.sink.Store(ctx, product)
}

// maybeCaptureDebugSample writes at most one raw HTML sample per run. The
// compare-and-swap makes sure racing workers neither write two samples nor
// double-create the directory.
func (o *Orchestrator) maybeCaptureDebugSample(pageURL, html string) {
	if o.cfg.DebugDir == "" || !o.sampled.CompareAndSwap(false, true) {
		return
	}
	if err := os.MkdirAll(o.cfg.DebugDir, 0o755); err != nil {
		o.logger.Warn("failed to create debug dir", zap.String("dir", o.cfg.DebugDir), zap.Error(err))
		return
	}
	name := debugFileName(pageURL)
	path := filepath.Join(o.cfg.DebugDir, name)
	if err := os.WriteFile(path, []byte(html), 0o644); err != nil {
		o.logger.Warn("failed to write debug sample", zap.String("path", path), zap.Error(err))
		return
	}
	o.logger.Info("debug sample captured", zap.String("url", pageURL), zap.String("path", path))
}

// debugFileName derives a filesystem-safe name from the product page URL.
func debugFileName(pageURL string) string {
	name := strings.TrimPrefix(pageURL, "https://")
	name = strings.TrimPrefix(name, "http://")
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.' || r == '-':
			return r
		default:
			return '_'
		}
	}, name)
	if len(name) > 120 {
		name = name[:120]
	}
	return name + ".html"
}
