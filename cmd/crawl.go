package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pulscan/catalog-crawler/internal/config"
	"github.com/pulscan/catalog-crawler/internal/extract"
	"github.com/pulscan/catalog-crawler/internal/fetcher"
	"github.com/pulscan/catalog-crawler/internal/fetcher/headless"
	"github.com/pulscan/catalog-crawler/internal/logging"
	"github.com/pulscan/catalog-crawler/internal/orchestrator"
	"github.com/pulscan/catalog-crawler/internal/sink"
)

// newCrawlCmd creates and configures the 'crawl' subcommand.
func newCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Starts a crawl run",
		Long: `Runs the three-stage crawl pipeline against the configured
category URL: subcategory discovery, paginated link collection and
product fetch/parse/store. The output file appears atomically once the
run finishes without a fatal error.`,
		RunE: runCrawlCommand,
	}

	cmd.Flags().String("category-url", "", "root category page to crawl")
	cmd.Flags().String("db-dsn", "", "Postgres connection string")
	cmd.Flags().String("out", "", "output JSONL path")
	cmd.Flags().Int("link-concurrency", 0, "concurrent subcategory walks")
	cmd.Flags().Int("product-concurrency", 0, "concurrent product fetches")
	cmd.Flags().String("debug-dir", "", "directory for the one-shot raw HTML sample")
	cmd.Flags().String("metrics-addr", "", "listen address for Prometheus metrics (empty = disabled)")
	cmd.Flags().BoolP("verbose", "v", false, "enable debug logging")

	return cmd
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Verbose)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return runCrawl(ctx, cfg, logger)
}

func runCrawl(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	stopMetrics := startMetricsServer(cfg.Metrics.Addr, logger)
	defer stopMetrics()

	store, err := sink.NewDocumentStore(ctx, sink.DocumentStoreConfig{
		DSN:      cfg.DB.DSN,
		Table:    cfg.DB.Table,
		MaxConns: cfg.DB.MaxConns,
	}, logger)
	if err != nil {
		return fmt.Errorf("open document store: %w", err)
	}
	defer store.Close()

	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}

	writer, err := sink.NewLineWriter(cfg.Output.Path)
	if err != nil {
		return fmt.Errorf("open output file: %w", err)
	}
	snk := sink.New(store, writer, logger)

	client, closeFetch := buildFetchClient(cfg, logger)
	defer closeFetch()

	orc := orchestrator.New(
		orchestrator.Config{
			CategoryURL:        cfg.Crawler.CategoryURL,
			LinkConcurrency:    cfg.Crawler.LinkConcurrency,
			ProductConcurrency: cfg.Crawler.ProductConcurrency,
			DebugDir:           cfg.Crawler.DebugDir,
		},
		client,
		snk,
		orchestrator.Extractors{
			Categories:   extract.Categories,
			ProductLinks: extract.ProductLinks,
			Product:      extract.Product,
		},
		logger,
	)

	summary, err := orc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		snk.Discard()
		return fmt.Errorf("run crawl: %w", err)
	}
	if err != nil {
		snk.Discard()
		logger.Warn("crawl interrupted, output discarded")
		return nil
	}

	if err := snk.Finalize(); err != nil {
		return fmt.Errorf("finalize output: %w", err)
	}
	logger.Info("crawl finished",
		zap.Int("categories", summary.Categories),
		zap.Int("links", summary.Links),
		zap.Int("stored", summary.Stored),
		zap.Int("failed", summary.Failed),
		zap.String("output", cfg.Output.Path),
	)
	return nil
}

// startMetricsServer exposes the Prometheus registry on addr for the
// lifetime of the run. An empty addr disables the listener; the returned
// stop function is always safe to call.
func startMetricsServer(addr string, logger *zap.Logger) func() {
	if addr == "" {
		return func() {}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.String("addr", addr), zap.Error(err))
		}
	}()
	logger.Info("metrics server listening", zap.String("addr", addr))
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown failed", zap.Error(err))
		}
	}
}

// buildFetchClient wires the probe transport and, when enabled, the
// headless renderer with its promotion detector.
func buildFetchClient(cfg config.Config, logger *zap.Logger) (*fetcher.Client, func()) {
	probe := fetcher.NewCollyTransport(fetcher.TransportConfig{
		UserAgent: cfg.Crawler.UserAgent,
		Timeout:   cfg.FetchTimeout(),
	})

	var (
		render   fetcher.Transport
		detector *fetcher.Detector
		closeFn  = func() {}
	)
	if cfg.Headless.Enabled {
		renderer := headless.New(headless.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Crawler.UserAgent,
			NavigationTimeout: cfg.NavTimeout(),
		})
		render = renderer
		// With no promotion signals configured every fetch is rendered;
		// signals turn rendering into a selective escalation.
		if cfg.Headless.MinHTMLBytes > 0 || len(cfg.Headless.RenderSelectors) > 0 || len(cfg.Headless.RenderKeywords) > 0 {
			detector = fetcher.NewDetector(
				cfg.Headless.MinHTMLBytes,
				cfg.Headless.RenderSelectors,
				cfg.Headless.RenderKeywords,
			)
		}
		closeFn = renderer.Close
	}

	client := fetcher.New(
		fetcher.Config{
			MaxRetries:  cfg.HTTP.MaxRetries,
			BackoffBase: cfg.BackoffBase(),
		},
		probe,
		render,
		detector,
		fetcher.NewBlockPolicy(cfg.Crawler.BlockPhrases),
		fetcher.NewHostLimiter(cfg.HTTP.DomainQPS, cfg.HTTP.DomainBurst),
		logger,
	)
	return client, closeFn
}
