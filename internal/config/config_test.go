package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
crawler:
  category_url: https://example.com/catalog
  user_agent: test-agent
  link_concurrency: 3
  product_concurrency: 7
  debug_dir: /tmp/debug
  block_phrases: ["captcha", "blocked"]
http:
  max_retries: 4
  backoff_base_seconds: 1
  timeout_seconds: 30
  domain_qps: 2.5
headless:
  enabled: true
  max_parallel: 1
  nav_timeout_seconds: 20
db:
  dsn: postgres://localhost:5432/catalog
  table: items
output:
  path: out/products.jsonl
logging:
  development: false
`)

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Crawler.CategoryURL != "https://example.com/catalog" {
		t.Errorf("category_url = %q", cfg.Crawler.CategoryURL)
	}
	if cfg.Crawler.LinkConcurrency != 3 || cfg.Crawler.ProductConcurrency != 7 {
		t.Errorf("concurrency = %d/%d", cfg.Crawler.LinkConcurrency, cfg.Crawler.ProductConcurrency)
	}
	if len(cfg.Crawler.BlockPhrases) != 2 {
		t.Errorf("block_phrases = %v", cfg.Crawler.BlockPhrases)
	}
	if cfg.HTTP.MaxRetries != 4 {
		t.Errorf("max_retries = %d", cfg.HTTP.MaxRetries)
	}
	if cfg.HTTP.DomainQPS != 2.5 {
		t.Errorf("domain_qps = %v", cfg.HTTP.DomainQPS)
	}
	if !cfg.Headless.Enabled || cfg.Headless.MaxParallel != 1 {
		t.Errorf("headless = %+v", cfg.Headless)
	}
	if cfg.DB.Table != "items" {
		t.Errorf("db.table = %q", cfg.DB.Table)
	}
	if cfg.Output.Path != "out/products.jsonl" {
		t.Errorf("output.path = %q", cfg.Output.Path)
	}
	if cfg.Logging.Development {
		t.Error("expected logging.development = false")
	}
	if cfg.FetchTimeout() != 30*time.Second {
		t.Errorf("FetchTimeout() = %v", cfg.FetchTimeout())
	}
	if cfg.BackoffBase() != time.Second {
		t.Errorf("BackoffBase() = %v", cfg.BackoffBase())
	}
	if cfg.NavTimeout() != 20*time.Second {
		t.Errorf("NavTimeout() = %v", cfg.NavTimeout())
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
crawler:
  category_url: https://example.com/catalog
db:
  dsn: postgres://localhost:5432/catalog
`)

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Crawler.LinkConcurrency != 5 {
		t.Errorf("default link_concurrency = %d, want 5", cfg.Crawler.LinkConcurrency)
	}
	if cfg.Crawler.ProductConcurrency != 10 {
		t.Errorf("default product_concurrency = %d, want 10", cfg.Crawler.ProductConcurrency)
	}
	if cfg.HTTP.MaxRetries != 3 {
		t.Errorf("default max_retries = %d, want 3", cfg.HTTP.MaxRetries)
	}
	if cfg.BackoffBase() != 2*time.Second {
		t.Errorf("default backoff base = %v, want 2s", cfg.BackoffBase())
	}
	if cfg.DB.Table != "products" {
		t.Errorf("default db.table = %q", cfg.DB.Table)
	}
	if cfg.Output.Path != "products.jsonl" {
		t.Errorf("default output.path = %q", cfg.Output.Path)
	}
	if len(cfg.Crawler.BlockPhrases) == 0 {
		t.Error("expected default block phrases")
	}
	if !strings.Contains(cfg.Crawler.UserAgent, "Mozilla/5.0") {
		t.Errorf("default user agent = %q", cfg.Crawler.UserAgent)
	}
}

func TestLoadFlagOverrides(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
crawler:
  category_url: https://example.com/catalog
  product_concurrency: 9
db:
  dsn: postgres://localhost:5432/catalog
`)

	flags := pflag.NewFlagSet("crawl", pflag.ContinueOnError)
	flags.String("category-url", "", "")
	flags.Int("product-concurrency", 10, "")
	flags.String("out", "products.jsonl", "")
	flags.String("metrics-addr", "", "")
	if err := flags.Parse([]string{
		"--category-url", "https://example.com/other",
		"--out", "alt.jsonl",
		"--metrics-addr", ":9091",
	}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := Load(path, flags)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Crawler.CategoryURL != "https://example.com/other" {
		t.Errorf("flag override lost: category_url = %q", cfg.Crawler.CategoryURL)
	}
	if cfg.Output.Path != "alt.jsonl" {
		t.Errorf("flag override lost: output.path = %q", cfg.Output.Path)
	}
	if cfg.Metrics.Addr != ":9091" {
		t.Errorf("flag override lost: metrics.addr = %q", cfg.Metrics.Addr)
	}
	// An unchanged flag must not mask the file value.
	if cfg.Crawler.ProductConcurrency != 9 {
		t.Errorf("file value lost: product_concurrency = %d, want 9", cfg.Crawler.ProductConcurrency)
	}
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()

	base := func() Config {
		return Config{
			Crawler: CrawlerConfig{
				CategoryURL:        "https://example.com",
				LinkConcurrency:    5,
				ProductConcurrency: 10,
			},
			HTTP:   HTTPConfig{MaxRetries: 3, TimeoutSeconds: 15},
			DB:     DBConfig{DSN: "postgres://localhost/db"},
			Output: OutputConfig{Path: "products.jsonl"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing category url", func(c *Config) { c.Crawler.CategoryURL = "" }, "category_url"},
		{"zero link concurrency", func(c *Config) { c.Crawler.LinkConcurrency = 0 }, "link_concurrency"},
		{"zero product concurrency", func(c *Config) { c.Crawler.ProductConcurrency = 0 }, "product_concurrency"},
		{"zero retries", func(c *Config) { c.HTTP.MaxRetries = 0 }, "max_retries"},
		{"zero timeout", func(c *Config) { c.HTTP.TimeoutSeconds = 0 }, "timeout_seconds"},
		{"missing dsn", func(c *Config) { c.DB.DSN = "" }, "db.dsn"},
		{"missing output", func(c *Config) { c.Output.Path = "" }, "output.path"},
		{"headless without parallel", func(c *Config) { c.Headless.Enabled = true }, "max_parallel"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}
