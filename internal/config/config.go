// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config captures all run configuration knobs loaded via Viper.
type Config struct {
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Headless HeadlessConfig `mapstructure:"headless"`
	DB       DBConfig       `mapstructure:"db"`
	Output   OutputConfig   `mapstructure:"output"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// CrawlerConfig governs the crawl pipeline itself.
type CrawlerConfig struct {
	CategoryURL        string   `mapstructure:"category_url"`
	UserAgent          string   `mapstructure:"user_agent"`
	LinkConcurrency    int      `mapstructure:"link_concurrency"`
	ProductConcurrency int      `mapstructure:"product_concurrency"`
	DebugDir           string   `mapstructure:"debug_dir"`
	BlockPhrases       []string `mapstructure:"block_phrases"`
}

// HTTPConfig configures fetch retry and transport behavior.
type HTTPConfig struct {
	MaxRetries         int     `mapstructure:"max_retries"`
	BackoffBaseSeconds int     `mapstructure:"backoff_base_seconds"`
	TimeoutSeconds     int     `mapstructure:"timeout_seconds"`
	DomainQPS          float64 `mapstructure:"domain_qps"`
	DomainBurst        int     `mapstructure:"domain_burst"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled         bool     `mapstructure:"enabled"`
	MaxParallel     int      `mapstructure:"max_parallel"`
	NavTimeoutSec   int      `mapstructure:"nav_timeout_seconds"`
	MinHTMLBytes    int      `mapstructure:"min_html_bytes"`
	RenderKeywords  []string `mapstructure:"render_keywords"`
	RenderSelectors []string `mapstructure:"render_selectors"`
}

// DBConfig controls access to the document store.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// OutputConfig sets the line-delimited JSON destination.
type OutputConfig struct {
	Path string `mapstructure:"path"`
}

// MetricsConfig controls the optional Prometheus exposition endpoint.
// An empty address disables the listener.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
	Verbose     bool `mapstructure:"verbose"`
}

// Load builds a Config from disk/environment. CLI flags, when given, take
// precedence over both; flags may be nil.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := bindFlags(v, flags); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// bindFlags wires the crawl command's flags into their config keys. Only
// flags that exist on the set are bound, so every command shares one table.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	if flags == nil {
		return nil
	}
	bindings := map[string]string{
		"crawler.category_url":        "category-url",
		"crawler.link_concurrency":    "link-concurrency",
		"crawler.product_concurrency": "product-concurrency",
		"crawler.debug_dir":           "debug-dir",
		"db.dsn":                      "db-dsn",
		"output.path":                 "out",
		"logging.verbose":             "verbose",
		"metrics.addr":                "metrics-addr",
	}
	for key, name := range bindings {
		flag := flags.Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("crawler.user_agent",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/116.0.0.0 Safari/537.36")
	v.SetDefault("crawler.link_concurrency", 5)
	v.SetDefault("crawler.product_concurrency", 10)
	v.SetDefault("crawler.debug_dir", "")
	v.SetDefault("crawler.block_phrases", []string{
		"captcha",
		"робот",
		"доступ ограничен",
		"access restricted",
		"too many requests",
	})
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.backoff_base_seconds", 2)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.domain_qps", 0)
	v.SetDefault("http.domain_burst", 1)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("headless.min_html_bytes", 0)
	v.SetDefault("db.table", "products")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("output.path", "products.jsonl")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.verbose", false)
	v.SetDefault("metrics.addr", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Crawler.CategoryURL == "" {
		return fmt.Errorf("crawler.category_url is required")
	}
	if c.Crawler.LinkConcurrency <= 0 {
		return fmt.Errorf("crawler.link_concurrency must be > 0")
	}
	if c.Crawler.ProductConcurrency <= 0 {
		return fmt.Errorf("crawler.product_concurrency must be > 0")
	}
	if c.HTTP.MaxRetries <= 0 {
		return fmt.Errorf("http.max_retries must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.DB.DSN == "" {
		return fmt.Errorf("db.dsn is required")
	}
	if c.Output.Path == "" {
		return fmt.Errorf("output.path is required")
	}
	return nil
}

// FetchTimeout converts the HTTP timeout into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// BackoffBase converts the retry backoff base into a duration.
func (c Config) BackoffBase() time.Duration {
	return time.Duration(c.HTTP.BackoffBaseSeconds) * time.Second
}

// NavTimeout converts the headless navigation timeout into a duration.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Headless.NavTimeoutSec) * time.Second
}
