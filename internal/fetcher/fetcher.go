// Package fetcher retrieves raw HTML with retries, block detection and
// anti-bot challenge handling.
package fetcher

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pulscan/catalog-crawler/internal/telemetry"
)

// Result is the outcome of a single successful transport call. FinalURL is
// the URL the request resolved to after redirects; pagination exhaustion
// checks depend on it.
type Result struct {
	HTML     string
	FinalURL string
}

// Transport performs one HTTP GET (or one headless page load) per call.
type Transport interface {
	Get(ctx context.Context, rawURL string, allowRedirects bool) (Result, error)
}

// CookieSetter is implemented by transports that can carry a session cookie
// across requests. The challenge solver needs it to plant the decrypted
// anti-bot cookie before re-issuing a GET.
type CookieSetter interface {
	SetCookie(rawURL, name, value string) error
}

// FetchError is the single terminal error kind surfaced to callers after
// all retries for one URL are exhausted. It wraps the last cause.
type FetchError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s failed after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Backoff returns the delay before the retry following the given attempt.
// It is a pure function of the attempt number, linear in the base delay.
// Jitter is a known improvement opportunity.
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base * time.Duration(attempt)
}

// Config controls retry behavior of the Client.
type Config struct {
	MaxRetries  int
	BackoffBase time.Duration
}

// Client is the retrying fetcher. A probe transport handles the fast HTTP
// path; an optional render transport takes over when the detector decides a
// page needs JavaScript. Both block detection and challenge solving happen
// on the probe response, matching what a plain HTTP client would observe.
type Client struct {
	cfg      Config
	probe    Transport
	render   Transport
	detector *Detector
	blocks   *BlockPolicy
	limiter  *HostLimiter
	logger   *zap.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// New constructs a Client. render, detector, blocks and limiter may be nil;
// a nil render transport disables headless promotion entirely.
func New(
	cfg Config,
	probe Transport,
	render Transport,
	detector *Detector,
	blocks *BlockPolicy,
	limiter *HostLimiter,
	logger *zap.Logger,
) *Client {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:      cfg,
		probe:    probe,
		render:   render,
		detector: detector,
		blocks:   blocks,
		limiter:  limiter,
		logger:   logger,
		sleep:    sleepContext,
	}
}

// Fetch retrieves the page at rawURL, retrying transient failures with
// linear backoff. Blocked responses are retried exactly like network
// errors. The returned error is always a *FetchError once retries run out.
func (c *Client) Fetch(ctx context.Context, rawURL string, allowRedirects bool) (html, finalURL string, err error) {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 1 {
			telemetry.FetchRetries.Inc()
		}
		c.logger.Debug("fetching",
			zap.String("url", rawURL),
			zap.Int("attempt", attempt),
		)

		res, attemptErr := c.attempt(ctx, rawURL, allowRedirects)
		if attemptErr == nil {
			return res.HTML, res.FinalURL, nil
		}
		lastErr = attemptErr

		if ctx.Err() != nil || attempt == c.cfg.MaxRetries {
			break
		}
		c.logger.Warn("fetch attempt failed",
			zap.String("url", rawURL),
			zap.Int("attempt", attempt),
			zap.Int("max_retries", c.cfg.MaxRetries),
			zap.Error(attemptErr),
		)
		if serr := c.sleep(ctx, Backoff(c.cfg.BackoffBase, attempt)); serr != nil {
			lastErr = serr
			break
		}
	}
	telemetry.FetchFailures.Inc()
	return "", "", &FetchError{URL: rawURL, Attempts: c.cfg.MaxRetries, Err: lastErr}
}

func (c *Client) attempt(ctx context.Context, rawURL string, allowRedirects bool) (Result, error) {
	if err := c.limiter.Wait(ctx, rawURL); err != nil {
		return Result{}, err
	}
	telemetry.FetchAttempts.Inc()

	res, err := c.probe.Get(ctx, rawURL, allowRedirects)
	if err != nil {
		return Result{}, err
	}

	res = c.solveChallengeIfPresent(ctx, rawURL, allowRedirects, res)

	if c.render != nil && c.detector.NeedsRender(res.HTML) {
		telemetry.RenderPromotions.Inc()
		c.logger.Debug("promoting fetch to headless render", zap.String("url", rawURL))
		rendered, rerr := c.render.Get(ctx, rawURL, allowRedirects)
		if rerr != nil {
			return Result{}, rerr
		}
		res = rendered
	}

	if c.blocks.Blocked(res.HTML) {
		telemetry.BlockDetections.Inc()
		return Result{}, fmt.Errorf("blocked or captcha detected at %s", res.FinalURL)
	}
	return res, nil
}

// solveChallengeIfPresent handles the inline anti-bot cookie challenge: it
// decrypts the cookie, plants it on the transport and re-issues the same GET
// once. Every failure along the way degrades to "no cookie available" and
// returns the original response untouched.
func (c *Client) solveChallengeIfPresent(ctx context.Context, rawURL string, allowRedirects bool, res Result) Result {
	if !HasChallenge(res.HTML) {
		return res
	}
	setter, ok := c.probe.(CookieSetter)
	if !ok {
		return res
	}
	challenge, err := SolveChallenge(res.HTML)
	if err != nil {
		c.logger.Warn("anti-bot challenge could not be solved",
			zap.String("url", rawURL),
			zap.Error(err),
		)
		return res
	}
	if err := setter.SetCookie(rawURL, challenge.Name, challenge.Value); err != nil {
		c.logger.Warn("failed to set challenge cookie",
			zap.String("url", rawURL),
			zap.Error(err),
		)
		return res
	}
	telemetry.ChallengeSolves.Inc()
	c.logger.Info("anti-bot challenge solved",
		zap.String("url", rawURL),
		zap.String("cookie", challenge.Name),
	)
	retried, err := c.probe.Get(ctx, rawURL, allowRedirects)
	if err != nil {
		c.logger.Warn("re-fetch after challenge cookie failed",
			zap.String("url", rawURL),
			zap.Error(err),
		)
		return res
	}
	return retried
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("backoff wait canceled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
