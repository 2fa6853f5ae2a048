package fetcher

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type reply struct {
	res Result
	err error
}

// fakeTransport replays a scripted sequence of replies; the last reply
// repeats once the script runs out.
type fakeTransport struct {
	replies []reply
	calls   int
	cookies map[string]string
}

func (f *fakeTransport) Get(_ context.Context, _ string, _ bool) (Result, error) {
	idx := f.calls
	if idx >= len(f.replies) {
		idx = len(f.replies) - 1
	}
	f.calls++
	r := f.replies[idx]
	return r.res, r.err
}

func (f *fakeTransport) SetCookie(_, name, value string) error {
	if f.cookies == nil {
		f.cookies = map[string]string{}
	}
	f.cookies[name] = value
	return nil
}

// recordedSleeps swaps the client's sleeper for one that records delays
// instead of waiting.
func recordedSleeps(c *Client) *[]time.Duration {
	var sleeps []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}
	return &sleeps
}

func TestBackoffIsLinearInAttempt(t *testing.T) {
	t.Parallel()

	require.Equal(t, 2*time.Second, Backoff(2*time.Second, 1))
	require.Equal(t, 4*time.Second, Backoff(2*time.Second, 2))
	require.Equal(t, 6*time.Second, Backoff(2*time.Second, 3))
	require.Equal(t, 2*time.Second, Backoff(2*time.Second, 0))
}

func TestFetchSucceedsFirstAttempt(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{replies: []reply{
		{res: Result{HTML: "<html>ok</html>", FinalURL: "https://example.com/p"}},
	}}
	c := New(Config{MaxRetries: 3, BackoffBase: 2 * time.Second}, transport, nil, nil, nil, nil, zap.NewNop())
	sleeps := recordedSleeps(c)

	html, finalURL, err := c.Fetch(context.Background(), "https://example.com/p", true)
	require.NoError(t, err)
	require.Equal(t, "<html>ok</html>", html)
	require.Equal(t, "https://example.com/p", finalURL)
	require.Equal(t, 1, transport.calls)
	require.Empty(t, *sleeps)
}

func TestFetchRetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{replies: []reply{
		{err: errors.New("connection reset")},
		{err: errors.New("connection reset")},
		{res: Result{HTML: "fine", FinalURL: "https://example.com/p"}},
	}}
	c := New(Config{MaxRetries: 3, BackoffBase: 2 * time.Second}, transport, nil, nil, nil, nil, zap.NewNop())
	sleeps := recordedSleeps(c)

	html, _, err := c.Fetch(context.Background(), "https://example.com/p", true)
	require.NoError(t, err)
	require.Equal(t, "fine", html)
	require.Equal(t, 3, transport.calls)
	// Exactly two backoff delays: 2s after attempt 1, 4s after attempt 2.
	require.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, *sleeps)
}

func TestFetchExhaustsRetries(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection refused")
	transport := &fakeTransport{replies: []reply{{err: cause}}}
	c := New(Config{MaxRetries: 3, BackoffBase: time.Second}, transport, nil, nil, nil, nil, zap.NewNop())
	recordedSleeps(c)

	_, _, err := c.Fetch(context.Background(), "https://example.com/p", true)
	require.Error(t, err)

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.Equal(t, "https://example.com/p", fetchErr.URL)
	require.Equal(t, 3, fetchErr.Attempts)
	require.ErrorIs(t, err, cause)
	require.Equal(t, 3, transport.calls)
}

func TestBlockedResponseIsRetriedLikeANetworkError(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{replies: []reply{
		{res: Result{HTML: "<html>Доступ ограничен</html>", FinalURL: "https://example.com/p"}},
		{res: Result{HTML: "<html>товар</html>", FinalURL: "https://example.com/p"}},
	}}
	blocks := NewBlockPolicy([]string{"доступ ограничен", "captcha"})
	c := New(Config{MaxRetries: 3, BackoffBase: time.Second}, transport, nil, nil, blocks, nil, zap.NewNop())
	sleeps := recordedSleeps(c)

	html, _, err := c.Fetch(context.Background(), "https://example.com/p", true)
	require.NoError(t, err)
	require.Equal(t, "<html>товар</html>", html)
	require.Len(t, *sleeps, 1)
}

func TestBlockedOnEveryAttemptIsAFetchError(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{replies: []reply{
		{res: Result{HTML: "too many requests", FinalURL: "https://example.com/p"}},
	}}
	blocks := NewBlockPolicy([]string{"too many requests"})
	c := New(Config{MaxRetries: 2, BackoffBase: time.Second}, transport, nil, nil, blocks, nil, zap.NewNop())
	recordedSleeps(c)

	_, _, err := c.Fetch(context.Background(), "https://example.com/p", true)
	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.Contains(t, fetchErr.Err.Error(), "blocked")
}

func TestChallengeSolvedWithinSameAttempt(t *testing.T) {
	t.Parallel()

	page := challengePage(t, "session", []byte("0123456789abcdef"))
	transport := &fakeTransport{replies: []reply{
		{res: Result{HTML: page, FinalURL: "https://example.com/p"}},
		{res: Result{HTML: "<html>real page</html>", FinalURL: "https://example.com/p"}},
	}}
	c := New(Config{MaxRetries: 3, BackoffBase: time.Second}, transport, nil, nil, nil, nil, zap.NewNop())
	sleeps := recordedSleeps(c)

	html, _, err := c.Fetch(context.Background(), "https://example.com/p", true)
	require.NoError(t, err)
	require.Equal(t, "<html>real page</html>", html)
	// Both GETs happen inside attempt 1: no retries, no backoff.
	require.Equal(t, 2, transport.calls)
	require.Empty(t, *sleeps)
	require.Equal(t, "30313233343536373839616263646566", transport.cookies["session"])
}

func TestChallengeSolveFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	// Three hex strings present but the iv is the wrong length, so the
	// solve fails and the original body is kept.
	page := `<script>var a=toNumbers("aabbccddeeff00112233445566778899"),
b=toNumbers("aabb"),c=toNumbers("aabbccddeeff00112233445566778899");
document.cookie="session="+toHex(slowAES.decrypt(c,2,a,b));</script>`
	transport := &fakeTransport{replies: []reply{
		{res: Result{HTML: page, FinalURL: "https://example.com/p"}},
	}}
	c := New(Config{MaxRetries: 3, BackoffBase: time.Second}, transport, nil, nil, nil, nil, zap.NewNop())
	recordedSleeps(c)

	html, _, err := c.Fetch(context.Background(), "https://example.com/p", true)
	require.NoError(t, err)
	require.Equal(t, page, html)
	require.Equal(t, 1, transport.calls)
	require.Empty(t, transport.cookies)
}

func TestRenderPromotionUsesDetector(t *testing.T) {
	t.Parallel()

	probe := &fakeTransport{replies: []reply{
		{res: Result{HTML: "<html>shell</html>", FinalURL: "https://example.com/p"}},
	}}
	render := &fakeTransport{replies: []reply{
		{res: Result{HTML: "<html><h1>rendered</h1></html>", FinalURL: "https://example.com/p"}},
	}}
	detector := NewDetector(0, nil, []string{"shell"})
	c := New(Config{MaxRetries: 3, BackoffBase: time.Second}, probe, render, detector, nil, nil, zap.NewNop())
	recordedSleeps(c)

	html, _, err := c.Fetch(context.Background(), "https://example.com/p", true)
	require.NoError(t, err)
	require.Contains(t, html, "rendered")
	require.Equal(t, 1, probe.calls)
	require.Equal(t, 1, render.calls)
}

func TestRenderSkippedWhenDetectorSeesFullPage(t *testing.T) {
	t.Parallel()

	probe := &fakeTransport{replies: []reply{
		{res: Result{HTML: "<html><h1>full product page</h1></html>", FinalURL: "https://example.com/p"}},
	}}
	render := &fakeTransport{replies: []reply{
		{res: Result{HTML: "should not be used", FinalURL: "https://example.com/p"}},
	}}
	detector := NewDetector(0, nil, []string{"loading..."})
	c := New(Config{MaxRetries: 3, BackoffBase: time.Second}, probe, render, detector, nil, nil, zap.NewNop())
	recordedSleeps(c)

	html, _, err := c.Fetch(context.Background(), "https://example.com/p", true)
	require.NoError(t, err)
	require.Contains(t, html, "full product page")
	require.Equal(t, 0, render.calls)
}

func TestFetchStopsOnCanceledContext(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{replies: []reply{{err: errors.New("boom")}}}
	c := New(Config{MaxRetries: 3, BackoffBase: time.Second}, transport, nil, nil, nil, nil, zap.NewNop())
	recordedSleeps(c)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := c.Fetch(ctx, "https://example.com/p", true)
	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	// No retry loop once the context is gone.
	require.Equal(t, 1, transport.calls)
}

func TestSleepContextHonorsCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := sleepContext(ctx, time.Minute)
	require.Error(t, err)
	require.ErrorIs(t, err, context.Canceled)

	require.NoError(t, sleepContext(context.Background(), time.Millisecond))
}

func TestFetchErrorFormatting(t *testing.T) {
	t.Parallel()

	err := &FetchError{URL: "https://example.com", Attempts: 3, Err: fmt.Errorf("timeout")}
	require.Contains(t, err.Error(), "https://example.com")
	require.Contains(t, err.Error(), "3 attempts")
}
