package units_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/couchcryptid/climate-risk-api/internal/units"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubFetcher struct {
	calls atomic.Int32
	mu    sync.Mutex
	table units.RateTable
	err   error
	gate  chan struct{}
}

func (f *stubFetcher) Latest(ctx context.Context, base string) (units.RateTable, error) {
	f.calls.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	if err := ctx.Err(); err != nil {
		return units.RateTable{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return units.RateTable{}, f.err
	}
	t := f.table
	t.Base = base
	return t, nil
}

func (f *stubFetcher) set(eur string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
	if eur != "" {
		f.table = units.RateTable{Rates: map[string]decimal.Decimal{"EUR": decimal.RequireFromString(eur)}}
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStaticRates_Cross(t *testing.T) {
	r := fixedRates()

	got, err := r.Rate(context.Background(), "EUR", "GBP")
	require.NoError(t, err)
	assert.True(t, got.Sub(decimal.RequireFromString("0.8333333333333333")).Abs().LessThan(decimal.New(1, -12)))

	got, err = r.Rate(context.Background(), "USD", "USD")
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.NewFromInt(1)))

	_, err = r.Rate(context.Background(), "USD", "JPY")
	require.Error(t, err)
}

func TestCachedRates_RefreshesAfterInterval(t *testing.T) {
	clk := clockwork.NewFakeClock()
	f := &stubFetcher{}
	f.set("0.9", nil)
	cache := units.NewCachedRates(f, "USD", time.Hour, discardLogger(), units.WithClock(clk))
	ctx := context.Background()

	rate, err := cache.Rate(ctx, "USD", "EUR")
	require.NoError(t, err)
	assert.Equal(t, "0.9", rate.String())

	_, err = cache.Rate(ctx, "USD", "EUR")
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.calls.Load(), "second read within interval is served from cache")

	f.set("0.95", nil)
	clk.Advance(time.Hour)

	rate, err = cache.Rate(ctx, "USD", "EUR")
	require.NoError(t, err)
	assert.Equal(t, "0.95", rate.String())
	assert.Equal(t, int32(2), f.calls.Load())
}

func TestCachedRates_LastKnownGood(t *testing.T) {
	clk := clockwork.NewFakeClock()
	f := &stubFetcher{}
	f.set("0.9", nil)

	var outcomes []string
	cache := units.NewCachedRates(f, "USD", time.Minute, discardLogger(),
		units.WithClock(clk),
		units.WithFetchObserver(func(o string) { outcomes = append(outcomes, o) }),
	)
	ctx := context.Background()

	_, err := cache.Rate(ctx, "USD", "EUR")
	require.NoError(t, err)

	f.set("", errors.New("upstream timeout"))
	clk.Advance(2 * time.Minute)

	rate, err := cache.Rate(ctx, "USD", "EUR")
	require.NoError(t, err)
	assert.Equal(t, "0.9", rate.String())
	assert.Equal(t, []string{"success", "error"}, outcomes)

	// The failed attempt also starts a new interval.
	_, err = cache.Rate(ctx, "USD", "EUR")
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.calls.Load())
}

func TestCachedRates_NeverFetched(t *testing.T) {
	f := &stubFetcher{}
	f.set("", errors.New("connection refused"))
	cache := units.NewCachedRates(f, "USD", time.Minute, discardLogger(), units.WithClock(clockwork.NewFakeClock()))

	_, err := cache.Rate(context.Background(), "USD", "EUR")
	require.ErrorIs(t, err, units.ErrRateUnavailable)
}

func TestCachedRates_CancelledCallerDoesNotStallRefresh(t *testing.T) {
	clk := clockwork.NewFakeClock()
	f := &stubFetcher{}
	f.set("0.9", nil)
	cache := units.NewCachedRates(f, "USD", time.Hour, discardLogger(), units.WithClock(clk))

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	// The first caller's cancellation does not fail the shared fetch.
	rate, err := cache.Rate(cancelled, "USD", "EUR")
	require.NoError(t, err)
	assert.Equal(t, "0.9", rate.String())

	// Nor does it leave the stale table in place for a whole interval.
	f.set("0.8", nil)
	clk.Advance(2 * time.Hour)
	_, err = cache.Rate(cancelled, "USD", "EUR")
	require.NoError(t, err)

	rate, err = cache.Rate(context.Background(), "USD", "EUR")
	require.NoError(t, err)
	assert.Equal(t, "0.8", rate.String())
	assert.Equal(t, int32(2), f.calls.Load())
}

func TestCachedRates_ConcurrentCallersShareFetch(t *testing.T) {
	f := &stubFetcher{gate: make(chan struct{})}
	f.set("0.9", nil)
	cache := units.NewCachedRates(f, "USD", time.Hour, discardLogger(), units.WithClock(clockwork.NewFakeClock()))

	const callers = 16
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cache.Rate(context.Background(), "EUR", "USD")
			errs <- err
		}()
	}

	require.Eventually(t, func() bool { return f.calls.Load() >= 1 }, time.Second, time.Millisecond)
	close(f.gate)
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestCachedRates_FeedsConverter(t *testing.T) {
	f := &stubFetcher{}
	f.set("0.5", nil)
	cache := units.NewCachedRates(f, "USD", time.Hour, discardLogger(), units.WithClock(clockwork.NewFakeClock()))
	c := units.NewConverter(testRegistry(t), cache)

	fn, err := c.Make(context.Background(), "EUR", "USD")
	require.NoError(t, err)
	assert.InDelta(t, 20.0, fn(10), tolerance)
}
