package units

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

// fetchTimeout bounds one shared refresh.
const fetchTimeout = 30 * time.Second

// ErrRateUnavailable is returned when no exchange rate has ever been obtained.
var ErrRateUnavailable = errors.New("exchange rate unavailable")

// RateTable holds rates per one unit of its base currency.
type RateTable struct {
	Base  string
	Rates map[string]decimal.Decimal
}

// Cross returns the rate converting one unit of from into to.
func (t RateTable) Cross(from, to string) (decimal.Decimal, error) {
	perBase := func(code string) (decimal.Decimal, bool) {
		if code == t.Base {
			return decimal.NewFromInt(1), true
		}
		r, ok := t.Rates[code]
		return r, ok && !r.IsZero()
	}
	f, ok := perBase(from)
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("no rate for %s", from)
	}
	tt, ok := perBase(to)
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("no rate for %s", to)
	}
	return tt.Div(f), nil
}

// StaticRates serves a fixed rate table.
type StaticRates RateTable

// Rate implements RateSource.
func (s StaticRates) Rate(_ context.Context, from, to string) (decimal.Decimal, error) {
	return RateTable(s).Cross(from, to)
}

// RateFetcher fetches the latest rate table for a base currency.
type RateFetcher interface {
	Latest(ctx context.Context, base string) (RateTable, error)
}

// CachedRates is a process-wide RateSource that refreshes its table at most
// once per interval. When a refresh fails it keeps serving the last table it
// obtained; it only fails when no table was ever fetched.
type CachedRates struct {
	fetcher  RateFetcher
	base     string
	interval time.Duration
	clock    clockwork.Clock
	logger   *slog.Logger
	onFetch  func(outcome string)

	group     singleflight.Group
	mu        sync.RWMutex
	table     *RateTable
	fetchedAt time.Time
	lastTry   time.Time
}

// CachedRatesOption configures a CachedRates.
type CachedRatesOption func(*CachedRates)

// WithClock sets the clock used to decide when the table is stale.
func WithClock(c clockwork.Clock) CachedRatesOption {
	return func(r *CachedRates) { r.clock = c }
}

// WithFetchObserver registers a callback told the outcome of each fetch
// ("success" or "error").
func WithFetchObserver(fn func(outcome string)) CachedRatesOption {
	return func(r *CachedRates) { r.onFetch = fn }
}

// NewCachedRates creates a cache over fetcher using base as the table currency.
func NewCachedRates(fetcher RateFetcher, base string, interval time.Duration, logger *slog.Logger, opts ...CachedRatesOption) *CachedRates {
	r := &CachedRates{
		fetcher:  fetcher,
		base:     base,
		interval: interval,
		clock:    clockwork.NewRealClock(),
		logger:   logger,
		onFetch:  func(string) {},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Rate implements RateSource.
func (r *CachedRates) Rate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	table, err := r.current(ctx)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return table.Cross(from, to)
}

func (r *CachedRates) current(ctx context.Context) (RateTable, error) {
	r.mu.RLock()
	table, lastTry := r.table, r.lastTry
	r.mu.RUnlock()

	if table != nil && r.clock.Since(lastTry) < r.interval {
		return *table, nil
	}

	// The refresh is shared, so it must not end with the caller that started it.
	v, err, _ := r.group.Do(r.base, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchTimeout)
		defer cancel()
		return r.refresh(fetchCtx)
	})
	if err != nil {
		return RateTable{}, err
	}
	return v.(RateTable), nil
}

func (r *CachedRates) refresh(ctx context.Context) (RateTable, error) {
	// A caller that raced the previous refresh finds the table already fresh.
	r.mu.RLock()
	if r.table != nil && r.clock.Since(r.lastTry) < r.interval {
		table := *r.table
		r.mu.RUnlock()
		return table, nil
	}
	r.mu.RUnlock()

	fresh, err := r.fetcher.Latest(ctx, r.base)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastTry = r.clock.Now()

	if err != nil {
		r.onFetch("error")
		if r.table == nil {
			return RateTable{}, fmt.Errorf("%w: %w", ErrRateUnavailable, err)
		}
		r.logger.Warn("exchange rate refresh failed, serving last known rates",
			"base", r.base,
			"fetched_at", r.fetchedAt,
			"error", err,
		)
		return *r.table, nil
	}

	r.onFetch("success")
	r.table = &fresh
	r.fetchedAt = r.lastTry
	return fresh, nil
}
