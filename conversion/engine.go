// Package conversion owns the current rate snapshot and converts
// amounts between currencies with it.
//
// Rates are resolved with a fixed policy: the last successful fetch,
// then the last persisted snapshot, then identity rates.
package conversion

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kylycht/currencycalc/model"
	"github.com/kylycht/currencycalc/service"
	"github.com/kylycht/currencycalc/storage"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const (
	// DefaultMaxAge is how old a snapshot may get before it is refreshed
	DefaultMaxAge = 6 * time.Hour

	amountPlaces = 2
	loadTimeout  = 5 * time.Second
)

// FetchError wraps a provider failure during Refresh
type FetchError struct {
	Base string
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch rates for %s: %v", e.Base, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Option configures an Engine
type Option func(*Engine)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

type Engine struct {
	lock     sync.RWMutex         // guards snapshot and loaded
	snapshot *model.RateSnapshot  // current snapshot, nil until fetched or loaded
	loaded   bool                 // store fallback already attempted
	provider service.RateProvider // remote rates source
	store    storage.RateStore    // snapshot persistence, may be nil
	now      func() time.Time     // clock
}

func New(provider service.RateProvider, store storage.RateStore, opts ...Option) *Engine {
	e := &Engine{
		provider: provider,
		store:    store,
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Refresh fetches rates for base and makes them current.
// On failure the previous snapshot stays in force.
func (e *Engine) Refresh(ctx context.Context, base string) (model.RateSnapshot, error) {
	base = model.NormalizeCode(base)

	rates, err := e.provider.Fetch(ctx, base)
	if err != nil {
		log.Error().Err(err).Str("base", base).Msg("unable to refresh rates, keeping previous snapshot")
		return model.RateSnapshot{}, &FetchError{Base: base, Err: err}
	}

	snapshot := model.NewRateSnapshot(base, rates, e.now())

	if e.store != nil {
		if err := e.store.Save(ctx, snapshot); err != nil {
			log.Error().Err(err).Str("base", base).Msg("unable to persist rate snapshot")
		}
	}

	current := snapshot.Clone()

	e.lock.Lock()
	e.snapshot = &current
	e.loaded = true
	e.lock.Unlock()

	log.Debug().Str("base", base).Int("rates", len(snapshot.Rates)).Msg("rates refreshed")

	return snapshot, nil
}

// Load makes the last persisted snapshot current when nothing
// was fetched yet. It reports whether a snapshot is available.
func (e *Engine) Load(ctx context.Context) (bool, error) {
	e.lock.RLock()
	if e.snapshot != nil {
		e.lock.RUnlock()
		return true, nil
	}
	e.lock.RUnlock()

	if e.store == nil {
		e.markLoaded()
		return false, nil
	}

	persisted, err := e.store.LoadLatest(ctx)
	e.lock.Lock()
	defer e.lock.Unlock()

	e.loaded = true

	if err != nil {
		return e.snapshot != nil, err
	}

	// a concurrent Refresh wins over the persisted snapshot
	if e.snapshot == nil && persisted != nil {
		s := persisted.Clone()
		e.snapshot = &s
		log.Debug().Str("base", s.Base).Time("fetchedAt", s.FetchedTime()).Msg("loaded persisted rate snapshot")
	}

	return e.snapshot != nil, nil
}

func (e *Engine) markLoaded() {
	e.lock.Lock()
	e.loaded = true
	e.lock.Unlock()
}

// current returns the snapshot in force, attempting the store
// fallback once when nothing was fetched yet.
func (e *Engine) current() *model.RateSnapshot {
	e.lock.RLock()
	snapshot, loaded := e.snapshot, e.loaded
	e.lock.RUnlock()

	if snapshot != nil || loaded {
		return snapshot
	}

	ctx, cancelFn := context.WithTimeout(context.Background(), loadTimeout)
	defer cancelFn()

	if _, err := e.Load(ctx); err != nil {
		log.Error().Err(err).Msg("unable to load persisted rate snapshot, using identity rates")
	}

	e.lock.RLock()
	defer e.lock.RUnlock()
	return e.snapshot
}

// NeedsRefresh reports whether the snapshot is missing
// or older than maxAge.
func (e *Engine) NeedsRefresh(maxAge time.Duration) bool {
	snapshot := e.current()
	if snapshot == nil {
		return true
	}
	return e.now().UnixMilli()-snapshot.FetchedAt > maxAge.Milliseconds()
}

// Convert converts amount between two currencies, rounded to
// 2 places half away from zero. Codes missing from the snapshot
// convert at 1.0 so unsupported currencies pass amounts through.
func (e *Engine) Convert(amount decimal.Decimal, from, to string) decimal.Decimal {
	from, to = model.NormalizeCode(from), model.NormalizeCode(to)
	if from == to {
		return amount
	}

	fromRate, toRate := e.rates(from, to)
	if fromRate <= 0 {
		return decimal.Zero
	}

	factor := decimal.NewFromFloat(toRate).Div(decimal.NewFromFloat(fromRate))
	return amount.Mul(factor).Round(amountPlaces)
}

// Rate returns the cross rate from -> to with the same
// fallbacks as Convert.
func (e *Engine) Rate(from, to string) float64 {
	from, to = model.NormalizeCode(from), model.NormalizeCode(to)
	if from == to {
		return 1.0
	}

	fromRate, toRate := e.rates(from, to)
	if fromRate <= 0 {
		return 0
	}
	return toRate / fromRate
}

func (e *Engine) rates(from, to string) (float64, float64) {
	fromRate, toRate := 1.0, 1.0

	snapshot := e.current()
	if snapshot == nil {
		return fromRate, toRate
	}

	if r, ok := snapshot.Rates[from]; ok {
		fromRate = r
	}
	if r, ok := snapshot.Rates[to]; ok {
		toRate = r
	}
	return fromRate, toRate
}

// Snapshot returns a copy of the snapshot in force.
func (e *Engine) Snapshot() (model.RateSnapshot, bool) {
	snapshot := e.current()
	if snapshot == nil {
		return model.RateSnapshot{}, false
	}
	return snapshot.Clone(), true
}

// LastUpdated returns the fetch time of the snapshot in force,
// zero when there is none.
func (e *Engine) LastUpdated() time.Time {
	snapshot := e.current()
	if snapshot == nil {
		return time.Time{}
	}
	return snapshot.FetchedTime()
}
