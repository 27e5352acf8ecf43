package conversion

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultRefreshInterval = time.Minute
	DefaultFetchTimeout    = 10 * time.Second
)

// Refresher keeps an Engine fresh in the background.
// At most one fetch runs at a time and callers never wait for it.
type Refresher struct {
	engine       *Engine             // engine to refresh
	base         string              // base currency to fetch
	maxAge       time.Duration       // staleness window
	interval     time.Duration       // how often staleness is checked
	fetchTimeout time.Duration       // per fetch timeout
	sem          *semaphore.Weighted // single in-flight fetch
	ticker       *time.Ticker        // ticker to check staleness every interval
	doneC        chan struct{}       // chan to signal ticker stoppage
	onRefresh    func(err error)     // optional hook, called after every fetch
}

// RefresherConfig holds Refresher settings, zero values take defaults
type RefresherConfig struct {
	Base         string
	MaxAge       time.Duration
	Interval     time.Duration
	FetchTimeout time.Duration
	OnRefresh    func(err error)
}

func NewRefresher(engine *Engine, cfg RefresherConfig) *Refresher {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultRefreshInterval
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}

	return &Refresher{
		engine:       engine,
		base:         cfg.Base,
		maxAge:       cfg.MaxAge,
		interval:     cfg.Interval,
		fetchTimeout: cfg.FetchTimeout,
		sem:          semaphore.NewWeighted(1),
		doneC:        make(chan struct{}),
		onRefresh:    cfg.OnRefresh,
	}
}

// Start triggers an initial check and then checks
// staleness every interval until Stop or ctx is done.
func (r *Refresher) Start(ctx context.Context) {
	r.TriggerIfStale(ctx)

	r.ticker = time.NewTicker(r.interval)

	go func() {
		defer r.ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return

			case <-r.doneC:
				return

			case t := <-r.ticker.C:
				if !r.TriggerIfStale(ctx) {
					log.Debug().Str("time", t.String()).Msg("rates fresh or fetch in flight, skipping")
				}
			}
		}
	}()
}

// Stop ends the background loop
func (r *Refresher) Stop() {
	select {
	case <-r.doneC:
	default:
		close(r.doneC)
	}
}

// TriggerIfStale schedules a fetch when the snapshot is stale.
// It reports whether a fetch was scheduled.
func (r *Refresher) TriggerIfStale(ctx context.Context) bool {
	if !r.engine.NeedsRefresh(r.maxAge) {
		return false
	}
	return r.Trigger(ctx)
}

// Trigger schedules a fetch unless one is already running.
// It reports whether a fetch was scheduled.
func (r *Refresher) Trigger(ctx context.Context) bool {
	if !r.sem.TryAcquire(1) {
		return false
	}

	go func() {
		err := r.refresh(ctx)
		r.sem.Release(1)

		if r.onRefresh != nil {
			r.onRefresh(err)
		}
	}()

	return true
}

func (r *Refresher) refresh(ctx context.Context) error {
	fetchCtx, cancelFn := context.WithTimeout(ctx, r.fetchTimeout)
	defer cancelFn()

	_, err := r.engine.Refresh(fetchCtx, r.base)
	if err != nil {
		log.Debug().Str("base", r.base).Msg("background refresh failed, retry in " + r.interval.String())
	}
	return err
}
