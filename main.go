package main

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kylycht/currencycalc/controller/converter"
	"github.com/kylycht/currencycalc/conversion"
	"github.com/kylycht/currencycalc/model"
	"github.com/kylycht/currencycalc/service"
	"github.com/kylycht/currencycalc/service/forex"
	"github.com/kylycht/currencycalc/service/static"
	"github.com/kylycht/currencycalc/session"
	"github.com/kylycht/currencycalc/storage"
	"github.com/kylycht/currencycalc/storage/memory"
	"github.com/kylycht/currencycalc/storage/persistence"
	"github.com/kylycht/currencycalc/storage/redisstore"
	"github.com/kylycht/currencycalc/storage/sqlite"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := newCLI().Run(os.Args); err != nil {
		log.Error().Err(err).Msg("currencycalc failed")
		os.Exit(1)
	}
}

func setupLogger(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
}

type Application struct {
	cfg       Config                // application configuration
	fiberApp  *fiber.App            // underlying fiber application
	store     storage.RateStore     // snapshot persistence
	catalog   []model.Currency      // currencies that can be tracked
	provider  service.RateProvider  // exchange rates provider
	engine    *conversion.Engine    // current rates and conversion
	refresher *conversion.Refresher // background refresh, serve only
	session   *session.Session      // calculator session
	closers   []func() error        // connections to close on exit
	stopC     chan os.Signal        // handle interrupt for clean up(close connections, etc)
}

func newApplication(ctx context.Context, cfg Config) (*Application, error) {
	a := &Application{cfg: cfg}

	if err := a.initStorage(ctx); err != nil {
		a.close()
		return nil, err
	}

	if err := a.initProvider(); err != nil {
		a.close()
		return nil, err
	}

	a.engine = conversion.New(a.provider, a.store)
	if ok, err := a.engine.Load(ctx); err != nil {
		log.Warn().Err(err).Msg("unable to load persisted rates")
	} else if !ok {
		log.Debug().Msg("no persisted rates, waiting for first fetch")
	}

	return a, nil
}

func (a *Application) initStorage(ctx context.Context) error {
	var tableCatalog storage.Catalog

	switch a.cfg.Storage.Driver {
	case DriverPostgres:
		log.Debug().
			Str("host", a.cfg.Storage.DBHost).
			Str("db", a.cfg.Storage.DBName).
			Msg("initialize db connection")

		dbConn, err := sql.Open("postgres", a.cfg.Storage.connString())
		if err != nil {
			log.Error().Err(err).Msg("unable to connect to db")
			return err
		}
		a.closers = append(a.closers, dbConn.Close)

		db := persistence.New(dbConn)
		if err := db.Migrate(ctx); err != nil {
			log.Error().Err(err).Msg("unable to migrate db")
			return err
		}
		a.store = db
		tableCatalog = db

	case DriverSQLite:
		db, err := sqlite.Open(ctx, a.cfg.Storage.SQLitePath)
		if err != nil {
			log.Error().Err(err).Str("path", a.cfg.Storage.SQLitePath).Msg("unable to open sqlite store")
			return err
		}
		a.closers = append(a.closers, db.Close)
		a.store = db

	case DriverRedis:
		opt, err := redis.ParseURL(a.cfg.Storage.RedisURL)
		if err != nil {
			log.Error().Err(err).Msg("invalid redis url")
			return err
		}
		client := redis.NewClient(opt)
		a.closers = append(a.closers, client.Close)
		a.store = redisstore.New(client, a.cfg.Storage.RedisKey)

	default:
		a.store = memory.New()
	}

	catalog, err := loadCatalog(ctx, tableCatalog, storage.StaticCatalog(a.cfg.Catalog))
	if err != nil {
		return err
	}
	a.catalog = catalog

	return nil
}

// loadCatalog prefers the table catalog when it has rows.
func loadCatalog(ctx context.Context, table storage.Catalog, fallback storage.Catalog) ([]model.Currency, error) {
	if table != nil {
		currencies, err := table.Load(ctx)
		if err != nil {
			log.Error().Err(err).Msg("unable to load currency catalog")
			return nil, err
		}
		if len(currencies) > 0 {
			return currencies, nil
		}
		log.Warn().Msg("currency table is empty, using configured catalog")
	}

	currencies, err := fallback.Load(ctx)
	if err != nil {
		return nil, err
	}
	if len(currencies) == 0 {
		return nil, errors.New("currency catalog is empty")
	}
	return currencies, nil
}

func (a *Application) initProvider() error {
	if a.cfg.Exchange.APIKey == "" {
		log.Warn().Int("rates", len(a.cfg.Exchange.StaticRates)).Msg("no exchange api key, serving static rates")
		a.provider = static.New(a.cfg.BaseCurrency, a.cfg.Exchange.StaticRates)
		return nil
	}

	var opts []forex.Option
	if a.cfg.Exchange.URL != "" {
		opts = append(opts, forex.WithBaseURL(a.cfg.Exchange.URL))
	}

	exchangeClient, err := forex.New(a.cfg.Exchange.APIKey, opts...)
	if err != nil {
		log.Error().Err(err).Msg("unable to create exchange client")
		return err
	}
	a.provider = exchangeClient

	return nil
}

// newSession tracks the configured currencies that are in the catalog.
func (a *Application) newSession() *session.Session {
	byCode := make(map[string]model.Currency, len(a.catalog))
	for _, c := range a.catalog {
		byCode[model.NormalizeCode(c.Code)] = c
	}

	sess := session.New(a.engine)
	for _, code := range a.cfg.Tracked {
		currency, ok := byCode[model.NormalizeCode(code)]
		if !ok {
			log.Warn().Str("code", code).Msg("tracked currency is not in the catalog, skipping")
			continue
		}
		sess.AddTracked(currency)
	}

	return sess
}

// refreshIfStale fetches synchronously when the snapshot is stale.
// A failed fetch leaves the previous snapshot in force.
func (a *Application) refreshIfStale(ctx context.Context) {
	if !a.engine.NeedsRefresh(a.cfg.MaxRateAge) {
		return
	}

	ctx, cancelFn := context.WithTimeout(ctx, a.cfg.FetchTimeout)
	defer cancelFn()

	if _, err := a.engine.Refresh(ctx, a.cfg.BaseCurrency); err != nil {
		log.Warn().Err(err).Msg("using last known rates")
	}
}

func (a *Application) serve(ctx context.Context) error {
	ctx, cancelFn := context.WithCancel(ctx)
	defer cancelFn()

	a.session = a.newSession()
	a.refresher = conversion.NewRefresher(a.engine, conversion.RefresherConfig{
		Base:         a.cfg.BaseCurrency,
		MaxAge:       a.cfg.MaxRateAge,
		Interval:     a.cfg.RefreshInterval,
		FetchTimeout: a.cfg.FetchTimeout,
		OnRefresh: func(err error) {
			if err == nil {
				a.session.Recompute()
			}
		},
	})

	a.fiberApp = fiber.New(fiber.Config{DisableStartupMessage: true})
	a.buildRoutes()

	a.stopC = make(chan os.Signal, 1)
	signal.Notify(a.stopC, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(a.stopC)
	go a.stop(ctx, cancelFn)

	a.refresher.Start(ctx)
	defer a.refresher.Stop()

	log.Info().Str("port", a.cfg.HTTPPort).Str("storage", a.cfg.Storage.Driver).Msg("preparing fiber http server")

	if err := a.fiberApp.Listen(a.cfg.HTTPPort); err != nil {
		log.Error().Err(err).Msg("unable to start http server")
		return err
	}

	return nil
}

func (a *Application) buildRoutes() {
	converter.New(a.engine, a.session, a.refresher, a.catalog, a.cfg.MaxRateAge).Register(a.fiberApp)
}

// stop shuts the server down on a signal or when ctx ends,
// which includes serve returning after a failed Listen.
func (a *Application) stop(ctx context.Context, cancelFn context.CancelFunc) {
	select {
	case <-a.stopC:
	case <-ctx.Done():
	}
	log.Info().Msg("shutting down")

	cancelFn()
	if err := a.fiberApp.Shutdown(); err != nil {
		log.Error().Err(err).Msg("unable to shutdown http server")
	}
}

func (a *Application) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Error().Err(err).Msg("unable to close connection")
		}
	}
	a.closers = nil
}
