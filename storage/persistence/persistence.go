package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/kylycht/currencycalc/model"
	"github.com/kylycht/currencycalc/storage"
	"github.com/rs/zerolog/log"
)

// Persistence stores the currency catalog
// and rate snapshots in Postgres
type Persistence struct {
	dbConn *sql.DB
}

func New(dbConn *sql.DB) *Persistence {
	return &Persistence{
		dbConn: dbConn,
	}
}

var (
	_ storage.RateStore = (*Persistence)(nil)
	_ storage.Catalog   = (*Persistence)(nil)
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS currency (
		code         TEXT PRIMARY KEY,
		name         TEXT NOT NULL,
		symbol       TEXT NOT NULL,
		position     INTEGER NOT NULL DEFAULT 0,
		is_available BOOLEAN NOT NULL DEFAULT true
	)`,
	`CREATE TABLE IF NOT EXISTS rate_snapshot (
		id         UUID PRIMARY KEY,
		base       TEXT NOT NULL,
		fetched_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS rate (
		snapshot_id UUID NOT NULL REFERENCES rate_snapshot(id) ON DELETE CASCADE,
		code        TEXT NOT NULL,
		rate        DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (snapshot_id, code)
	)`,
}

// Migrate creates missing tables
func (p *Persistence) Migrate(ctx context.Context) error {
	for _, q := range schema {
		if _, err := p.dbConn.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Load implements storage.Catalog.
func (p *Persistence) Load(ctx context.Context) ([]model.Currency, error) {
	loadQuery := `SELECT code, name, symbol
				 FROM currency
				 WHERE is_available=true
				 ORDER BY position, code`

	var currencies []model.Currency

	rows, err := p.dbConn.QueryContext(ctx, loadQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		c := model.Currency{}

		if err := rows.Scan(&c.Code, &c.Name, &c.Symbol); err != nil {
			return currencies, err
		}

		c.Code = model.NormalizeCode(c.Code)
		currencies = append(currencies, c)
	}

	return currencies, rows.Err()
}

// Save implements storage.RateStore.
// The new snapshot replaces every older one.
func (p *Persistence) Save(ctx context.Context, snapshot model.RateSnapshot) (err error) {
	tx, err := p.dbConn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				log.Error().Err(rbErr).Msg("unable to rollback snapshot save")
			}
		}
	}()

	id := uuid.New()

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO rate_snapshot (id, base, fetched_at) VALUES ($1, $2, $3)`,
		id, snapshot.Base, snapshot.FetchedAt,
	); err != nil {
		return err
	}

	codes := make([]string, 0, len(snapshot.Rates))
	for code := range snapshot.Rates {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	for _, code := range codes {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO rate (snapshot_id, code, rate) VALUES ($1, $2, $3)`,
			id, code, snapshot.Rates[code],
		); err != nil {
			return err
		}
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM rate_snapshot WHERE id <> $1`, id); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return err
	}

	log.Debug().Str("id", id.String()).Str("base", snapshot.Base).Int("rates", len(codes)).Msg("saved rate snapshot")

	return nil
}

// LoadLatest implements storage.RateStore.
func (p *Persistence) LoadLatest(ctx context.Context) (*model.RateSnapshot, error) {
	var (
		id       uuid.UUID
		snapshot = model.RateSnapshot{Rates: map[string]float64{}}
	)

	err := p.dbConn.QueryRowContext(ctx,
		`SELECT id, base, fetched_at FROM rate_snapshot ORDER BY fetched_at DESC LIMIT 1`,
	).Scan(&id, &snapshot.Base, &snapshot.FetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := p.dbConn.QueryContext(ctx, `SELECT code, rate FROM rate WHERE snapshot_id = $1`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			code string
			rate float64
		)
		if err := rows.Scan(&code, &rate); err != nil {
			return nil, err
		}
		snapshot.Rates[code] = rate
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &snapshot, nil
}
