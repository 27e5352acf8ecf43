package storage

import (
	"context"

	"github.com/kylycht/currencycalc/model"
)

// RateStore interface describes methods of
// persistence storage for rate snapshots
type RateStore interface {
	// Save persists snapshot replacing
	// any previously saved one
	Save(ctx context.Context, snapshot model.RateSnapshot) error

	// LoadLatest returns the last saved snapshot,
	// nil without error when nothing was saved yet
	LoadLatest(ctx context.Context) (*model.RateSnapshot, error)
}

// Catalog interface describes the ordered
// list of currencies offered to the user
type Catalog interface {
	// Load loads all available currencies
	// in display order
	Load(ctx context.Context) ([]model.Currency, error)
}

// StaticCatalog is a Catalog backed by a fixed list
type StaticCatalog []model.Currency

// Load implements Catalog.
func (c StaticCatalog) Load(ctx context.Context) ([]model.Currency, error) {
	out := make([]model.Currency, len(c))
	copy(out, c)
	return out, nil
}
