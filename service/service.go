package service

import (
	"context"
)

// RateProvider interface describes
// methods specs for obtaining exchange rates
type RateProvider interface {
	// Fetch returns rates relative to base
	// keyed by currency code. The map may be partial.
	Fetch(ctx context.Context, base string) (map[string]float64, error)
}

// RateProviderFunc adapts a function to RateProvider
type RateProviderFunc func(ctx context.Context, base string) (map[string]float64, error)

// Fetch implements RateProvider.
func (fn RateProviderFunc) Fetch(ctx context.Context, base string) (map[string]float64, error) {
	return fn(ctx, base)
}
