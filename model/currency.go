package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Currency holds information
// on the operating currency
type Currency struct {
	Code   string `yaml:"code" json:"code"`     // ISO-like code, identity of the currency
	Name   string `yaml:"name" json:"name"`     // Display name of the currency
	Symbol string `yaml:"symbol" json:"symbol"` // Symbol of the currency
}

// NormalizeCode returns the canonical form of a currency code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// TrackedCurrency is a currency shown in a session
// together with its current amount
type TrackedCurrency struct {
	Currency Currency        `json:"currency"`
	Amount   decimal.Decimal `json:"amount"`
	IsActive bool            `json:"isActive"` // amount is driven directly by calculator input
}

// RateSnapshot holds one fetched set of rates
// relative to Base
type RateSnapshot struct {
	Base      string             `json:"base" msgpack:"base"`           // Base currency, Rates[Base] == 1
	Rates     map[string]float64 `json:"rates" msgpack:"rates"`         // Rates keyed by currency code
	FetchedAt int64              `json:"fetchedAt" msgpack:"fetched_at"` // Fetch time in epoch millis
}

// NewRateSnapshot builds a snapshot from a raw rate map.
// Codes are normalized, non-positive rates dropped and
// the base rate forced to 1.
func NewRateSnapshot(base string, rates map[string]float64, fetchedAt time.Time) RateSnapshot {
	base = NormalizeCode(base)
	clean := make(map[string]float64, len(rates)+1)

	for code, rate := range rates {
		if rate <= 0 {
			continue
		}
		clean[NormalizeCode(code)] = rate
	}
	clean[base] = 1.0

	return RateSnapshot{
		Base:      base,
		Rates:     clean,
		FetchedAt: fetchedAt.UnixMilli(),
	}
}

// FetchedTime returns FetchedAt as time.Time
func (s RateSnapshot) FetchedTime() time.Time {
	return time.UnixMilli(s.FetchedAt)
}

// Clone returns a deep copy of the snapshot.
func (s RateSnapshot) Clone() RateSnapshot {
	rates := make(map[string]float64, len(s.Rates))
	for code, rate := range s.Rates {
		rates[code] = rate
	}
	s.Rates = rates
	return s
}
