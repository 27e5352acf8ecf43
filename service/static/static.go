// Package static serves a fixed rate table, for offline use and tests.
package static

import (
	"context"
	"fmt"
	"strings"

	"github.com/kylycht/currencycalc/service"
)

type provider struct {
	base  string             // currency the table is expressed in
	rates map[string]float64 // rates relative to base
}

// New returns a provider that answers from rates, which are relative to base.
// Requests for another base are rebased through the table.
func New(base string, rates map[string]float64) service.RateProvider {
	p := &provider{
		base:  strings.ToUpper(base),
		rates: make(map[string]float64, len(rates)+1),
	}

	for code, rate := range rates {
		p.rates[strings.ToUpper(code)] = rate
	}
	p.rates[p.base] = 1.0

	return p
}

// Fetch implements service.RateProvider.
func (p *provider) Fetch(ctx context.Context, base string) (map[string]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	base = strings.ToUpper(base)

	pivot, ok := p.rates[base]
	if !ok || pivot <= 0 {
		return nil, fmt.Errorf("static provider: unsupported base %s", base)
	}

	result := make(map[string]float64, len(p.rates))
	for code, rate := range p.rates {
		result[code] = rate / pivot
	}

	return result, nil
}
