// Package session keeps a set of tracked currency amounts consistent
// with calculator input for one user.
package session

import (
	"errors"
	"sync"

	"github.com/kylycht/currencycalc/calculator"
	"github.com/kylycht/currencycalc/model"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

var (
	// ErrCannotRemoveLastCurrency is returned when removing the only tracked currency
	ErrCannotRemoveLastCurrency = errors.New("cannot remove the last tracked currency")

	// ErrNotTracked is returned when removing a currency that is not tracked
	ErrNotTracked = errors.New("currency is not tracked")
)

// Converter converts amounts between currency codes
type Converter interface {
	Convert(amount decimal.Decimal, from, to string) decimal.Decimal
}

// Session binds a calculator to tracked currencies. Every method
// runs to completion, including recomputation, before the next starts.
type Session struct {
	mu        sync.Mutex
	calc      *calculator.Calculator
	converter Converter
	tracked   []*model.TrackedCurrency // insertion order
	active    int                      // index into tracked, -1 when empty
}

func New(converter Converter) *Session {
	s := &Session{
		converter: converter,
		active:    -1,
	}
	s.calc = calculator.New(s.apply)
	return s
}

// apply is the calculator observer; callers hold mu.
func (s *Session) apply(v decimal.Decimal) {
	if s.active < 0 {
		return
	}
	s.tracked[s.active].Amount = v
	s.rederive()
}

// rederive recomputes every passive amount from the active one.
func (s *Session) rederive() {
	if s.active < 0 {
		return
	}

	active := s.tracked[s.active]
	for i, t := range s.tracked {
		if i == s.active {
			continue
		}
		t.Amount = s.converter.Convert(active.Amount, active.Currency.Code, t.Currency.Code)
	}
}

// activate makes index i active and seeds the calculator with its amount.
func (s *Session) activate(i int) {
	if s.active >= 0 {
		s.tracked[s.active].IsActive = false
	}
	s.active = i
	s.tracked[i].IsActive = true

	// Load emits, which re-derives the others through apply
	s.calc.Load(s.tracked[i].Amount)
}

func (s *Session) indexOf(code string) int {
	code = model.NormalizeCode(code)
	for i, t := range s.tracked {
		if t.Currency.Code == code {
			return i
		}
	}
	return -1
}

// AddTracked appends currency with amount 0. The first tracked
// currency becomes active. Adding a tracked code is a no-op.
func (s *Session) AddTracked(currency model.Currency) {
	s.mu.Lock()
	defer s.mu.Unlock()

	currency.Code = model.NormalizeCode(currency.Code)
	if currency.Code == "" || s.indexOf(currency.Code) >= 0 {
		return
	}

	s.tracked = append(s.tracked, &model.TrackedCurrency{
		Currency: currency,
		Amount:   decimal.Zero,
	})

	if s.active < 0 {
		s.activate(len(s.tracked) - 1)
		return
	}

	s.rederive()
}

// RemoveTracked drops code from the tracked set. When the active
// currency is removed the first remaining one takes over.
func (s *Session) RemoveTracked(code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(code)
	if i < 0 {
		return ErrNotTracked
	}
	if len(s.tracked) == 1 {
		return ErrCannotRemoveLastCurrency
	}

	wasActive := i == s.active
	s.tracked = append(s.tracked[:i], s.tracked[i+1:]...)

	switch {
	case wasActive:
		s.active = -1
		s.activate(0)
	case i < s.active:
		s.active--
		s.rederive()
	default:
		s.rederive()
	}

	log.Debug().Str("code", model.NormalizeCode(code)).Int("tracked", len(s.tracked)).Msg("currency removed")

	return nil
}

// SetActive makes code the active currency. Unknown codes are ignored.
func (s *Session) SetActive(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(code)
	if i < 0 {
		return
	}
	s.activate(i)
}

// Recompute re-derives passive amounts, e.g. after new rates arrived.
func (s *Session) Recompute() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rederive()
}

// Tracked returns a copy of the tracked currencies in insertion order.
func (s *Session) Tracked() []model.TrackedCurrency {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.TrackedCurrency, len(s.tracked))
	for i, t := range s.tracked {
		out[i] = *t
	}
	return out
}

// Active returns the active currency, false when nothing is tracked.
func (s *Session) Active() (model.TrackedCurrency, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active < 0 {
		return model.TrackedCurrency{}, false
	}
	return *s.tracked[s.active], true
}

// Display returns the calculator buffer.
func (s *Session) Display() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calc.Display()
}

func (s *Session) input(fn func(*calculator.Calculator) decimal.Decimal) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.calc)
}

func (s *Session) Digit(d int) decimal.Decimal {
	return s.input(func(c *calculator.Calculator) decimal.Decimal { return c.Digit(d) })
}

func (s *Session) Dot() decimal.Decimal {
	return s.input((*calculator.Calculator).Dot)
}

func (s *Session) Operator(op calculator.Operator) decimal.Decimal {
	return s.input(func(c *calculator.Calculator) decimal.Decimal { return c.Operator(op) })
}

func (s *Session) Percent() decimal.Decimal {
	return s.input((*calculator.Calculator).Percent)
}

func (s *Session) Equals() decimal.Decimal {
	return s.input((*calculator.Calculator).Equals)
}

func (s *Session) Clear() decimal.Decimal {
	return s.input((*calculator.Calculator).Clear)
}

func (s *Session) Backspace() decimal.Decimal {
	return s.input((*calculator.Calculator).Backspace)
}

// Press forwards a key token to the calculator.
func (s *Session) Press(key string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calc.Press(key)
}
