// Package calculator implements the four-function input calculator
// that drives the active currency amount.
package calculator

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	MaxIntegerDigits  = 12 // digits allowed before the decimal point
	MaxFractionDigits = 8  // digits allowed after the decimal point
)

// ErrUnknownKey is returned by Press for tokens that map to no action
var ErrUnknownKey = errors.New("unknown calculator key")

// Operator is a pending binary operation
type Operator int

const (
	None Operator = iota
	Add
	Sub
	Mul
	Div
)

func (o Operator) String() string {
	switch o {
	case Add:
		return "+"
	case Sub:
		return "-"
	case Mul:
		return "*"
	case Div:
		return "/"
	}
	return ""
}

// Observer receives the current value after every mutating action
type Observer func(decimal.Decimal)

// Calculator turns a stream of key actions into a running decimal value.
// It is not safe for concurrent use; callers serialize access.
type Calculator struct {
	buffer          string          // numeric literal under construction
	operator        Operator        // pending operator
	first           decimal.Decimal // first operand of the pending operator
	awaitingOperand bool            // next digit starts a fresh literal
	observer        Observer        // sink for emitted values
}

// New returns a cleared calculator. observer may be nil.
func New(observer Observer) *Calculator {
	return &Calculator{observer: observer}
}

// Digit appends d to the buffer, subject to the length limits.
func (c *Calculator) Digit(d int) decimal.Decimal {
	if d < 0 || d > 9 {
		return c.emit()
	}

	if c.awaitingOperand {
		c.buffer = ""
		c.awaitingOperand = false
	}

	digit := string(rune('0' + d))

	switch c.buffer {
	case "0":
		c.buffer = digit
		return c.emit()
	case "-0":
		c.buffer = "-" + digit
		return c.emit()
	}

	if i := strings.IndexByte(c.buffer, '.'); i >= 0 {
		if len(c.buffer)-i-1 >= MaxFractionDigits {
			return c.emit()
		}
	} else if len(strings.TrimPrefix(c.buffer, "-")) >= MaxIntegerDigits {
		return c.emit()
	}

	c.buffer += digit
	return c.emit()
}

// Dot starts the fractional part of the literal.
func (c *Calculator) Dot() decimal.Decimal {
	if c.awaitingOperand {
		c.buffer = "0"
		c.awaitingOperand = false
	}

	if !strings.Contains(c.buffer, ".") {
		if c.buffer == "" {
			c.buffer = "0"
		}
		c.buffer += "."
	}

	return c.emit()
}

// Operator stores op with the buffer as its first operand. On an empty
// buffer Sub starts a negative literal instead.
func (c *Calculator) Operator(op Operator) decimal.Decimal {
	if c.buffer == "" {
		if op == Sub {
			c.buffer = "-"
		}
		return c.emit()
	}

	c.first = parse(c.buffer)
	c.operator = op
	c.awaitingOperand = true

	return c.emit()
}

// Percent divides the buffer by 100.
func (c *Calculator) Percent() decimal.Decimal {
	if c.buffer != "" {
		c.buffer = Format(parse(c.buffer).Div(decimal.NewFromInt(100)))
	}
	return c.emit()
}

// Equals applies the pending operator. Division by zero yields 0.
func (c *Calculator) Equals() decimal.Decimal {
	if c.buffer == "" || c.operator == None {
		return c.emit()
	}

	second := parse(c.buffer)

	var result decimal.Decimal
	switch c.operator {
	case Add:
		result = c.first.Add(second)
	case Sub:
		result = c.first.Sub(second)
	case Mul:
		result = c.first.Mul(second)
	case Div:
		if second.IsZero() {
			result = decimal.Zero
		} else {
			result = c.first.Div(second)
		}
	}

	c.buffer = Format(result)
	c.operator = None

	return c.emit()
}

// Clear resets the calculator.
func (c *Calculator) Clear() decimal.Decimal {
	c.buffer = ""
	c.operator = None
	c.first = decimal.Zero
	c.awaitingOperand = false

	return c.emit()
}

// Backspace removes the last character of the buffer.
func (c *Calculator) Backspace() decimal.Decimal {
	if c.buffer != "" {
		c.buffer = c.buffer[:len(c.buffer)-1]
	}
	return c.emit()
}

// Load replaces the buffer with value and drops any pending operator.
// The next digit starts a new literal.
func (c *Calculator) Load(value decimal.Decimal) decimal.Decimal {
	c.buffer = Format(value)
	c.operator = None
	c.first = decimal.Zero
	c.awaitingOperand = true

	return c.emit()
}

// Press dispatches a key token:
// 0-9 . + - * x / % = C <
func (c *Calculator) Press(key string) (decimal.Decimal, error) {
	action, ok := keyAction(key)
	if !ok {
		return c.Value(), ErrUnknownKey
	}
	return action(c), nil
}

// ValidKey reports whether Press accepts key.
func ValidKey(key string) bool {
	_, ok := keyAction(key)
	return ok
}

func keyAction(key string) (func(*Calculator) decimal.Decimal, bool) {
	if len(key) == 1 && key[0] >= '0' && key[0] <= '9' {
		d := int(key[0] - '0')
		return func(c *Calculator) decimal.Decimal { return c.Digit(d) }, true
	}

	switch strings.ToUpper(key) {
	case ".", ",":
		return (*Calculator).Dot, true
	case "+":
		return operator(Add), true
	case "-":
		return operator(Sub), true
	case "*", "X":
		return operator(Mul), true
	case "/":
		return operator(Div), true
	case "%":
		return (*Calculator).Percent, true
	case "=":
		return (*Calculator).Equals, true
	case "C", "AC":
		return (*Calculator).Clear, true
	case "<", "DEL", "BACKSPACE":
		return (*Calculator).Backspace, true
	}

	return nil, false
}

func operator(op Operator) func(*Calculator) decimal.Decimal {
	return func(c *Calculator) decimal.Decimal { return c.Operator(op) }
}

// Value returns the parsed buffer, 0 when empty or unparsable.
func (c *Calculator) Value() decimal.Decimal {
	return parse(c.buffer)
}

// Display returns the raw buffer text.
func (c *Calculator) Display() string {
	return c.buffer
}

// Pending returns the pending operator.
func (c *Calculator) Pending() Operator {
	return c.operator
}

func (c *Calculator) emit() decimal.Decimal {
	v := c.Value()
	if c.observer != nil {
		c.observer(v)
	}
	return v
}

// Format renders v without a fractional part when integral, otherwise
// truncated to MaxFractionDigits with trailing zeros stripped.
func Format(v decimal.Decimal) string {
	if v.IsInteger() {
		return v.Truncate(0).String()
	}
	return v.Truncate(MaxFractionDigits).String()
}

func parse(buffer string) decimal.Decimal {
	s := strings.TrimSuffix(buffer, ".")
	if s == "" || s == "-" {
		return decimal.Zero
	}

	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return v
}
