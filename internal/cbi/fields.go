package cbi

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const dateLayout = "020106"

// record is a statement line addressed by character position.
type record []rune

func (r record) field(from, to int) string {
	if from >= len(r) {
		return ""
	}
	if to > len(r) || to < 0 {
		to = len(r)
	}
	return string(r[from:to])
}

func (r record) from(pos int) string {
	return r.field(pos, -1)
}

func (r record) kind() string {
	return r.field(0, 2)
}

// ParseAmount reads an Italian fixed-point amount ("000000004377,96",
// "1.234,50") and returns its unsigned magnitude.
func ParseAmount(text string) (decimal.Decimal, error) {
	cleaned := strings.TrimSpace(text)
	if cleaned == "" {
		return decimal.Zero, nil
	}
	cleaned = strings.ReplaceAll(cleaned, ".", "")
	cleaned = strings.ReplaceAll(cleaned, ",", ".")
	amount, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, text)
	}
	return amount.Abs().Round(2), nil
}

// ParseDate reads a DDMMYY date from the first six characters of text.
// Anything that is not six digits forming a calendar date yields false.
func ParseDate(text string) (time.Time, bool) {
	r := []rune(text)
	if len(r) < 6 {
		return time.Time{}, false
	}
	s := strings.TrimSpace(string(r[:6]))
	if len(s) != 6 {
		return time.Time{}, false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return time.Time{}, false
		}
	}
	d, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, false
	}
	return d, true
}

var (
	ErrShortRecord      = errors.New("cbi: record too short")
	ErrInvalidDate      = errors.New("cbi: no usable date")
	ErrInvalidDirection = errors.New("cbi: invalid direction flag")
	ErrInvalidAmount    = errors.New("cbi: invalid amount")
	ErrZeroAmount       = errors.New("cbi: zero amount")
	ErrMissingAnchor    = errors.New("cbi: currency marker not found")
)

// RecordError describes a record that was skipped.
type RecordError struct {
	Line int
	Kind string
	Err  error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("cbi: line %d (%s): %v", e.Line, e.Kind, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }
