package reconcile

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-bankrec/internal/bank"
	"github.com/odyssey-erp/odyssey-bankrec/internal/ledger"
)

// Points per scoring dimension; the maximum total is 100.
const (
	pointsAmountExact    = 50
	pointsAmountClose    = 20
	pointsNameStrong     = 30
	pointsNamePartial    = 15
	pointsDateClose      = 20
	pointsDateNear       = 10
	nameStrongThreshold  = 0.7
	namePartialThreshold = 0.4
	dateCloseDays        = 7
	dateNearDays         = 15
)

var (
	amountExactTolerance = decimal.RequireFromString("0.02")
	amountCloseTolerance = decimal.RequireFromString("0.10")
	hundred              = decimal.NewFromInt(100)
)

// Score is an explainable match score between a movement and a ledger entry.
type Score struct {
	Points  int      `json:"points"`
	Reasons []string `json:"reasons"`
}

// ScoreMatch rates how well entry explains movement. Amounts are compared
// relative to the entry amount; names only when both sides carry one.
func ScoreMatch(m bank.Movement, e ledger.Entry) Score {
	var s Score

	if e.Amount.IsPositive() {
		diff := m.Amount.Sub(e.Amount).Abs().Div(e.Amount)
		switch {
		case diff.LessThanOrEqual(amountExactTolerance):
			s.Points += pointsAmountExact
			if diff.IsZero() {
				s.add("Identical amount")
			} else {
				s.add(fmt.Sprintf("Similar amount (%s%%)", diff.Mul(hundred).StringFixed(1)))
			}
		case diff.LessThanOrEqual(amountCloseTolerance):
			s.Points += pointsAmountClose
			s.add(fmt.Sprintf("Close amount (%s%%)", diff.Mul(hundred).StringFixed(1)))
		}
	}

	if m.CounterpartName != "" && e.ContactName != "" {
		sim := NameSimilarity(m.CounterpartName, e.ContactName)
		switch {
		case sim > nameStrongThreshold:
			s.Points += pointsNameStrong
			s.add(fmt.Sprintf("Similar counterpart (%.0f%%)", sim*100))
		case sim > namePartialThreshold:
			s.Points += pointsNamePartial
			s.add(fmt.Sprintf("Partial counterpart match (%.0f%%)", sim*100))
		}
	}

	if !e.Date.IsZero() {
		days := DaysBetween(m.OperationDate, e.Date)
		switch {
		case days <= dateCloseDays:
			s.Points += pointsDateClose
			s.add(fmt.Sprintf("Close date (%dd)", days))
		case days <= dateNearDays:
			s.Points += pointsDateNear
			s.add(fmt.Sprintf("Compatible date (%dd)", days))
		}
	}
	return s
}

func (s *Score) add(reason string) {
	s.Reasons = append(s.Reasons, reason)
}

// DaysBetween returns the absolute number of calendar days between a and b.
func DaysBetween(a, b time.Time) int {
	d := civil(a).Sub(civil(b)).Hours() / 24
	if d < 0 {
		d = -d
	}
	return int(d + 0.5)
}

func civil(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
