package rules

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Scope restricts which transaction source a rule applies to.
type Scope string

const (
	ScopeAll     Scope = "all"
	ScopeBank    Scope = "bank"
	ScopeInvoice Scope = "invoice"
	ScopeCash    Scope = "cash"
)

// Valid reports whether s is a known scope.
func (s Scope) Valid() bool {
	switch s {
	case ScopeAll, ScopeBank, ScopeInvoice, ScopeCash:
		return true
	}
	return false
}

var (
	// ErrNotFound indicates the rule does not exist.
	ErrNotFound = errors.New("rules: rule not found")
	// ErrInvalidRule wraps validation failures on rule definitions.
	ErrInvalidRule = errors.New("rules: invalid rule")
)

// Rule is a prioritised conditional classification. Empty predicates are not
// evaluated; every set predicate must hold for the rule to match.
type Rule struct {
	ID       int64
	Name     string
	Priority int
	Scope    Scope
	Active   bool

	MatchDescription string
	MatchCounterpart string
	MatchTaxID       string
	MatchReasonCode  string
	MatchAmountMin   *decimal.Decimal
	MatchAmountMax   *decimal.Decimal
	MatchDirection   string

	Actions   Actions
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Actions is the payload applied when a rule matches.
type Actions struct {
	CategoryID        *int64
	ContactID         *int64
	RevenueCategoryID *int64
	Description       string
	Notes             string
	PaymentMethod     string
	TaxRate           *decimal.Decimal
	AutoCreate        bool
	DateAdjustment    *DateAdjustment
}

// Outcome is the result of a successful evaluation: the winning rule and its actions.
type Outcome struct {
	RuleID   int64
	RuleName string
	Actions
}

// TransactionData is the normalised view of a transaction that rules match against.
type TransactionData struct {
	Description string
	Remittance  string
	Counterpart string
	TaxID       string
	ReasonCode  string
	Amount      decimal.Decimal
	Direction   string
}

// AdjustKind selects how an entry date is shifted.
type AdjustKind string

const (
	AdjustOffsetDays       AdjustKind = "offset_days"
	AdjustPrevMonthLastDay AdjustKind = "prev_month_last_day"
)

// DateAdjustment shifts the date of entries created by a rule.
type DateAdjustment struct {
	Kind AdjustKind
	Days int
}

// Apply returns the adjusted date. A nil adjustment leaves the date unchanged.
func (a *DateAdjustment) Apply(date time.Time) time.Time {
	if a == nil {
		return date
	}
	switch a.Kind {
	case AdjustOffsetDays:
		return date.AddDate(0, 0, a.Days)
	case AdjustPrevMonthLastDay:
		firstOfMonth := time.Date(date.Year(), date.Month(), 1, 0, 0, 0, 0, date.Location())
		return firstOfMonth.AddDate(0, 0, -1)
	default:
		return date
	}
}

// Matches reports whether every predicate set on rule holds for data.
func Matches(rule Rule, data TransactionData) bool {
	if rule.MatchDescription != "" {
		target := strings.ToUpper(rule.MatchDescription)
		if !strings.Contains(strings.ToUpper(data.Description), target) &&
			!strings.Contains(strings.ToUpper(data.Remittance), target) {
			return false
		}
	}
	if rule.MatchCounterpart != "" &&
		!strings.Contains(strings.ToUpper(data.Counterpart), strings.ToUpper(rule.MatchCounterpart)) {
		return false
	}
	if rule.MatchTaxID != "" && data.TaxID != rule.MatchTaxID {
		return false
	}
	if rule.MatchReasonCode != "" && data.ReasonCode != rule.MatchReasonCode {
		return false
	}
	if rule.MatchAmountMin != nil && data.Amount.LessThan(*rule.MatchAmountMin) {
		return false
	}
	if rule.MatchAmountMax != nil && data.Amount.GreaterThan(*rule.MatchAmountMax) {
		return false
	}
	if rule.MatchDirection != "" && !strings.EqualFold(data.Direction, rule.MatchDirection) {
		return false
	}
	return true
}
