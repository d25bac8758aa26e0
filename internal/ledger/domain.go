package ledger

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Polarity is the income/expense side of an entry.
type Polarity string

const (
	Income  Polarity = "income"
	Expense Polarity = "expense"
)

// Source tags where an entry originated.
type Source string

const (
	// SourceInvoice marks entries created from structured e-invoices.
	SourceInvoice Source = "invoice"
	SourceManual  Source = "manual"
	SourceBank    Source = "bank"
	SourceCash    Source = "cash"
)

// PaymentStatus tracks settlement of an entry.
type PaymentStatus string

const (
	Unpaid        PaymentStatus = "unpaid"
	PartiallyPaid PaymentStatus = "partial"
	Paid          PaymentStatus = "paid"
	Overdue       PaymentStatus = "overdue"
)

// Open reports whether the status still awaits settlement.
func (s PaymentStatus) Open() bool {
	return s == Unpaid || s == PartiallyPaid
}

// PaymentMethodTransfer is the method recorded on entries synthesized from bank movements.
const PaymentMethodTransfer = "transfer"

// ErrNotFound indicates the entry does not exist.
var ErrNotFound = errors.New("ledger: entry not found")

// Entry is an income/expense record owned by the accounting subsystem.
type Entry struct {
	ID                int64
	Polarity          Polarity
	Source            Source
	Amount            decimal.Decimal
	Date              time.Time
	Description       string
	ContactID         *int64
	ContactName       string
	CategoryID        *int64
	RevenueCategoryID *int64
	PaymentMethod     string
	PaymentStatus     PaymentStatus
	PaymentDate       *time.Time
	TaxRate           *decimal.Decimal
	Notes             string
	CreatedAt         time.Time
}

// NewEntry carries the fields needed to create an entry.
type NewEntry struct {
	Polarity          Polarity
	Source            Source
	Amount            decimal.Decimal
	Date              time.Time
	Description       string
	ContactID         *int64
	CategoryID        *int64
	RevenueCategoryID *int64
	PaymentMethod     string
	PaymentStatus     PaymentStatus
	PaymentDate       *time.Time
	TaxRate           *decimal.Decimal
	Notes             string
}

// CandidateQuery selects entries not linked to any movement other than
// ExcludeMovementID. Empty Sources or Statuses means no restriction.
type CandidateQuery struct {
	Polarity          Polarity
	From              time.Time
	To                time.Time
	Sources           []Source
	Statuses          []PaymentStatus
	ExcludeStatuses   []PaymentStatus
	ExcludeMovementID int64
	Limit             int
	NewestFirst       bool
}

// Contains reports whether the entry satisfies the query filters, excluding the
// link check which needs movement data.
func (q CandidateQuery) Contains(e Entry) bool {
	if q.Polarity != "" && e.Polarity != q.Polarity {
		return false
	}
	if !q.From.IsZero() && e.Date.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && e.Date.After(q.To) {
		return false
	}
	if len(q.Sources) > 0 && !containsSource(q.Sources, e.Source) {
		return false
	}
	if len(q.Statuses) > 0 && !containsStatus(q.Statuses, e.PaymentStatus) {
		return false
	}
	if len(q.ExcludeStatuses) > 0 && containsStatus(q.ExcludeStatuses, e.PaymentStatus) {
		return false
	}
	return true
}

func containsSource(list []Source, s Source) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsStatus(list []PaymentStatus, s PaymentStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
