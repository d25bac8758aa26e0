package bank

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Direction is the C/D flag of a statement line.
type Direction string

const (
	Credit Direction = "C"
	Debit  Direction = "D"
)

// Valid reports whether d is a recognised direction flag.
func (d Direction) Valid() bool {
	return d == Credit || d == Debit
}

// Status enumerates the reconciliation lifecycle of a movement.
type Status string

const (
	StatusPending    Status = "pending"
	StatusReconciled Status = "reconciled"
	StatusIgnored    Status = "ignored"
)

// MatchedBy records which path produced a movement's ledger link.
type MatchedBy string

const (
	MatchedByRule   MatchedBy = "rule"
	MatchedByAuto   MatchedBy = "auto"
	MatchedByManual MatchedBy = "manual"
)

// BalanceType distinguishes opening and closing day balances.
type BalanceType string

const (
	BalanceOpening BalanceType = "opening"
	BalanceClosing BalanceType = "closing"
)

// BalanceSourceStatement tags balances that came from a statement import.
const BalanceSourceStatement = "statement-import"

var (
	// ErrNotFound indicates the movement, balance or ignore reason does not exist.
	ErrNotFound = errors.New("bank: not found")
	// ErrInvalidTransition is returned when a status change is not allowed.
	ErrInvalidTransition = errors.New("bank: invalid status transition")
	// ErrEntryClaimed is returned when a ledger entry is already linked to another movement.
	ErrEntryClaimed = errors.New("bank: ledger entry already matched to another movement")
)

// Movement is one bank statement transaction line. Amount is always the
// unsigned magnitude; the sign lives in Direction.
type Movement struct {
	ID                 int64
	OperationDate      time.Time
	ValueDate          *time.Time
	Amount             decimal.Decimal
	Direction          Direction
	ReasonCode         string
	ReasonDescription  string
	CounterpartName    string
	CounterpartAddress string
	OriginatorRouting  string
	RemittanceInfo     string
	ReferenceCode      string
	Description        string
	RawRecord          string
	DedupHash          string
	NeedsReview        bool
	Status             Status
	MatchedEntryID     *int64
	MatchedBy          MatchedBy
	MatchedRuleID      *int64
	IgnoreReasonID     *int64
	BatchID            string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// SignedAmount returns the amount with debits negated.
func (m Movement) SignedAmount() decimal.Decimal {
	if m.Direction == Debit {
		return m.Amount.Neg()
	}
	return m.Amount
}

// BalanceSnapshot is a bank-reported balance at a date. Unlike movements the
// amount keeps its sign.
type BalanceSnapshot struct {
	ID        int64
	Date      time.Time
	Amount    decimal.Decimal
	Type      BalanceType
	Source    string
	CreatedAt time.Time
}

// IgnoreReason is a reusable label attached to ignored movements.
type IgnoreReason struct {
	ID        int64
	Name      string
	Active    bool
	CreatedAt time.Time
}

// ListFilter narrows movement queries. Zero values are ignored.
type ListFilter struct {
	IDs      []int64
	Statuses []Status
	BatchID  string
	From     time.Time
	To       time.Time
	Limit    int
}
