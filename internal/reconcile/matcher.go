package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/odyssey-erp/odyssey-bankrec/internal/bank"
	"github.com/odyssey-erp/odyssey-bankrec/internal/ledger"
	"github.com/odyssey-erp/odyssey-bankrec/internal/rules"
)

const (
	availableBefore         = 60
	availableAfter          = 30
	availableLimit          = 20
	remittanceInDescription = 100
)

// Outcome describes how a stage linked a movement.
type Outcome struct {
	Stage       string
	EntryID     int64
	MatchedBy   bank.MatchedBy
	RuleID      *int64
	Score       int
	AutoCreated bool
}

// Stage is one step of the matching policy. Attempt reports true when it
// linked the movement, which stops the policy.
type Stage interface {
	Name() string
	Attempt(ctx context.Context, mt *Matcher, s Stores, m *bank.Movement) (Outcome, bool, error)
}

// DefaultPolicy settles rule auto-creation first, then open invoices, then
// manual and bank-created entries.
func DefaultPolicy() []Stage {
	return []Stage{RuleAutoCreate(), InvoiceMatch(), ManualMatch()}
}

// BatchStats summarises a reconciliation run.
type BatchStats struct {
	Matched     int `json:"matched"`
	Pending     int `json:"pending"`
	AutoCreated int `json:"auto_created"`
}

// Proposal is a ranked candidate for manual review.
type Proposal struct {
	Entry   ledger.Entry `json:"entry"`
	Score   int          `json:"score"`
	Reasons []string     `json:"reasons"`
}

// Available lists entries a user may link manually.
type Available struct {
	Invoices []ledger.Entry
	Others   []ledger.Entry
}

// Matcher runs the stage policy against pending movements.
type Matcher struct {
	cfg    Config
	policy []Stage
	logger *slog.Logger
}

// MatcherOption customises a Matcher.
type MatcherOption func(*Matcher)

// WithPolicy replaces the stage order.
func WithPolicy(stages ...Stage) MatcherOption {
	return func(mt *Matcher) {
		mt.policy = stages
	}
}

// NewMatcher constructs a Matcher with DefaultPolicy unless overridden.
func NewMatcher(cfg Config, logger *slog.Logger, opts ...MatcherOption) *Matcher {
	if logger == nil {
		logger = slog.Default()
	}
	mt := &Matcher{cfg: cfg.withDefaults(), policy: DefaultPolicy(), logger: logger}
	for _, opt := range opts {
		opt(mt)
	}
	return mt
}

// Config returns the effective thresholds.
func (mt *Matcher) Config() Config {
	return mt.cfg
}

// ReconcileBatch reconciles movements one at a time in the given order, so an
// entry claimed by an earlier movement is excluded for later ones.
func (mt *Matcher) ReconcileBatch(ctx context.Context, s Stores, movements []bank.Movement) (BatchStats, error) {
	var stats BatchStats
	for i := range movements {
		m := &movements[i]
		if m.Status != bank.StatusPending {
			continue
		}
		out, ok, err := mt.ReconcileMovement(ctx, s, m)
		if err != nil {
			return stats, err
		}
		if !ok {
			stats.Pending++
			continue
		}
		stats.Matched++
		if out.AutoCreated {
			stats.AutoCreated++
		}
	}
	return stats, nil
}

// ReconcileMovement runs the policy for one pending movement and updates m in place.
func (mt *Matcher) ReconcileMovement(ctx context.Context, s Stores, m *bank.Movement) (Outcome, bool, error) {
	if m.Status != bank.StatusPending {
		return Outcome{}, false, nil
	}
	for _, stage := range mt.policy {
		out, ok, err := stage.Attempt(ctx, mt, s, m)
		if err != nil {
			return Outcome{}, false, fmt.Errorf("reconcile: stage %s on movement %d: %w", stage.Name(), m.ID, err)
		}
		if ok {
			out.Stage = stage.Name()
			mt.log().Debug("movement reconciled",
				slog.Int64("movement_id", m.ID),
				slog.String("stage", out.Stage),
				slog.Int64("entry_id", out.EntryID),
				slog.Int("score", out.Score),
			)
			return out, true, nil
		}
	}
	return Outcome{}, false, nil
}

// Proposals ranks candidates across every pool for manual review.
func (mt *Matcher) Proposals(ctx context.Context, s Stores, m bank.Movement) ([]Proposal, error) {
	var all []Proposal
	for _, p := range []pool{invoicePool, otherPool} {
		ranked, err := mt.rank(ctx, s, m, p)
		if err != nil {
			return nil, err
		}
		all = append(all, ranked...)
	}
	out := all[:0]
	for _, p := range all {
		if p.Score > mt.cfg.ProposalMinScore {
			out = append(out, p)
		}
	}
	sortProposals(m, out)
	if len(out) > mt.cfg.ProposalLimit {
		out = out[:mt.cfg.ProposalLimit]
	}
	return out, nil
}

// AvailableEntries lists unlinked entries of matching polarity from 60 days
// before to 30 days after the movement, newest first.
func (mt *Matcher) AvailableEntries(ctx context.Context, s Stores, m bank.Movement) (Available, error) {
	base := ledger.CandidateQuery{
		Polarity:          PolarityOf(m.Direction),
		From:              m.OperationDate.AddDate(0, 0, -availableBefore),
		To:                m.OperationDate.AddDate(0, 0, availableAfter),
		ExcludeMovementID: m.ID,
		Limit:             availableLimit,
		NewestFirst:       true,
	}
	invoices := base
	invoices.Sources = []ledger.Source{ledger.SourceInvoice}
	invoices.Statuses = []ledger.PaymentStatus{ledger.Unpaid, ledger.PartiallyPaid}

	others := base
	others.Sources = []ledger.Source{ledger.SourceManual, ledger.SourceBank}
	others.ExcludeStatuses = []ledger.PaymentStatus{ledger.Paid}

	var out Available
	var err error
	if out.Invoices, err = s.Ledger.ListCandidates(ctx, invoices); err != nil {
		return Available{}, fmt.Errorf("reconcile: available invoices: %w", err)
	}
	if out.Others, err = s.Ledger.ListCandidates(ctx, others); err != nil {
		return Available{}, fmt.Errorf("reconcile: available entries: %w", err)
	}
	return out, nil
}

type pool struct {
	name     string
	sources  []ledger.Source
	statuses []ledger.PaymentStatus
}

var (
	invoicePool = pool{
		name:     "invoice",
		sources:  []ledger.Source{ledger.SourceInvoice},
		statuses: []ledger.PaymentStatus{ledger.Unpaid, ledger.PartiallyPaid},
	}
	otherPool = pool{
		name:    "manual",
		sources: []ledger.Source{ledger.SourceManual, ledger.SourceBank},
	}
)

func (mt *Matcher) rank(ctx context.Context, s Stores, m bank.Movement, p pool) ([]Proposal, error) {
	q := ledger.CandidateQuery{
		Polarity:          PolarityOf(m.Direction),
		From:              m.OperationDate.AddDate(0, 0, -mt.cfg.WindowDays),
		To:                m.OperationDate.AddDate(0, 0, mt.cfg.WindowDays),
		Sources:           p.sources,
		Statuses:          p.statuses,
		ExcludeMovementID: m.ID,
	}
	entries, err := s.Ledger.ListCandidates(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("reconcile: %s candidates: %w", p.name, err)
	}
	out := make([]Proposal, 0, len(entries))
	for _, e := range entries {
		sc := ScoreMatch(m, e)
		out = append(out, Proposal{Entry: e, Score: sc.Points, Reasons: sc.Reasons})
	}
	sortProposals(m, out)
	return out, nil
}

// sortProposals orders by score, then date distance, then entry id.
func sortProposals(m bank.Movement, ps []Proposal) {
	sort.SliceStable(ps, func(i, j int) bool {
		if ps[i].Score != ps[j].Score {
			return ps[i].Score > ps[j].Score
		}
		di, dj := DaysBetween(m.OperationDate, ps[i].Entry.Date), DaysBetween(m.OperationDate, ps[j].Entry.Date)
		if di != dj {
			return di < dj
		}
		return ps[i].Entry.ID < ps[j].Entry.ID
	})
}

// link reconciles m against entry and persists it. A lost claim on the entry
// leaves m pending and reports false.
func (mt *Matcher) link(ctx context.Context, s Stores, m *bank.Movement, entry ledger.Entry, by bank.MatchedBy, ruleID *int64) (bool, error) {
	prev := *m
	if err := m.Reconcile(entry.ID, by, ruleID); err != nil {
		return false, err
	}
	if err := s.Movements.SaveState(ctx, *m); err != nil {
		*m = prev
		if errors.Is(err, bank.ErrEntryClaimed) {
			mt.log().Warn("entry claimed concurrently",
				slog.Int64("movement_id", m.ID),
				slog.Int64("entry_id", entry.ID),
			)
			return false, nil
		}
		return false, err
	}
	if entry.Source == ledger.SourceInvoice && entry.PaymentStatus.Open() {
		if err := s.Ledger.MarkPaid(ctx, entry.ID, m.OperationDate); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (mt *Matcher) log() *slog.Logger {
	return mt.logger.With(slog.String("component", "reconcile"))
}

type ruleStage struct{}

// RuleAutoCreate synthesises a ledger entry when the winning rule asks for it.
func RuleAutoCreate() Stage { return ruleStage{} }

func (ruleStage) Name() string { return "rule" }

func (ruleStage) Attempt(ctx context.Context, mt *Matcher, s Stores, m *bank.Movement) (Outcome, bool, error) {
	out, ok, err := rules.NewEngine(s.Rules, mt.logger).Evaluate(ctx, rules.ScopeBank, RuleData(*m))
	if err != nil || !ok || !out.AutoCreate {
		return Outcome{}, false, err
	}
	entry, err := s.Ledger.Create(ctx, EntryFromRule(*m, out))
	if err != nil {
		return Outcome{}, false, fmt.Errorf("create entry from rule %d: %w", out.RuleID, err)
	}
	ruleID := out.RuleID
	linked, err := mt.link(ctx, s, m, entry, bank.MatchedByRule, &ruleID)
	if err != nil || !linked {
		return Outcome{}, false, err
	}
	return Outcome{EntryID: entry.ID, MatchedBy: bank.MatchedByRule, RuleID: &ruleID, AutoCreated: true}, true, nil
}

type poolStage struct {
	name string
	pool pool
}

// InvoiceMatch links against open structured-invoice entries.
func InvoiceMatch() Stage { return poolStage{name: "invoice", pool: invoicePool} }

// ManualMatch links against manual and bank-created entries.
func ManualMatch() Stage { return poolStage{name: "manual", pool: otherPool} }

func (p poolStage) Name() string { return p.name }

func (p poolStage) Attempt(ctx context.Context, mt *Matcher, s Stores, m *bank.Movement) (Outcome, bool, error) {
	ranked, err := mt.rank(ctx, s, *m, p.pool)
	if err != nil {
		return Outcome{}, false, err
	}
	for _, best := range ranked {
		if best.Score < mt.cfg.AutoThreshold {
			break
		}
		linked, err := mt.link(ctx, s, m, best.Entry, bank.MatchedByAuto, nil)
		if err != nil {
			return Outcome{}, false, err
		}
		if linked {
			return Outcome{EntryID: best.Entry.ID, MatchedBy: bank.MatchedByAuto, Score: best.Score}, true, nil
		}
	}
	return Outcome{}, false, nil
}

// PolarityOf maps credits to income and debits to expenses.
func PolarityOf(d bank.Direction) ledger.Polarity {
	if d == bank.Credit {
		return ledger.Income
	}
	return ledger.Expense
}

// RuleData is the rule-engine view of a movement. Description predicates see
// the reason code description, not the free text of the record.
func RuleData(m bank.Movement) rules.TransactionData {
	return rules.TransactionData{
		Description: m.ReasonDescription,
		Remittance:  m.RemittanceInfo,
		Counterpart: m.CounterpartName,
		ReasonCode:  m.ReasonCode,
		Amount:      m.Amount,
		Direction:   string(m.Direction),
	}
}

// DefaultDescription builds a readable entry description from a movement.
func DefaultDescription(m bank.Movement) string {
	var parts []string
	if m.CounterpartName != "" {
		parts = append(parts, m.CounterpartName)
	}
	if m.ReasonDescription != "" {
		parts = append(parts, m.ReasonDescription)
	}
	if m.RemittanceInfo != "" {
		r := []rune(m.RemittanceInfo)
		if len(r) > remittanceInDescription {
			r = r[:remittanceInDescription]
		}
		parts = append(parts, string(r))
	}
	if len(parts) == 0 {
		return "Bank movement " + m.OperationDate.Format("2006-01-02")
	}
	return strings.Join(parts, " - ")
}

// EntryFromRule builds the paid bank-sourced entry a rule auto-creates.
func EntryFromRule(m bank.Movement, out rules.Outcome) ledger.NewEntry {
	paidOn := m.OperationDate
	entry := ledger.NewEntry{
		Polarity:          PolarityOf(m.Direction),
		Source:            ledger.SourceBank,
		Amount:            m.Amount,
		Date:              out.DateAdjustment.Apply(m.OperationDate),
		Description:       out.Description,
		ContactID:         out.ContactID,
		CategoryID:        out.CategoryID,
		RevenueCategoryID: out.RevenueCategoryID,
		PaymentMethod:     out.PaymentMethod,
		PaymentStatus:     ledger.Paid,
		PaymentDate:       &paidOn,
		TaxRate:           out.TaxRate,
		Notes:             out.Notes,
	}
	if entry.Description == "" {
		entry.Description = DefaultDescription(m)
	}
	if entry.PaymentMethod == "" {
		entry.PaymentMethod = ledger.PaymentMethodTransfer
	}
	return entry
}
