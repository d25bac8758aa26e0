package reconcile_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-bankrec/internal/bank"
	"github.com/odyssey-erp/odyssey-bankrec/internal/ledger"
	"github.com/odyssey-erp/odyssey-bankrec/internal/reconcile"
	"github.com/odyssey-erp/odyssey-bankrec/internal/rules"
	"github.com/odyssey-erp/odyssey-bankrec/internal/testing/memstore"
)

func day(d int) time.Time {
	return time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, d)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fixture struct {
	t     *testing.T
	store *memstore.Store
	seq   int
}

func newFixture(t *testing.T) *fixture {
	return &fixture{t: t, store: memstore.New()}
}

func (f *fixture) movement(amount string, on time.Time, dir bank.Direction, counterpart string) bank.Movement {
	f.t.Helper()
	f.seq++
	m := bank.Movement{
		OperationDate:   on,
		Amount:          dec(amount),
		Direction:       dir,
		CounterpartName: counterpart,
		DedupHash:       fmt.Sprintf("hash-%04d", f.seq),
	}
	ok, err := f.store.Stores().Movements.Insert(context.Background(), &m)
	require.NoError(f.t, err)
	require.True(f.t, ok)
	return m
}

func (f *fixture) entry(in ledger.NewEntry) ledger.Entry {
	f.t.Helper()
	e, err := f.store.Stores().Ledger.Create(context.Background(), in)
	require.NoError(f.t, err)
	return e
}

func (f *fixture) invoice(amount string, on time.Time, contactID *int64) ledger.Entry {
	return f.entry(ledger.NewEntry{
		Polarity:      ledger.Income,
		Source:        ledger.SourceInvoice,
		Amount:        dec(amount),
		Date:          on,
		ContactID:     contactID,
		PaymentStatus: ledger.Unpaid,
	})
}

func (f *fixture) rule(r rules.Rule) rules.Rule {
	f.t.Helper()
	created, err := f.store.Stores().Rules.Create(context.Background(), r)
	require.NoError(f.t, err)
	return created
}

func (f *fixture) reconcileAll(mt *reconcile.Matcher, movements ...bank.Movement) reconcile.BatchStats {
	f.t.Helper()
	var stats reconcile.BatchStats
	err := f.store.WithTx(context.Background(), func(ctx context.Context, s reconcile.Stores) error {
		var err error
		stats, err = mt.ReconcileBatch(ctx, s, movements)
		return err
	})
	require.NoError(f.t, err)
	return stats
}

func (f *fixture) proposals(mt *reconcile.Matcher, m bank.Movement) []reconcile.Proposal {
	f.t.Helper()
	out, err := mt.Proposals(context.Background(), f.store.Stores(), m)
	require.NoError(f.t, err)
	return out
}

func int64Ptr(v int64) *int64 { return &v }

func TestAmountOnlyMatchIsProposedNotLinked(t *testing.T) {
	f := newFixture(t)
	mt := reconcile.NewMatcher(reconcile.DefaultConfig(), nil)
	inv := f.invoice("1000.00", day(0), nil)
	m := f.movement("1000.00", day(20), bank.Credit, "")

	stats := f.reconcileAll(mt, m)
	assert.Equal(t, reconcile.BatchStats{Pending: 1}, stats)

	stored, _ := f.store.Movement(m.ID)
	assert.Equal(t, bank.StatusPending, stored.Status)

	props := f.proposals(mt, stored)
	require.Len(t, props, 1)
	assert.Equal(t, inv.ID, props[0].Entry.ID)
	assert.Equal(t, 50, props[0].Score)
	assert.Equal(t, []string{"Identical amount"}, props[0].Reasons)
}

func TestAmountAndCounterpartAutoLinksAndPaysInvoice(t *testing.T) {
	f := newFixture(t)
	mt := reconcile.NewMatcher(reconcile.DefaultConfig(), nil)
	f.store.AddContact(7, "Acme Srl")
	inv := f.invoice("1000.00", day(0), int64Ptr(7))
	m := f.movement("1000.00", day(20), bank.Credit, "ACME SRL")

	stats := f.reconcileAll(mt, m)
	assert.Equal(t, reconcile.BatchStats{Matched: 1}, stats)

	stored, _ := f.store.Movement(m.ID)
	assert.Equal(t, bank.StatusReconciled, stored.Status)
	assert.Equal(t, bank.MatchedByAuto, stored.MatchedBy)
	require.NotNil(t, stored.MatchedEntryID)
	assert.Equal(t, inv.ID, *stored.MatchedEntryID)

	paid, _ := f.store.Entry(inv.ID)
	assert.Equal(t, ledger.Paid, paid.PaymentStatus)
	require.NotNil(t, paid.PaymentDate)
	assert.True(t, paid.PaymentDate.Equal(day(20)))
}

func TestRuleAutoCreatesSingleEntry(t *testing.T) {
	f := newFixture(t)
	mt := reconcile.NewMatcher(reconcile.DefaultConfig(), nil)
	lo, hi := dec("100"), dec("200")
	rule := f.rule(rules.Rule{
		Name:           "Small supplies",
		Priority:       10,
		Scope:          rules.ScopeBank,
		Active:         true,
		MatchAmountMin: &lo,
		MatchAmountMax: &hi,
		Actions: rules.Actions{
			CategoryID:     int64Ptr(3),
			AutoCreate:     true,
			DateAdjustment: &rules.DateAdjustment{Kind: rules.AdjustPrevMonthLastDay},
		},
	})
	f.rule(rules.Rule{Name: "Inactive catch-all", Priority: 99, Scope: rules.ScopeAll, Active: false,
		Actions: rules.Actions{AutoCreate: true}})
	m := f.movement("150.00", day(4), bank.Debit, "CARTOLERIA")

	stats := f.reconcileAll(mt, m)
	assert.Equal(t, reconcile.BatchStats{Matched: 1, AutoCreated: 1}, stats)

	entries := f.store.Entries()
	require.Len(t, entries, 1)
	created := entries[0]
	assert.Equal(t, ledger.Expense, created.Polarity)
	assert.Equal(t, ledger.SourceBank, created.Source)
	assert.Equal(t, ledger.Paid, created.PaymentStatus)
	assert.Equal(t, ledger.PaymentMethodTransfer, created.PaymentMethod)
	assert.True(t, created.Amount.Equal(dec("150")))
	assert.True(t, created.Date.Equal(time.Date(2024, time.February, 29, 0, 0, 0, 0, time.UTC)))
	require.NotNil(t, created.PaymentDate)
	assert.True(t, created.PaymentDate.Equal(day(4)))
	assert.Equal(t, "CARTOLERIA", created.Description)

	stored, _ := f.store.Movement(m.ID)
	assert.Equal(t, bank.MatchedByRule, stored.MatchedBy)
	require.NotNil(t, stored.MatchedRuleID)
	assert.Equal(t, rule.ID, *stored.MatchedRuleID)

	// a second pass sees no pending movement and creates nothing
	f.reconcileAll(mt, stored)
	assert.Len(t, f.store.Entries(), 1)
}

func TestRuleWithoutAutoCreateFallsThrough(t *testing.T) {
	f := newFixture(t)
	mt := reconcile.NewMatcher(reconcile.DefaultConfig(), nil)
	f.rule(rules.Rule{Name: "Tag only", Priority: 5, Scope: rules.ScopeBank, Active: true,
		Actions: rules.Actions{CategoryID: int64Ptr(1)}})
	inv := f.invoice("500.00", day(0), nil)
	m := f.movement("500.00", day(1), bank.Credit, "")

	// 50 amount + 20 date stays below the threshold
	stats := f.reconcileAll(mt, m)
	assert.Equal(t, 1, stats.Pending)
	assert.Len(t, f.store.Entries(), 1)
	assert.Equal(t, inv.ID, f.proposals(mt, m)[0].Entry.ID)
}

func TestRuleDescriptionSeesReasonDescriptionOnly(t *testing.T) {
	m := bank.Movement{
		Amount:            dec("12.50"),
		Direction:         bank.Debit,
		ReasonCode:        "26",
		ReasonDescription: "Disposizione di pagamento",
		Description:       "COMMISSIONI BANCARIE MARZO",
	}
	data := reconcile.RuleData(m)

	assert.Equal(t, "Disposizione di pagamento", data.Description)
	assert.True(t, rules.Matches(rules.Rule{MatchDescription: "disposizione"}, data))
	assert.False(t, rules.Matches(rules.Rule{MatchDescription: "COMMISSIONI"}, data))
}

func TestEntryNeverClaimedTwice(t *testing.T) {
	f := newFixture(t)
	cfg := reconcile.DefaultConfig()
	cfg.AutoThreshold = 60
	mt := reconcile.NewMatcher(cfg, nil)
	inv := f.entry(ledger.NewEntry{Polarity: ledger.Income, Source: ledger.SourceManual,
		Amount: dec("250.00"), Date: day(0), PaymentStatus: ledger.Unpaid})
	first := f.movement("250.00", day(1), bank.Credit, "")
	second := f.movement("250.00", day(2), bank.Credit, "")

	stats := f.reconcileAll(mt, first, second)
	assert.Equal(t, reconcile.BatchStats{Matched: 1, Pending: 1}, stats)

	a, _ := f.store.Movement(first.ID)
	b, _ := f.store.Movement(second.ID)
	assert.Equal(t, bank.StatusReconciled, a.Status)
	assert.Equal(t, inv.ID, *a.MatchedEntryID)
	assert.Equal(t, bank.StatusPending, b.Status)
	assert.Empty(t, f.proposals(mt, b))

	// the claimant itself still sees its own entry
	own := f.proposals(mt, a)
	require.Len(t, own, 1)
	assert.Equal(t, inv.ID, own[0].Entry.ID)
}

func TestPolarityMustAgree(t *testing.T) {
	f := newFixture(t)
	mt := reconcile.NewMatcher(reconcile.DefaultConfig(), nil)
	f.invoice("90.00", day(0), nil)
	m := f.movement("90.00", day(0), bank.Debit, "")
	assert.Empty(t, f.proposals(mt, m))
}

func TestProposalOrderingAndLimit(t *testing.T) {
	f := newFixture(t)
	mt := reconcile.NewMatcher(reconcile.DefaultConfig(), nil)
	m := f.movement("100.00", day(10), bank.Credit, "")

	far := f.invoice("100.00", day(15), nil)
	near := f.invoice("100.00", day(11), nil)
	sameA := f.invoice("100.00", day(9), nil)
	sameB := f.invoice("100.00", day(9), nil)
	f.invoice("100.00", day(12), nil)
	f.invoice("100.00", day(13), nil)
	f.invoice("300.00", day(10), nil)

	props := f.proposals(mt, m)
	require.Len(t, props, 5)
	for _, p := range props {
		assert.Equal(t, 70, p.Score)
	}
	assert.Equal(t, near.ID, props[0].Entry.ID)
	assert.Equal(t, sameA.ID, props[1].Entry.ID)
	assert.Equal(t, sameB.ID, props[2].Entry.ID)
	for _, p := range props {
		assert.NotEqual(t, far.ID, p.Entry.ID)
	}
}

func TestManualPoolIncludesBankEntries(t *testing.T) {
	f := newFixture(t)
	mt := reconcile.NewMatcher(reconcile.DefaultConfig(), nil)
	f.store.AddContact(1, "Enel Energia")
	paidOn := day(0)
	bankEntry := f.entry(ledger.NewEntry{
		Polarity:      ledger.Expense,
		Source:        ledger.SourceBank,
		Amount:        dec("80.00"),
		Date:          day(0),
		ContactID:     int64Ptr(1),
		PaymentStatus: ledger.Paid,
		PaymentDate:   &paidOn,
	})
	m := f.movement("80.00", day(2), bank.Debit, "ENEL ENERGIA SPA")

	stats := f.reconcileAll(mt, m)
	assert.Equal(t, 1, stats.Matched)
	stored, _ := f.store.Movement(m.ID)
	assert.Equal(t, bankEntry.ID, *stored.MatchedEntryID)
	assert.Equal(t, bank.MatchedByAuto, stored.MatchedBy)
}

func TestAvailableEntries(t *testing.T) {
	f := newFixture(t)
	mt := reconcile.NewMatcher(reconcile.DefaultConfig(), nil)
	m := f.movement("10.00", day(70), bank.Credit, "")
	old := f.invoice("999.00", day(15), nil)
	f.invoice("999.00", day(5), nil)
	manual := f.entry(ledger.NewEntry{Polarity: ledger.Income, Source: ledger.SourceManual,
		Amount: dec("1"), Date: day(90), PaymentStatus: ledger.Unpaid})
	f.entry(ledger.NewEntry{Polarity: ledger.Income, Source: ledger.SourceManual,
		Amount: dec("1"), Date: day(80), PaymentStatus: ledger.Paid})

	got, err := mt.AvailableEntries(context.Background(), f.store.Stores(), m)
	require.NoError(t, err)
	require.Len(t, got.Invoices, 1)
	assert.Equal(t, old.ID, got.Invoices[0].ID)
	require.Len(t, got.Others, 1)
	assert.Equal(t, manual.ID, got.Others[0].ID)
}

type skipStage struct{ calls *int }

func (skipStage) Name() string { return "skip" }

func (s skipStage) Attempt(context.Context, *reconcile.Matcher, reconcile.Stores, *bank.Movement) (reconcile.Outcome, bool, error) {
	*s.calls++
	return reconcile.Outcome{}, false, nil
}

func TestCustomPolicy(t *testing.T) {
	f := newFixture(t)
	calls := 0
	mt := reconcile.NewMatcher(reconcile.DefaultConfig(), nil, reconcile.WithPolicy(skipStage{&calls}))
	f.invoice("10.00", day(0), nil)
	m := f.movement("10.00", day(0), bank.Credit, "")

	stats := f.reconcileAll(mt, m)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, stats.Pending)
}
