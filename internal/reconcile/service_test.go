package reconcile_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-bankrec/internal/bank"
	"github.com/odyssey-erp/odyssey-bankrec/internal/ledger"
	"github.com/odyssey-erp/odyssey-bankrec/internal/reconcile"
	"github.com/odyssey-erp/odyssey-bankrec/internal/rules"
)

func newService(f *fixture) *reconcile.Service {
	return reconcile.NewService(f.store, reconcile.NewMatcher(reconcile.DefaultConfig(), nil), nil, nil)
}

func TestConfirmLinksManuallyAndPaysInvoice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	svc := newService(f)
	inv := f.invoice("400.00", day(0), nil)
	m := f.movement("380.00", day(25), bank.Credit, "")

	got, err := svc.Confirm(ctx, reconcile.ConfirmReq{MovementID: m.ID, EntryID: inv.ID})
	require.NoError(t, err)
	assert.Equal(t, bank.StatusReconciled, got.Status)
	assert.Equal(t, bank.MatchedByManual, got.MatchedBy)

	paid, _ := f.store.Entry(inv.ID)
	assert.Equal(t, ledger.Paid, paid.PaymentStatus)
	assert.True(t, paid.PaymentDate.Equal(day(25)))
}

func TestConfirmRejectsClaimedEntry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	svc := newService(f)
	inv := f.invoice("400.00", day(0), nil)
	first := f.movement("400.00", day(1), bank.Credit, "")
	second := f.movement("400.00", day(2), bank.Credit, "")

	_, err := svc.Confirm(ctx, reconcile.ConfirmReq{MovementID: first.ID, EntryID: inv.ID})
	require.NoError(t, err)

	_, err = svc.Confirm(ctx, reconcile.ConfirmReq{MovementID: second.ID, EntryID: inv.ID})
	require.ErrorIs(t, err, bank.ErrEntryClaimed)

	stored, _ := f.store.Movement(second.ID)
	assert.Equal(t, bank.StatusPending, stored.Status)
	assert.Nil(t, stored.MatchedEntryID)
}

func TestConfirmValidatesRequest(t *testing.T) {
	svc := newService(newFixture(t))
	_, err := svc.Confirm(context.Background(), reconcile.ConfirmReq{MovementID: 1})
	require.ErrorIs(t, err, reconcile.ErrInvalidRequest)
}

func TestCreateEntryFromMovement(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	svc := newService(f)
	m := f.movement("12.50", day(3), bank.Debit, "")

	created, err := svc.CreateEntry(ctx, reconcile.CreateEntryReq{MovementID: m.ID, CategoryID: int64Ptr(4)})
	require.NoError(t, err)
	assert.Equal(t, ledger.Expense, created.Polarity)
	assert.Equal(t, ledger.SourceBank, created.Source)
	assert.Equal(t, ledger.Paid, created.PaymentStatus)
	assert.Equal(t, "Bank movement 2024-03-04", created.Description)
	assert.Equal(t, int64(4), *created.CategoryID)

	stored, _ := f.store.Movement(m.ID)
	assert.Equal(t, bank.MatchedByManual, stored.MatchedBy)
	assert.Equal(t, created.ID, *stored.MatchedEntryID)

	_, err = svc.CreateEntry(ctx, reconcile.CreateEntryReq{MovementID: m.ID})
	require.ErrorIs(t, err, bank.ErrInvalidTransition)
	assert.Len(t, f.store.Entries(), 1)
}

func TestIgnoreThenRestoreMakesMovementEligibleAgain(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	svc := newService(f)
	f.store.AddContact(2, "Banca Fee Srl")
	m := f.movement("5.00", day(10), bank.Debit, "BANCA FEE SRL")

	ignored, err := svc.Ignore(ctx, reconcile.IgnoreReq{MovementID: m.ID, ReasonName: "Fee"})
	require.NoError(t, err)
	assert.Equal(t, bank.StatusIgnored, ignored.Status)
	require.NotNil(t, ignored.IgnoreReasonID)

	reasons, err := f.store.Stores().Movements.ListIgnoreReasons(ctx)
	require.NoError(t, err)
	require.Len(t, reasons, 1)
	assert.Equal(t, "Fee", reasons[0].Name)

	f.entry(ledger.NewEntry{Polarity: ledger.Expense, Source: ledger.SourceManual, Amount: dec("5.00"),
		Date: day(10), ContactID: int64Ptr(2), PaymentStatus: ledger.Unpaid})

	stats, err := svc.ReconcilePending(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Matched)

	restored, err := svc.Restore(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, bank.StatusPending, restored.Status)
	assert.Nil(t, restored.IgnoreReasonID)

	props, err := svc.Proposals(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, props, 1)
	assert.Equal(t, 100, props[0].Score)

	stats, err = svc.ReconcilePending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Matched)
}

func TestIgnoreWithUnknownReason(t *testing.T) {
	f := newFixture(t)
	svc := newService(f)
	m := f.movement("5.00", day(10), bank.Debit, "")

	_, err := svc.Ignore(context.Background(), reconcile.IgnoreReq{MovementID: m.ID, ReasonID: int64Ptr(999)})
	require.ErrorIs(t, err, bank.ErrNotFound)

	stored, _ := f.store.Movement(m.ID)
	assert.Equal(t, bank.StatusPending, stored.Status)
}

func TestRestoreRequiresIgnored(t *testing.T) {
	f := newFixture(t)
	svc := newService(f)
	m := f.movement("5.00", day(10), bank.Debit, "")

	_, err := svc.Restore(context.Background(), m.ID)
	require.ErrorIs(t, err, bank.ErrInvalidTransition)
}

func TestProposalsEmptyForReconciledMovement(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	svc := newService(f)
	inv := f.invoice("70.00", day(0), nil)
	m := f.movement("70.00", day(0), bank.Credit, "")
	_, err := svc.Confirm(ctx, reconcile.ConfirmReq{MovementID: m.ID, EntryID: inv.ID})
	require.NoError(t, err)

	props, err := svc.Proposals(ctx, m.ID)
	require.NoError(t, err)
	assert.Empty(t, props)
}

func TestReapplyRulesNeverTouchesManualLinks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	svc := newService(f)

	rule := f.rule(rules.Rule{Name: "Fees", Priority: 1, Scope: rules.ScopeBank, Active: true,
		Actions: rules.Actions{AutoCreate: true, Description: "Bank fees"}})

	pending := f.movement("3.00", day(1), bank.Debit, "")

	manualEntry := f.entry(ledger.NewEntry{Polarity: ledger.Expense, Source: ledger.SourceManual,
		Amount: dec("3.00"), Date: day(2), PaymentStatus: ledger.Unpaid})
	manual := f.movement("3.00", day(2), bank.Debit, "")
	_, err := svc.Confirm(ctx, reconcile.ConfirmReq{MovementID: manual.ID, EntryID: manualEntry.ID})
	require.NoError(t, err)

	autoEntry := f.entry(ledger.NewEntry{Polarity: ledger.Expense, Source: ledger.SourceManual,
		Amount: dec("9.00"), Date: day(3), PaymentStatus: ledger.Unpaid})
	auto := f.movement("9.00", day(3), bank.Debit, "")
	err = f.store.WithTx(ctx, func(ctx context.Context, s reconcile.Stores) error {
		m, err := s.Movements.Get(ctx, auto.ID)
		if err != nil {
			return err
		}
		if err := m.Reconcile(autoEntry.ID, bank.MatchedByAuto, nil); err != nil {
			return err
		}
		return s.Movements.SaveState(ctx, m)
	})
	require.NoError(t, err)

	ignored := f.movement("1.00", day(4), bank.Debit, "")
	_, err = svc.Ignore(ctx, reconcile.IgnoreReq{MovementID: ignored.ID})
	require.NoError(t, err)

	stats, err := svc.ReapplyRules(ctx, reconcile.ReapplyReq{
		RuleIDs:  []int64{rule.ID},
		Statuses: []bank.Status{bank.StatusPending, bank.StatusReconciled, bank.StatusIgnored},
	})
	require.Error(t, err)
	require.ErrorIs(t, err, reconcile.ErrInvalidRequest)

	stats, err = svc.ReapplyRules(ctx, reconcile.ReapplyReq{RuleIDs: []int64{rule.ID}})
	require.NoError(t, err)
	assert.Equal(t, reconcile.ReapplyStats{Evaluated: 2, Created: 1, Recorded: 1, Skipped: 1}, stats)

	p, _ := f.store.Movement(pending.ID)
	assert.Equal(t, bank.MatchedByRule, p.MatchedBy)
	created, _ := f.store.Entry(*p.MatchedEntryID)
	assert.Equal(t, "Bank fees", created.Description)

	mm, _ := f.store.Movement(manual.ID)
	assert.Equal(t, bank.MatchedByManual, mm.MatchedBy)
	assert.Nil(t, mm.MatchedRuleID)
	assert.Equal(t, manualEntry.ID, *mm.MatchedEntryID)

	am, _ := f.store.Movement(auto.ID)
	assert.Equal(t, bank.MatchedByAuto, am.MatchedBy)
	require.NotNil(t, am.MatchedRuleID)
	assert.Equal(t, rule.ID, *am.MatchedRuleID)

	im, _ := f.store.Movement(ignored.ID)
	assert.Equal(t, bank.StatusIgnored, im.Status)
}

func TestReapplyRulesRequiresRuleIDs(t *testing.T) {
	svc := newService(newFixture(t))
	_, err := svc.ReapplyRules(context.Background(), reconcile.ReapplyReq{})
	require.ErrorIs(t, err, reconcile.ErrInvalidRequest)
}
