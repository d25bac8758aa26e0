package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-bankrec/internal/bank"
	"github.com/odyssey-erp/odyssey-bankrec/internal/ingest"
	"github.com/odyssey-erp/odyssey-bankrec/internal/ledger"
	"github.com/odyssey-erp/odyssey-bankrec/internal/reconcile"
	"github.com/odyssey-erp/odyssey-bankrec/internal/testing/memstore"
	"github.com/odyssey-erp/odyssey-bankrec/jobs"
)

const statementText = " RH03069ABCDEFG050324 STATEMENT\r\n" +
	" 610012345001EUR040324C000000012500,00\r\n" +
	" 620012345001050324050324C000000004377,9648 REF0001          BONIFICO A VOSTRO FAVORE\r\n" +
	" 630012345001YYY05032024  ROSSI MARIO SRL     VIA ROMA 1 MILANO\r\n" +
	" 620012345001050324050324D000000000120,0026 REF0002          DISPOSIZIONE\r\n" +
	" 640012345EUR050324D000000000250,50\r\n" +
	" EF"

type fakeQueue struct {
	tasks []*asynq.Task
	info  *asynq.QueueInfo
}

func (f *fakeQueue) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: "task-1", Type: task.Type(), Queue: jobs.QueueDefault}, nil
}

func (f *fakeQueue) GetQueueInfo(string) (*asynq.QueueInfo, error) { return f.info, nil }

func (f *fakeQueue) ListScheduledTasks(string, ...asynq.ListOption) ([]*asynq.TaskInfo, error) {
	return []*asynq.TaskInfo{{ID: "s-1", Type: jobs.TaskReconcilePending, NextProcessAt: time.Date(2024, 3, 6, 3, 0, 0, 0, time.UTC)}}, nil
}

type harness struct {
	store *memstore.Store
	queue *fakeQueue
	open  Opener
}

func newHarness() *harness {
	store := memstore.New()
	matcher := reconcile.NewMatcher(reconcile.DefaultConfig(), nil)
	queue := &fakeQueue{info: &asynq.QueueInfo{Queue: jobs.QueueDefault, Pending: 3, Retry: 1}}
	rt := &Runtime{
		Tx:       store,
		Importer: ingest.NewImporter(store, matcher, nil),
		Reparser: ingest.NewReparser(store, nil),
		Service:  reconcile.NewService(store, matcher, nil, nil),
		Migrate:  func(context.Context) error { return nil },
		Jobs:     NewJobsCLI(queue, queue),
	}
	return &harness{
		store: store,
		queue: queue,
		open: func(context.Context) (*Runtime, func(), error) {
			return rt, func() {}, nil
		},
	}
}

func (h *harness) exec(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand(h.open)
	out := new(bytes.Buffer)
	root.SetOut(out)
	root.SetErr(new(bytes.Buffer))
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func (h *harness) movements(t *testing.T) []bank.Movement {
	t.Helper()
	out, err := h.store.Stores().Movements.List(context.Background(), bank.ListFilter{})
	require.NoError(t, err)
	return out
}

func (h *harness) importStatement(t *testing.T) {
	t.Helper()
	_, err := h.exec(t, statementText, "import", "-")
	require.NoError(t, err)
}

func movementByDirection(t *testing.T, ms []bank.Movement, d bank.Direction) bank.Movement {
	t.Helper()
	for _, m := range ms {
		if m.Direction == d {
			return m
		}
	}
	t.Fatalf("no %s movement", d)
	return bank.Movement{}
}

func TestImportCommandJSON(t *testing.T) {
	h := newHarness()

	out, err := h.exec(t, statementText, "import", "-", "--json")
	require.NoError(t, err)

	var summary ingest.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, 2, summary.Imported)
	assert.Equal(t, 2, summary.Pending)
	assert.Equal(t, 2, summary.Balances)
	assert.Len(t, h.movements(t), 2)

	out, err = h.exec(t, statementText, "import", "-")
	require.NoError(t, err)
	assert.Contains(t, out, "imported 0, duplicates 2")
}

func TestImportCommandDryRun(t *testing.T) {
	h := newHarness()

	out, err := h.exec(t, statementText, "import", "-", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "dry run")
	assert.Contains(t, out, "imported 2")
	assert.Empty(t, h.movements(t))
}

func TestConfirmCommandLinksEntry(t *testing.T) {
	h := newHarness()
	h.importStatement(t)
	credit := movementByDirection(t, h.movements(t), bank.Credit)

	entry, err := h.store.Stores().Ledger.Create(context.Background(), ledger.NewEntry{
		Polarity:      ledger.Income,
		Source:        ledger.SourceManual,
		Amount:        decimal.RequireFromString("4377.96"),
		Date:          credit.OperationDate,
		PaymentStatus: ledger.Unpaid,
	})
	require.NoError(t, err)

	out, err := h.exec(t, "", "proposals", itoa(credit.ID))
	require.NoError(t, err)
	assert.Contains(t, out, "SCORE")

	out, err = h.exec(t, "", "confirm", itoa(credit.ID), itoa(entry.ID), "--json")
	require.NoError(t, err)

	var view movementView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, "reconciled", view.Status)
	assert.Equal(t, "manual", view.MatchedBy)
	require.NotNil(t, view.MatchedEntryID)
	assert.Equal(t, entry.ID, *view.MatchedEntryID)
}

func TestCreateEntryCommand(t *testing.T) {
	h := newHarness()
	h.importStatement(t)
	debit := movementByDirection(t, h.movements(t), bank.Debit)

	out, err := h.exec(t, "", "create-entry", itoa(debit.ID), "--category", "4", "--json")
	require.NoError(t, err)

	var view entryView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, "120.00", view.Amount)
	assert.Equal(t, string(ledger.SourceBank), view.Source)

	m, ok := h.store.Movement(debit.ID)
	require.True(t, ok)
	assert.Equal(t, bank.StatusReconciled, m.Status)
}

func TestIgnoreAndRestoreCommands(t *testing.T) {
	h := newHarness()
	h.importStatement(t)
	debit := movementByDirection(t, h.movements(t), bank.Debit)

	out, err := h.exec(t, "", "ignore", itoa(debit.ID), "--reason", "Bank fee")
	require.NoError(t, err)
	assert.Contains(t, out, "ignored")

	_, err = h.exec(t, "", "ignore", itoa(debit.ID), "--reason", "x", "--reason-id", "1")
	require.Error(t, err)

	out, err = h.exec(t, "", "restore", itoa(debit.ID))
	require.NoError(t, err)
	assert.Contains(t, out, "pending")
}

func TestRulesCreateAndReapply(t *testing.T) {
	h := newHarness()
	h.importStatement(t)

	rule := `{"name":"Outgoing transfers","scope":"bank","active":true,"match_description":"disposizione","auto_create":true,"category_id":9}`
	out, err := h.exec(t, rule, "rules", "create", "-", "--json")
	require.NoError(t, err)
	var created struct {
		ID int64 `json:"id"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &created))
	require.NotZero(t, created.ID)

	out, err = h.exec(t, "", "rules", "reapply", "--rule", itoa(created.ID), "--json")
	require.NoError(t, err)
	var stats reconcile.ReapplyStats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, reconcile.ReapplyStats{Evaluated: 2, Created: 1, Skipped: 1}, stats)

	debit := movementByDirection(t, h.movements(t), bank.Debit)
	assert.Equal(t, bank.MatchedByRule, debit.MatchedBy)
}

func TestRulesCreateRejectsInvalidRule(t *testing.T) {
	h := newHarness()
	_, err := h.exec(t, `{"name":"","scope":"everything"}`, "rules", "create", "-")
	require.Error(t, err)
}

func TestRulesReapplyAsyncEnqueues(t *testing.T) {
	h := newHarness()

	out, err := h.exec(t, "", "rules", "reapply", "--rule", "5", "--async")
	require.NoError(t, err)
	assert.Contains(t, out, "task-1")
	require.Len(t, h.queue.tasks, 1)
	assert.Equal(t, jobs.TaskReapplyRules, h.queue.tasks[0].Type())
}

func TestJobsTriggerAndInspect(t *testing.T) {
	h := newHarness()

	_, err := h.exec(t, "", "jobs", "trigger", jobs.TaskReconcilePending)
	require.NoError(t, err)
	require.Len(t, h.queue.tasks, 1)

	_, err = h.exec(t, "", "jobs", "trigger", "bank:unknown")
	require.Error(t, err)

	out, err := h.exec(t, "", "jobs", "inspect", "--scheduled", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "pending 3")
	assert.Contains(t, out, "s-1")
}

func TestBadMovementID(t *testing.T) {
	h := newHarness()
	_, err := h.exec(t, "", "restore", "abc")
	require.ErrorContains(t, err, "invalid movement id")
}

func TestReconcileAndReparseCommands(t *testing.T) {
	h := newHarness()
	h.importStatement(t)

	out, err := h.exec(t, "", "reconcile")
	require.NoError(t, err)
	assert.Contains(t, out, "pending 2")

	out, err = h.exec(t, "", "reparse", "--dry-run", "--json")
	require.NoError(t, err)
	var stats ingest.ReparseStats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, 2, stats.Scanned)
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
