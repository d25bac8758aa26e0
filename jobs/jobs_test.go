package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-bankrec/internal/bank"
	jobmetrics "github.com/odyssey-erp/odyssey-bankrec/internal/jobs"
	"github.com/odyssey-erp/odyssey-bankrec/internal/reconcile"
)

type stubReconciler struct {
	stats reconcile.BatchStats
	err   error
	calls int
}

func (s *stubReconciler) ReconcilePending(context.Context) (reconcile.BatchStats, error) {
	s.calls++
	return s.stats, s.err
}

type stubReapplier struct {
	got   reconcile.ReapplyReq
	stats reconcile.ReapplyStats
	err   error
}

func (s *stubReapplier) ReapplyRules(_ context.Context, req reconcile.ReapplyReq) (reconcile.ReapplyStats, error) {
	s.got = req
	return s.stats, s.err
}

type stubInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (s stubInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) { return s.info, s.err }

func TestReapplyPayloadRequest(t *testing.T) {
	payload := ReapplyRulesPayload{
		RuleIDs:  []int64{3, 4},
		Statuses: []string{"pending"},
		BatchID:  "b1",
		From:     "2024-03-01",
		To:       "2024-03-31",
	}

	req, err := payload.Request()
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 4}, req.RuleIDs)
	assert.Equal(t, []bank.Status{bank.StatusPending}, req.Statuses)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), req.From)
	assert.Equal(t, time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC), req.To)

	_, err = ReapplyRulesPayload{RuleIDs: []int64{1}, From: "01/03/2024"}.Request()
	require.Error(t, err)
}

func TestNewReapplyRulesTaskRequiresRules(t *testing.T) {
	_, err := NewReapplyRulesTask(ReapplyRulesPayload{})
	require.Error(t, err)

	task, err := NewReapplyRulesTask(ReapplyRulesPayload{RuleIDs: []int64{7}})
	require.NoError(t, err)
	assert.Equal(t, TaskReapplyRules, task.Type())
}

func TestReapplyRulesJobHandle(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(registry)
	svc := &stubReapplier{stats: reconcile.ReapplyStats{Evaluated: 2, Created: 1}}
	job := NewReapplyRulesJob(svc, nil, metrics)

	task, err := NewReapplyRulesTask(ReapplyRulesPayload{RuleIDs: []int64{7}, MovementIDs: []int64{1, 2}})
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, []int64{7}, svc.got.RuleIDs)
	assert.Equal(t, []int64{1, 2}, svc.got.MovementIDs)

	count, err := testutil.GatherAndCount(registry, "bankrec_jobs_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestReapplyRulesJobSkipsRetryOnBadInput(t *testing.T) {
	svc := &stubReapplier{err: reconcile.ErrInvalidRequest}
	job := NewReapplyRulesJob(svc, nil, nil)

	err := job.Handle(context.Background(), asynq.NewTask(TaskReapplyRules, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	body, _ := json.Marshal(ReapplyRulesPayload{RuleIDs: []int64{1}, To: "nope"})
	err = job.Handle(context.Background(), asynq.NewTask(TaskReapplyRules, body))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	task, err := NewReapplyRulesTask(ReapplyRulesPayload{RuleIDs: []int64{1}})
	require.NoError(t, err)
	err = job.Handle(context.Background(), task)
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.ErrorIs(t, err, reconcile.ErrInvalidRequest)
}

func TestReconcilePendingJobRecordsOutcome(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(registry)
	svc := &stubReconciler{stats: reconcile.BatchStats{Matched: 4, Pending: 2}}
	job := NewReconcilePendingJob(svc, nil, metrics)

	require.NoError(t, job.Handle(context.Background(), NewReconcilePendingTask()))
	assert.Equal(t, 1, svc.calls)

	count, err := testutil.GatherAndCount(registry, "bankrec_reconcile_movements_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestReconcilePendingJobPropagatesErrors(t *testing.T) {
	boom := errors.New("db down")
	job := NewReconcilePendingJob(&stubReconciler{err: boom}, nil, nil)

	assert.ErrorIs(t, job.Handle(context.Background(), NewReconcilePendingTask()), boom)

	var missing *ReconcilePendingJob
	assert.Error(t, missing.Handle(context.Background(), NewReconcilePendingTask()))
}

func TestImportSummaryHandler(t *testing.T) {
	handler := ImportSummaryHandler(nil)

	task, err := NewImportSummaryTask(ImportSummaryPayload{BatchID: "b", Imported: 1, Pending: 1})
	require.NoError(t, err)
	require.NoError(t, handler(context.Background(), task))

	err = handler(context.Background(), asynq.NewTask(TaskImportSummary, []byte("not json")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestHealthEndpoint(t *testing.T) {
	cases := []struct {
		name   string
		insp   QueueInspector
		status int
		body   string
	}{
		{name: "no inspector", status: http.StatusOK, body: `{"queue":"default","pending":0}`},
		{name: "queue info", insp: stubInspector{info: &asynq.QueueInfo{Queue: "default", Pending: 7}}, status: http.StatusOK, body: `{"queue":"default","pending":7}`},
		{name: "redis down", insp: stubInspector{err: errors.New("down")}, status: http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := chi.NewRouter()
			NewHandler(tc.insp, nil).MountRoutes(r)

			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
			assert.Equal(t, tc.status, rr.Code)
			if tc.body != "" {
				assert.JSONEq(t, tc.body, rr.Body.String())
			}
		})
	}
}
