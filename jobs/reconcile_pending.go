package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-bankrec/internal/jobs"
	"github.com/odyssey-erp/odyssey-bankrec/internal/reconcile"
)

// TaskReconcilePending re-runs the matcher over every pending movement.
const TaskReconcilePending = "bank:reconcile-pending"

// PendingReconciler is satisfied by *reconcile.Service.
type PendingReconciler interface {
	ReconcilePending(ctx context.Context) (reconcile.BatchStats, error)
}

// ReconcilePendingJob links pending movements to ledger entries created since
// their import.
type ReconcilePendingJob struct {
	Service PendingReconciler
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewReconcilePendingJob constructs the job handler.
func NewReconcilePendingJob(service PendingReconciler, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReconcilePendingJob {
	return &ReconcilePendingJob{Service: service, Logger: logger, Metrics: metrics}
}

// NewReconcilePendingTask creates the task. It carries no payload.
func NewReconcilePendingTask() *asynq.Task {
	return asynq.NewTask(TaskReconcilePending, nil, asynq.Queue(QueueDefault))
}

// Handle executes the job.
func (j *ReconcilePendingJob) Handle(ctx context.Context, _ *asynq.Task) (err error) {
	if j == nil || j.Service == nil {
		return errors.New("reconcile pending: dependencies not configured")
	}
	tracker := j.Metrics.Track(TaskReconcilePending)
	defer func() {
		err = tracker.End(err)
	}()

	stats, err := j.Service.ReconcilePending(ctx)
	if err != nil {
		j.log().Error("reconcile pending failed", slog.Any("error", err))
		return err
	}
	j.Metrics.RecordReconcile(stats.Matched, stats.Pending, stats.AutoCreated)
	j.log().Info("pending movements reconciled",
		slog.Int("matched", stats.Matched),
		slog.Int("pending", stats.Pending),
		slog.Int("auto_created", stats.AutoCreated),
	)
	return nil
}

func (j *ReconcilePendingJob) log() *slog.Logger {
	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With(slog.String("job", TaskReconcilePending))
}
