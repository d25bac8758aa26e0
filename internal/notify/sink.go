// Package notify delivers import summaries to interested parties.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-bankrec/internal/ingest"
	"github.com/odyssey-erp/odyssey-bankrec/jobs"
)

// Sink receives the summary of a committed import.
type Sink interface {
	Notify(ctx context.Context, summary ingest.Summary) error
}

var (
	_ ingest.Notifier = (*AsynqSink)(nil)
	_ ingest.Notifier = (*LogSink)(nil)
	_ ingest.Notifier = MultiSink(nil)
)

// Enqueuer is the subset of *asynq.Client the sink needs.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// AsynqSink enqueues a bank:import-summary task per import.
type AsynqSink struct {
	client Enqueuer
	queue  string
}

// NewAsynqSink constructs the sink. An empty queue uses the default queue.
func NewAsynqSink(client Enqueuer, queue string) *AsynqSink {
	if queue == "" {
		queue = jobs.QueueDefault
	}
	return &AsynqSink{client: client, queue: queue}
}

// Notify enqueues the summary. Delivery is fire-and-forget: the task carries
// no retries so a broken consumer never replays old summaries.
func (s *AsynqSink) Notify(ctx context.Context, summary ingest.Summary) error {
	if s == nil || s.client == nil {
		return errors.New("notify: asynq client not configured")
	}
	task, err := jobs.NewImportSummaryTask(jobs.ImportSummaryPayload{
		BatchID:    summary.BatchID,
		Imported:   summary.Imported,
		Duplicates: summary.Duplicates,
		Matched:    summary.Matched,
		Pending:    summary.Pending,
	})
	if err != nil {
		return fmt.Errorf("notify: build task: %w", err)
	}
	if _, err := s.client.EnqueueContext(ctx, task, asynq.Queue(s.queue), asynq.MaxRetry(0)); err != nil {
		return fmt.Errorf("notify: enqueue: %w", err)
	}
	return nil
}

// LogSink writes summaries to the structured log.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink constructs a LogSink.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Notify(_ context.Context, summary ingest.Summary) error {
	s.logger.Info("bank statement summary",
		slog.String("component", "notify"),
		slog.String("batch_id", summary.BatchID),
		slog.Int("imported", summary.Imported),
		slog.Int("duplicates", summary.Duplicates),
		slog.Int("matched", summary.Matched),
		slog.Int("pending", summary.Pending),
	)
	return nil
}

// MultiSink fans a summary out to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Notify(ctx context.Context, summary ingest.Summary) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Notify(ctx, summary); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
