package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskImportSummary carries the summary of a committed statement import.
	TaskImportSummary = "bank:import-summary"
)

// ImportSummaryPayload is the notification sent after every import.
type ImportSummaryPayload struct {
	BatchID    string `json:"batch_id"`
	Imported   int    `json:"imported"`
	Duplicates int    `json:"duplicates"`
	Matched    int    `json:"matched"`
	Pending    int    `json:"pending"`
}

// NewImportSummaryTask constructs an Asynq task.
func NewImportSummaryTask(payload ImportSummaryPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskImportSummary, data), nil
}

// ImportSummaryHandler processes TaskImportSummary tasks by logging them.
// Pending movements are the actionable part for operators.
func ImportSummaryHandler(logger *slog.Logger) asynq.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, t *asynq.Task) error {
		var payload ImportSummaryPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		level := slog.LevelInfo
		if payload.Pending > 0 {
			level = slog.LevelWarn
		}
		logger.Log(ctx, level, "bank statement imported",
			slog.String("job", TaskImportSummary),
			slog.String("batch_id", payload.BatchID),
			slog.Int("imported", payload.Imported),
			slog.Int("duplicates", payload.Duplicates),
			slog.Int("matched", payload.Matched),
			slog.Int("pending", payload.Pending),
		)
		return nil
	}
}
