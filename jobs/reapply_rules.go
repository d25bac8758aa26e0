package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-bankrec/internal/bank"
	jobmetrics "github.com/odyssey-erp/odyssey-bankrec/internal/jobs"
	"github.com/odyssey-erp/odyssey-bankrec/internal/reconcile"
)

// TaskReapplyRules re-evaluates a subset of rules over stored movements.
const TaskReapplyRules = "bank:reapply-rules"

// ReapplyRulesPayload scopes a rule re-application. Dates use YYYY-MM-DD.
type ReapplyRulesPayload struct {
	RuleIDs     []int64  `json:"rule_ids"`
	MovementIDs []int64  `json:"movement_ids,omitempty"`
	Statuses    []string `json:"statuses,omitempty"`
	BatchID     string   `json:"batch_id,omitempty"`
	From        string   `json:"from,omitempty"`
	To          string   `json:"to,omitempty"`
}

// Request converts the payload into a service request.
func (p ReapplyRulesPayload) Request() (reconcile.ReapplyReq, error) {
	req := reconcile.ReapplyReq{RuleIDs: p.RuleIDs, MovementIDs: p.MovementIDs, BatchID: p.BatchID}
	for _, s := range p.Statuses {
		req.Statuses = append(req.Statuses, bank.Status(s))
	}
	var err error
	if req.From, err = parseDay(p.From); err != nil {
		return reconcile.ReapplyReq{}, fmt.Errorf("from: %w", err)
	}
	if req.To, err = parseDay(p.To); err != nil {
		return reconcile.ReapplyReq{}, fmt.Errorf("to: %w", err)
	}
	return req, nil
}

func parseDay(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse("2006-01-02", s)
}

// RuleReapplier is satisfied by *reconcile.Service.
type RuleReapplier interface {
	ReapplyRules(ctx context.Context, req reconcile.ReapplyReq) (reconcile.ReapplyStats, error)
}

// ReapplyRulesJob runs rule re-application in the background.
type ReapplyRulesJob struct {
	Service RuleReapplier
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewReapplyRulesJob constructs the job handler.
func NewReapplyRulesJob(service RuleReapplier, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReapplyRulesJob {
	return &ReapplyRulesJob{Service: service, Logger: logger, Metrics: metrics}
}

// NewReapplyRulesTask creates an Asynq task for the given scope.
func NewReapplyRulesTask(payload ReapplyRulesPayload) (*asynq.Task, error) {
	if len(payload.RuleIDs) == 0 {
		return nil, errors.New("reapply rules: rule ids required")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReapplyRules, body, asynq.Queue(QueueDefault)), nil
}

// Handle executes the job. Malformed or invalid payloads are not retried.
func (j *ReapplyRulesJob) Handle(ctx context.Context, task *asynq.Task) (err error) {
	if j == nil || j.Service == nil {
		return errors.New("reapply rules: dependencies not configured")
	}
	var payload ReapplyRulesPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	req, err := payload.Request()
	if err != nil {
		j.log().Warn("invalid reapply payload", slog.Any("error", err))
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}

	tracker := j.Metrics.Track(TaskReapplyRules)
	defer func() {
		err = tracker.End(err)
	}()

	stats, err := j.Service.ReapplyRules(ctx, req)
	if errors.Is(err, reconcile.ErrInvalidRequest) {
		j.log().Warn("invalid reapply request", slog.Any("error", err))
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	if err != nil {
		j.log().Error("reapply rules failed", slog.Any("error", err))
		return err
	}
	j.log().Info("rules reapplied",
		slog.Int("evaluated", stats.Evaluated),
		slog.Int("created", stats.Created),
		slog.Int("recorded", stats.Recorded),
		slog.Int("skipped", stats.Skipped),
	)
	return nil
}

func (j *ReapplyRulesJob) log() *slog.Logger {
	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With(slog.String("job", TaskReapplyRules))
}
