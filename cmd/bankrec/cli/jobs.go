package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-bankrec/jobs"
)

// Enqueuer is satisfied by *jobs.Client and *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Inspector is the subset of *asynq.Inspector the CLI reads.
type Inspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
	ListScheduledTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
}

// JobsCLI wraps manual management helpers for the bank tasks.
type JobsCLI struct {
	client    Enqueuer
	inspector Inspector
}

// NewJobsCLI builds the helpers around an enqueuer and an inspector.
func NewJobsCLI(client Enqueuer, inspector Inspector) *JobsCLI {
	return &JobsCLI{client: client, inspector: inspector}
}

// Trigger enqueues a payload-less job by name.
func (c *JobsCLI) Trigger(ctx context.Context, name string) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	switch name {
	case jobs.TaskReconcilePending:
		return c.client.EnqueueContext(ctx, jobs.NewReconcilePendingTask(), asynq.MaxRetry(3))
	default:
		return nil, fmt.Errorf("jobs cli: unsupported job %s", name)
	}
}

// EnqueueReapply submits a rule re-application.
func (c *JobsCLI) EnqueueReapply(ctx context.Context, payload jobs.ReapplyRulesPayload) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	task, err := jobs.NewReapplyRulesTask(payload)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task, asynq.MaxRetry(3))
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
}

// InspectQueue reports the default queue metrics.
func (c *JobsCLI) InspectQueue(context.Context) (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("jobs cli: inspector not configured")
	}
	info, err := c.inspector.GetQueueInfo(jobs.QueueDefault)
	if err != nil {
		return QueueStats{}, err
	}
	stats := QueueStats{Queue: jobs.QueueDefault}
	if info != nil {
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Retry = info.Retry
	}
	return stats, nil
}

// ListScheduled returns scheduled task infos.
func (c *JobsCLI) ListScheduled(_ context.Context, size int) ([]*asynq.TaskInfo, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	if size <= 0 {
		size = 10
	}
	return c.inspector.ListScheduledTasks(jobs.QueueDefault, asynq.PageSize(size), asynq.Page(1))
}

func newJobsCommand(open Opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and trigger background jobs",
	}
	cmd.AddCommand(&cobra.Command{
		Use:       "trigger <name>",
		Short:     "Enqueue a job now",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{jobs.TaskReconcilePending},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, open, func(ctx context.Context, rt *Runtime) error {
				info, err := rt.Jobs.Trigger(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s as %s\n", args[0], info.ID)
				return nil
			})
		},
	})
	var scheduled int
	inspect := &cobra.Command{
		Use:   "inspect",
		Short: "Show queue depth and scheduled tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, open, func(ctx context.Context, rt *Runtime) error {
				stats, err := rt.Jobs.InspectQueue(ctx)
				if err != nil {
					return err
				}
				var tasks []*asynq.TaskInfo
				if scheduled > 0 {
					if tasks, err = rt.Jobs.ListScheduled(ctx, scheduled); err != nil {
						return err
					}
				}
				return emit(cmd, stats, func(w io.Writer) {
					fmt.Fprintf(w, "queue %s: pending %d, active %d, scheduled %d, retry %d\n",
						stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
					for _, t := range tasks {
						fmt.Fprintf(w, "  %s %s at %s\n", t.ID, t.Type, t.NextProcessAt.Format("2006-01-02 15:04"))
					}
				})
			})
		},
	}
	inspect.Flags().IntVar(&scheduled, "scheduled", 0, "also list up to N scheduled tasks")
	cmd.AddCommand(inspect)
	return cmd
}
