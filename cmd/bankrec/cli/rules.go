package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-bankrec/internal/reconcile"
	"github.com/odyssey-erp/odyssey-bankrec/internal/rules"
	"github.com/odyssey-erp/odyssey-bankrec/jobs"
)

func newRulesCommand(open Opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage categorisation rules",
	}
	cmd.AddCommand(newRulesCreateCommand(open), newRulesToggleCommand(open, true), newRulesToggleCommand(open, false), newRulesReapplyCommand(open))
	return cmd
}

func newRulesCreateCommand(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "create <file|->",
		Short: "Define a rule from a JSON document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			var req rules.CreateRuleReq
			if err := json.Unmarshal(raw, &req); err != nil {
				return fmt.Errorf("decode rule: %w", err)
			}
			if err := req.Validate(); err != nil {
				return err
			}
			return run(cmd, open, func(ctx context.Context, rt *Runtime) error {
				var created rules.Rule
				err := rt.Tx.WithTx(ctx, func(ctx context.Context, s reconcile.Stores) error {
					var err error
					created, err = s.Rules.Create(ctx, req.Rule())
					return err
				})
				if err != nil {
					return err
				}
				out := map[string]any{"id": created.ID, "name": created.Name, "priority": created.Priority, "scope": created.Scope}
				return emit(cmd, out, func(w io.Writer) {
					fmt.Fprintf(w, "created rule %d %q\n", created.ID, created.Name)
				})
			})
		},
	}
}

func newRulesToggleCommand(open Opener, active bool) *cobra.Command {
	use, short := "disable <rule-id>", "Deactivate a rule"
	if active {
		use, short = "enable <rule-id>", "Activate a rule"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "rule id")
			if err != nil {
				return err
			}
			return run(cmd, open, func(ctx context.Context, rt *Runtime) error {
				err := rt.Tx.WithTx(ctx, func(ctx context.Context, s reconcile.Stores) error {
					return s.Rules.SetActive(ctx, id, active)
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "rule %d active=%t\n", id, active)
				return nil
			})
		},
	}
}

func newRulesReapplyCommand(open Opener) *cobra.Command {
	var (
		payload jobs.ReapplyRulesPayload
		async   bool
	)
	cmd := &cobra.Command{
		Use:   "reapply",
		Short: "Re-run selected rules over stored movements",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := payload.Request()
			if err != nil {
				return err
			}
			return run(cmd, open, func(ctx context.Context, rt *Runtime) error {
				if async {
					if rt.Jobs == nil {
						return errors.New("rules reapply: job queue not configured")
					}
					info, err := rt.Jobs.EnqueueReapply(ctx, payload)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s as %s\n", jobs.TaskReapplyRules, info.ID)
					return nil
				}
				stats, err := rt.Service.ReapplyRules(ctx, req)
				if err != nil {
					return err
				}
				return emit(cmd, stats, func(w io.Writer) {
					fmt.Fprintf(w, "evaluated %d, created %d, recorded %d, skipped %d\n",
						stats.Evaluated, stats.Created, stats.Recorded, stats.Skipped)
				})
			})
		},
	}
	cmd.Flags().Int64SliceVar(&payload.RuleIDs, "rule", nil, "rule ids to apply (required)")
	cmd.Flags().Int64SliceVar(&payload.MovementIDs, "movement", nil, "restrict to movement ids")
	cmd.Flags().StringSliceVar(&payload.Statuses, "status", nil, "restrict to statuses (pending, reconciled)")
	cmd.Flags().StringVar(&payload.BatchID, "batch", "", "restrict to one import batch")
	cmd.Flags().StringVar(&payload.From, "from", "", "first operation date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&payload.To, "to", "", "last operation date (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&async, "async", false, "enqueue on the worker instead of running inline")
	_ = cmd.MarkFlagRequired("rule")
	return cmd
}
