package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-bankrec/internal/bank"
	"github.com/odyssey-erp/odyssey-bankrec/internal/ingest"
	"github.com/odyssey-erp/odyssey-bankrec/internal/reconcile"
)

func newMigrateCommand(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create missing tables and indexes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, open, func(ctx context.Context, rt *Runtime) error {
				if rt.Migrate == nil {
					return errors.New("migrate: not available")
				}
				if err := rt.Migrate(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
				return nil
			})
		},
	}
}

func newImportCommand(open Opener) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "import <file|->",
		Short: "Import a CBI statement file and reconcile its movements",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			return run(cmd, open, func(ctx context.Context, rt *Runtime) error {
				var summary ingest.Summary
				if dryRun {
					summary, err = rt.Importer.DryRun(ctx, raw)
				} else {
					summary, err = rt.Importer.Import(ctx, raw)
				}
				if err != nil {
					return err
				}
				return emit(cmd, summary, func(w io.Writer) {
					if dryRun {
						fmt.Fprintln(w, "dry run: nothing was saved")
					}
					fmt.Fprintf(w, "batch %s (%s)\n", summary.BatchID, summary.Encoding)
					fmt.Fprintf(w, "imported %d, duplicates %d, collisions %d, balances %d, skipped %d\n",
						summary.Imported, summary.Duplicates, summary.Collisions, summary.Balances, summary.Skipped)
					fmt.Fprintf(w, "matched %d, pending %d, auto-created %d\n",
						summary.Matched, summary.Pending, summary.AutoCreated)
				})
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "parse and reconcile without saving")
	return cmd
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}

func newReparseCommand(open Opener) *cobra.Command {
	var (
		dryRun   bool
		batchID  string
		statuses []string
		from, to string
	)
	cmd := &cobra.Command{
		Use:   "reparse",
		Short: "Refresh descriptive fields from stored raw records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter := bank.ListFilter{BatchID: batchID}
			for _, s := range statuses {
				filter.Statuses = append(filter.Statuses, bank.Status(s))
			}
			var err error
			if filter.From, err = parseDate(from); err != nil {
				return fmt.Errorf("--from: %w", err)
			}
			if filter.To, err = parseDate(to); err != nil {
				return fmt.Errorf("--to: %w", err)
			}
			return run(cmd, open, func(ctx context.Context, rt *Runtime) error {
				stats, err := rt.Reparser.Run(ctx, filter, dryRun)
				if err != nil {
					return err
				}
				return emit(cmd, stats, func(w io.Writer) {
					fmt.Fprintf(w, "scanned %d, updated %d, unchanged %d, failed %d\n",
						stats.Scanned, stats.Updated, stats.Unchanged, stats.Failed)
				})
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report changes without saving")
	cmd.Flags().StringVar(&batchID, "batch", "", "restrict to one import batch")
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "restrict to statuses (pending, reconciled, ignored)")
	cmd.Flags().StringVar(&from, "from", "", "first operation date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "last operation date (YYYY-MM-DD)")
	return cmd
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse("2006-01-02", s)
}

func newReconcileCommand(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run the matcher over every pending movement",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, open, func(ctx context.Context, rt *Runtime) error {
				stats, err := rt.Service.ReconcilePending(ctx)
				if err != nil {
					return err
				}
				return emit(cmd, stats, func(w io.Writer) {
					printBatch(w, stats)
				})
			})
		},
	}
}

func printBatch(w io.Writer, stats reconcile.BatchStats) {
	fmt.Fprintf(w, "matched %d, pending %d, auto-created %d\n", stats.Matched, stats.Pending, stats.AutoCreated)
}
