package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-bankrec/internal/ingest"
	"github.com/odyssey-erp/odyssey-bankrec/internal/reconcile"
)

// Runtime carries the services commands operate on.
type Runtime struct {
	Tx       reconcile.TxRunner
	Importer *ingest.Importer
	Reparser *ingest.Reparser
	Service  *reconcile.Service
	Migrate  func(ctx context.Context) error
	Jobs     *JobsCLI
}

// Opener builds a Runtime for one command invocation. The returned func
// releases its resources.
type Opener func(ctx context.Context) (*Runtime, func(), error)

// NewRootCommand assembles the bankrec command tree.
func NewRootCommand(open Opener) *cobra.Command {
	root := &cobra.Command{
		Use:           "bankrec",
		Short:         "Import CBI bank statements and reconcile them against the ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().Bool("json", false, "print results as JSON")

	root.AddCommand(
		newMigrateCommand(open),
		newImportCommand(open),
		newReparseCommand(open),
		newReconcileCommand(open),
		newProposalsCommand(open),
		newAvailableCommand(open),
		newConfirmCommand(open),
		newCreateEntryCommand(open),
		newIgnoreCommand(open),
		newRestoreCommand(open),
		newRulesCommand(open),
		newJobsCommand(open),
	)
	return root
}

func run(cmd *cobra.Command, open Opener, fn func(ctx context.Context, rt *Runtime) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rt, release, err := open(ctx)
	if err != nil {
		return err
	}
	if release != nil {
		defer release()
	}
	return fn(ctx, rt)
}

func jsonOutput(cmd *cobra.Command) bool {
	on, _ := cmd.Flags().GetBool("json")
	return on
}

// emit writes v as indented JSON, or hands the writer to text otherwise.
func emit(cmd *cobra.Command, v any, text func(w io.Writer)) error {
	w := cmd.OutOrStdout()
	if jsonOutput(cmd) {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}

func parseID(arg, name string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s %q", name, arg)
	}
	return id, nil
}

func optionalID(cmd *cobra.Command, flag string) *int64 {
	if !cmd.Flags().Changed(flag) {
		return nil
	}
	v, _ := cmd.Flags().GetInt64(flag)
	return &v
}
