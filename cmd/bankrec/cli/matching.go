package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-bankrec/internal/bank"
	"github.com/odyssey-erp/odyssey-bankrec/internal/ledger"
	"github.com/odyssey-erp/odyssey-bankrec/internal/reconcile"
)

type movementView struct {
	ID             int64  `json:"id"`
	Date           string `json:"date"`
	Direction      string `json:"direction"`
	Amount         string `json:"amount"`
	Counterpart    string `json:"counterpart,omitempty"`
	Description    string `json:"description,omitempty"`
	Status         string `json:"status"`
	MatchedEntryID *int64 `json:"matched_entry_id,omitempty"`
	MatchedBy      string `json:"matched_by,omitempty"`
	IgnoreReasonID *int64 `json:"ignore_reason_id,omitempty"`
	NeedsReview    bool   `json:"needs_review,omitempty"`
}

func viewMovement(m bank.Movement) movementView {
	return movementView{
		ID:             m.ID,
		Date:           m.OperationDate.Format(time.DateOnly),
		Direction:      string(m.Direction),
		Amount:         m.Amount.StringFixed(2),
		Counterpart:    m.CounterpartName,
		Description:    m.Description,
		Status:         string(m.Status),
		MatchedEntryID: m.MatchedEntryID,
		MatchedBy:      string(m.MatchedBy),
		IgnoreReasonID: m.IgnoreReasonID,
		NeedsReview:    m.NeedsReview,
	}
}

func (v movementView) print(w io.Writer) {
	fmt.Fprintf(w, "movement %d %s %s %s: %s", v.ID, v.Date, v.Direction, v.Amount, v.Status)
	if v.MatchedEntryID != nil {
		fmt.Fprintf(w, " -> entry %d (%s)", *v.MatchedEntryID, v.MatchedBy)
	}
	if v.IgnoreReasonID != nil {
		fmt.Fprintf(w, " reason %d", *v.IgnoreReasonID)
	}
	fmt.Fprintln(w)
}

type entryView struct {
	ID          int64  `json:"id"`
	Source      string `json:"source"`
	Polarity    string `json:"polarity"`
	Date        string `json:"date"`
	Amount      string `json:"amount"`
	Contact     string `json:"contact,omitempty"`
	Description string `json:"description,omitempty"`
	Status      string `json:"payment_status"`
	Score       int    `json:"score,omitempty"`
	Reasons     string `json:"reasons,omitempty"`
}

func viewEntry(e ledger.Entry) entryView {
	return entryView{
		ID:          e.ID,
		Source:      string(e.Source),
		Polarity:    string(e.Polarity),
		Date:        e.Date.Format(time.DateOnly),
		Amount:      e.Amount.StringFixed(2),
		Contact:     e.ContactName,
		Description: e.Description,
		Status:      string(e.PaymentStatus),
	}
}

func printEntries(w io.Writer, entries []entryView, withScore bool) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if withScore {
		fmt.Fprintln(tw, "SCORE\tENTRY\tSOURCE\tDATE\tAMOUNT\tCONTACT\tREASONS")
	} else {
		fmt.Fprintln(tw, "ENTRY\tSOURCE\tDATE\tAMOUNT\tCONTACT\tSTATUS")
	}
	for _, e := range entries {
		if withScore {
			fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\t%s\t%s\n", e.Score, e.ID, e.Source, e.Date, e.Amount, e.Contact, e.Reasons)
		} else {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", e.ID, e.Source, e.Date, e.Amount, e.Contact, e.Status)
		}
	}
	_ = tw.Flush()
}

func newProposalsCommand(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "proposals <movement-id>",
		Short: "List ranked ledger entries for a pending movement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "movement id")
			if err != nil {
				return err
			}
			return run(cmd, open, func(ctx context.Context, rt *Runtime) error {
				proposals, err := rt.Service.Proposals(ctx, id)
				if err != nil {
					return err
				}
				views := make([]entryView, 0, len(proposals))
				for _, p := range proposals {
					v := viewEntry(p.Entry)
					v.Score = p.Score
					v.Reasons = strings.Join(p.Reasons, "; ")
					views = append(views, v)
				}
				return emit(cmd, views, func(w io.Writer) {
					if len(views) == 0 {
						fmt.Fprintln(w, "no proposals")
						return
					}
					printEntries(w, views, true)
				})
			})
		},
	}
}

func newAvailableCommand(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "available <movement-id>",
		Short: "List entries that can be linked manually to a movement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "movement id")
			if err != nil {
				return err
			}
			return run(cmd, open, func(ctx context.Context, rt *Runtime) error {
				avail, err := rt.Service.AvailableEntries(ctx, id)
				if err != nil {
					return err
				}
				out := struct {
					Invoices []entryView `json:"invoices"`
					Others   []entryView `json:"others"`
				}{Invoices: viewEntries(avail.Invoices), Others: viewEntries(avail.Others)}
				return emit(cmd, out, func(w io.Writer) {
					fmt.Fprintln(w, "invoices:")
					printEntries(w, out.Invoices, false)
					fmt.Fprintln(w, "other entries:")
					printEntries(w, out.Others, false)
				})
			})
		},
	}
}

func viewEntries(entries []ledger.Entry) []entryView {
	out := make([]entryView, 0, len(entries))
	for _, e := range entries {
		out = append(out, viewEntry(e))
	}
	return out
}

func newConfirmCommand(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "confirm <movement-id> <entry-id>",
		Short: "Link a movement to a ledger entry",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			movementID, err := parseID(args[0], "movement id")
			if err != nil {
				return err
			}
			entryID, err := parseID(args[1], "entry id")
			if err != nil {
				return err
			}
			return run(cmd, open, func(ctx context.Context, rt *Runtime) error {
				m, err := rt.Service.Confirm(ctx, reconcile.ConfirmReq{MovementID: movementID, EntryID: entryID})
				if err != nil {
					return err
				}
				return printMovement(cmd, m)
			})
		},
	}
}

func newCreateEntryCommand(open Opener) *cobra.Command {
	var description string
	cmd := &cobra.Command{
		Use:   "create-entry <movement-id>",
		Short: "Create a ledger entry from a pending movement and link it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "movement id")
			if err != nil {
				return err
			}
			req := reconcile.CreateEntryReq{
				MovementID:        id,
				CategoryID:        optionalID(cmd, "category"),
				ContactID:         optionalID(cmd, "contact"),
				RevenueCategoryID: optionalID(cmd, "revenue-category"),
				Description:       description,
			}
			return run(cmd, open, func(ctx context.Context, rt *Runtime) error {
				entry, err := rt.Service.CreateEntry(ctx, req)
				if err != nil {
					return err
				}
				v := viewEntry(entry)
				return emit(cmd, v, func(w io.Writer) {
					fmt.Fprintf(w, "created entry %d (%s %s) for movement %d\n", v.ID, v.Amount, v.Date, id)
				})
			})
		},
	}
	cmd.Flags().Int64("category", 0, "expense category id")
	cmd.Flags().Int64("contact", 0, "contact id")
	cmd.Flags().Int64("revenue-category", 0, "revenue category id")
	cmd.Flags().StringVar(&description, "description", "", "entry description")
	return cmd
}

func newIgnoreCommand(open Opener) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "ignore <movement-id>",
		Short: "Exclude a movement from reconciliation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "movement id")
			if err != nil {
				return err
			}
			req := reconcile.IgnoreReq{MovementID: id, ReasonID: optionalID(cmd, "reason-id"), ReasonName: reason}
			return run(cmd, open, func(ctx context.Context, rt *Runtime) error {
				m, err := rt.Service.Ignore(ctx, req)
				if err != nil {
					return err
				}
				return printMovement(cmd, m)
			})
		},
	}
	cmd.Flags().Int64("reason-id", 0, "existing ignore reason id")
	cmd.Flags().StringVar(&reason, "reason", "", "ignore reason name, created when missing")
	cmd.MarkFlagsMutuallyExclusive("reason-id", "reason")
	return cmd
}

func newRestoreCommand(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <movement-id>",
		Short: "Return an ignored movement to pending",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "movement id")
			if err != nil {
				return err
			}
			return run(cmd, open, func(ctx context.Context, rt *Runtime) error {
				m, err := rt.Service.Restore(ctx, id)
				if err != nil {
					return err
				}
				return printMovement(cmd, m)
			})
		},
	}
}

func printMovement(cmd *cobra.Command, m bank.Movement) error {
	v := viewMovement(m)
	return emit(cmd, v, v.print)
}
