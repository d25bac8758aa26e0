package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/odyssey-bankrec/internal/platform/db"
)

// Store is the view of the accounting ledger the reconciliation core needs.
type Store interface {
	ListCandidates(ctx context.Context, q CandidateQuery) ([]Entry, error)
	Get(ctx context.Context, id int64) (Entry, error)
	Create(ctx context.Context, in NewEntry) (Entry, error)
	MarkPaid(ctx context.Context, id int64, paidOn time.Time) error
}

const entryColumns = `e.id, e.polarity, e.source, e.amount, e.date, e.description, e.contact_id,
	COALESCE(c.name, ''), e.category_id, e.revenue_category_id, e.payment_method, e.payment_status,
	e.payment_date, e.tax_rate, e.notes, e.created_at`

var _ Store = (*Repository)(nil)

// Repository is the PostgreSQL ledger Store.
type Repository struct {
	conn db.DBTX
}

// NewRepository binds the repository to a pool or transaction.
func NewRepository(conn db.DBTX) *Repository {
	return &Repository{conn: conn}
}

func (r *Repository) ListCandidates(ctx context.Context, q CandidateQuery) ([]Entry, error) {
	where, args := buildCandidateFilter(q)
	order := " ORDER BY e.date, e.id"
	if q.NewestFirst {
		order = " ORDER BY e.date DESC, e.id DESC"
	}
	query := `SELECT ` + entryColumns + ` FROM ledger_entries e LEFT JOIN contacts c ON c.id = e.contact_id` + where + order
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: list candidates: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *Repository) Get(ctx context.Context, id int64) (Entry, error) {
	row := r.conn.QueryRow(ctx, `SELECT `+entryColumns+` FROM ledger_entries e LEFT JOIN contacts c ON c.id = e.contact_id WHERE e.id = $1`, id)
	return scanEntry(row)
}

func (r *Repository) Create(ctx context.Context, in NewEntry) (Entry, error) {
	if in.PaymentStatus == "" {
		in.PaymentStatus = Unpaid
	}
	const query = `
		INSERT INTO ledger_entries (
			polarity, source, amount, date, description, contact_id, category_id,
			revenue_category_id, payment_method, payment_status, payment_date, tax_rate, notes, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW())
		RETURNING id, created_at`

	e := Entry{
		Polarity:          in.Polarity,
		Source:            in.Source,
		Amount:            in.Amount,
		Date:              in.Date,
		Description:       in.Description,
		ContactID:         in.ContactID,
		CategoryID:        in.CategoryID,
		RevenueCategoryID: in.RevenueCategoryID,
		PaymentMethod:     in.PaymentMethod,
		PaymentStatus:     in.PaymentStatus,
		PaymentDate:       in.PaymentDate,
		TaxRate:           in.TaxRate,
		Notes:             in.Notes,
	}
	err := r.conn.QueryRow(ctx, query,
		string(in.Polarity),
		string(in.Source),
		in.Amount,
		in.Date,
		in.Description,
		in.ContactID,
		in.CategoryID,
		in.RevenueCategoryID,
		in.PaymentMethod,
		string(in.PaymentStatus),
		in.PaymentDate,
		in.TaxRate,
		in.Notes,
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return Entry{}, fmt.Errorf("ledger: create entry: %w", err)
	}
	return e, nil
}

func (r *Repository) MarkPaid(ctx context.Context, id int64, paidOn time.Time) error {
	tag, err := r.conn.Exec(ctx,
		`UPDATE ledger_entries SET payment_status = $2, payment_date = $3 WHERE id = $1`,
		id, string(Paid), paidOn)
	if err != nil {
		return fmt.Errorf("ledger: mark paid %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func buildCandidateFilter(q CandidateQuery) (string, []any) {
	var conditions []string
	var args []any

	if q.Polarity != "" {
		args = append(args, string(q.Polarity))
		conditions = append(conditions, fmt.Sprintf("e.polarity = $%d", len(args)))
	}
	if !q.From.IsZero() {
		args = append(args, q.From)
		conditions = append(conditions, fmt.Sprintf("e.date >= $%d", len(args)))
	}
	if !q.To.IsZero() {
		args = append(args, q.To)
		conditions = append(conditions, fmt.Sprintf("e.date <= $%d", len(args)))
	}
	if len(q.Sources) > 0 {
		sources := make([]string, len(q.Sources))
		for i, s := range q.Sources {
			sources[i] = string(s)
		}
		args = append(args, sources)
		conditions = append(conditions, fmt.Sprintf("e.source = ANY($%d)", len(args)))
	}
	if len(q.Statuses) > 0 {
		args = append(args, statusStrings(q.Statuses))
		conditions = append(conditions, fmt.Sprintf("e.payment_status = ANY($%d)", len(args)))
	}
	if len(q.ExcludeStatuses) > 0 {
		args = append(args, statusStrings(q.ExcludeStatuses))
		conditions = append(conditions, fmt.Sprintf("NOT (e.payment_status = ANY($%d))", len(args)))
	}
	args = append(args, q.ExcludeMovementID)
	conditions = append(conditions, fmt.Sprintf(
		"NOT EXISTS (SELECT 1 FROM bank_movements m WHERE m.matched_entry_id = e.id AND m.id <> $%d)", len(args)))

	return " WHERE " + strings.Join(conditions, " AND "), args
}

func statusStrings(list []PaymentStatus) []string {
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = string(s)
	}
	return out
}

func scanEntry(row pgx.Row) (Entry, error) {
	var e Entry
	var polarity, source, status string
	var method, notes *string
	err := row.Scan(
		&e.ID, &polarity, &source, &e.Amount, &e.Date, &e.Description, &e.ContactID,
		&e.ContactName, &e.CategoryID, &e.RevenueCategoryID, &method, &status,
		&e.PaymentDate, &e.TaxRate, &notes, &e.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("ledger: scan entry: %w", err)
	}
	e.Polarity = Polarity(polarity)
	e.Source = Source(source)
	e.PaymentStatus = PaymentStatus(status)
	if method != nil {
		e.PaymentMethod = *method
	}
	if notes != nil {
		e.Notes = *notes
	}
	return e, nil
}
