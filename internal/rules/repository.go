package rules

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/odyssey-bankrec/internal/platform/db"
)

// Store exposes rule persistence. List methods return only active rules whose
// scope is source or all, ordered by priority descending then name.
type Store interface {
	ListActive(ctx context.Context, source Scope) ([]Rule, error)
	ListActiveByIDs(ctx context.Context, source Scope, ids []int64) ([]Rule, error)
	Get(ctx context.Context, id int64) (Rule, error)
	Create(ctx context.Context, rule Rule) (Rule, error)
	SetActive(ctx context.Context, id int64, active bool) error
}

const ruleColumns = `id, name, priority, scope, active, match_description, match_counterpart,
	match_tax_id, match_reason_code, match_amount_min, match_amount_max, match_direction,
	action_category_id, action_contact_id, action_revenue_category_id, action_description,
	action_notes, action_payment_method, action_tax_rate, action_auto_create,
	action_date_adjust_kind, action_date_adjust_days, created_at, updated_at`

var _ Store = (*Repository)(nil)

// Repository is the PostgreSQL rule Store.
type Repository struct {
	conn db.DBTX
}

// NewRepository binds the repository to a pool or transaction.
func NewRepository(conn db.DBTX) *Repository {
	return &Repository{conn: conn}
}

func (r *Repository) ListActive(ctx context.Context, source Scope) ([]Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM bank_rules
		WHERE active AND scope = ANY($1)
		ORDER BY priority DESC, name`
	return r.list(ctx, query, []string{string(source), string(ScopeAll)})
}

func (r *Repository) ListActiveByIDs(ctx context.Context, source Scope, ids []int64) ([]Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM bank_rules
		WHERE active AND scope = ANY($1) AND id = ANY($2)
		ORDER BY priority DESC, name`
	return r.list(ctx, query, []string{string(source), string(ScopeAll)}, ids)
}

func (r *Repository) list(ctx context.Context, query string, args ...any) ([]Rule, error) {
	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("rules: list: %w", err)
	}
	defer rows.Close()
	var out []Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

func (r *Repository) Get(ctx context.Context, id int64) (Rule, error) {
	return scanRule(r.conn.QueryRow(ctx, `SELECT `+ruleColumns+` FROM bank_rules WHERE id = $1`, id))
}

func (r *Repository) Create(ctx context.Context, rule Rule) (Rule, error) {
	const query = `
		INSERT INTO bank_rules (
			name, priority, scope, active, match_description, match_counterpart, match_tax_id,
			match_reason_code, match_amount_min, match_amount_max, match_direction,
			action_category_id, action_contact_id, action_revenue_category_id, action_description,
			action_notes, action_payment_method, action_tax_rate, action_auto_create,
			action_date_adjust_kind, action_date_adjust_days, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, NOW(), NOW())
		RETURNING id, created_at, updated_at`

	var adjustKind *string
	var adjustDays int
	if adj := rule.Actions.DateAdjustment; adj != nil {
		k := string(adj.Kind)
		adjustKind = &k
		adjustDays = adj.Days
	}
	a := rule.Actions
	err := r.conn.QueryRow(ctx, query,
		rule.Name, rule.Priority, string(rule.Scope), rule.Active,
		rule.MatchDescription, rule.MatchCounterpart, rule.MatchTaxID, rule.MatchReasonCode,
		rule.MatchAmountMin, rule.MatchAmountMax, rule.MatchDirection,
		a.CategoryID, a.ContactID, a.RevenueCategoryID, a.Description, a.Notes, a.PaymentMethod,
		a.TaxRate, a.AutoCreate, adjustKind, adjustDays,
	).Scan(&rule.ID, &rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		return Rule{}, fmt.Errorf("rules: create: %w", err)
	}
	return rule, nil
}

func (r *Repository) SetActive(ctx context.Context, id int64, active bool) error {
	tag, err := r.conn.Exec(ctx, `UPDATE bank_rules SET active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("rules: set active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanRule(row pgx.Row) (Rule, error) {
	var rule Rule
	var scope string
	var adjustKind *string
	var adjustDays int
	a := &rule.Actions
	err := row.Scan(
		&rule.ID, &rule.Name, &rule.Priority, &scope, &rule.Active,
		&rule.MatchDescription, &rule.MatchCounterpart, &rule.MatchTaxID, &rule.MatchReasonCode,
		&rule.MatchAmountMin, &rule.MatchAmountMax, &rule.MatchDirection,
		&a.CategoryID, &a.ContactID, &a.RevenueCategoryID, &a.Description, &a.Notes, &a.PaymentMethod,
		&a.TaxRate, &a.AutoCreate, &adjustKind, &adjustDays, &rule.CreatedAt, &rule.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Rule{}, ErrNotFound
	}
	if err != nil {
		return Rule{}, fmt.Errorf("rules: scan: %w", err)
	}
	rule.Scope = Scope(scope)
	if adjustKind != nil && *adjustKind != "" {
		a.DateAdjustment = &DateAdjustment{Kind: AdjustKind(*adjustKind), Days: adjustDays}
	}
	return rule, nil
}
