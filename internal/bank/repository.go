package bank

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/odyssey-bankrec/internal/platform/db"
)

// Store persists movements, balances and ignore reasons.
type Store interface {
	FindByHash(ctx context.Context, hash string) (Movement, error)
	// Insert stores a new movement. It reports false, without error, when the
	// dedup hash already exists.
	Insert(ctx context.Context, m *Movement) (bool, error)
	// InsertBalance reports false when (date, type, source) already exists.
	InsertBalance(ctx context.Context, b *BalanceSnapshot) (bool, error)
	Get(ctx context.Context, id int64) (Movement, error)
	List(ctx context.Context, filter ListFilter) ([]Movement, error)
	// SaveState persists the lifecycle fields. Linking an entry already linked
	// elsewhere yields ErrEntryClaimed.
	SaveState(ctx context.Context, m Movement) error
	// SaveDetails persists the descriptive fields refreshed by a re-parse.
	SaveDetails(ctx context.Context, m Movement) error
	// EntryClaimant returns the movement linked to entryID, if any.
	EntryClaimant(ctx context.Context, entryID int64) (int64, bool, error)

	GetIgnoreReason(ctx context.Context, id int64) (IgnoreReason, error)
	ListIgnoreReasons(ctx context.Context) ([]IgnoreReason, error)
	CreateIgnoreReason(ctx context.Context, name string) (IgnoreReason, error)
}

const constraintMatchedEntry = "bank_movements_matched_entry_key"

const movementColumns = `id, operation_date, value_date, amount, direction, reason_code,
	reason_description, counterpart_name, counterpart_address, originator_routing,
	remittance_info, reference_code, description, raw_record, dedup_hash, needs_review,
	status, matched_entry_id, matched_by, matched_rule_id, ignore_reason_id, batch_id,
	created_at, updated_at`

var _ Store = (*Repository)(nil)

// Repository is the PostgreSQL Store.
type Repository struct {
	conn db.DBTX
}

// NewRepository binds the repository to a pool or transaction.
func NewRepository(conn db.DBTX) *Repository {
	return &Repository{conn: conn}
}

func (r *Repository) FindByHash(ctx context.Context, hash string) (Movement, error) {
	row := r.conn.QueryRow(ctx, `SELECT `+movementColumns+` FROM bank_movements WHERE dedup_hash = $1`, hash)
	return scanMovement(row)
}

func (r *Repository) Insert(ctx context.Context, m *Movement) (bool, error) {
	if m.Status == "" {
		m.Status = StatusPending
	}
	const query = `
		INSERT INTO bank_movements (
			operation_date, value_date, amount, direction, reason_code, reason_description,
			counterpart_name, counterpart_address, originator_routing, remittance_info,
			reference_code, description, raw_record, dedup_hash, needs_review, status, batch_id,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, NOW(), NOW())
		ON CONFLICT (dedup_hash) DO NOTHING
		RETURNING id, created_at, updated_at`

	err := r.conn.QueryRow(ctx, query,
		m.OperationDate,
		m.ValueDate,
		m.Amount,
		string(m.Direction),
		m.ReasonCode,
		m.ReasonDescription,
		m.CounterpartName,
		m.CounterpartAddress,
		m.OriginatorRouting,
		m.RemittanceInfo,
		m.ReferenceCode,
		m.Description,
		m.RawRecord,
		m.DedupHash,
		m.NeedsReview,
		string(m.Status),
		m.BatchID,
	).Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("bank: insert movement: %w", err)
	}
	return true, nil
}

func (r *Repository) InsertBalance(ctx context.Context, b *BalanceSnapshot) (bool, error) {
	if b.Source == "" {
		b.Source = BalanceSourceStatement
	}
	const query = `
		INSERT INTO bank_balances (date, amount, type, source, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (date, type, source) DO NOTHING
		RETURNING id, created_at`
	err := r.conn.QueryRow(ctx, query, b.Date, b.Amount, string(b.Type), b.Source).Scan(&b.ID, &b.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("bank: insert balance: %w", err)
	}
	return true, nil
}

func (r *Repository) Get(ctx context.Context, id int64) (Movement, error) {
	row := r.conn.QueryRow(ctx, `SELECT `+movementColumns+` FROM bank_movements WHERE id = $1`, id)
	return scanMovement(row)
}

func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Movement, error) {
	where, args := buildListFilter(filter)
	query := `SELECT ` + movementColumns + ` FROM bank_movements` + where + ` ORDER BY operation_date, id`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("bank: list movements: %w", err)
	}
	defer rows.Close()

	var out []Movement
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *Repository) SaveState(ctx context.Context, m Movement) error {
	var matchedBy *string
	if m.MatchedBy != "" {
		v := string(m.MatchedBy)
		matchedBy = &v
	}
	const query = `
		UPDATE bank_movements
		SET status = $2, matched_entry_id = $3, matched_by = $4, matched_rule_id = $5,
			ignore_reason_id = $6, updated_at = NOW()
		WHERE id = $1`

	// The savepoint keeps a lost claim race from aborting the caller's transaction.
	err := db.Savepoint(ctx, r.conn, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, query, m.ID, string(m.Status), m.MatchedEntryID, matchedBy, m.MatchedRuleID, m.IgnoreReasonID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound):
		return err
	case db.IsUniqueViolation(err, constraintMatchedEntry):
		return fmt.Errorf("%w: entry %d", ErrEntryClaimed, derefInt64(m.MatchedEntryID))
	default:
		return fmt.Errorf("bank: save movement %d: %w", m.ID, err)
	}
}

func (r *Repository) SaveDetails(ctx context.Context, m Movement) error {
	const query = `
		UPDATE bank_movements
		SET description = $2, counterpart_name = $3, counterpart_address = $4,
			reason_description = $5, remittance_info = $6, originator_routing = $7, updated_at = NOW()
		WHERE id = $1`
	tag, err := r.conn.Exec(ctx, query, m.ID, m.Description, m.CounterpartName, m.CounterpartAddress,
		m.ReasonDescription, m.RemittanceInfo, m.OriginatorRouting)
	if err != nil {
		return fmt.Errorf("bank: save details %d: %w", m.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) EntryClaimant(ctx context.Context, entryID int64) (int64, bool, error) {
	var id int64
	err := r.conn.QueryRow(ctx, `SELECT id FROM bank_movements WHERE matched_entry_id = $1`, entryID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("bank: entry claimant: %w", err)
	}
	return id, true, nil
}

func (r *Repository) GetIgnoreReason(ctx context.Context, id int64) (IgnoreReason, error) {
	var reason IgnoreReason
	err := r.conn.QueryRow(ctx, `SELECT id, name, active, created_at FROM bank_ignore_reasons WHERE id = $1`, id).
		Scan(&reason.ID, &reason.Name, &reason.Active, &reason.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return IgnoreReason{}, ErrNotFound
	}
	if err != nil {
		return IgnoreReason{}, fmt.Errorf("bank: get ignore reason: %w", err)
	}
	return reason, nil
}

func (r *Repository) ListIgnoreReasons(ctx context.Context) ([]IgnoreReason, error) {
	rows, err := r.conn.Query(ctx, `SELECT id, name, active, created_at FROM bank_ignore_reasons WHERE active ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("bank: list ignore reasons: %w", err)
	}
	defer rows.Close()
	var out []IgnoreReason
	for rows.Next() {
		var reason IgnoreReason
		if err := rows.Scan(&reason.ID, &reason.Name, &reason.Active, &reason.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, reason)
	}
	return out, rows.Err()
}

func (r *Repository) CreateIgnoreReason(ctx context.Context, name string) (IgnoreReason, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return IgnoreReason{}, errors.New("bank: ignore reason name required")
	}
	reason := IgnoreReason{Name: name, Active: true}
	const query = `
		INSERT INTO bank_ignore_reasons (name, active, created_at) VALUES ($1, TRUE, NOW())
		ON CONFLICT (name) DO UPDATE SET active = TRUE
		RETURNING id, created_at`
	if err := r.conn.QueryRow(ctx, query, name).Scan(&reason.ID, &reason.CreatedAt); err != nil {
		return IgnoreReason{}, fmt.Errorf("bank: create ignore reason: %w", err)
	}
	return reason, nil
}

func buildListFilter(filter ListFilter) (string, []any) {
	var conditions []string
	var args []any

	if len(filter.IDs) > 0 {
		args = append(args, filter.IDs)
		conditions = append(conditions, fmt.Sprintf("id = ANY($%d)", len(args)))
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		args = append(args, statuses)
		conditions = append(conditions, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if filter.BatchID != "" {
		args = append(args, filter.BatchID)
		conditions = append(conditions, fmt.Sprintf("batch_id = $%d", len(args)))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		conditions = append(conditions, fmt.Sprintf("operation_date >= $%d", len(args)))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		conditions = append(conditions, fmt.Sprintf("operation_date <= $%d", len(args)))
	}

	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func scanMovement(row pgx.Row) (Movement, error) {
	var m Movement
	var direction, status string
	var matchedBy *string
	err := row.Scan(
		&m.ID, &m.OperationDate, &m.ValueDate, &m.Amount, &direction, &m.ReasonCode,
		&m.ReasonDescription, &m.CounterpartName, &m.CounterpartAddress, &m.OriginatorRouting,
		&m.RemittanceInfo, &m.ReferenceCode, &m.Description, &m.RawRecord, &m.DedupHash, &m.NeedsReview,
		&status, &m.MatchedEntryID, &matchedBy, &m.MatchedRuleID, &m.IgnoreReasonID, &m.BatchID,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Movement{}, ErrNotFound
	}
	if err != nil {
		return Movement{}, fmt.Errorf("bank: scan movement: %w", err)
	}
	m.Direction = Direction(direction)
	m.Status = Status(status)
	if matchedBy != nil {
		m.MatchedBy = MatchedBy(*matchedBy)
	}
	return m, nil
}

func derefInt64(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}
