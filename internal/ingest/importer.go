// Package ingest persists parsed statements and reconciles the new movements.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-bankrec/internal/bank"
	"github.com/odyssey-erp/odyssey-bankrec/internal/cbi"
	jobmetrics "github.com/odyssey-erp/odyssey-bankrec/internal/jobs"
	"github.com/odyssey-erp/odyssey-bankrec/internal/reconcile"
)

// ErrEmptyStatement is returned for uploads without any content.
var ErrEmptyStatement = errors.New("ingest: empty statement")

var errDryRun = errors.New("ingest: dry run")

// PersistenceError reports a storage failure that rolled back the whole batch.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string {
	return "ingest: persist batch: " + e.Err.Error()
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Summary counts the outcome of one statement import.
type Summary struct {
	BatchID     string `json:"batch_id"`
	Encoding    string `json:"encoding"`
	Imported    int    `json:"imported"`
	Duplicates  int    `json:"duplicates"`
	Collisions  int    `json:"collisions"`
	Balances    int    `json:"balances"`
	Skipped     int    `json:"skipped"`
	Matched     int    `json:"matched"`
	Pending     int    `json:"pending"`
	AutoCreated int    `json:"auto_created"`
}

// Notifier receives the summary of every committed import. Failures are
// logged and never fail the import.
type Notifier interface {
	Notify(ctx context.Context, summary Summary) error
}

// Importer runs the parse, dedup, persist and reconcile pipeline. Each import
// is one transaction: a storage failure leaves nothing behind.
type Importer struct {
	tx       reconcile.TxRunner
	matcher  *reconcile.Matcher
	parser   *cbi.Parser
	notifier Notifier
	cache    *reconcile.ProposalCache
	metrics  *jobmetrics.Metrics
	logger   *slog.Logger
	newID    func() string
}

// Option customises an Importer.
type Option func(*Importer)

// WithNotifier sets the post-commit notification sink.
func WithNotifier(n Notifier) Option {
	return func(i *Importer) { i.notifier = n }
}

// WithProposalCache invalidates cached proposals after each import.
func WithProposalCache(c *reconcile.ProposalCache) Option {
	return func(i *Importer) { i.cache = c }
}

// WithMetrics records import counters.
func WithMetrics(m *jobmetrics.Metrics) Option {
	return func(i *Importer) { i.metrics = m }
}

// WithParser replaces the default statement parser.
func WithParser(p *cbi.Parser) Option {
	return func(i *Importer) { i.parser = p }
}

// NewImporter constructs an Importer.
func NewImporter(tx reconcile.TxRunner, matcher *reconcile.Matcher, logger *slog.Logger, opts ...Option) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	imp := &Importer{
		tx:      tx,
		matcher: matcher,
		logger:  logger,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(imp)
	}
	if imp.parser == nil {
		imp.parser = cbi.NewParser(logger)
	}
	return imp
}

// Import parses raw statement bytes, stores new movements and balances under a
// fresh batch id and reconciles the new movements in file order.
func (i *Importer) Import(ctx context.Context, raw []byte) (Summary, error) {
	summary, err := i.run(ctx, raw, false)
	if err != nil {
		return summary, err
	}
	i.committed(ctx, summary)
	return summary, nil
}

// DryRun performs the whole import and rolls it back, reporting what Import
// would have done.
func (i *Importer) DryRun(ctx context.Context, raw []byte) (Summary, error) {
	return i.run(ctx, raw, true)
}

func (i *Importer) run(ctx context.Context, raw []byte, dryRun bool) (Summary, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return Summary{}, ErrEmptyStatement
	}
	parsed := i.parser.Parse(raw)
	batchID := i.newID()

	var summary Summary
	err := i.tx.WithTx(ctx, func(ctx context.Context, s reconcile.Stores) error {
		summary = Summary{
			BatchID:  batchID,
			Encoding: parsed.Report.Encoding,
			Skipped:  len(parsed.Report.Skipped),
		}
		fresh, err := i.persistMovements(ctx, s.Movements, parsed.Movements, batchID, &summary)
		if err != nil {
			return err
		}
		for _, b := range parsed.Balances {
			inserted, err := s.Movements.InsertBalance(ctx, &b)
			if err != nil {
				return err
			}
			if inserted {
				summary.Balances++
			}
		}
		stats, err := i.matcher.ReconcileBatch(ctx, s, fresh)
		if err != nil {
			return err
		}
		summary.Matched = stats.Matched
		summary.Pending = stats.Pending
		summary.AutoCreated = stats.AutoCreated
		if dryRun {
			return errDryRun
		}
		return nil
	})
	switch {
	case err == nil:
		return summary, nil
	case dryRun && errors.Is(err, errDryRun):
		return summary, nil
	default:
		i.log().Error("import rolled back", slog.String("batch_id", batchID), slog.Any("error", err))
		return Summary{BatchID: batchID, Encoding: parsed.Report.Encoding}, &PersistenceError{Err: err}
	}
}

// persistMovements inserts movements whose hash is new. A hash already stored
// by an earlier batch is a duplicate, whatever the raw record says: overlapping
// statements number their records independently. Two records of the same
// statement sharing a hash with different raw text are a collision: both are
// kept and the newcomer is stored under a disambiguated key for review.
func (i *Importer) persistMovements(ctx context.Context, store bank.Store, movements []bank.Movement, batchID string, summary *Summary) ([]bank.Movement, error) {
	fresh := make([]bank.Movement, 0, len(movements))
	inBatch := make(map[string]bank.Movement, len(movements))
	for _, m := range movements {
		m.BatchID = batchID
		m.Status = bank.StatusPending
		hash := m.DedupHash

		if first, ok := inBatch[hash]; ok {
			if first.RawRecord == m.RawRecord {
				summary.Duplicates++
				continue
			}
			i.log().Error("dedup hash collision",
				slog.String("hash", hash),
				slog.Int64("existing_id", first.ID),
				slog.String("operation_date", m.OperationDate.Format("2006-01-02")),
				slog.String("amount", m.Amount.StringFixed(2)),
			)
			m.DedupHash = cbi.DisambiguatedHash(hash, m.RawRecord)
			m.NeedsReview = true
			summary.Collisions++
		} else {
			_, err := store.FindByHash(ctx, hash)
			switch {
			case err == nil:
				summary.Duplicates++
				continue
			case !errors.Is(err, bank.ErrNotFound):
				return nil, err
			}
		}

		inserted, err := store.Insert(ctx, &m)
		if err != nil {
			return nil, fmt.Errorf("insert movement: %w", err)
		}
		if !inserted {
			// a concurrent import stored the same hash first
			summary.Duplicates++
			continue
		}
		if _, ok := inBatch[hash]; !ok {
			inBatch[hash] = m
		}
		summary.Imported++
		fresh = append(fresh, m)
	}
	return fresh, nil
}

func (i *Importer) committed(ctx context.Context, summary Summary) {
	i.log().Info("statement imported",
		slog.String("batch_id", summary.BatchID),
		slog.Int("imported", summary.Imported),
		slog.Int("duplicates", summary.Duplicates),
		slog.Int("collisions", summary.Collisions),
		slog.Int("balances", summary.Balances),
		slog.Int("skipped", summary.Skipped),
		slog.Int("matched", summary.Matched),
		slog.Int("pending", summary.Pending),
		slog.Int("auto_created", summary.AutoCreated),
	)
	i.metrics.RecordImport(jobmetrics.ImportCounts{
		Imported:   summary.Imported,
		Duplicates: summary.Duplicates,
		Collisions: summary.Collisions,
		Skipped:    summary.Skipped,
	})
	i.metrics.RecordReconcile(summary.Matched, summary.Pending, summary.AutoCreated)

	if err := i.cache.Bump(ctx); err != nil {
		i.log().Warn("proposal cache bump failed", slog.Any("error", err))
	}
	if i.notifier == nil {
		return
	}
	if err := i.notifier.Notify(ctx, summary); err != nil {
		i.log().Warn("import notification failed", slog.String("batch_id", summary.BatchID), slog.Any("error", err))
	}
}

func (i *Importer) log() *slog.Logger {
	return i.logger.With(slog.String("component", "ingest"))
}
