package ingest

import (
	"context"
	"log/slog"
	"strings"

	"github.com/odyssey-erp/odyssey-bankrec/internal/bank"
	"github.com/odyssey-erp/odyssey-bankrec/internal/cbi"
	"github.com/odyssey-erp/odyssey-bankrec/internal/reconcile"
)

// ReparseStats counts the outcome of a re-parse run.
type ReparseStats struct {
	Scanned   int `json:"scanned"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Failed    int `json:"failed"`
}

// Reparser refreshes descriptive fields of stored movements from their raw
// record text after parser improvements. Status, links, hash and ignore
// reason are never touched.
type Reparser struct {
	tx     reconcile.TxRunner
	logger *slog.Logger
}

// NewReparser constructs a Reparser.
func NewReparser(tx reconcile.TxRunner, logger *slog.Logger) *Reparser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reparser{tx: tx, logger: logger}
}

// Run re-parses every movement selected by filter. With dryRun the changes
// are counted but not written.
func (r *Reparser) Run(ctx context.Context, filter bank.ListFilter, dryRun bool) (ReparseStats, error) {
	var stats ReparseStats
	err := r.tx.WithTx(ctx, func(ctx context.Context, s reconcile.Stores) error {
		stats = ReparseStats{}
		movements, err := s.Movements.List(ctx, filter)
		if err != nil {
			return err
		}
		for _, m := range movements {
			if strings.TrimSpace(m.RawRecord) == "" {
				continue
			}
			stats.Scanned++
			fresh, err := cbi.ParseRecord(strings.Split(m.RawRecord, "\n"), m.OperationDate)
			if err != nil {
				stats.Failed++
				r.log().Warn("raw record no longer parses", slog.Int64("movement_id", m.ID), slog.Any("error", err))
				continue
			}
			updated, changed := refreshDetails(m, fresh)
			if !changed {
				stats.Unchanged++
				continue
			}
			stats.Updated++
			if dryRun {
				continue
			}
			if err := s.Movements.SaveDetails(ctx, updated); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return ReparseStats{}, err
	}
	r.log().Info("movements re-parsed",
		slog.Bool("dry_run", dryRun),
		slog.Int("scanned", stats.Scanned),
		slog.Int("updated", stats.Updated),
		slog.Int("failed", stats.Failed),
	)
	return stats, nil
}

func refreshDetails(m, fresh bank.Movement) (bank.Movement, bool) {
	changed := m.Description != fresh.Description ||
		m.CounterpartName != fresh.CounterpartName ||
		m.CounterpartAddress != fresh.CounterpartAddress ||
		m.ReasonDescription != fresh.ReasonDescription ||
		m.RemittanceInfo != fresh.RemittanceInfo ||
		m.OriginatorRouting != fresh.OriginatorRouting
	m.Description = fresh.Description
	m.CounterpartName = fresh.CounterpartName
	m.CounterpartAddress = fresh.CounterpartAddress
	m.ReasonDescription = fresh.ReasonDescription
	m.RemittanceInfo = fresh.RemittanceInfo
	m.OriginatorRouting = fresh.OriginatorRouting
	return m, changed
}

func (r *Reparser) log() *slog.Logger {
	return r.logger.With(slog.String("component", "ingest"))
}
