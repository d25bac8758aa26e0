package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-bankrec/internal/bank"
	"github.com/odyssey-erp/odyssey-bankrec/internal/ledger"
	"github.com/odyssey-erp/odyssey-bankrec/internal/rules"
)

// ErrInvalidRequest wraps request validation failures.
var ErrInvalidRequest = errors.New("reconcile: invalid request")

// ConfirmReq links a movement to an entry chosen by a user.
type ConfirmReq struct {
	MovementID int64 `json:"movement_id" validate:"required,gt=0"`
	EntryID    int64 `json:"entry_id" validate:"required,gt=0"`
}

// CreateEntryReq synthesises a ledger entry from a movement.
type CreateEntryReq struct {
	MovementID        int64  `json:"movement_id" validate:"required,gt=0"`
	CategoryID        *int64 `json:"category_id" validate:"omitempty,gt=0"`
	ContactID         *int64 `json:"contact_id" validate:"omitempty,gt=0"`
	RevenueCategoryID *int64 `json:"revenue_category_id" validate:"omitempty,gt=0"`
	Description       string `json:"description" validate:"max=255"`
}

// IgnoreReq parks a movement. ReasonName creates or reactivates a reason.
type IgnoreReq struct {
	MovementID int64  `json:"movement_id" validate:"required,gt=0"`
	ReasonID   *int64 `json:"reason_id" validate:"omitempty,gt=0"`
	ReasonName string `json:"reason_name" validate:"omitempty,max=80,excluded_with=ReasonID"`
}

// ReapplyReq re-runs a subset of rules over persisted movements.
type ReapplyReq struct {
	RuleIDs     []int64       `json:"rule_ids" validate:"required,min=1,dive,gt=0"`
	MovementIDs []int64       `json:"movement_ids" validate:"omitempty,dive,gt=0"`
	Statuses    []bank.Status `json:"statuses" validate:"omitempty,dive,oneof=pending reconciled"`
	BatchID     string        `json:"batch_id" validate:"omitempty,uuid"`
	From        time.Time     `json:"from"`
	To          time.Time     `json:"to"`
}

// ReapplyStats summarises a rule re-application.
type ReapplyStats struct {
	Evaluated int `json:"evaluated"`
	Created   int `json:"created"`
	Recorded  int `json:"recorded"`
	Skipped   int `json:"skipped"`
}

// Service exposes the manual reconciliation workflows. Every operation runs in
// one transaction and invalidates cached proposals on success.
type Service struct {
	tx       TxRunner
	matcher  *Matcher
	cache    *ProposalCache
	logger   *slog.Logger
	validate *validator.Validate
}

// NewService wires the reconciliation service.
func NewService(tx TxRunner, matcher *Matcher, cache *ProposalCache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		tx:       tx,
		matcher:  matcher,
		cache:    cache,
		logger:   logger,
		validate: validator.New(),
	}
}

// Confirm forces the link between a pending movement and an entry.
func (s *Service) Confirm(ctx context.Context, req ConfirmReq) (bank.Movement, error) {
	if err := s.check(req); err != nil {
		return bank.Movement{}, err
	}
	var out bank.Movement
	err := s.tx.WithTx(ctx, func(ctx context.Context, st Stores) error {
		m, err := st.Movements.Get(ctx, req.MovementID)
		if err != nil {
			return err
		}
		entry, err := st.Ledger.Get(ctx, req.EntryID)
		if err != nil {
			return err
		}
		claimant, claimed, err := st.Movements.EntryClaimant(ctx, entry.ID)
		if err != nil {
			return err
		}
		if claimed && claimant != m.ID {
			return fmt.Errorf("%w: entry %d linked to movement %d", bank.ErrEntryClaimed, entry.ID, claimant)
		}
		linked, err := s.matcher.link(ctx, st, &m, entry, bank.MatchedByManual, nil)
		if err != nil {
			return err
		}
		if !linked {
			return fmt.Errorf("%w: entry %d", bank.ErrEntryClaimed, entry.ID)
		}
		out = m
		return nil
	})
	if err != nil {
		return bank.Movement{}, err
	}
	s.changed(ctx, "movement confirmed", slog.Int64("movement_id", req.MovementID), slog.Int64("entry_id", req.EntryID))
	return out, nil
}

// CreateEntry creates a paid bank-sourced entry from a pending movement and
// links it manually.
func (s *Service) CreateEntry(ctx context.Context, req CreateEntryReq) (ledger.Entry, error) {
	if err := s.check(req); err != nil {
		return ledger.Entry{}, err
	}
	var created ledger.Entry
	err := s.tx.WithTx(ctx, func(ctx context.Context, st Stores) error {
		m, err := st.Movements.Get(ctx, req.MovementID)
		if err != nil {
			return err
		}
		if !bank.CanTransition(m.Status, bank.StatusReconciled) {
			return fmt.Errorf("%w: movement %d is %s", bank.ErrInvalidTransition, m.ID, m.Status)
		}
		paidOn := m.OperationDate
		in := ledger.NewEntry{
			Polarity:          PolarityOf(m.Direction),
			Source:            ledger.SourceBank,
			Amount:            m.Amount,
			Date:              m.OperationDate,
			Description:       req.Description,
			ContactID:         req.ContactID,
			CategoryID:        req.CategoryID,
			RevenueCategoryID: req.RevenueCategoryID,
			PaymentMethod:     ledger.PaymentMethodTransfer,
			PaymentStatus:     ledger.Paid,
			PaymentDate:       &paidOn,
		}
		if in.Description == "" {
			in.Description = DefaultDescription(m)
		}
		entry, err := st.Ledger.Create(ctx, in)
		if err != nil {
			return err
		}
		if _, err := s.matcher.link(ctx, st, &m, entry, bank.MatchedByManual, nil); err != nil {
			return err
		}
		created = entry
		return nil
	})
	if err != nil {
		return ledger.Entry{}, err
	}
	s.changed(ctx, "entry created from movement", slog.Int64("movement_id", req.MovementID), slog.Int64("entry_id", created.ID))
	return created, nil
}

// Ignore moves a pending movement to ignored.
func (s *Service) Ignore(ctx context.Context, req IgnoreReq) (bank.Movement, error) {
	if err := s.check(req); err != nil {
		return bank.Movement{}, err
	}
	var out bank.Movement
	err := s.tx.WithTx(ctx, func(ctx context.Context, st Stores) error {
		m, err := st.Movements.Get(ctx, req.MovementID)
		if err != nil {
			return err
		}
		reasonID := req.ReasonID
		switch {
		case reasonID != nil:
			if _, err := st.Movements.GetIgnoreReason(ctx, *reasonID); err != nil {
				return fmt.Errorf("ignore reason %d: %w", *reasonID, err)
			}
		case req.ReasonName != "":
			reason, err := st.Movements.CreateIgnoreReason(ctx, req.ReasonName)
			if err != nil {
				return err
			}
			reasonID = &reason.ID
		}
		if err := m.Ignore(reasonID); err != nil {
			return err
		}
		if err := st.Movements.SaveState(ctx, m); err != nil {
			return err
		}
		out = m
		return nil
	})
	if err != nil {
		return bank.Movement{}, err
	}
	s.changed(ctx, "movement ignored", slog.Int64("movement_id", req.MovementID))
	return out, nil
}

// Restore returns an ignored movement to pending and clears its reason.
func (s *Service) Restore(ctx context.Context, movementID int64) (bank.Movement, error) {
	var out bank.Movement
	err := s.tx.WithTx(ctx, func(ctx context.Context, st Stores) error {
		m, err := st.Movements.Get(ctx, movementID)
		if err != nil {
			return err
		}
		if err := m.Restore(); err != nil {
			return err
		}
		if err := st.Movements.SaveState(ctx, m); err != nil {
			return err
		}
		out = m
		return nil
	})
	if err != nil {
		return bank.Movement{}, err
	}
	s.changed(ctx, "movement restored", slog.Int64("movement_id", movementID))
	return out, nil
}

// ReapplyRules evaluates the given rules over persisted movements. Pending
// movements get an entry when the winning rule auto-creates; movements linked
// by rule or auto match record the rule. Manual links and ignored movements
// are never touched.
func (s *Service) ReapplyRules(ctx context.Context, req ReapplyReq) (ReapplyStats, error) {
	if err := s.check(req); err != nil {
		return ReapplyStats{}, err
	}
	filter := bank.ListFilter{
		IDs:      req.MovementIDs,
		Statuses: req.Statuses,
		BatchID:  req.BatchID,
		From:     req.From,
		To:       req.To,
	}
	if len(filter.Statuses) == 0 {
		filter.Statuses = []bank.Status{bank.StatusPending, bank.StatusReconciled}
	}

	var stats ReapplyStats
	err := s.tx.WithTx(ctx, func(ctx context.Context, st Stores) error {
		stats = ReapplyStats{}
		movements, err := st.Movements.List(ctx, filter)
		if err != nil {
			return err
		}
		engine := rules.NewEngine(st.Rules, s.logger)
		for i := range movements {
			m := &movements[i]
			if m.Status == bank.StatusIgnored || m.MatchedBy == bank.MatchedByManual {
				stats.Skipped++
				continue
			}
			stats.Evaluated++
			out, ok, err := engine.EvaluateSubset(ctx, rules.ScopeBank, RuleData(*m), req.RuleIDs)
			if err != nil {
				return err
			}
			if !ok {
				stats.Skipped++
				continue
			}
			switch m.Status {
			case bank.StatusPending:
				if !out.AutoCreate {
					stats.Skipped++
					continue
				}
				entry, err := st.Ledger.Create(ctx, EntryFromRule(*m, out))
				if err != nil {
					return err
				}
				ruleID := out.RuleID
				linked, err := s.matcher.link(ctx, st, m, entry, bank.MatchedByRule, &ruleID)
				if err != nil {
					return err
				}
				if linked {
					stats.Created++
				}
			case bank.StatusReconciled:
				if !m.RecordRule(out.RuleID) {
					stats.Skipped++
					continue
				}
				if err := st.Movements.SaveState(ctx, *m); err != nil {
					return err
				}
				stats.Recorded++
			}
		}
		return nil
	})
	if err != nil {
		return ReapplyStats{}, err
	}
	s.changed(ctx, "rules reapplied",
		slog.Int("evaluated", stats.Evaluated),
		slog.Int("created", stats.Created),
		slog.Int("recorded", stats.Recorded),
	)
	return stats, nil
}

// ReconcilePending re-runs the matcher over every pending movement.
func (s *Service) ReconcilePending(ctx context.Context) (BatchStats, error) {
	var stats BatchStats
	err := s.tx.WithTx(ctx, func(ctx context.Context, st Stores) error {
		movements, err := st.Movements.List(ctx, bank.ListFilter{Statuses: []bank.Status{bank.StatusPending}})
		if err != nil {
			return err
		}
		stats, err = s.matcher.ReconcileBatch(ctx, st, movements)
		return err
	})
	if err != nil {
		return BatchStats{}, err
	}
	s.changed(ctx, "pending movements reconciled", slog.Int("matched", stats.Matched), slog.Int("pending", stats.Pending))
	return stats, nil
}

// Proposals returns ranked candidates for a pending movement.
func (s *Service) Proposals(ctx context.Context, movementID int64) ([]Proposal, error) {
	return s.cache.Fetch(ctx, movementID, func(ctx context.Context) ([]Proposal, error) {
		var out []Proposal
		err := s.tx.WithTx(ctx, func(ctx context.Context, st Stores) error {
			m, err := st.Movements.Get(ctx, movementID)
			if err != nil {
				return err
			}
			if m.Status != bank.StatusPending {
				return nil
			}
			out, err = s.matcher.Proposals(ctx, st, m)
			return err
		})
		return out, err
	})
}

// AvailableEntries lists entries a user may link to a movement.
func (s *Service) AvailableEntries(ctx context.Context, movementID int64) (Available, error) {
	var out Available
	err := s.tx.WithTx(ctx, func(ctx context.Context, st Stores) error {
		m, err := st.Movements.Get(ctx, movementID)
		if err != nil {
			return err
		}
		out, err = s.matcher.AvailableEntries(ctx, st, m)
		return err
	})
	return out, err
}

func (s *Service) check(req any) error {
	if err := s.validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}

// changed logs a committed state change and invalidates cached proposals.
func (s *Service) changed(ctx context.Context, msg string, attrs ...any) {
	s.log().Info(msg, attrs...)
	if err := s.cache.Bump(ctx); err != nil {
		s.log().Warn("proposal cache bump failed", slog.Any("error", err))
	}
}

func (s *Service) log() *slog.Logger {
	return s.logger.With(slog.String("component", "reconcile"))
}
