package bank

import "fmt"

var transitions = map[Status][]Status{
	StatusPending: {StatusReconciled, StatusIgnored},
	StatusIgnored: {StatusPending},
}

// CanTransition reports whether a movement may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Reconcile links the movement to a ledger entry.
func (m *Movement) Reconcile(entryID int64, by MatchedBy, ruleID *int64) error {
	if err := m.transition(StatusReconciled); err != nil {
		return err
	}
	if entryID <= 0 {
		return fmt.Errorf("bank: reconcile movement %d: entry id required", m.ID)
	}
	switch by {
	case MatchedByRule, MatchedByAuto, MatchedByManual:
	default:
		return fmt.Errorf("bank: reconcile movement %d: unknown match method %q", m.ID, by)
	}
	m.Status = StatusReconciled
	m.MatchedEntryID = &entryID
	m.MatchedBy = by
	m.MatchedRuleID = ruleID
	m.IgnoreReasonID = nil
	return nil
}

// Ignore parks a pending movement, optionally tagging it with a reason.
func (m *Movement) Ignore(reasonID *int64) error {
	if err := m.transition(StatusIgnored); err != nil {
		return err
	}
	m.Status = StatusIgnored
	m.IgnoreReasonID = reasonID
	return nil
}

// Restore brings an ignored movement back to pending and clears its reason.
func (m *Movement) Restore() error {
	if err := m.transition(StatusPending); err != nil {
		return err
	}
	m.Status = StatusPending
	m.IgnoreReasonID = nil
	return nil
}

// RecordRule notes which rule last classified an already reconciled movement.
// Manually confirmed links keep their provenance untouched.
func (m *Movement) RecordRule(ruleID int64) bool {
	if m.Status != StatusReconciled || m.MatchedBy == MatchedByManual {
		return false
	}
	m.MatchedRuleID = &ruleID
	return true
}

func (m *Movement) transition(to Status) error {
	from := m.Status
	if from == "" {
		from = StatusPending
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: movement %d %s -> %s", ErrInvalidTransition, m.ID, from, to)
	}
	return nil
}
