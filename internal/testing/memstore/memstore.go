// Package memstore keeps movements, ledger entries and rules in memory with the
// same uniqueness guarantees as the PostgreSQL schema. Tests use it in place of
// storage.Postgres.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/odyssey-erp/odyssey-bankrec/internal/bank"
	"github.com/odyssey-erp/odyssey-bankrec/internal/ledger"
	"github.com/odyssey-erp/odyssey-bankrec/internal/reconcile"
	"github.com/odyssey-erp/odyssey-bankrec/internal/rules"
)

type data struct {
	seq       int64
	movements map[int64]bank.Movement
	balances  []bank.BalanceSnapshot
	reasons   map[int64]bank.IgnoreReason
	entries   map[int64]ledger.Entry
	contacts  map[int64]string
	rules     map[int64]rules.Rule
}

func newData() *data {
	return &data{
		movements: map[int64]bank.Movement{},
		reasons:   map[int64]bank.IgnoreReason{},
		entries:   map[int64]ledger.Entry{},
		contacts:  map[int64]string{},
		rules:     map[int64]rules.Rule{},
	}
}

func (d *data) clone() *data {
	c := &data{
		seq:       d.seq,
		movements: make(map[int64]bank.Movement, len(d.movements)),
		balances:  append([]bank.BalanceSnapshot(nil), d.balances...),
		reasons:   make(map[int64]bank.IgnoreReason, len(d.reasons)),
		entries:   make(map[int64]ledger.Entry, len(d.entries)),
		contacts:  make(map[int64]string, len(d.contacts)),
		rules:     make(map[int64]rules.Rule, len(d.rules)),
	}
	for k, v := range d.movements {
		c.movements[k] = v
	}
	for k, v := range d.reasons {
		c.reasons[k] = v
	}
	for k, v := range d.entries {
		c.entries[k] = v
	}
	for k, v := range d.contacts {
		c.contacts[k] = v
	}
	for k, v := range d.rules {
		c.rules[k] = v
	}
	return c
}

func (d *data) nextID() int64 {
	d.seq++
	return d.seq
}

// Store is an in-memory database. Transactions are serialised and work on a
// copy that replaces the committed state only when fn succeeds.
type Store struct {
	mu    sync.Mutex
	state *data
	now   func() time.Time
}

var _ reconcile.TxRunner = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{state: newData(), now: time.Now}
}

// WithTx runs fn against a snapshot and commits it when fn returns nil.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, st reconcile.Stores) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := s.state.clone()
	if err := fn(ctx, s.bind(tx)); err != nil {
		return err
	}
	s.state = tx
	return nil
}

// Stores returns views that each lock the store per call, outside any transaction.
func (s *Store) Stores() reconcile.Stores {
	return s.bind(nil)
}

func (s *Store) bind(tx *data) reconcile.Stores {
	v := &view{store: s, tx: tx}
	return reconcile.Stores{
		Movements: movements{v},
		Ledger:    entries{v},
		Rules:     ruleSet{v},
	}
}

// AddContact registers a contact name used to resolve entry contact names.
func (s *Store) AddContact(id int64, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.contacts[id] = name
}

// Movement returns the committed movement with id.
func (s *Store) Movement(id int64) (bank.Movement, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.state.movements[id]
	return m, ok
}

// Entry returns the committed ledger entry with id.
func (s *Store) Entry(id int64) (ledger.Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.state.entries[id]
	if ok {
		e.ContactName = s.state.contactName(e.ContactID)
	}
	return e, ok
}

// Entries returns every committed ledger entry ordered by id.
func (s *Store) Entries() []ledger.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ledger.Entry, 0, len(s.state.entries))
	for _, e := range s.state.entries {
		e.ContactName = s.state.contactName(e.ContactID)
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Balances returns every committed balance snapshot in insertion order.
func (s *Store) Balances() []bank.BalanceSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bank.BalanceSnapshot(nil), s.state.balances...)
}

func (d *data) contactName(id *int64) string {
	if id == nil {
		return ""
	}
	return d.contacts[*id]
}

type view struct {
	store *Store
	tx    *data
}

func (v *view) do(fn func(d *data) error) error {
	if v.tx != nil {
		return fn(v.tx)
	}
	v.store.mu.Lock()
	defer v.store.mu.Unlock()
	return fn(v.store.state)
}

func (v *view) now() time.Time {
	return v.store.now()
}

type movements struct{ *view }

var _ bank.Store = movements{}

func (r movements) FindByHash(_ context.Context, hash string) (bank.Movement, error) {
	var out bank.Movement
	err := r.do(func(d *data) error {
		for _, m := range d.movements {
			if m.DedupHash == hash {
				out = m
				return nil
			}
		}
		return bank.ErrNotFound
	})
	return out, err
}

func (r movements) Insert(_ context.Context, m *bank.Movement) (bool, error) {
	inserted := false
	err := r.do(func(d *data) error {
		for _, existing := range d.movements {
			if existing.DedupHash == m.DedupHash {
				return nil
			}
		}
		if m.Status == "" {
			m.Status = bank.StatusPending
		}
		m.ID = d.nextID()
		m.CreatedAt = r.now()
		m.UpdatedAt = m.CreatedAt
		d.movements[m.ID] = *m
		inserted = true
		return nil
	})
	return inserted, err
}

func (r movements) InsertBalance(_ context.Context, b *bank.BalanceSnapshot) (bool, error) {
	if b.Source == "" {
		b.Source = bank.BalanceSourceStatement
	}
	inserted := false
	err := r.do(func(d *data) error {
		for _, existing := range d.balances {
			if existing.Date.Equal(b.Date) && existing.Type == b.Type && existing.Source == b.Source {
				return nil
			}
		}
		b.ID = d.nextID()
		b.CreatedAt = r.now()
		d.balances = append(d.balances, *b)
		inserted = true
		return nil
	})
	return inserted, err
}

func (r movements) Get(_ context.Context, id int64) (bank.Movement, error) {
	var out bank.Movement
	err := r.do(func(d *data) error {
		m, ok := d.movements[id]
		if !ok {
			return bank.ErrNotFound
		}
		out = m
		return nil
	})
	return out, err
}

func (r movements) List(_ context.Context, f bank.ListFilter) ([]bank.Movement, error) {
	var out []bank.Movement
	err := r.do(func(d *data) error {
		for _, m := range d.movements {
			if matchesFilter(f, m) {
				out = append(out, m)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OperationDate.Equal(out[j].OperationDate) {
			return out[i].OperationDate.Before(out[j].OperationDate)
		}
		return out[i].ID < out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, err
}

func matchesFilter(f bank.ListFilter, m bank.Movement) bool {
	if len(f.IDs) > 0 && !containsID(f.IDs, m.ID) {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if s == m.Status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.BatchID != "" && m.BatchID != f.BatchID {
		return false
	}
	if !f.From.IsZero() && m.OperationDate.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && m.OperationDate.After(f.To) {
		return false
	}
	return true
}

func (r movements) SaveState(_ context.Context, m bank.Movement) error {
	return r.do(func(d *data) error {
		cur, ok := d.movements[m.ID]
		if !ok {
			return bank.ErrNotFound
		}
		if m.MatchedEntryID != nil {
			for id, other := range d.movements {
				if id != m.ID && other.MatchedEntryID != nil && *other.MatchedEntryID == *m.MatchedEntryID {
					return fmt.Errorf("%w: entry %d", bank.ErrEntryClaimed, *m.MatchedEntryID)
				}
			}
		}
		if m.Status == bank.StatusReconciled && m.MatchedEntryID == nil {
			return fmt.Errorf("bank: save movement %d: reconciled without entry", m.ID)
		}
		cur.Status = m.Status
		cur.MatchedEntryID = m.MatchedEntryID
		cur.MatchedBy = m.MatchedBy
		cur.MatchedRuleID = m.MatchedRuleID
		cur.IgnoreReasonID = m.IgnoreReasonID
		cur.UpdatedAt = r.now()
		d.movements[m.ID] = cur
		return nil
	})
}

func (r movements) SaveDetails(_ context.Context, m bank.Movement) error {
	return r.do(func(d *data) error {
		cur, ok := d.movements[m.ID]
		if !ok {
			return bank.ErrNotFound
		}
		cur.Description = m.Description
		cur.CounterpartName = m.CounterpartName
		cur.CounterpartAddress = m.CounterpartAddress
		cur.ReasonDescription = m.ReasonDescription
		cur.RemittanceInfo = m.RemittanceInfo
		cur.OriginatorRouting = m.OriginatorRouting
		cur.UpdatedAt = r.now()
		d.movements[m.ID] = cur
		return nil
	})
}

func (r movements) EntryClaimant(_ context.Context, entryID int64) (int64, bool, error) {
	var claimant int64
	err := r.do(func(d *data) error {
		for id, m := range d.movements {
			if m.MatchedEntryID != nil && *m.MatchedEntryID == entryID {
				claimant = id
				return nil
			}
		}
		return nil
	})
	return claimant, claimant != 0, err
}

func (r movements) GetIgnoreReason(_ context.Context, id int64) (bank.IgnoreReason, error) {
	var out bank.IgnoreReason
	err := r.do(func(d *data) error {
		reason, ok := d.reasons[id]
		if !ok {
			return bank.ErrNotFound
		}
		out = reason
		return nil
	})
	return out, err
}

func (r movements) ListIgnoreReasons(_ context.Context) ([]bank.IgnoreReason, error) {
	var out []bank.IgnoreReason
	err := r.do(func(d *data) error {
		for _, reason := range d.reasons {
			if reason.Active {
				out = append(out, reason)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, err
}

func (r movements) CreateIgnoreReason(_ context.Context, name string) (bank.IgnoreReason, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return bank.IgnoreReason{}, errors.New("bank: ignore reason name required")
	}
	var out bank.IgnoreReason
	err := r.do(func(d *data) error {
		for id, reason := range d.reasons {
			if reason.Name == name {
				reason.Active = true
				d.reasons[id] = reason
				out = reason
				return nil
			}
		}
		out = bank.IgnoreReason{ID: d.nextID(), Name: name, Active: true, CreatedAt: r.now()}
		d.reasons[out.ID] = out
		return nil
	})
	return out, err
}

type entries struct{ *view }

var _ ledger.Store = entries{}

func (r entries) ListCandidates(_ context.Context, q ledger.CandidateQuery) ([]ledger.Entry, error) {
	var out []ledger.Entry
	err := r.do(func(d *data) error {
		claimed := map[int64]bool{}
		for id, m := range d.movements {
			if m.MatchedEntryID != nil && id != q.ExcludeMovementID {
				claimed[*m.MatchedEntryID] = true
			}
		}
		for _, e := range d.entries {
			if claimed[e.ID] || !q.Contains(e) {
				continue
			}
			e.ContactName = d.contactName(e.ContactID)
			out = append(out, e)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if q.NewestFirst {
			a, b = b, a
		}
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		return a.ID < b.ID
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, err
}

func (r entries) Get(_ context.Context, id int64) (ledger.Entry, error) {
	var out ledger.Entry
	err := r.do(func(d *data) error {
		e, ok := d.entries[id]
		if !ok {
			return ledger.ErrNotFound
		}
		e.ContactName = d.contactName(e.ContactID)
		out = e
		return nil
	})
	return out, err
}

func (r entries) Create(_ context.Context, in ledger.NewEntry) (ledger.Entry, error) {
	if in.PaymentStatus == "" {
		in.PaymentStatus = ledger.Unpaid
	}
	var out ledger.Entry
	err := r.do(func(d *data) error {
		out = ledger.Entry{
			ID:                d.nextID(),
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
			CreatedAt:         r.now(),
		}
		d.entries[out.ID] = out
		out.ContactName = d.contactName(out.ContactID)
		return nil
	})
	return out, err
}

func (r entries) MarkPaid(_ context.Context, id int64, paidOn time.Time) error {
	return r.do(func(d *data) error {
		e, ok := d.entries[id]
		if !ok {
			return ledger.ErrNotFound
		}
		e.PaymentStatus = ledger.Paid
		e.PaymentDate = &paidOn
		d.entries[id] = e
		return nil
	})
}

type ruleSet struct{ *view }

var _ rules.Store = ruleSet{}

func (r ruleSet) ListActive(ctx context.Context, source rules.Scope) ([]rules.Rule, error) {
	return r.ListActiveByIDs(ctx, source, nil)
}

func (r ruleSet) ListActiveByIDs(_ context.Context, source rules.Scope, ids []int64) ([]rules.Rule, error) {
	var out []rules.Rule
	err := r.do(func(d *data) error {
		for _, rule := range d.rules {
			if !rule.Active || (rule.Scope != rules.ScopeAll && rule.Scope != source) {
				continue
			}
			if ids != nil && !containsID(ids, rule.ID) {
				continue
			}
			out = append(out, rule)
		}
		return nil
	})
	return rules.Order(out), err
}

func (r ruleSet) Get(_ context.Context, id int64) (rules.Rule, error) {
	var out rules.Rule
	err := r.do(func(d *data) error {
		rule, ok := d.rules[id]
		if !ok {
			return rules.ErrNotFound
		}
		out = rule
		return nil
	})
	return out, err
}

func (r ruleSet) Create(_ context.Context, rule rules.Rule) (rules.Rule, error) {
	if !rule.Scope.Valid() {
		return rules.Rule{}, fmt.Errorf("%w: scope %q", rules.ErrInvalidRule, rule.Scope)
	}
	err := r.do(func(d *data) error {
		rule.ID = d.nextID()
		rule.CreatedAt = r.now()
		rule.UpdatedAt = rule.CreatedAt
		d.rules[rule.ID] = rule
		return nil
	})
	return rule, err
}

func (r ruleSet) SetActive(_ context.Context, id int64, active bool) error {
	return r.do(func(d *data) error {
		rule, ok := d.rules[id]
		if !ok {
			return rules.ErrNotFound
		}
		rule.Active = active
		rule.UpdatedAt = r.now()
		d.rules[id] = rule
		return nil
	})
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
