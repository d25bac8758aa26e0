package rules

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
)

// Engine evaluates active rules in priority order. The first matching rule
// wins; actions from lower-priority rules are never merged in.
type Engine struct {
	store  Store
	logger *slog.Logger
}

// NewEngine constructs an Engine backed by store.
func NewEngine(store Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, logger: logger}
}

// Evaluate returns the actions of the first active rule in scope matching data.
// It reports false when no rule matches.
func (e *Engine) Evaluate(ctx context.Context, source Scope, data TransactionData) (Outcome, bool, error) {
	rules, err := e.store.ListActive(ctx, source)
	if err != nil {
		return Outcome{}, false, fmt.Errorf("rules: load active rules: %w", err)
	}
	return e.firstMatch(rules, source, data, "applied")
}

// EvaluateSubset is Evaluate restricted to the given rule ids.
func (e *Engine) EvaluateSubset(ctx context.Context, source Scope, data TransactionData, ids []int64) (Outcome, bool, error) {
	if len(ids) == 0 {
		return Outcome{}, false, nil
	}
	rules, err := e.store.ListActiveByIDs(ctx, source, ids)
	if err != nil {
		return Outcome{}, false, fmt.Errorf("rules: load rule subset: %w", err)
	}
	return e.firstMatch(rules, source, data, "reapplied")
}

// BulkResult pairs one input with its evaluation outcome.
type BulkResult struct {
	Data    TransactionData
	Outcome Outcome
	Matched bool
}

// EvaluateBulk evaluates every item against a single rule fetch.
func (e *Engine) EvaluateBulk(ctx context.Context, source Scope, items []TransactionData) ([]BulkResult, error) {
	rules, err := e.store.ListActive(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("rules: load active rules: %w", err)
	}
	ordered := Order(rules)
	out := make([]BulkResult, 0, len(items))
	for _, item := range items {
		res := BulkResult{Data: item}
		for _, rule := range ordered {
			if inScope(rule, source) && Matches(rule, item) {
				res.Outcome = outcomeOf(rule)
				res.Matched = true
				break
			}
		}
		out = append(out, res)
	}
	return out, nil
}

// Order sorts rules by priority descending, then name, without mutating the input.
func Order(rules []Rule) []Rule {
	ordered := make([]Rule, len(rules))
	copy(ordered, rules)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority > ordered[j].Priority
		}
		return ordered[i].Name < ordered[j].Name
	})
	return ordered
}

func (e *Engine) firstMatch(rules []Rule, source Scope, data TransactionData, verb string) (Outcome, bool, error) {
	for _, rule := range Order(rules) {
		if !inScope(rule, source) || !Matches(rule, data) {
			continue
		}
		e.log().Info("rule "+verb,
			slog.Int64("rule_id", rule.ID),
			slog.String("rule", rule.Name),
			slog.String("source", string(source)),
			slog.String("description", truncate(data.Description, 50)),
		)
		return outcomeOf(rule), true, nil
	}
	return Outcome{}, false, nil
}

// inScope mirrors the store-side filter.
func inScope(rule Rule, source Scope) bool {
	return rule.Active && (rule.Scope == ScopeAll || rule.Scope == source)
}

func outcomeOf(rule Rule) Outcome {
	return Outcome{RuleID: rule.ID, RuleName: rule.Name, Actions: rule.Actions}
}

func (e *Engine) log() *slog.Logger {
	return e.logger.With(slog.String("component", "rules_engine"))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
