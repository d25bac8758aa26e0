package reconcile

import (
	"context"
	"time"

	"github.com/odyssey-erp/odyssey-bankrec/internal/bank"
	"github.com/odyssey-erp/odyssey-bankrec/internal/ledger"
	"github.com/odyssey-erp/odyssey-bankrec/internal/rules"
)

// Stores groups the collaborators one unit of work needs. Implementations
// bind all three to the same transaction.
type Stores struct {
	Movements bank.Store
	Ledger    ledger.Store
	Rules     rules.Store
}

// TxRunner executes fn inside a transaction. An error from fn rolls back
// everything written through the provided Stores.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, s Stores) error) error
}

// Config holds the matcher thresholds.
type Config struct {
	AutoThreshold    int
	ProposalMinScore int
	ProposalLimit    int
	WindowDays       int
	CacheTTL         time.Duration
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		AutoThreshold:    80,
		ProposalMinScore: 20,
		ProposalLimit:    5,
		WindowDays:       30,
		CacheTTL:         10 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.AutoThreshold <= 0 {
		c.AutoThreshold = def.AutoThreshold
	}
	if c.ProposalMinScore <= 0 {
		c.ProposalMinScore = def.ProposalMinScore
	}
	if c.ProposalLimit <= 0 {
		c.ProposalLimit = def.ProposalLimit
	}
	if c.WindowDays <= 0 {
		c.WindowDays = def.WindowDays
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = def.CacheTTL
	}
	return c
}
