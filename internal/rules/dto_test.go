package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateRuleReqValidate(t *testing.T) {
	valid := CreateRuleReq{
		Name:               "Utility bills",
		Priority:           10,
		Scope:              ScopeBank,
		Active:             true,
		MatchCounterpart:   "enel",
		MatchAmountMin:     dec("100"),
		MatchAmountMax:     dec("200"),
		MatchDirection:     "d",
		AutoCreate:         true,
		DateAdjustmentKind: AdjustPrevMonthLastDay,
	}
	require.NoError(t, valid.Validate())

	rule := valid.Rule()
	assert.Equal(t, "D", rule.MatchDirection)
	require.NotNil(t, rule.Actions.DateAdjustment)
	assert.Equal(t, AdjustPrevMonthLastDay, rule.Actions.DateAdjustment.Kind)

	inverted := valid
	inverted.MatchAmountMin = dec("300")
	err := inverted.Validate()
	require.ErrorIs(t, err, ErrInvalidRule)
	assert.Contains(t, err.Error(), "MatchAmountMax")

	badScope := valid
	badScope.Scope = "bogus"
	require.ErrorIs(t, badScope.Validate(), ErrInvalidRule)

	missingName := valid
	missingName.Name = ""
	require.ErrorIs(t, missingName.Validate(), ErrInvalidRule)

	badTax := valid
	badTax.TaxRate = dec("122")
	require.ErrorIs(t, badTax.Validate(), ErrInvalidRule)
}
