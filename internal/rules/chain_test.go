package rules

import (
	"testing"

	"github.com/opensource-finance/paygrid/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func amountRule(id string, ct domain.ConditionType, amount float64, conds ...domain.Condition) domain.ConditionalRule {
	return domain.ConditionalRule{
		ID:            id,
		ConditionType: ct,
		Conditions:    conds,
		ThenAction:    domain.ThenAction{Type: domain.ActionAmount, Amount: domain.Float(amount)},
	}
}

func TestEvaluateChain_OrderWins(t *testing.T) {
	chain := []domain.ConditionalRule{
		amountRule("x", domain.ConditionIf, 100, cond("age", domain.OpGreater, domain.Num(18))),
		amountRule("y", domain.ConditionElseIf, 200, cond("age", domain.OpGreater, domain.Num(30))),
		amountRule("z", domain.ConditionElse, 300),
	}

	res, err := EvaluateChain(chain, domain.Record{"age": domain.NumericValue(45)})
	require.NoError(t, err)
	assert.True(t, res.Matched)
	assert.Equal(t, "x", res.RuleID)
	assert.Equal(t, 0, res.Index)
	assert.Equal(t, 100.0, *res.Action.Amount)
}

func TestEvaluateChain_ElseIfAndElse(t *testing.T) {
	chain := []domain.ConditionalRule{
		amountRule("senior", domain.ConditionIf, 0, cond("age", domain.OpGreaterEqual, domain.Num(60))),
		amountRule("young", domain.ConditionElseIf, 50, cond("age", domain.OpLess, domain.Num(25))),
		amountRule("mid", domain.ConditionElseIf, 75, cond("age", domain.OpLess, domain.Num(40))),
		amountRule("rest", domain.ConditionElse, 100),
	}

	tests := []struct {
		age  float64
		want string
	}{
		{65, "senior"},
		{20, "young"},
		{30, "mid"},
		{50, "rest"},
	}

	for _, tt := range tests {
		res, err := EvaluateChain(chain, domain.Record{"age": domain.NumericValue(tt.age)})
		require.NoError(t, err)
		assert.Equal(t, tt.want, res.RuleID, "age=%v", tt.age)
	}
}

func TestEvaluateChain_NoMatch(t *testing.T) {
	res, err := EvaluateChain(nil, domain.Record{})
	require.NoError(t, err)
	assert.Equal(t, NoMatch, res)

	chain := []domain.ConditionalRule{
		amountRule("senior", domain.ConditionIf, 0, cond("age", domain.OpGreaterEqual, domain.Num(60))),
	}
	res, err = EvaluateChain(chain, domain.Record{"age": domain.NumericValue(40)})
	require.NoError(t, err)
	assert.False(t, res.Matched)
	assert.Equal(t, NoMatch, res)
}

func TestEvaluateChain_ElseDeclaredFirstIsStillLast(t *testing.T) {
	chain := []domain.ConditionalRule{
		amountRule("a", domain.ConditionIf, 1, cond("age", domain.OpGreater, domain.Num(0))),
		amountRule("fallback", domain.ConditionElse, 9),
		amountRule("b", domain.ConditionIf, 2, cond("age", domain.OpLess, domain.Num(0))),
	}

	res, err := EvaluateChain(chain, domain.Record{"age": domain.NumericValue(-5)})
	require.NoError(t, err)
	assert.Equal(t, "b", res.RuleID)
}

func TestEvaluateChain_OrBranch(t *testing.T) {
	rule := amountRule("or", domain.ConditionIf, 10,
		cond("gender", domain.OpEqual, domain.Text("female")),
		cond("disabled", domain.OpEqual, domain.Num(1)),
	)
	rule.LogicalOperator = domain.LogicalOr

	res, err := EvaluateChain([]domain.ConditionalRule{rule}, domain.Record{
		"gender":   domain.TextValue("male"),
		"disabled": domain.NumericValue(1),
	})
	require.NoError(t, err)
	assert.True(t, res.Matched)
}

func TestEvaluateChain_StrictFieldsPropagates(t *testing.T) {
	chain := []domain.ConditionalRule{
		amountRule("a", domain.ConditionIf, 1, cond("age", domain.OpGreater, domain.Num(0))),
		amountRule("else", domain.ConditionElse, 0),
	}

	res, err := EvaluateChain(chain, domain.Record{})
	require.NoError(t, err)
	assert.Equal(t, "else", res.RuleID)

	_, err = Evaluator{StrictFields: true}.Chain(chain, domain.Record{})
	assert.ErrorIs(t, err, domain.ErrMissingField)
}

func TestValidateChain(t *testing.T) {
	ok := cond("age", domain.OpGreater, domain.Num(1))

	tests := []struct {
		name  string
		chain []domain.ConditionalRule
	}{
		{"leading else_if", []domain.ConditionalRule{amountRule("a", domain.ConditionElseIf, 1, ok)}},
		{"two elses", []domain.ConditionalRule{
			amountRule("a", domain.ConditionIf, 1, ok),
			amountRule("b", domain.ConditionElse, 1),
			amountRule("c", domain.ConditionElse, 1),
		}},
		{"else with conditions", []domain.ConditionalRule{
			amountRule("a", domain.ConditionIf, 1, ok),
			amountRule("b", domain.ConditionElse, 1, ok),
		}},
		{"if without conditions", []domain.ConditionalRule{amountRule("a", domain.ConditionIf, 1)}},
		{"unknown type", []domain.ConditionalRule{amountRule("a", "unless", 1, ok)}},
		{"amount action without amount", []domain.ConditionalRule{{
			ID: "a", ConditionType: domain.ConditionIf, Conditions: []domain.Condition{ok},
			ThenAction: domain.ThenAction{Type: domain.ActionAmount},
		}}},
		{"nested conditional", []domain.ConditionalRule{{
			ID: "a", ConditionType: domain.ConditionIf, Conditions: []domain.Condition{ok},
			ThenAction: domain.ThenAction{Type: domain.ActionCalculationMethod, CalculationMethod: domain.MethodConditional},
		}}},
		{"malformed condition", []domain.ConditionalRule{
			amountRule("a", domain.ConditionIf, 1, between("cc", 10, 1)),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateChain(tt.chain)
			assert.ErrorIs(t, err, domain.ErrConfiguration)

			_, err = EvaluateChain(tt.chain, domain.Record{"age": domain.NumericValue(5)})
			assert.ErrorIs(t, err, domain.ErrConfiguration)
		})
	}
}
