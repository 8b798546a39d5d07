package rules

import (
	"fmt"

	"github.com/opensource-finance/paygrid/internal/domain"
)

// ChainResult is the outcome of evaluating an IF/ELSE-IF/ELSE chain.
// The zero value is NoMatch.
type ChainResult struct {
	Matched bool              `json:"matched"`
	Index   int               `json:"index"`
	RuleID  string            `json:"ruleId,omitempty"`
	Action  domain.ThenAction `json:"action"`
}

// NoMatch is returned when no branch applies and the chain has no else.
// It is a valid outcome; callers apply their own default.
var NoMatch = ChainResult{}

// EvaluateChain evaluates a chain with the default (lenient) evaluator.
func EvaluateChain(chain []domain.ConditionalRule, record domain.Record) (ChainResult, error) {
	return Evaluator{}.Chain(chain, record)
}

// Chain evaluates branches in list order and returns the first match.
// The else branch, wherever it is declared, is only reached after every
// if and else_if branch has failed.
func (e Evaluator) Chain(chain []domain.ConditionalRule, record domain.Record) (ChainResult, error) {
	if len(chain) == 0 {
		return NoMatch, nil
	}
	if err := ValidateChain(chain); err != nil {
		return NoMatch, err
	}

	elseIdx := -1
	for i, rule := range chain {
		if rule.ConditionType == domain.ConditionElse {
			elseIdx = i
			continue
		}
		ok, err := e.Group(rule.Conditions, rule.Operator(), record)
		if err != nil {
			return NoMatch, fmt.Errorf("conditionalRules[%d]: %w", i, err)
		}
		if ok {
			return matched(i, rule), nil
		}
	}

	if elseIdx >= 0 {
		return matched(elseIdx, chain[elseIdx]), nil
	}
	return NoMatch, nil
}

func matched(i int, rule domain.ConditionalRule) ChainResult {
	return ChainResult{Matched: true, Index: i, RuleID: rule.ID, Action: rule.ThenAction}
}

// ValidateChain checks chain structure, condition shapes and actions.
func ValidateChain(chain []domain.ConditionalRule) error {
	elses := 0
	for i, rule := range chain {
		path := fmt.Sprintf("conditionalRules[%d]", i)

		switch rule.ConditionType {
		case domain.ConditionIf:
		case domain.ConditionElseIf:
			if i == 0 {
				return domain.Configf(path, "else_if must follow an if branch")
			}
		case domain.ConditionElse:
			elses++
			if elses > 1 {
				return domain.Configf(path, "a chain may have only one else branch")
			}
			if len(rule.Conditions) > 0 {
				return domain.Configf(path, "else branch must not have conditions")
			}
		default:
			return domain.Configf(path, "unknown conditionType %q", rule.ConditionType)
		}

		if rule.ConditionType != domain.ConditionElse && len(rule.Conditions) == 0 {
			return domain.Configf(path, "%s branch requires at least one condition", rule.ConditionType)
		}
		if op := rule.LogicalOperator; op != "" && op != domain.LogicalAnd && op != domain.LogicalOr {
			return domain.Configf(path, "unknown logical operator %q", op)
		}
		if err := validateConditions(rule.Conditions, path+".conditions"); err != nil {
			return err
		}
		if err := validateAction(rule.ThenAction, path+".thenAction"); err != nil {
			return err
		}
	}
	return nil
}

func validateAction(a domain.ThenAction, path string) error {
	switch a.Type {
	case domain.ActionAmount:
		if a.Amount == nil {
			return domain.Configf(path, "amount action requires amount")
		}
	case domain.ActionPercentage:
		if a.Percentage == nil {
			return domain.Configf(path, "percentage action requires percentage")
		}
	case domain.ActionCalculationMethod:
		if a.CalculationMethod == "" {
			return domain.Configf(path, "calculation_method action requires calculationMethod")
		}
		if a.CalculationMethod == domain.MethodConditional {
			return domain.Configf(path, "an action cannot delegate to another conditional chain")
		}
	default:
		return domain.Configf(path, "unknown action type %q", a.Type)
	}
	return nil
}
