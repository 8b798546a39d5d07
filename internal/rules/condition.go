// Package rules implements the payroll rule evaluation model: conditions,
// IF/ELSE-IF/ELSE chains, bracket scales, caps and exemption overrides.
// Everything here is pure and synchronous except the formula cache.
package rules

import (
	"errors"
	"fmt"

	"github.com/opensource-finance/paygrid/internal/domain"
)

// Evaluator controls how absent record fields are treated by group and
// chain evaluation. The zero value treats a condition on a missing field
// as false.
type Evaluator struct {
	// StrictFields propagates *domain.MissingFieldError to the caller.
	StrictFields bool
}

// EvaluateCondition tests a single condition against the record.
// Unlike group evaluation it always reports a missing field as an error.
func EvaluateCondition(cond domain.Condition, record domain.Record) (bool, error) {
	if err := validateCondition(cond, "condition"); err != nil {
		return false, err
	}

	got, ok := record.Lookup(cond.Field)
	if !ok {
		return false, &domain.MissingFieldError{Field: cond.Field}
	}

	switch cond.Operator {
	case domain.OpBetween:
		if !got.IsNumeric() {
			return false, mismatch(cond, got.Kind, domain.KindNumber)
		}
		return *cond.MinValue <= got.Num && got.Num <= *cond.MaxValue, nil

	case domain.OpEqual, domain.OpNotEqual:
		// Values of different kinds are never equal.
		eq := got.Equal(*cond.Value)
		if cond.Operator == domain.OpNotEqual {
			return !eq, nil
		}
		return eq, nil

	default:
		want := *cond.Value
		if !want.IsNumeric() {
			return false, mismatch(cond, want.Kind, domain.KindNumber)
		}
		if !got.IsNumeric() {
			return false, mismatch(cond, got.Kind, domain.KindNumber)
		}
		return compare(cond.Operator, got.Num, want.Num), nil
	}
}

func compare(op domain.ComparisonOperator, a, b float64) bool {
	switch op {
	case domain.OpGreater:
		return a > b
	case domain.OpLess:
		return a < b
	case domain.OpGreaterEqual:
		return a >= b
	case domain.OpLessEqual:
		return a <= b
	}
	return false
}

func mismatch(cond domain.Condition, got, want domain.ValueKind) error {
	return &domain.TypeMismatchError{
		Field:    cond.Field,
		Operator: cond.Operator,
		Got:      got,
		Want:     want,
	}
}

// validateCondition checks the shape of a condition before any record lookup.
func validateCondition(cond domain.Condition, path string) error {
	if cond.Field == "" {
		return domain.Configf(path, "field is required")
	}

	switch cond.Operator {
	case domain.OpBetween:
		if cond.MinValue == nil || cond.MaxValue == nil {
			return domain.Configf(path, "between on %q requires minValue and maxValue", cond.Field)
		}
		if *cond.MinValue > *cond.MaxValue {
			return domain.Configf(path, "between on %q: minValue %v exceeds maxValue %v",
				cond.Field, *cond.MinValue, *cond.MaxValue)
		}
	case domain.OpGreater, domain.OpLess, domain.OpGreaterEqual, domain.OpLessEqual,
		domain.OpEqual, domain.OpNotEqual:
		if cond.Value == nil || cond.Value.Kind == domain.KindNone {
			return domain.Configf(path, "operator %s on %q requires a value", cond.Operator, cond.Field)
		}
	default:
		return domain.Configf(path, "unknown operator %q", cond.Operator)
	}
	return nil
}

func validateConditions(conds []domain.Condition, path string) error {
	for i, cond := range conds {
		if err := validateCondition(cond, fmt.Sprintf("%s[%d]", path, i)); err != nil {
			return err
		}
	}
	return nil
}

// Condition evaluates one condition, applying the missing-field policy.
func (e Evaluator) Condition(cond domain.Condition, record domain.Record) (bool, error) {
	ok, err := EvaluateCondition(cond, record)
	if err != nil && !e.StrictFields && errors.Is(err, domain.ErrMissingField) {
		return false, nil
	}
	return ok, err
}

// Group combines conditions with a single logical operator, short-circuiting.
// An empty group is unconditional and yields true.
func (e Evaluator) Group(conds []domain.Condition, op domain.LogicalOperator, record domain.Record) (bool, error) {
	if op == "" {
		op = domain.LogicalAnd
	}
	if op != domain.LogicalAnd && op != domain.LogicalOr {
		return false, domain.Configf("logicalOperator", "unknown logical operator %q", op)
	}
	if len(conds) == 0 {
		return true, nil
	}
	if err := validateConditions(conds, "conditions"); err != nil {
		return false, err
	}

	for i, cond := range conds {
		ok, err := e.Condition(cond, record)
		if err != nil {
			return false, fmt.Errorf("conditions[%d]: %w", i, err)
		}
		if op == domain.LogicalOr && ok {
			return true, nil
		}
		if op == domain.LogicalAnd && !ok {
			return false, nil
		}
	}
	return op == domain.LogicalAnd, nil
}

// EvaluateGroup combines conditions with the default (lenient) evaluator.
func EvaluateGroup(conds []domain.Condition, op domain.LogicalOperator, record domain.Record) (bool, error) {
	return Evaluator{}.Group(conds, op, record)
}
