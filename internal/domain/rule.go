package domain

// ComparisonOperator is the operator of a single Condition.
type ComparisonOperator string

const (
	OpGreater      ComparisonOperator = ">"
	OpLess         ComparisonOperator = "<"
	OpGreaterEqual ComparisonOperator = ">="
	OpLessEqual    ComparisonOperator = "<="
	OpEqual        ComparisonOperator = "=="
	OpNotEqual     ComparisonOperator = "!="
	OpBetween      ComparisonOperator = "between"
)

// IsOrdering reports whether the operator needs numeric operands.
func (o ComparisonOperator) IsOrdering() bool {
	switch o {
	case OpGreater, OpLess, OpGreaterEqual, OpLessEqual:
		return true
	}
	return false
}

// LogicalOperator combines all conditions of one branch. There is no mixed precedence.
type LogicalOperator string

const (
	LogicalAnd LogicalOperator = "AND"
	LogicalOr  LogicalOperator = "OR"
)

// Condition is one atomic test against an input record.
type Condition struct {
	Field    string             `json:"field"`
	Operator ComparisonOperator `json:"operator"`
	Value    *Value             `json:"value,omitempty"`
	MinValue *float64           `json:"minValue,omitempty"` // between only
	MaxValue *float64           `json:"maxValue,omitempty"` // between only
}

// ConditionType is the position of a branch in an IF/ELSE-IF/ELSE chain.
type ConditionType string

const (
	ConditionIf     ConditionType = "if"
	ConditionElseIf ConditionType = "else_if"
	ConditionElse   ConditionType = "else"
)

// ActionType selects how a matched branch produces an amount.
type ActionType string

const (
	ActionAmount            ActionType = "amount"
	ActionPercentage        ActionType = "percentage"
	ActionCalculationMethod ActionType = "calculation_method"
)

// CalculationMethod is how a component derives its amount.
type CalculationMethod string

const (
	MethodFixedAmount     CalculationMethod = "fixed_amount"
	MethodPercentage      CalculationMethod = "percentage"
	MethodProgressiveSlab CalculationMethod = "progressive_slab"
	MethodCapped          CalculationMethod = "capped"
	MethodFormula         CalculationMethod = "formula"
	MethodTableLookup     CalculationMethod = "table_lookup"
	MethodConditional     CalculationMethod = "conditional"
)

// ThenAction is what a matched branch yields.
type ThenAction struct {
	Type              ActionType        `json:"type"`
	Amount            *float64          `json:"amount,omitempty"`
	Percentage        *float64          `json:"percentage,omitempty"`
	CalculationMethod CalculationMethod `json:"calculationMethod,omitempty"`
	AppliedTo         string            `json:"appliedTo,omitempty"`
}

// ConditionalRule is one branch of an IF/ELSE-IF/ELSE chain.
type ConditionalRule struct {
	ID              string          `json:"id"`
	ConditionType   ConditionType   `json:"conditionType"`
	Conditions      []Condition     `json:"conditions"`
	LogicalOperator LogicalOperator `json:"logicalOperator,omitempty"` // empty means AND
	ThenAction      ThenAction      `json:"thenAction"`
}

// Operator returns the effective logical operator of the branch.
func (r ConditionalRule) Operator() LogicalOperator {
	if r.LogicalOperator == "" {
		return LogicalAnd
	}
	return r.LogicalOperator
}

// Float returns a pointer to f. Convenience for optional numeric fields.
func Float(f float64) *float64 {
	return &f
}

// Num returns a pointer to a numeric Value.
func Num(f float64) *Value {
	v := NumericValue(f)
	return &v
}

// Text returns a pointer to a text Value.
func Text(s string) *Value {
	v := TextValue(s)
	return &v
}
