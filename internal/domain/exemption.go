package domain

// TargetType is what an exemption overrides.
type TargetType string

const (
	// TargetSpecificComponent points at TargetComponentID: an earning,
	// a mandatory deduction or a tax regime.
	TargetSpecificComponent TargetType = "specific_component"
	TargetTax               TargetType = "tax"
	TargetProfessionalTax   TargetType = "professional_tax"
	TargetSocialSecurity    TargetType = "social_security"
)

// ExemptionType is how a matched exemption reduces the base amount.
type ExemptionType string

const (
	ExemptFully      ExemptionType = "fully_exempt"
	ExemptPercentage ExemptionType = "percentage_exempt"
	ExemptAmount     ExemptionType = "amount_exempt"
	ExemptCapLimit   ExemptionType = "cap_limit"
)

// ExemptionRule is an override applied after normal computation.
type ExemptionRule struct {
	ID                string          `json:"id"`
	Name              string          `json:"name"`
	Conditions        []Condition     `json:"conditions"`
	LogicalOperator   LogicalOperator `json:"logicalOperator,omitempty"`
	TargetType        TargetType      `json:"targetType"`
	TargetComponentID string          `json:"targetComponentId,omitempty"`
	ExemptionType     ExemptionType   `json:"exemptionType"`
	ExemptionValue    *float64        `json:"exemptionValue,omitempty"`
}

// Operator returns the effective logical operator of the exemption.
func (e ExemptionRule) Operator() LogicalOperator {
	if e.LogicalOperator == "" {
		return LogicalAnd
	}
	return e.LogicalOperator
}

// TargetKey is the identifier the exemption applies to.
func (e ExemptionRule) TargetKey() string {
	if e.TargetType == TargetSpecificComponent {
		return e.TargetComponentID
	}
	return string(e.TargetType)
}

// Targets reports whether the exemption applies to key.
func (e ExemptionRule) Targets(key string) bool {
	if key == "" {
		return false
	}
	return e.TargetKey() == key
}
