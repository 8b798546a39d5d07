package rules

import (
	"fmt"

	"github.com/opensource-finance/paygrid/internal/domain"
	"github.com/shopspring/decimal"
)

// ResolveExemptions applies the first exemption, in list order, that targets
// targetKey and whose conditions hold. With no match base is returned unchanged.
func ResolveExemptions(exemptions []domain.ExemptionRule, targetKey string, base float64, record domain.Record) (float64, error) {
	return Evaluator{}.ResolveExemptions(exemptions, targetKey, base, record)
}

// ResolveExemptions is ResolveExemptions under the evaluator's field policy.
func (e Evaluator) ResolveExemptions(exemptions []domain.ExemptionRule, targetKey string, base float64, record domain.Record) (float64, error) {
	rule, err := e.MatchExemption(exemptions, []string{targetKey}, record)
	if err != nil {
		return 0, err
	}
	if rule == nil {
		return base, nil
	}
	return ApplyExemption(*rule, base)
}

// MatchExemption returns the first exemption in list order that targets any
// of keys and whose conditions hold, or nil. Later exemptions on the same
// target never stack with the winner.
func (e Evaluator) MatchExemption(exemptions []domain.ExemptionRule, keys []string, record domain.Record) (*domain.ExemptionRule, error) {
	for i := range exemptions {
		ex := &exemptions[i]
		if !targetsAny(*ex, keys) {
			continue
		}
		ok, err := e.Group(ex.Conditions, ex.Operator(), record)
		if err != nil {
			return nil, fmt.Errorf("exemptions[%d] (%s): %w", i, ex.ID, err)
		}
		if ok {
			return ex, nil
		}
	}
	return nil, nil
}

func targetsAny(ex domain.ExemptionRule, keys []string) bool {
	for _, k := range keys {
		if ex.Targets(k) {
			return true
		}
	}
	return false
}

// ApplyExemption reduces base according to the exemption type.
func ApplyExemption(ex domain.ExemptionRule, base float64) (float64, error) {
	path := "exemptions[" + ex.ID + "]"
	b := decimal.NewFromFloat(base)

	if ex.ExemptionType == domain.ExemptFully {
		return 0, nil
	}
	if ex.ExemptionValue == nil {
		return 0, domain.Configf(path, "%s requires exemptionValue", ex.ExemptionType)
	}
	if *ex.ExemptionValue < 0 {
		return 0, domain.Configf(path, "exemptionValue %v is negative", *ex.ExemptionValue)
	}
	v := decimal.NewFromFloat(*ex.ExemptionValue)

	switch ex.ExemptionType {
	case domain.ExemptPercentage:
		if v.GreaterThan(hundred) {
			return 0, domain.Configf(path, "percentage %v exceeds 100", *ex.ExemptionValue)
		}
		return clampZero(b.Mul(decimal.NewFromInt(1).Sub(v.Div(hundred)))).InexactFloat64(), nil
	case domain.ExemptAmount:
		return clampZero(b.Sub(v)).InexactFloat64(), nil
	case domain.ExemptCapLimit:
		return decimal.Min(b, v).InexactFloat64(), nil
	default:
		return 0, domain.Configf(path, "unknown exemptionType %q", ex.ExemptionType)
	}
}
