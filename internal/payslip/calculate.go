package payslip

import (
	"errors"

	"github.com/opensource-finance/paygrid/internal/domain"
	"github.com/opensource-finance/paygrid/internal/rules"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

func round(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

func clampZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

func dec(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// result is a computed component amount and the chain branch that produced it.
type result struct {
	amount decimal.Decimal
	ruleID string
}

// component computes a calculation and applies its optional cap.
func (r *run) component(c domain.Calculation, defaultBase string) (result, error) {
	res, err := r.calculate(c, defaultBase, false)
	if err != nil {
		return result{}, err
	}
	if c.Cap == nil || c.CalculationMethod == domain.MethodCapped {
		return res, nil
	}
	capped, err := r.applyCap(res.amount, c.Cap)
	if err != nil {
		return result{}, err
	}
	res.amount = capped
	return res, nil
}

func (r *run) applyCap(amount decimal.Decimal, c *domain.Cap) (decimal.Decimal, error) {
	earnings, err := r.base(c.AppliedTo, domain.BaseGrossSalary)
	if err != nil {
		return decimal.Zero, err
	}
	out, err := rules.ApplyCap(amount.InexactFloat64(), c, earnings.InexactFloat64())
	if err != nil {
		return decimal.Zero, err
	}
	return dec(out), nil
}

// calculate dispatches on the calculation method. delegated is set when a
// conditional branch hands over to another method.
func (r *run) calculate(c domain.Calculation, defaultBase string, delegated bool) (result, error) {
	switch c.CalculationMethod {
	case domain.MethodFixedAmount:
		if c.SystemComponentID != "" {
			v, err := r.componentValue(c.SystemComponentID)
			return result{amount: v}, err
		}
		if c.Amount == nil {
			return result{}, domain.Configf("amount", "fixed_amount requires amount or systemComponentId")
		}
		return result{amount: dec(*c.Amount)}, nil

	case domain.MethodPercentage:
		if c.Percentage == nil {
			return result{}, domain.Configf("percentage", "percentage method requires percentage")
		}
		base, err := r.base(c.AppliedTo, defaultBase)
		if err != nil {
			return result{}, err
		}
		return result{amount: base.Mul(dec(*c.Percentage)).Div(hundred)}, nil

	case domain.MethodProgressiveSlab, domain.MethodTableLookup:
		subject, err := r.subject(c, defaultBase)
		if err != nil {
			return result{}, err
		}
		mode := domain.ModeMarginal
		if c.CalculationMethod == domain.MethodTableLookup {
			mode = domain.ModeSlab
		}
		out, err := rules.ApplyBrackets(c.Brackets, subject.InexactFloat64(), mode)
		if err != nil {
			return result{}, err
		}
		return result{amount: dec(out)}, nil

	case domain.MethodCapped:
		if c.Cap == nil {
			return result{}, domain.Configf("cap", "capped method requires cap")
		}
		var amount decimal.Decimal
		switch {
		case c.Percentage != nil:
			base, err := r.base(c.AppliedTo, defaultBase)
			if err != nil {
				return result{}, err
			}
			amount = base.Mul(dec(*c.Percentage)).Div(hundred)
		case c.Amount != nil:
			amount = dec(*c.Amount)
		default:
			return result{}, domain.Configf("percentage", "capped method requires percentage or amount")
		}
		capped, err := r.applyCap(amount, c.Cap)
		return result{amount: capped}, err

	case domain.MethodFormula:
		if r.p.Formulas == nil {
			return result{}, domain.Configf("formula", "formula evaluation is not enabled")
		}
		vars := make(map[string]float64, len(c.Variables))
		for _, name := range c.Variables {
			v, err := r.variable(name)
			if err != nil {
				return result{}, err
			}
			vars[name] = v.InexactFloat64()
		}
		out, err := r.p.Formulas.Evaluate(c.Formula, c.Variables, vars, r.record)
		if err != nil {
			return result{}, err
		}
		return result{amount: dec(out)}, nil

	case domain.MethodConditional:
		if delegated {
			return result{}, domain.Configf("calculationMethod", "conditional chains cannot be nested")
		}
		return r.conditional(c, defaultBase)

	case "":
		return result{}, domain.Configf("calculationMethod", "calculationMethod is required")

	default:
		return result{}, domain.Configf("calculationMethod", "unknown calculationMethod %q", c.CalculationMethod)
	}
}

// conditional evaluates the chain and applies the winning action.
// NoMatch yields zero.
func (r *run) conditional(c domain.Calculation, defaultBase string) (result, error) {
	res, err := r.p.Evaluator.Chain(c.ConditionalRules, r.record)
	if err != nil {
		return result{}, err
	}
	if !res.Matched {
		return result{}, nil
	}

	a := res.Action
	switch a.Type {
	case domain.ActionAmount:
		return result{amount: dec(*a.Amount), ruleID: res.RuleID}, nil

	case domain.ActionPercentage:
		base, err := r.base(a.AppliedTo, defaultBase)
		if err != nil {
			return result{}, err
		}
		return result{amount: base.Mul(dec(*a.Percentage)).Div(hundred), ruleID: res.RuleID}, nil

	default:
		next := c
		next.CalculationMethod = a.CalculationMethod
		next.ConditionalRules = nil
		if a.AppliedTo != "" {
			next.AppliedTo = a.AppliedTo
		}
		out, err := r.calculate(next, defaultBase, true)
		if err != nil {
			return result{}, err
		}
		out.ruleID = res.RuleID
		return out, nil
	}
}

// subject is the amount a bracket scale is applied to.
func (r *run) subject(c domain.Calculation, defaultBase string) (decimal.Decimal, error) {
	if c.AppliedTo != "" {
		return r.base(c.AppliedTo, defaultBase)
	}
	if c.SystemComponentID != "" {
		return r.componentValue(c.SystemComponentID)
	}
	return r.base("", defaultBase)
}

// componentValue reads a component-library field from the record.
func (r *run) componentValue(id string) (decimal.Decimal, error) {
	comp, err := r.reg.Component(id)
	if err != nil {
		return decimal.Zero, err
	}
	v, err := r.reg.ResolveNumber(comp.ID, r.record)
	if err != nil {
		return decimal.Zero, err
	}
	return dec(v), nil
}

// base resolves a named percentage base: a running total, a computed
// component, a component-library field or a raw record field.
func (r *run) base(name, fallback string) (decimal.Decimal, error) {
	if name == "" {
		name = fallback
	}

	switch name {
	case domain.BaseGrossSalary:
		return r.gross, nil
	case domain.BaseBasicSalary:
		if r.hasBasic {
			return r.basic, nil
		}
		if v, ok := r.record.Number(domain.BaseBasicSalary); ok {
			return dec(v), nil
		}
		return r.gross, nil
	case domain.BaseTaxableIncome:
		return r.taxable, nil
	case domain.BaseNetSalary:
		return r.net, nil
	}

	if v, ok := r.amounts[name]; ok {
		return v, nil
	}
	if _, err := r.reg.Component(name); err == nil {
		return r.componentValue(name)
	}
	if v, ok := r.record.Lookup(name); ok {
		if !v.IsNumeric() {
			return decimal.Zero, &domain.TypeMismatchError{Field: name, Got: v.Kind, Want: domain.KindNumber}
		}
		return dec(v.Num), nil
	}
	return decimal.Zero, &domain.UnknownReferenceError{Kind: "base", ID: name}
}

// variable resolves a formula variable the same way as a base.
func (r *run) variable(name string) (decimal.Decimal, error) {
	v, err := r.base(name, "")
	if err != nil {
		if errors.Is(err, domain.ErrUnknownReference) {
			return decimal.Zero, &domain.MissingFieldError{Field: name}
		}
		return decimal.Zero, err
	}
	return v, nil
}
