package payslip

import (
	"fmt"

	"github.com/opensource-finance/paygrid/internal/domain"
	"github.com/opensource-finance/paygrid/internal/rules"
	"github.com/shopspring/decimal"
)

// Record fields read by credits.
const (
	FieldDependents   = "dependents"
	FieldHasSpouse    = "has_spouse"
	FieldAnnualIncome = "annual_income"
)

func (r *run) preTaxCredits() error {
	for i, c := range r.cfg.PreTaxCredits {
		path := fmt.Sprintf("preTaxCredits[%d] (%s)", i, c.ID)
		value, err := r.creditValue(c)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}

		switch c.CreditMethod {
		case domain.IncomeReduction:
			r.taxable = clampZero(r.taxable.Sub(value))
			r.addLine(creditLine(c, domain.LinePreTaxCredit, value))
		case domain.TaxReduction:
			r.taxCreditQueue = append(r.taxCreditQueue, queuedCredit{credit: c, value: value, kind: domain.LinePreTaxCredit})
		default:
			return fmt.Errorf("%s: %w", path, domain.Configf("creditMethod", "unknown creditMethod %q", c.CreditMethod))
		}
	}

	// Post-tax credits that reduce tax are known before tax is computed.
	for i, c := range r.cfg.PostTaxCredits {
		if c.CreditMethod != domain.TaxReduction {
			continue
		}
		value, err := r.creditValue(c)
		if err != nil {
			return fmt.Errorf("postTaxCredits[%d] (%s): %w", i, c.ID, err)
		}
		r.taxCreditQueue = append(r.taxCreditQueue, queuedCredit{credit: c, value: value, kind: domain.LinePostTaxCredit})
	}
	return nil
}

// creditValue is the credit amount before it is set against income or tax:
// a fixed amount or a percentage of gross, plus dependents, less phase-out.
func (r *run) creditValue(c domain.TaxCredit) (decimal.Decimal, error) {
	value := decimal.Zero
	switch {
	case c.Amount != nil:
		value = dec(*c.Amount)
	case c.Percentage != nil:
		value = r.gross.Mul(dec(*c.Percentage)).Div(hundred)
	}

	if c.AmountPerDependent != nil {
		n := 0.0
		if d, ok := r.record.Number(FieldDependents); ok && d > 0 {
			n = d
		}
		if c.MaxDependents != nil && n > float64(*c.MaxDependents) {
			n = float64(*c.MaxDependents)
		}
		if c.IncludeSpouse != nil && *c.IncludeSpouse {
			if s, ok := r.record.Number(FieldHasSpouse); ok && s == 1 {
				n++
			}
		}
		value = value.Add(dec(*c.AmountPerDependent).Mul(dec(n)))
	}

	if c.PhaseOut != nil {
		income := r.gross
		if v, ok := r.record.Number(FieldAnnualIncome); ok {
			income = dec(v)
		}
		reduced, err := phaseOut(value, *c.PhaseOut, income)
		if err != nil {
			return decimal.Zero, err
		}
		value = reduced
	}
	return round(clampZero(value)), nil
}

// phaseOut shrinks a credit as income rises. Linear mode reduces it
// proportionally between startIncome and endIncome; step mode removes it
// entirely from startIncome.
func phaseOut(value decimal.Decimal, p domain.PhaseOut, income decimal.Decimal) (decimal.Decimal, error) {
	start := dec(p.StartIncome)
	if income.LessThan(start) {
		return value, nil
	}

	switch p.Reduction {
	case domain.PhaseOutStep:
		return decimal.Zero, nil
	case domain.PhaseOutLinear:
		end := dec(p.EndIncome)
		if !end.GreaterThan(start) {
			return decimal.Zero, domain.Configf("phaseOut", "endIncome %v must exceed startIncome %v", p.EndIncome, p.StartIncome)
		}
		if income.GreaterThanOrEqual(end) {
			return decimal.Zero, nil
		}
		remaining := end.Sub(income).Div(end.Sub(start))
		return value.Mul(remaining), nil
	default:
		return decimal.Zero, domain.Configf("phaseOut.reduction", "unknown reduction %q", p.Reduction)
	}
}

func creditLine(c domain.TaxCredit, kind domain.LineKind, value decimal.Decimal) domain.PayslipLine {
	return domain.PayslipLine{
		ComponentID: c.ID,
		Code:        c.Code,
		Name:        c.Name,
		Kind:        kind,
		Computed:    value.InexactFloat64(),
		Amount:      value.InexactFloat64(),
	}
}

// tax computes income tax under the first matching regime, or the default
// tax configuration when no regime applies.
func (r *run) tax() error {
	tc := r.cfg.Tax
	id, name := string(domain.TargetTax), "Income Tax"

	for i := range r.cfg.TaxRegimes {
		regime := &r.cfg.TaxRegimes[i]
		ok, err := r.p.Evaluator.Group(regime.Conditions, regime.Operator(), r.record)
		if err != nil {
			return fmt.Errorf("taxRegimes[%d] (%s): %w", i, regime.ID, err)
		}
		if ok {
			tc = &regime.Tax
			id, name = regime.ID, regime.Name
			r.slip.RegimeID = regime.ID
			break
		}
	}
	if tc == nil {
		return nil
	}

	base, err := r.base(tc.AppliedTo, domain.BaseTaxableIncome)
	if err != nil {
		if err := r.recoverable("tax.appliedTo", err); err != nil {
			return err
		}
		base = decimal.Zero
	}

	due, err := taxOn(*tc, base)
	if err != nil {
		return err
	}
	due = round(due)

	keys := []string{string(domain.TargetTax)}
	if r.slip.RegimeID != "" {
		keys = []string{r.slip.RegimeID, string(domain.TargetTax)}
	}
	after, exemptionID, err := r.exempt(keys, due)
	if err != nil {
		return err
	}
	r.taxDue = round(after)

	r.addLine(domain.PayslipLine{
		ComponentID: id,
		Code:        string(tc.TaxSystemType),
		Name:        name,
		Kind:        domain.LineTax,
		Computed:    due.InexactFloat64(),
		Amount:      r.taxDue.InexactFloat64(),
		Taxable:     base.InexactFloat64(),
		ExemptionID: exemptionID,
	})
	return nil
}

func taxOn(tc domain.TaxConfiguration, base decimal.Decimal) (decimal.Decimal, error) {
	var mode domain.BracketMode
	switch tc.TaxSystemType {
	case domain.TaxNone:
		return decimal.Zero, nil
	case domain.TaxFlat:
		if tc.Rate == nil {
			return decimal.Zero, domain.Configf("tax.rate", "flat_tax requires rate")
		}
		return base.Mul(dec(*tc.Rate)).Div(hundred), nil
	case domain.TaxProgressiveMarginal:
		mode = domain.ModeMarginal
	case domain.TaxSlabBracket:
		mode = domain.ModeSlab
	case domain.TaxGraduatedScale:
		mode = tc.CalculationMethod
	default:
		return decimal.Zero, domain.Configf("tax.taxSystemType", "unknown taxSystemType %q", tc.TaxSystemType)
	}

	out, err := rules.ApplyBrackets(tc.Brackets, base.InexactFloat64(), mode)
	if err != nil {
		return decimal.Zero, err
	}
	return dec(out), nil
}

// taxCredits sets tax_reduction credits against tax due, in declaration
// order, then derives net pay before post-tax items.
func (r *run) taxCredits() error {
	for _, q := range r.taxCreditQueue {
		c := q.credit
		used := decimal.Min(q.value, r.taxDue)

		switch c.Refundability {
		case "", domain.NonRefundable:
			r.taxDue = r.taxDue.Sub(used)
		case domain.Refundable:
			r.taxDue = r.taxDue.Sub(used)
			r.refund = r.refund.Add(q.value.Sub(used))
		case domain.PartlyRefundable:
			pct := 0.0
			if c.RefundablePercentage != nil {
				pct = *c.RefundablePercentage
			}
			r.taxDue = r.taxDue.Sub(used)
			r.refund = r.refund.Add(round(q.value.Sub(used).Mul(dec(pct)).Div(hundred)))
		default:
			return fmt.Errorf("credit %s: %w", c.ID, domain.Configf("refundability", "unknown refundability %q", c.Refundability))
		}
		r.addLine(creditLine(c, q.kind, q.value))
	}

	r.net = r.cashGross.Sub(r.preTax).Sub(r.postTax).Sub(r.taxDue).Add(r.refund)
	return nil
}
