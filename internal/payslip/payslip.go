// Package payslip computes a payslip by applying a PayrollConfiguration to
// one employee record. It composes the rule model in internal/rules over
// earnings, deductions, credits, tax and post-net items.
package payslip

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/paygrid/internal/domain"
	"github.com/opensource-finance/paygrid/internal/rules"
	"github.com/shopspring/decimal"
)

// EngineVersion is stamped into payslip metadata.
const EngineVersion = "paygrid-1.0"

// defaultEmployerShare is the employer percentage of a deduction paid by both.
const defaultEmployerShare = 50.0

// Processor computes payslips.
type Processor struct {
	// Evaluator carries the missing-field policy for conditions.
	Evaluator rules.Evaluator

	// Formulas evaluates formula components. Nil disables them.
	Formulas *rules.FormulaEngine
}

// NewProcessor creates a processor with the lenient field policy.
func NewProcessor(formulas *rules.FormulaEngine) *Processor {
	return &Processor{Formulas: formulas}
}

// PayslipInput contains all data needed for one payslip.
type PayslipInput struct {
	TenantID        string
	ConfigurationID string
	TraceID         string
	Config          *domain.PayrollConfiguration
	Record          domain.Record
	StartTime       time.Time
}

// Process applies the configuration to the record.
// Dangling references become warnings and zero lines; malformed
// configuration, type mismatches and missing record fields abort.
func (p *Processor) Process(ctx context.Context, input *PayslipInput) (*domain.Payslip, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if input == nil || input.Config == nil {
		return nil, domain.Configf("", "configuration is required")
	}
	if input.StartTime.IsZero() {
		input.StartTime = time.Now()
	}

	configID := input.ConfigurationID
	if configID == "" {
		configID = input.Config.ID
	}

	r := newRun(p, input.Config, input.Record)
	r.slip = &domain.Payslip{
		ID:              uuid.New().String(),
		TenantID:        input.TenantID,
		ConfigurationID: configID,
		Timestamp:       time.Now().UTC(),
		Currency:        input.Config.Currency,
		Lines:           []domain.PayslipLine{},
	}

	stages := []struct {
		name string
		fn   func() error
	}{
		{"earnings", r.earnings},
		{"deductions", r.deductions},
		{"pre-tax credits", r.preTaxCredits},
		{"tax", r.tax},
		{"tax credits", r.taxCredits},
		{"post-tax", r.postTaxItems},
		{"post-net", r.postNet},
		{"currency", r.currencySplits},
	}
	for _, s := range stages {
		if err := s.fn(); err != nil {
			return nil, fmt.Errorf("%s: %w", s.name, err)
		}
	}

	r.finish()
	r.slip.Metadata = domain.PayslipMetadata{
		TraceID:       input.TraceID,
		TotalMs:       time.Since(input.StartTime).Milliseconds(),
		LinesComputed: len(r.slip.Lines),
		EngineVersion: EngineVersion,
		ConfigVersion: input.Config.Version,
	}
	return r.slip, nil
}

// run is the state of one payslip computation.
type run struct {
	p      *Processor
	cfg    *domain.PayrollConfiguration
	reg    *rules.Registry
	record domain.Record
	slip   *domain.Payslip

	// amounts holds computed component amounts by id and code.
	amounts map[string]decimal.Decimal

	gross     decimal.Decimal
	cashGross decimal.Decimal
	basic     decimal.Decimal
	hasBasic  bool
	taxable   decimal.Decimal
	preTax    decimal.Decimal
	postTax   decimal.Decimal
	employer  decimal.Decimal
	taxDue    decimal.Decimal
	refund    decimal.Decimal
	net       decimal.Decimal

	// taxCreditQueue holds tax_reduction credits until tax is known.
	taxCreditQueue []queuedCredit
}

type queuedCredit struct {
	credit domain.TaxCredit
	value  decimal.Decimal
	kind   domain.LineKind
}

func newRun(p *Processor, cfg *domain.PayrollConfiguration, record domain.Record) *run {
	if record == nil {
		record = domain.Record{}
	}
	return &run{
		p:       p,
		cfg:     cfg,
		reg:     rules.NewRegistry(cfg),
		record:  record,
		amounts: make(map[string]decimal.Decimal),
	}
}

func (r *run) warnf(format string, args ...any) {
	r.slip.Warnings = append(r.slip.Warnings, fmt.Sprintf(format, args...))
}

// recoverable turns a dangling reference into a warning. Any other error is returned.
func (r *run) recoverable(path string, err error) error {
	if errors.Is(err, domain.ErrUnknownReference) {
		r.warnf("%s: %v; line computed as zero", path, err)
		return nil
	}
	return fmt.Errorf("%s: %w", path, err)
}

func (r *run) remember(id, code string, amount decimal.Decimal) {
	if id != "" {
		r.amounts[id] = amount
	}
	if code != "" {
		if _, taken := r.amounts[code]; !taken {
			r.amounts[code] = amount
		}
	}
}

func (r *run) addLine(line domain.PayslipLine) {
	r.slip.Lines = append(r.slip.Lines, line)
}

func (r *run) earnings() error {
	for i, e := range r.cfg.Earnings {
		path := fmt.Sprintf("earnings[%d] (%s)", i, e.ID)

		res, err := r.component(e.Calculation, domain.BaseGrossSalary)
		if err != nil {
			if err := r.recoverable(path, err); err != nil {
				return err
			}
			res = result{}
		}
		amount := round(res.amount)

		taxable := amount
		exemptionID := ""
		if e.TaxabilityStatus == domain.NonTaxable {
			taxable = decimal.Zero
		} else {
			t, ex, err := r.exempt([]string{e.ID}, amount)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			taxable, exemptionID = round(t), ex
		}

		r.gross = r.gross.Add(amount)
		if e.Type != domain.EarningNonCash {
			r.cashGross = r.cashGross.Add(amount)
		}
		if e.BaseType == domain.BaseBase {
			r.basic = r.basic.Add(amount)
			r.hasBasic = true
		}
		r.taxable = r.taxable.Add(taxable)
		r.remember(e.ID, e.Code, amount)

		r.addLine(domain.PayslipLine{
			ComponentID:   e.ID,
			Code:          e.Code,
			Name:          e.Name,
			Kind:          domain.LineEarning,
			Method:        e.CalculationMethod,
			Computed:      amount.InexactFloat64(),
			Amount:        amount.InexactFloat64(),
			Taxable:       taxable.InexactFloat64(),
			Currency:      e.Currency,
			MatchedRuleID: res.ruleID,
			ExemptionID:   exemptionID,
		})
	}
	return nil
}

func (r *run) deductions() error {
	if err := r.deductionList("mandatoryDeductions", r.cfg.MandatoryDeductions, domain.LineMandatory); err != nil {
		return err
	}
	return r.deductionList("voluntaryDeductions", r.cfg.VoluntaryDeductions, domain.LineVoluntary)
}

// deductionList computes deductions. Pre-tax amounts lower taxable income;
// post-tax amounts are withheld from net.
func (r *run) deductionList(kind string, list []domain.DeductionComponent, lineKind domain.LineKind) error {
	for i, d := range list {
		path := fmt.Sprintf("%s[%d] (%s)", kind, i, d.ID)

		line, err := r.deduction(path, d, lineKind)
		if err != nil {
			return err
		}

		amount := decimal.NewFromFloat(line.Amount)
		if d.TaxTreatment == domain.PreTax {
			r.preTax = r.preTax.Add(amount)
			r.taxable = clampZero(r.taxable.Sub(amount))
		} else {
			r.postTax = r.postTax.Add(amount)
		}
		r.addLine(line)
	}
	return nil
}

// deduction computes one deduction line, splitting employee and employer
// portions and applying exemptions to the employee portion.
func (r *run) deduction(path string, d domain.DeductionComponent, lineKind domain.LineKind) (domain.PayslipLine, error) {
	var employee, employerPart decimal.Decimal
	var ruleID string

	if d.PayerSplit == domain.PayerBoth && d.HasSides() {
		var err error
		employee, err = r.side(d.EmployeeAmount, d.EmployeePercentage, d.AppliedToEmployee)
		if err == nil {
			employerPart, err = r.side(d.EmployerAmount, d.EmployerPercentage, d.AppliedToEmployer)
		}
		if err != nil {
			if err := r.recoverable(path, err); err != nil {
				return domain.PayslipLine{}, err
			}
			employee, employerPart = decimal.Zero, decimal.Zero
		}
	} else {
		res, err := r.component(d.Calculation, domain.BaseGrossSalary)
		if err != nil {
			if err := r.recoverable(path, err); err != nil {
				return domain.PayslipLine{}, err
			}
			res = result{}
		}
		ruleID = res.ruleID
		total := round(res.amount)

		switch d.PayerSplit {
		case domain.EmployerOnly:
			employerPart = total
		case domain.PayerBoth:
			share := defaultEmployerShare
			if d.EmployerShare != nil {
				share = *d.EmployerShare
			}
			employerPart = round(total.Mul(decimal.NewFromFloat(share)).Div(hundred))
			employee = total.Sub(employerPart)
		default:
			employee = total
		}
	}

	employee, employerPart = round(employee), round(employerPart)

	keys := []string{d.ID}
	if d.Category != "" {
		keys = append(keys, string(d.Category))
	}
	withheld, exemptionID, err := r.exempt(keys, employee)
	if err != nil {
		return domain.PayslipLine{}, fmt.Errorf("%s: %w", path, err)
	}
	withheld = round(withheld)

	r.employer = r.employer.Add(employerPart)
	r.remember(d.ID, d.Code, withheld)

	line := domain.PayslipLine{
		ComponentID:    d.ID,
		Code:           d.Code,
		Name:           d.Name,
		Kind:           lineKind,
		Method:         d.CalculationMethod,
		Computed:       employee.InexactFloat64(),
		Amount:         withheld.InexactFloat64(),
		EmployerAmount: employerPart.InexactFloat64(),
		Currency:       d.Currency,
		MatchedRuleID:  ruleID,
		ExemptionID:    exemptionID,
	}
	if d.UseOfficialCurrency != nil && *d.UseOfficialCurrency {
		r.officialAmount(&line, d)
	}
	return line, nil
}

// side computes one side of a deduction paid by both parties.
func (r *run) side(amount, percentage *float64, appliedTo string) (decimal.Decimal, error) {
	if amount != nil {
		return decimal.NewFromFloat(*amount), nil
	}
	if percentage == nil {
		return decimal.Zero, nil
	}
	base, err := r.base(appliedTo, domain.BaseGrossSalary)
	if err != nil {
		return decimal.Zero, err
	}
	return base.Mul(decimal.NewFromFloat(*percentage)).Div(hundred), nil
}

// exempt applies the first matching exemption targeting any of keys.
func (r *run) exempt(keys []string, amount decimal.Decimal) (decimal.Decimal, string, error) {
	ex, err := r.p.Evaluator.MatchExemption(r.cfg.Exemptions, keys, r.record)
	if err != nil || ex == nil {
		return amount, "", err
	}
	out, err := rules.ApplyExemption(*ex, amount.InexactFloat64())
	if err != nil {
		return amount, "", err
	}
	return decimal.NewFromFloat(out), ex.ID, nil
}

func (r *run) postTaxItems() error {
	for i, c := range r.cfg.PostTaxCredits {
		path := fmt.Sprintf("postTaxCredits[%d] (%s)", i, c.ID)
		switch c.CreditMethod {
		case domain.TaxReduction:
			// Already set against tax.
			continue
		case domain.IncomeReduction:
		default:
			return fmt.Errorf("%s: %w", path, domain.Configf("creditMethod", "unknown creditMethod %q", c.CreditMethod))
		}
		value, err := r.creditValue(c)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		r.net = r.net.Add(value)
		r.addLine(creditLine(c, domain.LinePostTaxCredit, value))
	}

	for i, d := range r.cfg.PostTaxDeductions {
		path := fmt.Sprintf("postTaxDeductions[%d] (%s)", i, d.ID)
		line, err := r.deduction(path, d, domain.LinePostTaxDeduction)
		if err != nil {
			return err
		}
		amount := decimal.NewFromFloat(line.Amount)
		r.postTax = r.postTax.Add(amount)
		r.net = r.net.Sub(amount)
		r.addLine(line)
	}
	return nil
}

func (r *run) postNet() error {
	for i, item := range r.cfg.PostNetItems {
		path := fmt.Sprintf("postNetItems[%d] (%s)", i, item.ID)

		res, err := r.component(item.AsCalculation(), domain.BaseNetSalary)
		if err != nil {
			if err := r.recoverable(path, err); err != nil {
				return err
			}
			res = result{}
		}
		amount := round(res.amount)

		switch item.Type {
		case domain.PostNetAddition:
			r.net = r.net.Add(amount)
		case domain.PostNetDeduction:
			r.net = r.net.Sub(amount)
		default:
			return fmt.Errorf("%s: %w", path, domain.Configf("type", "unknown post-net type %q", item.Type))
		}
		r.remember(item.ID, item.Code, amount)

		r.addLine(domain.PayslipLine{
			ComponentID:   item.ID,
			Code:          item.Code,
			Name:          item.Name,
			Kind:          domain.LinePostNet,
			Method:        item.CalculationMethod,
			Computed:      amount.InexactFloat64(),
			Amount:        amount.InexactFloat64(),
			MatchedRuleID: res.ruleID,
		})
	}
	return nil
}

// finish copies the running totals into the payslip.
func (r *run) finish() {
	s := r.slip
	s.GrossEarnings = round(r.gross).InexactFloat64()
	s.TaxableIncome = round(r.taxable).InexactFloat64()
	s.PreTaxDeductions = round(r.preTax).InexactFloat64()
	s.Tax = round(r.taxDue).InexactFloat64()
	s.TaxRefund = round(r.refund).InexactFloat64()
	s.PostTaxItems = round(r.postTax).InexactFloat64()
	s.EmployerCost = round(r.gross.Add(r.employer)).InexactFloat64()
	s.NetPay = round(r.net).InexactFloat64()

	if r.net.IsNegative() {
		r.warnf("net pay is negative (%s)", round(r.net).StringFixed(2))
	}
}

// FindLine returns the first line of a component.
func FindLine(slip *domain.Payslip, componentID string) (domain.PayslipLine, bool) {
	for _, l := range slip.Lines {
		if l.ComponentID == componentID {
			return l, true
		}
	}
	return domain.PayslipLine{}, false
}

// LinesOf returns the lines of one kind, in computation order.
func LinesOf(slip *domain.Payslip, kind domain.LineKind) []domain.PayslipLine {
	var out []domain.PayslipLine
	for _, l := range slip.Lines {
		if l.Kind == kind {
			out = append(out, l)
		}
	}
	return out
}
