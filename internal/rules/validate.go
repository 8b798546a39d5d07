package rules

import (
	"errors"
	"fmt"
	"sync"

	"github.com/opensource-finance/paygrid/internal/domain"
)

// Severity grades a validation issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one finding of configuration validation.
type Issue struct {
	Severity Severity `json:"severity"`
	Path     string   `json:"path"`
	Message  string   `json:"message"`
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, i := range issues {
		if i.Severity == SeverityError {
			return true
		}
	}
	return false
}

var defaultFormulas = sync.OnceValues(func() (*FormulaEngine, error) {
	return NewFormulaEngine(0)
})

// ValidateConfiguration checks a whole configuration. Errors make the
// configuration unusable; warnings flag dangling references and
// overlapping exemptions that evaluation tolerates.
func ValidateConfiguration(cfg *domain.PayrollConfiguration) []Issue {
	engine, err := defaultFormulas()
	if err != nil {
		return []Issue{{Severity: SeverityError, Path: "formula", Message: err.Error()}}
	}
	return ValidateConfigurationWith(cfg, engine)
}

// ValidateConfigurationWith is ValidateConfiguration using the given formula engine.
func ValidateConfigurationWith(cfg *domain.PayrollConfiguration, formulas *FormulaEngine) []Issue {
	v := &validator{reg: NewRegistry(cfg), formulas: formulas}
	if cfg == nil {
		v.errorf("", "configuration is required")
		return v.issues
	}

	if cfg.Country == "" {
		v.errorf("country", "country is required")
	}
	if cfg.Currency == "" {
		v.errorf("currency", "currency is required")
	}

	seen := make(map[string]bool)
	for i, c := range cfg.ComponentLibrary {
		path := fmt.Sprintf("componentLibrary[%d]", i)
		if c.ID == "" {
			v.errorf(path, "id is required")
		} else if seen[c.ID] {
			v.warnf(path, "duplicate component id %q", c.ID)
		}
		seen[c.ID] = true
		if c.DatabaseField == "" {
			v.warnf(path, "component %q has no databaseField", c.ID)
		}
	}

	for i, e := range cfg.Earnings {
		v.calculation(fmt.Sprintf("earnings[%d]", i), e.Calculation)
		if e.SplitCurrency != nil {
			v.split(fmt.Sprintf("earnings[%d].splitCurrency", i), cfg, e)
		}
	}
	v.deductions("mandatoryDeductions", cfg.MandatoryDeductions)
	v.deductions("voluntaryDeductions", cfg.VoluntaryDeductions)
	v.deductions("postTaxDeductions", cfg.PostTaxDeductions)
	v.credits("preTaxCredits", cfg.PreTaxCredits)
	v.credits("postTaxCredits", cfg.PostTaxCredits)

	if cfg.Tax != nil {
		v.tax("tax", *cfg.Tax)
	}
	for i, r := range cfg.TaxRegimes {
		path := fmt.Sprintf("taxRegimes[%d]", i)
		v.check(validateConditions(r.Conditions, path+".conditions"))
		v.tax(path+".tax", r.Tax)
	}

	for i, p := range cfg.PostNetItems {
		path := fmt.Sprintf("postNetItems[%d]", i)
		if p.Type != domain.PostNetAddition && p.Type != domain.PostNetDeduction {
			v.errorf(path, "unknown type %q", p.Type)
		}
		v.calculation(path, p.AsCalculation())
	}

	v.exemptions(cfg.Exemptions)
	return v.issues
}

type validator struct {
	reg      *Registry
	formulas *FormulaEngine
	issues   []Issue
}

func (v *validator) errorf(path, format string, args ...any) {
	v.issues = append(v.issues, Issue{Severity: SeverityError, Path: path, Message: fmt.Sprintf(format, args...)})
}

func (v *validator) warnf(path, format string, args ...any) {
	v.issues = append(v.issues, Issue{Severity: SeverityWarning, Path: path, Message: fmt.Sprintf(format, args...)})
}

// check records err as an error issue, using its configuration path when it has one.
func (v *validator) check(err error) {
	if err == nil {
		return
	}
	var ce *domain.ConfigurationError
	if errors.As(err, &ce) {
		v.errorf(ce.Path, "%s", ce.Message)
		return
	}
	v.errorf("", "%v", err)
}

func (v *validator) checkAt(path string, err error) {
	if err == nil {
		return
	}
	var ce *domain.ConfigurationError
	if errors.As(err, &ce) {
		p := path
		if ce.Path != "" {
			p = path + "." + ce.Path
		}
		v.errorf(p, "%s", ce.Message)
		return
	}
	v.errorf(path, "%v", err)
}

func (v *validator) calculation(path string, c domain.Calculation) {
	switch c.CalculationMethod {
	case domain.MethodFixedAmount:
		if c.Amount == nil && c.SystemComponentID == "" {
			v.errorf(path, "fixed_amount requires amount or systemComponentId")
		}
	case domain.MethodPercentage:
		if c.Percentage == nil {
			v.errorf(path, "percentage requires percentage")
		}
	case domain.MethodProgressiveSlab, domain.MethodTableLookup:
		v.checkAt(path, ValidateBrackets(c.Brackets))
	case domain.MethodCapped:
		if c.Percentage == nil && c.Amount == nil {
			v.errorf(path, "capped requires percentage or amount")
		}
		if c.Cap == nil {
			v.errorf(path, "capped requires cap")
		}
	case domain.MethodFormula:
		if v.formulas != nil {
			v.checkAt(path, v.formulas.Validate(c.Formula, c.Variables))
		}
	case domain.MethodConditional:
		if len(c.ConditionalRules) == 0 {
			v.warnf(path, "conditional method without rules always yields zero")
		}
		v.checkAt(path, ValidateChain(c.ConditionalRules))
	case "":
		v.errorf(path, "calculationMethod is required")
	default:
		v.errorf(path, "unknown calculationMethod %q", c.CalculationMethod)
	}

	if c.SystemComponentID != "" {
		if _, err := v.reg.Component(c.SystemComponentID); err != nil {
			v.warnf(path+".systemComponentId", "%v", err)
		}
	}
	if c.AppliedTo != "" {
		v.base(path+".appliedTo", c.AppliedTo)
	}
	if c.Cap != nil {
		if _, err := ApplyCap(0, c.Cap, 0); err != nil {
			v.checkAt(path, err)
		}
	}
}

// base warns when a percentage base names nothing known.
func (v *validator) base(path, name string) {
	switch name {
	case domain.BaseGrossSalary, domain.BaseBasicSalary, domain.BaseTaxableIncome, domain.BaseNetSalary:
		return
	}
	if _, err := v.reg.Earning(name); err == nil {
		return
	}
	if _, err := v.reg.Deduction(name); err == nil {
		return
	}
	if _, err := v.reg.Component(name); err == nil {
		return
	}
	v.warnf(path, "base %q does not resolve; the record field of that name is used", name)
}

func (v *validator) deductions(kind string, list []domain.DeductionComponent) {
	for i, d := range list {
		path := fmt.Sprintf("%s[%d]", kind, i)
		switch d.PayerSplit {
		case "", domain.EmployeeOnly, domain.EmployerOnly, domain.PayerBoth:
		default:
			v.errorf(path, "unknown payerSplit %q", d.PayerSplit)
		}
		if d.EmployerShare != nil && (*d.EmployerShare < 0 || *d.EmployerShare > 100) {
			v.errorf(path+".employerShare", "employerShare %v must be within 0..100", *d.EmployerShare)
		}
		if d.PayerSplit == domain.PayerBoth && d.HasSides() {
			if d.AppliedToEmployee != "" {
				v.base(path+".appliedToEmployee", d.AppliedToEmployee)
			}
			if d.AppliedToEmployer != "" {
				v.base(path+".appliedToEmployer", d.AppliedToEmployer)
			}
			continue
		}
		v.calculation(path, d.Calculation)
	}
}

func (v *validator) credits(kind string, list []domain.TaxCredit) {
	for i, c := range list {
		path := fmt.Sprintf("%s[%d]", kind, i)
		switch c.CreditMethod {
		case domain.IncomeReduction, domain.TaxReduction:
		default:
			v.errorf(path, "unknown creditMethod %q", c.CreditMethod)
		}
		if c.Amount == nil && c.Percentage == nil && c.AmountPerDependent == nil {
			v.errorf(path, "credit requires amount, percentage or amountPerDependent")
		}
		switch c.Refundability {
		case "", domain.NonRefundable, domain.Refundable:
		case domain.PartlyRefundable:
			if c.RefundablePercentage == nil {
				v.errorf(path, "partial refundability requires refundablePercentage")
			}
		default:
			v.errorf(path, "unknown refundability %q", c.Refundability)
		}
		if p := c.PhaseOut; p != nil {
			switch p.Reduction {
			case domain.PhaseOutLinear:
				if p.EndIncome <= p.StartIncome {
					v.errorf(path+".phaseOut", "endIncome %v must exceed startIncome %v", p.EndIncome, p.StartIncome)
				}
			case domain.PhaseOutStep:
			default:
				v.errorf(path+".phaseOut", "unknown reduction %q", p.Reduction)
			}
		}
	}
}

func (v *validator) tax(path string, t domain.TaxConfiguration) {
	switch t.TaxSystemType {
	case domain.TaxNone:
	case domain.TaxFlat:
		if t.Rate == nil {
			v.errorf(path, "flat_tax requires rate")
		} else if *t.Rate < 0 {
			v.errorf(path, "rate %v is negative", *t.Rate)
		}
	case domain.TaxProgressiveMarginal, domain.TaxSlabBracket:
		v.checkAt(path, ValidateBrackets(t.Brackets))
	case domain.TaxGraduatedScale:
		switch t.CalculationMethod {
		case domain.ModeMarginal, domain.ModeSlab:
		default:
			v.errorf(path, "graduated_scale requires calculationMethod marginal or slab, got %q", t.CalculationMethod)
		}
		v.checkAt(path, ValidateBrackets(t.Brackets))
	default:
		v.errorf(path, "unknown taxSystemType %q", t.TaxSystemType)
	}
	if t.AppliedTo != "" {
		v.base(path+".appliedTo", t.AppliedTo)
	}
}

func (v *validator) split(path string, cfg *domain.PayrollConfiguration, e domain.EarningComponent) {
	s := e.SplitCurrency
	if cfg.MultiCurrency == nil || !cfg.MultiCurrency.Enabled {
		v.warnf(path, "split currency on %q without multiCurrency enabled", e.ID)
	}
	if s.SplitPercentage != nil && (*s.SplitPercentage < 0 || *s.SplitPercentage > 100) {
		v.errorf(path, "splitPercentage %v must be within 0..100", *s.SplitPercentage)
	}
}

func (v *validator) exemptions(list []domain.ExemptionRule) {
	first := make(map[string]int)
	for i, ex := range list {
		path := fmt.Sprintf("exemptions[%d]", i)

		switch ex.TargetType {
		case domain.TargetSpecificComponent:
			if ex.TargetComponentID == "" {
				v.errorf(path, "specific_component requires targetComponentId")
			} else if !v.reg.ExemptionTargetExists(ex) {
				v.warnf(path, "target %q does not resolve; the exemption never applies", ex.TargetComponentID)
			}
		case domain.TargetTax, domain.TargetProfessionalTax, domain.TargetSocialSecurity:
		default:
			v.errorf(path, "unknown targetType %q", ex.TargetType)
		}

		v.check(validateConditions(ex.Conditions, path+".conditions"))
		if _, err := ApplyExemption(ex, 0); err != nil {
			v.check(err)
		}

		key := ex.TargetKey()
		if j, ok := first[key]; ok {
			v.warnf(path, "overlaps exemptions[%d] on target %q; the earlier rule wins", j, key)
			continue
		}
		first[key] = i
	}
}
