package domain

import "time"

// PayrollConfiguration is the rule set authored for one country.
// It is the document persisted, cached and exported.
type PayrollConfiguration struct {
	ID       string `json:"id,omitempty"`
	TenantID string `json:"tenantId,omitempty"`
	Name     string `json:"name,omitempty"`
	Version  string `json:"version,omitempty"`

	Country       string               `json:"country"`
	Currency      string               `json:"currency"`
	MultiCurrency *MultiCurrencyConfig `json:"multiCurrency,omitempty"`

	ComponentLibrary    []SystemComponent    `json:"componentLibrary"`
	Earnings            []EarningComponent   `json:"earnings"`
	MandatoryDeductions []DeductionComponent `json:"mandatoryDeductions"`
	VoluntaryDeductions []DeductionComponent `json:"voluntaryDeductions"`
	PreTaxCredits       []TaxCredit          `json:"preTaxCredits"`
	Tax                 *TaxConfiguration    `json:"tax"`
	TaxRegimes          []TaxRegime          `json:"taxRegimes,omitempty"`
	PostTaxCredits      []TaxCredit          `json:"postTaxCredits"`
	PostTaxDeductions   []DeductionComponent `json:"postTaxDeductions"`
	PostNetItems        []PostNetItem        `json:"postNetItems"`
	Exemptions          []ExemptionRule      `json:"exemptions,omitempty"`

	CreatedAt *time.Time `json:"createdAt,omitempty"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

// ComponentCategory groups library components.
type ComponentCategory string

const (
	CategoryEarning   ComponentCategory = "earning"
	CategoryDeduction ComponentCategory = "deduction"
	CategoryCredit    ComponentCategory = "credit"
	CategoryTax       ComponentCategory = "tax"
	CategoryOther     ComponentCategory = "other"
)

// SystemComponent is a reusable named field of the employee record
// (basic salary, hours worked) that rules reference instead of manual values.
type SystemComponent struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	Code          string            `json:"code"`
	DatabaseField string            `json:"databaseField"`
	Category      ComponentCategory `json:"category"`
	Description   string            `json:"description,omitempty"`
}

// SplitCurrency pays one earning in two currencies.
type SplitCurrency struct {
	PrimaryCurrency   string   `json:"primaryCurrency"`
	PrimaryAmount     *float64 `json:"primaryAmount,omitempty"`
	SecondaryCurrency string   `json:"secondaryCurrency,omitempty"`
	SecondaryAmount   *float64 `json:"secondaryAmount,omitempty"`
	SplitPercentage   *float64 `json:"splitPercentage,omitempty"` // share paid in the primary currency
}

// Named bases a percentage can be applied to. Any other appliedTo value
// names an earning, a deduction or a component-library field.
const (
	BaseGrossSalary   = "gross_salary"
	BaseBasicSalary   = "basic_salary"
	BaseTaxableIncome = "taxable_income"
	BaseNetSalary     = "net_salary"
)

// Calculation holds the fields shared by every computed component.
type Calculation struct {
	CalculationMethod CalculationMethod `json:"calculationMethod"`
	SystemComponentID string            `json:"systemComponentId,omitempty"`
	Amount            *float64          `json:"amount,omitempty"`
	Percentage        *float64          `json:"percentage,omitempty"`
	AppliedTo         string            `json:"appliedTo,omitempty"`
	Formula           string            `json:"formula,omitempty"`
	Variables         []string          `json:"variables"`
	Conditions        []string          `json:"conditions"`
	Cap               *Cap              `json:"cap,omitempty"`
	Brackets          []TaxBracket      `json:"brackets"`
	ConditionalRules  []ConditionalRule `json:"conditionalRules"`
}

// EarningType, Regularity, BaseType and TaxabilityStatus describe an earning.
type (
	EarningType      string
	Regularity       string
	BaseType         string
	TaxabilityStatus string
)

const (
	EarningCash    EarningType = "cash"
	EarningNonCash EarningType = "non_cash"

	Regular   Regularity = "regular"
	Irregular Regularity = "irregular"

	BaseBase          BaseType = "base"
	BaseSupplementary BaseType = "supplementary"

	FullyTaxable     TaxabilityStatus = "fully_taxable"
	PartiallyTaxable TaxabilityStatus = "partially_taxable"
	NonTaxable       TaxabilityStatus = "non_taxable"
)

// EarningComponent is one line of gross pay.
type EarningComponent struct {
	ID               string           `json:"id"`
	Name             string           `json:"name"`
	Code             string           `json:"code"`
	Type             EarningType      `json:"type"`
	Regularity       Regularity       `json:"regularity"`
	BaseType         BaseType         `json:"baseType"`
	TaxabilityStatus TaxabilityStatus `json:"taxabilityStatus"`
	Calculation
	Currency      string         `json:"currency,omitempty"`
	SplitCurrency *SplitCurrency `json:"splitCurrency,omitempty"`
}

// Deduction attributes.
type (
	Authority    string
	TaxTreatment string
	PayerSplit   string
)

const (
	AuthorityMandatory Authority = "mandatory"
	AuthorityVoluntary Authority = "voluntary"

	PreTax  TaxTreatment = "pre_tax"
	PostTax TaxTreatment = "post_tax"

	EmployeeOnly PayerSplit = "employee_only"
	EmployerOnly PayerSplit = "employer_only"
	PayerBoth    PayerSplit = "both"
)

// DeductionComponent is a statutory or voluntary deduction.
type DeductionComponent struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Code         string       `json:"code"`
	Authority    Authority    `json:"authority"`
	TaxTreatment TaxTreatment `json:"taxTreatment"`
	PayerSplit   PayerSplit   `json:"payerSplit"`
	Calculation
	// Category links a statutory deduction to a generic exemption target
	// such as professional_tax or social_security.
	Category      TargetType `json:"category,omitempty"`
	EmployerShare *float64   `json:"employerShare,omitempty"` // percent, payerSplit both

	// Per-side amounts when payerSplit is both.
	EmployeeAmount     *float64 `json:"employeeAmount,omitempty"`
	EmployerAmount     *float64 `json:"employerAmount,omitempty"`
	EmployeePercentage *float64 `json:"employeePercentage,omitempty"`
	EmployerPercentage *float64 `json:"employerPercentage,omitempty"`
	AppliedToEmployee  string   `json:"appliedToEmployee,omitempty"`
	AppliedToEmployer  string   `json:"appliedToEmployer,omitempty"`

	Currency            string `json:"currency,omitempty"`
	UseOfficialCurrency *bool  `json:"useOfficialCurrency,omitempty"`
}

// HasSides reports whether the deduction carries separate employee and
// employer amounts or percentages.
func (d DeductionComponent) HasSides() bool {
	return d.EmployeeAmount != nil || d.EmployerAmount != nil ||
		d.EmployeePercentage != nil || d.EmployerPercentage != nil
}

// Credit attributes.
type (
	CreditType    string
	CreditMethod  string
	Refundability string
	PhaseOutMode  string
)

const (
	CreditPreTax  CreditType = "pre_tax"
	CreditPostTax CreditType = "post_tax"

	IncomeReduction CreditMethod = "income_reduction"
	TaxReduction    CreditMethod = "tax_reduction"

	NonRefundable    Refundability = "non_refundable"
	Refundable       Refundability = "refundable"
	PartlyRefundable Refundability = "partial"

	PhaseOutLinear PhaseOutMode = "linear"
	PhaseOutStep   PhaseOutMode = "step"
)

// PhaseOut reduces a credit as income rises.
type PhaseOut struct {
	StartIncome float64      `json:"startIncome"`
	EndIncome   float64      `json:"endIncome"`
	Reduction   PhaseOutMode `json:"reduction"`
}

// TaxCredit reduces taxable income or tax due.
type TaxCredit struct {
	ID                   string        `json:"id"`
	Name                 string        `json:"name"`
	Code                 string        `json:"code"`
	CreditType           CreditType    `json:"creditType"`
	CreditMethod         CreditMethod  `json:"creditMethod"`
	Amount               *float64      `json:"amount,omitempty"`
	Percentage           *float64      `json:"percentage,omitempty"`
	Refundability        Refundability `json:"refundability,omitempty"`
	RefundablePercentage *float64      `json:"refundablePercentage,omitempty"`
	PhaseOut             *PhaseOut     `json:"phaseOut,omitempty"`
	AmountPerDependent   *float64      `json:"amountPerDependent,omitempty"`
	MaxDependents        *int          `json:"maxDependents,omitempty"`
	IncludeSpouse        *bool         `json:"includeSpouse,omitempty"`
}

// TaxSystemType is the shape of an income tax.
type TaxSystemType string

const (
	TaxProgressiveMarginal TaxSystemType = "progressive_marginal"
	TaxSlabBracket         TaxSystemType = "slab_bracket"
	TaxFlat                TaxSystemType = "flat_tax"
	TaxGraduatedScale      TaxSystemType = "graduated_scale"
	TaxNone                TaxSystemType = "no_tax"
)

// TaxConfiguration is an income tax definition.
type TaxConfiguration struct {
	TaxSystemType     TaxSystemType `json:"taxSystemType"`
	Rate              *float64      `json:"rate,omitempty"`
	Brackets          []TaxBracket  `json:"brackets"`
	AppliedTo         string        `json:"appliedTo,omitempty"`
	CalculationMethod BracketMode   `json:"calculationMethod,omitempty"`
}

// TaxRegime is a conditionally applicable tax configuration,
// selected by employee attributes.
type TaxRegime struct {
	ID              string           `json:"id"`
	Name            string           `json:"name"`
	Conditions      []Condition      `json:"conditions,omitempty"`
	LogicalOperator LogicalOperator  `json:"logicalOperator,omitempty"`
	Tax             TaxConfiguration `json:"tax"`
}

// Operator returns the effective logical operator of the regime.
func (r TaxRegime) Operator() LogicalOperator {
	if r.LogicalOperator == "" {
		return LogicalAnd
	}
	return r.LogicalOperator
}

// PostNetItemType is whether an item adds to or deducts from net pay.
type PostNetItemType string

const (
	PostNetDeduction PostNetItemType = "deduction"
	PostNetAddition  PostNetItemType = "addition"
)

// PostNetItem adjusts pay after net has been computed.
type PostNetItem struct {
	ID                string            `json:"id"`
	Name              string            `json:"name"`
	Code              string            `json:"code"`
	Type              PostNetItemType   `json:"type"`
	CalculationMethod CalculationMethod `json:"calculationMethod"`
	SystemComponentID string            `json:"systemComponentId,omitempty"`
	Amount            *float64          `json:"amount,omitempty"`
	Percentage        *float64          `json:"percentage,omitempty"`
	AppliedTo         string            `json:"appliedTo,omitempty"`
	ConditionalRules  []ConditionalRule `json:"conditionalRules"`
}

// AsCalculation exposes the item's calculation fields.
func (p PostNetItem) AsCalculation() Calculation {
	return Calculation{
		CalculationMethod: p.CalculationMethod,
		SystemComponentID: p.SystemComponentID,
		Amount:            p.Amount,
		Percentage:        p.Percentage,
		AppliedTo:         p.AppliedTo,
		ConditionalRules:  p.ConditionalRules,
	}
}

// CurrencyConfig describes one currency in a multi-currency setup.
type CurrencyConfig struct {
	Code         string   `json:"code"`
	Name         string   `json:"name"`
	IsOfficial   bool     `json:"isOfficial"`
	ExchangeRate *float64 `json:"exchangeRate,omitempty"`
}

// MultiCurrencyConfig enables paying in more than one currency.
// ExchangeRates are keyed "FROM_TO", e.g. "USD_ZIG".
type MultiCurrencyConfig struct {
	Enabled          bool               `json:"enabled"`
	BaseCurrency     string             `json:"baseCurrency"`
	OfficialCurrency string             `json:"officialCurrency"`
	Currencies       []CurrencyConfig   `json:"currencies"`
	ExchangeRates    map[string]float64 `json:"exchangeRates"`
}
