package domain

import (
	"time"
)

// LineKind classifies a payslip line.
type LineKind string

const (
	LineEarning          LineKind = "earning"
	LineMandatory        LineKind = "mandatory_deduction"
	LineVoluntary        LineKind = "voluntary_deduction"
	LinePreTaxCredit     LineKind = "pre_tax_credit"
	LineTax              LineKind = "tax"
	LinePostTaxCredit    LineKind = "post_tax_credit"
	LinePostTaxDeduction LineKind = "post_tax_deduction"
	LinePostNet          LineKind = "post_net"
)

// PayslipLine is the computed amount of one configured component.
type PayslipLine struct {
	ComponentID string            `json:"componentId"`
	Code        string            `json:"code"`
	Name        string            `json:"name"`
	Kind        LineKind          `json:"kind"`
	Method      CalculationMethod `json:"method,omitempty"`

	// Computed is the amount before exemptions; Amount is what is paid or withheld.
	Computed float64 `json:"computed"`
	Amount   float64 `json:"amount"`
	Taxable  float64 `json:"taxable,omitempty"`

	EmployerAmount float64  `json:"employerAmount,omitempty"`
	Currency       string   `json:"currency,omitempty"`
	OfficialAmount *float64 `json:"officialAmount,omitempty"`

	MatchedRuleID string `json:"matchedRuleId,omitempty"`
	ExemptionID   string `json:"exemptionId,omitempty"`
}

// CurrencyAmount is a portion of pay in one currency.
type CurrencyAmount struct {
	Currency string  `json:"currency"`
	Amount   float64 `json:"amount"`
}

// Payslip is the result of applying a PayrollConfiguration to one record.
type Payslip struct {
	ID              string    `json:"id"`
	TenantID        string    `json:"tenantId"`
	ConfigurationID string    `json:"configurationId"`
	Timestamp       time.Time `json:"timestamp"`

	Currency string `json:"currency"`
	RegimeID string `json:"regimeId,omitempty"`

	GrossEarnings    float64 `json:"grossEarnings"`
	TaxableIncome    float64 `json:"taxableIncome"`
	PreTaxDeductions float64 `json:"preTaxDeductions"`
	Tax              float64 `json:"tax"`
	TaxRefund        float64 `json:"taxRefund,omitempty"`
	PostTaxItems     float64 `json:"postTaxItems"`
	EmployerCost     float64 `json:"employerCost"`
	NetPay           float64 `json:"netPay"`

	Lines          []PayslipLine    `json:"lines"`
	CurrencySplits []CurrencyAmount `json:"currencySplits,omitempty"`
	Warnings       []string         `json:"warnings,omitempty"`

	Metadata PayslipMetadata `json:"metadata"`
}

// PayslipMetadata contains processing information.
type PayslipMetadata struct {
	TraceID       string `json:"traceId,omitempty"`
	TotalMs       int64  `json:"totalMs"`
	LinesComputed int    `json:"linesComputed"`
	EngineVersion string `json:"engineVersion"`
	ConfigVersion string `json:"configVersion,omitempty"`
}
