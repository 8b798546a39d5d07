package domain

// TaxBracket is one tier of a progressive scale.
// Min is inclusive, Max exclusive; a nil Max is unbounded.
type TaxBracket struct {
	Min  float64  `json:"min"`
	Max  *float64 `json:"max"`
	Rate float64  `json:"rate"` // percent
	Name string   `json:"name,omitempty"`
}

// BracketMode selects how a bracket scale is applied.
type BracketMode string

const (
	// ModeMarginal taxes each bracket's portion at its own rate.
	ModeMarginal BracketMode = "marginal"
	// ModeSlab taxes the entire amount at the rate of the bracket containing it.
	ModeSlab BracketMode = "slab"
)

// CapType is the kind of ceiling applied to a computed amount.
type CapType string

const (
	CapAnnual               CapType = "annual"
	CapMonthly              CapType = "monthly"
	CapPercentageOfEarnings CapType = "percentage_of_earnings"
)

// Cap is a ceiling on a computed amount.
type Cap struct {
	Type       CapType  `json:"type"`
	Amount     *float64 `json:"amount,omitempty"`
	Percentage *float64 `json:"percentage,omitempty"`
	CapType    string   `json:"capType,omitempty"`
	AppliedTo  string   `json:"appliedTo,omitempty"`
}
