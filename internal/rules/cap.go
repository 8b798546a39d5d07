package rules

import (
	"github.com/opensource-finance/paygrid/internal/domain"
	"github.com/shopspring/decimal"
)

// ApplyCap limits a computed amount. It never raises the amount and never
// returns a negative value. A nil cap only clamps at zero.
func ApplyCap(computed float64, c *domain.Cap, earningsBase float64) (float64, error) {
	value := decimal.NewFromFloat(computed)
	if c == nil {
		return clampZero(value).InexactFloat64(), nil
	}

	var limit decimal.Decimal
	switch c.Type {
	case domain.CapAnnual, domain.CapMonthly:
		if c.Amount == nil {
			return 0, domain.Configf("cap.amount", "%s cap requires amount", c.Type)
		}
		if *c.Amount < 0 {
			return 0, domain.Configf("cap.amount", "cap amount %v is negative", *c.Amount)
		}
		limit = decimal.NewFromFloat(*c.Amount)

	case domain.CapPercentageOfEarnings:
		if c.Percentage == nil {
			return 0, domain.Configf("cap.percentage", "percentage_of_earnings cap requires percentage")
		}
		if *c.Percentage < 0 {
			return 0, domain.Configf("cap.percentage", "cap percentage %v is negative", *c.Percentage)
		}
		limit = decimal.NewFromFloat(earningsBase).Mul(decimal.NewFromFloat(*c.Percentage)).Div(hundred)

	default:
		return 0, domain.Configf("cap.type", "unknown cap type %q", c.Type)
	}

	return clampZero(decimal.Min(value, limit)).InexactFloat64(), nil
}

func clampZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
