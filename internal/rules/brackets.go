package rules

import (
	"fmt"

	"github.com/opensource-finance/paygrid/internal/domain"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// ValidateBrackets checks that a scale is non-empty, sorted and contiguous:
// every bracket but the last is bounded and the next one starts exactly
// where it ends.
func ValidateBrackets(brackets []domain.TaxBracket) error {
	if len(brackets) == 0 {
		return domain.Configf("brackets", "at least one bracket is required")
	}

	last := len(brackets) - 1
	for i, b := range brackets {
		path := fmt.Sprintf("brackets[%d]", i)

		if b.Min < 0 {
			return domain.Configf(path, "min %v is negative", b.Min)
		}
		if b.Rate < 0 {
			return domain.Configf(path, "rate %v is negative", b.Rate)
		}
		if b.Max == nil {
			if i != last {
				return domain.Configf(path, "only the last bracket may be unbounded")
			}
			continue
		}
		if *b.Max <= b.Min {
			return domain.Configf(path, "max %v must exceed min %v", *b.Max, b.Min)
		}
		if i == last {
			continue
		}

		next := brackets[i+1].Min
		switch {
		case next > *b.Max:
			return domain.Configf(path, "gap between max %v and next min %v", *b.Max, next)
		case next < *b.Max:
			return domain.Configf(path, "overlap between max %v and next min %v", *b.Max, next)
		}
	}
	return nil
}

// ApplyBrackets computes the amount due on a scale.
// Marginal mode taxes each bracket's portion at its own rate; slab mode
// taxes the whole amount at the rate of the bracket containing it.
func ApplyBrackets(brackets []domain.TaxBracket, amount float64, mode domain.BracketMode) (float64, error) {
	if amount < 0 {
		return 0, domain.Configf("amount", "bracket base %v is negative", amount)
	}
	if err := ValidateBrackets(brackets); err != nil {
		return 0, err
	}

	top := brackets[len(brackets)-1]
	amt := decimal.NewFromFloat(amount)

	switch mode {
	case domain.ModeMarginal:
		// Income above a bounded top bracket is left untaxed.
		return marginal(brackets, amt).InexactFloat64(), nil

	case domain.ModeSlab:
		if top.Max != nil && amount >= *top.Max {
			return 0, domain.Configf("brackets", "amount %v is outside the top bracket [%v, %v)", amount, top.Min, *top.Max)
		}
		b, ok := slabFor(brackets, amount)
		if !ok {
			return 0, nil
		}
		return amt.Mul(decimal.NewFromFloat(b.Rate)).Div(hundred).InexactFloat64(), nil

	default:
		return 0, domain.Configf("calculationMethod", "unknown bracket mode %q", mode)
	}
}

func marginal(brackets []domain.TaxBracket, amount decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, b := range brackets {
		lo := decimal.NewFromFloat(b.Min)
		if amount.LessThanOrEqual(lo) {
			break
		}
		hi := amount
		if b.Max != nil {
			hi = decimal.Min(amount, decimal.NewFromFloat(*b.Max))
		}
		portion := hi.Sub(lo)
		total = total.Add(portion.Mul(decimal.NewFromFloat(b.Rate)).Div(hundred))
	}
	return total
}

// slabFor returns the bracket whose [min, max) contains amount.
func slabFor(brackets []domain.TaxBracket, amount float64) (domain.TaxBracket, bool) {
	for i := len(brackets) - 1; i >= 0; i-- {
		b := brackets[i]
		if amount >= b.Min && (b.Max == nil || amount < *b.Max) {
			return b, true
		}
	}
	return domain.TaxBracket{}, false
}
