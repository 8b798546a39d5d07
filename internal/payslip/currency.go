package payslip

import (
	"sort"

	"github.com/opensource-finance/paygrid/internal/domain"
	"github.com/shopspring/decimal"
)

// rate returns the exchange rate from one currency to another.
// Explicit "FROM_TO" pairs win, then the inverse pair, then the per-currency
// rates of the currency list.
func rate(mc *domain.MultiCurrencyConfig, from, to string) (decimal.Decimal, bool) {
	if from == to {
		return decimal.NewFromInt(1), true
	}
	if mc == nil {
		return decimal.Zero, false
	}
	if v, ok := mc.ExchangeRates[from+"_"+to]; ok && v > 0 {
		return dec(v), true
	}
	if v, ok := mc.ExchangeRates[to+"_"+from]; ok && v > 0 {
		return decimal.NewFromInt(1).Div(dec(v)), true
	}

	var fromRate, toRate *float64
	for i := range mc.Currencies {
		c := &mc.Currencies[i]
		switch c.Code {
		case from:
			fromRate = c.ExchangeRate
		case to:
			toRate = c.ExchangeRate
		}
	}
	if from == mc.BaseCurrency {
		one := 1.0
		fromRate = &one
	}
	if to == mc.BaseCurrency {
		one := 1.0
		toRate = &one
	}
	if fromRate == nil || toRate == nil || *fromRate <= 0 || *toRate <= 0 {
		return decimal.Zero, false
	}
	return dec(*toRate).Div(dec(*fromRate)), true
}

func (r *run) enabled() bool {
	return r.cfg.MultiCurrency != nil && r.cfg.MultiCurrency.Enabled
}

// officialAmount reports a deduction in the official currency.
func (r *run) officialAmount(line *domain.PayslipLine, d domain.DeductionComponent) {
	if !r.enabled() || r.cfg.MultiCurrency.OfficialCurrency == "" {
		r.warnf("%s: useOfficialCurrency without an official currency", d.ID)
		return
	}
	from := d.Currency
	if from == "" {
		from = r.cfg.Currency
	}
	to := r.cfg.MultiCurrency.OfficialCurrency

	fx, ok := rate(r.cfg.MultiCurrency, from, to)
	if !ok {
		r.warnf("%s: no exchange rate %s_%s", d.ID, from, to)
		return
	}
	v := round(dec(line.Amount).Mul(fx)).InexactFloat64()
	line.OfficialAmount = &v
}

// currencySplits totals earnings per currency, honouring split payments.
func (r *run) currencySplits() error {
	if !r.enabled() {
		return nil
	}

	totals := make(map[string]decimal.Decimal)
	add := func(cur string, amount decimal.Decimal) {
		totals[cur] = totals[cur].Add(amount)
	}

	for _, e := range r.cfg.Earnings {
		amount, ok := r.amounts[e.ID]
		if !ok {
			continue
		}
		cur := e.Currency
		if cur == "" {
			cur = r.cfg.Currency
		}

		s := e.SplitCurrency
		if s == nil {
			add(cur, amount)
			continue
		}

		primaryCur := s.PrimaryCurrency
		if primaryCur == "" {
			primaryCur = cur
		}
		if s.PrimaryAmount != nil || s.SecondaryAmount != nil {
			if s.PrimaryAmount != nil {
				add(primaryCur, dec(*s.PrimaryAmount))
			}
			if s.SecondaryAmount != nil && s.SecondaryCurrency != "" {
				add(s.SecondaryCurrency, dec(*s.SecondaryAmount))
			}
			continue
		}

		pct := 100.0
		if s.SplitPercentage != nil {
			pct = *s.SplitPercentage
		}
		primary := round(amount.Mul(dec(pct)).Div(hundred))
		secondary := amount.Sub(primary)

		r.addConverted(add, cur, primaryCur, primary, e.ID)
		if s.SecondaryCurrency != "" && !secondary.IsZero() {
			r.addConverted(add, cur, s.SecondaryCurrency, secondary, e.ID)
		} else if !secondary.IsZero() {
			add(cur, secondary)
		}
	}

	codes := make([]string, 0, len(totals))
	for c := range totals {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	for _, c := range codes {
		r.slip.CurrencySplits = append(r.slip.CurrencySplits, domain.CurrencyAmount{
			Currency: c,
			Amount:   round(totals[c]).InexactFloat64(),
		})
	}
	return nil
}

func (r *run) addConverted(add func(string, decimal.Decimal), from, to string, amount decimal.Decimal, earningID string) {
	fx, ok := rate(r.cfg.MultiCurrency, from, to)
	if !ok {
		r.warnf("%s: no exchange rate %s_%s; split reported in %s", earningID, from, to, from)
		add(from, amount)
		return
	}
	add(to, amount.Mul(fx))
}
