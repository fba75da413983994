package sales

import (
	"github.com/shopspring/decimal"

	"payboard/backend/internal/domain"
)

// RateFor picks the plan rate for a sale: an exact installment match wins
// over a wildcard (Installments == 0) rate.
func RateFor(plan *domain.FeePlan, method domain.PaymentMethod, installments int) (decimal.Decimal, bool) {
	if plan == nil {
		return decimal.Zero, false
	}
	var wildcard *domain.FeeRate
	for i := range plan.Rates {
		rate := &plan.Rates[i]
		if rate.PaymentMethod != method {
			continue
		}
		if rate.Installments == installments {
			return rate.Percent, true
		}
		if rate.Installments == 0 && wildcard == nil {
			wildcard = rate
		}
	}
	if wildcard != nil {
		return wildcard.Percent, true
	}
	return decimal.Zero, false
}

// NetWithPlan applies the plan rate, or the flat 3% when no rate matches.
func NetWithPlan(sale domain.NormalizedSale, plan *domain.FeePlan) decimal.Decimal {
	percent, ok := RateFor(plan, sale.PaymentMethod, sale.Installments)
	if !ok {
		return NetAmount(sale.GrossAmount)
	}
	factor := decimal.NewFromInt(1).Sub(percent.Div(hundred))
	return sale.GrossAmount.Mul(factor).Round(2)
}
