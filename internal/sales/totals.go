package sales

import (
	"github.com/shopspring/decimal"

	"payboard/backend/internal/domain"
)

type MethodTotals struct {
	Gross decimal.Decimal `json:"gross"`
	Net   decimal.Decimal `json:"net"`
	Count int             `json:"count"`
}

type Totals struct {
	Gross           decimal.Decimal                       `json:"gross"`
	Net             decimal.Decimal                       `json:"net"`
	Count           int                                   `json:"count"`
	AverageTicket   decimal.Decimal                       `json:"average_ticket"`
	ByPaymentMethod map[domain.PaymentMethod]MethodTotals `json:"by_payment_method"`
	ByStatus        map[domain.SaleStatus]int             `json:"by_status"`
}

// CalculateTotals recomputes totals over sales using the flat 3% fee.
func CalculateTotals(sales []domain.NormalizedSale) Totals {
	return CalculateTotalsWithPlan(sales, nil)
}

// CalculateTotalsWithPlan uses the client's fee plan for net amounts when one
// is given.
func CalculateTotalsWithPlan(sales []domain.NormalizedSale, plan *domain.FeePlan) Totals {
	totals := Totals{
		Gross:           decimal.Zero,
		Net:             decimal.Zero,
		AverageTicket:   decimal.Zero,
		ByPaymentMethod: make(map[domain.PaymentMethod]MethodTotals),
		ByStatus:        make(map[domain.SaleStatus]int),
	}
	for _, sale := range sales {
		net := NetWithPlan(sale, plan)
		totals.Gross = totals.Gross.Add(sale.GrossAmount)
		totals.Net = totals.Net.Add(net)
		totals.Count++

		byMethod := totals.ByPaymentMethod[sale.PaymentMethod]
		byMethod.Gross = byMethod.Gross.Add(sale.GrossAmount)
		byMethod.Net = byMethod.Net.Add(net)
		byMethod.Count++
		totals.ByPaymentMethod[sale.PaymentMethod] = byMethod

		totals.ByStatus[sale.Status]++
	}
	if totals.Count > 0 {
		totals.AverageTicket = totals.Gross.Div(decimal.NewFromInt(int64(totals.Count))).Round(2)
	}
	return totals
}
