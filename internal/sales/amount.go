package sales

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	flatFeeFactor = decimal.RequireFromString("0.97")
	amountEpsilon = decimal.RequireFromString("0.01")
	hundred       = decimal.NewFromInt(100)
)

// ParseAmount reads BRL amounts written either Brazilian style ("R$ 1.234,56")
// or with a dot decimal separator ("1234.56"). A lone dot followed by exactly
// three digits is read as a thousands separator.
func ParseAmount(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	s = strings.NewReplacer("R$", "", "r$", "", "\u00a0", "", " ", "").Replace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("empty amount")
	}

	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(s, ",") > 1 {
			return decimal.Zero, fmt.Errorf("invalid amount %q", raw)
		}
		s = strings.Replace(s, ",", ".", 1)
	case lastDot >= 0:
		if strings.Count(s, ".") > 1 || len(s)-lastDot-1 == 3 {
			s = strings.ReplaceAll(s, ".", "")
		}
	}

	amount, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	return amount, nil
}

// NetAmount approximates the net value with a flat 3% fee.
func NetAmount(gross decimal.Decimal) decimal.Decimal {
	return gross.Mul(flatFeeFactor).Round(2)
}

// FormatDecimalComma renders 1234.5 as "1234,50".
func FormatDecimalComma(amount decimal.Decimal) string {
	return strings.Replace(amount.StringFixed(2), ".", ",", 1)
}

// FormatBRL renders 1234.5 as "R$ 1.234,50".
func FormatBRL(amount decimal.Decimal) string {
	fixed := amount.Abs().StringFixed(2)
	intPart, frac, _ := strings.Cut(fixed, ".")

	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}

	sign := ""
	if amount.IsNegative() {
		sign = "-"
	}
	return fmt.Sprintf("%sR$ %s,%s", sign, b.String(), frac)
}
