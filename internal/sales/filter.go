package sales

import (
	"slices"
	"sort"
	"strings"
	"time"

	"payboard/backend/internal/domain"
)

// ApplyFilters keeps the sales matching every non-nil dimension of filters.
// The input slice is not modified.
func ApplyFilters(sales []domain.NormalizedSale, filters domain.SalesFilterParams) []domain.NormalizedSale {
	match := Matcher(filters)
	out := make([]domain.NormalizedSale, 0, len(sales))
	for _, sale := range sales {
		if match(sale) {
			out = append(out, sale)
		}
	}
	return out
}

// Matcher compiles filters into a predicate. Day bounds and the search term
// are computed once.
func Matcher(filters domain.SalesFilterParams) func(domain.NormalizedSale) bool {
	var search string
	if filters.Search != nil {
		search = strings.ToLower(strings.TrimSpace(*filters.Search))
	}

	var terminal string
	if filters.Terminal != nil {
		terminal = strings.TrimSpace(*filters.Terminal)
	}

	var allowed map[string]struct{}
	if filters.Terminals != nil {
		allowed = make(map[string]struct{}, len(filters.Terminals))
		for _, t := range filters.Terminals {
			allowed[strings.ToLower(strings.TrimSpace(t))] = struct{}{}
		}
	}

	from, to, hasRange := DateBounds(filters)

	return func(sale domain.NormalizedSale) bool {
		if filters.PaymentMethod != nil && sale.PaymentMethod != *filters.PaymentMethod {
			return false
		}
		if filters.Terminal != nil && !strings.EqualFold(sale.Terminal, terminal) {
			return false
		}
		if allowed != nil {
			if _, ok := allowed[strings.ToLower(sale.Terminal)]; !ok {
				return false
			}
		}
		if search != "" && !matchesSearch(sale, search) {
			return false
		}
		if filters.MinAmount != nil && !sale.GrossAmount.Sub(*filters.MinAmount).Abs().LessThan(amountEpsilon) {
			return false
		}
		if hasRange {
			if !from.IsZero() && sale.TransactionDate.Before(from) {
				return false
			}
			if !to.IsZero() && sale.TransactionDate.After(to) {
				return false
			}
		}
		if filters.StartHour != nil || filters.EndHour != nil {
			hour := hourOf(sale.TransactionDate, filters.Location)
			if filters.StartHour != nil && hour < *filters.StartHour {
				return false
			}
			if filters.EndHour != nil && hour > *filters.EndHour {
				return false
			}
		}
		return true
	}
}

// DateBounds widens the filter's From/To to whole calendar days. A From
// without To covers that single day; a To without From is an upper bound only.
func DateBounds(filters domain.SalesFilterParams) (time.Time, time.Time, bool) {
	if filters.From == nil && filters.To == nil {
		return time.Time{}, time.Time{}, false
	}
	var from, to time.Time
	if filters.From != nil {
		loc := filters.Location
		if loc == nil {
			loc = filters.From.Location()
		}
		from, to = DayBounds(*filters.From, loc)
	}
	if filters.To != nil {
		loc := filters.Location
		if loc == nil {
			loc = filters.To.Location()
		}
		_, to = DayBounds(*filters.To, loc)
	}
	return from, to, true
}

func matchesSearch(sale domain.NormalizedSale, term string) bool {
	return strings.Contains(strings.ToLower(sale.Code), term) ||
		strings.Contains(strings.ToLower(sale.Terminal), term) ||
		strings.Contains(strings.ToLower(sale.ClientName), term)
}

func hourOf(at time.Time, loc *time.Location) int {
	if loc != nil {
		at = at.In(loc)
	}
	return at.Hour()
}

// SortByDateDesc orders sales newest first, ties broken by id.
func SortByDateDesc(sales []domain.NormalizedSale) {
	sort.SliceStable(sales, func(i, j int) bool {
		if sales[i].TransactionDate.Equal(sales[j].TransactionDate) {
			return sales[i].ID < sales[j].ID
		}
		return sales[i].TransactionDate.After(sales[j].TransactionDate)
	})
}

// IntersectTerminals narrows an explicit allow-list by another; nil means
// unconstrained.
func IntersectTerminals(current []string, scope []string) []string {
	if current == nil {
		return slices.Clone(scope)
	}
	out := make([]string, 0, len(current))
	for _, t := range current {
		if slices.ContainsFunc(scope, func(s string) bool { return strings.EqualFold(s, t) }) {
			out = append(out, t)
		}
	}
	return out
}
