package postgres

import (
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"payboard/backend/internal/domain"
	"payboard/backend/internal/sales"
)

// whereBuilder collects AND-ed predicates. Each "?" in a clause becomes the
// next positional parameter.
type whereBuilder struct {
	clauses []string
	args    []any
}

func (w *whereBuilder) add(clause string, args ...any) {
	var b strings.Builder
	next := 0
	for _, r := range clause {
		if r == '?' && next < len(args) {
			w.args = append(w.args, args[next])
			next++
			fmt.Fprintf(&b, "$%d", len(w.args))
			continue
		}
		b.WriteRune(r)
	}
	w.clauses = append(w.clauses, b.String())
}

func (w *whereBuilder) sql() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(w.clauses, " AND ")
}

// placeholder returns the index the next appended argument will take.
func (w *whereBuilder) placeholder(arg any) string {
	w.args = append(w.args, arg)
	return fmt.Sprintf("$%d", len(w.args))
}

// salesWhere translates the filter bundle into SQL with the same semantics as
// the in-process matcher.
func salesWhere(filters domain.SalesFilterParams, fallback *time.Location) *whereBuilder {
	w := &whereBuilder{}
	if filters.PaymentMethod != nil {
		w.add("payment_method = ?", string(*filters.PaymentMethod))
	}
	if filters.Terminal != nil {
		w.add("lower(terminal) = lower(?)", strings.TrimSpace(*filters.Terminal))
	}
	if filters.Terminals != nil {
		if len(filters.Terminals) == 0 {
			w.add("false")
		} else {
			lowered := make([]string, 0, len(filters.Terminals))
			for _, t := range filters.Terminals {
				lowered = append(lowered, strings.ToLower(strings.TrimSpace(t)))
			}
			w.add("lower(terminal) = ANY(?::text[])", pq.Array(lowered))
		}
	}
	if filters.Search != nil {
		if term := strings.ToLower(strings.TrimSpace(*filters.Search)); term != "" {
			pattern := "%" + escapeLike(term) + "%"
			w.add("(lower(code) LIKE ? OR lower(terminal) LIKE ? OR lower(client_name) LIKE ?)", pattern, pattern, pattern)
		}
	}
	if filters.MinAmount != nil {
		w.add("abs(gross_amount - ?::numeric) < 0.01", filters.MinAmount.String())
	}
	if from, to, ok := sales.DateBounds(filters); ok {
		if !from.IsZero() {
			w.add("transaction_date >= ?", from)
		}
		if !to.IsZero() {
			w.add("transaction_date <= ?", to)
		}
	}
	if filters.StartHour != nil || filters.EndHour != nil {
		loc := filters.Location
		if loc == nil {
			loc = fallback
		}
		hour := "EXTRACT(HOUR FROM transaction_date AT TIME ZONE " + zoneExpr(w, loc) + ")"
		if filters.StartHour != nil {
			w.add(hour+" >= ?", *filters.StartHour)
		}
		if filters.EndHour != nil {
			w.add(hour+" <= ?", *filters.EndHour)
		}
	}
	return w
}

// zoneExpr binds loc as an IANA name when it has one, otherwise as a fixed
// UTC offset interval.
func zoneExpr(w *whereBuilder, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	name := loc.String()
	if name == "UTC" || strings.Contains(name, "/") {
		return w.placeholder(name)
	}
	_, offset := time.Now().In(loc).Zone()
	sign := "+"
	if offset < 0 {
		sign = "-"
		offset = -offset
	}
	return w.placeholder(fmt.Sprintf("%s%02d:%02d", sign, offset/3600, offset%3600/60)) + "::interval"
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
