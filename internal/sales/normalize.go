package sales

import (
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"payboard/backend/internal/domain"
	"payboard/backend/internal/logging"
	"payboard/backend/internal/xid"
)

const defaultSource = "import"

// RawSale carries either a direct-insert row (typed Method, Timestamp and
// Amount) or a spreadsheet row (free-text PaymentType, locale strings). Typed
// fields win when both are present.
type RawSale struct {
	ID              string
	Code            string
	Status          string
	Method          domain.PaymentMethod
	PaymentType     string
	Amount          *decimal.Decimal
	GrossAmount     string
	Timestamp       *time.Time
	TransactionDate string
	InstallmentN    int
	Installments    string
	Terminal        string
	Brand           string
	Source          string
	ClientID        string
	ClientName      string
}

type Normalizer struct {
	Location *time.Location
	// LegacyPixFallback classifies unrecognized payment labels as PIX instead
	// of UNKNOWN.
	LegacyPixFallback bool
	Logger            *zap.Logger
	Now               func() time.Time
}

func NewNormalizer(logger *zap.Logger, loc *time.Location) *Normalizer {
	if loc == nil {
		loc = time.UTC
	}
	return &Normalizer{
		Location: loc,
		Logger:   logging.OrNop(logger),
		Now:      time.Now,
	}
}

// Normalize never fails: unparseable fields are logged and replaced by a
// best-effort value so one bad row cannot abort a bulk import.
func (n *Normalizer) Normalize(raw RawSale) domain.NormalizedSale {
	method := raw.Method
	if method == "" || !method.Valid() {
		method = n.ClassifyPaymentMethod(raw.PaymentType)
	}

	sale := domain.NormalizedSale{
		ID:              strings.TrimSpace(raw.ID),
		Code:            strings.TrimSpace(raw.Code),
		Status:          n.status(raw.Status),
		PaymentMethod:   method,
		PaymentType:     method.Label(),
		GrossAmount:     n.amount(raw),
		TransactionDate: n.date(raw),
		Installments:    n.installments(raw),
		Terminal:        strings.TrimSpace(raw.Terminal),
		Brand:           brandLabel(raw.Brand, method),
		Source:          strings.TrimSpace(raw.Source),
		ClientID:        strings.TrimSpace(raw.ClientID),
		ClientName:      strings.TrimSpace(raw.ClientName),
	}
	if sale.Source == "" {
		sale.Source = defaultSource
	}
	if sale.ID == "" {
		sale.ID = xid.Stable("sale",
			sale.Code,
			sale.Terminal,
			sale.TransactionDate.UTC().Format(time.RFC3339),
			sale.GrossAmount.StringFixed(2),
			string(sale.PaymentMethod),
			strconv.Itoa(sale.Installments),
		)
	}
	return sale
}

// NormalizeBatch normalizes the rows of one file. Rows with neither id nor code
// that repeat every other field are distinct sales: the n-th repeat mixes n
// into its derived id, so re-importing the same file yields the same ids.
func (n *Normalizer) NormalizeBatch(rows []RawSale) []domain.NormalizedSale {
	out := make([]domain.NormalizedSale, 0, len(rows))
	repeats := make(map[string]int, len(rows))
	for _, raw := range rows {
		sale := n.Normalize(raw)
		if strings.TrimSpace(raw.ID) == "" && sale.Code == "" {
			seen := repeats[sale.ID]
			repeats[sale.ID] = seen + 1
			if seen > 0 {
				sale.ID = xid.Stable("sale", sale.ID, strconv.Itoa(seen))
			}
		}
		out = append(out, sale)
	}
	return out
}

// ClassifyPaymentMethod matches labels case- and accent-insensitively.
func (n *Normalizer) ClassifyPaymentMethod(label string) domain.PaymentMethod {
	folded := fold(label)
	switch {
	case strings.Contains(folded, "credito"), strings.Contains(folded, "credit"):
		return domain.PaymentCredit
	case strings.Contains(folded, "debito"), strings.Contains(folded, "debit"):
		return domain.PaymentDebit
	case strings.Contains(folded, "pix"):
		return domain.PaymentPix
	}
	if n.LegacyPixFallback {
		return domain.PaymentPix
	}
	if folded != "" {
		n.Logger.Warn("unrecognized payment type", zap.String("payment_type", label))
	}
	return domain.PaymentUnknown
}

func (n *Normalizer) amount(raw RawSale) decimal.Decimal {
	amount := decimal.Zero
	if raw.Amount != nil {
		amount = *raw.Amount
	} else {
		parsed, err := ParseAmount(raw.GrossAmount)
		if err != nil {
			n.Logger.Warn("sale amount fallback to zero", zap.String("gross_amount", raw.GrossAmount), zap.Error(err))
		} else {
			amount = parsed
		}
	}
	if amount.IsNegative() {
		n.Logger.Warn("negative sale amount clamped to zero", zap.String("gross_amount", amount.String()))
		return decimal.Zero
	}
	return amount.Round(2)
}

func (n *Normalizer) date(raw RawSale) time.Time {
	if raw.Timestamp != nil && !raw.Timestamp.IsZero() {
		return raw.Timestamp.In(n.Location)
	}
	at, err := ParseDate(raw.TransactionDate, n.Location)
	if err != nil {
		now := n.Now().In(n.Location)
		n.Logger.Warn("sale date fallback to current time",
			zap.String("transaction_date", raw.TransactionDate),
			zap.Time("fallback", now),
			zap.Error(err),
		)
		return now
	}
	return at
}

func (n *Normalizer) installments(raw RawSale) int {
	if raw.InstallmentN > 0 {
		return raw.InstallmentN
	}
	value := strings.TrimSpace(raw.Installments)
	end := strings.IndexFunc(value, func(r rune) bool { return !unicode.IsDigit(r) })
	if end == -1 {
		end = len(value)
	}
	count, err := strconv.Atoi(value[:end])
	if err != nil || count < 1 {
		if value != "" && !strings.Contains(fold(value), "vista") {
			n.Logger.Debug("installments default to 1", zap.String("installments", raw.Installments))
		}
		return 1
	}
	return count
}

func (n *Normalizer) status(label string) domain.SaleStatus {
	folded := fold(label)
	switch {
	case folded == "":
		return domain.SaleApproved
	case containsAny(folded, "aprov", "approved", "pago", "paid", "sucesso", "success", "confirm"):
		return domain.SaleApproved
	case containsAny(folded, "pend", "process", "aguard"):
		return domain.SalePending
	case containsAny(folded, "recus", "rejeit", "reject", "negad", "denied", "cancel", "estorn", "fail", "falh"):
		return domain.SaleRejected
	}
	n.Logger.Warn("unrecognized sale status", zap.String("status", label))
	return domain.SalePending
}

var knownBrands = map[string]string{
	"visa":       "Visa",
	"mastercard": "Mastercard",
	"master":     "Mastercard",
	"elo":        "Elo",
	"amex":       "Amex",
	"hipercard":  "Hipercard",
	"hiper":      "Hipercard",
	"cabal":      "Cabal",
	"pix":        "Pix",
}

func brandLabel(raw string, method domain.PaymentMethod) string {
	if method == domain.PaymentPix {
		return "Pix"
	}
	folded := fold(raw)
	if known, ok := knownBrands[folded]; ok {
		return known
	}
	return strings.TrimSpace(raw)
}

func containsAny(s string, needles ...string) bool {
	for _, needle := range needles {
		if strings.Contains(s, needle) {
			return true
		}
	}
	return false
}
