package sales

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"payboard/backend/internal/domain"
)

const utf8BOM = "\ufeff"

var ExportHeader = []string{
	"Status",
	"Tipo de Pagamento",
	"Valor Bruto",
	"Data de Transação",
	"Parcelas",
	"Terminal",
	"Bandeira",
	"Origem",
}

// WriteCSV writes sales as a semicolon separated file prefixed with a UTF-8
// BOM, dates formatted in loc.
func WriteCSV(w io.Writer, sales []domain.NormalizedSale, loc *time.Location) error {
	if _, err := io.WriteString(w, utf8BOM); err != nil {
		return err
	}

	writer := csv.NewWriter(w)
	writer.Comma = ';'
	if err := writer.Write(ExportHeader); err != nil {
		return err
	}

	for i, sale := range sales {
		if err := writer.Write(exportRow(sale, loc)); err != nil {
			return err
		}
		if (i+1)%1000 == 0 {
			writer.Flush()
		}
	}

	writer.Flush()
	return writer.Error()
}

func exportRow(sale domain.NormalizedSale, loc *time.Location) []string {
	return []string{
		sale.Status.Label(),
		sale.PaymentType,
		FormatDecimalComma(sale.GrossAmount),
		sale.DisplayDate(loc),
		strconv.Itoa(sale.Installments),
		sale.Terminal,
		sale.Brand,
		sale.Source,
	}
}
