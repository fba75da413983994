package sales

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

var ErrUnsupportedFile = errors.New("unsupported import file")

type column int

const (
	colID column = iota
	colCode
	colStatus
	colPaymentType
	colGrossAmount
	colTransactionDate
	colInstallments
	colTerminal
	colBrand
	colSource
	colClientID
	colClientName
)

var headerAliases = map[string]column{
	"id":                    colID,
	"codigo":                colCode,
	"code":                  colCode,
	"nsu":                   colCode,
	"autorizacao":           colCode,
	"codigo da transacao":   colCode,
	"status":                colStatus,
	"situacao":              colStatus,
	"tipo de pagamento":     colPaymentType,
	"forma de pagamento":    colPaymentType,
	"metodo de pagamento":   colPaymentType,
	"meio de pagamento":     colPaymentType,
	"modalidade":            colPaymentType,
	"payment type":          colPaymentType,
	"payment method":        colPaymentType,
	"valor bruto":           colGrossAmount,
	"valor":                 colGrossAmount,
	"valor da venda":        colGrossAmount,
	"gross amount":          colGrossAmount,
	"amount":                colGrossAmount,
	"data de transacao":     colTransactionDate,
	"data da transacao":     colTransactionDate,
	"data da venda":         colTransactionDate,
	"data/hora":             colTransactionDate,
	"data":                  colTransactionDate,
	"transaction date":      colTransactionDate,
	"parcelas":              colInstallments,
	"qtd parcelas":          colInstallments,
	"installments":          colInstallments,
	"terminal":              colTerminal,
	"numero do terminal":    colTerminal,
	"serial":                colTerminal,
	"terminal id":           colTerminal,
	"bandeira":              colBrand,
	"brand":                 colBrand,
	"origem":                colSource,
	"source":                colSource,
	"cliente id":            colClientID,
	"client id":             colClientID,
	"cliente":               colClientName,
	"nome do cliente":       colClientName,
	"estabelecimento":       colClientName,
	"client name":           colClientName,
}

// ReadFile decodes an uploaded .csv or .xlsx file into raw sale rows. Fully
// blank rows are dropped.
func ReadFile(filename string, r io.Reader) ([]RawSale, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv", ".txt":
		return ReadCSV(r)
	case ".xlsx", ".xlsm":
		return ReadXLSX(r)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFile, filepath.Ext(filename))
	}
}

// ReadCSV sniffs the delimiter (';' or ',') from the header line.
func ReadCSV(r io.Reader) ([]RawSale, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimPrefix(data, []byte(utf8BOM))

	firstLine, _, _ := bufio.NewReader(bytes.NewReader(data)).ReadLine()
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	if bytes.Count(firstLine, []byte(";")) > bytes.Count(firstLine, []byte(",")) {
		reader.Comma = ';'
	}

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	return rowsToRaw(records, false)
}

// ReadXLSX reads the first worksheet. Unformatted date cells arrive as serial
// day numbers and are converted here; CSV never gets that treatment.
func ReadXLSX(r io.Reader) ([]RawSale, error) {
	book, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer book.Close()

	sheets := book.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: workbook has no sheets", ErrUnsupportedFile)
	}
	rows, err := book.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read xlsx rows: %w", err)
	}
	return rowsToRaw(rows, true)
}

func rowsToRaw(rows [][]string, serialDates bool) ([]RawSale, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrUnsupportedFile)
	}

	index := make(map[column]int)
	for i, cell := range rows[0] {
		if col, ok := headerAliases[foldHeader(cell)]; ok {
			if _, seen := index[col]; !seen {
				index[col] = i
			}
		}
	}
	if _, ok := index[colGrossAmount]; !ok {
		return nil, fmt.Errorf("%w: missing amount column", ErrUnsupportedFile)
	}

	out := make([]RawSale, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if isBlank(row) {
			continue
		}
		cell := func(col column) string {
			i, ok := index[col]
			if !ok || i >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[i])
		}
		date := cell(colTransactionDate)
		if serialDates {
			date = serialDateText(date)
		}
		out = append(out, RawSale{
			ID:              cell(colID),
			Code:            cell(colCode),
			Status:          cell(colStatus),
			PaymentType:     cell(colPaymentType),
			GrossAmount:     cell(colGrossAmount),
			TransactionDate: date,
			Installments:    cell(colInstallments),
			Terminal:        cell(colTerminal),
			Brand:           cell(colBrand),
			Source:          cell(colSource),
			ClientID:        cell(colClientID),
			ClientName:      cell(colClientName),
		})
	}
	return out, nil
}

func isBlank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
