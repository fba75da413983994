package httpapi

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"payboard/backend/internal/domain"
	"payboard/backend/internal/sales"
	"payboard/backend/internal/service"
	"payboard/backend/internal/store"
)

const multipartMemory = 8 << 20

// saleView adds the display fields the dashboards render directly.
type saleView struct {
	domain.NormalizedSale
	DisplayDate  string `json:"display_date"`
	PaymentLabel string `json:"payment_label"`
	StatusLabel  string `json:"status_label"`
}

type salesPageView struct {
	Sales       []saleView `json:"sales"`
	TotalCount  int        `json:"totalCount"`
	TotalPages  int        `json:"totalPages"`
	CurrentPage int        `json:"currentPage"`
	Error       string     `json:"error,omitempty"`
}

func (a *API) pageView(result domain.PaginatedSalesResult) salesPageView {
	loc := a.service.Location()
	views := make([]saleView, 0, len(result.Sales))
	for _, sale := range result.Sales {
		views = append(views, saleView{
			NormalizedSale: sale,
			DisplayDate:    sale.DisplayDate(loc),
			PaymentLabel:   sale.PaymentMethod.Label(),
			StatusLabel:    sale.Status.Label(),
		})
	}
	return salesPageView{
		Sales:       views,
		TotalCount:  result.TotalCount,
		TotalPages:  result.TotalPages,
		CurrentPage: result.CurrentPage,
	}
}

// parseSalesFilters reads the dashboard filter bar from the query string.
// Dates accept yyyy-mm-dd, dd/mm/yyyy or RFC 3339 and are read in the
// service location.
func (a *API) parseSalesFilters(query url.Values) (domain.SalesFilterParams, error) {
	loc := a.service.Location()
	filters := domain.SalesFilterParams{Location: loc}

	if raw := strings.ToUpper(strings.TrimSpace(query.Get("payment_method"))); raw != "" {
		method := domain.PaymentMethod(raw)
		if !method.Valid() {
			return filters, fmt.Errorf("%w: unknown payment_method %q", store.ErrInvalidInput, raw)
		}
		filters.PaymentMethod = &method
	}
	if raw := strings.TrimSpace(query.Get("terminal")); raw != "" {
		filters.Terminal = &raw
	}
	if raw := strings.TrimSpace(query.Get("terminals")); raw != "" {
		for _, terminal := range strings.Split(raw, ",") {
			if terminal = strings.TrimSpace(terminal); terminal != "" {
				filters.Terminals = append(filters.Terminals, terminal)
			}
		}
	}
	if raw := strings.TrimSpace(query.Get("search")); raw != "" {
		filters.Search = &raw
	}
	if raw := strings.TrimSpace(query.Get("min_amount")); raw != "" {
		amount, err := sales.ParseAmount(raw)
		if err != nil {
			return filters, fmt.Errorf("%w: min_amount: %v", store.ErrInvalidInput, err)
		}
		filters.MinAmount = &amount
	}

	var err error
	if filters.StartHour, err = parseHour(query, "start_hour"); err != nil {
		return filters, err
	}
	if filters.EndHour, err = parseHour(query, "end_hour"); err != nil {
		return filters, err
	}
	if filters.From, err = parseDay(query, "from", loc); err != nil {
		return filters, err
	}
	if filters.To, err = parseDay(query, "to", loc); err != nil {
		return filters, err
	}
	return filters, nil
}

func parseHour(query url.Values, key string) (*int, error) {
	raw := strings.TrimSpace(query.Get(key))
	if raw == "" {
		return nil, nil
	}
	hour, err := strconv.Atoi(raw)
	if err != nil || hour < 0 || hour > 23 {
		return nil, fmt.Errorf("%w: %s must be an hour between 0 and 23", store.ErrInvalidInput, key)
	}
	return &hour, nil
}

func parseDay(query url.Values, key string, loc *time.Location) (*time.Time, error) {
	raw := strings.TrimSpace(query.Get(key))
	if raw == "" {
		return nil, nil
	}
	at, err := sales.ParseDate(raw, loc)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", store.ErrInvalidInput, key, err)
	}
	return &at, nil
}

func parsePage(query url.Values) (int, int) {
	page := parsePositiveLimit(query.Get("page"), 1, 0)
	pageSize := parsePositiveLimit(query.Get("page_size"), service.DefaultPageSize, service.MaxPageSize)
	return page, pageSize
}

// handleSales serves the sales table. CLIENT sessions always get the
// client-scoped query.
func (a *API) handleSales(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	session := sessionOf(r)
	if session.Role == domain.RoleClient {
		a.serveClientSales(w, r, session.ClientID)
		return
	}

	filters, err := a.parseSalesFilters(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	page, pageSize := parsePage(r.URL.Query())
	result, err := a.service.GetSalesPaginated(r.Context(), page, pageSize, filters)
	a.writeSalesPage(w, result, err)
}

func (a *API) handleClientSales(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	a.serveClientSales(w, r, r.PathValue("id"))
}

func (a *API) serveClientSales(w http.ResponseWriter, r *http.Request, clientID string) {
	filters, err := a.parseSalesFilters(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	page, pageSize := parsePage(r.URL.Query())
	result, err := a.service.GetClientSalesPaginated(r.Context(), clientID, page, pageSize, filters)
	a.writeSalesPage(w, result, err)
}

// writeSalesPage still sends the empty page on query failures so the table
// has something to render next to the error.
func (a *API) writeSalesPage(w http.ResponseWriter, result domain.PaginatedSalesResult, err error) {
	view := a.pageView(result)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, view)
	case errors.Is(err, service.ErrSalesQuery):
		a.logger.Error("sales page failed", zap.Error(err))
		view.Error = "falha ao consultar vendas"
		writeJSON(w, http.StatusInternalServerError, view)
	default:
		a.writeServiceError(w, err)
	}
}

func (a *API) handleSalesDateRange(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	dateRange, err := a.service.GetDateRange(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dateRange)
}

func (a *API) handleSalesTerminals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), service.DefaultPageSize, service.MaxPageSize)
	terminals, err := a.service.GetUniqueTerminals(r.Context(), r.URL.Query().Get("search"), limit)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"terminals": terminals})
}

func (a *API) handleSalesTotals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	filters, err := a.parseSalesFilters(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	totals, err := a.service.GetSalesTotals(r.Context(), r.URL.Query().Get("client_id"), filters)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"totals":          totals,
		"gross_formatted": sales.FormatBRL(totals.Gross),
		"net_formatted":   sales.FormatBRL(totals.Net),
	})
}

func (a *API) handleSalesExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	filters, err := a.parseSalesFilters(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var buf bytes.Buffer
	if err := a.service.ExportSalesCSV(r.Context(), &buf, r.URL.Query().Get("client_id"), filters); err != nil {
		a.writeServiceError(w, err)
		return
	}

	filename := fmt.Sprintf("vendas-%s.csv", time.Now().In(a.service.Location()).Format("20060102-1504"))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (a *API) handleSalesImport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxImportBody)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid upload: %w", err))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("file field required"))
		return
	}
	defer file.Close()

	report, err := a.service.ImportSales(r.Context(), header.Filename, file)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"report": report})
}
