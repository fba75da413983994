package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"payboard/backend/internal/domain"
	"payboard/backend/internal/sales"
	"payboard/backend/internal/store"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 500
	importBatchSize = 500

	salesCachePrefix = "sales:"
	dateRangeKey     = salesCachePrefix + "date-range"
	terminalsPrefix  = salesCachePrefix + "terminals:"
)

// ErrSalesQuery tags failures of the paginated sales query. The accompanying
// result is always an empty page, so callers that ignore the error still get
// a renderable value.
var ErrSalesQuery = errors.New("sales query failed")

func normalizePage(page int, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return page, pageSize
}

func emptyPage(page int) domain.PaginatedSalesResult {
	return domain.PaginatedSalesResult{Sales: []domain.NormalizedSale{}, CurrentPage: page}
}

func (s *Service) withLocation(filters domain.SalesFilterParams) domain.SalesFilterParams {
	if filters.Location == nil {
		filters.Location = s.loc
	}
	return filters
}

// GetSalesPaginated pushes filters and paging down to the repository. CLIENT
// and PARTNER sessions only see the terminals they own.
func (s *Service) GetSalesPaginated(ctx context.Context, page int, pageSize int, filters domain.SalesFilterParams) (domain.PaginatedSalesResult, error) {
	page, pageSize = normalizePage(page, pageSize)

	scoped, _, ok, err := s.visibleSales(ctx, "", filters)
	if err != nil {
		return emptyPage(page), s.tagQueryError(err)
	}
	if !ok {
		return emptyPage(page), nil
	}
	return s.querySalesPage(ctx, page, pageSize, scoped)
}

// GetClientSalesPaginated restricts the query to terminals owned by clientID.
// A client without machines gets an empty page and no sales query is issued.
func (s *Service) GetClientSalesPaginated(ctx context.Context, clientID string, page int, pageSize int, filters domain.SalesFilterParams) (domain.PaginatedSalesResult, error) {
	page, pageSize = normalizePage(page, pageSize)

	clientID, err := s.resolveClient(ctx, clientID)
	if err != nil {
		return emptyPage(page), err
	}
	if clientID == "" {
		return emptyPage(page), store.ErrInvalidInput
	}
	scoped, _, ok, err := s.visibleSales(ctx, clientID, filters)
	if err != nil {
		return emptyPage(page), s.tagQueryError(err)
	}
	if !ok {
		return emptyPage(page), nil
	}
	return s.querySalesPage(ctx, page, pageSize, scoped)
}

func (s *Service) querySalesPage(ctx context.Context, page int, pageSize int, filters domain.SalesFilterParams) (domain.PaginatedSalesResult, error) {
	result, err := s.repo.QuerySales(ctx, domain.SalesQuery{
		Page:     page,
		PageSize: pageSize,
		Filters:  s.withLocation(filters),
	})
	if err != nil {
		s.logger.Error("paginated sales query failed", zap.Int("page", page), zap.Int("page_size", pageSize), zap.Error(err))
		return emptyPage(page), fmt.Errorf("%w: %w", ErrSalesQuery, err)
	}

	if result.Sales == nil {
		result.Sales = []domain.NormalizedSale{}
	}
	return domain.PaginatedSalesResult{
		Sales:       result.Sales,
		TotalCount:  result.TotalCount,
		TotalPages:  sales.TotalPages(result.TotalCount, pageSize),
		CurrentPage: page,
	}, nil
}

// tagQueryError keeps access errors as they are and tags everything else as
// a failed sales query.
func (s *Service) tagQueryError(err error) error {
	if errors.Is(err, store.ErrForbidden) || errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrInvalidInput) {
		return err
	}
	s.logger.Error("resolve sales scope failed", zap.Error(err))
	return fmt.Errorf("%w: %w", ErrSalesQuery, err)
}

// resolveClient returns the client a request acts on. CLIENT sessions are
// pinned to their own client and PARTNER sessions may only name clients
// they brought in.
func (s *Service) resolveClient(ctx context.Context, requested string) (string, error) {
	clientID, err := scopeClientID(ctx, strings.TrimSpace(requested))
	if err != nil || clientID == "" {
		return clientID, err
	}
	session, ok := SessionFromContext(ctx)
	if !ok || session.Role != domain.RolePartner {
		return clientID, nil
	}
	client, err := s.repo.GetClient(ctx, clientID)
	if err != nil {
		return "", err
	}
	if client.PartnerID != session.UserID {
		return "", store.ErrForbidden
	}
	return clientID, nil
}

// visibleSales narrows filters to what the session may see, optionally for
// one client. ok is false when no terminal is visible at all.
func (s *Service) visibleSales(ctx context.Context, requested string, filters domain.SalesFilterParams) (domain.SalesFilterParams, string, bool, error) {
	clientID, err := s.resolveClient(ctx, requested)
	if err != nil {
		return filters, "", false, err
	}
	if clientID != "" {
		scoped, ok, err := s.scopeToClients(ctx, []string{clientID}, filters)
		return scoped, clientID, ok, err
	}

	session, hasSession := SessionFromContext(ctx)
	if !hasSession || session.Role != domain.RolePartner {
		return filters, "", true, nil
	}
	clientIDs, err := s.partnerClientIDs(ctx, session.UserID)
	if err != nil {
		return filters, "", false, err
	}
	scoped, ok, err := s.scopeToClients(ctx, clientIDs, filters)
	return scoped, "", ok, err
}

func (s *Service) partnerClientIDs(ctx context.Context, partnerID string) ([]string, error) {
	clients, err := s.repo.ListClients(ctx)
	if err != nil {
		return nil, fmt.Errorf("list partner clients: %w", err)
	}
	ids := make([]string, 0, len(clients))
	for _, client := range clients {
		if client.PartnerID == partnerID {
			ids = append(ids, client.ID)
		}
	}
	return ids, nil
}

// scopeToClients injects the terminal identifiers of the clients' machines
// as an allow-list. ok is false when the resulting allow-list is empty.
func (s *Service) scopeToClients(ctx context.Context, clientIDs []string, filters domain.SalesFilterParams) (domain.SalesFilterParams, bool, error) {
	identifiers := make([]string, 0, len(clientIDs)*2)
	for _, clientID := range clientIDs {
		machines, err := s.repo.ListMachinesByClient(ctx, clientID)
		if err != nil {
			return filters, false, fmt.Errorf("machines of client %s: %w", clientID, err)
		}
		for _, machine := range machines {
			identifiers = append(identifiers, machine.Identifiers()...)
		}
	}
	if len(identifiers) == 0 {
		return filters, false, nil
	}

	filters.Terminals = sales.IntersectTerminals(filters.Terminals, identifiers)
	return filters, len(filters.Terminals) > 0, nil
}

func (s *Service) GetDateRange(ctx context.Context) (domain.SalesDateRange, error) {
	var cached domain.SalesDateRange
	if hit, err := s.cache.GetJSON(ctx, dateRangeKey, &cached); err != nil {
		s.logger.Warn("query cache read failed", zap.String("key", dateRangeKey), zap.Error(err))
	} else if hit {
		return cached, nil
	}

	dateRange, err := s.repo.SalesDateRange(ctx)
	if err != nil {
		return domain.SalesDateRange{}, fmt.Errorf("sales date range: %w", err)
	}
	s.storeCached(ctx, dateRangeKey, dateRange)
	return dateRange, nil
}

// GetUniqueTerminals returns terminals whose id contains search, most used
// first.
func (s *Service) GetUniqueTerminals(ctx context.Context, search string, limit int) ([]domain.TerminalUsage, error) {
	search = strings.TrimSpace(search)
	if limit < 1 || limit > MaxPageSize {
		limit = DefaultPageSize
	}
	key := terminalsPrefix + strconv.Itoa(limit) + ":" + strings.ToLower(search)

	var cached []domain.TerminalUsage
	if hit, err := s.cache.GetJSON(ctx, key, &cached); err != nil {
		s.logger.Warn("query cache read failed", zap.String("key", key), zap.Error(err))
	} else if hit {
		return cached, nil
	}

	terminals, err := s.repo.UniqueTerminals(ctx, search, limit)
	if err != nil {
		return nil, fmt.Errorf("unique terminals: %w", err)
	}
	if terminals == nil {
		terminals = []domain.TerminalUsage{}
	}
	s.storeCached(ctx, key, terminals)
	return terminals, nil
}

func (s *Service) storeCached(ctx context.Context, key string, value any) {
	if err := s.cache.SetJSON(ctx, key, value, s.cacheTTL); err != nil {
		s.logger.Warn("query cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (s *Service) invalidateSalesCache(ctx context.Context) {
	if err := s.cache.DeletePrefix(ctx, salesCachePrefix); err != nil {
		s.logger.Warn("query cache invalidation failed", zap.Error(err))
	}
}

// ListSales returns every sale matching filters, newest first. A non-empty
// clientID limits the result to that client's terminals. CLIENT and PARTNER
// sessions are always limited to what they own.
func (s *Service) ListSales(ctx context.Context, clientID string, filters domain.SalesFilterParams) ([]domain.NormalizedSale, error) {
	list, _, err := s.listVisibleSales(ctx, clientID, filters)
	return list, err
}

func (s *Service) listVisibleSales(ctx context.Context, requested string, filters domain.SalesFilterParams) ([]domain.NormalizedSale, string, error) {
	scoped, clientID, ok, err := s.visibleSales(ctx, requested, s.withLocation(filters))
	if err != nil {
		return nil, "", err
	}
	if !ok {
		return []domain.NormalizedSale{}, clientID, nil
	}

	list, err := s.repo.ListSales(ctx, scoped)
	if err != nil {
		return nil, "", fmt.Errorf("list sales: %w", err)
	}
	sales.SortByDateDesc(list)
	return list, clientID, nil
}

// GetSalesTotals aggregates the filtered sales. With a client, net amounts use
// that client's fee plan when one exists.
func (s *Service) GetSalesTotals(ctx context.Context, clientID string, filters domain.SalesFilterParams) (sales.Totals, error) {
	list, clientID, err := s.listVisibleSales(ctx, clientID, filters)
	if err != nil {
		return sales.Totals{}, err
	}

	var plan *domain.FeePlan
	if clientID != "" {
		plan, err = s.repo.GetFeePlan(ctx, clientID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return sales.Totals{}, fmt.Errorf("fee plan: %w", err)
		}
	}
	return sales.CalculateTotalsWithPlan(list, plan), nil
}

func (s *Service) ExportSalesCSV(ctx context.Context, w io.Writer, clientID string, filters domain.SalesFilterParams) error {
	list, err := s.ListSales(ctx, clientID, filters)
	if err != nil {
		return err
	}
	return sales.WriteCSV(w, list, s.loc)
}

// ImportSales reads an uploaded spreadsheet, normalizes each row and inserts
// the batch. Rows already present (same id) are counted as skipped.
func (s *Service) ImportSales(ctx context.Context, filename string, r io.Reader) (domain.ImportReport, error) {
	report := domain.ImportReport{FileName: filename}

	rows, err := sales.ReadFile(filename, r)
	if err != nil {
		return report, fmt.Errorf("%w: %w", store.ErrInvalidInput, err)
	}
	report.Rows = len(rows)
	if len(rows) == 0 {
		return report, nil
	}

	normalized := s.normalizer.NormalizeBatch(rows)
	for i, sale := range normalized {
		if sale.PaymentMethod == domain.PaymentUnknown {
			report.Warnings = append(report.Warnings, fmt.Sprintf("linha %d: forma de pagamento não reconhecida %q", i+2, rows[i].PaymentType))
		}
	}

	// Earlier batches stay committed when a later one fails.
	defer func() {
		if report.Inserted > 0 {
			s.invalidateSalesCache(ctx)
		}
	}()

	for start := 0; start < len(normalized); start += importBatchSize {
		end := min(start+importBatchSize, len(normalized))
		inserted, err := s.repo.InsertSales(ctx, normalized[start:end])
		if err != nil {
			report.Skipped = report.Rows - report.Inserted
			return report, fmt.Errorf("insert sales batch at row %d: %w", start, err)
		}
		report.Inserted += inserted
	}
	report.Skipped = report.Rows - report.Inserted

	s.logger.Info("sales imported",
		zap.String("file", filename),
		zap.Int("rows", report.Rows),
		zap.Int("inserted", report.Inserted),
		zap.Int("skipped", report.Skipped),
	)

	if report.Inserted > 0 {
		_, err := s.repo.CreateNotification(ctx, domain.Notification{
			Title:          "Importação concluída",
			Message:        fmt.Sprintf("%s: %d vendas importadas, %d ignoradas", filename, report.Inserted, report.Skipped),
			Type:           domain.NotificationSystem,
			RecipientRoles: []domain.Role{domain.RoleAdmin, domain.RoleFinancial},
		})
		if err != nil {
			s.logger.Warn("import notification failed", zap.Error(err))
		}
	}
	return report, nil
}
