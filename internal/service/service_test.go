package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"payboard/backend/internal/cache"
	"payboard/backend/internal/domain"
	"payboard/backend/internal/store"
	"payboard/backend/internal/store/memory"
)

var brt = time.FixedZone("BRT", -3*60*60)

// spyRepo counts the calls the query layer makes and can inject failures.
type spyRepo struct {
	store.Repository
	querySalesCalls int
	dateRangeCalls  int
	lastQuery       domain.SalesQuery
	queryErr        error
	insertCalls     int
	// failInsertAfter makes every InsertSales call after the first n fail.
	failInsertAfter int
}

func (r *spyRepo) InsertSales(ctx context.Context, batch []domain.NormalizedSale) (int, error) {
	r.insertCalls++
	if r.failInsertAfter > 0 && r.insertCalls > r.failInsertAfter {
		return 0, errors.New("connection reset")
	}
	return r.Repository.InsertSales(ctx, batch)
}

func (r *spyRepo) QuerySales(ctx context.Context, query domain.SalesQuery) (domain.SalesPage, error) {
	r.querySalesCalls++
	r.lastQuery = query
	if r.queryErr != nil {
		return domain.SalesPage{}, r.queryErr
	}
	return r.Repository.QuerySales(ctx, query)
}

func (r *spyRepo) SalesDateRange(ctx context.Context) (domain.SalesDateRange, error) {
	r.dateRangeCalls++
	return r.Repository.SalesDateRange(ctx)
}

func newTestService(repo store.Repository) *Service {
	return New(repo, cache.NewMemoryQueryCache(), Options{Location: brt}, zap.NewNop())
}

func adminContext() context.Context {
	return WithSession(context.Background(), domain.Session{UserID: "usr-admin", Username: "admin", Role: domain.RoleAdmin})
}

func TestClientWithoutMachinesSkipsSalesQuery(t *testing.T) {
	backend := memory.New(zap.NewNop())
	ctx := context.Background()
	client, err := backend.CreateClient(ctx, domain.Client{Name: "Sem Máquinas"})
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	spy := &spyRepo{Repository: backend}
	svc := newTestService(spy)

	result, err := svc.GetClientSalesPaginated(ctx, client.ID, 3, 20, domain.SalesFilterParams{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if spy.querySalesCalls != 0 {
		t.Fatalf("expected no sales query, got %d", spy.querySalesCalls)
	}
	if result.Sales == nil || len(result.Sales) != 0 || result.TotalCount != 0 || result.TotalPages != 0 || result.CurrentPage != 3 {
		t.Fatalf("unexpected empty result: %+v", result)
	}
}

func TestClientSalesAreScopedToOwnTerminals(t *testing.T) {
	spy := &spyRepo{Repository: memory.NewSeeded(zap.NewNop(), brt)}
	svc := newTestService(spy)

	result, err := svc.GetClientSalesPaginated(context.Background(), "cli-padaria-sol", 1, 100, domain.SalesFilterParams{})
	if err != nil {
		t.Fatalf("client sales: %v", err)
	}
	if result.TotalCount == 0 {
		t.Fatalf("expected seeded sales for padaria")
	}
	for _, sale := range result.Sales {
		if sale.Terminal != "PB01A1" && sale.Terminal != "PB01A2" {
			t.Fatalf("sale %s leaked from terminal %s", sale.ID, sale.Terminal)
		}
	}
	if len(spy.lastQuery.Filters.Terminals) == 0 {
		t.Fatalf("expected implicit terminal allow-list on the query")
	}
}

func TestClientSalesIntersectExplicitTerminalFilter(t *testing.T) {
	spy := &spyRepo{Repository: memory.NewSeeded(zap.NewNop(), brt)}
	svc := newTestService(spy)

	result, err := svc.GetClientSalesPaginated(context.Background(), "cli-padaria-sol", 1, 10, domain.SalesFilterParams{
		Terminals: []string{"PB02B1"},
	})
	if err != nil {
		t.Fatalf("client sales: %v", err)
	}
	if spy.querySalesCalls != 0 || result.TotalCount != 0 {
		t.Fatalf("foreign terminal must not be queried: calls=%d result=%+v", spy.querySalesCalls, result)
	}
}

func TestGetSalesPaginatedDefaultsAndCapsPageSize(t *testing.T) {
	spy := &spyRepo{Repository: memory.NewSeeded(zap.NewNop(), brt)}
	svc := newTestService(spy)
	ctx := context.Background()

	result, err := svc.GetSalesPaginated(ctx, 0, 0, domain.SalesFilterParams{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if result.CurrentPage != 1 || spy.lastQuery.PageSize != DefaultPageSize {
		t.Fatalf("expected page 1 size %d, got page %d size %d", DefaultPageSize, result.CurrentPage, spy.lastQuery.PageSize)
	}
	if spy.lastQuery.Filters.Location != brt {
		t.Fatalf("expected service location on filters")
	}

	if _, err := svc.GetSalesPaginated(ctx, 1, 100000, domain.SalesFilterParams{}); err != nil {
		t.Fatalf("query: %v", err)
	}
	if spy.lastQuery.PageSize != MaxPageSize {
		t.Fatalf("expected page size capped at %d, got %d", MaxPageSize, spy.lastQuery.PageSize)
	}
}

func TestGetSalesPaginatedTagsBackendFailure(t *testing.T) {
	spy := &spyRepo{Repository: memory.New(zap.NewNop()), queryErr: errors.New("connection reset")}
	svc := newTestService(spy)

	result, err := svc.GetSalesPaginated(context.Background(), 2, 10, domain.SalesFilterParams{})
	if !errors.Is(err, ErrSalesQuery) {
		t.Fatalf("expected ErrSalesQuery, got %v", err)
	}
	if result.Sales == nil || result.TotalCount != 0 || result.CurrentPage != 2 {
		t.Fatalf("expected empty page alongside the error, got %+v", result)
	}
}

func TestDateRangeIsCachedUntilImport(t *testing.T) {
	spy := &spyRepo{Repository: memory.NewSeeded(zap.NewNop(), brt)}
	svc := newTestService(spy)
	ctx := adminContext()

	first, err := svc.GetDateRange(ctx)
	if err != nil {
		t.Fatalf("date range: %v", err)
	}
	if _, err := svc.GetDateRange(ctx); err != nil {
		t.Fatalf("date range: %v", err)
	}
	if spy.dateRangeCalls != 1 {
		t.Fatalf("expected one backend call, got %d", spy.dateRangeCalls)
	}

	csv := "Tipo de Pagamento;Valor Bruto;Data de Transação;Terminal\nPix;10,00;01/01/2020 08:00;PB01A1\n"
	if _, err := svc.ImportSales(ctx, "antigas.csv", strings.NewReader(csv)); err != nil {
		t.Fatalf("import: %v", err)
	}
	second, err := svc.GetDateRange(ctx)
	if err != nil {
		t.Fatalf("date range: %v", err)
	}
	if spy.dateRangeCalls != 2 {
		t.Fatalf("expected import to invalidate the cache")
	}
	if second.TotalRecords != first.TotalRecords+1 {
		t.Fatalf("expected one more record, got %d then %d", first.TotalRecords, second.TotalRecords)
	}
}

func TestImportSalesReportsInsertedSkippedAndWarnings(t *testing.T) {
	backend := memory.New(zap.NewNop())
	svc := newTestService(backend)
	ctx := context.Background()

	csv := strings.Join([]string{
		"Status;Tipo de Pagamento;Valor Bruto;Data de Transação;Parcelas;Terminal;Bandeira;Origem",
		"Aprovada;Cartão de Crédito;1.234,56;15/03/2024 14:30;1;PB01A1;Visa;import",
		"Aprovada;Boleto;10,00;15/03/2024 15:00;1;PB01A1;;import",
	}, "\n")

	report, err := svc.ImportSales(ctx, "vendas.csv", strings.NewReader(csv))
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if report.Rows != 2 || report.Inserted != 2 || report.Skipped != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if len(report.Warnings) != 1 {
		t.Fatalf("expected one unknown payment warning, got %v", report.Warnings)
	}

	again, err := svc.ImportSales(ctx, "vendas.csv", strings.NewReader(csv))
	if err != nil {
		t.Fatalf("re-import: %v", err)
	}
	if again.Inserted != 0 || again.Skipped != 2 {
		t.Fatalf("expected re-import to skip every row, got %+v", again)
	}

	list, err := backend.ListNotifications(ctx, "usr-admin", domain.RoleAdmin, 10)
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	if len(list) != 1 || list[0].Title != "Importação concluída" {
		t.Fatalf("expected a single import notification, got %+v", list)
	}
}

func TestImportKeepsIdenticalRowsWithoutCode(t *testing.T) {
	backend := memory.New(zap.NewNop())
	svc := newTestService(backend)
	ctx := context.Background()

	csv := strings.Join([]string{
		"Tipo de Pagamento;Valor Bruto;Data de Transação;Terminal",
		"Pix;5,00;15/03/2024 14:30;PB01A1",
		"Pix;5,00;15/03/2024 14:30;PB01A1",
	}, "\n")

	report, err := svc.ImportSales(ctx, "vendas.csv", strings.NewReader(csv))
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if report.Inserted != 2 || report.Skipped != 0 {
		t.Fatalf("expected both identical sales inserted, got %+v", report)
	}

	again, err := svc.ImportSales(ctx, "vendas.csv", strings.NewReader(csv))
	if err != nil {
		t.Fatalf("re-import: %v", err)
	}
	if again.Inserted != 0 || again.Skipped != 2 {
		t.Fatalf("expected re-import to skip both rows, got %+v", again)
	}

	totals, err := svc.GetSalesTotals(adminContext(), "", domain.SalesFilterParams{})
	if err != nil {
		t.Fatalf("totals: %v", err)
	}
	if totals.Count != 2 || !totals.Gross.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("expected 2 sales totalling 10, got %d / %s", totals.Count, totals.Gross)
	}
}

func TestImportFailureStillInvalidatesCacheForCommittedBatches(t *testing.T) {
	spy := &spyRepo{Repository: memory.New(zap.NewNop()), failInsertAfter: 1}
	svc := newTestService(spy)
	ctx := adminContext()

	if _, err := svc.GetDateRange(ctx); err != nil {
		t.Fatalf("date range: %v", err)
	}

	lines := []string{"Código;Tipo de Pagamento;Valor Bruto;Data de Transação;Terminal"}
	for i := 0; i < importBatchSize+1; i++ {
		lines = append(lines, fmt.Sprintf("NSU%d;Pix;1,00;15/03/2024 10:00;PB01A1", i))
	}
	report, err := svc.ImportSales(ctx, "grande.csv", strings.NewReader(strings.Join(lines, "\n")))
	if err == nil {
		t.Fatalf("expected second batch to fail")
	}
	if report.Inserted != importBatchSize {
		t.Fatalf("expected first batch committed, got %+v", report)
	}

	dateRange, err := svc.GetDateRange(ctx)
	if err != nil {
		t.Fatalf("date range: %v", err)
	}
	if spy.dateRangeCalls != 2 {
		t.Fatalf("expected partial import to invalidate the cache, got %d backend calls", spy.dateRangeCalls)
	}
	if dateRange.TotalRecords != importBatchSize {
		t.Fatalf("expected %d records, got %d", importBatchSize, dateRange.TotalRecords)
	}
}

func TestImportRejectsUnsupportedFile(t *testing.T) {
	svc := newTestService(memory.New(zap.NewNop()))

	_, err := svc.ImportSales(context.Background(), "extrato.pdf", strings.NewReader("%PDF"))
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestGetSalesTotalsUsesClientFeePlan(t *testing.T) {
	backend := memory.New(zap.NewNop())
	svc := newTestService(backend)
	ctx := adminContext()

	client, err := svc.CreateClient(ctx, domain.ClientCreateRequest{Name: "Café Azul", Document: "123.456.789-01"})
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	if client.Document != "12345678901" {
		t.Fatalf("expected digits-only document, got %q", client.Document)
	}
	if _, err := svc.CreateMachine(ctx, domain.MachineCreateRequest{SerialNumber: "sn-cafe-1", Terminal: "cf01", ClientID: &client.ID}); err != nil {
		t.Fatalf("create machine: %v", err)
	}
	_, err = backend.InsertSales(ctx, []domain.NormalizedSale{
		{ID: "s-1", Status: domain.SaleApproved, PaymentMethod: domain.PaymentCredit, GrossAmount: decimal.NewFromInt(100), TransactionDate: time.Now(), Installments: 1, Terminal: "CF01"},
		{ID: "s-2", Status: domain.SaleApproved, PaymentMethod: domain.PaymentPix, GrossAmount: decimal.NewFromInt(50), TransactionDate: time.Now(), Installments: 1, Terminal: "OUTRO"},
	})
	if err != nil {
		t.Fatalf("insert sales: %v", err)
	}
	if _, err := svc.UpsertFeePlan(ctx, domain.FeePlan{
		ClientID: client.ID,
		Name:     "Plano Café",
		Rates:    []domain.FeeRate{{PaymentMethod: domain.PaymentCredit, Percent: decimal.RequireFromString("2.5")}},
	}); err != nil {
		t.Fatalf("upsert fee plan: %v", err)
	}

	totals, err := svc.GetSalesTotals(ctx, client.ID, domain.SalesFilterParams{})
	if err != nil {
		t.Fatalf("totals: %v", err)
	}
	if totals.Count != 1 {
		t.Fatalf("expected only the client's sale, got %d", totals.Count)
	}
	if !totals.Net.Equal(decimal.RequireFromString("97.50")) {
		t.Fatalf("expected net 97.50 from the fee plan, got %s", totals.Net)
	}
}

func TestExportSalesCSVStartsWithBOM(t *testing.T) {
	svc := newTestService(memory.NewSeeded(zap.NewNop(), brt))

	var buf bytes.Buffer
	if err := svc.ExportSalesCSV(context.Background(), &buf, "", domain.SalesFilterParams{}); err != nil {
		t.Fatalf("export: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "\ufeffStatus;Tipo de Pagamento;") {
		t.Fatalf("unexpected export header: %q", buf.String()[:40])
	}
}

func TestCleanupNotificationsRespectsRetention(t *testing.T) {
	backend := memory.New(zap.NewNop())
	svc := newTestService(backend)
	ctx := context.Background()

	if _, err := backend.CreateNotification(ctx, domain.Notification{Title: "antiga", CreatedAt: time.Now().Add(-130 * time.Hour)}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := backend.CreateNotification(ctx, domain.Notification{Title: "recente", CreatedAt: time.Now().Add(-2 * time.Hour)}); err != nil {
		t.Fatalf("create: %v", err)
	}

	resp, err := svc.CleanupNotifications(ctx, "")
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if resp.Deleted != 1 {
		t.Fatalf("expected 1 deleted, got %d", resp.Deleted)
	}
	left, _ := backend.ListNotifications(ctx, "usr-admin", domain.RoleAdmin, 10)
	if len(left) != 1 || left[0].Title != "recente" {
		t.Fatalf("unexpected remaining notifications: %+v", left)
	}
}

func TestNotificationOperationsRequireSession(t *testing.T) {
	svc := newTestService(memory.New(zap.NewNop()))

	if _, err := svc.ListNotifications(context.Background(), 10); !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("expected ErrForbidden without session, got %v", err)
	}
	if _, err := svc.MarkAllNotificationsRead(context.Background()); !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("expected ErrForbidden without session, got %v", err)
	}
}

func TestClientSessionIsPinnedToOwnClient(t *testing.T) {
	svc := newTestService(memory.NewSeeded(zap.NewNop(), brt))
	ctx := WithSession(context.Background(), domain.Session{UserID: "usr-cliente", Role: domain.RoleClient, ClientID: "cli-mercado-lua"})

	if _, err := svc.ListPaymentRequests(ctx, "cli-padaria-sol"); !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for foreign client, got %v", err)
	}
	if _, err := svc.CreatePaymentRequest(ctx, domain.PaymentRequestCreateRequest{ClientID: "cli-padaria-sol", Amount: decimal.NewFromInt(10)}); !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for foreign client, got %v", err)
	}

	created, err := svc.CreatePaymentRequest(ctx, domain.PaymentRequestCreateRequest{Amount: decimal.RequireFromString("80.456")})
	if err != nil {
		t.Fatalf("create own payment request: %v", err)
	}
	if created.ClientID != "cli-mercado-lua" || created.Status != domain.PaymentRequestPending {
		t.Fatalf("unexpected request: %+v", created)
	}

	machines, err := svc.ListMachines(ctx)
	if err != nil {
		t.Fatalf("list machines: %v", err)
	}
	for _, machine := range machines {
		if machine.ClientID == nil || *machine.ClientID != "cli-mercado-lua" {
			t.Fatalf("machine %s is not the client's", machine.ID)
		}
	}
}

func TestPartnerOnlyListsOwnClients(t *testing.T) {
	svc := newTestService(memory.NewSeeded(zap.NewNop(), brt))
	ctx := WithSession(context.Background(), domain.Session{UserID: "usr-parceiro", Role: domain.RolePartner})

	clients, err := svc.ListClients(ctx)
	if err != nil {
		t.Fatalf("list clients: %v", err)
	}
	if len(clients) != 1 || clients[0].ID != "cli-padaria-sol" {
		t.Fatalf("expected only the partner's client, got %+v", clients)
	}
}

func TestUpdateStatusRejectsUnknownValues(t *testing.T) {
	svc := newTestService(memory.NewSeeded(zap.NewNop(), brt))
	ctx := adminContext()

	if _, err := svc.UpdateMachineStatus(ctx, "mac-1", "broken"); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	machine, err := svc.UpdateMachineStatus(ctx, "mac-1", "maintenance")
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if machine.Status != domain.MachineMaintenance {
		t.Fatalf("expected MAINTENANCE, got %s", machine.Status)
	}
	if _, err := svc.UpdateClientStatus(ctx, "cli-desconhecido", "blocked"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestNormalizePixKey(t *testing.T) {
	cases := []struct {
		keyType domain.PixKeyType
		raw     string
		want    string
		ok      bool
	}{
		{domain.PixKeyCPF, "123.456.789-01", "12345678901", true},
		{domain.PixKeyCPF, "1234", "", false},
		{domain.PixKeyCNPJ, "12.345.678/0001-90", "12345678000190", true},
		{domain.PixKeyPhone, "(11) 98765-4321", "+5511987654321", true},
		{domain.PixKeyPhone, "+55 11 98765-4321", "+5511987654321", true},
		{domain.PixKeyEmail, "Financeiro@Loja.com.br", "financeiro@loja.com.br", true},
		{domain.PixKeyEmail, "sem-arroba", "", false},
		{domain.PixKeyRandom, "6F9619FF-8B86-D011-B42D-00C04FC964FF", "6f9619ff-8b86-d011-b42d-00c04fc964ff", true},
		{domain.PixKeyRandom, "não-é-uuid", "", false},
		{domain.PixKeyType("BOLETO"), "x", "", false},
	}
	for _, tc := range cases {
		got, ok := normalizePixKey(tc.keyType, tc.raw)
		if ok != tc.ok {
			t.Fatalf("%s %q: expected ok=%t, got %t", tc.keyType, tc.raw, tc.ok, ok)
		}
		if ok && got != tc.want {
			t.Fatalf("%s %q: expected %q, got %q", tc.keyType, tc.raw, tc.want, got)
		}
	}
}

func TestRunCleanupStopsWithContext(t *testing.T) {
	svc := newTestService(memory.New(zap.NewNop()))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		svc.RunCleanup(ctx, time.Hour)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("cleanup loop did not stop")
	}
}
