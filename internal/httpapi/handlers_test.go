package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"payboard/backend/internal/cache"
	"payboard/backend/internal/domain"
	"payboard/backend/internal/service"
	"payboard/backend/internal/store/memory"
)

// newTestEnv builds a full API on the seeded memory store, with a real
// AuthManager and Service, so handler tests exercise the complete path.
func newTestEnv(t *testing.T) (*API, *memory.Store) {
	t.Helper()

	repo := memory.NewSeeded(nil, time.UTC)
	t.Cleanup(func() { _ = repo.Close() })
	svc := service.New(repo, cache.NewMemoryQueryCache(), service.Options{Location: time.UTC}, nil)
	auth := NewAuthManager("test-secret-key", time.Hour, repo, nil)

	api := New(svc, auth, Config{
		AllowedOrigin: "*",
		Feed:          repo,
		Notifications: repo,
		Heartbeat:     time.Hour,
	})
	return api, repo
}

func newTestAPI(t *testing.T) *API {
	t.Helper()
	api, _ := newTestEnv(t)
	return api
}

func mustHashPassword(t *testing.T, plain string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return string(hash)
}

func doRequest(t *testing.T, api *API, method string, path string, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if method != http.MethodGet {
		req.Header.Set(csrfHeader, api.generateCSRFToken())
	}
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dest); err != nil {
		t.Fatalf("decode body: %v (body: %s)", err, rec.Body.String())
	}
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)

	rec := doRequest(t, api, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	decodeBody(t, rec, &body)
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_SuccessReturnsRoutes(t *testing.T) {
	api := newTestAPI(t)

	rec := doRequest(t, api, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: "cliente", Password: "payboard123"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var body domain.LoginResponse
	decodeBody(t, rec, &body)
	if body.AccessToken == "" {
		t.Fatalf("expected access_token in response")
	}
	if body.Role != domain.RoleClient || len(body.Routes) == 0 || body.Routes[0] != "/cliente" {
		t.Fatalf("unexpected login response %+v", body)
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)

	rec := doRequest(t, api, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: "admin", Password: "wrongpassword"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleSessionReportsDefaultRoute(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "logistica", "payboard123")

	rec := doRequest(t, api, http.MethodGet, "/api/v1/auth/session", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body domain.SessionResponse
	decodeBody(t, rec, &body)
	if body.Session.Role != domain.RoleLogistics || body.DefaultRoute != "/logistica" {
		t.Fatalf("unexpected session response %+v", body)
	}
}

func TestHandleSales_RequiresAuth(t *testing.T) {
	api := newTestAPI(t)

	rec := doRequest(t, api, http.MethodGet, "/api/v1/sales", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleSales_AdminSeesEverySale(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsAdmin(t, api)

	rec := doRequest(t, api, http.MethodGet, "/api/v1/sales?page=1&page_size=5", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var body struct {
		Sales []struct {
			ID          string `json:"id"`
			DisplayDate string `json:"display_date"`
			Terminal    string `json:"terminal"`
		} `json:"sales"`
		TotalCount  int `json:"totalCount"`
		TotalPages  int `json:"totalPages"`
		CurrentPage int `json:"currentPage"`
	}
	decodeBody(t, rec, &body)
	if body.TotalCount != 9 || body.TotalPages != 2 || body.CurrentPage != 1 {
		t.Fatalf("unexpected paging %+v", body)
	}
	if len(body.Sales) != 5 {
		t.Fatalf("expected 5 sales on the first page, got %d", len(body.Sales))
	}
	if body.Sales[0].DisplayDate == "" {
		t.Fatalf("expected display_date on sales")
	}
}

func TestHandleSales_PaymentMethodFilter(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsAdmin(t, api)

	rec := doRequest(t, api, http.MethodGet, "/api/v1/sales?payment_method=pix", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body salesPageView
	decodeBody(t, rec, &body)
	if body.TotalCount != 2 {
		t.Fatalf("expected 2 pix sales, got %d", body.TotalCount)
	}
	for _, sale := range body.Sales {
		if sale.PaymentMethod != domain.PaymentPix {
			t.Fatalf("unexpected payment method %s", sale.PaymentMethod)
		}
	}
}

func TestHandleSales_InvalidFilterRejected(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsAdmin(t, api)

	for _, query := range []string{"start_hour=25", "payment_method=boleto", "from=ontem", "min_amount=abc"} {
		rec := doRequest(t, api, http.MethodGet, "/api/v1/sales?"+query, token, nil)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", query, rec.Code)
		}
	}
}

func TestHandleSales_ClientIsScopedToOwnTerminals(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "cliente", "payboard123")

	rec := doRequest(t, api, http.MethodGet, "/api/v1/sales", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var body salesPageView
	decodeBody(t, rec, &body)
	if body.TotalCount != 6 {
		t.Fatalf("expected 6 padaria sales, got %d", body.TotalCount)
	}
	for _, sale := range body.Sales {
		if sale.Terminal != "PB01A1" && sale.Terminal != "PB01A2" {
			t.Fatalf("client saw foreign terminal %s", sale.Terminal)
		}
	}

	rec = doRequest(t, api, http.MethodGet, "/api/v1/clients/cli-mercado-lua/sales", token, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for another client's sales, got %d", rec.Code)
	}
}

func TestHandleSales_PartnerIsScopedToOwnedClients(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "parceiro", "payboard123")

	rec := doRequest(t, api, http.MethodGet, "/api/v1/sales", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var page salesPageView
	decodeBody(t, rec, &page)
	if page.TotalCount != 6 {
		t.Fatalf("expected 6 padaria sales, got %d", page.TotalCount)
	}
	for _, sale := range page.Sales {
		if sale.Terminal != "PB01A1" && sale.Terminal != "PB01A2" {
			t.Fatalf("partner saw foreign terminal %s", sale.Terminal)
		}
	}

	rec = doRequest(t, api, http.MethodGet, "/api/v1/clients/cli-padaria-sol/sales", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for an owned client, got %d", rec.Code)
	}
	for _, path := range []string{
		"/api/v1/clients/cli-mercado-lua/sales",
		"/api/v1/clients/cli-mercado-lua",
		"/api/v1/sales/totals?client_id=cli-mercado-lua",
		"/api/v1/sales/export.csv?client_id=cli-mercado-lua",
	} {
		rec = doRequest(t, api, http.MethodGet, path, token, nil)
		if rec.Code != http.StatusForbidden {
			t.Fatalf("%s: expected 403, got %d", path, rec.Code)
		}
	}

	rec = doRequest(t, api, http.MethodGet, "/api/v1/sales/totals", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var totals struct {
		Totals struct {
			Count int `json:"count"`
		} `json:"totals"`
	}
	decodeBody(t, rec, &totals)
	if totals.Totals.Count != 6 {
		t.Fatalf("expected totals over 6 sales, got %d", totals.Totals.Count)
	}

	rec = doRequest(t, api, http.MethodGet, "/api/v1/sales/export.csv", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if lines := strings.Count(strings.TrimSpace(rec.Body.String()), "\n"); lines != 6 {
		t.Fatalf("expected 6 exported rows, got %d", lines)
	}
}

func TestHandleSales_LogisticsForbidden(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "logistica", "payboard123")

	rec := doRequest(t, api, http.MethodGet, "/api/v1/sales", token, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestHandleClientSales_AdminQueriesAnyClient(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsAdmin(t, api)

	rec := doRequest(t, api, http.MethodGet, "/api/v1/clients/cli-mercado-lua/sales", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body salesPageView
	decodeBody(t, rec, &body)
	if body.TotalCount != 3 {
		t.Fatalf("expected 3 mercado sales, got %d", body.TotalCount)
	}
}

func TestHandleSalesExport_WritesBOMAndHeader(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsAdmin(t, api)

	rec := doRequest(t, api, http.MethodGet, "/api/v1/sales/export.csv?client_id=cli-padaria-sol", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); !strings.HasPrefix(got, "text/csv") {
		t.Fatalf("expected text/csv, got %q", got)
	}
	if !strings.Contains(rec.Header().Get("Content-Disposition"), "vendas-") {
		t.Fatalf("expected attachment filename, got %q", rec.Header().Get("Content-Disposition"))
	}
	body := rec.Body.String()
	if !strings.HasPrefix(body, "\ufeffStatus;Tipo de Pagamento;") {
		t.Fatalf("unexpected export prefix %q", body[:min(len(body), 40)])
	}
	if lines := strings.Count(strings.TrimSpace(body), "\n"); lines != 6 {
		t.Fatalf("expected 6 data rows, got %d", lines)
	}
}

func TestHandleSalesImport_Multipart(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "financeiro", "payboard123")

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	part, err := form.CreateFormFile("file", "vendas.csv")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	_, _ = part.Write([]byte("Código;Tipo de Pagamento;Valor Bruto;Data de Transação;Parcelas;Terminal\n" +
		"NSU-IMP-1;Cartão de Débito;45,00;15/03/2024 14:30;1;PB01A1\n" +
		"NSU-IMP-2;Boleto;10,00;15/03/2024 15:00;1;PB01A1\n"))
	_ = form.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sales/import", &buf)
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set(csrfHeader, api.generateCSRFToken())
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var body struct {
		Report domain.ImportReport `json:"report"`
	}
	decodeBody(t, rec, &body)
	if body.Report.Rows != 2 || body.Report.Inserted != 2 {
		t.Fatalf("unexpected report %+v", body.Report)
	}
	if len(body.Report.Warnings) != 1 {
		t.Fatalf("expected one unknown payment warning, got %v", body.Report.Warnings)
	}
}

func TestHandleSalesImport_RejectsUnsupportedFile(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsAdmin(t, api)

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	part, _ := form.CreateFormFile("file", "vendas.pdf")
	_, _ = part.Write([]byte("%PDF-1.4"))
	_ = form.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sales/import", &buf)
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set(csrfHeader, api.generateCSRFToken())
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestNotificationsListedPerRole(t *testing.T) {
	api := newTestAPI(t)

	var adminList, clientList struct {
		Notifications []domain.Notification `json:"notifications"`
	}
	rec := doRequest(t, api, http.MethodGet, "/api/v1/notifications", loginAsAdmin(t, api), nil)
	decodeBody(t, rec, &adminList)
	rec = doRequest(t, api, http.MethodGet, "/api/v1/notifications", loginAs(t, api, "cliente", "payboard123"), nil)
	decodeBody(t, rec, &clientList)

	if len(adminList.Notifications) != 3 {
		t.Fatalf("expected 3 admin notifications, got %d", len(adminList.Notifications))
	}
	if len(clientList.Notifications) != 1 {
		t.Fatalf("expected only the broadcast for the client, got %d", len(clientList.Notifications))
	}
}

func TestNotificationReadAndDelete(t *testing.T) {
	api, repo := newTestEnv(t)
	token := loginAs(t, api, "financeiro", "payboard123")

	created, err := repo.CreateNotification(context.Background(), domain.Notification{
		UserID: "usr-financeiro",
		Title:  "Repasse",
		Type:   domain.NotificationBalanceUpdate,
	})
	if err != nil {
		t.Fatalf("create notification: %v", err)
	}

	rec := doRequest(t, api, http.MethodPost, "/api/v1/notifications/"+created.ID+"/read", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on read, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	rec = doRequest(t, api, http.MethodDelete, "/api/v1/notifications/"+created.ID, token, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 on delete, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	rec = doRequest(t, api, http.MethodDelete, "/api/v1/notifications/"+created.ID, token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", rec.Code)
	}
}

func TestNotificationCreateRequiresBackOffice(t *testing.T) {
	api := newTestAPI(t)
	req := domain.NotificationCreateRequest{Title: "Manutenção", Message: "Janela às 22h", Type: domain.NotificationSystem}

	rec := doRequest(t, api, http.MethodPost, "/api/v1/notifications", loginAs(t, api, "cliente", "payboard123"), req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for client, got %d", rec.Code)
	}
	rec = doRequest(t, api, http.MethodPost, "/api/v1/notifications", loginAsAdmin(t, api), req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 for admin, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestClientCannotReadAnotherClient(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "cliente", "payboard123")

	rec := doRequest(t, api, http.MethodGet, "/api/v1/clients/cli-padaria-sol", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected own client to be readable, got %d", rec.Code)
	}
	rec = doRequest(t, api, http.MethodGet, "/api/v1/clients/cli-mercado-lua", token, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestMachineAssignAndStatus(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "logistica", "payboard123")
	clientID := "cli-mercado-lua"

	rec := doRequest(t, api, http.MethodPatch, "/api/v1/machines/mac-4/assign", token, domain.MachineAssignRequest{ClientID: &clientID})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on assign, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var assigned struct {
		Machine domain.Machine `json:"machine"`
	}
	decodeBody(t, rec, &assigned)
	if assigned.Machine.ClientID == nil || *assigned.Machine.ClientID != clientID {
		t.Fatalf("expected machine assigned to %s, got %+v", clientID, assigned.Machine.ClientID)
	}

	rec = doRequest(t, api, http.MethodPatch, "/api/v1/machines/mac-4/status", token, domain.StatusUpdateRequest{Status: "exploded"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", rec.Code)
	}
	rec = doRequest(t, api, http.MethodPatch, "/api/v1/machines/mac-404/status", token, domain.StatusUpdateRequest{Status: string(domain.MachineMaintenance)})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown machine, got %d", rec.Code)
	}
}

func TestPixKeyCreateForClient(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "cliente", "payboard123")

	rec := doRequest(t, api, http.MethodPost, "/api/v1/pix-keys", token, domain.PixKeyCreateRequest{
		KeyType: domain.PixKeyPhone,
		Key:     "(11) 98765-4321",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var body struct {
		PixKey domain.PixKey `json:"pix_key"`
	}
	decodeBody(t, rec, &body)
	if body.PixKey.ClientID != "cli-padaria-sol" || body.PixKey.Key != "+5511987654321" {
		t.Fatalf("unexpected pix key %+v", body.PixKey)
	}
}

func TestNotificationStreamDeliversSnapshotAndInserts(t *testing.T) {
	api, repo := newTestEnv(t)
	token := loginAsAdmin(t, api)

	server := httptest.NewServer(api.Handler())
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+streamPath+"?access_token="+token, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := server.Client().Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("expected event stream, got %q", got)
	}

	reader := bufio.NewReader(resp.Body)
	name, data := readStreamEvent(t, reader)
	if name != "snapshot" {
		t.Fatalf("expected snapshot first, got %s", name)
	}
	var snapshot []domain.Notification
	if err := json.Unmarshal([]byte(data), &snapshot); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if len(snapshot) != 3 {
		t.Fatalf("expected 3 notifications in snapshot, got %d", len(snapshot))
	}

	if _, err := repo.CreateNotification(context.Background(), domain.Notification{
		Title:   "Saque aprovado",
		Message: "R$ 250,00",
		Type:    domain.NotificationPayment,
	}); err != nil {
		t.Fatalf("create notification: %v", err)
	}

	seen := map[string]string{}
	for len(seen) < 3 {
		name, data := readStreamEvent(t, reader)
		seen[name] = data
	}
	if !strings.Contains(seen["notification"], "Saque aprovado") {
		t.Fatalf("expected notification event, got %v", seen)
	}
	if !strings.Contains(seen["sound"], "payment") {
		t.Fatalf("expected payment sound, got %q", seen["sound"])
	}
	if !strings.Contains(seen["toast"], "success") {
		t.Fatalf("expected success toast, got %q", seen["toast"])
	}
}

func TestNotificationStreamRequiresToken(t *testing.T) {
	api := newTestAPI(t)

	rec := doRequest(t, api, http.MethodGet, streamPath, "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func readStreamEvent(t *testing.T, reader *bufio.Reader) (string, string) {
	t.Helper()
	var name, data string
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "" && name != "":
			return name, data
		case strings.HasPrefix(line, "event: "):
			name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func loginAs(t *testing.T, api *API, username string, password string) string {
	t.Helper()

	rec := doRequest(t, api, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: username, Password: password})
	if rec.Code != http.StatusOK {
		t.Fatalf("%s login failed, status %d", username, rec.Code)
	}
	var payload domain.LoginResponse
	decodeBody(t, rec, &payload)
	if strings.TrimSpace(payload.AccessToken) == "" {
		t.Fatalf("expected access token in login response")
	}
	return payload.AccessToken
}

func loginAsAdmin(t *testing.T, api *API) string {
	t.Helper()
	return loginAs(t, api, "admin", "admin123")
}
