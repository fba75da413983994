package memory

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"payboard/backend/internal/domain"
	"payboard/backend/internal/logging"
	"payboard/backend/internal/sales"
	"payboard/backend/internal/store"
	"payboard/backend/internal/xid"
)

// Store keeps every table in maps guarded by one lock and publishes each
// committed mutation on an in-process broker.
type Store struct {
	mu              sync.RWMutex
	feed            *store.Broker
	logger          *zap.Logger
	now             func() time.Time
	sales           map[string]domain.NormalizedSale
	notifications   map[string]domain.Notification
	clients         map[string]domain.Client
	machines        map[string]domain.Machine
	paymentRequests map[string]domain.PaymentRequest
	pixKeys         map[string]domain.PixKey
	feePlans        map[string]domain.FeePlan
	usersByUsername map[string]domain.UserAccount
}

// New returns an empty store.
func New(logger *zap.Logger) *Store {
	return &Store{
		feed:            store.NewBroker(),
		logger:          logging.OrNop(logger),
		now:             func() time.Time { return time.Now().UTC() },
		sales:           make(map[string]domain.NormalizedSale),
		notifications:   make(map[string]domain.Notification),
		clients:         make(map[string]domain.Client),
		machines:        make(map[string]domain.Machine),
		paymentRequests: make(map[string]domain.PaymentRequest),
		pixKeys:         make(map[string]domain.PixKey),
		feePlans:        make(map[string]domain.FeePlan),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// NewSeeded returns a store with demo clients, machines, sales,
// notifications and one user per role.
func NewSeeded(logger *zap.Logger, loc *time.Location) *Store {
	s := New(logger)
	if loc == nil {
		loc = time.UTC
	}
	now := s.now()

	padariaID := "cli-padaria-sol"
	mercadoID := "cli-mercado-lua"
	s.clients[padariaID] = domain.Client{ID: padariaID, Name: "Padaria Sol", Document: "12345678000190", Email: "contato@padariasol.com.br", PartnerID: "usr-parceiro", Status: domain.ClientActive, CreatedAt: now, UpdatedAt: now}
	s.clients[mercadoID] = domain.Client{ID: mercadoID, Name: "Mercado Lua", Document: "98765432000110", Email: "financeiro@mercadolua.com.br", Status: domain.ClientActive, CreatedAt: now, UpdatedAt: now}

	for _, m := range []struct {
		id, serial, terminal, model string
		clientID                    *string
	}{
		{"mac-1", "SN-PB01A1", "PB01A1", "A920", &padariaID},
		{"mac-2", "SN-PB01A2", "PB01A2", "A920", &padariaID},
		{"mac-3", "SN-PB02B1", "PB02B1", "P2", &mercadoID},
		{"mac-4", "SN-PB09Z9", "PB09Z9", "P2", nil},
	} {
		status := domain.MachineActive
		if m.clientID == nil {
			status = domain.MachineInStock
		}
		s.machines[m.id] = domain.Machine{ID: m.id, SerialNumber: m.serial, Terminal: m.terminal, Model: m.model, ClientID: m.clientID, Status: status, CreatedAt: now, UpdatedAt: now}
	}

	s.feePlans[padariaID] = domain.FeePlan{
		ID:       "fee-padaria",
		ClientID: padariaID,
		Name:     "Plano Padrão",
		Rates: []domain.FeeRate{
			{PaymentMethod: domain.PaymentDebit, Percent: decimal.RequireFromString("1.99")},
			{PaymentMethod: domain.PaymentCredit, Installments: 1, Percent: decimal.RequireFromString("3.49")},
			{PaymentMethod: domain.PaymentCredit, Percent: decimal.RequireFromString("4.99")},
			{PaymentMethod: domain.PaymentPix, Percent: decimal.RequireFromString("0.99")},
		},
	}

	normalizer := sales.NewNormalizer(s.logger, loc)
	today := time.Date(now.In(loc).Year(), now.In(loc).Month(), now.In(loc).Day(), 0, 0, 0, 0, loc)
	for i, row := range []struct {
		daysAgo, hour, minute int
		method                domain.PaymentMethod
		amount                string
		installments          int
		terminal, brand       string
		clientID, clientName  string
	}{
		{0, 9, 12, domain.PaymentCredit, "120.00", 1, "PB01A1", "Visa", padariaID, "Padaria Sol"},
		{0, 10, 45, domain.PaymentDebit, "35.50", 1, "PB01A2", "Mastercard", padariaID, "Padaria Sol"},
		{0, 11, 5, domain.PaymentPix, "18.90", 1, "PB01A1", "", padariaID, "Padaria Sol"},
		{1, 8, 30, domain.PaymentCredit, "1250.00", 3, "PB02B1", "Elo", mercadoID, "Mercado Lua"},
		{1, 19, 20, domain.PaymentDebit, "89.99", 1, "PB02B1", "Visa", mercadoID, "Mercado Lua"},
		{2, 14, 0, domain.PaymentCredit, "340.00", 2, "PB01A1", "Mastercard", padariaID, "Padaria Sol"},
		{3, 7, 50, domain.PaymentPix, "12.00", 1, "PB01A2", "", padariaID, "Padaria Sol"},
		{4, 21, 15, domain.PaymentCredit, "560.75", 1, "PB02B1", "Amex", mercadoID, "Mercado Lua"},
		{6, 12, 40, domain.PaymentDebit, "42.10", 1, "PB01A1", "Elo", padariaID, "Padaria Sol"},
	} {
		amount := decimal.RequireFromString(row.amount)
		at := today.AddDate(0, 0, -row.daysAgo).Add(time.Duration(row.hour)*time.Hour + time.Duration(row.minute)*time.Minute)
		sale := normalizer.Normalize(sales.RawSale{
			Code:         fmt.Sprintf("NSU-%05d", i+1),
			Method:       row.method,
			Amount:       &amount,
			Timestamp:    &at,
			InstallmentN: row.installments,
			Terminal:     row.terminal,
			Brand:        row.brand,
			Source:       "seed",
			ClientID:     row.clientID,
			ClientName:   row.clientName,
		})
		s.sales[sale.ID] = sale
	}

	for _, n := range []domain.Notification{
		{Title: "Bem-vindo", Message: "Painel de vendas disponível.", Type: domain.NotificationSystem},
		{Title: "Nova máquina em estoque", Message: "Terminal PB09Z9 aguardando alocação.", Type: domain.NotificationMachine, RecipientRoles: []domain.Role{domain.RoleAdmin, domain.RoleLogistics}},
		{Title: "Repasse processado", Message: "Saldo atualizado para Padaria Sol.", Type: domain.NotificationBalanceUpdate, RecipientRoles: []domain.Role{domain.RoleAdmin, domain.RoleFinancial}},
	} {
		n.ID = xid.New("ntf")
		n.CreatedAt = now
		s.notifications[n.ID] = n
	}

	s.usersByUsername = seedUsers(s.logger, padariaID)
	return s
}

// seedUsers creates one account per role. Passwords come from
// SEED_ADMIN_PASSWORD and SEED_USER_PASSWORD, with dev defaults otherwise.
func seedUsers(logger *zap.Logger, clientID string) map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	userPwd := envOr("SEED_USER_PASSWORD", "payboard123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_USER_PASSWORD") == "" {
		logger.Warn("memory store using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_USER_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     domain.Role
		clientID string
	}{
		{"admin", adminPwd, domain.RoleAdmin, ""},
		{"cliente", userPwd, domain.RoleClient, clientID},
		{"parceiro", userPwd, domain.RolePartner, ""},
		{"logistica", userPwd, domain.RoleLogistics, ""},
		{"financeiro", userPwd, domain.RoleFinancial, ""},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			logger.Error("hash seed password", zap.String("username", u.username), zap.Error(err))
			continue
		}
		users[u.username] = domain.UserAccount{
			ID:        "usr-" + u.username,
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			ClientID:  u.clientID,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *Store) Subscribe(ctx context.Context, spec store.SubscriptionSpec, handler func(store.ChangeEvent)) (store.Subscription, error) {
	return s.feed.Subscribe(ctx, spec, handler)
}

func (s *Store) Close() error {
	s.feed.Close()
	return nil
}

// publish must be called without s.mu held.
func (s *Store) publish(table string, eventType store.EventType, record any, oldRecord any) {
	evt, err := store.NewChangeEvent(table, eventType, record, oldRecord)
	if err != nil {
		s.logger.Error("encode change event", zap.String("table", table), zap.Error(err))
		return
	}
	s.feed.Publish(evt)
}

func (s *Store) InsertSales(_ context.Context, batch []domain.NormalizedSale) (int, error) {
	s.mu.Lock()
	inserted := make([]domain.NormalizedSale, 0, len(batch))
	for _, sale := range batch {
		if sale.ID == "" || sale.GrossAmount.IsNegative() || sale.Installments < 1 {
			s.mu.Unlock()
			return 0, store.ErrInvalidInput
		}
	}
	owners := s.terminalOwners()
	for _, sale := range batch {
		if _, exists := s.sales[sale.ID]; exists {
			continue
		}
		if sale.ClientID == "" {
			sale.ClientID = owners[strings.ToLower(sale.Terminal)]
		}
		s.sales[sale.ID] = sale
		inserted = append(inserted, sale)
	}
	s.mu.Unlock()

	for _, sale := range inserted {
		s.publish(store.TableSales, store.EventInsert, sale, nil)
	}
	return len(inserted), nil
}

// terminalOwners maps lowercased terminal and serial identifiers of assigned
// machines to their client. Callers hold s.mu.
func (s *Store) terminalOwners() map[string]string {
	owners := make(map[string]string, len(s.machines)*2)
	for _, machine := range s.machines {
		if machine.ClientID == nil {
			continue
		}
		for _, id := range machine.Identifiers() {
			owners[strings.ToLower(id)] = *machine.ClientID
		}
	}
	return owners
}

func (s *Store) QuerySales(_ context.Context, query domain.SalesQuery) (domain.SalesPage, error) {
	matched := s.matchSales(query.Filters)
	page := sales.Paginate(matched, query.Page, query.PageSize)
	return domain.SalesPage{Sales: page.Sales, TotalCount: page.TotalCount}, nil
}

func (s *Store) ListSales(_ context.Context, filters domain.SalesFilterParams) ([]domain.NormalizedSale, error) {
	return s.matchSales(filters), nil
}

func (s *Store) matchSales(filters domain.SalesFilterParams) []domain.NormalizedSale {
	match := sales.Matcher(filters)

	s.mu.RLock()
	out := make([]domain.NormalizedSale, 0, len(s.sales))
	for _, sale := range s.sales {
		if match(sale) {
			out = append(out, sale)
		}
	}
	s.mu.RUnlock()

	sales.SortByDateDesc(out)
	return out
}

func (s *Store) SalesDateRange(_ context.Context) (domain.SalesDateRange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result domain.SalesDateRange
	for _, sale := range s.sales {
		at := sale.TransactionDate
		if result.Earliest == nil || at.Before(*result.Earliest) {
			earliest := at
			result.Earliest = &earliest
		}
		if result.Latest == nil || at.After(*result.Latest) {
			latest := at
			result.Latest = &latest
		}
		result.TotalRecords++
	}
	return result, nil
}

func (s *Store) UniqueTerminals(_ context.Context, search string, limit int) ([]domain.TerminalUsage, error) {
	term := strings.ToLower(strings.TrimSpace(search))

	s.mu.RLock()
	counts := make(map[string]int64)
	for _, sale := range s.sales {
		if sale.Terminal == "" {
			continue
		}
		if term != "" && !strings.Contains(strings.ToLower(sale.Terminal), term) {
			continue
		}
		counts[sale.Terminal]++
	}
	s.mu.RUnlock()

	out := make([]domain.TerminalUsage, 0, len(counts))
	for terminal, count := range counts {
		out = append(out, domain.TerminalUsage{Terminal: terminal, UsageCount: count})
	}
	slices.SortFunc(out, func(a, b domain.TerminalUsage) int {
		if a.UsageCount != b.UsageCount {
			if a.UsageCount > b.UsageCount {
				return -1
			}
			return 1
		}
		return strings.Compare(a.Terminal, b.Terminal)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CreateNotification(_ context.Context, notification domain.Notification) (*domain.Notification, error) {
	if strings.TrimSpace(notification.Title) == "" {
		return nil, store.ErrInvalidInput
	}
	if notification.Type == "" {
		notification.Type = domain.NotificationSystem
	}
	if !notification.Type.Valid() {
		return nil, store.ErrInvalidInput
	}
	for _, role := range notification.RecipientRoles {
		if !role.Valid() {
			return nil, store.ErrInvalidInput
		}
	}
	if notification.ID == "" {
		notification.ID = xid.New("ntf")
	}
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = s.now()
	}
	notification.RecipientRoles = slices.Clone(notification.RecipientRoles)

	s.mu.Lock()
	if _, exists := s.notifications[notification.ID]; exists {
		s.mu.Unlock()
		return nil, store.ErrConflict
	}
	s.notifications[notification.ID] = notification
	s.mu.Unlock()

	s.publish(store.TableNotifications, store.EventInsert, notification, nil)
	created := notification
	return &created, nil
}

func (s *Store) ListNotifications(_ context.Context, userID string, role domain.Role, limit int) ([]domain.Notification, error) {
	s.mu.RLock()
	out := make([]domain.Notification, 0, len(s.notifications))
	for _, n := range s.notifications {
		if n.AddressedTo(userID) && n.VisibleTo(role) {
			n.RecipientRoles = slices.Clone(n.RecipientRoles)
			out = append(out, n)
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b domain.Notification) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) MarkNotificationRead(_ context.Context, id string, userID string) error {
	s.mu.Lock()
	current, exists := s.notifications[id]
	if !exists || !current.AddressedTo(userID) {
		s.mu.Unlock()
		return store.ErrNotFound
	}
	if current.IsRead {
		s.mu.Unlock()
		return nil
	}
	updated := current
	updated.IsRead = true
	s.notifications[id] = updated
	s.mu.Unlock()

	s.publish(store.TableNotifications, store.EventUpdate, updated, current)
	return nil
}

func (s *Store) MarkAllNotificationsRead(_ context.Context, userID string, role domain.Role) (int64, error) {
	type change struct{ old, updated domain.Notification }

	s.mu.Lock()
	changes := make([]change, 0)
	for id, n := range s.notifications {
		if n.IsRead || !n.AddressedTo(userID) || !n.VisibleTo(role) {
			continue
		}
		updated := n
		updated.IsRead = true
		s.notifications[id] = updated
		changes = append(changes, change{old: n, updated: updated})
	}
	s.mu.Unlock()

	for _, c := range changes {
		s.publish(store.TableNotifications, store.EventUpdate, c.updated, c.old)
	}
	return int64(len(changes)), nil
}

func (s *Store) DeleteNotification(_ context.Context, id string, userID string) error {
	s.mu.Lock()
	current, exists := s.notifications[id]
	if !exists || !current.AddressedTo(userID) {
		s.mu.Unlock()
		return store.ErrNotFound
	}
	delete(s.notifications, id)
	s.mu.Unlock()

	s.publish(store.TableNotifications, store.EventDelete, nil, current)
	return nil
}

func (s *Store) DeleteNotificationsBefore(_ context.Context, cutoff time.Time, userID string) (int64, error) {
	s.mu.Lock()
	removed := make([]domain.Notification, 0)
	for id, n := range s.notifications {
		if !n.CreatedAt.Before(cutoff) {
			continue
		}
		if userID != "" && n.UserID != userID {
			continue
		}
		delete(s.notifications, id)
		removed = append(removed, n)
	}
	s.mu.Unlock()

	for _, n := range removed {
		s.publish(store.TableNotifications, store.EventDelete, nil, n)
	}
	return int64(len(removed)), nil
}

func (s *Store) CreateClient(_ context.Context, client domain.Client) (*domain.Client, error) {
	client.Name = strings.TrimSpace(client.Name)
	client.Document = strings.TrimSpace(client.Document)
	if client.Name == "" {
		return nil, store.ErrInvalidInput
	}
	if client.Status == "" {
		client.Status = domain.ClientActive
	}
	if !client.Status.Valid() {
		return nil, store.ErrInvalidInput
	}
	if client.ID == "" {
		client.ID = xid.New("cli")
	}
	now := s.now()
	client.CreatedAt, client.UpdatedAt = now, now

	s.mu.Lock()
	for _, existing := range s.clients {
		if existing.ID == client.ID || (client.Document != "" && existing.Document == client.Document) {
			s.mu.Unlock()
			return nil, store.ErrConflict
		}
	}
	s.clients[client.ID] = client
	s.mu.Unlock()

	s.publish(store.TableClients, store.EventInsert, client, nil)
	created := client
	return &created, nil
}

func (s *Store) GetClient(_ context.Context, id string) (*domain.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	client, exists := s.clients[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return &client, nil
}

func (s *Store) ListClients(_ context.Context) ([]domain.Client, error) {
	s.mu.RLock()
	out := make([]domain.Client, 0, len(s.clients))
	for _, c := range s.clients {
		out = append(out, c)
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b domain.Client) int {
		return cmpString(a.Name, b.Name)
	})
	return out, nil
}

func (s *Store) UpdateClientStatus(_ context.Context, id string, status domain.ClientStatus) (*domain.Client, error) {
	if !status.Valid() {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	current, exists := s.clients[id]
	if !exists {
		s.mu.Unlock()
		return nil, store.ErrNotFound
	}
	updated := current
	updated.Status = status
	updated.UpdatedAt = s.now()
	s.clients[id] = updated
	s.mu.Unlock()

	s.publish(store.TableClients, store.EventUpdate, updated, current)
	return &updated, nil
}

func (s *Store) CreateMachine(_ context.Context, machine domain.Machine) (*domain.Machine, error) {
	machine.SerialNumber = strings.TrimSpace(machine.SerialNumber)
	machine.Terminal = strings.TrimSpace(machine.Terminal)
	if machine.SerialNumber == "" {
		return nil, store.ErrInvalidInput
	}
	if machine.Terminal == "" {
		machine.Terminal = machine.SerialNumber
	}
	if machine.ID == "" {
		machine.ID = xid.New("mac")
	}
	machine.ClientID = cloneClientID(machine.ClientID)
	if machine.Status == "" {
		machine.Status = domain.MachineInStock
		if machine.ClientID != nil {
			machine.Status = domain.MachineActive
		}
	}
	if !machine.Status.Valid() {
		return nil, store.ErrInvalidInput
	}
	now := s.now()
	machine.CreatedAt, machine.UpdatedAt = now, now

	s.mu.Lock()
	if machine.ClientID != nil {
		if _, ok := s.clients[*machine.ClientID]; !ok {
			s.mu.Unlock()
			return nil, store.ErrInvalidInput
		}
	}
	for _, existing := range s.machines {
		if existing.ID == machine.ID || existing.SerialNumber == machine.SerialNumber {
			s.mu.Unlock()
			return nil, store.ErrConflict
		}
	}
	s.machines[machine.ID] = machine
	s.mu.Unlock()

	s.publish(store.TableMachines, store.EventInsert, machine, nil)
	created := machine
	return &created, nil
}

func (s *Store) ListMachines(_ context.Context) ([]domain.Machine, error) {
	return s.listMachines(func(domain.Machine) bool { return true }), nil
}

func (s *Store) ListMachinesByClient(_ context.Context, clientID string) ([]domain.Machine, error) {
	return s.listMachines(func(m domain.Machine) bool {
		return m.ClientID != nil && *m.ClientID == clientID
	}), nil
}

func (s *Store) listMachines(keep func(domain.Machine) bool) []domain.Machine {
	s.mu.RLock()
	out := make([]domain.Machine, 0, len(s.machines))
	for _, m := range s.machines {
		if keep(m) {
			m.ClientID = cloneClientID(m.ClientID)
			out = append(out, m)
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b domain.Machine) int {
		return cmpString(a.SerialNumber, b.SerialNumber)
	})
	return out
}

func (s *Store) AssignMachine(_ context.Context, id string, clientID *string) (*domain.Machine, error) {
	clientID = cloneClientID(clientID)

	s.mu.Lock()
	current, exists := s.machines[id]
	if !exists {
		s.mu.Unlock()
		return nil, store.ErrNotFound
	}
	if clientID != nil {
		if _, ok := s.clients[*clientID]; !ok {
			s.mu.Unlock()
			return nil, store.ErrInvalidInput
		}
	}
	updated := current
	updated.ClientID = clientID
	updated.Status = domain.MachineInStock
	if clientID != nil {
		updated.Status = domain.MachineActive
	}
	updated.UpdatedAt = s.now()
	s.machines[id] = updated
	s.mu.Unlock()

	s.publish(store.TableMachines, store.EventUpdate, updated, current)
	return &updated, nil
}

func (s *Store) UpdateMachineStatus(_ context.Context, id string, status domain.MachineStatus) (*domain.Machine, error) {
	if !status.Valid() {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	current, exists := s.machines[id]
	if !exists {
		s.mu.Unlock()
		return nil, store.ErrNotFound
	}
	updated := current
	updated.Status = status
	updated.UpdatedAt = s.now()
	s.machines[id] = updated
	s.mu.Unlock()

	s.publish(store.TableMachines, store.EventUpdate, updated, current)
	return &updated, nil
}

func (s *Store) CreatePaymentRequest(_ context.Context, request domain.PaymentRequest) (*domain.PaymentRequest, error) {
	if request.ClientID == "" || !request.Amount.IsPositive() {
		return nil, store.ErrInvalidInput
	}
	if request.Status == "" {
		request.Status = domain.PaymentRequestPending
	}
	if !request.Status.Valid() {
		return nil, store.ErrInvalidInput
	}
	if request.ID == "" {
		request.ID = xid.New("pay")
	}
	request.Amount = request.Amount.Round(2)
	now := s.now()
	request.CreatedAt, request.UpdatedAt = now, now

	s.mu.Lock()
	if _, ok := s.clients[request.ClientID]; !ok {
		s.mu.Unlock()
		return nil, store.ErrInvalidInput
	}
	if request.PixKeyID != "" {
		key, ok := s.pixKeys[request.PixKeyID]
		if !ok || key.ClientID != request.ClientID {
			s.mu.Unlock()
			return nil, store.ErrInvalidInput
		}
	}
	s.paymentRequests[request.ID] = request
	s.mu.Unlock()

	s.publish(store.TablePaymentRequests, store.EventInsert, request, nil)
	created := request
	return &created, nil
}

func (s *Store) ListPaymentRequests(_ context.Context, clientID string) ([]domain.PaymentRequest, error) {
	s.mu.RLock()
	out := make([]domain.PaymentRequest, 0, len(s.paymentRequests))
	for _, r := range s.paymentRequests {
		if clientID == "" || r.ClientID == clientID {
			out = append(out, r)
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b domain.PaymentRequest) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmpString(a.ID, b.ID)
	})
	return out, nil
}

func (s *Store) UpdatePaymentRequestStatus(_ context.Context, id string, status domain.PaymentStatus) (*domain.PaymentRequest, error) {
	if !status.Valid() {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	current, exists := s.paymentRequests[id]
	if !exists {
		s.mu.Unlock()
		return nil, store.ErrNotFound
	}
	updated := current
	updated.Status = status
	updated.UpdatedAt = s.now()
	s.paymentRequests[id] = updated
	s.mu.Unlock()

	s.publish(store.TablePaymentRequests, store.EventUpdate, updated, current)
	return &updated, nil
}

func (s *Store) CreatePixKey(_ context.Context, key domain.PixKey) (*domain.PixKey, error) {
	key.Key = strings.TrimSpace(key.Key)
	if key.ClientID == "" || key.Key == "" || !key.KeyType.Valid() {
		return nil, store.ErrInvalidInput
	}
	if key.Status == "" {
		key.Status = domain.PixKeyPending
	}
	if !key.Status.Valid() {
		return nil, store.ErrInvalidInput
	}
	if key.ID == "" {
		key.ID = xid.New("pix")
	}
	now := s.now()
	key.CreatedAt, key.UpdatedAt = now, now

	s.mu.Lock()
	if _, ok := s.clients[key.ClientID]; !ok {
		s.mu.Unlock()
		return nil, store.ErrInvalidInput
	}
	for _, existing := range s.pixKeys {
		if existing.Key == key.Key {
			s.mu.Unlock()
			return nil, store.ErrConflict
		}
	}
	s.pixKeys[key.ID] = key
	s.mu.Unlock()

	s.publish(store.TablePixKeys, store.EventInsert, key, nil)
	created := key
	return &created, nil
}

func (s *Store) ListPixKeys(_ context.Context, clientID string) ([]domain.PixKey, error) {
	s.mu.RLock()
	out := make([]domain.PixKey, 0, len(s.pixKeys))
	for _, k := range s.pixKeys {
		if clientID == "" || k.ClientID == clientID {
			out = append(out, k)
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b domain.PixKey) int {
		return cmpString(a.Key, b.Key)
	})
	return out, nil
}

func (s *Store) UpdatePixKeyStatus(_ context.Context, id string, status domain.PixKeyStatus) (*domain.PixKey, error) {
	if !status.Valid() {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	current, exists := s.pixKeys[id]
	if !exists {
		s.mu.Unlock()
		return nil, store.ErrNotFound
	}
	updated := current
	updated.Status = status
	updated.UpdatedAt = s.now()
	s.pixKeys[id] = updated
	s.mu.Unlock()

	s.publish(store.TablePixKeys, store.EventUpdate, updated, current)
	return &updated, nil
}

func (s *Store) GetFeePlan(_ context.Context, clientID string) (*domain.FeePlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	plan, exists := s.feePlans[clientID]
	if !exists {
		return nil, store.ErrNotFound
	}
	plan.Rates = slices.Clone(plan.Rates)
	return &plan, nil
}

func (s *Store) UpsertFeePlan(_ context.Context, plan domain.FeePlan) (*domain.FeePlan, error) {
	if plan.ClientID == "" {
		return nil, store.ErrInvalidInput
	}
	for _, rate := range plan.Rates {
		if !rate.PaymentMethod.Valid() || rate.Installments < 0 || rate.Percent.IsNegative() {
			return nil, store.ErrInvalidInput
		}
	}
	plan.Rates = slices.Clone(plan.Rates)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clients[plan.ClientID]; !ok {
		return nil, store.ErrInvalidInput
	}
	if existing, ok := s.feePlans[plan.ClientID]; ok && plan.ID == "" {
		plan.ID = existing.ID
	}
	if plan.ID == "" {
		plan.ID = xid.New("fee")
	}
	s.feePlans[plan.ClientID] = plan
	saved := plan
	saved.Rates = slices.Clone(plan.Rates)
	return &saved, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrConflict
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleClient
	}
	if !user.Role.Valid() {
		return store.ErrInvalidInput
	}
	if user.ID == "" {
		user.ID = xid.New("usr")
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func cloneClientID(id *string) *string {
	if id == nil || strings.TrimSpace(*id) == "" {
		return nil
	}
	dup := strings.TrimSpace(*id)
	return &dup
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}
