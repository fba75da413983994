package service

import (
	"context"
	"net/mail"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"payboard/backend/internal/domain"
	"payboard/backend/internal/store"
)

var maxFeePercent = decimal.NewFromInt(100)

func (s *Service) CreateClient(ctx context.Context, req domain.ClientCreateRequest) (domain.Client, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	if req.Name == "" {
		return domain.Client{}, store.ErrInvalidInput
	}
	document := digitsOnly(req.Document)
	if req.Document != "" && len(document) != 11 && len(document) != 14 {
		return domain.Client{}, store.ErrInvalidInput
	}
	if req.Email != "" {
		if _, err := mail.ParseAddress(req.Email); err != nil {
			return domain.Client{}, store.ErrInvalidInput
		}
	}

	partnerID := strings.TrimSpace(req.PartnerID)
	if session, ok := SessionFromContext(ctx); ok && session.Role == domain.RolePartner {
		partnerID = session.UserID
	}

	created, err := s.repo.CreateClient(ctx, domain.Client{
		Name:      req.Name,
		Document:  document,
		Email:     req.Email,
		PartnerID: partnerID,
		Status:    domain.ClientActive,
	})
	if err != nil {
		return domain.Client{}, err
	}
	s.logger.Info("client created", zap.String("client_id", created.ID))
	return *created, nil
}

// ListClients returns every client; PARTNER sessions only see the clients
// they brought in.
func (s *Service) ListClients(ctx context.Context) ([]domain.Client, error) {
	clients, err := s.repo.ListClients(ctx)
	if err != nil {
		return nil, err
	}
	session, ok := SessionFromContext(ctx)
	if !ok || session.Role != domain.RolePartner {
		return clients, nil
	}
	out := clients[:0]
	for _, client := range clients {
		if client.PartnerID == session.UserID {
			out = append(out, client)
		}
	}
	return out, nil
}

func (s *Service) GetClient(ctx context.Context, id string) (domain.Client, error) {
	clientID, err := s.resolveClient(ctx, id)
	if err != nil {
		return domain.Client{}, err
	}
	if clientID == "" {
		return domain.Client{}, store.ErrInvalidInput
	}
	client, err := s.repo.GetClient(ctx, clientID)
	if err != nil {
		return domain.Client{}, err
	}
	return *client, nil
}

func (s *Service) UpdateClientStatus(ctx context.Context, id string, status string) (domain.Client, error) {
	next := domain.ClientStatus(strings.ToUpper(strings.TrimSpace(status)))
	if !next.Valid() {
		return domain.Client{}, store.ErrInvalidInput
	}
	updated, err := s.repo.UpdateClientStatus(ctx, strings.TrimSpace(id), next)
	if err != nil {
		return domain.Client{}, err
	}
	return *updated, nil
}

func (s *Service) CreateMachine(ctx context.Context, req domain.MachineCreateRequest) (domain.Machine, error) {
	req.SerialNumber = strings.ToUpper(strings.TrimSpace(req.SerialNumber))
	req.Terminal = strings.ToUpper(strings.TrimSpace(req.Terminal))
	req.Model = strings.TrimSpace(req.Model)
	if req.SerialNumber == "" {
		return domain.Machine{}, store.ErrInvalidInput
	}

	created, err := s.repo.CreateMachine(ctx, domain.Machine{
		SerialNumber: req.SerialNumber,
		Terminal:     req.Terminal,
		Model:        req.Model,
		ClientID:     trimmedClientID(req.ClientID),
	})
	if err != nil {
		return domain.Machine{}, err
	}
	return *created, nil
}

// ListMachines returns the fleet, or only the session client's machines for
// CLIENT sessions.
func (s *Service) ListMachines(ctx context.Context) ([]domain.Machine, error) {
	clientID, err := scopeClientID(ctx, "")
	if err != nil {
		return nil, err
	}
	if clientID != "" {
		return s.repo.ListMachinesByClient(ctx, clientID)
	}
	return s.repo.ListMachines(ctx)
}

// AssignMachine links a machine to a client, or returns it to stock when
// clientID is nil.
func (s *Service) AssignMachine(ctx context.Context, id string, clientID *string) (domain.Machine, error) {
	updated, err := s.repo.AssignMachine(ctx, strings.TrimSpace(id), trimmedClientID(clientID))
	if err != nil {
		return domain.Machine{}, err
	}
	s.invalidateSalesCache(ctx)
	return *updated, nil
}

func (s *Service) UpdateMachineStatus(ctx context.Context, id string, status string) (domain.Machine, error) {
	next := domain.MachineStatus(strings.ToUpper(strings.TrimSpace(status)))
	if !next.Valid() {
		return domain.Machine{}, store.ErrInvalidInput
	}
	updated, err := s.repo.UpdateMachineStatus(ctx, strings.TrimSpace(id), next)
	if err != nil {
		return domain.Machine{}, err
	}
	return *updated, nil
}

func (s *Service) CreatePaymentRequest(ctx context.Context, req domain.PaymentRequestCreateRequest) (domain.PaymentRequest, error) {
	clientID, err := scopeClientID(ctx, strings.TrimSpace(req.ClientID))
	if err != nil {
		return domain.PaymentRequest{}, err
	}
	if clientID == "" || !req.Amount.IsPositive() {
		return domain.PaymentRequest{}, store.ErrInvalidInput
	}

	created, err := s.repo.CreatePaymentRequest(ctx, domain.PaymentRequest{
		ClientID:    clientID,
		PixKeyID:    strings.TrimSpace(req.PixKeyID),
		Amount:      req.Amount,
		Description: strings.TrimSpace(req.Description),
	})
	if err != nil {
		return domain.PaymentRequest{}, err
	}
	s.logger.Info("payment request created",
		zap.String("id", created.ID),
		zap.String("client_id", created.ClientID),
		zap.String("amount", created.Amount.StringFixed(2)),
	)
	return *created, nil
}

func (s *Service) ListPaymentRequests(ctx context.Context, clientID string) ([]domain.PaymentRequest, error) {
	scoped, err := scopeClientID(ctx, strings.TrimSpace(clientID))
	if err != nil {
		return nil, err
	}
	return s.repo.ListPaymentRequests(ctx, scoped)
}

func (s *Service) UpdatePaymentRequestStatus(ctx context.Context, id string, status string) (domain.PaymentRequest, error) {
	next := domain.PaymentStatus(strings.ToUpper(strings.TrimSpace(status)))
	if !next.Valid() {
		return domain.PaymentRequest{}, store.ErrInvalidInput
	}
	updated, err := s.repo.UpdatePaymentRequestStatus(ctx, strings.TrimSpace(id), next)
	if err != nil {
		return domain.PaymentRequest{}, err
	}
	return *updated, nil
}

func (s *Service) CreatePixKey(ctx context.Context, req domain.PixKeyCreateRequest) (domain.PixKey, error) {
	clientID, err := scopeClientID(ctx, strings.TrimSpace(req.ClientID))
	if err != nil {
		return domain.PixKey{}, err
	}
	keyType := domain.PixKeyType(strings.ToUpper(strings.TrimSpace(string(req.KeyType))))
	key, ok := normalizePixKey(keyType, req.Key)
	if clientID == "" || !ok {
		return domain.PixKey{}, store.ErrInvalidInput
	}

	created, err := s.repo.CreatePixKey(ctx, domain.PixKey{
		ClientID: clientID,
		KeyType:  keyType,
		Key:      key,
	})
	if err != nil {
		return domain.PixKey{}, err
	}
	return *created, nil
}

func (s *Service) ListPixKeys(ctx context.Context, clientID string) ([]domain.PixKey, error) {
	scoped, err := scopeClientID(ctx, strings.TrimSpace(clientID))
	if err != nil {
		return nil, err
	}
	return s.repo.ListPixKeys(ctx, scoped)
}

func (s *Service) UpdatePixKeyStatus(ctx context.Context, id string, status string) (domain.PixKey, error) {
	next := domain.PixKeyStatus(strings.ToUpper(strings.TrimSpace(status)))
	if !next.Valid() {
		return domain.PixKey{}, store.ErrInvalidInput
	}
	updated, err := s.repo.UpdatePixKeyStatus(ctx, strings.TrimSpace(id), next)
	if err != nil {
		return domain.PixKey{}, err
	}
	return *updated, nil
}

func (s *Service) GetFeePlan(ctx context.Context, clientID string) (domain.FeePlan, error) {
	scoped, err := scopeClientID(ctx, strings.TrimSpace(clientID))
	if err != nil {
		return domain.FeePlan{}, err
	}
	if scoped == "" {
		return domain.FeePlan{}, store.ErrInvalidInput
	}
	plan, err := s.repo.GetFeePlan(ctx, scoped)
	if err != nil {
		return domain.FeePlan{}, err
	}
	return *plan, nil
}

func (s *Service) UpsertFeePlan(ctx context.Context, plan domain.FeePlan) (domain.FeePlan, error) {
	plan.ClientID = strings.TrimSpace(plan.ClientID)
	plan.Name = strings.TrimSpace(plan.Name)
	if plan.ClientID == "" {
		return domain.FeePlan{}, store.ErrInvalidInput
	}
	for _, rate := range plan.Rates {
		if rate.Percent.IsNegative() || rate.Percent.GreaterThan(maxFeePercent) {
			return domain.FeePlan{}, store.ErrInvalidInput
		}
	}
	saved, err := s.repo.UpsertFeePlan(ctx, plan)
	if err != nil {
		return domain.FeePlan{}, err
	}
	return *saved, nil
}

// normalizePixKey validates key against its type and returns the stored form:
// digits only for CPF/CNPJ/PHONE, lowercase for EMAIL and RANDOM.
func normalizePixKey(keyType domain.PixKeyType, key string) (string, bool) {
	key = strings.TrimSpace(key)
	switch keyType {
	case domain.PixKeyCPF:
		digits := digitsOnly(key)
		return digits, len(digits) == 11
	case domain.PixKeyCNPJ:
		digits := digitsOnly(key)
		return digits, len(digits) == 14
	case domain.PixKeyPhone:
		digits := digitsOnly(key)
		if len(digits) == 10 || len(digits) == 11 {
			digits = "55" + digits
		}
		return "+" + digits, len(digits) == 12 || len(digits) == 13
	case domain.PixKeyEmail:
		addr, err := mail.ParseAddress(key)
		if err != nil {
			return "", false
		}
		return strings.ToLower(addr.Address), true
	case domain.PixKeyRandom:
		id, err := uuid.Parse(key)
		if err != nil {
			return "", false
		}
		return id.String(), true
	}
	return "", false
}

func digitsOnly(value string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, value)
}

func trimmedClientID(clientID *string) *string {
	if clientID == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*clientID)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
