package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"payboard/backend/internal/domain"
	"payboard/backend/internal/store"
	"payboard/backend/internal/xid"
)

type scanner interface {
	Scan(dest ...any) error
}

const clientColumns = `id, name, document, email, partner_id, status, created_at, updated_at`

func scanClient(row scanner) (domain.Client, error) {
	var c domain.Client
	var status string
	if err := row.Scan(&c.ID, &c.Name, &c.Document, &c.Email, &c.PartnerID, &status, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return domain.Client{}, err
	}
	c.Status = domain.ClientStatus(status)
	return c, nil
}

func (s *Store) CreateClient(ctx context.Context, client domain.Client) (*domain.Client, error) {
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

	created, err := scanClient(s.db.QueryRowContext(ctx, `
		INSERT INTO clients (id, name, document, email, partner_id, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,now(),now())
		RETURNING `+clientColumns,
		client.ID, client.Name, client.Document, client.Email, client.PartnerID, string(client.Status)))
	if err != nil {
		return nil, mapWriteError(err)
	}
	return &created, nil
}

func (s *Store) GetClient(ctx context.Context, id string) (*domain.Client, error) {
	client, err := scanClient(s.db.QueryRowContext(ctx, `SELECT `+clientColumns+` FROM clients WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &client, nil
}

func (s *Store) ListClients(ctx context.Context) ([]domain.Client, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+clientColumns+` FROM clients ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Client, 0, 32)
	for rows.Next() {
		client, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, client)
	}
	return out, rows.Err()
}

func (s *Store) UpdateClientStatus(ctx context.Context, id string, status domain.ClientStatus) (*domain.Client, error) {
	if !status.Valid() {
		return nil, store.ErrInvalidInput
	}
	updated, err := scanClient(s.db.QueryRowContext(ctx, `
		UPDATE clients SET status = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+clientColumns, id, string(status)))
	if err != nil {
		return nil, mapWriteError(err)
	}
	return &updated, nil
}

const machineColumns = `id, serial_number, terminal, model, client_id, status, created_at, updated_at`

func scanMachine(row scanner) (domain.Machine, error) {
	var m domain.Machine
	var clientID sql.NullString
	var status string
	if err := row.Scan(&m.ID, &m.SerialNumber, &m.Terminal, &m.Model, &clientID, &status, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return domain.Machine{}, err
	}
	if clientID.Valid && clientID.String != "" {
		id := clientID.String
		m.ClientID = &id
	}
	m.Status = domain.MachineStatus(status)
	return m, nil
}

func (s *Store) CreateMachine(ctx context.Context, machine domain.Machine) (*domain.Machine, error) {
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
	if machine.Status == "" {
		machine.Status = domain.MachineInStock
		if nullIfEmpty(machine.ClientID) != nil {
			machine.Status = domain.MachineActive
		}
	}
	if !machine.Status.Valid() {
		return nil, store.ErrInvalidInput
	}

	created, err := scanMachine(s.db.QueryRowContext(ctx, `
		INSERT INTO machines (id, serial_number, terminal, model, client_id, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,now(),now())
		RETURNING `+machineColumns,
		machine.ID, machine.SerialNumber, machine.Terminal, machine.Model, nullIfEmpty(machine.ClientID), string(machine.Status)))
	if err != nil {
		return nil, mapWriteError(err)
	}
	return &created, nil
}

func (s *Store) ListMachines(ctx context.Context) ([]domain.Machine, error) {
	return s.queryMachines(ctx, `SELECT `+machineColumns+` FROM machines ORDER BY serial_number ASC`)
}

func (s *Store) ListMachinesByClient(ctx context.Context, clientID string) ([]domain.Machine, error) {
	return s.queryMachines(ctx, `SELECT `+machineColumns+` FROM machines WHERE client_id = $1 ORDER BY serial_number ASC`, clientID)
}

func (s *Store) queryMachines(ctx context.Context, query string, args ...any) ([]domain.Machine, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Machine, 0, 32)
	for rows.Next() {
		machine, err := scanMachine(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, machine)
	}
	return out, rows.Err()
}

func (s *Store) AssignMachine(ctx context.Context, id string, clientID *string) (*domain.Machine, error) {
	status := domain.MachineInStock
	if nullIfEmpty(clientID) != nil {
		status = domain.MachineActive
	}
	updated, err := scanMachine(s.db.QueryRowContext(ctx, `
		UPDATE machines SET client_id = $2, status = $3, updated_at = now()
		WHERE id = $1
		RETURNING `+machineColumns, id, nullIfEmpty(clientID), string(status)))
	if err != nil {
		return nil, mapWriteError(err)
	}
	return &updated, nil
}

func (s *Store) UpdateMachineStatus(ctx context.Context, id string, status domain.MachineStatus) (*domain.Machine, error) {
	if !status.Valid() {
		return nil, store.ErrInvalidInput
	}
	updated, err := scanMachine(s.db.QueryRowContext(ctx, `
		UPDATE machines SET status = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+machineColumns, id, string(status)))
	if err != nil {
		return nil, mapWriteError(err)
	}
	return &updated, nil
}

const paymentRequestColumns = `id, client_id, pix_key_id, amount, description, status, created_at, updated_at`

func scanPaymentRequest(row scanner) (domain.PaymentRequest, error) {
	var r domain.PaymentRequest
	var pixKeyID sql.NullString
	var status string
	if err := row.Scan(&r.ID, &r.ClientID, &pixKeyID, &r.Amount, &r.Description, &status, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return domain.PaymentRequest{}, err
	}
	r.PixKeyID = pixKeyID.String
	r.Status = domain.PaymentStatus(status)
	return r, nil
}

func (s *Store) CreatePaymentRequest(ctx context.Context, request domain.PaymentRequest) (*domain.PaymentRequest, error) {
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

	created, err := scanPaymentRequest(s.db.QueryRowContext(ctx, `
		INSERT INTO payment_requests (id, client_id, pix_key_id, amount, description, status, created_at, updated_at)
		SELECT $1, $2, $3, $4::numeric, $5, $6, now(), now()
		WHERE $3::text IS NULL OR EXISTS (SELECT 1 FROM pix_keys WHERE id = $3 AND client_id = $2)
		RETURNING `+paymentRequestColumns,
		request.ID, request.ClientID, nullIfEmpty(&request.PixKeyID), request.Amount.Round(2).String(),
		request.Description, string(request.Status)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrInvalidInput
		}
		return nil, mapWriteError(err)
	}
	return &created, nil
}

func (s *Store) ListPaymentRequests(ctx context.Context, clientID string) ([]domain.PaymentRequest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+paymentRequestColumns+`
		FROM payment_requests
		WHERE $1 = '' OR client_id = $1
		ORDER BY created_at DESC, id ASC
	`, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.PaymentRequest, 0, 32)
	for rows.Next() {
		request, err := scanPaymentRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, request)
	}
	return out, rows.Err()
}

func (s *Store) UpdatePaymentRequestStatus(ctx context.Context, id string, status domain.PaymentStatus) (*domain.PaymentRequest, error) {
	if !status.Valid() {
		return nil, store.ErrInvalidInput
	}
	updated, err := scanPaymentRequest(s.db.QueryRowContext(ctx, `
		UPDATE payment_requests SET status = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+paymentRequestColumns, id, string(status)))
	if err != nil {
		return nil, mapWriteError(err)
	}
	return &updated, nil
}

const pixKeyColumns = `id, client_id, key_type, key, status, created_at, updated_at`

func scanPixKey(row scanner) (domain.PixKey, error) {
	var k domain.PixKey
	var keyType, status string
	if err := row.Scan(&k.ID, &k.ClientID, &keyType, &k.Key, &status, &k.CreatedAt, &k.UpdatedAt); err != nil {
		return domain.PixKey{}, err
	}
	k.KeyType = domain.PixKeyType(keyType)
	k.Status = domain.PixKeyStatus(status)
	return k, nil
}

func (s *Store) CreatePixKey(ctx context.Context, key domain.PixKey) (*domain.PixKey, error) {
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

	created, err := scanPixKey(s.db.QueryRowContext(ctx, `
		INSERT INTO pix_keys (id, client_id, key_type, key, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now(),now())
		RETURNING `+pixKeyColumns,
		key.ID, key.ClientID, string(key.KeyType), key.Key, string(key.Status)))
	if err != nil {
		return nil, mapWriteError(err)
	}
	return &created, nil
}

func (s *Store) ListPixKeys(ctx context.Context, clientID string) ([]domain.PixKey, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+pixKeyColumns+`
		FROM pix_keys
		WHERE $1 = '' OR client_id = $1
		ORDER BY key ASC
	`, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.PixKey, 0, 16)
	for rows.Next() {
		key, err := scanPixKey(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, key)
	}
	return out, rows.Err()
}

func (s *Store) UpdatePixKeyStatus(ctx context.Context, id string, status domain.PixKeyStatus) (*domain.PixKey, error) {
	if !status.Valid() {
		return nil, store.ErrInvalidInput
	}
	updated, err := scanPixKey(s.db.QueryRowContext(ctx, `
		UPDATE pix_keys SET status = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+pixKeyColumns, id, string(status)))
	if err != nil {
		return nil, mapWriteError(err)
	}
	return &updated, nil
}

func (s *Store) GetFeePlan(ctx context.Context, clientID string) (*domain.FeePlan, error) {
	var plan domain.FeePlan
	var rates []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, client_id, name, rates FROM fee_plans WHERE client_id = $1
	`, clientID).Scan(&plan.ID, &plan.ClientID, &plan.Name, &rates)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(rates, &plan.Rates); err != nil {
		return nil, fmt.Errorf("decode fee plan rates: %w", err)
	}
	return &plan, nil
}

func (s *Store) UpsertFeePlan(ctx context.Context, plan domain.FeePlan) (*domain.FeePlan, error) {
	if plan.ClientID == "" {
		return nil, store.ErrInvalidInput
	}
	for _, rate := range plan.Rates {
		if !rate.PaymentMethod.Valid() || rate.Installments < 0 || rate.Percent.IsNegative() {
			return nil, store.ErrInvalidInput
		}
	}
	if plan.ID == "" {
		plan.ID = xid.New("fee")
	}
	if plan.Rates == nil {
		plan.Rates = []domain.FeeRate{}
	}
	rates, err := json.Marshal(plan.Rates)
	if err != nil {
		return nil, err
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO fee_plans (id, client_id, name, rates)
		VALUES ($1,$2,$3,$4::jsonb)
		ON CONFLICT (client_id) DO UPDATE SET name = EXCLUDED.name, rates = EXCLUDED.rates
		RETURNING id
	`, plan.ID, plan.ClientID, plan.Name, string(rates)).Scan(&plan.ID)
	if err != nil {
		return nil, mapWriteError(err)
	}
	return &plan, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
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
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (id, username, password, role, client_id, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,true,$6,now())
	`, user.ID, user.Username, user.Password, string(user.Role), user.ClientID, user.CreatedAt)
	return mapWriteError(err)
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, password, role, client_id, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		var role string
		if err := rows.Scan(&user.ID, &user.Username, &user.Password, &role, &user.ClientID, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.Role = domain.Role(role)
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	return requireAffected(res, err)
}
