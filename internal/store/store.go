package store

import (
	"context"
	"errors"
	"time"

	"payboard/backend/internal/domain"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrForbidden    = errors.New("forbidden")
	ErrConflict     = errors.New("already exists")
	ErrClosed       = errors.New("change feed closed")
)

// Table names double as change feed channels.
const (
	TableSales           = "sales"
	TableNotifications   = "notifications"
	TablePaymentRequests = "payment_requests"
	TableMachines        = "machines"
	TableClients         = "clients"
	TablePixKeys         = "pix_keys"
)

type SalesRepository interface {
	// InsertSales skips rows whose id already exists and reports how many
	// were written.
	InsertSales(ctx context.Context, sales []domain.NormalizedSale) (int, error)
	QuerySales(ctx context.Context, query domain.SalesQuery) (domain.SalesPage, error)
	// ListSales returns every matching sale, newest first.
	ListSales(ctx context.Context, filters domain.SalesFilterParams) ([]domain.NormalizedSale, error)
	SalesDateRange(ctx context.Context) (domain.SalesDateRange, error)
	UniqueTerminals(ctx context.Context, search string, limit int) ([]domain.TerminalUsage, error)
}

type NotificationRepository interface {
	CreateNotification(ctx context.Context, notification domain.Notification) (*domain.Notification, error)
	// ListNotifications returns notifications addressed to userID (or
	// broadcast) and visible to role, newest first.
	ListNotifications(ctx context.Context, userID string, role domain.Role, limit int) ([]domain.Notification, error)
	MarkNotificationRead(ctx context.Context, id string, userID string) error
	MarkAllNotificationsRead(ctx context.Context, userID string, role domain.Role) (int64, error)
	DeleteNotification(ctx context.Context, id string, userID string) error
	// DeleteNotificationsBefore removes notifications created before cutoff.
	// An empty userID sweeps every user.
	DeleteNotificationsBefore(ctx context.Context, cutoff time.Time, userID string) (int64, error)
}

type ClientRepository interface {
	CreateClient(ctx context.Context, client domain.Client) (*domain.Client, error)
	GetClient(ctx context.Context, id string) (*domain.Client, error)
	ListClients(ctx context.Context) ([]domain.Client, error)
	UpdateClientStatus(ctx context.Context, id string, status domain.ClientStatus) (*domain.Client, error)
}

type MachineRepository interface {
	CreateMachine(ctx context.Context, machine domain.Machine) (*domain.Machine, error)
	ListMachines(ctx context.Context) ([]domain.Machine, error)
	ListMachinesByClient(ctx context.Context, clientID string) ([]domain.Machine, error)
	// AssignMachine moves a machine to a client, or back to stock when
	// clientID is nil.
	AssignMachine(ctx context.Context, id string, clientID *string) (*domain.Machine, error)
	UpdateMachineStatus(ctx context.Context, id string, status domain.MachineStatus) (*domain.Machine, error)
}

type PaymentRequestRepository interface {
	CreatePaymentRequest(ctx context.Context, request domain.PaymentRequest) (*domain.PaymentRequest, error)
	// ListPaymentRequests lists every request when clientID is empty.
	ListPaymentRequests(ctx context.Context, clientID string) ([]domain.PaymentRequest, error)
	UpdatePaymentRequestStatus(ctx context.Context, id string, status domain.PaymentStatus) (*domain.PaymentRequest, error)
}

type PixKeyRepository interface {
	CreatePixKey(ctx context.Context, key domain.PixKey) (*domain.PixKey, error)
	ListPixKeys(ctx context.Context, clientID string) ([]domain.PixKey, error)
	UpdatePixKeyStatus(ctx context.Context, id string, status domain.PixKeyStatus) (*domain.PixKey, error)
}

type FeePlanRepository interface {
	GetFeePlan(ctx context.Context, clientID string) (*domain.FeePlan, error)
	UpsertFeePlan(ctx context.Context, plan domain.FeePlan) (*domain.FeePlan, error)
}

type UserRepository interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

type Repository interface {
	SalesRepository
	NotificationRepository
	ClientRepository
	MachineRepository
	PaymentRequestRepository
	PixKeyRepository
	FeePlanRepository
	UserRepository
}

// Backend is a repository whose mutations are observable through a change
// feed.
type Backend interface {
	Repository
	ChangeFeed
	Close() error
}
