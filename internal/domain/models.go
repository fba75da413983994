package domain

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

type Role string

const (
	RoleAdmin     Role = "ADMIN"
	RoleClient    Role = "CLIENT"
	RolePartner   Role = "PARTNER"
	RoleLogistics Role = "LOGISTICS"
	RoleFinancial Role = "FINANCIAL"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleClient, RolePartner, RoleLogistics, RoleFinancial:
		return true
	}
	return false
}

type PaymentMethod string

const (
	PaymentCredit  PaymentMethod = "CREDIT"
	PaymentDebit   PaymentMethod = "DEBIT"
	PaymentPix     PaymentMethod = "PIX"
	PaymentUnknown PaymentMethod = "UNKNOWN"
)

// Label is the Portuguese display label used by the dashboards and exports.
func (m PaymentMethod) Label() string {
	switch m {
	case PaymentCredit:
		return "Cartão de Crédito"
	case PaymentDebit:
		return "Cartão de Débito"
	case PaymentPix:
		return "Pix"
	default:
		return "Outro"
	}
}

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCredit, PaymentDebit, PaymentPix, PaymentUnknown:
		return true
	}
	return false
}

type SaleStatus string

const (
	SaleApproved SaleStatus = "Approved"
	SalePending  SaleStatus = "Pending"
	SaleRejected SaleStatus = "Rejected"
)

func (s SaleStatus) Label() string {
	switch s {
	case SaleApproved:
		return "Aprovada"
	case SalePending:
		return "Pendente"
	case SaleRejected:
		return "Recusada"
	default:
		return string(s)
	}
}

// NormalizedSale is the canonical transaction record produced from imports and
// direct inserts. JSON names follow the sales table columns.
type NormalizedSale struct {
	ID              string          `json:"id"`
	Code            string          `json:"code,omitempty"`
	Status          SaleStatus      `json:"status"`
	PaymentMethod   PaymentMethod   `json:"payment_method"`
	PaymentType     string          `json:"payment_type"`
	GrossAmount     decimal.Decimal `json:"gross_amount"`
	TransactionDate time.Time       `json:"transaction_date"`
	Installments    int             `json:"installments"`
	Terminal        string          `json:"terminal"`
	Brand           string          `json:"brand"`
	Source          string          `json:"source"`
	ClientID        string          `json:"client_id,omitempty"`
	ClientName      string          `json:"client_name,omitempty"`
}

const DisplayDateLayout = "02/01/2006 15:04"

// DisplayDate formats the transaction date as dd/MM/yyyy HH:mm in loc. A nil
// loc keeps the timestamp's own location.
func (s NormalizedSale) DisplayDate(loc *time.Location) string {
	at := s.TransactionDate
	if loc != nil {
		at = at.In(loc)
	}
	return at.Format(DisplayDateLayout)
}

// SalesFilterParams is a predicate bundle; a nil field means no constraint on
// that dimension.
type SalesFilterParams struct {
	PaymentMethod *PaymentMethod
	Terminal      *string
	// Terminals is an implicit allow-list injected by client-scoped queries.
	Terminals []string
	Search    *string
	MinAmount *decimal.Decimal
	StartHour *int
	EndHour   *int
	From      *time.Time
	To        *time.Time
	// Location drives day bounds and hour extraction. Nil means the location
	// carried by the From value, or each sale's own timestamp location.
	Location *time.Location
}

type SalesQuery struct {
	Page     int
	PageSize int
	Filters  SalesFilterParams
}

type SalesPage struct {
	Sales      []NormalizedSale
	TotalCount int
}

type PaginatedSalesResult struct {
	Sales       []NormalizedSale `json:"sales"`
	TotalCount  int              `json:"totalCount"`
	TotalPages  int              `json:"totalPages"`
	CurrentPage int              `json:"currentPage"`
}

type SalesDateRange struct {
	Earliest     *time.Time `json:"earliest"`
	Latest       *time.Time `json:"latest"`
	TotalRecords int64      `json:"total_records"`
}

type TerminalUsage struct {
	Terminal   string `json:"terminal"`
	UsageCount int64  `json:"usage_count"`
}

type NotificationType string

const (
	NotificationSystem        NotificationType = "SYSTEM"
	NotificationPayment       NotificationType = "PAYMENT"
	NotificationSale          NotificationType = "SALE"
	NotificationMachine       NotificationType = "MACHINE"
	NotificationSupport       NotificationType = "SUPPORT"
	NotificationBalanceUpdate NotificationType = "BALANCE_UPDATE"
	NotificationPixKey        NotificationType = "PIX_KEY"
	NotificationClient        NotificationType = "CLIENT"
)

func (t NotificationType) Valid() bool {
	switch t {
	case NotificationSystem, NotificationPayment, NotificationSale, NotificationMachine,
		NotificationSupport, NotificationBalanceUpdate, NotificationPixKey, NotificationClient:
		return true
	}
	return false
}

// Notification is addressed to a single user when UserID is set, otherwise it
// is a broadcast narrowed by RecipientRoles.
type Notification struct {
	ID             string           `json:"id"`
	UserID         string           `json:"user_id,omitempty"`
	Title          string           `json:"title"`
	Message        string           `json:"message"`
	Type           NotificationType `json:"type"`
	IsRead         bool             `json:"is_read"`
	CreatedAt      time.Time        `json:"created_at"`
	RecipientRoles []Role           `json:"recipient_roles"`
}

// VisibleTo reports whether role may see the notification. An empty recipient
// list means every role.
func (n Notification) VisibleTo(role Role) bool {
	if len(n.RecipientRoles) == 0 {
		return true
	}
	return slices.Contains(n.RecipientRoles, role)
}

// AddressedTo reports whether the notification targets userID or everyone.
func (n Notification) AddressedTo(userID string) bool {
	return n.UserID == "" || n.UserID == userID
}

type NotificationCreateRequest struct {
	UserID         string           `json:"user_id"`
	Title          string           `json:"title"`
	Message        string           `json:"message"`
	Type           NotificationType `json:"type"`
	RecipientRoles []Role           `json:"recipient_roles"`
}

type NotificationCleanupRequest struct {
	UserID string `json:"user_id"`
}

type NotificationCleanupResponse struct {
	Deleted int64  `json:"deleted"`
	Cutoff  string `json:"cutoff"`
}

type ClientStatus string

const (
	ClientActive   ClientStatus = "ACTIVE"
	ClientInactive ClientStatus = "INACTIVE"
	ClientBlocked  ClientStatus = "BLOCKED"
)

func (s ClientStatus) Valid() bool {
	switch s {
	case ClientActive, ClientInactive, ClientBlocked:
		return true
	}
	return false
}

type Client struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Document  string       `json:"document"`
	Email     string       `json:"email"`
	PartnerID string       `json:"partner_id,omitempty"`
	Status    ClientStatus `json:"status"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

type ClientCreateRequest struct {
	Name      string `json:"name"`
	Document  string `json:"document"`
	Email     string `json:"email"`
	PartnerID string `json:"partner_id"`
}

type MachineStatus string

const (
	MachineInStock     MachineStatus = "IN_STOCK"
	MachineActive      MachineStatus = "ACTIVE"
	MachineMaintenance MachineStatus = "MAINTENANCE"
	MachineInactive    MachineStatus = "INACTIVE"
)

func (s MachineStatus) Valid() bool {
	switch s {
	case MachineInStock, MachineActive, MachineMaintenance, MachineInactive:
		return true
	}
	return false
}

// Identifiers returns the terminal and serial number, the two keys sales rows
// may reference.
func (m Machine) Identifiers() []string {
	out := make([]string, 0, 2)
	if m.Terminal != "" {
		out = append(out, m.Terminal)
	}
	if m.SerialNumber != "" && m.SerialNumber != m.Terminal {
		out = append(out, m.SerialNumber)
	}
	return out
}

// Machine is a payment terminal. A nil ClientID means the device is in stock.
type Machine struct {
	ID           string        `json:"id"`
	SerialNumber string        `json:"serial_number"`
	Terminal     string        `json:"terminal"`
	Model        string        `json:"model"`
	ClientID     *string       `json:"client_id"`
	Status       MachineStatus `json:"status"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

type MachineCreateRequest struct {
	SerialNumber string  `json:"serial_number"`
	Terminal     string  `json:"terminal"`
	Model        string  `json:"model"`
	ClientID     *string `json:"client_id"`
}

type MachineAssignRequest struct {
	ClientID *string `json:"client_id"`
}

type PaymentStatus string

const (
	PaymentRequestPending  PaymentStatus = "PENDING"
	PaymentRequestApproved PaymentStatus = "APPROVED"
	PaymentRequestRejected PaymentStatus = "REJECTED"
	PaymentRequestPaid     PaymentStatus = "PAID"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentRequestPending, PaymentRequestApproved, PaymentRequestRejected, PaymentRequestPaid:
		return true
	}
	return false
}

type PaymentRequest struct {
	ID          string          `json:"id"`
	ClientID    string          `json:"client_id"`
	PixKeyID    string          `json:"pix_key_id,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	Status      PaymentStatus   `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type PaymentRequestCreateRequest struct {
	ClientID    string          `json:"client_id"`
	PixKeyID    string          `json:"pix_key_id"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

type PixKeyType string

const (
	PixKeyCPF    PixKeyType = "CPF"
	PixKeyCNPJ   PixKeyType = "CNPJ"
	PixKeyEmail  PixKeyType = "EMAIL"
	PixKeyPhone  PixKeyType = "PHONE"
	PixKeyRandom PixKeyType = "RANDOM"
)

type PixKeyStatus string

const (
	PixKeyPending  PixKeyStatus = "PENDING"
	PixKeyActive   PixKeyStatus = "ACTIVE"
	PixKeyInactive PixKeyStatus = "INACTIVE"
)

func (t PixKeyType) Valid() bool {
	switch t {
	case PixKeyCPF, PixKeyCNPJ, PixKeyEmail, PixKeyPhone, PixKeyRandom:
		return true
	}
	return false
}

func (s PixKeyStatus) Valid() bool {
	switch s {
	case PixKeyPending, PixKeyActive, PixKeyInactive:
		return true
	}
	return false
}

type PixKey struct {
	ID        string       `json:"id"`
	ClientID  string       `json:"client_id"`
	KeyType   PixKeyType   `json:"key_type"`
	Key       string       `json:"key"`
	Status    PixKeyStatus `json:"status"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

type PixKeyCreateRequest struct {
	ClientID string     `json:"client_id"`
	KeyType  PixKeyType `json:"key_type"`
	Key      string     `json:"key"`
}

type StatusUpdateRequest struct {
	Status string `json:"status"`
}

// FeeRate applies to a payment method; Installments zero matches any count.
type FeeRate struct {
	PaymentMethod PaymentMethod   `json:"payment_method"`
	Installments  int             `json:"installments"`
	Percent       decimal.Decimal `json:"percent"`
}

type FeePlan struct {
	ID       string    `json:"id"`
	ClientID string    `json:"client_id"`
	Name     string    `json:"name"`
	Rates    []FeeRate `json:"rates"`
}

type ImportReport struct {
	FileName string   `json:"file_name"`
	Rows     int      `json:"rows"`
	Inserted int      `json:"inserted"`
	Skipped  int      `json:"skipped"`
	Warnings []string `json:"warnings,omitempty"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string   `json:"access_token"`
	Role        Role     `json:"role"`
	Routes      []string `json:"routes"`
	ExpiresAt   string   `json:"expires_at"`
}

// Session is the authenticated viewer resolved from an access token.
type Session struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
	ClientID string `json:"client_id,omitempty"`
}

type SessionResponse struct {
	Session      Session  `json:"session"`
	Routes       []string `json:"routes"`
	DefaultRoute string   `json:"default_route"`
}

type UserCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     Role   `json:"role"`
	ClientID string `json:"client_id"`
}

type UserSummary struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Role      Role      `json:"role"`
	ClientID  string    `json:"client_id,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	ID        string
	Username  string
	Password  string
	Role      Role
	ClientID  string
	Active    bool
	CreatedAt time.Time
}
