package realtime

import (
	"encoding/json"
	"fmt"
	"slices"

	"payboard/backend/internal/domain"
	"payboard/backend/internal/sales"
	"payboard/backend/internal/store"
	"payboard/backend/internal/xid"
)

type SoundKind string

const (
	SoundDefault SoundKind = "default"
	SoundSale    SoundKind = "sale"
	SoundPayment SoundKind = "payment"
	SoundAlert   SoundKind = "alert"
)

// SoundFor maps a notification type to the sound the client should play.
func SoundFor(t domain.NotificationType) SoundKind {
	switch t {
	case domain.NotificationSale:
		return SoundSale
	case domain.NotificationPayment, domain.NotificationBalanceUpdate, domain.NotificationPixKey:
		return SoundPayment
	case domain.NotificationMachine, domain.NotificationSupport:
		return SoundAlert
	}
	return SoundDefault
}

type Toast struct {
	Title   string                  `json:"title"`
	Message string                  `json:"message"`
	Type    domain.NotificationType `json:"type"`
	Variant string                  `json:"variant"`
}

func toastFor(n domain.Notification) Toast {
	variant := "info"
	switch n.Type {
	case domain.NotificationSale, domain.NotificationPayment, domain.NotificationBalanceUpdate:
		variant = "success"
	case domain.NotificationMachine, domain.NotificationSupport:
		variant = "warning"
	}
	return Toast{Title: n.Title, Message: n.Message, Type: n.Type, Variant: variant}
}

// tableRule describes how one table's changes become notifications.
type tableRule struct {
	// roles that subscribe to the table; nil means every role.
	roles []domain.Role
	// clientScoped tables are filtered by client_id for CLIENT and PARTNER
	// viewers.
	clientScoped bool
	// partnerColumn names the column holding the owning partner, for tables
	// a PARTNER viewer hears about only for its own rows.
	partnerColumn string
	events        []store.EventType
	classify      func(evt store.ChangeEvent) (domain.Notification, bool)
}

// rules is filled in init: the classify funcs read it back through derived,
// which a package-level initializer would reject as a cycle.
var rules map[string]tableRule

func init() {
	rules = map[string]tableRule{
		store.TableNotifications: {
			events:   []store.EventType{store.EventInsert, store.EventUpdate, store.EventDelete},
			classify: classifyNotification,
		},
		store.TableSales: {
			roles:        []domain.Role{domain.RoleAdmin, domain.RoleFinancial, domain.RolePartner, domain.RoleClient},
			clientScoped: true,
			events:       []store.EventType{store.EventInsert},
			classify:     classifySale,
		},
		store.TablePaymentRequests: {
			roles:        []domain.Role{domain.RoleAdmin, domain.RoleFinancial, domain.RoleClient},
			clientScoped: true,
			events:       []store.EventType{store.EventInsert, store.EventUpdate},
			classify:     classifyPaymentRequest,
		},
		store.TableMachines: {
			roles:        []domain.Role{domain.RoleAdmin, domain.RoleLogistics, domain.RoleClient},
			clientScoped: true,
			events:       []store.EventType{store.EventInsert, store.EventUpdate},
			classify:     classifyMachine,
		},
		store.TableClients: {
			roles:         []domain.Role{domain.RoleAdmin, domain.RolePartner},
			partnerColumn: "partner_id",
			events:        []store.EventType{store.EventInsert},
			classify:      classifyClient,
		},
		store.TablePixKeys: {
			roles:        []domain.Role{domain.RoleAdmin, domain.RoleFinancial, domain.RoleClient},
			clientScoped: true,
			events:       []store.EventType{store.EventInsert, store.EventUpdate},
			classify:     classifyPixKey,
		},
	}
}

// Tables lists the tables a role listens to, in a fixed order.
func Tables(role domain.Role) []string {
	out := make([]string, 0, len(rules))
	for _, table := range []string{
		store.TableNotifications,
		store.TableSales,
		store.TablePaymentRequests,
		store.TableMachines,
		store.TableClients,
		store.TablePixKeys,
	} {
		rule := rules[table]
		if rule.roles == nil || slices.Contains(rule.roles, role) {
			out = append(out, table)
		}
	}
	return out
}

func decode[T any](raw json.RawMessage) (T, bool) {
	var v T
	if len(raw) == 0 || string(raw) == "null" {
		return v, false
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, false
	}
	return v, true
}

func classifyNotification(evt store.ChangeEvent) (domain.Notification, bool) {
	if evt.Type != store.EventInsert {
		return domain.Notification{}, false
	}
	n, ok := decode[domain.Notification](evt.Record)
	if !ok || n.ID == "" {
		return domain.Notification{}, false
	}
	if !n.Type.Valid() {
		n.Type = domain.NotificationSystem
	}
	return n, true
}

func classifySale(evt store.ChangeEvent) (domain.Notification, bool) {
	sale, ok := decode[domain.NormalizedSale](evt.Record)
	if !ok {
		return domain.Notification{}, false
	}
	message := fmt.Sprintf("%s de %s", sale.PaymentMethod.Label(), sales.FormatBRL(sale.GrossAmount))
	if sale.Terminal != "" {
		message += " no terminal " + sale.Terminal
	}
	return derived(evt, sale.ID, "Nova venda", message, domain.NotificationSale), true
}

func classifyPaymentRequest(evt store.ChangeEvent) (domain.Notification, bool) {
	request, ok := decode[domain.PaymentRequest](evt.Record)
	if !ok {
		return domain.Notification{}, false
	}
	if evt.Type == store.EventInsert {
		return derived(evt, request.ID, "Nova solicitação de pagamento",
			"Solicitação de "+sales.FormatBRL(request.Amount)+" aguardando análise", domain.NotificationPayment), true
	}
	old, _ := decode[domain.PaymentRequest](evt.OldRecord)
	if old.Status == request.Status {
		return domain.Notification{}, false
	}
	return derived(evt, request.ID, "Solicitação de pagamento atualizada",
		fmt.Sprintf("Solicitação de %s: %s", sales.FormatBRL(request.Amount), paymentStatusLabel(request.Status)),
		domain.NotificationPayment), true
}

func classifyMachine(evt store.ChangeEvent) (domain.Notification, bool) {
	machine, ok := decode[domain.Machine](evt.Record)
	if !ok {
		return domain.Notification{}, false
	}
	if evt.Type == store.EventInsert {
		return derived(evt, machine.ID, "Nova máquina cadastrada", "Terminal "+machine.Terminal, domain.NotificationMachine), true
	}
	old, _ := decode[domain.Machine](evt.OldRecord)
	switch {
	case !sameClient(old.ClientID, machine.ClientID) && machine.ClientID != nil:
		return derived(evt, machine.ID, "Máquina alocada", "Terminal "+machine.Terminal+" vinculado ao cliente", domain.NotificationMachine), true
	case !sameClient(old.ClientID, machine.ClientID):
		return derived(evt, machine.ID, "Máquina devolvida ao estoque", "Terminal "+machine.Terminal, domain.NotificationMachine), true
	case old.Status != machine.Status:
		return derived(evt, machine.ID, "Status da máquina alterado", "Terminal "+machine.Terminal+": "+string(machine.Status), domain.NotificationMachine), true
	}
	return domain.Notification{}, false
}

func classifyClient(evt store.ChangeEvent) (domain.Notification, bool) {
	client, ok := decode[domain.Client](evt.Record)
	if !ok {
		return domain.Notification{}, false
	}
	return derived(evt, client.ID, "Novo cliente", client.Name, domain.NotificationClient), true
}

func classifyPixKey(evt store.ChangeEvent) (domain.Notification, bool) {
	key, ok := decode[domain.PixKey](evt.Record)
	if !ok {
		return domain.Notification{}, false
	}
	if evt.Type == store.EventInsert {
		return derived(evt, key.ID, "Nova chave Pix", "Chave "+string(key.KeyType)+" aguardando validação", domain.NotificationPixKey), true
	}
	old, _ := decode[domain.PixKey](evt.OldRecord)
	if old.Status == key.Status {
		return domain.Notification{}, false
	}
	return derived(evt, key.ID, "Chave Pix atualizada", "Chave "+key.Key+": "+string(key.Status), domain.NotificationPixKey), true
}

// derived builds an in-memory notification for a non-notification table.
// Recipients come from the table rule. Each change gets its own id, so a
// second update of the same row is not mistaken for the first.
func derived(evt store.ChangeEvent, rowID string, title string, message string, t domain.NotificationType) domain.Notification {
	return domain.Notification{
		ID:             xid.New(evt.Table + ":" + string(evt.Type) + ":" + rowID),
		Title:          title,
		Message:        message,
		Type:           t,
		RecipientRoles: slices.Clone(rules[evt.Table].roles),
	}
}

func sameClient(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func paymentStatusLabel(status domain.PaymentStatus) string {
	switch status {
	case domain.PaymentRequestApproved:
		return "aprovada"
	case domain.PaymentRequestRejected:
		return "recusada"
	case domain.PaymentRequestPaid:
		return "paga"
	}
	return "pendente"
}
