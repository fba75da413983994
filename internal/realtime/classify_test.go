package realtime

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payboard/backend/internal/domain"
	"payboard/backend/internal/store"
)

func event(t *testing.T, table string, eventType store.EventType, record any, old any) store.ChangeEvent {
	t.Helper()
	evt, err := store.NewChangeEvent(table, eventType, record, old)
	require.NoError(t, err)
	return evt
}

func TestSoundFor(t *testing.T) {
	cases := map[domain.NotificationType]SoundKind{
		domain.NotificationSale:          SoundSale,
		domain.NotificationPayment:       SoundPayment,
		domain.NotificationBalanceUpdate: SoundPayment,
		domain.NotificationMachine:       SoundAlert,
		domain.NotificationSystem:        SoundDefault,
		domain.NotificationClient:        SoundDefault,
	}
	for typ, want := range cases {
		assert.Equal(t, want, SoundFor(typ), typ)
	}
}

func TestTablesPerRole(t *testing.T) {
	assert.Equal(t, []string{
		store.TableNotifications, store.TableSales, store.TablePaymentRequests,
		store.TableMachines, store.TableClients, store.TablePixKeys,
	}, Tables(domain.RoleAdmin))
	assert.Equal(t, []string{store.TableNotifications, store.TableMachines}, Tables(domain.RoleLogistics))
	assert.NotContains(t, Tables(domain.RoleClient), store.TableClients)
}

func TestPaymentRequestOnlyNotifiesOnStatusChange(t *testing.T) {
	before := domain.PaymentRequest{ID: "pay-1", ClientID: "cli-1", Amount: decimal.NewFromInt(250), Status: domain.PaymentRequestPending}
	after := before
	after.Description = "ajuste"

	_, ok := classifyPaymentRequest(event(t, store.TablePaymentRequests, store.EventUpdate, after, before))
	assert.False(t, ok)

	after.Status = domain.PaymentRequestApproved
	n, ok := classifyPaymentRequest(event(t, store.TablePaymentRequests, store.EventUpdate, after, before))
	require.True(t, ok)
	assert.Equal(t, "Solicitação de R$ 250,00: aprovada", n.Message)
	assert.Equal(t, domain.NotificationPayment, n.Type)
	assert.True(t, n.VisibleTo(domain.RoleClient))
	assert.False(t, n.VisibleTo(domain.RoleLogistics))
}

func TestMachineAssignmentNotifies(t *testing.T) {
	clientID := "cli-1"
	stock := domain.Machine{ID: "mac-9", Terminal: "PB09Z9", Status: domain.MachineInStock}
	assigned := stock
	assigned.ClientID = &clientID
	assigned.Status = domain.MachineActive

	n, ok := classifyMachine(event(t, store.TableMachines, store.EventUpdate, assigned, stock))
	require.True(t, ok)
	assert.Equal(t, "Máquina alocada", n.Title)

	n, ok = classifyMachine(event(t, store.TableMachines, store.EventUpdate, stock, assigned))
	require.True(t, ok)
	assert.Equal(t, "Máquina devolvida ao estoque", n.Title)
}

func TestNotificationRowWithUnknownTypeFallsBackToSystem(t *testing.T) {
	row := map[string]any{"id": "ntf-1", "title": "Aviso", "type": "PROMO", "recipient_roles": []string{}}
	n, ok := classifyNotification(event(t, store.TableNotifications, store.EventInsert, row, nil))
	require.True(t, ok)
	assert.Equal(t, domain.NotificationSystem, n.Type)

	_, ok = classifyNotification(event(t, store.TableNotifications, store.EventUpdate, row, row))
	assert.False(t, ok)
}

func TestRepeatedChangesOfOneRowGetDistinctIDs(t *testing.T) {
	active := domain.Machine{ID: "mac-9", Terminal: "PB09Z9", Status: domain.MachineActive}
	inactive := active
	inactive.Status = domain.MachineInactive

	first, ok := classifyMachine(event(t, store.TableMachines, store.EventUpdate, inactive, active))
	require.True(t, ok)
	second, ok := classifyMachine(event(t, store.TableMachines, store.EventUpdate, active, inactive))
	require.True(t, ok)

	assert.NotEqual(t, first.ID, second.ID)
	assert.True(t, strings.HasPrefix(first.ID, "machines:UPDATE:mac-9-"), first.ID)
}
