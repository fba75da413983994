package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []ChangeEvent
}

func (r *recorder) handle(evt ChangeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func mustEvent(t *testing.T, table string, eventType EventType, record any) ChangeEvent {
	t.Helper()
	evt, err := NewChangeEvent(table, eventType, record, nil)
	require.NoError(t, err)
	return evt
}

func TestBrokerDeliversMatchingEvents(t *testing.T) {
	broker := NewBroker()
	rec := &recorder{}
	_, err := broker.Subscribe(context.Background(), SubscriptionSpec{
		Table:  TableNotifications,
		Events: []EventType{EventInsert},
	}, rec.handle)
	require.NoError(t, err)

	broker.Publish(mustEvent(t, TableNotifications, EventInsert, map[string]any{"id": "n1"}))
	broker.Publish(mustEvent(t, TableNotifications, EventUpdate, map[string]any{"id": "n1"}))
	broker.Publish(mustEvent(t, TableSales, EventInsert, map[string]any{"id": "s1"}))

	require.Equal(t, 1, rec.len())
	id, ok := rec.events[0].Column("id")
	assert.True(t, ok)
	assert.Equal(t, "n1", id)
}

func TestBrokerRowFilter(t *testing.T) {
	broker := NewBroker()
	rec := &recorder{}
	_, err := broker.Subscribe(context.Background(), SubscriptionSpec{
		Table:  TableMachines,
		Filter: &RowFilter{Column: "client_id", Values: []string{"c1", "c5"}},
	}, rec.handle)
	require.NoError(t, err)

	broker.Publish(mustEvent(t, TableMachines, EventInsert, map[string]any{"id": "m1", "client_id": "c1"}))
	broker.Publish(mustEvent(t, TableMachines, EventInsert, map[string]any{"id": "m2", "client_id": "c2"}))
	broker.Publish(mustEvent(t, TableMachines, EventInsert, map[string]any{"id": "m3", "client_id": nil}))
	broker.Publish(mustEvent(t, TableMachines, EventInsert, map[string]any{"id": "m5", "client_id": "c5"}))

	deleted, err := NewChangeEvent(TableMachines, EventDelete, nil, map[string]any{"id": "m4", "client_id": "c1"})
	require.NoError(t, err)
	broker.Publish(deleted)

	assert.Equal(t, 3, rec.len())
}

func TestEmptyRowFilterMatchesNothing(t *testing.T) {
	spec := SubscriptionSpec{Table: TableSales, Filter: &RowFilter{Column: "client_id"}}
	assert.False(t, spec.Matches(mustEvent(t, TableSales, EventInsert, map[string]any{"id": "s1", "client_id": ""})))
}

func TestBrokerSubscriptionCloseIsIdempotent(t *testing.T) {
	broker := NewBroker()
	rec := &recorder{}
	sub, err := broker.Subscribe(context.Background(), SubscriptionSpec{Table: TableSales}, rec.handle)
	require.NoError(t, err)
	assert.Equal(t, 1, broker.Subscribers())

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
	assert.Equal(t, 0, broker.Subscribers())

	broker.Publish(mustEvent(t, TableSales, EventInsert, map[string]any{"id": "s1"}))
	assert.Equal(t, 0, rec.len())
}

func TestBrokerContextCancelUnsubscribes(t *testing.T) {
	broker := NewBroker()
	ctx, cancel := context.WithCancel(context.Background())
	_, err := broker.Subscribe(ctx, SubscriptionSpec{Table: TableSales}, func(ChangeEvent) {})
	require.NoError(t, err)

	cancel()
	require.Eventually(t, func() bool { return broker.Subscribers() == 0 }, time.Second, 5*time.Millisecond)
}

func TestBrokerRejectsInvalidAndClosed(t *testing.T) {
	broker := NewBroker()
	_, err := broker.Subscribe(context.Background(), SubscriptionSpec{}, func(ChangeEvent) {})
	assert.ErrorIs(t, err, ErrInvalidInput)

	broker.Close()
	_, err = broker.Subscribe(context.Background(), SubscriptionSpec{Table: TableSales}, func(ChangeEvent) {})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestChangeEventColumnScalars(t *testing.T) {
	evt := mustEvent(t, TableNotifications, EventInsert, map[string]any{
		"is_read": false,
		"roles":   []string{"ADMIN"},
	})
	value, ok := evt.Column("is_read")
	assert.True(t, ok)
	assert.Equal(t, "false", value)

	_, ok = evt.Column("roles")
	assert.False(t, ok)
	_, ok = evt.Column("missing")
	assert.False(t, ok)
}
