package store

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
)

type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// ChangeEvent is one row mutation. Record holds the new row and OldRecord the
// previous one, both as JSON objects keyed by column name.
type ChangeEvent struct {
	Table     string          `json:"table"`
	Type      EventType       `json:"type"`
	Record    json.RawMessage `json:"record,omitempty"`
	OldRecord json.RawMessage `json:"old_record,omitempty"`
}

func NewChangeEvent(table string, eventType EventType, record any, oldRecord any) (ChangeEvent, error) {
	evt := ChangeEvent{Table: table, Type: eventType}
	if record != nil {
		raw, err := json.Marshal(record)
		if err != nil {
			return ChangeEvent{}, fmt.Errorf("encode %s record: %w", table, err)
		}
		evt.Record = raw
	}
	if oldRecord != nil {
		raw, err := json.Marshal(oldRecord)
		if err != nil {
			return ChangeEvent{}, fmt.Errorf("encode %s old record: %w", table, err)
		}
		evt.OldRecord = raw
	}
	return evt, nil
}

// Column reads a scalar column from the new row, or from the old row for
// deletes. Nulls and missing columns report false.
func (e ChangeEvent) Column(name string) (string, bool) {
	raw := e.Record
	if len(raw) == 0 || string(raw) == "null" {
		raw = e.OldRecord
	}
	if len(raw) == 0 {
		return "", false
	}
	var row map[string]any
	if err := json.Unmarshal(raw, &row); err != nil {
		return "", false
	}
	value, ok := row[name]
	if !ok || value == nil {
		return "", false
	}
	switch v := value.(type) {
	case string:
		return v, true
	case bool, float64:
		return fmt.Sprint(v), true
	default:
		return "", false
	}
}

// RowFilter restricts a subscription to rows whose Column holds one of
// Values. An empty Values set matches nothing.
type RowFilter struct {
	Column string
	Values []string
}

type SubscriptionSpec struct {
	Table string
	// Events lists the event types to deliver; empty means all.
	Events []EventType
	Filter *RowFilter
}

func (s SubscriptionSpec) Matches(evt ChangeEvent) bool {
	if evt.Table != s.Table {
		return false
	}
	if len(s.Events) > 0 && !slices.Contains(s.Events, evt.Type) {
		return false
	}
	if s.Filter != nil {
		value, ok := evt.Column(s.Filter.Column)
		if !ok || !slices.Contains(s.Filter.Values, value) {
			return false
		}
	}
	return true
}

type Subscription interface {
	Close() error
}

// ChangeFeed delivers row mutations. Handlers run on the publisher's
// goroutine and must not block.
type ChangeFeed interface {
	Subscribe(ctx context.Context, spec SubscriptionSpec, handler func(ChangeEvent)) (Subscription, error)
}

// Broker is an in-process ChangeFeed. Both stores publish into one after
// each committed mutation.
type Broker struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]*brokerSubscription
	closed bool
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[uint64]*brokerSubscription)}
}

type brokerSubscription struct {
	broker  *Broker
	id      uint64
	spec    SubscriptionSpec
	handler func(ChangeEvent)
	once    sync.Once
	stop    func() bool
}

// Subscribe registers handler until the subscription is closed or ctx ends.
func (b *Broker) Subscribe(ctx context.Context, spec SubscriptionSpec, handler func(ChangeEvent)) (Subscription, error) {
	if spec.Table == "" || handler == nil {
		return nil, fmt.Errorf("%w: subscription needs a table and a handler", ErrInvalidInput)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	b.nextID++
	sub := &brokerSubscription{broker: b, id: b.nextID, spec: spec, handler: handler}
	b.subs[sub.id] = sub
	sub.stop = context.AfterFunc(ctx, func() { _ = sub.Close() })
	b.mu.Unlock()
	return sub, nil
}

func (s *brokerSubscription) Close() error {
	s.once.Do(func() {
		s.broker.mu.Lock()
		stop := s.stop
		delete(s.broker.subs, s.id)
		s.broker.mu.Unlock()
		if stop != nil {
			stop()
		}
	})
	return nil
}

func (b *Broker) Publish(evt ChangeEvent) {
	b.mu.RLock()
	targets := make([]*brokerSubscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.spec.Matches(evt) {
			targets = append(targets, sub)
		}
	}
	b.mu.RUnlock()

	slices.SortFunc(targets, func(a, b *brokerSubscription) int {
		switch {
		case a.id < b.id:
			return -1
		case a.id > b.id:
			return 1
		}
		return 0
	})
	for _, sub := range targets {
		sub.handler(evt)
	}
}

// Subscribers reports the number of live subscriptions.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close drops every subscription; later Subscribe calls fail with ErrClosed.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	clear(b.subs)
}
