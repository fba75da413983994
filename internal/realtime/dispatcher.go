package realtime

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"payboard/backend/internal/domain"
	"payboard/backend/internal/store"
)

var ErrDispatcherClosed = errors.New("dispatcher closed")

const (
	DefaultListLimit = 50
	refetchTimeout   = 10 * time.Second
)

type ChannelState int

const (
	StateIdle ChannelState = iota
	StateSubscribing
	StateSubscribed
	StateClosed
	StateFailed
)

func (s ChannelState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateSubscribing:
		return "SUBSCRIBING"
	case StateSubscribed:
		return "SUBSCRIBED"
	case StateClosed:
		return "CLOSED"
	case StateFailed:
		return "FAILED"
	}
	return fmt.Sprintf("ChannelState(%d)", int(s))
}

// Viewer is the user a dispatcher delivers notifications to. ClientIDs
// lists the clients a PARTNER viewer brought in.
type Viewer struct {
	UserID    string
	Role      domain.Role
	ClientID  string
	ClientIDs []string
}

// clientScope lists the clients whose rows the viewer may hear about.
// Roles that see every client report ok false.
func (v Viewer) clientScope() ([]string, bool) {
	switch v.Role {
	case domain.RoleClient:
		if v.ClientID == "" {
			return nil, true
		}
		return []string{v.ClientID}, true
	case domain.RolePartner:
		return v.ClientIDs, true
	}
	return nil, false
}

func ViewerFromSession(session domain.Session) Viewer {
	return Viewer{UserID: session.UserID, Role: session.Role, ClientID: session.ClientID}
}

type NotificationSource interface {
	ListNotifications(ctx context.Context, userID string, role domain.Role, limit int) ([]domain.Notification, error)
}

type Preferences struct {
	SoundEnabled bool
}

type Options struct {
	Preferences Preferences
	// ListLimit caps the in-memory list; zero means DefaultListLimit.
	ListLimit int
}

type channelKey struct {
	table  string
	userID string
}

type channel struct {
	state ChannelState
	sub   store.Subscription
}

// Dispatcher turns change events into notifications for one viewer.
// Feed callbacks only enqueue; a single run loop classifies events and
// invokes handlers, so handlers never run concurrently with each other.
type Dispatcher struct {
	viewer Viewer
	feed   store.ChangeFeed
	source NotificationSource
	prefs  Preferences
	limit  int
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	closed        bool
	channels      map[channelKey]*channel
	notifications []domain.Notification
	// derived holds notifications built from non-notification tables. They
	// are not persisted, so every reload merges them back in.
	derived []domain.Notification

	handlersMu     sync.Mutex
	onNotification []func(domain.Notification)
	onToast        []func(Toast)
	onSound        []func(SoundKind)
	onListReplaced []func([]domain.Notification)

	queueMu  sync.Mutex
	queue    []store.ChangeEvent
	wake     chan struct{}
	loopDone chan struct{}
	closeOne sync.Once
}

func NewDispatcher(viewer Viewer, feed store.ChangeFeed, source NotificationSource, opts Options, logger *zap.Logger) *Dispatcher {
	limit := opts.ListLimit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		viewer:   viewer,
		feed:     feed,
		source:   source,
		prefs:    opts.Preferences,
		limit:    limit,
		logger:   logger.With(zap.String("user_id", viewer.UserID), zap.String("role", string(viewer.Role))),
		ctx:      ctx,
		cancel:   cancel,
		channels: make(map[channelKey]*channel),
		wake:     make(chan struct{}, 1),
		loopDone: make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Dispatcher) OnNotification(fn func(domain.Notification)) {
	d.handlersMu.Lock()
	d.onNotification = append(d.onNotification, fn)
	d.handlersMu.Unlock()
}

func (d *Dispatcher) OnToast(fn func(Toast)) {
	d.handlersMu.Lock()
	d.onToast = append(d.onToast, fn)
	d.handlersMu.Unlock()
}

func (d *Dispatcher) OnSound(fn func(SoundKind)) {
	d.handlersMu.Lock()
	d.onSound = append(d.onSound, fn)
	d.handlersMu.Unlock()
}

// OnListReplaced fires after a full refetch of the notification list.
func (d *Dispatcher) OnListReplaced(fn func([]domain.Notification)) {
	d.handlersMu.Lock()
	d.onListReplaced = append(d.onListReplaced, fn)
	d.handlersMu.Unlock()
}

// Start loads the current list and opens every table the viewer's role
// listens to. Subscription failures are logged and leave that channel FAILED.
func (d *Dispatcher) Start(ctx context.Context) error {
	if err := d.Reload(ctx); err != nil {
		return err
	}
	for _, table := range Tables(d.viewer.Role) {
		if err := d.Open(ctx, table); errors.Is(err, ErrDispatcherClosed) {
			return err
		}
	}
	return nil
}

// Open subscribes to table for the viewer. It is a no-op while the channel is
// SUBSCRIBING or SUBSCRIBED. A close that lands while the subscribe call is in
// flight tears the new subscription down as soon as it returns.
func (d *Dispatcher) Open(ctx context.Context, table string) error {
	rule, ok := rules[table]
	if !ok {
		return fmt.Errorf("unknown table %q", table)
	}
	spec, ok := d.specFor(table, rule)
	if !ok {
		d.logger.Debug("realtime channel skipped, viewer has no client scope", zap.String("table", table))
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	key := channelKey{table: table, userID: d.viewer.UserID}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrDispatcherClosed
	}
	ch := d.channels[key]
	if ch == nil {
		ch = &channel{}
		d.channels[key] = ch
	}
	if ch.state == StateSubscribing || ch.state == StateSubscribed {
		d.mu.Unlock()
		return nil
	}
	ch.state = StateSubscribing
	d.mu.Unlock()

	sub, err := d.feed.Subscribe(d.ctx, spec, d.enqueue)

	d.mu.Lock()
	if err != nil {
		if d.closed {
			d.mu.Unlock()
			return ErrDispatcherClosed
		}
		if ch.state == StateSubscribing {
			ch.state = StateFailed
		}
		d.mu.Unlock()
		d.logger.Error("realtime subscribe failed", zap.String("table", table), zap.Error(err))
		return err
	}
	if d.closed || ch.state != StateSubscribing {
		d.mu.Unlock()
		if cerr := sub.Close(); cerr != nil {
			d.logger.Warn("close late subscription failed", zap.String("table", table), zap.Error(cerr))
		}
		return nil
	}
	ch.state = StateSubscribed
	ch.sub = sub
	d.mu.Unlock()

	d.logger.Debug("realtime channel subscribed", zap.String("table", table))
	return nil
}

func (d *Dispatcher) specFor(table string, rule tableRule) (store.SubscriptionSpec, bool) {
	spec := store.SubscriptionSpec{Table: table, Events: rule.events}
	if d.viewer.Role == domain.RolePartner && rule.partnerColumn != "" {
		spec.Filter = &store.RowFilter{Column: rule.partnerColumn, Values: []string{d.viewer.UserID}}
		return spec, true
	}
	scope, scoped := d.viewer.clientScope()
	if rule.clientScoped && scoped {
		if len(scope) == 0 {
			return spec, false
		}
		spec.Filter = &store.RowFilter{Column: "client_id", Values: slices.Clone(scope)}
	}
	return spec, true
}

// Release closes the channel for table. Releasing an idle or closed channel is
// a no-op.
func (d *Dispatcher) Release(table string) error {
	key := channelKey{table: table, userID: d.viewer.UserID}
	d.mu.Lock()
	ch := d.channels[key]
	if ch == nil {
		d.mu.Unlock()
		return nil
	}
	sub := ch.sub
	ch.sub = nil
	ch.state = StateClosed
	d.mu.Unlock()
	if sub == nil {
		return nil
	}
	return sub.Close()
}

func (d *Dispatcher) State(table string) ChannelState {
	d.mu.Lock()
	defer d.mu.Unlock()
	ch := d.channels[channelKey{table: table, userID: d.viewer.UserID}]
	if ch == nil {
		return StateIdle
	}
	return ch.state
}

// Notifications returns a copy of the current list, newest first.
func (d *Dispatcher) Notifications() []domain.Notification {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.notifications)
}

// Reload replaces the list with what the source currently holds, plus the
// notifications this dispatcher derived from other tables, newest first.
func (d *Dispatcher) Reload(ctx context.Context) error {
	if d.source == nil {
		return nil
	}
	list, err := d.source.ListNotifications(ctx, d.viewer.UserID, d.viewer.Role, d.limit)
	if err != nil {
		return fmt.Errorf("load notifications: %w", err)
	}
	d.mu.Lock()
	merged := append(slices.Clone(list), d.derived...)
	slices.SortStableFunc(merged, func(a, b domain.Notification) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if len(merged) > d.limit {
		merged = merged[:d.limit]
	}
	d.notifications = merged
	d.mu.Unlock()
	return nil
}

// Close tears down every channel and stops the run loop. Events published
// after Close are dropped. It is safe to call more than once, but not from
// inside a handler.
func (d *Dispatcher) Close() error {
	var errs []error
	d.closeOne.Do(func() {
		d.mu.Lock()
		d.closed = true
		subs := make([]store.Subscription, 0, len(d.channels))
		for _, ch := range d.channels {
			if ch.sub != nil {
				subs = append(subs, ch.sub)
			}
			ch.sub = nil
			ch.state = StateClosed
		}
		d.mu.Unlock()

		for _, sub := range subs {
			if err := sub.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		d.cancel()
		<-d.loopDone

		d.queueMu.Lock()
		d.queue = nil
		d.queueMu.Unlock()
	})
	return errors.Join(errs...)
}

func (d *Dispatcher) enqueue(evt store.ChangeEvent) {
	if d.ctx.Err() != nil {
		return
	}
	d.queueMu.Lock()
	d.queue = append(d.queue, evt)
	d.queueMu.Unlock()
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) dequeue() (store.ChangeEvent, bool) {
	d.queueMu.Lock()
	defer d.queueMu.Unlock()
	if len(d.queue) == 0 {
		return store.ChangeEvent{}, false
	}
	evt := d.queue[0]
	d.queue[0] = store.ChangeEvent{}
	d.queue = d.queue[1:]
	return evt, true
}

func (d *Dispatcher) run() {
	defer close(d.loopDone)
	for {
		select {
		case <-d.ctx.Done():
			return
		case <-d.wake:
		}
		for {
			if d.ctx.Err() != nil {
				return
			}
			evt, ok := d.dequeue()
			if !ok {
				break
			}
			d.handle(evt)
		}
	}
}

func (d *Dispatcher) handle(evt store.ChangeEvent) {
	if evt.Table == store.TableNotifications && evt.Type != store.EventInsert {
		d.refetch()
		return
	}
	rule, ok := rules[evt.Table]
	if !ok {
		return
	}
	n, ok := rule.classify(evt)
	if !ok {
		return
	}
	if !n.AddressedTo(d.viewer.UserID) || !n.VisibleTo(d.viewer.Role) {
		d.logger.Debug("notification not visible to viewer", zap.String("table", evt.Table), zap.String("id", n.ID))
		return
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}

	if d.prefs.SoundEnabled {
		kind := SoundFor(n.Type)
		for _, fn := range d.soundHandlers() {
			fn(kind)
		}
	}

	d.mu.Lock()
	d.notifications = prepend(d.notifications, n, d.limit)
	if evt.Table != store.TableNotifications {
		d.derived = prepend(d.derived, n, d.limit)
	}
	d.mu.Unlock()

	d.handlersMu.Lock()
	notify := slices.Clone(d.onNotification)
	toasts := slices.Clone(d.onToast)
	d.handlersMu.Unlock()
	for _, fn := range notify {
		fn(n)
	}
	toast := toastFor(n)
	for _, fn := range toasts {
		fn(toast)
	}
}

func prepend(list []domain.Notification, n domain.Notification, limit int) []domain.Notification {
	list = slices.Insert(list, 0, n)
	if len(list) > limit {
		list = list[:limit]
	}
	return list
}

func (d *Dispatcher) soundHandlers() []func(SoundKind) {
	d.handlersMu.Lock()
	defer d.handlersMu.Unlock()
	return slices.Clone(d.onSound)
}

func (d *Dispatcher) refetch() {
	ctx, cancel := context.WithTimeout(d.ctx, refetchTimeout)
	defer cancel()
	if err := d.Reload(ctx); err != nil {
		d.logger.Warn("notification refetch failed", zap.Error(err))
		return
	}
	list := d.Notifications()
	d.handlersMu.Lock()
	replaced := slices.Clone(d.onListReplaced)
	d.handlersMu.Unlock()
	for _, fn := range replaced {
		fn(slices.Clone(list))
	}
}
