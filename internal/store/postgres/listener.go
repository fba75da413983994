package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"payboard/backend/internal/store"
)

// changeChannel is the NOTIFY channel written by payboard_notify_change().
const changeChannel = "payboard_changes"

// listen relays NOTIFY payloads into the broker until ctx ends. pq.Listener
// reconnects on its own; a nil notification marks a reconnect.
func (s *Store) listen(ctx context.Context, databaseURL string) error {
	listener := pq.NewListener(databaseURL, 2*time.Second, time.Minute, func(event pq.ListenerEventType, err error) {
		switch event {
		case pq.ListenerEventDisconnected:
			s.logger.Warn("change feed disconnected", zap.Error(err))
		case pq.ListenerEventReconnected:
			s.logger.Info("change feed reconnected")
		case pq.ListenerEventConnectionAttemptFailed:
			s.logger.Warn("change feed connection attempt failed", zap.Error(err))
		}
	})
	if err := listener.Listen(changeChannel); err != nil {
		_ = listener.Close()
		return err
	}

	go func() {
		defer listener.Close()
		ping := time.NewTicker(90 * time.Second)
		defer ping.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case n := <-listener.Notify:
				if n == nil {
					continue
				}
				var evt store.ChangeEvent
				if err := json.Unmarshal([]byte(n.Extra), &evt); err != nil {
					s.logger.Warn("decode change notification", zap.Error(err))
					continue
				}
				s.feed.Publish(evt)
			case <-ping.C:
				if err := listener.Ping(); err != nil {
					s.logger.Warn("change feed ping", zap.Error(err))
				}
			}
		}
	}()
	return nil
}
