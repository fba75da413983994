package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"time"

	"go.uber.org/zap"

	"payboard/backend/internal/domain"
	"payboard/backend/internal/realtime"
)

const streamBuffer = 64

func (a *API) handleNotifications(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		limit := parsePositiveLimit(r.URL.Query().Get("limit"), realtime.DefaultListLimit, 200)
		notifications, err := a.service.ListNotifications(r.Context(), limit)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"notifications": notifications})
	case http.MethodPost:
		if !slices.Contains(backOffice, sessionOf(r).Role) {
			writeError(w, http.StatusForbidden, errForbiddenRole)
			return
		}
		var req domain.NotificationCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		created, err := a.service.CreateNotification(r.Context(), req)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"notification": created})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleNotificationRead(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodPatch {
		writeMethodNotAllowed(w)
		return
	}
	if err := a.service.MarkNotificationRead(r.Context(), r.PathValue("id")); err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) handleNotificationsReadAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	updated, err := a.service.MarkAllNotificationsRead(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"updated": updated})
}

func (a *API) handleNotificationDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeMethodNotAllowed(w)
		return
	}
	if err := a.service.DeleteNotification(r.Context(), r.PathValue("id")); err != nil {
		a.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleNotificationsCleanup drops expired notifications. Admins may sweep
// another user or everyone; other roles only clean their own.
func (a *API) handleNotificationsCleanup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req domain.NotificationCleanupRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	session := sessionOf(r)
	if session.Role != domain.RoleAdmin {
		req.UserID = session.UserID
	}
	resp, err := a.service.CleanupNotifications(r.Context(), req.UserID)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type streamEvent struct {
	name    string
	payload any
}

// handleNotificationStream pushes the viewer's notification feed as
// server-sent events: a snapshot first, then notification, toast, sound and
// snapshot events as rows change. Each connection owns one dispatcher.
func (a *API) handleNotificationStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	if a.feed == nil || a.notifications == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("notification stream unavailable"))
		return
	}

	session := sessionOf(r)
	ctx := r.Context()
	events := make(chan streamEvent, streamBuffer)
	done := make(chan struct{})
	emit := func(name string, payload any) {
		select {
		case events <- streamEvent{name: name, payload: payload}:
		case <-done:
		}
	}

	viewer := realtime.ViewerFromSession(session)
	if session.Role == domain.RolePartner {
		clients, err := a.service.ListClients(ctx)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		for _, client := range clients {
			viewer.ClientIDs = append(viewer.ClientIDs, client.ID)
		}
	}

	dispatcher := realtime.NewDispatcher(
		viewer,
		a.feed,
		a.notifications,
		realtime.Options{Preferences: realtime.Preferences{SoundEnabled: r.URL.Query().Get("sound") != "off"}},
		a.logger,
	)
	defer func() {
		close(done)
		_ = dispatcher.Close()
	}()
	dispatcher.OnNotification(func(n domain.Notification) { emit("notification", n) })
	dispatcher.OnToast(func(t realtime.Toast) { emit("toast", t) })
	dispatcher.OnSound(func(kind realtime.SoundKind) { emit("sound", map[string]any{"kind": kind}) })
	dispatcher.OnListReplaced(func(list []domain.Notification) { emit("snapshot", list) })

	if err := dispatcher.Start(ctx); err != nil {
		a.writeError(w, http.StatusInternalServerError, fmt.Errorf("start notification stream: %w", err))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		a.logger.Warn("clear stream write deadline failed", zap.Error(err))
	}
	if err := writeStreamEvent(w, rc, "snapshot", dispatcher.Notifications()); err != nil {
		return
	}

	heartbeat := time.NewTicker(a.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		case evt := <-events:
			if err := writeStreamEvent(w, rc, evt.name, evt.payload); err != nil {
				a.logger.Debug("notification stream closed", zap.String("user_id", session.UserID), zap.Error(err))
				return
			}
		}
	}
}

func writeStreamEvent(w io.Writer, rc *http.ResponseController, name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return err
	}
	return rc.Flush()
}
