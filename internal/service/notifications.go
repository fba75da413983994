package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"payboard/backend/internal/domain"
	"payboard/backend/internal/store"
)

const (
	DefaultNotificationRetention = 120 * time.Hour
	defaultNotificationLimit     = 50
	maxNotificationLimit         = 200
)

// ListNotifications returns the session user's notifications, newest first.
func (s *Service) ListNotifications(ctx context.Context, limit int) ([]domain.Notification, error) {
	session, err := requireSession(ctx)
	if err != nil {
		return nil, err
	}
	if limit < 1 || limit > maxNotificationLimit {
		limit = defaultNotificationLimit
	}
	return s.repo.ListNotifications(ctx, session.UserID, session.Role, limit)
}

func (s *Service) CreateNotification(ctx context.Context, req domain.NotificationCreateRequest) (domain.Notification, error) {
	req.Title = strings.TrimSpace(req.Title)
	req.Message = strings.TrimSpace(req.Message)
	if req.Title == "" {
		return domain.Notification{}, store.ErrInvalidInput
	}
	if req.Type == "" {
		req.Type = domain.NotificationSystem
	}
	if !req.Type.Valid() {
		return domain.Notification{}, store.ErrInvalidInput
	}
	for _, role := range req.RecipientRoles {
		if !role.Valid() {
			return domain.Notification{}, store.ErrInvalidInput
		}
	}

	created, err := s.repo.CreateNotification(ctx, domain.Notification{
		UserID:         strings.TrimSpace(req.UserID),
		Title:          req.Title,
		Message:        req.Message,
		Type:           req.Type,
		RecipientRoles: req.RecipientRoles,
	})
	if err != nil {
		return domain.Notification{}, err
	}
	return *created, nil
}

func (s *Service) MarkNotificationRead(ctx context.Context, id string) error {
	session, err := requireSession(ctx)
	if err != nil {
		return err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return store.ErrInvalidInput
	}
	return s.repo.MarkNotificationRead(ctx, id, session.UserID)
}

func (s *Service) MarkAllNotificationsRead(ctx context.Context) (int64, error) {
	session, err := requireSession(ctx)
	if err != nil {
		return 0, err
	}
	return s.repo.MarkAllNotificationsRead(ctx, session.UserID, session.Role)
}

func (s *Service) DeleteNotification(ctx context.Context, id string) error {
	session, err := requireSession(ctx)
	if err != nil {
		return err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return store.ErrInvalidInput
	}
	return s.repo.DeleteNotification(ctx, id, session.UserID)
}

// CleanupNotifications deletes notifications older than the retention window,
// for one user or, with an empty userID, for everyone. It only deletes by
// predicate, so it is safe to run next to live subscriptions.
func (s *Service) CleanupNotifications(ctx context.Context, userID string) (domain.NotificationCleanupResponse, error) {
	cutoff := s.now().Add(-s.retention)
	deleted, err := s.repo.DeleteNotificationsBefore(ctx, cutoff, strings.TrimSpace(userID))
	if err != nil {
		return domain.NotificationCleanupResponse{}, fmt.Errorf("cleanup notifications: %w", err)
	}
	if deleted > 0 {
		s.logger.Info("old notifications removed", zap.Int64("deleted", deleted), zap.Time("cutoff", cutoff), zap.String("user_id", userID))
	}
	return domain.NotificationCleanupResponse{
		Deleted: deleted,
		Cutoff:  cutoff.In(s.loc).Format(time.RFC3339),
	}, nil
}

// RunCleanup sweeps expired notifications for all users every interval until
// ctx is done.
func (s *Service) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.CleanupNotifications(ctx, ""); err != nil && ctx.Err() == nil {
			s.logger.Warn("notification cleanup failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
