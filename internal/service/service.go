package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"payboard/backend/internal/cache"
	"payboard/backend/internal/domain"
	"payboard/backend/internal/logging"
	"payboard/backend/internal/sales"
	"payboard/backend/internal/store"
)

type sessionContextKey struct{}

func WithSession(ctx context.Context, session domain.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, session)
}

func SessionFromContext(ctx context.Context) (domain.Session, bool) {
	session, ok := ctx.Value(sessionContextKey{}).(domain.Session)
	return session, ok
}

type Options struct {
	Location              *time.Location
	CacheTTL              time.Duration
	NotificationRetention time.Duration
	LegacyPixFallback     bool
}

type Service struct {
	repo       store.Repository
	cache      cache.QueryCache
	normalizer *sales.Normalizer
	logger     *zap.Logger
	loc        *time.Location
	cacheTTL   time.Duration
	retention  time.Duration
	now        func() time.Time
}

func New(repo store.Repository, queryCache cache.QueryCache, opts Options, logger *zap.Logger) *Service {
	logger = logging.OrNop(logger)
	if queryCache == nil {
		queryCache = cache.NoopQueryCache{}
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = time.Minute
	}
	if opts.NotificationRetention <= 0 {
		opts.NotificationRetention = DefaultNotificationRetention
	}

	normalizer := sales.NewNormalizer(logger.Named("normalizer"), opts.Location)
	normalizer.LegacyPixFallback = opts.LegacyPixFallback

	return &Service{
		repo:       repo,
		cache:      queryCache,
		normalizer: normalizer,
		logger:     logger.Named("service"),
		loc:        opts.Location,
		cacheTTL:   opts.CacheTTL,
		retention:  opts.NotificationRetention,
		now:        time.Now,
	}
}

func (s *Service) Location() *time.Location {
	return s.loc
}

// scopeClientID resolves which client a request acts on. CLIENT sessions are
// pinned to their own client; other roles use the requested id as given.
func scopeClientID(ctx context.Context, requested string) (string, error) {
	session, ok := SessionFromContext(ctx)
	if !ok || session.Role != domain.RoleClient {
		return requested, nil
	}
	if session.ClientID == "" {
		return "", store.ErrForbidden
	}
	if requested != "" && requested != session.ClientID {
		return "", store.ErrForbidden
	}
	return session.ClientID, nil
}

func requireSession(ctx context.Context) (domain.Session, error) {
	session, ok := SessionFromContext(ctx)
	if !ok || session.UserID == "" {
		return domain.Session{}, store.ErrForbidden
	}
	return session, nil
}
