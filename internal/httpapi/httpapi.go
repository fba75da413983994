package httpapi

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"payboard/backend/internal/domain"
	"payboard/backend/internal/logging"
	"payboard/backend/internal/realtime"
	"payboard/backend/internal/service"
	"payboard/backend/internal/store"
)

const (
	maxJSONBody       = 1 << 20
	maxImportBody     = 32 << 20
	defaultHeartbeat  = 25 * time.Second
	streamPath        = "/api/v1/notifications/stream"
	accessTokenQuery  = "access_token"
	csrfHeader        = "X-CSRF-Token"
	csrfBucketSeconds = 3600
)

type Config struct {
	AllowedOrigin string
	// Feed and Notifications back the notification stream. The stream
	// endpoint answers 503 when Feed is nil.
	Feed          store.ChangeFeed
	Notifications realtime.NotificationSource
	Heartbeat     time.Duration
	Logger        *zap.Logger
}

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	feed          store.ChangeFeed
	notifications realtime.NotificationSource
	heartbeat     time.Duration
	logger        *zap.Logger
	loginLimiter  *attemptLimiter
	csrfSecret    []byte
}

func New(svc *service.Service, auth *AuthManager, cfg Config) *API {
	logger := logging.OrNop(cfg.Logger).Named("http")
	csrfSecret := make([]byte, 32)
	if _, err := rand.Read(csrfSecret); err != nil {
		logger.Warn("crypto/rand unavailable, using static csrf secret", zap.Error(err))
		csrfSecret = []byte("csrf-fallback-secret-change-me!!")
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = defaultHeartbeat
	}
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: cfg.AllowedOrigin,
		feed:          cfg.Feed,
		notifications: cfg.Notifications,
		heartbeat:     cfg.Heartbeat,
		logger:        logger,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		csrfSecret:    csrfSecret,
	}
}

// csrfTokenForHour computes the hex HMAC token for an hour bucket given as
// Unix seconds truncated to the hour.
func (a *API) csrfTokenForHour(hourBucket int64) string {
	h := hmac.New(sha256.New, a.csrfSecret)
	fmt.Fprintf(h, "%d", hourBucket)
	return hex.EncodeToString(h.Sum(nil))
}

func (a *API) generateCSRFToken() string {
	bucket := time.Now().UTC().Truncate(time.Hour).Unix()
	return a.csrfTokenForHour(bucket)
}

// validateCSRFToken accepts tokens from the current or previous hour bucket.
func (a *API) validateCSRFToken(token string) bool {
	if token == "" {
		return false
	}
	current := time.Now().UTC().Truncate(time.Hour).Unix()
	for _, bucket := range []int64{current, current - csrfBucketSeconds} {
		if hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(bucket))) {
			return true
		}
	}
	return false
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	l.entries[key] = append(kept, now)
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

var errForbiddenRole = errors.New("forbidden role")

var (
	allRoles     = []domain.Role{domain.RoleAdmin, domain.RoleClient, domain.RolePartner, domain.RoleLogistics, domain.RoleFinancial}
	salesReaders = []domain.Role{domain.RoleAdmin, domain.RoleFinancial, domain.RolePartner, domain.RoleClient}
	backOffice   = []domain.Role{domain.RoleAdmin, domain.RoleFinancial}
	fleetRoles   = []domain.Role{domain.RoleAdmin, domain.RoleLogistics}
)

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/api/v1/auth/login", a.handleLogin)
	mux.HandleFunc("/api/v1/auth/csrf-token", a.handleCSRFToken)
	mux.HandleFunc("/api/v1/auth/session", a.requireAuth(a.handleSession, allRoles...))

	mux.HandleFunc("/api/v1/sales", a.requireAuth(a.handleSales, salesReaders...))
	mux.HandleFunc("/api/v1/sales/date-range", a.requireAuth(a.handleSalesDateRange, salesReaders...))
	mux.HandleFunc("/api/v1/sales/terminals", a.requireAuth(a.handleSalesTerminals, domain.RoleAdmin, domain.RoleFinancial, domain.RoleLogistics))
	mux.HandleFunc("/api/v1/sales/totals", a.requireAuth(a.handleSalesTotals, salesReaders...))
	mux.HandleFunc("/api/v1/sales/export.csv", a.requireAuth(a.handleSalesExport, salesReaders...))
	mux.HandleFunc("/api/v1/sales/import", a.requireAuth(a.handleSalesImport, backOffice...))

	mux.HandleFunc("/api/v1/notifications", a.requireAuth(a.handleNotifications, allRoles...))
	mux.HandleFunc("/api/v1/notifications/read-all", a.requireAuth(a.handleNotificationsReadAll, allRoles...))
	mux.HandleFunc("/api/v1/notifications/cleanup", a.requireAuth(a.handleNotificationsCleanup, allRoles...))
	mux.HandleFunc("/api/v1/notifications/{id}", a.requireAuth(a.handleNotificationDelete, allRoles...))
	mux.HandleFunc("/api/v1/notifications/{id}/read", a.requireAuth(a.handleNotificationRead, allRoles...))
	mux.HandleFunc(streamPath, a.requireStreamAuth(a.handleNotificationStream))

	mux.HandleFunc("/api/v1/clients", a.requireAuth(a.handleClients, domain.RoleAdmin, domain.RolePartner, domain.RoleFinancial))
	mux.HandleFunc("/api/v1/clients/{id}", a.requireAuth(a.handleClient, domain.RoleAdmin, domain.RolePartner, domain.RoleFinancial, domain.RoleClient))
	mux.HandleFunc("/api/v1/clients/{id}/status", a.requireAuth(a.handleClientStatus, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/clients/{id}/sales", a.requireAuth(a.handleClientSales, salesReaders...))

	mux.HandleFunc("/api/v1/machines", a.requireAuth(a.handleMachines, domain.RoleAdmin, domain.RoleLogistics, domain.RoleClient))
	mux.HandleFunc("/api/v1/machines/{id}/assign", a.requireAuth(a.handleMachineAssign, fleetRoles...))
	mux.HandleFunc("/api/v1/machines/{id}/status", a.requireAuth(a.handleMachineStatus, fleetRoles...))

	mux.HandleFunc("/api/v1/payment-requests", a.requireAuth(a.handlePaymentRequests, domain.RoleAdmin, domain.RoleFinancial, domain.RoleClient))
	mux.HandleFunc("/api/v1/payment-requests/{id}/status", a.requireAuth(a.handlePaymentRequestStatus, backOffice...))

	mux.HandleFunc("/api/v1/pix-keys", a.requireAuth(a.handlePixKeys, domain.RoleAdmin, domain.RoleFinancial, domain.RoleClient))
	mux.HandleFunc("/api/v1/pix-keys/{id}/status", a.requireAuth(a.handlePixKeyStatus, backOffice...))

	mux.HandleFunc("/api/v1/fee-plans/{clientID}", a.requireAuth(a.handleFeePlan, domain.RoleAdmin, domain.RoleFinancial, domain.RoleClient))
	mux.HandleFunc("/api/v1/users", a.requireAuth(a.handleUsers, domain.RoleAdmin))

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...domain.Role) http.HandlerFunc {
	return a.authenticate(next, false, roles)
}

// requireStreamAuth also accepts the token as a query parameter, since
// browser EventSource cannot send an Authorization header.
func (a *API) requireStreamAuth(next http.HandlerFunc) http.HandlerFunc {
	return a.authenticate(next, true, allRoles)
}

func (a *API) authenticate(next http.HandlerFunc, allowQuery bool, roles []domain.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok && allowQuery {
			token = strings.TrimSpace(r.URL.Query().Get(accessTokenQuery))
			ok = token != ""
		}
		if !ok {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		session, err := a.auth.CurrentSession(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		if len(roles) > 0 && !slices.Contains(roles, session.Role) {
			writeError(w, http.StatusForbidden, errForbiddenRole)
			return
		}

		next(w, r.WithContext(service.WithSession(r.Context(), session)))
	}
}

func bearerToken(r *http.Request) (string, bool) {
	authorization := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
		return "", false
	}
	token := strings.TrimSpace(authorization[len("Bearer "):])
	return token, token != ""
}

func sessionOf(r *http.Request) domain.Session {
	session, _ := service.SessionFromContext(r.Context())
	return session
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		status := http.StatusUnauthorized
		if errors.Is(err, ErrInactiveAccount) {
			status = http.StatusForbidden
		}
		if !errors.Is(err, ErrInvalidCredentials) && !errors.Is(err, ErrInactiveAccount) {
			status = http.StatusInternalServerError
		}
		a.writeError(w, status, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	session := sessionOf(r)
	writeJSON(w, http.StatusOK, domain.SessionResponse{
		Session:      session,
		Routes:       PermittedRoutes(session.Role),
		DefaultRoute: DefaultRoute(session.Role),
	})
}

// handleCSRFToken returns a token for the X-CSRF-Token header of mutating
// requests.
func (a *API) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"csrf_token": a.generateCSRFToken(),
	})
}

// Login is called before a CSRF token can be fetched.
var csrfExemptPaths = []string{
	"/api/v1/auth/login",
}

func (a *API) checkCSRF(w http.ResponseWriter, r *http.Request) bool {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return true
	}
	if slices.Contains(csrfExemptPaths, r.URL.Path) {
		return true
	}
	if !a.validateCSRFToken(strings.TrimSpace(r.Header.Get(csrfHeader))) {
		writeError(w, http.StatusForbidden, errors.New("missing or invalid CSRF token"))
		return false
	}
	return true
}

func (a *API) handleUsers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"users": a.auth.ListUsers(r.Context())})
	case http.MethodPost:
		var req domain.UserCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		user, err := a.auth.CreateUser(r.Context(), req)
		if err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, store.ErrConflict) {
				status = http.StatusConflict
			}
			writeError(w, status, err)
			return
		}

		writeJSON(w, http.StatusCreated, map[string]any{"user": user})
	default:
		writeMethodNotAllowed(w)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying flusher.
func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-CSRF-Token")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if (r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut) && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if !a.checkCSRF(w, r) {
			return
		}

		startedAt := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		a.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(startedAt)),
		)
	})
}

// statusFor maps service and store errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) writeServiceError(w http.ResponseWriter, err error) {
	a.writeError(w, statusFor(err), err)
}

// writeError logs 5xx causes and answers with a generic message.
func (a *API) writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		a.logger.Error("internal error", zap.Int("status", status), zap.Error(err))
	}
	writeError(w, status, err)
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
