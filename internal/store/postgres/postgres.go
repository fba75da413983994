package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"payboard/backend/internal/domain"
	"payboard/backend/internal/logging"
	"payboard/backend/internal/sales"
	"payboard/backend/internal/store"
	"payboard/backend/internal/xid"
)

const insertBatchSize = 500

// Store is the postgres backend. Row triggers publish every mutation with
// pg_notify; a lib/pq listener relays them into the in-process broker.
type Store struct {
	db         *sql.DB
	feed       *store.Broker
	logger     *zap.Logger
	loc        *time.Location
	stopListen context.CancelFunc
}

// New connects and starts the change listener. loc is used for hour filters
// without an explicit location and for returned timestamps.
func New(ctx context.Context, databaseURL string, logger *zap.Logger, loc *time.Location) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if loc == nil {
		loc = time.UTC
	}
	s := &Store{db: db, feed: store.NewBroker(), logger: logging.OrNop(logger), loc: loc}

	listenCtx, stop := context.WithCancel(context.Background())
	if err := s.listen(listenCtx, databaseURL); err != nil {
		stop()
		_ = db.Close()
		return nil, fmt.Errorf("listen for changes: %w", err)
	}
	s.stopListen = stop
	return s, nil
}

func (s *Store) Close() error {
	if s.stopListen != nil {
		s.stopListen()
	}
	s.feed.Close()
	return s.db.Close()
}

func (s *Store) Subscribe(ctx context.Context, spec store.SubscriptionSpec, handler func(store.ChangeEvent)) (store.Subscription, error) {
	return s.feed.Subscribe(ctx, spec, handler)
}

const saleColumns = `id, code, status, payment_method, payment_type, gross_amount, transaction_date,
	installments, terminal, brand, source, client_id, client_name`

func (s *Store) InsertSales(ctx context.Context, batch []domain.NormalizedSale) (int, error) {
	for _, sale := range batch {
		if sale.ID == "" || sale.GrossAmount.IsNegative() || sale.Installments < 1 {
			return 0, store.ErrInvalidInput
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	batch, err = stampClientIDs(ctx, tx, batch)
	if err != nil {
		return 0, err
	}

	inserted := 0
	for start := 0; start < len(batch); start += insertBatchSize {
		end := min(start+insertBatchSize, len(batch))
		chunk := batch[start:end]

		var b strings.Builder
		args := make([]any, 0, len(chunk)*13)
		b.WriteString("INSERT INTO sales (" + saleColumns + ") VALUES ")
		for i, sale := range chunk {
			if i > 0 {
				b.WriteString(",")
			}
			b.WriteString("(")
			for col := 0; col < 13; col++ {
				if col > 0 {
					b.WriteString(",")
				}
				fmt.Fprintf(&b, "$%d", len(args)+col+1)
			}
			b.WriteString(")")
			args = append(args,
				sale.ID, sale.Code, string(sale.Status), string(sale.PaymentMethod), sale.PaymentType,
				sale.GrossAmount, sale.TransactionDate.UTC(), sale.Installments, sale.Terminal,
				sale.Brand, sale.Source, sale.ClientID, sale.ClientName,
			)
		}
		b.WriteString(" ON CONFLICT (id) DO NOTHING")

		res, err := tx.ExecContext(ctx, b.String(), args...)
		if err != nil {
			return 0, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		inserted += int(affected)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

// stampClientIDs fills ClientID from the machine assigned to the sale's
// terminal (or serial) when the row does not carry one.
func stampClientIDs(ctx context.Context, tx *sql.Tx, batch []domain.NormalizedSale) ([]domain.NormalizedSale, error) {
	terminals := make([]string, 0, len(batch))
	for _, sale := range batch {
		if sale.ClientID == "" && sale.Terminal != "" {
			terminals = append(terminals, strings.ToLower(sale.Terminal))
		}
	}
	if len(terminals) == 0 {
		return batch, nil
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT lower(terminal), lower(serial_number), client_id
		FROM machines
		WHERE client_id IS NOT NULL AND (lower(terminal) = ANY($1::text[]) OR lower(serial_number) = ANY($1::text[]))
	`, pq.Array(terminals))
	if err != nil {
		return nil, fmt.Errorf("resolve terminal owners: %w", err)
	}
	defer rows.Close()

	owners := make(map[string]string)
	for rows.Next() {
		var terminal, serial, clientID string
		if err := rows.Scan(&terminal, &serial, &clientID); err != nil {
			return nil, err
		}
		owners[terminal] = clientID
		owners[serial] = clientID
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	stamped := slices.Clone(batch)
	for i := range stamped {
		if stamped[i].ClientID == "" {
			stamped[i].ClientID = owners[strings.ToLower(stamped[i].Terminal)]
		}
	}
	return stamped, nil
}

func (s *Store) QuerySales(ctx context.Context, query domain.SalesQuery) (domain.SalesPage, error) {
	page := max(query.Page, 1)
	pageSize := query.PageSize
	if pageSize < 1 {
		pageSize = sales.DefaultItemsPerPage
	}

	where := salesWhere(query.Filters, s.loc)
	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sales "+where.sql(), where.args...).Scan(&total); err != nil {
		return domain.SalesPage{}, fmt.Errorf("count sales: %w", err)
	}
	if total == 0 || (page-1)*pageSize >= total {
		return domain.SalesPage{Sales: []domain.NormalizedSale{}, TotalCount: total}, nil
	}

	limit := where.placeholder(pageSize)
	offset := where.placeholder((page - 1) * pageSize)
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		"SELECT %s FROM sales %s ORDER BY transaction_date DESC, id ASC LIMIT %s OFFSET %s",
		saleColumns, where.sql(), limit, offset,
	), where.args...)
	if err != nil {
		return domain.SalesPage{}, fmt.Errorf("query sales: %w", err)
	}
	list, err := s.scanSales(rows)
	if err != nil {
		return domain.SalesPage{}, err
	}
	return domain.SalesPage{Sales: list, TotalCount: total}, nil
}

func (s *Store) ListSales(ctx context.Context, filters domain.SalesFilterParams) ([]domain.NormalizedSale, error) {
	where := salesWhere(filters, s.loc)
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+saleColumns+" FROM sales "+where.sql()+" ORDER BY transaction_date DESC, id ASC",
		where.args...,
	)
	if err != nil {
		return nil, fmt.Errorf("list sales: %w", err)
	}
	return s.scanSales(rows)
}

func (s *Store) scanSales(rows *sql.Rows) ([]domain.NormalizedSale, error) {
	defer rows.Close()

	out := make([]domain.NormalizedSale, 0, 64)
	for rows.Next() {
		var sale domain.NormalizedSale
		var status, method string
		if err := rows.Scan(
			&sale.ID, &sale.Code, &status, &method, &sale.PaymentType, &sale.GrossAmount,
			&sale.TransactionDate, &sale.Installments, &sale.Terminal, &sale.Brand, &sale.Source,
			&sale.ClientID, &sale.ClientName,
		); err != nil {
			return nil, err
		}
		sale.Status = domain.SaleStatus(status)
		sale.PaymentMethod = domain.PaymentMethod(method)
		sale.TransactionDate = sale.TransactionDate.In(s.loc)
		out = append(out, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) SalesDateRange(ctx context.Context) (domain.SalesDateRange, error) {
	var earliest, latest sql.NullTime
	var result domain.SalesDateRange
	err := s.db.QueryRowContext(ctx, `
		SELECT MIN(transaction_date), MAX(transaction_date), COUNT(*)
		FROM sales
	`).Scan(&earliest, &latest, &result.TotalRecords)
	if err != nil {
		return domain.SalesDateRange{}, fmt.Errorf("sales date range: %w", err)
	}
	if earliest.Valid {
		at := earliest.Time.In(s.loc)
		result.Earliest = &at
	}
	if latest.Valid {
		at := latest.Time.In(s.loc)
		result.Latest = &at
	}
	return result, nil
}

func (s *Store) UniqueTerminals(ctx context.Context, search string, limit int) ([]domain.TerminalUsage, error) {
	pattern := "%" + escapeLike(strings.ToLower(strings.TrimSpace(search))) + "%"
	var limitArg any
	if limit > 0 {
		limitArg = limit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT terminal, COUNT(*) AS usage_count
		FROM sales
		WHERE terminal <> '' AND lower(terminal) LIKE $1
		GROUP BY terminal
		ORDER BY usage_count DESC, terminal ASC
		LIMIT $2
	`, pattern, limitArg)
	if err != nil {
		return nil, fmt.Errorf("unique terminals: %w", err)
	}
	defer rows.Close()

	out := make([]domain.TerminalUsage, 0, 32)
	for rows.Next() {
		var usage domain.TerminalUsage
		if err := rows.Scan(&usage.Terminal, &usage.UsageCount); err != nil {
			return nil, err
		}
		out = append(out, usage)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

const notificationColumns = `id, user_id, title, message, type, is_read, created_at, recipient_roles`

func (s *Store) CreateNotification(ctx context.Context, notification domain.Notification) (*domain.Notification, error) {
	if strings.TrimSpace(notification.Title) == "" {
		return nil, store.ErrInvalidInput
	}
	if notification.Type == "" {
		notification.Type = domain.NotificationSystem
	}
	if !notification.Type.Valid() {
		return nil, store.ErrInvalidInput
	}
	roles := make([]string, 0, len(notification.RecipientRoles))
	for _, role := range notification.RecipientRoles {
		if !role.Valid() {
			return nil, store.ErrInvalidInput
		}
		roles = append(roles, string(role))
	}
	if notification.ID == "" {
		notification.ID = xid.New("ntf")
	}
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (`+notificationColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8::text[])
	`, notification.ID, notification.UserID, notification.Title, notification.Message,
		string(notification.Type), notification.IsRead, notification.CreatedAt, pq.Array(roles))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	created := notification
	return &created, nil
}

func (s *Store) ListNotifications(ctx context.Context, userID string, role domain.Role, limit int) ([]domain.Notification, error) {
	var limitArg any
	if limit > 0 {
		limitArg = limit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+notificationColumns+`
		FROM notifications
		WHERE (user_id = '' OR user_id = $1)
		  AND (cardinality(recipient_roles) = 0 OR $2 = ANY(recipient_roles))
		ORDER BY created_at DESC, id ASC
		LIMIT $3
	`, userID, string(role), limitArg)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Notification, 0, 32)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanNotification(rows *sql.Rows) (domain.Notification, error) {
	var n domain.Notification
	var notificationType string
	var roles []string
	if err := rows.Scan(&n.ID, &n.UserID, &n.Title, &n.Message, &notificationType, &n.IsRead, &n.CreatedAt, pq.Array(&roles)); err != nil {
		return domain.Notification{}, err
	}
	n.Type = domain.NotificationType(notificationType)
	n.CreatedAt = n.CreatedAt.UTC()
	for _, role := range roles {
		n.RecipientRoles = append(n.RecipientRoles, domain.Role(role))
	}
	return n, nil
}

func (s *Store) MarkNotificationRead(ctx context.Context, id string, userID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications
		SET is_read = true
		WHERE id = $1 AND (user_id = '' OR user_id = $2)
	`, id, userID)
	return requireAffected(res, err)
}

func (s *Store) MarkAllNotificationsRead(ctx context.Context, userID string, role domain.Role) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications
		SET is_read = true
		WHERE is_read = false
		  AND (user_id = '' OR user_id = $1)
		  AND (cardinality(recipient_roles) = 0 OR $2 = ANY(recipient_roles))
	`, userID, string(role))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) DeleteNotification(ctx context.Context, id string, userID string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM notifications
		WHERE id = $1 AND (user_id = '' OR user_id = $2)
	`, id, userID)
	return requireAffected(res, err)
}

func (s *Store) DeleteNotificationsBefore(ctx context.Context, cutoff time.Time, userID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM notifications
		WHERE created_at < $1 AND ($2 = '' OR user_id = $2)
	`, cutoff.UTC(), userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func requireAffected(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

// mapWriteError turns constraint violations into store sentinels.
func mapWriteError(err error) error {
	switch {
	case err == nil:
		return nil
	case isUniqueViolation(err):
		return store.ErrConflict
	case isForeignKeyViolation(err):
		return store.ErrInvalidInput
	case errors.Is(err, sql.ErrNoRows):
		return store.ErrNotFound
	}
	return err
}

func nullIfEmpty(val *string) any {
	if val == nil || *val == "" {
		return nil
	}
	return *val
}
