package repository

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lexcomms/internal/logger"
	"github.com/lexcomms/internal/model"
)

// ErrBadCursor means the pagination cursor is malformed (caller maps to 400).
var ErrBadCursor = errors.New("bad cursor")

type NotificationRepository struct {
	pool *pgxpool.Pool
}

func NewNotificationRepository(pool *pgxpool.Pool) *NotificationRepository {
	return &NotificationRepository{pool: pool}
}

func (r *NotificationRepository) Create(ctx context.Context, n *model.Notification) error {
	defer logger.DeferLogDuration("notif.Create", time.Now())()
	meta, err := json.Marshal(n.Metadata)
	if err != nil {
		return fmt.Errorf("notifRepo.Create metadata: %w", err)
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO notifications (id, user_id, category, title, body, link, entity_type, entity_id, metadata, created_at, read_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULL)`,
		n.ID, n.UserID, n.Category, n.Title, n.Body, n.Link, n.EntityType, n.EntityID, meta, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("notifRepo.Create: %w", err)
	}
	return nil
}

// Page is one keyset-paginated slice of a user's notifications.
type Page struct {
	Items      []model.Notification `json:"items"`
	HasMore    bool                 `json:"has_more"`
	NextCursor string               `json:"next_cursor,omitempty"`
}

// List returns notifications for userID newest first. category narrows to
// one category ("" for all); unreadOnly keeps rows with read_at IS NULL.
// cursor comes from a previous page's NextCursor.
func (r *NotificationRepository) List(ctx context.Context, userID string, category model.Category, cursor string, limit int, unreadOnly bool) (*Page, error) {
	defer logger.DeferLogDuration("notif.List", time.Now())()

	sql := `SELECT id, user_id, category, title, body, COALESCE(link,''), entity_type, entity_id, metadata, created_at, read_at
	        FROM notifications WHERE user_id = $1`
	args := []interface{}{userID}
	if category != "" {
		args = append(args, category)
		sql += fmt.Sprintf(` AND category = $%d`, len(args))
	}
	if unreadOnly {
		sql += ` AND read_at IS NULL`
	}
	if cursor != "" {
		ts, id, err := decodeCursor(cursor)
		if err != nil {
			return nil, err
		}
		args = append(args, ts, id)
		sql += fmt.Sprintf(` AND (created_at, id) < ($%d, $%d)`, len(args)-1, len(args))
	}
	args = append(args, limit+1)
	sql += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d`, len(args))

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("notifRepo.List query: %w", err)
	}
	defer rows.Close()

	items := make([]model.Notification, 0, limit)
	for rows.Next() {
		var n model.Notification
		var meta []byte
		if err := rows.Scan(&n.ID, &n.UserID, &n.Category, &n.Title, &n.Body, &n.Link, &n.EntityType, &n.EntityID, &meta, &n.CreatedAt, &n.ReadAt); err != nil {
			return nil, fmt.Errorf("notifRepo.List scan: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &n.Metadata); err != nil {
				return nil, fmt.Errorf("notifRepo.List metadata: %w", err)
			}
		}
		items = append(items, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("notifRepo.List rows: %w", err)
	}

	page := &Page{Items: items}
	if len(items) > limit {
		page.Items = items[:limit]
		page.HasMore = true
		last := page.Items[limit-1]
		page.NextCursor = encodeCursor(last.CreatedAt, last.ID)
	}
	return page, nil
}

// UnreadCount counts rows with read_at IS NULL, optionally per category.
func (r *NotificationRepository) UnreadCount(ctx context.Context, userID string, category model.Category) (int, error) {
	defer logger.DeferLogDuration("notif.UnreadCount", time.Now())()
	sql := `SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND read_at IS NULL`
	args := []interface{}{userID}
	if category != "" {
		args = append(args, category)
		sql += ` AND category = $2`
	}
	var count int
	if err := r.pool.QueryRow(ctx, sql, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("notifRepo.UnreadCount: %w", err)
	}
	return count, nil
}

// UnreadByCategory returns the per-category unread breakdown in one query.
func (r *NotificationRepository) UnreadByCategory(ctx context.Context, userID string) (map[model.Category]int, error) {
	defer logger.DeferLogDuration("notif.UnreadByCategory", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT category, COUNT(*) FROM notifications
		 WHERE user_id = $1 AND read_at IS NULL GROUP BY category`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("notifRepo.UnreadByCategory: %w", err)
	}
	defer rows.Close()
	out := make(map[model.Category]int)
	for rows.Next() {
		var c model.Category
		var n int
		if err := rows.Scan(&c, &n); err != nil {
			return nil, fmt.Errorf("notifRepo.UnreadByCategory scan: %w", err)
		}
		out[c] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("notifRepo.UnreadByCategory rows: %w", err)
	}
	return out, nil
}

// MarkRead sets read_at if not already set. Ownership is enforced by the
// user_id predicate, not a prior fetch.
func (r *NotificationRepository) MarkRead(ctx context.Context, userID, id string, now time.Time) error {
	defer logger.DeferLogDuration("notif.MarkRead", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE notifications SET read_at = COALESCE(read_at, $1) WHERE id = $2 AND user_id = $3`,
		now, id, userID,
	)
	if err != nil {
		return fmt.Errorf("notifRepo.MarkRead: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *NotificationRepository) MarkUnread(ctx context.Context, userID, id string) error {
	defer logger.DeferLogDuration("notif.MarkUnread", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE notifications SET read_at = NULL WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	if err != nil {
		return fmt.Errorf("notifRepo.MarkUnread: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkAllRead bulk-marks a user's unread notifications, optionally per
// category. Returns the number of rows affected.
func (r *NotificationRepository) MarkAllRead(ctx context.Context, userID string, category model.Category, now time.Time) (int64, error) {
	defer logger.DeferLogDuration("notif.MarkAllRead", time.Now())()
	sql := `UPDATE notifications SET read_at = $1 WHERE user_id = $2 AND read_at IS NULL`
	args := []interface{}{now, userID}
	if category != "" {
		args = append(args, category)
		sql += ` AND category = $3`
	}
	tag, err := r.pool.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("notifRepo.MarkAllRead: %w", err)
	}
	return tag.RowsAffected(), nil
}

func encodeCursor(ts time.Time, id string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(ts.UTC().Format(time.RFC3339Nano) + "|" + id))
}

func decodeCursor(cursor string) (time.Time, string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, "", ErrBadCursor
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 || parts[1] == "" {
		return time.Time{}, "", ErrBadCursor
	}
	ts, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return time.Time{}, "", ErrBadCursor
	}
	return ts, parts[1], nil
}
