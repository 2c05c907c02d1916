package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ireside/ireside/internal/platform/database"
	"github.com/jackc/pgx/v5"
)

// Store handles notification reads for recipients and outbox transitions for
// the dispatcher.
type Store struct {
	maxAttempts int
}

// NewStore creates a store whose new rows allow maxAttempts deliveries.
func NewStore(maxAttempts int) *Store {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Store{maxAttempts: maxAttempts}
}

const notificationColumns = `id, user_id, kind, title, body, data, read_at, delivery_status, attempt_count, max_attempts, created_at`

func scanNotification(row pgx.Row) (*Notification, error) {
	var n Notification
	err := row.Scan(&n.ID, &n.UserID, &n.Kind, &n.Title, &n.Body, &n.Data, &n.ReadAt,
		&n.DeliveryStatus, &n.AttemptCount, &n.MaxAttempts, &n.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func collect(rows pgx.Rows) ([]Notification, error) {
	defer rows.Close()
	var out []Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning notification: %w", err)
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

// Enqueue writes a pending notification. Run it on the same transaction as
// the change it reports. The row is not read back since the recipient is
// usually not the caller.
func (s *Store) Enqueue(ctx context.Context, q database.Querier, d Draft) error {
	if d.UserID == "" || d.Kind == "" || d.Title == "" {
		return fmt.Errorf("%w: user, kind and title are required", ErrInvalidNotification)
	}
	data := []byte("{}")
	if len(d.Data) > 0 {
		var err error
		if data, err = json.Marshal(d.Data); err != nil {
			return fmt.Errorf("encoding notification data: %w", err)
		}
	}
	_, err := q.Exec(ctx,
		`INSERT INTO notifications (user_id, kind, title, body, data, max_attempts)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		d.UserID, d.Kind, d.Title, d.Body, data, s.maxAttempts)
	if err != nil {
		return fmt.Errorf("enqueuing notification: %w", err)
	}
	return nil
}

// List returns userID's notifications newest first.
func (s *Store) List(ctx context.Context, q database.Querier, userID string, unreadOnly bool, limit int) ([]Notification, error) {
	rows, err := q.Query(ctx,
		`SELECT `+notificationColumns+`
		 FROM notifications
		 WHERE user_id = $1 AND (NOT $2 OR read_at IS NULL)
		 ORDER BY created_at DESC, id DESC
		 LIMIT $3`,
		userID, unreadOnly, limit)
	if err != nil {
		return nil, fmt.Errorf("listing notifications: %w", err)
	}
	return collect(rows)
}

// UnreadCount returns how many of userID's notifications are unread.
func (s *Store) UnreadCount(ctx context.Context, q database.Querier, userID string) (int, error) {
	var n int
	err := q.QueryRow(ctx,
		`SELECT count(*) FROM notifications WHERE user_id = $1 AND read_at IS NULL`, userID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting unread notifications: %w", err)
	}
	return n, nil
}

// MarkRead marks one of userID's notifications read. Already-read rows keep
// their original read time.
func (s *Store) MarkRead(ctx context.Context, q database.Querier, userID, id string) (*Notification, error) {
	n, err := scanNotification(q.QueryRow(ctx,
		`UPDATE notifications SET read_at = COALESCE(read_at, now())
		 WHERE id = $1 AND user_id = $2
		 RETURNING `+notificationColumns,
		id, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotificationNotFound
		}
		return nil, fmt.Errorf("marking notification read: %w", err)
	}
	return n, nil
}

// MarkAllRead marks every unread notification of userID read and returns
// how many changed.
func (s *Store) MarkAllRead(ctx context.Context, q database.Querier, userID string) (int64, error) {
	tag, err := q.Exec(ctx,
		`UPDATE notifications SET read_at = now() WHERE user_id = $1 AND read_at IS NULL`, userID)
	if err != nil {
		return 0, fmt.Errorf("marking notifications read: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ClaimPending moves up to limit due rows to sending and returns them.
// Concurrent dispatchers skip each other's rows.
func (s *Store) ClaimPending(ctx context.Context, q database.Querier, now time.Time, limit int) ([]Notification, error) {
	rows, err := q.Query(ctx,
		`UPDATE notifications
		 SET delivery_status = 'sending', locked_at = $1
		 WHERE id IN (
		     SELECT id FROM notifications
		     WHERE delivery_status = 'pending' AND next_attempt_at <= $1
		     ORDER BY next_attempt_at, created_at
		     LIMIT $2
		     FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+notificationColumns,
		now, limit)
	if err != nil {
		return nil, fmt.Errorf("claiming notifications: %w", err)
	}
	return collect(rows)
}

// MarkSent records a successful delivery.
func (s *Store) MarkSent(ctx context.Context, q database.Querier, id string) error {
	_, err := q.Exec(ctx,
		`UPDATE notifications
		 SET delivery_status = 'sent', delivered_at = now(), locked_at = NULL,
		     attempt_count = attempt_count + 1, last_error = ''
		 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("marking notification sent: %w", err)
	}
	return nil
}

// MarkRetry returns a row to pending with a later attempt time.
func (s *Store) MarkRetry(ctx context.Context, q database.Querier, id string, nextAttempt time.Time, lastError string) error {
	_, err := q.Exec(ctx,
		`UPDATE notifications
		 SET delivery_status = 'pending', locked_at = NULL, next_attempt_at = $2,
		     attempt_count = attempt_count + 1, last_error = $3
		 WHERE id = $1`, id, nextAttempt, lastError)
	if err != nil {
		return fmt.Errorf("marking notification retry: %w", err)
	}
	return nil
}

// MarkDead stops delivery attempts for a row.
func (s *Store) MarkDead(ctx context.Context, q database.Querier, id string, lastError string) error {
	_, err := q.Exec(ctx,
		`UPDATE notifications
		 SET delivery_status = 'dead', locked_at = NULL,
		     attempt_count = attempt_count + 1, last_error = $2
		 WHERE id = $1`, id, lastError)
	if err != nil {
		return fmt.Errorf("marking notification dead: %w", err)
	}
	return nil
}

// RecoverStaleSending returns rows stuck in sending since before staleBefore
// to pending so they are claimed again.
func (s *Store) RecoverStaleSending(ctx context.Context, q database.Querier, staleBefore time.Time, limit int) (int64, error) {
	tag, err := q.Exec(ctx,
		`UPDATE notifications
		 SET delivery_status = 'pending', locked_at = NULL
		 WHERE id IN (
		     SELECT id FROM notifications
		     WHERE delivery_status = 'sending' AND locked_at < $1
		     ORDER BY locked_at
		     LIMIT $2
		     FOR UPDATE SKIP LOCKED
		 )`,
		staleBefore, limit)
	if err != nil {
		return 0, fmt.Errorf("recovering stale notifications: %w", err)
	}
	return tag.RowsAffected(), nil
}
