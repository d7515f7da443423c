package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/exploopio/sentinel/pkg/alert"
	serrors "github.com/exploopio/sentinel/pkg/errors"
	"github.com/exploopio/sentinel/pkg/model"
	"github.com/exploopio/sentinel/pkg/shared/severity"
)

const notificationColumns = `id, recipient_id, finding_id, kind, channel, severity, title, message,
	status, created_at, read_at`

// SaveNotifications inserts notifications. Re-saving an ID replaces it.
func (s *Store) SaveNotifications(ctx context.Context, ns []*model.Notification) error {
	return s.inTx(ctx, "store.SaveNotifications", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR REPLACE INTO notifications (`+notificationColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, n := range ns {
			var readAt sql.NullString
			if n.ReadAt != nil {
				readAt = sql.NullString{String: formatTime(*n.ReadAt), Valid: true}
			}
			if _, err := stmt.ExecContext(ctx,
				n.ID, n.RecipientID, n.FindingID, string(n.Kind), string(n.Channel), string(n.Severity),
				n.Title, n.Message, string(n.Status), formatTime(n.CreatedAt), readAt,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetNotification returns the notification with id.
func (s *Store) GetNotification(ctx context.Context, id string) (*model.Notification, error) {
	n, err := scanNotification(s.db.QueryRowContext(ctx,
		`SELECT `+notificationColumns+` FROM notifications WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, serrors.E(serrors.KindStorage, "store.GetNotification", err)
	}
	return n, nil
}

// MarkNotificationRead acknowledges a notification. Marking a read
// notification again keeps its original read time.
func (s *Store) MarkNotificationRead(ctx context.Context, id string, now time.Time) (*model.Notification, error) {
	const op = "store.MarkNotificationRead"

	var updated *model.Notification
	err := s.inTx(ctx, op, func(tx *sql.Tx) error {
		n, err := scanNotification(tx.QueryRowContext(ctx,
			`SELECT `+notificationColumns+` FROM notifications WHERE id = ?`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if n.Status != model.NotificationRead {
			n.MarkRead(now)
			if _, err := tx.ExecContext(ctx,
				`UPDATE notifications SET status = ?, read_at = ? WHERE id = ?`,
				string(n.Status), formatTime(*n.ReadAt), id,
			); err != nil {
				return err
			}
		}
		updated = n
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// UnreadCount returns how many notifications recipientID has not read.
func (s *Store) UnreadCount(ctx context.Context, recipientID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE recipient_id = ? AND status = ?`,
		recipientID, string(model.NotificationUnread),
	).Scan(&count)
	if err != nil {
		return 0, serrors.E(serrors.KindStorage, "store.UnreadCount", err)
	}
	return count, nil
}

// ListNotifications returns the notifications of recipientID matching f,
// newest first. A zero Limit means alert.DefaultListLimit.
func (s *Store) ListNotifications(ctx context.Context, recipientID string, f alert.ListFilter) ([]*model.Notification, error) {
	const op = "store.ListNotifications"

	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE recipient_id = ?`
	args := []any{recipientID}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	if f.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(f.Kind))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = alert.DefaultListLimit
	}
	query += ` ORDER BY created_at DESC, id LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, serrors.E(serrors.KindStorage, op, err)
	}
	defer rows.Close()

	var out []*model.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, serrors.E(serrors.KindStorage, op, err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, serrors.E(serrors.KindStorage, op, err)
	}
	return out, nil
}

// NotificationStats counts stored notifications by status, kind and channel.
func (s *Store) NotificationStats(ctx context.Context) (alert.Stats, error) {
	const op = "store.NotificationStats"

	stats := alert.ComputeStats(nil)
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, kind, channel, COUNT(*) FROM notifications GROUP BY status, kind, channel`)
	if err != nil {
		return stats, serrors.E(serrors.KindStorage, op, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status, kind, channel string
			count                 int
		)
		if err := rows.Scan(&status, &kind, &channel, &count); err != nil {
			return stats, serrors.E(serrors.KindStorage, op, err)
		}
		stats.ByStatus[model.NotificationStatus(status)] += count
		stats.ByKind[model.NotificationKind(kind)] += count
		stats.ByChannel[model.Channel(channel)] += count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return stats, serrors.E(serrors.KindStorage, op, err)
	}
	return stats, nil
}

func scanNotification(row rowScanner) (*model.Notification, error) {
	var (
		n                            model.Notification
		kind, channel, level, status string
		createdAt                    string
		readAt                       sql.NullString
	)
	if err := row.Scan(&n.ID, &n.RecipientID, &n.FindingID, &kind, &channel, &level,
		&n.Title, &n.Message, &status, &createdAt, &readAt); err != nil {
		return nil, err
	}
	n.Kind = model.NotificationKind(kind)
	n.Channel = model.Channel(channel)
	n.Severity = severity.Level(level)
	n.Status = model.NotificationStatus(status)

	var err error
	if n.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if readAt.Valid {
		t, err := parseTime(readAt.String)
		if err != nil {
			return nil, err
		}
		n.ReadAt = &t
	}
	return &n, nil
}
