package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"QDIIRadar/internal/model"
)

// RecordNotification appends a history row for a dispatched alert.
func (s *SQLiteStore) RecordNotification(ctx context.Context, h *model.NotificationHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h.SentAt.IsZero() {
		h.SentAt = s.now()
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO notification_history
		(fund_code, fund_name, alert_type, old_value, new_value, recipient_email, sent_at)
		VALUES (?,?,?,?,?,?,?)`,
		h.FundCode, h.FundName, string(h.AlertType), h.OldValue, h.NewValue,
		h.RecipientEmail, toMillis(h.SentAt),
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		h.ID = id
	}
	return nil
}

// LastNotification returns the most recent history row for (fund, type), or nil if none.
func (s *SQLiteStore) LastNotification(ctx context.Context, fundCode string, t model.AlertType) (*model.NotificationHistory, error) {
	rows, err := s.db.QueryContext(ctx, historySelect+`
		WHERE fund_code = ? AND alert_type = ?
		ORDER BY sent_at DESC, id DESC
		LIMIT 1`, fundCode, string(t))
	if err != nil {
		return nil, fmt.Errorf("query last notification: %w", err)
	}
	list, err := scanHistory(rows)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return &list[0], nil
}

// History returns sent notifications, newest first.
func (s *SQLiteStore) History(ctx context.Context, limit, offset int) ([]model.NotificationHistory, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(ctx, historySelect+`
		ORDER BY sent_at DESC, id DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	return scanHistory(rows)
}

// Stats counts notifications in total, since UTC midnight of now, and by type.
func (s *SQLiteStore) Stats(ctx context.Context, now time.Time) (model.NotificationStats, error) {
	stats := model.NotificationStats{ByType: map[string]int{}}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notification_history`).Scan(&stats.TotalSent); err != nil {
		return stats, fmt.Errorf("count total: %w", err)
	}

	u := now.UTC()
	dayStart := time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notification_history WHERE sent_at >= ?`,
		toMillis(dayStart)).Scan(&stats.TodaySent); err != nil {
		return stats, fmt.Errorf("count today: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT alert_type, COUNT(*) FROM notification_history GROUP BY alert_type`)
	if err != nil {
		return stats, fmt.Errorf("count by type: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			t string
			n int
		)
		if err := rows.Scan(&t, &n); err != nil {
			return stats, fmt.Errorf("scan by type: %w", err)
		}
		stats.ByType[t] = n
	}
	return stats, rows.Err()
}

const historySelect = `SELECT id, fund_code, fund_name, alert_type, old_value, new_value, recipient_email, sent_at
		FROM notification_history`

func scanHistory(rows *sql.Rows) ([]model.NotificationHistory, error) {
	defer rows.Close()
	var out []model.NotificationHistory
	for rows.Next() {
		var (
			h                                 model.NotificationHistory
			name, oldV, newV, recipient, kind sql.NullString
			sentAt                            int64
		)
		if err := rows.Scan(&h.ID, &h.FundCode, &name, &kind, &oldV, &newV, &recipient, &sentAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		h.FundName = name.String
		h.AlertType = model.AlertType(kind.String)
		h.OldValue = oldV.String
		h.NewValue = newV.String
		h.RecipientEmail = recipient.String
		h.SentAt = fromMillis(sentAt)
		out = append(out, h)
	}
	if err := rows.Err(); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return out, nil
}
