package store

import (
	"context"
	"fmt"
	"strings"

	"QDIIRadar/internal/model"
)

// MonitoredFunds lists monitored funds, optionally only the enabled ones.
func (s *SQLiteStore) MonitoredFunds(ctx context.Context, enabledOnly bool) ([]model.MonitoredFund, error) {
	q := `SELECT fund_code, enabled, created_at, updated_at FROM monitored_funds`
	if enabledOnly {
		q += ` WHERE enabled = 1`
	}
	q += ` ORDER BY fund_code`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query monitored funds: %w", err)
	}
	defer rows.Close()

	var out []model.MonitoredFund
	for rows.Next() {
		var (
			f                model.MonitoredFund
			enabled          int
			created, updated int64
		)
		if err := rows.Scan(&f.FundCode, &enabled, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan monitored fund: %w", err)
		}
		f.Enabled = enabled != 0
		f.CreatedAt = fromMillis(created)
		f.UpdatedAt = fromMillis(updated)
		out = append(out, f)
	}
	return out, rows.Err()
}

// MonitoredCodes returns the codes of enabled monitored funds.
func (s *SQLiteStore) MonitoredCodes(ctx context.Context) ([]string, error) {
	funds, err := s.MonitoredFunds(ctx, true)
	if err != nil {
		return nil, err
	}
	codes := make([]string, 0, len(funds))
	for _, f := range funds {
		codes = append(codes, f.FundCode)
	}
	return codes, nil
}

// MonitoredFund returns one monitored fund or ErrNotFound.
func (s *SQLiteStore) MonitoredFund(ctx context.Context, code string) (*model.MonitoredFund, error) {
	funds, err := s.MonitoredFunds(ctx, false)
	if err != nil {
		return nil, err
	}
	for i := range funds {
		if funds[i].FundCode == code {
			return &funds[i], nil
		}
	}
	return nil, ErrNotFound
}

// AddMonitoredFund inserts the fund or re-enables it.
func (s *SQLiteStore) AddMonitoredFund(ctx context.Context, code string) (*model.MonitoredFund, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, fmt.Errorf("fund code is required")
	}
	s.mu.Lock()
	now := toMillis(s.now())
	_, err := s.db.ExecContext(ctx, `INSERT INTO monitored_funds (fund_code, enabled, created_at, updated_at)
		VALUES (?,1,?,?)
		ON CONFLICT(fund_code) DO UPDATE SET enabled = 1, updated_at = excluded.updated_at`, code, now, now)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("add monitored fund %s: %w", code, err)
	}
	return s.MonitoredFund(ctx, code)
}

// SetMonitoredFundEnabled toggles an existing monitored fund.
func (s *SQLiteStore) SetMonitoredFundEnabled(ctx context.Context, code string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `UPDATE monitored_funds SET enabled = ?, updated_at = ? WHERE fund_code = ?`,
		boolInt(enabled), toMillis(s.now()), code)
	if err != nil {
		return fmt.Errorf("update monitored fund %s: %w", code, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RemoveMonitoredFund deletes the fund and its triggers.
func (s *SQLiteStore) RemoveMonitoredFund(ctx context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM monitored_funds WHERE fund_code = ?`, code)
	if err != nil {
		return fmt.Errorf("delete monitored fund %s: %w", code, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM fund_triggers WHERE fund_code = ?`, code); err != nil {
		return fmt.Errorf("delete triggers of %s: %w", code, err)
	}
	return tx.Commit()
}

// Recipients lists all email recipients.
func (s *SQLiteStore) Recipients(ctx context.Context) ([]model.EmailRecipient, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT email, is_active, created_at FROM email_recipients ORDER BY email`)
	if err != nil {
		return nil, fmt.Errorf("query recipients: %w", err)
	}
	defer rows.Close()

	var out []model.EmailRecipient
	for rows.Next() {
		var (
			r       model.EmailRecipient
			active  int
			created int64
		)
		if err := rows.Scan(&r.Email, &active, &created); err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		r.IsActive = active != 0
		r.CreatedAt = fromMillis(created)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ActiveRecipients returns the addresses of active recipients.
func (s *SQLiteStore) ActiveRecipients(ctx context.Context) ([]string, error) {
	all, err := s.Recipients(ctx)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, r := range all {
		if r.IsActive {
			out = append(out, r.Email)
		}
	}
	return out, nil
}

// AddRecipient inserts or reactivates an address.
func (s *SQLiteStore) AddRecipient(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if !strings.Contains(email, "@") {
		return fmt.Errorf("invalid email %q", email)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `INSERT INTO email_recipients (email, is_active, created_at) VALUES (?,1,?)
		ON CONFLICT(email) DO UPDATE SET is_active = 1`, email, toMillis(s.now()))
	if err != nil {
		return fmt.Errorf("add recipient: %w", err)
	}
	return nil
}

// RemoveRecipient deletes an address.
func (s *SQLiteStore) RemoveRecipient(ctx context.Context, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM email_recipients WHERE email = ?`, email)
	if err != nil {
		return fmt.Errorf("remove recipient: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
