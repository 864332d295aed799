package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"QDIIRadar/internal/model"
)

const triggerSelect = `SELECT id, fund_code, trigger_type, threshold_value, enabled, created_at, updated_at FROM fund_triggers`

// EnabledTrigger returns the enabled trigger for (fund, type), or nil if none.
func (s *SQLiteStore) EnabledTrigger(ctx context.Context, fundCode string, t model.AlertType) (*model.FundTrigger, error) {
	rows, err := s.db.QueryContext(ctx, triggerSelect+` WHERE fund_code = ? AND trigger_type = ? AND enabled = 1 LIMIT 1`,
		fundCode, string(t))
	if err != nil {
		return nil, fmt.Errorf("query trigger: %w", err)
	}
	list, err := scanTriggers(rows)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return &list[0], nil
}

// UpsertTrigger creates or updates the trigger keyed by (fund, type). created reports which happened.
func (s *SQLiteStore) UpsertTrigger(ctx context.Context, fundCode string, t model.AlertType, threshold *float64, enabled bool) (tr *model.FundTrigger, created bool, err error) {
	if !t.Valid() {
		return nil, false, fmt.Errorf("unknown trigger type %q", t)
	}
	s.mu.Lock()
	now := toMillis(s.now())
	var id int64
	err = s.db.QueryRowContext(ctx, `SELECT id FROM fund_triggers WHERE fund_code = ? AND trigger_type = ?`,
		fundCode, string(t)).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		created = true
		_, err = s.db.ExecContext(ctx, `INSERT INTO fund_triggers
			(fund_code, trigger_type, threshold_value, enabled, created_at, updated_at)
			VALUES (?,?,?,?,?,?)`, fundCode, string(t), nullFloat(threshold), boolInt(enabled), now, now)
	case err == nil:
		_, err = s.db.ExecContext(ctx, `UPDATE fund_triggers SET threshold_value = ?, enabled = ?, updated_at = ? WHERE id = ?`,
			nullFloat(threshold), boolInt(enabled), now, id)
	}
	s.mu.Unlock()
	if err != nil {
		return nil, false, fmt.Errorf("upsert trigger %s/%s: %w", fundCode, t, err)
	}

	list, err := s.queryTriggers(ctx, ` WHERE fund_code = ? AND trigger_type = ?`, fundCode, string(t))
	if err != nil {
		return nil, false, err
	}
	if len(list) == 0 {
		return nil, false, ErrNotFound
	}
	return &list[0], created, nil
}

// UpdateTrigger changes threshold and enabled flag of an existing trigger belonging to fundCode.
func (s *SQLiteStore) UpdateTrigger(ctx context.Context, fundCode string, id int64, threshold *float64, enabled bool) (*model.FundTrigger, error) {
	s.mu.Lock()
	res, err := s.db.ExecContext(ctx, `UPDATE fund_triggers SET threshold_value = ?, enabled = ?, updated_at = ?
		WHERE id = ? AND fund_code = ?`, nullFloat(threshold), boolInt(enabled), toMillis(s.now()), id, fundCode)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("update trigger %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	list, err := s.queryTriggers(ctx, ` WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, ErrNotFound
	}
	return &list[0], nil
}

// DeleteTrigger removes a trigger belonging to fundCode.
func (s *SQLiteStore) DeleteTrigger(ctx context.Context, fundCode string, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM fund_triggers WHERE id = ? AND fund_code = ?`, id, fundCode)
	if err != nil {
		return fmt.Errorf("delete trigger %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// TriggersForFund lists all triggers of one fund.
func (s *SQLiteStore) TriggersForFund(ctx context.Context, fundCode string) ([]model.FundTrigger, error) {
	return s.queryTriggers(ctx, ` WHERE fund_code = ? ORDER BY trigger_type`, fundCode)
}

// AllTriggers lists every trigger.
func (s *SQLiteStore) AllTriggers(ctx context.Context) ([]model.FundTrigger, error) {
	return s.queryTriggers(ctx, ` ORDER BY fund_code, trigger_type`)
}

func (s *SQLiteStore) queryTriggers(ctx context.Context, where string, args ...any) ([]model.FundTrigger, error) {
	rows, err := s.db.QueryContext(ctx, triggerSelect+where, args...)
	if err != nil {
		return nil, fmt.Errorf("query triggers: %w", err)
	}
	return scanTriggers(rows)
}

func scanTriggers(rows *sql.Rows) ([]model.FundTrigger, error) {
	defer rows.Close()
	var out []model.FundTrigger
	for rows.Next() {
		var (
			tr               model.FundTrigger
			kind             string
			threshold        sql.NullFloat64
			enabled          int
			created, updated int64
		)
		if err := rows.Scan(&tr.ID, &tr.FundCode, &kind, &threshold, &enabled, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan trigger: %w", err)
		}
		tr.TriggerType = model.AlertType(kind)
		if threshold.Valid {
			v := threshold.Float64
			tr.ThresholdValue = &v
		}
		tr.Enabled = enabled != 0
		tr.CreatedAt = fromMillis(created)
		tr.UpdatedAt = fromMillis(updated)
		out = append(out, tr)
	}
	return out, rows.Err()
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
