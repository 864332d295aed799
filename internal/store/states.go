package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"QDIIRadar/internal/model"
)

// SaveStates appends one row per fund in a single transaction.
func (s *SQLiteStore) SaveStates(ctx context.Context, states []model.FundState) error {
	if len(states) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO fund_states
		(fund_code, premium_rate, limit_text, market_price, valuation, timestamp)
		VALUES (?,?,?,?,?,?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, st := range states {
		if st.FundCode == "" {
			continue
		}
		ts := st.Timestamp
		if ts.IsZero() {
			ts = s.now()
		}
		if _, err := stmt.ExecContext(ctx, st.FundCode, st.PremiumRate, st.LimitText,
			st.MarketPrice, st.Valuation, toMillis(ts)); err != nil {
			return fmt.Errorf("insert state %s: %w", st.FundCode, err)
		}
	}
	return tx.Commit()
}

// PreviousState returns the most recent state for a fund recorded at or after since, or nil if none.
func (s *SQLiteStore) PreviousState(ctx context.Context, fundCode string, since time.Time) (*model.FundState, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, fund_code, premium_rate, limit_text, market_price, valuation, timestamp
		FROM fund_states
		WHERE fund_code = ? AND timestamp >= ?
		ORDER BY timestamp DESC, id DESC
		LIMIT 1`, fundCode, toMillis(since))

	var (
		st    model.FundState
		limit sql.NullString
		ts    int64
	)
	err := row.Scan(&st.ID, &st.FundCode, &st.PremiumRate, &limit, &st.MarketPrice, &st.Valuation, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query previous state: %w", err)
	}
	st.LimitText = limit.String
	st.Timestamp = fromMillis(ts)
	return &st, nil
}

// PruneStates deletes states recorded before cutoff and returns the number removed.
func (s *SQLiteStore) PruneStates(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM fund_states WHERE timestamp < ?`, toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune states: %w", err)
	}
	return res.RowsAffected()
}
