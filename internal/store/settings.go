package store

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"QDIIRadar/internal/config"
)

// RawSettings returns every stored key-value pair.
func (s *SQLiteStore) RawSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT config_key, config_value FROM notification_config`)
	if err != nil {
		return nil, fmt.Errorf("query settings: %w", err)
	}
	defer rows.Close()

	raw := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		raw[k] = v
	}
	return raw, rows.Err()
}

// Settings loads and parses the typed configuration. Malformed values are returned as config.ErrInvalidSetting.
func (s *SQLiteStore) Settings(ctx context.Context) (config.Settings, error) {
	raw, err := s.RawSettings(ctx)
	if err != nil {
		return config.Settings{}, err
	}
	return config.ParseSettings(raw)
}

// SetSetting validates and stores one key.
func (s *SQLiteStore) SetSetting(ctx context.Context, key, value string) error {
	return s.SetSettings(ctx, map[string]string{key: value})
}

// SetSettings validates the merged result and stores all keys in one transaction.
func (s *SQLiteStore) SetSettings(ctx context.Context, values map[string]string) error {
	raw, err := s.RawSettings(ctx)
	if err != nil {
		return err
	}
	if v, ok := values[config.KeyEmailEnabled]; ok {
		values = copyWithout(values, config.KeyEmailEnabled)
		values[config.KeySMTPEnabled] = v
	}
	for k, v := range values {
		if !config.IsKnownKey(k) {
			return fmt.Errorf("%w: unknown key %q", config.ErrInvalidSetting, k)
		}
		raw[k] = v
	}
	merged, err := config.ParseSettings(raw)
	if err != nil {
		return err
	}
	if err := merged.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	now := toMillis(s.now())
	for _, k := range keys {
		if _, err := tx.ExecContext(ctx, `INSERT INTO notification_config (config_key, config_value, updated_at)
			VALUES (?,?,?)
			ON CONFLICT(config_key) DO UPDATE SET config_value = excluded.config_value, updated_at = excluded.updated_at`,
			k, values[k], now); err != nil {
			return fmt.Errorf("upsert setting %s: %w", k, err)
		}
	}
	return tx.Commit()
}

// ToggleMonitoring flips monitoring_enabled and returns the new value.
func (s *SQLiteStore) ToggleMonitoring(ctx context.Context) (bool, error) {
	current, err := s.Settings(ctx)
	if err != nil {
		return false, err
	}
	next := !current.MonitoringEnabled
	if err := s.SetSetting(ctx, config.KeyMonitoringEnabled, strconv.FormatBool(next)); err != nil {
		return false, err
	}
	return next, nil
}

func copyWithout(m map[string]string, drop string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		if k != drop {
			out[k] = v
		}
	}
	return out
}
