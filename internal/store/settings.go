package store

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// Settings is the hot-reloadable operational configuration. One snapshot is
// loaded at the start of each scan cycle and dispatch pass; mid-cycle writes
// by the operator are only observed at the next safe point. Revision is
// bumped by every write, so readers can poll cheaply.
type Settings struct {
	Revision                int64
	RequestDelayMin         time.Duration
	RequestDelayMax         time.Duration
	ImageCapBytes           int64
	NotifyRetryMax          int
	DispatchInterval        time.Duration
	ErrorRetentionMaxEvents int
}

// Setting keys as stored in the settings table.
const (
	KeyRequestDelayMinMS  = "request_delay_min_ms"
	KeyRequestDelayMaxMS  = "request_delay_max_ms"
	KeyImageCapBytes      = "image_cap_bytes"
	KeyNotifyRetryMax     = "notify_retry_max"
	KeyDispatchIntervalS  = "dispatch_interval_seconds"
	KeyErrorRetentionRows = "error_retention_rows"
)

// DefaultSettings returns the operational defaults used for keys not
// present in the settings table.
func DefaultSettings() Settings {
	return Settings{
		Revision:                1,
		RequestDelayMin:         2 * time.Second,
		RequestDelayMax:         6 * time.Second,
		ImageCapBytes:           512 * 1024,
		NotifyRetryMax:          3,
		DispatchInterval:        30 * time.Second,
		ErrorRetentionMaxEvents: 1000,
	}
}

// LoadSettings reads a consistent settings snapshot including its revision.
func (s *SQLiteStore) LoadSettings(ctx context.Context) (Settings, error) {
	set := DefaultSettings()

	rev, err := s.SettingsRevision(ctx)
	if err != nil {
		return set, err
	}
	set.Revision = rev

	rows, err := s.db.QueryxContext(ctx, "SELECT key, value FROM settings")
	if err != nil {
		return set, fmt.Errorf("load settings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return set, fmt.Errorf("scan setting: %w", err)
		}
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			continue
		}
		switch key {
		case KeyRequestDelayMinMS:
			set.RequestDelayMin = time.Duration(n) * time.Millisecond
		case KeyRequestDelayMaxMS:
			set.RequestDelayMax = time.Duration(n) * time.Millisecond
		case KeyImageCapBytes:
			set.ImageCapBytes = n
		case KeyNotifyRetryMax:
			set.NotifyRetryMax = int(n)
		case KeyDispatchIntervalS:
			set.DispatchInterval = time.Duration(n) * time.Second
		case KeyErrorRetentionRows:
			set.ErrorRetentionMaxEvents = int(n)
		}
	}
	return set, rows.Err()
}

func (s *SQLiteStore) SettingsRevision(ctx context.Context) (int64, error) {
	var rev int64
	if err := s.db.GetContext(ctx, &rev, "SELECT revision FROM settings_meta WHERE id = 1"); err != nil {
		return 0, fmt.Errorf("settings revision: %w", err)
	}
	return rev, nil
}

// SetSetting upserts one key and bumps the revision in the same
// transaction, so a reader never observes the value without the bump.
func (s *SQLiteStore) SetSetting(ctx context.Context, key, value string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value); err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE settings_meta SET revision = revision + 1 WHERE id = 1"); err != nil {
		return fmt.Errorf("bump settings revision: %w", err)
	}
	return tx.Commit()
}
