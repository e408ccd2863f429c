package store

import (
	"context"
	"fmt"
	"time"
)

func (s *SQLiteStore) AddErrorEvent(ctx context.Context, ev ErrorEvent) error {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO error_events (component, message, search_id, item_id, occurred_at)
		VALUES (?, ?, ?, ?, ?)
	`, ev.Component, ev.Message, ev.SearchID, ev.ItemID, ev.OccurredAt)
	if err != nil {
		return fmt.Errorf("add error event: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListErrorEvents(ctx context.Context, limit int) ([]ErrorEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	var events []ErrorEvent
	err := s.db.SelectContext(ctx, &events,
		"SELECT * FROM error_events ORDER BY occurred_at DESC, id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("list error events: %w", err)
	}
	return events, nil
}

// PruneErrorEvents deletes everything but the newest max rows, keeping the
// diagnostic table bounded.
func (s *SQLiteStore) PruneErrorEvents(ctx context.Context, max int) error {
	if max <= 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM error_events WHERE id NOT IN (
			SELECT id FROM error_events ORDER BY occurred_at DESC, id DESC LIMIT ?
		)
	`, max)
	if err != nil {
		return fmt.Errorf("prune error events: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CountItems(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM items"); err != nil {
		return 0, fmt.Errorf("count items: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) CountPendingNotifications(ctx context.Context) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		"SELECT COUNT(*) FROM items WHERE notified = 0 AND notify_failed = 0")
	if err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) CountActiveSearches(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM searches WHERE active = 1"); err != nil {
		return 0, fmt.Errorf("count active searches: %w", err)
	}
	return n, nil
}
