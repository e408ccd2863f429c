package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

func (s *SQLiteStore) GetItem(ctx context.Context, id int64) (*Item, error) {
	var item Item
	err := s.db.GetContext(ctx, &item, "SELECT * FROM items WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get item %d: %w", id, err)
	}
	return &item, nil
}

func (s *SQLiteStore) GetItemByExternal(ctx context.Context, searchID int64, externalID string) (*Item, error) {
	var item Item
	err := s.db.GetContext(ctx, &item,
		"SELECT * FROM items WHERE search_id = ? AND external_id = ?", searchID, externalID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get item %d/%s: %w", searchID, externalID, err)
	}
	return &item, nil
}

// InsertItem inserts a new item. Returns false without error when another
// scan cycle inserted the same (search_id, external_id) first; the caller
// treats that as an unchanged observation, not a failure.
func (s *SQLiteStore) InsertItem(ctx context.Context, item *Item) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO items (search_id, external_id, title, price_cents, currency, condition, size,
			url, image_url, image_data, first_seen, last_seen, notified, notify_attempts, notify_failed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0, 0)
		ON CONFLICT(search_id, external_id) DO NOTHING
	`, item.SearchID, item.ExternalID, item.Title, item.PriceCents, item.Currency,
		item.Condition, item.Size, item.URL, item.ImageURL, item.ImageData,
		item.FirstSeen, item.LastSeen)
	if err != nil {
		return false, fmt.Errorf("insert item %d/%s: %w", item.SearchID, item.ExternalID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return false, nil
	}
	item.ID, _ = res.LastInsertId()
	return true, nil
}

// UpdateItemPrice records a price change: new price, last_seen bump, and
// delivery state reset so the change is notified again. A non-empty
// imageData replaces the stored image; empty keeps whatever was there.
func (s *SQLiteStore) UpdateItemPrice(ctx context.Context, id int64, priceCents int64, currency, imageData string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE items SET price_cents = ?, currency = ?, last_seen = ?,
			image_data = COALESCE(NULLIF(?, ''), image_data),
			notified = 0, notify_attempts = 0, notify_failed = 0
		WHERE id = ?
	`, priceCents, currency, at, imageData, id)
	if err != nil {
		return fmt.Errorf("update item price %d: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) TouchItemSeen(ctx context.Context, id int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, "UPDATE items SET last_seen = ? WHERE id = ?", at, id)
	if err != nil {
		return fmt.Errorf("touch item %d: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) ListItems(ctx context.Context, opts ItemListOpts) ([]Item, error) {
	query := "SELECT * FROM items WHERE 1=1"
	var args []any

	if opts.SearchID > 0 {
		query += " AND search_id = ?"
		args = append(args, opts.SearchID)
	}
	if !opts.Since.IsZero() {
		query += " AND last_seen >= ?"
		args = append(args, opts.Since)
	}

	query += " ORDER BY first_seen DESC"

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT ?"
	args = append(args, limit)

	var items []Item
	if err := s.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	return items, nil
}

// ItemImage returns the stored base64 image payload, or "" when no image
// was acquired for the item.
func (s *SQLiteStore) ItemImage(ctx context.Context, id int64) (string, error) {
	var data string
	err := s.db.GetContext(ctx, &data, "SELECT image_data FROM items WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("item image %d: %w", id, err)
	}
	return data, nil
}

func (s *SQLiteStore) AddPricePoint(ctx context.Context, itemID, priceCents int64, currency string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO price_history (item_id, price_cents, currency, observed_at)
		VALUES (?, ?, ?, ?)
	`, itemID, priceCents, currency, at)
	if err != nil {
		return fmt.Errorf("add price point %d: %w", itemID, err)
	}
	return nil
}

func (s *SQLiteStore) PriceHistory(ctx context.Context, itemID int64) ([]PricePoint, error) {
	var points []PricePoint
	err := s.db.SelectContext(ctx, &points,
		"SELECT * FROM price_history WHERE item_id = ? ORDER BY observed_at, id", itemID)
	if err != nil {
		return nil, fmt.Errorf("price history %d: %w", itemID, err)
	}
	return points, nil
}

// ListPendingNotifications returns undelivered items oldest-first, skipping
// those whose retries are exhausted.
func (s *SQLiteStore) ListPendingNotifications(ctx context.Context, limit int) ([]Item, error) {
	if limit <= 0 {
		limit = 100
	}
	var items []Item
	err := s.db.SelectContext(ctx, &items, `
		SELECT * FROM items WHERE notified = 0 AND notify_failed = 0
		ORDER BY first_seen, id LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending notifications: %w", err)
	}
	return items, nil
}

func (s *SQLiteStore) MarkNotified(ctx context.Context, itemID int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE items SET notified = 1, notify_attempts = 0 WHERE id = ?", itemID)
	if err != nil {
		return fmt.Errorf("mark notified %d: %w", itemID, err)
	}
	return nil
}

// RecordNotifyFailure increments the delivery attempt counter and marks the
// item permanently failed once maxAttempts is reached. Returns true when
// the item was exhausted by this failure.
func (s *SQLiteStore) RecordNotifyFailure(ctx context.Context, itemID int64, maxAttempts int) (bool, error) {
	_, err := s.db.ExecContext(ctx, `
		UPDATE items SET notify_attempts = notify_attempts + 1,
			notify_failed = CASE WHEN notify_attempts + 1 >= ? THEN 1 ELSE 0 END
		WHERE id = ?
	`, maxAttempts, itemID)
	if err != nil {
		return false, fmt.Errorf("record notify failure %d: %w", itemID, err)
	}
	var failed bool
	if err := s.db.GetContext(ctx, &failed, "SELECT notify_failed FROM items WHERE id = ?", itemID); err != nil {
		return false, fmt.Errorf("record notify failure %d: %w", itemID, err)
	}
	return failed, nil
}
