package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Search is one operator-defined monitoring target: a marketplace search
// URL plus notification routing. Created and edited through the operator
// API; the scan pipeline treats it as read-only except for last_scanned_at.
type Search struct {
	ID              int64     `db:"id" json:"id"`
	Label           string    `db:"label" json:"label"`
	URL             string    `db:"url" json:"url"`
	Kind            string    `db:"kind" json:"kind"`
	ChatID          string    `db:"chat_id" json:"chat_id"`
	ThreadID        string    `db:"thread_id" json:"thread_id"`
	Active          bool      `db:"active" json:"active"`
	IntervalSeconds int64     `db:"interval_seconds" json:"interval_seconds"`
	LastScannedAt   time.Time `db:"last_scanned_at" json:"last_scanned_at"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// Interval returns the scan interval as a duration, clamped to a sane floor.
func (s Search) Interval() time.Duration {
	if s.IntervalSeconds < 30 {
		return 30 * time.Second
	}
	return time.Duration(s.IntervalSeconds) * time.Second
}

// Item is one deduplicated listing. (search_id, external_id) is the
// identity key; price changes mutate the row in place and re-arm delivery.
type Item struct {
	ID             int64     `db:"id" json:"id"`
	SearchID       int64     `db:"search_id" json:"search_id"`
	ExternalID     string    `db:"external_id" json:"external_id"`
	Title          string    `db:"title" json:"title"`
	PriceCents     int64     `db:"price_cents" json:"price_cents"`
	Currency       string    `db:"currency" json:"currency"`
	Condition      string    `db:"condition" json:"condition"`
	Size           string    `db:"size" json:"size"`
	URL            string    `db:"url" json:"url"`
	ImageURL       string    `db:"image_url" json:"image_url"`
	ImageData      string    `db:"image_data" json:"-"`
	FirstSeen      time.Time `db:"first_seen" json:"first_seen"`
	LastSeen       time.Time `db:"last_seen" json:"last_seen"`
	Notified       bool      `db:"notified" json:"notified"`
	NotifyAttempts int       `db:"notify_attempts" json:"notify_attempts"`
	NotifyFailed   bool      `db:"notify_failed" json:"notify_failed"`
}

// PricePoint is one observed price of an item. Append-only; the first row
// is the price at first sighting.
type PricePoint struct {
	ID         int64     `db:"id" json:"id"`
	ItemID     int64     `db:"item_id" json:"item_id"`
	PriceCents int64     `db:"price_cents" json:"price_cents"`
	Currency   string    `db:"currency" json:"currency"`
	ObservedAt time.Time `db:"observed_at" json:"observed_at"`
}

// ErrorEvent is an append-only diagnostic record. SearchID/ItemID are zero
// when the event isn't tied to one.
type ErrorEvent struct {
	ID         int64     `db:"id" json:"id"`
	Component  string    `db:"component" json:"component"`
	Message    string    `db:"message" json:"message"`
	SearchID   int64     `db:"search_id" json:"search_id,omitempty"`
	ItemID     int64     `db:"item_id" json:"item_id,omitempty"`
	OccurredAt time.Time `db:"occurred_at" json:"occurred_at"`
}

// ItemListOpts controls item listing for the API.
type ItemListOpts struct {
	SearchID int64
	Since    time.Time
	Limit    int
}

// Store is the persistence interface; the single source of truth for dedup
// and delivery state.
type Store interface {
	ListSearches(ctx context.Context) ([]Search, error)
	ListActiveSearches(ctx context.Context) ([]Search, error)
	GetSearch(ctx context.Context, id int64) (*Search, error)
	AddSearch(ctx context.Context, s *Search) error
	UpdateSearch(ctx context.Context, s *Search) error
	TouchSearchScanned(ctx context.Context, id int64, at time.Time) error

	GetItem(ctx context.Context, id int64) (*Item, error)
	GetItemByExternal(ctx context.Context, searchID int64, externalID string) (*Item, error)
	InsertItem(ctx context.Context, item *Item) (bool, error)
	UpdateItemPrice(ctx context.Context, id int64, priceCents int64, currency, imageData string, at time.Time) error
	TouchItemSeen(ctx context.Context, id int64, at time.Time) error
	ListItems(ctx context.Context, opts ItemListOpts) ([]Item, error)
	ItemImage(ctx context.Context, id int64) (string, error)

	AddPricePoint(ctx context.Context, itemID, priceCents int64, currency string, at time.Time) error
	PriceHistory(ctx context.Context, itemID int64) ([]PricePoint, error)

	ListPendingNotifications(ctx context.Context, limit int) ([]Item, error)
	MarkNotified(ctx context.Context, itemID int64) error
	RecordNotifyFailure(ctx context.Context, itemID int64, maxAttempts int) (bool, error)

	LoadSettings(ctx context.Context) (Settings, error)
	SettingsRevision(ctx context.Context) (int64, error)
	SetSetting(ctx context.Context, key, value string) error

	AddErrorEvent(ctx context.Context, ev ErrorEvent) error
	ListErrorEvents(ctx context.Context, limit int) ([]ErrorEvent, error)
	PruneErrorEvents(ctx context.Context, max int) error

	CountItems(ctx context.Context) (int, error)
	CountPendingNotifications(ctx context.Context) (int, error)
	CountActiveSearches(ctx context.Context) (int, error)

	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// New opens a SQLite database and runs migrations.
func New(path string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	// SQLite is effectively single-writer; one pooled connection avoids
	// SQLITE_BUSY under concurrent scan cycles and keeps :memory: databases
	// from splitting across connections in tests.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) ListSearches(ctx context.Context) ([]Search, error) {
	var searches []Search
	if err := s.db.SelectContext(ctx, &searches, "SELECT * FROM searches ORDER BY id"); err != nil {
		return nil, fmt.Errorf("list searches: %w", err)
	}
	return searches, nil
}

func (s *SQLiteStore) ListActiveSearches(ctx context.Context) ([]Search, error) {
	var searches []Search
	if err := s.db.SelectContext(ctx, &searches, "SELECT * FROM searches WHERE active = 1 ORDER BY id"); err != nil {
		return nil, fmt.Errorf("list active searches: %w", err)
	}
	return searches, nil
}

func (s *SQLiteStore) GetSearch(ctx context.Context, id int64) (*Search, error) {
	var search Search
	err := s.db.GetContext(ctx, &search, "SELECT * FROM searches WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get search %d: %w", id, err)
	}
	return &search, nil
}

func (s *SQLiteStore) AddSearch(ctx context.Context, search *Search) error {
	if search.Kind == "" {
		search.Kind = "html"
	}
	if search.IntervalSeconds == 0 {
		search.IntervalSeconds = 300
	}
	if search.CreatedAt.IsZero() {
		search.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO searches (label, url, kind, chat_id, thread_id, active, interval_seconds, last_scanned_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, search.Label, search.URL, search.Kind, search.ChatID, search.ThreadID,
		search.Active, search.IntervalSeconds, search.LastScannedAt, search.CreatedAt)
	if err != nil {
		return fmt.Errorf("add search %q: %w", search.Label, err)
	}
	search.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLiteStore) UpdateSearch(ctx context.Context, search *Search) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE searches SET label = ?, url = ?, kind = ?, chat_id = ?, thread_id = ?,
			active = ?, interval_seconds = ?
		WHERE id = ?
	`, search.Label, search.URL, search.Kind, search.ChatID, search.ThreadID,
		search.Active, search.IntervalSeconds, search.ID)
	if err != nil {
		return fmt.Errorf("update search %d: %w", search.ID, err)
	}
	return nil
}

func (s *SQLiteStore) TouchSearchScanned(ctx context.Context, id int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, "UPDATE searches SET last_scanned_at = ? WHERE id = ?", at, id)
	if err != nil {
		return fmt.Errorf("touch search %d: %w", id, err)
	}
	return nil
}
