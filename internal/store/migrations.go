package store

const schema = `
CREATE TABLE IF NOT EXISTS searches (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    label            TEXT NOT NULL,
    url              TEXT NOT NULL,
    kind             TEXT NOT NULL DEFAULT 'html',
    chat_id          TEXT NOT NULL,
    thread_id        TEXT NOT NULL DEFAULT '',
    active           BOOLEAN NOT NULL DEFAULT 1,
    interval_seconds INTEGER NOT NULL DEFAULT 300,
    last_scanned_at  DATETIME NOT NULL DEFAULT '0001-01-01 00:00:00+00:00',
    created_at       DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS items (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    search_id       INTEGER NOT NULL REFERENCES searches(id),
    external_id     TEXT NOT NULL,
    title           TEXT NOT NULL,
    price_cents     INTEGER NOT NULL DEFAULT 0,
    currency        TEXT NOT NULL DEFAULT '',
    condition       TEXT NOT NULL DEFAULT '',
    size            TEXT NOT NULL DEFAULT '',
    url             TEXT NOT NULL DEFAULT '',
    image_url       TEXT NOT NULL DEFAULT '',
    image_data      TEXT NOT NULL DEFAULT '',
    first_seen      DATETIME NOT NULL,
    last_seen       DATETIME NOT NULL,
    notified        BOOLEAN NOT NULL DEFAULT 0,
    notify_attempts INTEGER NOT NULL DEFAULT 0,
    notify_failed   BOOLEAN NOT NULL DEFAULT 0,
    UNIQUE(search_id, external_id)
);

CREATE INDEX IF NOT EXISTS idx_items_search ON items(search_id);
CREATE INDEX IF NOT EXISTS idx_items_pending ON items(notified, notify_failed, first_seen);
CREATE INDEX IF NOT EXISTS idx_items_last_seen ON items(last_seen);

CREATE TABLE IF NOT EXISTS price_history (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    item_id     INTEGER NOT NULL REFERENCES items(id),
    price_cents INTEGER NOT NULL,
    currency    TEXT NOT NULL DEFAULT '',
    observed_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_price_history_item ON price_history(item_id, observed_at);

CREATE TABLE IF NOT EXISTS settings (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS settings_meta (
    id       INTEGER PRIMARY KEY CHECK (id = 1),
    revision INTEGER NOT NULL
);

INSERT OR IGNORE INTO settings_meta (id, revision) VALUES (1, 1);

CREATE TABLE IF NOT EXISTS error_events (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    component   TEXT NOT NULL,
    message     TEXT NOT NULL,
    search_id   INTEGER NOT NULL DEFAULT 0,
    item_id     INTEGER NOT NULL DEFAULT 0,
    occurred_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_error_events_occurred ON error_events(occurred_at);
`
