package storage

import (
	"context"
	"fmt"
)

// Timestamps are stored as UTC unix nanoseconds so both dialects share one schema.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS items (
        item_number   TEXT PRIMARY KEY,
        name          TEXT NOT NULL,
        category      TEXT NOT NULL DEFAULT '',
        year          INTEGER NOT NULL DEFAULT 0,
        piece_count   INTEGER NOT NULL DEFAULT 0,
        msrp_cents    BIGINT NOT NULL DEFAULT 0,
        image_url     TEXT NOT NULL DEFAULT '',
        retired       INTEGER,
        external_ids  TEXT NOT NULL DEFAULT '{}',
        gtin          TEXT,
        source        TEXT NOT NULL DEFAULT '',
        quality       INTEGER NOT NULL DEFAULT 0,
        last_verified BIGINT NOT NULL DEFAULT 0,
        updated_at    BIGINT NOT NULL DEFAULT 0
    )`,
	`CREATE INDEX IF NOT EXISTS items_gtin_idx ON items (gtin)`,
	`CREATE TABLE IF NOT EXISTS price_observations (
        item_id     TEXT NOT NULL,
        condition   TEXT NOT NULL,
        source      TEXT NOT NULL,
        observed_at BIGINT NOT NULL,
        price_cents BIGINT NOT NULL,
        currency    TEXT NOT NULL DEFAULT '',
        sample_size INTEGER NOT NULL DEFAULT 0,
        variance    DOUBLE PRECISION,
        metadata    TEXT NOT NULL DEFAULT '{}',
        PRIMARY KEY (item_id, condition, source, observed_at)
    )`,
	`CREATE INDEX IF NOT EXISTS price_observations_item_time_idx ON price_observations (item_id, observed_at)`,
	`CREATE TABLE IF NOT EXISTS alerts (
        id              TEXT PRIMARY KEY,
        user_id         TEXT NOT NULL,
        item_id         TEXT,
        condition       TEXT,
        alert_type      TEXT NOT NULL,
        direction       TEXT NOT NULL,
        threshold_cents BIGINT NOT NULL DEFAULT 0,
        percent_change  DOUBLE PRECISION NOT NULL DEFAULT 0,
        window_days     INTEGER NOT NULL DEFAULT 7,
        enabled         INTEGER NOT NULL DEFAULT 1,
        created_at      BIGINT NOT NULL DEFAULT 0
    )`,
	`CREATE INDEX IF NOT EXISTS alerts_item_idx ON alerts (item_id)`,
	`CREATE TABLE IF NOT EXISTS alert_events (
        id                   TEXT PRIMARY KEY,
        alert_id             TEXT NOT NULL,
        user_id              TEXT NOT NULL,
        item_id              TEXT NOT NULL,
        condition            TEXT NOT NULL,
        day                  TEXT NOT NULL,
        triggered_at         BIGINT NOT NULL,
        price_cents          BIGINT NOT NULL,
        previous_price_cents BIGINT,
        percent_change       DOUBLE PRECISION,
        notification_sent    INTEGER NOT NULL DEFAULT 0,
        UNIQUE (alert_id, item_id, day)
    )`,
	`CREATE INDEX IF NOT EXISTS alert_events_pair_idx ON alert_events (alert_id, item_id, triggered_at)`,
}

// Migrate creates missing tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate schema: %w", err)
		}
	}
	return nil
}
