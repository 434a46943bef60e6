package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"collectible-pricing/internal/models"
)

const (
	insertObservationSQL = `INSERT INTO price_observations (
        item_id, condition, source, observed_at, price_cents, currency, sample_size, variance, metadata
    ) VALUES (?,?,?,?,?,?,?,?,?)
    ON CONFLICT (item_id, condition, source, observed_at) DO NOTHING`

	listObservationsSQL = `SELECT
        item_id, condition, source, observed_at, price_cents, currency, sample_size, variance, metadata
    FROM price_observations
    WHERE item_id = ? AND observed_at >= ?
    ORDER BY observed_at, condition, source`

	latestObservationSQL = `SELECT MAX(observed_at) FROM price_observations WHERE item_id = ?`
)

// InsertObservations appends observations; rows that already exist are left untouched.
// It returns how many rows were actually written.
func (s *Store) InsertObservations(ctx context.Context, obs []models.PriceObservation) (int, error) {
	db, err := s.getDB()
	if err != nil {
		return 0, err
	}
	if len(obs) == 0 {
		return 0, nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin observation insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, s.rebind(insertObservationSQL))
	if err != nil {
		return 0, fmt.Errorf("prepare observation insert: %w", err)
	}
	defer stmt.Close()

	written := 0
	for _, o := range obs {
		if err := o.Validate(); err != nil {
			return 0, fmt.Errorf("observation for %s: %w", o.ItemID, err)
		}
		meta := o.Metadata
		if meta == nil {
			meta = map[string]any{}
		}
		metaJSON, err := json.Marshal(meta)
		if err != nil {
			return 0, fmt.Errorf("encode observation metadata: %w", err)
		}
		var variance any
		if o.Variance != nil {
			variance = *o.Variance
		}

		res, err := stmt.ExecContext(ctx,
			o.ItemID,
			string(o.Condition),
			o.Source,
			toNanos(o.Timestamp),
			o.PriceCents,
			o.Currency,
			o.SampleSize,
			variance,
			string(metaJSON),
		)
		if err != nil {
			return 0, fmt.Errorf("insert observation: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil {
			written += int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit observations: %w", err)
	}
	return written, nil
}

// ListObservations returns observations for an item at or after since, oldest first.
func (s *Store) ListObservations(ctx context.Context, itemID string, since time.Time) ([]models.PriceObservation, error) {
	rows, err := s.query(ctx, listObservationsSQL, itemID, toNanos(since))
	if err != nil {
		return nil, fmt.Errorf("list observations: %w", err)
	}
	defer rows.Close()

	out := make([]models.PriceObservation, 0)
	for rows.Next() {
		var (
			o         models.PriceObservation
			condition string
			observed  int64
			variance  sql.NullFloat64
			metaJSON  string
		)
		if err := rows.Scan(&o.ItemID, &condition, &o.Source, &observed, &o.PriceCents, &o.Currency, &o.SampleSize, &variance, &metaJSON); err != nil {
			return nil, err
		}
		o.Condition = models.Condition(condition)
		o.Timestamp = fromNanos(observed)
		if variance.Valid {
			v := variance.Float64
			o.Variance = &v
		}
		if metaJSON != "" && metaJSON != "{}" {
			if err := json.Unmarshal([]byte(metaJSON), &o.Metadata); err != nil {
				return nil, fmt.Errorf("decode observation metadata: %w", err)
			}
		}
		out = append(out, o)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// LatestObservationAt reports the newest observation time for an item.
func (s *Store) LatestObservationAt(ctx context.Context, itemID string) (time.Time, bool, error) {
	row, err := s.queryRow(ctx, latestObservationSQL, itemID)
	if err != nil {
		return time.Time{}, false, err
	}
	var latest sql.NullInt64
	if err := row.Scan(&latest); err != nil {
		return time.Time{}, false, fmt.Errorf("latest observation: %w", err)
	}
	if !latest.Valid {
		return time.Time{}, false, nil
	}
	return fromNanos(latest.Int64), true, nil
}
