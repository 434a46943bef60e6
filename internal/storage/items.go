package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"collectible-pricing/internal/models"
)

const (
	itemColumns = `item_number, name, category, year, piece_count, msrp_cents, image_url,
        retired, external_ids, gtin, source, quality, last_verified, updated_at`

	getItemSQL = `SELECT ` + itemColumns + ` FROM items WHERE item_number = ?`

	getItemByGTINSQL = `SELECT ` + itemColumns + ` FROM items WHERE gtin = ?
    ORDER BY quality DESC, updated_at DESC LIMIT 1`

	searchItemsSQL = `SELECT ` + itemColumns + ` FROM items
    WHERE LOWER(item_number) LIKE ? OR LOWER(name) LIKE ?
    ORDER BY quality DESC, item_number
    LIMIT ?`

	upsertItemSQL = `INSERT INTO items (
        item_number, name, category, year, piece_count, msrp_cents, image_url,
        retired, external_ids, gtin, source, quality, last_verified, updated_at
    ) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)
    ON CONFLICT (item_number) DO UPDATE
    SET
        name          = EXCLUDED.name,
        category      = EXCLUDED.category,
        year          = EXCLUDED.year,
        piece_count   = EXCLUDED.piece_count,
        msrp_cents    = EXCLUDED.msrp_cents,
        image_url     = EXCLUDED.image_url,
        retired       = EXCLUDED.retired,
        external_ids  = EXCLUDED.external_ids,
        gtin          = EXCLUDED.gtin,
        source        = EXCLUDED.source,
        quality       = EXCLUDED.quality,
        last_verified = EXCLUDED.last_verified,
        updated_at    = EXCLUDED.updated_at`

	listItemNumbersSQL = `SELECT item_number FROM items ORDER BY item_number`
)

// GetItem returns nil, nil when the item is not cached.
func (s *Store) GetItem(ctx context.Context, itemNumber string) (*StoredItem, error) {
	row, err := s.queryRow(ctx, getItemSQL, itemNumber)
	if err != nil {
		return nil, err
	}
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	return &item, nil
}

// GetItemByGTIN returns the best cached record carrying the barcode.
func (s *Store) GetItemByGTIN(ctx context.Context, gtin string) (*StoredItem, error) {
	row, err := s.queryRow(ctx, getItemByGTINSQL, gtin)
	if err != nil {
		return nil, err
	}
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get item by gtin: %w", err)
	}
	return &item, nil
}

// SearchItems does a case-insensitive substring match on number and name.
func (s *Store) SearchItems(ctx context.Context, query string, limit int) ([]StoredItem, error) {
	if limit <= 0 {
		limit = 50
	}
	pattern := "%" + stripLikeWildcards(strings.ToLower(strings.TrimSpace(query))) + "%"
	rows, err := s.query(ctx, searchItemsSQL, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search items: %w", err)
	}
	defer rows.Close()

	items := make([]StoredItem, 0)
	for rows.Next() {
		item, scanErr := scanItem(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		items = append(items, item)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return items, nil
}

// UpsertItem writes the record keyed by item number.
func (s *Store) UpsertItem(ctx context.Context, item models.ItemMetadata, quality int) error {
	if err := item.Validate(); err != nil {
		return err
	}
	ids := item.ExternalIDs
	if ids == nil {
		ids = map[string]string{}
	}
	idsJSON, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("encode external ids: %w", err)
	}

	var retired any
	if item.Retired != nil {
		retired = boolToInt(*item.Retired)
	}

	_, err = s.exec(ctx, upsertItemSQL,
		item.ItemNumber,
		item.Name,
		item.Category,
		item.Year,
		item.PieceCount,
		item.MSRPCents,
		item.ImageURL,
		retired,
		string(idsJSON),
		nullString(item.GTIN),
		item.Source,
		quality,
		toNanos(item.LastVerified),
		toNanos(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("upsert item: %w", err)
	}
	return nil
}

// ListItemNumbers returns every cached item number.
func (s *Store) ListItemNumbers(ctx context.Context) ([]string, error) {
	rows, err := s.query(ctx, listItemNumbersSQL)
	if err != nil {
		return nil, fmt.Errorf("list item numbers: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (StoredItem, error) {
	var (
		item         StoredItem
		retired      sql.NullInt64
		idsJSON      string
		gtin         sql.NullString
		lastVerified int64
		updatedAt    int64
	)
	if err := row.Scan(
		&item.ItemNumber,
		&item.Name,
		&item.Category,
		&item.Year,
		&item.PieceCount,
		&item.MSRPCents,
		&item.ImageURL,
		&retired,
		&idsJSON,
		&gtin,
		&item.Source,
		&item.Quality,
		&lastVerified,
		&updatedAt,
	); err != nil {
		return StoredItem{}, err
	}

	if retired.Valid {
		item.Retired = models.BoolPtr(retired.Int64 != 0)
	}
	if idsJSON != "" {
		if err := json.Unmarshal([]byte(idsJSON), &item.ExternalIDs); err != nil {
			return StoredItem{}, fmt.Errorf("decode external ids: %w", err)
		}
	}
	if len(item.ExternalIDs) == 0 {
		item.ExternalIDs = nil
	}
	item.GTIN = gtin.String
	item.LastVerified = fromNanos(lastVerified)
	item.UpdatedAt = fromNanos(updatedAt)
	return item, nil
}

func stripLikeWildcards(v string) string {
	return strings.NewReplacer("%", "", "_", "").Replace(v)
}
