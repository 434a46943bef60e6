package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"collectible-pricing/internal/models"
)

var (
	// ErrNotConfigured indicates the storage handle was not initialised.
	ErrNotConfigured = errors.New("storage: database not configured")
)

// Dialect selects placeholder style and lock support.
type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectPostgres
)

const (
	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// ItemStore persists catalog records keyed by item number.
type ItemStore interface {
	GetItem(ctx context.Context, itemNumber string) (*StoredItem, error)
	GetItemByGTIN(ctx context.Context, gtin string) (*StoredItem, error)
	SearchItems(ctx context.Context, query string, limit int) ([]StoredItem, error)
	UpsertItem(ctx context.Context, item models.ItemMetadata, quality int) error
	ListItemNumbers(ctx context.Context) ([]string, error)
}

// ObservationStore appends and reads price observations.
type ObservationStore interface {
	InsertObservations(ctx context.Context, obs []models.PriceObservation) (int, error)
	ListObservations(ctx context.Context, itemID string, since time.Time) ([]models.PriceObservation, error)
	LatestObservationAt(ctx context.Context, itemID string) (time.Time, bool, error)
}

// AlertStore reads alert rules and records their events.
type AlertStore interface {
	UpsertAlert(ctx context.Context, alert models.Alert) error
	ListAlertsForItem(ctx context.Context, itemID string) ([]models.Alert, error)
	RecentAlertEvent(ctx context.Context, alertID, itemID string, since time.Time) (bool, error)
	InsertAlertEvent(ctx context.Context, event models.AlertEvent) (bool, error)
	MarkNotificationSent(ctx context.Context, eventID string) error
	ListAlertEvents(ctx context.Context, filter EventFilter) ([]models.AlertEvent, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// StoredItem is a catalog record plus its persisted quality score.
type StoredItem struct {
	models.ItemMetadata
	Quality   int
	UpdatedAt time.Time
}

// EventFilter narrows ListAlertEvents. Empty fields match everything.
type EventFilter struct {
	UserID     string
	ItemID     string
	UnsentOnly bool
	Limit      int
}

// Store implements every store interface on database/sql.
type Store struct {
	db      *sql.DB
	dialect Dialect
	closers []func()
}

// NewStore wraps an existing handle. Migrate must be called separately.
func NewStore(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// Dialect reports the SQL dialect in use.
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// Close releases the underlying resources.
func (s *Store) Close() {
	if s == nil || s.db == nil {
		return
	}
	_ = s.db.Close()
	for _, c := range s.closers {
		c()
	}
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
// SQLite has a single writer, so the lock is always granted there.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, false, err
	}
	if s.dialect != DialectPostgres {
		return func() {}, true, nil
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRowContext(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Close()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Close()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// best effort; the session lock also ends with the connection
		_, _ = conn.ExecContext(ctxUnlock, advisoryUnlockSQL, key)
		conn.Close()
	}
	return unlock, true, nil
}

func (s *Store) getDB() (*sql.DB, error) {
	if s == nil || s.db == nil {
		return nil, ErrNotConfigured
	}
	return s.db, nil
}

// rebind rewrites '?' placeholders to '$n' for postgres.
func (s *Store) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	return db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *Store) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	return db.QueryContext(ctx, s.rebind(query), args...)
}

func (s *Store) queryRow(ctx context.Context, query string, args ...any) (*sql.Row, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	return db.QueryRowContext(ctx, s.rebind(query), args...), nil
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixNano()
}

func fromNanos(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(0, v).UTC()
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

var (
	_ ItemStore        = (*Store)(nil)
	_ ObservationStore = (*Store)(nil)
	_ AlertStore       = (*Store)(nil)
	_ AdvisoryLocker   = (*Store)(nil)
)
