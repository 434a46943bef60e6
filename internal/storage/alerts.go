package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"collectible-pricing/internal/models"
)

const (
	upsertAlertSQL = `INSERT INTO alerts (
        id, user_id, item_id, condition, alert_type, direction,
        threshold_cents, percent_change, window_days, enabled, created_at
    ) VALUES (?,?,?,?,?,?,?,?,?,?,?)
    ON CONFLICT (id) DO UPDATE
    SET
        user_id         = EXCLUDED.user_id,
        item_id         = EXCLUDED.item_id,
        condition       = EXCLUDED.condition,
        alert_type      = EXCLUDED.alert_type,
        direction       = EXCLUDED.direction,
        threshold_cents = EXCLUDED.threshold_cents,
        percent_change  = EXCLUDED.percent_change,
        window_days     = EXCLUDED.window_days,
        enabled         = EXCLUDED.enabled`

	listAlertsForItemSQL = `SELECT
        id, user_id, item_id, condition, alert_type, direction,
        threshold_cents, percent_change, window_days, enabled, created_at
    FROM alerts
    WHERE enabled = 1 AND (item_id IS NULL OR item_id = ?)
    ORDER BY created_at, id`

	recentAlertEventSQL = `SELECT COUNT(*) FROM alert_events
    WHERE alert_id = ? AND item_id = ? AND triggered_at >= ?`

	insertAlertEventSQL = `INSERT INTO alert_events (
        id, alert_id, user_id, item_id, condition, day, triggered_at,
        price_cents, previous_price_cents, percent_change, notification_sent
    ) VALUES (?,?,?,?,?,?,?,?,?,?,?)
    ON CONFLICT (alert_id, item_id, day) DO NOTHING`

	markNotificationSentSQL = `UPDATE alert_events SET notification_sent = 1 WHERE id = ?`

	listAlertEventsBaseSQL = `SELECT
        id, alert_id, user_id, item_id, condition, triggered_at,
        price_cents, previous_price_cents, percent_change, notification_sent
    FROM alert_events`
)

// UpsertAlert creates or replaces an alert rule.
func (s *Store) UpsertAlert(ctx context.Context, alert models.Alert) error {
	if err := alert.Validate(); err != nil {
		return err
	}
	if alert.ID == "" {
		return fmt.Errorf("alert id must not be empty")
	}

	var itemID, condition any
	if alert.ItemID != nil {
		itemID = *alert.ItemID
	}
	if alert.Condition != nil {
		condition = string(*alert.Condition)
	}
	createdAt := alert.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.exec(ctx, upsertAlertSQL,
		alert.ID,
		alert.UserID,
		itemID,
		condition,
		string(alert.Type),
		string(alert.Direction),
		alert.ThresholdCents,
		alert.PercentChange,
		alert.WindowDays,
		boolToInt(alert.Enabled),
		toNanos(createdAt),
	)
	if err != nil {
		return fmt.Errorf("upsert alert: %w", err)
	}
	return nil
}

// ListAlertsForItem returns enabled alerts scoped to the item or to every item.
func (s *Store) ListAlertsForItem(ctx context.Context, itemID string) ([]models.Alert, error) {
	rows, err := s.query(ctx, listAlertsForItemSQL, itemID)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	out := make([]models.Alert, 0)
	for rows.Next() {
		var (
			a         models.Alert
			item      sql.NullString
			condition sql.NullString
			alertType string
			direction string
			enabled   int
			createdAt int64
		)
		if err := rows.Scan(&a.ID, &a.UserID, &item, &condition, &alertType, &direction,
			&a.ThresholdCents, &a.PercentChange, &a.WindowDays, &enabled, &createdAt); err != nil {
			return nil, err
		}
		if item.Valid {
			v := item.String
			a.ItemID = &v
		}
		if condition.Valid {
			c := models.Condition(condition.String)
			a.Condition = &c
		}
		a.Type = models.AlertType(alertType)
		a.Direction = models.Direction(direction)
		a.Enabled = enabled != 0
		a.CreatedAt = fromNanos(createdAt)
		out = append(out, a)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// RecentAlertEvent reports whether the pair triggered at or after since.
func (s *Store) RecentAlertEvent(ctx context.Context, alertID, itemID string, since time.Time) (bool, error) {
	row, err := s.queryRow(ctx, recentAlertEventSQL, alertID, itemID, toNanos(since))
	if err != nil {
		return false, err
	}
	var count int64
	if err := row.Scan(&count); err != nil {
		return false, fmt.Errorf("recent alert event: %w", err)
	}
	return count > 0, nil
}

// InsertAlertEvent stores the event once per (alert, item, day).
// It returns false when an event for that key already exists.
func (s *Store) InsertAlertEvent(ctx context.Context, event models.AlertEvent) (bool, error) {
	var prev, pct any
	if event.PreviousPriceCents != nil {
		prev = *event.PreviousPriceCents
	}
	if event.PercentChange != nil {
		pct = *event.PercentChange
	}

	res, err := s.exec(ctx, insertAlertEventSQL,
		event.ID,
		event.AlertID,
		event.UserID,
		event.ItemID,
		string(event.Condition),
		event.DayKey(),
		toNanos(event.TriggeredAt),
		event.PriceCents,
		prev,
		pct,
		boolToInt(event.NotificationSent),
	)
	if err != nil {
		return false, fmt.Errorf("insert alert event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert alert event rows: %w", err)
	}
	return n > 0, nil
}

// MarkNotificationSent flips the only mutable field of an event.
func (s *Store) MarkNotificationSent(ctx context.Context, eventID string) error {
	res, err := s.exec(ctx, markNotificationSentSQL, eventID)
	if err != nil {
		return fmt.Errorf("mark notification sent: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("mark notification sent: event %s not found", eventID)
	}
	return nil
}

// ListAlertEvents returns events newest first.
func (s *Store) ListAlertEvents(ctx context.Context, filter EventFilter) ([]models.AlertEvent, error) {
	var where []string
	var args []any
	if filter.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.ItemID != "" {
		where = append(where, "item_id = ?")
		args = append(args, filter.ItemID)
	}
	if filter.UnsentOnly {
		where = append(where, "notification_sent = 0")
	}

	query := listAlertEventsBaseSQL
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY triggered_at DESC, id"
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT ?"
	args = append(args, limit)

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list alert events: %w", err)
	}
	defer rows.Close()

	out := make([]models.AlertEvent, 0)
	for rows.Next() {
		var (
			e         models.AlertEvent
			condition string
			triggered int64
			prev      sql.NullInt64
			pct       sql.NullFloat64
			sent      int
		)
		if err := rows.Scan(&e.ID, &e.AlertID, &e.UserID, &e.ItemID, &condition, &triggered,
			&e.PriceCents, &prev, &pct, &sent); err != nil {
			return nil, err
		}
		e.Condition = models.Condition(condition)
		e.TriggeredAt = fromNanos(triggered)
		if prev.Valid {
			v := prev.Int64
			e.PreviousPriceCents = &v
		}
		if pct.Valid {
			v := pct.Float64
			e.PercentChange = &v
		}
		e.NotificationSent = sent != 0
		out = append(out, e)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}
