package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"bmkg_alert/internal/model"
)

const alertColumns = `id, bmkg_alert_code, event, severity, urgency, certainty, headline,
	description, effective, expires, infographic_url, polygon_data,
	matched_location_id, match_type, matched_text, status, expired_notified, created_at`

// UpsertAlert inserts a new alert row and populates its ID and CreatedAt.
// When a row for the same (bulletin code, location) pair already exists the
// insert is skipped and created is false.
func (s *SQLite) UpsertAlert(ctx context.Context, alert *model.Alert) (bool, error) {
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO alerts
		 (bmkg_alert_code, event, severity, urgency, certainty, headline, description,
		  effective, expires, infographic_url, polygon_data, matched_location_id,
		  match_type, matched_text, status, expired_notified, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		alert.Code, alert.Event, string(alert.Severity), alert.Urgency, alert.Certainty,
		alert.Headline, alert.Description, alert.Effective, alert.Expires,
		alert.InfographicURL, alert.PolygonData, alert.LocationID,
		string(alert.MatchType), alert.MatchedText, string(alert.Status), now,
	)
	if err != nil {
		return false, fmt.Errorf("insert alert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}
	id, err := res.LastInsertId()
	if err != nil {
		return false, fmt.Errorf("last insert id: %w", err)
	}
	alert.ID = id
	alert.CreatedAt, _ = time.Parse(timeLayout, now)
	return true, nil
}

// GetAlert returns a single alert by its ID.
func (s *SQLite) GetAlert(ctx context.Context, id int64) (*model.Alert, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+alertColumns+` FROM alerts WHERE id = ?`, id,
	)
	alert, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return alert, err
}

// ListAlerts returns one page of alerts, newest first, optionally filtered
// by status, along with the total row count for the filter.
func (s *SQLite) ListAlerts(ctx context.Context, status model.AlertStatus, page, pageSize int) ([]model.Alert, int, error) {
	if page < 1 {
		page = 1
	}
	where := ""
	args := []any{}
	if status != "" {
		where = ` WHERE status = ?`
		args = append(args, string(status))
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM alerts`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count alerts: %w", err)
	}

	args = append(args, pageSize, (page-1)*pageSize)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+alertColumns+` FROM alerts`+where+` ORDER BY id DESC LIMIT ? OFFSET ?`, args...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("query alerts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	alerts, err := scanAlerts(rows)
	if err != nil {
		return nil, 0, err
	}
	return alerts, total, nil
}

// ListActiveAlerts returns all alerts still in the active state.
func (s *SQLite) ListActiveAlerts(ctx context.Context) ([]model.Alert, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+alertColumns+` FROM alerts WHERE status = 'active' ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query active alerts: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanAlerts(rows)
}

// CountActiveAlerts returns the number of alerts in the active state.
func (s *SQLite) CountActiveAlerts(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM alerts WHERE status = 'active'`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active alerts: %w", err)
	}
	return count, nil
}

// SweepExpired transitions active alerts to expired and returns the newly
// expired rows. An alert expires when its expiry time has passed or when
// its bulletin code is absent from seenCodes, the set of codes present in
// the latest fetch.
func (s *SQLite) SweepExpired(ctx context.Context, now time.Time, seenCodes map[string]bool) ([]model.Alert, error) {
	active, err := s.ListActiveAlerts(ctx)
	if err != nil {
		return nil, err
	}

	var expired []model.Alert
	for _, a := range active {
		if !alertExpired(a, now, seenCodes) {
			continue
		}
		a.Status = model.AlertExpired
		expired = append(expired, a)
	}
	if len(expired) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, a := range expired {
		if _, err := tx.ExecContext(ctx, `UPDATE alerts SET status = 'expired' WHERE id = ?`, a.ID); err != nil {
			return nil, fmt.Errorf("expire alert: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit expire: %w", err)
	}
	return expired, nil
}

func alertExpired(a model.Alert, now time.Time, seenCodes map[string]bool) bool {
	if !seenCodes[a.Code] {
		return true
	}
	if a.Expires == "" {
		return false
	}
	expires, err := time.Parse(time.RFC3339, a.Expires)
	if err != nil {
		return false
	}
	return expires.Before(now)
}

// MarkExpiredNotified records that the all-clear for an alert was dispatched.
func (s *SQLite) MarkExpiredNotified(ctx context.Context, alertID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET expired_notified = 1 WHERE id = ?`, alertID,
	)
	if err != nil {
		return fmt.Errorf("mark expired notified: %w", err)
	}
	return nil
}

// AlertStats summarizes alert counts for the dashboard.
func (s *SQLite) AlertStats(ctx context.Context, now time.Time) (Stats, error) {
	var stats Stats
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).Format(timeLayout)

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM alerts`).Scan(&stats.TotalAlerts); err != nil {
		return stats, fmt.Errorf("count alerts: %w", err)
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM alerts WHERE created_at >= ?`, monthStart,
	).Scan(&stats.AlertsThisMonth); err != nil {
		return stats, fmt.Errorf("count month alerts: %w", err)
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM locations WHERE enabled = 1`,
	).Scan(&stats.MonitoredLocations); err != nil {
		return stats, fmt.Errorf("count locations: %w", err)
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notification_channels WHERE enabled = 1`,
	).Scan(&stats.ActiveChannels); err != nil {
		return stats, fmt.Errorf("count channels: %w", err)
	}
	return stats, nil
}

// LogDelivery appends one delivery attempt and populates its ID.
func (s *SQLite) LogDelivery(ctx context.Context, d *model.Delivery) error {
	if d.SentAt.IsZero() {
		d.SentAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO alert_deliveries (alert_id, channel_id, status, error_message, sent_at)
		 VALUES (?, ?, ?, ?, ?)`,
		d.AlertID, d.ChannelID, string(d.Status), d.ErrorMessage, d.SentAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert delivery: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	d.ID = id
	return nil
}

// ListDeliveries returns all delivery attempts for an alert, oldest first.
func (s *SQLite) ListDeliveries(ctx context.Context, alertID int64) ([]model.Delivery, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, alert_id, channel_id, status, error_message, sent_at
		 FROM alert_deliveries WHERE alert_id = ? ORDER BY id`, alertID,
	)
	if err != nil {
		return nil, fmt.Errorf("query deliveries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var deliveries []model.Delivery
	for rows.Next() {
		var d model.Delivery
		var status, sent string
		if err := rows.Scan(&d.ID, &d.AlertID, &d.ChannelID, &status, &d.ErrorMessage, &sent); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		d.Status = model.DeliveryStatus(status)
		d.SentAt, _ = time.Parse(timeLayout, sent)
		deliveries = append(deliveries, d)
	}
	return deliveries, rows.Err()
}

func scanAlert(row scannable) (*model.Alert, error) {
	var a model.Alert
	var severity, matchType, status, created string
	var expiredNotified int
	err := row.Scan(&a.ID, &a.Code, &a.Event, &severity, &a.Urgency, &a.Certainty,
		&a.Headline, &a.Description, &a.Effective, &a.Expires, &a.InfographicURL,
		&a.PolygonData, &a.LocationID, &matchType, &a.MatchedText, &status,
		&expiredNotified, &created)
	if err != nil {
		return nil, fmt.Errorf("scan alert: %w", err)
	}
	a.Severity = model.Severity(severity)
	a.MatchType = model.MatchType(matchType)
	a.Status = model.AlertStatus(status)
	a.ExpiredNotified = expiredNotified == 1
	a.CreatedAt, _ = time.Parse(timeLayout, created)
	return &a, nil
}

func scanAlerts(rows *sql.Rows) ([]model.Alert, error) {
	var alerts []model.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, *a)
	}
	return alerts, rows.Err()
}
