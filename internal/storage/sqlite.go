package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"bmkg_alert/internal/model"
	"bmkg_alert/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=OFF"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("disable foreign keys: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// CreateLocation inserts a new monitored location and populates its ID and
// CreatedAt. Returns ErrDuplicateLocation when the subdistrict code is
// already registered.
func (s *SQLite) CreateLocation(ctx context.Context, loc *model.Location) error {
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO locations
		 (label, province_code, province_name, district_code, district_name,
		  subdistrict_code, subdistrict_name, latitude, longitude, enabled, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		loc.Label, loc.ProvinceCode, loc.ProvinceName, loc.DistrictCode, loc.DistrictName,
		loc.SubdistrictCode, loc.SubdistrictName, loc.Latitude, loc.Longitude,
		boolToInt(loc.Enabled), now,
	)
	if err != nil {
		return fmt.Errorf("insert location: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrDuplicateLocation
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	loc.ID = id
	loc.CreatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// GetLocation returns a single location by its ID.
func (s *SQLite) GetLocation(ctx context.Context, id int64) (*model.Location, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, label, province_code, province_name, district_code, district_name,
		        subdistrict_code, subdistrict_name, latitude, longitude, enabled, created_at
		 FROM locations WHERE id = ?`, id,
	)
	loc, err := scanLocation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return loc, err
}

// ListLocations returns all registered locations.
func (s *SQLite) ListLocations(ctx context.Context) ([]model.Location, error) {
	return s.queryLocations(ctx,
		`SELECT id, label, province_code, province_name, district_code, district_name,
		        subdistrict_code, subdistrict_name, latitude, longitude, enabled, created_at
		 FROM locations ORDER BY id`)
}

// ListEnabledLocations returns the locations considered during matching.
func (s *SQLite) ListEnabledLocations(ctx context.Context) ([]model.Location, error) {
	return s.queryLocations(ctx,
		`SELECT id, label, province_code, province_name, district_code, district_name,
		        subdistrict_code, subdistrict_name, latitude, longitude, enabled, created_at
		 FROM locations WHERE enabled = 1 ORDER BY id`)
}

func (s *SQLite) queryLocations(ctx context.Context, query string) ([]model.Location, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query locations: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanLocations(rows)
}

// UpdateLocation applies the provided label and enabled changes. Nil fields
// are left untouched.
func (s *SQLite) UpdateLocation(ctx context.Context, id int64, label *string, enabled *bool) error {
	loc, err := s.GetLocation(ctx, id)
	if err != nil {
		return err
	}
	if label != nil {
		loc.Label = *label
	}
	if enabled != nil {
		loc.Enabled = *enabled
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE locations SET label = ?, enabled = ? WHERE id = ?`,
		loc.Label, boolToInt(loc.Enabled), id,
	)
	if err != nil {
		return fmt.Errorf("update location: %w", err)
	}
	return nil
}

// DeleteLocation removes a location by its ID.
func (s *SQLite) DeleteLocation(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM locations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete location: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateChannel inserts a new notification channel and populates its ID
// and timestamps.
func (s *SQLite) CreateChannel(ctx context.Context, ch *model.Channel) error {
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO notification_channels (channel_type, enabled, config, last_error, created_at, updated_at)
		 VALUES (?, ?, ?, '', ?, ?)`,
		string(ch.Type), boolToInt(ch.Enabled), configJSON(ch.Config), now, now,
	)
	if err != nil {
		return fmt.Errorf("insert channel: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	ch.ID = id
	ch.CreatedAt, _ = time.Parse(timeLayout, now)
	ch.UpdatedAt = ch.CreatedAt
	return nil
}

// GetChannel returns a single channel by its ID.
func (s *SQLite) GetChannel(ctx context.Context, id int64) (*model.Channel, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, channel_type, enabled, config, last_success_at, last_error, created_at, updated_at
		 FROM notification_channels WHERE id = ?`, id,
	)
	ch, err := scanChannel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return ch, err
}

// ListChannels returns all configured channels.
func (s *SQLite) ListChannels(ctx context.Context) ([]model.Channel, error) {
	return s.queryChannels(ctx,
		`SELECT id, channel_type, enabled, config, last_success_at, last_error, created_at, updated_at
		 FROM notification_channels ORDER BY id`)
}

// ListEnabledChannels returns the channels alerts are dispatched to.
func (s *SQLite) ListEnabledChannels(ctx context.Context) ([]model.Channel, error) {
	return s.queryChannels(ctx,
		`SELECT id, channel_type, enabled, config, last_success_at, last_error, created_at, updated_at
		 FROM notification_channels WHERE enabled = 1 ORDER BY id`)
}

func (s *SQLite) queryChannels(ctx context.Context, query string) ([]model.Channel, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query channels: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var channels []model.Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		channels = append(channels, *ch)
	}
	return channels, rows.Err()
}

// UpdateChannel persists changes to a channel's enabled flag and config.
func (s *SQLite) UpdateChannel(ctx context.Context, ch *model.Channel) error {
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`UPDATE notification_channels SET enabled = ?, config = ?, updated_at = ? WHERE id = ?`,
		boolToInt(ch.Enabled), configJSON(ch.Config), now, ch.ID,
	)
	if err != nil {
		return fmt.Errorf("update channel: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	ch.UpdatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// UpdateChannelStatus records the outcome of the channel's most recent send.
func (s *SQLite) UpdateChannelStatus(ctx context.Context, id int64, successAt *time.Time, lastError string) error {
	var success *string
	if successAt != nil {
		v := successAt.UTC().Format(timeLayout)
		success = &v
	}
	if success != nil {
		_, err := s.db.ExecContext(ctx,
			`UPDATE notification_channels SET last_success_at = ?, last_error = ? WHERE id = ?`,
			*success, lastError, id,
		)
		if err != nil {
			return fmt.Errorf("update channel status: %w", err)
		}
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE notification_channels SET last_error = ? WHERE id = ?`,
		lastError, id,
	)
	if err != nil {
		return fmt.Errorf("update channel status: %w", err)
	}
	return nil
}

// DeleteChannel removes a channel by its ID.
func (s *SQLite) DeleteChannel(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notification_channels WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete channel: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ConfigValue returns the runtime config value for key, or fallback when
// the key is not set.
func (s *SQLite) ConfigValue(ctx context.Context, key, fallback string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM config WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return fallback, nil
	}
	if err != nil {
		return "", fmt.Errorf("query config %q: %w", key, err)
	}
	return value, nil
}

// SetConfigValue upserts a runtime config key.
func (s *SQLite) SetConfigValue(ctx context.Context, key, value string) error {
	now := time.Now().UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO config (key, value, updated_at) VALUES (?, ?, ?)`,
		key, value, now,
	)
	if err != nil {
		return fmt.Errorf("set config %q: %w", key, err)
	}
	return nil
}

// AllConfig returns every runtime config key and value.
func (s *SQLite) AllConfig(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM config`)
	if err != nil {
		return nil, fmt.Errorf("query config: %w", err)
	}
	defer func() { _ = rows.Close() }()

	cfg := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan config: %w", err)
		}
		cfg[k] = v
	}
	return cfg, rows.Err()
}

// LogActivity appends one event to the activity log.
func (s *SQLite) LogActivity(ctx context.Context, eventType, message, details string) error {
	now := time.Now().UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO activity_log (event_type, message, details, created_at) VALUES (?, ?, ?, ?)`,
		eventType, message, details, now,
	)
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

// ListActivity returns the most recent activity entries, newest first.
func (s *SQLite) ListActivity(ctx context.Context, limit int) ([]model.ActivityEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, event_type, message, details, created_at
		 FROM activity_log ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query activity: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []model.ActivityEntry
	for rows.Next() {
		var e model.ActivityEntry
		var created string
		if err := rows.Scan(&e.ID, &e.EventType, &e.Message, &e.Details, &created); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		e.CreatedAt, _ = time.Parse(timeLayout, created)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// configJSON normalizes a channel config blob for storage. Empty configs
// are stored as an empty JSON object so scans always yield valid JSON.
func configJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	return string(raw)
}

type scannable interface {
	Scan(dest ...any) error
}

func scanLocation(row scannable) (*model.Location, error) {
	var loc model.Location
	var enabled int
	var lat, lon sql.NullFloat64
	var created string
	err := row.Scan(&loc.ID, &loc.Label, &loc.ProvinceCode, &loc.ProvinceName,
		&loc.DistrictCode, &loc.DistrictName, &loc.SubdistrictCode, &loc.SubdistrictName,
		&lat, &lon, &enabled, &created)
	if err != nil {
		return nil, fmt.Errorf("scan location: %w", err)
	}
	loc.Enabled = enabled == 1
	if lat.Valid {
		loc.Latitude = &lat.Float64
	}
	if lon.Valid {
		loc.Longitude = &lon.Float64
	}
	loc.CreatedAt, _ = time.Parse(timeLayout, created)
	return &loc, nil
}

func scanLocations(rows *sql.Rows) ([]model.Location, error) {
	var locations []model.Location
	for rows.Next() {
		loc, err := scanLocation(rows)
		if err != nil {
			return nil, err
		}
		locations = append(locations, *loc)
	}
	return locations, rows.Err()
}

func scanChannel(row scannable) (*model.Channel, error) {
	var ch model.Channel
	var typ, cfg, created, updated string
	var enabled int
	var lastSuccess sql.NullString
	err := row.Scan(&ch.ID, &typ, &enabled, &cfg, &lastSuccess, &ch.LastError, &created, &updated)
	if err != nil {
		return nil, fmt.Errorf("scan channel: %w", err)
	}
	ch.Type = model.ChannelType(typ)
	ch.Enabled = enabled == 1
	ch.Config = json.RawMessage(cfg)
	if lastSuccess.Valid {
		t, _ := time.Parse(timeLayout, lastSuccess.String)
		ch.LastSuccessAt = &t
	}
	ch.CreatedAt, _ = time.Parse(timeLayout, created)
	ch.UpdatedAt, _ = time.Parse(timeLayout, updated)
	return &ch, nil
}
