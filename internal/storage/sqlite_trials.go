package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"bmkg_alert/internal/model"
)

const trialColumns = `id, telegram_chat_id, subdistrict_code, subdistrict_name,
	district_name, province_name, severity_threshold, registered_at, expires_at,
	expired_notified, ip_address`

// CreateTrial inserts a new trial subscription and populates its ID. The
// caller provides RegisteredAt and ExpiresAt.
func (s *SQLite) CreateTrial(ctx context.Context, trial *model.Trial) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO trial_subscriptions
		 (telegram_chat_id, subdistrict_code, subdistrict_name, district_name,
		  province_name, severity_threshold, registered_at, expires_at, expired_notified, ip_address)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		trial.ChatID, trial.SubdistrictCode, trial.SubdistrictName, trial.DistrictName,
		trial.ProvinceName, trial.Severity,
		trial.RegisteredAt.UTC().Format(timeLayout), trial.ExpiresAt.UTC().Format(timeLayout),
		trial.IPAddress,
	)
	if err != nil {
		return fmt.Errorf("insert trial: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	trial.ID = id
	return nil
}

// GetTrial returns a single trial by its ID.
func (s *SQLite) GetTrial(ctx context.Context, id int64) (*model.Trial, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+trialColumns+` FROM trial_subscriptions WHERE id = ?`, id,
	)
	trial, err := scanTrial(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return trial, err
}

// ActiveTrialByChat returns the newest unexpired trial for a chat, or
// ErrNotFound when the chat has none.
func (s *SQLite) ActiveTrialByChat(ctx context.Context, chatID string, now time.Time) (*model.Trial, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+trialColumns+` FROM trial_subscriptions
		 WHERE telegram_chat_id = ? AND expires_at > ? ORDER BY id DESC LIMIT 1`,
		chatID, now.UTC().Format(timeLayout),
	)
	trial, err := scanTrial(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return trial, err
}

// ListActiveTrials returns all unexpired trials.
func (s *SQLite) ListActiveTrials(ctx context.Context, now time.Time) ([]model.Trial, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+trialColumns+` FROM trial_subscriptions WHERE expires_at > ? ORDER BY id`,
		now.UTC().Format(timeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("query trials: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanTrials(rows)
}

// CountActiveTrials returns the number of unexpired trials.
func (s *SQLite) CountActiveTrials(ctx context.Context, now time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM trial_subscriptions WHERE expires_at > ?`,
		now.UTC().Format(timeLayout),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count trials: %w", err)
	}
	return count, nil
}

// CountTrialRegistrations returns how many trials an IP registered since
// the given time. Used for rate limiting.
func (s *SQLite) CountTrialRegistrations(ctx context.Context, ip string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM trial_subscriptions WHERE ip_address = ? AND registered_at >= ?`,
		ip, since.UTC().Format(timeLayout),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count trial registrations: %w", err)
	}
	return count, nil
}

// EndTrial expires a trial immediately by moving its expiry to now.
func (s *SQLite) EndTrial(ctx context.Context, id int64, now time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE trial_subscriptions SET expires_at = ?, expired_notified = 1 WHERE id = ?`,
		now.UTC().Format(timeLayout), id,
	)
	if err != nil {
		return fmt.Errorf("end trial: %w", err)
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

// ExpireTrials flags trials that passed their expiry without a goodbye
// message and returns them so the caller can send one.
func (s *SQLite) ExpireTrials(ctx context.Context, now time.Time) ([]model.Trial, error) {
	nowStr := now.UTC().Format(timeLayout)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+trialColumns+` FROM trial_subscriptions
		 WHERE expires_at <= ? AND expired_notified = 0 ORDER BY id`, nowStr,
	)
	if err != nil {
		return nil, fmt.Errorf("query expired trials: %w", err)
	}
	defer func() { _ = rows.Close() }()

	trials, err := scanTrials(rows)
	if err != nil {
		return nil, err
	}
	if len(trials) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, t := range trials {
		if _, err := tx.ExecContext(ctx,
			`UPDATE trial_subscriptions SET expired_notified = 1 WHERE id = ?`, t.ID,
		); err != nil {
			return nil, fmt.Errorf("flag expired trial: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit expire trials: %w", err)
	}
	return trials, nil
}

func scanTrial(row scannable) (*model.Trial, error) {
	var t model.Trial
	var registered, expires string
	var notified int
	err := row.Scan(&t.ID, &t.ChatID, &t.SubdistrictCode, &t.SubdistrictName,
		&t.DistrictName, &t.ProvinceName, &t.Severity, &registered, &expires,
		&notified, &t.IPAddress)
	if err != nil {
		return nil, fmt.Errorf("scan trial: %w", err)
	}
	t.RegisteredAt, _ = time.Parse(timeLayout, registered)
	t.ExpiresAt, _ = time.Parse(timeLayout, expires)
	t.ExpiredNotified = notified == 1
	return &t, nil
}

func scanTrials(rows *sql.Rows) ([]model.Trial, error) {
	var trials []model.Trial
	for rows.Next() {
		t, err := scanTrial(rows)
		if err != nil {
			return nil, err
		}
		trials = append(trials, *t)
	}
	return trials, rows.Err()
}
