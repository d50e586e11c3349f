// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"errors"
	"time"

	"bmkg_alert/internal/model"
)

// Sentinel errors returned by Storage implementations.
var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateLocation is returned when a location with the same
	// subdistrict code already exists.
	ErrDuplicateLocation = errors.New("location already exists")
)

// Stats summarizes alert activity for the dashboard.
type Stats struct {
	TotalAlerts        int `json:"total_alerts"`
	AlertsThisMonth    int `json:"alerts_this_month"`
	MonitoredLocations int `json:"monitored_locations"`
	ActiveChannels     int `json:"active_channels"`
}

// Storage is the interface for all persistence operations.
type Storage interface {
	// Locations.
	CreateLocation(ctx context.Context, loc *model.Location) error
	GetLocation(ctx context.Context, id int64) (*model.Location, error)
	ListLocations(ctx context.Context) ([]model.Location, error)
	ListEnabledLocations(ctx context.Context) ([]model.Location, error)
	UpdateLocation(ctx context.Context, id int64, label *string, enabled *bool) error
	DeleteLocation(ctx context.Context, id int64) error

	// Notification channels.
	CreateChannel(ctx context.Context, ch *model.Channel) error
	GetChannel(ctx context.Context, id int64) (*model.Channel, error)
	ListChannels(ctx context.Context) ([]model.Channel, error)
	ListEnabledChannels(ctx context.Context) ([]model.Channel, error)
	UpdateChannel(ctx context.Context, ch *model.Channel) error
	UpdateChannelStatus(ctx context.Context, id int64, successAt *time.Time, lastError string) error
	DeleteChannel(ctx context.Context, id int64) error

	// Alerts. UpsertAlert reports created=false when the
	// (bulletin code, location) pair already has a row; that is a no-op,
	// not an error.
	UpsertAlert(ctx context.Context, alert *model.Alert) (created bool, err error)
	GetAlert(ctx context.Context, id int64) (*model.Alert, error)
	ListAlerts(ctx context.Context, status model.AlertStatus, page, pageSize int) ([]model.Alert, int, error)
	ListActiveAlerts(ctx context.Context) ([]model.Alert, error)
	CountActiveAlerts(ctx context.Context) (int, error)
	SweepExpired(ctx context.Context, now time.Time, seenCodes map[string]bool) ([]model.Alert, error)
	MarkExpiredNotified(ctx context.Context, alertID int64) error
	AlertStats(ctx context.Context, now time.Time) (Stats, error)

	// Delivery log.
	LogDelivery(ctx context.Context, d *model.Delivery) error
	ListDeliveries(ctx context.Context, alertID int64) ([]model.Delivery, error)

	// Trial subscriptions.
	CreateTrial(ctx context.Context, trial *model.Trial) error
	GetTrial(ctx context.Context, id int64) (*model.Trial, error)
	ActiveTrialByChat(ctx context.Context, chatID string, now time.Time) (*model.Trial, error)
	ListActiveTrials(ctx context.Context, now time.Time) ([]model.Trial, error)
	CountActiveTrials(ctx context.Context, now time.Time) (int, error)
	CountTrialRegistrations(ctx context.Context, ip string, since time.Time) (int, error)
	EndTrial(ctx context.Context, id int64, now time.Time) error
	ExpireTrials(ctx context.Context, now time.Time) ([]model.Trial, error)

	// Runtime configuration (flat key/value).
	ConfigValue(ctx context.Context, key, fallback string) (string, error)
	SetConfigValue(ctx context.Context, key, value string) error
	AllConfig(ctx context.Context) (map[string]string, error)

	// Activity log.
	LogActivity(ctx context.Context, eventType, message, details string) error
	ListActivity(ctx context.Context, limit int) ([]model.ActivityEntry, error)

	Close() error
}
