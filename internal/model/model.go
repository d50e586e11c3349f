// Package model defines the domain types used across the application.
package model

import (
	"encoding/json"
	"strings"
	"time"
)

// Severity is the warning severity level reported by BMKG.
type Severity string

// Severity levels, ordered least to most urgent.
const (
	SeverityMinor    Severity = "minor"
	SeverityModerate Severity = "moderate"
	SeveritySevere   Severity = "severe"
	SeverityExtreme  Severity = "extreme"
)

var severityRank = map[Severity]int{
	SeverityMinor:    0,
	SeverityModerate: 1,
	SeveritySevere:   2,
	SeverityExtreme:  3,
}

// ParseSeverity canonicalizes a severity string from the feed ("Severe",
// "moderate", ...) to its lowercase form. Unknown values map to minor.
func ParseSeverity(s string) Severity {
	sev := Severity(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := severityRank[sev]; !ok {
		return SeverityMinor
	}
	return sev
}

// Rank returns the ordering index of the severity (minor=0 .. extreme=3).
func (s Severity) Rank() int {
	return severityRank[s]
}

// AtLeast reports whether s is at or above the given minimum severity.
func (s Severity) AtLeast(min Severity) bool {
	return severityRank[s] >= severityRank[min]
}

// Display returns the capitalized form used in rendered messages.
func (s Severity) Display() string {
	if s == "" {
		return ""
	}
	return strings.ToUpper(string(s[:1])) + string(s[1:])
}

// ChannelType identifies a notification transport.
type ChannelType string

// Supported channel types.
const (
	ChannelTelegram ChannelType = "telegram"
	ChannelDiscord  ChannelType = "discord"
	ChannelSlack    ChannelType = "slack"
	ChannelEmail    ChannelType = "email"
	ChannelWebhook  ChannelType = "webhook"
)

// ValidChannelType reports whether t names a supported transport.
func ValidChannelType(t ChannelType) bool {
	switch t {
	case ChannelTelegram, ChannelDiscord, ChannelSlack, ChannelEmail, ChannelWebhook:
		return true
	}
	return false
}

// AlertStatus is the lifecycle state of a stored alert.
type AlertStatus string

// Alert lifecycle states.
const (
	AlertActive  AlertStatus = "active"
	AlertExpired AlertStatus = "expired"
)

// DeliveryStatus is the outcome of one notification attempt.
type DeliveryStatus string

// Delivery outcomes.
const (
	DeliverySent   DeliveryStatus = "sent"
	DeliveryFailed DeliveryStatus = "failed"
)

// MatchType records the granularity at which a warning matched a location.
type MatchType string

// Match granularities. District matches are a coarser fallback used only
// when no subdistrict matched.
const (
	MatchSubdistrict      MatchType = "subdistrict"
	MatchDistrictFallback MatchType = "district-fallback"
)

// Location is a user-registered monitored location. Locations are
// soft-disabled rather than deleted once alerts reference them.
type Location struct {
	ID              int64     `json:"id"`
	Label           string    `json:"label"`
	ProvinceCode    string    `json:"province_code"`
	ProvinceName    string    `json:"province_name"`
	DistrictCode    string    `json:"district_code"`
	DistrictName    string    `json:"district_name"`
	SubdistrictCode string    `json:"subdistrict_code"`
	SubdistrictName string    `json:"subdistrict_name"`
	Latitude        *float64  `json:"latitude,omitempty"`
	Longitude       *float64  `json:"longitude,omitempty"`
	Enabled         bool      `json:"enabled"`
	CreatedAt       time.Time `json:"created_at"`
}

// DisplayName returns the label if set, otherwise the subdistrict name.
func (l Location) DisplayName() string {
	if l.Label != "" {
		return l.Label
	}
	return l.SubdistrictName
}

// Channel is a configured notification channel. Type is the discriminant
// for Config, which holds the JSON of the matching variant struct defined
// next to each sender (bot token and chat for telegram, webhook URL and
// headers for webhooks, SMTP settings for email).
type Channel struct {
	ID            int64           `json:"id"`
	Type          ChannelType     `json:"channel_type"`
	Enabled       bool            `json:"enabled"`
	Config        json.RawMessage `json:"config"`
	LastSuccessAt *time.Time      `json:"last_success_at,omitempty"`
	LastError     string          `json:"last_error,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Alert is one deduplicated (bulletin, location) pair with the bulletin
// fields denormalized at match time. (Code, LocationID) is unique.
type Alert struct {
	ID              int64       `json:"id"`
	Code            string      `json:"bmkg_alert_code"`
	Event           string      `json:"event"`
	Severity        Severity    `json:"severity"`
	Urgency         string      `json:"urgency"`
	Certainty       string      `json:"certainty"`
	Headline        string      `json:"headline"`
	Description     string      `json:"description"`
	Effective       string      `json:"effective"`
	Expires         string      `json:"expires"`
	InfographicURL  string      `json:"infographic_url"`
	PolygonData     string      `json:"polygon_data"`
	LocationID      int64       `json:"matched_location_id"`
	MatchType       MatchType   `json:"match_type"`
	MatchedText     string      `json:"matched_text"`
	Status          AlertStatus `json:"status"`
	ExpiredNotified bool        `json:"expired_notified"`
	CreatedAt       time.Time   `json:"created_at"`
}

// Delivery is one notification attempt for an alert on a channel.
// Append-only; manual re-tests add rows rather than overwrite.
type Delivery struct {
	ID           int64          `json:"id"`
	AlertID      int64          `json:"alert_id"`
	ChannelID    int64          `json:"channel_id"`
	Status       DeliveryStatus `json:"status"`
	ErrorMessage string         `json:"error_message,omitempty"`
	SentAt       time.Time      `json:"sent_at"`
}

// TrialDuration is how long a trial subscription stays active after
// registration.
const TrialDuration = 24 * time.Hour

// Trial is a time-bounded Telegram-only subscription for demo visitors.
type Trial struct {
	ID              int64     `json:"id"`
	ChatID          string    `json:"telegram_chat_id"`
	SubdistrictCode string    `json:"subdistrict_code"`
	SubdistrictName string    `json:"subdistrict_name"`
	DistrictName    string    `json:"district_name"`
	ProvinceName    string    `json:"province_name"`
	Severity        string    `json:"severity_threshold"`
	RegisteredAt    time.Time `json:"registered_at"`
	ExpiresAt       time.Time `json:"expires_at"`
	ExpiredNotified bool      `json:"-"`
	IPAddress       string    `json:"-"`
}

// ActivityEntry is one row of the dashboard activity log.
type ActivityEntry struct {
	ID        int64     `json:"id"`
	EventType string    `json:"event_type"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
