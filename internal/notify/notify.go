// Package notify renders alert notifications and delivers them through the
// configured channel transports (Telegram, Discord, Slack, email, webhooks).
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"bmkg_alert/internal/model"
)

// Version is reported in generic webhook payloads.
const Version = "1.0"

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Kind distinguishes the three message shapes a channel can receive.
type Kind string

// Message kinds.
const (
	KindAlert    Kind = "alert"
	KindAllClear Kind = "all_clear"
	KindTest     Kind = "test"
)

// Message is the channel-agnostic notification payload. Senders render it
// into their transport's native format.
type Message struct {
	Kind           Kind
	Event          string
	Severity       model.Severity
	Headline       string
	Description    string
	Effective      string
	Expires        string
	InfographicURL string
	AreaNames      []string
	Location       model.Location
	MatchType      model.MatchType
	MatchedText    string
	IsTrial        bool
}

// AlertMessage builds the payload for a newly stored alert.
func AlertMessage(alert model.Alert, loc model.Location) Message {
	return Message{
		Kind:           KindAlert,
		Event:          alert.Event,
		Severity:       alert.Severity,
		Headline:       alert.Headline,
		Description:    alert.Description,
		Effective:      alert.Effective,
		Expires:        alert.Expires,
		InfographicURL: alert.InfographicURL,
		AreaNames:      AreaNames(alert.PolygonData),
		Location:       loc,
		MatchType:      alert.MatchType,
		MatchedText:    alert.MatchedText,
	}
}

// AllClearMessage builds the payload announcing that an alert has expired.
func AllClearMessage(alert model.Alert, loc model.Location) Message {
	m := AlertMessage(alert, loc)
	m.Kind = KindAllClear
	return m
}

// TestMessage builds the synthetic payload for manual channel tests.
func TestMessage() Message {
	return Message{Kind: KindTest}
}

// Sender delivers one message to a channel. cfg is the raw config variant
// for the channel's type; each sender decodes its own.
type Sender interface {
	Send(ctx context.Context, msg Message, cfg json.RawMessage) error
}

// Per-type channel config variants. Channel.Type selects which one the
// stored config JSON decodes into.
type (
	// TelegramConfig configures a telegram channel.
	TelegramConfig struct {
		BotToken string `json:"bot_token"`
		ChatID   string `json:"chat_id"`
	}

	// DiscordConfig configures a Discord webhook channel.
	DiscordConfig struct {
		WebhookURL string `json:"webhook_url"`
	}

	// SlackConfig configures a Slack incoming-webhook channel.
	SlackConfig struct {
		WebhookURL string `json:"webhook_url"`
	}

	// EmailConfig configures an SMTP email channel. The SMTP fields
	// override the server-level defaults when set.
	EmailConfig struct {
		ToEmail      string `json:"to_email"`
		SMTPHost     string `json:"smtp_host,omitempty"`
		SMTPPort     int    `json:"smtp_port,omitempty"`
		SMTPUser     string `json:"smtp_user,omitempty"`
		SMTPPassword string `json:"smtp_password,omitempty"`
	}

	// WebhookConfig configures a generic JSON webhook channel.
	WebhookConfig struct {
		WebhookURL string            `json:"webhook_url"`
		Headers    map[string]string `json:"headers,omitempty"`
	}
)

// SMTPDefaults are the server-level SMTP settings email channels fall back
// to when their config leaves the SMTP fields empty.
type SMTPDefaults struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
}

// NewSenders builds the full sender registry keyed by channel type.
func NewSenders(client HTTPClient, smtp SMTPDefaults) map[model.ChannelType]Sender {
	return map[model.ChannelType]Sender{
		model.ChannelTelegram: NewTelegramSender(client),
		model.ChannelDiscord:  NewDiscordSender(client),
		model.ChannelSlack:    NewSlackSender(client),
		model.ChannelEmail:    NewEmailSender(smtp),
		model.ChannelWebhook:  NewWebhookSender(client),
	}
}

// ValidateConfig checks that raw decodes into the variant for channel type t
// and carries the fields the sender cannot work without.
func ValidateConfig(t model.ChannelType, raw json.RawMessage) error {
	switch t {
	case model.ChannelTelegram:
		var cfg TelegramConfig
		if err := decodeConfig(raw, &cfg); err != nil {
			return err
		}
		if cfg.BotToken == "" || cfg.ChatID == "" {
			return errors.New("telegram config requires bot_token and chat_id")
		}
	case model.ChannelDiscord:
		var cfg DiscordConfig
		if err := decodeConfig(raw, &cfg); err != nil {
			return err
		}
		if cfg.WebhookURL == "" {
			return errors.New("discord config requires webhook_url")
		}
	case model.ChannelSlack:
		var cfg SlackConfig
		if err := decodeConfig(raw, &cfg); err != nil {
			return err
		}
		if cfg.WebhookURL == "" {
			return errors.New("slack config requires webhook_url")
		}
	case model.ChannelEmail:
		var cfg EmailConfig
		if err := decodeConfig(raw, &cfg); err != nil {
			return err
		}
		if cfg.ToEmail == "" {
			return errors.New("email config requires to_email")
		}
	case model.ChannelWebhook:
		var cfg WebhookConfig
		if err := decodeConfig(raw, &cfg); err != nil {
			return err
		}
		if cfg.WebhookURL == "" {
			return errors.New("webhook config requires webhook_url")
		}
	default:
		return fmt.Errorf("unsupported channel type %q", t)
	}
	return nil
}

func decodeConfig(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode channel config: %w", err)
	}
	return nil
}
