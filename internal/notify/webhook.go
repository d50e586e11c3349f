package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// WebhookSender POSTs alert data as JSON to an arbitrary endpoint, with
// optional custom headers from the channel config.
type WebhookSender struct {
	client HTTPClient
}

// NewWebhookSender creates a WebhookSender using the given HTTP client.
func NewWebhookSender(client HTTPClient) *WebhookSender {
	return &WebhookSender{client: client}
}

type webhookWarning struct {
	Event          string   `json:"event"`
	Severity       string   `json:"severity"`
	Headline       string   `json:"headline"`
	Description    string   `json:"description"`
	Effective      string   `json:"effective"`
	Expires        string   `json:"expires"`
	InfographicURL string   `json:"infographic_url"`
	Areas          []string `json:"areas,omitempty"`
}

type webhookLocation struct {
	Code        string `json:"code"`
	Label       string `json:"label"`
	Subdistrict string `json:"subdistrict"`
	District    string `json:"district"`
	Province    string `json:"province"`
}

type webhookMatch struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type webhookPayload struct {
	Source   string          `json:"source"`
	Version  string          `json:"version"`
	Type     string          `json:"type,omitempty"`
	Message  string          `json:"message,omitempty"`
	IsTrial  *bool           `json:"is_trial,omitempty"`
	Warning  *webhookWarning `json:"warning,omitempty"`
	Location *webhookLocation `json:"location,omitempty"`
	Match    *webhookMatch   `json:"match,omitempty"`
}

// Send posts msg to the configured URL. Alerts and all-clear messages carry
// the structured warning/location/match payload; tests send a short probe.
func (s *WebhookSender) Send(ctx context.Context, msg Message, cfg json.RawMessage) error {
	var wc WebhookConfig
	if err := decodeConfig(cfg, &wc); err != nil {
		return err
	}
	if wc.WebhookURL == "" {
		return errors.New("webhook: webhook_url is required")
	}

	payload := buildWebhookPayload(msg)
	status, body, err := postJSON(ctx, s.client, wc.WebhookURL, payload, wc.Headers)
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("webhook status %d: %s", status, body)
	}
	return nil
}

func buildWebhookPayload(m Message) webhookPayload {
	if m.Kind == KindTest {
		return webhookPayload{
			Source:  "bmkg-alert",
			Version: Version,
			Type:    "test",
			Message: plainText(m),
		}
	}

	payload := webhookPayload{
		Source:  "bmkg-alert",
		Version: Version,
		IsTrial: &m.IsTrial,
		Warning: &webhookWarning{
			Event:          m.Event,
			Severity:       m.Severity.Display(),
			Headline:       m.Headline,
			Description:    m.Description,
			Effective:      m.Effective,
			Expires:        m.Expires,
			InfographicURL: m.InfographicURL,
			Areas:          m.AreaNames,
		},
		Location: &webhookLocation{
			Code:        m.Location.SubdistrictCode,
			Label:       m.Location.Label,
			Subdistrict: m.Location.SubdistrictName,
			District:    m.Location.DistrictName,
			Province:    m.Location.ProvinceName,
		},
		Match: &webhookMatch{
			Type: string(m.MatchType),
			Text: m.MatchedText,
		},
	}
	if m.Kind == KindAllClear {
		payload.Type = "all_clear"
	}
	return payload
}
