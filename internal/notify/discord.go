package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"bmkg_alert/internal/model"
)

var discordColors = map[model.Severity]int{
	model.SeverityMinor:    0x3B82F6,
	model.SeverityModerate: 0xEAB308,
	model.SeveritySevere:   0xEF4444,
	model.SeverityExtreme:  0x1F2937,
}

const discordFallbackColor = 0x6B7280

// DiscordSender delivers messages to a Discord webhook as rich embeds.
type DiscordSender struct {
	client HTTPClient
}

// NewDiscordSender creates a DiscordSender using the given HTTP client.
func NewDiscordSender(client HTTPClient) *DiscordSender {
	return &DiscordSender{client: client}
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordFooter struct {
	Text string `json:"text"`
}

type discordImage struct {
	URL string `json:"url"`
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Color       int            `json:"color"`
	Fields      []discordField `json:"fields"`
	Footer      discordFooter  `json:"footer"`
	Image       *discordImage  `json:"image,omitempty"`
}

type discordPayload struct {
	Content string         `json:"content,omitempty"`
	Embeds  []discordEmbed `json:"embeds,omitempty"`
}

// Send posts msg to the configured Discord webhook. Alerts become embeds;
// all-clear and test messages are sent as plain content.
func (s *DiscordSender) Send(ctx context.Context, msg Message, cfg json.RawMessage) error {
	var dc DiscordConfig
	if err := decodeConfig(cfg, &dc); err != nil {
		return err
	}
	if dc.WebhookURL == "" {
		return errors.New("discord: webhook_url is required")
	}

	var payload discordPayload
	switch msg.Kind {
	case KindAlert:
		payload.Embeds = []discordEmbed{buildDiscordEmbed(msg)}
	case KindTest:
		payload.Content = "🧪 **" + plainText(msg) + "**"
	default:
		payload.Content = plainText(msg)
	}

	status, body, err := postJSON(ctx, s.client, dc.WebhookURL, payload, nil)
	if err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	if status != 200 && status != 204 {
		return fmt.Errorf("discord api status %d: %s", status, body)
	}
	return nil
}

func buildDiscordEmbed(m Message) discordEmbed {
	color, ok := discordColors[m.Severity]
	if !ok {
		color = discordFallbackColor
	}

	fields := []discordField{
		{Name: "Lokasi Terpantau", Value: m.Location.DisplayName(), Inline: true},
		{Name: "Tingkat", Value: m.Severity.Display(), Inline: true},
		{Name: "Berlaku", Value: orDash(m.Effective), Inline: true},
		{Name: "Hingga", Value: orDash(m.Expires), Inline: true},
	}
	if m.MatchedText != "" {
		fields = append(fields, discordField{
			Name:  "Match",
			Value: fmt.Sprintf("%s — %s", m.MatchType, m.MatchedText),
		})
	}

	embed := discordEmbed{
		Title:       fmt.Sprintf("%s Peringatan Cuaca — %s", emojiFor(m.Severity), m.Event),
		Description: shortDescription(m),
		Color:       color,
		Fields:      fields,
		Footer:      discordFooter{Text: "BMKG Alert System v1.0 | Sumber: BMKG (bmkg.go.id)"},
	}
	if m.InfographicURL != "" {
		embed.Image = &discordImage{URL: m.InfographicURL}
	}
	return embed
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
