package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"bmkg_alert/internal/model"
)

var slackEmoji = map[model.Severity]string{
	model.SeverityMinor:    ":large_blue_circle:",
	model.SeverityModerate: ":large_yellow_circle:",
	model.SeveritySevere:   ":red_circle:",
	model.SeverityExtreme:  ":black_circle:",
}

// SlackSender delivers messages to a Slack incoming webhook using Block Kit.
type SlackSender struct {
	client HTTPClient
}

// NewSlackSender creates a SlackSender using the given HTTP client.
func NewSlackSender(client HTTPClient) *SlackSender {
	return &SlackSender{client: client}
}

type slackText struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

type slackBlock struct {
	Type     string      `json:"type"`
	Text     *slackText  `json:"text,omitempty"`
	Fields   []slackText `json:"fields,omitempty"`
	Elements []slackText `json:"elements,omitempty"`
}

type slackPayload struct {
	Text   string       `json:"text,omitempty"`
	Blocks []slackBlock `json:"blocks,omitempty"`
}

// Send posts msg to the configured Slack webhook. Alerts are rendered as
// blocks; all-clear and test messages as plain text.
func (s *SlackSender) Send(ctx context.Context, msg Message, cfg json.RawMessage) error {
	var sc SlackConfig
	if err := decodeConfig(cfg, &sc); err != nil {
		return err
	}
	if sc.WebhookURL == "" {
		return errors.New("slack: webhook_url is required")
	}

	var payload slackPayload
	switch msg.Kind {
	case KindAlert:
		payload.Blocks = buildSlackBlocks(msg)
	case KindTest:
		payload.Text = "🧪 " + plainText(msg)
	default:
		payload.Text = plainText(msg)
	}

	status, body, err := postJSON(ctx, s.client, sc.WebhookURL, payload, nil)
	if err != nil {
		return fmt.Errorf("slack: %w", err)
	}
	if status != 200 {
		return fmt.Errorf("slack api status %d: %s", status, body)
	}
	return nil
}

func buildSlackBlocks(m Message) []slackBlock {
	emoji, ok := slackEmoji[m.Severity]
	if !ok {
		emoji = ":warning:"
	}

	blocks := []slackBlock{
		{
			Type: "header",
			Text: &slackText{
				Type:  "plain_text",
				Text:  fmt.Sprintf("%s Peringatan Cuaca — %s", emoji, m.Event),
				Emoji: true,
			},
		},
		{
			Type: "section",
			Fields: []slackText{
				{Type: "mrkdwn", Text: "*Lokasi:*\n" + m.Location.DisplayName()},
				{Type: "mrkdwn", Text: "*Tingkat:*\n" + m.Severity.Display()},
				{Type: "mrkdwn", Text: "*Berlaku:*\n" + orDash(m.Effective)},
				{Type: "mrkdwn", Text: "*Hingga:*\n" + orDash(m.Expires)},
			},
		},
	}

	if desc := shortDescription(m); desc != "" {
		blocks = append(blocks, slackBlock{
			Type: "section",
			Text: &slackText{Type: "mrkdwn", Text: desc},
		})
	}

	if m.InfographicURL != "" {
		blocks = append(blocks, slackBlock{
			Type: "section",
			Text: &slackText{
				Type: "mrkdwn",
				Text: fmt.Sprintf("<%s|Lihat Infografis BMKG>", m.InfographicURL),
			},
		})
	}

	blocks = append(blocks, slackBlock{
		Type: "context",
		Elements: []slackText{
			{Type: "mrkdwn", Text: fmt.Sprintf("Match: %s — %s", m.MatchType, m.MatchedText)},
			{Type: "mrkdwn", Text: "Sumber: BMKG (bmkg.go.id) | BMKG Alert v1.0"},
		},
	})

	return blocks
}
