package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

const telegramAPIBase = "https://api.telegram.org"

// TelegramSender delivers messages through the Telegram Bot API using the
// channel's own bot token.
type TelegramSender struct {
	client  HTTPClient
	baseURL string
}

// NewTelegramSender creates a TelegramSender using the given HTTP client.
func NewTelegramSender(client HTTPClient) *TelegramSender {
	return &TelegramSender{client: client, baseURL: telegramAPIBase}
}

type telegramPayload struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type telegramResult struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Send renders msg as Telegram HTML and posts it via sendMessage.
func (s *TelegramSender) Send(ctx context.Context, msg Message, cfg json.RawMessage) error {
	var tc TelegramConfig
	if err := decodeConfig(cfg, &tc); err != nil {
		return err
	}
	if tc.BotToken == "" || tc.ChatID == "" {
		return errors.New("telegram: bot_token and chat_id are required")
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.baseURL, tc.BotToken)
	payload := telegramPayload{
		ChatID:    tc.ChatID,
		Text:      telegramText(msg),
		ParseMode: "HTML",
	}

	status, body, err := postJSON(ctx, s.client, url, payload, nil)
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}

	var result telegramResult
	if status == 200 && json.Unmarshal(body, &result) == nil && result.OK {
		return nil
	}
	return fmt.Errorf("telegram api status %d: %s", status, body)
}
