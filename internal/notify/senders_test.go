package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"bmkg_alert/internal/model"
)

type mockHTTPClient struct {
	mu     sync.Mutex
	status int
	body   string
	err    error
	reqs   []*http.Request
	bodies []string
}

func (m *mockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var payload []byte
	if req.Body != nil {
		payload, _ = io.ReadAll(req.Body)
	}
	m.reqs = append(m.reqs, req)
	m.bodies = append(m.bodies, string(payload))

	if m.err != nil {
		return nil, m.err
	}
	status := m.status
	if status == 0 {
		status = 200
	}
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(m.body)),
	}, nil
}

func (m *mockHTTPClient) lastBody(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.bodies) == 0 {
		t.Fatal("no requests captured")
	}
	return m.bodies[len(m.bodies)-1]
}

func TestTelegramSenderSend(t *testing.T) {
	client := &mockHTTPClient{body: `{"ok":true,"result":{"message_id":1}}`}
	s := NewTelegramSender(client)

	cfg := json.RawMessage(`{"bot_token":"123:abc","chat_id":"42"}`)
	if err := s.Send(context.Background(), sampleMessage(), cfg); err != nil {
		t.Fatalf("send: %v", err)
	}

	req := client.reqs[0]
	if got := req.URL.String(); got != "https://api.telegram.org/bot123:abc/sendMessage" {
		t.Errorf("url = %q", got)
	}

	var p telegramPayload
	if err := json.Unmarshal([]byte(client.lastBody(t)), &p); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if p.ChatID != "42" || p.ParseMode != "HTML" {
		t.Errorf("unexpected payload: %+v", p)
	}
	if !strings.Contains(p.Text, "Peringatan Cuaca — Hujan Lebat") {
		t.Errorf("payload text missing alert header: %s", p.Text)
	}
}

func TestTelegramSenderAPIFailure(t *testing.T) {
	client := &mockHTTPClient{body: `{"ok":false,"description":"Bad Request: chat not found"}`}
	s := NewTelegramSender(client)

	cfg := json.RawMessage(`{"bot_token":"123:abc","chat_id":"42"}`)
	err := s.Send(context.Background(), sampleMessage(), cfg)
	if err == nil || !strings.Contains(err.Error(), "chat not found") {
		t.Fatalf("expected api error, got %v", err)
	}
}

func TestTelegramSenderMissingConfig(t *testing.T) {
	s := NewTelegramSender(&mockHTTPClient{})
	err := s.Send(context.Background(), sampleMessage(), json.RawMessage(`{}`))
	if err == nil {
		t.Fatal("expected error for missing bot_token/chat_id")
	}
	if len(s.client.(*mockHTTPClient).reqs) != 0 {
		t.Error("no request should be sent without config")
	}
}

func TestDiscordSenderEmbed(t *testing.T) {
	client := &mockHTTPClient{status: 204}
	s := NewDiscordSender(client)

	cfg := json.RawMessage(`{"webhook_url":"https://discord.com/api/webhooks/1/x"}`)
	if err := s.Send(context.Background(), sampleMessage(), cfg); err != nil {
		t.Fatalf("send: %v", err)
	}

	var p discordPayload
	if err := json.Unmarshal([]byte(client.lastBody(t)), &p); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if len(p.Embeds) != 1 {
		t.Fatalf("expected 1 embed, got %d", len(p.Embeds))
	}
	embed := p.Embeds[0]
	if embed.Color != 0xEF4444 {
		t.Errorf("severe color = %#x, want 0xEF4444", embed.Color)
	}
	if !strings.Contains(embed.Title, "Peringatan Cuaca — Hujan Lebat") {
		t.Errorf("title = %q", embed.Title)
	}
	if embed.Fields[0].Name != "Lokasi Terpantau" || embed.Fields[0].Value != "Rumah" {
		t.Errorf("unexpected first field: %+v", embed.Fields[0])
	}
	if embed.Image == nil || embed.Image.URL == "" {
		t.Error("expected infographic image")
	}
	if !strings.Contains(embed.Footer.Text, "BMKG Alert System v1.0") {
		t.Errorf("footer = %q", embed.Footer.Text)
	}
}

func TestDiscordSenderTestMessage(t *testing.T) {
	client := &mockHTTPClient{status: 200}
	s := NewDiscordSender(client)

	cfg := json.RawMessage(`{"webhook_url":"https://discord.com/api/webhooks/1/x"}`)
	if err := s.Send(context.Background(), TestMessage(), cfg); err != nil {
		t.Fatalf("send: %v", err)
	}

	var p discordPayload
	if err := json.Unmarshal([]byte(client.lastBody(t)), &p); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if len(p.Embeds) != 0 {
		t.Error("test message should not carry embeds")
	}
	if !strings.HasPrefix(p.Content, "🧪 **") {
		t.Errorf("content = %q", p.Content)
	}
}

func TestDiscordSenderHTTPError(t *testing.T) {
	client := &mockHTTPClient{status: 400, body: `{"message":"invalid webhook"}`}
	s := NewDiscordSender(client)

	cfg := json.RawMessage(`{"webhook_url":"https://discord.com/api/webhooks/1/x"}`)
	err := s.Send(context.Background(), sampleMessage(), cfg)
	if err == nil || !strings.Contains(err.Error(), "status 400") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestSlackSenderBlocks(t *testing.T) {
	client := &mockHTTPClient{body: "ok"}
	s := NewSlackSender(client)

	cfg := json.RawMessage(`{"webhook_url":"https://hooks.slack.com/services/T/B/x"}`)
	if err := s.Send(context.Background(), sampleMessage(), cfg); err != nil {
		t.Fatalf("send: %v", err)
	}

	var p slackPayload
	if err := json.Unmarshal([]byte(client.lastBody(t)), &p); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if len(p.Blocks) == 0 {
		t.Fatal("expected blocks")
	}
	header := p.Blocks[0]
	if header.Type != "header" || !strings.Contains(header.Text.Text, ":red_circle:") {
		t.Errorf("unexpected header block: %+v", header)
	}
	if len(p.Blocks[1].Fields) != 4 {
		t.Errorf("expected 4 section fields, got %d", len(p.Blocks[1].Fields))
	}
	last := p.Blocks[len(p.Blocks)-1]
	if last.Type != "context" || !strings.Contains(last.Elements[0].Text, "Match: subdistrict") {
		t.Errorf("unexpected context block: %+v", last)
	}
}

func TestSlackSenderHTTPError(t *testing.T) {
	client := &mockHTTPClient{status: 500, body: "internal error"}
	s := NewSlackSender(client)

	cfg := json.RawMessage(`{"webhook_url":"https://hooks.slack.com/services/T/B/x"}`)
	if err := s.Send(context.Background(), sampleMessage(), cfg); err == nil {
		t.Fatal("expected error on 500")
	}
}

func TestWebhookSenderPayload(t *testing.T) {
	client := &mockHTTPClient{status: 201}
	s := NewWebhookSender(client)

	cfg := json.RawMessage(`{"webhook_url":"https://ops.example.com/hooks/bmkg","headers":{"X-Token":"s3cret"}}`)
	if err := s.Send(context.Background(), sampleMessage(), cfg); err != nil {
		t.Fatalf("send: %v", err)
	}

	req := client.reqs[0]
	if got := req.Header.Get("X-Token"); got != "s3cret" {
		t.Errorf("custom header = %q", got)
	}
	if got := req.Header.Get("Content-Type"); got != "application/json" {
		t.Errorf("content type = %q", got)
	}

	var p webhookPayload
	if err := json.Unmarshal([]byte(client.lastBody(t)), &p); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if p.Source != "bmkg-alert" || p.Version != "1.0" {
		t.Errorf("envelope = %q %q", p.Source, p.Version)
	}
	if p.IsTrial == nil || *p.IsTrial {
		t.Error("is_trial should be present and false")
	}
	if p.Warning == nil || p.Warning.Event != "Hujan Lebat" || p.Warning.Severity != "Severe" {
		t.Errorf("unexpected warning: %+v", p.Warning)
	}
	if p.Location == nil || p.Location.Code != "33.26.09" || p.Location.Subdistrict != "Wiradesa" {
		t.Errorf("unexpected location: %+v", p.Location)
	}
	if p.Match == nil || p.Match.Type != "subdistrict" || p.Match.Text != "Wiradesa" {
		t.Errorf("unexpected match: %+v", p.Match)
	}
}

func TestWebhookSenderTestProbe(t *testing.T) {
	client := &mockHTTPClient{}
	s := NewWebhookSender(client)

	cfg := json.RawMessage(`{"webhook_url":"https://ops.example.com/hooks/bmkg"}`)
	if err := s.Send(context.Background(), TestMessage(), cfg); err != nil {
		t.Fatalf("send: %v", err)
	}

	var p webhookPayload
	if err := json.Unmarshal([]byte(client.lastBody(t)), &p); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if p.Type != "test" || p.Warning != nil {
		t.Errorf("unexpected probe payload: %+v", p)
	}
}

func TestWebhookSenderTransportError(t *testing.T) {
	client := &mockHTTPClient{err: errors.New("connection refused")}
	s := NewWebhookSender(client)

	cfg := json.RawMessage(`{"webhook_url":"https://ops.example.com/hooks/bmkg"}`)
	err := s.Send(context.Background(), sampleMessage(), cfg)
	if err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestEmailSenderConfigErrors(t *testing.T) {
	s := NewEmailSender(SMTPDefaults{Host: "smtp.example.com", Port: 587, User: "mailer", From: "noreply@bmkg-alert.com"})

	if err := s.Send(context.Background(), sampleMessage(), json.RawMessage(`{}`)); err == nil {
		t.Error("expected error for missing to_email")
	}

	bare := NewEmailSender(SMTPDefaults{From: "noreply@bmkg-alert.com"})
	err := bare.Send(context.Background(), sampleMessage(), json.RawMessage(`{"to_email":"ops@example.com"}`))
	if err == nil || !strings.Contains(err.Error(), "smtp not configured") {
		t.Errorf("expected smtp not configured, got %v", err)
	}
}

func TestRenderEmailAlert(t *testing.T) {
	subject, body, isHTML := renderEmail(sampleMessage())

	if subject != "[BMKG Alert] Severe: Hujan Lebat — Rumah" {
		t.Errorf("subject = %q", subject)
	}
	if !isHTML {
		t.Error("alert email should be HTML")
	}
	for _, want := range []string{
		"#EF4444",
		"Peringatan Cuaca — Hujan Lebat",
		"Wiradesa, Kab. Pekalongan, Jawa Tengah",
		"Lihat Infografis BMKG",
		"Sumber: BMKG (bmkg.go.id)",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("email body missing %q", want)
		}
	}
}

func TestRenderEmailTest(t *testing.T) {
	subject, body, isHTML := renderEmail(TestMessage())
	if subject != "[BMKG Alert] Test Notification" {
		t.Errorf("subject = %q", subject)
	}
	if isHTML {
		t.Error("test email should be plain text")
	}
	if !strings.Contains(body, "Ini adalah pesan test") {
		t.Errorf("body = %q", body)
	}
}

func TestEmailResolveOverrides(t *testing.T) {
	s := NewEmailSender(SMTPDefaults{
		Host: "smtp.default.com", Port: 587, User: "default", Password: "defpass",
		From: "noreply@bmkg-alert.com",
	})

	set := s.resolve(EmailConfig{SMTPHost: "smtp.custom.com", SMTPPort: 465, SMTPUser: "custom"})
	if set.host != "smtp.custom.com" || set.port != 465 || set.user != "custom" {
		t.Errorf("overrides not applied: %+v", set)
	}
	if set.password != "defpass" || set.from != "noreply@bmkg-alert.com" {
		t.Errorf("defaults not kept: %+v", set)
	}
}

func TestBuildMIME(t *testing.T) {
	raw := string(buildMIME("noreply@bmkg-alert.com", "ops@example.com", "[BMKG Alert] Test Notification", "hello", false))

	for _, want := range []string{
		"From: noreply@bmkg-alert.com\r\n",
		"To: ops@example.com\r\n",
		"Subject: [BMKG Alert] Test Notification\r\n",
		"Content-Type: text/plain; charset=\"utf-8\"\r\n",
		"\r\n\r\nhello",
	} {
		if !strings.Contains(raw, want) {
			t.Errorf("mime missing %q in:\n%s", want, raw)
		}
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		typ     model.ChannelType
		cfg     string
		wantErr bool
	}{
		{"telegram ok", model.ChannelTelegram, `{"bot_token":"1:a","chat_id":"2"}`, false},
		{"telegram missing chat", model.ChannelTelegram, `{"bot_token":"1:a"}`, true},
		{"discord ok", model.ChannelDiscord, `{"webhook_url":"https://discord.com/api/webhooks/1/x"}`, false},
		{"discord empty", model.ChannelDiscord, `{}`, true},
		{"slack ok", model.ChannelSlack, `{"webhook_url":"https://hooks.slack.com/x"}`, false},
		{"email ok", model.ChannelEmail, `{"to_email":"ops@example.com"}`, false},
		{"email missing to", model.ChannelEmail, `{"smtp_host":"smtp.example.com"}`, true},
		{"webhook ok", model.ChannelWebhook, `{"webhook_url":"https://example.com/hook","headers":{"A":"b"}}`, false},
		{"webhook bad json", model.ChannelWebhook, `{oops`, true},
		{"unknown type", model.ChannelType("pager"), `{}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateConfig(tt.typ, json.RawMessage(tt.cfg))
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
