package notify

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"bmkg_alert/internal/model"
)

var emailColors = map[model.Severity]string{
	model.SeverityMinor:    "#3B82F6",
	model.SeverityModerate: "#EAB308",
	model.SeveritySevere:   "#EF4444",
	model.SeverityExtreme:  "#1F2937",
}

const emailFallbackColor = "#6B7280"

// EmailSender delivers messages over SMTP. Channel config overrides the
// server-level SMTP defaults; the From address always comes from defaults.
type EmailSender struct {
	defaults SMTPDefaults
}

// NewEmailSender creates an EmailSender with the given fallback settings.
func NewEmailSender(defaults SMTPDefaults) *EmailSender {
	return &EmailSender{defaults: defaults}
}

type smtpSettings struct {
	host     string
	port     int
	user     string
	password string
	from     string
}

func (s *EmailSender) resolve(ec EmailConfig) smtpSettings {
	set := smtpSettings{
		host:     ec.SMTPHost,
		port:     ec.SMTPPort,
		user:     ec.SMTPUser,
		password: ec.SMTPPassword,
		from:     s.defaults.From,
	}
	if set.host == "" {
		set.host = s.defaults.Host
	}
	if set.port == 0 {
		set.port = s.defaults.Port
	}
	if set.port == 0 {
		set.port = 587
	}
	if set.user == "" {
		set.user = s.defaults.User
	}
	if set.password == "" {
		set.password = s.defaults.Password
	}
	return set
}

// Send renders msg as an email and submits it over SMTP.
func (s *EmailSender) Send(ctx context.Context, msg Message, cfg json.RawMessage) error {
	var ec EmailConfig
	if err := decodeConfig(cfg, &ec); err != nil {
		return err
	}
	if ec.ToEmail == "" {
		return errors.New("email: to_email is required")
	}

	set := s.resolve(ec)
	if set.host == "" || set.user == "" {
		return errors.New("email: smtp not configured")
	}

	subject, body, isHTML := renderEmail(msg)
	if err := sendMail(ctx, set, ec.ToEmail, subject, body, isHTML); err != nil {
		return fmt.Errorf("email: %w", err)
	}
	return nil
}

// renderEmail returns the subject, body, and whether the body is HTML.
func renderEmail(m Message) (string, string, bool) {
	switch m.Kind {
	case KindTest:
		return "[BMKG Alert] Test Notification", plainText(m), false
	case KindAllClear:
		subject := fmt.Sprintf("[BMKG Alert] Peringatan Berakhir — %s", m.Location.DisplayName())
		return subject, plainText(m), false
	}

	subject := fmt.Sprintf("[BMKG Alert] %s: %s — %s",
		m.Severity.Display(), m.Event, m.Location.DisplayName())

	color, ok := emailColors[m.Severity]
	if !ok {
		color = emailFallbackColor
	}

	var infographic string
	if m.InfographicURL != "" {
		infographic = fmt.Sprintf(
			`<p><a href="%s" style="color:#2563EB;">Lihat Infografis BMKG</a></p>`,
			m.InfographicURL)
	}

	html := fmt.Sprintf(`<div style="font-family:sans-serif;max-width:600px;margin:0 auto;">
  <div style="background:%s;color:white;padding:16px 20px;border-radius:8px 8px 0 0;">
    <h2 style="margin:0;">Peringatan Cuaca — %s</h2>
    <p style="margin:4px 0 0;opacity:0.9;">%s</p>
  </div>
  <div style="border:1px solid #E5E7EB;border-top:none;padding:20px;border-radius:0 0 8px 8px;">
    <table style="width:100%%;font-size:14px;border-collapse:collapse;">
      <tr><td style="padding:6px 0;color:#6B7280;width:120px;">Lokasi</td><td style="padding:6px 0;font-weight:600;">%s</td></tr>
      <tr><td style="padding:6px 0;color:#6B7280;">Wilayah</td><td style="padding:6px 0;">%s, %s, %s</td></tr>
      <tr><td style="padding:6px 0;color:#6B7280;">Berlaku</td><td style="padding:6px 0;">%s</td></tr>
      <tr><td style="padding:6px 0;color:#6B7280;">Hingga</td><td style="padding:6px 0;">%s</td></tr>
    </table>
    <p style="margin-top:16px;color:#374151;">%s</p>
    %s
    <hr style="border:none;border-top:1px solid #E5E7EB;margin:16px 0;" />
    <p style="font-size:12px;color:#9CA3AF;">Sumber: BMKG (bmkg.go.id) | BMKG Alert System v1.0</p>
  </div>
</div>`,
		color, m.Event, m.Severity.Display(),
		m.Location.DisplayName(),
		m.Location.SubdistrictName, m.Location.DistrictName, m.Location.ProvinceName,
		orDash(m.Effective), orDash(m.Expires),
		truncate(firstNonEmpty(m.Description, m.Headline), 500),
		infographic)

	return subject, html, true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// sendMail submits one message. Port 465 uses implicit TLS; port 587
// upgrades with STARTTLS.
func sendMail(ctx context.Context, set smtpSettings, to, subject, body string, isHTML bool) error {
	client, err := dialSMTP(ctx, set)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	if set.user != "" {
		auth := smtp.PlainAuth("", set.user, set.password, set.host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	if err := client.Mail(set.from); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("rcpt to: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(buildMIME(set.from, to, subject, body, isHTML)); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close body: %w", err)
	}

	return client.Quit()
}

func dialSMTP(ctx context.Context, set smtpSettings) (*smtp.Client, error) {
	addr := net.JoinHostPort(set.host, strconv.Itoa(set.port))
	dialer := &net.Dialer{Timeout: 15 * time.Second}

	if set.port == 465 {
		conn, err := tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{ServerName: set.host})
		if err != nil {
			return nil, fmt.Errorf("dial tls: %w", err)
		}
		client, err := smtp.NewClient(conn, set.host)
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("smtp client: %w", err)
		}
		return client, nil
	}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	client, err := smtp.NewClient(conn, set.host)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("smtp client: %w", err)
	}
	if set.port == 587 {
		if err := client.StartTLS(&tls.Config{ServerName: set.host}); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("starttls: %w", err)
		}
	}
	return client, nil
}

func buildMIME(from, to, subject, body string, isHTML bool) []byte {
	contentType := "text/plain"
	if isHTML {
		contentType = "text/html"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&b, "Content-Type: %s; charset=\"utf-8\"\r\n", contentType)
	b.WriteString("\r\n")
	b.WriteString(body)
	return []byte(b.String())
}
