package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"bmkg_alert/internal/bmkg"
	"bmkg_alert/internal/model"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// TrialBot is the system Telegram bot behind trial subscriptions. It
// answers /start and /id with the visitor's chat ID and delivers trial
// notifications sent by the engine and the API.
type TrialBot struct {
	api      telegramAPI
	username string
	log      *slog.Logger
}

// NewTrialBot creates a TrialBot with the given bot token.
func NewTrialBot(token string, log *slog.Logger) (*TrialBot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	return &TrialBot{api: api, username: api.Self.UserName, log: log}, nil
}

// newTrialBotWithAPI wires a TrialBot over a prebuilt API, for tests.
func newTrialBotWithAPI(api telegramAPI, username string, log *slog.Logger) *TrialBot {
	return &TrialBot{api: api, username: username, log: log}
}

// Username returns the bot's Telegram username, for the dashboard to show
// which bot visitors should /start.
func (b *TrialBot) Username() string {
	return b.username
}

// Run starts the bot's long-polling loop, blocking until ctx is cancelled.
func (b *TrialBot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update := <-updates:
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			b.handleCommand(update.Message)
		}
	}
}

func (b *TrialBot) handleCommand(msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start", "id":
		b.reply(msg.Chat.ID, chatIDText(msg.Chat.ID))
	default:
		b.reply(msg.Chat.ID, "Perintah tidak dikenal. Gunakan /id untuk melihat Chat ID Anda.")
	}
}

func (b *TrialBot) reply(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("failed to send message", "chat_id", chatID, "error", err)
	}
}

// SendMessage sends an HTML message to the given chat.
func (b *TrialBot) SendMessage(chatID string, text string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id %q: %w", chatID, err)
	}
	msg := tgbotapi.NewMessage(id, text)
	msg.ParseMode = tgbotapi.ModeHTML
	if _, err := b.api.Send(msg); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

func chatIDText(chatID int64) string {
	return fmt.Sprintf(
		"👋 <b>Selamat datang di BMKG Alert!</b>\n\n"+
			"Chat ID Anda: <code>%d</code>\n\n"+
			"Gunakan Chat ID ini untuk mendaftar trial notifikasi peringatan cuaca di dashboard BMKG Alert.",
		chatID)
}

// trialLabel joins the trial's subdistrict and district for display.
func trialLabel(t model.Trial) string {
	label := t.SubdistrictName
	if t.DistrictName != "" {
		label += ", " + t.DistrictName
	}
	return label
}

// TrialAlertText renders the compact warning message sent to a trial
// subscriber.
func TrialAlertText(w bmkg.Warning, t model.Trial) string {
	return fmt.Sprintf(
		"<b>Peringatan Cuaca — %s</b>\n"+
			"Severity: %s\n\n"+
			"Lokasi Anda: %s\n"+
			"Berlaku: %s\n"+
			"Hingga: %s\n\n"+
			"%s\n\n"+
			"<i>BMKG Alert — Trial Mode</i>",
		w.Event,
		model.ParseSeverity(w.Severity).Display(),
		trialLabel(t),
		orDash(w.Effective),
		orDash(w.Expires),
		truncate(w.Description, 300))
}

// TrialConfirmText renders the registration confirmation.
func TrialConfirmText(t model.Trial) string {
	return fmt.Sprintf(
		"<b>Trial BMKG Alert Aktif!</b>\n\n"+
			"Lokasi: %s\n"+
			"Severity: %s\n"+
			"Berlaku: %d jam\n\n"+
			"Anda akan menerima notifikasi peringatan cuaca BMKG untuk lokasi ini selama masa trial.\n\n"+
			"<i>BMKG Alert System</i>",
		trialLabel(t), t.Severity, int(model.TrialDuration.Hours()))
}

// TrialCancelledText renders the message sent when a trial is stopped
// from the dashboard.
func TrialCancelledText() string {
	return "<b>Trial BMKG Alert Dihentikan</b>\n\n" +
		"Trial Anda telah dihentikan. Terima kasih sudah mencoba BMKG Alert!\n\n" +
		"<i>BMKG Alert System</i>"
}

// TrialExpiredText renders the message sent when a trial runs out.
func TrialExpiredText() string {
	return fmt.Sprintf(
		"<b>Trial BMKG Alert Berakhir</b>\n\n"+
			"Trial %d jam Anda telah berakhir. Terima kasih sudah mencoba BMKG Alert!\n\n"+
			"Untuk mendapatkan notifikasi secara permanen, jalankan BMKG Alert System di server Anda sendiri.\n\n"+
			"<i>BMKG Alert System</i>",
		int(model.TrialDuration.Hours()))
}

// TrialTestText renders the reachability probe for the trial test button.
func TrialTestText() string {
	return "✅ <b>Pesan Tes — BMKG Alert</b>\n\n" +
		"Bot berhasil menghubungi Anda! Anda akan menerima notifikasi peringatan " +
		"cuaca BMKG secara otomatis ketika ada peringatan untuk lokasi yang dipilih.\n\n" +
		"<i>BMKG Alert System</i>"
}
