package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"bmkg_alert/internal/model"
	"bmkg_alert/internal/notify"
	"bmkg_alert/internal/observability"
	"bmkg_alert/internal/storage"
)

type fakeSender struct {
	mu    sync.Mutex
	calls []notify.Message
	err   error
}

func (f *fakeSender) Send(_ context.Context, msg notify.Message, _ json.RawMessage) error {
	f.mu.Lock()
	f.calls = append(f.calls, msg)
	f.mu.Unlock()
	return f.err
}

func (f *fakeSender) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeSender) lastKind() notify.Kind {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return ""
	}
	return f.calls[len(f.calls)-1].Kind
}

func newTestDispatcher(t *testing.T, senders map[model.ChannelType]notify.Sender) (*Dispatcher, *storage.SQLite) {
	t.Helper()
	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(store, senders, log, observability.NewMetricsForTesting()), store
}

func seedChannel(t *testing.T, store *storage.SQLite, typ model.ChannelType) int64 {
	t.Helper()
	ch := &model.Channel{Type: typ, Enabled: true, Config: json.RawMessage(`{}`)}
	if err := store.CreateChannel(context.Background(), ch); err != nil {
		t.Fatalf("create channel: %v", err)
	}
	return ch.ID
}

func seedAlert(t *testing.T, store *storage.SQLite, severity model.Severity) model.Alert {
	t.Helper()
	alert := model.Alert{
		Code:        "nowcast-20260217-001",
		Event:       "Hujan Lebat",
		Severity:    severity,
		Headline:    "Peringatan dini cuaca ekstrem",
		Description: "Waspada potensi hujan lebat di wilayah Wiradesa",
		Effective:   "2026-02-17T13:55:00+07:00",
		Expires:     "2026-02-17T19:55:00+07:00",
		LocationID:  1,
		MatchType:   model.MatchSubdistrict,
		MatchedText: "Wiradesa",
		Status:      model.AlertActive,
	}
	created, err := store.UpsertAlert(context.Background(), &alert)
	if err != nil {
		t.Fatalf("upsert alert: %v", err)
	}
	if !created {
		t.Fatal("expected alert to be created")
	}
	return alert
}

func sampleLocation() model.Location {
	return model.Location{
		ID:              1,
		Label:           "Rumah",
		SubdistrictCode: "33.26.09",
		SubdistrictName: "Wiradesa",
		DistrictName:    "Kab. Pekalongan",
		ProvinceName:    "Jawa Tengah",
		Enabled:         true,
	}
}

func TestDispatchFanOut(t *testing.T) {
	ctx := context.Background()

	okTelegram := &fakeSender{}
	failDiscord := &fakeSender{err: errors.New("boom")}
	okSlack := &fakeSender{}
	d, store := newTestDispatcher(t, map[model.ChannelType]notify.Sender{
		model.ChannelTelegram: okTelegram,
		model.ChannelDiscord:  failDiscord,
		model.ChannelSlack:    okSlack,
	})

	tgID := seedChannel(t, store, model.ChannelTelegram)
	dcID := seedChannel(t, store, model.ChannelDiscord)
	seedChannel(t, store, model.ChannelSlack)

	alert := seedAlert(t, store, model.SeveritySevere)
	deliveries, err := d.Dispatch(ctx, alert, sampleLocation())
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(deliveries) != 3 {
		t.Fatalf("got %d deliveries, want 3", len(deliveries))
	}

	var sent, failed int
	for _, del := range deliveries {
		switch del.Status {
		case model.DeliverySent:
			sent++
		case model.DeliveryFailed:
			failed++
			if del.ChannelID != dcID {
				t.Errorf("failure recorded for channel %d, want %d", del.ChannelID, dcID)
			}
			if del.ErrorMessage != "boom" {
				t.Errorf("error message = %q", del.ErrorMessage)
			}
		}
	}
	if sent != 2 || failed != 1 {
		t.Errorf("sent=%d failed=%d, want 2/1", sent, failed)
	}

	rows, err := store.ListDeliveries(ctx, alert.ID)
	if err != nil {
		t.Fatalf("list deliveries: %v", err)
	}
	if len(rows) != 3 {
		t.Errorf("persisted %d delivery rows, want 3", len(rows))
	}

	tg, err := store.GetChannel(ctx, tgID)
	if err != nil {
		t.Fatalf("get channel: %v", err)
	}
	if tg.LastSuccessAt == nil || tg.LastError != "" {
		t.Errorf("telegram status not recorded as success: %+v", tg)
	}

	dc, err := store.GetChannel(ctx, dcID)
	if err != nil {
		t.Fatalf("get channel: %v", err)
	}
	if dc.LastSuccessAt != nil || dc.LastError != "boom" {
		t.Errorf("discord status not recorded as failure: %+v", dc)
	}
}

func TestDispatchSeverityThreshold(t *testing.T) {
	ctx := context.Background()

	sender := &fakeSender{}
	d, store := newTestDispatcher(t, map[model.ChannelType]notify.Sender{
		model.ChannelTelegram: sender,
	})
	seedChannel(t, store, model.ChannelTelegram)

	if err := store.SetConfigValue(ctx, "severity_threshold", "severe"); err != nil {
		t.Fatalf("set config: %v", err)
	}

	below := seedAlert(t, store, model.SeverityModerate)
	deliveries, err := d.Dispatch(ctx, below, sampleLocation())
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(deliveries) != 0 || sender.callCount() != 0 {
		t.Errorf("moderate alert should be suppressed, got %d deliveries %d sends",
			len(deliveries), sender.callCount())
	}

	at := model.Alert{
		Code: "nowcast-20260217-002", Event: "Angin Kencang",
		Severity: model.SeveritySevere, LocationID: 1,
		MatchType: model.MatchSubdistrict, Status: model.AlertActive,
	}
	if _, err := store.UpsertAlert(ctx, &at); err != nil {
		t.Fatalf("upsert alert: %v", err)
	}
	deliveries, err = d.Dispatch(ctx, at, sampleLocation())
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(deliveries) != 1 || deliveries[0].Status != model.DeliverySent {
		t.Errorf("severe alert should pass the threshold, got %+v", deliveries)
	}
}

func TestDispatchQuietHours(t *testing.T) {
	ctx := context.Background()

	// 16:00 UTC is 23:00 WIB, inside the default 22:00-06:00 window.
	nightUTC := time.Date(2026, 2, 17, 16, 0, 0, 0, time.UTC)

	setup := func(t *testing.T) (*Dispatcher, *storage.SQLite, *fakeSender) {
		sender := &fakeSender{}
		d, store := newTestDispatcher(t, map[model.ChannelType]notify.Sender{
			model.ChannelTelegram: sender,
			model.ChannelDiscord:  sender,
		})
		seedChannel(t, store, model.ChannelTelegram)
		seedChannel(t, store, model.ChannelDiscord)
		if err := store.SetConfigValue(ctx, "quiet_hours_enabled", "true"); err != nil {
			t.Fatalf("set config: %v", err)
		}
		d.SetClock(clockwork.NewFakeClockAt(nightUTC))
		return d, store, sender
	}

	t.Run("moderate suppressed at night", func(t *testing.T) {
		d, store, sender := setup(t)
		alert := seedAlert(t, store, model.SeverityModerate)

		deliveries, err := d.Dispatch(ctx, alert, sampleLocation())
		if err != nil {
			t.Fatalf("dispatch: %v", err)
		}
		if len(deliveries) != 0 || sender.callCount() != 0 {
			t.Errorf("expected suppression, got %d deliveries", len(deliveries))
		}
	})

	t.Run("severe overrides quiet hours", func(t *testing.T) {
		d, store, sender := setup(t)
		alert := seedAlert(t, store, model.SeveritySevere)

		deliveries, err := d.Dispatch(ctx, alert, sampleLocation())
		if err != nil {
			t.Fatalf("dispatch: %v", err)
		}
		if len(deliveries) != 2 {
			t.Errorf("severe alert should reach all channels, got %d", len(deliveries))
		}
		if sender.callCount() != 2 {
			t.Errorf("sender called %d times, want 2", sender.callCount())
		}
	})

	t.Run("severe suppressed when override disabled", func(t *testing.T) {
		d, store, sender := setup(t)
		if err := store.SetConfigValue(ctx, "quiet_hours_override_severe", "false"); err != nil {
			t.Fatalf("set config: %v", err)
		}
		alert := seedAlert(t, store, model.SeveritySevere)

		deliveries, err := d.Dispatch(ctx, alert, sampleLocation())
		if err != nil {
			t.Fatalf("dispatch: %v", err)
		}
		if len(deliveries) != 0 || sender.callCount() != 0 {
			t.Errorf("expected suppression, got %d deliveries", len(deliveries))
		}
	})

	t.Run("moderate sent during the day", func(t *testing.T) {
		d, store, sender := setup(t)
		// 05:00 UTC is 12:00 WIB, outside the window.
		d.SetClock(clockwork.NewFakeClockAt(time.Date(2026, 2, 17, 5, 0, 0, 0, time.UTC)))
		alert := seedAlert(t, store, model.SeverityModerate)

		deliveries, err := d.Dispatch(ctx, alert, sampleLocation())
		if err != nil {
			t.Fatalf("dispatch: %v", err)
		}
		if len(deliveries) != 2 || sender.callCount() != 2 {
			t.Errorf("expected 2 deliveries during the day, got %d", len(deliveries))
		}
	})
}

func TestDispatchAllClear(t *testing.T) {
	ctx := context.Background()

	sender := &fakeSender{}
	d, store := newTestDispatcher(t, map[model.ChannelType]notify.Sender{
		model.ChannelTelegram: sender,
	})
	seedChannel(t, store, model.ChannelTelegram)

	alert := seedAlert(t, store, model.SeveritySevere)
	deliveries, err := d.DispatchAllClear(ctx, alert, sampleLocation())
	if err != nil {
		t.Fatalf("dispatch all clear: %v", err)
	}
	if len(deliveries) != 1 {
		t.Fatalf("got %d deliveries, want 1", len(deliveries))
	}
	if got := sender.lastKind(); got != notify.KindAllClear {
		t.Errorf("message kind = %q, want all_clear", got)
	}
}

func TestDispatchNoChannels(t *testing.T) {
	d, store := newTestDispatcher(t, map[model.ChannelType]notify.Sender{})
	alert := seedAlert(t, store, model.SeveritySevere)

	deliveries, err := d.Dispatch(context.Background(), alert, sampleLocation())
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if deliveries != nil {
		t.Errorf("expected no deliveries, got %v", deliveries)
	}
}

func TestDispatchUnsupportedChannelType(t *testing.T) {
	ctx := context.Background()

	d, store := newTestDispatcher(t, map[model.ChannelType]notify.Sender{})
	chID := seedChannel(t, store, model.ChannelTelegram)

	alert := seedAlert(t, store, model.SeveritySevere)
	deliveries, err := d.Dispatch(ctx, alert, sampleLocation())
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(deliveries) != 1 || deliveries[0].Status != model.DeliveryFailed {
		t.Fatalf("expected one failed delivery, got %+v", deliveries)
	}
	if !strings.Contains(deliveries[0].ErrorMessage, "unsupported channel type") {
		t.Errorf("error message = %q", deliveries[0].ErrorMessage)
	}

	ch, err := store.GetChannel(ctx, chID)
	if err != nil {
		t.Fatalf("get channel: %v", err)
	}
	if ch.LastError == "" {
		t.Error("channel last error should record the failure")
	}
}

func TestTest(t *testing.T) {
	ctx := context.Background()

	t.Run("success updates status without delivery rows", func(t *testing.T) {
		sender := &fakeSender{}
		d, store := newTestDispatcher(t, map[model.ChannelType]notify.Sender{
			model.ChannelTelegram: sender,
		})
		chID := seedChannel(t, store, model.ChannelTelegram)

		ch, err := d.Test(ctx, chID)
		if err != nil {
			t.Fatalf("test: %v", err)
		}
		if ch.Type != model.ChannelTelegram {
			t.Errorf("channel type = %q", ch.Type)
		}
		if got := sender.lastKind(); got != notify.KindTest {
			t.Errorf("message kind = %q, want test", got)
		}

		updated, err := store.GetChannel(ctx, chID)
		if err != nil {
			t.Fatalf("get channel: %v", err)
		}
		if updated.LastSuccessAt == nil {
			t.Error("last success not recorded")
		}
	})

	t.Run("failure surfaces the send error", func(t *testing.T) {
		sender := &fakeSender{err: errors.New("webhook status 404")}
		d, store := newTestDispatcher(t, map[model.ChannelType]notify.Sender{
			model.ChannelWebhook: sender,
		})
		chID := seedChannel(t, store, model.ChannelWebhook)

		if _, err := d.Test(ctx, chID); err == nil {
			t.Fatal("expected error")
		}

		updated, err := store.GetChannel(ctx, chID)
		if err != nil {
			t.Fatalf("get channel: %v", err)
		}
		if updated.LastError != "webhook status 404" {
			t.Errorf("last error = %q", updated.LastError)
		}
	})

	t.Run("unknown channel", func(t *testing.T) {
		d, _ := newTestDispatcher(t, map[model.ChannelType]notify.Sender{})
		if _, err := d.Test(ctx, 99); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		in   string
		want int
		ok   bool
	}{
		{"22:00", 22 * 60, true},
		{"06:30", 6*60 + 30, true},
		{"00:00", 0, true},
		{"25:00", 0, false},
		{"bogus", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseClock(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("parseClock(%q) = %d,%v want %d,%v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
