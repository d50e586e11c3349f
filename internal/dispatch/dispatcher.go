// Package dispatch fans matched alerts out to the enabled notification
// channels, applying the severity-threshold and quiet-hours policy.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"bmkg_alert/internal/model"
	"bmkg_alert/internal/notify"
	"bmkg_alert/internal/observability"
	"bmkg_alert/internal/storage"
)

// wib is the zone quiet hours are evaluated in. BMKG publishes for
// Indonesia, so the window is interpreted as western Indonesian time.
var wib = time.FixedZone("WIB", 7*60*60)

// Dispatcher routes alert notifications to the configured channel senders
// and records one delivery row per attempt.
type Dispatcher struct {
	store   *storage.SQLite
	senders map[model.ChannelType]notify.Sender
	clock   clockwork.Clock
	log     *slog.Logger
	metrics *observability.Metrics
}

// New creates a Dispatcher over the given store and sender registry.
func New(store *storage.SQLite, senders map[model.ChannelType]notify.Sender, log *slog.Logger, metrics *observability.Metrics) *Dispatcher {
	return &Dispatcher{
		store:   store,
		senders: senders,
		clock:   clockwork.NewRealClock(),
		log:     log,
		metrics: metrics,
	}
}

// SetClock replaces the wall clock, for tests.
func (d *Dispatcher) SetClock(c clockwork.Clock) {
	d.clock = c
}

// Dispatch sends a newly created alert to every enabled channel. Policy
// suppression is not an error: it returns no deliveries. One channel
// failing never blocks the others; every attempt is recorded.
func (d *Dispatcher) Dispatch(ctx context.Context, alert model.Alert, loc model.Location) ([]model.Delivery, error) {
	if reason := d.suppressed(ctx, alert.Severity); reason != "" {
		d.log.Info("dispatch suppressed", "alert_id", alert.ID, "reason", reason)
		return nil, nil
	}
	return d.fanOut(ctx, alert.ID, notify.AlertMessage(alert, loc))
}

// DispatchAllClear announces an expired alert through the same policy
// gates as the original notification.
func (d *Dispatcher) DispatchAllClear(ctx context.Context, alert model.Alert, loc model.Location) ([]model.Delivery, error) {
	if reason := d.suppressed(ctx, alert.Severity); reason != "" {
		d.log.Info("all-clear suppressed", "alert_id", alert.ID, "reason", reason)
		return nil, nil
	}
	return d.fanOut(ctx, alert.ID, notify.AllClearMessage(alert, loc))
}

// Test sends a synthetic message through one channel's regular send path.
// It updates the channel's status fields but writes no delivery rows.
func (d *Dispatcher) Test(ctx context.Context, channelID int64) (*model.Channel, error) {
	ch, err := d.store.GetChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}

	sendErr := d.send(ctx, *ch, notify.TestMessage())
	d.recordOutcome(ctx, *ch, sendErr)
	if sendErr != nil {
		return ch, sendErr
	}
	return ch, nil
}

// suppressed evaluates the dispatch policy once per alert. It returns a
// human-readable reason when the alert must not be sent, or "".
func (d *Dispatcher) suppressed(ctx context.Context, severity model.Severity) string {
	threshold, err := d.store.ConfigValue(ctx, "severity_threshold", "all")
	if err != nil {
		d.log.Error("failed to read severity threshold", "error", err)
		threshold = "all"
	}
	if threshold != "all" && !severity.AtLeast(model.ParseSeverity(threshold)) {
		return fmt.Sprintf("severity %s below threshold %s", severity, threshold)
	}

	if d.inQuietHours(ctx, severity) {
		return "quiet hours"
	}
	return ""
}

// inQuietHours reports whether the configured quiet window covers the
// current local time. Severe and extreme alerts bypass the window when
// the override flag is set.
func (d *Dispatcher) inQuietHours(ctx context.Context, severity model.Severity) bool {
	enabled, err := d.store.ConfigValue(ctx, "quiet_hours_enabled", "false")
	if err != nil || enabled != "true" {
		return false
	}

	override, err := d.store.ConfigValue(ctx, "quiet_hours_override_severe", "true")
	if err == nil && override == "true" && severity.AtLeast(model.SeveritySevere) {
		return false
	}

	startStr, err := d.store.ConfigValue(ctx, "quiet_hours_start", "22:00")
	if err != nil {
		return false
	}
	endStr, err := d.store.ConfigValue(ctx, "quiet_hours_end", "06:00")
	if err != nil {
		return false
	}

	start, ok := parseClock(startStr)
	if !ok {
		return false
	}
	end, ok := parseClock(endStr)
	if !ok {
		return false
	}

	local := d.clock.Now().In(wib)
	now := local.Hour()*60 + local.Minute()

	if start > end {
		// Overnight window, e.g. 22:00 to 06:00.
		return now >= start || now < end
	}
	return now >= start && now < end
}

// parseClock converts "HH:MM" to minutes since midnight.
func parseClock(s string) (int, bool) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}

// fanOut delivers msg to every enabled channel concurrently, then records
// the outcomes sequentially.
func (d *Dispatcher) fanOut(ctx context.Context, alertID int64, msg notify.Message) ([]model.Delivery, error) {
	channels, err := d.store.ListEnabledChannels(ctx)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	if len(channels) == 0 {
		return nil, nil
	}

	errs := make([]error, len(channels))
	var wg sync.WaitGroup
	for i, ch := range channels {
		i, ch := i, ch
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = d.send(ctx, ch, msg)
		}()
	}
	wg.Wait()

	sentAt := d.clock.Now().UTC()
	deliveries := make([]model.Delivery, 0, len(channels))
	for i, ch := range channels {
		delivery := model.Delivery{
			AlertID:   alertID,
			ChannelID: ch.ID,
			Status:    model.DeliverySent,
			SentAt:    sentAt,
		}
		if errs[i] != nil {
			delivery.Status = model.DeliveryFailed
			delivery.ErrorMessage = errs[i].Error()
			d.log.Error("notification failed",
				"alert_id", alertID, "channel_id", ch.ID, "channel_type", ch.Type, "error", errs[i])
		}
		if err := d.store.LogDelivery(ctx, &delivery); err != nil {
			d.log.Error("failed to record delivery",
				"alert_id", alertID, "channel_id", ch.ID, "error", err)
		}
		d.recordOutcome(ctx, ch, errs[i])
		deliveries = append(deliveries, delivery)
	}
	return deliveries, nil
}

// send routes one message to the sender for the channel's type. A missing
// sender is a configuration failure, not a panic.
func (d *Dispatcher) send(ctx context.Context, ch model.Channel, msg notify.Message) error {
	sender, ok := d.senders[ch.Type]
	if !ok {
		return fmt.Errorf("unsupported channel type %q", ch.Type)
	}
	return sender.Send(ctx, msg, ch.Config)
}

// recordOutcome updates the channel's last-success/last-error fields and
// the delivery counters.
func (d *Dispatcher) recordOutcome(ctx context.Context, ch model.Channel, sendErr error) {
	status := "sent"
	var successAt *time.Time
	lastError := ""

	if sendErr != nil {
		status = "failed"
		lastError = sendErr.Error()
	} else {
		now := d.clock.Now().UTC()
		successAt = &now
	}

	if err := d.store.UpdateChannelStatus(ctx, ch.ID, successAt, lastError); err != nil {
		d.log.Error("failed to update channel status", "channel_id", ch.ID, "error", err)
	}
	d.metrics.Deliveries.WithLabelValues(string(ch.Type), status).Inc()
}
