// Package engine runs the background polling loop that turns BMKG warnings
// into stored alerts and notifications.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"bmkg_alert/internal/bmkg"
	"bmkg_alert/internal/dispatch"
	"bmkg_alert/internal/matcher"
	"bmkg_alert/internal/model"
	"bmkg_alert/internal/notify"
	"bmkg_alert/internal/observability"
	"bmkg_alert/internal/storage"
)

// ErrCycleInFlight is returned by CheckNow while another cycle is running.
// Overlapping triggers are dropped, never queued.
var ErrCycleInFlight = errors.New("a poll cycle is already running")

const (
	defaultPollInterval = 5 * time.Minute
	minPollInterval     = time.Minute
)

// TrialSender delivers trial notifications over the system Telegram bot.
type TrialSender interface {
	SendMessage(chatID string, text string) error
}

// Summary counts what one poll cycle did.
type Summary struct {
	WarningsFetched    int      `json:"warnings_fetched"`
	DetailsFetched     int      `json:"details_fetched"`
	MatchesFound       int      `json:"matches_found"`
	NewAlerts          int      `json:"new_alerts"`
	DuplicatesSkipped  int      `json:"duplicates_skipped"`
	NotificationsSent  int      `json:"notifications_sent"`
	ExpiredAlerts      int      `json:"expired_alerts"`
	TrialNotifications int      `json:"trial_notifications"`
	TrialsExpired      int      `json:"trials_expired"`
	Errors             []string `json:"errors"`
}

// Status is the engine state reported to the dashboard.
type Status struct {
	Running        bool       `json:"running"`
	LastPoll       *time.Time `json:"last_poll"`
	LastPollResult string     `json:"last_poll_result"`
}

// Engine owns the poll loop state machine. At most one cycle runs at a
// time; triggers that arrive while a cycle is in flight are dropped.
type Engine struct {
	store   *storage.SQLite
	feed    *bmkg.Client
	disp    *dispatch.Dispatcher
	trials  TrialSender
	clock   clockwork.Clock
	log     *slog.Logger
	metrics *observability.Metrics

	mu             sync.Mutex
	running        bool
	stopCh         chan struct{}
	lastPoll       *time.Time
	lastPollResult string

	// cycleMu serializes cycles. TryLock makes overlapping triggers
	// no-ops instead of queued work.
	cycleMu sync.Mutex
}

// New creates an Engine in the stopped state.
func New(store *storage.SQLite, feed *bmkg.Client, disp *dispatch.Dispatcher, log *slog.Logger, metrics *observability.Metrics) *Engine {
	return &Engine{
		store:   store,
		feed:    feed,
		disp:    disp,
		clock:   clockwork.NewRealClock(),
		log:     log,
		metrics: metrics,
	}
}

// SetClock replaces the wall clock. Call before Start; for tests.
func (e *Engine) SetClock(c clockwork.Clock) {
	e.clock = c
}

// SetTrialSender wires the Telegram bot used for trial notifications.
// Without one, trial subscribers are matched but never messaged.
func (e *Engine) SetTrialSender(s TrialSender) {
	e.trials = s
}

// Start launches the polling loop. Starting a running engine is a no-op.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		e.log.Warn("engine already running")
		return
	}
	e.running = true
	e.stopCh = make(chan struct{})
	stopCh := e.stopCh
	e.mu.Unlock()

	go e.loop(stopCh)

	e.metrics.EngineRunning.Set(1)
	if err := e.store.LogActivity(ctx, "engine_started", "Alert engine started", ""); err != nil {
		e.log.Error("failed to log activity", "error", err)
	}
	e.log.Info("engine started")
}

// Stop halts the polling loop. An in-flight cycle completes; stopping a
// stopped engine is a no-op.
func (e *Engine) Stop(ctx context.Context) {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.stopCh)
	e.mu.Unlock()

	e.metrics.EngineRunning.Set(0)
	if err := e.store.LogActivity(ctx, "engine_stopped", "Alert engine stopped", ""); err != nil {
		e.log.Error("failed to log activity", "error", err)
	}
	e.log.Info("engine stopped")
}

// CheckNow runs one cycle out-of-band without touching the schedule. It
// works whether or not the loop is running.
func (e *Engine) CheckNow(ctx context.Context) (*Summary, error) {
	if !e.cycleMu.TryLock() {
		return nil, ErrCycleInFlight
	}
	defer e.cycleMu.Unlock()
	return e.runCycle(ctx), nil
}

// Status reports the current state and the outcome of the latest cycle.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		Running:        e.running,
		LastPoll:       e.lastPoll,
		LastPollResult: e.lastPollResult,
	}
}

func (e *Engine) loop(stopCh chan struct{}) {
	ctx := context.Background()
	e.cycle(ctx)

	for {
		select {
		case <-stopCh:
			return
		case <-e.clock.After(e.pollInterval(ctx)):
			e.cycle(ctx)
		}
	}
}

// cycle runs one poll unless another cycle is already in flight, in which
// case the trigger is dropped.
func (e *Engine) cycle(ctx context.Context) {
	if !e.cycleMu.TryLock() {
		e.log.Warn("poll cycle already in flight, trigger dropped")
		return
	}
	defer e.cycleMu.Unlock()
	e.runCycle(ctx)
}

// pollInterval reads the configured cycle interval, enforcing a floor so a
// misconfigured value cannot hammer the feed.
func (e *Engine) pollInterval(ctx context.Context) time.Duration {
	raw, err := e.store.ConfigValue(ctx, "poll_interval", "300")
	if err != nil {
		e.log.Error("failed to read poll interval", "error", err)
		return defaultPollInterval
	}
	secs, err := strconv.Atoi(raw)
	if err != nil {
		e.log.Warn("invalid poll interval", "value", raw)
		return defaultPollInterval
	}
	interval := time.Duration(secs) * time.Second
	if interval < minPollInterval {
		return minPollInterval
	}
	return interval
}

// fetchedWarning pairs a warning with the nowcast code it was listed
// under. The code, not the warning identifier, is the deduplication key.
type fetchedWarning struct {
	code    string
	warning bmkg.Warning
}

func (e *Engine) runCycle(ctx context.Context) *Summary {
	started := e.clock.Now().UTC()
	e.mu.Lock()
	e.lastPoll = &started
	e.mu.Unlock()

	defer func() {
		e.metrics.PollDuration.Observe(e.clock.Since(started).Seconds())
	}()

	summary := &Summary{Errors: []string{}}
	e.log.Info("poll cycle started")

	items, err := e.feed.NowcastList(ctx)
	if err != nil {
		return e.failCycle(ctx, summary, fmt.Errorf("fetch nowcast list: %w", err))
	}
	summary.WarningsFetched = len(items)

	// Expiry is absence-based: codes present in this fetch stay active.
	// The list is authoritative so a failed detail fetch does not expire
	// an alert the feed still reports.
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		seen[item.Code] = true
	}

	locations, err := e.store.ListEnabledLocations(ctx)
	if err != nil {
		return e.failCycle(ctx, summary, fmt.Errorf("list locations: %w", err))
	}

	now := e.clock.Now().UTC()
	trials, err := e.store.ListActiveTrials(ctx, now)
	if err != nil {
		summary.Errors = append(summary.Errors, err.Error())
		trials = nil
	}

	var fetched []fetchedWarning
	if len(locations) > 0 || (e.trials != nil && len(trials) > 0) {
		fetched = e.fetchDetails(ctx, items, summary)
	}

	e.matchAndDispatch(ctx, fetched, locations, summary)
	e.sweepExpired(ctx, seen, summary)
	summary.TrialNotifications = e.notifyTrials(ctx, fetched, trials, summary)
	summary.TrialsExpired = e.expireTrials(ctx, summary)

	result := fmt.Sprintf("OK: %d new, %d dupes, %d expired",
		summary.NewAlerts, summary.DuplicatesSkipped, summary.ExpiredAlerts)
	activityMsg := result
	switch {
	case len(items) == 0 && summary.ExpiredAlerts == 0:
		result = "no warnings"
		activityMsg = "No active warnings found"
	case len(locations) == 0:
		result = "no locations configured"
		activityMsg = result
	}
	e.setResult(result)

	details, _ := json.Marshal(summary)
	if err := e.store.LogActivity(ctx, "poll_completed", activityMsg, string(details)); err != nil {
		e.log.Error("failed to log activity", "error", err)
	}

	e.metrics.PollCycles.WithLabelValues("ok").Inc()
	e.log.Info("poll cycle complete",
		"duration_ms", e.clock.Since(started).Milliseconds(),
		"warnings_fetched", summary.WarningsFetched,
		"new_alerts", summary.NewAlerts,
		"duplicates_skipped", summary.DuplicatesSkipped,
		"notifications_sent", summary.NotificationsSent,
		"expired_alerts", summary.ExpiredAlerts,
		"trial_notifications", summary.TrialNotifications,
		"errors", len(summary.Errors),
	)
	return summary
}

// failCycle records a cycle-level failure. Persisted alert state is left
// untouched; the next scheduled cycle retries naturally.
func (e *Engine) failCycle(ctx context.Context, summary *Summary, err error) *Summary {
	summary.Errors = append(summary.Errors, err.Error())
	e.setResult(fmt.Sprintf("error: %v", err))
	e.metrics.PollCycles.WithLabelValues("error").Inc()
	e.log.Error("poll cycle failed", "error", err)
	if logErr := e.store.LogActivity(ctx, "poll_error", fmt.Sprintf("Poll cycle failed: %v", err), ""); logErr != nil {
		e.log.Error("failed to log activity", "error", logErr)
	}
	return summary
}

func (e *Engine) setResult(result string) {
	e.mu.Lock()
	e.lastPollResult = result
	e.mu.Unlock()
}

// fetchDetails pulls the warning details for every listed nowcast. A
// failed detail fetch is recorded and skipped, never fatal.
func (e *Engine) fetchDetails(ctx context.Context, items []bmkg.ListItem, summary *Summary) []fetchedWarning {
	var fetched []fetchedWarning
	for _, item := range items {
		detail, err := e.feed.NowcastDetail(ctx, item.Code)
		if err != nil {
			e.log.Error("detail fetch failed", "code", item.Code, "error", err)
			summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", item.Code, err))
			continue
		}
		summary.DetailsFetched++
		for _, w := range detail.Warnings {
			fetched = append(fetched, fetchedWarning{code: item.Code, warning: w})
		}
	}
	return fetched
}

// matchAndDispatch runs the matcher over every fetched warning, stores new
// (warning, location) pairs, and dispatches notifications for them.
// Warnings the feed already marks expired are skipped rather than created
// as momentarily active alerts.
func (e *Engine) matchAndDispatch(ctx context.Context, fetched []fetchedWarning, locations []model.Location, summary *Summary) {
	if len(locations) == 0 {
		return
	}

	for _, fw := range fetched {
		if fw.warning.IsExpired {
			continue
		}

		results := matcher.Match(fw.warning.Areas, locations)
		summary.MatchesFound += len(results)

		for _, res := range results {
			alert := buildAlert(fw.code, fw.warning, res)
			created, err := e.store.UpsertAlert(ctx, &alert)
			if err != nil {
				e.log.Error("failed to store alert", "code", fw.code, "location_id", res.Location.ID, "error", err)
				summary.Errors = append(summary.Errors, err.Error())
				continue
			}
			if !created {
				summary.DuplicatesSkipped++
				e.metrics.AlertsDuplicate.Inc()
				continue
			}

			summary.NewAlerts++
			e.metrics.AlertsCreated.Inc()
			e.log.Info("alert created",
				"alert_id", alert.ID, "code", fw.code, "event", alert.Event,
				"location_id", res.Location.ID, "match_type", alert.MatchType)

			deliveries, err := e.disp.Dispatch(ctx, alert, res.Location)
			if err != nil {
				summary.Errors = append(summary.Errors, err.Error())
				continue
			}
			for _, del := range deliveries {
				if del.Status == model.DeliverySent {
					summary.NotificationsSent++
				} else {
					summary.Errors = append(summary.Errors, del.ErrorMessage)
				}
			}
		}
	}
}

// sweepExpired transitions stale alerts to expired and sends each one's
// all-clear exactly once. The notified flag is set even when every channel
// fails, so an alert never announces its expiry twice.
func (e *Engine) sweepExpired(ctx context.Context, seen map[string]bool, summary *Summary) {
	expired, err := e.store.SweepExpired(ctx, e.clock.Now().UTC(), seen)
	if err != nil {
		e.log.Error("expiry sweep failed", "error", err)
		summary.Errors = append(summary.Errors, err.Error())
		return
	}
	summary.ExpiredAlerts = len(expired)

	for _, alert := range expired {
		e.metrics.AlertsExpired.Inc()
		if alert.ExpiredNotified {
			continue
		}

		loc, err := e.store.GetLocation(ctx, alert.LocationID)
		if err != nil {
			e.log.Error("failed to load location for all-clear", "alert_id", alert.ID, "error", err)
			summary.Errors = append(summary.Errors, err.Error())
			continue
		}
		if _, err := e.disp.DispatchAllClear(ctx, alert, *loc); err != nil {
			summary.Errors = append(summary.Errors, err.Error())
		}
		if err := e.store.MarkExpiredNotified(ctx, alert.ID); err != nil {
			e.log.Error("failed to mark expired notified", "alert_id", alert.ID, "error", err)
			summary.Errors = append(summary.Errors, err.Error())
		}
	}
}

// notifyTrials messages trial subscribers whose location appears in a
// fetched warning. Trials are not deduplicated; each cycle re-sends while
// the warning stays published.
func (e *Engine) notifyTrials(ctx context.Context, fetched []fetchedWarning, trials []model.Trial, summary *Summary) int {
	if e.trials == nil || len(trials) == 0 {
		return 0
	}

	sent := 0
	for _, fw := range fetched {
		if fw.warning.IsExpired {
			continue
		}
		severity := model.ParseSeverity(fw.warning.Severity)

		for _, trial := range trials {
			if trial.Severity != "" && trial.Severity != "all" &&
				!severity.AtLeast(model.ParseSeverity(trial.Severity)) {
				continue
			}
			if !matcher.TrialMatch(fw.warning, trial) {
				continue
			}

			if err := e.trials.SendMessage(trial.ChatID, notify.TrialAlertText(fw.warning, trial)); err != nil {
				e.log.Error("trial notification failed", "chat_id", trial.ChatID, "error", err)
				summary.Errors = append(summary.Errors, err.Error())
				continue
			}
			sent++
			e.metrics.TrialNotifications.Inc()
		}
	}
	return sent
}

// expireTrials closes trials past their expiry and tells each subscriber.
func (e *Engine) expireTrials(ctx context.Context, summary *Summary) int {
	expired, err := e.store.ExpireTrials(ctx, e.clock.Now().UTC())
	if err != nil {
		e.log.Error("trial expiry failed", "error", err)
		summary.Errors = append(summary.Errors, err.Error())
		return 0
	}
	if len(expired) == 0 {
		return 0
	}

	if e.trials != nil {
		for _, trial := range expired {
			if err := e.trials.SendMessage(trial.ChatID, notify.TrialExpiredText()); err != nil {
				e.log.Error("trial expiry notice failed", "chat_id", trial.ChatID, "error", err)
			}
		}
	}
	e.log.Info("trials expired", "count", len(expired))
	return len(expired)
}

func buildAlert(code string, w bmkg.Warning, res matcher.Result) model.Alert {
	return model.Alert{
		Code:           code,
		Event:          w.Event,
		Severity:       model.ParseSeverity(w.Severity),
		Urgency:        w.Urgency,
		Certainty:      w.Certainty,
		Headline:       w.Headline,
		Description:    w.Description,
		Effective:      w.Effective,
		Expires:        w.Expires,
		InfographicURL: w.InfographicURL,
		PolygonData:    polygonJSON(w.Areas),
		LocationID:     res.Location.ID,
		MatchType:      res.Type,
		MatchedText:    res.MatchedText,
		Status:         model.AlertActive,
	}
}

type polygonArea struct {
	Name    string      `json:"name"`
	Polygon [][]float64 `json:"polygon"`
}

// polygonJSON serializes the affected areas for storage and map rendering.
func polygonJSON(areas []bmkg.Area) string {
	out := make([]polygonArea, len(areas))
	for i, a := range areas {
		out[i] = polygonArea{Name: a.Name, Polygon: a.Polygon}
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "[]"
	}
	return string(b)
}
