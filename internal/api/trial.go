package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"bmkg_alert/internal/model"
	"bmkg_alert/internal/notify"
	"bmkg_alert/internal/storage"
)

// maxTrialsPerIP caps trial registrations per source IP per hour.
const maxTrialsPerIP = 5

func (c *Controller) trialRoutes(g *echo.Group) {
	g.POST("/register", c.RegisterTrial)
	g.GET("/status/:chat_id", c.TrialStatus)
	g.GET("/bot-info", c.BotInfo)
	g.DELETE("/:id", c.CancelTrial)
	g.POST("/:id/test-message", c.TrialTestMessage)
}

// sendTrialMessage delivers text over the system bot, reporting false
// when no bot is configured or the send fails.
func (c *Controller) sendTrialMessage(chatID, text string) bool {
	if c.trials == nil {
		c.log.Warn("trial message skipped, no bot configured", "chat_id", chatID)
		return false
	}
	if err := c.trials.SendMessage(chatID, text); err != nil {
		c.log.Error("trial message failed", "chat_id", chatID, "error", err)
		return false
	}
	return true
}

type trialRegisterRequest struct {
	ChatID       string `json:"chat_id"`
	LocationCode string `json:"location_code"`
	LocationName string `json:"location_name"`
	DistrictName string `json:"district_name"`
	ProvinceName string `json:"province_name"`
	SeverityMin  string `json:"severity_min"`
}

// RegisterTrial opens a 24-hour Telegram trial subscription for a demo
// visitor. One active trial per chat, at most five registrations per IP
// per hour.
func (c *Controller) RegisterTrial(ctx echo.Context) error {
	var req trialRegisterRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}

	chatID := strings.TrimSpace(req.ChatID)
	if chatID == "" {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Chat ID tidak boleh kosong"})
	}
	if strings.TrimSpace(req.LocationCode) == "" {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Kode lokasi tidak boleh kosong"})
	}
	if req.SeverityMin == "" {
		req.SeverityMin = "all"
	}

	rctx := ctx.Request().Context()
	now := c.clock.Now()

	_, err := c.store.ActiveTrialByChat(rctx, chatID, now)
	if err == nil {
		return ctx.JSON(http.StatusConflict, map[string]string{
			"error": "Anda sudah memiliki trial aktif. Tunggu hingga berakhir atau hentikan terlebih dahulu.",
		})
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return c.handleError(ctx, err, "Failed to check existing trial", http.StatusInternalServerError)
	}

	ip := ctx.RealIP()
	count, err := c.store.CountTrialRegistrations(rctx, ip, now.Add(-time.Hour))
	if err != nil {
		return c.handleError(ctx, err, "Failed to check registration rate", http.StatusInternalServerError)
	}
	if count >= maxTrialsPerIP {
		return ctx.JSON(http.StatusTooManyRequests, map[string]string{
			"error": "Terlalu banyak registrasi dari IP ini. Coba lagi nanti.",
		})
	}

	trial := model.Trial{
		ChatID:          chatID,
		SubdistrictCode: strings.TrimSpace(req.LocationCode),
		SubdistrictName: req.LocationName,
		DistrictName:    req.DistrictName,
		ProvinceName:    req.ProvinceName,
		Severity:        req.SeverityMin,
		RegisteredAt:    now,
		ExpiresAt:       now.Add(model.TrialDuration),
		IPAddress:       ip,
	}
	if err := c.store.CreateTrial(rctx, &trial); err != nil {
		return c.handleError(ctx, err, "Failed to register trial", http.StatusInternalServerError)
	}

	c.sendTrialMessage(chatID, notify.TrialConfirmText(trial))

	label := trial.SubdistrictName
	if trial.DistrictName != "" {
		label += ", " + trial.DistrictName
	}
	msg := fmt.Sprintf("Trial registered for chat %s: %s", chatID, label)
	if err := c.store.LogActivity(rctx, "trial_registered", msg, ""); err != nil {
		c.log.Error("failed to log activity", "error", err)
	}

	return ctx.JSON(http.StatusOK, map[string]any{
		"success":    true,
		"id":         trial.ID,
		"expires_at": trial.ExpiresAt,
	})
}

// TrialStatus reports the active trial for a chat ID, if any.
func (c *Controller) TrialStatus(ctx echo.Context) error {
	chatID := ctx.Param("chat_id")

	trial, err := c.store.ActiveTrialByChat(ctx.Request().Context(), chatID, c.clock.Now())
	if errors.Is(err, storage.ErrNotFound) {
		return ctx.JSON(http.StatusOK, map[string]any{"active": false})
	}
	if err != nil {
		return c.handleError(ctx, err, "Failed to load trial", http.StatusInternalServerError)
	}

	return ctx.JSON(http.StatusOK, map[string]any{
		"active":        true,
		"id":            trial.ID,
		"location_code": trial.SubdistrictCode,
		"location_name": trial.SubdistrictName,
		"district_name": trial.DistrictName,
		"province_name": trial.ProvinceName,
		"severity_min":  trial.Severity,
		"registered_at": trial.RegisteredAt,
		"expires_at":    trial.ExpiresAt,
	})
}

// CancelTrial expires a trial immediately and tells the subscriber.
func (c *Controller) CancelTrial(ctx echo.Context) error {
	id, err := idParam(ctx)
	if err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid trial id"})
	}

	rctx := ctx.Request().Context()
	trial, err := c.store.GetTrial(rctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return ctx.JSON(http.StatusNotFound, map[string]string{"error": "Trial tidak ditemukan"})
	}
	if err != nil {
		return c.handleError(ctx, err, "Failed to load trial", http.StatusInternalServerError)
	}

	if err := c.store.EndTrial(rctx, id, c.clock.Now()); err != nil {
		return c.handleError(ctx, err, "Failed to cancel trial", http.StatusInternalServerError)
	}

	c.sendTrialMessage(trial.ChatID, notify.TrialCancelledText())

	msg := fmt.Sprintf("Trial cancelled for chat %s", trial.ChatID)
	if err := c.store.LogActivity(rctx, "trial_cancelled", msg, ""); err != nil {
		c.log.Error("failed to log activity", "error", err)
	}

	return ctx.JSON(http.StatusOK, map[string]any{"success": true})
}

// BotInfo tells the dashboard which bot visitors should /start to learn
// their chat ID.
func (c *Controller) BotInfo(ctx echo.Context) error {
	if c.trials == nil {
		return ctx.JSON(http.StatusOK, map[string]any{"available": false})
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"available": true,
		"username":  c.trials.Username(),
	})
}

// TrialTestMessage sends a reachability probe so the subscriber can
// verify the bot reaches them before a real warning does.
func (c *Controller) TrialTestMessage(ctx echo.Context) error {
	id, err := idParam(ctx)
	if err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid trial id"})
	}

	trial, err := c.store.GetTrial(ctx.Request().Context(), id)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && !trial.ExpiresAt.After(c.clock.Now())) {
		return ctx.JSON(http.StatusNotFound, map[string]string{
			"error": "Trial tidak ditemukan atau sudah berakhir",
		})
	}
	if err != nil {
		return c.handleError(ctx, err, "Failed to load trial", http.StatusInternalServerError)
	}

	if !c.sendTrialMessage(trial.ChatID, notify.TrialTestText()) {
		return ctx.JSON(http.StatusBadGateway, map[string]string{
			"error": "Gagal mengirim pesan. Pastikan Anda sudah mengirim /start ke bot kami di Telegram sebelum mendaftar trial.",
		})
	}
	return ctx.JSON(http.StatusOK, map[string]any{"success": true})
}
