package api

import (
	"crypto/subtle"
	"net/http"

	"github.com/labstack/echo/v4"

	"bmkg_alert/internal/model"
)

// version is reported by the health endpoint.
const version = "1.0.0"

// Health reports component status for monitoring and the dashboard
// footer: engine state, feed reachability and headline counts.
func (c *Controller) Health(ctx echo.Context) error {
	rctx := ctx.Request().Context()
	now := c.clock.Now()

	st := c.eng.Status()
	engineState := "stopped"
	if st.Running {
		engineState = "running"
	}

	feedStatus := "unreachable"
	if c.feed.Healthy(rctx) {
		feedStatus = "connected"
	}

	activeWarnings, err := c.store.CountActiveAlerts(rctx)
	if err != nil {
		return c.handleError(ctx, err, "Failed to read alert counts", http.StatusInternalServerError)
	}
	locations, err := c.store.ListEnabledLocations(rctx)
	if err != nil {
		return c.handleError(ctx, err, "Failed to read locations", http.StatusInternalServerError)
	}
	channels, err := c.store.ListEnabledChannels(rctx)
	if err != nil {
		return c.handleError(ctx, err, "Failed to read channels", http.StatusInternalServerError)
	}
	trials, err := c.store.CountActiveTrials(rctx, now)
	if err != nil {
		return c.handleError(ctx, err, "Failed to read trials", http.StatusInternalServerError)
	}

	channelTypes := make([]model.ChannelType, 0, len(channels))
	for _, ch := range channels {
		channelTypes = append(channelTypes, ch.Type)
	}

	return ctx.JSON(http.StatusOK, map[string]any{
		"status":              "healthy",
		"engine":              engineState,
		"last_poll":           st.LastPoll,
		"last_poll_result":    st.LastPollResult,
		"active_warnings":     activeWarnings,
		"uptime_seconds":      int(now.Sub(c.started).Seconds()),
		"version":             version,
		"demo_mode":           c.cfg.DemoMode,
		"bmkg_api_url":        c.cfg.BMKGAPIURL,
		"bmkg_api_status":     feedStatus,
		"monitored_locations": len(locations),
		"active_channels":     channelTypes,
		"active_trials":       trials,
	})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login verifies the admin credentials. The frontend stores the password
// and replays it as X-Admin-Token on mutating requests in demo mode.
func (c *Controller) Login(ctx echo.Context) error {
	var req loginRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}

	userOK := subtle.ConstantTimeCompare([]byte(req.Username), []byte(c.cfg.AdminUsername)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(req.Password), []byte(c.cfg.AdminPassword)) == 1
	if !userOK || !passOK {
		return ctx.JSON(http.StatusUnauthorized, map[string]string{"error": "Invalid credentials"})
	}

	return ctx.JSON(http.StatusOK, map[string]any{
		"authenticated": true,
		"demo_mode":     c.cfg.DemoMode,
	})
}
