package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"bmkg_alert/internal/model"
)

func (c *Controller) configRoutes(g *echo.Group) {
	g.GET("", c.GetConfig)
	g.PUT("", c.UpdateConfig, c.requireWrite)
	g.POST("/export", c.ExportConfig)
	g.POST("/import", c.ImportConfig, c.requireWrite)
	g.POST("/reset", c.ResetConfig, c.requireWrite)
}

// configDefaults are the values written by reset, matching the rows the
// initial migration seeds.
func configDefaults() map[string]string {
	return map[string]string{
		"setup_completed":             "false",
		"bmkg_api_url":                "https://bmkg-restapi.vercel.app",
		"poll_interval":               "300",
		"severity_threshold":          "all",
		"quiet_hours_enabled":         "false",
		"quiet_hours_start":           "22:00",
		"quiet_hours_end":             "06:00",
		"quiet_hours_override_severe": "true",
		"notification_language":       "id",
	}
}

// GetConfig returns every runtime configuration value.
func (c *Controller) GetConfig(ctx echo.Context) error {
	values, err := c.store.AllConfig(ctx.Request().Context())
	if err != nil {
		return c.handleError(ctx, err, "Failed to read config", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, map[string]any{"data": values})
}

type configUpdateRequest struct {
	Settings map[string]string `json:"settings"`
}

// UpdateConfig upserts the given keys and returns the full config.
func (c *Controller) UpdateConfig(ctx echo.Context) error {
	var req configUpdateRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}

	rctx := ctx.Request().Context()
	for key, value := range req.Settings {
		if err := c.store.SetConfigValue(rctx, key, value); err != nil {
			return c.handleError(ctx, err, "Failed to update config", http.StatusInternalServerError)
		}
	}

	values, err := c.store.AllConfig(rctx)
	if err != nil {
		return c.handleError(ctx, err, "Failed to read config", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, map[string]any{"data": values})
}

// ExportConfig dumps config, locations and channels as one JSON document
// for backup or migration to a self-hosted instance.
func (c *Controller) ExportConfig(ctx echo.Context) error {
	rctx := ctx.Request().Context()

	values, err := c.store.AllConfig(rctx)
	if err != nil {
		return c.handleError(ctx, err, "Failed to read config", http.StatusInternalServerError)
	}
	locations, err := c.store.ListLocations(rctx)
	if err != nil {
		return c.handleError(ctx, err, "Failed to list locations", http.StatusInternalServerError)
	}
	if locations == nil {
		locations = []model.Location{}
	}
	channels, err := c.store.ListChannels(rctx)
	if err != nil {
		return c.handleError(ctx, err, "Failed to list channels", http.StatusInternalServerError)
	}
	if channels == nil {
		channels = []model.Channel{}
	}

	return ctx.JSON(http.StatusOK, map[string]any{
		"config":    values,
		"locations": locations,
		"channels":  channels,
	})
}

type configImportRequest struct {
	Config map[string]string `json:"config"`
}

// ImportConfig applies the config section of an exported document.
// Locations and channels are intentionally not imported; they reference
// credentials the user should re-enter.
func (c *Controller) ImportConfig(ctx echo.Context) error {
	var req configImportRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}

	rctx := ctx.Request().Context()
	for key, value := range req.Config {
		if err := c.store.SetConfigValue(rctx, key, value); err != nil {
			return c.handleError(ctx, err, "Failed to import config", http.StatusInternalServerError)
		}
	}
	return ctx.JSON(http.StatusOK, map[string]string{"status": "imported"})
}

// ResetConfig restores every configuration key to its default.
func (c *Controller) ResetConfig(ctx echo.Context) error {
	rctx := ctx.Request().Context()
	defaults := configDefaults()
	for key, value := range defaults {
		if err := c.store.SetConfigValue(rctx, key, value); err != nil {
			return c.handleError(ctx, err, "Failed to reset config", http.StatusInternalServerError)
		}
	}
	return ctx.JSON(http.StatusOK, map[string]any{"data": defaults})
}
