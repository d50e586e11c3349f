package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"bmkg_alert/internal/model"
	"bmkg_alert/internal/notify"
	"bmkg_alert/internal/storage"
)

func (c *Controller) channelRoutes(g *echo.Group) {
	g.GET("", c.ListChannels)
	g.POST("", c.CreateChannel, c.requireWrite)
	g.GET("/:id", c.GetChannel)
	g.PUT("/:id", c.UpdateChannel, c.requireWrite)
	g.DELETE("/:id", c.DeleteChannel, c.requireWrite)
	g.POST("/:id/test", c.TestChannel, c.requireWrite)
}

// ListChannels returns all notification channels.
func (c *Controller) ListChannels(ctx echo.Context) error {
	channels, err := c.store.ListChannels(ctx.Request().Context())
	if err != nil {
		return c.handleError(ctx, err, "Failed to list channels", http.StatusInternalServerError)
	}
	if channels == nil {
		channels = []model.Channel{}
	}
	return ctx.JSON(http.StatusOK, map[string]any{"data": channels})
}

type channelCreateRequest struct {
	Type    model.ChannelType `json:"channel_type"`
	Enabled *bool             `json:"enabled"`
	Config  json.RawMessage   `json:"config"`
}

// CreateChannel adds a notification channel after validating its config
// against the transport's required fields.
func (c *Controller) CreateChannel(ctx echo.Context) error {
	var req channelCreateRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	if err := notify.ValidateConfig(req.Type, req.Config); err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	ch := model.Channel{
		Type:    req.Type,
		Enabled: enabled,
		Config:  req.Config,
	}
	if err := c.store.CreateChannel(ctx.Request().Context(), &ch); err != nil {
		return c.handleError(ctx, err, "Failed to create channel", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusCreated, map[string]any{"data": ch})
}

// GetChannel returns one channel.
func (c *Controller) GetChannel(ctx echo.Context) error {
	id, err := idParam(ctx)
	if err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid channel id"})
	}

	ch, err := c.store.GetChannel(ctx.Request().Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		return ctx.JSON(http.StatusNotFound, map[string]string{"error": "Channel not found"})
	}
	if err != nil {
		return c.handleError(ctx, err, "Failed to load channel", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, map[string]any{"data": ch})
}

type channelUpdateRequest struct {
	Enabled *bool           `json:"enabled"`
	Config  json.RawMessage `json:"config"`
}

// UpdateChannel changes a channel's enabled flag or config. Absent fields
// keep their value; a new config is validated before it is stored.
func (c *Controller) UpdateChannel(ctx echo.Context) error {
	id, err := idParam(ctx)
	if err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid channel id"})
	}

	var req channelUpdateRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}

	rctx := ctx.Request().Context()
	ch, err := c.store.GetChannel(rctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return ctx.JSON(http.StatusNotFound, map[string]string{"error": "Channel not found"})
	}
	if err != nil {
		return c.handleError(ctx, err, "Failed to load channel", http.StatusInternalServerError)
	}

	if req.Enabled != nil {
		ch.Enabled = *req.Enabled
	}
	if req.Config != nil {
		if err := notify.ValidateConfig(ch.Type, req.Config); err != nil {
			return ctx.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		ch.Config = req.Config
	}

	if err := c.store.UpdateChannel(rctx, ch); err != nil {
		return c.handleError(ctx, err, "Failed to update channel", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, map[string]any{"data": ch})
}

// DeleteChannel removes a notification channel.
func (c *Controller) DeleteChannel(ctx echo.Context) error {
	id, err := idParam(ctx)
	if err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid channel id"})
	}

	err = c.store.DeleteChannel(ctx.Request().Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		return ctx.JSON(http.StatusNotFound, map[string]string{"error": "Channel not found"})
	}
	if err != nil {
		return c.handleError(ctx, err, "Failed to delete channel", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, map[string]any{"status": "deleted", "id": id})
}

// TestChannel sends a synthetic notification through one channel so the
// user can verify its config before a real warning arrives.
func (c *Controller) TestChannel(ctx echo.Context) error {
	id, err := idParam(ctx)
	if err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid channel id"})
	}

	ch, err := c.tester.Test(ctx.Request().Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		return ctx.JSON(http.StatusNotFound, map[string]string{"error": "Channel not found"})
	}
	if err != nil {
		return c.handleError(ctx, err, "Failed to send test notification", http.StatusBadGateway)
	}
	return ctx.JSON(http.StatusOK, map[string]any{"status": "sent", "channel_type": ch.Type})
}
