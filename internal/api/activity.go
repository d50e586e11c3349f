package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"bmkg_alert/internal/model"
)

// ListActivity returns the most recent activity log entries, newest
// first. The limit defaults to 50 and is capped at 200.
func (c *Controller) ListActivity(ctx echo.Context) error {
	limit := intQuery(ctx, "limit", 50)
	if limit < 1 {
		limit = 1
	}
	if limit > 200 {
		limit = 200
	}

	entries, err := c.store.ListActivity(ctx.Request().Context(), limit)
	if err != nil {
		return c.handleError(ctx, err, "Failed to list activity", http.StatusInternalServerError)
	}
	if entries == nil {
		entries = []model.ActivityEntry{}
	}
	return ctx.JSON(http.StatusOK, map[string]any{"data": entries})
}
