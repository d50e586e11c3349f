package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"bmkg_alert/internal/geometry"
	"bmkg_alert/internal/model"
	"bmkg_alert/internal/storage"
)

func (c *Controller) alertRoutes(g *echo.Group) {
	g.GET("", c.ListAlerts)
	g.GET("/active", c.ActiveAlerts)
	g.GET("/stats", c.AlertStats)
	g.GET("/:id", c.GetAlert)
}

// alertPayload renders an Alert with polygon_data decoded from its stored
// string, so the dashboard map receives a JSON structure instead of a
// quoted blob.
type alertPayload struct {
	model.Alert
	PolygonData json.RawMessage `json:"polygon_data,omitempty"`
}

func alertJSON(a model.Alert) alertPayload {
	p := alertPayload{Alert: a}
	if a.PolygonData == "" {
		return p
	}
	if json.Valid([]byte(a.PolygonData)) {
		p.PolygonData = json.RawMessage(a.PolygonData)
		return p
	}
	// Keep unparseable data visible as a plain string.
	quoted, err := json.Marshal(a.PolygonData)
	if err == nil {
		p.PolygonData = quoted
	}
	return p
}

func alertsJSON(alerts []model.Alert) []alertPayload {
	out := make([]alertPayload, 0, len(alerts))
	for _, a := range alerts {
		out = append(out, alertJSON(a))
	}
	return out
}

// alertRings normalizes the stored polygon areas into closed (lon, lat)
// rings for the dashboard map. Unparseable data yields no rings.
func alertRings(polygonData string) []geometry.Ring {
	rings := []geometry.Ring{}
	if polygonData == "" {
		return rings
	}
	var areas []struct {
		Polygon [][]float64 `json:"polygon"`
	}
	if err := json.Unmarshal([]byte(polygonData), &areas); err != nil {
		return rings
	}
	for _, a := range areas {
		rings = append(rings, geometry.SplitRings(a.Polygon)...)
	}
	return rings
}

// ListAlerts returns one page of alert history, optionally filtered by
// lifecycle status.
func (c *Controller) ListAlerts(ctx echo.Context) error {
	page := intQuery(ctx, "page", 1)
	if page < 1 {
		page = 1
	}
	pageSize := intQuery(ctx, "page_size", 20)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > 100 {
		pageSize = 100
	}
	status := model.AlertStatus(ctx.QueryParam("status"))

	alerts, total, err := c.store.ListAlerts(ctx.Request().Context(), status, page, pageSize)
	if err != nil {
		return c.handleError(ctx, err, "Failed to list alerts", http.StatusInternalServerError)
	}

	return ctx.JSON(http.StatusOK, map[string]any{
		"data":      alertsJSON(alerts),
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// ActiveAlerts returns every alert still inside its validity window.
func (c *Controller) ActiveAlerts(ctx echo.Context) error {
	alerts, err := c.store.ListActiveAlerts(ctx.Request().Context())
	if err != nil {
		return c.handleError(ctx, err, "Failed to list active alerts", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"data":  alertsJSON(alerts),
		"count": len(alerts),
	})
}

// AlertStats returns the dashboard headline numbers.
func (c *Controller) AlertStats(ctx echo.Context) error {
	stats, err := c.store.AlertStats(ctx.Request().Context(), c.clock.Now())
	if err != nil {
		return c.handleError(ctx, err, "Failed to compute stats", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, stats)
}

// GetAlert returns one alert with its delivery log and normalized
// polygon rings.
func (c *Controller) GetAlert(ctx echo.Context) error {
	id, err := idParam(ctx)
	if err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid alert id"})
	}
	rctx := ctx.Request().Context()

	alert, err := c.store.GetAlert(rctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return ctx.JSON(http.StatusNotFound, map[string]string{"error": "Alert not found"})
	}
	if err != nil {
		return c.handleError(ctx, err, "Failed to load alert", http.StatusInternalServerError)
	}

	deliveries, err := c.store.ListDeliveries(rctx, id)
	if err != nil {
		return c.handleError(ctx, err, "Failed to load deliveries", http.StatusInternalServerError)
	}
	if deliveries == nil {
		deliveries = []model.Delivery{}
	}

	return ctx.JSON(http.StatusOK, map[string]any{
		"data":       alertJSON(*alert),
		"deliveries": deliveries,
		"rings":      alertRings(alert.PolygonData),
	})
}
