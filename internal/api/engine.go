package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"bmkg_alert/internal/engine"
)

func (c *Controller) engineRoutes(g *echo.Group) {
	g.GET("/status", c.EngineStatus)
	g.POST("/start", c.StartEngine, c.requireWrite)
	g.POST("/stop", c.StopEngine, c.requireWrite)
	g.POST("/check-now", c.CheckNow, c.requireWrite)
}

// engineStatusResponse is the engine status with the deployment's demo
// flag folded in for the dashboard.
type engineStatusResponse struct {
	engine.Status
	DemoMode bool `json:"demo_mode"`
}

// EngineStatus reports whether the poll loop runs and what its last
// cycle did.
func (c *Controller) EngineStatus(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, engineStatusResponse{
		Status:   c.eng.Status(),
		DemoMode: c.cfg.DemoMode,
	})
}

// StartEngine launches the poll loop.
func (c *Controller) StartEngine(ctx echo.Context) error {
	c.eng.Start(ctx.Request().Context())
	return ctx.JSON(http.StatusOK, map[string]any{
		"status": "started",
		"engine": c.eng.Status(),
	})
}

// StopEngine halts the poll loop.
func (c *Controller) StopEngine(ctx echo.Context) error {
	c.eng.Stop(ctx.Request().Context())
	return ctx.JSON(http.StatusOK, map[string]any{
		"status": "stopped",
		"engine": c.eng.Status(),
	})
}

// CheckNow runs one poll cycle immediately. A cycle already in flight
// answers 409 instead of queueing.
func (c *Controller) CheckNow(ctx echo.Context) error {
	summary, err := c.eng.CheckNow(ctx.Request().Context())
	if errors.Is(err, engine.ErrCycleInFlight) {
		return ctx.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
	}
	if err != nil {
		return c.handleError(ctx, err, "Poll cycle failed", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"status": "completed",
		"result": summary,
		"engine": c.eng.Status(),
	})
}
