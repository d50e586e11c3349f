// Package api exposes the dashboard REST surface over echo, backed by
// the store, the poll engine and the BMKG feed client.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	cache "github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bmkg_alert/internal/config"
	"bmkg_alert/internal/engine"
	"bmkg_alert/internal/model"
	"bmkg_alert/internal/storage"
)

// demoDeniedMessage is shown to anonymous write requests on a demo
// deployment.
const demoDeniedMessage = "This action is disabled in demo mode. Deploy your own instance to configure."

// EngineControl is the slice of the poll engine the API drives.
type EngineControl interface {
	Start(ctx context.Context)
	Stop(ctx context.Context)
	CheckNow(ctx context.Context) (*engine.Summary, error)
	Status() engine.Status
}

// ChannelTester pushes a synthetic message through one stored channel.
type ChannelTester interface {
	Test(ctx context.Context, channelID int64) (*model.Channel, error)
}

// FeedProxy is the slice of the BMKG client behind the wilayah proxy and
// the health check.
type FeedProxy interface {
	SearchWilayah(ctx context.Context, query string) (json.RawMessage, error)
	Provinces(ctx context.Context) (json.RawMessage, error)
	Healthy(ctx context.Context) bool
}

// TrialMessenger is the system Telegram bot used by the trial endpoints.
type TrialMessenger interface {
	Username() string
	SendMessage(chatID string, text string) error
}

// Controller owns the echo instance and the handlers registered on it.
type Controller struct {
	echo    *echo.Echo
	store   *storage.SQLite
	feed    FeedProxy
	eng     EngineControl
	tester  ChannelTester
	trials  TrialMessenger
	cfg     *config.Config
	log     *slog.Logger
	clock   clockwork.Clock
	wilayah *cache.Cache
	started time.Time
}

// New builds a Controller and registers every route on a fresh echo
// instance. The trial messenger is optional and wired separately with
// SetTrialMessenger once the bot is up.
func New(store *storage.SQLite, feed FeedProxy, eng EngineControl, tester ChannelTester, cfg *config.Config, log *slog.Logger) *Controller {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	c := &Controller{
		echo:    e,
		store:   store,
		feed:    feed,
		eng:     eng,
		tester:  tester,
		cfg:     cfg,
		log:     log,
		clock:   clockwork.NewRealClock(),
		wilayah: cache.New(10*time.Minute, 15*time.Minute),
	}
	c.started = c.clock.Now()
	c.routes()
	return c
}

// SetClock replaces the wall clock and restamps the uptime baseline. For
// tests.
func (c *Controller) SetClock(clk clockwork.Clock) {
	c.clock = clk
	c.started = clk.Now()
}

// SetTrialMessenger wires the system Telegram bot. Without it the trial
// endpoints still register trials but cannot send confirmations.
func (c *Controller) SetTrialMessenger(m TrialMessenger) {
	c.trials = m
}

func (c *Controller) routes() {
	c.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := c.echo.Group("/api")
	api.GET("/health", c.Health)
	api.POST("/auth/login", c.Login)
	api.GET("/activity", c.ListActivity)

	c.alertRoutes(api.Group("/alerts"))
	c.locationRoutes(api.Group("/locations"))
	c.channelRoutes(api.Group("/channels"))
	c.configRoutes(api.Group("/config"))
	c.engineRoutes(api.Group("/engine"))
	c.trialRoutes(api.Group("/trial"))
	c.wilayahRoutes(api.Group("/wilayah"))
}

// Start serves HTTP on addr and blocks until Shutdown.
func (c *Controller) Start(addr string) error {
	if err := c.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and drains in-flight requests.
func (c *Controller) Shutdown(ctx context.Context) error {
	return c.echo.Shutdown(ctx)
}

// requireWrite blocks mutating endpoints in demo mode unless the request
// carries admin credentials. Outside demo mode everything passes.
func (c *Controller) requireWrite(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		if c.cfg.DemoMode && !c.isAdmin(ctx.Request()) {
			return ctx.JSON(http.StatusForbidden, map[string]string{"error": demoDeniedMessage})
		}
		return next(ctx)
	}
}

// isAdmin accepts either "Authorization: Bearer <admin password>" or an
// X-Admin-Token header carrying the admin password.
func (c *Controller) isAdmin(r *http.Request) bool {
	secret := []byte(c.cfg.AdminPassword)
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		token := strings.TrimPrefix(auth, "Bearer ")
		if subtle.ConstantTimeCompare([]byte(token), secret) == 1 {
			return true
		}
	}
	if token := r.Header.Get("X-Admin-Token"); token != "" {
		return subtle.ConstantTimeCompare([]byte(token), secret) == 1
	}
	return false
}

// handleError logs the cause and answers with a JSON error body carrying
// the user-facing message only.
func (c *Controller) handleError(ctx echo.Context, err error, message string, status int) error {
	c.log.Error("request failed",
		"method", ctx.Request().Method,
		"path", ctx.Request().URL.Path,
		"error", err)
	return ctx.JSON(status, map[string]string{"error": message})
}

// idParam parses the :id path segment.
func idParam(ctx echo.Context) (int64, error) {
	id, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("invalid id %q", ctx.Param("id"))
	}
	return id, nil
}

// intQuery reads an integer query parameter, falling back on absent or
// unparseable values.
func intQuery(ctx echo.Context, name string, fallback int) int {
	raw := ctx.QueryParam(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
