package api

import (
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/labstack/echo/v4"
	cache "github.com/patrickmn/go-cache"
)

// provincesTTL is the cache lifetime for the province list, which
// changes about never. Searches use the cache default (10 minutes).
const provincesTTL = 24 * time.Hour

func (c *Controller) wilayahRoutes(g *echo.Group) {
	g.GET("/search", c.SearchWilayah)
	g.GET("/provinces", c.Provinces)
}

// SearchWilayah proxies an administrative-area search to the BMKG API,
// caching responses so typeahead does not hammer the upstream.
func (c *Controller) SearchWilayah(ctx echo.Context) error {
	q := strings.TrimSpace(ctx.QueryParam("q"))
	if utf8.RuneCountInString(q) < 2 {
		return ctx.JSON(http.StatusBadRequest, map[string]string{
			"error": "Query must be at least 2 characters",
		})
	}

	key := "search:" + strings.ToLower(q)
	if hit, ok := c.wilayah.Get(key); ok {
		return ctx.JSONBlob(http.StatusOK, hit.([]byte))
	}

	raw, err := c.feed.SearchWilayah(ctx.Request().Context(), q)
	if err != nil {
		return c.handleError(ctx, err, "Failed to reach BMKG API", http.StatusBadGateway)
	}

	c.wilayah.Set(key, []byte(raw), cache.DefaultExpiration)
	return ctx.JSONBlob(http.StatusOK, raw)
}

// Provinces proxies the province list from the BMKG API.
func (c *Controller) Provinces(ctx echo.Context) error {
	if hit, ok := c.wilayah.Get("provinces"); ok {
		return ctx.JSONBlob(http.StatusOK, hit.([]byte))
	}

	raw, err := c.feed.Provinces(ctx.Request().Context())
	if err != nil {
		return c.handleError(ctx, err, "Failed to reach BMKG API", http.StatusBadGateway)
	}

	c.wilayah.Set("provinces", []byte(raw), provincesTTL)
	return ctx.JSONBlob(http.StatusOK, raw)
}
