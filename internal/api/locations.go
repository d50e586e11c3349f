package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"bmkg_alert/internal/model"
	"bmkg_alert/internal/storage"
)

func (c *Controller) locationRoutes(g *echo.Group) {
	g.GET("", c.ListLocations)
	g.POST("", c.CreateLocation, c.requireWrite)
	g.GET("/:id", c.GetLocation)
	g.PATCH("/:id", c.UpdateLocation, c.requireWrite)
	g.DELETE("/:id", c.DeleteLocation, c.requireWrite)
}

// ListLocations returns all monitored locations.
func (c *Controller) ListLocations(ctx echo.Context) error {
	locations, err := c.store.ListLocations(ctx.Request().Context())
	if err != nil {
		return c.handleError(ctx, err, "Failed to list locations", http.StatusInternalServerError)
	}
	if locations == nil {
		locations = []model.Location{}
	}
	return ctx.JSON(http.StatusOK, map[string]any{"data": locations})
}

type locationCreateRequest struct {
	Label           string   `json:"label"`
	ProvinceCode    string   `json:"province_code"`
	ProvinceName    string   `json:"province_name"`
	DistrictCode    string   `json:"district_code"`
	DistrictName    string   `json:"district_name"`
	SubdistrictCode string   `json:"subdistrict_code"`
	SubdistrictName string   `json:"subdistrict_name"`
	Latitude        *float64 `json:"latitude"`
	Longitude       *float64 `json:"longitude"`
}

// CreateLocation registers a new monitored location. Each subdistrict can
// be registered once.
func (c *Controller) CreateLocation(ctx echo.Context) error {
	var req locationCreateRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	if req.SubdistrictCode == "" || req.SubdistrictName == "" {
		return ctx.JSON(http.StatusBadRequest, map[string]string{
			"error": "subdistrict_code and subdistrict_name are required",
		})
	}

	loc := model.Location{
		Label:           req.Label,
		ProvinceCode:    req.ProvinceCode,
		ProvinceName:    req.ProvinceName,
		DistrictCode:    req.DistrictCode,
		DistrictName:    req.DistrictName,
		SubdistrictCode: req.SubdistrictCode,
		SubdistrictName: req.SubdistrictName,
		Latitude:        req.Latitude,
		Longitude:       req.Longitude,
		Enabled:         true,
	}

	err := c.store.CreateLocation(ctx.Request().Context(), &loc)
	if errors.Is(err, storage.ErrDuplicateLocation) {
		return ctx.JSON(http.StatusConflict, map[string]string{
			"error": fmt.Sprintf("Location with subdistrict_code %s already exists", req.SubdistrictCode),
		})
	}
	if err != nil {
		return c.handleError(ctx, err, "Failed to create location", http.StatusInternalServerError)
	}

	return ctx.JSON(http.StatusCreated, map[string]any{"data": loc})
}

// GetLocation returns one location.
func (c *Controller) GetLocation(ctx echo.Context) error {
	id, err := idParam(ctx)
	if err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid location id"})
	}

	loc, err := c.store.GetLocation(ctx.Request().Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		return ctx.JSON(http.StatusNotFound, map[string]string{"error": "Location not found"})
	}
	if err != nil {
		return c.handleError(ctx, err, "Failed to load location", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, map[string]any{"data": loc})
}

type locationUpdateRequest struct {
	Label   *string `json:"label"`
	Enabled *bool   `json:"enabled"`
}

// UpdateLocation changes a location's label or enabled flag. Absent
// fields keep their value.
func (c *Controller) UpdateLocation(ctx echo.Context) error {
	id, err := idParam(ctx)
	if err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid location id"})
	}

	var req locationUpdateRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}

	rctx := ctx.Request().Context()
	err = c.store.UpdateLocation(rctx, id, req.Label, req.Enabled)
	if errors.Is(err, storage.ErrNotFound) {
		return ctx.JSON(http.StatusNotFound, map[string]string{"error": "Location not found"})
	}
	if err != nil {
		return c.handleError(ctx, err, "Failed to update location", http.StatusInternalServerError)
	}

	loc, err := c.store.GetLocation(rctx, id)
	if err != nil {
		return c.handleError(ctx, err, "Failed to load location", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, map[string]any{"data": loc})
}

// DeleteLocation removes a monitored location.
func (c *Controller) DeleteLocation(ctx echo.Context) error {
	id, err := idParam(ctx)
	if err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid location id"})
	}

	err = c.store.DeleteLocation(ctx.Request().Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		return ctx.JSON(http.StatusNotFound, map[string]string{"error": "Location not found"})
	}
	if err != nil {
		return c.handleError(ctx, err, "Failed to delete location", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, map[string]any{"status": "deleted", "id": id})
}
