package api

import (
	"net/http"
	"testing"
)

func TestConfigGetAndUpdate(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(http.MethodGet, "/api/config", "", nil)
	wantStatus(t, rec, http.StatusOK)
	data := decodeBody(t, rec)["data"].(map[string]any)
	if data["poll_interval"] != "300" {
		t.Errorf("seeded poll_interval = %v, want 300", data["poll_interval"])
	}
	if data["severity_threshold"] != "all" {
		t.Errorf("seeded severity_threshold = %v, want all", data["severity_threshold"])
	}

	rec = a.do(http.MethodPut, "/api/config",
		`{"settings": {"poll_interval": "600", "severity_threshold": "severe"}}`, nil)
	wantStatus(t, rec, http.StatusOK)
	data = decodeBody(t, rec)["data"].(map[string]any)
	if data["poll_interval"] != "600" {
		t.Errorf("poll_interval = %v, want 600", data["poll_interval"])
	}
	if data["severity_threshold"] != "severe" {
		t.Errorf("severity_threshold = %v, want severe", data["severity_threshold"])
	}

	// Unknown keys are stored as-is; the engine ignores what it does not
	// read.
	rec = a.do(http.MethodPut, "/api/config", `{"settings": {"dashboard_theme": "dark"}}`, nil)
	data = decodeBody(t, rec)["data"].(map[string]any)
	if data["dashboard_theme"] != "dark" {
		t.Errorf("dashboard_theme = %v, want dark", data["dashboard_theme"])
	}
}

func TestConfigExport(t *testing.T) {
	a := newTestAPI(t)
	seedLocation(t, a.store)

	rec := a.do(http.MethodPost, "/api/channels", telegramChannelJSON, nil)
	wantStatus(t, rec, http.StatusCreated)

	rec = a.do(http.MethodPost, "/api/config/export", "", nil)
	wantStatus(t, rec, http.StatusOK)
	body := decodeBody(t, rec)

	cfg, ok := body["config"].(map[string]any)
	if !ok || cfg["bmkg_api_url"] != "https://bmkg-restapi.vercel.app" {
		t.Errorf("config = %v", body["config"])
	}
	if got := len(body["locations"].([]any)); got != 1 {
		t.Errorf("len(locations) = %d, want 1", got)
	}
	if got := len(body["channels"].([]any)); got != 1 {
		t.Errorf("len(channels) = %d, want 1", got)
	}
}

func TestConfigImport(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(http.MethodPost, "/api/config/import",
		`{"config": {"poll_interval": "900"}, "locations": [{"label": "ignored"}]}`, nil)
	wantStatus(t, rec, http.StatusOK)
	if body := decodeBody(t, rec); body["status"] != "imported" {
		t.Errorf("status = %v, want imported", body["status"])
	}

	rec = a.do(http.MethodGet, "/api/config", "", nil)
	data := decodeBody(t, rec)["data"].(map[string]any)
	if data["poll_interval"] != "900" {
		t.Errorf("poll_interval = %v, want 900", data["poll_interval"])
	}

	// Only the config section is honored.
	rec = a.do(http.MethodGet, "/api/locations", "", nil)
	if got := len(decodeBody(t, rec)["data"].([]any)); got != 0 {
		t.Errorf("len(locations) = %d, want 0", got)
	}
}

func TestConfigReset(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(http.MethodPut, "/api/config", `{"settings": {"poll_interval": "600"}}`, nil)
	wantStatus(t, rec, http.StatusOK)

	rec = a.do(http.MethodPost, "/api/config/reset", "", nil)
	wantStatus(t, rec, http.StatusOK)
	data := decodeBody(t, rec)["data"].(map[string]any)
	if len(data) != 9 {
		t.Errorf("len(defaults) = %d, want 9", len(data))
	}
	if data["poll_interval"] != "300" {
		t.Errorf("poll_interval = %v, want 300", data["poll_interval"])
	}

	rec = a.do(http.MethodGet, "/api/config", "", nil)
	stored := decodeBody(t, rec)["data"].(map[string]any)
	if stored["poll_interval"] != "300" {
		t.Errorf("stored poll_interval = %v, want 300", stored["poll_interval"])
	}
}
