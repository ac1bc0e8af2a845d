package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/riskmate/riskmate/internal/config"
	"github.com/riskmate/riskmate/internal/export"
)

// ---------------------------------------------------------------------------
// healthCheckHandler
// ---------------------------------------------------------------------------

func newHealthDB(t *testing.T, pingOK bool) *sql.DB {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if pingOK {
		mock.ExpectPing()
	} else {
		mock.ExpectPing().WillReturnError(sql.ErrConnDone)
	}
	return db
}

func getJSON(t *testing.T, h gin.HandlerFunc, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	r := gin.New()
	r.GET(path, h)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return w, body
}

func TestHealthCheckHandler_Healthy(t *testing.T) {
	w, body := getJSON(t, healthCheckHandler(newHealthDB(t, true)), "/health")

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if body["status"] != "healthy" {
		t.Errorf("status = %v, want healthy", body["status"])
	}
}

func TestHealthCheckHandler_Unhealthy(t *testing.T) {
	w, body := getJSON(t, healthCheckHandler(newHealthDB(t, false)), "/health")

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
	if body["status"] != "unhealthy" {
		t.Errorf("status = %v, want unhealthy", body["status"])
	}
}

// ---------------------------------------------------------------------------
// readinessHandler
// ---------------------------------------------------------------------------

func TestReadinessHandler_Ready(t *testing.T) {
	// the probe key is absent; ErrNotFound proves the backend answered
	w, body := getJSON(t, readinessHandler(newHealthDB(t, true), newMemBlobs()), "/ready")

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if body["ready"] != true {
		t.Errorf("ready = %v, want true", body["ready"])
	}
	checks, _ := body["checks"].(map[string]interface{})
	if checks["storage"] != "healthy" {
		t.Errorf("checks.storage = %v, want healthy", checks["storage"])
	}
}

func TestReadinessHandler_DatabaseDown(t *testing.T) {
	w, body := getJSON(t, readinessHandler(newHealthDB(t, false), newMemBlobs()), "/ready")

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
	if body["ready"] != false {
		t.Errorf("ready = %v, want false", body["ready"])
	}
}

func TestReadinessHandler_StorageDown(t *testing.T) {
	blobs := newMemBlobs()
	blobs.statErr = errors.New("access denied")

	w, body := getJSON(t, readinessHandler(newHealthDB(t, true), blobs), "/ready")

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
	if body["error"] != "storage backend not ready" {
		t.Errorf("error = %v, want storage backend not ready", body["error"])
	}
}

// ---------------------------------------------------------------------------
// versionHandler
// ---------------------------------------------------------------------------

func TestVersionHandler(t *testing.T) {
	w, body := getJSON(t, versionHandler("1.4.2"), "/version")

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if body["version"] != "1.4.2" {
		t.Errorf("version = %v, want 1.4.2", body["version"])
	}
	if body["manifest_version"] != export.ManifestVersion {
		t.Errorf("manifest_version = %v, want %s", body["manifest_version"], export.ManifestVersion)
	}
}

func TestVersionHandler_DefaultsToDev(t *testing.T) {
	_, body := getJSON(t, versionHandler(""), "/version")
	if body["version"] != "dev" {
		t.Errorf("version = %v, want dev", body["version"])
	}
}

// ---------------------------------------------------------------------------
// LoggerMiddleware
// ---------------------------------------------------------------------------

func TestLoggerMiddleware_PassesThrough(t *testing.T) {
	for _, format := range []string{"json", "text"} {
		cfg := &config.Config{}
		cfg.Logging.Format = format

		r := gin.New()
		r.Use(LoggerMiddleware(cfg))
		r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })
		r.GET("/boom", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		if w.Code != http.StatusOK {
			t.Errorf("%s: status = %d, want 200", format, w.Code)
		}

		w = httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
		if w.Code != http.StatusInternalServerError {
			t.Errorf("%s: status = %d, want 500", format, w.Code)
		}
	}
}

// ---------------------------------------------------------------------------
// CORSMiddleware
// ---------------------------------------------------------------------------

func corsRequest(cfg *config.Config, method, origin string) *httptest.ResponseRecorder {
	r := gin.New()
	r.Use(CORSMiddleware(cfg))
	r.Handle(method, "/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, "/", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestCORSMiddleware_AllowedOrigin(t *testing.T) {
	cfg := &config.Config{}
	cfg.Security.CORS.AllowedOrigins = []string{"https://app.riskmate.dev"}

	w := corsRequest(cfg, http.MethodGet, "https://app.riskmate.dev")

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://app.riskmate.dev" {
		t.Errorf("Access-Control-Allow-Origin = %q, want https://app.riskmate.dev", got)
	}
	if got := w.Header().Get("Access-Control-Expose-Headers"); got != "X-Request-ID, X-Checksum-SHA256" {
		t.Errorf("Access-Control-Expose-Headers = %q", got)
	}
}

func TestCORSMiddleware_ConfiguredMethods(t *testing.T) {
	cfg := &config.Config{}
	cfg.Security.CORS.AllowedOrigins = []string{"*"}
	cfg.Security.CORS.AllowedMethods = []string{"GET", "POST"}

	w := corsRequest(cfg, http.MethodGet, "https://anything.example")

	if got := w.Header().Get("Access-Control-Allow-Methods"); got != "GET, POST" {
		t.Errorf("Access-Control-Allow-Methods = %q, want GET, POST", got)
	}
}

func TestCORSMiddleware_DisallowedOrigin(t *testing.T) {
	cfg := &config.Config{}
	cfg.Security.CORS.AllowedOrigins = []string{"https://allowed.example"}

	w := corsRequest(cfg, http.MethodGet, "https://evil.example")

	// Request passes through but no CORS header set
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Errorf("expected no Access-Control-Allow-Origin header for disallowed origin")
	}
}

func TestCORSMiddleware_PreflightOptions(t *testing.T) {
	cfg := &config.Config{}
	cfg.Security.CORS.AllowedOrigins = []string{"*"}

	w := corsRequest(cfg, http.MethodOptions, "https://app.riskmate.dev")

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204 for OPTIONS preflight", w.Code)
	}
}

func TestCORSMiddleware_WildcardNoOriginHeader(t *testing.T) {
	cfg := &config.Config{}
	cfg.Security.CORS.AllowedOrigins = []string{"*"}

	w := corsRequest(cfg, http.MethodGet, "")

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}
}
