package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func corsServer(origins ...string) *echo.Echo {
	e := echo.New()
	e.Use(CORS(CORSConfig{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		MaxAge:       600,
	}))
	e.GET("/api/status", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	return e
}

func TestCORSAllowsListedOrigin(t *testing.T) {
	e := corsServer("https://desk.example.com")

	req := httptest.NewRequest(http.MethodOptions, "/api/status", nil)
	req.Header.Set(echo.HeaderOrigin, "https://desk.example.com")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status %d", rec.Code)
	}
	if rec.Header().Get(echo.HeaderAccessControlAllowOrigin) != "https://desk.example.com" ||
		rec.Header().Get(echo.HeaderAccessControlMaxAge) != "600" {
		t.Fatalf("preflight headers %v", rec.Header())
	}
}

func TestCORSIgnoresOtherOrigins(t *testing.T) {
	e := corsServer("https://desk.example.com")

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set(echo.HeaderOrigin, "https://evil.example.com")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if got := rec.Header().Get(echo.HeaderAccessControlAllowOrigin); got != "" {
		t.Fatalf("allow origin leaked: %q", got)
	}
}
