package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"mangashelf/internal/grpcserver"
	"mangashelf/pkg/utils"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	cfg := utils.DefaultConfig()
	cfg.DBPath = ":memory:"
	cfg.Download.Dir = t.TempDir()
	a, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(a.Close)
	return a
}

func TestRouterServesCoreRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a := newTestApp(t)
	r := a.Router(context.Background())

	get := func(path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		return w
	}

	for _, path := range []string{"/health", "/ready", "/library", "/categories", "/downloads", "/library/sync", "/manga"} {
		if w := get(path); w.Code != http.StatusOK {
			t.Fatalf("GET %s = %d %s", path, w.Code, w.Body.String())
		}
	}

	w := get("/sources")
	var out struct {
		Items []struct {
			ID string `json:"id"`
		} `json:"items"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode sources: %v", err)
	}
	if len(out.Items) == 0 {
		t.Fatalf("no sources registered")
	}

	if w := get("/manga/nato_missing"); w.Code != http.StatusNotFound {
		t.Fatalf("GET missing manga = %d", w.Code)
	}
}

func TestHealthChecks(t *testing.T) {
	a := newTestApp(t)
	checks := a.HealthChecks()
	ctx := context.Background()

	if !checks[grpcserver.ServiceStore](ctx) {
		t.Fatalf("store should be serving")
	}
	if checks[grpcserver.ServiceDownloads](ctx) {
		t.Fatalf("download loop is not running")
	}
	if !checks[grpcserver.ServiceSync](ctx) {
		t.Fatalf("sync without passes should be serving")
	}
}
