package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/geocoder89/habithub/internal/auth"
	"github.com/geocoder89/habithub/internal/cache"
	"github.com/geocoder89/habithub/internal/config"
	"github.com/geocoder89/habithub/internal/gateway"
	apphttp "github.com/geocoder89/habithub/internal/http"
	"github.com/geocoder89/habithub/internal/observability"
	"github.com/geocoder89/habithub/internal/repo/sqlite"
	"github.com/geocoder89/habithub/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "integration-secret-0123456789"

func testConfig() config.Config {
	return config.Config{
		Env:            "test",
		StoreDriver:    "sqlite",
		JWTSecret:      testSecret,
		AccessTTL:      time.Hour,
		BcryptCost:     bcrypt.MinCost,
		GridRows:       7,
		GridCols:       30,
		CacheTTL:       time.Minute,
		ServiceName:    "habithub-test",
		CORSOrigins:    []string{"*"},
		AuthRateLimit:  100,
		AuthRateWindow: time.Minute,
		MaxBodyBytes:   1 << 20,
	}
}

// setupRouter wires the full stack over a fresh sqlite file.
func setupRouter(t *testing.T, cfg config.Config) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ctx := context.Background()
	reg := prometheus.NewRegistry()
	prom := observability.NewProm(reg)

	store, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "habits.db"), prom)
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))

	gw := gateway.New(gateway.Deps{
		Store:  store,
		Tokens: auth.NewManager(cfg.JWTSecret, cfg.AccessTTL),
		Hasher: security.NewHasher(cfg.BcryptCost),
		Cache:  cache.NewMemory(cfg.CacheTTL),
		Log:    logger,
		Prom:   prom,
	}, cfg)

	return apphttp.NewRouter(logger, cfg, apphttp.Deps{
		Gateway:  gw,
		Prom:     prom,
		Gatherer: reg,
	})
}

func doRequest(router http.Handler, method, path, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))

	if method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	return w
}

func mustReadJSON[T any](t *testing.T, w *httptest.ResponseRecorder, out *T) {
	t.Helper()
	err := json.Unmarshal(w.Body.Bytes(), out)
	if err != nil {
		t.Fatalf("failed to unmarshal json: %v, body=%s", err, w.Body.String())
	}
}

func mustStatus(t *testing.T, step string, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("%s got status %d, want %d, body=%s", step, w.Code, want, w.Body.String())
	}
}

// signUp registers and logs in, returning the bearer token.
func signUp(t *testing.T, router http.Handler, name, email string) string {
	t.Helper()

	body := `{"name":"` + name + `","email":"` + email + `","password":"password123"}`
	mustStatus(t, "register", doRequest(router, http.MethodPost, "/register", body, ""), http.StatusCreated)

	w := doRequest(router, http.MethodPost, "/login", `{"email":"`+email+`","password":"password123"}`, "")
	mustStatus(t, "login", w, http.StatusOK)

	var resp struct {
		Token string `json:"token"`
		Name  string `json:"name"`
	}
	mustReadJSON(t, w, &resp)

	if resp.Token == "" || resp.Name != name {
		t.Fatalf("unexpected login body %s", w.Body.String())
	}
	return resp.Token
}
