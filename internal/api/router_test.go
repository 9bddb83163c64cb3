package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/consortium-members/membership-backend/internal/config"
	"github.com/consortium-members/membership-backend/internal/notify"
	"github.com/consortium-members/membership-backend/internal/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// ---------------------------------------------------------------------------
// minimal storage.Archive mock for readiness tests
// ---------------------------------------------------------------------------

type stubArchive struct{ existsErr error }

func (m *stubArchive) Put(_ context.Context, key string, _ io.Reader, size int64) (*storage.PutResult, error) {
	return &storage.PutResult{Key: key, Size: size}, nil
}
func (m *stubArchive) Get(_ context.Context, _ string) (io.ReadCloser, error) {
	return nil, storage.ErrNotFound
}
func (m *stubArchive) Exists(_ context.Context, _ string) (bool, error) {
	return false, m.existsErr
}
func (m *stubArchive) Delete(_ context.Context, _ string) error { return nil }

func newPingDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { raw.Close() })
	return sqlx.NewDb(raw, "postgres"), mock
}

func get(r http.Handler, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

func body(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
	return out
}

// ---------------------------------------------------------------------------
// healthCheckHandler
// ---------------------------------------------------------------------------

func TestHealthCheckHandler(t *testing.T) {
	tests := []struct {
		name       string
		pingErr    error
		wantCode   int
		wantStatus string
	}{
		{"healthy", nil, http.StatusOK, "healthy"},
		{"database down", errors.New("connection refused"), http.StatusServiceUnavailable, "unhealthy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newPingDB(t)
			mock.ExpectPing().WillReturnError(tt.pingErr)

			r := gin.New()
			r.GET("/health", healthCheckHandler(db))
			w := get(r, "/health")

			if w.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", w.Code, tt.wantCode)
			}
			if got := body(t, w)["status"]; got != tt.wantStatus {
				t.Errorf("body status = %v, want %q", got, tt.wantStatus)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// readinessHandler
// ---------------------------------------------------------------------------

func TestReadinessHandler(t *testing.T) {
	tests := []struct {
		name        string
		pingErr     error
		archive     storage.Archive
		wantCode    int
		wantArchive string
	}{
		{"archive disabled", nil, nil, http.StatusOK, "disabled"},
		{"archive ok", nil, &stubArchive{}, http.StatusOK, "ok"},
		{"archive unreachable", nil, &stubArchive{existsErr: errors.New("timeout")}, http.StatusServiceUnavailable, "unavailable"},
		{"database down", errors.New("connection refused"), nil, http.StatusServiceUnavailable, "disabled"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newPingDB(t)
			mock.ExpectPing().WillReturnError(tt.pingErr)

			r := gin.New()
			r.GET("/ready", readinessHandler(db, tt.archive))
			w := get(r, "/ready")

			if w.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", w.Code, tt.wantCode)
			}
			checks := body(t, w)["checks"].(map[string]interface{})
			if checks["archive"] != tt.wantArchive {
				t.Errorf("archive check = %v, want %q", checks["archive"], tt.wantArchive)
			}
			wantDB := "ok"
			if tt.pingErr != nil {
				wantDB = "unavailable"
			}
			if checks["database"] != wantDB {
				t.Errorf("database check = %v, want %q", checks["database"], wantDB)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// NewRouter
// ---------------------------------------------------------------------------

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	db, _ := newPingDB(t)

	cfg := &config.Config{}
	cfg.Server.BaseURL = "http://localhost:8080"
	cfg.Auth.APIKeys.Prefix = "mbr"

	r, bg, err := NewRouter(cfg, Dependencies{DB: db, Mailer: notify.LogMailer{}})
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	if bg.Refresher != nil {
		t.Error("analytics refresher must be nil when analytics is disabled")
	}
	return r
}

func TestNewRouter_RoutesRequireAuthentication(t *testing.T) {
	r := newTestRouter(t)

	protected := []struct{ method, path string }{
		{http.MethodPost, "/api/v1/transfers"},
		{http.MethodPost, "/api/v1/transfers/accept"},
		{http.MethodGet, "/api/v1/transfers/tr-1"},
		{http.MethodPost, "/api/v1/organizations"},
		{http.MethodGet, "/api/v1/admin/transfers"},
		{http.MethodPost, "/api/v1/admin/transfers/tr-1/approve"},
		{http.MethodGet, "/api/v1/admin/organizations"},
		{http.MethodGet, "/api/v1/admin/audit-logs"},
		{http.MethodGet, "/api/v1/admin/analytics/usage"},
		{http.MethodPost, "/api/v1/admin/notifications/bulk"},
		{http.MethodGet, "/api/v1/admin/apikeys"},
		{http.MethodGet, "/api/v1/auth/me"},
	}
	for _, p := range protected {
		t.Run(p.method+" "+p.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(p.method, p.path, nil))
			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", w.Code)
			}
		})
	}
}

func TestNewRouter_PublicRoutes(t *testing.T) {
	r := newTestRouter(t)

	t.Run("version", func(t *testing.T) {
		w := get(r, "/version")
		if w.Code != http.StatusOK || body(t, w)["version"] != Version {
			t.Errorf("status = %d, body = %s", w.Code, w.Body.String())
		}
	})

	t.Run("login without identity provider", func(t *testing.T) {
		w := get(r, "/api/v1/auth/login")
		if w.Code != http.StatusBadRequest || body(t, w)["code"] != "oidc_disabled" {
			t.Errorf("status = %d, body = %s", w.Code, w.Body.String())
		}
	})

	t.Run("link with unknown action", func(t *testing.T) {
		w := get(r, "/auth?action=reset-password&token=abc")
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
	})

	t.Run("security headers", func(t *testing.T) {
		w := get(r, "/version")
		if w.Header().Get("X-Content-Type-Options") != "nosniff" {
			t.Errorf("X-Content-Type-Options = %q", w.Header().Get("X-Content-Type-Options"))
		}
		if w.Header().Get("X-Request-ID") == "" {
			t.Error("X-Request-ID not set")
		}
	})
}
