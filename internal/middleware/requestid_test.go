package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"
)

// requestWithID sends inbound (if non-empty) and returns the response header
// and the ID the handler saw in the context.
func requestWithID(t *testing.T, inbound string) (header, seen string) {
	t.Helper()
	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.GET("/", func(c *gin.Context) {
		seen = RequestIDFromContext(c)
		c.Status(http.StatusNoContent)
	})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if inbound != "" {
		req.Header.Set(RequestIDHeader, inbound)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Header().Get(RequestIDHeader), seen
}

func TestRequestIDMiddleware(t *testing.T) {
	tests := []struct {
		name     string
		inbound  string
		wantKeep bool
	}{
		{"minted when absent", "", false},
		{"load balancer id kept", "lb-7f3a9c-0001", true},
		{"uuid kept", "3f2b8c1e-2d4a-4b7e-9f00-1a2b3c4d5e6f", true},
		{"newline replaced", "abc\ninjected=1", false},
		{"space replaced", "has space", false},
		{"oversized replaced", strings.Repeat("x", maxRequestIDLength+1), false},
		{"non-ascii replaced", "idé", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header, seen := requestWithID(t, tt.inbound)
			if header != seen {
				t.Errorf("header %q differs from context %q", header, seen)
			}
			if tt.wantKeep {
				if header != tt.inbound {
					t.Errorf("id = %q, want inbound %q", header, tt.inbound)
				}
				return
			}
			if _, err := ulid.ParseStrict(header); err != nil {
				t.Errorf("id %q is not a fresh ULID: %v", header, err)
			}
		})
	}
}

func TestRequestIDMiddleware_Unique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		id, _ := requestWithID(t, "")
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestRequestLogger_Levels(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{http.StatusOK, "INFO"},
		{http.StatusConflict, "WARN"},
		{http.StatusServiceUnavailable, "ERROR"},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			var buf bytes.Buffer
			prev := slog.Default()
			slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
			t.Cleanup(func() { slog.SetDefault(prev) })

			r := gin.New()
			r.Use(RequestIDMiddleware(), RequestLogger())
			r.POST("/api/v1/transfers/:id/cancel", func(c *gin.Context) {
				c.Set(ContextUserID, "p1")
				c.Status(tt.status)
			})
			req := httptest.NewRequest(http.MethodPost, "/api/v1/transfers/tr-1/cancel", nil)
			req.Header.Set(RequestIDHeader, "req-42")
			r.ServeHTTP(httptest.NewRecorder(), req)

			var rec map[string]interface{}
			if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec); err != nil {
				t.Fatalf("log line is not JSON: %v (%s)", err, buf.String())
			}
			if rec["level"] != tt.level {
				t.Errorf("level = %v, want %s", rec["level"], tt.level)
			}
			if rec["request_id"] != "req-42" || rec["path"] != "/api/v1/transfers/tr-1/cancel" || rec["user_id"] != "p1" {
				t.Errorf("record = %v", rec)
			}
		})
	}
}
