package admin

import (
	"net/http"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"

	"github.com/consortium-members/membership-backend/internal/auth"
	"github.com/consortium-members/membership-backend/internal/config"
	"github.com/consortium-members/membership-backend/internal/db/repositories"
)

const (
	financeKeyID = "c3d4e5f6-a7b8-4c9d-8e0f-1a2b3c4d5e6f"
	unknownKeyID = "f6e5d4c3-b2a1-4098-8f7e-6d5c4b3a2918"
)

var akCols = []string{"id", "user_id", "name", "key_hash", "key_prefix", "scopes", "expires_at", "last_used_at", "created_at"}

func sampleAKRows(owner string) *sqlmock.Rows {
	return sqlmock.NewRows(akCols).
		AddRow(financeKeyID, owner, "Finance import", "hashedkey", "mbr_abc123", []byte(`["transfers:write"]`), nil, nil, time.Now())
}

func newAPIKeyRouter(t *testing.T, userID string, scopes []string) (sqlmock.Sqlmock, *gin.Engine) {
	t.Helper()
	db, mock := newMockDB(t)
	cfg := &config.Config{}
	cfg.Auth.APIKeys.Prefix = "mbr"
	h := NewAPIKeyHandlers(cfg, repositories.NewAPIKeyRepository(db))

	r := gin.New()
	r.Use(withIdentity(userID, scopes))
	r.GET("/apikeys", h.ListAPIKeysHandler())
	r.POST("/apikeys", h.CreateAPIKeyHandler())
	r.DELETE("/apikeys/:id", h.DeleteAPIKeyHandler())
	return mock, r
}

func TestListAPIKeys_NoAuth(t *testing.T) {
	_, r := newAPIKeyRouter(t, "", nil)
	if w := do(r, http.MethodGet, "/apikeys", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestListAPIKeys_OwnKeys(t *testing.T) {
	mock, r := newAPIKeyRouter(t, "user-1", auth.AdminScopes())
	mock.ExpectQuery("FROM api_keys WHERE user_id = \\$1").
		WithArgs("user-1").
		WillReturnRows(sampleAKRows("user-1"))

	w := do(r, http.MethodGet, "/apikeys", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if strings.Contains(w.Body.String(), "hashedkey") {
		t.Error("key hash must never be returned")
	}
	keys := decode(t, w)["api_keys"].([]interface{})
	if len(keys) != 1 {
		t.Fatalf("len(api_keys) = %d, want 1", len(keys))
	}
	if _, hasKey := keys[0].(map[string]interface{})["key"]; hasKey {
		t.Error("listed keys must not include the secret")
	}
}

func TestCreateAPIKey_Success(t *testing.T) {
	mock, r := newAPIKeyRouter(t, "user-1", auth.AdminScopes())
	mock.ExpectExec("INSERT INTO api_keys").
		WithArgs(sqlmock.AnyArg(), "user-1", "CRM sync", sqlmock.AnyArg(), sqlmock.AnyArg(),
			[]byte(`["organizations:read"]`), nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := do(r, http.MethodPost, "/apikeys", `{"name":"CRM sync","scopes":["organizations:read"]}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	key := decode(t, w)["api_key"].(map[string]interface{})
	secret, _ := key["key"].(string)
	if !strings.HasPrefix(secret, "mbr_") {
		t.Errorf("key = %q, want mbr_ prefix", secret)
	}
	if key["key_prefix"] != secret[:auth.DisplayPrefixLength] {
		t.Errorf("key_prefix = %v, want %q", key["key_prefix"], secret[:auth.DisplayPrefixLength])
	}
}

func TestCreateAPIKey_Rejections(t *testing.T) {
	past := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
	tests := []struct {
		name     string
		scopes   []string
		body     string
		wantCode int
	}{
		{"unknown scope", auth.AdminScopes(), `{"name":"k","scopes":["modules:write"]}`, http.StatusBadRequest},
		{"escalation", []string{"api_keys:manage", "transfers:write"}, `{"name":"k","scopes":["transfers:admin"]}`, http.StatusForbidden},
		{"no scopes", auth.AdminScopes(), `{"name":"k","scopes":[]}`, http.StatusBadRequest},
		{"expired", auth.AdminScopes(), `{"name":"k","scopes":["audit:read"],"expires_at":"` + past + `"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, r := newAPIKeyRouter(t, "user-1", tt.scopes)
			if w := do(r, http.MethodPost, "/apikeys", tt.body); w.Code != tt.wantCode {
				t.Errorf("status = %d, want %d: %s", w.Code, tt.wantCode, w.Body.String())
			}
		})
	}
}

func TestDeleteAPIKey(t *testing.T) {
	t.Run("owner", func(t *testing.T) {
		mock, r := newAPIKeyRouter(t, "user-1", []string{"api_keys:manage"})
		mock.ExpectQuery("FROM api_keys WHERE id = \\$1").WithArgs(financeKeyID).WillReturnRows(sampleAKRows("user-1"))
		mock.ExpectExec("DELETE FROM api_keys").WithArgs(financeKeyID).WillReturnResult(sqlmock.NewResult(0, 1))

		if w := do(r, http.MethodDelete, "/apikeys/"+financeKeyID, ""); w.Code != http.StatusOK {
			t.Errorf("status = %d: %s", w.Code, w.Body.String())
		}
	})

	t.Run("other user's key", func(t *testing.T) {
		mock, r := newAPIKeyRouter(t, "user-2", []string{"api_keys:manage"})
		mock.ExpectQuery("FROM api_keys WHERE id = \\$1").WithArgs(financeKeyID).WillReturnRows(sampleAKRows("user-1"))

		if w := do(r, http.MethodDelete, "/apikeys/"+financeKeyID, ""); w.Code != http.StatusForbidden {
			t.Errorf("status = %d, want 403", w.Code)
		}
	})

	t.Run("admin revokes any key", func(t *testing.T) {
		mock, r := newAPIKeyRouter(t, "admin-1", []string{"admin"})
		mock.ExpectQuery("FROM api_keys WHERE id = \\$1").WithArgs(financeKeyID).WillReturnRows(sampleAKRows("user-1"))
		mock.ExpectExec("DELETE FROM api_keys").WithArgs(financeKeyID).WillReturnResult(sqlmock.NewResult(0, 1))

		if w := do(r, http.MethodDelete, "/apikeys/"+financeKeyID, ""); w.Code != http.StatusOK {
			t.Errorf("status = %d", w.Code)
		}
	})

	t.Run("missing", func(t *testing.T) {
		mock, r := newAPIKeyRouter(t, "user-1", []string{"api_keys:manage"})
		mock.ExpectQuery("FROM api_keys WHERE id = \\$1").WithArgs(unknownKeyID).WillReturnRows(sqlmock.NewRows(akCols))

		if w := do(r, http.MethodDelete, "/apikeys/"+unknownKeyID, ""); w.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", w.Code)
		}
	})

	t.Run("malformed id", func(t *testing.T) {
		// no query expected: the id is rejected before the repository runs
		_, r := newAPIKeyRouter(t, "user-1", []string{"api_keys:manage"})

		w := do(r, http.MethodDelete, "/apikeys/key-1", "")
		if w.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", w.Code)
		}
		if decode(t, w)["code"] != "not_found" {
			t.Errorf("body = %s", w.Body.String())
		}
	})
}
