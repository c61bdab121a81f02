// ABOUTME: Tests for HTTP authentication middleware
// ABOUTME: Covers token extraction, validation, and the org gate

package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestVerifier(t *testing.T) *JWTVerifier {
	t.Helper()
	v, err := NewJWTVerifier(testSecret)
	require.NoError(t, err)
	return v
}

func TestHTTPAuthMiddleware(t *testing.T) {
	verifier := newTestVerifier(t)
	valid, err := verifier.Generate("ops", "", time.Hour)
	require.NoError(t, err)
	expired, err := verifier.Generate("ops", "", -time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"valid", "Bearer " + valid, http.StatusOK},
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + valid, http.StatusUnauthorized},
		{"empty token", "Bearer ", http.StatusUnauthorized},
		{"expired", "Bearer " + expired, http.StatusUnauthorized},
		{"garbage", "Bearer nope", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got *AuthContext
			handler := HTTPAuthMiddleware(verifier, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = FromContext(r.Context())
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusOK {
				require.NotNil(t, got)
				assert.Equal(t, "ops", got.Subject)
				return
			}
			assert.Nil(t, got)
			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, "unauthorized", body["error"])
			assert.NotEmpty(t, body["message"])
		})
	}
}

func TestRequireOrgHTTP(t *testing.T) {
	verifier := newTestVerifier(t)

	mux := http.NewServeMux()
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	mux.Handle("GET /api/orgs/{orgID}/thing", HTTPAuthMiddleware(verifier, nil)(RequireOrgHTTP(nil)(ok)))

	do := func(org, token string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/orgs/"+org+"/thing", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		return rec.Code
	}

	operator, err := verifier.Generate("ops", "", time.Hour)
	require.NoError(t, err)
	scoped, err := verifier.Generate("admin", "org-1", time.Hour)
	require.NoError(t, err)

	assert.Equal(t, http.StatusNoContent, do("org-1", operator))
	assert.Equal(t, http.StatusNoContent, do("org-2", operator))
	assert.Equal(t, http.StatusNoContent, do("org-1", scoped))
	assert.Equal(t, http.StatusForbidden, do("org-2", scoped))
}

func TestRequireOrgHTTP_NoAuthContext(t *testing.T) {
	handler := RequireOrgHTTP(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
