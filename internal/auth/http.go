// ABOUTME: HTTP middleware for JWT authentication on API endpoints
// ABOUTME: Extracts JWT from Authorization header and adds the identity to context

package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "message": message})
}

// HTTPAuthMiddleware creates an HTTP middleware that extracts and validates JWT tokens.
// A nil logger disables failure logging.
func HTTPAuthMiddleware(verifier TokenVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
			if errMsg != "" {
				logFailure(logger, r, errMsg)
				writeError(w, http.StatusUnauthorized, "unauthorized", errMsg)
				return
			}

			claims, err := verifier.Verify(token)
			if err != nil {
				logFailure(logger, r, err.Error())
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
				return
			}

			authCtx := &AuthContext{Subject: claims.Subject, OrgID: claims.OrgID}
			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), authCtx)))
		})
	}
}

// RequireOrgHTTP rejects requests whose identity is scoped to a different
// org than the {orgID} path value. Must be used after HTTPAuthMiddleware on a
// handler registered with an {orgID} pattern.
func RequireOrgHTTP(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx := FromContext(r.Context())
			if authCtx == nil {
				writeError(w, http.StatusUnauthorized, "unauthorized", "not authenticated")
				return
			}

			if !authCtx.CanAccessOrg(r.PathValue("orgID")) {
				logFailure(logger, r, "token not valid for org")
				writeError(w, http.StatusForbidden, "forbidden", "token not valid for this org")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func logFailure(logger *slog.Logger, r *http.Request, reason string) {
	if logger == nil {
		return
	}
	logger.Warn("http auth failed", "path", r.URL.Path, "reason", reason, "remote", r.RemoteAddr)
}
