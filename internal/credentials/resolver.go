// ABOUTME: Resolves an org's active provider credentials for gateway configuration
// ABOUTME: Filters unknown providers and unusable OAuth blobs, orders by registry

package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/golang-jwt/jwt/v5"

	"github.com/2389/clawhuddle/internal/store"
)

// Credential is an active provider credential ready to be written into a
// gateway's auth profile file.
type Credential struct {
	Provider string
	Kind     store.CredentialKind
	Secret   string // api key or setup token

	// OAuth material, set only when Kind is CredentialOAuth.
	Access  string
	Refresh string
	Expires int64 // unix seconds, 0 when unknown
}

// Resolver reads credentials from the store.
type Resolver struct {
	store  store.CredentialStore
	logger *slog.Logger
}

// NewResolver creates a Resolver backed by s.
func NewResolver(s store.CredentialStore, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: s, logger: logger.With("component", "credentials")}
}

// ResolveActive returns the org's usable credentials, one per known provider,
// in registry order.
func (r *Resolver) ResolveActive(ctx context.Context, orgID string) ([]Credential, error) {
	stored, err := r.store.ListCredentials(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("listing credentials: %w", err)
	}

	seen := make(map[string]bool)
	var active []Credential
	for _, sc := range stored {
		if _, ok := Lookup(sc.Provider); !ok {
			r.logger.Debug("skipping credential for unknown provider", "org_id", orgID, "provider", sc.Provider)
			continue
		}
		if seen[sc.Provider] {
			continue
		}

		c := Credential{Provider: sc.Provider, Kind: sc.Kind, Secret: sc.Secret}
		if sc.Kind == store.CredentialOAuth {
			access, refresh, err := parseOAuth(sc.Secret)
			if err != nil {
				r.logger.Warn("skipping unusable oauth credential", "org_id", orgID, "provider", sc.Provider, "error", err)
				continue
			}
			c.Secret = ""
			c.Access = access
			c.Refresh = refresh
			c.Expires = tokenExpiry(access)
		}

		seen[sc.Provider] = true
		active = append(active, c)
	}

	sort.SliceStable(active, func(i, j int) bool {
		return rank(active[i].Provider) < rank(active[j].Provider)
	})
	return active, nil
}

// ModelOverrides returns the org's per-provider model overrides.
func (r *Resolver) ModelOverrides(ctx context.Context, orgID string) (map[string]string, error) {
	overrides, err := r.store.GetModelOverrides(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("loading model overrides: %w", err)
	}
	return overrides, nil
}

// ProviderIDs returns the provider IDs of creds in order.
func ProviderIDs(creds []Credential) []string {
	ids := make([]string, 0, len(creds))
	for _, c := range creds {
		ids = append(ids, c.Provider)
	}
	return ids
}

type oauthTokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// parseOAuth accepts either {"tokens": {...}} or the flat token object.
func parseOAuth(secret string) (access, refresh string, err error) {
	var wrapped struct {
		Tokens *oauthTokens `json:"tokens"`
		oauthTokens
	}
	if err := json.Unmarshal([]byte(secret), &wrapped); err != nil {
		return "", "", fmt.Errorf("parsing oauth json: %w", err)
	}
	t := wrapped.oauthTokens
	if wrapped.Tokens != nil {
		t = *wrapped.Tokens
	}
	if t.AccessToken == "" || t.RefreshToken == "" {
		return "", "", fmt.Errorf("oauth credential is missing access or refresh token")
	}
	return t.AccessToken, t.RefreshToken, nil
}

// tokenExpiry reads the exp claim of a JWT access token without verifying it.
// Non-JWT tokens yield 0.
func tokenExpiry(accessToken string) int64 {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return 0
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return 0
	}
	return exp.Unix()
}
