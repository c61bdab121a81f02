// ABOUTME: Tests for credential resolution and auth-profile building
// ABOUTME: Covers provider filtering, ordering, OAuth parsing, and JWT expiry

package credentials

import (
	"context"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/clawhuddle/internal/store"
)

func signedAccessToken(t *testing.T, exp int64) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": exp, "sub": "acct"}).
		SignedString([]byte("not-the-providers-key"))
	require.NoError(t, err)
	return tok
}

func TestResolveActive_FiltersAndOrders(t *testing.T) {
	ctx := context.Background()
	s := store.NewMockStore()
	require.NoError(t, s.PutCredential(ctx, &store.Credential{OrgID: "org", Provider: "google", Secret: "AIza"}))
	require.NoError(t, s.PutCredential(ctx, &store.Credential{OrgID: "org", Provider: "mistral", Secret: "unknown"}))
	require.NoError(t, s.PutCredential(ctx, &store.Credential{OrgID: "org", Provider: "anthropic", Secret: "sk-ant"}))
	require.NoError(t, s.PutCredential(ctx, &store.Credential{OrgID: "other", Provider: "openai", Secret: "sk"}))

	creds, err := NewResolver(s, nil).ResolveActive(ctx, "org")
	require.NoError(t, err)

	assert.Equal(t, []string{"anthropic", "google"}, ProviderIDs(creds))
	assert.Equal(t, "sk-ant", creds[0].Secret)
}

func TestResolveActive_Empty(t *testing.T) {
	creds, err := NewResolver(store.NewMockStore(), nil).ResolveActive(context.Background(), "org")
	require.NoError(t, err)
	assert.Empty(t, creds)
}

func TestResolveActive_OAuth(t *testing.T) {
	access := signedAccessToken(t, 1893456000)

	tests := []struct {
		name        string
		secret      string
		wantUsable  bool
		wantExpires int64
		wantAccess  string
	}{
		{
			name:        "wrapped tokens with jwt access",
			secret:      `{"tokens":{"access_token":"` + access + `","refresh_token":"r1"}}`,
			wantUsable:  true,
			wantExpires: 1893456000,
			wantAccess:  access,
		},
		{
			name:       "flat tokens with opaque access",
			secret:     `{"access_token":"opaque","refresh_token":"r2"}`,
			wantUsable: true,
			wantAccess: "opaque",
		},
		{
			name:   "missing refresh token",
			secret: `{"tokens":{"access_token":"a"}}`,
		},
		{
			name:   "malformed json",
			secret: `{not json`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			s := store.NewMockStore()
			require.NoError(t, s.PutCredential(ctx, &store.Credential{
				OrgID: "org", Provider: "openai", Kind: store.CredentialOAuth, Secret: tt.secret,
			}))

			creds, err := NewResolver(s, nil).ResolveActive(ctx, "org")
			require.NoError(t, err)

			if !tt.wantUsable {
				assert.Empty(t, creds)
				return
			}
			require.Len(t, creds, 1)
			assert.Equal(t, tt.wantAccess, creds[0].Access)
			assert.Equal(t, tt.wantExpires, creds[0].Expires)
			assert.Empty(t, creds[0].Secret)
		})
	}
}

func TestBuildProfiles(t *testing.T) {
	file := BuildProfiles([]Credential{
		{Provider: "anthropic", Kind: store.CredentialAPIKey, Secret: "sk-ant"},
		{Provider: "openai", Kind: store.CredentialOAuth, Access: "a", Refresh: "r", Expires: 42},
		{Provider: "google", Kind: store.CredentialSetupToken, Secret: "setup"},
	})

	assert.Equal(t, 1, file.Version)
	assert.Equal(t, map[string]Profile{
		"anthropic:manual":   {Type: "api_key", Provider: "anthropic", Key: "sk-ant"},
		"openai:oauth":       {Type: "oauth", Provider: "openai", Access: "a", Refresh: "r", Expires: 42},
		"google:setup-token": {Type: "token", Provider: "google", Token: "setup"},
	}, file.Profiles)
}

func TestResolveModel(t *testing.T) {
	overrides := map[string]string{"openai": "openai/o3"}

	assert.Equal(t, "openai/o3", ResolveModel("openai", overrides))
	assert.Equal(t, "anthropic/claude-sonnet-4-5", ResolveModel("anthropic", overrides))
	assert.Equal(t, "openrouter/anthropic/claude-sonnet-4.5", ResolveModel("openrouter", nil))
	assert.Equal(t, "", ResolveModel("unknown", nil))
}
