// Package credentials resolves an organization's active model-provider
// credentials and renders them into the auth-profiles document that a
// gateway container reads from its workspace.
//
// Credentials are stored per org, one per provider. Only providers in the
// Providers registry are active; OAuth credentials whose JSON is malformed or
// lacks an access or refresh token are skipped. The result is ordered by the
// registry so the primary model is stable across calls.
package credentials
