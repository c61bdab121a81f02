// Package auth authenticates API callers with HS256 JWTs.
//
// Tokens carry a "sub" claim naming the caller and an optional "org" claim.
// A token with an org claim may only act on that org's gateways; a token
// without one is an operator token valid for every org.
//
//	verifier, err := auth.NewJWTVerifier(secret)
//	token, err := verifier.Generate("ops@example.com", "", 24*time.Hour)
//
// HTTPAuthMiddleware puts an AuthContext on the request context, and
// RequireOrgHTTP checks it against the {orgID} path value.
package auth
