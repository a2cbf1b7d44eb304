// Package auth authenticates callers of the callgate HTTP API and authorizes
// administrative actions.
//
// Callers present either an API key (X-API-Key) or an HS256 bearer token. A
// CompositeAuthenticator tries each configured method in order. Middleware
// attaches the resulting Identity to the request context and answers 401 when
// authentication fails. Authorize and RequireRole answer 403 when the
// identity lacks a permission or role.
package auth
