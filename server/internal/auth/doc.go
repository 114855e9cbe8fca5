// Package auth resolves the caller of an HTTP request into an Identity and
// stores it on the request context.
//
// Modes:
//
//	none    every request passes; the subject is taken from the X-Actor
//	        header, or "anonymous" (local development)
//	apikey  the configured header must carry the configured key; an empty
//	        key disables the check
//	jwt     an HS256 bearer token signed with the configured secret; the
//	        token subject becomes the identity
//
// Failed checks answer 401 before the wrapped handler runs.
package auth
