// Package jwt issues and verifies the HS256 session tokens that carry a user's identity,
// role and session id.
//
// Tokens are immutable: they end by expiry or signature mismatch. Logical revocation is
// the session store's job; a token that verifies here is only a claim that a session
// existed when it was issued.
package jwt
