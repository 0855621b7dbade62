// Package session tracks revoked session ids in redis. Session tokens are
// stateless, so revocation is a tombstone held for the remainder of the
// token's life; a per-account index supports revoking every live session
// at once when credentials change.
package session
