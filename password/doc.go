// Package password hashes and verifies portal passwords with argon2id.
// Hashes are stored in PHC string format so the cost parameters travel
// with the hash and can be raised without invalidating existing rows.
package password
