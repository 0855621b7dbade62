// Package jwt signs and verifies the portal session token. The token is
// self-contained: the subject, session id, and resolved portal scope are
// embedded as claims so downstream services can authorize reads without a
// directory round trip. Revocation is handled outside this package.
package jwt
