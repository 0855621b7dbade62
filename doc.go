// Package portalauth is the multi-channel identity and authentication core
// of the Solstream asset-diligence platform: TOTP multi-factor auth,
// multi-provider OAuth code exchange, proof-of-control binding of
// out-of-band identifiers, portal scope resolution, and signed session
// tokens.
//
// The package is designed for concurrent server workloads: Engine methods
// are safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// portalauth is the public surface. It exposes [Engine], [Builder],
// [Config], the [Directory] persistence interface, and value types
// (PortalScope, BindingChallengeInfo, AuthOutcome, etc.). Session token
// signing lives in the jwt/ subpackage, revocation entries in session/,
// third-party identity providers in provider/, and internal coordination
// (random material, metric counters) under internal/.
//
// # What this package must NOT do
//
//   - Expose Redis clients, store encodings, or provider HTTP details in
//     its public API.
//   - Talk to the relational store directly; all durable reads and writes
//     go through the caller-supplied [Directory].
//   - Deliver email or SMS. Binding codes are handed back to the caller
//     for out-of-band delivery.
//
// # Concurrency contract
//
// Every operation is request-scoped; there is no long-lived in-process
// actor besides the audit dispatcher. Binding-challenge consumption and
// backup-code redemption are single atomic read-modify-write steps, so
// two concurrent verifications of the same secret can never both succeed.
package portalauth
