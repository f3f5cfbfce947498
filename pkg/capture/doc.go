// Package capture defines the identity-capture domain: capture kinds and
// their validation policies, capture sessions, captures and the payloads
// they are built from, and the per-kind capture list shared by the store
// and the orchestrator.
//
// # Kinds
//
// A session captures one of three kinds:
//
//   - document-front: validated remotely, created with an unknown validity
//   - document-back: auto-valid, never sent for validation
//   - face: auto-valid, never sent for validation
//
// The behavior of each kind is declared in a policy table (see [PolicyFor]),
// so adding a kind is a data change rather than a new branch in the
// orchestrator.
package capture
