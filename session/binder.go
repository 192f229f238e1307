// Package session binds a client identity to a proof the client presents on
// later requests.
//
// Two binders are provided. SignedBinder issues HS256-signed tokens that carry
// the identity and need no server-side state. StatefulBinder keeps the last
// proof issued to each identity in memory and compares on verify.
package session

import "errors"

// Session modes
const (
	ModeSigned   = "signed"
	ModeStateful = "stateful"
)

var (
	// ErrEmptyIdentity is returned when a proof is requested for an empty identity.
	ErrEmptyIdentity = errors.New("session: identity is required")
	// ErrSecretTooShort is returned when the signing secret is shorter than MinSecretLength.
	ErrSecretTooShort = errors.New("session: signing secret is too short")
)

// MinSecretLength is the minimum signing secret length in bytes.
const MinSecretLength = 32

// Issuer mints a proof bound to one identity.
type Issuer interface {
	Issue(identity string) (string, error)
}

// Verifier checks a presented proof against the identity presenting it.
type Verifier interface {
	// Verify reports whether proof was issued for exactly identity and has not
	// been tampered with. Any failure, including a missing or malformed proof,
	// is reported as false.
	Verify(identity, proof string) bool
}

// Binder both issues and verifies proofs.
type Binder interface {
	Issuer
	Verifier
}
