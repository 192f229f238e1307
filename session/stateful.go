package session

import (
	"crypto/subtle"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var _ Binder = (*StatefulBinder)(nil)

// StatefulBinder remembers the last proof issued to each identity.
// Issuing again for the same identity replaces the previous proof.
//
// Entries live for the process lifetime.
type StatefulBinder struct {
	mu     sync.RWMutex
	proofs map[string]string // identity -> proof
}

// NewStatefulBinder creates an empty StatefulBinder.
func NewStatefulBinder() *StatefulBinder {
	return &StatefulBinder{proofs: make(map[string]string)}
}

// Issue stores and returns a fresh random proof for identity.
func (b *StatefulBinder) Issue(identity string) (string, error) {
	if identity == "" {
		return "", ErrEmptyIdentity
	}

	proof := uuid.NewString()

	b.mu.Lock()
	b.proofs[identity] = proof
	b.mu.Unlock()

	log.Debug().Str("identity", identity).Msg("stateful session proof issued")
	return proof, nil
}

// Verify reports whether proof equals the proof last issued to identity.
func (b *StatefulBinder) Verify(identity, proof string) bool {
	if identity == "" || proof == "" {
		return false
	}

	b.mu.RLock()
	want, ok := b.proofs[identity]
	b.mu.RUnlock()

	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(proof)) == 1
}

// Len returns the number of identities holding a proof.
func (b *StatefulBinder) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.proofs)
}
