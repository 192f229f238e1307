package session

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const signedIssuer = "callgate"

var _ Binder = (*SignedBinder)(nil)

// proofClaims are the claims carried by a signed proof. The identity lives in "sub".
type proofClaims struct {
	jwt.RegisteredClaims
}

// SignedBinder issues stateless HS256 proofs.
type SignedBinder struct {
	secret []byte
	ttl    time.Duration // zero means proofs never expire
	now    func() time.Time
}

// SignedOption configures a SignedBinder.
type SignedOption func(*SignedBinder)

// WithTTL sets how long an issued proof stays valid. Zero disables expiry.
func WithTTL(ttl time.Duration) SignedOption {
	return func(b *SignedBinder) {
		if ttl >= 0 {
			b.ttl = ttl
		} else {
			log.Warn().Dur("invalid_ttl", ttl).Msg("ignoring negative session ttl option")
		}
	}
}

// WithIssueClock overrides the time source used to stamp new proofs.
func WithIssueClock(now func() time.Time) SignedOption {
	return func(b *SignedBinder) {
		if now != nil {
			b.now = now
		}
	}
}

// NewSignedBinder creates a binder signing with secret, which must be at least MinSecretLength bytes.
func NewSignedBinder(secret []byte, opts ...SignedOption) (*SignedBinder, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("%w: got %d bytes, need %d", ErrSecretTooShort, len(secret), MinSecretLength)
	}
	b := &SignedBinder{
		secret: append([]byte(nil), secret...),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Issue returns a signed proof whose subject is identity.
func (b *SignedBinder) Issue(identity string) (string, error) {
	if identity == "" {
		return "", ErrEmptyIdentity
	}

	now := b.now()
	claims := proofClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       uuid.NewString(),
			Issuer:   signedIssuer,
			Subject:  identity,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if b.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(b.ttl))
	}

	proof, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(b.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session proof: %w", err)
	}
	log.Debug().Str("identity", identity).Str("proof_id", claims.ID).Msg("session proof issued")
	return proof, nil
}

// Verify checks the signature, the expiry and that the subject equals identity.
func (b *SignedBinder) Verify(identity, proof string) bool {
	if identity == "" || proof == "" {
		return false
	}

	var claims proofClaims
	token, err := jwt.ParseWithClaims(proof, &claims, b.keyFunc, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		log.Debug().Err(err).Str("identity", identity).Msg("session proof rejected")
		return false
	}
	if claims.Issuer != signedIssuer || claims.Subject != identity {
		log.Debug().Str("identity", identity).Str("subject", claims.Subject).Msg("session proof bound to another identity")
		return false
	}
	return true
}

func (b *SignedBinder) keyFunc(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return b.secret, nil
}
