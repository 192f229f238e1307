package issuer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/rs/zerolog/log"
)

// contentType marks the token as a Twilio access token.
const contentType = "twilio-fpa;v=1"

var (
	// ErrMissingCredentials is returned when a VoiceIssuer is built without its account keys.
	ErrMissingCredentials = errors.New("issuer: account sid, api key and api secret are required")
	// ErrMissingApplication is returned when no outgoing application sid is configured.
	ErrMissingApplication = errors.New("issuer: outgoing application sid is required")
	// ErrInvalidTTL is returned for a non-positive credential lifetime.
	ErrInvalidTTL = errors.New("issuer: ttl must be positive")
)

// VoiceConfig holds the account keys used to sign voice access tokens.
type VoiceConfig struct {
	AccountSID     string // account the token is scoped to ("sub")
	APIKeySID      string // signing key id ("iss")
	APISecret      string // signing key secret
	ApplicationSID string // TwiML application dialled by outgoing calls
	AllowIncoming  bool   // lets the identity receive calls
}

// VoiceIssuer signs access tokens carrying a voice grant.
type VoiceIssuer struct {
	cfg VoiceConfig
	now func() time.Time
}

var _ Issuer = (*VoiceIssuer)(nil)

type voiceGrant struct {
	Outgoing *outgoingGrant `json:"outgoing,omitempty"`
	Incoming *incomingGrant `json:"incoming,omitempty"`
}

type outgoingGrant struct {
	ApplicationSID string `json:"application_sid"`
}

type incomingGrant struct {
	Allow bool `json:"allow"`
}

type grants struct {
	Identity string      `json:"identity"`
	Voice    *voiceGrant `json:"voice,omitempty"`
}

// voiceClaims is the payload of a voice access token.
type voiceClaims struct {
	jwt.RegisteredClaims
	Grants grants `json:"grants"`
}

// NewVoiceIssuer validates cfg and creates a VoiceIssuer.
func NewVoiceIssuer(cfg VoiceConfig) (*VoiceIssuer, error) {
	if cfg.AccountSID == "" || cfg.APIKeySID == "" || cfg.APISecret == "" {
		return nil, ErrMissingCredentials
	}
	if cfg.ApplicationSID == "" {
		return nil, ErrMissingApplication
	}
	return &VoiceIssuer{cfg: cfg, now: time.Now}, nil
}

// Generate signs an access token for identity that expires after ttl.
func (v *VoiceIssuer) Generate(ctx context.Context, identity string, ttl time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if ttl <= 0 {
		return "", ErrInvalidTTL
	}

	now := v.now()
	claims := voiceClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        fmt.Sprintf("%s-%d", v.cfg.APIKeySID, now.Unix()),
			Issuer:    v.cfg.APIKeySID,
			Subject:   v.cfg.AccountSID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Grants: grants{
			Identity: identity,
			Voice: &voiceGrant{
				Outgoing: &outgoingGrant{ApplicationSID: v.cfg.ApplicationSID},
			},
		},
	}
	if v.cfg.AllowIncoming {
		claims.Grants.Voice.Incoming = &incomingGrant{Allow: true}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["cty"] = contentType

	signed, err := token.SignedString([]byte(v.cfg.APISecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign voice access token: %w", err)
	}
	log.Debug().Str("identity", identity).Dur("ttl", ttl).Str("jti", claims.ID).Msg("voice access token signed")
	return signed, nil
}
