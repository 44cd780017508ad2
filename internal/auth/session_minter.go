package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Session artifacts carry a fixed 5-day TTL unless configured otherwise.
const defaultSessionTTL = 120 * time.Hour

var (
	errMissingSigningSecret = errors.New("signing secret must be provided")
	errMissingSubjectClaim  = errors.New("subject claim must be provided")
)

// SessionClaims is the payload carried by a minted session artifact.
type SessionClaims struct {
	Email        string `json:"email,omitempty"`
	DisplayName  string `json:"name,omitempty"`
	AvatarURL    string `json:"picture,omitempty"`
	SignInMethod string `json:"sign_in_method,omitempty"`
	jwt.RegisteredClaims
}

// SessionMinterConfig configures the session artifact issuer.
type SessionMinterConfig struct {
	SigningSecret []byte
	Issuer        string
	SessionTTL    time.Duration
	Clock         func() time.Time
}

// SessionMinter exchanges verified assertion claims for signed session
// artifacts bound to a fixed TTL.
type SessionMinter struct {
	signingSecret []byte
	issuer        string
	sessionTTL    time.Duration
	clock         func() time.Time
}

// NewSessionMinter constructs a SessionMinter with sane defaults.
func NewSessionMinter(cfg SessionMinterConfig) *SessionMinter {
	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &SessionMinter{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        cfg.Issuer,
		sessionTTL:    ttl,
		clock:         clock,
	}
}

// MintSession produces a signed artifact and its max age in seconds for the
// verified subject. Each artifact carries a unique token identifier so a
// later sign-out can revoke it individually.
func (m *SessionMinter) MintSession(_ context.Context, claims AssertionClaims) (string, int, error) {
	if len(m.signingSecret) == 0 {
		return "", 0, errMissingSigningSecret
	}
	if claims.Subject == "" {
		return "", 0, errMissingSubjectClaim
	}

	tokenID, err := uuid.NewV7()
	if err != nil {
		return "", 0, fmt.Errorf("session token id: %w", err)
	}

	now := m.clock().UTC()
	expiresAt := now.Add(m.sessionTTL)

	payload := SessionClaims{
		Email:        claims.Email,
		DisplayName:  claims.DisplayName,
		AvatarURL:    claims.AvatarURL,
		SignInMethod: claims.SignInMethod,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        tokenID.String(),
			Subject:   claims.Subject,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, payload)
	signed, err := token.SignedString(m.signingSecret)
	if err != nil {
		return "", 0, err
	}

	return signed, int(expiresAt.Sub(now).Seconds()), nil
}
