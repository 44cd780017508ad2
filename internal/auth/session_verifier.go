package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

var (
	ErrMissingSessionSigningKey = errors.New("session verifier: signing key required")
	ErrMissingSessionIssuer     = errors.New("session verifier: issuer required")
	ErrMissingSessionCookieName = errors.New("session verifier: cookie name required")
	ErrMissingSessionToken      = errors.New("session verifier: token required")
	ErrInvalidSessionToken      = errors.New("session verifier: invalid token")
	ErrExpiredSessionToken      = errors.New("session verifier: token expired")
	ErrRevokedSessionToken      = errors.New("session verifier: token revoked")
	ErrMissingSessionSubject    = errors.New("session verifier: subject required")
)

// RevocationChecker reports whether a session token id has been revoked.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// SessionVerifierConfig describes how to validate minted session artifacts.
type SessionVerifierConfig struct {
	SigningSecret []byte
	Issuer        string
	CookieName    string
	Revocations   RevocationChecker
	Logger        *zap.Logger
	Clock         func() time.Time
}

// SessionVerifier validates HS256 session artifacts, including revocation
// status. It performs no mutation and is safe to run on every request.
type SessionVerifier struct {
	signingSecret []byte
	issuer        string
	cookieName    string
	revocations   RevocationChecker
	logger        *zap.Logger
	clock         func() time.Time
}

// NewSessionVerifier constructs a verifier with the provided configuration.
func NewSessionVerifier(cfg SessionVerifierConfig) (*SessionVerifier, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, ErrMissingSessionSigningKey
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		return nil, ErrMissingSessionIssuer
	}
	cookieName := strings.TrimSpace(cfg.CookieName)
	if cookieName == "" {
		return nil, ErrMissingSessionCookieName
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &SessionVerifier{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        issuer,
		cookieName:    cookieName,
		revocations:   cfg.Revocations,
		logger:        logger,
		clock:         clock,
	}, nil
}

// CookieName returns the cookie name configured for session lookups.
func (v *SessionVerifier) CookieName() string {
	return v.cookieName
}

// VerifyToken validates the supplied artifact and returns the parsed claims.
func (v *SessionVerifier) VerifyToken(ctx context.Context, tokenString string) (SessionClaims, error) {
	token := strings.TrimSpace(tokenString)
	if token == "" {
		return SessionClaims{}, ErrMissingSessionToken
	}

	claims := &SessionClaims{}
	parsed, err := jwt.ParseWithClaims(
		token,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("%w: unexpected signing algorithm %s", ErrInvalidSessionToken, t.Method.Alg())
			}
			return v.signingSecret, nil
		},
		jwt.WithTimeFunc(v.clock),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return SessionClaims{}, ErrExpiredSessionToken
		}
		return SessionClaims{}, fmt.Errorf("%w: %v", ErrInvalidSessionToken, err)
	}
	if parsed == nil || !parsed.Valid {
		return SessionClaims{}, ErrInvalidSessionToken
	}
	if claims.Issuer != v.issuer {
		return SessionClaims{}, ErrInvalidSessionToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return SessionClaims{}, ErrMissingSessionSubject
	}

	if v.revocations != nil && claims.ID != "" {
		revoked, err := v.revocations.IsRevoked(ctx, claims.ID)
		if err != nil {
			return SessionClaims{}, fmt.Errorf("%w: revocation lookup: %v", ErrInvalidSessionToken, err)
		}
		if revoked {
			return SessionClaims{}, ErrRevokedSessionToken
		}
	}

	return *claims, nil
}

// ClaimsFromRequest reads the session cookie from the request and verifies
// it. Absence of a cookie is a normal state, not an error: the result is nil
// claims. Verification failures also yield nil, with the cause logged.
func (v *SessionVerifier) ClaimsFromRequest(ctx context.Context, r *http.Request) *SessionClaims {
	if r == nil {
		return nil
	}
	cookie, err := r.Cookie(v.cookieName)
	if err != nil || cookie == nil {
		return nil
	}
	claims, err := v.VerifyToken(ctx, cookie.Value)
	if err != nil {
		v.logger.Info("session verification failed", zap.Error(err))
		return nil
	}
	return &claims
}
