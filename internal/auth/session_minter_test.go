package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var fixedMintTime = time.Date(2026, 7, 15, 12, 0, 0, 0, time.UTC)

func newTestMinter(ttl time.Duration) *SessionMinter {
	return NewSessionMinter(SessionMinterConfig{
		SigningSecret: []byte("test-session-secret"),
		Issuer:        "feedline-session",
		SessionTTL:    ttl,
		Clock:         func() time.Time { return fixedMintTime },
	})
}

func TestMintSessionRoundTrip(t *testing.T) {
	minter := newTestMinter(0)

	signed, maxAge, err := minter.MintSession(context.Background(), AssertionClaims{
		Subject:      testSubject,
		Email:        "user@example.com",
		DisplayName:  "Avery Example",
		AvatarURL:    "https://cdn.example.com/a.png",
		SignInMethod: "password",
	})
	if err != nil {
		t.Fatalf("mint failed: %v", err)
	}
	if maxAge != int((120 * time.Hour).Seconds()) {
		t.Fatalf("expected 5-day max age, got %d", maxAge)
	}

	claims := &SessionClaims{}
	_, err = jwt.ParseWithClaims(signed, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte("test-session-secret"), nil
	}, jwt.WithTimeFunc(func() time.Time { return fixedMintTime }))
	if err != nil {
		t.Fatalf("failed to parse minted artifact: %v", err)
	}

	if claims.Subject != testSubject {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}
	if claims.Email != "user@example.com" {
		t.Fatalf("unexpected email: %s", claims.Email)
	}
	if claims.Issuer != "feedline-session" {
		t.Fatalf("unexpected issuer: %s", claims.Issuer)
	}
	if claims.ID == "" {
		t.Fatal("expected a token id claim")
	}
	if !claims.ExpiresAt.Time.Equal(fixedMintTime.Add(120 * time.Hour)) {
		t.Fatalf("unexpected expiry: %v", claims.ExpiresAt.Time)
	}
}

func TestMintSessionUniqueTokenIDs(t *testing.T) {
	minter := newTestMinter(time.Hour)

	seen := make(map[string]struct{})
	for i := 0; i < 5; i++ {
		signed, _, err := minter.MintSession(context.Background(), AssertionClaims{Subject: testSubject})
		if err != nil {
			t.Fatalf("mint failed: %v", err)
		}
		claims := &SessionClaims{}
		parser := jwt.NewParser()
		if _, _, err := parser.ParseUnverified(signed, claims); err != nil {
			t.Fatalf("failed to parse artifact: %v", err)
		}
		if _, duplicate := seen[claims.ID]; duplicate {
			t.Fatalf("duplicate token id: %s", claims.ID)
		}
		seen[claims.ID] = struct{}{}
	}
}

func TestMintSessionMissingSecret(t *testing.T) {
	minter := NewSessionMinter(SessionMinterConfig{Issuer: "feedline-session"})
	if _, _, err := minter.MintSession(context.Background(), AssertionClaims{Subject: testSubject}); !errors.Is(err, errMissingSigningSecret) {
		t.Fatalf("expected missing secret error, got %v", err)
	}
}

func TestMintSessionMissingSubject(t *testing.T) {
	minter := newTestMinter(time.Hour)
	if _, _, err := minter.MintSession(context.Background(), AssertionClaims{}); !errors.Is(err, errMissingSubjectClaim) {
		t.Fatalf("expected missing subject error, got %v", err)
	}
}
