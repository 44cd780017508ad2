package idp

import (
	"context"
	"time"
)

// SignInMethod identifies how a principal authenticated with the provider.
type SignInMethod string

const (
	// SignInMethodPassword marks email+password authentication.
	SignInMethodPassword SignInMethod = "password"
	// SignInMethodSSO marks single-sign-on popup authentication.
	SignInMethodSSO SignInMethod = "sso"
)

// Session describes the provider-side view of an authenticated principal.
// A nil *Session on the auth-state stream means nobody is signed in.
type Session struct {
	SubjectID    string
	Email        string
	DisplayName  string
	AvatarURL    string
	SignInMethod SignInMethod
	IssuedAt     time.Time
	ExpiresAt    time.Time
}

// AuthStateCallback receives every auth-state emission, including the
// initial one, which may carry nil when no principal is signed in.
type AuthStateCallback func(session *Session)

// Client is the surface the identity layer consumes from the provider.
type Client interface {
	SignInWithPassword(ctx context.Context, email, password string) error
	SignUpWithPassword(ctx context.Context, email, password, displayName string) error
	SignInWithSSO(ctx context.Context) error
	SignOut(ctx context.Context) error

	// CurrentAssertion mints a fresh short-lived identity assertion for the
	// signed-in principal, suitable for exchanging into a server session.
	CurrentAssertion(ctx context.Context) (string, error)

	// SubscribeAuthState registers a listener on the auth-state stream and
	// delivers the current state immediately. The returned function cancels
	// the registration and is safe to call more than once.
	SubscribeAuthState(callback AuthStateCallback) (unsubscribe func())
}
