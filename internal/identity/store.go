package identity

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ripplelabs/feedline/backend/internal/idp"
	"go.uber.org/zap"
)

const (
	minPasswordLength = 6
	bridgeCallTimeout = 10 * time.Second
)

var errMissingProvider = errors.New("identity: provider client required")

// SessionAPI is the server boundary used to exchange identity assertions for
// session cookies and to tear sessions down.
type SessionAPI interface {
	CreateSession(ctx context.Context, assertion string) error
	DestroySession(ctx context.Context) error
}

// State is a point-in-time copy of the store's observable state.
type State struct {
	// Identity mirrors the provider's auth-state stream; nil means signed out.
	Identity *idp.Session
	// Loading stays true until the first auth-state emission arrives.
	Loading bool
	// LastError carries the translated message of the most recent failure.
	LastError string
}

// StoreConfig bundles dependencies for the identity store.
type StoreConfig struct {
	Provider idp.Client
	Sessions SessionAPI
	Logger   *zap.Logger
}

// Store mirrors the provider's push-based auth state and orchestrates the
// server-session exchange whenever the signed-in principal changes. The
// auth-state callback is the sole writer of the identity field; every
// emission replaces it wholesale.
type Store struct {
	provider idp.Client
	sessions SessionAPI
	logger   *zap.Logger

	mu          sync.Mutex
	identity    *idp.Session
	loading     bool
	lastError   string
	initialized bool
	closed      bool
	unsubscribe func()

	// lastBridgedSubject dedupes session-create calls: exactly one exchange
	// per identity change, even if the provider re-emits the same principal.
	lastBridgedSubject string
}

// NewStore constructs the store. Init must be called to start mirroring.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Provider == nil {
		return nil, errMissingProvider
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		provider: cfg.Provider,
		sessions: cfg.Sessions,
		logger:   logger,
		loading:  true,
	}, nil
}

// Init registers the single auth-state subscription. Calling Init again is a
// no-op: the initialization flag prevents a second registration and the
// listener leak it would cause.
func (s *Store) Init() {
	s.mu.Lock()
	if s.initialized {
		s.mu.Unlock()
		return
	}
	s.initialized = true
	s.mu.Unlock()

	// The mutex cannot be held across registration: the provider delivers the
	// initial emission synchronously and handleAuthState takes it.
	unsubscribe := s.provider.SubscribeAuthState(s.handleAuthState)

	s.mu.Lock()
	if s.closed {
		// Close ran while the registration was in flight; release it here
		// instead of leaking it.
		s.mu.Unlock()
		unsubscribe()
		return
	}
	s.unsubscribe = unsubscribe
	s.mu.Unlock()
}

// Close cancels the auth-state subscription exactly once, including a
// registration still in flight inside Init.
func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

// State returns a copy of the current observable state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := State{Loading: s.loading, LastError: s.lastError}
	if s.identity != nil {
		clone := *s.identity
		state.Identity = &clone
	}
	return state
}

// SignInWithPassword authenticates against the provider. Failures are
// translated, stored for display, and returned.
func (s *Store) SignInWithPassword(ctx context.Context, email, password string) error {
	s.setLastError("")
	if err := s.provider.SignInWithPassword(ctx, email, password); err != nil {
		message := idp.TranslateError(err)
		s.setLastError(message)
		return errors.New(message)
	}
	return nil
}

// SignUpWithPassword registers a new account. Passwords shorter than six
// characters are rejected locally, before any provider call.
func (s *Store) SignUpWithPassword(ctx context.Context, email, password, displayName string) error {
	s.setLastError("")
	if len(password) < minPasswordLength {
		message := idp.TranslateCode(idp.CodeWeakPassword)
		s.setLastError(message)
		return errors.New(message)
	}
	if err := s.provider.SignUpWithPassword(ctx, email, password, displayName); err != nil {
		message := idp.TranslateError(err)
		s.setLastError(message)
		return errors.New(message)
	}
	return nil
}

// SignInWithSingleSignOn runs the provider popup flow. A popup closed by the
// user is not an error.
func (s *Store) SignInWithSingleSignOn(ctx context.Context) error {
	s.setLastError("")
	if err := s.provider.SignInWithSSO(ctx); err != nil {
		if idp.CodeOf(err) == idp.CodePopupClosed {
			return nil
		}
		message := idp.TranslateError(err)
		s.setLastError(message)
		return errors.New(message)
	}
	return nil
}

// SignOut signs out of the provider and tears down the server session. Local
// state is cleared regardless of network outcome: a failed destroy call must
// never leave the client appearing signed in.
func (s *Store) SignOut(ctx context.Context) error {
	if err := s.provider.SignOut(ctx); err != nil {
		s.logger.Warn("provider sign-out failed", zap.Error(err))
	}
	if s.sessions != nil {
		if err := s.sessions.DestroySession(ctx); err != nil {
			s.logger.Warn("server session destroy failed", zap.Error(err))
		}
	}

	s.mu.Lock()
	s.identity = nil
	s.lastError = ""
	s.lastBridgedSubject = ""
	s.mu.Unlock()
	return nil
}

// handleAuthState applies one auth-state emission. Emissions are applied in
// the order the provider delivers them; each one replaces the identity
// wholesale and clears the loading flag.
func (s *Store) handleAuthState(session *idp.Session) {
	s.mu.Lock()
	s.identity = session
	s.loading = false

	bridge := false
	if session == nil {
		s.lastBridgedSubject = ""
	} else if session.SubjectID != s.lastBridgedSubject {
		s.lastBridgedSubject = session.SubjectID
		bridge = true
	}
	s.mu.Unlock()

	if bridge {
		s.createServerSession()
	}
}

// createServerSession exchanges a fresh assertion for a session cookie. The
// call is fire-and-forget with respect to the caller's state: failures are
// logged and the principal stays signed in locally, so a later protected
// page visit falls back to the authoritative login redirect.
func (s *Store) createServerSession() {
	if s.sessions == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), bridgeCallTimeout)
	defer cancel()

	assertion, err := s.provider.CurrentAssertion(ctx)
	if err != nil {
		s.logger.Warn("assertion fetch failed", zap.Error(err))
		return
	}
	if err := s.sessions.CreateSession(ctx, assertion); err != nil {
		s.logger.Warn("server session creation failed", zap.Error(err))
	}
}

func (s *Store) setLastError(message string) {
	s.mu.Lock()
	s.lastError = message
	s.mu.Unlock()
}
