package idp

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	defaultAssertionTTL = 10 * time.Minute
	minPasswordLength   = 6
)

var (
	errMissingDirectoryDatabase = errors.New("idp: database handle required")
	errMissingDirectoryIssuer   = errors.New("idp: issuer required")
	errMissingDirectoryAudience = errors.New("idp: audience required")
	// ErrNoSignedInPrincipal is returned when an assertion is requested
	// without an authenticated session.
	ErrNoSignedInPrincipal = errors.New("idp: no signed-in principal")
)

// Account persists a directory login. Passwords are stored as bcrypt hashes.
type Account struct {
	SubjectID    string    `gorm:"column:subject_id;primaryKey;size:190;not null"`
	Email        string    `gorm:"column:email;size:320;not null;uniqueIndex"`
	PasswordHash string    `gorm:"column:password_hash;size:128;not null"`
	DisplayName  string    `gorm:"column:display_name;size:320"`
	AvatarURL    string    `gorm:"column:avatar_url;size:512"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing directory accounts.
func (Account) TableName() string {
	return "idp_accounts"
}

// SSOExchange completes a single-sign-on popup and returns the federated
// identity. Tests and dev tooling supply it; production deployments point the
// assertion verifier at the real provider instead.
type SSOExchange func(ctx context.Context) (Session, error)

// DirectoryConfig bundles dependencies for the built-in identity provider.
type DirectoryConfig struct {
	Database     *gorm.DB
	Issuer       string
	Audience     string
	AssertionTTL time.Duration
	SigningKey   *rsa.PrivateKey
	KeyID        string
	SSO          SSOExchange
	Logger       *zap.Logger
	Clock        func() time.Time
}

// Directory is an in-process identity provider backing password sign-in and
// sign-up. It mints RS256 assertions, serves the matching JWKS document, and
// pushes auth-state emissions to subscribers in the order they occur.
type Directory struct {
	db           *gorm.DB
	issuer       string
	audience     string
	assertionTTL time.Duration
	signingKey   *rsa.PrivateKey
	keyID        string
	sso          SSOExchange
	logger       *zap.Logger
	clock        func() time.Time

	mu          sync.Mutex
	current     *Session
	subscribers map[int64]AuthStateCallback
	nextID      int64
}

// NewDirectory constructs the provider, generating a signing key when none is
// supplied.
func NewDirectory(cfg DirectoryConfig) (*Directory, error) {
	if cfg.Database == nil {
		return nil, errMissingDirectoryDatabase
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		return nil, errMissingDirectoryIssuer
	}
	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		return nil, errMissingDirectoryAudience
	}

	ttl := cfg.AssertionTTL
	if ttl <= 0 {
		ttl = defaultAssertionTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	signingKey := cfg.SigningKey
	if signingKey == nil {
		generated, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return nil, fmt.Errorf("idp: generate signing key: %w", err)
		}
		signingKey = generated
	}
	keyID := strings.TrimSpace(cfg.KeyID)
	if keyID == "" {
		keyID = "directory-key-1"
	}

	return &Directory{
		db:           cfg.Database,
		issuer:       issuer,
		audience:     audience,
		assertionTTL: ttl,
		signingKey:   signingKey,
		keyID:        keyID,
		sso:          cfg.SSO,
		logger:       logger,
		clock:        clock,
		subscribers:  make(map[int64]AuthStateCallback),
	}, nil
}

// SignInWithPassword authenticates an existing account.
func (d *Directory) SignInWithPassword(ctx context.Context, email, password string) error {
	normalized, err := normalizeEmail(email)
	if err != nil {
		return err
	}

	var account Account
	lookupErr := d.db.WithContext(ctx).Where("email = ?", normalized).Take(&account).Error
	if errors.Is(lookupErr, gorm.ErrRecordNotFound) {
		return NewProviderError(CodeInvalidCredential, nil)
	}
	if lookupErr != nil {
		return fmt.Errorf("idp: account lookup: %w", lookupErr)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return NewProviderError(CodeInvalidCredential, nil)
	}

	d.establishSession(account, SignInMethodPassword)
	return nil
}

// SignUpWithPassword registers a new account and signs it in.
func (d *Directory) SignUpWithPassword(ctx context.Context, email, password, displayName string) error {
	normalized, err := normalizeEmail(email)
	if err != nil {
		return err
	}
	if len(password) < minPasswordLength {
		return NewProviderError(CodeWeakPassword, nil)
	}

	var existing Account
	lookupErr := d.db.WithContext(ctx).Where("email = ?", normalized).Take(&existing).Error
	if lookupErr == nil {
		return NewProviderError(CodeEmailAlreadyInUse, nil)
	}
	if !errors.Is(lookupErr, gorm.ErrRecordNotFound) {
		return fmt.Errorf("idp: account lookup: %w", lookupErr)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("idp: hash password: %w", err)
	}

	subjectID, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("idp: subject id: %w", err)
	}

	account := Account{
		SubjectID:    subjectID.String(),
		Email:        normalized,
		PasswordHash: string(hash),
		DisplayName:  strings.TrimSpace(displayName),
	}
	if err := d.db.WithContext(ctx).Create(&account).Error; err != nil {
		return fmt.Errorf("idp: account create: %w", err)
	}

	d.establishSession(account, SignInMethodPassword)
	return nil
}

// SignInWithSSO completes a popup exchange through the configured hook.
func (d *Directory) SignInWithSSO(ctx context.Context) error {
	if d.sso == nil {
		return NewProviderError(CodeOperationNotAllowed, nil)
	}
	session, err := d.sso(ctx)
	if err != nil {
		return err
	}
	now := d.clock().UTC()
	session.SignInMethod = SignInMethodSSO
	session.IssuedAt = now
	session.ExpiresAt = now.Add(d.assertionTTL)
	d.replaceSession(&session)
	return nil
}

// SignOut clears the current session and emits nil on the auth-state stream.
func (d *Directory) SignOut(ctx context.Context) error {
	d.replaceSession(nil)
	return nil
}

// CurrentAssertion mints a fresh RS256 identity assertion for the signed-in
// principal.
func (d *Directory) CurrentAssertion(ctx context.Context) (string, error) {
	d.mu.Lock()
	current := d.current
	d.mu.Unlock()
	if current == nil {
		return "", ErrNoSignedInPrincipal
	}

	now := d.clock().UTC()
	tokenID, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("idp: assertion id: %w", err)
	}

	claims := jwt.MapClaims{
		"iss":            d.issuer,
		"aud":            d.audience,
		"sub":            current.SubjectID,
		"email":          current.Email,
		"name":           current.DisplayName,
		"picture":        current.AvatarURL,
		"sign_in_method": string(current.SignInMethod),
		"iat":            now.Unix(),
		"exp":            now.Add(d.assertionTTL).Unix(),
		"jti":            tokenID.String(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = d.keyID

	signed, err := token.SignedString(d.signingKey)
	if err != nil {
		return "", fmt.Errorf("idp: sign assertion: %w", err)
	}
	return signed, nil
}

// SubscribeAuthState registers a listener and immediately delivers the
// current state, which may be nil. The returned cancel function is
// idempotent.
func (d *Directory) SubscribeAuthState(callback AuthStateCallback) func() {
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.subscribers[id] = callback
	current := cloneSession(d.current)
	d.mu.Unlock()

	callback(current)

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.subscribers, id)
			d.mu.Unlock()
		})
	}
}

// JWKSHandler serves the provider's public key set.
func (d *Directory) JWKSHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		publicKey := d.signingKey.Public().(*rsa.PublicKey)
		document := map[string]any{
			"keys": []map[string]string{{
				"kty": "RSA",
				"alg": "RS256",
				"use": "sig",
				"kid": d.keyID,
				"n":   base64.RawURLEncoding.EncodeToString(publicKey.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(publicKey.E)).Bytes()),
			}},
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(document); err != nil {
			d.logger.Warn("jwks encode failed", zap.Error(err))
		}
	})
}

func (d *Directory) establishSession(account Account, method SignInMethod) {
	now := d.clock().UTC()
	d.replaceSession(&Session{
		SubjectID:    account.SubjectID,
		Email:        account.Email,
		DisplayName:  account.DisplayName,
		AvatarURL:    account.AvatarURL,
		SignInMethod: method,
		IssuedAt:     now,
		ExpiresAt:    now.Add(d.assertionTTL),
	})
}

// replaceSession swaps the current session and broadcasts it. Broadcasts run
// on the mutating goroutine, so each subscriber observes emissions in the
// order the provider produced them.
func (d *Directory) replaceSession(session *Session) {
	d.mu.Lock()
	d.current = session
	callbacks := make([]AuthStateCallback, 0, len(d.subscribers))
	for _, callback := range d.subscribers {
		callbacks = append(callbacks, callback)
	}
	d.mu.Unlock()

	for _, callback := range callbacks {
		callback(cloneSession(session))
	}
}

func cloneSession(session *Session) *Session {
	if session == nil {
		return nil
	}
	clone := *session
	return &clone
}

func normalizeEmail(email string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(email))
	if normalized == "" || !strings.Contains(normalized, "@") {
		return "", NewProviderError(CodeInvalidEmail, nil)
	}
	return normalized, nil
}
