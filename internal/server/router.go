package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/ripplelabs/feedline/backend/internal/auth"
	"github.com/ripplelabs/feedline/backend/internal/docstore"
	"go.uber.org/zap"
)

const (
	subjectContextKey = "feedline_subject"
	emailContextKey   = "feedline_email"

	maxFeedPageSize     = 50
	defaultFeedPageSize = 10
)

var (
	errMissingAssertionVerifier = errors.New("assertion verifier dependency required")
	errMissingSessionMinter     = errors.New("session minter dependency required")
	errMissingSessionVerifier   = errors.New("session verifier dependency required")
	errMissingDocumentStore     = errors.New("document store dependency required")
)

// AssertionVerifier validates identity-provider assertions.
type AssertionVerifier interface {
	Verify(ctx context.Context, assertion string) (auth.AssertionClaims, error)
}

// SessionMinter mints signed session artifacts from verified claims.
type SessionMinter interface {
	MintSession(ctx context.Context, claims auth.AssertionClaims) (string, int, error)
}

// SessionVerifier validates session artifacts carried in cookies.
type SessionVerifier interface {
	CookieName() string
	VerifyToken(ctx context.Context, token string) (auth.SessionClaims, error)
	ClaimsFromRequest(ctx context.Context, r *http.Request) *auth.SessionClaims
}

// SessionRevoker records individually revoked session token ids.
type SessionRevoker interface {
	Revoke(ctx context.Context, tokenID, subject string, expiresAt time.Time) error
}

// Dependencies wires the HTTP surface.
type Dependencies struct {
	Assertions    AssertionVerifier
	Minter        SessionMinter
	Sessions      SessionVerifier
	Revocations   SessionRevoker
	Documents     docstore.Store
	Guard         GuardConfig
	SecureCookies bool
	Logger        *zap.Logger

	// IdentityKeys optionally mounts the JWKS document of the built-in
	// directory provider.
	IdentityKeys http.Handler
}

// NewHTTPHandler builds the router: session bridge endpoints, the record
// API, the own-records event stream, and guard-gated page routes.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Assertions == nil {
		return nil, errMissingAssertionVerifier
	}
	if deps.Minter == nil {
		return nil, errMissingSessionMinter
	}
	if deps.Sessions == nil {
		return nil, errMissingSessionVerifier
	}
	if deps.Documents == nil {
		return nil, errMissingDocumentStore
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		assertions:    deps.Assertions,
		minter:        deps.Minter,
		sessions:      deps.Sessions,
		revocations:   deps.Revocations,
		documents:     deps.Documents,
		guard:         deps.Guard.withDefaults(),
		secureCookies: deps.SecureCookies,
		logger:        logger,
	}

	router.POST("/api/auth/session", handler.handleCreateSession)
	router.POST("/api/auth/signout", handler.handleDestroySession)
	router.GET("/api/auth/me", handler.handleCurrentUser)
	router.GET("/api/feed", handler.handleFeedPage)

	protected := router.Group("/api")
	protected.Use(handler.requireSession)
	protected.POST("/records", handler.handleAddRecord)
	protected.DELETE("/records/:id", handler.handleDeleteRecord)
	protected.GET("/records/stream", handler.handleOwnRecordsStream)

	pages := router.Group("/")
	pages.Use(EdgeGuard(handler.guard))
	pages.GET("/", handler.handleHomePage)
	pages.GET("/login", handler.handleLoginPage)
	pages.GET("/dashboard", handler.handleDashboardPage)
	pages.GET("/dashboard/*rest", handler.handleDashboardPage)

	if deps.IdentityKeys != nil {
		router.GET("/idp/jwks.json", gin.WrapH(deps.IdentityKeys))
	}

	return router, nil
}

type httpHandler struct {
	assertions    AssertionVerifier
	minter        SessionMinter
	sessions      SessionVerifier
	revocations   SessionRevoker
	documents     docstore.Store
	guard         GuardConfig
	secureCookies bool
	logger        *zap.Logger
}

type sessionRequestPayload struct {
	IDToken string `json:"idToken"`
}

// handleCreateSession exchanges a short-lived identity assertion for the
// long-lived session cookie. Verification failures answer with a generic
// unauthorized body; the diagnostic stays in the server log.
func (h *httpHandler) handleCreateSession(c *gin.Context) {
	var request sessionRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.IDToken) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_token", "message": "idToken is required"})
		return
	}

	claims, err := h.assertions.Verify(c.Request.Context(), request.IDToken)
	if err != nil {
		h.logger.Warn("assertion verification failed", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "invalid identity assertion"})
		return
	}

	artifact, maxAge, err := h.minter.MintSession(c.Request.Context(), claims)
	if err != nil {
		h.logger.Error("session mint failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session_mint_failed"})
		return
	}

	h.writeSessionCookie(c, artifact, maxAge)
	c.JSON(http.StatusOK, gin.H{"status": "success", "uid": claims.Subject})
}

// handleDestroySession clears the session cookie and revokes the presented
// artifact when it parses. It succeeds regardless of prior state.
func (h *httpHandler) handleDestroySession(c *gin.Context) {
	if cookie, err := c.Request.Cookie(h.sessions.CookieName()); err == nil {
		h.revokePresentedSession(c.Request.Context(), cookie.Value)
	}
	h.writeSessionCookie(c, "", -1)
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (h *httpHandler) revokePresentedSession(ctx context.Context, artifact string) {
	if h.revocations == nil {
		return
	}
	claims, err := h.sessions.VerifyToken(ctx, artifact)
	if err != nil {
		// An unverifiable artifact cannot authenticate anything, so there is
		// nothing to revoke.
		h.logger.Debug("sign-out presented unverifiable session", zap.Error(err))
		return
	}
	expiresAt := time.Time{}
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	if err := h.revocations.Revoke(ctx, claims.ID, claims.Subject, expiresAt); err != nil {
		h.logger.Warn("session revocation failed", zap.Error(err))
	}
}

// handleCurrentUser is the verify path: absent or invalid cookies are a
// normal signed-out state, never an error.
func (h *httpHandler) handleCurrentUser(c *gin.Context) {
	claims := h.sessions.ClaimsFromRequest(c.Request.Context(), c.Request)
	if claims == nil {
		c.JSON(http.StatusOK, gin.H{"authenticated": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"authenticated": true,
		"user": gin.H{
			"uid":          claims.Subject,
			"email":        claims.Email,
			"displayName":  claims.DisplayName,
			"avatarUrl":    claims.AvatarURL,
			"signInMethod": claims.SignInMethod,
		},
	})
}

func (h *httpHandler) requireSession(c *gin.Context) {
	claims := h.sessions.ClaimsFromRequest(c.Request.Context(), c.Request)
	if claims == nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(subjectContextKey, claims.Subject)
	c.Set(emailContextKey, claims.Email)
	c.Next()
}

type recordRequestPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type recordPayload struct {
	ID         string    `json:"id"`
	OwnerID    string    `json:"ownerId"`
	OwnerEmail string    `json:"ownerEmail"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	CreatedAt  time.Time `json:"createdAt"`
}

func toRecordPayload(record docstore.Record) recordPayload {
	return recordPayload{
		ID:         record.ID,
		OwnerID:    record.OwnerID,
		OwnerEmail: record.OwnerEmail,
		Title:      record.Title,
		Body:       record.Body,
		CreatedAt:  record.CreatedAt,
	}
}

func (h *httpHandler) handleAddRecord(c *gin.Context) {
	var request recordRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if strings.TrimSpace(request.Title) == "" || strings.TrimSpace(request.Body) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "title and body are required"})
		return
	}

	record, err := h.documents.AddRecord(c.Request.Context(), docstore.Record{
		OwnerID:    c.GetString(subjectContextKey),
		OwnerEmail: c.GetString(emailContextKey),
		Title:      request.Title,
		Body:       request.Body,
	})
	if err != nil {
		h.logger.Error("record write failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "write_failed"})
		return
	}
	c.JSON(http.StatusCreated, toRecordPayload(record))
}

func (h *httpHandler) handleDeleteRecord(c *gin.Context) {
	id := c.Param("id")
	if err := h.documents.DeleteRecord(c.Request.Context(), id); err != nil {
		if errors.Is(err, docstore.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
			return
		}
		h.logger.Error("record delete failed", zap.String("record_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

// handleFeedPage serves one page of the global feed. hasMore is inferred:
// a short page means the feed is exhausted.
func (h *httpHandler) handleFeedPage(c *gin.Context) {
	limit := defaultFeedPageSize
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit"})
			return
		}
		if parsed > maxFeedPageSize {
			parsed = maxFeedPageSize
		}
		limit = parsed
	}

	spec := docstore.QuerySpec{Limit: limit}
	if raw := c.Query("cursor"); raw != "" {
		cursor, err := docstore.DecodeCursor(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_cursor"})
			return
		}
		spec.StartAfter = &cursor
	}

	records, err := h.documents.Query(c.Request.Context(), spec)
	if err != nil {
		h.logger.Error("feed query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query_failed"})
		return
	}

	payload := make([]recordPayload, 0, len(records))
	for _, record := range records {
		payload = append(payload, toRecordPayload(record))
	}
	nextCursor := ""
	if len(records) > 0 {
		nextCursor = docstore.CursorForRecord(records[len(records)-1]).Encode()
	}
	c.JSON(http.StatusOK, gin.H{
		"records":    payload,
		"nextCursor": nextCursor,
		"hasMore":    len(records) == limit,
	})
}

func (h *httpHandler) handleHomePage(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"page": "home"})
}

func (h *httpHandler) handleLoginPage(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"page": "login"})
}

// handleDashboardPage is the authoritative tier behind the edge guard: it
// re-verifies the artifact and bounces stale or tampered sessions that the
// presence-only check let through.
func (h *httpHandler) handleDashboardPage(c *gin.Context) {
	claims := h.sessions.ClaimsFromRequest(c.Request.Context(), c.Request)
	if claims == nil {
		c.Redirect(http.StatusTemporaryRedirect, h.guard.LoginPath)
		return
	}
	c.JSON(http.StatusOK, gin.H{"page": "dashboard", "uid": claims.Subject})
}

func (h *httpHandler) writeSessionCookie(c *gin.Context, value string, maxAge int) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     h.sessions.CookieName(),
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}
