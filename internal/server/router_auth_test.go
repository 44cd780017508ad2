package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/ripplelabs/feedline/backend/internal/auth"
	"github.com/ripplelabs/feedline/backend/internal/docstore"
	"gorm.io/gorm"
)

const (
	testSessionSecret = "router-test-secret"
	testSessionIssuer = "feedline-session"
	testSubjectID     = "subject-123"
	validAssertion    = "valid-assertion"
)

// stubAssertions verifies a single scripted assertion string.
type stubAssertions struct {
	claims auth.AssertionClaims
}

func (s *stubAssertions) Verify(_ context.Context, assertion string) (auth.AssertionClaims, error) {
	if assertion != validAssertion {
		return auth.AssertionClaims{}, errors.New("assertion rejected")
	}
	return s.claims, nil
}

type stubRevoker struct {
	mu      sync.Mutex
	revoked []string
}

func (s *stubRevoker) Revoke(_ context.Context, tokenID, subject string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked = append(s.revoked, tokenID)
	return nil
}

type routerFixture struct {
	handler     http.Handler
	minter      *auth.SessionMinter
	revoker     *stubRevoker
	documents   *docstore.GormStore
	revocations *auth.RevocationStore
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access database: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	if err := db.AutoMigrate(&docstore.Record{}, &auth.RevokedSession{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	revocations, err := auth.NewRevocationStore(db, time.Now)
	if err != nil {
		t.Fatalf("failed to construct revocation store: %v", err)
	}

	minter := auth.NewSessionMinter(auth.SessionMinterConfig{
		SigningSecret: []byte(testSessionSecret),
		Issuer:        testSessionIssuer,
	})
	verifier, err := auth.NewSessionVerifier(auth.SessionVerifierConfig{
		SigningSecret: []byte(testSessionSecret),
		Issuer:        testSessionIssuer,
		CookieName:    "session",
		Revocations:   revocations,
	})
	if err != nil {
		t.Fatalf("failed to construct session verifier: %v", err)
	}

	documents, err := docstore.NewGormStore(docstore.GormStoreConfig{
		Database:   db,
		IDProvider: docstore.NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("failed to construct document store: %v", err)
	}

	revoker := &stubRevoker{}
	handler, err := NewHTTPHandler(Dependencies{
		Assertions: &stubAssertions{claims: auth.AssertionClaims{
			Subject:      testSubjectID,
			Email:        "user@example.com",
			DisplayName:  "Avery",
			SignInMethod: "password",
		}},
		Minter:      minter,
		Sessions:    verifier,
		Revocations: revoker,
		Documents:   documents,
	})
	if err != nil {
		t.Fatalf("failed to construct handler: %v", err)
	}

	return &routerFixture{
		handler:     handler,
		minter:      minter,
		revoker:     revoker,
		documents:   documents,
		revocations: revocations,
	}
}

func (f *routerFixture) do(t *testing.T, method, target, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	request := httptest.NewRequest(method, target, reader)
	if body != "" {
		request.Header.Set("Content-Type", "application/json")
	}
	for _, cookie := range cookies {
		request.AddCookie(cookie)
	}
	recorder := httptest.NewRecorder()
	f.handler.ServeHTTP(recorder, request)
	return recorder
}

func (f *routerFixture) sessionCookie(t *testing.T) *http.Cookie {
	t.Helper()
	recorder := f.do(t, http.MethodPost, "/api/auth/session", `{"idToken":"valid-assertion"}`)
	if recorder.Code != http.StatusOK {
		t.Fatalf("session create failed: %d %s", recorder.Code, recorder.Body.String())
	}
	for _, cookie := range recorder.Result().Cookies() {
		if cookie.Name == "session" {
			return cookie
		}
	}
	t.Fatal("no session cookie in response")
	return nil
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	body := map[string]any{}
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body %q: %v", recorder.Body.String(), err)
	}
	return body
}

func TestCreateSessionMissingToken(t *testing.T) {
	fixture := newRouterFixture(t)

	for _, payload := range []string{"", `{}`, `{"idToken":"  "}`} {
		recorder := fixture.do(t, http.MethodPost, "/api/auth/session", payload)
		if recorder.Code != http.StatusBadRequest {
			t.Fatalf("payload %q: expected 400, got %d", payload, recorder.Code)
		}
		if body := decodeBody(t, recorder); body["error"] != "missing_token" {
			t.Fatalf("payload %q: unexpected error: %v", payload, body["error"])
		}
	}
}

func TestCreateSessionInvalidAssertion(t *testing.T) {
	fixture := newRouterFixture(t)

	recorder := fixture.do(t, http.MethodPost, "/api/auth/session", `{"idToken":"forged"}`)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
	body := decodeBody(t, recorder)
	if body["error"] != "unauthorized" || body["message"] != "invalid identity assertion" {
		t.Fatalf("unexpected body: %v", body)
	}
	if len(recorder.Result().Cookies()) != 0 {
		t.Fatal("expected no cookie on rejection")
	}
}

func TestCreateSessionSetsCookie(t *testing.T) {
	fixture := newRouterFixture(t)

	recorder := fixture.do(t, http.MethodPost, "/api/auth/session", `{"idToken":"valid-assertion"}`)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", recorder.Code, recorder.Body.String())
	}
	body := decodeBody(t, recorder)
	if body["status"] != "success" || body["uid"] != testSubjectID {
		t.Fatalf("unexpected body: %v", body)
	}

	cookies := recorder.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != "session" {
		t.Fatalf("expected a single session cookie, got %v", cookies)
	}
	cookie := cookies[0]
	if !cookie.HttpOnly {
		t.Fatal("expected HttpOnly cookie")
	}
	if cookie.SameSite != http.SameSiteLaxMode {
		t.Fatalf("expected SameSite=Lax, got %v", cookie.SameSite)
	}
	if cookie.Path != "/" {
		t.Fatalf("expected path /, got %q", cookie.Path)
	}
	if cookie.MaxAge != int((120 * time.Hour).Seconds()) {
		t.Fatalf("expected 5-day max age, got %d", cookie.MaxAge)
	}
	if cookie.Secure {
		t.Fatal("expected insecure cookie outside production")
	}
}

func TestCurrentUserStates(t *testing.T) {
	fixture := newRouterFixture(t)

	recorder := fixture.do(t, http.MethodGet, "/api/auth/me", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if body := decodeBody(t, recorder); body["authenticated"] != false {
		t.Fatalf("expected unauthenticated body, got %v", body)
	}

	cookie := fixture.sessionCookie(t)
	recorder = fixture.do(t, http.MethodGet, "/api/auth/me", "", cookie)
	body := decodeBody(t, recorder)
	if body["authenticated"] != true {
		t.Fatalf("expected authenticated body, got %v", body)
	}
	user, ok := body["user"].(map[string]any)
	if !ok {
		t.Fatalf("expected user object, got %v", body["user"])
	}
	if user["uid"] != testSubjectID || user["email"] != "user@example.com" {
		t.Fatalf("unexpected user payload: %v", user)
	}
}

func TestSignOutClearsCookieAndRevokes(t *testing.T) {
	fixture := newRouterFixture(t)
	cookie := fixture.sessionCookie(t)

	recorder := fixture.do(t, http.MethodPost, "/api/auth/signout", "", cookie)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}

	cleared := recorder.Result().Cookies()
	if len(cleared) != 1 || cleared[0].Name != "session" {
		t.Fatalf("expected a clearing cookie, got %v", cleared)
	}
	if cleared[0].MaxAge != -1 {
		t.Fatalf("expected MaxAge -1, got %d", cleared[0].MaxAge)
	}

	fixture.revoker.mu.Lock()
	revoked := len(fixture.revoker.revoked)
	fixture.revoker.mu.Unlock()
	if revoked != 1 {
		t.Fatalf("expected one revocation, got %d", revoked)
	}
}

func TestSignOutWithoutSessionSucceeds(t *testing.T) {
	fixture := newRouterFixture(t)

	recorder := fixture.do(t, http.MethodPost, "/api/auth/signout", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if body := decodeBody(t, recorder); body["status"] != "success" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestSignOutWithGarbageCookieSucceeds(t *testing.T) {
	fixture := newRouterFixture(t)

	recorder := fixture.do(t, http.MethodPost, "/api/auth/signout", "",
		&http.Cookie{Name: "session", Value: "not-a-token"})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}

	fixture.revoker.mu.Lock()
	revoked := len(fixture.revoker.revoked)
	fixture.revoker.mu.Unlock()
	if revoked != 0 {
		t.Fatalf("expected no revocation for an unverifiable artifact, got %d", revoked)
	}
}

func TestDashboardPageReVerifies(t *testing.T) {
	fixture := newRouterFixture(t)

	// A garbage cookie passes the presence-only edge but fails the
	// authoritative check on the page itself.
	recorder := fixture.do(t, http.MethodGet, "/dashboard", "",
		&http.Cookie{Name: "session", Value: "not-a-token"})
	if recorder.Code != http.StatusTemporaryRedirect {
		t.Fatalf("expected redirect for a forged cookie, got %d", recorder.Code)
	}
	if location := recorder.Header().Get("Location"); location != "/login" {
		t.Fatalf("expected redirect to /login, got %q", location)
	}

	cookie := fixture.sessionCookie(t)
	recorder = fixture.do(t, http.MethodGet, "/dashboard", "", cookie)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 for a valid session, got %d", recorder.Code)
	}
}
