package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"strings"
)

const (
	sessionCreatePath  = "/api/auth/session"
	sessionDestroyPath = "/api/auth/signout"
)

var errMissingBaseURL = errors.New("identity: session endpoint base url required")

// HTTPSessionClient implements SessionAPI against the session bridge
// endpoints. The underlying client keeps a cookie jar so the issued session
// cookie rides along on subsequent calls, the way a browser would carry it.
type HTTPSessionClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPSessionClient constructs the client. When httpClient is nil a
// cookie-jar-backed default is created.
func NewHTTPSessionClient(baseURL string, httpClient *http.Client) (*HTTPSessionClient, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, errMissingBaseURL
	}
	if httpClient == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("identity: cookie jar: %w", err)
		}
		httpClient = &http.Client{Jar: jar}
	}
	return &HTTPSessionClient{baseURL: trimmed, httpClient: httpClient}, nil
}

// CreateSession exchanges an identity assertion for a session cookie.
func (c *HTTPSessionClient) CreateSession(ctx context.Context, assertion string) error {
	body, err := json.Marshal(map[string]string{"idToken": assertion})
	if err != nil {
		return fmt.Errorf("identity: encode session request: %w", err)
	}
	return c.post(ctx, sessionCreatePath, body)
}

// DestroySession clears the server session. The endpoint succeeds regardless
// of prior state, so only transport-level failures surface here.
func (c *HTTPSessionClient) DestroySession(ctx context.Context) error {
	return c.post(ctx, sessionDestroyPath, nil)
}

func (c *HTTPSessionClient) post(ctx context.Context, path string, body []byte) error {
	var reader *bytes.Reader
	if body == nil {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	response, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode >= 400 {
		var payload struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		_ = json.NewDecoder(response.Body).Decode(&payload)
		if payload.Error == "" {
			payload.Error = http.StatusText(response.StatusCode)
		}
		return fmt.Errorf("identity: session endpoint %s returned %d: %s", path, response.StatusCode, payload.Error)
	}
	return nil
}
