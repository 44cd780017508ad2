package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	defaultGuardCookieName      = "session"
	defaultGuardProtectedPrefix = "/dashboard"
	defaultGuardLoginPath       = "/login"
	defaultGuardHomePath        = "/"
)

// GuardConfig describes the paths the edge guard gates.
type GuardConfig struct {
	CookieName      string
	ProtectedPrefix string
	LoginPath       string
	HomePath        string
}

func (c GuardConfig) withDefaults() GuardConfig {
	if strings.TrimSpace(c.CookieName) == "" {
		c.CookieName = defaultGuardCookieName
	}
	if strings.TrimSpace(c.ProtectedPrefix) == "" {
		c.ProtectedPrefix = defaultGuardProtectedPrefix
	}
	if strings.TrimSpace(c.LoginPath) == "" {
		c.LoginPath = defaultGuardLoginPath
	}
	if strings.TrimSpace(c.HomePath) == "" {
		c.HomePath = defaultGuardHomePath
	}
	return c
}

// GuardDecision is the outcome of the edge check. An empty Redirect means
// the request passes through unchanged.
type GuardDecision struct {
	Redirect string
}

// DecideGuard is the pure edge-routing rule: protected paths without a
// session cookie bounce to login, the login path with a cookie bounces home,
// and everything else passes. The check is presence-only; the authoritative
// verification happens when the protected page renders.
func DecideGuard(cfg GuardConfig, path string, cookiePresent bool) GuardDecision {
	cfg = cfg.withDefaults()
	if strings.HasPrefix(path, cfg.ProtectedPrefix) && !cookiePresent {
		return GuardDecision{Redirect: cfg.LoginPath}
	}
	if path == cfg.LoginPath && cookiePresent {
		return GuardDecision{Redirect: cfg.HomePath}
	}
	return GuardDecision{}
}

// EdgeGuard wraps DecideGuard as gin middleware for page routes.
func EdgeGuard(cfg GuardConfig) gin.HandlerFunc {
	cfg = cfg.withDefaults()
	return func(c *gin.Context) {
		_, err := c.Request.Cookie(cfg.CookieName)
		decision := DecideGuard(cfg, c.Request.URL.Path, err == nil)
		if decision.Redirect != "" {
			c.Redirect(http.StatusTemporaryRedirect, decision.Redirect)
			c.Abort()
			return
		}
		c.Next()
	}
}
