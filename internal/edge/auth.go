package edge

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/rakunlabs/gate/internal/router"
)

// authResult is the outcome of a successful authentication: the identity to
// thread through the router, plus the token's model allowlist, if any.
type authResult struct {
	identity      router.IdentityContext
	allowedModels []string
}

// modelAllowed reports whether model is permitted by this token. An empty
// allowlist means unrestricted.
func (a authResult) modelAllowed(model string) bool {
	if len(a.allowedModels) == 0 {
		return true
	}
	for _, m := range a.allowedModels {
		if m == model {
			return true
		}
	}
	return false
}

// authenticate validates the Authorization header against the configured
// gateway tokens. A gateway with no tokens configured rejects everything,
// matching the teacher's "at least one token must be configured" posture.
func (s *Server) authenticate(r *http.Request) (authResult, string) {
	if len(s.gw.AuthTokens) == 0 {
		return authResult{}, "no authentication configured; add a token via config"
	}

	bearer := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if bearer == "" {
		return authResult{}, "missing Authorization header"
	}

	for _, tok := range s.gw.AuthTokens {
		if tok.Token == "" || tok.Token != bearer {
			continue
		}

		if tok.ExpiresAt != "" {
			expiresAt, err := time.Parse(time.RFC3339, tok.ExpiresAt)
			if err != nil {
				s.log.Error("invalid expires_at on gateway auth token", "name", tok.Name, "error", err)
				return authResult{}, "token has invalid expires_at"
			}
			if expiresAt.Before(time.Now().UTC()) {
				return authResult{}, "token has expired"
			}
		}

		return authResult{
			identity:      identityFor(bearer),
			allowedModels: tok.AllowedModels,
		}, ""
	}

	return authResult{}, "invalid bearer token"
}

// identityFor derives an IdentityContext from a bearer token. The router
// and its middleware never see the raw token, only its hash.
func identityFor(token string) router.IdentityContext {
	sum := sha256.Sum256([]byte(token))
	return router.IdentityContext{APIKeyHash: hex.EncodeToString(sum[:])}
}
