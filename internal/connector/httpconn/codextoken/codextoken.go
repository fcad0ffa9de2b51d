// Package codextoken implements the credential resolver for the
// OpenAI-Codex (ChatGPT backend) connector: it exchanges a stored OAuth2
// refresh token for a short-lived access token, caching and refreshing it
// transparently the way the HTTP connector family's other credential
// sources do.
package codextoken

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// Refresh the token 2 minutes before it actually expires.
const expiryBuffer = 2 * time.Minute

const tokenURL = "https://auth.openai.com/oauth/token"

// ClientID is the public OAuth2 client id the Codex CLI family registers
// requests under. It carries no secret; the refresh token itself is what
// authenticates the holder.
const ClientID = "app_EMoamEEZ73f0CkXaXp7hrann"

// Source exchanges a long-lived OAuth2 refresh token for short-lived Codex
// access tokens, caching the result until it is close to expiry.
type Source struct {
	config       oauth2.Config
	refreshToken string

	mu    sync.Mutex
	token *oauth2.Token
}

// New builds a Source from a stored refresh token. clientID defaults to
// ClientID when empty.
func New(refreshToken, clientID string) *Source {
	if clientID == "" {
		clientID = ClientID
	}
	return &Source{
		refreshToken: refreshToken,
		config: oauth2.Config{
			ClientID: clientID,
			Endpoint: oauth2.Endpoint{
				TokenURL: tokenURL,
			},
		},
	}
}

// Token returns a valid bearer token, refreshing it first if the cached one
// is absent or within expiryBuffer of expiring.
func (s *Source) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != nil && s.token.Valid() && time.Until(s.token.Expiry) > expiryBuffer {
		return s.token.AccessToken, nil
	}

	tok, err := s.refreshLocked(ctx)
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

func (s *Source) refreshLocked(ctx context.Context) (*oauth2.Token, error) {
	ts := s.config.TokenSource(ctx, &oauth2.Token{RefreshToken: s.refreshToken})
	tok, err := ts.Token()
	if err != nil {
		return nil, fmt.Errorf("codextoken: refresh: %w", err)
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("codextoken: refresh returned empty access token")
	}
	if rt := tok.RefreshToken; rt != "" {
		s.refreshToken = rt
	}
	s.token = tok
	return tok, nil
}
