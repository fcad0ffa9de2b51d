package codextoken

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testServer(t *testing.T, accessToken string, expiresIn int, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  accessToken,
			"refresh_token": "rt-rotated",
			"token_type":    "Bearer",
			"expires_in":    expiresIn,
		})
	}))
}

func TestSourceTokenCachesUntilNearExpiry(t *testing.T) {
	var hits atomic.Int32
	srv := testServer(t, "access-1", 3600, &hits)
	defer srv.Close()

	src := New("rt-initial", "")
	src.config.Endpoint.TokenURL = srv.URL

	tok, err := src.Token(context.Background())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if tok != "access-1" {
		t.Fatalf("got %q, want access-1", tok)
	}

	if _, err := src.Token(context.Background()); err != nil {
		t.Fatalf("second Token: %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected one refresh call, got %d", hits.Load())
	}
}

func TestSourceTokenRefreshesWhenNearExpiry(t *testing.T) {
	var hits atomic.Int32
	srv := testServer(t, "access-2", 60, &hits)
	defer srv.Close()

	src := New("rt-initial", "")
	src.config.Endpoint.TokenURL = srv.URL

	if _, err := src.Token(context.Background()); err != nil {
		t.Fatalf("Token: %v", err)
	}

	src.mu.Lock()
	src.token.Expiry = time.Now().Add(1 * time.Minute)
	src.mu.Unlock()

	if _, err := src.Token(context.Background()); err != nil {
		t.Fatalf("second Token: %v", err)
	}
	if hits.Load() != 2 {
		t.Fatalf("expected a refresh within the expiry buffer, got %d calls", hits.Load())
	}
}

func TestSourceRotatesRefreshToken(t *testing.T) {
	var hits atomic.Int32
	srv := testServer(t, "access-3", 3600, &hits)
	defer srv.Close()

	src := New("rt-initial", "custom-client")
	src.config.Endpoint.TokenURL = srv.URL

	if _, err := src.Token(context.Background()); err != nil {
		t.Fatalf("Token: %v", err)
	}
	if src.refreshToken != "rt-rotated" {
		t.Fatalf("refresh token not rotated: got %q", src.refreshToken)
	}
	if src.config.ClientID != "custom-client" {
		t.Fatalf("client id override not applied: got %q", src.config.ClientID)
	}
}
