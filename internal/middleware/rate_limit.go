package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rakunlabs/gate/internal/router"
)

// QuotaBehavior governs what RateLimit does once an identity is over its
// configured limit.
type QuotaBehavior int

const (
	QuotaReject QuotaBehavior = iota
	QuotaWarnOnly
	QuotaTrackOverage
)

func (b QuotaBehavior) String() string {
	switch b {
	case QuotaWarnOnly:
		return "warn_only"
	case QuotaTrackOverage:
		return "track_overage"
	default:
		return "reject"
	}
}

// RateLimitConfig governs RateLimit's per-identity window.
type RateLimitConfig struct {
	RequestsPerMinute int
	TokensPerMinute   *int
	Behavior          QuotaBehavior
}

// DefaultRateLimitConfig matches the router core's own default: 60
// requests/minute, a 100k token/minute budget, reject on overage.
func DefaultRateLimitConfig() RateLimitConfig {
	tokens := 100_000
	return RateLimitConfig{RequestsPerMinute: 60, TokensPerMinute: &tokens, Behavior: QuotaReject}
}

type rateLimitState struct {
	requestCount int
	tokenCount   int
	windowStart  time.Time
}

func (s *rateLimitState) resetIfNeeded(window time.Duration) {
	if time.Since(s.windowStart) >= window {
		s.requestCount = 0
		s.tokenCount = 0
		s.windowStart = time.Now()
	}
}

// RateLimit enforces a sliding-minute request and, optionally, token budget
// per identity (RequestContext.Identity.RateLimitKey), with a pluggable
// reject/warn/track-overage behavior.
type RateLimit struct {
	Config RateLimitConfig
	Log    *slog.Logger

	mu     sync.Mutex
	states map[string]*rateLimitState
}

func NewRateLimit(cfg RateLimitConfig, log *slog.Logger) *RateLimit {
	if log == nil {
		log = slog.Default()
	}
	return &RateLimit{Config: cfg, Log: log, states: map[string]*rateLimitState{}}
}

func (m *RateLimit) stateFor(key string) *rateLimitState {
	state, ok := m.states[key]
	if !ok {
		state = &rateLimitState{windowStart: time.Now()}
		m.states[key] = state
	}
	state.resetIfNeeded(time.Minute)
	return state
}

// reserve checks the identity's request and token budget and, if there is
// room, counts this request against it. It returns the quota name that was
// exceeded ("requests" or "tokens"), or "" if the request is within budget.
func (m *RateLimit) reserve(key string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	state := m.stateFor(key)

	switch {
	case state.requestCount >= m.Config.RequestsPerMinute:
		return "requests"
	case m.Config.TokensPerMinute != nil && state.tokenCount >= *m.Config.TokensPerMinute:
		return "tokens"
	}

	state.requestCount++
	return ""
}

// addTokens folds a completed response's token usage into key's window, so
// a later request in the same window can be judged against it.
func (m *RateLimit) addTokens(key string, n int) {
	if n <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stateFor(key).tokenCount += n
}

func (m *RateLimit) Process(ctx context.Context, rc router.RequestContext, request router.RequestStream, next router.Next) (router.ResponseStream, error) {
	key := rc.Identity.RateLimitKey()

	if exceeded := m.reserve(key); exceeded != "" {
		switch m.Config.Behavior {
		case QuotaReject:
			return router.ResponseStream{}, router.ErrQuotaExceeded(
				fmt.Sprintf("%s rate limit exceeded for %q: %d requests/minute, %s tokens/minute",
					exceeded, key, m.Config.RequestsPerMinute, tokensPerMinuteLabel(m.Config.TokensPerMinute)))
		case QuotaWarnOnly, QuotaTrackOverage:
			m.Log.Warn("rate limit exceeded, passing request through",
				"key", key, "quota", exceeded, "behavior", m.Config.Behavior.String())
		}
	}

	stream, err := next(ctx, rc, request)
	if err != nil || m.Config.TokensPerMinute == nil {
		return stream, err
	}

	return interceptStream(ctx, stream, func(chunk router.ResponseChunk) {
		if chunk.Kind == router.ChunkUsage && chunk.Usage != nil {
			m.addTokens(key, chunk.Usage.PromptTokens+chunk.Usage.CompletionTokens)
		}
	}, nil), nil
}

func tokensPerMinuteLabel(limit *int) string {
	if limit == nil {
		return "unlimited"
	}
	return fmt.Sprintf("%d", *limit)
}
