// Package router implements the connector registry, routing planner and
// streaming execution pipeline that sit at the center of the gateway.
package router

import (
	"maps"
	"net/http"
	"net/url"
	"slices"
	"time"
)

// Protocol identifies one of the supported request/response wire shapes.
type Protocol string

const (
	ProtocolOpenAIChat        Protocol = "openai_chat"
	ProtocolOpenAIResponses   Protocol = "openai_responses"
	ProtocolOpenAICompletions Protocol = "openai_completions"
	ProtocolOpenAIMessages    Protocol = "openai_messages"
	ProtocolAnthropic         Protocol = "anthropic"
	ProtocolUnknown           Protocol = "unknown"
)

// RequestCapabilities is derived from a request body by the protocol layer.
type RequestCapabilities struct {
	NeedsTools     bool
	NeedsVision    bool
	NeedsStreaming bool
	MaxTokens      *int
	Modalities     []string
}

// HasModality reports whether m is present in the capability set.
func (c RequestCapabilities) HasModality(m string) bool {
	return slices.Contains(c.Modalities, m)
}

// RequestDescriptor summarizes a single inbound request for routing purposes.
type RequestDescriptor struct {
	Model             string
	Protocol          Protocol
	Capabilities      RequestCapabilities
	ContextLengthHint *int
}

// IdentityContext carries the caller identity threaded in from the edge's
// authentication layer. The router core never populates this itself.
type IdentityContext struct {
	OrgID      string
	UserID     string
	APIKeyHash string
}

// RateLimitKey returns the key rate limiting and usage tracking should group
// this identity under: user, else org, else "default".
func (i IdentityContext) RateLimitKey() string {
	if i.UserID != "" {
		return i.UserID
	}
	if i.OrgID != "" {
		return i.OrgID
	}
	return "default"
}

// RequestContext is the per-request state threaded through the middleware
// chain. Each middleware operates on a cloned copy; the plan's own copy is
// treated as immutable once the plan is built.
type RequestContext struct {
	Identity      IdentityContext
	CorrelationID string
	Headers       http.Header
	Query         url.Values
	TraceID       string
	Metadata      map[string]any
}

// Clone returns a deep-enough copy safe for independent mutation by a single
// middleware layer. Header/query/metadata maps are copied; values within
// Metadata are shared by reference, matching the shallow-clone idiom the
// Rust original uses for its own per-call context copy.
func (c RequestContext) Clone() RequestContext {
	clone := c
	if c.Headers != nil {
		clone.Headers = c.Headers.Clone()
	}
	if c.Query != nil {
		clone.Query = maps.Clone(c.Query)
	}
	if c.Metadata != nil {
		clone.Metadata = maps.Clone(c.Metadata)
	}
	return clone
}

// ConnectorCapabilities describes what a connector can do.
type ConnectorCapabilities struct {
	SupportsStreaming bool
	SupportsBatching  bool
	SupportsTools     bool
	MaxContextLength  *int
	Modalities        []string
}

// HasModality reports whether m is advertised by the connector.
func (c ConnectorCapabilities) HasModality(m string) bool {
	return slices.Contains(c.Modalities, m)
}

// CostStructure is the per-token price table a connector may advertise.
// Prices are USD per 1,000 tokens.
type CostStructure struct {
	InputCostPer1K       float64
	OutputCostPer1K      float64
	CachedInputCostPer1K *float64
}

// ConnectorDescription is the self-reported static shape of a connector.
type ConnectorDescription struct {
	ID                string
	AcceptedProtocols []Protocol
	Capabilities      ConnectorCapabilities
	CostStructure     *CostStructure
}

// AcceptsProtocol reports whether p is among the connector's accepted
// protocols.
func (d ConnectorDescription) AcceptsProtocol(p Protocol) bool {
	return slices.Contains(d.AcceptedProtocols, p)
}

// ConnectorHealth is the self-reported liveness of a connector at the time
// of the last probe.
type ConnectorHealth struct {
	Healthy   bool
	LatencyMS *int
	ErrorRate float64
	LastError *string
	LastCheck time.Time
}

// Snapshot is the cached (description, health) pair the index serves on the
// routing hot path.
type Snapshot struct {
	Description ConnectorDescription
	Health      ConnectorHealth
	UpdatedAt   time.Time
}

// RetryConfig describes per-route retry behavior. It is carried on the
// Route only: the executor performs no retries (see PlanExecutor), and
// Connector.Execute does not receive the Route, so nothing reads it.
type RetryConfig struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	ExponentialBase float64
}

// DefaultRetryConfig returns the spec-mandated default: 3 attempts, 100ms
// initial delay, 10s max delay, exponential base 2.0.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     3,
		InitialDelay:    100 * time.Millisecond,
		MaxDelay:        10 * time.Second,
		ExponentialBase: 2.0,
	}
}

// ProtocolConversion marks a route as requiring a cross-protocol
// translation. The planner never emits a non-nil value here; the executor
// rejects any route that carries one. See PlanExecutor.ExecuteRoute.
type ProtocolConversion struct {
	From         Protocol
	To           Protocol
	ExpectedLoss []string
}

// Route pairs a connector id with the per-attempt policy chosen for it.
type Route struct {
	ConnectorID        string
	ProtocolConversion *ProtocolConversion
	Timeout            time.Duration
	RetryConfig        RetryConfig
}

// ScoredRoute is a routing strategy's opinion about one candidate connector.
type ScoredRoute struct {
	ConnectorID      string
	Score            float64
	EstimatedCost    *float64
	EstimatedLatency *time.Duration
	ConversionNeeded bool
	Rationale        string
}

// RoutingPlan is the output of Router.Route: a primary route plus ordered
// fallbacks that Router.Execute does not invoke (see Router.Execute).
type RoutingPlan struct {
	ID             string
	CreatedAt      time.Time
	Context        RequestContext
	PrimaryRoute   Route
	FallbackRoutes []Route
	EstimatedCost  *float64
	Rationale      string
}

// UsageRecord is one persisted accounting entry for a completed request,
// written by the cost-tracking middleware.
type UsageRecord struct {
	ID          string
	OrgID       string
	UserID      string
	APIKeyHash  string
	RequestID   string
	ProviderID  string
	ModelID     string
	InputTokens uint64
	OutputTokens uint64
	TotalTokens  uint64
	CostUSD      float64
	Timestamp    time.Time
	Metadata     map[string]any
}

// CandidateConnector pairs a connector with the description/health the
// planner evaluated it against, for the benefit of routing strategies that
// need both.
type CandidateConnector struct {
	Connector    Connector
	Description  ConnectorDescription
	Health       ConnectorHealth
	NeedsConvert bool
}
