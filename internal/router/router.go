package router

import (
	"context"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"
)

// StateBackend is the external collaborator that owns model aliasing and
// usage persistence. The router core depends only on this narrow interface;
// concrete implementations live outside the core (see internal/statebackend).
type StateBackend interface {
	// ResolveModelAlias expands model into a candidate-model list. An empty
	// result means "no alias known"; the router then falls back to the
	// original string unchanged.
	ResolveModelAlias(ctx context.Context, model string) ([]string, error)
}

// UsageRecorder is the narrow persistence contract the cost-tracking
// middleware depends on. A StateBackend implementation typically satisfies
// both this and StateBackend.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, record UsageRecord) error
}

const (
	primaryRouteTimeout  = 300 * time.Second
	fallbackRouteTimeout = 30 * time.Second
	maxFallbacks         = 2
)

// Router ties together the registry, the snapshot index, a routing
// strategy, and a middleware chain.
type Router struct {
	registry     *Registry
	index        *Index
	state        StateBackend
	strategy     RoutingStrategy
	middlewares  []Middleware
	executor     *PlanExecutor
}

// RouterBuilder assembles a Router with a fluent API, matching the shape of
// the underlying design's own builder.
type RouterBuilder struct {
	r *Router
}

func NewRouterBuilder() *RouterBuilder {
	return &RouterBuilder{r: &Router{registry: NewRegistry()}}
}

func (b *RouterBuilder) StateBackend(s StateBackend) *RouterBuilder {
	b.r.state = s
	return b
}

func (b *RouterBuilder) Registry(reg *Registry) *RouterBuilder {
	b.r.registry = reg
	return b
}

func (b *RouterBuilder) Index(idx *Index) *RouterBuilder {
	b.r.index = idx
	return b
}

func (b *RouterBuilder) Strategy(s RoutingStrategy) *RouterBuilder {
	b.r.strategy = s
	return b
}

func (b *RouterBuilder) Middleware(m Middleware) *RouterBuilder {
	b.r.middlewares = append(b.r.middlewares, m)
	return b
}

func (b *RouterBuilder) Build() *Router {
	b.r.executor = NewPlanExecutor(b.r.registry)
	return b.r
}

// Registry returns the router's connector registry.
func (r *Router) Registry() *Registry { return r.registry }

// Index returns the router's snapshot index, if attached.
func (r *Router) Index() *Index { return r.index }

// Route performs alias resolution, eligibility filtering, strategy
// evaluation and route materialization, yielding a RoutingPlan. See
// Router.Execute for running the plan.
func (r *Router) Route(ctx context.Context, rc RequestContext, desc RequestDescriptor) (*RoutingPlan, error) {
	models := []string{desc.Model}
	if r.state != nil {
		if aliases, err := r.state.ResolveModelAlias(ctx, desc.Model); err == nil && len(aliases) > 0 {
			models = aliases
		}
	}

	var candidates []CandidateConnector
	for _, model := range models {
		d := desc
		d.Model = model
		candidates = append(candidates, r.findEligibleCandidates(ctx, d)...)
	}
	if len(candidates) == 0 {
		return nil, ErrNoSinksAvailable()
	}

	if r.strategy == nil {
		return nil, ErrInvalidRoutingConfig("no routing strategy configured")
	}
	scored, err := r.strategy.Evaluate(ctx, rc, desc, candidates)
	if err != nil {
		return nil, err
	}
	if len(scored) == 0 {
		return nil, ErrNoSinksAvailable()
	}

	primary, fallbacks, rationale := createRoutes(scored)
	plan := &RoutingPlan{
		ID:             ulid.Make().String(),
		CreatedAt:      time.Now().UTC(),
		Context:        rc,
		PrimaryRoute:   primary,
		FallbackRoutes: fallbacks,
		Rationale:      rationale,
	}
	return plan, nil
}

// findEligibleCandidates applies the eligibility rules from the routing
// design: health, protocol acceptance, streaming/tools support, modality
// subset, and context-length budget. It prefers the snapshot index when
// attached, falling back to a live registry probe.
func (r *Router) findEligibleCandidates(ctx context.Context, desc RequestDescriptor) []CandidateConnector {
	var out []CandidateConnector

	check := func(id string, conn Connector, d ConnectorDescription, h ConnectorHealth) {
		if !eligible(d, h, desc) {
			return
		}
		out = append(out, CandidateConnector{Connector: conn, Description: d, Health: h})
		_ = id
	}

	if r.index != nil {
		for id, snap := range r.index.List() {
			conn, ok := r.registry.Get(id)
			if !ok {
				// Present in index but gone from the registry: the pair is
				// not transactional, skip it.
				continue
			}
			check(id, conn, snap.Description, snap.Health)
		}
		return out
	}

	for id, conn := range r.registry.GetAll() {
		check(id, conn, conn.Describe(ctx), conn.Probe(ctx))
	}
	return out
}

func eligible(d ConnectorDescription, h ConnectorHealth, desc RequestDescriptor) bool {
	if !h.Healthy {
		return false
	}
	if !d.AcceptsProtocol(desc.Protocol) {
		return false
	}
	if desc.Capabilities.NeedsStreaming && !d.Capabilities.SupportsStreaming {
		return false
	}
	if desc.Capabilities.NeedsTools && !d.Capabilities.SupportsTools {
		return false
	}
	for _, m := range desc.Capabilities.Modalities {
		if !d.Capabilities.HasModality(m) {
			return false
		}
	}
	if d.Capabilities.MaxContextLength != nil && desc.ContextLengthHint != nil {
		maxTokensRequested := 0
		if desc.Capabilities.MaxTokens != nil {
			maxTokensRequested = *desc.Capabilities.MaxTokens
		}
		if *desc.ContextLengthHint+maxTokensRequested > *d.Capabilities.MaxContextLength {
			return false
		}
	}
	return true
}

// createRoutes sorts scored routes descending (stable on ties), takes the
// top entry as primary and the next two as fallbacks.
func createRoutes(scored []ScoredRoute) (primary Route, fallbacks []Route, rationale string) {
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	primary = Route{
		ConnectorID: scored[0].ConnectorID,
		Timeout:     primaryRouteTimeout,
		RetryConfig: DefaultRetryConfig(),
	}
	rationale = scored[0].Rationale

	for i := 1; i < len(scored) && i <= maxFallbacks; i++ {
		fallbacks = append(fallbacks, Route{
			ConnectorID: scored[i].ConnectorID,
			Timeout:     fallbackRouteTimeout,
			RetryConfig: DefaultRetryConfig(),
		})
	}
	return primary, fallbacks, rationale
}

// Execute runs plan against request, wrapping the terminal executor with
// every registered middleware. The first-registered middleware is the
// outermost layer: the chain is assembled back-to-front so that
// middlewares[0] sees the request first and the response last.
//
// Fallback routes are never tried on primary failure: a RequestStream is a
// one-shot, non-restartable sequence, so replaying it against a fallback
// connector is not possible without first buffering or re-materializing the
// body, which this core does not do.
func (r *Router) Execute(ctx context.Context, plan *RoutingPlan, request RequestStream) (ResponseStream, error) {
	var next Next = func(ctx context.Context, rc RequestContext, req RequestStream) (ResponseStream, error) {
		return r.executor.ExecuteRoute(ctx, rc, req, plan.PrimaryRoute)
	}

	for i := len(r.middlewares) - 1; i >= 0; i-- {
		mw := r.middlewares[i]
		prevNext := next
		next = func(ctx context.Context, rc RequestContext, req RequestStream) (ResponseStream, error) {
			return mw.Process(ctx, rc, req, prevNext)
		}
	}

	return next(ctx, plan.Context.Clone(), request)
}
