package router

import "context"

// Connector is anything that can accept a RequestStream and produce a
// ResponseStream, with a self-describing capability/health contract. HTTP
// connectors, the local in-process connector, and any future connector
// family all implement this single interface — earlier iterations of the
// underlying design kept separate "sink" and "connector" traits with
// equivalent contracts; this core collapses them into one.
type Connector interface {
	// Describe returns the connector's static shape: accepted protocols,
	// capabilities, and cost structure.
	Describe(ctx context.Context) ConnectorDescription

	// Probe returns the connector's current health.
	Probe(ctx context.Context) ConnectorHealth

	// Execute consumes request and returns a ResponseStream. Implementations
	// must honor ctx cancellation by stopping upstream work promptly.
	Execute(ctx context.Context, rc RequestContext, request RequestStream) (ResponseStream, error)
}

// RoutingStrategy scores a set of eligible candidates for a request. A
// strategy must be pure with respect to the candidate list: no network I/O,
// no registry/index access.
type RoutingStrategy interface {
	Evaluate(ctx context.Context, rc RequestContext, desc RequestDescriptor, candidates []CandidateConnector) ([]ScoredRoute, error)
}

// Next is the continuation a Middleware invokes to hand control to the next
// layer (ultimately the terminal executor). It is called at most once.
type Next func(ctx context.Context, rc RequestContext, request RequestStream) (ResponseStream, error)

// Middleware wraps a Next continuation. It receives a request-scoped,
// independently mutable copy of RequestContext (see RequestContext.Clone).
type Middleware interface {
	Process(ctx context.Context, rc RequestContext, request RequestStream, next Next) (ResponseStream, error)
}

// MiddlewareFunc adapts a plain function to Middleware.
type MiddlewareFunc func(ctx context.Context, rc RequestContext, request RequestStream, next Next) (ResponseStream, error)

func (f MiddlewareFunc) Process(ctx context.Context, rc RequestContext, request RequestStream, next Next) (ResponseStream, error) {
	return f(ctx, rc, request, next)
}
