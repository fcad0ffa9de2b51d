package router

import "context"

// PlanExecutor looks up a route's connector and runs it under a wall-clock
// timeout, translating a timeout into an in-band Stop{Timeout} chunk rather
// than an error. It holds only a reference to the registry, never to
// individual connectors.
type PlanExecutor struct {
	registry *Registry
}

func NewPlanExecutor(reg *Registry) *PlanExecutor {
	return &PlanExecutor{registry: reg}
}

// ExecuteRoute is PlanExecutor.execute_route from the design: resolve the
// connector, reject any route that still carries a protocol conversion
// (the planner never emits one, so this is a defensive check), then run the
// connector under route.Timeout.
func (e *PlanExecutor) ExecuteRoute(ctx context.Context, rc RequestContext, request RequestStream, route Route) (ResponseStream, error) {
	conn, ok := e.registry.Get(route.ConnectorID)
	if !ok {
		return ResponseStream{}, ErrInternal("Sink not found: " + route.ConnectorID)
	}
	if route.ProtocolConversion != nil {
		return ResponseStream{}, ErrUnsupportedConversion(route.ProtocolConversion.From, route.ProtocolConversion.To)
	}

	// The returned stream keeps using timeoutCtx, so on success cancel is
	// left to the timer rather than called when this function returns.
	timeoutCtx, cancel := context.WithTimeout(ctx, route.Timeout)

	type result struct {
		stream ResponseStream
		err    error
	}
	done := make(chan result, 1)
	go func() {
		s, err := conn.Execute(timeoutCtx, rc, request)
		done <- result{stream: s, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			cancel()
		}
		return res.stream, res.err
	case <-timeoutCtx.Done():
		cancel()
		return SingleChunkStream(StopChunk(StopTimeout, "Request timed out", nil)), nil
	}
}

// Execute tries only the primary route. Fallbacks declared on the plan are
// intentionally not attempted here; see Router.Execute's doc comment for
// why.
func (e *PlanExecutor) Execute(ctx context.Context, plan *RoutingPlan, request RequestStream) (ResponseStream, error) {
	return e.ExecuteRoute(ctx, plan.Context, request, plan.PrimaryRoute)
}
