// Package middleware implements the router's built-in request/response
// middleware: observability logging, Anthropic key capture, cost tracking,
// and per-identity rate limiting.
package middleware

import (
	"context"

	"github.com/rakunlabs/gate/internal/router"
)

// interceptStream copies every chunk of in to a freshly created
// ResponseStream, calling onChunk for each one as it passes through and
// onDone once the source is exhausted (successfully or not). It is the Go
// analogue of wrapping a Stream in an async_stream! block: each middleware
// that needs to observe the response as it flows gets its own forwarding
// goroutine rather than mutating the original stream in place.
func interceptStream(ctx context.Context, in router.ResponseStream, onChunk func(router.ResponseChunk), onDone func()) router.ResponseStream {
	writer, out := router.NewResponseStream(16)

	go func() {
		defer writer.Close()
		if onDone != nil {
			defer onDone()
		}
		for {
			chunk, ok, err := in.Next(ctx)
			if err != nil {
				_ = writer.Send(ctx, router.StopChunk(router.StopError, err.Error(), nil))
				return
			}
			if !ok {
				return
			}
			if onChunk != nil {
				onChunk(chunk)
			}
			if sendErr := writer.Send(ctx, chunk); sendErr != nil {
				return
			}
		}
	}()

	return out
}
