package httpconn

import (
	"encoding/json"
	"io"
	"strings"

	"github.com/rakunlabs/gate/internal/router"
	"github.com/rakunlabs/gate/internal/sse"
)

// decodeSSEEvent maps one raw SSE event to a ResponseChunk, per the
// response-decoding rules: "[DONE]" completes the stream, a JSON object
// with a top-level "error" key becomes a Stop{Error}, any other valid JSON
// becomes Content, and invalid JSON is forwarded as a raw string Content.
func decodeSSEEvent(ev sse.Event) (router.ResponseChunk, bool) {
	if ev.Data == "[DONE]" {
		return router.StopChunk(router.StopComplete, "", nil), true
	}

	var parsed any
	if err := json.Unmarshal([]byte(ev.Data), &parsed); err != nil {
		return router.ContentChunk(ev.Data), true
	}

	if obj, ok := parsed.(map[string]any); ok {
		if errVal, hasErr := obj["error"]; hasErr {
			return router.StopChunk(router.StopError, stringifyError(errVal), nil), true
		}
	}
	return router.ContentChunk(parsed), true
}

func stringifyError(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "unknown error"
	}
	return string(b)
}

// decodeAccumulatedBody parses a non-streaming response body as JSON if
// possible, else forwards it as a raw string.
func decodeAccumulatedBody(body []byte) any {
	var parsed any
	if err := json.Unmarshal(body, &parsed); err != nil {
		return string(body)
	}
	return parsed
}

// isEventStream reports whether a Content-Type header names an SSE body.
func isEventStream(contentType string) bool {
	return strings.Contains(contentType, "text/event-stream")
}

// streamSSE parses r as SSE, sending a ResponseChunk for each event to fn in
// order. fn is responsible for ignoring chunks sent after it has already
// observed a terminal Stop, since the upstream body may continue to be
// readable briefly after the logical end of the response.
func streamSSE(r io.Reader, fn func(router.ResponseChunk)) error {
	return sse.Parse(r, func(ev sse.Event) {
		if chunk, ok := decodeSSEEvent(ev); ok {
			fn(chunk)
		}
	})
}
