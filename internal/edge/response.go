package edge

import (
	"encoding/json"
	"fmt"
	"net/http"
)

func httpResponseJSON(w http.ResponseWriter, msg any, code int) {
	v, _ := json.Marshal(msg)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(v)
}

func httpErrorJSON(w http.ResponseWriter, code int, errType, message string) {
	httpResponseJSON(w, map[string]any{
		"error": map[string]any{
			"type":    errType,
			"message": message,
		},
	}, code)
}

// writeSSEChunk writes one SSE data line carrying the JSON-encoded payload.
func writeSSEChunk(w http.ResponseWriter, flusher http.Flusher, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}

// writeSSEDone writes the terminal marker OpenAI-shaped SSE consumers look
// for. Anthropic clients read the stream's Stop chunk instead and ignore an
// extra trailing line, so this is written unconditionally.
func writeSSEDone(w http.ResponseWriter, flusher http.Flusher) {
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}
