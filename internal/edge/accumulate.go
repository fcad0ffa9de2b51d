package edge

import "github.com/rakunlabs/gate/internal/router"

// accumulate merges a non-streaming response's Content chunks into a single
// wire body. Most connectors (the HTTP family) emit exactly one chunk
// already shaped as the complete response; that chunk is returned as-is.
// A connector that only knows how to emit incremental deltas (the local
// connector) is merged here by extracting each delta's text and re-shaping
// one full body per protocol, mirroring the inverse of the local
// connector's own per-delta chunk shaping.
func accumulate(protocol router.Protocol, chunks []any, usage *router.Usage) any {
	if len(chunks) == 1 {
		return chunks[0]
	}

	var text string
	for _, c := range chunks {
		text += extractDelta(protocol, c)
	}

	switch protocol {
	case router.ProtocolOpenAIChat:
		body := map[string]any{
			"object": "chat.completion",
			"choices": []any{
				map[string]any{
					"index":         0,
					"message":       map[string]any{"role": "assistant", "content": text},
					"finish_reason": "stop",
				},
			},
		}
		if usage != nil {
			body["usage"] = map[string]any{
				"prompt_tokens":     usage.PromptTokens,
				"completion_tokens": usage.CompletionTokens,
				"total_tokens":      usage.PromptTokens + usage.CompletionTokens,
			}
		}
		return body
	case router.ProtocolAnthropic:
		body := map[string]any{
			"type":        "message",
			"role":        "assistant",
			"content":     []any{map[string]any{"type": "text", "text": text}},
			"stop_reason": "end_turn",
		}
		if usage != nil {
			body["usage"] = map[string]any{
				"input_tokens":  usage.PromptTokens,
				"output_tokens": usage.CompletionTokens,
			}
		}
		return body
	default:
		return map[string]any{"text": text}
	}
}

// extractDelta reads the incremental text a local-connector chunk carries,
// per the shape chunkBodyFor produces for the same protocol.
func extractDelta(protocol router.Protocol, chunk any) string {
	obj, ok := chunk.(map[string]any)
	if !ok {
		if s, ok := chunk.(string); ok {
			return s
		}
		return ""
	}

	switch protocol {
	case router.ProtocolAnthropic:
		blocks, _ := obj["content"].([]any)
		for _, b := range blocks {
			block, ok := b.(map[string]any)
			if !ok {
				continue
			}
			if text, ok := block["text"].(string); ok {
				return text
			}
		}
		return ""
	default:
		choices, _ := obj["choices"].([]any)
		for _, c := range choices {
			choice, ok := c.(map[string]any)
			if !ok {
				continue
			}
			delta, ok := choice["delta"].(map[string]any)
			if !ok {
				continue
			}
			if content, ok := delta["content"].(string); ok {
				return content
			}
		}
		return ""
	}
}
