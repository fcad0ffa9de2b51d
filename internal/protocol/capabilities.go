// Package protocol implements request-capability extraction and the
// pairwise protocol conversion functions that keep cross-protocol requests
// and responses on a common shape.
package protocol

import (
	"github.com/rakunlabs/gate/internal/router"
)

// ExtractCapabilities derives a RequestCapabilities record from a decoded
// request body. It is a pure function of (body, protocol).
func ExtractCapabilities(body map[string]any, protocol router.Protocol) router.RequestCapabilities {
	needsVision := detectVision(body, protocol)
	caps := router.RequestCapabilities{
		NeedsTools:     detectTools(body),
		NeedsVision:    needsVision,
		NeedsStreaming: truthy(body["stream"]),
		Modalities:     detectModalities(body, needsVision),
	}
	if mt, ok := asInt(body["max_tokens"]); ok {
		caps.MaxTokens = &mt
	}
	return caps
}

func truthy(v any) bool {
	b, ok := v.(bool)
	return ok && b
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	}
	return 0, false
}

// detectTools reports whether the request carries tool-calling fields under
// any of the names the supported protocols use for them.
func detectTools(body map[string]any) bool {
	for _, key := range []string{"tools", "functions", "tool_choice", "function_call"} {
		if _, ok := body[key]; ok {
			return true
		}
	}
	return false
}

// detectVision dispatches to the protocol-specific image-content scan.
func detectVision(body map[string]any, protocol router.Protocol) bool {
	messages, _ := body["messages"].([]any)
	switch protocol {
	case router.ProtocolAnthropic:
		return detectVisionAnthropic(messages)
	default:
		return detectVisionOpenAI(messages)
	}
}

func detectVisionOpenAI(messages []any) bool {
	return scanContentBlockTypes(messages, "image_url", "image")
}

func detectVisionAnthropic(messages []any) bool {
	return scanContentBlockTypes(messages, "image")
}

func scanContentBlockTypes(messages []any, types ...string) bool {
	for _, m := range messages {
		msg, ok := m.(map[string]any)
		if !ok {
			continue
		}
		blocks, ok := msg["content"].([]any)
		if !ok {
			continue
		}
		for _, b := range blocks {
			block, ok := b.(map[string]any)
			if !ok {
				continue
			}
			t, _ := block["type"].(string)
			for _, want := range types {
				if t == want {
					return true
				}
			}
		}
	}
	return false
}

// detectModalities always includes "text"; adds "vision" when the caller
// has already determined image content is present, and "audio" when an
// "audio" field exists at the top level of the body.
func detectModalities(body map[string]any, needsVision bool) []string {
	modalities := []string{"text"}
	if needsVision {
		modalities = append(modalities, "vision")
	}
	if _, ok := body["audio"]; ok {
		modalities = append(modalities, "audio")
	}
	return modalities
}
