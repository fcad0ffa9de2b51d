package protocol

import (
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rakunlabs/gate/internal/router"
)

// ConversionResult is a converted body paired with any lossy-conversion
// warnings produced along the way.
type ConversionResult struct {
	Body     map[string]any
	Warnings []string
}

// CanConvert reports whether a direct conversion function exists for the
// (from, to) pair. Identity pairs report true; ConvertRequest returns the
// body unchanged for them.
func CanConvert(from, to router.Protocol) bool {
	if from == to {
		return true
	}
	switch {
	case from == router.ProtocolAnthropic && to == router.ProtocolOpenAIChat:
		return true
	case from == router.ProtocolOpenAIChat && to == router.ProtocolAnthropic:
		return true
	case from == router.ProtocolOpenAICompletions && to == router.ProtocolOpenAIChat:
		return true
	default:
		return false
	}
}

// ConversionLoss returns the exact warning list a (from, to) conversion may
// produce, independent of whether the fields are actually present in a
// given body. Used by callers that want to warn up front.
func ConversionLoss(from, to router.Protocol) []string {
	switch {
	case from == router.ProtocolAnthropic && to == router.ProtocolOpenAIChat:
		return []string{"image blocks", "unknown content block types", "cache_control"}
	case from == router.ProtocolOpenAIChat && to == router.ProtocolAnthropic:
		return []string{"functions", "logprobs", "n>1"}
	case from == router.ProtocolOpenAICompletions && to == router.ProtocolOpenAIChat:
		return []string{"suffix", "echo"}
	default:
		return nil
	}
}

// ConvertRequest dispatches to the pairwise conversion function for
// (from, to). Identity conversion returns the input unchanged with no
// warnings. Any other pair fails with UnsupportedConversion.
func ConvertRequest(from, to router.Protocol, body map[string]any) (ConversionResult, error) {
	if from == to {
		return ConversionResult{Body: body}, nil
	}
	switch {
	case from == router.ProtocolAnthropic && to == router.ProtocolOpenAIChat:
		return anthropicToOpenAIChat(body), nil
	case from == router.ProtocolOpenAIChat && to == router.ProtocolAnthropic:
		return openAIChatToAnthropic(body), nil
	case from == router.ProtocolOpenAICompletions && to == router.ProtocolOpenAIChat:
		return completionsToChat(body), nil
	default:
		return ConversionResult{}, router.ErrUnsupportedConversion(from, to)
	}
}

func passThrough(dst, src map[string]any, keys ...string) {
	for _, k := range keys {
		if v, ok := src[k]; ok {
			dst[k] = v
		}
	}
}

// anthropicToOpenAIChat copies model; prepends a system message if
// Anthropic's top-level "system" is present; flattens each content block
// list into a newline-joined string per message; passes through the shared
// sampling/tool fields; warns on image blocks, unknown block types, and
// cache_control.
func anthropicToOpenAIChat(body map[string]any) ConversionResult {
	out := map[string]any{}
	var warnings []string

	if model, ok := body["model"]; ok {
		out["model"] = model
	}

	var messages []any
	if sys, ok := body["system"].(string); ok && sys != "" {
		messages = append(messages, map[string]any{"role": "system", "content": sys})
	}

	if srcMessages, ok := body["messages"].([]any); ok {
		for _, m := range srcMessages {
			msg, ok := m.(map[string]any)
			if !ok {
				continue
			}
			role, _ := msg["role"].(string)
			content, blockWarnings := flattenAnthropicContent(msg["content"])
			warnings = append(warnings, blockWarnings...)
			messages = append(messages, map[string]any{"role": role, "content": content})
		}
	}
	out["messages"] = messages

	passThrough(out, body, "temperature", "max_tokens", "top_p", "stream", "stop", "tools", "tool_choice")

	if _, ok := body["cache_control"]; ok {
		warnings = append(warnings, "cache_control")
	}

	return ConversionResult{Body: out, Warnings: dedupe(warnings)}
}

// flattenAnthropicContent flattens one message's Anthropic content (a
// string, or a list of typed blocks) into a single newline-joined string,
// collecting warnings for image blocks and unrecognized block types.
func flattenAnthropicContent(content any) (string, []string) {
	if s, ok := content.(string); ok {
		return s, nil
	}
	blocks, ok := content.([]any)
	if !ok {
		return "", nil
	}
	var parts []string
	var warnings []string
	for _, b := range blocks {
		block, ok := b.(map[string]any)
		if !ok {
			continue
		}
		switch t, _ := block["type"].(string); t {
		case "text":
			if text, ok := block["text"].(string); ok {
				parts = append(parts, text)
			}
		case "image":
			warnings = append(warnings, "image blocks")
		default:
			warnings = append(warnings, "unknown content block types")
		}
	}
	return strings.Join(parts, "\n"), warnings
}

// openAIChatToAnthropic copies model; emits anthropic_version; lifts a
// system message to top-level system; wraps string content as a text
// block; passes through shared fields; converts bare "functions" into
// "tools" with a warning; warns on logprobs and n>1.
func openAIChatToAnthropic(body map[string]any) ConversionResult {
	out := map[string]any{
		"anthropic_version": "2024-10-22",
	}
	var warnings []string

	if model, ok := body["model"]; ok {
		out["model"] = model
	}

	var system string
	var messages []any
	if srcMessages, ok := body["messages"].([]any); ok {
		for _, m := range srcMessages {
			msg, ok := m.(map[string]any)
			if !ok {
				continue
			}
			role, _ := msg["role"].(string)
			if role == "system" {
				if s, ok := msg["content"].(string); ok {
					system = s
				}
				continue
			}
			content := msg["content"]
			if s, ok := content.(string); ok {
				content = []any{map[string]any{"type": "text", "text": s}}
			}
			messages = append(messages, map[string]any{"role": role, "content": content})
		}
	}
	if system != "" {
		out["system"] = system
	}
	out["messages"] = messages

	passThrough(out, body, "temperature", "max_tokens", "top_p", "stream")
	if stop, ok := body["stop"]; ok {
		out["stop_sequences"] = stop
	}
	passThrough(out, body, "tools", "tool_choice")

	if _, hasTools := body["tools"]; !hasTools {
		if fns, ok := body["functions"].([]any); ok {
			var tools []any
			for _, f := range fns {
				tools = append(tools, map[string]any{"type": "function", "function": f})
			}
			out["tools"] = tools
			warnings = append(warnings, "functions")
		}
	}

	if _, ok := body["logprobs"]; ok {
		warnings = append(warnings, "logprobs")
	}
	if n, ok := asInt(body["n"]); ok && n > 1 {
		warnings = append(warnings, "n>1")
	}

	return ConversionResult{Body: out, Warnings: dedupe(warnings)}
}

// completionsToChat copies model; converts prompt (string or array of
// strings, newline-joined) into a single user message; passes through the
// shared sampling fields; warns on suffix and echo.
func completionsToChat(body map[string]any) ConversionResult {
	out := map[string]any{}
	var warnings []string

	if model, ok := body["model"]; ok {
		out["model"] = model
	}

	var prompt string
	switch p := body["prompt"].(type) {
	case string:
		prompt = p
	case []any:
		var parts []string
		for _, v := range p {
			if s, ok := v.(string); ok {
				parts = append(parts, s)
			}
		}
		prompt = strings.Join(parts, "\n")
	}
	out["messages"] = []any{map[string]any{"role": "user", "content": prompt}}

	passThrough(out, body, "temperature", "max_tokens", "top_p", "stream", "stop",
		"presence_penalty", "frequency_penalty")

	if _, ok := body["suffix"]; ok {
		warnings = append(warnings, "suffix")
	}
	if _, ok := body["echo"]; ok {
		warnings = append(warnings, "echo")
	}

	return ConversionResult{Body: out, Warnings: dedupe(warnings)}
}

// ConvertResponse dispatches response conversion for (from, to).
func ConvertResponse(from, to router.Protocol, body map[string]any) (ConversionResult, error) {
	if from == to {
		return ConversionResult{Body: body}, nil
	}
	switch {
	case from == router.ProtocolOpenAIChat && to == router.ProtocolAnthropic:
		return openAIChatResponseToAnthropic(body), nil
	case from == router.ProtocolAnthropic && to == router.ProtocolOpenAIChat:
		return anthropicResponseToOpenAIChat(body), nil
	default:
		return ConversionResult{}, router.ErrUnsupportedConversion(from, to)
	}
}

var finishReasonToAnthropicStop = map[string]string{
	"stop":        "end_turn",
	"length":      "max_tokens",
	"tool_calls":  "tool_use",
}

// openAIChatResponseToAnthropic takes the first choice and maps it onto an
// Anthropic message response, mapping finish_reason and usage field names.
// Warns if more than one choice was present.
func openAIChatResponseToAnthropic(body map[string]any) ConversionResult {
	out := map[string]any{"type": "message"}
	var warnings []string

	choices, _ := body["choices"].([]any)
	if len(choices) > 1 {
		warnings = append(warnings, "multiple choices")
	}

	if id, ok := body["id"]; ok {
		out["id"] = id
	}
	if model, ok := body["model"]; ok {
		out["model"] = model
	}

	var role, content, finishReason string
	if len(choices) > 0 {
		if choice, ok := choices[0].(map[string]any); ok {
			if msg, ok := choice["message"].(map[string]any); ok {
				role, _ = msg["role"].(string)
				content, _ = msg["content"].(string)
			}
			finishReason, _ = choice["finish_reason"].(string)
		}
	}
	out["role"] = role
	out["content"] = []any{map[string]any{"type": "text", "text": content}}

	stopReason := finishReason
	if mapped, ok := finishReasonToAnthropicStop[finishReason]; ok {
		stopReason = mapped
	}
	out["stop_reason"] = stopReason

	if usage, ok := body["usage"].(map[string]any); ok {
		anthropicUsage := map[string]any{}
		if v, ok := usage["prompt_tokens"]; ok {
			anthropicUsage["input_tokens"] = v
		}
		if v, ok := usage["completion_tokens"]; ok {
			anthropicUsage["output_tokens"] = v
		}
		out["usage"] = anthropicUsage
	}

	return ConversionResult{Body: out, Warnings: warnings}
}

var anthropicStopToFinishReason = map[string]string{
	"end_turn":   "stop",
	"max_tokens": "length",
	"tool_use":   "tool_calls",
}

// anthropicResponseToOpenAIChat builds a chat.completion response,
// generating a chatcmpl-<ulid> id if the source has none, stamping the
// current time as "created", and summing independently-defaulted token
// counts into total_tokens.
func anthropicResponseToOpenAIChat(body map[string]any) ConversionResult {
	out := map[string]any{"object": "chat.completion"}

	id, _ := body["id"].(string)
	if id == "" {
		id = "chatcmpl-" + ulid.Make().String()
	}
	out["id"] = id
	out["created"] = time.Now().UTC().Unix()
	if model, ok := body["model"]; ok {
		out["model"] = model
	}

	role, _ := body["role"].(string)
	content, warnings := flattenAnthropicContent(body["content"])

	stopReason, _ := body["stop_reason"].(string)
	finishReason := stopReason
	if mapped, ok := anthropicStopToFinishReason[stopReason]; ok {
		finishReason = mapped
	}

	out["choices"] = []any{map[string]any{
		"index": 0,
		"message": map[string]any{
			"role":    role,
			"content": content,
		},
		"finish_reason": finishReason,
	}}

	inputTokens, outputTokens := 0, 0
	if usage, ok := body["usage"].(map[string]any); ok {
		inputTokens, _ = asInt(usage["input_tokens"])
		outputTokens, _ = asInt(usage["output_tokens"])
		out["usage"] = map[string]any{
			"prompt_tokens":     inputTokens,
			"completion_tokens": outputTokens,
			"total_tokens":      inputTokens + outputTokens,
		}
	}

	return ConversionResult{Body: out, Warnings: warnings}
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := map[string]bool{}
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
