// Package local implements an in-process connector that runs generation
// without making any outbound network call, for small local models or
// deterministic test fixtures.
package local

import (
	"context"
	"strings"
	"time"

	"github.com/rakunlabs/gate/internal/router"
)

// Message is a provider-agnostic chat turn, the shape every protocol's
// request body is flattened into before generation.
type Message struct {
	Role    string
	Content string
}

// GenerateRequest is what TokenGenerator.Generate receives once a request
// body has been flattened into messages.
type GenerateRequest struct {
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// GenerateResult is the outcome of a completed (non-streaming) generation:
// the ordered text deltas callers should emit as successive content chunks,
// plus the usage accounting.
type GenerateResult struct {
	Deltas           []string
	PromptTokens     int
	CompletionTokens int
}

// TokenGenerator abstracts the actual decode loop. Implementations run
// off the calling goroutine for anything non-trivial; Connector.Execute
// already runs Generate in its own goroutine so a blocking implementation
// is safe.
type TokenGenerator interface {
	Generate(ctx context.Context, req GenerateRequest) (GenerateResult, error)
}

// Connector is the in-process router.Connector backed by a TokenGenerator.
type Connector struct {
	id            string
	capabilities  router.ConnectorCapabilities
	contextLength int
	generator     TokenGenerator
}

// New builds a local Connector with id serving the given generator.
func New(id string, contextLength int, generator TokenGenerator) *Connector {
	return &Connector{
		id:            id,
		contextLength: contextLength,
		generator:     generator,
		capabilities: router.ConnectorCapabilities{
			SupportsStreaming: true,
			SupportsBatching:  false,
			SupportsTools:     false,
			MaxContextLength:  &contextLength,
			Modalities:        []string{"text"},
		},
	}
}

// Describe implements router.Connector.
func (c *Connector) Describe(ctx context.Context) router.ConnectorDescription {
	return router.ConnectorDescription{
		ID:                c.id,
		AcceptedProtocols: []router.Protocol{router.ProtocolOpenAIChat, router.ProtocolAnthropic},
		Capabilities:      c.capabilities,
		CostStructure:     nil,
	}
}

// Probe implements router.Connector. A local connector is assumed available
// whenever the process is up; there is no remote endpoint to fail against.
func (c *Connector) Probe(ctx context.Context) router.ConnectorHealth {
	latency := 10
	return router.ConnectorHealth{
		Healthy:   true,
		LatencyMS: &latency,
		ErrorRate: 0,
		LastCheck: time.Now(),
	}
}

// Execute implements router.Connector: consumes the first request body,
// flattens it into messages, runs generation, and streams the result back
// as Headers, Metadata, one Content chunk per decoded piece, Usage, then a
// Complete Stop.
func (c *Connector) Execute(ctx context.Context, rc router.RequestContext, request router.RequestStream) (router.ResponseStream, error) {
	protocol := request.Protocol()

	bodies, err := request.Drain(ctx)
	if err != nil {
		return router.ResponseStream{}, err
	}
	if len(bodies) == 0 {
		return router.ResponseStream{}, router.ErrInvalidRoutingConfig("empty request stream")
	}
	first := bodies[0]

	model, _ := first["model"].(string)
	messages := flattenMessages(first)
	temperature := 0.7
	if t, ok := first["temperature"].(float64); ok {
		temperature = t
	}
	maxTokens := 256
	if mt, ok := first["max_tokens"].(float64); ok {
		maxTokens = int(mt)
	}

	writer, stream := router.NewResponseStream(16)
	go c.run(ctx, protocol, model, messages, temperature, maxTokens, writer)
	return stream, nil
}

func (c *Connector) run(ctx context.Context, protocol router.Protocol, model string, messages []Message, temperature float64, maxTokens int, writer router.ResponseStreamWriter) {
	defer writer.Close()

	result, err := c.generator.Generate(ctx, GenerateRequest{
		Model:       model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		_ = writer.Send(ctx, router.StopChunk(router.StopError, err.Error(), nil))
		return
	}

	_ = writer.Send(ctx, router.HeadersChunk(map[string]string{}))
	_ = writer.Send(ctx, router.MetadataChunk(map[string]any{
		"provider": "local",
		"model":    model,
	}))

	for _, delta := range result.Deltas {
		_ = writer.Send(ctx, router.ContentChunk(chunkBodyFor(protocol, delta)))
	}

	_ = writer.Send(ctx, router.UsageChunk(result.PromptTokens, result.CompletionTokens))
	_ = writer.Send(ctx, router.StopChunk(router.StopComplete, "", nil))
}

// chunkBodyFor shapes one decoded text delta into the wire form the
// requesting protocol expects for a streamed content chunk.
func chunkBodyFor(protocol router.Protocol, delta string) any {
	switch protocol {
	case router.ProtocolOpenAIChat:
		return map[string]any{
			"choices": []any{
				map[string]any{"index": 0, "delta": map[string]any{"content": delta}},
			},
		}
	case router.ProtocolAnthropic:
		return map[string]any{
			"content": []any{
				map[string]any{"type": "text", "text": delta},
			},
		}
	default:
		return map[string]any{"delta": delta}
	}
}

// flattenMessages builds the provider-agnostic message list a generator
// consumes, from either a system field plus a messages array, or an
// Anthropic-style content-block array within each message.
func flattenMessages(body map[string]any) []Message {
	var out []Message

	if system, ok := body["system"].(string); ok && system != "" {
		out = append(out, Message{Role: "system", Content: system})
	}

	rawMessages, ok := body["messages"].([]any)
	if !ok {
		return out
	}
	for _, rm := range rawMessages {
		m, ok := rm.(map[string]any)
		if !ok {
			continue
		}
		role, _ := m["role"].(string)
		if role == "" {
			role = "user"
		}
		out = append(out, Message{Role: role, Content: flattenContent(m["content"])})
	}
	return out
}

// flattenContent handles both a plain string content field and an
// Anthropic-style array of typed content blocks, writing every text block
// followed by a newline (so the result ends with one).
func flattenContent(content any) string {
	if s, ok := content.(string); ok {
		return s
	}
	blocks, ok := content.([]any)
	if !ok {
		return ""
	}
	var sb strings.Builder
	for _, b := range blocks {
		block, ok := b.(map[string]any)
		if !ok {
			continue
		}
		if t, _ := block["type"].(string); t != "text" {
			continue
		}
		if txt, ok := block["text"].(string); ok {
			sb.WriteString(txt)
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}
