package local

import (
	"context"
	"testing"

	"github.com/rakunlabs/gate/internal/router"
)

type fakeGenerator struct {
	result GenerateResult
	err    error
	seen   GenerateRequest
}

func (f *fakeGenerator) Generate(ctx context.Context, req GenerateRequest) (GenerateResult, error) {
	f.seen = req
	return f.result, f.err
}

func drainStream(t *testing.T, stream router.ResponseStream) []router.ResponseChunk {
	t.Helper()
	var out []router.ResponseChunk
	for {
		chunk, ok, err := stream.Next(context.Background())
		if err != nil {
			t.Fatalf("stream.Next: %v", err)
		}
		if !ok {
			return out
		}
		out = append(out, chunk)
	}
}

func TestExecuteFlattensMessagesAndStreamsDeltas(t *testing.T) {
	gen := &fakeGenerator{result: GenerateResult{
		Deltas:           []string{"hel", "lo"},
		PromptTokens:     5,
		CompletionTokens: 2,
	}}
	conn := New("local-1", 8192, gen)

	body := map[string]any{
		"model":  "tiny-1",
		"system": "be terse",
		"messages": []any{
			map[string]any{"role": "user", "content": "hi"},
		},
	}
	request := router.NewRequestStream(router.ProtocolOpenAIChat, body)

	stream, err := conn.Execute(context.Background(), router.RequestContext{}, request)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	chunks := drainStream(t, stream)
	if len(chunks) != 6 {
		t.Fatalf("got %d chunks, want 6 (headers, metadata, 2 content, usage, stop)", len(chunks))
	}
	if chunks[0].Kind != router.ChunkHeaders {
		t.Fatalf("chunk 0 kind = %v, want Headers", chunks[0].Kind)
	}
	if chunks[1].Kind != router.ChunkMetadata || chunks[1].Metadata["model"] != "tiny-1" {
		t.Fatalf("chunk 1 = %+v, want metadata with model tiny-1", chunks[1])
	}
	last := chunks[len(chunks)-1]
	if last.Kind != router.ChunkStop || last.Stop.Reason != router.StopComplete {
		t.Fatalf("last chunk = %+v, want Stop{Complete}", last)
	}

	if len(gen.seen.Messages) != 2 {
		t.Fatalf("generator saw %d messages, want 2 (system + user)", len(gen.seen.Messages))
	}
	if gen.seen.Messages[0].Role != "system" || gen.seen.Messages[0].Content != "be terse" {
		t.Fatalf("system message not flattened correctly: %+v", gen.seen.Messages[0])
	}
}

func TestExecuteFlattensAnthropicContentBlocks(t *testing.T) {
	gen := &fakeGenerator{result: GenerateResult{Deltas: []string{"ok"}}}
	conn := New("local-1", 4096, gen)

	body := map[string]any{
		"model": "tiny-1",
		"messages": []any{
			map[string]any{
				"role": "user",
				"content": []any{
					map[string]any{"type": "text", "text": "part one"},
					map[string]any{"type": "image", "source": "ignored"},
					map[string]any{"type": "text", "text": "part two"},
				},
			},
		},
	}
	request := router.NewRequestStream(router.ProtocolAnthropic, body)

	if _, err := conn.Execute(context.Background(), router.RequestContext{}, request); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	want := "part one\npart two\n"
	if got := gen.seen.Messages[0].Content; got != want {
		t.Fatalf("flattened content = %q, want %q", got, want)
	}
}

func TestExecuteNilBodyStillTerminates(t *testing.T) {
	gen := &fakeGenerator{}
	conn := New("local-1", 4096, gen)

	request := router.NewRequestStream(router.ProtocolOpenAIChat, nil)
	stream, err := conn.Execute(context.Background(), router.RequestContext{}, request)
	if err != nil {
		t.Fatalf("Execute with nil body should not itself error: %v", err)
	}
	chunks := drainStream(t, stream)
	if len(chunks) == 0 || chunks[len(chunks)-1].Kind != router.ChunkStop {
		t.Fatalf("expected a terminal Stop chunk even for a nil body, got %+v", chunks)
	}
}

func TestChunkBodyForProtocolShapes(t *testing.T) {
	openaiBody := chunkBodyFor(router.ProtocolOpenAIChat, "x")
	if _, ok := openaiBody.(map[string]any)["choices"]; !ok {
		t.Fatalf("openai chunk missing choices: %+v", openaiBody)
	}

	anthropicBody := chunkBodyFor(router.ProtocolAnthropic, "x")
	if _, ok := anthropicBody.(map[string]any)["content"]; !ok {
		t.Fatalf("anthropic chunk missing content: %+v", anthropicBody)
	}
}
