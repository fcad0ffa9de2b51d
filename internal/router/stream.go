package router

import "context"

// StopReason is the terminal reason a ResponseStream ended.
type StopReason string

const (
	StopComplete      StopReason = "complete"
	StopMaxTokens      StopReason = "max_tokens"
	StopStopSequence   StopReason = "stop_sequence"
	StopToolUse        StopReason = "tool_use"
	StopError          StopReason = "error"
	StopCancelled      StopReason = "cancelled"
	StopTimeout        StopReason = "timeout"
)

// Usage carries token accounting for a single response.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Cost is the actual, post-hoc cost of a completed request, as opposed to
// the estimate a routing strategy produces beforehand.
type Cost struct {
	InputTokens      int
	OutputTokens     int
	CachedInputTok   int
	InputCostUSD     float64
	OutputCostUSD    float64
	TotalCostUSD     float64
}

// StopInfo is the payload of a Stop chunk.
type StopInfo struct {
	Reason StopReason
	Error  string
	Cost   *Cost
}

// ChunkKind discriminates the ResponseChunk variants.
type ChunkKind int

const (
	ChunkHeaders ChunkKind = iota
	ChunkContent
	ChunkUsage
	ChunkMetadata
	ChunkStop
)

// ResponseChunk is one element of a ResponseStream. Exactly one field group
// is meaningful, selected by Kind — Go has no closed sum type, so this
// mirrors the source enum as a tagged struct the way the rest of the core's
// wire-adjacent types do.
type ResponseChunk struct {
	Kind     ChunkKind
	Headers  map[string]string
	Content  any
	Usage    *Usage
	Metadata map[string]any
	Stop     *StopInfo
}

func HeadersChunk(h map[string]string) ResponseChunk {
	return ResponseChunk{Kind: ChunkHeaders, Headers: h}
}

func ContentChunk(v any) ResponseChunk {
	return ResponseChunk{Kind: ChunkContent, Content: v}
}

func UsageChunk(promptTokens, completionTokens int) ResponseChunk {
	return ResponseChunk{Kind: ChunkUsage, Usage: &Usage{PromptTokens: promptTokens, CompletionTokens: completionTokens}}
}

func MetadataChunk(m map[string]any) ResponseChunk {
	return ResponseChunk{Kind: ChunkMetadata, Metadata: m}
}

func StopChunk(reason StopReason, errMsg string, cost *Cost) ResponseChunk {
	info := &StopInfo{Reason: reason}
	if errMsg != "" {
		info.Error = errMsg
	}
	info.Cost = cost
	return ResponseChunk{Kind: ChunkStop, Stop: info}
}

// RequestStream is a protocol-tagged, finite, non-restartable sequence of
// JSON request values. A one-shot, fully-buffered request body is the
// common case; the channel form also lets long multipart bodies be streamed
// incrementally by a producer goroutine.
type RequestStream struct {
	protocol Protocol
	ch       <-chan requestItem
}

type requestItem struct {
	value map[string]any
	err   error
}

// NewRequestStream wraps a single pre-decoded JSON value as a one-shot
// stream, the shape every HTTP edge route produces today.
func NewRequestStream(protocol Protocol, value map[string]any) RequestStream {
	ch := make(chan requestItem, 1)
	ch <- requestItem{value: value}
	close(ch)
	return RequestStream{protocol: protocol, ch: ch}
}

// NewRequestStreamChan builds a RequestStream fed by a producer goroutine
// writing to ch, which the caller must close when done.
func NewRequestStreamChan(protocol Protocol, ch <-chan requestItem) RequestStream {
	return RequestStream{protocol: protocol, ch: ch}
}

// Protocol returns the stream's immutable protocol tag.
func (s RequestStream) Protocol() Protocol { return s.protocol }

// Next returns the next JSON value, or ok=false when the stream is
// exhausted. It respects ctx cancellation.
func (s RequestStream) Next(ctx context.Context) (map[string]any, bool, error) {
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case item, open := <-s.ch:
		if !open {
			return nil, false, nil
		}
		if item.err != nil {
			return nil, false, item.err
		}
		return item.value, true, nil
	}
}

// Drain consumes the remainder of the stream and returns the collected
// values. Used by connectors (e.g. the local connector) that need
// the whole one-shot body before starting work.
func (s RequestStream) Drain(ctx context.Context) ([]map[string]any, error) {
	var out []map[string]any
	for {
		v, ok, err := s.Next(ctx)
		if err != nil {
			return out, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, v)
	}
}

type responseItem struct {
	chunk ResponseChunk
	err   error
}

// ResponseStream is a finite, non-restartable sequence of ResponseChunks.
type ResponseStream struct {
	ch <-chan responseItem
}

// Next returns the next chunk, or ok=false when the stream is exhausted.
func (s ResponseStream) Next(ctx context.Context) (ResponseChunk, bool, error) {
	select {
	case <-ctx.Done():
		return ResponseChunk{}, false, ctx.Err()
	case item, open := <-s.ch:
		if !open {
			return ResponseChunk{}, false, nil
		}
		return item.chunk, item.err == nil, item.err
	}
}

// ResponseStreamWriter is the producer side of a ResponseStream: a bounded
// channel plus the close discipline the consumer relies on to detect the
// end of the stream.
type ResponseStreamWriter struct {
	ch chan responseItem
}

// NewResponseStream creates a bounded producer/consumer pair. capacity is
// the number of chunks the producer may get ahead of the consumer by.
func NewResponseStream(capacity int) (ResponseStreamWriter, ResponseStream) {
	ch := make(chan responseItem, capacity)
	return ResponseStreamWriter{ch: ch}, ResponseStream{ch: ch}
}

// Send enqueues a chunk, blocking if the buffer is full, unless ctx is
// cancelled first.
func (w ResponseStreamWriter) Send(ctx context.Context, chunk ResponseChunk) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case w.ch <- responseItem{chunk: chunk}:
		return nil
	}
}

// Fail enqueues a terminal error and closes the stream.
func (w ResponseStreamWriter) Fail(err error) {
	w.ch <- responseItem{err: err}
	close(w.ch)
}

// Close closes the stream normally. Callers must have already sent a Stop
// chunk for a well-formed stream; Close itself does not synthesize one.
func (w ResponseStreamWriter) Close() {
	close(w.ch)
}

// SingleChunkStream builds a already-closed ResponseStream containing
// exactly one chunk, used by PlanExecutor to synthesize the in-band timeout
// response.
func SingleChunkStream(chunk ResponseChunk) ResponseStream {
	w, s := NewResponseStream(1)
	_ = w.Send(context.Background(), chunk)
	w.Close()
	return s
}
