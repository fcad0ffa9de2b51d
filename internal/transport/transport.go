// Package transport is a thin POST-JSON / receive-streaming-body
// abstraction over HTTP, built on the same klient.Client the rest of the
// gateway uses for outbound provider calls.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/worldline-go/klient"
)

// Client wraps a klient.Client with the POST-JSON / streaming-body shape
// every HTTP connector needs.
type Client struct {
	klient *klient.Client
}

// NewClient builds a Client from already-configured klient options. Each
// HTTP connector configures its own base URL, header set, proxy and TLS
// options here, matching the per-provider klient.New calls the gateway's
// own LLM provider clients make.
func NewClient(opts ...klient.OptionClientFn) (*Client, error) {
	c, err := klient.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("transport: new klient client: %w", err)
	}
	return &Client{klient: c}, nil
}

// Response is the decoded shape of a non-streaming HTTP response: status,
// headers, and raw body bytes.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// PostJSON issues a POST to path with a JSON-encoded body and the given
// extra headers, returning the raw response. Streaming responses
// (Content-Type: text/event-stream) are read to completion here; callers
// that want incremental delivery should use PostJSONStream instead.
func (c *Client) PostJSON(ctx context.Context, url string, body any, headers http.Header) (*Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("transport: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("transport: new request: %w", err)
	}
	applyHeaders(req, headers)

	var result Response
	err = c.klient.Do(req, func(resp *http.Response) error {
		result.StatusCode = resp.StatusCode
		result.Header = resp.Header.Clone()
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		result.Body = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// StreamResponse is the raw handle to a streaming HTTP response body; the
// caller is responsible for closing it once done reading.
type StreamResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// PostJSONStream issues a POST and returns the live response body for
// incremental reading (SSE parsing), bypassing klient's response-closing
// wrapper since the caller owns the body's lifetime.
func (c *Client) PostJSONStream(ctx context.Context, url string, body any, headers http.Header) (*StreamResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("transport: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("transport: new request: %w", err)
	}
	applyHeaders(req, headers)

	resp, err := c.klient.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transport: do request: %w", err)
	}
	return &StreamResponse{StatusCode: resp.StatusCode, Header: resp.Header, Body: resp.Body}, nil
}

func applyHeaders(req *http.Request, headers http.Header) {
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
}
