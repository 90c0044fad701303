package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/magpie-ai/magpie/internal/cancelscope"
	"github.com/magpie-ai/magpie/internal/observability"
)

// Config configures the model client.
type Config struct {
	// BaseURL is the provider endpoint root, e.g. "https://generativelanguage.googleapis.com".
	BaseURL string

	// Token is sent as a bearer header.
	Token string

	// Project switches the client to the code-assist endpoint and envelope.
	Project string

	// RequestTimeout bounds a single round trip. Cleared once SSE framing is
	// detected, at which point StreamIdleTimeout takes over.
	RequestTimeout time.Duration

	// StreamIdleTimeout bounds the silence between stream reads.
	StreamIdleTimeout time.Duration

	// HTTPClient overrides the default client. Its Timeout must be zero;
	// deadlines are driven by the cancellation scope.
	HTTPClient *http.Client

	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// Client issues non-streaming and SSE streaming model requests.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *observability.Logger
}

// StreamEvent is one element of the stream: a chunk or a terminal error.
type StreamEvent struct {
	Chunk *Chunk
	Err   error
}

// NewClient creates a model client.
func NewClient(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = observability.Nop()
	}
	return &Client{cfg: cfg, http: httpClient, logger: logger}
}

// Generate issues a single-shot JSON round trip.
func (c *Client) Generate(ctx context.Context, req *Request) (*Chunk, error) {
	scope := cancelscope.New(ctx, c.cfg.RequestTimeout)
	defer scope.Close()

	start := time.Now()
	chunk, err := c.generate(scope, req)
	c.observe(req.Model, "generate", start, err)
	if err != nil {
		return nil, c.mapScopeError(scope, err)
	}
	return chunk, nil
}

func (c *Client) generate(scope *cancelscope.Scope, req *Request) (*Chunk, error) {
	resp, err := c.post(scope.Context(), req, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPStatusError{Code: resp.StatusCode, Body: string(body)}
	}
	chunk, err := unwrapChunk(body)
	if err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return chunk, nil
}

// Stream issues a streaming request and returns a channel of events. The
// channel is closed when the stream ends; cancellation without a timeout
// reason ends the stream quietly (a terminal empty response), while timeouts
// surface as a retryable error event.
func (c *Client) Stream(ctx context.Context, req *Request) (<-chan StreamEvent, error) {
	scope := cancelscope.New(ctx, c.cfg.RequestTimeout)

	resp, err := c.post(scope.Context(), req, true)
	if err != nil {
		mapped := c.mapScopeError(scope, err)
		scope.Close()
		return nil, mapped
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		resp.Body.Close()
		scope.Close()
		return nil, &HTTPStatusError{Code: resp.StatusCode, Body: string(body)}
	}

	events := make(chan StreamEvent, 16)
	start := time.Now()
	go func() {
		defer close(events)
		defer scope.Close()
		defer resp.Body.Close()

		err := c.consumeBody(scope, resp, events)
		c.observe(req.Model, "stream", start, err)
		if err != nil {
			events <- StreamEvent{Err: err}
		}
	}()
	return events, nil
}

// consumeBody reads either an SSE body or a fallback one-shot JSON body and
// forwards chunks to events. A nil return means the stream ended cleanly,
// including quiet termination on abort.
func (c *Client) consumeBody(scope *cancelscope.Scope, resp *http.Response, events chan<- StreamEvent) error {
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType == "text/event-stream" {
		scope.ClearRequestTimer()
		scope.StartIdleTimer(c.cfg.StreamIdleTimeout)
		err := readSSE(resp.Body, scope.TouchIdle, func(payload string) error {
			chunk, parseErr := unwrapChunk([]byte(payload))
			if parseErr != nil {
				return fmt.Errorf("parse stream chunk: %w", parseErr)
			}
			events <- StreamEvent{Chunk: chunk}
			return nil
		})
		if err != nil {
			// Cancelled mid-parse or mid-read: timeouts surface, aborts end quietly.
			if scope.Err() != nil {
				if mapped := c.mapScopeError(scope, err); mapped != ErrAborted {
					return mapped
				}
				return nil
			}
			return err
		}
		return nil
	}

	// Fallback: a one-shot JSON object or array body.
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if scope.Err() != nil {
			if mapped := c.mapScopeError(scope, err); mapped != ErrAborted {
				return mapped
			}
			return nil
		}
		return fmt.Errorf("read response: %w", err)
	}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil
	}
	if trimmed[0] == '[' {
		var raws []json.RawMessage
		if err := json.Unmarshal(trimmed, &raws); err != nil {
			return fmt.Errorf("parse response array: %w", err)
		}
		for _, raw := range raws {
			chunk, err := unwrapChunk(raw)
			if err != nil {
				return fmt.Errorf("parse response element: %w", err)
			}
			events <- StreamEvent{Chunk: chunk}
		}
		return nil
	}
	chunk, err := unwrapChunk(trimmed)
	if err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	events <- StreamEvent{Chunk: chunk}
	return nil
}

func (c *Client) post(ctx context.Context, req *Request, stream bool) (*http.Response, error) {
	model, err := NormalizeModel(req.Model)
	if err != nil {
		return nil, err
	}

	var payload any = req
	url := c.cfg.BaseURL
	if c.cfg.Project != "" {
		payload = &codeAssistEnvelope{
			Model:        model,
			Project:      c.cfg.Project,
			UserPromptID: observability.GetRequestID(ctx),
			Request:      req,
		}
		if stream {
			url += "/v1internal:streamGenerateContent?alt=sse"
		} else {
			url += "/v1internal:generateContent"
		}
	} else {
		if stream {
			url += "/v1beta/" + model + ":streamGenerateContent?alt=sse"
		} else {
			url += "/v1beta/" + model + ":generateContent"
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// mapScopeError translates a transport failure through the scope's recorded
// reason: timeouts become retryable TimeoutErrors, plain cancellation becomes
// ErrAborted, everything else passes through.
func (c *Client) mapScopeError(scope *cancelscope.Scope, err error) error {
	switch scope.Reason() {
	case cancelscope.ReasonRequestTimeout:
		return &TimeoutError{Reason: string(cancelscope.ReasonRequestTimeout)}
	case cancelscope.ReasonStreamIdleTimeout:
		return &TimeoutError{Reason: string(cancelscope.ReasonStreamIdleTimeout)}
	}
	if scope.Err() != nil {
		return ErrAborted
	}
	return err
}

func (c *Client) observe(model, mode string, start time.Time, err error) {
	if c.cfg.Metrics == nil {
		return
	}
	status := "success"
	if err == ErrAborted {
		status = "aborted"
	} else if err != nil {
		status = "error"
	}
	label := strings.TrimPrefix(model, "models/")
	c.cfg.Metrics.ModelRequestCounter.WithLabelValues(label, mode, status).Inc()
	c.cfg.Metrics.ModelRequestDuration.WithLabelValues(label, mode).Observe(time.Since(start).Seconds())
}
