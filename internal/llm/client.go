// Package llm streams chat completions from an OpenAI-compatible endpoint
// and turns them into UI events.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zenreply/zenreply/internal/cancel"
	"github.com/zenreply/zenreply/internal/config"
	"github.com/zenreply/zenreply/internal/events"
	"github.com/zenreply/zenreply/internal/stream"
)

const (
	requestTimeout = 120 * time.Second

	// A cancel mark on a starting request's own id older than this is a
	// leftover and is dropped; a younger one was meant for this stream.
	staleMarkAge = 30 * time.Second

	maxErrorBody = 64 * 1024
	readBufSize  = 32 * 1024
)

// Client runs completion requests. It is safe for concurrent use; each
// request only touches its own state plus the shared cancel registry.
type Client struct {
	httpClient *http.Client
	registry   *cancel.Registry
	emitter    events.Emitter
	fallback   func() config.API
	recorder   Recorder
}

// New returns a Client. fallback supplies the environment-derived settings
// and is consulted on every call so reloaded config takes effect.
func New(registry *cancel.Registry, emitter events.Emitter, fallback func() config.API) *Client {
	if fallback == nil {
		fallback = func() config.API { return config.API{} }
	}
	return &Client{
		httpClient: &http.Client{Timeout: requestTimeout},
		registry:   registry,
		emitter:    emitter,
		fallback:   fallback,
	}
}

// SetRecorder installs a sink for finished generations. Call before use.
func (c *Client) SetRecorder(r Recorder) {
	c.recorder = r
}

// SetHTTPClient replaces the default client. Call before use.
func (c *Client) SetHTTPClient(hc *http.Client) {
	c.httpClient = hc
}

// Cancel asks the stream for requestID to stop. It always succeeds; the
// stream notices at its next suspension point and ends with a done event.
func (c *Client) Cancel(requestID string) {
	c.registry.MarkCanceled(requestID)
	log.Debug().Str("request_id", requestID).Msg("cancel requested")
}

// run is the per-request state of one StreamCompletion call.
type run struct {
	gen   Generation
	reply strings.Builder
}

// StreamCompletion sends prompt and emits delta events as the reply
// arrives, followed by exactly one done or error event. It returns once the
// stream is terminal. Cancellation is not an error.
func (c *Client) StreamCompletion(ctx context.Context, requestID, prompt string, creds Credentials) error {
	if c.registry.ClearIfStale(requestID, staleMarkAge) {
		log.Debug().Str("request_id", requestID).Msg("dropped stale cancel mark")
	}

	r := &run{gen: Generation{
		RequestID:   requestID,
		StartedAt:   time.Now(),
		PromptChars: len([]rune(prompt)),
	}}

	if c.finishIfCanceled(r) {
		return nil
	}

	resolved, err := ResolveCredentials(creds, c.fallback())
	if err != nil {
		return c.fail(r, err)
	}
	r.gen.Endpoint = Endpoint(resolved.APIBase)
	r.gen.Model = resolved.Model

	req, err := c.newRequest(ctx, r.gen.Endpoint, resolved.APIKey, newStreamRequest(resolved.Model, prompt))
	if err != nil {
		return c.fail(r, err)
	}
	req.Header.Set("Accept", "text/event-stream")

	if c.finishIfCanceled(r) {
		return nil
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.fail(r, fmt.Errorf("%w: %v", ErrConnect, err))
	}
	defer resp.Body.Close()

	if c.finishIfCanceled(r) {
		return nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.fail(r, statusError(resp))
	}

	return c.consume(r, resp.Body)
}

func (c *Client) consume(r *run, body io.Reader) error {
	lines := stream.NewLineBuffer()
	buf := make([]byte, readBufSize)

	for {
		n, err := body.Read(buf)
		if n > 0 {
			if c.finishIfCanceled(r) {
				return nil
			}
			lines.Write(buf[:n])

			for {
				line, ok := lines.Next()
				if !ok {
					break
				}
				if c.finishIfCanceled(r) {
					return nil
				}
				if c.handleLine(r, line) {
					c.finish(r, OutcomeDone)
					return nil
				}
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			if c.finishIfCanceled(r) {
				return nil
			}
			return c.fail(r, fmt.Errorf("%w: %v", ErrTransportRead, err))
		}
	}

	if c.finishIfCanceled(r) {
		return nil
	}

	// Best effort on an unterminated last line; only its delta matters.
	if rest := strings.TrimSpace(lines.Rest()); rest != "" {
		c.handleLine(r, rest)
	}

	c.finish(r, OutcomeDone)
	return nil
}

// handleLine decodes one line and emits its delta. It reports whether the
// line ended the stream.
func (c *Client) handleLine(r *run, line string) bool {
	frame := stream.DecodeLine(line)
	if frame.Model != "" {
		r.gen.Model = frame.Model
	}
	if frame.Usage != nil {
		r.gen.Usage = frame.Usage
	}

	switch frame.Kind {
	case stream.FrameDone:
		return true
	case stream.FrameDelta:
		if frame.Delta == "" {
			return false
		}
		if len(r.gen.Deltas) == 0 {
			r.gen.FirstDelta = time.Since(r.gen.StartedAt)
		}
		r.gen.Deltas = append(r.gen.Deltas, frame.Delta)
		r.reply.WriteString(frame.Delta)
		c.emit(events.Delta(r.gen.RequestID, frame.Delta))
	}
	return false
}

func (c *Client) finishIfCanceled(r *run) bool {
	if !c.registry.IsCanceled(r.gen.RequestID) {
		return false
	}
	c.finish(r, OutcomeCanceled)
	return true
}

// finish emits the done event. Cancellation ends the same way as a
// completed stream; only the recorded outcome differs.
func (c *Client) finish(r *run, outcome Outcome) {
	c.emit(events.Done(r.gen.RequestID))
	c.registry.Clear(r.gen.RequestID)
	c.record(r, outcome, "")
}

func (c *Client) fail(r *run, err error) error {
	c.emit(events.Error(r.gen.RequestID, err.Error()))
	c.registry.Clear(r.gen.RequestID)
	c.record(r, OutcomeError, err.Error())
	return err
}

func (c *Client) emit(ev events.StreamEvent) {
	if err := c.emitter.EmitStream(ev); err != nil {
		log.Debug().Err(err).
			Str("request_id", ev.RequestID).
			Str("kind", string(ev.Kind)).
			Msg("stream event dropped")
	}
}

func (c *Client) record(r *run, outcome Outcome, errMsg string) {
	r.gen.Outcome = outcome
	r.gen.Error = errMsg
	r.gen.Duration = time.Since(r.gen.StartedAt)

	evt := log.Info()
	if outcome == OutcomeError {
		evt = log.Warn().Str("error", errMsg)
	}
	evt.Str("request_id", r.gen.RequestID).
		Str("model", r.gen.Model).
		Str("outcome", string(outcome)).
		Int("deltas", len(r.gen.Deltas)).
		Int("reply_chars", len([]rune(r.reply.String()))).
		Dur("first_delta", r.gen.FirstDelta).
		Dur("duration", r.gen.Duration).
		Msg("generation finished")

	if c.recorder != nil {
		c.recorder.Record(r.gen)
	}
}

func (c *Client) newRequest(ctx context.Context, endpoint, apiKey string, body chatRequest) (*http.Request, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrClientConstruction, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrClientConstruction, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)
	return req, nil
}

func statusError(resp *http.Response) *StatusError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       strings.TrimSpace(string(body)),
	}
}

// TestConnection performs one non-streaming round trip against the same
// endpoint a stream would use and reports what answered.
func (c *Client) TestConnection(ctx context.Context, creds Credentials) (string, error) {
	resolved, err := ResolveCredentials(creds, c.fallback())
	if err != nil {
		return "", err
	}
	endpoint := Endpoint(resolved.APIBase)

	req, err := c.newRequest(ctx, endpoint, resolved.APIKey, chatRequest{
		Model:       resolved.Model,
		Temperature: temperature,
		MaxTokens:   16,
		Messages:    []chatMessage{{Role: "user", Content: "ping"}},
	})
	if err != nil {
		return "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrConnect, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", statusError(resp)
	}

	var parsed chatResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxErrorBody)).Decode(&parsed); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrTransportRead, err)
	}

	model := firstNonEmpty(parsed.Model, resolved.Model)
	log.Info().Str("endpoint", endpoint).Str("model", model).Msg("connection test succeeded")
	return fmt.Sprintf("connected to %s (model %s)", endpoint, model), nil
}
