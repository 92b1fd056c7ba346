package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zenreply/zenreply/internal/cancel"
	"github.com/zenreply/zenreply/internal/config"
	"github.com/zenreply/zenreply/internal/events"
)

// eventLog collects stream events; onEvent runs synchronously on each one.
type eventLog struct {
	mu      sync.Mutex
	events  []events.StreamEvent
	onEvent func(events.StreamEvent)
	failAll bool
}

func (l *eventLog) EmitStream(ev events.StreamEvent) error {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
	if l.onEvent != nil {
		l.onEvent(ev)
	}
	if l.failAll {
		return errors.New("ui gone")
	}
	return nil
}

func (l *eventLog) EmitClipboard(events.ClipboardEvent) error { return nil }

func (l *eventLog) all() []events.StreamEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]events.StreamEvent, len(l.events))
	copy(out, l.events)
	return out
}

func (l *eventLog) kinds() []events.Kind {
	var out []events.Kind
	for _, ev := range l.all() {
		out = append(out, ev.Kind)
	}
	return out
}

func (l *eventLog) deltas() string {
	var b strings.Builder
	for _, ev := range l.all() {
		if ev.Kind == events.KindDelta {
			b.WriteString(ev.Delta)
		}
	}
	return b.String()
}

type memRecorder struct {
	mu   sync.Mutex
	gens []Generation
}

func (m *memRecorder) Record(g Generation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gens = append(m.gens, g)
}

func chatFrame(content string) string {
	b, _ := json.Marshal(map[string]any{
		"model":   "test-model",
		"choices": []any{map[string]any{"delta": map[string]any{"content": content}}},
	})
	return "data: " + string(b) + "\n\n"
}

// sseServer serves the given body pieces, flushing after each one.
func sseServer(t *testing.T, pieces ...string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		for _, p := range pieces {
			_, _ = io.WriteString(w, p)
			flusher.Flush()
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func newTestClient(log *eventLog, base string) (*Client, *cancel.Registry) {
	reg := cancel.NewRegistry()
	c := New(reg, log, func() config.API {
		return config.API{Key: "test-key", Base: base, Model: "fallback-model"}
	})
	return c, reg
}

func TestStreamCompletion_EmitsDeltasThenDone(t *testing.T) {
	srv, hits := sseServer(t,
		": keep-alive\n\n",
		chatFrame("Hel"),
		chatFrame("lo"),
		"data: [DONE]\n\n",
	)
	log := &eventLog{}
	c, reg := newTestClient(log, srv.URL)

	err := c.StreamCompletion(context.Background(), "req-1", "hi", Credentials{})
	require.NoError(t, err)

	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, []events.Kind{events.KindDelta, events.KindDelta, events.KindDone}, log.kinds())
	assert.Equal(t, "Hello", log.deltas())
	for _, ev := range log.all() {
		assert.Equal(t, "req-1", ev.RequestID)
	}
	assert.Equal(t, 0, reg.Len())
}

func TestStreamCompletion_RequestShape(t *testing.T) {
	var got chatRequest
	var auth, path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = io.WriteString(w, "data: [DONE]\n")
	}))
	defer srv.Close()

	log := &eventLog{}
	c, _ := newTestClient(log, "")

	err := c.StreamCompletion(context.Background(), "req-1", "draft this", Credentials{
		APIKey:  "explicit-key",
		APIBase: srv.URL + "/v1/",
		Model:   "explicit-model",
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer explicit-key", auth)
	assert.Equal(t, "/v1/chat/completions", path)
	assert.Equal(t, "explicit-model", got.Model)
	assert.True(t, got.Stream)
	assert.Equal(t, 0.7, got.Temperature)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.NotEmpty(t, got.Messages[0].Content)
	assert.Equal(t, chatMessage{Role: "user", Content: "draft this"}, got.Messages[1])
}

func TestStreamCompletion_LegacyTextAndMalformedFrames(t *testing.T) {
	srv, _ := sseServer(t,
		`data: {"choices":[{"text":"a"}]}`+"\n",
		"data: {not json\n",
		`data: {"choices":[]}`+"\n",
		"event: ping\n",
		`data: {"choices":[{"text":"b"}]}`+"\r\n",
		"data: [DONE]\n",
	)
	log := &eventLog{}
	c, _ := newTestClient(log, srv.URL)

	require.NoError(t, c.StreamCompletion(context.Background(), "req", "p", Credentials{}))
	assert.Equal(t, "ab", log.deltas())
	assert.Equal(t, events.KindDone, log.all()[len(log.all())-1].Kind)
}

func TestStreamCompletion_LinesSplitAcrossChunks(t *testing.T) {
	frame := chatFrame("split")
	srv, _ := sseServer(t, frame[:10], frame[10:25], frame[25:], "data: [DO", "NE]\n")
	log := &eventLog{}
	c, _ := newTestClient(log, srv.URL)

	require.NoError(t, c.StreamCompletion(context.Background(), "req", "p", Credentials{}))
	assert.Equal(t, []events.Kind{events.KindDelta, events.KindDone}, log.kinds())
	assert.Equal(t, "split", log.deltas())
}

func TestStreamCompletion_EndsWithoutDoneMarker(t *testing.T) {
	srv, _ := sseServer(t, chatFrame("x"))
	log := &eventLog{}
	c, _ := newTestClient(log, srv.URL)

	require.NoError(t, c.StreamCompletion(context.Background(), "req", "p", Credentials{}))
	assert.Equal(t, []events.Kind{events.KindDelta, events.KindDone}, log.kinds())
}

func TestStreamCompletion_TrailingFragmentWithoutNewline(t *testing.T) {
	srv, _ := sseServer(t, chatFrame("a"), `data: {"choices":[{"delta":{"content":"tail"}}]}`)
	log := &eventLog{}
	c, _ := newTestClient(log, srv.URL)

	require.NoError(t, c.StreamCompletion(context.Background(), "req", "p", Credentials{}))
	assert.Equal(t, "atail", log.deltas())
	assert.Equal(t, []events.Kind{events.KindDelta, events.KindDelta, events.KindDone}, log.kinds())
}

func TestStreamCompletion_TrailingDoneFragmentEmitsSingleDone(t *testing.T) {
	srv, _ := sseServer(t, chatFrame("a"), "data: [DONE]")
	log := &eventLog{}
	c, _ := newTestClient(log, srv.URL)

	require.NoError(t, c.StreamCompletion(context.Background(), "req", "p", Credentials{}))
	assert.Equal(t, []events.Kind{events.KindDelta, events.KindDone}, log.kinds())
}

func TestStreamCompletion_CancelBeforeStart(t *testing.T) {
	srv, hits := sseServer(t, chatFrame("never"), "data: [DONE]\n")
	log := &eventLog{}
	c, reg := newTestClient(log, srv.URL)

	c.Cancel("req")
	c.Cancel("req")

	require.NoError(t, c.StreamCompletion(context.Background(), "req", "p", Credentials{}))

	assert.Equal(t, int32(0), hits.Load())
	assert.Equal(t, []events.Kind{events.KindDone}, log.kinds())
	assert.False(t, reg.IsCanceled("req"))
}

func TestStreamCompletion_CancelMidChunkStopsWithinOneLine(t *testing.T) {
	// Everything arrives in one chunk; the cancel lands while the first
	// delta is being emitted.
	body := chatFrame("one") + chatFrame("two") + chatFrame("three") + "data: [DONE]\n\n"
	srv, _ := sseServer(t, body)

	log := &eventLog{}
	c, reg := newTestClient(log, srv.URL)
	log.onEvent = func(ev events.StreamEvent) {
		if ev.Kind == events.KindDelta {
			c.Cancel(ev.RequestID)
		}
	}

	require.NoError(t, c.StreamCompletion(context.Background(), "req", "p", Credentials{}))

	assert.Equal(t, []events.Kind{events.KindDelta, events.KindDone}, log.kinds())
	assert.Equal(t, "one", log.deltas())
	assert.Equal(t, 0, reg.Len())
}

func TestStreamCompletion_CancelBetweenChunks(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		_, _ = io.WriteString(w, chatFrame("first"))
		flusher.Flush()
		<-release
		_, _ = io.WriteString(w, chatFrame("second"))
		flusher.Flush()
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	log := &eventLog{}
	c, _ := newTestClient(log, srv.URL)
	log.onEvent = func(ev events.StreamEvent) {
		if ev.Kind == events.KindDelta {
			c.Cancel(ev.RequestID)
			close(release)
		}
	}

	require.NoError(t, c.StreamCompletion(context.Background(), "req", "p", Credentials{}))
	assert.Equal(t, []events.Kind{events.KindDelta, events.KindDone}, log.kinds())
	assert.Equal(t, "first", log.deltas())
}

func TestStreamCompletion_MissingCredential(t *testing.T) {
	srv, hits := sseServer(t, "data: [DONE]\n")
	log := &eventLog{}
	reg := cancel.NewRegistry()
	c := New(reg, log, func() config.API { return config.API{Base: srv.URL} })

	err := c.StreamCompletion(context.Background(), "req", "p", Credentials{})
	require.ErrorIs(t, err, ErrMissingCredential)

	assert.Equal(t, int32(0), hits.Load())
	evs := log.all()
	require.Len(t, evs, 1)
	assert.Equal(t, events.KindError, evs[0].Kind)
	assert.Equal(t, err.Error(), evs[0].Message)
	assert.Equal(t, 0, reg.Len())
}

func TestStreamCompletion_HTTPStatusFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"bad key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	log := &eventLog{}
	c, reg := newTestClient(log, srv.URL)

	err := c.StreamCompletion(context.Background(), "req", "p", Credentials{})
	require.ErrorIs(t, err, ErrHTTPStatus)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
	assert.Equal(t, `401 Unauthorized: {"error":"bad key"}`, err.Error())

	evs := log.all()
	require.Len(t, evs, 1)
	assert.Equal(t, events.Error("req", err.Error()), evs[0])
	assert.Equal(t, 0, reg.Len())
}

func TestStreamCompletion_ConnectFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	log := &eventLog{}
	c, _ := newTestClient(log, url)

	err := c.StreamCompletion(context.Background(), "req", "p", Credentials{})
	require.ErrorIs(t, err, ErrConnect)
	assert.Equal(t, []events.Kind{events.KindError}, log.kinds())
}

func TestStreamCompletion_ClientConstructionFailure(t *testing.T) {
	log := &eventLog{}
	c, _ := newTestClient(log, "http://[::1")

	err := c.StreamCompletion(context.Background(), "req", "p", Credentials{})
	require.ErrorIs(t, err, ErrClientConstruction)
	assert.Equal(t, []events.Kind{events.KindError}, log.kinds())
}

func TestStreamCompletion_TransportReadFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, chatFrame("partial"))
		w.(http.Flusher).Flush()
		panic(http.ErrAbortHandler)
	}))
	defer srv.Close()

	log := &eventLog{}
	c, reg := newTestClient(log, srv.URL)

	err := c.StreamCompletion(context.Background(), "req", "p", Credentials{})
	require.ErrorIs(t, err, ErrTransportRead)
	assert.Equal(t, []events.Kind{events.KindDelta, events.KindError}, log.kinds())
	assert.Equal(t, 0, reg.Len())
}

func TestStreamCompletion_EmitFailuresAreSwallowed(t *testing.T) {
	srv, _ := sseServer(t, chatFrame("x"), "data: [DONE]\n")
	log := &eventLog{failAll: true}
	c, _ := newTestClient(log, srv.URL)

	require.NoError(t, c.StreamCompletion(context.Background(), "req", "p", Credentials{}))
	assert.Equal(t, []events.Kind{events.KindDelta, events.KindDone}, log.kinds())
}

func TestStreamCompletion_RecordsGeneration(t *testing.T) {
	usage := `data: {"model":"served-model","choices":[],"usage":{"prompt_tokens":4,"completion_tokens":2,"total_tokens":6}}` + "\n"
	srv, _ := sseServer(t, chatFrame("a"), chatFrame("b"), usage, "data: [DONE]\n")
	log := &eventLog{}
	c, reg := newTestClient(log, srv.URL)
	rec := &memRecorder{}
	c.SetRecorder(rec)

	require.NoError(t, c.StreamCompletion(context.Background(), "req-ok", "prompt", Credentials{}))

	reg.MarkCanceled("req-canceled")
	require.NoError(t, c.StreamCompletion(context.Background(), "req-canceled", "prompt", Credentials{}))

	require.Len(t, rec.gens, 2)
	ok := rec.gens[0]
	assert.Equal(t, OutcomeDone, ok.Outcome)
	assert.Equal(t, []string{"a", "b"}, ok.Deltas)
	assert.Equal(t, "served-model", ok.Model)
	assert.Equal(t, srv.URL+"/chat/completions", ok.Endpoint)
	require.NotNil(t, ok.Usage)
	assert.Equal(t, 6, ok.Usage.TotalTokens)
	assert.Equal(t, 6, ok.PromptChars)

	assert.Equal(t, OutcomeCanceled, rec.gens[1].Outcome)
}

func TestStreamCompletion_ConcurrentRequestsAreIndependent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		prompt := req.Messages[1].Content
		for i := 0; i < 3; i++ {
			_, _ = io.WriteString(w, chatFrame(prompt))
			w.(http.Flusher).Flush()
		}
		_, _ = io.WriteString(w, "data: [DONE]\n")
	}))
	defer srv.Close()

	log := &eventLog{}
	c, reg := newTestClient(log, srv.URL)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("req-%d", i)
			assert.NoError(t, c.StreamCompletion(context.Background(), id, id, Credentials{}))
		}(i)
	}
	wg.Wait()

	perRequest := map[string]string{}
	terminals := map[string]int{}
	for _, ev := range log.all() {
		switch ev.Kind {
		case events.KindDelta:
			perRequest[ev.RequestID] += ev.Delta
		default:
			terminals[ev.RequestID]++
		}
	}
	for i := 0; i < 8; i++ {
		id := fmt.Sprintf("req-%d", i)
		assert.Equal(t, strings.Repeat(id, 3), perRequest[id])
		assert.Equal(t, 1, terminals[id])
	}
	assert.Equal(t, 0, reg.Len())
}

func TestTestConnection(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = io.WriteString(w, `{"model":"served","choices":[{"message":{"role":"assistant","content":"pong"}}]}`)
	}))
	defer srv.Close()

	c, _ := newTestClient(&eventLog{}, "")
	msg, err := c.TestConnection(context.Background(), Credentials{APIKey: "k", APIBase: srv.URL + "/chat/completions"})
	require.NoError(t, err)

	assert.Contains(t, msg, "served")
	assert.False(t, got.Stream)
	assert.Equal(t, "fallback-model", got.Model)
}

func TestTestConnection_StatusFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, "no such model")
	}))
	defer srv.Close()

	c, _ := newTestClient(&eventLog{}, srv.URL)
	_, err := c.TestConnection(context.Background(), Credentials{APIKey: "k"})

	require.ErrorIs(t, err, ErrHTTPStatus)
	assert.Equal(t, "404 Not Found: no such model", err.Error())
}

func TestTestConnection_MissingCredential(t *testing.T) {
	c := New(cancel.NewRegistry(), events.Discard, nil)
	_, err := c.TestConnection(context.Background(), Credentials{})
	assert.ErrorIs(t, err, ErrMissingCredential)
}

// fakeClock is a settable clock shared between test goroutines.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestStreamCompletion_StartingAnotherRequestKeepsOldCancelMark(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	reg := cancel.NewRegistryWithClock(clock.Now)

	// A's provider sends one line, then stalls until released.
	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, strings.TrimSuffix(chatFrame("first"), "\n"))
		w.(http.Flusher).Flush()
		<-release
		_, _ = io.WriteString(w, chatFrame("after-cancel"))
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer slow.Close()
	defer close(release)
	fast, _ := sseServer(t, chatFrame("b"), "data: [DONE]\n\n")

	log := &eventLog{}
	c := New(reg, log, func() config.API {
		return config.API{Key: "test-key", Base: slow.URL}
	})
	canceled := make(chan struct{})
	log.onEvent = func(ev events.StreamEvent) {
		if ev.RequestID == "A" && ev.Kind == events.KindDelta {
			c.Cancel("A")
			close(canceled)
		}
	}

	done := make(chan error, 1)
	go func() {
		done <- c.StreamCompletion(context.Background(), "A", "p", Credentials{})
	}()
	<-canceled

	clock.Advance(staleMarkAge + time.Second)
	require.NoError(t, c.StreamCompletion(context.Background(), "B", "p", Credentials{APIBase: fast.URL}))
	assert.True(t, reg.IsCanceled("A"), "starting B must not clear A's mark")

	release <- struct{}{}
	require.NoError(t, <-done)

	var forA []events.StreamEvent
	for _, ev := range log.all() {
		if ev.RequestID == "A" {
			forA = append(forA, ev)
		}
	}
	assert.Equal(t, []events.StreamEvent{events.Delta("A", "first"), events.Done("A")}, forA)
	assert.Equal(t, 0, reg.Len())
}

func TestStreamCompletion_LateCancelAgesOut(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	reg := cancel.NewRegistryWithClock(clock.Now)
	srv, hits := sseServer(t, chatFrame("hi"), "data: [DONE]\n\n")

	log := &eventLog{}
	c := New(reg, log, func() config.API {
		return config.API{Key: "test-key", Base: srv.URL}
	})

	require.NoError(t, c.StreamCompletion(context.Background(), "req", "p", Credentials{}))
	c.Cancel("req") // arrives after the stream already finished

	// Reusing the id inside the window counts as a pre-start cancel.
	require.NoError(t, c.StreamCompletion(context.Background(), "req", "p", Credentials{}))
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, 0, reg.Len())

	c.Cancel("req")
	clock.Advance(staleMarkAge + time.Second)

	require.NoError(t, c.StreamCompletion(context.Background(), "req", "p", Credentials{}))
	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, "hihi", log.deltas())
}
