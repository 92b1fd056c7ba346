package capture

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/zenreply/zenreply/internal/events"
)

// ErrCaptureInFlight is returned when a hotkey press arrives while the
// previous capture is still polling. The new press is dropped.
var ErrCaptureInFlight = errors.New("capture already in flight")

// Worker owns the clipboard: it runs captures one at a time on its own
// goroutine and reports results as events. Per session it emits the fast
// result at once (possibly empty) and, only when that was empty and the
// fallback found text, a second clipboard-captured event.
type Worker struct {
	engine   *Engine
	emitter  events.Emitter
	sessions chan string
	busy     atomic.Bool
}

func NewWorker(engine *Engine, emitter events.Emitter) *Worker {
	return &Worker{
		engine:   engine,
		emitter:  emitter,
		sessions: make(chan string, 1),
	}
}

// Trigger schedules a capture and returns its session id without waiting.
func (w *Worker) Trigger() (string, error) {
	if !w.busy.CompareAndSwap(false, true) {
		return "", ErrCaptureInFlight
	}
	session := uuid.NewString()
	w.sessions <- session
	return session, nil
}

// Busy reports whether a capture is scheduled or running.
func (w *Worker) Busy() bool {
	return w.busy.Load()
}

// Run processes captures until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case session := <-w.sessions:
			w.capture(session)
			w.busy.Store(false)
		}
	}
}

func (w *Worker) capture(session string) {
	start := time.Now()
	logger := log.With().Str("session", session).Logger()

	previous := w.engine.Prime()
	text, ok := w.engine.FastPoll(previous)
	if !ok {
		text = ""
	}
	w.emit(events.ClipboardEvent{Session: session, Kind: events.ClipboardText, Text: text})
	if ok {
		logger.Debug().Dur("duration", time.Since(start)).Int("chars", len([]rune(text))).Msg("captured on fast path")
		return
	}

	text, ok = w.engine.SlowPoll(previous)
	if !ok {
		logger.Debug().Dur("duration", time.Since(start)).Msg("capture exhausted without new text")
		return
	}
	w.emit(events.ClipboardEvent{Session: session, Kind: events.ClipboardCaptured, Text: text})
	logger.Debug().Dur("duration", time.Since(start)).Int("chars", len([]rune(text))).Msg("captured on fallback path")
}

func (w *Worker) emit(ev events.ClipboardEvent) {
	if err := w.emitter.EmitClipboard(ev); err != nil {
		log.Debug().Err(err).Str("session", ev.Session).Msg("clipboard event dropped")
	}
}
