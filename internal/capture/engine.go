// Package capture recovers the text selected in the foreground application
// by injecting a copy keystroke and watching the clipboard change.
package capture

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zenreply/zenreply/internal/config"
)

// Clipboard is the system clipboard.
type Clipboard interface {
	ReadText() (string, error)
	WriteText(text string) error
}

// Modifier is held down while 'c' is clicked.
type Modifier int

const (
	ModifierControl Modifier = iota
	ModifierCommand
)

func (m Modifier) String() string {
	if m == ModifierCommand {
		return "cmd"
	}
	return "ctrl"
}

// Keystroker sends the copy shortcut to whatever application has focus.
type Keystroker interface {
	InjectCopy(mod Modifier) error
}

// Engine runs one capture at a time. All methods block for real wall-clock
// time and belong on a worker goroutine, never on a latency-sensitive path.
type Engine struct {
	clipboard Clipboard
	keys      Keystroker
	timing    config.Capture
	modifier  Modifier
	sleep     func(time.Duration)
}

func NewEngine(clipboard Clipboard, keys Keystroker, timing config.Capture, mac bool) *Engine {
	mod := ModifierControl
	if mac {
		mod = ModifierCommand
	}
	return &Engine{
		clipboard: clipboard,
		keys:      keys,
		timing:    timing,
		modifier:  mod,
		sleep:     time.Sleep,
	}
}

// MaxDuration is the longest a full capture can block, ignoring the time
// spent inside the clipboard and keystroke primitives themselves.
func (e *Engine) MaxDuration() time.Duration {
	return e.timing.SettleDelay + e.timing.FastPollDelay +
		time.Duration(e.timing.SlowPollAttempts)*e.timing.SlowPollInterval
}

// Prime snapshots the clipboard, lets the hotkey's key-up settle so the
// injected shortcut is not swallowed, then sends the copy shortcut. It
// returns the snapshot.
func (e *Engine) Prime() string {
	previous, err := e.clipboard.ReadText()
	if err != nil {
		log.Debug().Err(err).Msg("clipboard read failed before copy")
		previous = ""
	}
	e.sleep(e.timing.SettleDelay)
	e.injectCopy()
	return previous
}

// FastPoll waits once and checks whether the copy already landed.
func (e *Engine) FastPoll(previous string) (string, bool) {
	e.sleep(e.timing.FastPollDelay)
	text, err := e.clipboard.ReadText()
	if err != nil {
		return "", false
	}
	return text, changed(text, previous)
}

// SlowPoll re-sends the shortcut for applications that were too slow, then
// polls a bounded number of times. On failure it returns the last value it
// read, or previous when no read succeeded.
func (e *Engine) SlowPoll(previous string) (string, bool) {
	e.injectCopy()

	last := previous
	for i := 0; i < e.timing.SlowPollAttempts; i++ {
		e.sleep(e.timing.SlowPollInterval)
		text, err := e.clipboard.ReadText()
		if err != nil {
			continue
		}
		if changed(text, previous) {
			return text, true
		}
		last = text
	}
	return last, false
}

// CaptureSelectedText runs the full capture synchronously. It never fails:
// when nothing new was copied it returns the last value seen, which is the
// stale clipboard content or empty.
func (e *Engine) CaptureSelectedText() string {
	previous := e.Prime()
	if text, ok := e.FastPoll(previous); ok {
		return text
	}
	text, _ := e.SlowPoll(previous)
	return text
}

func (e *Engine) injectCopy() {
	if err := e.keys.InjectCopy(e.modifier); err != nil {
		log.Warn().Err(err).Str("modifier", e.modifier.String()).Msg("copy keystroke failed")
	}
}

func changed(text, previous string) bool {
	return text != "" && text != previous
}
