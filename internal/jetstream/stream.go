package jetstream

import (
	"errors"
	"strings"
	"time"

	nats "github.com/nats-io/nats.go"
)

const (
	StreamName      = "ZENREPLY"
	StreamPrefix    = "zenreply.llm."
	ClipboardPrefix = "zenreply.clipboard."

	replayWindow = 10 * time.Minute
)

// EnsureStream creates the replay stream that retains recent events for a
// UI that subscribes after they were published.
func EnsureStream(js nats.JetStreamContext, persistent bool) error {
	storage := nats.MemoryStorage
	if persistent {
		storage = nats.FileStorage
	}
	_, err := js.AddStream(&nats.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{"zenreply.>"},
		Storage:   storage,
		MaxAge:    replayWindow,
		Retention: nats.LimitsPolicy,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) && !strings.Contains(err.Error(), "already in use") {
		return err
	}
	return nil
}

// StreamSubject is where events for one completion request are published.
func StreamSubject(requestID string) string {
	return StreamPrefix + subjectToken(requestID)
}

// ClipboardSubject is where capture events of the given kind are published.
func ClipboardSubject(kind string) string {
	return ClipboardPrefix + subjectToken(strings.TrimPrefix(kind, "clipboard-"))
}

// subjectToken maps an arbitrary id onto a single valid subject token.
func subjectToken(id string) string {
	if id == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r == '.' || r == '*' || r == '>' || r <= ' ' || r == 0x7f:
			return '_'
		}
		return r
	}, id)
}
