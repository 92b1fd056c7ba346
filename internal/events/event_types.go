// Package events defines the one-way notifications sent to the UI.
package events

// Kind of a stream event.
type Kind string

const (
	KindDelta Kind = "delta"
	KindDone  Kind = "done"
	KindError Kind = "error"
)

// StreamEvent is one notification about an in-flight completion.
type StreamEvent struct {
	RequestID string `json:"requestId"`
	Kind      Kind   `json:"kind"`
	Delta     string `json:"delta,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Terminal reports whether no further events follow for the request.
func (e StreamEvent) Terminal() bool {
	return e.Kind == KindDone || e.Kind == KindError
}

func Delta(requestID, text string) StreamEvent {
	return StreamEvent{RequestID: requestID, Kind: KindDelta, Delta: text}
}

func Done(requestID string) StreamEvent {
	return StreamEvent{RequestID: requestID, Kind: KindDone}
}

func Error(requestID, message string) StreamEvent {
	return StreamEvent{RequestID: requestID, Kind: KindError, Message: message}
}

// ClipboardKind distinguishes the immediate capture result from the late
// fallback result of the same hotkey press.
type ClipboardKind string

const (
	ClipboardText     ClipboardKind = "clipboard-text"
	ClipboardCaptured ClipboardKind = "clipboard-captured"
)

// ClipboardEvent carries text captured from the foreground application.
// Session ties the fast and fallback events of one press together.
type ClipboardEvent struct {
	Session string        `json:"session"`
	Kind    ClipboardKind `json:"kind"`
	Text    string        `json:"text"`
}
