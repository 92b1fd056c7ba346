package events

// Emitter delivers events to the UI. Callers treat a returned error as
// informational only: a UI that stopped listening must not fail a stream.
type Emitter interface {
	EmitStream(ev StreamEvent) error
	EmitClipboard(ev ClipboardEvent) error
}

// Funcs adapts plain functions into an Emitter. Nil fields drop the event.
type Funcs struct {
	Stream    func(StreamEvent) error
	Clipboard func(ClipboardEvent) error
}

func (f Funcs) EmitStream(ev StreamEvent) error {
	if f.Stream == nil {
		return nil
	}
	return f.Stream(ev)
}

func (f Funcs) EmitClipboard(ev ClipboardEvent) error {
	if f.Clipboard == nil {
		return nil
	}
	return f.Clipboard(ev)
}

// Discard drops every event.
var Discard Emitter = Funcs{}
