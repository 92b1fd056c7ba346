package stream

import (
	"bytes"
	"encoding/json"
	"strings"
	"unicode/utf8"
)

const (
	dataPrefix = "data:"
	doneToken  = "[DONE]"
)

// LineBuffer accumulates raw response bytes and hands out complete lines.
// Handles lines that span multiple chunks. Not safe for concurrent use; one
// buffer belongs to one request.
type LineBuffer struct {
	buffer []byte
}

func NewLineBuffer() *LineBuffer {
	return &LineBuffer{}
}

// Write appends a chunk of the response body.
func (b *LineBuffer) Write(chunk []byte) {
	b.buffer = append(b.buffer, chunk...)
}

// Next returns the next complete line without its terminator. A trailing \r
// is stripped and invalid UTF-8 is replaced rather than rejected.
func (b *LineBuffer) Next() (string, bool) {
	idx := bytes.IndexByte(b.buffer, '\n')
	if idx == -1 {
		return "", false
	}

	line := b.buffer[:idx]
	b.buffer = b.buffer[idx+1:]
	line = bytes.TrimSuffix(line, []byte{'\r'})

	return toValidString(line), true
}

// Rest returns whatever is left after the last newline and empties the buffer.
func (b *LineBuffer) Rest() string {
	rest := toValidString(b.buffer)
	b.buffer = nil
	return rest
}

// Len reports the number of pending bytes.
func (b *LineBuffer) Len() int {
	return len(b.buffer)
}

func toValidString(p []byte) string {
	if utf8.Valid(p) {
		return string(p)
	}
	return strings.ToValidUTF8(string(p), "\uFFFD")
}

// DecodeLine interprets a single SSE line. Lines that are not data frames,
// and data frames that cannot be understood, decode to FrameNone so a bad
// frame never ends the stream.
func DecodeLine(line string) Frame {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, dataPrefix) {
		return Frame{}
	}

	payload := strings.TrimSpace(trimmed[len(dataPrefix):])
	if payload == "" {
		return Frame{}
	}
	if payload == doneToken {
		return Frame{Kind: FrameDone}
	}

	var chunk ChatChunk
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		return Frame{}
	}

	frame := Frame{Model: chunk.Model, Usage: chunk.Usage}
	if len(chunk.Choices) == 0 {
		return frame
	}

	first := chunk.Choices[0]
	switch {
	case first.Delta != nil && first.Delta.Content != nil:
		frame.Kind = FrameDelta
		frame.Delta = *first.Delta.Content
	case first.Text != nil:
		frame.Kind = FrameDelta
		frame.Delta = *first.Text
	}
	return frame
}
