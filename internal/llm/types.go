package llm

import (
	"time"

	"github.com/zenreply/zenreply/internal/stream"
)

const (
	temperature = 0.7

	systemInstruction = "You are a seasoned communication coach. Output exactly one reply, " +
		"ready to send as is, with no explanation, preamble or quotation marks."
)

type chatRequest struct {
	Model       string        `json:"model"`
	Stream      bool          `json:"stream"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Messages    []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"` // "system" | "user" | "assistant"
	Content string `json:"content"`
}

// chatResponse is the non-streaming reply used by TestConnection.
type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
		Text    string      `json:"text"`
	} `json:"choices"`
}

func newStreamRequest(model, prompt string) chatRequest {
	return chatRequest{
		Model:       model,
		Stream:      true,
		Temperature: temperature,
		Messages: []chatMessage{
			{Role: "system", Content: systemInstruction},
			{Role: "user", Content: prompt},
		},
	}
}

// Outcome is how a generation ended.
type Outcome string

const (
	OutcomeDone     Outcome = "done"
	OutcomeCanceled Outcome = "canceled"
	OutcomeError    Outcome = "error"
)

// Generation summarizes one StreamCompletion call once it is terminal.
type Generation struct {
	RequestID   string
	StartedAt   time.Time
	Endpoint    string
	Model       string
	PromptChars int
	Deltas      []string
	Outcome     Outcome
	Error       string
	FirstDelta  time.Duration // zero when no delta arrived
	Duration    time.Duration
	Usage       *stream.Usage
}

// Recorder receives every finished generation. Implementations must not block.
type Recorder interface {
	Record(g Generation)
}
