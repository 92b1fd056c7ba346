package stream

// ChatChunk is the chat-completions streaming envelope. Only the fields the
// decoder reads are declared; everything else in a frame is ignored.
type ChatChunk struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage"`
}

type Choice struct {
	Index int `json:"index"`
	Delta *struct {
		Content *string `json:"content"`
	} `json:"delta"`
	Text         *string `json:"text"` // legacy completions shape
	FinishReason *string `json:"finish_reason"`
}

// Usage is sent by some providers on the last frame before [DONE].
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// FrameKind classifies a decoded line.
type FrameKind int

const (
	FrameNone  FrameKind = iota // not a data frame, or nothing usable in it
	FrameDelta                  // carries a text delta, possibly empty
	FrameDone                   // data: [DONE]
)

func (k FrameKind) String() string {
	switch k {
	case FrameDelta:
		return "delta"
	case FrameDone:
		return "done"
	default:
		return "none"
	}
}

// Frame is the result of decoding one SSE line.
type Frame struct {
	Kind  FrameKind
	Delta string
	Model string // envelope model, when present
	Usage *Usage // envelope usage, when present
}
