package streaming

import relaymodel "github.com/polygate/polygate/relay/model"

// Canonical SSE event names.
const (
	EventMessageStart      = "message_start"
	EventContentBlockStart = "content_block_start"
	EventContentBlockDelta = "content_block_delta"
	EventContentBlockStop  = "content_block_stop"
	EventMessageDelta      = "message_delta"
	EventMessageStop       = "message_stop"
	EventError             = "error"
	EventPing              = "ping"
)

// messageStartPayload opens the canonical stream.
type messageStartPayload struct {
	Type    string       `json:"type"`
	Message startMessage `json:"message"`
}

type startMessage struct {
	ID           string           `json:"id"`
	Type         string           `json:"type"`
	Role         string           `json:"role"`
	Model        string           `json:"model"`
	Content      []any            `json:"content"`
	StopReason   *string          `json:"stop_reason"`
	StopSequence *string          `json:"stop_sequence"`
	Usage        relaymodel.Usage `json:"usage"`
}

// contentBlockStartPayload opens a content block at Index.
type contentBlockStartPayload struct {
	Type         string       `json:"type"`
	Index        int          `json:"index"`
	ContentBlock contentBlock `json:"content_block"`
}

type contentBlock struct {
	Type  string         `json:"type"`
	Text  string         `json:"text,omitempty"`
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`
}

// contentBlockDeltaPayload carries a text, thinking, or tool-input delta.
type contentBlockDeltaPayload struct {
	Type  string     `json:"type"`
	Index int        `json:"index"`
	Delta blockDelta `json:"delta"`
}

type blockDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	Thinking    string `json:"thinking,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
}

// contentBlockStopPayload closes the block at Index.
type contentBlockStopPayload struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
}

// messageDeltaPayload carries the stop reason and final output usage.
type messageDeltaPayload struct {
	Type  string            `json:"type"`
	Delta messageDeltaInner `json:"delta"`
	Usage deltaUsage        `json:"usage"`
}

type messageDeltaInner struct {
	StopReason   string  `json:"stop_reason"`
	StopSequence *string `json:"stop_sequence"`
}

type deltaUsage struct {
	OutputTokens int `json:"output_tokens"`
}

// messageStopPayload terminates the stream.
type messageStopPayload struct {
	Type string `json:"type"`
}

// errorPayload is the Anthropic-native streaming error shape.
type errorPayload struct {
	Type  string           `json:"type"`
	Error relaymodel.Error `json:"error"`
}
