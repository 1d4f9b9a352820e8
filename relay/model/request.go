package model

import (
	"encoding/json"

	"github.com/Laisky/errors/v2"
)

// Tool declares one callable tool in the canonical request.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// Request is the canonical, vendor-neutral request derived from whichever
// client-facing schema the request arrived in. It is Claude-shaped: system
// prompt separate from messages, content as tagged blocks.
type Request struct {
	Model         string          `json:"model"`
	Messages      []Message       `json:"messages"`
	System        json.RawMessage `json:"system,omitempty"`
	MaxTokens     int             `json:"max_tokens,omitempty"`
	Temperature   *float64        `json:"temperature,omitempty"`
	TopP          *float64        `json:"top_p,omitempty"`
	TopK          *int            `json:"top_k,omitempty"`
	StopSequences []string        `json:"stop_sequences,omitempty"`
	Stream        bool            `json:"stream,omitempty"`
	Tools         []Tool          `json:"tools,omitempty"`
	ToolChoice    json.RawMessage `json:"tool_choice,omitempty"`
	Metadata      map[string]any  `json:"metadata,omitempty"`
}

// SystemText flattens the system prompt, which may arrive as a bare string
// or as an array of text blocks.
func (r *Request) SystemText() string {
	if len(r.System) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(r.System, &s); err == nil {
		return s
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(r.System, &blocks); err == nil {
		var out string
		for _, block := range blocks {
			if block.Type == ContentTypeText {
				out += block.Text
			}
		}
		return out
	}
	return ""
}

// Validate rejects requests the gateway cannot route.
func (r *Request) Validate() error {
	if r.Model == "" {
		return errors.New("model is required")
	}
	if len(r.Messages) == 0 {
		return errors.New("messages is required")
	}
	for i := range r.Messages {
		switch r.Messages[i].Role {
		case RoleUser, RoleAssistant:
		default:
			return errors.Errorf("unsupported message role %q", r.Messages[i].Role)
		}
	}
	return nil
}

// LastUserMessage returns the trailing user turn, or nil when the
// conversation does not end with one.
func (r *Request) LastUserMessage() *Message {
	if len(r.Messages) == 0 {
		return nil
	}
	last := &r.Messages[len(r.Messages)-1]
	if last.Role != RoleUser {
		return nil
	}
	return last
}
