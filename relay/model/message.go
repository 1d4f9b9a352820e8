package model

import (
	"encoding/json"

	"github.com/Laisky/errors/v2"
)

// Content block types of the canonical message model.
const (
	ContentTypeText       = "text"
	ContentTypeToolUse    = "tool_use"
	ContentTypeToolResult = "tool_result"
	ContentTypeImage      = "image"
	ContentTypeThinking   = "thinking"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ImageSource carries an inline image block payload.
type ImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

// ContentBlock is one tagged variant of a message's content array. The Type
// field selects which of the remaining fields are meaningful.
type ContentBlock struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`

	// image
	Source *ImageSource `json:"source,omitempty"`

	// thinking
	Thinking string `json:"thinking,omitempty"`
}

// ResultText flattens a tool_result content payload to plain text. The
// payload may be a bare string or an array of text blocks.
func (b *ContentBlock) ResultText() string {
	if len(b.Content) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(b.Content, &s); err == nil {
		return s
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(b.Content, &blocks); err == nil {
		var out string
		for _, blk := range blocks {
			if blk.Type == ContentTypeText {
				out += blk.Text
			}
		}
		return out
	}
	return string(b.Content)
}

// Message is one turn of the canonical conversation. Content accepts either
// a bare string or an array of content blocks on the wire.
type Message struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

// rawMessage mirrors Message with an untyped content field for decoding.
type rawMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// UnmarshalJSON decodes both the string and the block-array content shapes.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw rawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.Wrap(err, "unmarshal message")
	}
	m.Role = raw.Role
	m.Content = nil
	if len(raw.Content) == 0 {
		return nil
	}

	var text string
	if err := json.Unmarshal(raw.Content, &text); err == nil {
		m.Content = []ContentBlock{{Type: ContentTypeText, Text: text}}
		return nil
	}

	var blocks []ContentBlock
	if err := json.Unmarshal(raw.Content, &blocks); err != nil {
		return errors.Wrap(err, "unmarshal message content blocks")
	}
	m.Content = blocks
	return nil
}

// TextContent concatenates all text blocks of the message.
func (m *Message) TextContent() string {
	var out string
	for _, block := range m.Content {
		if block.Type == ContentTypeText {
			out += block.Text
		}
	}
	return out
}
