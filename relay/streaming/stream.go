package streaming

import (
	"strings"

	"github.com/Laisky/errors/v2"

	relaymodel "github.com/polygate/polygate/relay/model"
)

// Stream drives the canonical event grammar for one request:
//
//	message_start (content_block_start content_block_delta* content_block_stop)* message_delta message_stop
//
// or, on failure before completion, a single error event. Block indices are
// monotonically non-decreasing; at most one block is open at a time.
type Stream struct {
	emitter   *Emitter
	messageID string
	model     string

	started    bool
	finished   bool
	blockIndex int
	textOpen   bool
	sawToolUse bool

	fullText strings.Builder
	usage    relaymodel.Usage
}

// NewStream builds a canonical stream writer. Nothing is emitted until
// Start.
func NewStream(emitter *Emitter, messageID, model string) *Stream {
	return &Stream{emitter: emitter, messageID: messageID, model: model}
}

// Started reports whether message_start has been written. After that point
// errors must be surfaced as SSE error events, never as HTTP statuses.
func (s *Stream) Started() bool { return s.started }

// FullText returns the accumulated text content.
func (s *Stream) FullText() string { return s.fullText.String() }

// Usage returns the cumulative usage recorded so far.
func (s *Stream) Usage() relaymodel.Usage { return s.usage }

// Start emits message_start with the known input token count.
func (s *Stream) Start(inputTokens int) error {
	if s.started {
		return errors.New("stream already started")
	}
	s.started = true
	s.usage.InputTokens = inputTokens
	return s.emitter.Event(EventMessageStart, messageStartPayload{
		Type: EventMessageStart,
		Message: startMessage{
			ID:      s.messageID,
			Type:    "message",
			Role:    relaymodel.RoleAssistant,
			Model:   s.model,
			Content: []any{},
			Usage:   relaymodel.Usage{InputTokens: inputTokens},
		},
	})
}

// TextDelta appends text to the open text block, opening one if needed.
func (s *Stream) TextDelta(text string) error {
	if err := s.ensureStarted(); err != nil {
		return err
	}
	if text == "" {
		return nil
	}
	if !s.textOpen {
		if err := s.emitter.Event(EventContentBlockStart, contentBlockStartPayload{
			Type:         EventContentBlockStart,
			Index:        s.blockIndex,
			ContentBlock: contentBlock{Type: relaymodel.ContentTypeText, Text: ""},
		}); err != nil {
			return err
		}
		s.textOpen = true
	}
	s.fullText.WriteString(text)
	return s.emitter.Event(EventContentBlockDelta, contentBlockDeltaPayload{
		Type:  EventContentBlockDelta,
		Index: s.blockIndex,
		Delta: blockDelta{Type: "text_delta", Text: text},
	})
}

// ToolUse emits a complete tool-use block triple: start, one
// input_json_delta carrying the full input, stop. Any open text block is
// closed first.
func (s *Stream) ToolUse(id, name string, inputJSON []byte) error {
	if err := s.ensureStarted(); err != nil {
		return err
	}
	if err := s.closeOpenBlock(); err != nil {
		return err
	}
	s.sawToolUse = true

	if err := s.emitter.Event(EventContentBlockStart, contentBlockStartPayload{
		Type:  EventContentBlockStart,
		Index: s.blockIndex,
		ContentBlock: contentBlock{
			Type:  relaymodel.ContentTypeToolUse,
			ID:    id,
			Name:  name,
			Input: map[string]any{},
		},
	}); err != nil {
		return err
	}
	input := string(inputJSON)
	if input == "" {
		input = "{}"
	}
	if err := s.emitter.Event(EventContentBlockDelta, contentBlockDeltaPayload{
		Type:  EventContentBlockDelta,
		Index: s.blockIndex,
		Delta: blockDelta{Type: "input_json_delta", PartialJSON: input},
	}); err != nil {
		return err
	}
	if err := s.emitter.Event(EventContentBlockStop, contentBlockStopPayload{
		Type:  EventContentBlockStop,
		Index: s.blockIndex,
	}); err != nil {
		return err
	}
	s.blockIndex++
	return nil
}

// AddUsage accumulates usage reported mid-stream.
func (s *Stream) AddUsage(usage relaymodel.Usage) {
	s.usage.Add(usage)
}

// Finish closes any open block and emits message_delta plus message_stop.
// A stop reason of tool_use takes precedence when tool-use blocks were
// emitted. Idempotent: a second Finish is a no-op.
func (s *Stream) Finish(stopReason string, usage relaymodel.Usage) error {
	if s.finished {
		return nil
	}
	if err := s.ensureStarted(); err != nil {
		return err
	}
	s.finished = true

	if err := s.closeOpenBlock(); err != nil {
		return err
	}

	s.usage.Add(usage)
	if s.sawToolUse {
		stopReason = relaymodel.StopReasonToolUse
	}
	if stopReason == "" {
		stopReason = relaymodel.StopReasonEndTurn
	}

	if err := s.emitter.Event(EventMessageDelta, messageDeltaPayload{
		Type:  EventMessageDelta,
		Delta: messageDeltaInner{StopReason: stopReason},
		Usage: deltaUsage{OutputTokens: s.usage.OutputTokens},
	}); err != nil {
		return err
	}
	return s.emitter.Event(EventMessageStop, messageStopPayload{Type: EventMessageStop})
}

// Finished reports whether message_stop has been emitted.
func (s *Stream) Finished() bool { return s.finished }

// Error emits the Anthropic-native SSE error event. The connection closes
// after this; no message_stop follows.
func (s *Stream) Error(relayErr *relaymodel.ErrorWithStatusCode) error {
	s.finished = true
	return s.emitter.Event(EventError, errorPayload{
		Type:  EventError,
		Error: relayErr.Error,
	})
}

func (s *Stream) ensureStarted() error {
	if !s.started {
		return errors.New("stream not started")
	}
	if s.finished {
		return errors.New("stream already finished")
	}
	return nil
}

func (s *Stream) closeOpenBlock() error {
	if !s.textOpen {
		return nil
	}
	if err := s.emitter.Event(EventContentBlockStop, contentBlockStopPayload{
		Type:  EventContentBlockStop,
		Index: s.blockIndex,
	}); err != nil {
		return err
	}
	s.textOpen = false
	s.blockIndex++
	return nil
}
