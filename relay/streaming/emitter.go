// Package streaming emits the canonical SSE event sequence for every
// streaming response, regardless of which upstream produced it.
package streaming

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/Laisky/errors/v2"
	"github.com/gin-gonic/gin"

	"github.com/polygate/polygate/common"
)

// Emitter writes SSE frames to one client connection. Events of one request
// are serialised by a mutex and the writer is flushed after every frame.
type Emitter struct {
	mu      sync.Mutex
	writer  gin.ResponseWriter
	flusher http.Flusher
}

// NewEmitter prepares SSE headers on the response and returns the emitter.
func NewEmitter(c *gin.Context) *Emitter {
	common.SetEventStreamHeaders(c)
	flusher, _ := c.Writer.(http.Flusher)
	return &Emitter{writer: c.Writer, flusher: flusher}
}

// Event writes an Anthropic-style `event:`/`data:` frame.
func (e *Emitter) Event(name string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return errors.Wrap(err, "marshal sse event")
	}
	return e.writeFrame("event: " + name + "\ndata: " + string(payload) + "\n\n")
}

// RawEvent writes an Anthropic-style frame with pre-encoded JSON. Used for
// verbatim upstream relay.
func (e *Emitter) RawEvent(name string, payload []byte) error {
	return e.writeFrame("event: " + name + "\ndata: " + string(payload) + "\n\n")
}

// Data writes an OpenAI-style `data:` frame.
func (e *Emitter) Data(data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return errors.Wrap(err, "marshal sse data")
	}
	return e.writeFrame("data: " + string(payload) + "\n\n")
}

// RawData writes an OpenAI-style frame with pre-encoded JSON.
func (e *Emitter) RawData(payload []byte) error {
	return e.writeFrame("data: " + string(payload) + "\n\n")
}

// Done terminates an OpenAI-style stream.
func (e *Emitter) Done() error {
	return e.writeFrame("data: [DONE]\n\n")
}

func (e *Emitter) writeFrame(frame string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.writer.WriteString(frame); err != nil {
		return errors.Wrap(err, "write sse frame")
	}
	if e.flusher != nil {
		e.flusher.Flush()
	}
	return nil
}
