package anthropic

import (
	"bufio"
	"encoding/json"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Laisky/errors/v2"

	"github.com/polygate/polygate/common/config"
	"github.com/polygate/polygate/common/helper"
)

// StreamEvent is one upstream SSE event, relayed verbatim.
type StreamEvent struct {
	Name string
	Data []byte
}

// RateLimitsEventName labels the synthetic first event carrying parsed
// rate-limit headers.
const RateLimitsEventName = "rate_limits"

// RelayStream consumes the upstream SSE body and hands each event to emit.
// When the response headers carry rate-limit metadata a synthetic
// rate_limits event is yielded first, then the upstream events verbatim.
// The stream ends on [DONE], on EOF, or when emit returns an error (which
// propagates and aborts the read).
func RelayStream(resp *http.Response, emit func(event StreamEvent) error) error {
	if limits := ParseRateLimitHeaders(resp.Header); limits != nil {
		payload, err := json.Marshal(limits)
		if err == nil {
			if err := emit(StreamEvent{Name: RateLimitsEventName, Data: payload}); err != nil {
				return err
			}
		}
	}

	scanner := bufio.NewScanner(resp.Body)
	helper.ConfigureScannerBuffer(scanner)

	// A stalled upstream unblocks the scanner by closing the body.
	var idle atomic.Bool
	watchdog := time.AfterFunc(config.StreamIdleTimeout, func() {
		idle.Store(true)
		_ = resp.Body.Close()
	})
	defer watchdog.Stop()

	var eventName string
	for scanner.Scan() {
		watchdog.Reset(config.StreamIdleTimeout)
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				return nil
			}
			name := eventName
			if name == "" {
				// Some upstreams omit the event line; recover the name from
				// the payload's type field.
				var typed struct {
					Type string `json:"type"`
				}
				_ = json.Unmarshal([]byte(data), &typed)
				name = typed.Type
			}
			if err := emit(StreamEvent{Name: name, Data: []byte(data)}); err != nil {
				return err
			}
			eventName = ""
		}
	}
	if err := scanner.Err(); err != nil {
		if idle.Load() {
			return errors.Errorf("upstream idle for %v", config.StreamIdleTimeout)
		}
		return errors.Wrap(err, "read upstream sse")
	}
	return nil
}
