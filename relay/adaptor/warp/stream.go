package warp

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"

	"github.com/polygate/polygate/common/config"
	"github.com/polygate/polygate/common/helper"
	"github.com/polygate/polygate/common/logger"
	relaymodel "github.com/polygate/polygate/relay/model"
)

// EventSink receives the translated event stream. Nil callbacks are skipped.
// OnToolUse may reject an event, which aborts the read.
type EventSink struct {
	OnInit           func(conversationID, requestID string)
	OnTextDelta      func(text string)
	OnReasoningDelta func(text string)
	OnToolUse        func(id, name string, input json.RawMessage) error
	OnFinished       func(stopReason string, usage relaymodel.Usage)
}

// finishReasonToStopReason maps Warp finish reasons onto canonical stop
// reasons.
var finishReasonToStopReason = map[int]string{
	FinishReasonDone:                  relaymodel.StopReasonEndTurn,
	FinishReasonQuotaLimit:            relaymodel.StopReasonQuotaLimit,
	FinishReasonMaxTokenLimit:         relaymodel.StopReasonMaxTokens,
	FinishReasonContextWindowExceeded: relaymodel.StopReasonContextWindow,
	FinishReasonLLMUnavailable:        relaymodel.StopReasonUnavailable,
	FinishReasonInternalError:         relaymodel.StopReasonInternalError,
}

// ProcessStream reads the upstream SSE body, decodes each base64 Protobuf
// event, and feeds the sink. Undecodable events are skipped and logged; if
// not a single event decodes, the whole stream is reported as a protocol
// failure.
func ProcessStream(resp *http.Response, session *Session, sink *EventSink) error {
	scanner := bufio.NewScanner(resp.Body)
	helper.ConfigureScannerBuffer(scanner)

	// A stalled upstream unblocks the scanner by closing the body.
	var idle atomic.Bool
	watchdog := time.AfterFunc(config.StreamIdleTimeout, func() {
		idle.Store(true)
		_ = resp.Body.Close()
	})
	defer watchdog.Stop()

	var decoded, failed int
	var lastDecodeErr error
	for scanner.Scan() {
		watchdog.Reset(config.StreamIdleTimeout)
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			continue
		}

		raw, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			raw, err = base64.RawStdEncoding.DecodeString(data)
		}
		if err != nil {
			failed++
			lastDecodeErr = err
			logger.Logger.Warn("skip undecodable warp event", zap.Error(err))
			continue
		}

		event, err := UnmarshalResponseEvent(raw)
		if err != nil {
			failed++
			lastDecodeErr = err
			logger.Logger.Warn("skip malformed warp event", zap.Error(err))
			continue
		}
		decoded++

		if err := dispatchEvent(event, session, sink); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		if idle.Load() {
			return errors.Errorf("upstream idle for %v", config.StreamIdleTimeout)
		}
		return errors.Wrap(err, "read warp sse")
	}
	if decoded == 0 && failed > 0 {
		return errors.Wrapf(lastDecodeErr, "no warp event decoded (%d failures)", failed)
	}
	return nil
}

func dispatchEvent(event *ResponseEvent, session *Session, sink *EventSink) error {
	switch {
	case event.Init != nil:
		if sink.OnInit != nil {
			sink.OnInit(event.Init.ConversationID, event.Init.RequestID)
		}
	case event.ClientActions != nil:
		for _, action := range event.ClientActions.Actions {
			if err := dispatchAction(action, session, sink); err != nil {
				return err
			}
		}
	case event.Finished != nil:
		stopReason, ok := finishReasonToStopReason[event.Finished.Reason]
		if !ok {
			stopReason = relaymodel.StopReasonEndTurn
		}
		var usage relaymodel.Usage
		for _, sample := range event.Finished.TokenUsage {
			usage.Add(relaymodel.Usage{
				InputTokens:              int(sample.InputTokens),
				OutputTokens:             int(sample.OutputTokens),
				CacheReadInputTokens:     int(sample.CacheReadTokens),
				CacheCreationInputTokens: int(sample.CacheCreationTokens),
			})
		}
		if sink.OnFinished != nil {
			sink.OnFinished(stopReason, usage)
		}
	}
	return nil
}

func dispatchAction(action *ClientAction, session *Session, sink *EventSink) error {
	switch {
	case action.AppendToMessageContent != nil:
		emitAgentOutput(action.AppendToMessageContent.Message, sink)
	case action.UpdateTaskMessage != nil:
		emitAgentOutput(action.UpdateTaskMessage.Message, sink)
	case action.AddMessagesToTask != nil:
		for _, message := range action.AddMessagesToTask.Messages {
			if message == nil {
				continue
			}
			if message.ToolCall != nil {
				id, name, input, err := ConvertToolCall(message.ToolCall)
				if err != nil {
					logger.Logger.Warn("skip unmappable warp tool call", zap.Error(err))
					continue
				}
				session.RememberToolCall(id, name)
				if sink.OnToolUse != nil {
					if err := sink.OnToolUse(id, name, input); err != nil {
						return err
					}
				}
				continue
			}
			emitAgentOutput(message, sink)
		}
	case action.CreateTask != nil:
		if action.CreateTask.Task != nil {
			logger.Logger.Debug("warp task created", zap.String("task_id", action.CreateTask.Task.ID))
		}
	case action.UpdateTaskStatus != nil:
		logger.Logger.Debug("warp task status",
			zap.String("task_id", action.UpdateTaskStatus.TaskID),
			zap.Int("status", action.UpdateTaskStatus.Status))
	}
	return nil
}

func emitAgentOutput(message *TaskMessage, sink *EventSink) {
	if message == nil || message.AgentOutput == nil {
		return
	}
	if message.AgentOutput.Text != "" && sink.OnTextDelta != nil {
		sink.OnTextDelta(message.AgentOutput.Text)
	}
	if message.AgentOutput.Reasoning != "" && sink.OnReasoningDelta != nil {
		sink.OnReasoningDelta(message.AgentOutput.Reasoning)
	}
}
