package controller

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/polygate/polygate/common"
	"github.com/polygate/polygate/common/config"
	"github.com/polygate/polygate/common/ctxkey"
	"github.com/polygate/polygate/model"
	"github.com/polygate/polygate/relay/adaptor/warp"
	relaymodel "github.com/polygate/polygate/relay/model"
	"github.com/polygate/polygate/relay/selector"
	"github.com/polygate/polygate/relay/streaming"
	"github.com/polygate/polygate/relay/token"
	"github.com/polygate/polygate/relay/vendor"
)

// RelayWarpMessages serves /w/v1/messages and /w/v1/messages/proto: the
// Anthropic Messages schema against the Warp backend. Both paths run the
// full Protobuf pipeline; /proto is kept as a stable alias for clients that
// opt into tool mapping explicitly.
func RelayWarpMessages(c *gin.Context) {
	startedAt := time.Now()
	request, relayErr := ParseCanonicalRequest(c)
	if relayErr != nil {
		RenderError(c, relayErr)
		return
	}
	relayWarp(c, startedAt, request, false)
}

// RelayWarpChatCompletions serves /w/v1/chat/completions: the OpenAI schema
// against the Warp backend.
func RelayWarpChatCompletions(c *gin.Context) {
	startedAt := time.Now()

	var openaiReq openaiRequest
	if err := common.UnmarshalBodyReusable(c, &openaiReq); err != nil {
		RenderError(c, relaymodel.NewClientError(err))
		return
	}
	request, err := ConvertOpenAIRequest(&openaiReq)
	if err != nil {
		RenderError(c, relaymodel.NewClientError(err))
		return
	}
	if err := request.Validate(); err != nil {
		RenderError(c, relaymodel.NewClientError(err))
		return
	}
	relayWarp(c, startedAt, request, true)
}

func relayWarp(c *gin.Context, startedAt time.Time, request *relaymodel.Request, openaiSchema bool) {
	session := warp.Sessions.GetOrCreate(warp.SessionID(request))
	session.Model = vendor.ResolveWarpModel(request.Model)

	warpReq, err := warp.BuildRequest(request, session)
	if err != nil {
		switch {
		case errors.Is(err, warp.ErrUnknownToolResult):
			RenderError(c, relaymodel.NewProtocolError(err))
		default:
			RenderError(c, relaymodel.NewClientError(err))
		}
		return
	}

	ctx, cancel := context.WithTimeout(gmw.Ctx(c), config.RelayTimeout)
	defer cancel()
	ctx, release := upstreamContext(ctx)
	defer release()

	var usage relaymodel.Usage
	var credentialId int
	var streamed bool
	var streamErrMsg string

	relayErr := selector.WithCredential(ctx, vendor.Warp, func(ctx context.Context, credential *model.Credential) *relaymodel.ErrorWithStatusCode {
		credentialId = credential.Id

		idToken, tokenErr := token.GetValidAccessToken(ctx, credential, false)
		if tokenErr != nil {
			return refreshError(tokenErr)
		}

		httpReq, err := warp.BuildHTTPRequest(ctx, credential, idToken, warpReq)
		if err != nil {
			return relaymodel.NewInternalError(err)
		}
		resp, err := warp.Do(httpReq)
		if err != nil {
			return networkError(err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return relaymodel.NewUpstreamError(resp.StatusCode, readWarpError(resp))
		}

		if request.Stream {
			wasStreamed, bizErr := streamWarp(c, request, session, resp, openaiSchema, &usage, &streamErrMsg)
			streamed = streamed || wasStreamed
			return bizErr
		}
		return respondWarp(c, request, session, resp, openaiSchema, &usage)
	})

	if relayErr != nil {
		if !streamed {
			RenderError(c, relayErr)
		}
		recordOutcome(c, startedAt, credentialId, relayErr.StatusCode, usage, relayErr.Message)
		return
	}
	recordOutcome(c, startedAt, credentialId, http.StatusOK, usage, streamErrMsg)
}

func readWarpError(resp *http.Response) string {
	var sb strings.Builder
	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		sb.Write(buf[:n])
		if err != nil || sb.Len() >= 64*1024 {
			break
		}
	}
	message := strings.TrimSpace(sb.String())
	if message == "" {
		return resp.Status
	}
	return message
}

// respondWarp accumulates the event stream into one canonical response and
// renders it in the requested schema.
func respondWarp(c *gin.Context, request *relaymodel.Request, session *warp.Session, resp *http.Response, openaiSchema bool, usage *relaymodel.Usage) *relaymodel.ErrorWithStatusCode {
	var text strings.Builder
	var blocks []relaymodel.ContentBlock
	stopReason := relaymodel.StopReasonEndTurn
	finished := false

	sink := &warp.EventSink{
		OnTextDelta: func(delta string) { text.WriteString(delta) },
		OnToolUse: func(id, name string, input json.RawMessage) error {
			blocks = append(blocks, relaymodel.ContentBlock{
				Type:  relaymodel.ContentTypeToolUse,
				ID:    id,
				Name:  name,
				Input: input,
			})
			return nil
		},
		OnFinished: func(reason string, u relaymodel.Usage) {
			finished = true
			stopReason = reason
			usage.Add(u)
		},
	}
	if err := warp.ProcessStream(resp, session, sink); err != nil {
		return relaymodel.NewProtocolError(err)
	}
	if !finished {
		return relaymodel.NewProtocolError(errors.New("warp stream ended without finished event"))
	}
	if stopReason == relaymodel.StopReasonQuotaLimit {
		// Selector rotates to the next credential on quota failures.
		return relaymodel.NewUpstreamError(http.StatusTooManyRequests, "warp quota exhausted")
	}

	if text.Len() > 0 {
		session.Append(warp.SessionMessageAssistantText, text.String())
	}
	content := []relaymodel.ContentBlock{}
	if text.Len() > 0 {
		content = append(content, relaymodel.ContentBlock{
			Type: relaymodel.ContentTypeText,
			Text: text.String(),
		})
	}
	content = append(content, blocks...)
	if len(blocks) > 0 {
		stopReason = relaymodel.StopReasonToolUse
	}

	canonical := &relaymodel.Response{
		ID:         "msg_" + c.GetString(ctxkey.RequestId),
		Type:       "message",
		Role:       relaymodel.RoleAssistant,
		Model:      request.Model,
		Content:    content,
		StopReason: stopReason,
		Usage:      *usage,
	}

	if openaiSchema {
		c.JSON(http.StatusOK, ConvertToOpenAIResponse(canonical, c.GetString(ctxkey.RequestId), time.Now().Unix()))
	} else {
		c.JSON(http.StatusOK, canonical)
	}
	return nil
}

// streamWarp drives the canonical (or OpenAI chunk) stream from the decoded
// Warp events. The stream opens lazily on the first content event so early
// failures stay retryable on another credential.
func streamWarp(c *gin.Context, request *relaymodel.Request, session *warp.Session, resp *http.Response, openaiSchema bool, usage *relaymodel.Usage, streamErrMsg *string) (bool, *relaymodel.ErrorWithStatusCode) {
	if openaiSchema {
		return streamWarpAsOpenAI(c, request, session, resp, usage, streamErrMsg)
	}

	emitter := streaming.NewEmitter(c)
	stream := streaming.NewStream(emitter, "msg_"+c.GetString(ctxkey.RequestId), request.Model)

	var sinkErr error
	quotaBeforeStart := false

	ensureStarted := func() error {
		if stream.Started() {
			return nil
		}
		return stream.Start(0)
	}

	sink := &warp.EventSink{
		OnTextDelta: func(delta string) {
			if sinkErr != nil {
				return
			}
			if err := ensureStarted(); err != nil {
				sinkErr = err
				return
			}
			sinkErr = stream.TextDelta(delta)
		},
		OnToolUse: func(id, name string, input json.RawMessage) error {
			if sinkErr != nil {
				return sinkErr
			}
			if err := ensureStarted(); err != nil {
				sinkErr = err
				return sinkErr
			}
			sinkErr = stream.ToolUse(id, name, input)
			return sinkErr
		},
		OnFinished: func(reason string, u relaymodel.Usage) {
			if sinkErr != nil {
				return
			}
			if reason == relaymodel.StopReasonQuotaLimit && !stream.Started() {
				quotaBeforeStart = true
				return
			}
			if err := ensureStarted(); err != nil {
				sinkErr = err
				return
			}
			usage.Add(u)
			sinkErr = stream.Finish(reason, u)
		},
	}

	err := warp.ProcessStream(resp, session, sink)
	if quotaBeforeStart {
		return false, relaymodel.NewUpstreamError(http.StatusTooManyRequests, "warp quota exhausted")
	}
	if err != nil || sinkErr != nil {
		if err == nil {
			err = sinkErr
		}
		*streamErrMsg = err.Error()
		gmw.GetLogger(c).Warn("warp stream aborted", zap.Error(err))
		if !stream.Started() {
			return false, relaymodel.NewProtocolError(err)
		}
		_ = stream.Error(relaymodel.NewProtocolError(err))
		return true, nil
	}
	if !stream.Finished() {
		if !stream.Started() {
			return false, relaymodel.NewProtocolError(errors.New("warp stream ended without finished event"))
		}
		_ = stream.Finish(relaymodel.StopReasonEndTurn, relaymodel.Usage{})
	}
	if full := stream.FullText(); full != "" {
		session.Append(warp.SessionMessageAssistantText, full)
	}
	usage.InputTokens = stream.Usage().InputTokens
	usage.OutputTokens = stream.Usage().OutputTokens
	return true, nil
}

// streamWarpAsOpenAI renders Warp events as Chat Completions chunks.
func streamWarpAsOpenAI(c *gin.Context, request *relaymodel.Request, session *warp.Session, resp *http.Response, usage *relaymodel.Usage, streamErrMsg *string) (bool, *relaymodel.ErrorWithStatusCode) {
	emitter := streaming.NewEmitter(c)
	requestID := c.GetString(ctxkey.RequestId)
	createdAt := time.Now().Unix()

	opened := false
	toolIndex := -1
	stopReason := relaymodel.StopReasonEndTurn
	finished := false
	quotaBeforeStart := false
	var sinkErr error

	emitChunk := func(delta map[string]any, finishReason string) error {
		return emitter.Data(openAIChunk(requestID, request.Model, createdAt, delta, finishReason))
	}
	ensureOpened := func() error {
		if opened {
			return nil
		}
		opened = true
		return emitChunk(map[string]any{"role": "assistant", "content": ""}, "")
	}

	sink := &warp.EventSink{
		OnTextDelta: func(delta string) {
			if sinkErr != nil {
				return
			}
			if sinkErr = ensureOpened(); sinkErr != nil {
				return
			}
			sinkErr = emitChunk(map[string]any{"content": delta}, "")
		},
		OnToolUse: func(id, name string, input json.RawMessage) error {
			if sinkErr != nil {
				return sinkErr
			}
			if sinkErr = ensureOpened(); sinkErr != nil {
				return sinkErr
			}
			toolIndex++
			stopReason = relaymodel.StopReasonToolUse
			args := string(input)
			if args == "" {
				args = "{}"
			}
			sinkErr = emitChunk(map[string]any{
				"tool_calls": []map[string]any{{
					"index": toolIndex,
					"id":    id,
					"type":  "function",
					"function": map[string]any{
						"name":      name,
						"arguments": args,
					},
				}},
			}, "")
			return sinkErr
		},
		OnFinished: func(reason string, u relaymodel.Usage) {
			if sinkErr != nil {
				return
			}
			if reason == relaymodel.StopReasonQuotaLimit && !opened {
				quotaBeforeStart = true
				return
			}
			finished = true
			if reason != relaymodel.StopReasonEndTurn || stopReason == relaymodel.StopReasonEndTurn {
				if stopReason != relaymodel.StopReasonToolUse {
					stopReason = reason
				}
			}
			usage.Add(u)
		},
	}

	err := warp.ProcessStream(resp, session, sink)
	if quotaBeforeStart {
		return false, relaymodel.NewUpstreamError(http.StatusTooManyRequests, "warp quota exhausted")
	}
	if err != nil || sinkErr != nil {
		if err == nil {
			err = sinkErr
		}
		*streamErrMsg = err.Error()
		gmw.GetLogger(c).Warn("warp stream aborted", zap.Error(err))
		if !opened {
			return false, relaymodel.NewProtocolError(err)
		}
		_ = emitter.Data(gin.H{"error": gin.H{
			"message": "upstream stream aborted",
			"type":    relaymodel.ErrProtocol,
		}})
		return true, nil
	}
	if !finished && !opened {
		return false, relaymodel.NewProtocolError(errors.New("warp stream ended without finished event"))
	}

	_ = emitChunk(map[string]any{}, openAIFinishReason(stopReason))
	_ = emitter.Done()
	return true, nil
}
