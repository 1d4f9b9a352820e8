package controller

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/polygate/polygate/common/config"
	"github.com/polygate/polygate/common/ctxkey"
	"github.com/polygate/polygate/model"
	"github.com/polygate/polygate/relay/adaptor/anthropic"
	"github.com/polygate/polygate/relay/adaptor/vertex"
	relaymodel "github.com/polygate/polygate/relay/model"
	"github.com/polygate/polygate/relay/selector"
	"github.com/polygate/polygate/relay/streaming"
	"github.com/polygate/polygate/relay/vendor"
)

// RelayClaudeMessages serves POST /v1/messages: the Anthropic Messages
// schema against the Anthropic or Vertex backend.
func RelayClaudeMessages(c *gin.Context) {
	startedAt := time.Now()
	request, relayErr := ParseCanonicalRequest(c)
	if relayErr != nil {
		RenderError(c, relayErr)
		return
	}

	ctx, cancel := context.WithTimeout(gmw.Ctx(c), config.RelayTimeout)
	defer cancel()
	ctx, release := upstreamContext(ctx)
	defer release()

	vendorName := c.GetString(ctxkey.Vendor)
	var usage relaymodel.Usage
	var credentialId int
	var streamed bool
	var streamErrMsg string

	relayErr = selector.WithCredential(ctx, vendorName, func(ctx context.Context, credential *model.Credential) *relaymodel.ErrorWithStatusCode {
		credentialId = credential.Id
		resp, callErr := openUpstream(ctx, vendorName, credential, request)
		if callErr != nil {
			return callErr
		}
		defer resp.Body.Close()

		if vendorName == vendor.Vertex && vendor.IsGeminiModel(request.Model) {
			if request.Stream {
				streamed = true
				return streamGeminiAsClaude(c, request, resp, &usage, &streamErrMsg)
			}
			return respondGeminiAsClaude(c, request, resp, &usage)
		}

		if request.Stream {
			streamed = true
			return streamClaudePassthrough(c, vendorName, resp, &usage, &streamErrMsg)
		}
		return respondClaudePassthrough(c, resp, &usage)
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

// respondClaudePassthrough forwards the upstream Messages body verbatim,
// lifting usage for accounting.
func respondClaudePassthrough(c *gin.Context, resp *http.Response, usage *relaymodel.Usage) *relaymodel.ErrorWithStatusCode {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return networkError(err)
	}

	var parsed relaymodel.Response
	if err := json.Unmarshal(body, &parsed); err == nil {
		*usage = parsed.Usage
	}

	c.Data(http.StatusOK, "application/json", body)
	return nil
}

// streamClaudePassthrough relays the upstream SSE events verbatim. Vertex
// wrapper events are dropped; the synthetic rate_limits event (Anthropic
// OAuth credentials) passes through first. Usage is lifted from
// message_start and message_delta frames as they fly by.
func streamClaudePassthrough(c *gin.Context, vendorName string, resp *http.Response, usage *relaymodel.Usage, streamErrMsg *string) *relaymodel.ErrorWithStatusCode {
	emitter := streaming.NewEmitter(c)

	err := anthropic.RelayStream(resp, func(event anthropic.StreamEvent) error {
		if vendorName == vendor.Vertex && vertex.SkipWrapperEvent(event.Name) {
			return nil
		}
		observeUsage(event, usage)
		return emitter.RawEvent(event.Name, event.Data)
	})
	if err != nil {
		// Headers are already out; surface the failure as an SSE error
		// event and record it, the HTTP status cannot change anymore.
		*streamErrMsg = err.Error()
		gmw.GetLogger(c).Warn("upstream stream aborted", zap.Error(err))
		_ = emitter.Event(streaming.EventError, gin.H{
			"type": "error",
			"error": relaymodel.Error{
				Type:    relaymodel.ErrUpstreamTransient,
				Message: "upstream stream aborted",
			},
		})
	}
	return nil
}

// observeUsage extracts token accounting from passthrough frames.
func observeUsage(event anthropic.StreamEvent, usage *relaymodel.Usage) {
	switch event.Name {
	case streaming.EventMessageStart:
		var frame struct {
			Message struct {
				Usage relaymodel.Usage `json:"usage"`
			} `json:"message"`
		}
		if err := json.Unmarshal(event.Data, &frame); err == nil {
			usage.InputTokens = frame.Message.Usage.InputTokens
			usage.CacheReadInputTokens = frame.Message.Usage.CacheReadInputTokens
			usage.CacheCreationInputTokens = frame.Message.Usage.CacheCreationInputTokens
		}
	case streaming.EventMessageDelta:
		var frame struct {
			Usage struct {
				OutputTokens int `json:"output_tokens"`
			} `json:"usage"`
		}
		if err := json.Unmarshal(event.Data, &frame); err == nil && frame.Usage.OutputTokens > 0 {
			usage.OutputTokens = frame.Usage.OutputTokens
		}
	}
}

// respondGeminiAsClaude converts a Gemini response into the canonical
// Messages body.
func respondGeminiAsClaude(c *gin.Context, request *relaymodel.Request, resp *http.Response, usage *relaymodel.Usage) *relaymodel.ErrorWithStatusCode {
	var gemini vertex.GeminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&gemini); err != nil {
		return relaymodel.NewProtocolError(err)
	}
	converted := vertex.ConvertGeminiResponse(&gemini, request.Model)
	*usage = converted.Usage
	c.JSON(http.StatusOK, converted)
	return nil
}

// streamGeminiAsClaude re-emits Gemini streaming chunks as the canonical
// event sequence.
func streamGeminiAsClaude(c *gin.Context, request *relaymodel.Request, resp *http.Response, usage *relaymodel.Usage, streamErrMsg *string) *relaymodel.ErrorWithStatusCode {
	emitter := streaming.NewEmitter(c)
	stream := streaming.NewStream(emitter, "msg_"+c.GetString(ctxkey.RequestId), request.Model)

	var finalUsage relaymodel.Usage
	err := anthropic.RelayStream(resp, func(event anthropic.StreamEvent) error {
		var chunk vertex.GeminiResponse
		if err := json.Unmarshal(event.Data, &chunk); err != nil {
			return nil // non-candidate keepalive payloads are skipped
		}
		if chunk.UsageMetadata != nil {
			finalUsage.InputTokens = chunk.UsageMetadata.PromptTokenCount
			finalUsage.OutputTokens = chunk.UsageMetadata.CandidatesTokenCount
		}
		if len(chunk.Candidates) == 0 {
			return nil
		}
		if !stream.Started() {
			if err := stream.Start(0); err != nil {
				return err
			}
		}
		for _, part := range chunk.Candidates[0].Content.Parts {
			if err := stream.TextDelta(part.Text); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		*streamErrMsg = err.Error()
		if stream.Started() {
			_ = stream.Error(relaymodel.NewProtocolError(err))
			*usage = stream.Usage()
			return nil
		}
		return relaymodel.NewProtocolError(err)
	}

	if !stream.Started() {
		if err := stream.Start(finalUsage.InputTokens); err != nil {
			return nil
		}
	}
	_ = stream.Finish(relaymodel.StopReasonEndTurn, relaymodel.Usage{OutputTokens: finalUsage.OutputTokens})
	*usage = stream.Usage()
	usage.InputTokens = finalUsage.InputTokens
	return nil
}
