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

	"github.com/polygate/polygate/common"
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

// RelayChatCompletions serves POST /v1/chat/completions: the OpenAI schema
// against the Anthropic or Vertex backend.
func RelayChatCompletions(c *gin.Context) {
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

	ctx, cancel := context.WithTimeout(gmw.Ctx(c), config.RelayTimeout)
	defer cancel()
	ctx, release := upstreamContext(ctx)
	defer release()

	vendorName := c.GetString(ctxkey.Vendor)
	requestID := c.GetString(ctxkey.RequestId)
	var usage relaymodel.Usage
	var credentialId int
	var streamed bool
	var streamErrMsg string

	relayErr := selector.WithCredential(ctx, vendorName, func(ctx context.Context, credential *model.Credential) *relaymodel.ErrorWithStatusCode {
		credentialId = credential.Id
		resp, callErr := openUpstream(ctx, vendorName, credential, request)
		if callErr != nil {
			return callErr
		}
		defer resp.Body.Close()

		if request.Stream {
			streamed = true
			return streamAsOpenAI(c, vendorName, requestID, request, resp, startedAt, &usage, &streamErrMsg)
		}
		return respondAsOpenAI(c, vendorName, requestID, request, resp, startedAt, &usage)
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

// respondAsOpenAI converts the upstream body into a Chat Completions
// response.
func respondAsOpenAI(c *gin.Context, vendorName, requestID string, request *relaymodel.Request, resp *http.Response, startedAt time.Time, usage *relaymodel.Usage) *relaymodel.ErrorWithStatusCode {
	var canonical *relaymodel.Response

	if vendorName == vendor.Vertex && vendor.IsGeminiModel(request.Model) {
		var gemini vertex.GeminiResponse
		if err := json.NewDecoder(resp.Body).Decode(&gemini); err != nil {
			return relaymodel.NewProtocolError(err)
		}
		canonical = vertex.ConvertGeminiResponse(&gemini, request.Model)
	} else {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return networkError(err)
		}
		canonical = &relaymodel.Response{}
		if err := json.Unmarshal(body, canonical); err != nil {
			return relaymodel.NewProtocolError(err)
		}
	}

	*usage = canonical.Usage
	c.JSON(http.StatusOK, ConvertToOpenAIResponse(canonical, requestID, startedAt.Unix()))
	return nil
}

// streamAsOpenAI translates the upstream SSE stream into Chat Completions
// chunks terminated by [DONE].
func streamAsOpenAI(c *gin.Context, vendorName, requestID string, request *relaymodel.Request, resp *http.Response, startedAt time.Time, usage *relaymodel.Usage, streamErrMsg *string) *relaymodel.ErrorWithStatusCode {
	emitter := streaming.NewEmitter(c)
	createdAt := startedAt.Unix()
	modelName := request.Model

	stopReason := relaymodel.StopReasonEndTurn
	toolIndex := -1
	opened := false

	emitChunk := func(delta map[string]any, finishReason string) error {
		return emitter.Data(openAIChunk(requestID, modelName, createdAt, delta, finishReason))
	}

	err := anthropic.RelayStream(resp, func(event anthropic.StreamEvent) error {
		if vendorName == vendor.Vertex && vertex.SkipWrapperEvent(event.Name) {
			return nil
		}
		if event.Name == anthropic.RateLimitsEventName || event.Name == streaming.EventPing {
			return nil
		}

		if vendorName == vendor.Vertex && vendor.IsGeminiModel(request.Model) {
			return relayGeminiChunkAsOpenAI(event.Data, emitChunk, &opened, usage)
		}

		observeUsage(event, usage)
		switch event.Name {
		case streaming.EventMessageStart:
			opened = true
			return emitChunk(map[string]any{"role": "assistant", "content": ""}, "")
		case streaming.EventContentBlockStart:
			var frame struct {
				ContentBlock relaymodel.ContentBlock `json:"content_block"`
			}
			if err := json.Unmarshal(event.Data, &frame); err != nil {
				return nil
			}
			if frame.ContentBlock.Type == relaymodel.ContentTypeToolUse {
				toolIndex++
				stopReason = relaymodel.StopReasonToolUse
				return emitChunk(map[string]any{
					"tool_calls": []map[string]any{{
						"index": toolIndex,
						"id":    frame.ContentBlock.ID,
						"type":  "function",
						"function": map[string]any{
							"name":      frame.ContentBlock.Name,
							"arguments": "",
						},
					}},
				}, "")
			}
		case streaming.EventContentBlockDelta:
			var frame struct {
				Delta struct {
					Type        string `json:"type"`
					Text        string `json:"text"`
					PartialJSON string `json:"partial_json"`
				} `json:"delta"`
			}
			if err := json.Unmarshal(event.Data, &frame); err != nil {
				return nil
			}
			switch frame.Delta.Type {
			case "text_delta":
				return emitChunk(map[string]any{"content": frame.Delta.Text}, "")
			case "input_json_delta":
				return emitChunk(map[string]any{
					"tool_calls": []map[string]any{{
						"index":    toolIndex,
						"function": map[string]any{"arguments": frame.Delta.PartialJSON},
					}},
				}, "")
			}
		case streaming.EventMessageDelta:
			var frame struct {
				Delta struct {
					StopReason string `json:"stop_reason"`
				} `json:"delta"`
			}
			if err := json.Unmarshal(event.Data, &frame); err == nil && frame.Delta.StopReason != "" {
				stopReason = frame.Delta.StopReason
			}
		case streaming.EventError:
			*streamErrMsg = string(event.Data)
			return emitter.RawData(event.Data)
		}
		return nil
	})
	if err != nil {
		*streamErrMsg = err.Error()
		gmw.GetLogger(c).Warn("upstream stream aborted", zap.Error(err))
		if !opened {
			return relaymodel.NewProtocolError(err)
		}
		_ = emitter.Data(gin.H{"error": gin.H{
			"message": "upstream stream aborted",
			"type":    relaymodel.ErrUpstreamTransient,
		}})
		return nil
	}

	_ = emitChunk(map[string]any{}, openAIFinishReason(stopReason))
	_ = emitter.Done()
	return nil
}

// relayGeminiChunkAsOpenAI translates one Gemini streaming chunk.
func relayGeminiChunkAsOpenAI(data []byte, emitChunk func(map[string]any, string) error, opened *bool, usage *relaymodel.Usage) error {
	var chunk vertex.GeminiResponse
	if err := json.Unmarshal(data, &chunk); err != nil {
		return nil
	}
	if chunk.UsageMetadata != nil {
		usage.InputTokens = chunk.UsageMetadata.PromptTokenCount
		usage.OutputTokens = chunk.UsageMetadata.CandidatesTokenCount
	}
	if len(chunk.Candidates) == 0 {
		return nil
	}
	if !*opened {
		*opened = true
		if err := emitChunk(map[string]any{"role": "assistant", "content": ""}, ""); err != nil {
			return err
		}
	}
	for _, part := range chunk.Candidates[0].Content.Parts {
		if part.Text == "" {
			continue
		}
		if err := emitChunk(map[string]any{"content": part.Text}, ""); err != nil {
			return err
		}
	}
	return nil
}
