package controller

import (
	"context"
	"encoding/json"
	"io"
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
	"github.com/polygate/polygate/relay/adaptor/anthropic"
	"github.com/polygate/polygate/relay/adaptor/vertex"
	relaymodel "github.com/polygate/polygate/relay/model"
	"github.com/polygate/polygate/relay/relaymode"
	"github.com/polygate/polygate/relay/selector"
	"github.com/polygate/polygate/relay/streaming"
	"github.com/polygate/polygate/relay/token"
	"github.com/polygate/polygate/relay/vendor"
)

// GeminiModelFromPath extracts the model id from a
// /v1beta/models/{model}:{verb} path segment.
func GeminiModelFromPath(segment string) string {
	segment = strings.TrimPrefix(segment, "/")
	if i := strings.IndexByte(segment, ':'); i >= 0 {
		return segment[:i]
	}
	return segment
}

// RelayGeminiGenerate serves the Gemini generateContent and
// streamGenerateContent endpoints against the Vertex backend. The client
// schema matches the upstream schema, so bodies relay nearly verbatim.
func RelayGeminiGenerate(c *gin.Context) {
	startedAt := time.Now()

	var geminiReq vertex.GeminiRequest
	if err := common.UnmarshalBodyReusable(c, &geminiReq); err != nil {
		RenderError(c, relaymodel.NewClientError(err))
		return
	}
	if len(geminiReq.Contents) == 0 {
		RenderError(c, relaymodel.NewClientError(errors.New("contents is required")))
		return
	}

	modelName := GeminiModelFromPath(c.Param("model"))
	c.Set(ctxkey.RequestModel, modelName)
	streamingMode := c.GetInt(ctxkey.RelayMode) == relaymode.GeminiStream

	ctx, cancel := context.WithTimeout(gmw.Ctx(c), config.RelayTimeout)
	defer cancel()
	ctx, release := upstreamContext(ctx)
	defer release()

	var usage relaymodel.Usage
	var credentialId int
	var streamed bool
	var streamErrMsg string

	relayErr := selector.WithCredential(ctx, vendor.Vertex, func(ctx context.Context, credential *model.Credential) *relaymodel.ErrorWithStatusCode {
		credentialId = credential.Id

		accessToken, tokenErr := token.GetValidAccessToken(ctx, credential, false)
		if tokenErr != nil {
			return refreshError(tokenErr)
		}

		resp, callErr := callGeminiUpstream(ctx, credential, accessToken, &geminiReq, modelName, streamingMode)
		if callErr != nil {
			return callErr
		}
		defer resp.Body.Close()

		if streamingMode {
			streamed = true
			return streamGeminiPassthrough(c, resp, &usage, &streamErrMsg)
		}
		return respondGeminiPassthrough(c, resp, &usage)
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

func callGeminiUpstream(ctx context.Context, credential *model.Credential, accessToken string, geminiReq *vertex.GeminiRequest, modelName string, stream bool) (*http.Response, *relaymodel.ErrorWithStatusCode) {
	body, err := json.Marshal(geminiReq)
	if err != nil {
		return nil, relaymodel.NewInternalError(err)
	}

	method := "generateContent"
	if stream {
		method = "streamGenerateContent?alt=sse"
	}
	endpoint := vertex.EndpointURL(credential.ProjectId, credential.Region,
		"google", vendor.ResolveVertexModel(modelName), method)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(string(body)))
	if err != nil {
		return nil, relaymodel.NewInternalError(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}

	resp, err := vertex.Do(req)
	if err != nil {
		return nil, networkError(err)
	}
	if resp.StatusCode != http.StatusOK {
		message := anthropic.ReadErrorMessage(resp)
		_ = resp.Body.Close()
		return nil, relaymodel.NewUpstreamError(resp.StatusCode, message)
	}
	return resp, nil
}

func respondGeminiPassthrough(c *gin.Context, resp *http.Response, usage *relaymodel.Usage) *relaymodel.ErrorWithStatusCode {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return networkError(err)
	}
	var parsed vertex.GeminiResponse
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.UsageMetadata != nil {
		usage.InputTokens = parsed.UsageMetadata.PromptTokenCount
		usage.OutputTokens = parsed.UsageMetadata.CandidatesTokenCount
	}
	c.Data(http.StatusOK, "application/json", body)
	return nil
}

func streamGeminiPassthrough(c *gin.Context, resp *http.Response, usage *relaymodel.Usage, streamErrMsg *string) *relaymodel.ErrorWithStatusCode {
	emitter := streaming.NewEmitter(c)

	err := anthropic.RelayStream(resp, func(event anthropic.StreamEvent) error {
		var chunk vertex.GeminiResponse
		if err := json.Unmarshal(event.Data, &chunk); err == nil && chunk.UsageMetadata != nil {
			usage.InputTokens = chunk.UsageMetadata.PromptTokenCount
			usage.OutputTokens = chunk.UsageMetadata.CandidatesTokenCount
		}
		return emitter.RawData(event.Data)
	})
	if err != nil {
		*streamErrMsg = err.Error()
		gmw.GetLogger(c).Warn("upstream stream aborted", zap.Error(err))
		_ = emitter.Data(gin.H{"error": gin.H{
			"code":    http.StatusBadGateway,
			"message": "upstream stream aborted",
			"status":  relaymodel.ErrUpstreamTransient,
		}})
	}
	return nil
}
