package middleware

import (
	"net/http"

	"github.com/Laisky/errors/v2"
	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/polygate/polygate/common"
	"github.com/polygate/polygate/common/ctxkey"
	relaymodel "github.com/polygate/polygate/relay/model"
	"github.com/polygate/polygate/relay/relaymode"
	"github.com/polygate/polygate/relay/vendor"
)

type modelRequest struct {
	Model string `json:"model" form:"model"`
}

// Distribute resolves the endpoint family and upstream vendor for the
// request and records both in the context. The path prefix selects the
// family; the model decides between the Anthropic and Vertex backends on
// the /v1 surface.
func Distribute() gin.HandlerFunc {
	return func(c *gin.Context) {
		mode := relaymode.GetByPath(c.Request.URL.Path)
		if mode == relaymode.Unknown {
			AbortWithError(c, http.StatusNotFound, relaymodel.ErrClient,
				errors.Errorf("unknown endpoint %s", c.Request.URL.Path))
			return
		}
		c.Set(ctxkey.RelayMode, mode)

		requestModel := resolveRequestModel(c, mode)
		if requestModel != "" {
			c.Set(ctxkey.RequestModel, requestModel)
		}

		vendorName := vendorForRequest(mode, requestModel)
		c.Set(ctxkey.Vendor, vendorName)
		c.Set(ctxkey.MappedModel, mappedModel(vendorName, requestModel))

		gmw.GetLogger(c).Debug("request distributed",
			zap.String("relay_mode", relaymode.String(mode)),
			zap.String("vendor", vendorName),
			zap.String("model", requestModel))
		c.Next()
	}
}

func resolveRequestModel(c *gin.Context, mode int) string {
	switch mode {
	case relaymode.GeminiGenerate, relaymode.GeminiStream:
		// The model rides in the path, not the body.
		return ""
	case relaymode.ToolsExecute:
		return ""
	}
	var request modelRequest
	if err := common.UnmarshalBodyReusable(c, &request); err != nil {
		// Body problems surface as 400 in the handler's schema-aware parse.
		return ""
	}
	return request.Model
}

// vendorForRequest picks the upstream vendor. Warp paths pin the Warp
// backend; Gemini paths and Gemini models pin Vertex; everything else goes
// to Anthropic direct.
func vendorForRequest(mode int, requestModel string) string {
	switch mode {
	case relaymode.WarpChatCompletions, relaymode.WarpMessages, relaymode.WarpProto, relaymode.ToolsExecute:
		return vendor.Warp
	case relaymode.GeminiGenerate, relaymode.GeminiStream:
		return vendor.Vertex
	}
	if vendor.IsGeminiModel(requestModel) {
		return vendor.Vertex
	}
	return vendor.Anthropic
}

func mappedModel(vendorName, requestModel string) string {
	switch vendorName {
	case vendor.Warp:
		return vendor.ResolveWarpModel(requestModel)
	case vendor.Vertex:
		return vendor.ResolveVertexModel(requestModel)
	default:
		return vendor.ResolveAnthropicModel(requestModel)
	}
}
