package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/polygate/polygate/common/ctxkey"
	"github.com/polygate/polygate/relay/relaymode"
	"github.com/polygate/polygate/relay/vendor"
)

func performDistribute(t *testing.T, path, body string) (*httptest.ResponseRecorder, *gin.Context) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(recorder)
	c.Request = httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	Distribute()(c)
	return recorder, c
}

func TestDistributeUnknownPath(t *testing.T) {
	recorder, c := performDistribute(t, "/v2/whatever", "")
	require.Equal(t, http.StatusNotFound, recorder.Code)
	require.True(t, c.IsAborted())
}

func TestDistributeRouting(t *testing.T) {
	tests := []struct {
		name        string
		path        string
		body        string
		mode        int
		vendor      string
		mappedModel string
	}{
		{
			name:        "claude messages to anthropic",
			path:        "/v1/messages",
			body:        `{"model":"claude-sonnet-4.5"}`,
			mode:        relaymode.ClaudeMessages,
			vendor:      vendor.Anthropic,
			mappedModel: "claude-sonnet-4-5-20250929",
		},
		{
			name:        "chat completions to anthropic",
			path:        "/v1/chat/completions",
			body:        `{"model":"claude-sonnet-4-5"}`,
			mode:        relaymode.ChatCompletions,
			vendor:      vendor.Anthropic,
			mappedModel: "claude-sonnet-4-5-20250929",
		},
		{
			name:        "gemini model on openai surface goes to vertex",
			path:        "/v1/chat/completions",
			body:        `{"model":"gemini-2.5-pro"}`,
			mode:        relaymode.ChatCompletions,
			vendor:      vendor.Vertex,
			mappedModel: "gemini-2.5-pro",
		},
		{
			name:        "gemini generate pins vertex",
			path:        "/v1beta/models/gemini-2.5-pro:generateContent",
			body:        "",
			mode:        relaymode.GeminiGenerate,
			vendor:      vendor.Vertex,
			mappedModel: vendor.DefaultVertexModel,
		},
		{
			name:        "gemini stream pins vertex",
			path:        "/v1beta/models/gemini-2.5-pro:streamGenerateContent",
			body:        "",
			mode:        relaymode.GeminiStream,
			vendor:      vendor.Vertex,
			mappedModel: vendor.DefaultVertexModel,
		},
		{
			name:        "warp messages pins warp",
			path:        "/w/v1/messages",
			body:        `{"model":"claude-sonnet-4.5"}`,
			mode:        relaymode.WarpMessages,
			vendor:      vendor.Warp,
			mappedModel: "claude-4-5-sonnet",
		},
		{
			name:        "warp proto pins warp",
			path:        "/w/v1/messages/proto",
			body:        `{"model":"claude-sonnet-4.5"}`,
			mode:        relaymode.WarpProto,
			vendor:      vendor.Warp,
			mappedModel: "claude-4-5-sonnet",
		},
		{
			name:        "tools execute pins warp",
			path:        "/w/v1/tools/execute",
			body:        `{"tool":"Bash"}`,
			mode:        relaymode.ToolsExecute,
			vendor:      vendor.Warp,
			mappedModel: vendor.DefaultWarpModel,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, c := performDistribute(t, tt.path, tt.body)
			require.False(t, c.IsAborted())
			require.Equal(t, tt.mode, c.GetInt(ctxkey.RelayMode))
			require.Equal(t, tt.vendor, c.GetString(ctxkey.Vendor))
			require.Equal(t, tt.mappedModel, c.GetString(ctxkey.MappedModel))
		})
	}
}

func TestDistributeMalformedBodyStillRoutes(t *testing.T) {
	// Schema errors are the handler's problem; distribution falls back to
	// the path-derived defaults.
	_, c := performDistribute(t, "/v1/messages", "{not json")
	require.False(t, c.IsAborted())
	require.Equal(t, relaymode.ClaudeMessages, c.GetInt(ctxkey.RelayMode))
	require.Equal(t, vendor.Anthropic, c.GetString(ctxkey.Vendor))
}

func TestGetByPath(t *testing.T) {
	require.Equal(t, relaymode.Unknown, relaymode.GetByPath("/v1beta/models/gemini-2.5-pro"))
	require.Equal(t, relaymode.WarpChatCompletions, relaymode.GetByPath("/w/v1/chat/completions"))
	require.Equal(t, "warp_proto", relaymode.String(relaymode.WarpProto))
	require.Equal(t, "unknown", relaymode.String(relaymode.Unknown))
}
