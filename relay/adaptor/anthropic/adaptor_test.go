package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/polygate/polygate/model"
	relaymodel "github.com/polygate/polygate/relay/model"
)

func TestIsOAuthToken(t *testing.T) {
	require.True(t, IsOAuthToken("sk-ant-oat01-abc"))
	require.False(t, IsOAuthToken("sk-ant-api03-abc"))
	require.False(t, IsOAuthToken(""))
}

func TestEndpointURL(t *testing.T) {
	require.Equal(t, "https://api.anthropic.com/v1/messages?beta=true", EndpointURL(""))
	require.Equal(t, "https://proxy.example.com/v1/messages?beta=true", EndpointURL("https://proxy.example.com"))
	require.Equal(t, "https://proxy.example.com/v1/messages?beta=true", EndpointURL("https://proxy.example.com/"))
	require.Equal(t, "https://proxy.example.com/v1/messages?beta=true",
		EndpointURL("https://proxy.example.com/v1/messages"))
	// Pre-set beta flag is kept untouched.
	require.Equal(t, "https://proxy.example.com/v1/messages?beta=false",
		EndpointURL("https://proxy.example.com/v1/messages?beta=false"))
}

func TestBuildUpstreamRequestAPIKey(t *testing.T) {
	credential := &model.Credential{RefreshToken: "sk-ant-api03-key"}
	temperature := 0.7
	request := &relaymodel.Request{
		Model:       "claude-sonnet-4-5",
		Messages:    []relaymodel.Message{{Role: relaymodel.RoleUser, Content: []relaymodel.ContentBlock{{Type: relaymodel.ContentTypeText, Text: "hi"}}}},
		System:      json.RawMessage(`"be brief"`),
		Temperature: &temperature,
		Stream:      true,
	}

	req, err := BuildUpstreamRequest(context.Background(), credential, request)
	require.NoError(t, err)

	require.Equal(t, "Bearer sk-ant-api03-key", req.Header.Get("Authorization"))
	require.Equal(t, anthropicVersion, req.Header.Get("anthropic-version"))
	require.Equal(t, betaHeader, req.Header.Get("anthropic-beta"))
	require.Equal(t, "text/event-stream", req.Header.Get("Accept"))

	body, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(body, &payload))
	require.Equal(t, "claude-sonnet-4-5-20250929", payload["model"])
	require.Equal(t, true, payload["stream"])
	require.EqualValues(t, 8192, payload["max_tokens"])
	require.InDelta(t, 0.7, payload["temperature"], 1e-9)

	// API-key credentials carry only the caller's system prompt.
	system := payload["system"].([]any)
	require.Len(t, system, 1)
	require.Equal(t, "be brief", system[0].(map[string]any)["text"])
}

func TestBuildUpstreamRequestOAuthInjectsSystemPrompt(t *testing.T) {
	credential := &model.Credential{AccessToken: "sk-ant-oat01-token"}
	request := &relaymodel.Request{
		Model:    "claude-sonnet-4-5",
		Messages: []relaymodel.Message{{Role: relaymodel.RoleUser, Content: []relaymodel.ContentBlock{{Type: relaymodel.ContentTypeText, Text: "hi"}}}},
		System:   json.RawMessage(`"be brief"`),
	}

	req, err := BuildUpstreamRequest(context.Background(), credential, request)
	require.NoError(t, err)
	require.Equal(t, oauthBetaHeader, req.Header.Get("anthropic-beta"))

	body, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(body, &payload))

	system := payload["system"].([]any)
	require.Len(t, system, 2)
	require.Equal(t, claudeCodeSystemPrompt, system[0].(map[string]any)["text"])
	require.Equal(t, "be brief", system[1].(map[string]any)["text"])
}

func TestReadErrorMessage(t *testing.T) {
	resp := &http.Response{
		Status: "400 Bad Request",
		Body:   io.NopCloser(strings.NewReader(`{"type":"error","error":{"type":"invalid_request_error","message":"max_tokens required"}}`)),
	}
	require.Equal(t, "max_tokens required", ReadErrorMessage(resp))

	resp = &http.Response{
		Status: "502 Bad Gateway",
		Body:   io.NopCloser(strings.NewReader("upstream exploded")),
	}
	require.Equal(t, "upstream exploded", ReadErrorMessage(resp))

	resp = &http.Response{
		Status: "503 Service Unavailable",
		Body:   io.NopCloser(strings.NewReader("")),
	}
	require.Equal(t, "503 Service Unavailable", ReadErrorMessage(resp))
}

func TestParseRateLimitHeaders(t *testing.T) {
	headers := http.Header{}
	headers.Set("anthropic-ratelimit-requests-limit", "1000")
	headers.Set("anthropic-ratelimit-requests-remaining", "920")
	headers.Set("anthropic-ratelimit-requests-reset", "2026-08-24T12:00:00Z")
	headers.Set("anthropic-ratelimit-unified-5h-utilization", "0.35")
	headers.Set("anthropic-ratelimit-unified-5h-reset", "2026-08-24T15:00:00Z")

	limits := ParseRateLimitHeaders(headers)
	require.NotNil(t, limits)
	require.EqualValues(t, 1000, limits.RequestsLimit)
	require.EqualValues(t, 920, limits.RequestsRemaining)
	require.InDelta(t, 0.35, limits.Unified5hUtilization, 1e-9)

	asMap := limits.AsJSONMap()
	require.EqualValues(t, 1000, asMap["requests_limit"])
	require.Equal(t, "2026-08-24T15:00:00Z", asMap["unified_5h_reset"])
	// Absent families are omitted, not zeroed.
	require.NotContains(t, asMap, "tokens_limit")
}

func TestParseRateLimitHeadersEmpty(t *testing.T) {
	require.Nil(t, ParseRateLimitHeaders(http.Header{}))
}

func TestVerifyCredentialAgainstTestServer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "Bearer sk-ant-api03-key", r.Header.Get("Authorization"))

		w.Header().Set("anthropic-ratelimit-requests-limit", "50")
		w.Header().Set("anthropic-ratelimit-requests-remaining", "49")
		_ = json.NewEncoder(w).Encode(map[string]any{"model": "claude-haiku-4-5"})
	}))
	defer server.Close()

	result, err := VerifyCredential(context.Background(), "sk-ant-api03-key", server.URL)
	require.NoError(t, err)
	require.True(t, result.Valid)
	require.Equal(t, "claude-haiku-4-5", result.Model)
	require.NotNil(t, result.RateLimits)
	require.EqualValues(t, 50, result.RateLimits.RequestsLimit)
}

func TestVerifyCredentialRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid api key"}}`))
	}))
	defer server.Close()

	result, err := VerifyCredential(context.Background(), "sk-ant-api03-bad", server.URL)
	require.NoError(t, err)
	require.False(t, result.Valid)
	require.Equal(t, http.StatusUnauthorized, result.Status)
	require.Equal(t, "invalid api key", result.Error)
}
