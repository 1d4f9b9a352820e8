// Package anthropic relays canonical requests to the Anthropic Messages API
// mostly verbatim, injecting the headers the upstream requires.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/Laisky/errors/v2"

	"github.com/polygate/polygate/common/client"
	"github.com/polygate/polygate/model"
	relaymodel "github.com/polygate/polygate/relay/model"
	"github.com/polygate/polygate/relay/vendor"
)

const (
	defaultBaseURL   = "https://api.anthropic.com"
	messagesPath     = "/v1/messages"
	anthropicVersion = "2023-06-01"
	oauthTokenPrefix = "sk-ant-oat"
	userAgent        = "claude-cli/1.0.44 (external, cli)"

	// betaHeader applies to API-key credentials.
	betaHeader = "fine-grained-tool-streaming-2025-05-14,interleaved-thinking-2025-05-14"
	// oauthBetaHeader applies to OAuth-typed credentials.
	oauthBetaHeader = "claude-code-20250219,oauth-2025-04-20,fine-grained-tool-streaming-2025-05-14,interleaved-thinking-2025-05-14"

	// claudeCodeSystemPrompt must lead the system prompt on OAuth tokens;
	// the upstream rejects OAuth requests without it.
	claudeCodeSystemPrompt = "You are Claude Code, Anthropic's official CLI for Claude."
)

// IsOAuthToken reports whether the token is an OAuth token rather than a
// plain API key.
func IsOAuthToken(token string) bool {
	return strings.HasPrefix(token, oauthTokenPrefix)
}

// EndpointURL normalises an operator-supplied base URL so it ends at
// /v1/messages with beta=true appended when absent.
func EndpointURL(baseURL string) string {
	base := strings.TrimSpace(baseURL)
	if base == "" {
		base = defaultBaseURL
	}
	base = strings.TrimSuffix(base, "/")
	if !strings.HasSuffix(base, messagesPath) {
		base += messagesPath
	}
	if !strings.Contains(base, "beta=") {
		if strings.Contains(base, "?") {
			base += "&beta=true"
		} else {
			base += "?beta=true"
		}
	}
	return base
}

// BuildUpstreamRequest converts the canonical request into the Anthropic
// wire payload and the prepared HTTP request.
func BuildUpstreamRequest(ctx context.Context, credential *model.Credential, request *relaymodel.Request) (*http.Request, error) {
	token := credential.AccessToken
	if token == "" {
		token = credential.RefreshToken
	}

	payload := map[string]any{
		"model":    vendor.ResolveAnthropicModel(request.Model),
		"messages": request.Messages,
	}
	maxTokens := request.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 8192
	}
	payload["max_tokens"] = maxTokens
	if request.Stream {
		payload["stream"] = true
	}
	if request.Temperature != nil {
		payload["temperature"] = *request.Temperature
	}
	if request.TopP != nil {
		payload["top_p"] = *request.TopP
	}
	if request.TopK != nil {
		payload["top_k"] = *request.TopK
	}
	if len(request.StopSequences) > 0 {
		payload["stop_sequences"] = request.StopSequences
	}
	if len(request.Tools) > 0 {
		payload["tools"] = request.Tools
	}
	if len(request.ToolChoice) > 0 {
		payload["tool_choice"] = request.ToolChoice
	}
	if len(request.Metadata) > 0 {
		payload["metadata"] = request.Metadata
	}
	payload["system"] = buildSystem(request, IsOAuthToken(token))

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "marshal anthropic request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		EndpointURL(credential.ApiBaseUrl), bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build anthropic request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("anthropic-version", anthropicVersion)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Authorization", "Bearer "+token)
	if IsOAuthToken(token) {
		req.Header.Set("anthropic-beta", oauthBetaHeader)
	} else {
		req.Header.Set("anthropic-beta", betaHeader)
	}
	if request.Stream {
		req.Header.Set("Accept", "text/event-stream")
	}
	return req, nil
}

// buildSystem assembles the system blocks, prepending the Claude Code
// prompt for OAuth-typed credentials.
func buildSystem(request *relaymodel.Request, oauth bool) []relaymodel.ContentBlock {
	var blocks []relaymodel.ContentBlock
	if oauth {
		blocks = append(blocks, relaymodel.ContentBlock{
			Type: relaymodel.ContentTypeText,
			Text: claudeCodeSystemPrompt,
		})
	}
	if systemText := request.SystemText(); systemText != "" {
		blocks = append(blocks, relaymodel.ContentBlock{
			Type: relaymodel.ContentTypeText,
			Text: systemText,
		})
	}
	if len(blocks) == 0 {
		return nil
	}
	return blocks
}

// Do executes the upstream call and returns the raw response. Callers own
// the body.
func Do(req *http.Request) (*http.Response, error) {
	resp, err := client.HTTPClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "anthropic upstream request")
	}
	return resp, nil
}

// ReadErrorMessage extracts the upstream error message from a non-200
// response body, falling back to the raw body.
func ReadErrorMessage(resp *http.Response) string {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return resp.Status
	}
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return resp.Status
	}
	return trimmed
}
