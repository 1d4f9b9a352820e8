package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/Laisky/errors/v2"

	"github.com/polygate/polygate/common/client"
)

// probeModel is the cheapest model used for credential verification.
const probeModel = "claude-haiku-4-5"

// VerificationResult reports the outcome of a credential probe.
type VerificationResult struct {
	Valid      bool        `json:"valid"`
	Status     int         `json:"status,omitempty"`
	Model      string      `json:"model,omitempty"`
	Email      string      `json:"email,omitempty"`
	RateLimits *RateLimits `json:"rate_limits,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// VerifyCredential sends a minimal Messages probe (Haiku, max_tokens 10) to
// confirm the token works. OAuth tokens carry the Claude Code system prompt
// the upstream insists on.
func VerifyCredential(ctx context.Context, token, baseURL string) (*VerificationResult, error) {
	payload := map[string]any{
		"model":      probeModel,
		"max_tokens": 10,
		"messages": []map[string]any{
			{"role": "user", "content": "hi"},
		},
	}
	if IsOAuthToken(token) {
		payload["system"] = []map[string]any{
			{"type": "text", "text": claudeCodeSystemPrompt},
		}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "marshal probe request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, EndpointURL(baseURL), bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build probe request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("anthropic-version", anthropicVersion)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Authorization", "Bearer "+token)
	if IsOAuthToken(token) {
		req.Header.Set("anthropic-beta", oauthBetaHeader)
	}

	resp, err := client.ImpatientHTTPClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "send probe request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &VerificationResult{
			Valid:  false,
			Status: resp.StatusCode,
			Error:  ReadErrorMessage(resp),
		}, nil
	}

	var probe struct {
		Model string `json:"model"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&probe)

	return &VerificationResult{
		Valid:      true,
		Status:     resp.StatusCode,
		Model:      probe.Model,
		RateLimits: ParseRateLimitHeaders(resp.Header),
	}, nil
}
