package anthropic

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/polygate/polygate/model"
)

// Rate-limit state parsed from upstream response headers. The standard
// windows cover requests and token families; OAuth credentials additionally
// report unified 5-hour and 7-day utilization windows.
type RateLimits struct {
	RequestsLimit     int64  `json:"requests_limit,omitempty"`
	RequestsRemaining int64  `json:"requests_remaining,omitempty"`
	RequestsReset     string `json:"requests_reset,omitempty"`

	TokensLimit     int64  `json:"tokens_limit,omitempty"`
	TokensRemaining int64  `json:"tokens_remaining,omitempty"`
	TokensReset     string `json:"tokens_reset,omitempty"`

	InputTokensLimit     int64  `json:"input_tokens_limit,omitempty"`
	InputTokensRemaining int64  `json:"input_tokens_remaining,omitempty"`
	InputTokensReset     string `json:"input_tokens_reset,omitempty"`

	OutputTokensLimit     int64  `json:"output_tokens_limit,omitempty"`
	OutputTokensRemaining int64  `json:"output_tokens_remaining,omitempty"`
	OutputTokensReset     string `json:"output_tokens_reset,omitempty"`

	Unified5hUtilization float64 `json:"unified_5h_utilization,omitempty"`
	Unified5hReset       string  `json:"unified_5h_reset,omitempty"`
	Unified7dUtilization float64 `json:"unified_7d_utilization,omitempty"`
	Unified7dReset       string  `json:"unified_7d_reset,omitempty"`
}

// HasData reports whether any rate-limit header was present.
func (r *RateLimits) HasData() bool {
	return r.RequestsLimit > 0 || r.TokensLimit > 0 ||
		r.InputTokensLimit > 0 || r.OutputTokensLimit > 0 ||
		r.Unified5hReset != "" || r.Unified7dReset != ""
}

// AsJSONMap converts the parsed limits into the store's persisted shape.
func (r *RateLimits) AsJSONMap() model.JSONMap {
	out := model.JSONMap{}
	put := func(key string, value any) {
		switch v := value.(type) {
		case int64:
			if v > 0 {
				out[key] = v
			}
		case float64:
			if v > 0 {
				out[key] = v
			}
		case string:
			if v != "" {
				out[key] = v
			}
		}
	}
	put("requests_limit", r.RequestsLimit)
	put("requests_remaining", r.RequestsRemaining)
	put("requests_reset", r.RequestsReset)
	put("tokens_limit", r.TokensLimit)
	put("tokens_remaining", r.TokensRemaining)
	put("tokens_reset", r.TokensReset)
	put("input_tokens_limit", r.InputTokensLimit)
	put("input_tokens_remaining", r.InputTokensRemaining)
	put("input_tokens_reset", r.InputTokensReset)
	put("output_tokens_limit", r.OutputTokensLimit)
	put("output_tokens_remaining", r.OutputTokensRemaining)
	put("output_tokens_reset", r.OutputTokensReset)
	put("unified_5h_utilization", r.Unified5hUtilization)
	put("unified_5h_reset", r.Unified5hReset)
	put("unified_7d_utilization", r.Unified7dUtilization)
	put("unified_7d_reset", r.Unified7dReset)
	return out
}

// ParseRateLimitHeaders extracts every anthropic-ratelimit-* header family
// plus the OAuth unified windows. Returns nil when no header was present.
func ParseRateLimitHeaders(headers http.Header) *RateLimits {
	limits := &RateLimits{}

	limits.RequestsLimit = headerInt(headers, "anthropic-ratelimit-requests-limit")
	limits.RequestsRemaining = headerInt(headers, "anthropic-ratelimit-requests-remaining")
	limits.RequestsReset = headers.Get("anthropic-ratelimit-requests-reset")

	limits.TokensLimit = headerInt(headers, "anthropic-ratelimit-tokens-limit")
	limits.TokensRemaining = headerInt(headers, "anthropic-ratelimit-tokens-remaining")
	limits.TokensReset = headers.Get("anthropic-ratelimit-tokens-reset")

	limits.InputTokensLimit = headerInt(headers, "anthropic-ratelimit-input-tokens-limit")
	limits.InputTokensRemaining = headerInt(headers, "anthropic-ratelimit-input-tokens-remaining")
	limits.InputTokensReset = headers.Get("anthropic-ratelimit-input-tokens-reset")

	limits.OutputTokensLimit = headerInt(headers, "anthropic-ratelimit-output-tokens-limit")
	limits.OutputTokensRemaining = headerInt(headers, "anthropic-ratelimit-output-tokens-remaining")
	limits.OutputTokensReset = headers.Get("anthropic-ratelimit-output-tokens-reset")

	limits.Unified5hUtilization = headerFloat(headers, "anthropic-ratelimit-unified-5h-utilization")
	limits.Unified5hReset = headers.Get("anthropic-ratelimit-unified-5h-reset")
	limits.Unified7dUtilization = headerFloat(headers, "anthropic-ratelimit-unified-7d-utilization")
	limits.Unified7dReset = headers.Get("anthropic-ratelimit-unified-7d-reset")

	if !limits.HasData() {
		return nil
	}
	return limits
}

func headerInt(headers http.Header, name string) int64 {
	value := strings.TrimSpace(headers.Get(name))
	if value == "" {
		return 0
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0
	}
	return parsed
}

func headerFloat(headers http.Header, name string) float64 {
	value := strings.TrimSpace(headers.Get(name))
	if value == "" {
		return 0
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0
	}
	return parsed
}
