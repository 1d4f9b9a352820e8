package model

// Usage accumulates token accounting for one request.
type Usage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens,omitempty"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens,omitempty"`
}

// Add accumulates another usage sample into u.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CacheReadInputTokens += other.CacheReadInputTokens
	u.CacheCreationInputTokens += other.CacheCreationInputTokens
}

// Stop reasons of the canonical response.
const (
	StopReasonEndTurn       = "end_turn"
	StopReasonToolUse       = "tool_use"
	StopReasonMaxTokens     = "max_tokens"
	StopReasonStopSequence  = "stop_sequence"
	StopReasonContextWindow = "context_window_exceeded"
	StopReasonQuotaLimit    = "quota_limit"
	StopReasonUnavailable   = "llm_unavailable"
	StopReasonInternalError = "internal_error"
)

// Response is the canonical non-streaming response (Anthropic Messages shape).
type Response struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Role         string         `json:"role"`
	Model        string         `json:"model"`
	Content      []ContentBlock `json:"content"`
	StopReason   string         `json:"stop_reason,omitempty"`
	StopSequence *string        `json:"stop_sequence,omitempty"`
	Usage        Usage          `json:"usage"`
}
