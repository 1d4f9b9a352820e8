package relaymode

import "strings"

// Endpoint families served by the gateway.
const (
	Unknown = iota
	// ChatCompletions is the OpenAI Chat Completions schema.
	ChatCompletions
	// ClaudeMessages is the Anthropic Messages schema.
	ClaudeMessages
	// GeminiGenerate is Google generateContent.
	GeminiGenerate
	// GeminiStream is Google streamGenerateContent.
	GeminiStream
	// WarpChatCompletions is Chat Completions served by the Warp backend.
	WarpChatCompletions
	// WarpMessages is Anthropic Messages served by the Warp backend.
	WarpMessages
	// WarpProto is the full protobuf Warp pipeline with tool mapping.
	WarpProto
	// ToolsExecute is the local tool executor endpoint.
	ToolsExecute
)

// GetByPath resolves the relay mode from the request path.
func GetByPath(path string) int {
	switch {
	case strings.HasPrefix(path, "/w/v1/messages/proto"):
		return WarpProto
	case strings.HasPrefix(path, "/w/v1/tools/execute"):
		return ToolsExecute
	case strings.HasPrefix(path, "/w/v1/chat/completions"):
		return WarpChatCompletions
	case strings.HasPrefix(path, "/w/v1/messages"):
		return WarpMessages
	case strings.HasPrefix(path, "/v1/chat/completions"):
		return ChatCompletions
	case strings.HasPrefix(path, "/v1/messages"):
		return ClaudeMessages
	case strings.HasPrefix(path, "/v1beta/models/") && strings.Contains(path, ":streamGenerateContent"):
		return GeminiStream
	case strings.HasPrefix(path, "/v1beta/models/") && strings.Contains(path, ":generateContent"):
		return GeminiGenerate
	default:
		return Unknown
	}
}

// String names the relay mode for logs and metrics labels.
func String(mode int) string {
	switch mode {
	case ChatCompletions:
		return "chat_completions"
	case ClaudeMessages:
		return "claude_messages"
	case GeminiGenerate:
		return "gemini_generate"
	case GeminiStream:
		return "gemini_stream"
	case WarpChatCompletions:
		return "warp_chat_completions"
	case WarpMessages:
		return "warp_messages"
	case WarpProto:
		return "warp_proto"
	case ToolsExecute:
		return "tools_execute"
	default:
		return "unknown"
	}
}
