package controller

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	relaymodel "github.com/polygate/polygate/relay/model"
)

func TestConvertOpenAIRequestBasic(t *testing.T) {
	temperature := 0.5
	req := &openaiRequest{
		Model:       "claude-sonnet-4-5",
		Temperature: &temperature,
		MaxTokens:   1024,
		Stream:      true,
		User:        "user-42",
		Messages: []openaiMessage{
			{Role: "system", Content: json.RawMessage(`"You are terse."`)},
			{Role: "user", Content: json.RawMessage(`"hello"`)},
		},
	}

	out, err := ConvertOpenAIRequest(req)
	require.NoError(t, err)
	require.Equal(t, "claude-sonnet-4-5", out.Model)
	require.Equal(t, 1024, out.MaxTokens)
	require.True(t, out.Stream)
	require.Equal(t, "You are terse.", out.SystemText())
	require.Equal(t, map[string]any{"user_id": "user-42"}, out.Metadata)

	require.Len(t, out.Messages, 1)
	require.Equal(t, relaymodel.RoleUser, out.Messages[0].Role)
	require.Equal(t, "hello", out.Messages[0].TextContent())
}

func TestConvertOpenAIRequestMaxCompletionTokensWins(t *testing.T) {
	req := &openaiRequest{
		Model:               "claude-sonnet-4-5",
		MaxTokens:           1024,
		MaxCompletionTokens: 4096,
		Messages:            []openaiMessage{{Role: "user", Content: json.RawMessage(`"hi"`)}},
	}
	out, err := ConvertOpenAIRequest(req)
	require.NoError(t, err)
	require.Equal(t, 4096, out.MaxTokens)
}

func TestConvertOpenAIRequestStopShapes(t *testing.T) {
	req := &openaiRequest{
		Model:    "claude-sonnet-4-5",
		Stop:     json.RawMessage(`"END"`),
		Messages: []openaiMessage{{Role: "user", Content: json.RawMessage(`"hi"`)}},
	}
	out, err := ConvertOpenAIRequest(req)
	require.NoError(t, err)
	require.Equal(t, []string{"END"}, out.StopSequences)

	req.Stop = json.RawMessage(`["END","STOP"]`)
	out, err = ConvertOpenAIRequest(req)
	require.NoError(t, err)
	require.Equal(t, []string{"END", "STOP"}, out.StopSequences)
}

func TestConvertOpenAIRequestToolRoundTrip(t *testing.T) {
	toolCall := openaiToolCall{ID: "call_1", Type: "function"}
	toolCall.Function.Name = "get_weather"
	toolCall.Function.Arguments = `{"city":"Berlin"}`

	tool := openaiTool{Type: "function"}
	tool.Function.Name = "get_weather"
	tool.Function.Description = "Look up current weather"
	tool.Function.Parameters = json.RawMessage(`{"type":"object"}`)

	req := &openaiRequest{
		Model: "claude-sonnet-4-5",
		Tools: []openaiTool{tool},
		Messages: []openaiMessage{
			{Role: "user", Content: json.RawMessage(`"weather in berlin?"`)},
			{Role: "assistant", Content: json.RawMessage(`"checking"`), ToolCalls: []openaiToolCall{toolCall}},
			{Role: "tool", ToolCallID: "call_1", Content: json.RawMessage(`"12C, cloudy"`)},
		},
	}

	out, err := ConvertOpenAIRequest(req)
	require.NoError(t, err)

	require.Len(t, out.Tools, 1)
	require.Equal(t, "get_weather", out.Tools[0].Name)
	require.JSONEq(t, `{"type":"object"}`, string(out.Tools[0].InputSchema))

	require.Len(t, out.Messages, 3)

	assistant := out.Messages[1]
	require.Equal(t, relaymodel.RoleAssistant, assistant.Role)
	require.Len(t, assistant.Content, 2)
	require.Equal(t, relaymodel.ContentTypeText, assistant.Content[0].Type)
	require.Equal(t, relaymodel.ContentTypeToolUse, assistant.Content[1].Type)
	require.Equal(t, "call_1", assistant.Content[1].ID)
	require.JSONEq(t, `{"city":"Berlin"}`, string(assistant.Content[1].Input))

	// Tool replies become user-side tool_result blocks.
	result := out.Messages[2]
	require.Equal(t, relaymodel.RoleUser, result.Role)
	require.Equal(t, relaymodel.ContentTypeToolResult, result.Content[0].Type)
	require.Equal(t, "call_1", result.Content[0].ToolUseID)
	require.JSONEq(t, `"12C, cloudy"`, string(result.Content[0].Content))
}

func TestConvertOpenAIRequestContentParts(t *testing.T) {
	req := &openaiRequest{
		Model: "claude-sonnet-4-5",
		Messages: []openaiMessage{{
			Role:    "user",
			Content: json.RawMessage(`[{"type":"text","text":"part one "},{"type":"text","text":"part two"}]`),
		}},
	}
	out, err := ConvertOpenAIRequest(req)
	require.NoError(t, err)
	require.Equal(t, "part one part two", out.Messages[0].TextContent())
}

func TestConvertOpenAIRequestUnknownRole(t *testing.T) {
	req := &openaiRequest{
		Model:    "claude-sonnet-4-5",
		Messages: []openaiMessage{{Role: "moderator", Content: json.RawMessage(`"hi"`)}},
	}
	_, err := ConvertOpenAIRequest(req)
	require.Error(t, err)
	require.Contains(t, err.Error(), "moderator")
}

func TestOpenAIFinishReason(t *testing.T) {
	require.Equal(t, "tool_calls", openAIFinishReason(relaymodel.StopReasonToolUse))
	require.Equal(t, "length", openAIFinishReason(relaymodel.StopReasonMaxTokens))
	require.Equal(t, "length", openAIFinishReason(relaymodel.StopReasonContextWindow))
	require.Equal(t, "stop", openAIFinishReason(relaymodel.StopReasonEndTurn))
	require.Equal(t, "stop", openAIFinishReason(""))
}

func TestConvertToOpenAIResponse(t *testing.T) {
	response := &relaymodel.Response{
		Model:      "claude-sonnet-4-5",
		StopReason: relaymodel.StopReasonToolUse,
		Content: []relaymodel.ContentBlock{
			{Type: relaymodel.ContentTypeText, Text: "Let me check."},
			{Type: relaymodel.ContentTypeToolUse, ID: "call_1", Name: "get_weather", Input: json.RawMessage(`{"city":"Berlin"}`)},
		},
		Usage: relaymodel.Usage{InputTokens: 10, OutputTokens: 4},
	}

	body := ConvertToOpenAIResponse(response, "req-1", 1700000000)
	require.Equal(t, "chatcmpl-req-1", body["id"])
	require.Equal(t, "chat.completion", body["object"])

	choices := body["choices"].([]map[string]any)
	require.Len(t, choices, 1)
	require.Equal(t, "tool_calls", choices[0]["finish_reason"])

	message := choices[0]["message"].(map[string]any)
	require.Equal(t, "Let me check.", message["content"])
	toolCalls := message["tool_calls"].([]map[string]any)
	require.Len(t, toolCalls, 1)
	require.Equal(t, "call_1", toolCalls[0]["id"])

	usage := body["usage"].(map[string]any)
	require.Equal(t, 14, usage["total_tokens"])
}

func TestOpenAIChunkShape(t *testing.T) {
	chunk := openAIChunk("req-1", "claude-sonnet-4-5", 1700000000,
		map[string]any{"content": "hi"}, "")
	choices := chunk["choices"].([]map[string]any)
	require.NotContains(t, choices[0], "finish_reason")

	final := openAIChunk("req-1", "claude-sonnet-4-5", 1700000000,
		map[string]any{}, "stop")
	choices = final["choices"].([]map[string]any)
	require.Equal(t, "stop", choices[0]["finish_reason"])
}
