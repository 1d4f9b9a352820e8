package controller

import (
	"encoding/json"

	"github.com/Laisky/errors/v2"

	relaymodel "github.com/polygate/polygate/relay/model"
)

// OpenAI Chat Completions wire shapes, only the fields the gateway maps.

type openaiToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type openaiMessage struct {
	Role       string           `json:"role"`
	Content    json.RawMessage  `json:"content,omitempty"`
	ToolCalls  []openaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openaiTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string          `json:"name"`
		Description string          `json:"description,omitempty"`
		Parameters  json.RawMessage `json:"parameters,omitempty"`
	} `json:"function"`
}

type openaiRequest struct {
	Model               string          `json:"model"`
	Messages            []openaiMessage `json:"messages"`
	MaxTokens           int             `json:"max_tokens,omitempty"`
	MaxCompletionTokens int             `json:"max_completion_tokens,omitempty"`
	Temperature         *float64        `json:"temperature,omitempty"`
	TopP                *float64        `json:"top_p,omitempty"`
	Stream              bool            `json:"stream,omitempty"`
	Stop                json.RawMessage `json:"stop,omitempty"`
	Tools               []openaiTool    `json:"tools,omitempty"`
	ToolChoice          json.RawMessage `json:"tool_choice,omitempty"`
	User                string          `json:"user,omitempty"`
}

// ConvertOpenAIRequest lifts an OpenAI Chat Completions request into the
// canonical shape: system turns join the system prompt, tool messages become
// tool_result blocks, assistant tool_calls become tool_use blocks.
func ConvertOpenAIRequest(req *openaiRequest) (*relaymodel.Request, error) {
	out := &relaymodel.Request{
		Model:       req.Model,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stream:      req.Stream,
	}
	out.MaxTokens = req.MaxTokens
	if req.MaxCompletionTokens > 0 {
		out.MaxTokens = req.MaxCompletionTokens
	}
	if len(req.Stop) > 0 {
		var single string
		if err := json.Unmarshal(req.Stop, &single); err == nil {
			out.StopSequences = []string{single}
		} else {
			var many []string
			if err := json.Unmarshal(req.Stop, &many); err == nil {
				out.StopSequences = many
			}
		}
	}
	if req.User != "" {
		out.Metadata = map[string]any{"user_id": req.User}
	}

	var systemText string
	for _, message := range req.Messages {
		switch message.Role {
		case "system", "developer":
			systemText += contentText(message.Content)
		case "tool":
			out.Messages = append(out.Messages, relaymodel.Message{
				Role: relaymodel.RoleUser,
				Content: []relaymodel.ContentBlock{{
					Type:      relaymodel.ContentTypeToolResult,
					ToolUseID: message.ToolCallID,
					Content:   mustJSON(contentText(message.Content)),
				}},
			})
		case "assistant":
			var blocks []relaymodel.ContentBlock
			if text := contentText(message.Content); text != "" {
				blocks = append(blocks, relaymodel.ContentBlock{
					Type: relaymodel.ContentTypeText,
					Text: text,
				})
			}
			for _, call := range message.ToolCalls {
				input := json.RawMessage(call.Function.Arguments)
				if len(input) == 0 {
					input = json.RawMessage("{}")
				}
				blocks = append(blocks, relaymodel.ContentBlock{
					Type:  relaymodel.ContentTypeToolUse,
					ID:    call.ID,
					Name:  call.Function.Name,
					Input: input,
				})
			}
			out.Messages = append(out.Messages, relaymodel.Message{
				Role:    relaymodel.RoleAssistant,
				Content: blocks,
			})
		case "user":
			out.Messages = append(out.Messages, relaymodel.Message{
				Role: relaymodel.RoleUser,
				Content: []relaymodel.ContentBlock{{
					Type: relaymodel.ContentTypeText,
					Text: contentText(message.Content),
				}},
			})
		default:
			return nil, errors.Errorf("unsupported message role %q", message.Role)
		}
	}
	if systemText != "" {
		out.System = mustJSON(systemText)
	}

	for _, tool := range req.Tools {
		if tool.Type != "" && tool.Type != "function" {
			continue
		}
		out.Tools = append(out.Tools, relaymodel.Tool{
			Name:        tool.Function.Name,
			Description: tool.Function.Description,
			InputSchema: tool.Function.Parameters,
		})
	}
	return out, nil
}

// contentText flattens an OpenAI content value, which may be a string or an
// array of typed parts.
func contentText(content json.RawMessage) string {
	if len(content) == 0 {
		return ""
	}
	var text string
	if err := json.Unmarshal(content, &text); err == nil {
		return text
	}
	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(content, &parts); err == nil {
		var out string
		for _, part := range parts {
			if part.Type == "" || part.Type == "text" {
				out += part.Text
			}
		}
		return out
	}
	return ""
}

func mustJSON(v any) json.RawMessage {
	data, _ := json.Marshal(v)
	return data
}

// openAIFinishReason maps canonical stop reasons onto OpenAI finish reasons.
func openAIFinishReason(stopReason string) string {
	switch stopReason {
	case relaymodel.StopReasonToolUse:
		return "tool_calls"
	case relaymodel.StopReasonMaxTokens, relaymodel.StopReasonContextWindow:
		return "length"
	default:
		return "stop"
	}
}

// ConvertToOpenAIResponse renders a canonical response as an OpenAI Chat
// Completions body.
func ConvertToOpenAIResponse(response *relaymodel.Response, requestID string, createdAt int64) map[string]any {
	message := map[string]any{"role": "assistant"}
	var text string
	var toolCalls []map[string]any
	for _, block := range response.Content {
		switch block.Type {
		case relaymodel.ContentTypeText:
			text += block.Text
		case relaymodel.ContentTypeToolUse:
			args := string(block.Input)
			if args == "" {
				args = "{}"
			}
			toolCalls = append(toolCalls, map[string]any{
				"id":   block.ID,
				"type": "function",
				"function": map[string]any{
					"name":      block.Name,
					"arguments": args,
				},
			})
		}
	}
	message["content"] = text
	if len(toolCalls) > 0 {
		message["tool_calls"] = toolCalls
	}

	return map[string]any{
		"id":      "chatcmpl-" + requestID,
		"object":  "chat.completion",
		"created": createdAt,
		"model":   response.Model,
		"choices": []map[string]any{{
			"index":         0,
			"message":       message,
			"finish_reason": openAIFinishReason(response.StopReason),
		}},
		"usage": map[string]any{
			"prompt_tokens":     response.Usage.InputTokens,
			"completion_tokens": response.Usage.OutputTokens,
			"total_tokens":      response.Usage.InputTokens + response.Usage.OutputTokens,
		},
	}
}

// openAIChunk renders one streaming delta in the Chat Completions chunk
// shape. finishReason is empty for content chunks.
func openAIChunk(requestID, modelName string, createdAt int64, delta map[string]any, finishReason string) map[string]any {
	choice := map[string]any{
		"index": 0,
		"delta": delta,
	}
	if finishReason != "" {
		choice["finish_reason"] = finishReason
	}
	return map[string]any{
		"id":      "chatcmpl-" + requestID,
		"object":  "chat.completion.chunk",
		"created": createdAt,
		"model":   modelName,
		"choices": []map[string]any{choice},
	}
}
