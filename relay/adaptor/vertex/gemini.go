package vertex

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/Laisky/errors/v2"
	"github.com/google/uuid"

	"github.com/polygate/polygate/model"
	relaymodel "github.com/polygate/polygate/relay/model"
)

// Gemini wire shapes (request and response envelopes).

type GeminiPart struct {
	Text string `json:"text,omitempty"`
}

type GeminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []GeminiPart `json:"parts"`
}

type GeminiGenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	TopK            *int     `json:"topK,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

type GeminiRequest struct {
	Contents          []GeminiContent         `json:"contents"`
	SystemInstruction *GeminiContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *GeminiGenerationConfig `json:"generationConfig,omitempty"`
}

type GeminiUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type GeminiCandidate struct {
	Content      GeminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
}

type GeminiResponse struct {
	Candidates    []GeminiCandidate    `json:"candidates"`
	UsageMetadata *GeminiUsageMetadata `json:"usageMetadata,omitempty"`
}

// ConvertGeminiRequest flattens the canonical request into Gemini contents.
// Assistant turns map to role "model"; tool blocks flatten to text since the
// Gemini path is text-only.
func ConvertGeminiRequest(request *relaymodel.Request) *GeminiRequest {
	out := &GeminiRequest{}

	if systemText := request.SystemText(); systemText != "" {
		out.SystemInstruction = &GeminiContent{Parts: []GeminiPart{{Text: systemText}}}
	}

	for _, message := range request.Messages {
		role := "user"
		if message.Role == relaymodel.RoleAssistant {
			role = "model"
		}
		var text string
		for _, block := range message.Content {
			switch block.Type {
			case relaymodel.ContentTypeText:
				text += block.Text
			case relaymodel.ContentTypeToolResult:
				text += block.ResultText()
			}
		}
		if text == "" {
			continue
		}
		out.Contents = append(out.Contents, GeminiContent{
			Role:  role,
			Parts: []GeminiPart{{Text: text}},
		})
	}

	generationConfig := &GeminiGenerationConfig{
		Temperature:   request.Temperature,
		TopP:          request.TopP,
		TopK:          request.TopK,
		StopSequences: request.StopSequences,
	}
	if request.MaxTokens > 0 {
		generationConfig.MaxOutputTokens = request.MaxTokens
	}
	out.GenerationConfig = generationConfig
	return out
}

// ConvertGeminiResponse lifts a Gemini response into the canonical Claude
// message shape: a single text block plus usage.
func ConvertGeminiResponse(response *GeminiResponse, modelName string) *relaymodel.Response {
	out := &relaymodel.Response{
		ID:    "msg_" + uuid.NewString(),
		Type:  "message",
		Role:  relaymodel.RoleAssistant,
		Model: modelName,
	}

	var text string
	stopReason := relaymodel.StopReasonEndTurn
	if len(response.Candidates) > 0 {
		for _, part := range response.Candidates[0].Content.Parts {
			text += part.Text
		}
		if response.Candidates[0].FinishReason == "MAX_TOKENS" {
			stopReason = relaymodel.StopReasonMaxTokens
		}
	}
	out.Content = []relaymodel.ContentBlock{{Type: relaymodel.ContentTypeText, Text: text}}
	out.StopReason = stopReason

	if response.UsageMetadata != nil {
		out.Usage = relaymodel.Usage{
			InputTokens:  response.UsageMetadata.PromptTokenCount,
			OutputTokens: response.UsageMetadata.CandidatesTokenCount,
		}
	}
	return out
}

// BuildGeminiRequest prepares the upstream HTTP request for a Gemini model.
func BuildGeminiRequest(ctx context.Context, credential *model.Credential, accessToken string, request *relaymodel.Request, vertexModel string) (*http.Request, error) {
	payload := ConvertGeminiRequest(request)
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "marshal gemini request")
	}

	method := "generateContent"
	if request.Stream {
		method = "streamGenerateContent?alt=sse"
	}
	endpoint := EndpointURL(credential.ProjectId, credential.Region, "google", vertexModel, method)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build gemini request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)
	if request.Stream {
		req.Header.Set("Accept", "text/event-stream")
	}
	return req, nil
}

// CountTokens probes the {model}:countTokens endpoint and returns the total
// token count for the request's contents.
func CountTokens(ctx context.Context, credential *model.Credential, accessToken string, request *relaymodel.Request, vertexModel string) (int, error) {
	payload := ConvertGeminiRequest(request)
	body, err := json.Marshal(map[string]any{"contents": payload.Contents})
	if err != nil {
		return 0, errors.Wrap(err, "marshal count tokens request")
	}

	endpoint := EndpointURL(credential.ProjectId, credential.Region, "google", vertexModel, "countTokens")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, errors.Wrap(err, "build count tokens request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, errors.Errorf("count tokens failed with status %d", resp.StatusCode)
	}

	var result struct {
		TotalTokens int `json:"totalTokens"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, errors.Wrap(err, "decode count tokens response")
	}
	return result.TotalTokens, nil
}
