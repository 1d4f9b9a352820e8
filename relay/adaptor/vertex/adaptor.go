// Package vertex relays canonical requests to GCP Vertex AI, covering both
// Claude-on-Vertex publisher models and Gemini models.
package vertex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/Laisky/errors/v2"

	"github.com/polygate/polygate/common/client"
	"github.com/polygate/polygate/model"
	relaymodel "github.com/polygate/polygate/relay/model"
	"github.com/polygate/polygate/relay/vendor"
)

const anthropicVertexVersion = "vertex-2023-10-16"

// EndpointURL builds the publisher model endpoint. The pseudo-region
// "global" targets us-central1 on the non-regional host.
func EndpointURL(projectId, region, publisher, vertexModel, method string) string {
	host := fmt.Sprintf("%s-aiplatform.googleapis.com", region)
	location := region
	if region == "global" || region == "" {
		host = "aiplatform.googleapis.com"
		location = "us-central1"
	}
	return fmt.Sprintf("https://%s/v1/projects/%s/locations/%s/publishers/%s/models/%s:%s",
		host, projectId, location, publisher, vertexModel, method)
}

// ConvertClaudeRequest builds the Claude-on-Vertex envelope: the model moves
// into the URL, anthropic_version replaces it, and tool schemas are stripped
// of Vertex-incompatible JSON-schema fields.
func ConvertClaudeRequest(request *relaymodel.Request) (map[string]any, error) {
	payload := map[string]any{
		"anthropic_version": anthropicVertexVersion,
		"messages":          request.Messages,
	}
	maxTokens := request.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 8192
	}
	payload["max_tokens"] = maxTokens
	if len(request.System) > 0 {
		payload["system"] = request.System
	}
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
	if len(request.Metadata) > 0 {
		payload["metadata"] = request.Metadata
	}
	if len(request.Tools) > 0 {
		tools := make([]map[string]any, 0, len(request.Tools))
		for _, tool := range request.Tools {
			entry := map[string]any{"name": tool.Name}
			if tool.Description != "" {
				entry["description"] = tool.Description
			}
			if len(tool.InputSchema) > 0 {
				var schema any
				if err := json.Unmarshal(tool.InputSchema, &schema); err != nil {
					return nil, errors.Wrapf(err, "decode input schema of tool %s", tool.Name)
				}
				entry["input_schema"] = StripIncompatibleSchemaFields(schema)
			}
			tools = append(tools, entry)
		}
		payload["tools"] = tools
		if len(request.ToolChoice) > 0 {
			payload["tool_choice"] = request.ToolChoice
		}
	}
	return payload, nil
}

// StripIncompatibleSchemaFields recursively removes JSON-schema fields the
// Vertex tool validator rejects.
func StripIncompatibleSchemaFields(schema any) any {
	switch typed := schema.(type) {
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, value := range typed {
			if key == "$comment" || key == "input_examples" {
				continue
			}
			out[key] = StripIncompatibleSchemaFields(value)
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, value := range typed {
			out[i] = StripIncompatibleSchemaFields(value)
		}
		return out
	default:
		return schema
	}
}

// BuildClaudeRequest prepares the upstream HTTP request for a Claude
// publisher model.
func BuildClaudeRequest(ctx context.Context, credential *model.Credential, accessToken string, request *relaymodel.Request) (*http.Request, error) {
	payload, err := ConvertClaudeRequest(request)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "marshal vertex request")
	}

	method := "rawPredict"
	if request.Stream {
		method = "streamRawPredict"
	}
	endpoint := EndpointURL(credential.ProjectId, credential.Region,
		"anthropic", vendor.ResolveVertexModel(request.Model), method)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build vertex request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)
	if request.Stream {
		req.Header.Set("Accept", "text/event-stream")
	}
	return req, nil
}

// Do executes the upstream call.
func Do(req *http.Request) (*http.Response, error) {
	resp, err := client.HTTPClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "vertex upstream request")
	}
	return resp, nil
}

// SkipWrapperEvent reports whether an SSE event name is Vertex transport
// noise that must not reach the client.
func SkipWrapperEvent(eventName string) bool {
	return eventName == "vertex_event" || eventName == "ping"
}
