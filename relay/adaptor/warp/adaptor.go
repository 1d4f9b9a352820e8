package warp

import (
	"bytes"
	"context"
	"net/http"
	"runtime"

	"github.com/Laisky/errors/v2"

	"github.com/polygate/polygate/common/client"
	"github.com/polygate/polygate/model"
)

const (
	defaultBaseURL = "https://app.warp.dev/ai/multi-agent"

	warpClientID      = "warp-terminal"
	warpClientVersion = "v0.2025.08.06.08.12.stable_02"
)

// EndpointURL returns the multi-agent endpoint, honouring a per-credential
// override.
func EndpointURL(credential *model.Credential) string {
	if credential != nil && credential.ApiBaseUrl != "" {
		return credential.ApiBaseUrl
	}
	return defaultBaseURL
}

// BuildHTTPRequest wraps the encoded Protobuf request with the transport
// headers Warp expects.
func BuildHTTPRequest(ctx context.Context, credential *model.Credential, idToken string, request *Request) (*http.Request, error) {
	body := request.Marshal()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, EndpointURL(credential), bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build warp request")
	}
	req.Header.Set("Content-Type", "application/x-protobuf")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+idToken)
	req.Header.Set("x-warp-client-id", warpClientID)
	req.Header.Set("x-warp-client-version", warpClientVersion)
	req.Header.Set("x-warp-os-category", osCategory())
	req.Header.Set("x-warp-os-name", runtime.GOOS)
	req.Header.Set("x-warp-os-version", "unknown")
	return req, nil
}

func osCategory() string {
	switch runtime.GOOS {
	case "darwin":
		return "Darwin"
	case "windows":
		return "Windows"
	default:
		return "Linux"
	}
}

// Do executes the upstream call.
func Do(req *http.Request) (*http.Response, error) {
	resp, err := client.HTTPClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "warp upstream request")
	}
	return resp, nil
}
