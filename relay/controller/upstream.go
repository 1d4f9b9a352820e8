package controller

import (
	"context"
	"net/http"

	"github.com/polygate/polygate/model"
	"github.com/polygate/polygate/relay/adaptor/anthropic"
	"github.com/polygate/polygate/relay/adaptor/vertex"
	relaymodel "github.com/polygate/polygate/relay/model"
	"github.com/polygate/polygate/relay/token"
	"github.com/polygate/polygate/relay/vendor"
)

// networkError reports a transport-level failure with no HTTP status; the
// selector treats it as retryable.
func networkError(err error) *relaymodel.ErrorWithStatusCode {
	return &relaymodel.ErrorWithStatusCode{
		Error: relaymodel.Error{
			Type:    relaymodel.ErrUpstreamTransient,
			Message: err.Error(),
		},
		StatusCode: 0,
		RawError:   err,
	}
}

// refreshError reports a failed token exchange as an auth-status error so
// the selector applies its forced-refresh path before moving on.
func refreshError(err error) *relaymodel.ErrorWithStatusCode {
	return &relaymodel.ErrorWithStatusCode{
		Error: relaymodel.Error{
			Type:    relaymodel.ErrTokenRefresh,
			Message: err.Error(),
		},
		StatusCode: http.StatusUnauthorized,
		RawError:   err,
	}
}

// openUpstream performs the vendor-appropriate upstream call for an
// Anthropic-schema request and returns the accepted (2xx) response. Non-2xx
// responses are classified and the body is consumed.
func openUpstream(ctx context.Context, vendorName string, credential *model.Credential, request *relaymodel.Request) (*http.Response, *relaymodel.ErrorWithStatusCode) {
	var (
		req *http.Request
		err error
	)
	switch {
	case vendorName == vendor.Vertex && vendor.IsGeminiModel(request.Model):
		accessToken, tokenErr := token.GetValidAccessToken(ctx, credential, false)
		if tokenErr != nil {
			return nil, refreshError(tokenErr)
		}
		req, err = vertex.BuildGeminiRequest(ctx, credential, accessToken, request, vendor.ResolveVertexModel(request.Model))
	case vendorName == vendor.Vertex:
		accessToken, tokenErr := token.GetValidAccessToken(ctx, credential, false)
		if tokenErr != nil {
			return nil, refreshError(tokenErr)
		}
		req, err = vertex.BuildClaudeRequest(ctx, credential, accessToken, request)
	default:
		req, err = anthropic.BuildUpstreamRequest(ctx, credential, request)
	}
	if err != nil {
		return nil, relaymodel.NewInternalError(err)
	}

	resp, err := doUpstream(vendorName, req)
	if err != nil {
		return nil, networkError(err)
	}
	if resp.StatusCode != http.StatusOK {
		message := anthropic.ReadErrorMessage(resp)
		_ = resp.Body.Close()
		return nil, relaymodel.NewUpstreamError(resp.StatusCode, message)
	}

	if vendorName == vendor.Anthropic {
		persistRateLimits(credential, resp)
	}
	return resp, nil
}

func doUpstream(vendorName string, req *http.Request) (*http.Response, error) {
	if vendorName == vendor.Vertex {
		return vertex.Do(req)
	}
	return anthropic.Do(req)
}

func persistRateLimits(credential *model.Credential, resp *http.Response) {
	limits := anthropic.ParseRateLimitHeaders(resp.Header)
	if limits == nil {
		return
	}
	// Best effort; the quota refresher re-reads them periodically anyway.
	_ = model.UpdateCredentialRateLimits(credential.Id, limits.AsJSONMap())
}
