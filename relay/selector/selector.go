// Package selector picks pool credentials for requests and drives failover.
package selector

import (
	"context"
	"net/http"
	"time"

	"github.com/Laisky/zap"

	"github.com/polygate/polygate/common/config"
	"github.com/polygate/polygate/common/logger"
	"github.com/polygate/polygate/model"
	relaymodel "github.com/polygate/polygate/relay/model"
	"github.com/polygate/polygate/relay/token"
)

// Operation runs one upstream attempt against the chosen credential. It must
// not write a success response before the upstream accepted the request, so
// that failed attempts remain retryable on another credential.
type Operation func(ctx context.Context, credential *model.Credential) *relaymodel.ErrorWithStatusCode

// WithCredential selects credentials for the vendor and runs op with retry.
// Quota failures quarantine the credential and move on; auth failures force
// one token refresh and retry the same credential; transient failures move
// on; other client errors propagate immediately.
func WithCredential(ctx context.Context, vendorName string, op Operation) *relaymodel.ErrorWithStatusCode {
	tried := make(map[int]bool)
	for id := range ExcludedIDs() {
		tried[id] = true
	}

	var lastErr *relaymodel.ErrorWithStatusCode
	for attempt := 0; attempt < config.RetryTimes; attempt++ {
		credential, err := model.GetRandomActiveCredential(vendorName, tried)
		if err != nil {
			return relaymodel.NewInternalError(err)
		}
		if credential == nil {
			break
		}
		tried[credential.Id] = true

		bizErr := op(ctx, credential)
		if bizErr == nil {
			recordSuccess(credential.Id)
			return nil
		}
		lastErr = bizErr

		switch {
		case relaymodel.IsQuotaError(bizErr.StatusCode, bizErr.Message):
			logger.Logger.Warn("credential quota exhausted, trying next",
				zap.String("vendor", vendorName),
				zap.Int("credential_id", credential.Id),
				zap.Int("status_code", bizErr.StatusCode))
			if err := model.MarkCredentialQuotaExhausted(credential.Id, time.Time{}); err != nil {
				logger.Logger.Error("mark quota exhausted failed", zap.Error(err))
			}
			Exclude(credential.Id)

		case relaymodel.IsAuthStatus(bizErr.StatusCode):
			if err := model.IncrementCredentialErrorCount(credential.Id, bizErr.Message); err != nil {
				logger.Logger.Error("increment error count failed", zap.Error(err))
			}
			// One forced refresh, then one more shot on the same credential.
			if _, refreshErr := token.GetValidAccessToken(ctx, credential, true); refreshErr == nil {
				if retryErr := op(ctx, credential); retryErr == nil {
					recordSuccess(credential.Id)
					return nil
				} else {
					lastErr = retryErr
				}
			} else {
				logger.Logger.Warn("forced token refresh failed",
					zap.Int("credential_id", credential.Id),
					zap.Error(refreshErr))
			}

		case bizErr.StatusCode >= http.StatusInternalServerError ||
			bizErr.StatusCode == 0: // network error or timeout, no HTTP status
			if err := model.IncrementCredentialErrorCount(credential.Id, bizErr.Message); err != nil {
				logger.Logger.Error("increment error count failed", zap.Error(err))
			}

		default:
			// Client-caused 4xx: another credential will not change the outcome.
			return bizErr
		}
	}

	if lastErr == nil {
		return relaymodel.NewNoCredentialError()
	}
	if lastErr.Error.Type == relaymodel.ErrUpstreamTransient ||
		relaymodel.IsAuthStatus(lastErr.StatusCode) {
		// Retries exhausted on transient failures: surface as bad gateway
		// carrying the last upstream message.
		return &relaymodel.ErrorWithStatusCode{
			Error: relaymodel.Error{
				Type:    relaymodel.ErrUpstreamTransient,
				Message: lastErr.Message,
			},
			StatusCode: http.StatusBadGateway,
			RawError:   lastErr.RawError,
		}
	}
	return lastErr
}

func recordSuccess(credentialId int) {
	if err := model.IncrementCredentialUseCount(credentialId); err != nil {
		logger.Logger.Error("increment use count failed",
			zap.Int("credential_id", credentialId), zap.Error(err))
	}
}
