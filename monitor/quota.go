package monitor

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/Laisky/zap"

	"github.com/polygate/polygate/common/config"
	"github.com/polygate/polygate/common/logger"
	"github.com/polygate/polygate/model"
	"github.com/polygate/polygate/relay/adaptor/anthropic"
	"github.com/polygate/polygate/relay/token"
	"github.com/polygate/polygate/relay/vendor"
)

// Remaining-quota alert thresholds, in percent.
const (
	quotaWarnPercent     = 20
	quotaCriticalPercent = 5
)

// refreshedVendors are probed in order each pass.
var refreshedVendors = []string{vendor.Anthropic, vendor.Vertex, vendor.Warp}

// passGuard admits one refresh pass at a time. Ticks arriving while a pass
// is still running are dropped, never queued.
type passGuard struct {
	running atomic.Bool
}

// tryRun starts pass in its own goroutine unless one is already running.
// Reports whether the pass was admitted.
func (g *passGuard) tryRun(pass func()) bool {
	if !g.running.CompareAndSwap(false, true) {
		return false
	}
	go func() {
		defer g.running.Store(false)
		pass()
	}()
	return true
}

// StartQuotaRefresher runs periodic usage probes over every vendor's
// credentials. The first pass starts after the initial delay; a pass that
// outlives the interval causes the next tick to be skipped, never queued.
func StartQuotaRefresher(ctx context.Context) {
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(config.QuotaRefreshInitialDelay):
		}

		var guard passGuard
		runPass := func() {
			if !guard.tryRun(func() { refreshPass(ctx) }) {
				logger.Logger.Warn("quota refresh pass still running, skipping tick")
			}
		}

		runPass()
		ticker := time.NewTicker(config.QuotaRefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				runPass()
			}
		}
	}()
}

func refreshPass(ctx context.Context) {
	startedAt := time.Now()
	for i, vendorName := range refreshedVendors {
		if i > 0 {
			if !sleepCtx(ctx, config.QuotaInterVendorDelay) {
				return
			}
		}
		refreshVendor(ctx, vendorName)
	}
	logger.Logger.Info("quota refresh pass finished",
		zap.Duration("duration", time.Since(startedAt)))
}

func refreshVendor(ctx context.Context, vendorName string) {
	credentials, err := model.GetActiveCredentials(vendorName)
	if err != nil {
		logger.Logger.Error("list credentials for quota refresh failed",
			zap.String("vendor", vendorName), zap.Error(err))
		return
	}
	RecordActiveCredentials(vendorName, len(credentials))

	for i, credential := range credentials {
		if i > 0 {
			if !sleepCtx(ctx, config.QuotaIntraVendorDelay) {
				return
			}
		}
		refreshCredential(ctx, credential)
	}
}

func refreshCredential(ctx context.Context, credential *model.Credential) {
	remaining := -1.0

	switch credential.Vendor {
	case vendor.Anthropic:
		remaining = probeAnthropic(ctx, credential)
	default:
		// Vertex and Warp expose no usage API; verify the token still
		// exchanges and fall back to operator-maintained quota counters.
		if _, err := token.GetValidAccessToken(ctx, credential, false); err != nil {
			logger.Logger.Warn("credential token probe failed",
				zap.String("vendor", credential.Vendor),
				zap.Int("credential_id", credential.Id),
				zap.Error(err))
			return
		}
		if credential.QuotaLimit > 0 {
			remaining = 100 * float64(credential.QuotaLimit-credential.QuotaUsed) / float64(credential.QuotaLimit)
		}
	}

	if remaining < 0 {
		return
	}
	RecordCredentialQuota(credential.Vendor, credential.Name, remaining)
	alertOnLowQuota(credential, remaining)
}

// probeAnthropic runs the cheap Messages probe and persists the parsed
// rate-limit headers. Returns remaining percent, or -1 when unknown.
func probeAnthropic(ctx context.Context, credential *model.Credential) float64 {
	accessToken := credential.AccessToken
	if accessToken == "" {
		accessToken = credential.RefreshToken
	}
	result, err := anthropic.VerifyCredential(ctx, accessToken, credential.ApiBaseUrl)
	if err != nil {
		logger.Logger.Warn("anthropic usage probe failed",
			zap.Int("credential_id", credential.Id), zap.Error(err))
		return -1
	}
	if !result.Valid {
		logger.Logger.Warn("anthropic credential rejected by probe",
			zap.Int("credential_id", credential.Id),
			zap.Int("status", result.Status),
			zap.String("error", result.Error))
		if err := model.IncrementCredentialErrorCount(credential.Id, result.Error); err != nil {
			logger.Logger.Error("record probe failure failed", zap.Error(err))
		}
		return -1
	}
	if result.RateLimits == nil {
		return -1
	}

	if err := model.UpdateCredentialRateLimits(credential.Id, result.RateLimits.AsJSONMap()); err != nil {
		logger.Logger.Error("persist rate limits failed",
			zap.Int("credential_id", credential.Id), zap.Error(err))
	}

	limits := result.RateLimits
	switch {
	case limits.Unified5hUtilization > 0:
		return 100 * (1 - limits.Unified5hUtilization)
	case limits.RequestsLimit > 0:
		return 100 * float64(limits.RequestsRemaining) / float64(limits.RequestsLimit)
	default:
		return -1
	}
}

func alertOnLowQuota(credential *model.Credential, remainingPercent float64) {
	fields := []zap.Field{
		zap.String("vendor", credential.Vendor),
		zap.Int("credential_id", credential.Id),
		zap.String("name", credential.Name),
		zap.Float64("remaining_percent", remainingPercent),
	}
	switch {
	case remainingPercent <= quotaCriticalPercent:
		logger.Logger.Error("credential quota critically low", fields...)
	case remainingPercent <= quotaWarnPercent:
		logger.Logger.Warn("credential quota low", fields...)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
