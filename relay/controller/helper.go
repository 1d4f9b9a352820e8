// Package controller implements the relay endpoints: it parses the
// client-facing schema, drives credential selection and the vendor adaptor,
// and renders results back in the schema the endpoint speaks.
package controller

import (
	"context"
	"net/http"
	"time"

	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/polygate/polygate/common"
	"github.com/polygate/polygate/common/config"
	"github.com/polygate/polygate/common/ctxkey"
	"github.com/polygate/polygate/common/logger"
	"github.com/polygate/polygate/model"
	"github.com/polygate/polygate/monitor"
	"github.com/polygate/polygate/relay/relaymode"
	relaymodel "github.com/polygate/polygate/relay/model"
)

// ParseCanonicalRequest decodes the Anthropic-shaped request body.
func ParseCanonicalRequest(c *gin.Context) (*relaymodel.Request, *relaymodel.ErrorWithStatusCode) {
	request := &relaymodel.Request{}
	if err := common.UnmarshalBodyReusable(c, request); err != nil {
		return nil, relaymodel.NewClientError(err)
	}
	if err := request.Validate(); err != nil {
		return nil, relaymodel.NewClientError(err)
	}
	return request, nil
}

// upstreamContext derives the context for the upstream call. Cancellation of
// the parent (client disconnect or relay deadline) does not cancel it
// immediately: the upstream gets the cancellation grace period to flush
// trailing usage frames, so disconnected requests still account their tokens.
func upstreamContext(parent context.Context) (context.Context, context.CancelFunc) {
	detached, cancel := context.WithCancel(context.WithoutCancel(parent))
	stop := context.AfterFunc(parent, func() {
		time.AfterFunc(config.CancellationGracePeriod, cancel)
	})
	return detached, func() {
		stop()
		cancel()
	}
}

// RenderError writes the relay error in the schema of the current endpoint
// family and aborts the handler chain. Must not be called after streaming
// has started.
func RenderError(c *gin.Context, relayErr *relaymodel.ErrorWithStatusCode) {
	mode := c.GetInt(ctxkey.RelayMode)
	logRelayError(c, relayErr)

	switch mode {
	case relaymode.ChatCompletions, relaymode.WarpChatCompletions:
		c.JSON(relayErr.StatusCode, gin.H{
			"error": gin.H{
				"message": relayErr.Message,
				"type":    relayErr.Error.Type,
				"code":    relayErr.StatusCode,
			},
		})
	case relaymode.GeminiGenerate, relaymode.GeminiStream:
		c.JSON(relayErr.StatusCode, gin.H{
			"error": gin.H{
				"code":    relayErr.StatusCode,
				"message": relayErr.Message,
				"status":  relayErr.Error.Type,
			},
		})
	default:
		c.JSON(relayErr.StatusCode, gin.H{
			"type":  "error",
			"error": relayErr.Error,
		})
	}
	c.Abort()
}

func logRelayError(c *gin.Context, relayErr *relaymodel.ErrorWithStatusCode) {
	lg := gmw.GetLogger(c)
	fields := []zap.Field{
		zap.Int("status_code", relayErr.StatusCode),
		zap.String("error_type", relayErr.Error.Type),
		zap.String("message", relayErr.Message),
	}
	if relayErr.RawError != nil {
		fields = append(fields, zap.Error(relayErr.RawError))
	}
	if relayErr.StatusCode >= http.StatusInternalServerError {
		lg.Error("relay failed", fields...)
	} else {
		lg.Warn("relay rejected", fields...)
	}
}

// recordOutcome appends the api_logs row and bumps the metrics for one
// finished relay. Runs inline; the insert is a single row.
func recordOutcome(c *gin.Context, startedAt time.Time, credentialId, statusCode int, usage relaymodel.Usage, errMessage string) {
	vendorName := c.GetString(ctxkey.Vendor)
	mode := relaymode.String(c.GetInt(ctxkey.RelayMode))
	modelName := c.GetString(ctxkey.RequestModel)

	monitor.RecordRelayRequest(vendorName, mode, statusCode)

	entry := &model.APILog{
		RequestId:    c.GetString(ctxkey.RequestId),
		APIKeyId:     c.GetInt(ctxkey.APIKeyId),
		Vendor:       vendorName,
		CredentialId: credentialId,
		Model:        modelName,
		RelayMode:    mode,
		StatusCode:   statusCode,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		DurationMs:   time.Since(startedAt).Milliseconds(),
		IPAddress:    c.ClientIP(),
		UserAgent:    c.Request.UserAgent(),
		Error:        errMessage,
	}
	if err := model.AppendAPILog(entry); err != nil {
		logger.Logger.Error("append api log failed",
			zap.String("request_id", entry.RequestId), zap.Error(err))
	}
}
