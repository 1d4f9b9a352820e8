// Package middleware carries the gin handler chain shared by every route:
// request ids, authentication, and vendor distribution.
package middleware

import (
	"strings"

	gmw "github.com/Laisky/gin-middlewares/v7"
	gutils "github.com/Laisky/go-utils/v6"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/polygate/polygate/common/ctxkey"
)

// AbortWithError aborts the request with a JSON error envelope. Client-caused
// statuses log as warnings, server failures as errors.
func AbortWithError(c *gin.Context, statusCode int, errType string, err error) {
	lg := gmw.GetLogger(c)
	if statusCode >= 400 && statusCode < 500 {
		lg.Warn("request aborted", zap.Int("status_code", statusCode), zap.Error(err))
	} else {
		lg.Error("request aborted", zap.Int("status_code", statusCode), zap.Error(err))
	}

	c.JSON(statusCode, gin.H{
		"error": gin.H{
			"message": err.Error(),
			"type":    errType,
		},
	})
	c.Abort()
}

// RequestId assigns every request a unique id, echoed in the response
// header and attached to api_logs rows.
func RequestId() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Request.Header.Get(ctxkey.RequestId)
		if id == "" {
			id = gutils.UUID7()
		}
		c.Set(ctxkey.RequestId, id)
		c.Writer.Header().Set(ctxkey.RequestId, id)
		c.Next()
	}
}

// extractAPIKey pulls the client secret from Authorization: Bearer or the
// Anthropic-compatible X-Api-Key header.
func extractAPIKey(c *gin.Context) string {
	key := c.Request.Header.Get("Authorization")
	if key == "" {
		key = c.Request.Header.Get("X-Api-Key")
	}
	key = strings.TrimPrefix(key, "Bearer ")
	return strings.TrimSpace(key)
}
