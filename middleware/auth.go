package middleware

import (
	"net/http"
	"time"

	"github.com/Laisky/errors/v2"
	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/polygate/polygate/common/ctxkey"
	"github.com/polygate/polygate/common/helper"
	"github.com/polygate/polygate/model"
	relaymodel "github.com/polygate/polygate/relay/model"
)

// APIKeyAuth authenticates client requests against the api_keys table by
// SHA-256 hash of the presented secret.
func APIKeyAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		secret := extractAPIKey(c)
		if secret == "" {
			AbortWithError(c, http.StatusUnauthorized, relaymodel.ErrAuth,
				errors.New("missing API key"))
			return
		}

		apiKey, err := model.GetAPIKeyBySecret(secret)
		if err != nil {
			AbortWithError(c, http.StatusInternalServerError, relaymodel.ErrInternal,
				errors.Wrap(err, "look up api key"))
			return
		}
		if apiKey == nil {
			gmw.GetLogger(c).Warn("unknown api key",
				zap.String("api_key", helper.MaskAPIKey(secret)))
			AbortWithError(c, http.StatusUnauthorized, relaymodel.ErrAuth,
				errors.New("invalid API key"))
			return
		}
		if !apiKey.IsActive {
			AbortWithError(c, http.StatusUnauthorized, relaymodel.ErrAuth,
				errors.New("API key is disabled"))
			return
		}

		c.Set(ctxkey.APIKeyId, apiKey.Id)
		c.Set(ctxkey.APIKeyName, apiKey.Name)
		if err := model.TouchAPIKey(apiKey.Id, time.Now().UnixMilli()); err != nil {
			gmw.GetLogger(c).Warn("touch api key failed", zap.Error(err))
		}
		c.Next()
	}
}
