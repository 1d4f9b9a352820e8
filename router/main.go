// Package router registers the relay surface and the operator API on the
// gin engine.
package router

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/polygate/polygate/common/config"
	"github.com/polygate/polygate/controller"
	"github.com/polygate/polygate/middleware"
	relaycontroller "github.com/polygate/polygate/relay/controller"
)

// SetRouter wires every route group onto the engine.
func SetRouter(engine *gin.Engine) {
	engine.Use(cors.Default())
	engine.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{
		"/v1", "/v1beta", "/w",
	})))
	engine.Use(middleware.RequestId())

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if config.EnablePrometheusMetrics {
		engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	SetRelayRouter(engine)
	SetApiRouter(engine)
}

// SetRelayRouter registers the client-facing relay endpoints. Every route
// authenticates the API key and resolves its vendor before the handler runs.
func SetRelayRouter(engine *gin.Engine) {
	relayChain := []gin.HandlerFunc{
		middleware.APIKeyAuth(),
		middleware.Distribute(),
	}

	v1 := engine.Group("/v1", relayChain...)
	{
		v1.POST("/chat/completions", relaycontroller.RelayChatCompletions)
		v1.POST("/messages", relaycontroller.RelayClaudeMessages)
	}

	v1beta := engine.Group("/v1beta", relayChain...)
	{
		// The action rides in the path segment, e.g.
		// /v1beta/models/gemini-2.5-pro:streamGenerateContent.
		v1beta.POST("/models/*model", relaycontroller.RelayGeminiGenerate)
	}

	warp := engine.Group("/w/v1", relayChain...)
	{
		warp.POST("/chat/completions", relaycontroller.RelayWarpChatCompletions)
		warp.POST("/messages", relaycontroller.RelayWarpMessages)
		warp.POST("/messages/proto", relaycontroller.RelayWarpMessages)
		warp.POST("/tools/execute", relaycontroller.RelayToolsExecute)
	}
}

// SetApiRouter registers the operator API. It shares the client key auth;
// operators hold keys like any other caller.
func SetApiRouter(engine *gin.Engine) {
	api := engine.Group("/api", middleware.APIKeyAuth())
	{
		credentials := api.Group("/:vendor/credentials")
		{
			credentials.GET("", controller.ListCredentials)
			credentials.POST("", controller.AddCredential)
			credentials.POST("/batch-import", controller.BatchImportCredentials)
			credentials.PUT("/:id", controller.UpdateCredential)
			credentials.DELETE("/:id", controller.DeleteCredential)
			credentials.POST("/:id/refresh", controller.RefreshCredentialToken)
			credentials.POST("/:id/test", controller.TestCredential)
			credentials.GET("/:id/usage", controller.CredentialUsage)
		}

		errored := api.Group("/:vendor/error-credentials")
		{
			errored.GET("", controller.ListErrorCredentials)
			errored.POST("/:id/restore", controller.RestoreErrorCredential)
		}

		keys := api.Group("/keys")
		{
			keys.GET("", controller.ListAPIKeys)
			keys.POST("", controller.CreateAPIKey)
			keys.PUT("/:id", controller.UpdateAPIKey)
			keys.DELETE("/:id", controller.DeleteAPIKey)
		}
	}
}
