package router

import (
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func registeredRoutes(t *testing.T) map[string]bool {
	t.Helper()
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	SetRouter(engine)

	routes := make(map[string]bool)
	for _, route := range engine.Routes() {
		routes[route.Method+" "+route.Path] = true
	}
	return routes
}

func TestSetRouterRegistersRelayEndpoints(t *testing.T) {
	routes := registeredRoutes(t)
	for _, want := range []string{
		"POST /v1/chat/completions",
		"POST /v1/messages",
		"POST /v1beta/models/*model",
		"POST /w/v1/chat/completions",
		"POST /w/v1/messages",
		"POST /w/v1/messages/proto",
		"POST /w/v1/tools/execute",
		"GET /healthz",
	} {
		require.True(t, routes[want], "missing route %s", want)
	}
}

func TestSetRouterRegistersOperatorEndpoints(t *testing.T) {
	routes := registeredRoutes(t)
	for _, want := range []string{
		"GET /api/:vendor/credentials",
		"POST /api/:vendor/credentials",
		"POST /api/:vendor/credentials/batch-import",
		"PUT /api/:vendor/credentials/:id",
		"DELETE /api/:vendor/credentials/:id",
		"POST /api/:vendor/credentials/:id/refresh",
		"POST /api/:vendor/credentials/:id/test",
		"GET /api/:vendor/credentials/:id/usage",
		"GET /api/:vendor/error-credentials",
		"POST /api/:vendor/error-credentials/:id/restore",
		"GET /api/keys",
		"POST /api/keys",
		"PUT /api/keys/:id",
		"DELETE /api/keys/:id",
	} {
		require.True(t, routes[want], "missing route %s", want)
	}

	// The old spelling must stay gone.
	require.False(t, routes["POST /api/:vendor/credentials/batch"])
}
