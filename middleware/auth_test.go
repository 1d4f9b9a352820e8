package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/polygate/polygate/common/ctxkey"
	"github.com/polygate/polygate/model"
)

func setupTestDB(t *testing.T) {
	t.Helper()
	dsn := fmt.Sprintf("file:middleware_%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.APIKey{}))

	original := model.DB
	model.DB = db
	t.Cleanup(func() {
		sqlDB, err := db.DB()
		if err == nil {
			_ = sqlDB.Close()
		}
		model.DB = original
	})
}

func performAuth(t *testing.T, setHeader func(*http.Request)) (*httptest.ResponseRecorder, *gin.Context) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(recorder)
	c.Request = httptest.NewRequest(http.MethodPost, "/v1/messages", nil)
	if setHeader != nil {
		setHeader(c.Request)
	}
	APIKeyAuth()(c)
	return recorder, c
}

func TestAPIKeyAuthMissingKey(t *testing.T) {
	setupTestDB(t)

	recorder, c := performAuth(t, nil)
	require.Equal(t, http.StatusUnauthorized, recorder.Code)
	require.True(t, c.IsAborted())
}

func TestAPIKeyAuthUnknownKey(t *testing.T) {
	setupTestDB(t)

	recorder, c := performAuth(t, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer pg-nope")
	})
	require.Equal(t, http.StatusUnauthorized, recorder.Code)
	require.True(t, c.IsAborted())
	require.Contains(t, recorder.Body.String(), "invalid API key")
}

func TestAPIKeyAuthDisabledKey(t *testing.T) {
	setupTestDB(t)
	apiKey, err := model.CreateAPIKey("disabled", "pg-disabled")
	require.NoError(t, err)
	require.NoError(t, model.SetAPIKeyActive(apiKey.Id, false))

	recorder, _ := performAuth(t, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer pg-disabled")
	})
	require.Equal(t, http.StatusUnauthorized, recorder.Code)
	require.Contains(t, recorder.Body.String(), "disabled")
}

func TestAPIKeyAuthBearerHeader(t *testing.T) {
	setupTestDB(t)
	apiKey, err := model.CreateAPIKey("client", "pg-secret")
	require.NoError(t, err)

	_, c := performAuth(t, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer pg-secret")
	})
	require.False(t, c.IsAborted())
	require.Equal(t, apiKey.Id, c.GetInt(ctxkey.APIKeyId))
	require.Equal(t, "client", c.GetString(ctxkey.APIKeyName))

	// Authentication stamps last_used_at.
	stored, err := model.GetAPIKeyBySecret("pg-secret")
	require.NoError(t, err)
	require.NotZero(t, stored.LastUsedAt)
}

func TestAPIKeyAuthXApiKeyHeader(t *testing.T) {
	setupTestDB(t)
	_, err := model.CreateAPIKey("client", "pg-secret")
	require.NoError(t, err)

	_, c := performAuth(t, func(r *http.Request) {
		r.Header.Set("X-Api-Key", "pg-secret")
	})
	require.False(t, c.IsAborted())
	require.Equal(t, "client", c.GetString(ctxkey.APIKeyName))
}

func TestRequestIdGeneratedAndEchoed(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(recorder)
	c.Request = httptest.NewRequest(http.MethodGet, "/healthz", nil)

	RequestId()(c)
	id := c.GetString(ctxkey.RequestId)
	require.NotEmpty(t, id)
	require.Equal(t, id, recorder.Header().Get(ctxkey.RequestId))
}

func TestRequestIdPreservesInbound(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(recorder)
	c.Request = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	c.Request.Header.Set(ctxkey.RequestId, "req-upstream-1")

	RequestId()(c)
	require.Equal(t, "req-upstream-1", c.GetString(ctxkey.RequestId))
	require.Equal(t, "req-upstream-1", recorder.Header().Get(ctxkey.RequestId))
}
