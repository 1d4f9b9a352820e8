package controller

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/polygate/polygate/common/config"
	"github.com/polygate/polygate/common/logger"
	"github.com/polygate/polygate/model"
)

func setupTestDB(t *testing.T) {
	t.Helper()
	dsn := fmt.Sprintf("file:controller_%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.Credential{}, &model.ErrorCredential{}))

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

// allowLoopbackBaseURLs lets tests point api_base_url at httptest servers.
func allowLoopbackBaseURLs(t *testing.T) {
	t.Helper()
	original := config.BlockInternalBaseURLs
	config.BlockInternalBaseURLs = false
	t.Cleanup(func() { config.BlockInternalBaseURLs = original })
}

type operatorResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func performCredentialPost(t *testing.T, handler gin.HandlerFunc, vendorName, path, body string) operatorResponse {
	t.Helper()
	gin.SetMode(gin.TestMode)

	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = req
	c.Params = gin.Params{{Key: "vendor", Value: vendorName}}
	gmw.SetLogger(c, logger.Logger)

	handler(c)

	var response operatorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	return response
}

func TestAddCredentialVerifiesUpstreamBeforePersisting(t *testing.T) {
	setupTestDB(t)
	allowLoopbackBaseURLs(t)

	probes := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		probes++
		w.Header().Set("anthropic-ratelimit-requests-limit", "1000")
		w.Header().Set("anthropic-ratelimit-requests-remaining", "999")
		_ = json.NewEncoder(w).Encode(map[string]any{"model": "claude-haiku-4-5"})
	}))
	defer server.Close()

	body := fmt.Sprintf(`{"name":"primary","refresh_token":"sk-ant-api03-key","api_base_url":%q}`, server.URL)
	response := performCredentialPost(t, AddCredential, "anthropic", "/api/anthropic/credentials", body)
	require.True(t, response.Success, "message: %s", response.Message)
	require.Equal(t, 1, probes)

	stored, err := model.GetAllCredentials("anthropic")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.Equal(t, "primary", stored[0].Name)
	// The probe's rate-limit headers seed the credential state.
	require.EqualValues(t, 1000, stored[0].RateLimits["requests_limit"])
}

func TestAddCredentialRejectedUpstreamIsNotPersisted(t *testing.T) {
	setupTestDB(t)
	allowLoopbackBaseURLs(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"type":  "error",
			"error": map[string]any{"type": "authentication_error", "message": "invalid api key"},
		})
	}))
	defer server.Close()

	body := fmt.Sprintf(`{"name":"revoked","refresh_token":"sk-ant-api03-dead","api_base_url":%q}`, server.URL)
	response := performCredentialPost(t, AddCredential, "anthropic", "/api/anthropic/credentials", body)
	require.False(t, response.Success)
	require.Contains(t, response.Message, "verification failed")

	stored, err := model.GetAllCredentials("anthropic")
	require.NoError(t, err)
	require.Empty(t, stored)
}

func TestAddCredentialRejectsInternalBaseURL(t *testing.T) {
	setupTestDB(t)

	original := config.BlockInternalBaseURLs
	config.BlockInternalBaseURLs = true
	t.Cleanup(func() { config.BlockInternalBaseURLs = original })

	body := `{"name":"sneaky","refresh_token":"sk-ant-api03-key","api_base_url":"http://169.254.169.254/latest"}`
	response := performCredentialPost(t, AddCredential, "anthropic", "/api/anthropic/credentials", body)
	require.False(t, response.Success)
	require.Contains(t, response.Message, "api_base_url")

	stored, err := model.GetAllCredentials("anthropic")
	require.NoError(t, err)
	require.Empty(t, stored)
}

func TestBatchImportSkipsFailedVerification(t *testing.T) {
	setupTestDB(t)
	allowLoopbackBaseURLs(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.Header.Get("Authorization"), "sk-ant-api03-good") {
			w.Header().Set("anthropic-ratelimit-requests-limit", "1000")
			_ = json.NewEncoder(w).Encode(map[string]any{"model": "claude-haiku-4-5"})
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"type":  "error",
			"error": map[string]any{"type": "authentication_error", "message": "invalid api key"},
		})
	}))
	defer server.Close()

	body := fmt.Sprintf(`[
		{"name":"good","refresh_token":"sk-ant-api03-good","api_base_url":%q},
		{"name":"bad","refresh_token":"sk-ant-api03-bad","api_base_url":%q},
		{"name":"incomplete"}
	]`, server.URL, server.URL)
	response := performCredentialPost(t, BatchImportCredentials, "anthropic", "/api/anthropic/credentials/batch-import", body)
	require.True(t, response.Success)

	var result struct {
		Imported int      `json:"imported"`
		Skipped  []string `json:"skipped"`
	}
	require.NoError(t, json.Unmarshal(response.Data, &result))
	require.Equal(t, 1, result.Imported)
	require.Len(t, result.Skipped, 2)
	require.Contains(t, result.Skipped[0], "verification failed")
	require.Contains(t, result.Skipped[1], "refresh_token is required")

	stored, err := model.GetAllCredentials("anthropic")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.Equal(t, "good", stored[0].Name)
}

func TestUpdateCredentialValidatesBaseURL(t *testing.T) {
	setupTestDB(t)

	original := config.BlockInternalBaseURLs
	config.BlockInternalBaseURLs = true
	t.Cleanup(func() { config.BlockInternalBaseURLs = original })

	credential := &model.Credential{
		Vendor:       "anthropic",
		Name:         "existing",
		RefreshToken: "sk-ant-api03-key",
		IsActive:     true,
	}
	require.NoError(t, model.CreateCredential(credential))

	gin.SetMode(gin.TestMode)
	req := httptest.NewRequest(http.MethodPut, "/api/anthropic/credentials/1",
		strings.NewReader(`{"api_base_url":"http://192.168.1.10:8080"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = req
	c.Params = gin.Params{
		{Key: "vendor", Value: "anthropic"},
		{Key: "id", Value: fmt.Sprint(credential.Id)},
	}
	gmw.SetLogger(c, logger.Logger)

	UpdateCredential(c)

	var response operatorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	require.False(t, response.Success)
	require.Contains(t, response.Message, "api_base_url")

	stored, err := model.GetCredentialByID(credential.Id)
	require.NoError(t, err)
	require.Empty(t, stored.ApiBaseUrl)
}
