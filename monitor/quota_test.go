package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/polygate/polygate/model"
)

func setupTestDB(t *testing.T) {
	t.Helper()
	dsn := fmt.Sprintf("file:monitor_%s?mode=memory&cache=shared", t.Name())
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

func TestPassGuardSkipsOverlappingTick(t *testing.T) {
	var guard passGuard

	release := make(chan struct{})
	started := make(chan struct{})
	require.True(t, guard.tryRun(func() {
		close(started)
		<-release
	}))
	<-started

	// Ticks arriving mid-pass are dropped.
	require.False(t, guard.tryRun(func() {
		t.Error("overlapping pass must not run")
	}))

	close(release)
	require.Eventually(t, func() bool {
		return guard.tryRun(func() {})
	}, time.Second, 5*time.Millisecond, "guard must admit a pass once the slow one finishes")
}

func TestRefreshCredentialPersistsRateLimits(t *testing.T) {
	setupTestDB(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("anthropic-ratelimit-requests-limit", "1000")
		w.Header().Set("anthropic-ratelimit-requests-remaining", "750")
		w.Header().Set("anthropic-ratelimit-unified-5h-utilization", "0.25")
		_ = json.NewEncoder(w).Encode(map[string]any{"model": "claude-haiku-4-5"})
	}))
	defer server.Close()

	credential := &model.Credential{
		Vendor:       "anthropic",
		Name:         "probe-target",
		RefreshToken: "sk-ant-api03-key",
		ApiBaseUrl:   server.URL,
		IsActive:     true,
	}
	require.NoError(t, model.CreateCredential(credential))

	refreshCredential(context.Background(), credential)

	stored, err := model.GetCredentialByID(credential.Id)
	require.NoError(t, err)
	require.NotNil(t, stored.RateLimits)
	require.EqualValues(t, 1000, stored.RateLimits["requests_limit"])
	require.EqualValues(t, 750, stored.RateLimits["requests_remaining"])
	require.InDelta(t, 0.25, stored.RateLimits["unified_5h_utilization"], 1e-9)
	require.Zero(t, stored.ErrorCount)
}

func TestRefreshCredentialRejectedCountsError(t *testing.T) {
	setupTestDB(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"type":  "error",
			"error": map[string]any{"type": "authentication_error", "message": "invalid api key"},
		})
	}))
	defer server.Close()

	credential := &model.Credential{
		Vendor:       "anthropic",
		Name:         "revoked",
		RefreshToken: "sk-ant-api03-revoked",
		ApiBaseUrl:   server.URL,
		IsActive:     true,
	}
	require.NoError(t, model.CreateCredential(credential))

	refreshCredential(context.Background(), credential)

	stored, err := model.GetCredentialByID(credential.Id)
	require.NoError(t, err)
	require.EqualValues(t, 1, stored.ErrorCount)
	require.Contains(t, stored.LastError, "invalid api key")
}
