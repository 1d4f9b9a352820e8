package token

import (
	"context"
	"fmt"
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
	dsn := fmt.Sprintf("file:token_%s?mode=memory&cache=shared", t.Name())
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

func TestGetValidAccessTokenReturnsCached(t *testing.T) {
	setupTestDB(t)
	credential := &model.Credential{
		Vendor:       "vertex",
		Name:         "cached",
		RefreshToken: "refresh",
		AccessToken:  "still-good",
		ExpiresAt:    time.Now().Add(time.Hour).UnixMilli(),
		IsActive:     true,
	}
	require.NoError(t, model.CreateCredential(credential))

	token, err := GetValidAccessToken(context.Background(), credential, false)
	require.NoError(t, err)
	require.Equal(t, "still-good", token)
}

func TestGetValidAccessTokenAnthropicIsLocal(t *testing.T) {
	setupTestDB(t)
	credential := &model.Credential{
		Vendor:       "anthropic",
		Name:         "key",
		RefreshToken: "sk-ant-api03-key",
		IsActive:     true,
	}
	require.NoError(t, model.CreateCredential(credential))

	// No cached token, so the exchange runs; for Anthropic it resolves
	// locally to the stored key.
	token, err := GetValidAccessToken(context.Background(), credential, false)
	require.NoError(t, err)
	require.Equal(t, "sk-ant-api03-key", token)
	require.Equal(t, "sk-ant-api03-key", credential.AccessToken)

	stored, err := model.GetCredentialByID(credential.Id)
	require.NoError(t, err)
	require.Equal(t, "sk-ant-api03-key", stored.AccessToken)
}

func TestGetValidAccessTokenForceBypassesCache(t *testing.T) {
	setupTestDB(t)
	credential := &model.Credential{
		Vendor:       "anthropic",
		Name:         "key",
		RefreshToken: "sk-ant-api03-key",
		AccessToken:  "stale",
		ExpiresAt:    time.Now().Add(time.Hour).UnixMilli(),
		IsActive:     true,
	}
	require.NoError(t, model.CreateCredential(credential))

	token, err := GetValidAccessToken(context.Background(), credential, true)
	require.NoError(t, err)
	require.Equal(t, "sk-ant-api03-key", token)
}

func TestGetValidAccessTokenUnknownVendor(t *testing.T) {
	setupTestDB(t)
	credential := &model.Credential{
		Vendor:       "orchids",
		Name:         "key",
		RefreshToken: "refresh",
		IsActive:     true,
	}
	require.NoError(t, model.CreateCredential(credential))

	_, err := GetValidAccessToken(context.Background(), credential, false)
	require.Error(t, err)

	// The failed exchange counts against the credential.
	stored, err := model.GetCredentialByID(credential.Id)
	require.NoError(t, err)
	require.EqualValues(t, 1, stored.ErrorCount)
}

func TestGetValidAccessTokenNilCredential(t *testing.T) {
	_, err := GetValidAccessToken(context.Background(), nil, false)
	require.Error(t, err)
}

func TestRefreshErrorFormatting(t *testing.T) {
	err := &RefreshError{StatusCode: 401, Err: fmt.Errorf("invalid_grant")}
	require.Contains(t, err.Error(), "401")
	require.Contains(t, err.Error(), "invalid_grant")

	err = &RefreshError{Err: fmt.Errorf("connection refused")}
	require.NotContains(t, err.Error(), "status")
	require.Contains(t, err.Error(), "connection refused")
}
