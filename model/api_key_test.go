package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAPIKeyLookupBySecret(t *testing.T) {
	setupTestDB(t)

	created, err := CreateAPIKey("ci", "pg-secret-1")
	require.NoError(t, err)

	found, err := GetAPIKeyBySecret("pg-secret-1")
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, created.Id, found.Id)
	require.Equal(t, HashAPIKey("pg-secret-1"), found.KeyHash)

	missing, err := GetAPIKeyBySecret("pg-wrong")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestAPIKeyActiveToggleAndDelete(t *testing.T) {
	setupTestDB(t)

	created, err := CreateAPIKey("ops", "pg-secret-2")
	require.NoError(t, err)
	require.True(t, created.IsActive)

	require.NoError(t, SetAPIKeyActive(created.Id, false))
	found, err := GetAPIKeyBySecret("pg-secret-2")
	require.NoError(t, err)
	require.False(t, found.IsActive)

	require.NoError(t, DeleteAPIKey(created.Id))
	found, err = GetAPIKeyBySecret("pg-secret-2")
	require.NoError(t, err)
	require.Nil(t, found)
}

func TestTouchAPIKey(t *testing.T) {
	setupTestDB(t)

	created, err := CreateAPIKey("agent", "pg-secret-3")
	require.NoError(t, err)

	now := time.Now().UnixMilli()
	require.NoError(t, TouchAPIKey(created.Id, now))

	found, err := GetAPIKeyBySecret("pg-secret-3")
	require.NoError(t, err)
	require.Equal(t, now, found.LastUsedAt)
}

func TestAppendAPILog(t *testing.T) {
	setupTestDB(t)

	require.NoError(t, AppendAPILog(&APILog{
		RequestId:    "req-1",
		Vendor:       "anthropic",
		Model:        "claude-sonnet-4-5",
		RelayMode:    "claude_messages",
		StatusCode:   200,
		InputTokens:  120,
		OutputTokens: 64,
		DurationMs:   830,
	}))

	var count int64
	require.NoError(t, DB.Model(&APILog{}).Where("request_id = ?", "req-1").Count(&count).Error)
	require.EqualValues(t, 1, count)
}
