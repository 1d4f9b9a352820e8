package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/polygate/polygate/common/config"
)

func newTestCredential(vendor, name string) *Credential {
	return &Credential{
		Vendor:       vendor,
		Name:         name,
		RefreshToken: "refresh-" + name,
		IsActive:     true,
		Weight:       1,
	}
}

func TestCreateCredentialRejectsDuplicates(t *testing.T) {
	setupTestDB(t)

	require.NoError(t, CreateCredential(newTestCredential("anthropic", "acct-1")))
	err := CreateCredential(newTestCredential("anthropic", "acct-1"))
	require.ErrorIs(t, err, ErrDuplicateCredential)

	// Same name under another vendor is fine.
	require.NoError(t, CreateCredential(newTestCredential("warp", "acct-1")))
}

func TestGetActiveCredentialsSkipsExhaustedAndInactive(t *testing.T) {
	setupTestDB(t)

	active := newTestCredential("anthropic", "active")
	require.NoError(t, CreateCredential(active))

	disabled := newTestCredential("anthropic", "disabled")
	require.NoError(t, CreateCredential(disabled))
	require.NoError(t, UpdateCredential(disabled.Id, map[string]any{"is_active": false}))

	exhausted := newTestCredential("anthropic", "exhausted")
	require.NoError(t, CreateCredential(exhausted))
	require.NoError(t, MarkCredentialQuotaExhausted(exhausted.Id, time.Now().Add(time.Hour)))

	got, err := GetActiveCredentials("anthropic")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "active", got[0].Name)
}

func TestQuotaExhaustionExpires(t *testing.T) {
	setupTestDB(t)

	credential := newTestCredential("warp", "acct")
	require.NoError(t, CreateCredential(credential))
	require.NoError(t, MarkCredentialQuotaExhausted(credential.Id, time.Now().Add(-time.Minute)))

	got, err := GetActiveCredentials("warp")
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestGetRandomActiveCredentialRespectsExclusions(t *testing.T) {
	setupTestDB(t)

	first := newTestCredential("anthropic", "first")
	second := newTestCredential("anthropic", "second")
	require.NoError(t, CreateCredential(first))
	require.NoError(t, CreateCredential(second))

	picked, err := GetRandomActiveCredential("anthropic", map[int]bool{first.Id: true})
	require.NoError(t, err)
	require.NotNil(t, picked)
	require.Equal(t, second.Id, picked.Id)

	picked, err = GetRandomActiveCredential("anthropic", map[int]bool{
		first.Id:  true,
		second.Id: true,
	})
	require.NoError(t, err)
	require.Nil(t, picked)
}

func TestIncrementUseCountClearsErrors(t *testing.T) {
	setupTestDB(t)

	credential := newTestCredential("anthropic", "acct")
	require.NoError(t, CreateCredential(credential))
	require.NoError(t, IncrementCredentialErrorCount(credential.Id, "upstream 500"))
	require.NoError(t, IncrementCredentialUseCount(credential.Id))

	got, err := GetCredentialByID(credential.Id)
	require.NoError(t, err)
	require.Equal(t, int64(1), got.UseCount)
	require.Zero(t, got.ErrorCount)
	require.NotZero(t, got.LastUsedAt)
}

func TestErrorThresholdQuarantines(t *testing.T) {
	setupTestDB(t)

	credential := newTestCredential("vertex", "acct")
	require.NoError(t, CreateCredential(credential))

	for i := 0; i < config.ErrorCountThreshold; i++ {
		require.NoError(t, IncrementCredentialErrorCount(credential.Id, "auth failed"))
	}

	_, err := GetCredentialByID(credential.Id)
	require.ErrorIs(t, err, ErrCredentialNotFound)

	quarantined, err := GetErrorCredentials("vertex")
	require.NoError(t, err)
	require.Len(t, quarantined, 1)
	require.Equal(t, credential.Id, quarantined[0].Id)
	require.Equal(t, "auth failed", quarantined[0].LastError)
}

func TestRestoreCredentialFromError(t *testing.T) {
	setupTestDB(t)

	credential := newTestCredential("warp", "acct")
	require.NoError(t, CreateCredential(credential))
	require.NoError(t, MoveCredentialToError(credential.Id, "refresh token revoked"))

	require.NoError(t, RestoreCredentialFromError(credential.Id, "new-refresh-token"))

	restored, err := GetCredentialByID(credential.Id)
	require.NoError(t, err)
	require.True(t, restored.IsActive)
	require.Equal(t, "new-refresh-token", restored.RefreshToken)

	quarantined, err := GetErrorCredentials("warp")
	require.NoError(t, err)
	require.Empty(t, quarantined)
}

func TestUpdateCredentialTokenAndRateLimits(t *testing.T) {
	setupTestDB(t)

	credential := newTestCredential("anthropic", "acct")
	require.NoError(t, CreateCredential(credential))

	expiresAt := time.Now().Add(time.Hour).UnixMilli()
	require.NoError(t, UpdateCredentialToken(credential.Id, "access-token", expiresAt))
	require.NoError(t, UpdateCredentialRateLimits(credential.Id, JSONMap{
		"requests_limit":     int64(1000),
		"requests_remaining": int64(900),
	}))

	got, err := GetCredentialByID(credential.Id)
	require.NoError(t, err)
	require.Equal(t, "access-token", got.AccessToken)
	require.Equal(t, expiresAt, got.ExpiresAt)
	require.NotEmpty(t, got.RateLimits)
}

func TestTokenExpiringSoon(t *testing.T) {
	now := time.Now()
	skew := 5 * time.Minute

	credential := &Credential{}
	require.True(t, credential.TokenExpiringSoon(now, skew), "empty token must refresh")

	credential.AccessToken = "token"
	require.False(t, credential.TokenExpiringSoon(now, skew), "no expiry recorded never expires")

	credential.ExpiresAt = now.Add(time.Minute).UnixMilli()
	require.True(t, credential.TokenExpiringSoon(now, skew), "inside the skew window")

	credential.ExpiresAt = now.Add(time.Hour).UnixMilli()
	require.False(t, credential.TokenExpiringSoon(now, skew))
}
