package selector

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/Laisky/errors/v2"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/polygate/polygate/model"
	relaymodel "github.com/polygate/polygate/relay/model"
)

func setupTestDB(t *testing.T) {
	t.Helper()
	dsn := fmt.Sprintf("file:selector_%s?mode=memory&cache=shared", t.Name())
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
		ClearExcluded()
	})
}

func seedCredential(t *testing.T, name string) *model.Credential {
	t.Helper()
	credential := &model.Credential{
		Vendor:       "anthropic",
		Name:         name,
		RefreshToken: "refresh-" + name,
		IsActive:     true,
		Weight:       1,
	}
	require.NoError(t, model.CreateCredential(credential))
	return credential
}

func TestWithCredentialSuccessBillsUseCount(t *testing.T) {
	setupTestDB(t)
	credential := seedCredential(t, "only")

	var calls int
	relayErr := WithCredential(context.Background(), "anthropic",
		func(_ context.Context, c *model.Credential) *relaymodel.ErrorWithStatusCode {
			calls++
			require.Equal(t, credential.Id, c.Id)
			return nil
		})
	require.Nil(t, relayErr)
	require.Equal(t, 1, calls)

	stored, err := model.GetCredentialByID(credential.Id)
	require.NoError(t, err)
	require.EqualValues(t, 1, stored.UseCount)
}

func TestWithCredentialNoCredentials(t *testing.T) {
	setupTestDB(t)

	relayErr := WithCredential(context.Background(), "anthropic",
		func(context.Context, *model.Credential) *relaymodel.ErrorWithStatusCode {
			t.Fatal("op must not run without credentials")
			return nil
		})
	require.NotNil(t, relayErr)
	require.Equal(t, http.StatusServiceUnavailable, relayErr.StatusCode)
	require.Equal(t, relaymodel.ErrNoCredential, relayErr.Error.Type)
}

func TestWithCredentialQuotaRotatesAndExcludes(t *testing.T) {
	setupTestDB(t)
	first := seedCredential(t, "first")
	second := seedCredential(t, "second")

	exhausted := map[int]bool{}
	relayErr := WithCredential(context.Background(), "anthropic",
		func(_ context.Context, c *model.Credential) *relaymodel.ErrorWithStatusCode {
			if len(exhausted) == 0 {
				exhausted[c.Id] = true
				return relaymodel.NewUpstreamError(http.StatusTooManyRequests, "quota exhausted")
			}
			return nil
		})
	require.Nil(t, relayErr)

	// Whichever credential hit quota must be quarantined and excluded.
	var quotaID int
	for id := range exhausted {
		quotaID = id
	}
	require.True(t, IsExcluded(quotaID))
	stored, err := model.GetCredentialByID(quotaID)
	require.NoError(t, err)
	require.NotZero(t, stored.QuotaExhaustedUntil)

	// The surviving credential is the other one.
	require.Contains(t, []int{first.Id, second.Id}, quotaID)
}

func TestWithCredentialAllQuotaExhausted(t *testing.T) {
	setupTestDB(t)
	seedCredential(t, "first")
	seedCredential(t, "second")

	relayErr := WithCredential(context.Background(), "anthropic",
		func(context.Context, *model.Credential) *relaymodel.ErrorWithStatusCode {
			return relaymodel.NewUpstreamError(http.StatusTooManyRequests, "quota exhausted")
		})
	require.NotNil(t, relayErr)
	require.Equal(t, http.StatusBadGateway, relayErr.StatusCode)
	require.Equal(t, relaymodel.ErrUpstreamTransient, relayErr.Error.Type)
}

func TestWithCredentialAuthRetriesSameCredential(t *testing.T) {
	setupTestDB(t)
	credential := seedCredential(t, "only")

	var attempts []int
	relayErr := WithCredential(context.Background(), "anthropic",
		func(_ context.Context, c *model.Credential) *relaymodel.ErrorWithStatusCode {
			attempts = append(attempts, c.Id)
			if len(attempts) == 1 {
				return relaymodel.NewError(relaymodel.ErrAuth, http.StatusUnauthorized,
					errors.New("token expired"))
			}
			return nil
		})
	require.Nil(t, relayErr)
	// Anthropic refreshes locally, so the retry lands on the same credential.
	require.Equal(t, []int{credential.Id, credential.Id}, attempts)
}

func TestWithCredentialClientErrorPropagates(t *testing.T) {
	setupTestDB(t)
	seedCredential(t, "first")
	seedCredential(t, "second")

	var calls int
	relayErr := WithCredential(context.Background(), "anthropic",
		func(context.Context, *model.Credential) *relaymodel.ErrorWithStatusCode {
			calls++
			return relaymodel.NewClientError(errors.New("model is required"))
		})
	require.NotNil(t, relayErr)
	require.Equal(t, http.StatusBadRequest, relayErr.StatusCode)
	require.Equal(t, 1, calls, "4xx must not rotate credentials")
}

func TestWithCredentialServerErrorRotates(t *testing.T) {
	setupTestDB(t)
	seedCredential(t, "first")
	seedCredential(t, "second")

	var calls int
	relayErr := WithCredential(context.Background(), "anthropic",
		func(context.Context, *model.Credential) *relaymodel.ErrorWithStatusCode {
			calls++
			if calls == 1 {
				return relaymodel.NewUpstreamError(http.StatusBadGateway, "upstream 502")
			}
			return nil
		})
	require.Nil(t, relayErr)
	require.Equal(t, 2, calls)
}

func TestWithCredentialSkipsExcluded(t *testing.T) {
	setupTestDB(t)
	first := seedCredential(t, "first")
	second := seedCredential(t, "second")
	Exclude(first.Id)

	relayErr := WithCredential(context.Background(), "anthropic",
		func(_ context.Context, c *model.Credential) *relaymodel.ErrorWithStatusCode {
			require.Equal(t, second.Id, c.Id)
			return nil
		})
	require.Nil(t, relayErr)
}

func TestExclusionSet(t *testing.T) {
	ClearExcluded()
	require.False(t, IsExcluded(7))
	Exclude(7)
	require.True(t, IsExcluded(7))
	require.True(t, ExcludedIDs()[7])
	ClearExcluded()
	require.False(t, IsExcluded(7))
}
