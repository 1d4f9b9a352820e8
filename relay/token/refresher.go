// Package token produces valid upstream access tokens for pool credentials.
// Refreshes for one credential are serialised; distinct credentials refresh
// in parallel.
package token

import (
	"context"
	"fmt"
	"time"

	"github.com/Laisky/errors/v2"
	"golang.org/x/sync/singleflight"

	"github.com/polygate/polygate/common/config"
	"github.com/polygate/polygate/model"
	"github.com/polygate/polygate/relay/vendor"
)

// RefreshError reports a failed upstream token exchange together with the
// upstream HTTP status, when one was received.
type RefreshError struct {
	StatusCode int
	Err        error
}

func (e *RefreshError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("token refresh failed (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("token refresh failed: %v", e.Err)
}

func (e *RefreshError) Unwrap() error { return e.Err }

// refreshGroup collapses concurrent refreshes of the same credential into a
// single upstream exchange.
var refreshGroup singleflight.Group

type refreshed struct {
	accessToken string
	expiresAt   int64
}

// GetValidAccessToken returns an access token usable right now. The cached
// token is returned unless it expires within the refresh skew or force is
// set; otherwise a vendor-specific refresh runs and the store is updated.
func GetValidAccessToken(ctx context.Context, credential *model.Credential, force bool) (string, error) {
	if credential == nil {
		return "", errors.New("credential is nil")
	}
	if !force && !credential.TokenExpiringSoon(time.Now(), config.TokenRefreshSkew) {
		return credential.AccessToken, nil
	}

	key := fmt.Sprintf("%s/%d", credential.Vendor, credential.Id)
	result, err, _ := refreshGroup.Do(key, func() (any, error) {
		// Re-read inside the flight: a concurrent caller may have refreshed
		// and persisted a token while we were queued.
		current, err := model.GetCredentialByID(credential.Id)
		if err != nil {
			current = credential
		}
		if !force && !current.TokenExpiringSoon(time.Now(), config.TokenRefreshSkew) {
			return refreshed{accessToken: current.AccessToken, expiresAt: current.ExpiresAt}, nil
		}

		token, expiresAt, err := refresh(ctx, current)
		if err != nil {
			if storeErr := model.IncrementCredentialErrorCount(current.Id, err.Error()); storeErr != nil {
				return nil, errors.Wrap(storeErr, "record refresh failure")
			}
			return nil, err
		}

		if err := model.UpdateCredentialToken(current.Id, token, expiresAt); err != nil {
			return nil, errors.Wrap(err, "persist refreshed token")
		}
		return refreshed{accessToken: token, expiresAt: expiresAt}, nil
	})
	if err != nil {
		return "", err
	}

	fresh := result.(refreshed)
	credential.AccessToken = fresh.accessToken
	credential.ExpiresAt = fresh.expiresAt
	return fresh.accessToken, nil
}

// Exchange runs the vendor token exchange without touching the store. Used
// to verify operator-supplied credentials before they enter the pool.
func Exchange(ctx context.Context, credential *model.Credential) (accessToken string, expiresAt int64, err error) {
	return refresh(ctx, credential)
}

// refresh dispatches to the vendor-specific token exchange.
func refresh(ctx context.Context, credential *model.Credential) (accessToken string, expiresAt int64, err error) {
	switch credential.Vendor {
	case vendor.Vertex:
		return refreshVertexToken(ctx, credential)
	case vendor.Warp:
		return refreshWarpToken(ctx, credential)
	case vendor.Anthropic:
		// Anthropic keys are long-lived; there is nothing to exchange.
		// Rate-limit headers carry the live state instead.
		return credential.RefreshToken, 0, nil
	default:
		return "", 0, errors.Errorf("vendor %s does not support token refresh", credential.Vendor)
	}
}
