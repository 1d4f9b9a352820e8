package model

import (
	"math/rand"
	"time"

	"github.com/Laisky/errors/v2"
	"gorm.io/gorm"

	"github.com/polygate/polygate/common/config"
	"github.com/polygate/polygate/common/helper"
)

// ErrDuplicateCredential reports a (vendor, name) uniqueness violation.
var ErrDuplicateCredential = errors.New("credential with this vendor and name already exists")

// ErrCredentialNotFound reports a lookup miss.
var ErrCredentialNotFound = errors.New("credential not found")

// GetAllCredentials returns every credential of a vendor, newest first.
func GetAllCredentials(vendor string) ([]*Credential, error) {
	var credentials []*Credential
	if err := DB.Where("vendor = ?", vendor).Order("id desc").Find(&credentials).Error; err != nil {
		return nil, errors.Wrap(err, "list credentials")
	}
	return credentials, nil
}

// GetActiveCredentials returns credentials that may serve a request now.
func GetActiveCredentials(vendor string) ([]*Credential, error) {
	all, err := GetAllCredentials(vendor)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	active := make([]*Credential, 0, len(all))
	for _, credential := range all {
		if credential.Available(now) {
			active = append(active, credential)
		}
	}
	return active, nil
}

// GetRandomActiveCredential picks one available credential weighted by its
// configured weight, skipping excluded ids. Returns nil when none qualify.
func GetRandomActiveCredential(vendor string, excludeIds map[int]bool) (*Credential, error) {
	active, err := GetActiveCredentials(vendor)
	if err != nil {
		return nil, err
	}

	candidates := make([]*Credential, 0, len(active))
	totalWeight := 0
	for _, credential := range active {
		if excludeIds[credential.Id] {
			continue
		}
		weight := credential.Weight
		if weight <= 0 {
			weight = 1
		}
		totalWeight += weight
		candidates = append(candidates, credential)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	pick := rand.Intn(totalWeight)
	for _, credential := range candidates {
		weight := credential.Weight
		if weight <= 0 {
			weight = 1
		}
		if pick < weight {
			return credential, nil
		}
		pick -= weight
	}
	return candidates[len(candidates)-1], nil
}

// GetCredentialByID fetches one credential.
func GetCredentialByID(id int) (*Credential, error) {
	var credential Credential
	if err := DB.First(&credential, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCredentialNotFound
		}
		return nil, errors.Wrap(err, "get credential")
	}
	return &credential, nil
}

// CreateCredential persists a new credential.
func CreateCredential(credential *Credential) error {
	if credential == nil {
		return errors.New("credential is nil")
	}
	if credential.Weight <= 0 {
		credential.Weight = 1
	}
	var count int64
	if err := DB.Model(&Credential{}).
		Where("vendor = ? AND name = ?", credential.Vendor, credential.Name).
		Count(&count).Error; err != nil {
		return errors.Wrap(err, "check credential uniqueness")
	}
	if count > 0 {
		return ErrDuplicateCredential
	}
	if err := DB.Create(credential).Error; err != nil {
		return errors.Wrap(err, "create credential")
	}
	return nil
}

// UpdateCredential applies operator-edited fields.
func UpdateCredential(id int, updates map[string]any) error {
	if err := DB.Model(&Credential{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return errors.Wrap(err, "update credential")
	}
	return nil
}

// UpdateCredentialToken records a freshly refreshed access token.
func UpdateCredentialToken(id int, accessToken string, expiresAt int64) error {
	err := DB.Model(&Credential{}).Where("id = ?", id).Updates(map[string]any{
		"access_token": accessToken,
		"expires_at":   expiresAt,
	}).Error
	if err != nil {
		return errors.Wrap(err, "update credential token")
	}
	return nil
}

// UpdateCredentialQuota persists quota usage reported by the vendor.
func UpdateCredentialQuota(id int, quotaLimit, quotaUsed int64) error {
	err := DB.Model(&Credential{}).Where("id = ?", id).Updates(map[string]any{
		"quota_limit": quotaLimit,
		"quota_used":  quotaUsed,
	}).Error
	if err != nil {
		return errors.Wrap(err, "update credential quota")
	}
	return nil
}

// UpdateCredentialRateLimits persists parsed rate-limit headers.
func UpdateCredentialRateLimits(id int, rateLimits JSONMap) error {
	err := DB.Model(&Credential{}).Where("id = ?", id).
		Update("rate_limits", rateLimits).Error
	if err != nil {
		return errors.Wrap(err, "update credential rate limits")
	}
	return nil
}

// IncrementCredentialUseCount counts one successful (billed) request and
// clears the consecutive error counter.
func IncrementCredentialUseCount(id int) error {
	err := DB.Model(&Credential{}).Where("id = ?", id).Updates(map[string]any{
		"use_count":    gorm.Expr("use_count + 1"),
		"error_count":  0,
		"last_used_at": time.Now().UnixMilli(),
	}).Error
	if err != nil {
		return errors.Wrap(err, "increment credential use count")
	}
	return nil
}

// IncrementCredentialErrorCount counts one upstream failure. Crossing the
// configured threshold quarantines the credential atomically.
func IncrementCredentialErrorCount(id int, message string) error {
	return DB.Transaction(func(tx *gorm.DB) error {
		var credential Credential
		if err := tx.First(&credential, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrCredentialNotFound
			}
			return errors.Wrap(err, "get credential")
		}

		credential.ErrorCount++
		if err := tx.Model(&Credential{}).Where("id = ?", id).Updates(map[string]any{
			"error_count": credential.ErrorCount,
			"last_error":  message,
		}).Error; err != nil {
			return errors.Wrap(err, "update credential error count")
		}

		if credential.ErrorCount >= config.ErrorCountThreshold {
			return moveToErrorTx(tx, &credential, message)
		}
		return nil
	})
}

// MarkCredentialQuotaExhausted quarantines the credential until the given
// instant, defaulting to the next top-of-hour boundary.
func MarkCredentialQuotaExhausted(id int, until time.Time) error {
	if until.IsZero() {
		until = helper.NextHourBoundary(time.Now())
	}
	err := DB.Model(&Credential{}).Where("id = ?", id).
		Update("quota_exhausted_until", until.UnixMilli()).Error
	if err != nil {
		return errors.Wrap(err, "mark credential quota exhausted")
	}
	return nil
}

// MoveCredentialToError quarantines a credential into the error table.
func MoveCredentialToError(id int, reason string) error {
	return DB.Transaction(func(tx *gorm.DB) error {
		var credential Credential
		if err := tx.First(&credential, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrCredentialNotFound
			}
			return errors.Wrap(err, "get credential")
		}
		return moveToErrorTx(tx, &credential, reason)
	})
}

func moveToErrorTx(tx *gorm.DB, credential *Credential, reason string) error {
	quarantined := ErrorCredential{
		Id:           credential.Id,
		Vendor:       credential.Vendor,
		Name:         credential.Name,
		Email:        credential.Email,
		RefreshToken: credential.RefreshToken,
		ProfileArn:   credential.ProfileArn,
		ProjectId:    credential.ProjectId,
		Region:       credential.Region,
		ClientId:     credential.ClientId,
		ClientSecret: credential.ClientSecret,
		ApiBaseUrl:   credential.ApiBaseUrl,
		Weight:       credential.Weight,
		RateLimits:   credential.RateLimits,
		LastError:    reason,
	}
	if err := tx.Create(&quarantined).Error; err != nil {
		return errors.Wrap(err, "create error credential")
	}
	if err := tx.Delete(&Credential{}, "id = ?", credential.Id).Error; err != nil {
		return errors.Wrap(err, "delete quarantined credential")
	}
	return nil
}

// GetErrorCredentials lists quarantined credentials of a vendor.
func GetErrorCredentials(vendor string) ([]*ErrorCredential, error) {
	var credentials []*ErrorCredential
	if err := DB.Where("vendor = ?", vendor).Order("quarantined_at desc").Find(&credentials).Error; err != nil {
		return nil, errors.Wrap(err, "list error credentials")
	}
	return credentials, nil
}

// RestoreCredentialFromError promotes a quarantined credential back into the
// pool, optionally with a replacement refresh token.
func RestoreCredentialFromError(id int, newRefreshToken string) error {
	return DB.Transaction(func(tx *gorm.DB) error {
		var quarantined ErrorCredential
		if err := tx.First(&quarantined, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrCredentialNotFound
			}
			return errors.Wrap(err, "get error credential")
		}

		refreshToken := quarantined.RefreshToken
		if newRefreshToken != "" {
			refreshToken = newRefreshToken
		}
		restored := Credential{
			Id:           quarantined.Id,
			Vendor:       quarantined.Vendor,
			Name:         quarantined.Name,
			Email:        quarantined.Email,
			RefreshToken: refreshToken,
			ProfileArn:   quarantined.ProfileArn,
			ProjectId:    quarantined.ProjectId,
			Region:       quarantined.Region,
			ClientId:     quarantined.ClientId,
			ClientSecret: quarantined.ClientSecret,
			ApiBaseUrl:   quarantined.ApiBaseUrl,
			Weight:       quarantined.Weight,
			RateLimits:   quarantined.RateLimits,
			LastError:    quarantined.LastError,
			IsActive:     true,
		}
		if err := tx.Create(&restored).Error; err != nil {
			return errors.Wrap(err, "restore credential")
		}
		if err := tx.Delete(&ErrorCredential{}, "id = ?", id).Error; err != nil {
			return errors.Wrap(err, "delete error credential")
		}
		return nil
	})
}

// DeleteCredential removes a credential permanently.
func DeleteCredential(id int) error {
	if err := DB.Delete(&Credential{}, "id = ?", id).Error; err != nil {
		return errors.Wrap(err, "delete credential")
	}
	return nil
}
