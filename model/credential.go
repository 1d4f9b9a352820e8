package model

import (
	"time"
)

// Credential is one upstream account of a vendor's pool. Access tokens are
// cached on the record; refresh tokens are the durable secret.
type Credential struct {
	Id           int    `json:"id"`
	Vendor       string `json:"vendor" gorm:"type:varchar(32);not null;index;uniqueIndex:idx_vendor_name"`
	Name         string `json:"name" gorm:"type:varchar(128);not null;uniqueIndex:idx_vendor_name"`
	Email        string `json:"email" gorm:"type:varchar(256)"`
	RefreshToken string `json:"refresh_token" gorm:"type:text"`
	AccessToken  string `json:"access_token" gorm:"type:text"`
	// ExpiresAt is the access token expiry, unix milliseconds. Zero when the
	// token carries no expiry.
	ExpiresAt int64 `json:"expires_at" gorm:"bigint;default:0"`

	// Vendor-specific attributes.
	ProfileArn   string `json:"profile_arn" gorm:"type:text"`
	ProjectId    string `json:"project_id" gorm:"type:varchar(128)"`
	Region       string `json:"region" gorm:"type:varchar(64)"`
	ClientId     string `json:"client_id" gorm:"type:text"`
	ClientSecret string `json:"client_secret" gorm:"type:text"`
	ApiBaseUrl   string `json:"api_base_url" gorm:"type:text"`

	IsActive   bool   `json:"is_active" gorm:"default:true;index"`
	Weight     int    `json:"weight" gorm:"default:1"`
	UseCount   int64  `json:"use_count" gorm:"bigint;default:0"`
	ErrorCount int    `json:"error_count" gorm:"default:0"`
	LastError  string `json:"last_error" gorm:"type:text"`
	LastUsedAt int64  `json:"last_used_at" gorm:"bigint;default:0"`

	QuotaLimit int64   `json:"quota_limit" gorm:"bigint;default:0"`
	QuotaUsed  int64   `json:"quota_used" gorm:"bigint;default:0"`
	RateLimits JSONMap `json:"rate_limits" gorm:"type:text"`
	// QuotaExhaustedUntil marks the credential unavailable until this unix
	// millisecond instant. Zero means not exhausted.
	QuotaExhaustedUntil int64 `json:"quota_exhausted_until" gorm:"bigint;default:0"`

	CreatedAt int64 `json:"created_at" gorm:"bigint;autoCreateTime:milli"`
	UpdatedAt int64 `json:"updated_at" gorm:"bigint;autoUpdateTime:milli"`
}

// Available reports whether the credential may serve a request right now:
// active and not inside a quota-exhaustion window.
func (c *Credential) Available(now time.Time) bool {
	if !c.IsActive {
		return false
	}
	if c.QuotaExhaustedUntil > 0 && c.QuotaExhaustedUntil > now.UnixMilli() {
		return false
	}
	return true
}

// TokenExpiringSoon reports whether the cached access token must be
// refreshed before use. Tokens without a recorded expiry never expire here.
func (c *Credential) TokenExpiringSoon(now time.Time, skew time.Duration) bool {
	if c.AccessToken == "" {
		return true
	}
	if c.ExpiresAt == 0 {
		return false
	}
	return now.Add(skew).UnixMilli() >= c.ExpiresAt
}

// ErrorCredential is the quarantine table. Records keep their original
// credential id so operators can restore them in place.
type ErrorCredential struct {
	Id           int     `json:"id" gorm:"primaryKey;autoIncrement:false"`
	Vendor       string  `json:"vendor" gorm:"type:varchar(32);not null;index"`
	Name         string  `json:"name" gorm:"type:varchar(128);not null"`
	Email        string  `json:"email" gorm:"type:varchar(256)"`
	RefreshToken string  `json:"refresh_token" gorm:"type:text"`
	ProfileArn   string  `json:"profile_arn" gorm:"type:text"`
	ProjectId    string  `json:"project_id" gorm:"type:varchar(128)"`
	Region       string  `json:"region" gorm:"type:varchar(64)"`
	ClientId     string  `json:"client_id" gorm:"type:text"`
	ClientSecret string  `json:"client_secret" gorm:"type:text"`
	ApiBaseUrl   string  `json:"api_base_url" gorm:"type:text"`
	Weight       int     `json:"weight" gorm:"default:1"`
	RateLimits   JSONMap `json:"rate_limits" gorm:"type:text"`
	LastError    string  `json:"last_error" gorm:"type:text"`
	QuarantinedAt int64  `json:"quarantined_at" gorm:"bigint;autoCreateTime:milli"`
}
