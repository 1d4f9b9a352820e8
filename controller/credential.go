// Package controller carries the operator API: credential pool CRUD,
// health probes, and client key management under /api.
package controller

import (
	"context"
	"net/http"
	"strconv"

	"github.com/Laisky/errors/v2"
	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/polygate/polygate/common/config"
	"github.com/polygate/polygate/common/helper"
	"github.com/polygate/polygate/common/network"
	"github.com/polygate/polygate/model"
	"github.com/polygate/polygate/relay/adaptor/anthropic"
	"github.com/polygate/polygate/relay/token"
	"github.com/polygate/polygate/relay/vendor"
)

func respondSuccess(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "",
		"data":    data,
	})
}

func respondFailure(c *gin.Context, message string) {
	c.JSON(http.StatusOK, gin.H{
		"success": false,
		"message": message,
	})
}

func vendorParam(c *gin.Context) (string, bool) {
	name := c.Param("vendor")
	if !vendor.IsValid(name) {
		respondFailure(c, "unknown vendor: "+name)
		return "", false
	}
	return name, true
}

func idParam(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		respondFailure(c, "invalid credential id")
		return 0, false
	}
	return id, true
}

// credentialView is the operator-facing shape. Secrets are masked, never
// returned whole.
type credentialView struct {
	Id                  int           `json:"id"`
	Vendor              string        `json:"vendor"`
	Name                string        `json:"name"`
	Email               string        `json:"email,omitempty"`
	RefreshToken        string        `json:"refresh_token,omitempty"`
	AccessToken         string        `json:"access_token,omitempty"`
	ExpiresAt           int64         `json:"expires_at,omitempty"`
	ProjectId           string        `json:"project_id,omitempty"`
	Region              string        `json:"region,omitempty"`
	ApiBaseUrl          string        `json:"api_base_url,omitempty"`
	IsActive            bool          `json:"is_active"`
	Weight              int           `json:"weight"`
	UseCount            int64         `json:"use_count"`
	ErrorCount          int           `json:"error_count"`
	LastError           string        `json:"last_error,omitempty"`
	LastUsedAt          int64         `json:"last_used_at,omitempty"`
	QuotaLimit          int64         `json:"quota_limit,omitempty"`
	QuotaUsed           int64         `json:"quota_used,omitempty"`
	QuotaExhaustedUntil int64         `json:"quota_exhausted_until,omitempty"`
	RateLimits          model.JSONMap `json:"rate_limits,omitempty"`
	CreatedAt           int64         `json:"created_at"`
}

func viewOf(credential *model.Credential) credentialView {
	return credentialView{
		Id:                  credential.Id,
		Vendor:              credential.Vendor,
		Name:                credential.Name,
		Email:               credential.Email,
		RefreshToken:        helper.MaskAPIKey(credential.RefreshToken),
		AccessToken:         helper.MaskAPIKey(credential.AccessToken),
		ExpiresAt:           credential.ExpiresAt,
		ProjectId:           credential.ProjectId,
		Region:              credential.Region,
		ApiBaseUrl:          credential.ApiBaseUrl,
		IsActive:            credential.IsActive,
		Weight:              credential.Weight,
		UseCount:            credential.UseCount,
		ErrorCount:          credential.ErrorCount,
		LastError:           credential.LastError,
		LastUsedAt:          credential.LastUsedAt,
		QuotaLimit:          credential.QuotaLimit,
		QuotaUsed:           credential.QuotaUsed,
		QuotaExhaustedUntil: credential.QuotaExhaustedUntil,
		RateLimits:          credential.RateLimits,
		CreatedAt:           credential.CreatedAt,
	}
}

// ListCredentials returns every credential of the vendor with masked secrets.
func ListCredentials(c *gin.Context) {
	vendorName, ok := vendorParam(c)
	if !ok {
		return
	}
	credentials, err := model.GetAllCredentials(vendorName)
	if err != nil {
		respondFailure(c, err.Error())
		return
	}
	views := make([]credentialView, 0, len(credentials))
	for _, credential := range credentials {
		views = append(views, viewOf(credential))
	}
	respondSuccess(c, views)
}

type credentialRequest struct {
	Name         string `json:"name"`
	Email        string `json:"email"`
	RefreshToken string `json:"refresh_token"`
	ProfileArn   string `json:"profile_arn"`
	ProjectId    string `json:"project_id"`
	Region       string `json:"region"`
	ClientId     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	ApiBaseUrl   string `json:"api_base_url"`
	Weight       int    `json:"weight"`
	QuotaLimit   int64  `json:"quota_limit"`
}

func (r *credentialRequest) toModel(vendorName string) (*model.Credential, error) {
	if r.Name == "" {
		return nil, errors.New("name is required")
	}
	if r.RefreshToken == "" {
		return nil, errors.New("refresh_token is required")
	}
	return &model.Credential{
		Vendor:       vendorName,
		Name:         r.Name,
		Email:        r.Email,
		RefreshToken: r.RefreshToken,
		ProfileArn:   r.ProfileArn,
		ProjectId:    r.ProjectId,
		Region:       r.Region,
		ClientId:     r.ClientId,
		ClientSecret: r.ClientSecret,
		ApiBaseUrl:   r.ApiBaseUrl,
		Weight:       r.Weight,
		QuotaLimit:   r.QuotaLimit,
		IsActive:     true,
	}, nil
}

// validateBaseURL vets an operator-supplied upstream base URL. Empty means
// the vendor default and always passes.
func validateBaseURL(ctx context.Context, raw string) error {
	if raw == "" || !config.BlockInternalBaseURLs {
		return nil
	}
	if _, err := network.ValidateExternalURL(ctx, raw); err != nil {
		return errors.Wrap(err, "api_base_url")
	}
	return nil
}

// verifyNewCredential probes the upstream before a credential enters the
// pool. Anthropic runs the cheap Messages probe; Vertex and Warp must
// complete a token exchange. Vendors without a verifier pass through.
// On success the probe results (rate limits, exchanged token) are folded
// into the credential so the pool starts warm.
func verifyNewCredential(ctx context.Context, credential *model.Credential) error {
	switch credential.Vendor {
	case vendor.Anthropic:
		result, err := anthropic.VerifyCredential(ctx, credential.RefreshToken, credential.ApiBaseUrl)
		if err != nil {
			return errors.Wrap(err, "verification probe")
		}
		if !result.Valid {
			return errors.Errorf("upstream rejected credential (status %d): %s", result.Status, result.Error)
		}
		if result.RateLimits != nil {
			credential.RateLimits = result.RateLimits.AsJSONMap()
		}
		return nil
	case vendor.Vertex, vendor.Warp:
		accessToken, expiresAt, err := token.Exchange(ctx, credential)
		if err != nil {
			return errors.Wrap(err, "token exchange")
		}
		credential.AccessToken = accessToken
		credential.ExpiresAt = expiresAt
		return nil
	default:
		return nil
	}
}

// AddCredential creates one credential under the vendor. Creation requires a
// successful upstream verification first.
func AddCredential(c *gin.Context) {
	vendorName, ok := vendorParam(c)
	if !ok {
		return
	}
	var request credentialRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		respondFailure(c, "invalid request body: "+err.Error())
		return
	}
	credential, err := request.toModel(vendorName)
	if err != nil {
		respondFailure(c, err.Error())
		return
	}
	ctx := gmw.Ctx(c)
	if err := validateBaseURL(ctx, credential.ApiBaseUrl); err != nil {
		respondFailure(c, err.Error())
		return
	}
	if err := verifyNewCredential(ctx, credential); err != nil {
		respondFailure(c, "verification failed: "+err.Error())
		return
	}
	if err := model.CreateCredential(credential); err != nil {
		respondFailure(c, err.Error())
		return
	}
	gmw.GetLogger(c).Info("credential created",
		zap.String("vendor", vendorName),
		zap.Int("credential_id", credential.Id),
		zap.String("name", credential.Name))
	respondSuccess(c, viewOf(credential))
}

// BatchImportCredentials creates many credentials in one call. Each entry is
// verified upstream first; duplicates and failed verifications are skipped
// and reported, not fatal.
func BatchImportCredentials(c *gin.Context) {
	vendorName, ok := vendorParam(c)
	if !ok {
		return
	}
	var requests []credentialRequest
	if err := c.ShouldBindJSON(&requests); err != nil {
		respondFailure(c, "invalid request body: "+err.Error())
		return
	}

	ctx := gmw.Ctx(c)
	imported := 0
	skipped := make([]string, 0)
	for i := range requests {
		credential, err := requests[i].toModel(vendorName)
		if err != nil {
			skipped = append(skipped, requests[i].Name+": "+err.Error())
			continue
		}
		if err := validateBaseURL(ctx, credential.ApiBaseUrl); err != nil {
			skipped = append(skipped, credential.Name+": "+err.Error())
			continue
		}
		if err := verifyNewCredential(ctx, credential); err != nil {
			skipped = append(skipped, credential.Name+": verification failed: "+err.Error())
			continue
		}
		if err := model.CreateCredential(credential); err != nil {
			skipped = append(skipped, credential.Name+": "+err.Error())
			continue
		}
		imported++
	}
	gmw.GetLogger(c).Info("credential batch import finished",
		zap.String("vendor", vendorName),
		zap.Int("imported", imported),
		zap.Int("skipped", len(skipped)))
	respondSuccess(c, gin.H{
		"imported": imported,
		"skipped":  skipped,
	})
}

type credentialUpdateRequest struct {
	Name         *string `json:"name"`
	Email        *string `json:"email"`
	RefreshToken *string `json:"refresh_token"`
	ProjectId    *string `json:"project_id"`
	Region       *string `json:"region"`
	ClientId     *string `json:"client_id"`
	ClientSecret *string `json:"client_secret"`
	ApiBaseUrl   *string `json:"api_base_url"`
	Weight       *int    `json:"weight"`
	QuotaLimit   *int64  `json:"quota_limit"`
	IsActive     *bool   `json:"is_active"`
}

// UpdateCredential applies a partial edit. Only fields present in the body
// change; replacing the refresh token clears the cached access token.
func UpdateCredential(c *gin.Context) {
	if _, ok := vendorParam(c); !ok {
		return
	}
	id, ok := idParam(c)
	if !ok {
		return
	}
	var request credentialUpdateRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		respondFailure(c, "invalid request body: "+err.Error())
		return
	}

	updates := map[string]any{}
	setStr := func(column string, value *string) {
		if value != nil {
			updates[column] = *value
		}
	}
	setStr("name", request.Name)
	setStr("email", request.Email)
	setStr("project_id", request.ProjectId)
	setStr("region", request.Region)
	setStr("client_id", request.ClientId)
	setStr("client_secret", request.ClientSecret)
	if request.ApiBaseUrl != nil {
		if err := validateBaseURL(gmw.Ctx(c), *request.ApiBaseUrl); err != nil {
			respondFailure(c, err.Error())
			return
		}
		updates["api_base_url"] = *request.ApiBaseUrl
	}
	if request.RefreshToken != nil {
		updates["refresh_token"] = *request.RefreshToken
		updates["access_token"] = ""
		updates["expires_at"] = 0
	}
	if request.Weight != nil {
		updates["weight"] = *request.Weight
	}
	if request.QuotaLimit != nil {
		updates["quota_limit"] = *request.QuotaLimit
	}
	if request.IsActive != nil {
		updates["is_active"] = *request.IsActive
	}
	if len(updates) == 0 {
		respondFailure(c, "no fields to update")
		return
	}

	if err := model.UpdateCredential(id, updates); err != nil {
		respondFailure(c, err.Error())
		return
	}
	credential, err := model.GetCredentialByID(id)
	if err != nil {
		respondFailure(c, err.Error())
		return
	}
	respondSuccess(c, viewOf(credential))
}

// DeleteCredential removes a credential permanently.
func DeleteCredential(c *gin.Context) {
	if _, ok := vendorParam(c); !ok {
		return
	}
	id, ok := idParam(c)
	if !ok {
		return
	}
	if err := model.DeleteCredential(id); err != nil {
		respondFailure(c, err.Error())
		return
	}
	gmw.GetLogger(c).Info("credential deleted", zap.Int("credential_id", id))
	respondSuccess(c, nil)
}

// RefreshCredentialToken forces a token exchange regardless of the cached
// expiry and returns the new expiry instant.
func RefreshCredentialToken(c *gin.Context) {
	if _, ok := vendorParam(c); !ok {
		return
	}
	id, ok := idParam(c)
	if !ok {
		return
	}
	credential, err := model.GetCredentialByID(id)
	if err != nil {
		respondFailure(c, err.Error())
		return
	}

	if _, err := token.GetValidAccessToken(gmw.Ctx(c), credential, true); err != nil {
		respondFailure(c, "token refresh failed: "+err.Error())
		return
	}
	refreshed, err := model.GetCredentialByID(id)
	if err != nil {
		respondFailure(c, err.Error())
		return
	}
	respondSuccess(c, gin.H{
		"expires_at": refreshed.ExpiresAt,
	})
}

// TestCredential probes the upstream with the credential. Anthropic runs the
// cheap Messages probe; Vertex and Warp verify the token still exchanges.
func TestCredential(c *gin.Context) {
	vendorName, ok := vendorParam(c)
	if !ok {
		return
	}
	id, ok := idParam(c)
	if !ok {
		return
	}
	credential, err := model.GetCredentialByID(id)
	if err != nil {
		respondFailure(c, err.Error())
		return
	}

	ctx := gmw.Ctx(c)
	switch vendorName {
	case vendor.Anthropic:
		accessToken, err := token.GetValidAccessToken(ctx, credential, false)
		if err != nil {
			respondFailure(c, "token refresh failed: "+err.Error())
			return
		}
		result, err := anthropic.VerifyCredential(ctx, accessToken, credential.ApiBaseUrl)
		if err != nil {
			respondFailure(c, "probe failed: "+err.Error())
			return
		}
		if result.RateLimits != nil {
			if err := model.UpdateCredentialRateLimits(id, result.RateLimits.AsJSONMap()); err != nil {
				gmw.GetLogger(c).Warn("persist rate limits failed", zap.Error(err))
			}
		}
		respondSuccess(c, result)
	default:
		if _, err := token.GetValidAccessToken(ctx, credential, true); err != nil {
			respondFailure(c, "token refresh failed: "+err.Error())
			return
		}
		respondSuccess(c, gin.H{"valid": true})
	}
}

// CredentialUsage reports the quota and usage state of one credential.
func CredentialUsage(c *gin.Context) {
	if _, ok := vendorParam(c); !ok {
		return
	}
	id, ok := idParam(c)
	if !ok {
		return
	}
	credential, err := model.GetCredentialByID(id)
	if err != nil {
		respondFailure(c, err.Error())
		return
	}
	respondSuccess(c, gin.H{
		"quota_limit":           credential.QuotaLimit,
		"quota_used":            credential.QuotaUsed,
		"use_count":             credential.UseCount,
		"error_count":           credential.ErrorCount,
		"last_error":            credential.LastError,
		"last_used_at":          credential.LastUsedAt,
		"quota_exhausted_until": credential.QuotaExhaustedUntil,
		"rate_limits":           credential.RateLimits,
	})
}

// ListErrorCredentials lists the vendor's quarantined credentials.
func ListErrorCredentials(c *gin.Context) {
	vendorName, ok := vendorParam(c)
	if !ok {
		return
	}
	quarantined, err := model.GetErrorCredentials(vendorName)
	if err != nil {
		respondFailure(c, err.Error())
		return
	}
	views := make([]gin.H, 0, len(quarantined))
	for _, credential := range quarantined {
		views = append(views, gin.H{
			"id":             credential.Id,
			"vendor":         credential.Vendor,
			"name":           credential.Name,
			"email":          credential.Email,
			"refresh_token":  helper.MaskAPIKey(credential.RefreshToken),
			"last_error":     credential.LastError,
			"quarantined_at": credential.QuarantinedAt,
		})
	}
	respondSuccess(c, views)
}

type restoreRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// RestoreErrorCredential promotes a quarantined credential back into the
// pool, optionally swapping in a new refresh token.
func RestoreErrorCredential(c *gin.Context) {
	if _, ok := vendorParam(c); !ok {
		return
	}
	id, ok := idParam(c)
	if !ok {
		return
	}
	var request restoreRequest
	if c.Request.Body != nil && c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&request); err != nil {
			respondFailure(c, "invalid request body: "+err.Error())
			return
		}
	}
	if err := model.RestoreCredentialFromError(id, request.RefreshToken); err != nil {
		respondFailure(c, err.Error())
		return
	}
	gmw.GetLogger(c).Info("credential restored", zap.Int("credential_id", id))
	respondSuccess(c, nil)
}
