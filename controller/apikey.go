package controller

import (
	"strconv"

	gmw "github.com/Laisky/gin-middlewares/v7"
	gutils "github.com/Laisky/go-utils/v6"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/polygate/polygate/model"
)

// ListAPIKeys returns every client key. Only metadata is stored, the secret
// exists solely as a hash.
func ListAPIKeys(c *gin.Context) {
	keys, err := model.GetAllAPIKeys()
	if err != nil {
		respondFailure(c, err.Error())
		return
	}
	respondSuccess(c, keys)
}

type apiKeyRequest struct {
	Name string `json:"name"`
}

// CreateAPIKey mints a new client key. The plaintext secret is returned
// exactly once; only its hash is persisted.
func CreateAPIKey(c *gin.Context) {
	var request apiKeyRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		respondFailure(c, "invalid request body: "+err.Error())
		return
	}
	if request.Name == "" {
		respondFailure(c, "name is required")
		return
	}

	secret := "pg-" + gutils.UUID7()
	apiKey, err := model.CreateAPIKey(request.Name, secret)
	if err != nil {
		respondFailure(c, err.Error())
		return
	}
	gmw.GetLogger(c).Info("api key created",
		zap.Int("api_key_id", apiKey.Id),
		zap.String("name", apiKey.Name))
	respondSuccess(c, gin.H{
		"id":   apiKey.Id,
		"name": apiKey.Name,
		"key":  secret,
	})
}

// UpdateAPIKey toggles a client key's active flag.
func UpdateAPIKey(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		respondFailure(c, "invalid api key id")
		return
	}
	var request struct {
		IsActive *bool `json:"is_active"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		respondFailure(c, "invalid request body: "+err.Error())
		return
	}
	if request.IsActive == nil {
		respondFailure(c, "is_active is required")
		return
	}
	if err := model.SetAPIKeyActive(id, *request.IsActive); err != nil {
		respondFailure(c, err.Error())
		return
	}
	respondSuccess(c, nil)
}

// DeleteAPIKey removes a client key permanently.
func DeleteAPIKey(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		respondFailure(c, "invalid api key id")
		return
	}
	if err := model.DeleteAPIKey(id); err != nil {
		respondFailure(c, err.Error())
		return
	}
	gmw.GetLogger(c).Info("api key deleted", zap.Int("api_key_id", id))
	respondSuccess(c, nil)
}
