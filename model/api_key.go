package model

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/Laisky/errors/v2"
	"gorm.io/gorm"
)

// APIKey authenticates downstream clients. Only the SHA-256 hash of the key
// is persisted; lookups hash the presented secret.
type APIKey struct {
	Id        int    `json:"id"`
	Name      string `json:"name" gorm:"type:varchar(128);not null"`
	KeyHash   string `json:"-" gorm:"type:char(64);uniqueIndex;not null"`
	IsActive  bool   `json:"is_active" gorm:"default:true"`
	CreatedAt int64  `json:"created_at" gorm:"bigint;autoCreateTime:milli"`
	LastUsedAt int64 `json:"last_used_at" gorm:"bigint;default:0"`
}

// HashAPIKey returns the hex SHA-256 digest used for key lookups.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// GetAPIKeyBySecret resolves a presented key to its record, or nil when the
// key is unknown.
func GetAPIKeyBySecret(secret string) (*APIKey, error) {
	var apiKey APIKey
	err := DB.First(&apiKey, "key_hash = ?", HashAPIKey(secret)).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "get api key")
	}
	return &apiKey, nil
}

// CreateAPIKey persists a new client key.
func CreateAPIKey(name, secret string) (*APIKey, error) {
	apiKey := APIKey{
		Name:     name,
		KeyHash:  HashAPIKey(secret),
		IsActive: true,
	}
	if err := DB.Create(&apiKey).Error; err != nil {
		return nil, errors.Wrap(err, "create api key")
	}
	return &apiKey, nil
}

// TouchAPIKey records key usage time; failures are non-fatal to the request.
func TouchAPIKey(id int, now int64) error {
	if err := DB.Model(&APIKey{}).Where("id = ?", id).Update("last_used_at", now).Error; err != nil {
		return errors.Wrap(err, "touch api key")
	}
	return nil
}

// GetAllAPIKeys lists every client key, newest first.
func GetAllAPIKeys() ([]*APIKey, error) {
	var keys []*APIKey
	if err := DB.Order("id desc").Find(&keys).Error; err != nil {
		return nil, errors.Wrap(err, "list api keys")
	}
	return keys, nil
}

// SetAPIKeyActive enables or disables a client key.
func SetAPIKeyActive(id int, active bool) error {
	if err := DB.Model(&APIKey{}).Where("id = ?", id).Update("is_active", active).Error; err != nil {
		return errors.Wrap(err, "set api key active")
	}
	return nil
}

// DeleteAPIKey removes a client key permanently.
func DeleteAPIKey(id int) error {
	if err := DB.Delete(&APIKey{}, "id = ?", id).Error; err != nil {
		return errors.Wrap(err, "delete api key")
	}
	return nil
}
