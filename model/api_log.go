package model

import (
	"github.com/Laisky/errors/v2"
)

// APILog is the append-only request log keyed by request id.
type APILog struct {
	Id           int    `json:"id"`
	RequestId    string `json:"request_id" gorm:"type:varchar(64);index;not null"`
	APIKeyId     int    `json:"api_key_id" gorm:"index"`
	Vendor       string `json:"vendor" gorm:"type:varchar(32)"`
	CredentialId int    `json:"credential_id"`
	Model        string `json:"model" gorm:"type:varchar(128)"`
	RelayMode    string `json:"relay_mode" gorm:"type:varchar(32)"`
	StatusCode   int    `json:"status_code"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	DurationMs   int64  `json:"duration_ms" gorm:"bigint"`
	IPAddress    string `json:"ip_address" gorm:"type:varchar(64)"`
	UserAgent    string `json:"user_agent" gorm:"type:text"`
	Error        string `json:"error" gorm:"type:text"`
	CreatedAt    int64  `json:"created_at" gorm:"bigint;autoCreateTime:milli"`
}

// AppendAPILog inserts one request log row.
func AppendAPILog(entry *APILog) error {
	if entry == nil {
		return errors.New("api log entry is nil")
	}
	if err := DB.Create(entry).Error; err != nil {
		return errors.Wrap(err, "append api log")
	}
	return nil
}
