package model

import "time"

const ProviderTwitter = "twitter"

// LinkedAccount holds the OAuth credentials of a connected posting account.
// Tokens are never serialized.
type LinkedAccount struct {
	ID             string     `json:"id" gorm:"primaryKey;size:36"`
	UserID         string     `json:"user_id" gorm:"size:64;not null;index;uniqueIndex:idx_account_user_provider_user"`
	Provider       string     `json:"provider" gorm:"size:32;not null;default:twitter"`
	ProviderUserID string     `json:"provider_user_id" gorm:"size:64;not null;uniqueIndex:idx_account_user_provider_user"`
	Username       string     `json:"username" gorm:"size:64"`
	AccessToken    string     `json:"-" gorm:"type:text;not null"`
	RefreshToken   string     `json:"-" gorm:"type:text"`
	TokenExpiresAt time.Time  `json:"token_expires_at"`
	IsActive       bool       `json:"is_active" gorm:"default:true;index"`
	LastUsedAt     *time.Time `json:"last_used_at"`
	RevokedAt      *time.Time `json:"revoked_at"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}
