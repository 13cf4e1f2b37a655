package domain

import "time"

// Account links an external provider identity to a local user. A user may
// hold several accounts (one per provider) next to a local password, but a
// provider identity belongs to at most one user.
type Account struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	UserID            uint      `gorm:"index;not null" json:"user_id"`
	Provider          string    `gorm:"size:64;not null;uniqueIndex:idx_provider_identity,priority:1" json:"provider"`
	ProviderAccountID string    `gorm:"size:256;not null;uniqueIndex:idx_provider_identity,priority:2" json:"-"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}
