package domain

import "time"

// TwoFactor stores a principal's TOTP secret. A row with Enabled=false is a
// pending enrollment: the secret was generated but no correct code has been
// presented yet, so it must never satisfy a second-factor check.
type TwoFactor struct {
	UserID    uint      `gorm:"primaryKey" json:"user_id"`
	Secret    string    `gorm:"size:256;not null" json:"-"`
	Enabled   bool      `gorm:"not null;default:false" json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
