package domain

import "time"

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

type User struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	Email            string     `gorm:"size:320;uniqueIndex;not null" json:"email"`
	EmailVerified    bool       `gorm:"not null;default:false" json:"email_verified"`
	Name             string     `gorm:"size:256" json:"name"`
	AvatarURL        string     `gorm:"size:1024" json:"avatar_url,omitempty"`
	PasswordHash     string     `gorm:"size:128" json:"-"`
	Role             string     `gorm:"size:32;not null;default:user" json:"role"`
	Banned           bool       `gorm:"not null;default:false;index" json:"banned"`
	BanReason        *string    `gorm:"size:512" json:"ban_reason,omitempty"`
	BanExpiresAt     *time.Time `json:"ban_expires_at,omitempty"`
	TwoFactorEnabled bool       `gorm:"not null;default:false" json:"two_factor_enabled"`
	DeletedAt        *time.Time `gorm:"index" json:"-"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// BanActive reports whether the ban is in force at t. A ban without an
// expiry is permanent.
func (u *User) BanActive(t time.Time) bool {
	if !u.Banned {
		return false
	}
	if u.BanExpiresAt == nil {
		return true
	}
	return t.Before(*u.BanExpiresAt)
}

func (u *User) IsAdmin() bool { return u.Role == RoleAdmin }
