package domain

import "time"

type Session struct {
	ID                   uint       `gorm:"primaryKey" json:"id"`
	UserID               uint       `gorm:"index;not null" json:"user_id"`
	TokenHash            string     `gorm:"size:128;uniqueIndex;not null" json:"-"`
	UserAgent            string     `gorm:"size:512" json:"user_agent"`
	IP                   string     `gorm:"size:64" json:"ip"`
	ActiveOrganizationID *uint      `gorm:"index" json:"active_organization_id,omitempty"`
	ImpersonatedBy       *uint      `gorm:"index" json:"impersonated_by,omitempty"`
	ExpiresAt            time.Time  `gorm:"index;not null" json:"expires_at"`
	RevokedAt            *time.Time `gorm:"index" json:"revoked_at,omitempty"`
	RevokedReason        *string    `gorm:"size:64" json:"revoked_reason,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// Live reports whether the session is usable at t: not revoked and not past
// expiry. Revocation wins so a revoke racing a validate resolves to deny.
func (s *Session) Live(t time.Time) bool {
	return s.RevokedAt == nil && t.Before(s.ExpiresAt)
}
