package domain

import "time"

const (
	OrgRoleOwner  = "owner"
	OrgRoleAdmin  = "admin"
	OrgRoleMember = "member"
)

const (
	InvitationPending  = "pending"
	InvitationAccepted = "accepted"
	InvitationRejected = "rejected"
	InvitationCanceled = "canceled"
)

type Organization struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"size:256;not null" json:"name"`
	Slug      string    `gorm:"size:128;uniqueIndex;not null" json:"slug"`
	LogoURL   string    `gorm:"size:1024" json:"logo_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Member links a user to an organization. At most one row per
// (organization, user) pair.
type Member struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	OrganizationID uint      `gorm:"not null;uniqueIndex:idx_org_user,priority:1" json:"organization_id"`
	UserID         uint      `gorm:"not null;uniqueIndex:idx_org_user,priority:2;index" json:"user_id"`
	Role           string    `gorm:"size:32;not null;default:member" json:"role"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (m *Member) CanManageMembers() bool {
	return m.Role == OrgRoleOwner || m.Role == OrgRoleAdmin
}

type Invitation struct {
	ID             string    `gorm:"size:26;primaryKey" json:"id"`
	OrganizationID uint      `gorm:"index;not null" json:"organization_id"`
	Email          string    `gorm:"size:320;not null;index" json:"email"`
	Role           string    `gorm:"size:32;not null;default:member" json:"role"`
	Status         string    `gorm:"size:16;not null;default:pending;index" json:"status"`
	InviterID      uint      `gorm:"not null" json:"inviter_id"`
	ExpiresAt      time.Time `gorm:"not null" json:"expires_at"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
