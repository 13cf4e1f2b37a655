package domain

import "time"

const (
	DeviceGrantPending  = "pending"
	DeviceGrantApproved = "approved"
	DeviceGrantDenied   = "denied"
	DeviceGrantExpired  = "expired"
)

// DeviceGrant is one code-pairing handshake between an unauthenticated
// device and an authenticated browser. Status leaves pending exactly once;
// ConsumedAt marks the single successful device-code exchange on an
// approved grant.
type DeviceGrant struct {
	ID             string     `gorm:"size:26;primaryKey" json:"id"`
	DeviceCodeHash string     `gorm:"size:128;uniqueIndex;not null" json:"-"`
	UserCode       string     `gorm:"size:16;uniqueIndex;not null" json:"user_code"`
	Status         string     `gorm:"size:16;not null;default:pending;index" json:"status"`
	ApprovedBy     *uint      `gorm:"index" json:"approved_by,omitempty"`
	PollIntervalMS int64      `gorm:"not null" json:"poll_interval_ms"`
	ExpiresAt      time.Time  `gorm:"index;not null" json:"expires_at"`
	ConsumedAt     *time.Time `json:"consumed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (g *DeviceGrant) ExpiredAt(t time.Time) bool {
	return !t.Before(g.ExpiresAt)
}
