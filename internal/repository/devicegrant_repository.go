package repository

import (
	"context"
	"errors"
	"time"

	"github.com/authkeel/authkeel/internal/domain"
	"github.com/authkeel/authkeel/internal/observability"

	"gorm.io/gorm"
)

var ErrDeviceGrantNotFound = errors.New("device grant not found")

type DeviceGrantRepository interface {
	Create(g *domain.DeviceGrant) error
	FindByUserCode(userCode string) (*domain.DeviceGrant, error)
	FindByDeviceCodeHash(hash string) (*domain.DeviceGrant, error)
	// TransitionFromPending is the single-writer gate on grant status. It
	// returns false when another actor already moved the grant out of
	// pending.
	TransitionFromPending(id, toStatus string, approvedBy *uint) (bool, error)
	// ConsumeApproved marks the one permitted device-code exchange. False
	// means the grant was already consumed or never approved.
	ConsumeApproved(id string) (bool, error)
	CleanupExpired() (int64, error)
}

type GormDeviceGrantRepository struct{ db *gorm.DB }

func NewDeviceGrantRepository(db *gorm.DB) DeviceGrantRepository {
	return &GormDeviceGrantRepository{db: db}
}

func (r *GormDeviceGrantRepository) Create(g *domain.DeviceGrant) error {
	err := r.db.Create(g).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "device_grant", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "device_grant", "create", "success")
	return nil
}

func (r *GormDeviceGrantRepository) FindByUserCode(userCode string) (*domain.DeviceGrant, error) {
	var g domain.DeviceGrant
	err := r.db.Where("user_code = ?", userCode).First(&g).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "device_grant", "find_by_user_code", "not_found")
			return nil, ErrDeviceGrantNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "device_grant", "find_by_user_code", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "device_grant", "find_by_user_code", "success")
	return &g, nil
}

func (r *GormDeviceGrantRepository) FindByDeviceCodeHash(hash string) (*domain.DeviceGrant, error) {
	var g domain.DeviceGrant
	err := r.db.Where("device_code_hash = ?", hash).First(&g).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "device_grant", "find_by_device_code", "not_found")
			return nil, ErrDeviceGrantNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "device_grant", "find_by_device_code", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "device_grant", "find_by_device_code", "success")
	return &g, nil
}

func (r *GormDeviceGrantRepository) TransitionFromPending(id, toStatus string, approvedBy *uint) (bool, error) {
	updates := map[string]any{"status": toStatus}
	if approvedBy != nil {
		updates["approved_by"] = *approvedBy
	}
	res := r.db.Model(&domain.DeviceGrant{}).
		Where("id = ? AND status = ?", id, domain.DeviceGrantPending).
		Updates(updates)
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "device_grant", "transition_from_pending", "error")
		return false, res.Error
	}
	observability.RecordRepositoryOperation(context.Background(), "device_grant", "transition_from_pending", "success")
	return res.RowsAffected > 0, nil
}

func (r *GormDeviceGrantRepository) ConsumeApproved(id string) (bool, error) {
	now := time.Now().UTC()
	res := r.db.Model(&domain.DeviceGrant{}).
		Where("id = ? AND status = ? AND consumed_at IS NULL", id, domain.DeviceGrantApproved).
		Update("consumed_at", now)
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "device_grant", "consume_approved", "error")
		return false, res.Error
	}
	observability.RecordRepositoryOperation(context.Background(), "device_grant", "consume_approved", "success")
	return res.RowsAffected > 0, nil
}

func (r *GormDeviceGrantRepository) CleanupExpired() (int64, error) {
	// Status is irrelevant: once the TTL (plus a grace day) has passed, a
	// grant is unreachable in every state and can be dropped.
	res := r.db.Where("expires_at <= ?", time.Now().Add(-24*time.Hour)).
		Delete(&domain.DeviceGrant{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "device_grant", "cleanup_expired", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(context.Background(), "device_grant", "cleanup_expired", "success")
	return res.RowsAffected, nil
}
