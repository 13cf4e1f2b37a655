package repository

import (
	"context"
	"errors"

	"github.com/authkeel/authkeel/internal/domain"
	"github.com/authkeel/authkeel/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrTwoFactorNotFound = errors.New("two-factor record not found")

type TwoFactorRepository interface {
	FindByUserID(userID uint) (*domain.TwoFactor, error)
	// UpsertPending replaces any existing row with a fresh pending secret.
	// Overwriting an enabled row is allowed only through a new enrollment,
	// which the service gates on a password check.
	UpsertPending(userID uint, secret string) error
	// Enable flips the pending row on; it fails if no row exists.
	Enable(userID uint) error
	Delete(userID uint) error
}

type GormTwoFactorRepository struct{ db *gorm.DB }

func NewTwoFactorRepository(db *gorm.DB) TwoFactorRepository {
	return &GormTwoFactorRepository{db: db}
}

func (r *GormTwoFactorRepository) FindByUserID(userID uint) (*domain.TwoFactor, error) {
	var tf domain.TwoFactor
	err := r.db.Where("user_id = ?", userID).First(&tf).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "twofactor", "find_by_user_id", "not_found")
			return nil, ErrTwoFactorNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "twofactor", "find_by_user_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "twofactor", "find_by_user_id", "success")
	return &tf, nil
}

func (r *GormTwoFactorRepository) UpsertPending(userID uint, secret string) error {
	tf := domain.TwoFactor{UserID: userID, Secret: secret, Enabled: false}
	err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"secret", "enabled", "updated_at"}),
	}).Create(&tf).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "twofactor", "upsert_pending", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "twofactor", "upsert_pending", "success")
	return nil
}

func (r *GormTwoFactorRepository) Enable(userID uint) error {
	res := r.db.Model(&domain.TwoFactor{}).
		Where("user_id = ?", userID).
		Update("enabled", true)
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "twofactor", "enable", "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(context.Background(), "twofactor", "enable", "not_found")
		return ErrTwoFactorNotFound
	}
	observability.RecordRepositoryOperation(context.Background(), "twofactor", "enable", "success")
	return nil
}

func (r *GormTwoFactorRepository) Delete(userID uint) error {
	err := r.db.Where("user_id = ?", userID).Delete(&domain.TwoFactor{}).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "twofactor", "delete", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "twofactor", "delete", "success")
	return nil
}
