package repository

import (
	"context"
	"errors"

	"github.com/authkeel/authkeel/internal/domain"
	"github.com/authkeel/authkeel/internal/observability"

	"gorm.io/gorm"
)

var ErrAccountNotFound = errors.New("account not found")

type AccountRepository interface {
	Create(a *domain.Account) error
	FindByProviderAccount(provider, providerAccountID string) (*domain.Account, error)
	ListByUser(userID uint) ([]domain.Account, error)
}

type GormAccountRepository struct{ db *gorm.DB }

func NewAccountRepository(db *gorm.DB) AccountRepository { return &GormAccountRepository{db: db} }

func (r *GormAccountRepository) Create(a *domain.Account) error {
	err := r.db.Create(a).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "account", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "account", "create", "success")
	return nil
}

func (r *GormAccountRepository) FindByProviderAccount(provider, providerAccountID string) (*domain.Account, error) {
	var a domain.Account
	err := r.db.Where("provider = ? AND provider_account_id = ?", provider, providerAccountID).First(&a).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "account", "find_by_provider", "not_found")
			return nil, ErrAccountNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "account", "find_by_provider", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "account", "find_by_provider", "success")
	return &a, nil
}

func (r *GormAccountRepository) ListByUser(userID uint) ([]domain.Account, error) {
	var accounts []domain.Account
	err := r.db.Where("user_id = ?", userID).Find(&accounts).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "account", "list_by_user", "error")
		return accounts, err
	}
	observability.RecordRepositoryOperation(context.Background(), "account", "list_by_user", "success")
	return accounts, nil
}
