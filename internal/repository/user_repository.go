package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/authkeel/authkeel/internal/domain"
	"github.com/authkeel/authkeel/internal/observability"

	"gorm.io/gorm"
)

var ErrUserNotFound = errors.New("user not found")

type UserListQuery struct {
	PageRequest
	Email  string
	Role   string
	Banned *bool
}

type UserRepository interface {
	FindByID(id uint) (*domain.User, error)
	FindByEmail(email string) (*domain.User, error)
	Create(user *domain.User) error
	Update(user *domain.User) error
	ListPaged(query UserListQuery) (PageResult[domain.User], error)
	SetRole(userID uint, role string) error
	SetBan(userID uint, banned bool, reason *string, expiresAt *time.Time) error
	Anonymize(userID uint) error
}

type GormUserRepository struct{ db *gorm.DB }

func NewUserRepository(db *gorm.DB) UserRepository { return &GormUserRepository{db: db} }

func (r *GormUserRepository) FindByID(id uint) (*domain.User, error) {
	var u domain.User
	err := r.db.First(&u, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "user", "find_by_id", "not_found")
			return nil, ErrUserNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "user", "find_by_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "user", "find_by_id", "success")
	return &u, nil
}

func (r *GormUserRepository) FindByEmail(email string) (*domain.User, error) {
	var u domain.User
	err := r.db.Where("email = ?", strings.ToLower(email)).First(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "user", "find_by_email", "not_found")
			return nil, ErrUserNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "user", "find_by_email", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "user", "find_by_email", "success")
	return &u, nil
}

func (r *GormUserRepository) Create(user *domain.User) error {
	user.Email = strings.ToLower(user.Email)
	err := r.db.Create(user).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "user", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "user", "create", "success")
	return nil
}

func (r *GormUserRepository) Update(user *domain.User) error {
	err := r.db.Save(user).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "user", "update", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "user", "update", "success")
	return nil
}

func (r *GormUserRepository) ListPaged(query UserListQuery) (PageResult[domain.User], error) {
	req := normalizePageRequest(query.PageRequest)
	tx := r.db.Model(&domain.User{}).Where("deleted_at IS NULL")
	if query.Email != "" {
		tx = tx.Where("email LIKE ?", "%"+strings.ToLower(query.Email)+"%")
	}
	if query.Role != "" {
		tx = tx.Where("role = ?", query.Role)
	}
	if query.Banned != nil {
		tx = tx.Where("banned = ?", *query.Banned)
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		observability.RecordRepositoryOperation(context.Background(), "user", "list_paged", "error")
		return PageResult[domain.User]{}, err
	}

	var users []domain.User
	err := tx.Order("created_at DESC").
		Offset((req.Page - 1) * req.PageSize).
		Limit(req.PageSize).
		Find(&users).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "user", "list_paged", "error")
		return PageResult[domain.User]{}, err
	}
	observability.RecordRepositoryOperation(context.Background(), "user", "list_paged", "success")
	return PageResult[domain.User]{
		Items:      users,
		Page:       req.Page,
		PageSize:   req.PageSize,
		Total:      total,
		TotalPages: calcTotalPages(total, req.PageSize),
	}, nil
}

func (r *GormUserRepository) SetRole(userID uint, role string) error {
	res := r.db.Model(&domain.User{}).Where("id = ?", userID).Update("role", role)
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "user", "set_role", "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(context.Background(), "user", "set_role", "not_found")
		return ErrUserNotFound
	}
	observability.RecordRepositoryOperation(context.Background(), "user", "set_role", "success")
	return nil
}

func (r *GormUserRepository) SetBan(userID uint, banned bool, reason *string, expiresAt *time.Time) error {
	updates := map[string]any{
		"banned":         banned,
		"ban_reason":     reason,
		"ban_expires_at": expiresAt,
	}
	res := r.db.Model(&domain.User{}).Where("id = ?", userID).Updates(updates)
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "user", "set_ban", "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(context.Background(), "user", "set_ban", "not_found")
		return ErrUserNotFound
	}
	observability.RecordRepositoryOperation(context.Background(), "user", "set_ban", "success")
	return nil
}

// Anonymize is the soft lifecycle end: identity attributes are blanked so
// rows referenced by session or audit history keep a valid foreign key.
func (r *GormUserRepository) Anonymize(userID uint) error {
	now := time.Now().UTC()
	updates := map[string]any{
		"email":         fmt.Sprintf("deleted-%d@invalid.local", userID),
		"name":          "",
		"avatar_url":    "",
		"password_hash": "",
		"deleted_at":    now,
	}
	res := r.db.Model(&domain.User{}).Where("id = ? AND deleted_at IS NULL", userID).Updates(updates)
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "user", "anonymize", "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(context.Background(), "user", "anonymize", "not_found")
		return ErrUserNotFound
	}
	observability.RecordRepositoryOperation(context.Background(), "user", "anonymize", "success")
	return nil
}
