package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/authkeel/authkeel/internal/domain"
	"github.com/authkeel/authkeel/internal/observability"

	"gorm.io/gorm"
)

var (
	ErrOrganizationNotFound = errors.New("organization not found")
	ErrMemberNotFound       = errors.New("member not found")
	ErrInvitationNotFound   = errors.New("invitation not found")
	ErrInvitationNotPending = errors.New("invitation is not pending")
)

type OrganizationRepository interface {
	Create(org *domain.Organization) error
	FindByID(id uint) (*domain.Organization, error)
	FindBySlug(slug string) (*domain.Organization, error)

	CreateMember(m *domain.Member) error
	FindMember(orgID, userID uint) (*domain.Member, error)
	FindMemberByID(orgID, memberID uint) (*domain.Member, error)
	ListMembersByOrg(orgID uint) ([]domain.Member, error)
	ListMembershipsByUser(userID uint) ([]domain.Member, error)
	CountOwners(orgID uint) (int64, error)
	DeleteMember(orgID, memberID uint) error

	CreateInvitation(inv *domain.Invitation) error
	FindInvitation(id string) (*domain.Invitation, error)
	FindPendingInvitation(orgID uint, email string) (*domain.Invitation, error)
	// TransitionInvitation moves a pending invitation to a terminal status;
	// false when it already left pending.
	TransitionInvitation(id, toStatus string) (bool, error)
	// AcceptInvitation flips the status and inserts the membership in one
	// transaction so there is no accepted-but-no-member state.
	AcceptInvitation(id string, member *domain.Member) error
}

type GormOrganizationRepository struct{ db *gorm.DB }

func NewOrganizationRepository(db *gorm.DB) OrganizationRepository {
	return &GormOrganizationRepository{db: db}
}

func (r *GormOrganizationRepository) Create(org *domain.Organization) error {
	err := r.db.Create(org).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "organization", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "organization", "create", "success")
	return nil
}

func (r *GormOrganizationRepository) FindByID(id uint) (*domain.Organization, error) {
	var org domain.Organization
	err := r.db.First(&org, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "organization", "find_by_id", "not_found")
			return nil, ErrOrganizationNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "organization", "find_by_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "organization", "find_by_id", "success")
	return &org, nil
}

func (r *GormOrganizationRepository) FindBySlug(slug string) (*domain.Organization, error) {
	var org domain.Organization
	err := r.db.Where("slug = ?", strings.ToLower(slug)).First(&org).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "organization", "find_by_slug", "not_found")
			return nil, ErrOrganizationNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "organization", "find_by_slug", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "organization", "find_by_slug", "success")
	return &org, nil
}

func (r *GormOrganizationRepository) CreateMember(m *domain.Member) error {
	err := r.db.Create(m).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "member", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "member", "create", "success")
	return nil
}

func (r *GormOrganizationRepository) FindMember(orgID, userID uint) (*domain.Member, error) {
	var m domain.Member
	err := r.db.Where("organization_id = ? AND user_id = ?", orgID, userID).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "member", "find", "not_found")
			return nil, ErrMemberNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "member", "find", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "member", "find", "success")
	return &m, nil
}

func (r *GormOrganizationRepository) FindMemberByID(orgID, memberID uint) (*domain.Member, error) {
	var m domain.Member
	err := r.db.Where("organization_id = ? AND id = ?", orgID, memberID).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "member", "find_by_id", "not_found")
			return nil, ErrMemberNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "member", "find_by_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "member", "find_by_id", "success")
	return &m, nil
}

func (r *GormOrganizationRepository) ListMembersByOrg(orgID uint) ([]domain.Member, error) {
	var members []domain.Member
	err := r.db.Where("organization_id = ?", orgID).Order("created_at ASC").Find(&members).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "member", "list_by_org", "error")
		return members, err
	}
	observability.RecordRepositoryOperation(context.Background(), "member", "list_by_org", "success")
	return members, nil
}

func (r *GormOrganizationRepository) ListMembershipsByUser(userID uint) ([]domain.Member, error) {
	var members []domain.Member
	err := r.db.Where("user_id = ?", userID).Order("created_at ASC").Find(&members).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "member", "list_by_user", "error")
		return members, err
	}
	observability.RecordRepositoryOperation(context.Background(), "member", "list_by_user", "success")
	return members, nil
}

func (r *GormOrganizationRepository) CountOwners(orgID uint) (int64, error) {
	var count int64
	err := r.db.Model(&domain.Member{}).
		Where("organization_id = ? AND role = ?", orgID, domain.OrgRoleOwner).
		Count(&count).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "member", "count_owners", "error")
		return 0, err
	}
	observability.RecordRepositoryOperation(context.Background(), "member", "count_owners", "success")
	return count, nil
}

func (r *GormOrganizationRepository) DeleteMember(orgID, memberID uint) error {
	res := r.db.Where("organization_id = ? AND id = ?", orgID, memberID).Delete(&domain.Member{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "member", "delete", "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(context.Background(), "member", "delete", "not_found")
		return ErrMemberNotFound
	}
	observability.RecordRepositoryOperation(context.Background(), "member", "delete", "success")
	return nil
}

func (r *GormOrganizationRepository) CreateInvitation(inv *domain.Invitation) error {
	inv.Email = strings.ToLower(inv.Email)
	err := r.db.Create(inv).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "invitation", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "invitation", "create", "success")
	return nil
}

func (r *GormOrganizationRepository) FindInvitation(id string) (*domain.Invitation, error) {
	var inv domain.Invitation
	err := r.db.Where("id = ?", id).First(&inv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "invitation", "find", "not_found")
			return nil, ErrInvitationNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "invitation", "find", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "invitation", "find", "success")
	return &inv, nil
}

func (r *GormOrganizationRepository) FindPendingInvitation(orgID uint, email string) (*domain.Invitation, error) {
	var inv domain.Invitation
	err := r.db.Where("organization_id = ? AND email = ? AND status = ?",
		orgID, strings.ToLower(email), domain.InvitationPending).First(&inv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "invitation", "find_pending", "not_found")
			return nil, ErrInvitationNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "invitation", "find_pending", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "invitation", "find_pending", "success")
	return &inv, nil
}

func (r *GormOrganizationRepository) TransitionInvitation(id, toStatus string) (bool, error) {
	res := r.db.Model(&domain.Invitation{}).
		Where("id = ? AND status = ?", id, domain.InvitationPending).
		Update("status", toStatus)
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "invitation", "transition", "error")
		return false, res.Error
	}
	observability.RecordRepositoryOperation(context.Background(), "invitation", "transition", "success")
	return res.RowsAffected > 0, nil
}

func (r *GormOrganizationRepository) AcceptInvitation(id string, member *domain.Member) error {
	err := r.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.Invitation{}).
			Where("id = ? AND status = ? AND expires_at > ?", id, domain.InvitationPending, time.Now()).
			Update("status", domain.InvitationAccepted)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrInvitationNotPending
		}
		return tx.Create(member).Error
	})
	if err != nil {
		if errors.Is(err, ErrInvitationNotPending) {
			observability.RecordRepositoryOperation(context.Background(), "invitation", "accept", "conflict")
		} else {
			observability.RecordRepositoryOperation(context.Background(), "invitation", "accept", "error")
		}
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "invitation", "accept", "success")
	return nil
}
