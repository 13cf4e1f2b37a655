package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/authkeel/authkeel/internal/autherr"
	"github.com/authkeel/authkeel/internal/domain"
	"github.com/authkeel/authkeel/internal/observability"
	"github.com/authkeel/authkeel/internal/repository"
	"github.com/authkeel/authkeel/internal/security"
)

// AdminService is the privileged user-management surface. Every operation
// re-checks the acting principal's role here, not only at the router.
type AdminService struct {
	users    repository.UserRepository
	sessions repository.SessionRepository
}

func NewAdminService(users repository.UserRepository, sessions repository.SessionRepository) *AdminService {
	return &AdminService{users: users, sessions: sessions}
}

func (s *AdminService) requireAdmin(actor *domain.User) error {
	if !actor.IsAdmin() {
		return fmt.Errorf("%w: admin role required", autherr.ErrForbidden)
	}
	return nil
}

func (s *AdminService) ListUsers(actor *domain.User, query repository.UserListQuery) (repository.PageResult[domain.User], error) {
	if err := s.requireAdmin(actor); err != nil {
		return repository.PageResult[domain.User]{}, err
	}
	return s.users.ListPaged(query)
}

func (s *AdminService) CreateUser(actor *domain.User, email, name, password, role string) (*domain.User, error) {
	if err := s.requireAdmin(actor); err != nil {
		return nil, err
	}
	if role != domain.RoleUser && role != domain.RoleAdmin {
		return nil, fmt.Errorf("%w: unknown role %q", autherr.ErrInvalid, role)
	}
	hash, err := security.HashPassword(password)
	if err != nil {
		return nil, err
	}
	user := &domain.User{Email: email, Name: name, PasswordHash: hash, Role: role}
	if err := s.users.Create(user); err != nil {
		return nil, err
	}
	observability.RecordAdminAction("user_created")
	return user, nil
}

func (s *AdminService) SetRole(actor *domain.User, userID uint, role string) error {
	if err := s.requireAdmin(actor); err != nil {
		return err
	}
	if role != domain.RoleUser && role != domain.RoleAdmin {
		return fmt.Errorf("%w: unknown role %q", autherr.ErrInvalid, role)
	}
	if actor.ID == userID && role != domain.RoleAdmin {
		return fmt.Errorf("%w: cannot drop your own admin role", autherr.ErrInvalid)
	}
	if err := s.setRole(userID, role); err != nil {
		return err
	}
	observability.RecordAdminAction("role_changed")
	return nil
}

func (s *AdminService) setRole(userID uint, role string) error {
	err := s.users.SetRole(userID, role)
	if errors.Is(err, repository.ErrUserNotFound) {
		return fmt.Errorf("%w: user", autherr.ErrNotFound)
	}
	return err
}

// Ban blocks sign-in and revokes every live session the user holds, so a
// ban takes effect immediately rather than at next sign-in.
func (s *AdminService) Ban(actor *domain.User, userID uint, reason string, expiresAt *time.Time) error {
	if err := s.requireAdmin(actor); err != nil {
		return err
	}
	if actor.ID == userID {
		return fmt.Errorf("%w: cannot ban yourself", autherr.ErrInvalid)
	}
	var reasonPtr *string
	if reason != "" {
		reasonPtr = &reason
	}
	if err := s.users.SetBan(userID, true, reasonPtr, expiresAt); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return fmt.Errorf("%w: user", autherr.ErrNotFound)
		}
		return err
	}
	if _, err := s.sessions.RevokeByUserID(userID, "banned"); err != nil {
		return err
	}
	observability.RecordAdminAction("user_banned")
	return nil
}

func (s *AdminService) Unban(actor *domain.User, userID uint) error {
	if err := s.requireAdmin(actor); err != nil {
		return err
	}
	if err := s.users.SetBan(userID, false, nil, nil); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return fmt.Errorf("%w: user", autherr.ErrNotFound)
		}
		return err
	}
	observability.RecordAdminAction("user_unbanned")
	return nil
}

// RemoveUser anonymizes the principal and revokes their sessions; history
// rows referencing the user survive.
func (s *AdminService) RemoveUser(actor *domain.User, userID uint) error {
	if err := s.requireAdmin(actor); err != nil {
		return err
	}
	if actor.ID == userID {
		return fmt.Errorf("%w: cannot remove yourself", autherr.ErrInvalid)
	}
	if err := s.users.Anonymize(userID); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return fmt.Errorf("%w: user", autherr.ErrNotFound)
		}
		return err
	}
	if _, err := s.sessions.RevokeByUserID(userID, "user_removed"); err != nil {
		return err
	}
	observability.RecordAdminAction("user_removed")
	return nil
}
