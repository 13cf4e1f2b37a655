package service

import (
	"fmt"
	"time"

	"github.com/authkeel/authkeel/internal/autherr"
	"github.com/authkeel/authkeel/internal/domain"
	"github.com/authkeel/authkeel/internal/observability"
	"github.com/authkeel/authkeel/internal/repository"
)

// ImpersonationService lets an admin temporarily act as another principal.
// The overlay is a separate short-lived session carrying the admin's id in
// impersonated_by; the admin's own session is never touched, so stopping
// is a pure revoke plus a client-side switch back.
type ImpersonationService struct {
	users    repository.UserRepository
	sessions *SessionService
	ttl      time.Duration
}

func NewImpersonationService(users repository.UserRepository, sessions *SessionService, ttl time.Duration) *ImpersonationService {
	return &ImpersonationService{users: users, sessions: sessions, ttl: ttl}
}

func (s *ImpersonationService) Impersonate(admin *domain.User, targetID uint, meta ClientMeta) (*IssuedSession, error) {
	if !admin.IsAdmin() {
		return nil, fmt.Errorf("%w: admin role required", autherr.ErrForbidden)
	}
	if admin.ID == targetID {
		return nil, fmt.Errorf("%w: cannot impersonate yourself", autherr.ErrInvalid)
	}
	target, err := s.users.FindByID(targetID)
	if err != nil {
		return nil, err
	}
	adminID := admin.ID
	issued, err := s.sessions.issue(target, meta, &adminID, s.ttl)
	if err != nil {
		return nil, err
	}
	observability.RecordAdminAction("impersonate")
	return issued, nil
}

// Stop revokes the impersonated session. The caller resumes the original
// admin session, which was valid the whole time.
func (s *ImpersonationService) Stop(session *domain.Session, token string) error {
	if session.ImpersonatedBy == nil {
		return fmt.Errorf("%w: session is not impersonated", autherr.ErrInvalid)
	}
	if err := s.sessions.RevokeToken(token, "impersonation_stopped"); err != nil {
		return err
	}
	observability.RecordAdminAction("impersonation_stop")
	return nil
}
