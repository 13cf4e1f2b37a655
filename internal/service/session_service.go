package service

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/authkeel/authkeel/internal/autherr"
	"github.com/authkeel/authkeel/internal/domain"
	"github.com/authkeel/authkeel/internal/observability"
	"github.com/authkeel/authkeel/internal/repository"
	"github.com/authkeel/authkeel/internal/security"
)

// ClientMeta is the request context a session is stamped with.
type ClientMeta struct {
	UserAgent string
	IP        string
}

// IssuedSession pairs the raw bearer token (returned to the client exactly
// once) with its persisted row and the principal it belongs to.
type IssuedSession struct {
	Token   string
	Session *domain.Session
	User    *domain.User
}

type SessionView struct {
	ID                   uint       `json:"id"`
	CreatedAt            time.Time  `json:"created_at"`
	ExpiresAt            time.Time  `json:"expires_at"`
	UserAgent            string     `json:"user_agent"`
	IP                   string     `json:"ip"`
	ActiveOrganizationID *uint      `json:"active_organization_id,omitempty"`
	ImpersonatedBy       *uint      `json:"impersonated_by,omitempty"`
	IsCurrent            bool       `json:"is_current"`
}

type SessionService struct {
	sessions repository.SessionRepository
	users    repository.UserRepository
	orgs     repository.OrganizationRepository
	pepper   string
	ttl      time.Duration
}

func NewSessionService(sessions repository.SessionRepository, users repository.UserRepository, orgs repository.OrganizationRepository, pepper string, ttl time.Duration) *SessionService {
	return &SessionService{sessions: sessions, users: users, orgs: orgs, pepper: pepper, ttl: ttl}
}

// Create issues a fresh session for user. When the user belongs to at least
// one organization the session is born scoped to the first membership, so a
// member lands in their organization context immediately.
func (s *SessionService) Create(user *domain.User, meta ClientMeta) (*IssuedSession, error) {
	return s.issue(user, meta, nil, s.ttl)
}

func (s *SessionService) issue(user *domain.User, meta ClientMeta, impersonatedBy *uint, ttl time.Duration) (*IssuedSession, error) {
	token, err := security.NewOpaqueToken()
	if err != nil {
		return nil, err
	}
	session := &domain.Session{
		UserID:         user.ID,
		TokenHash:      security.HashToken(token, s.pepper),
		UserAgent:      meta.UserAgent,
		IP:             meta.IP,
		ImpersonatedBy: impersonatedBy,
		ExpiresAt:      time.Now().Add(ttl),
	}
	if memberships, err := s.orgs.ListMembershipsByUser(user.ID); err == nil && len(memberships) > 0 {
		session.ActiveOrganizationID = &memberships[0].OrganizationID
	}
	if err := s.sessions.Create(session); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}
	return &IssuedSession{Token: token, Session: session, User: user}, nil
}

// Validate resolves a bearer token to its session and principal. Expired,
// revoked and unknown tokens are logged and counted apart but all deny.
func (s *SessionService) Validate(token string) (*domain.Session, *domain.User, error) {
	if token == "" {
		observability.RecordSessionValidation("missing")
		return nil, nil, autherr.ErrUnauthenticated
	}
	session, err := s.sessions.FindByTokenHash(security.HashToken(token, s.pepper))
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			observability.RecordSessionValidation("not_found")
			return nil, nil, autherr.ErrUnauthenticated
		}
		return nil, nil, err
	}
	now := time.Now()
	switch {
	case session.RevokedAt != nil:
		observability.RecordSessionValidation("revoked")
		slog.Debug("session validation denied", "outcome", "revoked", "session_id", session.ID)
		return nil, nil, autherr.ErrUnauthenticated
	case !now.Before(session.ExpiresAt):
		observability.RecordSessionValidation("expired")
		slog.Debug("session validation denied", "outcome", "expired", "session_id", session.ID)
		return nil, nil, autherr.ErrUnauthenticated
	}
	user, err := s.users.FindByID(session.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			observability.RecordSessionValidation("orphaned")
			return nil, nil, autherr.ErrUnauthenticated
		}
		return nil, nil, err
	}
	if user.BanActive(now) || user.DeletedAt != nil {
		observability.RecordSessionValidation("banned")
		return nil, nil, autherr.ErrUnauthenticated
	}
	observability.RecordSessionValidation("valid")
	return session, user, nil
}

func (s *SessionService) List(userID, currentSessionID uint) ([]SessionView, error) {
	sessions, err := s.sessions.ListActiveByUserID(userID)
	if err != nil {
		return nil, err
	}
	views := make([]SessionView, 0, len(sessions))
	for _, session := range sessions {
		views = append(views, SessionView{
			ID:                   session.ID,
			CreatedAt:            session.CreatedAt,
			ExpiresAt:            session.ExpiresAt,
			UserAgent:            session.UserAgent,
			IP:                   session.IP,
			ActiveOrganizationID: session.ActiveOrganizationID,
			ImpersonatedBy:       session.ImpersonatedBy,
			IsCurrent:            session.ID == currentSessionID,
		})
	}
	return views, nil
}

// RevokeToken terminates the session behind token. Used by sign-out; the
// caller's client drops the active marker and selects another session or
// signs out entirely.
func (s *SessionService) RevokeToken(token, reason string) error {
	changed, err := s.sessions.RevokeByTokenHash(security.HashToken(token, s.pepper), reason)
	if err != nil {
		return err
	}
	if !changed {
		return fmt.Errorf("%w: session", autherr.ErrNotFound)
	}
	return nil
}

// RevokeByID terminates one of the caller's sessions. The bool result tells
// the caller whether they revoked the session they are currently on.
func (s *SessionService) RevokeByID(userID, sessionID, currentSessionID uint) (bool, error) {
	changed, err := s.sessions.RevokeByIDForUser(userID, sessionID, "user_session_revoked")
	if err != nil {
		return false, err
	}
	if !changed {
		return false, fmt.Errorf("%w: session", autherr.ErrNotFound)
	}
	return sessionID == currentSessionID, nil
}

// SetActiveOrganization scopes the session to orgID, or clears it back to
// the personal context when orgID is nil. The caller must be a member of
// the target organization.
func (s *SessionService) SetActiveOrganization(session *domain.Session, orgID *uint) error {
	if orgID != nil {
		if _, err := s.orgs.FindMember(*orgID, session.UserID); err != nil {
			if errors.Is(err, repository.ErrMemberNotFound) {
				return fmt.Errorf("%w: not a member of organization %d", autherr.ErrForbidden, *orgID)
			}
			return err
		}
	}
	if err := s.sessions.SetActiveOrganization(session.ID, orgID); err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return autherr.ErrUnauthenticated
		}
		return err
	}
	session.ActiveOrganizationID = orgID
	return nil
}
