package service

import (
	"errors"
	"testing"
	"time"

	"github.com/authkeel/authkeel/internal/autherr"
	"github.com/authkeel/authkeel/internal/domain"
	"github.com/authkeel/authkeel/internal/repository"
)

func createAdmin(t *testing.T, users repository.UserRepository, email string) *domain.User {
	t.Helper()
	admin := createUser(t, users, email)
	admin.Role = domain.RoleAdmin
	if err := users.Update(admin); err != nil {
		t.Fatalf("promote admin: %v", err)
	}
	return admin
}

func newImpersonationStack(t *testing.T) (*ImpersonationService, *SessionService, repository.UserRepository) {
	t.Helper()
	db := newTestDB(t)
	users := repository.NewUserRepository(db)
	orgs := repository.NewOrganizationRepository(db)
	sessionsRepo := repository.NewSessionRepository(db)
	sessions := NewSessionService(sessionsRepo, users, orgs, "test-pepper", time.Hour)
	imp := NewImpersonationService(users, sessions, 30*time.Minute)
	return imp, sessions, users
}

func TestImpersonateRequiresAdmin(t *testing.T) {
	imp, _, users := newImpersonationStack(t)
	plain := createUser(t, users, "plain@example.com")
	target := createUser(t, users, "target@example.com")

	if _, err := imp.Impersonate(plain, target.ID, ClientMeta{}); !errors.Is(err, autherr.ErrForbidden) {
		t.Fatalf("non-admin error = %v, want forbidden", err)
	}
}

func TestImpersonateIssuesOverlaySession(t *testing.T) {
	imp, sessions, users := newImpersonationStack(t)
	admin := createAdmin(t, users, "admin@example.com")
	target := createUser(t, users, "target@example.com")

	adminSession, err := sessions.Create(admin, ClientMeta{})
	if err != nil {
		t.Fatalf("create admin session: %v", err)
	}

	issued, err := imp.Impersonate(admin, target.ID, ClientMeta{})
	if err != nil {
		t.Fatalf("impersonate: %v", err)
	}
	session, user, err := sessions.Validate(issued.Token)
	if err != nil {
		t.Fatalf("validate overlay: %v", err)
	}
	if user.ID != target.ID {
		t.Fatalf("overlay acts as user %d, want target %d", user.ID, target.ID)
	}
	if session.ImpersonatedBy == nil || *session.ImpersonatedBy != admin.ID {
		t.Fatal("overlay must record the acting admin")
	}

	if err := imp.Stop(session, issued.Token); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if _, _, err := sessions.Validate(issued.Token); !errors.Is(err, autherr.ErrUnauthenticated) {
		t.Fatalf("overlay after stop error = %v, want unauthenticated", err)
	}
	// The admin's own session was never touched.
	if _, _, err := sessions.Validate(adminSession.Token); err != nil {
		t.Fatalf("admin session should survive: %v", err)
	}
}

func TestImpersonateGuards(t *testing.T) {
	imp, sessions, users := newImpersonationStack(t)
	admin := createAdmin(t, users, "admin@example.com")

	if _, err := imp.Impersonate(admin, admin.ID, ClientMeta{}); !errors.Is(err, autherr.ErrInvalid) {
		t.Fatalf("self-impersonation error = %v, want invalid", err)
	}

	issued, err := sessions.Create(admin, ClientMeta{})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := imp.Stop(issued.Session, issued.Token); !errors.Is(err, autherr.ErrInvalid) {
		t.Fatalf("stopping a plain session error = %v, want invalid", err)
	}
}
