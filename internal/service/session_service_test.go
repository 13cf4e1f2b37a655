package service

import (
	"errors"
	"testing"
	"time"

	"github.com/authkeel/authkeel/internal/autherr"
	"github.com/authkeel/authkeel/internal/domain"
	"github.com/authkeel/authkeel/internal/repository"
)

func newSessionServiceForTest(t *testing.T, ttl time.Duration) (*SessionService, repository.UserRepository, repository.OrganizationRepository) {
	t.Helper()
	db := newTestDB(t)
	users := repository.NewUserRepository(db)
	sessions := repository.NewSessionRepository(db)
	orgs := repository.NewOrganizationRepository(db)
	return NewSessionService(sessions, users, orgs, "test-pepper", ttl), users, orgs
}

func TestSessionCreateAndValidate(t *testing.T) {
	svc, users, _ := newSessionServiceForTest(t, time.Hour)
	user := createUser(t, users, "amy@example.com")

	issued, err := svc.Create(user, ClientMeta{UserAgent: "cli/1.0", IP: "10.0.0.1"})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if issued.Token == "" || issued.Session.ID == 0 {
		t.Fatal("expected a token and a persisted session")
	}
	if issued.User == nil || issued.User.ID != user.ID {
		t.Fatal("expected issued session to carry its user")
	}

	session, got, err := svc.Validate(issued.Token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if session.ID != issued.Session.ID || got.ID != user.ID {
		t.Fatal("validate resolved the wrong session or user")
	}

	if _, _, err := svc.Validate("not-a-token"); !errors.Is(err, autherr.ErrUnauthenticated) {
		t.Fatalf("unknown token error = %v, want unauthenticated", err)
	}
}

func TestSessionValidateRevoked(t *testing.T) {
	svc, users, _ := newSessionServiceForTest(t, time.Hour)
	user := createUser(t, users, "amy@example.com")

	issued, err := svc.Create(user, ClientMeta{})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := svc.RevokeToken(issued.Token, "sign_out"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, _, err := svc.Validate(issued.Token); !errors.Is(err, autherr.ErrUnauthenticated) {
		t.Fatalf("revoked token error = %v, want unauthenticated", err)
	}
}

func TestSessionValidateExpired(t *testing.T) {
	svc, users, _ := newSessionServiceForTest(t, -time.Minute)
	user := createUser(t, users, "amy@example.com")

	issued, err := svc.Create(user, ClientMeta{})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, _, err := svc.Validate(issued.Token); !errors.Is(err, autherr.ErrUnauthenticated) {
		t.Fatalf("expired token error = %v, want unauthenticated", err)
	}
}

func TestSessionValidateBannedUser(t *testing.T) {
	svc, users, _ := newSessionServiceForTest(t, time.Hour)
	user := createUser(t, users, "amy@example.com")
	issued, err := svc.Create(user, ClientMeta{})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	if err := users.SetBan(user.ID, true, nil, nil); err != nil {
		t.Fatalf("ban: %v", err)
	}
	if _, _, err := svc.Validate(issued.Token); !errors.Is(err, autherr.ErrUnauthenticated) {
		t.Fatalf("banned user token error = %v, want unauthenticated", err)
	}
}

func TestSessionCreateBindsFirstMembership(t *testing.T) {
	svc, users, orgs := newSessionServiceForTest(t, time.Hour)
	user := createUser(t, users, "amy@example.com")

	org := &domain.Organization{Name: "Acme", Slug: "acme"}
	if err := orgs.Create(org); err != nil {
		t.Fatalf("create org: %v", err)
	}
	if err := orgs.CreateMember(&domain.Member{OrganizationID: org.ID, UserID: user.ID, Role: domain.OrgRoleOwner}); err != nil {
		t.Fatalf("create member: %v", err)
	}

	issued, err := svc.Create(user, ClientMeta{})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if issued.Session.ActiveOrganizationID == nil || *issued.Session.ActiveOrganizationID != org.ID {
		t.Fatal("expected session to be born scoped to the first membership")
	}
}

func TestSessionListMarksCurrent(t *testing.T) {
	svc, users, _ := newSessionServiceForTest(t, time.Hour)
	user := createUser(t, users, "amy@example.com")

	first, err := svc.Create(user, ClientMeta{UserAgent: "laptop"})
	if err != nil {
		t.Fatalf("create first: %v", err)
	}
	second, err := svc.Create(user, ClientMeta{UserAgent: "phone"})
	if err != nil {
		t.Fatalf("create second: %v", err)
	}

	views, err := svc.List(user.ID, second.Session.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(views))
	}
	for _, v := range views {
		wantCurrent := v.ID == second.Session.ID
		if v.IsCurrent != wantCurrent {
			t.Fatalf("session %d IsCurrent = %v, want %v", v.ID, v.IsCurrent, wantCurrent)
		}
	}
	_ = first
}

func TestSessionRevokeByID(t *testing.T) {
	svc, users, _ := newSessionServiceForTest(t, time.Hour)
	user := createUser(t, users, "amy@example.com")

	first, err := svc.Create(user, ClientMeta{})
	if err != nil {
		t.Fatalf("create first: %v", err)
	}
	second, err := svc.Create(user, ClientMeta{})
	if err != nil {
		t.Fatalf("create second: %v", err)
	}

	currentRevoked, err := svc.RevokeByID(user.ID, first.Session.ID, second.Session.ID)
	if err != nil {
		t.Fatalf("revoke sibling: %v", err)
	}
	if currentRevoked {
		t.Fatal("revoking a sibling must not report the current session revoked")
	}
	if _, _, err := svc.Validate(second.Token); err != nil {
		t.Fatalf("current session should survive: %v", err)
	}

	currentRevoked, err = svc.RevokeByID(user.ID, second.Session.ID, second.Session.ID)
	if err != nil {
		t.Fatalf("revoke current: %v", err)
	}
	if !currentRevoked {
		t.Fatal("expected current session to be reported revoked")
	}

	if _, err := svc.RevokeByID(user.ID, 99999, second.Session.ID); !errors.Is(err, autherr.ErrNotFound) {
		t.Fatalf("unknown session error = %v, want not found", err)
	}
}

func TestSetActiveOrganizationRequiresMembership(t *testing.T) {
	svc, users, orgs := newSessionServiceForTest(t, time.Hour)
	user := createUser(t, users, "amy@example.com")
	outsider := createUser(t, users, "iri@example.com")

	org := &domain.Organization{Name: "Acme", Slug: "acme"}
	if err := orgs.Create(org); err != nil {
		t.Fatalf("create org: %v", err)
	}
	if err := orgs.CreateMember(&domain.Member{OrganizationID: org.ID, UserID: user.ID, Role: domain.OrgRoleMember}); err != nil {
		t.Fatalf("create member: %v", err)
	}

	memberSession, err := svc.Create(user, ClientMeta{})
	if err != nil {
		t.Fatalf("create member session: %v", err)
	}
	if err := svc.SetActiveOrganization(memberSession.Session, &org.ID); err != nil {
		t.Fatalf("member should switch into its organization: %v", err)
	}
	if err := svc.SetActiveOrganization(memberSession.Session, nil); err != nil {
		t.Fatalf("clearing the active organization should work: %v", err)
	}

	outsiderSession, err := svc.Create(outsider, ClientMeta{})
	if err != nil {
		t.Fatalf("create outsider session: %v", err)
	}
	if err := svc.SetActiveOrganization(outsiderSession.Session, &org.ID); !errors.Is(err, autherr.ErrForbidden) {
		t.Fatalf("outsider switch error = %v, want forbidden", err)
	}
}
