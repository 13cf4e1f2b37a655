package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/authkeel/authkeel/internal/autherr"
	"github.com/authkeel/authkeel/internal/domain"
	"github.com/authkeel/authkeel/internal/observability"
	"github.com/authkeel/authkeel/internal/repository"
	"github.com/authkeel/authkeel/internal/security"
)

type OrganizationService struct {
	orgs          repository.OrganizationRepository
	users         repository.UserRepository
	links         *security.LinkTokenManager
	mailer        Mailer
	invitationTTL time.Duration
}

func NewOrganizationService(orgs repository.OrganizationRepository, users repository.UserRepository, links *security.LinkTokenManager, mailer Mailer, invitationTTL time.Duration) *OrganizationService {
	return &OrganizationService{orgs: orgs, users: users, links: links, mailer: mailer, invitationTTL: invitationTTL}
}

// Create sets up an organization with its founding owner in one step, so
// no organization ever exists without an owner.
func (s *OrganizationService) Create(owner *domain.User, name, slug, logoURL string) (*domain.Organization, error) {
	slug = strings.ToLower(strings.TrimSpace(slug))
	if name == "" || slug == "" {
		return nil, fmt.Errorf("%w: name and slug are required", autherr.ErrInvalid)
	}
	if _, err := s.orgs.FindBySlug(slug); err == nil {
		return nil, fmt.Errorf("%w: slug already taken", autherr.ErrConflict)
	} else if !errors.Is(err, repository.ErrOrganizationNotFound) {
		return nil, err
	}
	org := &domain.Organization{Name: name, Slug: slug, LogoURL: logoURL}
	if err := s.orgs.Create(org); err != nil {
		return nil, err
	}
	member := &domain.Member{OrganizationID: org.ID, UserID: owner.ID, Role: domain.OrgRoleOwner}
	if err := s.orgs.CreateMember(member); err != nil {
		return nil, err
	}
	observability.RecordOrganizationEvent("created")
	return org, nil
}

// Invite creates a pending invitation. A pending invitation already
// addressed to the same email is replaced: the old one is canceled and a
// fresh one issued, so re-inviting bumps the expiry instead of failing.
func (s *OrganizationService) Invite(ctx context.Context, orgID uint, actor *domain.User, email, role string) (*domain.Invitation, error) {
	actingMember, err := s.requireMember(orgID, actor.ID)
	if err != nil {
		return nil, err
	}
	if !actingMember.CanManageMembers() {
		return nil, fmt.Errorf("%w: owner or admin role required to invite", autherr.ErrForbidden)
	}
	switch role {
	case domain.OrgRoleAdmin, domain.OrgRoleMember:
	case domain.OrgRoleOwner:
		if actingMember.Role != domain.OrgRoleOwner {
			return nil, fmt.Errorf("%w: only an owner may invite an owner", autherr.ErrForbidden)
		}
	default:
		return nil, fmt.Errorf("%w: unknown role %q", autherr.ErrInvalid, role)
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, fmt.Errorf("%w: email is required", autherr.ErrInvalid)
	}

	if existing, err := s.orgs.FindPendingInvitation(orgID, email); err == nil {
		if _, err := s.orgs.TransitionInvitation(existing.ID, domain.InvitationCanceled); err != nil {
			return nil, err
		}
	} else if !errors.Is(err, repository.ErrInvitationNotFound) {
		return nil, err
	}

	inv := &domain.Invitation{
		ID:             ulid.Make().String(),
		OrganizationID: orgID,
		Email:          email,
		Role:           role,
		Status:         domain.InvitationPending,
		InviterID:      actor.ID,
		ExpiresAt:      time.Now().Add(s.invitationTTL),
	}
	if err := s.orgs.CreateInvitation(inv); err != nil {
		return nil, err
	}
	s.dispatchInvitation(ctx, inv)
	observability.RecordOrganizationEvent("invited")
	return inv, nil
}

func (s *OrganizationService) dispatchInvitation(ctx context.Context, inv *domain.Invitation) {
	org, err := s.orgs.FindByID(inv.OrganizationID)
	if err != nil {
		slog.ErrorContext(ctx, "load organization for invitation email", "error", err, "invitation_id", inv.ID)
		return
	}
	token, err := s.links.Sign(0, security.PurposeInvitation, s.invitationTTL, func(c *security.LinkClaims) {
		c.InvitationID = inv.ID
	})
	if err != nil {
		slog.ErrorContext(ctx, "sign invitation token", "error", err, "invitation_id", inv.ID)
		return
	}
	// The invitation row stands even when the email cannot be delivered.
	if err := s.mailer.SendInvitation(ctx, inv.Email, org, token); err != nil {
		slog.ErrorContext(ctx, "dispatch invitation email", "error", err, "invitation_id", inv.ID)
	}
}

// Accept flips the invitation and creates the membership atomically.
func (s *OrganizationService) Accept(invitationID string, principal *domain.User) (*domain.Member, error) {
	inv, err := s.findInvitation(invitationID)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(inv.Email, principal.Email) {
		return nil, fmt.Errorf("%w: invitation addressed to a different email", autherr.ErrForbidden)
	}
	if inv.Status != domain.InvitationPending {
		return nil, fmt.Errorf("%w: invitation already %s", autherr.ErrConflict, inv.Status)
	}
	if time.Now().After(inv.ExpiresAt) {
		return nil, fmt.Errorf("%w: invitation expired", autherr.ErrNotFound)
	}
	member := &domain.Member{OrganizationID: inv.OrganizationID, UserID: principal.ID, Role: inv.Role}
	if err := s.orgs.AcceptInvitation(inv.ID, member); err != nil {
		if errors.Is(err, repository.ErrInvitationNotPending) {
			return nil, fmt.Errorf("%w: invitation already settled", autherr.ErrConflict)
		}
		return nil, err
	}
	observability.RecordOrganizationEvent("invitation_accepted")
	return member, nil
}

func (s *OrganizationService) Reject(invitationID string, principal *domain.User) error {
	inv, err := s.findInvitation(invitationID)
	if err != nil {
		return err
	}
	if !strings.EqualFold(inv.Email, principal.Email) {
		return fmt.Errorf("%w: invitation addressed to a different email", autherr.ErrForbidden)
	}
	ok, err := s.orgs.TransitionInvitation(inv.ID, domain.InvitationRejected)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: invitation already settled", autherr.ErrConflict)
	}
	observability.RecordOrganizationEvent("invitation_rejected")
	return nil
}

func (s *OrganizationService) Cancel(orgID uint, invitationID string, actor *domain.User) error {
	actingMember, err := s.requireMember(orgID, actor.ID)
	if err != nil {
		return err
	}
	if !actingMember.CanManageMembers() {
		return fmt.Errorf("%w: owner or admin role required", autherr.ErrForbidden)
	}
	inv, err := s.findInvitation(invitationID)
	if err != nil {
		return err
	}
	if inv.OrganizationID != orgID {
		return fmt.Errorf("%w: invitation", autherr.ErrNotFound)
	}
	ok, err := s.orgs.TransitionInvitation(inv.ID, domain.InvitationCanceled)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: invitation already settled", autherr.ErrConflict)
	}
	observability.RecordOrganizationEvent("invitation_canceled")
	return nil
}

// RemoveMember enforces the ownership guards: owner/admin may remove
// others, anyone may leave, only an owner may remove an owner, and the
// sole owner can be removed by nobody.
func (s *OrganizationService) RemoveMember(orgID, memberID uint, actor *domain.User) error {
	actingMember, err := s.requireMember(orgID, actor.ID)
	if err != nil {
		return err
	}
	target, err := s.orgs.FindMemberByID(orgID, memberID)
	if err != nil {
		if errors.Is(err, repository.ErrMemberNotFound) {
			return fmt.Errorf("%w: member", autherr.ErrNotFound)
		}
		return err
	}

	if target.Role == domain.OrgRoleOwner {
		owners, err := s.orgs.CountOwners(orgID)
		if err != nil {
			return err
		}
		if owners <= 1 {
			return fmt.Errorf("%w: cannot remove the sole owner", autherr.ErrForbidden)
		}
	}

	selfRemoval := target.UserID == actor.ID
	if !selfRemoval {
		if !actingMember.CanManageMembers() {
			return fmt.Errorf("%w: owner or admin role required", autherr.ErrForbidden)
		}
		if target.Role == domain.OrgRoleOwner && actingMember.Role != domain.OrgRoleOwner {
			return fmt.Errorf("%w: only an owner may remove an owner", autherr.ErrForbidden)
		}
	}

	if err := s.orgs.DeleteMember(orgID, memberID); err != nil {
		return err
	}
	observability.RecordOrganizationEvent("member_removed")
	return nil
}

func (s *OrganizationService) ListMembers(orgID uint, actor *domain.User) ([]domain.Member, error) {
	if _, err := s.requireMember(orgID, actor.ID); err != nil {
		return nil, err
	}
	return s.orgs.ListMembersByOrg(orgID)
}

func (s *OrganizationService) requireMember(orgID, userID uint) (*domain.Member, error) {
	member, err := s.orgs.FindMember(orgID, userID)
	if err != nil {
		if errors.Is(err, repository.ErrMemberNotFound) {
			return nil, fmt.Errorf("%w: not a member of organization %d", autherr.ErrForbidden, orgID)
		}
		return nil, err
	}
	return member, nil
}

func (s *OrganizationService) findInvitation(id string) (*domain.Invitation, error) {
	inv, err := s.orgs.FindInvitation(id)
	if err != nil {
		if errors.Is(err, repository.ErrInvitationNotFound) {
			return nil, fmt.Errorf("%w: invitation", autherr.ErrNotFound)
		}
		return nil, err
	}
	return inv, nil
}
