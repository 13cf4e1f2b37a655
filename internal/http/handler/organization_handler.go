package handler

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/authkeel/authkeel/internal/autherr"
	"github.com/authkeel/authkeel/internal/http/response"
	"github.com/authkeel/authkeel/internal/service"
)

type OrganizationHandler struct {
	orgs *service.OrganizationService
}

func NewOrganizationHandler(orgs *service.OrganizationService) *OrganizationHandler {
	return &OrganizationHandler{orgs: orgs}
}

type createOrganizationRequest struct {
	Name    string `json:"name"`
	Slug    string `json:"slug"`
	LogoURL string `json:"logo_url"`
}

func (h *OrganizationHandler) Create(w http.ResponseWriter, r *http.Request) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	var req createOrganizationRequest
	if err := decode(r, &req); err != nil {
		response.Failure(w, r, err)
		return
	}
	org, err := h.orgs.Create(id.User, req.Name, req.Slug, req.LogoURL)
	if err != nil {
		response.Failure(w, r, err)
		return
	}
	audit(r, "organization.created", "user_id", id.User.ID, "organization_id", org.ID)
	response.JSON(w, r, http.StatusCreated, org)
}

type inviteRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

func (h *OrganizationHandler) Invite(w http.ResponseWriter, r *http.Request) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	orgID, err := pathID(r, "org_id")
	if err != nil {
		response.Failure(w, r, err)
		return
	}
	var req inviteRequest
	if err := decode(r, &req); err != nil {
		response.Failure(w, r, err)
		return
	}
	inv, err := h.orgs.Invite(r.Context(), orgID, id.User, req.Email, req.Role)
	if err != nil {
		response.Failure(w, r, err)
		return
	}
	audit(r, "organization.invited",
		"user_id", id.User.ID, "organization_id", orgID, "invitation_id", inv.ID)
	response.JSON(w, r, http.StatusCreated, inv)
}

func (h *OrganizationHandler) CancelInvitation(w http.ResponseWriter, r *http.Request) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	orgID, err := pathID(r, "org_id")
	if err != nil {
		response.Failure(w, r, err)
		return
	}
	invitationID := chi.URLParam(r, "invitation_id")
	if invitationID == "" {
		response.Failure(w, r, fmt.Errorf("%w: bad invitation_id", autherr.ErrInvalid))
		return
	}
	if err := h.orgs.Cancel(orgID, invitationID, id.User); err != nil {
		response.Failure(w, r, err)
		return
	}
	audit(r, "organization.invitation_canceled",
		"user_id", id.User.ID, "organization_id", orgID, "invitation_id", invitationID)
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "canceled"})
}

func (h *OrganizationHandler) AcceptInvitation(w http.ResponseWriter, r *http.Request) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	invitationID := chi.URLParam(r, "invitation_id")
	member, err := h.orgs.Accept(invitationID, id.User)
	if err != nil {
		response.Failure(w, r, err)
		return
	}
	audit(r, "organization.invitation_accepted",
		"user_id", id.User.ID, "organization_id", member.OrganizationID, "invitation_id", invitationID)
	response.JSON(w, r, http.StatusOK, member)
}

func (h *OrganizationHandler) RejectInvitation(w http.ResponseWriter, r *http.Request) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	invitationID := chi.URLParam(r, "invitation_id")
	if err := h.orgs.Reject(invitationID, id.User); err != nil {
		response.Failure(w, r, err)
		return
	}
	audit(r, "organization.invitation_rejected",
		"user_id", id.User.ID, "invitation_id", invitationID)
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "rejected"})
}

func (h *OrganizationHandler) ListMembers(w http.ResponseWriter, r *http.Request) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	orgID, err := pathID(r, "org_id")
	if err != nil {
		response.Failure(w, r, err)
		return
	}
	members, err := h.orgs.ListMembers(orgID, id.User)
	if err != nil {
		response.Failure(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"members": members})
}

func (h *OrganizationHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	orgID, err := pathID(r, "org_id")
	if err != nil {
		response.Failure(w, r, err)
		return
	}
	memberID, err := pathID(r, "member_id")
	if err != nil {
		response.Failure(w, r, err)
		return
	}
	if err := h.orgs.RemoveMember(orgID, memberID, id.User); err != nil {
		response.Failure(w, r, err)
		return
	}
	audit(r, "organization.member_removed",
		"user_id", id.User.ID, "organization_id", orgID, "member_id", memberID)
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "removed"})
}
