package handler

import (
	"net/http"

	"github.com/authkeel/authkeel/internal/http/response"
	"github.com/authkeel/authkeel/internal/service"
)

type SessionHandler struct {
	sessions *service.SessionService
}

func NewSessionHandler(sessions *service.SessionService) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

type meResponse struct {
	User                 userView `json:"user"`
	SessionID            uint     `json:"session_id"`
	ActiveOrganizationID *uint    `json:"active_organization_id,omitempty"`
	ImpersonatedBy       *uint    `json:"impersonated_by,omitempty"`
}

func (h *SessionHandler) Me(w http.ResponseWriter, r *http.Request) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	response.JSON(w, r, http.StatusOK, meResponse{
		User:                 newUserView(id.User),
		SessionID:            id.Session.ID,
		ActiveOrganizationID: id.Session.ActiveOrganizationID,
		ImpersonatedBy:       id.Session.ImpersonatedBy,
	})
}

func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	views, err := h.sessions.List(id.User.ID, id.Session.ID)
	if err != nil {
		response.Failure(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"sessions": views})
}

func (h *SessionHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	sessionID, err := pathID(r, "session_id")
	if err != nil {
		response.Failure(w, r, err)
		return
	}
	currentRevoked, err := h.sessions.RevokeByID(id.User.ID, sessionID, id.Session.ID)
	if err != nil {
		response.Failure(w, r, err)
		return
	}
	audit(r, "session.revoked", "user_id", id.User.ID, "session_id", sessionID)
	if currentRevoked {
		clearSessionCookies(w)
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"revoked": true, "current": currentRevoked})
}

type setActiveOrganizationRequest struct {
	OrganizationID *uint `json:"organization_id"`
}

func (h *SessionHandler) SetActiveOrganization(w http.ResponseWriter, r *http.Request) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	var req setActiveOrganizationRequest
	if err := decode(r, &req); err != nil {
		response.Failure(w, r, err)
		return
	}
	if err := h.sessions.SetActiveOrganization(id.Session, req.OrganizationID); err != nil {
		response.Failure(w, r, err)
		return
	}
	audit(r, "session.organization_switched",
		"user_id", id.User.ID, "session_id", id.Session.ID)
	response.JSON(w, r, http.StatusOK, map[string]any{
		"active_organization_id": req.OrganizationID,
	})
}
