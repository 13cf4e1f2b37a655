package handler

import (
	"net/http"

	"github.com/authkeel/authkeel/internal/http/response"
	"github.com/authkeel/authkeel/internal/service"
)

type ImpersonationHandler struct {
	impersonation *service.ImpersonationService
}

func NewImpersonationHandler(impersonation *service.ImpersonationService) *ImpersonationHandler {
	return &ImpersonationHandler{impersonation: impersonation}
}

// Start issues a short-lived session acting as the target user. The admin's
// own session stays untouched; the returned token is what carries the
// impersonation.
func (h *ImpersonationHandler) Start(w http.ResponseWriter, r *http.Request) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	targetID, err := pathID(r, "user_id")
	if err != nil {
		response.Failure(w, r, err)
		return
	}
	issued, err := h.impersonation.Impersonate(id.User, targetID, clientMeta(r))
	if err != nil {
		response.Failure(w, r, err)
		return
	}
	audit(r, "impersonation.started",
		"actor_id", id.User.ID, "target_id", targetID, "session_id", issued.Session.ID)
	issueSessionResponse(w, r, issued, issued.User, http.StatusCreated)
}

// Stop revokes the impersonated session the request rode in on. Only works
// from a session that was issued by Start.
func (h *ImpersonationHandler) Stop(w http.ResponseWriter, r *http.Request) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	if err := h.impersonation.Stop(id.Session, id.Token); err != nil {
		response.Failure(w, r, err)
		return
	}
	audit(r, "impersonation.stopped",
		"target_id", id.User.ID, "session_id", id.Session.ID)
	clearSessionCookies(w)
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "stopped"})
}
