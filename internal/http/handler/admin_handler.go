package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/authkeel/authkeel/internal/http/response"
	"github.com/authkeel/authkeel/internal/repository"
	"github.com/authkeel/authkeel/internal/service"
)

type AdminHandler struct {
	admin *service.AdminService
}

func NewAdminHandler(admin *service.AdminService) *AdminHandler {
	return &AdminHandler{admin: admin}
}

func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	query := repository.UserListQuery{
		Email: q.Get("email"),
		Role:  q.Get("role"),
	}
	query.Page, _ = strconv.Atoi(q.Get("page"))
	query.PageSize, _ = strconv.Atoi(q.Get("page_size"))
	if raw := q.Get("banned"); raw != "" {
		banned := raw == "true"
		query.Banned = &banned
	}
	result, err := h.admin.ListUsers(id.User, query)
	if err != nil {
		response.Failure(w, r, err)
		return
	}
	views := make([]userView, 0, len(result.Items))
	for i := range result.Items {
		views = append(views, newUserView(&result.Items[i]))
	}
	response.JSON(w, r, http.StatusOK, map[string]any{
		"users":       views,
		"page":        result.Page,
		"page_size":   result.PageSize,
		"total":       result.Total,
		"total_pages": result.TotalPages,
	})
}

type adminCreateUserRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

func (h *AdminHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	var req adminCreateUserRequest
	if err := decode(r, &req); err != nil {
		response.Failure(w, r, err)
		return
	}
	user, err := h.admin.CreateUser(id.User, req.Email, req.Name, req.Password, req.Role)
	if err != nil {
		response.Failure(w, r, err)
		return
	}
	audit(r, "admin.user_created", "actor_id", id.User.ID, "user_id", user.ID)
	response.JSON(w, r, http.StatusCreated, newUserView(user))
}

type setRoleRequest struct {
	Role string `json:"role"`
}

func (h *AdminHandler) SetRole(w http.ResponseWriter, r *http.Request) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	userID, err := pathID(r, "user_id")
	if err != nil {
		response.Failure(w, r, err)
		return
	}
	var req setRoleRequest
	if err := decode(r, &req); err != nil {
		response.Failure(w, r, err)
		return
	}
	if err := h.admin.SetRole(id.User, userID, req.Role); err != nil {
		response.Failure(w, r, err)
		return
	}
	audit(r, "admin.role_set", "actor_id", id.User.ID, "user_id", userID, "role", req.Role)
	response.JSON(w, r, http.StatusOK, map[string]string{"role": req.Role})
}

type banRequest struct {
	Reason    string     `json:"reason"`
	ExpiresAt *time.Time `json:"expires_at"`
}

func (h *AdminHandler) Ban(w http.ResponseWriter, r *http.Request) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	userID, err := pathID(r, "user_id")
	if err != nil {
		response.Failure(w, r, err)
		return
	}
	var req banRequest
	if err := decode(r, &req); err != nil {
		response.Failure(w, r, err)
		return
	}
	if err := h.admin.Ban(id.User, userID, req.Reason, req.ExpiresAt); err != nil {
		response.Failure(w, r, err)
		return
	}
	audit(r, "admin.user_banned", "actor_id", id.User.ID, "user_id", userID)
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "banned"})
}

func (h *AdminHandler) Unban(w http.ResponseWriter, r *http.Request) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	userID, err := pathID(r, "user_id")
	if err != nil {
		response.Failure(w, r, err)
		return
	}
	if err := h.admin.Unban(id.User, userID); err != nil {
		response.Failure(w, r, err)
		return
	}
	audit(r, "admin.user_unbanned", "actor_id", id.User.ID, "user_id", userID)
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "unbanned"})
}

func (h *AdminHandler) RemoveUser(w http.ResponseWriter, r *http.Request) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	userID, err := pathID(r, "user_id")
	if err != nil {
		response.Failure(w, r, err)
		return
	}
	if err := h.admin.RemoveUser(id.User, userID); err != nil {
		response.Failure(w, r, err)
		return
	}
	audit(r, "admin.user_removed", "actor_id", id.User.ID, "user_id", userID)
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "removed"})
}
