package handler

import (
	"net/http"
	"time"

	"github.com/authkeel/authkeel/internal/http/response"
	"github.com/authkeel/authkeel/internal/service"
)

type DeviceHandler struct {
	device *service.DeviceFlowService
}

func NewDeviceHandler(device *service.DeviceFlowService) *DeviceHandler {
	return &DeviceHandler{device: device}
}

// Start opens a pairing window for an input-constrained device. No session
// required: the device side of the flow is anonymous until approval.
func (h *DeviceHandler) Start(w http.ResponseWriter, r *http.Request) {
	start, err := h.device.Start()
	if err != nil {
		response.Failure(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusCreated, start)
}

type devicePollRequest struct {
	DeviceCode string `json:"device_code"`
}

func (h *DeviceHandler) Poll(w http.ResponseWriter, r *http.Request) {
	var req devicePollRequest
	if err := decode(r, &req); err != nil {
		response.Failure(w, r, err)
		return
	}
	issued, err := h.device.Poll(r.Context(), req.DeviceCode, clientMeta(r))
	if err != nil {
		response.Failure(w, r, err)
		return
	}
	audit(r, "device.exchanged", "user_id", issued.Session.UserID)
	response.JSON(w, r, http.StatusOK, sessionPayload{
		Token:     issued.Token,
		ExpiresAt: issued.Session.ExpiresAt,
		User:      newUserView(issued.User),
	})
}

type deviceGrantView struct {
	UserCode  string    `json:"user_code"`
	Status    string    `json:"status"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (h *DeviceHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireIdentity(w, r); !ok {
		return
	}
	grant, err := h.device.Lookup(r.URL.Query().Get("user_code"))
	if err != nil {
		response.Failure(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, deviceGrantView{
		UserCode:  service.FormatUserCode(grant.UserCode),
		Status:    grant.Status,
		ExpiresAt: grant.ExpiresAt,
	})
}

type userCodeRequest struct {
	UserCode string `json:"user_code"`
}

func (h *DeviceHandler) Approve(w http.ResponseWriter, r *http.Request) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	var req userCodeRequest
	if err := decode(r, &req); err != nil {
		response.Failure(w, r, err)
		return
	}
	if err := h.device.Approve(req.UserCode, id.User); err != nil {
		response.Failure(w, r, err)
		return
	}
	audit(r, "device.approved", "user_id", id.User.ID)
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "approved"})
}

func (h *DeviceHandler) Deny(w http.ResponseWriter, r *http.Request) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	var req userCodeRequest
	if err := decode(r, &req); err != nil {
		response.Failure(w, r, err)
		return
	}
	if err := h.device.Deny(req.UserCode); err != nil {
		response.Failure(w, r, err)
		return
	}
	audit(r, "device.denied", "user_id", id.User.ID)
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "denied"})
}
