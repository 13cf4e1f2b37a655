package integration

import (
	"net/http"
	"strings"
	"testing"
)

type deviceStartData struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	ExpiresInSec    int    `json:"expires_in_sec"`
	PollIntervalSec int    `json:"poll_interval_sec"`
}

func TestDevicePairingEndToEnd(t *testing.T) {
	ts := newTestServer(t)
	approver := ts.registerUser(t, "tv-owner@example.com")

	// The device opens a pairing window without any credentials.
	resp, env := do(t, http.MethodPost, ts.URL+"/api/v1/device/code", "", map[string]string{}, nil)
	wantStatus(t, resp, env, http.StatusCreated, "")
	var start deviceStartData
	decodeData(t, env, &start)
	if len(start.UserCode) != 9 || start.UserCode[4] != '-' {
		t.Fatalf("user code = %q, want XXXX-XXXX", start.UserCode)
	}

	// Polling before approval answers pending, then throttles.
	resp, env = do(t, http.MethodPost, ts.URL+"/api/v1/device/token", "", map[string]string{"device_code": start.DeviceCode}, nil)
	wantStatus(t, resp, env, http.StatusBadRequest, "AUTHORIZATION_PENDING")
	resp, env = do(t, http.MethodPost, ts.URL+"/api/v1/device/token", "", map[string]string{"device_code": start.DeviceCode}, nil)
	wantStatus(t, resp, env, http.StatusTooManyRequests, "RATE_LIMITED")

	// The browser side needs a session to even look at the grant.
	resp, env = do(t, http.MethodGet, ts.URL+"/api/v1/device/?user_code="+start.UserCode, "", nil, nil)
	wantStatus(t, resp, env, http.StatusUnauthorized, "UNAUTHENTICATED")

	// The approver types the code the way a human would: lowercased.
	typed := strings.ToLower(start.UserCode)
	resp, env = do(t, http.MethodGet, ts.URL+"/api/v1/device/?user_code="+typed, approver.Token, nil, nil)
	wantStatus(t, resp, env, http.StatusOK, "")
	var grant struct {
		UserCode string `json:"user_code"`
		Status   string `json:"status"`
	}
	decodeData(t, env, &grant)
	if grant.UserCode != start.UserCode || grant.Status != "pending" {
		t.Fatalf("lookup = %+v, want the pending grant %s", grant, start.UserCode)
	}

	resp, env = do(t, http.MethodPost, ts.URL+"/api/v1/device/approve", approver.Token, map[string]string{"user_code": typed}, nil)
	wantStatus(t, resp, env, http.StatusOK, "")

	// Past the poll interval the device exchanges its code for a session.
	ts.Redis.FastForward(ts.pollInterval * 2)
	resp, env = do(t, http.MethodPost, ts.URL+"/api/v1/device/token", "", map[string]string{"device_code": start.DeviceCode}, nil)
	wantStatus(t, resp, env, http.StatusOK, "")
	var session sessionData
	decodeData(t, env, &session)
	if session.User.ID != approver.User.ID {
		t.Fatalf("device session acts as user %d, want approver %d", session.User.ID, approver.User.ID)
	}

	// The fresh token works against the authenticated surface.
	resp, env = do(t, http.MethodGet, ts.URL+"/api/v1/me/", session.Token, nil, nil)
	wantStatus(t, resp, env, http.StatusOK, "")

	// A second exchange of the same device code is refused.
	resp, env = do(t, http.MethodPost, ts.URL+"/api/v1/device/token", "", map[string]string{"device_code": start.DeviceCode}, nil)
	wantStatus(t, resp, env, http.StatusConflict, "CONFLICT")
}

func TestDevicePairingDenied(t *testing.T) {
	ts := newTestServer(t)
	user := ts.registerUser(t, "tv-owner@example.com")

	resp, env := do(t, http.MethodPost, ts.URL+"/api/v1/device/code", "", map[string]string{}, nil)
	wantStatus(t, resp, env, http.StatusCreated, "")
	var start deviceStartData
	decodeData(t, env, &start)

	resp, env = do(t, http.MethodPost, ts.URL+"/api/v1/device/deny", user.Token, map[string]string{"user_code": start.UserCode}, nil)
	wantStatus(t, resp, env, http.StatusOK, "")

	resp, env = do(t, http.MethodPost, ts.URL+"/api/v1/device/token", "", map[string]string{"device_code": start.DeviceCode}, nil)
	wantStatus(t, resp, env, http.StatusForbidden, "FORBIDDEN")
}
