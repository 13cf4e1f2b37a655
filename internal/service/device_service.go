package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/authkeel/authkeel/internal/autherr"
	"github.com/authkeel/authkeel/internal/domain"
	"github.com/authkeel/authkeel/internal/observability"
	"github.com/authkeel/authkeel/internal/repository"
	"github.com/authkeel/authkeel/internal/security"
)

const nsDevicePoll = "device_poll"

// userCodeAlphabet avoids 0/O and 1/I so the code survives being read off
// a TV screen and typed by hand.
const userCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const userCodeLength = 8

// DeviceFlowService implements the code-pairing handshake: an
// unauthenticated device starts a grant and polls, an authenticated
// browser approves or denies it, and the device exchanges its code for a
// session exactly once.
type DeviceFlowService struct {
	grants       repository.DeviceGrantRepository
	sessions     *SessionService
	users        repository.UserRepository
	codes        CodeStore
	pepper       string
	ttl          time.Duration
	pollInterval time.Duration
}

func NewDeviceFlowService(grants repository.DeviceGrantRepository, sessions *SessionService, users repository.UserRepository, codes CodeStore, pepper string, ttl, pollInterval time.Duration) *DeviceFlowService {
	return &DeviceFlowService{
		grants:       grants,
		sessions:     sessions,
		users:        users,
		codes:        codes,
		pepper:       pepper,
		ttl:          ttl,
		pollInterval: pollInterval,
	}
}

type DeviceStart struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	ExpiresInSec    int    `json:"expires_in_sec"`
	PollIntervalSec int    `json:"poll_interval_sec"`
}

func (s *DeviceFlowService) Start() (*DeviceStart, error) {
	deviceCode, err := security.NewOpaqueToken()
	if err != nil {
		return nil, err
	}
	userCode, err := generateUserCode()
	if err != nil {
		return nil, err
	}
	grant := &domain.DeviceGrant{
		ID:             ulid.Make().String(),
		DeviceCodeHash: security.HashToken(deviceCode, s.pepper),
		UserCode:       userCode,
		Status:         domain.DeviceGrantPending,
		PollIntervalMS: s.pollInterval.Milliseconds(),
		ExpiresAt:      time.Now().Add(s.ttl),
	}
	if err := s.grants.Create(grant); err != nil {
		return nil, err
	}
	observability.RecordDeviceGrantEvent("started")
	return &DeviceStart{
		DeviceCode:      deviceCode,
		UserCode:        FormatUserCode(userCode),
		ExpiresInSec:    int(s.ttl.Seconds()),
		PollIntervalSec: int(s.pollInterval.Seconds()),
	}, nil
}

// Lookup resolves a user-typed code to its pending grant for display in
// the approving browser. Formatting characters are stripped and the code
// uppercased before comparison.
func (s *DeviceFlowService) Lookup(userCode string) (*domain.DeviceGrant, error) {
	grant, err := s.findPending(userCode)
	if err != nil {
		return nil, err
	}
	return grant, nil
}

// Approve moves the grant to approved and records the approving principal
// as the device's effective identity.
func (s *DeviceFlowService) Approve(userCode string, approver *domain.User) error {
	grant, err := s.findPending(userCode)
	if err != nil {
		return err
	}
	approverID := approver.ID
	ok, err := s.grants.TransitionFromPending(grant.ID, domain.DeviceGrantApproved, &approverID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: grant already settled", autherr.ErrConflict)
	}
	observability.RecordDeviceGrantEvent("approved")
	return nil
}

func (s *DeviceFlowService) Deny(userCode string) error {
	grant, err := s.findPending(userCode)
	if err != nil {
		return err
	}
	ok, err := s.grants.TransitionFromPending(grant.ID, domain.DeviceGrantDenied, nil)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: grant already settled", autherr.ErrConflict)
	}
	observability.RecordDeviceGrantEvent("denied")
	return nil
}

// Poll is the device-side heartbeat. While pending it answers
// AuthorizationPending, or RateLimited when called faster than the poll
// interval. Once approved it issues a session for the approving principal
// exactly once; any later exchange attempt gets Conflict. Expiry is
// permanent.
func (s *DeviceFlowService) Poll(ctx context.Context, deviceCode string, meta ClientMeta) (*IssuedSession, error) {
	grant, err := s.grants.FindByDeviceCodeHash(security.HashToken(deviceCode, s.pepper))
	if err != nil {
		if errors.Is(err, repository.ErrDeviceGrantNotFound) {
			return nil, fmt.Errorf("%w: device grant", autherr.ErrNotFound)
		}
		return nil, err
	}

	switch grant.Status {
	case domain.DeviceGrantPending:
		if grant.ExpiredAt(time.Now()) {
			// Lazy timeout: the first poll past the TTL settles the grant.
			if _, err := s.grants.TransitionFromPending(grant.ID, domain.DeviceGrantExpired, nil); err != nil {
				return nil, err
			}
			observability.RecordDeviceGrantEvent("expired")
			return nil, autherr.ErrGrantExpired
		}
		ok, err := s.codes.MarkOnce(ctx, nsDevicePoll, grant.ID, s.pollInterval)
		if err != nil {
			return nil, err
		}
		if !ok {
			observability.RecordDeviceGrantEvent("slow_down")
			return nil, fmt.Errorf("%w: slow down", autherr.ErrRateLimited)
		}
		return nil, autherr.ErrAuthorizationPending
	case domain.DeviceGrantDenied:
		return nil, fmt.Errorf("%w: access denied", autherr.ErrForbidden)
	case domain.DeviceGrantExpired:
		return nil, autherr.ErrGrantExpired
	case domain.DeviceGrantApproved:
		// An approved grant is only exchangeable inside the original TTL.
		if grant.ExpiredAt(time.Now()) {
			observability.RecordDeviceGrantEvent("expired")
			return nil, autherr.ErrGrantExpired
		}
		consumed, err := s.grants.ConsumeApproved(grant.ID)
		if err != nil {
			return nil, err
		}
		if !consumed {
			observability.RecordDeviceGrantEvent("reuse_rejected")
			return nil, fmt.Errorf("%w: device code already exchanged", autherr.ErrConflict)
		}
		if grant.ApprovedBy == nil {
			return nil, fmt.Errorf("approved grant %s has no approving principal", grant.ID)
		}
		user, err := s.users.FindByID(*grant.ApprovedBy)
		if err != nil {
			return nil, err
		}
		issued, err := s.sessions.Create(user, meta)
		if err != nil {
			return nil, err
		}
		observability.RecordDeviceGrantEvent("exchanged")
		return issued, nil
	default:
		return nil, fmt.Errorf("device grant %s in unknown status %q", grant.ID, grant.Status)
	}
}

func (s *DeviceFlowService) findPending(userCode string) (*domain.DeviceGrant, error) {
	normalized := NormalizeUserCode(userCode)
	if normalized == "" {
		return nil, fmt.Errorf("%w: user code", autherr.ErrInvalid)
	}
	grant, err := s.grants.FindByUserCode(normalized)
	if err != nil {
		if errors.Is(err, repository.ErrDeviceGrantNotFound) {
			return nil, fmt.Errorf("%w: device grant", autherr.ErrNotFound)
		}
		return nil, err
	}
	if grant.Status != domain.DeviceGrantPending || grant.ExpiredAt(time.Now()) {
		return nil, fmt.Errorf("%w: device grant", autherr.ErrNotFound)
	}
	return grant, nil
}

// NormalizeUserCode strips separators and uppercases, so "abcd-efgh" and
// "ABCD EFGH" both resolve the grant stored as "ABCDEFGH".
func NormalizeUserCode(code string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(code) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// FormatUserCode renders the stored code in its display form, XXXX-XXXX.
func FormatUserCode(code string) string {
	if len(code) != userCodeLength {
		return code
	}
	return code[:4] + "-" + code[4:]
}

func generateUserCode() (string, error) {
	buf := make([]byte, userCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate user code: %w", err)
	}
	out := make([]byte, userCodeLength)
	for i, b := range buf {
		out[i] = userCodeAlphabet[int(b)%len(userCodeAlphabet)]
	}
	return string(out), nil
}
