package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"gorm.io/gorm"

	"github.com/authkeel/authkeel/internal/autherr"
	"github.com/authkeel/authkeel/internal/domain"
	"github.com/authkeel/authkeel/internal/repository"
)

type deviceStack struct {
	device   *DeviceFlowService
	sessions *SessionService
	users    repository.UserRepository
	redis    *miniredis.Miniredis
	db       *gorm.DB
}

func newDeviceStack(t *testing.T, ttl, pollInterval time.Duration) *deviceStack {
	t.Helper()
	db := newTestDB(t)
	users := repository.NewUserRepository(db)
	grants := repository.NewDeviceGrantRepository(db)
	orgs := repository.NewOrganizationRepository(db)
	sessionsRepo := repository.NewSessionRepository(db)

	mr, client := newRedisClientForTest(t)
	codes := NewRedisCodeStore(client, "authkeel-test")

	sessions := NewSessionService(sessionsRepo, users, orgs, "test-pepper", time.Hour)
	device := NewDeviceFlowService(grants, sessions, users, codes, "test-pepper", ttl, pollInterval)
	return &deviceStack{device: device, sessions: sessions, users: users, redis: mr, db: db}
}

func TestDeviceStartReturnsFormattedUserCode(t *testing.T) {
	st := newDeviceStack(t, 10*time.Minute, 5*time.Second)

	start, err := st.device.Start()
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if start.DeviceCode == "" {
		t.Fatal("expected a device code")
	}
	if len(start.UserCode) != 9 || start.UserCode[4] != '-' {
		t.Fatalf("user code = %q, want XXXX-XXXX", start.UserCode)
	}
	if start.PollIntervalSec != 5 {
		t.Fatalf("poll interval = %d, want 5", start.PollIntervalSec)
	}
}

func TestDeviceLookupNormalizesTypedCode(t *testing.T) {
	st := newDeviceStack(t, 10*time.Minute, 5*time.Second)

	start, err := st.device.Start()
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	// The display form with its dash, lowercased, must still resolve.
	grant, err := st.device.Lookup("  " + strings.ToLower(start.UserCode) + "  ")
	if err != nil {
		t.Fatalf("lookup formatted code: %v", err)
	}
	if FormatUserCode(grant.UserCode) != start.UserCode {
		t.Fatalf("lookup resolved the wrong grant")
	}

	if _, err := st.device.Lookup("ZZZZ-ZZZZ"); !errors.Is(err, autherr.ErrNotFound) {
		t.Fatalf("unknown code error = %v, want not found", err)
	}
	if _, err := st.device.Lookup("---"); !errors.Is(err, autherr.ErrInvalid) {
		t.Fatalf("empty code error = %v, want invalid", err)
	}
}

func TestDevicePollPendingAndThrottle(t *testing.T) {
	st := newDeviceStack(t, 10*time.Minute, 5*time.Second)
	ctx := context.Background()

	start, err := st.device.Start()
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := st.device.Poll(ctx, start.DeviceCode, ClientMeta{}); !errors.Is(err, autherr.ErrAuthorizationPending) {
		t.Fatalf("first poll error = %v, want authorization pending", err)
	}
	if _, err := st.device.Poll(ctx, start.DeviceCode, ClientMeta{}); !errors.Is(err, autherr.ErrRateLimited) {
		t.Fatalf("rapid second poll error = %v, want rate limited", err)
	}

	// Once the poll interval has passed the device may ask again.
	st.redis.FastForward(6 * time.Second)
	if _, err := st.device.Poll(ctx, start.DeviceCode, ClientMeta{}); !errors.Is(err, autherr.ErrAuthorizationPending) {
		t.Fatalf("poll after interval error = %v, want authorization pending", err)
	}
}

func TestDeviceApproveAndExchangeOnce(t *testing.T) {
	st := newDeviceStack(t, 10*time.Minute, time.Millisecond)
	ctx := context.Background()
	approver := createUser(t, st.users, "amy@example.com")

	start, err := st.device.Start()
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := st.device.Approve(start.UserCode, approver); err != nil {
		t.Fatalf("approve: %v", err)
	}
	// A settled grant cannot be approved or denied again.
	if err := st.device.Approve(start.UserCode, approver); !errors.Is(err, autherr.ErrNotFound) {
		t.Fatalf("double approve error = %v, want not found", err)
	}
	if err := st.device.Deny(start.UserCode); !errors.Is(err, autherr.ErrNotFound) {
		t.Fatalf("deny after approve error = %v, want not found", err)
	}

	issued, err := st.device.Poll(ctx, start.DeviceCode, ClientMeta{})
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	session, user, err := st.sessions.Validate(issued.Token)
	if err != nil {
		t.Fatalf("validate exchanged session: %v", err)
	}
	if user.ID != approver.ID {
		t.Fatalf("session belongs to user %d, want approver %d", user.ID, approver.ID)
	}
	if session.ImpersonatedBy != nil {
		t.Fatal("device sessions carry no impersonation overlay")
	}

	if _, err := st.device.Poll(ctx, start.DeviceCode, ClientMeta{}); !errors.Is(err, autherr.ErrConflict) {
		t.Fatalf("second exchange error = %v, want conflict", err)
	}
}

func TestDeviceDenyEndsGrant(t *testing.T) {
	st := newDeviceStack(t, 10*time.Minute, time.Millisecond)
	ctx := context.Background()

	start, err := st.device.Start()
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := st.device.Deny(start.UserCode); err != nil {
		t.Fatalf("deny: %v", err)
	}
	if _, err := st.device.Poll(ctx, start.DeviceCode, ClientMeta{}); !errors.Is(err, autherr.ErrForbidden) {
		t.Fatalf("poll after deny error = %v, want forbidden", err)
	}
}

func TestDeviceGrantExpiresLazily(t *testing.T) {
	st := newDeviceStack(t, -time.Second, time.Millisecond)
	ctx := context.Background()
	approver := createUser(t, st.users, "amy@example.com")

	start, err := st.device.Start()
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := st.device.Poll(ctx, start.DeviceCode, ClientMeta{}); !errors.Is(err, autherr.ErrGrantExpired) {
		t.Fatalf("poll past ttl error = %v, want grant expired", err)
	}
	// The timeout settles the grant permanently.
	if _, err := st.device.Poll(ctx, start.DeviceCode, ClientMeta{}); !errors.Is(err, autherr.ErrGrantExpired) {
		t.Fatalf("repeat poll error = %v, want grant expired", err)
	}
	if err := st.device.Approve(start.UserCode, approver); !errors.Is(err, autherr.ErrNotFound) {
		t.Fatalf("approve expired grant error = %v, want not found", err)
	}
}

func TestDeviceApprovedGrantCannotOutliveTTL(t *testing.T) {
	st := newDeviceStack(t, 10*time.Minute, time.Millisecond)
	ctx := context.Background()
	approver := createUser(t, st.users, "amy@example.com")

	start, err := st.device.Start()
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := st.device.Approve(start.UserCode, approver); err != nil {
		t.Fatalf("approve: %v", err)
	}

	// The device never exchanged and the original TTL has run out.
	if err := st.db.Model(&domain.DeviceGrant{}).
		Where("user_code = ?", NormalizeUserCode(start.UserCode)).
		Update("expires_at", time.Now().Add(-time.Minute)).Error; err != nil {
		t.Fatalf("age grant: %v", err)
	}

	if _, err := st.device.Poll(ctx, start.DeviceCode, ClientMeta{}); !errors.Is(err, autherr.ErrGrantExpired) {
		t.Fatalf("stale exchange error = %v, want grant expired", err)
	}
	// The approval is not resurrected by a later poll either.
	if _, err := st.device.Poll(ctx, start.DeviceCode, ClientMeta{}); !errors.Is(err, autherr.ErrGrantExpired) {
		t.Fatalf("repeat stale exchange error = %v, want grant expired", err)
	}
}

func TestDevicePollUnknownCode(t *testing.T) {
	st := newDeviceStack(t, 10*time.Minute, time.Millisecond)
	if _, err := st.device.Poll(context.Background(), "not-a-real-code", ClientMeta{}); !errors.Is(err, autherr.ErrNotFound) {
		t.Fatalf("unknown device code error = %v, want not found", err)
	}
}
