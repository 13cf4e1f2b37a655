package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/authkeel/authkeel/internal/domain"
	"github.com/authkeel/authkeel/internal/http/handler"
	"github.com/authkeel/authkeel/internal/http/router"
	"github.com/authkeel/authkeel/internal/repository"
	"github.com/authkeel/authkeel/internal/security"
	"github.com/authkeel/authkeel/internal/service"
)

const testUserPassword = "correct-horse-battery"

// captureMailer stands in for the outbound mail channel so scenarios can
// pull tokens and codes out of "sent" messages.
type captureMailer struct {
	mu                 sync.Mutex
	verificationTokens []string
	resetTokens        []string
	invitationTokens   []string
	oneTimeCodes       []string
}

func (m *captureMailer) record(dst *[]string, v string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	*dst = append(*dst, v)
	return nil
}

func (m *captureMailer) SendVerification(_ context.Context, _ *domain.User, token string) error {
	return m.record(&m.verificationTokens, token)
}

func (m *captureMailer) SendPasswordReset(_ context.Context, _ *domain.User, token string) error {
	return m.record(&m.resetTokens, token)
}

func (m *captureMailer) SendChangeEmailConfirmation(_ context.Context, _ *domain.User, _ string, token string) error {
	return nil
}

func (m *captureMailer) SendDeleteAccountConfirmation(_ context.Context, _ *domain.User, token string) error {
	return nil
}

func (m *captureMailer) SendInvitation(_ context.Context, _ string, _ *domain.Organization, token string) error {
	return m.record(&m.invitationTokens, token)
}

func (m *captureMailer) SendOneTimeCode(_ context.Context, _ *domain.User, code string) error {
	return m.record(&m.oneTimeCodes, code)
}

type testServer struct {
	URL    string
	Mailer *captureMailer
	Redis  *miniredis.Miniredis
	Users  repository.UserRepository

	deviceTTL    time.Duration
	pollInterval time.Duration
}

var integrationDBSeq atomic.Uint64

func newTestServer(t *testing.T) *testServer {
	return newTestServerWithGoogle(t, nil)
}

// newTestServerWithGoogle wires a fake identity provider into the auth
// handler so Google sign-in scenarios can run without the real endpoint.
func newTestServerWithGoogle(t *testing.T, google service.OAuthProvider) *testServer {
	t.Helper()

	dsn := fmt.Sprintf("file:itg%d?mode=memory&cache=shared&_pragma=foreign_keys(1)", integrationDBSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrap sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := repository.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	users := repository.NewUserRepository(db)
	accounts := repository.NewAccountRepository(db)
	sessionsRepo := repository.NewSessionRepository(db)
	twoFactorRepo := repository.NewTwoFactorRepository(db)
	grants := repository.NewDeviceGrantRepository(db)
	orgsRepo := repository.NewOrganizationRepository(db)

	codes := service.NewRedisCodeStore(client, "authkeel-itg")
	mailer := &captureMailer{}
	links := security.NewLinkTokenManager("authkeel", "itg-link-secret")

	const pepper = "itg-pepper"
	deviceTTL := 10 * time.Minute
	pollInterval := 2 * time.Second

	sessions := service.NewSessionService(sessionsRepo, users, orgsRepo, pepper, time.Hour)
	twoFactor := service.NewTwoFactorService(users, twoFactorRepo, codes, mailer, "authkeel", 5*time.Minute)
	auth := service.NewAuthService(users, accounts, sessions, twoFactor, codes, links, mailer, time.Hour)
	device := service.NewDeviceFlowService(grants, sessions, users, codes, pepper, deviceTTL, pollInterval)
	orgs := service.NewOrganizationService(orgsRepo, users, links, mailer, 48*time.Hour)
	admin := service.NewAdminService(users, sessionsRepo)
	impersonation := service.NewImpersonationService(users, sessions, 30*time.Minute)

	h := router.NewRouter(router.Dependencies{
		Auth:               handler.NewAuthHandler(auth, google, codes),
		Sessions:           handler.NewSessionHandler(sessions),
		TwoFactor:          handler.NewTwoFactorHandler(twoFactor),
		Device:             handler.NewDeviceHandler(device),
		Organizations:      handler.NewOrganizationHandler(orgs),
		Admin:              handler.NewAdminHandler(admin),
		Impersonation:      handler.NewImpersonationHandler(impersonation),
		SessionValidator:   sessions,
		AuthRateLimitRPS:   1000,
		AuthRateLimitBurst: 1000,
		ReadyChecks: map[string]router.ReadyCheck{
			"database": func(ctx context.Context) error { return sqlDB.PingContext(ctx) },
			"redis":    func(ctx context.Context) error { return client.Ping(ctx).Err() },
		},
	})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	return &testServer{
		URL:          srv.URL,
		Mailer:       mailer,
		Redis:        mr,
		Users:        users,
		deviceTTL:    deviceTTL,
		pollInterval: pollInterval,
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// do issues a JSON request with no cookies; a bearer token and extra
// headers are optional.
func do(t *testing.T, method, url, bearer string, body any, headers map[string]string) (*http.Response, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil && err != io.EOF {
		t.Fatalf("decode envelope for %s %s: %v", method, url, err)
	}
	return resp, env
}

func decodeData(t *testing.T, env envelope, dst any) {
	t.Helper()
	if err := json.Unmarshal(env.Data, dst); err != nil {
		t.Fatalf("decode data payload: %v", err)
	}
}

type sessionData struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      struct {
		ID    uint   `json:"id"`
		Email string `json:"email"`
		Role  string `json:"role"`
	} `json:"user"`
}

// registerUser signs up a principal over HTTP and returns its bearer token.
func (ts *testServer) registerUser(t *testing.T, email string) sessionData {
	t.Helper()
	resp, env := do(t, http.MethodPost, ts.URL+"/api/v1/auth/register", "", map[string]string{
		"email":    email,
		"name":     "Integration User",
		"password": testUserPassword,
	}, nil)
	if resp.StatusCode != http.StatusCreated || !env.Success {
		t.Fatalf("register %s: status=%d success=%v", email, resp.StatusCode, env.Success)
	}
	var data sessionData
	decodeData(t, env, &data)
	if data.Token == "" {
		t.Fatalf("register %s returned no token", email)
	}
	return data
}

// registerAdmin promotes a freshly registered user straight in the store;
// there is no HTTP path to mint the first admin.
func (ts *testServer) registerAdmin(t *testing.T, email string) sessionData {
	t.Helper()
	data := ts.registerUser(t, email)
	user, err := ts.Users.FindByID(data.User.ID)
	if err != nil {
		t.Fatalf("load user for promotion: %v", err)
	}
	user.Role = domain.RoleAdmin
	if err := ts.Users.Update(user); err != nil {
		t.Fatalf("promote admin: %v", err)
	}
	return data
}

func wantStatus(t *testing.T, resp *http.Response, env envelope, status int, errCode string) {
	t.Helper()
	if resp.StatusCode != status {
		t.Fatalf("status = %d, want %d (error=%+v)", resp.StatusCode, status, env.Error)
	}
	if errCode != "" {
		if env.Error == nil || env.Error.Code != errCode {
			t.Fatalf("error = %+v, want code %s", env.Error, errCode)
		}
	}
}
