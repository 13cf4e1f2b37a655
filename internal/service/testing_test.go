package service

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/authkeel/authkeel/internal/domain"
	"github.com/authkeel/authkeel/internal/repository"
	"github.com/authkeel/authkeel/internal/security"
)

const testPassword = "correct-horse-battery"

var (
	testHashOnce sync.Once
	testHash     string
)

// testPasswordHash hashes once per process; bcrypt at production cost is too
// slow to re-run for every test user.
func testPasswordHash(t *testing.T) string {
	t.Helper()
	testHashOnce.Do(func() {
		h, err := security.HashPassword(testPassword)
		if err != nil {
			t.Fatalf("hash test password: %v", err)
		}
		testHash = h
	})
	return testHash
}

var testDBSeq atomic.Uint64

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc%d?mode=memory&cache=shared&_pragma=foreign_keys(1)", testDBSeq.Add(1))
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
	return db
}

func createUser(t *testing.T, users repository.UserRepository, email string) *domain.User {
	t.Helper()
	user := &domain.User{
		Email:         email,
		EmailVerified: true,
		Name:          "Test User",
		PasswordHash:  testPasswordHash(t),
		Role:          domain.RoleUser,
	}
	if err := users.Create(user); err != nil {
		t.Fatalf("create user %s: %v", email, err)
	}
	return user
}

// recordingMailer captures dispatched tokens and codes so tests can walk
// the email-link flows end to end.
type recordingMailer struct {
	mu                 sync.Mutex
	verificationTokens []string
	resetTokens        []string
	changeEmailTokens  []string
	deleteTokens       []string
	invitationTokens   []string
	oneTimeCodes       []string
}

func (m *recordingMailer) record(dst *[]string, v string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	*dst = append(*dst, v)
	return nil
}

func (m *recordingMailer) SendVerification(_ context.Context, _ *domain.User, token string) error {
	return m.record(&m.verificationTokens, token)
}

func (m *recordingMailer) SendPasswordReset(_ context.Context, _ *domain.User, token string) error {
	return m.record(&m.resetTokens, token)
}

func (m *recordingMailer) SendChangeEmailConfirmation(_ context.Context, _ *domain.User, _ string, token string) error {
	return m.record(&m.changeEmailTokens, token)
}

func (m *recordingMailer) SendDeleteAccountConfirmation(_ context.Context, _ *domain.User, token string) error {
	return m.record(&m.deleteTokens, token)
}

func (m *recordingMailer) SendInvitation(_ context.Context, _ string, _ *domain.Organization, token string) error {
	return m.record(&m.invitationTokens, token)
}

func (m *recordingMailer) SendOneTimeCode(_ context.Context, _ *domain.User, code string) error {
	return m.record(&m.oneTimeCodes, code)
}

func lastEntry(t *testing.T, entries []string, what string) string {
	t.Helper()
	if len(entries) == 0 {
		t.Fatalf("no %s were dispatched", what)
	}
	return entries[len(entries)-1]
}

func newCodeStoreForTest(t *testing.T) CodeStore {
	t.Helper()
	_, client := newRedisClientForTest(t)
	return NewRedisCodeStore(client, "authkeel-test")
}

func secretFromURI(t *testing.T, otpauthURI string) string {
	t.Helper()
	u, err := url.Parse(otpauthURI)
	if err != nil {
		t.Fatalf("parse otpauth uri: %v", err)
	}
	secret := u.Query().Get("secret")
	if secret == "" {
		t.Fatalf("otpauth uri carries no secret: %q", otpauthURI)
	}
	return secret
}
