package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"

	"github.com/authkeel/authkeel/internal/autherr"
	"github.com/authkeel/authkeel/internal/repository"
)

func newTwoFactorServiceForTest(t *testing.T) (*TwoFactorService, repository.UserRepository) {
	t.Helper()
	db := newTestDB(t)
	users := repository.NewUserRepository(db)
	secrets := repository.NewTwoFactorRepository(db)
	codes := newCodeStoreForTest(t)
	svc := NewTwoFactorService(users, secrets, codes, &recordingMailer{}, "authkeel", 5*time.Minute)
	return svc, users
}

func totpCodeNow(t *testing.T, secret string) string {
	t.Helper()
	code, err := totp.GenerateCode(secret, time.Now())
	if err != nil {
		t.Fatalf("generate totp code: %v", err)
	}
	return code
}

func TestEnrollmentLifecycle(t *testing.T) {
	svc, users := newTwoFactorServiceForTest(t)
	user := createUser(t, users, "amy@example.com")

	if _, err := svc.BeginEnrollment(user, "wrong"); !errors.Is(err, autherr.ErrInvalid) {
		t.Fatalf("bad password error = %v, want invalid", err)
	}
	uri, err := svc.BeginEnrollment(user, testPassword)
	if err != nil {
		t.Fatalf("begin enrollment: %v", err)
	}
	if !strings.HasPrefix(uri, "otpauth://totp/") {
		t.Fatalf("uri = %q, want an otpauth totp uri", uri)
	}
	secret := secretFromURI(t, uri)

	if err := svc.ConfirmEnrollment(user, totpCodeNow(t, secret)); err != nil {
		t.Fatalf("confirm enrollment: %v", err)
	}
	if !user.TwoFactorEnabled {
		t.Fatal("expected the account flag to flip on")
	}
	if err := svc.ConfirmEnrollment(user, totpCodeNow(t, secret)); !errors.Is(err, autherr.ErrConflict) {
		t.Fatalf("second confirm error = %v, want conflict", err)
	}
}

func TestConfirmEnrollmentWrongCodeKeepsPendingSecret(t *testing.T) {
	svc, users := newTwoFactorServiceForTest(t)
	user := createUser(t, users, "amy@example.com")

	uri, err := svc.BeginEnrollment(user, testPassword)
	if err != nil {
		t.Fatalf("begin enrollment: %v", err)
	}
	secret := secretFromURI(t, uri)

	if err := svc.ConfirmEnrollment(user, "000000"); !errors.Is(err, autherr.ErrInvalid) {
		t.Fatalf("wrong code error = %v, want invalid", err)
	}
	// The pending secret survives a bad first attempt.
	if err := svc.ConfirmEnrollment(user, totpCodeNow(t, secret)); err != nil {
		t.Fatalf("retry with right code: %v", err)
	}
}

func TestConfirmEnrollmentWithoutPendingSecret(t *testing.T) {
	svc, users := newTwoFactorServiceForTest(t)
	user := createUser(t, users, "amy@example.com")

	if err := svc.ConfirmEnrollment(user, "123456"); !errors.Is(err, autherr.ErrNotFound) {
		t.Fatalf("error = %v, want not found", err)
	}
}

func TestVerifyRejectsReplayedTOTPCode(t *testing.T) {
	svc, users := newTwoFactorServiceForTest(t)
	ctx := context.Background()
	user := createUser(t, users, "amy@example.com")

	uri, err := svc.BeginEnrollment(user, testPassword)
	if err != nil {
		t.Fatalf("begin enrollment: %v", err)
	}
	secret := secretFromURI(t, uri)
	if err := svc.ConfirmEnrollment(user, totpCodeNow(t, secret)); err != nil {
		t.Fatalf("confirm enrollment: %v", err)
	}

	code := totpCodeNow(t, secret)
	if err := svc.Verify(ctx, user, code); err != nil {
		t.Fatalf("first verify: %v", err)
	}
	err = svc.Verify(ctx, user, code)
	if !errors.Is(err, autherr.ErrInvalid) {
		t.Fatalf("replay error = %v, want invalid", err)
	}
}

func TestOneTimeCodeConsumedOnFirstAttempt(t *testing.T) {
	db := newTestDB(t)
	users := repository.NewUserRepository(db)
	secrets := repository.NewTwoFactorRepository(db)
	codes := newCodeStoreForTest(t)
	mailer := &recordingMailer{}
	svc := NewTwoFactorService(users, secrets, codes, mailer, "authkeel", 5*time.Minute)

	ctx := context.Background()
	user := createUser(t, users, "amy@example.com")

	if err := svc.SendOneTimeCode(ctx, user); err != nil {
		t.Fatalf("send code: %v", err)
	}
	code := lastEntry(t, mailer.oneTimeCodes, "one-time codes")

	if err := svc.Verify(ctx, user, code); err != nil {
		t.Fatalf("verify with fresh code: %v", err)
	}
	if err := svc.Verify(ctx, user, code); !errors.Is(err, autherr.ErrInvalid) {
		t.Fatalf("reused code error = %v, want invalid", err)
	}

	// A wrong guess burns the stored code too.
	if err := svc.SendOneTimeCode(ctx, user); err != nil {
		t.Fatalf("send code: %v", err)
	}
	code = lastEntry(t, mailer.oneTimeCodes, "one-time codes")
	if err := svc.Verify(ctx, user, "999999"); !errors.Is(err, autherr.ErrInvalid) {
		t.Fatalf("wrong guess error = %v, want invalid", err)
	}
	if err := svc.Verify(ctx, user, code); !errors.Is(err, autherr.ErrInvalid) {
		t.Fatalf("code after wrong guess error = %v, want invalid", err)
	}
}

func TestDisableClearsSecretAndFlag(t *testing.T) {
	svc, users := newTwoFactorServiceForTest(t)
	ctx := context.Background()
	user := createUser(t, users, "amy@example.com")

	uri, err := svc.BeginEnrollment(user, testPassword)
	if err != nil {
		t.Fatalf("begin enrollment: %v", err)
	}
	secret := secretFromURI(t, uri)
	if err := svc.ConfirmEnrollment(user, totpCodeNow(t, secret)); err != nil {
		t.Fatalf("confirm enrollment: %v", err)
	}

	if err := svc.Disable(user, "wrong"); !errors.Is(err, autherr.ErrInvalid) {
		t.Fatalf("bad password error = %v, want invalid", err)
	}
	if err := svc.Disable(user, testPassword); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if user.TwoFactorEnabled {
		t.Fatal("expected the account flag to flip off")
	}
	if err := svc.Verify(ctx, user, totpCodeNow(t, secret)); !errors.Is(err, autherr.ErrInvalid) {
		t.Fatalf("verify after disable error = %v, want invalid", err)
	}
}
