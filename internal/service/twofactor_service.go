package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"time"

	"github.com/authkeel/authkeel/internal/autherr"
	"github.com/authkeel/authkeel/internal/domain"
	"github.com/authkeel/authkeel/internal/observability"
	"github.com/authkeel/authkeel/internal/repository"
	"github.com/authkeel/authkeel/internal/security"
)

const (
	nsTOTPReplay = "totp_replay"
	nsOTPCode    = "otp_code"
)

// TwoFactorService drives the Disabled -> PendingEnrollment -> Enabled ->
// Disabled state machine. Enrollment and disablement both re-prove the
// password: a stolen session token alone must not downgrade account
// security.
type TwoFactorService struct {
	users   repository.UserRepository
	secrets repository.TwoFactorRepository
	codes   CodeStore
	mailer  Mailer
	issuer  string
	otpTTL  time.Duration
}

func NewTwoFactorService(users repository.UserRepository, secrets repository.TwoFactorRepository, codes CodeStore, mailer Mailer, issuer string, otpTTL time.Duration) *TwoFactorService {
	return &TwoFactorService{users: users, secrets: secrets, codes: codes, mailer: mailer, issuer: issuer, otpTTL: otpTTL}
}

// BeginEnrollment generates a fresh pending secret and returns its
// provisioning URI. Any earlier pending secret is replaced, so an abandoned
// enrollment can never re-enable later.
func (s *TwoFactorService) BeginEnrollment(user *domain.User, password string) (string, error) {
	if !security.VerifyPassword(user.PasswordHash, password) {
		observability.RecordTwoFactorEvent("enroll", "bad_password")
		return "", errInvalidCredentials
	}
	secret, uri, err := security.GenerateTOTPSecret(s.issuer, user.Email)
	if err != nil {
		return "", err
	}
	if err := s.secrets.UpsertPending(user.ID, secret); err != nil {
		return "", err
	}
	if user.TwoFactorEnabled {
		user.TwoFactorEnabled = false
		if err := s.users.Update(user); err != nil {
			return "", err
		}
	}
	observability.RecordTwoFactorEvent("enroll", "begun")
	return uri, nil
}

// ConfirmEnrollment validates the first code against the pending secret.
// On failure the pending secret stays usable for another attempt; only a
// correct code flips the account to enabled.
func (s *TwoFactorService) ConfirmEnrollment(user *domain.User, code string) error {
	tf, err := s.secrets.FindByUserID(user.ID)
	if err != nil {
		if errors.Is(err, repository.ErrTwoFactorNotFound) {
			return fmt.Errorf("%w: no enrollment in progress", autherr.ErrNotFound)
		}
		return err
	}
	if tf.Enabled {
		return fmt.Errorf("%w: two-factor already enabled", autherr.ErrConflict)
	}
	if !security.ValidateTOTP(code, tf.Secret, time.Now()) {
		observability.RecordTwoFactorEvent("confirm", "bad_code")
		return fmt.Errorf("%w: wrong code", autherr.ErrInvalid)
	}
	if err := s.secrets.Enable(user.ID); err != nil {
		return err
	}
	user.TwoFactorEnabled = true
	if err := s.users.Update(user); err != nil {
		return err
	}
	observability.RecordTwoFactorEvent("confirm", "success")
	return nil
}

// Verify checks a login-time second factor. A TOTP code is accepted once
// per time window; a successful use burns the (code, window) pair so an
// observer replaying it is rejected.
func (s *TwoFactorService) Verify(ctx context.Context, user *domain.User, code string) error {
	tf, err := s.secrets.FindByUserID(user.ID)
	if err == nil && tf.Enabled {
		if security.ValidateTOTP(code, tf.Secret, time.Now()) {
			return s.guardReplay(ctx, user.ID, code)
		}
		// Fall through: the code may be an out-of-band one-time code.
	} else if err != nil && !errors.Is(err, repository.ErrTwoFactorNotFound) {
		return err
	}
	return s.consumeOneTimeCode(ctx, user.ID, code)
}

func (s *TwoFactorService) guardReplay(ctx context.Context, userID uint, code string) error {
	window := security.TOTPWindow(time.Now())
	key := fmt.Sprintf("%d:%s:%d", userID, code, window)
	ok, err := s.codes.MarkOnce(ctx, nsTOTPReplay, key, 2*time.Minute)
	if err != nil {
		return err
	}
	if !ok {
		observability.RecordTwoFactorEvent("verify", "replayed")
		return fmt.Errorf("%w: code already used", autherr.ErrInvalid)
	}
	observability.RecordTwoFactorEvent("verify", "success")
	return nil
}

// Disable is password-gated for the same reason enrollment is.
func (s *TwoFactorService) Disable(user *domain.User, password string) error {
	if !security.VerifyPassword(user.PasswordHash, password) {
		observability.RecordTwoFactorEvent("disable", "bad_password")
		return errInvalidCredentials
	}
	if err := s.secrets.Delete(user.ID); err != nil {
		return err
	}
	user.TwoFactorEnabled = false
	if err := s.users.Update(user); err != nil {
		return err
	}
	observability.RecordTwoFactorEvent("disable", "success")
	return nil
}

// SendOneTimeCode pushes a short-lived single-use code over the message
// channel. The state change (code stored) stands even if dispatch fails;
// the failure is only logged.
func (s *TwoFactorService) SendOneTimeCode(ctx context.Context, user *domain.User) error {
	code, err := generateNumericCode(6)
	if err != nil {
		return err
	}
	key := strconv.FormatUint(uint64(user.ID), 10)
	if err := s.codes.Put(ctx, nsOTPCode, key, hashToken(code), s.otpTTL); err != nil {
		return err
	}
	if err := s.mailer.SendOneTimeCode(ctx, user, code); err != nil {
		slog.ErrorContext(ctx, "dispatch one-time code", "error", err, "user_id", user.ID)
	}
	observability.RecordTwoFactorEvent("otp_send", "success")
	return nil
}

// consumeOneTimeCode burns the stored code on the first verification
// attempt, right or wrong. A failed attempt is terminal: the caller must
// request a fresh code rather than keep guessing against the old one.
func (s *TwoFactorService) consumeOneTimeCode(ctx context.Context, userID uint, code string) error {
	key := strconv.FormatUint(uint64(userID), 10)
	stored, ok, err := s.codes.Consume(ctx, nsOTPCode, key)
	if err != nil {
		return err
	}
	if !ok {
		observability.RecordTwoFactorEvent("verify", "no_code")
		return fmt.Errorf("%w: wrong code", autherr.ErrInvalid)
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(hashToken(code))) != 1 {
		observability.RecordTwoFactorEvent("verify", "bad_code")
		return fmt.Errorf("%w: wrong code", autherr.ErrInvalid)
	}
	observability.RecordTwoFactorEvent("verify", "success")
	return nil
}

func generateNumericCode(digits int) (string, error) {
	max := big.NewInt(1)
	for i := 0; i < digits; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("generate one-time code: %w", err)
	}
	return fmt.Sprintf("%0*d", digits, n), nil
}
