package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/authkeel/authkeel/internal/autherr"
	"github.com/authkeel/authkeel/internal/domain"
	"github.com/authkeel/authkeel/internal/observability"
	"github.com/authkeel/authkeel/internal/repository"
	"github.com/authkeel/authkeel/internal/security"
)

const (
	nsSignInChallenge = "signin_challenge"

	signInChallengeTTL = 5 * time.Minute
)

// errInvalidCredentials is the single user-visible failure for unknown
// email, wrong password and banned-but-hidden cases before first-factor
// success. One message class, no enumeration.
var errInvalidCredentials = fmt.Errorf("%w: invalid credentials", autherr.ErrInvalid)

// SignInResult either carries a live session or a second-factor challenge
// the client must answer before any session exists.
type SignInResult struct {
	Session              *IssuedSession
	SecondFactorRequired bool
	ChallengeToken       string
}

type AuthService struct {
	users     repository.UserRepository
	accounts  repository.AccountRepository
	sessions  *SessionService
	twoFactor *TwoFactorService
	codes     CodeStore
	links     *security.LinkTokenManager
	mailer    Mailer
	linkTTL   time.Duration
}

func NewAuthService(
	users repository.UserRepository,
	accounts repository.AccountRepository,
	sessions *SessionService,
	twoFactor *TwoFactorService,
	codes CodeStore,
	links *security.LinkTokenManager,
	mailer Mailer,
	linkTTL time.Duration,
) *AuthService {
	return &AuthService{
		users:     users,
		accounts:  accounts,
		sessions:  sessions,
		twoFactor: twoFactor,
		codes:     codes,
		links:     links,
		mailer:    mailer,
		linkTTL:   linkTTL,
	}
}

func (s *AuthService) Register(ctx context.Context, email, name, password string, meta ClientMeta) (*SignInResult, error) {
	if email == "" || password == "" {
		return nil, fmt.Errorf("%w: email and password are required", autherr.ErrInvalid)
	}
	if _, err := s.users.FindByEmail(email); err == nil {
		return nil, fmt.Errorf("%w: email already registered", autherr.ErrConflict)
	} else if !errors.Is(err, repository.ErrUserNotFound) {
		return nil, err
	}
	hash, err := security.HashPassword(password)
	if err != nil {
		return nil, err
	}
	user := &domain.User{Email: email, Name: name, PasswordHash: hash, Role: domain.RoleUser}
	if err := s.users.Create(user); err != nil {
		return nil, err
	}
	s.dispatchVerification(ctx, user)
	observability.RecordSignIn("password", "registered")
	issued, err := s.sessions.Create(user, meta)
	if err != nil {
		return nil, err
	}
	return &SignInResult{Session: issued}, nil
}

func (s *AuthService) SignIn(ctx context.Context, email, password string, meta ClientMeta) (*SignInResult, error) {
	user, err := s.users.FindByEmail(email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			observability.RecordSignIn("password", "unknown_email")
			return nil, errInvalidCredentials
		}
		return nil, err
	}
	if user.PasswordHash == "" || !security.VerifyPassword(user.PasswordHash, password) {
		observability.RecordSignIn("password", "bad_password")
		return nil, errInvalidCredentials
	}
	if user.DeletedAt != nil {
		observability.RecordSignIn("password", "deleted")
		return nil, errInvalidCredentials
	}
	if user.BanActive(time.Now()) {
		observability.RecordSignIn("password", "banned")
		return nil, fmt.Errorf("%w: account is banned", autherr.ErrForbidden)
	}
	if user.TwoFactorEnabled {
		token, err := s.issueChallenge(ctx, user.ID)
		if err != nil {
			return nil, err
		}
		observability.RecordSignIn("password", "second_factor_required")
		return &SignInResult{SecondFactorRequired: true, ChallengeToken: token}, nil
	}
	issued, err := s.sessions.Create(user, meta)
	if err != nil {
		return nil, err
	}
	observability.RecordSignIn("password", "success")
	return &SignInResult{Session: issued}, nil
}

// CompleteSecondFactor answers a pending sign-in challenge with a TOTP or
// out-of-band code. The challenge is consumed up front: a wrong code ends
// the attempt and the client restarts from SignIn.
func (s *AuthService) CompleteSecondFactor(ctx context.Context, challengeToken, code string, meta ClientMeta) (*IssuedSession, error) {
	raw, ok, err := s.codes.Consume(ctx, nsSignInChallenge, challengeToken)
	if err != nil {
		return nil, err
	}
	if !ok {
		observability.RecordSignIn("second_factor", "unknown_challenge")
		return nil, fmt.Errorf("%w: challenge expired or already used", autherr.ErrUnauthenticated)
	}
	userID64, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse challenge subject: %w", err)
	}
	user, err := s.users.FindByID(uint(userID64))
	if err != nil {
		return nil, err
	}
	if err := s.twoFactor.Verify(ctx, user, code); err != nil {
		observability.RecordSignIn("second_factor", "bad_code")
		return nil, err
	}
	if user.BanActive(time.Now()) {
		observability.RecordSignIn("second_factor", "banned")
		return nil, fmt.Errorf("%w: account is banned", autherr.ErrForbidden)
	}
	issued, err := s.sessions.Create(user, meta)
	if err != nil {
		return nil, err
	}
	observability.RecordSignIn("second_factor", "success")
	return issued, nil
}

// RequestSecondFactorCode emails a one-time code to the user behind a
// pending challenge, for accounts whose authenticator is unavailable. The
// challenge is re-armed under the same token so the client can answer it.
func (s *AuthService) RequestSecondFactorCode(ctx context.Context, challengeToken string) error {
	raw, ok, err := s.codes.Consume(ctx, nsSignInChallenge, challengeToken)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: challenge expired or already used", autherr.ErrUnauthenticated)
	}
	if err := s.codes.Put(ctx, nsSignInChallenge, challengeToken, raw, signInChallengeTTL); err != nil {
		return err
	}
	userID64, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("parse challenge subject: %w", err)
	}
	user, err := s.users.FindByID(uint(userID64))
	if err != nil {
		return err
	}
	return s.twoFactor.SendOneTimeCode(ctx, user)
}

func (s *AuthService) SignOut(token string) error {
	return s.sessions.RevokeToken(token, "sign_out")
}

func (s *AuthService) issueChallenge(ctx context.Context, userID uint) (string, error) {
	token, err := security.NewOpaqueToken()
	if err != nil {
		return "", err
	}
	if err := s.codes.Put(ctx, nsSignInChallenge, token, strconv.FormatUint(uint64(userID), 10), signInChallengeTTL); err != nil {
		return "", err
	}
	return token, nil
}

// --- email-link flows ---

func (s *AuthService) RequestEmailVerification(ctx context.Context, user *domain.User) error {
	s.dispatchVerification(ctx, user)
	return nil
}

func (s *AuthService) dispatchVerification(ctx context.Context, user *domain.User) {
	token, err := s.links.Sign(user.ID, security.PurposeVerifyEmail, s.linkTTL, nil)
	if err != nil {
		slog.ErrorContext(ctx, "sign verification token", "error", err, "user_id", user.ID)
		return
	}
	if err := s.mailer.SendVerification(ctx, user, token); err != nil {
		slog.ErrorContext(ctx, "dispatch verification email", "error", err, "user_id", user.ID)
	}
}

func (s *AuthService) ConfirmEmailVerification(token string) error {
	claims, err := s.links.Parse(token, security.PurposeVerifyEmail)
	if err != nil {
		return fmt.Errorf("%w: verification link", autherr.ErrInvalid)
	}
	userID, err := claims.SubjectUserID()
	if err != nil {
		return fmt.Errorf("%w: verification link", autherr.ErrInvalid)
	}
	user, err := s.users.FindByID(userID)
	if err != nil {
		return err
	}
	user.EmailVerified = true
	return s.users.Update(user)
}

// RequestPasswordReset never reports whether the address exists.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) error {
	user, err := s.users.FindByEmail(email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil
		}
		return err
	}
	token, err := s.links.Sign(user.ID, security.PurposePasswordReset, s.linkTTL, nil)
	if err != nil {
		return err
	}
	if err := s.mailer.SendPasswordReset(ctx, user, token); err != nil {
		slog.ErrorContext(ctx, "dispatch password reset email", "error", err, "user_id", user.ID)
	}
	return nil
}

// ResetPassword installs a new password and revokes every session the user
// holds: a credential change must not leave stale sessions valid.
func (s *AuthService) ResetPassword(token, newPassword string) error {
	claims, err := s.links.Parse(token, security.PurposePasswordReset)
	if err != nil {
		return fmt.Errorf("%w: reset link", autherr.ErrInvalid)
	}
	userID, err := claims.SubjectUserID()
	if err != nil {
		return fmt.Errorf("%w: reset link", autherr.ErrInvalid)
	}
	user, err := s.users.FindByID(userID)
	if err != nil {
		return err
	}
	hash, err := security.HashPassword(newPassword)
	if err != nil {
		return err
	}
	user.PasswordHash = hash
	if err := s.users.Update(user); err != nil {
		return err
	}
	if _, err := s.sessions.sessions.RevokeByUserID(user.ID, "password_reset"); err != nil {
		return err
	}
	return nil
}

func (s *AuthService) ChangePassword(user *domain.User, currentSessionID uint, oldPassword, newPassword string) error {
	if !security.VerifyPassword(user.PasswordHash, oldPassword) {
		return errInvalidCredentials
	}
	hash, err := security.HashPassword(newPassword)
	if err != nil {
		return err
	}
	user.PasswordHash = hash
	if err := s.users.Update(user); err != nil {
		return err
	}
	// Keep the session that proved the old password; drop the rest.
	sessions, err := s.sessions.sessions.ListActiveByUserID(user.ID)
	if err != nil {
		return err
	}
	for _, sess := range sessions {
		if sess.ID == currentSessionID {
			continue
		}
		if _, err := s.sessions.sessions.RevokeByIDForUser(user.ID, sess.ID, "password_changed"); err != nil {
			return err
		}
	}
	return nil
}

func (s *AuthService) RequestEmailChange(ctx context.Context, user *domain.User, password, newEmail string) error {
	if !security.VerifyPassword(user.PasswordHash, password) {
		return errInvalidCredentials
	}
	if newEmail == "" {
		return fmt.Errorf("%w: new email is required", autherr.ErrInvalid)
	}
	token, err := s.links.Sign(user.ID, security.PurposeChangeEmail, s.linkTTL, func(c *security.LinkClaims) {
		c.NewEmail = newEmail
	})
	if err != nil {
		return err
	}
	if err := s.mailer.SendChangeEmailConfirmation(ctx, user, newEmail, token); err != nil {
		slog.ErrorContext(ctx, "dispatch change-email confirmation", "error", err, "user_id", user.ID)
	}
	return nil
}

func (s *AuthService) ConfirmEmailChange(token string) error {
	claims, err := s.links.Parse(token, security.PurposeChangeEmail)
	if err != nil {
		return fmt.Errorf("%w: change-email link", autherr.ErrInvalid)
	}
	userID, err := claims.SubjectUserID()
	if err != nil || claims.NewEmail == "" {
		return fmt.Errorf("%w: change-email link", autherr.ErrInvalid)
	}
	user, err := s.users.FindByID(userID)
	if err != nil {
		return err
	}
	user.Email = claims.NewEmail
	// The link landed in the new mailbox, which is proof of control.
	user.EmailVerified = true
	return s.users.Update(user)
}

func (s *AuthService) RequestAccountDeletion(ctx context.Context, user *domain.User) error {
	token, err := s.links.Sign(user.ID, security.PurposeDeleteAccount, s.linkTTL, nil)
	if err != nil {
		return err
	}
	if err := s.mailer.SendDeleteAccountConfirmation(ctx, user, token); err != nil {
		slog.ErrorContext(ctx, "dispatch delete-account confirmation", "error", err, "user_id", user.ID)
	}
	return nil
}

// ConfirmAccountDeletion anonymizes the principal and revokes all sessions.
// Rows referenced by session or audit history survive under the blanked
// identity.
func (s *AuthService) ConfirmAccountDeletion(token string) error {
	claims, err := s.links.Parse(token, security.PurposeDeleteAccount)
	if err != nil {
		return fmt.Errorf("%w: delete-account link", autherr.ErrInvalid)
	}
	userID, err := claims.SubjectUserID()
	if err != nil {
		return fmt.Errorf("%w: delete-account link", autherr.ErrInvalid)
	}
	if err := s.users.Anonymize(userID); err != nil {
		return err
	}
	if _, err := s.sessions.sessions.RevokeByUserID(userID, "account_deleted"); err != nil {
		return err
	}
	return nil
}

// --- social sign-in ---

// SignInWithProvider completes an OAuth callback: it links or creates the
// local user behind the provider identity, then issues a session through
// the same second-factor gate as password sign-in.
func (s *AuthService) SignInWithProvider(ctx context.Context, provider OAuthProvider, code string, meta ClientMeta) (*SignInResult, error) {
	tok, err := provider.Exchange(ctx, code)
	if err != nil {
		observability.RecordSignIn(provider.Name(), "exchange_failed")
		return nil, fmt.Errorf("%w: code exchange failed", autherr.ErrUnauthenticated)
	}
	info, err := provider.FetchUserInfo(ctx, tok)
	if err != nil {
		observability.RecordSignIn(provider.Name(), "userinfo_failed")
		return nil, fmt.Errorf("%w: userinfo fetch failed", autherr.ErrUnauthenticated)
	}

	user, err := s.resolveProviderUser(provider.Name(), info)
	if err != nil {
		return nil, err
	}
	if user.BanActive(time.Now()) {
		observability.RecordSignIn(provider.Name(), "banned")
		return nil, fmt.Errorf("%w: account is banned", autherr.ErrForbidden)
	}
	if user.TwoFactorEnabled {
		challenge, err := s.issueChallenge(ctx, user.ID)
		if err != nil {
			return nil, err
		}
		observability.RecordSignIn(provider.Name(), "second_factor_required")
		return &SignInResult{SecondFactorRequired: true, ChallengeToken: challenge}, nil
	}
	issued, err := s.sessions.Create(user, meta)
	if err != nil {
		return nil, err
	}
	observability.RecordSignIn(provider.Name(), "success")
	return &SignInResult{Session: issued}, nil
}

func (s *AuthService) resolveProviderUser(providerName string, info *OAuthUserInfo) (*domain.User, error) {
	account, err := s.accounts.FindByProviderAccount(providerName, info.ProviderUserID)
	if err == nil {
		return s.users.FindByID(account.UserID)
	}
	if !errors.Is(err, repository.ErrAccountNotFound) {
		return nil, err
	}

	user, err := s.users.FindByEmail(info.Email)
	if errors.Is(err, repository.ErrUserNotFound) {
		user = &domain.User{
			Email:         info.Email,
			EmailVerified: info.EmailVerified,
			Name:          info.Name,
			AvatarURL:     info.AvatarURL,
			Role:          domain.RoleUser,
		}
		if err := s.users.Create(user); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	if err := s.accounts.Create(&domain.Account{
		UserID:            user.ID,
		Provider:          providerName,
		ProviderAccountID: info.ProviderUserID,
	}); err != nil {
		return nil, err
	}
	return user, nil
}
