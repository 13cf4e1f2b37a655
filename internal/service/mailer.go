package service

import (
	"context"
	"log/slog"

	"github.com/authkeel/authkeel/internal/domain"
)

// Mailer is the outbound email contract. Delivery is best-effort: callers
// log dispatch failures and keep the state change that triggered them, so a
// broken SMTP relay cannot roll back an invitation or a ban.
type Mailer interface {
	SendVerification(ctx context.Context, user *domain.User, token string) error
	SendPasswordReset(ctx context.Context, user *domain.User, token string) error
	SendChangeEmailConfirmation(ctx context.Context, user *domain.User, newEmail, token string) error
	SendDeleteAccountConfirmation(ctx context.Context, user *domain.User, token string) error
	SendInvitation(ctx context.Context, email string, org *domain.Organization, token string) error
	SendOneTimeCode(ctx context.Context, user *domain.User, code string) error
}

// LogMailer is the dev/test collaborator: it records what would have been
// sent instead of sending it.
type LogMailer struct {
	Logger *slog.Logger
}

func (m *LogMailer) log(ctx context.Context, kind string, attrs ...any) error {
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "mail dispatched", append([]any{"kind", kind}, attrs...)...)
	return nil
}

func (m *LogMailer) SendVerification(ctx context.Context, user *domain.User, token string) error {
	return m.log(ctx, "verification", "user_id", user.ID)
}

func (m *LogMailer) SendPasswordReset(ctx context.Context, user *domain.User, token string) error {
	return m.log(ctx, "password_reset", "user_id", user.ID)
}

func (m *LogMailer) SendChangeEmailConfirmation(ctx context.Context, user *domain.User, newEmail, token string) error {
	return m.log(ctx, "change_email", "user_id", user.ID)
}

func (m *LogMailer) SendDeleteAccountConfirmation(ctx context.Context, user *domain.User, token string) error {
	return m.log(ctx, "delete_account", "user_id", user.ID)
}

func (m *LogMailer) SendInvitation(ctx context.Context, email string, org *domain.Organization, token string) error {
	return m.log(ctx, "invitation", "organization_id", org.ID)
}

func (m *LogMailer) SendOneTimeCode(ctx context.Context, user *domain.User, code string) error {
	return m.log(ctx, "one_time_code", "user_id", user.ID)
}
