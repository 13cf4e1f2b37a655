// Package app assembles the service. Construction is explicit so the full
// dependency graph is readable in one place.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/authkeel/authkeel/internal/config"
	"github.com/authkeel/authkeel/internal/http/handler"
	"github.com/authkeel/authkeel/internal/http/router"
	"github.com/authkeel/authkeel/internal/observability"
	"github.com/authkeel/authkeel/internal/repository"
	"github.com/authkeel/authkeel/internal/security"
	"github.com/authkeel/authkeel/internal/service"
)

type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	Server        *http.Server
	Observability *observability.Runtime

	DB    *gorm.DB
	Redis redis.UniversalClient

	Sessions *service.SessionService
	Device   *service.DeviceFlowService
	Grants   repository.DeviceGrantRepository
	Expired  repository.SessionRepository
}

// Build wires configuration through storage, services, and the HTTP surface.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	runtime, err := observability.InitRuntime(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init observability: %w", err)
	}
	logger := runtime.Logger

	db, err := repository.OpenDatabase(cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := repository.Migrate(db); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})

	users := repository.NewUserRepository(db)
	accounts := repository.NewAccountRepository(db)
	sessionsRepo := repository.NewSessionRepository(db)
	twoFactorRepo := repository.NewTwoFactorRepository(db)
	grants := repository.NewDeviceGrantRepository(db)
	orgs := repository.NewOrganizationRepository(db)

	codes := service.NewRedisCodeStore(redisClient, "authkeel")
	links := security.NewLinkTokenManager(cfg.TokenIssuer, cfg.LinkTokenSecret)
	mailer := &service.LogMailer{}

	sessions := service.NewSessionService(sessionsRepo, users, orgs, cfg.TokenPepper, cfg.SessionTTL)
	twoFactor := service.NewTwoFactorService(users, twoFactorRepo, codes, mailer, cfg.TOTPIssuer, cfg.OTPCodeTTL)
	auth := service.NewAuthService(users, accounts, sessions, twoFactor, codes, links, mailer, cfg.LinkTokenTTL)
	device := service.NewDeviceFlowService(grants, sessions, users, codes, cfg.TokenPepper, cfg.DeviceGrantTTL, cfg.DevicePollInterval)
	organizations := service.NewOrganizationService(orgs, users, links, mailer, cfg.InvitationTTL)
	admin := service.NewAdminService(users, sessionsRepo)
	impersonation := service.NewImpersonationService(users, sessions, cfg.ImpersonationTTL)

	var google service.OAuthProvider
	if cfg.GoogleClientID != "" {
		google = service.NewGoogleProvider(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL)
	}

	mux := router.NewRouter(router.Dependencies{
		Auth:               handler.NewAuthHandler(auth, google, codes),
		Sessions:           handler.NewSessionHandler(sessions),
		TwoFactor:          handler.NewTwoFactorHandler(twoFactor),
		Device:             handler.NewDeviceHandler(device),
		Organizations:      handler.NewOrganizationHandler(organizations),
		Admin:              handler.NewAdminHandler(admin),
		Impersonation:      handler.NewImpersonationHandler(impersonation),
		SessionValidator:   sessions,
		AuthRateLimitRPS:   cfg.AuthRateLimitRPS,
		AuthRateLimitBurst: cfg.AuthRateLimitBurst,
		ReadyChecks: map[string]router.ReadyCheck{
			"database": func(ctx context.Context) error {
				sqlDB, err := db.DB()
				if err != nil {
					return err
				}
				return sqlDB.PingContext(ctx)
			},
			"redis": func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			},
		},
		EnableOTelHTTP: cfg.OTELTracesEnabled,
	})

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &App{
		Config:        cfg,
		Logger:        logger,
		Server:        server,
		Observability: runtime,
		DB:            db,
		Redis:         redisClient,
		Sessions:      sessions,
		Device:        device,
		Grants:        grants,
		Expired:       sessionsRepo,
	}, nil
}

// Run serves HTTP and runs the periodic cleanup sweep until ctx is canceled,
// then drains connections and flushes telemetry.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.Info("http server listening", "addr", a.Server.Addr)
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				a.sweep()
			}
		}
	})

	g.Go(func() error {
		<-ctx.Done()
		drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.Server.Shutdown(drainCtx)
	})

	err := g.Wait()

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if shutdownErr := a.Observability.Shutdown(flushCtx); shutdownErr != nil {
		a.Logger.Error("observability shutdown", "error", shutdownErr)
	}
	if closeErr := a.Redis.Close(); closeErr != nil {
		a.Logger.Error("redis close", "error", closeErr)
	}
	return err
}

// sweep retires expired sessions and device grants. Both are lazy-expired on
// read, so this only keeps the tables from growing without bound.
func (a *App) sweep() {
	if n, err := a.Expired.CleanupExpired(); err != nil {
		a.Logger.Error("session cleanup", "error", err)
	} else if n > 0 {
		a.Logger.Info("session cleanup", "removed", n)
	}
	if n, err := a.Grants.CleanupExpired(); err != nil {
		a.Logger.Error("device grant cleanup", "error", err)
	} else if n > 0 {
		a.Logger.Info("device grant cleanup", "removed", n)
	}
}
