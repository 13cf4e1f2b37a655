package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/authkeel/authkeel/internal/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

type AppMetrics struct {
	signInCounter            metric.Int64Counter
	sessionValidationCounter metric.Int64Counter
	deviceGrantCounter       metric.Int64Counter
	twoFactorCounter         metric.Int64Counter
	adminActionCounter       metric.Int64Counter
	orgEventCounter          metric.Int64Counter
}

var (
	metricsMu  sync.RWMutex
	appMetrics *AppMetrics

	repoMetricsOnce sync.Once
	repoOpCounter   metric.Int64Counter
)

func InitMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sdkmetric.MeterProvider, error) {
	if !cfg.OTELMetricsEnabled {
		mp := sdkmetric.NewMeterProvider()
		otel.SetMeterProvider(mp)
		logger.Info("otel metrics disabled")
		return mp, nil
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTELExporterOTLPEndpoint)}
	if cfg.OTELExporterOTLPInsecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp metric exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.OTELServiceName),
			attribute.String("deployment.environment", cfg.OTELEnvironment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create metric resource: %w", err)
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.OTELMetricsExportInterval))
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(mp)

	meter := mp.Meter("authkeel")
	signIn, err := meter.Int64Counter("auth.signin.attempts")
	if err != nil {
		return nil, err
	}
	sessionValidation, err := meter.Int64Counter("auth.session.validations")
	if err != nil {
		return nil, err
	}
	deviceGrant, err := meter.Int64Counter("auth.device.grant.events")
	if err != nil {
		return nil, err
	}
	twoFactor, err := meter.Int64Counter("auth.twofactor.events")
	if err != nil {
		return nil, err
	}
	adminAction, err := meter.Int64Counter("auth.admin.actions")
	if err != nil {
		return nil, err
	}
	orgEvent, err := meter.Int64Counter("auth.organization.events")
	if err != nil {
		return nil, err
	}

	metricsMu.Lock()
	appMetrics = &AppMetrics{
		signInCounter:            signIn,
		sessionValidationCounter: sessionValidation,
		deviceGrantCounter:       deviceGrant,
		twoFactorCounter:         twoFactor,
		adminActionCounter:       adminAction,
		orgEventCounter:          orgEvent,
	}
	metricsMu.Unlock()

	logger.Info("otel metrics initialized", "endpoint", cfg.OTELExporterOTLPEndpoint)
	return mp, nil
}

func current() *AppMetrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return appMetrics
}

// RecordSignIn counts sign-in attempts per credential method and outcome.
func RecordSignIn(method, status string) {
	m := current()
	if m == nil {
		return
	}
	m.signInCounter.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String("method", method),
			attribute.String("status", status),
		),
	)
}

// RecordSessionValidation counts token lookups. Expired, revoked and
// not-found all deny, but they are counted apart.
func RecordSessionValidation(outcome string) {
	m := current()
	if m == nil {
		return
	}
	m.sessionValidationCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func RecordDeviceGrantEvent(event string) {
	m := current()
	if m == nil {
		return
	}
	m.deviceGrantCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("event", event)))
}

func RecordTwoFactorEvent(stage, status string) {
	m := current()
	if m == nil {
		return
	}
	m.twoFactorCounter.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String("stage", stage),
			attribute.String("status", status),
		),
	)
}

func RecordAdminAction(action string) {
	m := current()
	if m == nil {
		return
	}
	m.adminActionCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("action", action)))
}

func RecordOrganizationEvent(event string) {
	m := current()
	if m == nil {
		return
	}
	m.orgEventCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("event", event)))
}

// RecordRepositoryOperation counts storage operations per entity, operation
// and outcome. The counter is created lazily so repositories work before
// InitMetrics has run (tests, CLI tools).
func RecordRepositoryOperation(ctx context.Context, entity, operation, outcome string) {
	repoMetricsOnce.Do(func() {
		counter, err := otel.Meter("authkeel").Int64Counter("repository.operations")
		if err == nil {
			repoOpCounter = counter
		}
	})
	if repoOpCounter == nil {
		return
	}
	repoOpCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("entity", entity),
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	))
}
