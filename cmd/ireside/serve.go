package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ireside/ireside/internal/ai"
	"github.com/ireside/ireside/internal/audit"
	"github.com/ireside/ireside/internal/auth"
	"github.com/ireside/ireside/internal/concierge"
	"github.com/ireside/ireside/internal/lease"
	"github.com/ireside/ireside/internal/listing"
	"github.com/ireside/ireside/internal/maintenance"
	"github.com/ireside/ireside/internal/messaging"
	"github.com/ireside/ireside/internal/notification"
	"github.com/ireside/ireside/internal/platform/config"
	"github.com/ireside/ireside/internal/platform/database"
	"github.com/ireside/ireside/internal/platform/server"
	"github.com/ireside/ireside/internal/platform/telemetry"
	"github.com/ireside/ireside/internal/profile"
	"github.com/ireside/ireside/internal/property"
	"github.com/ireside/ireside/internal/rbac"
	"github.com/ireside/ireside/internal/realtime"
	"github.com/ireside/ireside/internal/sentinel"
	"github.com/ireside/ireside/internal/storage"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// devUserID is the identity used for the "dev" bearer token in dev mode.
const devUserID = "00000000-0000-4000-8000-00000000de40"

func newServeCmd() *cobra.Command {
	var skipMigrations bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and background workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, !skipMigrations)
		},
	}
	cmd.Flags().BoolVar(&skipMigrations, "skip-migrations", false, "do not apply pending migrations on startup")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, migrate bool) error {
	logger := slog.Default()

	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			slog.Warn("tracing shutdown failed", "error", err)
		}
	}()

	if cfg.Database.URL == "" {
		return errors.New("database.url is required")
	}
	pool, err := database.Connect(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	if migrate {
		if err := database.RunMigrations(cfg.Database.URL, migrationsURL(cfg)); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		slog.Info("migrations complete")
	}

	objects, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}

	// Auth
	if cfg.Auth.JWT.SigningKey == "" && !cfg.Auth.DevMode {
		return errors.New("auth.jwt.signingkey is required outside dev mode")
	}
	tokenSvc := auth.NewTokenService(
		cfg.Auth.JWT.SigningKey,
		cfg.Auth.JWT.Issuer,
		cfg.Auth.JWT.ExpiryHours,
		cfg.Auth.JWT.RefreshExpiryHours,
	)
	refreshStore := auth.NewRefreshTokenStore(pool)
	authHandler := auth.NewHandler(auth.HandlerConfig{
		TokenSvc: tokenSvc,
		Accounts: auth.NewStore(pool),
		Families: refreshStore,
	})

	devIdentity, err := buildDevIdentity(cfg.Auth)
	if err != nil {
		return err
	}
	if devIdentity != nil {
		slog.Warn("dev mode enabled: the bearer token \"dev\" authenticates every request", "role", devIdentity.Role)
	}

	// Audit
	auditStore := audit.NewStore()
	auditLogger := audit.NewAsyncLogger(pool, auditStore, audit.LoggerConfig{
		BufferSize:    cfg.Audit.BufferSize,
		BatchSize:     cfg.Audit.BatchSize,
		FlushInterval: time.Duration(cfg.Audit.FlushInterval) * time.Millisecond,
	})
	defer func() {
		if err := auditLogger.Close(); err != nil {
			slog.Error("audit logger close failed", "error", err)
		}
	}()

	// Realtime
	bus, err := buildBus(ctx, cfg.Realtime)
	if err != nil {
		return err
	}
	defer bus.Close()
	hub := realtime.NewHub(cfg.Realtime.ClientBuffer)

	// AI
	gen, err := buildGenerator(ctx, cfg.AI)
	if err != nil {
		return err
	}
	if gen == nil {
		slog.Warn("ai.apikey not set: AI and concierge endpoints are disabled")
	}

	// Domain
	notifications := notification.NewStore(cfg.Notifications.MaxAttempts)
	properties := property.NewStore()
	listings := listing.NewStore()
	leases := lease.NewStore()

	deps := server.Dependencies{
		Pool:                pool,
		Auth:                tokenSvc,
		AuthHandler:         authHandler,
		RBAC:                rbac.NewEvaluator(rbac.DefaultRoles()),
		ProfileHandler:      profile.NewHandler(pool, profile.NewStore(), objects, refreshStore, auditLogger),
		PropertyHandler:     property.NewHandler(pool, properties, auditLogger),
		ListingHandler:      listing.NewHandler(pool, listings, objects, notifications, auditLogger),
		LeaseHandler:        lease.NewHandler(pool, leases, listings, properties, objects, notifications, auditLogger),
		TicketHandler:       maintenance.NewHandler(pool, maintenance.NewStore(), objects, notifications, auditLogger),
		MessageHandler:      messaging.NewHandler(pool, messaging.NewStore(), notifications, bus, auditLogger),
		NotificationHandler: notification.NewHandler(pool, notifications),
		AuditHandler:        audit.NewHandler(pool, auditStore),
		MediaHandler:        storage.NewHandler(objects),
		RealtimeHandler: realtime.NewHandler(hub, tokenSvc, devIdentity, realtime.HandlerConfig{
			AllowedOrigins: cfg.CORS.AllowedOrigins,
			IdleTimeout:    time.Duration(cfg.Realtime.IdleTimeoutSec) * time.Second,
		}),
		RBACAuditLogger:    &rbacAuditAdapter{l: auditLogger},
		DevMode:            cfg.Auth.DevMode,
		DevIdentity:        devIdentity,
		Logger:             logger,
		CORSAllowedOrigins: cfg.CORS.AllowedOrigins,
		Tracing:            cfg.Tracing.Enabled,
	}
	if gen != nil {
		timeout := time.Duration(cfg.AI.TimeoutSecs) * time.Second
		deps.AIHandler = ai.NewHandler(gen, ai.HandlerConfig{
			MaxPromptBytes: cfg.AI.MaxPromptBytes,
			MaxImageBytes:  cfg.AI.MaxImageBytes,
			Timeout:        timeout,
		})
		deps.ConciergeHandler = concierge.NewHandler(pool, concierge.NewStore(), gen,
			buildSentinel(cfg.Concierge, gen, timeout), auditLogger, concierge.Config{
				HistoryLimit:      cfg.Concierge.HistoryLimit,
				MaxContextEntries: cfg.Concierge.MaxContextEntries,
				Timeout:           timeout,
			})
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := server.New(addr, deps)

	dispatcher := notification.NewDispatcher(notifications, notification.NewBusSender(bus), dispatcherConfig(cfg.Notifications))
	expirer := lease.NewExpirer(leases, properties, notifications, auditLogger, lease.ExpirerConfig{
		Interval:  time.Duration(cfg.Leases.ExpiryIntervalSecs) * time.Second,
		BatchSize: cfg.Leases.ExpiryBatchSize,
	})

	slog.Info("starting ireside", "addr", addr, "storage", cfg.Storage.Driver, "realtime", cfg.Realtime.Driver)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Start(gctx) })
	g.Go(func() error { return hub.Run(gctx, bus) })
	g.Go(func() error { return dispatcher.Run(gctx, pool) })
	g.Go(func() error { return expirer.Run(gctx, pool) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("ireside stopped")
	return nil
}

// buildDevIdentity returns nil unless dev mode is on.
func buildDevIdentity(cfg config.AuthConfig) (*auth.Identity, error) {
	if !cfg.DevMode {
		return nil, nil
	}
	switch cfg.DevRole {
	case auth.RoleLandlord, auth.RoleTenant, auth.RoleAdmin:
	default:
		return nil, fmt.Errorf("auth.devrole %q must be landlord, tenant or admin", cfg.DevRole)
	}
	return &auth.Identity{
		UserID:      devUserID,
		Role:        cfg.DevRole,
		Email:       "dev@ireside.local",
		DisplayName: "Dev User",
		TokenType:   "access",
	}, nil
}

func buildBus(ctx context.Context, cfg config.RealtimeConfig) (realtime.Bus, error) {
	switch cfg.Driver {
	case "", "memory":
		return realtime.NewMemoryBus(), nil
	case "redis":
		if cfg.RedisAddr == "" {
			return nil, errors.New("realtime.redis_addr is required for the redis driver")
		}
		bus, err := realtime.NewRedisBus(ctx, cfg.RedisAddr, cfg.RedisChannel)
		if err != nil {
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		return bus, nil
	default:
		return nil, fmt.Errorf("unknown realtime driver %q", cfg.Driver)
	}
}

// buildGenerator returns nil when no API key is configured.
func buildGenerator(ctx context.Context, cfg config.AIConfig) (ai.Generator, error) {
	if cfg.APIKey == "" {
		return nil, nil
	}
	gen, err := ai.NewGeminiGenerator(ctx, ai.GeminiConfig{
		APIKey:      cfg.APIKey,
		Model:       cfg.Model,
		VisionModel: cfg.VisionModel,
		Temperature: float32(cfg.Temperature),
	})
	if err != nil {
		return nil, fmt.Errorf("initializing gemini: %w", err)
	}
	return gen, nil
}

// buildSentinel returns nil when screening is disabled.
func buildSentinel(cfg config.ConciergeConfig, gen ai.Generator, timeout time.Duration) sentinel.Sentinel {
	if !cfg.SentinelEnabled {
		return nil
	}
	var llm sentinel.Sentinel
	if cfg.LLMScreening && gen != nil {
		llm = sentinel.NewLLMClassifier(gen, sentinel.LLMConfig{Timeout: timeout})
	}
	return sentinel.NewComposite(sentinel.NewPatternMatcher(sentinel.DefaultPatterns()), llm)
}

func dispatcherConfig(cfg config.NotificationsConfig) notification.DispatcherConfig {
	return notification.DispatcherConfig{
		PollInterval:   time.Duration(cfg.PollIntervalSecs) * time.Second,
		ClaimBatchSize: cfg.ClaimBatchSize,
		LockTimeout:    time.Duration(cfg.LockTimeoutSecs) * time.Second,
		MaxAttempts:    cfg.MaxAttempts,
		BaseRetryDelay: time.Duration(cfg.BaseRetrySeconds) * time.Second,
		MaxRetryDelay:  time.Duration(cfg.MaxRetrySeconds) * time.Second,
		JitterFraction: cfg.JitterFraction,
	}
}

// rbacAuditAdapter records RBAC denials in the audit log.
type rbacAuditAdapter struct {
	l audit.Logger
}

func (a *rbacAuditAdapter) Log(ctx context.Context, event rbac.AuditEvent) {
	a.l.Log(ctx, audit.Event{
		UserID:       event.UserID,
		Action:       event.Action,
		ResourceType: event.ResourceType,
		ResourceID:   event.ResourceID,
		Metadata:     event.Metadata,
		Source:       event.Source,
	})
}
