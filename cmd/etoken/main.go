package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/Vysion-Technology/MountAbu-DigitalToken-Backend/internal/api"
	"github.com/Vysion-Technology/MountAbu-DigitalToken-Backend/internal/blacklist"
	"github.com/Vysion-Technology/MountAbu-DigitalToken-Backend/internal/catalog"
	"github.com/Vysion-Technology/MountAbu-DigitalToken-Backend/internal/config"
	"github.com/Vysion-Technology/MountAbu-DigitalToken-Backend/internal/notify"
	"github.com/Vysion-Technology/MountAbu-DigitalToken-Backend/internal/store/postgres"
	"github.com/Vysion-Technology/MountAbu-DigitalToken-Backend/internal/token"
	"github.com/Vysion-Technology/MountAbu-DigitalToken-Backend/internal/workflow"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	switch cfg.Log.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	logger.Info("starting etoken backend",
		"http_port", cfg.Server.HTTPPort,
		"metrics_port", cfg.Server.MetricsPort,
		"rejection_threshold", cfg.Blacklist.RejectionThreshold,
		"token_validity_days", cfg.Token.ValidityDays,
		"share_binding_enforced", cfg.Token.ShareBindingEnforced,
		"sms_provider", cfg.SMS.Provider,
	)

	db, err := postgres.New(postgres.Config{
		URL:             cfg.DB.URL,
		MaxOpenConns:    cfg.DB.MaxOpenConns,
		MaxIdleConns:    cfg.DB.MaxIdleConns,
		ConnMaxLifetime: cfg.DB.ConnMaxLifetime,
	})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("connected to database")

	if err := db.RunMigrations(cfg.DB.MigrationsDir); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	cat, err := catalog.Load(cfg.Materials.CatalogPath)
	if err != nil {
		logger.Error("failed to load material catalog", "path", cfg.Materials.CatalogPath, "error", err)
		os.Exit(1)
	}
	logger.Info("material catalog loaded",
		"materials", len(cat.Materials),
		"nakas", len(cat.Nakas),
	)
	defaultQuotas, err := cat.DefaultQuotas([]string{"CEMENT", "SAND"})
	if err != nil {
		logger.Error("failed to build default quotas from catalog", "error", err)
		os.Exit(1)
	}

	// Repositories
	statusRepo := postgres.NewBlacklistStatusRepo(db)
	rejectionRepo := postgres.NewRejectionRepo(db)
	auditRepo := postgres.NewAuditLogRepo(db)
	tokenRepo := postgres.NewTokenRepo(db)
	entryRepo := postgres.NewVehicleEntryRepo(db)
	shareRepo := postgres.NewTokenShareRepo(db)
	appRepo := postgres.NewApplicationRepo(db)
	userRepo := postgres.NewUserRepo(db)

	notifier := buildNotifier(cfg, logger)

	blacklistSvc := blacklist.NewService(
		db.DB, statusRepo, rejectionRepo, auditRepo, userRepo, notifier,
		blacklist.Config{
			Threshold:     cfg.Blacklist.RejectionThreshold,
			GateCacheSize: cfg.Blacklist.GateCacheSize,
			GateCacheTTL:  cfg.Blacklist.GateCacheTTL,
		},
		logger,
	)

	tokenSvc := token.NewService(
		db.DB, tokenRepo, entryRepo, shareRepo, appRepo, userRepo, notifier,
		token.Config{
			ValidityDays: cfg.Token.ValidityDays,
			GeoFence: token.GeoFence{
				LatMin: cfg.GeoFence.LatMin,
				LatMax: cfg.GeoFence.LatMax,
				LonMin: cfg.GeoFence.LonMin,
				LonMax: cfg.GeoFence.LonMax,
			},
			ShareBindingEnforced: cfg.Token.ShareBindingEnforced,
			ShareBaseURL:         cfg.Token.ShareBaseURL,
		},
		logger,
	)

	workflowSvc := workflow.NewService(db.DB, appRepo, userRepo, blacklistSvc, tokenSvc, defaultQuotas, logger)

	apiServer := api.NewServer(workflowSvc, blacklistSvc, tokenSvc, tokenRepo, entryRepo, logger)

	rl := api.NewRateLimitMiddleware(logger, cfg.RateLimit.RequestsPerSec, cfg.RateLimit.Burst)
	defer rl.Stop()
	handler := rl.Wrap(api.AuditMiddleware(logger, apiServer.Handler()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runHTTPServer(gCtx, cfg.Server.HTTPPort, handler, "api", logger)
	})

	g.Go(func() error {
		return runMetricsServer(gCtx, cfg.Server.MetricsPort, logger)
	})

	// Expiry sweep: ACTIVE tokens past their window become EXPIRED.
	g.Go(func() error {
		return runExpirySweep(gCtx, tokenSvc, cfg.Token.ExpirySweepInterval, logger)
	})

	g.Go(func() error {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Error("backend exited with error", "error", err)
		os.Exit(1)
	}

	logger.Info("backend shut down gracefully")
}

func buildNotifier(cfg *config.Config, logger *slog.Logger) notify.Notifier {
	cooldown := time.Duration(cfg.SMS.CooldownMin) * time.Minute
	switch cfg.SMS.Provider {
	case "msg91":
		return notify.NewMultiNotifier(cooldown, logger,
			notify.NewSMSNotifier(cfg.SMS.WebhookURL, cfg.SMS.SenderID, cfg.SMS.AuthKey),
			notify.NewLogNotifier(logger),
		)
	case "none":
		return notify.NoopNotifier{}
	default:
		return notify.NewMultiNotifier(cooldown, logger, notify.NewLogNotifier(logger))
	}
}

func runExpirySweep(ctx context.Context, svc *token.Service, interval time.Duration, logger *slog.Logger) error {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("expiry sweep stopped")
			return nil
		case <-ticker.C:
			if _, err := svc.ExpireOverdue(ctx); err != nil {
				logger.Warn("expiry sweep failed", "error", err)
			}
		}
	}
}

func runHTTPServer(ctx context.Context, port int, handler http.Handler, name string, logger *slog.Logger) error {
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: handler,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			logger.Warn(name+" server shutdown error", "error", err)
		}
	}()

	logger.Info(name+" server started", "port", port)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("%s server: %w", name, err)
	}
	return nil
}

func runMetricsServer(ctx context.Context, port int, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok")); err != nil {
			logger.Warn("failed to write health response", "error", err)
		}
	})
	mux.Handle("/metrics", promhttp.Handler())

	return runHTTPServer(ctx, port, mux, "metrics", logger)
}
