package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goodtune/unplug/internal/actuator"
	"github.com/goodtune/unplug/internal/api"
	"github.com/goodtune/unplug/internal/authz"
	"github.com/goodtune/unplug/internal/config"
	"github.com/goodtune/unplug/internal/enforcement"
	"github.com/goodtune/unplug/internal/limits"
	"github.com/goodtune/unplug/internal/metrics"
	"github.com/goodtune/unplug/internal/notify"
	"github.com/goodtune/unplug/internal/policy/opa"
	"github.com/goodtune/unplug/internal/storage/redis"
	"github.com/goodtune/unplug/internal/systemd"
	"github.com/goodtune/unplug/internal/usage"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Unplug daemon",
	Long:  `Start the limit ledger, the enforcement coordinator, the daily reset scheduler, the limits API and the metrics endpoint.`,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting Unplug")

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return err
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running under systemd socket activation")
	}

	loc, err := cfg.Usage.Location()
	if err != nil {
		return err
	}

	// Initialize storage
	store, err := openStorage(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Error closing storage")
		}
	}()

	logger.Info().Str("type", cfg.Storage.Type).Msg("Storage initialized")

	// The redis actuator and usage source share one client
	var redisClient *goredis.Client
	if cfg.Enforcement.Actuator == "redis" || cfg.Usage.Source == "redis" {
		redisClient, err = redis.NewClient(cfg.Storage.Redis)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer func() { _ = redisClient.Close() }()
	}

	// Initialize enforcement
	evaluator, err := newEvaluator(cfg.Enforcement, logger)
	if err != nil {
		return err
	}

	gate := authz.NewStatic(cfg.Authorization.Granted, logger)
	act := newActuator(cfg.Enforcement, redisClient, logger)
	coordinator := enforcement.NewCoordinator(
		act,
		newNotifier(cfg.Notifications, logger),
		gate,
		enforcement.Options{
			WarningThreshold: parseDuration(cfg.Enforcement.WarningThreshold, 5*time.Minute),
			Evaluator:        evaluator,
		},
		logger,
	)

	// Initialize ledger
	ledger := limits.NewLedger(store, limits.Options{Location: loc}, logger)
	ledger.Subscribe(coordinator)

	startCtx, cancelStart := context.WithTimeout(context.Background(), shutdownTimeout)
	err = ledger.Load(startCtx)
	cancelStart()
	if err != nil {
		return fmt.Errorf("failed to load limits: %w", err)
	}
	ledger.Rollover()

	if err := coordinator.CheckAuthorization(context.Background()); err != nil {
		logger.Warn().Err(err).Msg("Limits are tracked but not enforced")
	}

	// Initialize reset scheduler
	resetScheduler, err := usage.NewResetScheduler(ledger, store.History(), usage.ResetConfig{
		ResetTime:     cfg.Usage.DailyResetTime,
		RetentionDays: cfg.Usage.HistoryRetentionDays,
		Location:      loc,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize reset scheduler: %w", err)
	}
	resetScheduler.Start()

	// Initialize usage feed
	feedCtx, cancelFeed := context.WithCancel(context.Background())
	feedDone := make(chan struct{})
	if cfg.Usage.Source == "redis" {
		source := usage.NewRedisSource(redisClient, cfg.Usage.SourceKey, logger)
		feed := usage.NewFeed(source, ledger, parseDuration(cfg.Usage.PollInterval, 30*time.Second), logger)
		go func() {
			defer close(feedDone)
			if err := feed.Run(feedCtx); err != nil && feedCtx.Err() == nil {
				logger.Error().Err(err).Msg("Usage feed stopped")
			}
		}()
	} else {
		close(feedDone)
	}

	// Initialize API server
	apiAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.APIPort)
	deps := api.Deps{
		Ledger:      ledger,
		Coordinator: coordinator,
		Gate:        gate,
		History:     store.History(),
	}
	if applied, ok := act.(api.AppliedReader); ok {
		deps.Applied = applied
	}
	apiServer := api.NewServer(apiAddr, deps, logger)

	// Use systemd socket-activated listener if available
	if sdListeners.Activated && sdListeners.API != nil {
		apiServer.SetListener(sdListeners.API)
	}

	if err := apiServer.Start(); err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}

	// Initialize Metrics Server
	var metricsServer *metrics.Server
	if cfg.Server.MetricsPort > 0 || sdListeners.Metrics != nil {
		metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.MetricsPort)
		metricsServer = metrics.NewServer(metricsAddr, logger)
		if sdListeners.Activated && sdListeners.Metrics != nil {
			metricsServer.SetListener(sdListeners.Metrics)
		}
		if err := metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	logger.Info().
		Str("api", apiAddr).
		Int("limits", len(ledger.ListLimits())).
		Msg("Unplug startup complete")

	// Notify systemd that we're ready to serve requests
	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	}
	if err := systemd.NotifyStatus(fmt.Sprintf("Tracking %d app limits", len(ledger.ListLimits()))); err != nil {
		logger.Debug().Err(err).Msg("Failed to send systemd status")
	}

	// Wait for signals (shutdown or reload)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range sigChan {
		if sig != syscall.SIGHUP {
			logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received, gracefully stopping...")
			break
		}
		if reloader, ok := evaluator.(*opa.Engine); ok {
			logger.Info().Msg("SIGHUP received, reloading policies...")
			if err := reloader.Reload(); err != nil {
				logger.Error().Err(err).Msg("Failed to reload policies")
			} else {
				logger.Info().Msg("Policies reloaded successfully")
			}
		}
	}
	signal.Stop(sigChan)

	// Notify systemd that we're stopping
	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Stop producers before the ledger they write to
	if err := apiServer.Stop(ctx); err != nil {
		logger.Error().Err(err).Msg("Error stopping API server")
	}
	cancelFeed()
	<-feedDone
	resetScheduler.Stop()

	if err := ledger.Close(ctx); err != nil {
		logger.Error().Err(err).Msg("Error flushing limits")
	}
	if err := coordinator.Close(ctx); err != nil {
		logger.Error().Err(err).Msg("Error draining enforcement effects")
	}

	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			logger.Error().Err(err).Msg("Error stopping metrics server")
		}
	}

	logger.Info().Msg("Unplug stopped")

	return nil
}

// newEvaluator returns nil for the builtin evaluator, which the coordinator
// treats as the threshold rules.
func newEvaluator(cfg config.EnforcementConfig, logger zerolog.Logger) (enforcement.Evaluator, error) {
	if cfg.Evaluator != "opa" {
		return nil, nil
	}
	engine, err := opa.NewEngine(cfg.OPAPolicyDir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OPA engine: %w", err)
	}
	return engine, nil
}

func newActuator(cfg config.EnforcementConfig, client *goredis.Client, logger zerolog.Logger) enforcement.Actuator {
	if cfg.Actuator == "redis" {
		return actuator.NewRedis(client, cfg.RedisBlockedKey, cfg.RedisChannel, logger)
	}
	return actuator.NewLog(logger)
}

func newNotifier(cfg config.NotificationsConfig, logger zerolog.Logger) enforcement.Notifier {
	if !cfg.Enabled {
		return nil
	}
	if cfg.Type == "webhook" {
		return notify.NewWebhook(notify.WebhookConfig{
			URL:     cfg.WebhookURL,
			Timeout: parseDuration(cfg.Timeout, 5*time.Second),
			Retries: cfg.Retries,
		}, logger)
	}
	return notify.NewLog(logger)
}
