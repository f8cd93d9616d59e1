package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/slack-go/slack"
	"go.uber.org/zap"
	"gorm.io/gorm/logger"

	"github.com/resqnet/resqnet/internal/config"
	"github.com/resqnet/resqnet/internal/database"
	"github.com/resqnet/resqnet/internal/handlers"
	"github.com/resqnet/resqnet/internal/jobs"
	"github.com/resqnet/resqnet/internal/logging"
	"github.com/resqnet/resqnet/internal/metrics"
	"github.com/resqnet/resqnet/internal/middleware"
	"github.com/resqnet/resqnet/internal/notify"
	"github.com/resqnet/resqnet/internal/roster"
	"github.com/resqnet/resqnet/internal/services"
	slackutil "github.com/resqnet/resqnet/internal/slack"
)

func main() {
	// Load .env file if it exists (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Failed to load .env file: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zlog, err := logging.New(cfg.LogLevel, cfg.LogFormat, "resqnet")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zlog.Sync()
	zap.ReplaceGlobals(zlog)

	if err := run(cfg, zlog); err != nil {
		zlog.Fatal("resqnet stopped with error", zap.Error(err))
	}
}

func run(cfg *config.Config, zlog *zap.Logger) error {
	zlog.Info("starting resqnet",
		zap.Int("http_port", cfg.HTTPPort),
		zap.String("database_driver", cfg.DatabaseDriver),
		zap.Strings("channels", cfg.Channels))

	// Database
	if err := database.Connect(cfg.DatabaseDriver, cfg.DatabaseURL, logger.Warn); err != nil {
		return err
	}
	db := database.GetDB()
	if err := database.AutoMigrate(db, zlog); err != nil {
		return err
	}

	defaults := &database.EscalationSettings{
		Enabled:         true,
		CriticalMinutes: cfg.Escalation.Critical,
		HighMinutes:     cfg.Escalation.High,
		MediumMinutes:   cfg.Escalation.Medium,
		LowMinutes:      cfg.Escalation.Low,
	}
	supervisor := &database.Responder{
		ID:          cfg.SupervisorID,
		DisplayName: cfg.SupervisorName,
		Email:       cfg.SupervisorEmail,
		Phone:       cfg.SupervisorPhone,
		Active:      true,
	}
	if err := database.InitializeDefaults(db, supervisor, defaults, zlog); err != nil {
		return err
	}

	m := metrics.New()
	contacts := roster.NewCachedRoster(roster.NewDBRoster(db), cfg.RosterCacheTTL)

	// Notification dispatch
	channels := make([]database.Channel, 0, len(cfg.Channels))
	for _, ch := range cfg.Channels {
		channels = append(channels, database.Channel(ch))
	}
	dispatcher := notify.NewDispatcher(db, contacts, channels, cfg.ChannelTimeout, zlog.Named("dispatcher"), m)
	registerTransports(cfg, dispatcher, zlog)

	// Core services
	store := services.NewSignalStore(db, zlog.Named("store"), m)
	machine := services.NewStateMachine(store, contacts, dispatcher, zlog.Named("state"), m)
	assigner := services.NewAssignmentManager(store, contacts, dispatcher, zlog.Named("assignments"), m)
	escalator := services.NewEscalator(store, dispatcher, cfg.SupervisorID, zlog.Named("escalation"), m)
	escalator.SetDefaults(defaults)
	clusters := services.NewClusterService(store, cfg.ClusterRadiusKm, zlog.Named("clusters"), m)

	// Periodic passes
	runner := jobs.NewRunner(zlog.Named("jobs"), 5*time.Minute)
	schedules := []struct {
		spec string
		job  jobs.Job
	}{
		{cfg.EscalationSchedule, jobs.NewEscalationJob(store, escalator, zlog.Named("escalation"), m)},
		{cfg.ClusterSchedule, jobs.NewClusterJob(clusters, zlog.Named("clusters"), m)},
		{cfg.OutboxSchedule, jobs.NewOutboxRelay(dispatcher, cfg.OutboxStaleAfter, zlog.Named("outbox"), m)},
	}
	for _, s := range schedules {
		if err := runner.Add(s.spec, s.job); err != nil {
			return err
		}
	}
	runner.Start()

	// HTTP
	mux := http.NewServeMux()
	handlers.NewHTTPHandler(db, m).SetupRoutes(mux)
	handlers.NewAPIHandler(store, machine, assigner, escalator, clusters, notify.NewInbox(db), zlog.Named("api")).SetupRoutes(mux)

	cors := middleware.NewCORSMiddleware(cfg.AllowedOrigins...)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           middleware.RequestIDMiddleware(middleware.AccessLog(zlog.Named("http"))(cors.Wrap(mux))),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		zlog.Info("HTTP server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Set up graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var runErr error
	select {
	case <-ctx.Done():
		zlog.Info("received shutdown signal, cleaning up")
	case runErr = <-serverErr:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zlog.Warn("HTTP server shutdown", zap.Error(err))
	}
	if err := runner.Stop(shutdownCtx); err != nil {
		zlog.Warn("periodic jobs did not stop in time", zap.Error(err))
	}
	// In-flight channel attempts finish or hit their timeout; the outbox
	// relay picks up anything left pending on the next start
	dispatcher.Wait()

	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
	zlog.Info("shutdown complete")
	return runErr
}

// registerTransports wires every external channel that has configuration.
// Channels listed in NOTIFY_CHANNELS without a transport are recorded as
// skipped.
func registerTransports(cfg *config.Config, d *notify.Dispatcher, zlog *zap.Logger) {
	if cfg.SMTP.IsConfigured() {
		d.Register(notify.NewEmailTransport(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.Username, cfg.SMTP.Password, cfg.SMTP.From))
		zlog.Info("email channel enabled", zap.String("smtp_host", cfg.SMTP.Host))
	}
	if cfg.SMS.IsConfigured() {
		d.Register(notify.NewSMSGateway(cfg.SMS.URL, cfg.SMS.Token))
		zlog.Info("sms channel enabled")
	}
	if cfg.Push.IsConfigured() {
		d.Register(notify.NewPushGateway(cfg.Push.URL, cfg.Push.Token))
		zlog.Info("push channel enabled")
	}
	if cfg.Slack.IsConfigured() {
		client := slack.New(cfg.Slack.BotToken)
		resolver := slackutil.NewChannelResolver(client, zlog.Named("slack"))
		d.Register(slackutil.NewTransport(client, resolver, cfg.Slack.FallbackChannel))
		zlog.Info("slack channel enabled", zap.String("fallback_channel", cfg.Slack.FallbackChannel))
	}
}
