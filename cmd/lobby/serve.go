package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/lobby/pkg/alerts"
	"github.com/cuemby/lobby/pkg/api"
	"github.com/cuemby/lobby/pkg/auth"
	"github.com/cuemby/lobby/pkg/config"
	"github.com/cuemby/lobby/pkg/content"
	"github.com/cuemby/lobby/pkg/dns"
	"github.com/cuemby/lobby/pkg/engine"
	"github.com/cuemby/lobby/pkg/events"
	"github.com/cuemby/lobby/pkg/heartbeat"
	"github.com/cuemby/lobby/pkg/log"
	"github.com/cuemby/lobby/pkg/metrics"
	"github.com/cuemby/lobby/pkg/push"
	"github.com/cuemby/lobby/pkg/storage"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the lobby server",
	Long: `Run the lobby HTTP API, push channels and operator dashboard backend.

Configuration is read from an optional YAML file (--config), then LOBBY_*
environment variables, then flags. For example LOBBY_ADMIN_PASSWORD sets
admin.password and LOBBY_PUSH_HEARTBEAT_TIMEOUT sets push.heartbeat_timeout.`,
	RunE: runServe,
}

func init() {
	config.RegisterFlags(serveCmd.Flags())
}

func runServe(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path, cmd.Flags())
	if err != nil {
		return err
	}

	log.Init(log.Config{
		Level:      log.ParseLevel(cfg.Log.Level),
		JSONOutput: cfg.Log.JSON,
	})
	logger := log.WithComponent("serve")
	metrics.SetVersion(Version)

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()

	bus := events.NewBroker(cfg.Events.BufferSize)
	bus.Start()
	defer bus.Stop()

	catalog, err := content.LoadFile(cfg.Content.File)
	if err != nil {
		return fmt.Errorf("failed to load content: %w", err)
	}

	alertSvc := alerts.NewService(store, bus)

	// The push manager reports visitor activity back to the engine, which is
	// built after it
	var eng *engine.Engine
	pushMgr := push.NewManager(push.Config{
		Heartbeat: heartbeat.Config{
			Interval: cfg.Push.HeartbeatInterval,
			Timeout:  cfg.Push.HeartbeatTimeout,
		},
		WriteTimeout:  cfg.Push.WriteTimeout,
		SendQueueSize: cfg.Push.SendQueueSize,
	},
		push.WithPublisher(bus),
		push.WithActivityHook(func(visitorID string) {
			_ = eng.Touch(context.Background(), visitorID)
		}),
	)

	engineOpts := []engine.Option{
		engine.WithPublisher(bus),
		engine.WithNotifier(pushMgr),
		engine.WithContent(catalog),
		engine.WithAlerts(alertSvc),
		engine.WithPollWindow(cfg.Server.PollWindow),
	}
	if cfg.Enrich.ReverseDNS {
		resolver := dns.NewResolver(cfg.Enrich.Upstream, cfg.Enrich.Timeout)
		engineOpts = append(engineOpts, engine.WithEnricher(dns.NewEnricher(resolver)))
		logger.Info().Strs("upstream", resolver.Upstream()).Msg("Reverse DNS enrichment enabled")
	} else {
		engineOpts = append(engineOpts, engine.WithEnricher(dns.NewEnricher(nil)))
	}
	eng = engine.NewEngine(store, engineOpts...)
	api.RegisterHealthChecks(eng, bus, pushMgr)

	authn, err := auth.NewAuthenticator(auth.Config{
		Password:     cfg.Admin.Password,
		PasswordHash: cfg.Admin.PasswordHash,
		SessionTTL:   cfg.Admin.SessionTTL,
		LoginRate:    cfg.Admin.LoginRate,
		LoginBurst:   cfg.Admin.LoginBurst,
	})
	if err != nil {
		return fmt.Errorf("failed to configure auth: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go pushMgr.Run(ctx, bus)
	go authn.RunJanitor(ctx, max(cfg.Admin.SessionTTL/4, time.Minute))

	collector := metrics.NewCollector(eng, cfg.Metrics.Interval)
	collector.Start()
	defer collector.Stop()

	server := api.NewServer(api.Config{
		Addr:        cfg.Server.Addr,
		CORSOrigins: cfg.Server.CORSOrigins,
	}, api.Deps{
		Engine:  eng,
		Push:    pushMgr,
		Alerts:  alertSvc,
		Content: catalog,
		Auth:    authn,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	logger.Info().
		Str("addr", cfg.Server.Addr).
		Str("data_dir", cfg.DataDir).
		Str("version", Version).
		Msg("Lobby is running")

	// Wait for interrupt signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	var serveErr error
	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down")
	case serveErr = <-errCh:
		logger.Error().Err(serveErr).Msg("HTTP server stopped")
	}

	// Hijacked websocket connections are not tracked by the HTTP server. Closing
	// them first also turns /ready red while requests drain.
	pushMgr.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("HTTP shutdown did not complete")
	}
	cancel()

	logger.Info().Msg("Shutdown complete")
	return serveErr
}
