package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/wireloop/agentplane/internal/auth"
	"github.com/wireloop/agentplane/internal/channels/telegram"
	"github.com/wireloop/agentplane/internal/config"
	"github.com/wireloop/agentplane/internal/gateway"
)

// buildServeCmd creates the "serve" command that starts the WebSocket
// gateway, its metrics endpoint, and (if enabled) the Telegram bridge.
//
// Grounded on the teacher's cmd/nexus/handlers_serve.go runServe: load
// config, build the server, install a signal-driven shutdown context, run
// until the signal fires, shut down with a bounded grace period.
func buildServeCmd() *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the agentplane WebSocket gateway",
		Long: `Serve starts the WebSocket gateway on server.http_port, a Prometheus
metrics endpoint on server.metrics_port, and (if channels.telegram.enabled)
the Telegram bridge, sharing one Controller pipeline across every
transport. Graceful shutdown is handled on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), debug)
		},
	}
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func runServe(ctx context.Context, debug bool) error {
	cfg, err := loadConfig(rootConfigPath)
	if err != nil {
		return err
	}
	if debug {
		cfg.Logging.Level = "debug"
	}

	rt, err := newRuntime(cfg)
	if err != nil {
		return err
	}
	logger := rt.logger

	logger.Info("starting agentplane gateway",
		"version", version,
		"commit", commit,
		"http_port", cfg.Server.HTTPPort,
		"metrics_port", cfg.Server.MetricsPort,
		"llm_provider", cfg.LLM.DefaultProvider,
	)

	authSvc := auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiry)
	mgr := gateway.NewManager(gateway.ManagerConfig{
		Store:             rt.store,
		Auth:              authSvc,
		Model:             rt.model,
		Registry:          rt.registry,
		ContextMgr:        newContextManager(),
		WorkspaceRoot:     cfg.Workspace.Root,
		Logger:            logger,
		MaxTurns:          cfg.Gateway.MaxTurns,
		MaxOutputTokens:   cfg.Gateway.MaxOutputTokens,
		TokenBudget:       cfg.Gateway.TokenBudget,
		SystemPrompt:      cfg.Gateway.SystemPrompt,
		IdleTimeout:       cfg.Gateway.IdleTimeout,
		SweepInterval:     cfg.Gateway.SweepInterval,
		BroadcastParallel: cfg.Gateway.Broadcast.Parallel(),
	})
	defer mgr.Close()

	wsServer := gateway.NewServer(mgr)
	mux := http.NewServeMux()
	mux.Handle("/ws", wsServer.Handler())

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())

	httpSrv := &http.Server{Addr: fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort), Handler: mux}
	metricsSrv := &http.Server{Addr: fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.MetricsPort), Handler: metricsMux}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 3)
	go func() { errCh <- listenAndServe(httpSrv) }()
	go func() { errCh <- listenAndServe(metricsSrv) }()

	if cfg.Channels.Telegram.Enabled {
		bridge, err := startTelegramBridge(cfg, rt, logger)
		if err != nil {
			return fmt.Errorf("telegram bridge: %w", err)
		}
		go func() { errCh <- bridge.Run(ctx) }()
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	logger.Info("shutdown signal received, initiating graceful shutdown")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	_ = httpSrv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)
	logger.Info("agentplane gateway stopped gracefully")
	return nil
}

func listenAndServe(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func startTelegramBridge(cfg *config.Config, rt *runtime, logger *slog.Logger) (*telegram.Bridge, error) {
	adapter, err := telegram.NewAdapter(telegram.Config{
		Token:  cfg.Channels.Telegram.BotToken,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	bridge := telegram.NewBridge(telegram.BridgeConfig{
		Adapter:       adapter,
		Store:         rt.store,
		Model:         rt.model,
		Registry:      rt.registry,
		ContextMgr:    newContextManager(),
		WorkspaceRoot: cfg.Workspace.Root,
		Logger:        logger,
		ControllerCfg: controllerConfig(cfg, nil),
	})
	return bridge, nil
}
