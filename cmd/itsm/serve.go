package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/akshay-eng/ITSM-agent/internal/config"
	"github.com/akshay-eng/ITSM-agent/internal/server"
)

var serveAddr string

// serveCmd runs the HTTP API.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the chat API server",
	Long: `Serves the conversational agent over HTTP:

  POST /chat                   - send a message (JSON or multipart with a file)
  GET  /health                 - health check
  POST /reset                  - reset one session or all of them
  GET  /sessions               - list active sessions
  GET  /session/{id}/history   - conversation history for one session
  GET  /workflow-status        - phase and pending draft for one session`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ag, err := buildAgent(workspace)
	if err != nil {
		return err
	}
	defer ag.Close()

	addr := ag.cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Config edits re-tune logging on the fly; pipeline wiring changes
	// still need a restart.
	watcher, err := config.NewWatcher(workspace, func(updated *config.Config) {
		logger.Info("configuration reloaded")
	})
	if err != nil {
		logger.Warn("config watcher unavailable", zap.Error(err))
	} else {
		if err := watcher.Start(ctx); err != nil {
			logger.Warn("config watcher failed to start", zap.Error(err))
		}
		defer watcher.Stop()
	}

	srv := server.New(server.Config{
		Addr:          addr,
		SweepInterval: ag.cfg.SessionSweepInterval(),
		SessionTTL:    ag.cfg.SessionTTL(),
	}, ag.router, ag.sessions, logger)

	return srv.Run(ctx)
}
