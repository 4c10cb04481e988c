package cli

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/raaihank/screen-tutor/internal/config"
	"github.com/raaihank/screen-tutor/internal/ocr"
	"github.com/raaihank/screen-tutor/internal/pipeline"
	"github.com/raaihank/screen-tutor/internal/proxy"
	"github.com/raaihank/screen-tutor/internal/websocket"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, LLM privacy proxy and dashboard",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		return a.reportError(serve(cmd.Context(), a))
	},
}

func serve(ctx context.Context, a *app) error {
	log := a.logger

	log.Info("Starting Screen Tutor",
		zap.String("version", version),
		zap.String("host", a.config.Server.Host),
		zap.Int("port", a.config.Server.Port),
	)

	opts := proxy.Options{Detector: a.detector}

	var publisher pipeline.Publisher
	if a.config.WebSocket.Enabled {
		hub := websocket.NewHub(a.config.WebSocket, log.Logger)
		opts.Hub = hub
		publisher = hub
	}

	tutor, err := a.newTutor(publisher)
	switch {
	case errors.Is(err, ocr.ErrMissingAPIKey):
		log.Warn("Screen analysis disabled: no OCR API key configured")
	case err != nil:
		return err
	default:
		opts.Tutor = tutor
	}

	server, err := proxy.New(a.config, log, opts)
	if err != nil {
		return err
	}

	// Hot-reload the privacy settings
	if err := config.Watch(func(cfg *config.Config) {
		if err := a.detector.Update(cfg.Privacy); err != nil {
			log.Error("Failed to apply privacy settings", zap.Error(err))
			return
		}
		log.Info("Privacy settings reloaded", zap.Bool("enabled", cfg.Privacy.Enabled))
	}, func(err error) {
		log.Error("Configuration reload rejected", zap.Error(err))
	}); err != nil && !errors.Is(err, config.ErrNoConfigFile) {
		log.Warn("Configuration watch disabled", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.Int("port", a.config.Server.Port))
		serverErrors <- server.Start(ctx)
	}()

	select {
	case err := <-serverErrors:
		if err != nil {
			log.Error("Server error", zap.Error(err))
		}
		return err
	case <-ctx.Done():
		log.Info("Shutdown signal received")

		// Give outstanding requests 30 seconds to complete
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Stop(shutdownCtx); err != nil {
			log.Error("Failed to shutdown server gracefully", zap.Error(err))
			return err
		}

		log.Info("Server shutdown complete")
		return nil
	}
}
