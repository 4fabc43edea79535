package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/melodyhq/melody/internal/artistinfo"
	"github.com/melodyhq/melody/internal/auth"
	"github.com/melodyhq/melody/internal/card"
	"github.com/melodyhq/melody/internal/config"
	"github.com/melodyhq/melody/internal/device"
	"github.com/melodyhq/melody/internal/domain"
	"github.com/melodyhq/melody/internal/fetcher"
	"github.com/melodyhq/melody/internal/player"
	"github.com/melodyhq/melody/internal/preview"
	"github.com/melodyhq/melody/internal/server"
	spotifystats "github.com/melodyhq/melody/internal/spotify"
)

func main() {
	app := fx.New(
		// Logger configuration
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),

		// Provide dependencies
		fx.Provide(
			newLogger,
			config.Load,
			auth.NewManager,
			newProxy,
			newArtistInfo,
			newCompositor,
			newDeliverer,
			newDevice,
			player.NewCoordinator,
			newPreview,
			newServer,
		),

		// Lifecycle hooks
		fx.Invoke(registerHooks),
	)

	// Handle graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Start the application
	if err := app.Start(ctx); err != nil {
		panic(err)
	}

	// Wait for interrupt signal
	<-ctx.Done()

	// Stop the application gracefully
	if err := app.Stop(context.Background()); err != nil {
		panic(err)
	}
}

// newLogger creates a new zap logger instance
func newLogger() (*zap.Logger, error) {
	logger, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return logger, nil
}

func newProxy(logger *zap.Logger, cfg *config.Config) *fetcher.Proxy {
	return fetcher.NewProxy(logger, cfg.AllowedImageHosts)
}

func newArtistInfo(logger *zap.Logger, cfg *config.Config) *artistinfo.Client {
	return artistinfo.NewClient(logger, cfg.AI.BaseURL, cfg.AI.APIKey, cfg.AI.Model)
}

func newCompositor(logger *zap.Logger, cfg *config.Config, proxy *fetcher.Proxy) (*card.Compositor, error) {
	return card.NewCompositor(logger, proxy, cfg.AssetsDir)
}

func newDeliverer(logger *zap.Logger, cfg *config.Config) *card.Deliverer {
	return card.NewDeliverer(logger, card.NewDownloadTarget(logger, cfg.OutputDir))
}

func newDevice(logger *zap.Logger, cfg *config.Config, sessions *auth.Manager) domain.Device {
	factory := func(token *oauth2.Token) device.API {
		return sessions.Client(context.Background(), token)
	}
	return device.New(logger, factory, cfg.PollInterval)
}

func newPreview(logger *zap.Logger) *preview.Player {
	return preview.NewPlayer(logger, nil)
}

func newServer(
	logger *zap.Logger,
	cfg *config.Config,
	sessions *auth.Manager,
	coordinator *player.Coordinator,
	previewPlayer *preview.Player,
	proxy *fetcher.Proxy,
	compositor *card.Compositor,
	deliverer *card.Deliverer,
	info *artistinfo.Client,
) *server.Server {
	stats := func(ctx context.Context, token *oauth2.Token) domain.StatsProvider {
		return spotifystats.NewStats(logger, sessions.Client(ctx, token))
	}
	return server.New(logger, cfg, sessions, stats,
		coordinator, previewPlayer, proxy, compositor, deliverer, info)
}

// registerHooks sets up application lifecycle hooks
func registerHooks(
	lc fx.Lifecycle,
	logger *zap.Logger,
	srv *server.Server,
	coordinator *player.Coordinator,
	previewPlayer *preview.Player,
) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("Melody started")
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("HTTP server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Shutting down")
			previewPlayer.Stop()
			if err := coordinator.Shutdown(ctx); err != nil {
				logger.Warn("Coordinator shutdown failed", zap.Error(err))
			}
			return srv.Shutdown(ctx)
		},
	})
}
