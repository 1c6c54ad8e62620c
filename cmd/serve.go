package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"actorbridge/pkg/channel"
	"actorbridge/pkg/channel/telegram"
	"actorbridge/pkg/channel/websocket"
	"actorbridge/pkg/config"
	"actorbridge/pkg/gateway"
	"actorbridge/pkg/logger"
	"actorbridge/pkg/system"

	"github.com/spf13/cobra"
)

const telegramChannelName = "telegram"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the actor runtime and channel gateway",
	Long:  "Starts the configured actors, the enabled channels and the health, readiness and status endpoints. SIGINT or SIGTERM drains queued messages before exit.",
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = args

		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		appLogger, err := logger.New(cfg.Logging)
		if err != nil {
			return fmt.Errorf("initialize logger: %w", err)
		}
		slog.SetDefault(appLogger)
		log := slog.Default().With("component", "cmd.serve")

		rt, err := system.NewFromConfig(cfg.Runtime, system.WithLogger(appLogger))
		if err != nil {
			log.Error("Runtime configuration invalid", "error", err)
			return err
		}

		adapters, err := enabledAdapters(cfg, appLogger)
		if err != nil {
			log.Error("Gateway configuration invalid", "error", err)
			return err
		}

		runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		svc, err := gateway.NewService(cfg, rt, adapters, appLogger)
		if err != nil {
			log.Error("Failed to initialize gateway service", "error", err)
			return err
		}

		log.Info("Gateway started", "channels", enabledChannelNames(adapters), "actors", strings.Join(rt.Actors(), ","), "default_actor", rt.DefaultActor())
		if err := svc.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("Gateway runtime failed", "error", err)
			return err
		}
		return nil
	},
}

func init() {
	serveCmd.SilenceUsage = true
	rootCmd.AddCommand(serveCmd)
}

func enabledAdapters(cfg *config.Config, log *slog.Logger) ([]channel.Adapter, error) {
	adapters := make([]channel.Adapter, 0, 2)

	if cfg.Channels.WebSocket.Enabled {
		adapters = append(adapters, websocket.NewBridge(cfg.Channels.WebSocket, log))
	}

	if cfg.Channels.Telegram.Enabled {
		adapter, err := telegram.NewAdapter(cfg.Channels.Telegram, log)
		if err != nil {
			return nil, fmt.Errorf("configure %s channel: %w", telegramChannelName, err)
		}
		adapters = append(adapters, adapter)
	}

	if len(adapters) == 0 {
		return nil, errors.New("no channels are enabled")
	}

	return adapters, nil
}

func enabledChannelNames(adapters []channel.Adapter) string {
	names := make([]string, 0, len(adapters))
	for _, adapter := range adapters {
		names = append(names, adapter.Name())
	}

	return strings.Join(names, ",")
}
