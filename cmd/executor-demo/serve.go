package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lattice-iot/meridian/config"
	"github.com/lattice-iot/meridian/hlc"
	"github.com/lattice-iot/meridian/internal/demo"
	"github.com/lattice-iot/meridian/protocol"
	"github.com/lattice-iot/meridian/session"
)

func serveCmd() *cobra.Command {
	var shareName string
	var concurrency int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Connect and process widget creation requests until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger(logLevel)

			settings, err := resolveSettings()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("client-id") || settings.ClientID == "" {
				settings.ClientID = clientID
			}
			sessOpts, err := settings.SessionOptions(nodeID)
			if err != nil {
				return fmt.Errorf("build session options: %w", err)
			}
			sessOpts.Logger = log

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			client, err := session.Connect(ctx, sessOpts)
			cancel()
			if err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			defer client.Disconnect(context.Background())

			clock := hlc.New(nodeID)
			handler := func(_ context.Context, req demo.WidgetRequest, meta protocol.RequestMetadata) (demo.WidgetResponse, error) {
				log.Info("creating widget", "name", req.Name, "count", req.Count, "invoker", meta.InvokerClientID)
				return demo.WidgetResponse{ID: fmt.Sprintf("widget-%s-%d", req.Name, req.Count), Created: true}, nil
			}

			executor, err := protocol.NewCommandExecutor[demo.WidgetRequest, demo.WidgetResponse](
				client, clock, clientID,
				protocol.JSON[demo.WidgetRequest]{}, protocol.JSON[demo.WidgetResponse]{},
				demo.RequestTopicPattern, handler,
				protocol.CommandExecutorOptions{Concurrency: concurrency, Logger: log},
			)
			if err != nil {
				return fmt.Errorf("build executor: %w", err)
			}

			startCtx, startCancel := context.WithTimeout(context.Background(), 10*time.Second)
			err = executor.Start(startCtx, shareName)
			startCancel()
			if err != nil {
				return fmt.Errorf("start executor: %w", err)
			}
			log.Info("executor ready", "topic", demo.RequestTopicPattern, "client_id", clientID)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh

			log.Info("shutting down")
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer stopCancel()
			return executor.Stop(stopCtx)
		},
	}

	cmd.Flags().StringVar(&shareName, "share", "", "Shared subscription group name")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "Max concurrent handler invocations (0 selects the default)")

	return cmd
}

func resolveSettings() (*config.Settings, error) {
	switch {
	case connStr != "":
		return config.FromConnectionString(connStr)
	case configFile != "":
		return config.FromFileMount(configFile)
	case envPrefix != "":
		return config.FromEnvironment(envPrefix)
	case serverURL != "":
		return &config.Settings{ServerURL: serverURL, ClientID: clientID}, nil
	default:
		return nil, fmt.Errorf("one of --server, --connection-string, --config, or --env-prefix is required")
	}
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn", "warning":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
