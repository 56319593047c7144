package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/lattice-iot/meridian/config"
	"github.com/lattice-iot/meridian/hlc"
	"github.com/lattice-iot/meridian/internal/demo"
	"github.com/lattice-iot/meridian/protocol"
	"github.com/lattice-iot/meridian/session"
)

func createCmd() *cobra.Command {
	var name string
	var count int
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a widget by invoking the remote executor",
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
			invoker, err := protocol.NewCommandInvoker[demo.WidgetRequest, demo.WidgetResponse](
				client, clock, clientID,
				protocol.JSON[demo.WidgetRequest]{}, protocol.JSON[demo.WidgetResponse]{},
				demo.RequestTopicPattern,
				protocol.CommandInvokerOptions{Timeout: timeout, Logger: log},
			)
			if err != nil {
				return fmt.Errorf("build invoker: %w", err)
			}

			invokeCtx, invokeCancel := context.WithTimeout(context.Background(), timeout+5*time.Second)
			defer invokeCancel()

			res, meta, err := invoker.Invoke(invokeCtx, demo.WidgetRequest{Name: name, Count: count}, &protocol.RequestMetadata{InvokerClientID: clientID})
			if err != nil {
				return fmt.Errorf("invoke: %w", err)
			}
			log.Info("widget created", "id", res.ID, "status", meta.Status)
			fmt.Fprintf(os.Stdout, "%s created=%v\n", res.ID, res.Created)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "sensor", "Widget name")
	cmd.Flags().IntVar(&count, "count", 1, "Widget count")
	cmd.Flags().DurationVar(&timeout, "timeout", protocol.DefaultTimeout, "Invocation timeout")

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
