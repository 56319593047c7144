package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	serverURL  string
	connStr    string
	envPrefix  string
	configFile string
	clientID   string
	nodeID     string
	logLevel   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "executor-demo",
		Short: "Run a widget-creation command executor",
		Long:  "Subscribe to widget creation requests and respond with a typed, correlated reply",
	}

	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Broker URL, e.g. tcp://localhost:1883")
	rootCmd.PersistentFlags().StringVar(&connStr, "connection-string", "", "Connection string (HostName=...;ClientID=...)")
	rootCmd.PersistentFlags().StringVar(&envPrefix, "env-prefix", "", "Load settings from <PREFIX>_SERVER_URL etc.")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to a mounted connection settings file")
	rootCmd.PersistentFlags().StringVar(&clientID, "client-id", "widget-executor", "MQTT client id")
	rootCmd.PersistentFlags().StringVar(&nodeID, "node-id", "widget-executor", "Hybrid logical clock node id")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
