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
		Use:   "invoker-demo",
		Short: "Invoke a widget-creation command and print the response",
		Long:  "Send a typed widget creation request and block for the correlated reply",
	}

	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Broker URL, e.g. tcp://localhost:1883")
	rootCmd.PersistentFlags().StringVar(&connStr, "connection-string", "", "Connection string (HostName=...;ClientID=...)")
	rootCmd.PersistentFlags().StringVar(&envPrefix, "env-prefix", "", "Load settings from <PREFIX>_SERVER_URL etc.")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to a mounted connection settings file")
	rootCmd.PersistentFlags().StringVar(&clientID, "client-id", "widget-invoker", "MQTT client id")
	rootCmd.PersistentFlags().StringVar(&nodeID, "node-id", "widget-invoker", "Hybrid logical clock node id")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.AddCommand(createCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
