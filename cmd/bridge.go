package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rest2mcp/internal/bridge"
	"rest2mcp/internal/mcpclient"

	"github.com/spf13/cobra"
)

var (
	mcpURL  string
	host    string
	port    int
	verbose bool
)

var bridgeCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Starts the REST to MCP bridge",
	RunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			slog.SetLogLoggerLevel(slog.LevelDebug)
		}

		client := mcpclient.New(mcpURL)
		if err := client.Establish(cmd.Context()); err != nil {
			// The protocol re-establishes on demand, so a dead upstream at
			// boot is not fatal.
			slog.Warn("initial session establishment failed, will retry on first call", "error", err)
		}

		s := bridge.NewServer(client)

		errCh := make(chan error, 1)
		go func() { errCh <- s.Start(host, port) }()

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case err := <-errCh:
			client.Stop()
			return err
		case <-quit:
		}

		slog.Info("shutting down bridge...")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Shutdown(ctx)
	},
}

func init() {
	rootCmd.AddCommand(bridgeCmd)
	bridgeCmd.Flags().StringVar(&mcpURL, "mcp-url", "http://localhost:3000", "Base URL of the upstream MCP SSE server")
	bridgeCmd.Flags().StringVar(&host, "host", "127.0.0.1", "Bridge server host")
	bridgeCmd.Flags().IntVar(&port, "port", 8080, "Bridge server port")
	bridgeCmd.Flags().BoolVar(&verbose, "verbose", false, "Enable debug logging")
}
