package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rest2mcp/internal/examplemcp"

	"github.com/spf13/cobra"
)

var exampleDeviceCmd = &cobra.Command{
	Use:   "exampleDevice",
	Short: "Runs the simulated device server",
	Long:  `Runs a simulated session-based SSE device server, useful for trying the bridge without hardware.`,
	Run:   runExampleDeviceServer,
}

var exampleDevicePort int
var exampleDeviceMode string

func init() {
	rootCmd.AddCommand(exampleDeviceCmd)
	exampleDeviceCmd.Flags().IntVarP(&exampleDevicePort, "port", "p", 3000, "The port to listen on")
	exampleDeviceCmd.Flags().StringVarP(&exampleDeviceMode, "mode", "m", "stream", "Response mode: json, sse or stream")
}

func runExampleDeviceServer(cmd *cobra.Command, args []string) {
	mode := examplemcp.RespondOnStream
	switch exampleDeviceMode {
	case "json":
		mode = examplemcp.RespondJSON
	case "sse":
		mode = examplemcp.RespondSSEBody
	case "stream":
	default:
		log.Fatalf("unknown response mode: %s", exampleDeviceMode)
	}

	device := examplemcp.NewDeviceServer(mode)
	addr := fmt.Sprintf(":%d", exampleDevicePort)
	server := &http.Server{
		Addr:    addr,
		Handler: device.Handler(),
	}

	go func() {
		slog.Info("example device server listening", "addr", addr, "mode", exampleDeviceMode)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("could not listen on %s: %v\n", addr, err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down example device server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}
}
