package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"

	"rest2mcp/internal/examplemcp"

	"github.com/spf13/cobra"
)

var exampleSseCmd = &cobra.Command{
	Use:   "exampleSse",
	Short: "Runs an example MCP SSE server using mcp-go",
	Long:  `Runs an example MCP SSE server using mcp-go, a compatible upstream for the bridge.`,
	Run:   runExampleSseServer,
}

var exampleSseName string
var exampleSsePort int

func init() {
	rootCmd.AddCommand(exampleSseCmd)
	exampleSseCmd.Flags().StringVarP(&exampleSseName, "name", "n", "example-sse", "The name of the server")
	exampleSseCmd.Flags().IntVarP(&exampleSsePort, "port", "p", 3000, "The port to listen on")
}

func runExampleSseServer(cmd *cobra.Command, args []string) {
	sseServer := examplemcp.NewSSEServer(exampleSseName)
	defer sseServer.Shutdown(context.Background())

	addr := fmt.Sprintf(":%d", exampleSsePort)
	slog.Info("example SSE server listening", "name", exampleSseName, "addr", addr)
	if err := sseServer.Start(addr); err != nil {
		log.Fatalf("could not listen on %s: %v\n", addr, err)
	}
}
