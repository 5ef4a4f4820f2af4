package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "rest2mcp",
	Short: "A REST to MCP bridge",
	Long:  `A REST to MCP bridge that keeps a long-lived session against an SSE MCP server and exposes its tools over plain HTTP.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
