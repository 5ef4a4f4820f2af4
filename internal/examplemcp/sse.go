package examplemcp

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// NewSSEServer builds an MCP server with a couple of demo tools and exposes it
// over the mcp-go SSE transport, which uses endpoint-event session discovery
// and delivers responses on the persistent stream.
func NewSSEServer(serverName string) *server.SSEServer {
	s := server.NewMCPServer(serverName,
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	echoTool := mcp.NewTool("echo",
		mcp.WithDescription("Echo a string back"),
		mcp.WithString("text",
			mcp.Required(),
			mcp.Description("The text to echo"),
		))
	s.AddTool(echoTool, echoHandler)

	addTool := mcp.NewTool("add",
		mcp.WithDescription("Add two numbers"),
		mcp.WithNumber("a",
			mcp.Required(),
			mcp.Description("The first number to be added"),
		),
		mcp.WithNumber("b",
			mcp.Required(),
			mcp.Description("The other number to be added"),
		))
	s.AddTool(addTool, addHandler)

	return server.NewSSEServer(s)
}

func echoHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := request.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(text), nil
}

func addHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	a, err := request.RequireFloat("a")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	b, err := request.RequireFloat("b")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("%v", a+b)), nil
}
