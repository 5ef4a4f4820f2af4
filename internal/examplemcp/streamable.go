package examplemcp

import (
	"context"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"google.golang.org/protobuf/types/known/structpb"
)

type StatusParams struct{}

func deviceStatus(ctx context.Context, req *mcp.ServerRequest[*mcp.CallToolParamsFor[StatusParams]]) (*mcp.CallToolResultFor[any], error) {
	st, err := structpb.NewStruct(map[string]interface{}{"connected": true, "mode": "line_tracking"})
	if err != nil {
		return nil, err
	}
	return &mcp.CallToolResultFor[any]{
		StructuredContent: st,
	}, nil
}

// NewStreamableHandler exposes a go-sdk MCP server over the streamable HTTP
// transport, which answers POSTs with SSE-shaped bodies. It exists to exercise
// the bridge's stream-body response path against a second real server
// implementation.
func NewStreamableHandler(serverName string) http.Handler {
	s := mcp.NewServer(&mcp.Implementation{Name: serverName, Version: "v1.0.0"}, nil)
	mcp.AddTool(s, &mcp.Tool{Name: "device_status", Description: "report device status"}, deviceStatus)

	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return s }, nil)
}
