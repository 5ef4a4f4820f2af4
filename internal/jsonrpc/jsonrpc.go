package jsonrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"rest2mcp/internal/sseline"

	"github.com/sourcegraph/jsonrpc2"
)

// Method is a typed string for JSON-RPC method names.
type Method string

// The JSON-RPC methods the bridge issues against the upstream device family.
const (
	Initialize Method = "initialize"
	ToolsCall  Method = "tools/call"
	ToolsList  Method = "tools/list"
)

// CallParams is the params object of a tools/call envelope.
type CallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// NewRequest builds an outbound envelope with the caller-supplied correlation
// id. The id allocation itself belongs to the session client, which owns the
// monotonic counter.
func NewRequest(method Method, params any, id uint64) (*jsonrpc2.Request, error) {
	req := &jsonrpc2.Request{
		Method: string(method),
		ID:     jsonrpc2.ID{Num: id},
	}
	if params != nil {
		if err := req.SetParams(params); err != nil {
			return nil, fmt.Errorf("failed to marshal params: %w", err)
		}
	}
	return req, nil
}

// NewHTTPRequest wraps an envelope in an HTTP POST with the headers the
// upstream expects.
func NewHTTPRequest(ctx context.Context, url string, rpcReq *jsonrpc2.Request) (*http.Request, error) {
	bodyBytes, err := json.Marshal(rpcReq)
	if err != nil {
		return nil, fmt.Errorf("error putting together jsonrpc request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("problem creating new JSONRPC request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")

	return req, nil
}

// ErrNoPayload reports an SSE-shaped body whose data lines carried no decodable
// payload, for example a bare terminal sentinel.
var ErrNoPayload = errors.New("no response payload in stream body")

// ErrUnrecognizedBody reports a body that is neither SSE-shaped nor JSON; the
// caller is expected to fall back to the stream transport.
var ErrUnrecognizedBody = errors.New("unrecognized response body")

// DecodeBody interprets an HTTP response body. SSE-shaped bodies are scanned
// for their first JSON payload line; otherwise the body must itself be a
// JSON-RPC response.
func DecodeBody(contentType string, body []byte) (*jsonrpc2.Response, error) {
	text := string(body)
	if strings.Contains(contentType, "text/event-stream") || strings.HasPrefix(strings.TrimSpace(text), "data:") {
		for _, raw := range strings.Split(text, "\n") {
			line, ok := sseline.Parse(raw)
			if !ok || line.Kind != sseline.JSONPayload {
				continue
			}
			var resp jsonrpc2.Response
			if err := json.Unmarshal([]byte(line.Payload), &resp); err != nil {
				continue
			}
			return &resp, nil
		}
		return nil, ErrNoPayload
	}

	var resp jsonrpc2.Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, ErrUnrecognizedBody
	}
	return &resp, nil
}

// ErrorResponse synthesizes the uniform -32603 error envelope used for every
// internally detected failure, so callers above the session client only ever
// deal with envelopes.
func ErrorResponse(id jsonrpc2.ID, msg string) *jsonrpc2.Response {
	return &jsonrpc2.Response{
		ID: id,
		Error: &jsonrpc2.Error{
			Code:    jsonrpc2.CodeInternalError,
			Message: msg,
		},
	}
}
