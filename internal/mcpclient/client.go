package mcpclient

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"rest2mcp/internal/jsonrpc"
	"rest2mcp/internal/sseline"

	"github.com/sourcegraph/jsonrpc2"
)

// State tracks the session lifecycle.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateSessionPending
	StateActive
)

// SessionError reports that a session could not be established or that the
// stream produced no usable response.
type SessionError struct {
	Op  string
	Err error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session %s: %v", e.Op, e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }

const (
	defaultCallTimeout   = 30 * time.Second
	defaultStreamTimeout = 30 * time.Second
	ssePath              = "/sse"
)

// Client maintains at most one live session against an upstream MCP SSE
// server and provides a call abstraction that hides session establishment,
// response-shape ambiguity and transient failures from callers. All failures
// surface as -32603 error envelopes, never as Go errors, so the HTTP layer
// above only ever inspects envelopes.
//
// Calls are serialized with a client-level mutex: the upstream protocol
// shares one stream connection, so at most one call is in flight against it.
type Client struct {
	baseURL string
	httpc   *http.Client

	callTimeout   time.Duration
	streamTimeout time.Duration

	nextID atomic.Uint64

	mu         sync.Mutex
	messageURL string
	stream     io.Closer
	lines      chan sseline.Line
	streamStop context.CancelFunc

	// metaMu guards the fields below so the status accessors answer
	// immediately even while a call holds mu for the duration of upstream IO.
	metaMu    sync.Mutex
	state     State
	sessionID string
}

// New creates a client for the MCP server at serverURL. No connection is made
// until Establish or the first call.
func New(serverURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:       strings.TrimRight(serverURL, "/"),
		httpc:         &http.Client{},
		callTimeout:   defaultCallTimeout,
		streamTimeout: defaultStreamTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ServerURL returns the upstream base URL.
func (c *Client) ServerURL() string { return c.baseURL }

// SessionID returns the current session id, empty when none is live. It never
// waits on an in-flight call.
func (c *Client) SessionID() string {
	c.metaMu.Lock()
	defer c.metaMu.Unlock()
	return c.sessionID
}

// Established reports whether a session is currently active. It never waits on
// an in-flight call, so liveness probes stay responsive while the upstream is
// slow.
func (c *Client) Established() bool {
	c.metaMu.Lock()
	defer c.metaMu.Unlock()
	return c.state == StateActive
}

func (c *Client) setState(s State) {
	c.metaMu.Lock()
	c.state = s
	c.metaMu.Unlock()
}

// Establish opens the persistent stream and derives the session id and
// message endpoint from the first recognizable discovery line. Calling it
// while a session exists replaces the session state with a fresh one.
func (c *Client) Establish(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.establishLocked(ctx)
}

func (c *Client) establishLocked(ctx context.Context) error {
	c.closeStreamLocked()
	c.setState(StateConnecting)

	// The stream outlives the establishing call, so it gets its own context.
	streamCtx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, c.baseURL+ssePath, nil)
	if err != nil {
		cancel()
		c.setState(StateDisconnected)
		return &SessionError{Op: "establish", Err: err}
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpc.Do(req)
	if err != nil {
		cancel()
		c.setState(StateDisconnected)
		return &SessionError{Op: "establish", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		cancel()
		c.setState(StateDisconnected)
		return &SessionError{Op: "establish", Err: fmt.Errorf("stream endpoint returned status %d", resp.StatusCode)}
	}

	c.setState(StateSessionPending)
	c.stream = resp.Body
	c.streamStop = cancel
	c.lines = make(chan sseline.Line, 64)
	go pumpLines(streamCtx, resp.Body, c.lines)

	deadline := time.NewTimer(c.streamTimeout)
	defer deadline.Stop()
	for {
		line, err := readLine(ctx, c.lines, deadline.C)
		if err != nil {
			c.closeStreamLocked()
			return &SessionError{Op: "establish", Err: err}
		}
		switch line.Kind {
		case sseline.SessionToken:
			c.metaMu.Lock()
			c.sessionID = line.SessionID
			c.metaMu.Unlock()
			c.messageURL = c.resolveEndpoint(line.Payload)
		case sseline.MessagePath:
			c.messageURL = c.resolveEndpoint(line.Payload)
		default:
			slog.Debug("ignoring stream line during session discovery", "payload", line.Payload)
			continue
		}
		c.setState(StateActive)
		slog.Info("session established", "sessionID", c.SessionID(), "messageURL", c.messageURL)
		return nil
	}
}

// resolveEndpoint turns a discovery payload into an absolute message URL.
func (c *Client) resolveEndpoint(payload string) string {
	if strings.HasPrefix(payload, "http://") || strings.HasPrefix(payload, "https://") {
		return payload
	}
	if !strings.HasPrefix(payload, "/") {
		payload = "/" + payload
	}
	return c.baseURL + payload
}

// Call invokes a tool on the upstream server, establishing a session first if
// none exists. The result is normalized to the uniform text-plus-error-flag
// shape.
func (c *Client) Call(ctx context.Context, tool string, arguments map[string]any) *jsonrpc2.Response {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.messageURL == "" {
		if err := c.establishLocked(ctx); err != nil {
			slog.Error("failed to establish session", "error", err)
			return jsonrpc.ErrorResponse(jsonrpc2.ID{}, "Failed to establish session")
		}
	}

	req, err := jsonrpc.NewRequest(jsonrpc.ToolsCall, jsonrpc.CallParams{Name: tool, Arguments: arguments}, c.nextID.Add(1))
	if err != nil {
		return jsonrpc.ErrorResponse(jsonrpc2.ID{}, err.Error())
	}

	return Normalize(c.dispatchLocked(ctx, req))
}

// ListTools asks the upstream for its tool inventory. Listing is defined only
// for the stream transport in this protocol, so it bypasses the POST
// precedence and goes straight to the stream path.
func (c *Client) ListTools(ctx context.Context) *jsonrpc2.Response {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.messageURL == "" {
		if err := c.establishLocked(ctx); err != nil {
			slog.Error("failed to establish session", "error", err)
			return jsonrpc.ErrorResponse(jsonrpc2.ID{}, "Failed to establish session")
		}
	}

	req, err := jsonrpc.NewRequest(jsonrpc.ToolsList, nil, c.nextID.Add(1))
	if err != nil {
		return jsonrpc.ErrorResponse(jsonrpc2.ID{}, err.Error())
	}

	return Normalize(c.streamCallLocked(ctx, req))
}

// Stop releases the stream connection. Idempotent, safe to call when no
// session was ever established.
func (c *Client) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeStreamLocked()
	slog.Info("mcp client stopped")
}

// dispatchLocked runs the POST precedence: an SSE-shaped body, then a direct
// JSON body, then the stream fallback. Callers hold c.mu.
func (c *Client) dispatchLocked(ctx context.Context, req *jsonrpc2.Request) *jsonrpc2.Response {
	postCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	httpReq, err := jsonrpc.NewHTTPRequest(postCtx, c.messageURL, req)
	if err != nil {
		return jsonrpc.ErrorResponse(req.ID, err.Error())
	}

	httpResp, err := c.httpc.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			slog.Error("upstream call timed out", "method", req.Method)
			return jsonrpc.ErrorResponse(req.ID, "Request timeout")
		}
		if errors.Is(err, context.Canceled) {
			// The caller went away; the session itself is fine.
			slog.Debug("call canceled by caller", "method", req.Method)
			return jsonrpc.ErrorResponse(req.ID, "Request canceled")
		}
		slog.Error("upstream call failed", "method", req.Method, "error", err)
		c.reestablishLocked(ctx)
		return jsonrpc.ErrorResponse(req.ID, err.Error())
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		body, _ := io.ReadAll(httpResp.Body)
		slog.Error("upstream returned non-2xx status", "status", httpResp.StatusCode, "body", string(body))
		return jsonrpc.ErrorResponse(req.ID, fmt.Sprintf("HTTP %d", httpResp.StatusCode))
	}

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return jsonrpc.ErrorResponse(req.ID, "Request timeout")
		}
		if errors.Is(err, context.Canceled) {
			return jsonrpc.ErrorResponse(req.ID, "Request canceled")
		}
		slog.Error("failed to read upstream response", "error", err)
		c.reestablishLocked(ctx)
		return jsonrpc.ErrorResponse(req.ID, err.Error())
	}

	resp, err := jsonrpc.DecodeBody(httpResp.Header.Get("Content-Type"), body)
	switch {
	case err == nil:
		return resp
	case errors.Is(err, jsonrpc.ErrNoPayload):
		// SSE-shaped body that carried only the terminal sentinel.
		return jsonrpc.ErrorResponse(req.ID, "no response")
	default:
		slog.Debug("response body not directly decodable, using stream fallback", "body", string(body))
		return c.streamCallLocked(ctx, req)
	}
}

// streamCallLocked re-sends the request and scans for a response whose id
// matches the request's correlation id, within a bounded wait. Bare numeric
// lines are positional noise; unparseable lines are logged and skipped.
func (c *Client) streamCallLocked(ctx context.Context, req *jsonrpc2.Request) *jsonrpc2.Response {
	if c.lines == nil {
		if err := c.establishLocked(ctx); err != nil {
			return jsonrpc.ErrorResponse(req.ID, "Failed to establish session")
		}
	}

	target := c.messageURL
	if target == "" {
		target = c.baseURL + ssePath
	}

	postCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	httpReq, err := jsonrpc.NewHTTPRequest(postCtx, target, req)
	if err != nil {
		return jsonrpc.ErrorResponse(req.ID, err.Error())
	}

	httpResp, err := c.httpc.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return jsonrpc.ErrorResponse(req.ID, "Request timeout")
		}
		if errors.Is(err, context.Canceled) {
			return jsonrpc.ErrorResponse(req.ID, "Request canceled")
		}
		slog.Error("stream call failed", "method", req.Method, "error", err)
		c.reestablishLocked(ctx)
		return jsonrpc.ErrorResponse(req.ID, err.Error())
	}
	body, readErr := io.ReadAll(httpResp.Body)
	_ = httpResp.Body.Close()

	// Some servers answer the fallback POST with a response body of their own;
	// scan it before waiting on the persistent stream.
	if readErr == nil {
		if resp := matchResponse(string(body), req.ID); resp != nil {
			return resp
		}
	}

	deadline := time.NewTimer(c.streamTimeout)
	defer deadline.Stop()
	for {
		line, err := readLine(ctx, c.lines, deadline.C)
		if err != nil {
			slog.Error("no stream response", "method", req.Method, "error", err)
			return jsonrpc.ErrorResponse(req.ID, "no response")
		}
		switch line.Kind {
		case sseline.Sentinel:
			return jsonrpc.ErrorResponse(req.ID, "no response")
		case sseline.JSONPayload:
			var resp jsonrpc2.Response
			if err := json.Unmarshal([]byte(line.Payload), &resp); err != nil {
				slog.Debug("skipping unparseable stream line", "payload", line.Payload, "error", err)
				continue
			}
			if resp.ID != req.ID {
				continue
			}
			return &resp
		default:
			slog.Debug("skipping stream line", "kind", line.Kind.String(), "payload", line.Payload)
		}
	}
}

// reestablishLocked tears down the failed session and stands up a fresh one so
// the next call starts clean. The failed call itself is not retried.
func (c *Client) reestablishLocked(ctx context.Context) {
	if err := c.establishLocked(ctx); err != nil {
		slog.Error("session re-establishment failed", "error", err)
	}
}

func (c *Client) closeStreamLocked() {
	if c.streamStop != nil {
		c.streamStop()
		c.streamStop = nil
	}
	if c.stream != nil {
		_ = c.stream.Close()
		c.stream = nil
	}
	c.lines = nil
	c.messageURL = ""
	c.metaMu.Lock()
	c.sessionID = ""
	c.state = StateDisconnected
	c.metaMu.Unlock()
}

// matchResponse scans a body, SSE-shaped or direct JSON, for a response with
// the given id.
func matchResponse(body string, id jsonrpc2.ID) *jsonrpc2.Response {
	var direct jsonrpc2.Response
	if err := json.Unmarshal([]byte(body), &direct); err == nil && direct.ID == id {
		return &direct
	}
	for _, raw := range strings.Split(body, "\n") {
		line, ok := sseline.Parse(raw)
		if !ok || line.Kind != sseline.JSONPayload {
			continue
		}
		var resp jsonrpc2.Response
		if err := json.Unmarshal([]byte(line.Payload), &resp); err != nil {
			continue
		}
		if resp.ID == id {
			return &resp
		}
	}
	return nil
}

// pumpLines feeds classified data lines from the stream body into ch until the
// stream ends or ctx is canceled.
func pumpLines(ctx context.Context, body io.Reader, ch chan<- sseline.Line) {
	defer close(ch)
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line, ok := sseline.Parse(scanner.Text())
		if !ok {
			continue
		}
		select {
		case ch <- line:
		case <-ctx.Done():
			return
		}
	}
	if err := scanner.Err(); err != nil {
		slog.Debug("stream read ended", "error", err)
	}
}

// readLine is the bounded read-with-timeout primitive over the line channel.
func readLine(ctx context.Context, lines <-chan sseline.Line, deadline <-chan time.Time) (sseline.Line, error) {
	select {
	case line, ok := <-lines:
		if !ok {
			return sseline.Line{}, errors.New("stream closed before a matching line arrived")
		}
		return line, nil
	case <-deadline:
		return sseline.Line{}, errors.New("timed out waiting for stream line")
	case <-ctx.Done():
		return sseline.Line{}, ctx.Err()
	}
}
