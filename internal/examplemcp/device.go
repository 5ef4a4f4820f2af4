package examplemcp

import (
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sync"
	"sync/atomic"

	"rest2mcp/internal/jsonrpc"

	"github.com/sourcegraph/jsonrpc2"
)

// ResponseMode selects how the simulated device answers message POSTs. Real
// devices of this family have been observed doing all of these, which is why
// the bridge carries the full response precedence.
type ResponseMode int

const (
	// RespondJSON answers the POST with a direct JSON body.
	RespondJSON ResponseMode = iota
	// RespondSSEBody answers the POST with an SSE-shaped body, positional
	// noise and terminal sentinel included.
	RespondSSEBody
	// RespondOnStream acknowledges the POST and delivers the response on the
	// persistent session stream.
	RespondOnStream
	// RespondSentinelOnly answers with an SSE-shaped body carrying only the
	// terminal sentinel and no payload.
	RespondSentinelOnly
)

// DeviceServer simulates a session-based SSE device server of the HuskyLens
// family: session discovery over GET /sse, tool calls over the per-session
// message endpoint. It doubles as a test fixture and a runnable example for
// trying the bridge without hardware.
type DeviceServer struct {
	mode ResponseMode

	sseConnections atomic.Int32

	mu      sync.Mutex
	streams map[string]chan string
}

// NewDeviceServer creates a simulator answering in the given mode.
func NewDeviceServer(mode ResponseMode) *DeviceServer {
	return &DeviceServer{
		mode:    mode,
		streams: make(map[string]chan string),
	}
}

// SSEConnections reports how many stream connections have been opened, which
// tests use to count establishment attempts.
func (d *DeviceServer) SSEConnections() int {
	return int(d.sseConnections.Load())
}

// Handler returns the device's HTTP handler.
func (d *DeviceServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/sse", d.handleSSE)
	mux.HandleFunc("/message", d.handleMessage)
	return mux
}

func (d *DeviceServer) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	d.sseConnections.Add(1)

	sessionID := fmt.Sprintf("%016x", rand.Int63())
	ch := make(chan string, 16)
	d.mu.Lock()
	d.streams[sessionID] = ch
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.streams, sessionID)
		d.mu.Unlock()
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	fmt.Fprintf(w, "data: /message?session_id=%s\n\n", sessionID)
	flusher.Flush()

	for {
		select {
		case line := <-ch:
			fmt.Fprintf(w, "%s\n\n", line)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func (d *DeviceServer) handleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	d.mu.Lock()
	ch, live := d.streams[sessionID]
	d.mu.Unlock()
	if !live {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	var req jsonrpc2.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	payload, err := json.Marshal(d.respond(&req))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	switch d.mode {
	case RespondJSON:
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(payload)
	case RespondSSEBody:
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "data: %d\n\n", req.ID.Num)
		fmt.Fprintf(w, "data: %s\n\n", payload)
		fmt.Fprint(w, "data: [DONE]\n\n")
	case RespondSentinelOnly:
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: [DONE]\n\n")
	case RespondOnStream:
		// Positional noise line first, then the payload, like the hardware.
		ch <- fmt.Sprintf("data: %d", req.ID.Num)
		ch <- fmt.Sprintf("data: %s", payload)
		w.WriteHeader(http.StatusAccepted)
		_, _ = io.WriteString(w, "Accepted")
	}
}

// respond scripts the device's answer for its small tool set.
func (d *DeviceServer) respond(req *jsonrpc2.Request) *jsonrpc2.Response {
	resp := &jsonrpc2.Response{ID: req.ID}

	switch jsonrpc.Method(req.Method) {
	case jsonrpc.ToolsList:
		_ = resp.SetResult(map[string]any{
			"tools": []map[string]any{
				{"name": "get_recognition_result", "description": "Latest recognition result"},
				{"name": "get_status", "description": "Device status"},
			},
		})
		return resp
	case jsonrpc.ToolsCall:
	default:
		resp.Error = &jsonrpc2.Error{Code: jsonrpc2.CodeMethodNotFound, Message: "unknown method: " + req.Method}
		return resp
	}

	var params jsonrpc.CallParams
	if req.Params != nil {
		_ = json.Unmarshal(*req.Params, &params)
	}

	switch params.Name {
	case "get_status":
		_ = resp.SetResult(map[string]any{
			"isError": false,
			"content": []map[string]any{
				{"type": "text", "text": `{"connected":true,"mode":"face_recognition"}`},
			},
		})
	case "get_recognition_result":
		_ = resp.SetResult(map[string]any{
			"isError": false,
			"content": []map[string]any{
				{"type": "text", "text": "face id=1 x=120 y=80"},
				{"type": "resource_link", "name": "snapshot", "uri": "device://snapshot/1"},
			},
		})
	default:
		_ = resp.SetResult(map[string]any{
			"isError": true,
			"content": []map[string]any{
				{"type": "text", "text": "unknown tool: " + params.Name},
			},
		})
	}
	return resp
}
