package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"rest2mcp/internal/mcpclient"

	"github.com/sourcegraph/jsonrpc2"
)

// Server translates REST calls into session client operations and renders the
// normalized results as HTTP. Error signaling from the upstream is in-band via
// JSON-RPC envelopes; only malformed requests (400) and unexpected internal
// failures (500) use non-200 statuses.
type Server struct {
	client  *mcpclient.Client
	handler http.Handler
	httpSrv *http.Server
}

// NewServer builds the bridge around an existing session client.
func NewServer(client *mcpclient.Client) *Server {
	s := &Server{client: client}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleInfo)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/tools", s.handleListTools)
	mux.HandleFunc("/call", s.handleToolCall)

	s.handler = corsMiddleware(recoverMiddleware(mux))
	return s
}

// Handler returns the bridge's HTTP handler, CORS and panic recovery included.
func (s *Server) Handler() http.Handler { return s.handler }

// Start serves on host:port and blocks until the listener fails or Shutdown
// is called.
func (s *Server) Start(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	s.httpSrv = &http.Server{Addr: addr, Handler: s.handler}

	slog.Info("bridge server listening", "addr", addr, "mcpServer", s.client.ServerURL())
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the listener gracefully and releases the upstream session.
func (s *Server) Shutdown(ctx context.Context) error {
	s.client.Stop()
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	info := map[string]any{
		"name":        "rest2mcp bridge",
		"version":     "1.0.0",
		"description": "REST bridge for session-based MCP SSE servers",
		"mcpServer":   s.client.ServerURL(),
		"endpoints": map[string]string{
			"/":       "This info page",
			"/health": "Health check",
			"/tools":  "List available tools",
			"/call":   "Call a tool (POST)",
		},
	}
	if id := s.client.SessionID(); id != "" {
		info["sessionId"] = id
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":             "healthy",
		"mcpServer":          s.client.ServerURL(),
		"sessionEstablished": s.client.Established(),
	})
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	resp := s.client.ListTools(r.Context())
	body, err := json.Marshal(resp)
	if err != nil {
		slog.Error("failed to render tool listing", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

type callRequest struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
}

func (s *Server) handleToolCall(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "POST required"})
		return
	}

	var req callRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON"})
		return
	}
	if req.Tool == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Missing tool parameter"})
		return
	}

	slog.Info("calling tool", "tool", req.Tool)
	resp := s.client.Call(r.Context(), req.Tool, req.Arguments)

	if content, ok := resultContent(resp); ok {
		if json.Valid([]byte(content)) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(content))
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(content))
		return
	}

	// Error envelope or unexpected shape: return the whole envelope in-band.
	writeJSON(w, http.StatusOK, resp)
}

// resultContent extracts the normalized text payload, reporting false for
// error envelopes and shapes that passed through normalization untouched.
func resultContent(resp *jsonrpc2.Response) (string, bool) {
	if resp == nil || resp.Error != nil || resp.Result == nil {
		return "", false
	}
	var result struct {
		Content *string `json:"content"`
	}
	if err := json.Unmarshal(*resp.Result, &result); err != nil || result.Content == nil {
		return "", false
	}
	return *result.Content, true
}

// corsMiddleware answers OPTIONS preflights and stamps permissive CORS
// headers on every response.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// recoverMiddleware converts handler panics into 500 responses instead of
// dropped connections.
func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				slog.Error("handler panic", "path", r.URL.Path, "panic", v)
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": fmt.Sprint(v)})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
