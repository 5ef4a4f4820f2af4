package bridge

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"rest2mcp/internal/examplemcp"
	"rest2mcp/internal/mcpclient"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBridge(t *testing.T, mode examplemcp.ResponseMode) (*httptest.Server, *mcpclient.Client) {
	t.Helper()

	device := examplemcp.NewDeviceServer(mode)
	upstream := httptest.NewServer(device.Handler())

	client := mcpclient.New(upstream.URL,
		mcpclient.WithCallTimeout(5*time.Second),
		mcpclient.WithStreamTimeout(5*time.Second))
	bridge := httptest.NewServer(NewServer(client).Handler())

	t.Cleanup(func() {
		bridge.Close()
		client.Stop()
		upstream.Close()
	})
	return bridge, client
}

func getJSON(t *testing.T, url string) map[string]any {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func postCall(t *testing.T, url, payload string) *http.Response {
	t.Helper()
	resp, err := http.Post(url+"/call", "application/json", strings.NewReader(payload))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestInfoEndpoint(t *testing.T) {
	bridge, client := newTestBridge(t, examplemcp.RespondJSON)

	body := getJSON(t, bridge.URL+"/")
	assert.Equal(t, "rest2mcp bridge", body["name"])
	assert.NotContains(t, body, "sessionId", "no session yet")
	endpoints, ok := body["endpoints"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, endpoints, "/call")

	require.NoError(t, client.Establish(t.Context()))

	body = getJSON(t, bridge.URL+"/")
	assert.Equal(t, client.SessionID(), body["sessionId"])
}

func TestInfoEndpointUnknownPath(t *testing.T) {
	bridge, _ := newTestBridge(t, examplemcp.RespondJSON)

	resp, err := http.Get(bridge.URL + "/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthEndpoint(t *testing.T) {
	bridge, client := newTestBridge(t, examplemcp.RespondJSON)

	body := getJSON(t, bridge.URL+"/health")
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, client.ServerURL(), body["mcpServer"])
	assert.Equal(t, false, body["sessionEstablished"])

	require.NoError(t, client.Establish(t.Context()))

	body = getJSON(t, bridge.URL+"/health")
	assert.Equal(t, true, body["sessionEstablished"])
}

func TestCORSPreflight(t *testing.T) {
	bridge, _ := newTestBridge(t, examplemcp.RespondJSON)

	req, err := http.NewRequest(http.MethodOptions, bridge.URL+"/call", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, POST, OPTIONS", resp.Header.Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Content-Type", resp.Header.Get("Access-Control-Allow-Headers"))
}

func TestToolCallValidation(t *testing.T) {
	bridge, _ := newTestBridge(t, examplemcp.RespondJSON)

	resp := postCall(t, bridge.URL, `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "Missing tool parameter", body["error"])

	resp = postCall(t, bridge.URL, `{"tool": `)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "Invalid JSON", body["error"])
}

func TestToolCallMethodNotAllowed(t *testing.T) {
	bridge, _ := newTestBridge(t, examplemcp.RespondJSON)

	resp, err := http.Get(bridge.URL + "/call")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestToolCallRendersJSONContent(t *testing.T) {
	bridge, _ := newTestBridge(t, examplemcp.RespondJSON)

	resp := postCall(t, bridge.URL, `{"tool":"get_status"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, true, body["connected"])
	assert.Equal(t, "face_recognition", body["mode"])
}

func TestToolCallRendersTextContent(t *testing.T) {
	bridge, _ := newTestBridge(t, examplemcp.RespondJSON)

	resp := postCall(t, bridge.URL, `{"tool":"get_recognition_result","arguments":{"operation":"get_result"}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/plain; charset=utf-8", resp.Header.Get("Content-Type"))

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "face id=1 x=120 y=80", string(raw))
}

func TestToolCallUnknownTool(t *testing.T) {
	bridge, _ := newTestBridge(t, examplemcp.RespondJSON)

	resp := postCall(t, bridge.URL, `{"tool":"does_not_exist"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/plain; charset=utf-8", resp.Header.Get("Content-Type"))

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "unknown tool: does_not_exist", string(raw))
}

func TestToolCallThroughStreamFallback(t *testing.T) {
	bridge, _ := newTestBridge(t, examplemcp.RespondOnStream)

	resp := postCall(t, bridge.URL, `{"tool":"get_status"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}

func TestToolCallUpstreamDown(t *testing.T) {
	client := mcpclient.New("http://127.0.0.1:1",
		mcpclient.WithCallTimeout(time.Second),
		mcpclient.WithStreamTimeout(time.Second))
	bridge := httptest.NewServer(NewServer(client).Handler())
	t.Cleanup(func() {
		bridge.Close()
		client.Stop()
	})

	resp := postCall(t, bridge.URL, `{"tool":"get_status"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, "upstream failures are in-band")
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var envelope struct {
		Error *struct {
			Code    int64  `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	require.NotNil(t, envelope.Error)
	assert.Equal(t, int64(-32603), envelope.Error.Code)
	assert.Equal(t, "Failed to establish session", envelope.Error.Message)
}

func TestListToolsEndpoint(t *testing.T) {
	bridge, _ := newTestBridge(t, examplemcp.RespondSSEBody)

	resp, err := http.Get(bridge.URL + "/tools")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var envelope struct {
		Result struct {
			Tools []struct {
				Name string `json:"name"`
			} `json:"tools"`
		} `json:"result"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	require.Len(t, envelope.Result.Tools, 2)
	assert.Equal(t, "get_recognition_result", envelope.Result.Tools[0].Name)
}
