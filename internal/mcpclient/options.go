package mcpclient

import (
	"net/http"
	"time"
)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient swaps the underlying HTTP client, mostly for tests.
func WithHTTPClient(httpc *http.Client) Option {
	return func(c *Client) { c.httpc = httpc }
}

// WithCallTimeout bounds each POST to the message endpoint.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) { c.callTimeout = d }
}

// WithStreamTimeout bounds each wait on the persistent stream, both during
// session discovery and in the stream fallback.
func WithStreamTimeout(d time.Duration) Option {
	return func(c *Client) { c.streamTimeout = d }
}
