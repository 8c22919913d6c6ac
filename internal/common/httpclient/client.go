// internal/common/httpclient/client.go
package httpclient

import (
	"net/http"
	"time"
)

// Client is the shared outbound HTTP client used by the REST source clients.
// Each source sets its own timeout; the gateway core imposes none of its own.
type Client struct {
	httpClient *http.Client
}

func NewClient(timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// NewWithClient wraps an existing *http.Client, e.g. an oauth2 client.
func NewWithClient(c *http.Client) *Client {
	return &Client{httpClient: c}
}

func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.httpClient.Do(req)
}
