package loadgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const DefaultRequestTimeout = 5 * time.Second

// Client issues requests against the items API. Only transport failures are
// returned as errors; any HTTP status is a completed request.
type Client struct {
	BaseURL string
	client  *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	c := &Client{}

	c.BaseURL = strings.TrimSuffix(baseURL, "/")

	c.client = &http.Client{
		Timeout: timeout,
	}

	return c
}

func (c *Client) Get(ctx context.Context, path string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return 0, err
	}
	return c.do(req)
}

func (c *Client) PostJSON(ctx context.Context, path string, payload any) (int, error) {
	buf, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(buf))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *Client) do(req *http.Request) (int, error) {
	req.Header.Set("X-Request-Id", uuid.NewString())

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	// Drain so the connection goes back to the pool.
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

// CheckAlive probes the liveness endpoint once. Anything but a 200 is an error.
func (c *Client) CheckAlive(ctx context.Context) error {
	status, err := c.Get(ctx, "/")
	if err != nil {
		return errors.Wrap(err, "liveness probe")
	}

	if status != http.StatusOK {
		return fmt.Errorf("liveness probe returned HTTP %d: %s", status, http.StatusText(status))
	}
	return nil
}
