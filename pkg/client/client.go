// Package client talks to a running mnemo worker over HTTP.
package client

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
)

const defaultTimeout = 5 * time.Second

// ErrNotReady is returned by WaitReady when the worker never became ready.
var ErrNotReady = errors.New("worker not ready")

// Health is the worker's /api/health response.
type Health struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

// Ready reports whether the worker has finished starting.
func (h *Health) Ready() bool {
	return h.Status == "ready"
}

// Stats is the worker's /api/stats response.
type Stats struct {
	Queue         map[string]int  `json:"queue"`
	Search        json.RawMessage `json:"search"`
	Uptime        string          `json:"uptime"`
	Version       string          `json:"version"`
	Projects      []string        `json:"projects"`
	Observations  int             `json:"observations"`
	SessionsToday int             `json:"sessionsToday"`
	SSEClients    int             `json:"sseClients"`
}

// StatusError is a non-2xx response from the worker.
type StatusError struct {
	Message string
	Code    int
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("worker returned %d", e.Code)
	}
	return fmt.Sprintf("worker returned %d: %s", e.Code, e.Message)
}

// Client is a worker HTTP client.
type Client struct {
	http    *http.Client
	baseURL string
}

// New returns a client for the worker at host:port.
func New(host string, port int) *Client {
	return NewWithURL("http://" + net.JoinHostPort(host, strconv.Itoa(port)))
}

// NewWithURL returns a client for the worker at baseURL.
func NewWithURL(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: defaultTimeout},
	}
}

// Health fetches the worker's health.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.get(ctx, "/api/health", nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Version returns the worker's version.
func (c *Client) Version(ctx context.Context) (string, error) {
	var v struct {
		Version string `json:"version"`
	}
	if err := c.get(ctx, "/api/version", nil, &v); err != nil {
		return "", err
	}
	return v.Version, nil
}

// Stats fetches worker statistics, with the observation count limited to
// project when it is set.
func (c *Client) Stats(ctx context.Context, project string) (*Stats, error) {
	q := url.Values{}
	if project != "" {
		q.Set("project", project)
	}
	var s Stats
	if err := c.get(ctx, "/api/stats", q, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// IsRunning reports whether a worker answers health checks.
func (c *Client) IsRunning(ctx context.Context) bool {
	_, err := c.Health(ctx)
	return err == nil
}

// WaitReady polls health until the worker reports ready or maxWait passes.
func (c *Client) WaitReady(ctx context.Context, maxWait time.Duration) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = time.Second
	bo.MaxElapsedTime = maxWait

	err := backoff.Retry(func() error {
		h, err := c.Health(ctx)
		if err != nil {
			return err
		}
		if !h.Ready() {
			return ErrNotReady
		}
		return nil
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotReady, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(body, &e)
		return &StatusError{Code: resp.StatusCode, Message: e.Error}
	}
	return json.Unmarshal(body, out)
}

// ProjectID derives a stable project name from a working directory:
// the directory name plus a short hash of its absolute path.
func ProjectID(cwd string) string {
	abs, err := filepath.Abs(cwd)
	if err != nil {
		abs = cwd
	}
	sum := sha256.Sum256([]byte(abs))
	return filepath.Base(abs) + "_" + hex.EncodeToString(sum[:3])
}
