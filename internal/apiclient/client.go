package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"outbox/internal/api"
	"outbox/internal/queue"
)

const (
	dialTimeout    = 2 * time.Second
	requestTimeout = 30 * time.Second
)

// ErrDaemonUnavailable is returned by Dial when nothing answers on the API
// address.
var ErrDaemonUnavailable = errors.New("outbox daemon is not reachable")

// StatusError reports a non-2xx API response.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("daemon api: http %d", e.StatusCode)
	}
	return fmt.Sprintf("daemon api: http %d: %s", e.StatusCode, e.Message)
}

// Client provides HTTP access to the daemon.
type Client struct {
	base  string
	token string
	http  *http.Client
}

// Dial connects to the daemon API at bind and verifies it answers /health.
func Dial(bind, token string) (*Client, error) {
	base, err := baseURL(bind)
	if err != nil {
		return nil, err
	}
	c := &Client{
		base:  base,
		token: strings.TrimSpace(token),
		http:  &http.Client{Timeout: requestTimeout},
	}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	var health api.HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, &health); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDaemonUnavailable, err)
	}
	return c, nil
}

// baseURL turns a listen address into a dialable URL. Wildcard hosts map to
// loopback.
func baseURL(bind string) (string, error) {
	bind = strings.TrimSpace(bind)
	if bind == "" {
		return "", errors.New("daemon api address is not configured")
	}
	host, port, err := net.SplitHostPort(bind)
	if err != nil {
		return "", fmt.Errorf("parse api address %q: %w", bind, err)
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port), nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	if c != nil && c.http != nil {
		c.http.CloseIdleConnections()
	}
	return nil
}

// Status retrieves the daemon status.
func (c *Client) Status(ctx context.Context) (*api.DaemonStatus, error) {
	var resp api.DaemonStatus
	if err := c.do(ctx, http.MethodGet, "/api/status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// List returns pending items, optionally filtered by type.
func (c *Client) List(ctx context.Context, types []string) ([]api.QueueItem, error) {
	path := "/api/queue"
	if len(types) > 0 {
		query := url.Values{}
		for _, t := range types {
			query.Add("type", t)
		}
		path += "?" + query.Encode()
	}
	var resp api.QueueListResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// Stats summarizes the pending set.
func (c *Client) Stats(ctx context.Context) (api.QueueStatsResponse, error) {
	var resp api.QueueStatsResponse
	err := c.do(ctx, http.MethodGet, "/api/queue/stats", nil, &resp)
	return resp, err
}

// DatabaseHealth retrieves detailed database diagnostics.
func (c *Client) DatabaseHealth(ctx context.Context) (queue.DatabaseHealth, error) {
	var resp queue.DatabaseHealth
	err := c.do(ctx, http.MethodGet, "/api/queue/health", nil, &resp)
	return resp, err
}

// Describe fetches one pending item. It returns nil when the item is not queued.
func (c *Client) Describe(ctx context.Context, id int64) (*api.QueueItem, error) {
	var resp api.QueueItemResponse
	err := c.do(ctx, http.MethodGet, "/api/queue/"+strconv.FormatInt(id, 10), nil, &resp)
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &resp.Item, nil
}

// Enqueue appends an action through the daemon.
func (c *Client) Enqueue(ctx context.Context, itemType string, payload json.RawMessage) (*api.QueueItem, error) {
	var resp api.QueueItemResponse
	req := api.EnqueueRequest{Type: itemType, Payload: payload}
	if err := c.do(ctx, http.MethodPost, "/api/queue", req, &resp); err != nil {
		return nil, err
	}
	return &resp.Item, nil
}

// Sync asks the daemon to run a cycle now and returns its result.
func (c *Client) Sync(ctx context.Context) (*api.CycleResult, error) {
	var resp api.SyncResponse
	if err := c.do(ctx, http.MethodPost, "/api/sync", nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Result, nil
}

// Events streams daemon events to fn until ctx ends, the connection drops,
// or fn returns an error.
func (c *Client) Events(ctx context.Context, fn func(api.Event) error) error {
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	wsURL := "ws" + strings.TrimPrefix(c.base, "http") + "/api/events"
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return fmt.Errorf("connect event stream: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	for {
		var evt api.Event
		if err := wsjson.Read(ctx, conn, &evt); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.CloseStatus(err) == websocket.StatusGoingAway {
				return nil
			}
			return fmt.Errorf("read event: %w", err)
		}
		if err := fn(evt); err != nil {
			return err
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr api.ErrorResponse
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&apiErr)
		return &StatusError{StatusCode: resp.StatusCode, Message: apiErr.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
