package endpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"outbox/internal/config"
	"outbox/internal/queue"
)

const (
	userAgent         = "outbox/0.1"
	defaultTimeout    = 30 * time.Second
	maxErrorBodyBytes = 2048
	maxAckBodyBytes   = 1 << 20
	headerSource      = "X-Outbox-Source"
	headerBatch       = "X-Outbox-Batch"
	headerIdempotency = "Idempotency-Key"
	contentTypeJSON   = "application/json"
)

var batchNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("outbox:batch"))

// Batch is one submission: the ordered snapshot taken by a sync cycle.
type Batch struct {
	// ID identifies the cycle that produced the batch. It differs on every
	// attempt and is only useful for tracing.
	ID string
	// SourceID identifies the local queue. Together with item ids it is
	// what the server deduplicates on.
	SourceID string
	Items    []queue.Item
}

// IdempotencyKey derives a stable key from the source and the ordered item
// ids, so resubmitting the same restored items repeats the same key.
func (b Batch) IdempotencyKey() string {
	if len(b.Items) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(b.SourceID)
	for _, item := range b.Items {
		sb.WriteByte(':')
		sb.WriteString(strconv.FormatInt(item.ID, 10))
	}
	return uuid.NewSHA1(batchNamespace, []byte(sb.String())).String()
}

// FailedItem is a per-item failure reported by the server.
type FailedItem struct {
	ID    int64  `json:"id"`
	Error string `json:"error,omitempty"`
}

// Ack is the endpoint's response to an accepted batch.
type Ack struct {
	StatusCode int
	// Processed lists the delivered item ids. Nil means the whole batch.
	Processed []int64
	Failed    []FailedItem
}

// Delivered splits items into those the ack covers and those it does not,
// preserving order.
func (a Ack) Delivered(items []queue.Item) (delivered, remaining []queue.Item) {
	if a.Processed == nil {
		return items, nil
	}
	ok := make(map[int64]struct{}, len(a.Processed))
	for _, id := range a.Processed {
		ok[id] = struct{}{}
	}
	for _, item := range items {
		if _, found := ok[item.ID]; found {
			delivered = append(delivered, item)
		} else {
			remaining = append(remaining, item)
		}
	}
	return delivered, remaining
}

type wireItem struct {
	ID        int64           `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt int64           `json:"createdAt"`
}

type wireRequest struct {
	Items []wireItem `json:"items"`
}

type wireResponse struct {
	OK           *bool        `json:"ok"`
	ProcessedIDs []int64      `json:"processedIds"`
	Failed       []FailedItem `json:"failed"`
}

// Options configures a Client.
type Options struct {
	Endpoint   string
	Token      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client submits batches to the sync endpoint.
type Client struct {
	endpoint string
	token    string
	client   *http.Client
}

// New validates opts and builds a Client.
func New(opts Options) (*Client, error) {
	target := strings.TrimSpace(opts.Endpoint)
	if target == "" {
		return nil, errors.New("sync endpoint is required")
	}
	parsed, err := url.Parse(target)
	if err != nil || parsed.Host == "" {
		return nil, fmt.Errorf("invalid sync endpoint %q", target)
	}
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Client{
		endpoint: target,
		token:    strings.TrimSpace(opts.Token),
		client:   client,
	}, nil
}

// NewFromConfig builds a Client from the [sync] section.
func NewFromConfig(cfg *config.Config) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	return New(Options{
		Endpoint: cfg.Sync.Endpoint,
		Token:    cfg.Sync.Token,
		Timeout:  cfg.RequestTimeout(),
	})
}

// Endpoint returns the configured URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Submit sends batch as a single request.
func (c *Client) Submit(ctx context.Context, batch Batch) (Ack, error) {
	body, err := encodeBatch(batch)
	if err != nil {
		return Ack{}, &DeliveryError{Kind: KindSerialization, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Ack{}, &DeliveryError{Kind: KindTransport, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("Accept", contentTypeJSON)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if batch.SourceID != "" {
		req.Header.Set(headerSource, batch.SourceID)
	}
	if batch.ID != "" {
		req.Header.Set(headerBatch, batch.ID)
	}
	if key := batch.IdempotencyKey(); key != "" {
		req.Header.Set(headerIdempotency, key)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Ack{}, &DeliveryError{Kind: KindTransport, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return Ack{}, &DeliveryError{
			Kind:       KindRejected,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}

	return decodeAck(resp)
}

func encodeBatch(batch Batch) ([]byte, error) {
	req := wireRequest{Items: make([]wireItem, 0, len(batch.Items))}
	for _, item := range batch.Items {
		payload := item.Payload
		if len(payload) == 0 {
			payload = json.RawMessage("null")
		}
		req.Items = append(req.Items, wireItem{
			ID:        item.ID,
			Type:      item.Type,
			Payload:   payload,
			CreatedAt: item.CreatedAt.UnixMilli(),
		})
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode batch: %w", err)
	}
	return data, nil
}

// decodeAck reads the optional acknowledgement body. An empty or non-JSON
// body on a 2xx status acknowledges the whole batch.
func decodeAck(resp *http.Response) (Ack, error) {
	ack := Ack{StatusCode: resp.StatusCode}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxAckBodyBytes))
	if err != nil {
		return Ack{}, &DeliveryError{Kind: KindTransport, StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || !strings.Contains(resp.Header.Get("Content-Type"), "json") {
		return ack, nil
	}

	var decoded wireResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Ack{}, &DeliveryError{Kind: KindSerialization, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	ack.Failed = decoded.Failed
	switch {
	case decoded.ProcessedIDs != nil:
		ack.Processed = decoded.ProcessedIDs
	case decoded.OK != nil && !*decoded.OK:
		ack.Processed = []int64{}
	}
	return ack, nil
}
