package anchor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"raffleanchor/native/rollup"
)

// Client talks to the anchor node HTTP API.
type Client struct {
	baseURL    string
	adminToken string
	httpClient *http.Client
}

// Config represents the client configuration.
type Config struct {
	URL string
	// AdminToken is sent as a bearer token on operator routes.
	AdminToken string
	Timeout    time.Duration
}

// NewClient constructs a client targeting the supplied node URL.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.URL), "/"),
		adminToken: strings.TrimSpace(cfg.AdminToken),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// APIError is returned for non-2xx responses.
type APIError struct {
	Status int
	ErrorJSON
}

func (e *APIError) Error() string {
	if e.Class != "" {
		if e.Index != nil {
			return fmt.Sprintf("anchor api: %d %s at index %d: %s", e.Status, e.Class, *e.Index, e.Message)
		}
		return fmt.Sprintf("anchor api: %d %s: %s", e.Status, e.Class, e.Message)
	}
	return fmt.Sprintf("anchor api: %d: %s", e.Status, e.Message)
}

// IsClass reports whether err is an APIError of class.
func IsClass(err error, class string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Class == class
}

// SubmitBatch posts a signed inbound batch.
func (c *Client) SubmitBatch(ctx context.Context, submitter [20]byte, batch rollup.InboundBatch) (*ReceiptJSON, error) {
	var receipt ReceiptJSON
	if err := c.do(ctx, http.MethodPost, "/v1/batches", EncodeBatch(submitter, batch), &receipt, false); err != nil {
		return nil, err
	}
	return &receipt, nil
}

// Pending lists the stored messages of queue.
func (c *Client) Pending(ctx context.Context, queue rollup.QueueID) (*PendingJSON, error) {
	var pending PendingJSON
	if err := c.do(ctx, http.MethodGet, "/v1/queues/"+url.PathEscape(queue.String())+"/pending", nil, &pending, false); err != nil {
		return nil, err
	}
	return &pending, nil
}

// Cursor reports the node's inbound progress.
func (c *Client) Cursor(ctx context.Context) (*CursorJSON, error) {
	var cursor CursorJSON
	if err := c.do(ctx, http.MethodGet, "/v1/cursor", nil, &cursor, false); err != nil {
		return nil, err
	}
	return &cursor, nil
}

// RaffleStatus reports the outstanding draw and the next era.
func (c *Client) RaffleStatus(ctx context.Context) (*RaffleStatusJSON, error) {
	var status RaffleStatusJSON
	if err := c.do(ctx, http.MethodGet, "/v1/raffle/status", nil, &status, false); err != nil {
		return nil, err
	}
	return &status, nil
}

// TriggerDraw asks the node to open a draw for era. Requires an admin token.
func (c *Client) TriggerDraw(ctx context.Context, era uint32) (*TriggerDrawJSON, error) {
	var out TriggerDrawJSON
	if err := c.do(ctx, http.MethodPost, "/v1/admin/draws", EraRequest{Era: era}, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}, admin bool) error {
	if c == nil || c.baseURL == "" {
		return fmt.Errorf("anchor client: not configured")
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("anchor client: encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if admin && c.adminToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.adminToken)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("anchor client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("anchor client: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		if jsonErr := json.Unmarshal(data, &apiErr.ErrorJSON); jsonErr != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("anchor client: decode response: %w", err)
	}
	return nil
}
