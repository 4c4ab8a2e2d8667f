// Package httpgateway implements the ordersync Gateway against the remote
// sales-order HTTP API.
package httpgateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fieldline/ordersync"
	syncErrors "github.com/fieldline/ordersync/errors"
	"github.com/fieldline/ordersync/logging"
)

// Client talks to the remote sales-order API. All methods treat transport
// failures and 5xx responses as retryable network errors so queued mutations
// replay on a later pass; 4xx responses are permanent.
type Client struct {
	baseURL    string
	httpClient *http.Client
	headers    map[string]string
	logger     *logging.Logger
}

// Compile-time check that Client satisfies the ordersync.Gateway interface.
var _ ordersync.Gateway = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithTimeout sets the per-request timeout on the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) { cl.httpClient.Timeout = d }
}

// WithHeader adds a header to every request, e.g. an Authorization token.
func WithHeader(key, value string) Option {
	return func(cl *Client) { cl.headers[key] = value }
}

// New creates a gateway client for the API at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("baseURL is required")
	}

	client := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		headers:    make(map[string]string),
		logger:     logging.WithComponent("http-gateway"),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// GetAllOrders fetches orders matching the filter. The filter travels as
// query parameters; the server applies the same matching semantics the
// engine applies against the cache.
func (c *Client) GetAllOrders(ctx context.Context, filter ordersync.OrderFilter) (*ordersync.OrderPage, error) {
	endpoint := c.baseURL + "/orders"
	if !filter.IsZero() {
		params := url.Values{}
		if filter.Search != "" {
			params.Set("search", filter.Search)
		}
		if filter.InstallDateFrom != "" {
			params.Set("install_date_from", filter.InstallDateFrom)
		}
		if filter.InstallDateTo != "" {
			params.Set("install_date_to", filter.InstallDateTo)
		}
		endpoint += "?" + params.Encode()
	}

	var page ordersync.OrderPage
	if err := c.do(ctx, syncErrors.OpGetOrders, http.MethodGet, endpoint, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// CreateOrder creates an order on the server. The returned record carries
// the server-assigned id regardless of any temporary id on the input.
func (c *Client) CreateOrder(ctx context.Context, order ordersync.Order) (*ordersync.Order, error) {
	// Temporary ids are a client-side concept; the server assigns its own.
	if ordersync.IsTemporaryID(order.ID) {
		order.ID = ""
	}

	var created ordersync.Order
	if err := c.do(ctx, syncErrors.OpCreateOrder, http.MethodPost, c.baseURL+"/orders", order, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdateOrder applies a partial update to an order.
func (c *Client) UpdateOrder(ctx context.Context, id string, patch ordersync.OrderPatch) (*ordersync.Order, error) {
	var updated ordersync.Order
	endpoint := c.baseURL + "/orders/" + url.PathEscape(id)
	if err := c.do(ctx, syncErrors.OpUpdateOrder, http.MethodPut, endpoint, patch, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// DeleteOrder deletes an order.
func (c *Client) DeleteOrder(ctx context.Context, id string) error {
	endpoint := c.baseURL + "/orders/" + url.PathEscape(id)
	return c.do(ctx, syncErrors.OpDeleteOrder, http.MethodDelete, endpoint, nil, nil)
}

// GetNotifications fetches all notifications for the current client.
func (c *Client) GetNotifications(ctx context.Context) ([]ordersync.Notification, error) {
	var page ordersync.NotificationPage
	if err := c.do(ctx, syncErrors.OpGetNotifications, http.MethodGet, c.baseURL+"/notifications", nil, &page); err != nil {
		return nil, err
	}
	return page.Notifications, nil
}

// MarkNotificationRead marks a notification read.
func (c *Client) MarkNotificationRead(ctx context.Context, id string) (*ordersync.Notification, error) {
	var updated ordersync.Notification
	endpoint := c.baseURL + "/notifications/" + url.PathEscape(id) + "/read"
	if err := c.do(ctx, syncErrors.OpMarkRead, http.MethodPost, endpoint, nil, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// Close releases idle connections held by the HTTP client.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// errorBody is the JSON error envelope the API uses for non-2xx responses.
type errorBody struct {
	Error string `json:"error"`
}

// do runs one request/response cycle: marshal the body, send, classify the
// status, and decode into out when out is non-nil.
func (c *Client) do(ctx context.Context, op syncErrors.Operation, method, endpoint string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return syncErrors.NewValidationError(op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return syncErrors.NewValidationError(op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return syncErrors.NewNetworkError(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.classifyStatus(op, resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return syncErrors.NewNetworkError(op, fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

// classifyStatus maps a non-2xx response to a SyncError. 5xx and 429 are
// retryable, 404 maps to not-found, remaining 4xx are permanent.
func (c *Client) classifyStatus(op syncErrors.Operation, resp *http.Response) error {
	var body errorBody
	json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body)
	if body.Error == "" {
		body.Error = resp.Status
	}
	cause := fmt.Errorf("server returned %d: %s", resp.StatusCode, body.Error)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return syncErrors.NewNotFoundError(op, "gateway", cause)
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return syncErrors.NewNetworkError(op, cause)
	default:
		return syncErrors.NewValidationError(op, cause)
	}
}
