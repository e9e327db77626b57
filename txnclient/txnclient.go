// Package txnclient talks to the external signing service over HTTP. The
// signer owns keys and broadcast; this client only relays payloads and maps
// the response onto an operation result.
package txnclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ordersync/ordersync/ordersync"
)

const defaultRequestTimeout = 30 * time.Second

// Client implements ordersync.TxnClient against a signer's REST endpoints.
type Client struct {
	baseURL string
	httpc   *http.Client
	logger  *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(httpc *http.Client) Option {
	return func(c *Client) {
		if httpc != nil {
			c.httpc = httpc
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: defaultRequestTimeout},
		logger:  slog.Default().WithGroup("txnclient"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type placeRequest struct {
	ClientID     string   `json:"clientId"`
	MarketID     string   `json:"marketId"`
	Type         string   `json:"type"`
	Side         string   `json:"side"`
	Price        float64  `json:"price"`
	TriggerPrice *float64 `json:"triggerPrice,omitempty"`
	Size         float64  `json:"size"`
	ReduceOnly   bool     `json:"reduceOnly"`
}

type cancelRequest struct {
	OrderID  string `json:"orderId"`
	MarketID string `json:"marketId"`
}

// errorResponse is the signer's failure body. Both fields are optional; a
// missing body still produces usable params from the HTTP status.
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *Client) PlaceOrder(ctx context.Context, payload ordersync.PlaceOrderPayload) ordersync.OperationResult {
	return c.post(ctx, "/v1/orders/place", placeRequest{
		ClientID:     payload.ClientID.Hex(),
		MarketID:     payload.MarketID,
		Type:         string(payload.Type),
		Side:         string(payload.Side),
		Price:        payload.Price,
		TriggerPrice: payload.TriggerPrice,
		Size:         payload.Size,
		ReduceOnly:   payload.ReduceOnly,
	})
}

func (c *Client) CancelOrder(ctx context.Context, payload ordersync.CancelOrderPayload) ordersync.OperationResult {
	return c.post(ctx, "/v1/orders/cancel", cancelRequest{
		OrderID:  payload.OrderID,
		MarketID: payload.MarketID,
	})
}

func (c *Client) post(ctx context.Context, path string, body any) ordersync.OperationResult {
	raw, err := json.Marshal(body)
	if err != nil {
		return ordersync.Failure(ordersync.ErrorParams{
			Code:    "ENCODE_ERROR",
			Message: err.Error(),
		})
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return ordersync.Failure(ordersync.ErrorParams{
			Code:    "REQUEST_ERROR",
			Message: err.Error(),
		})
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return ordersync.Failure(ordersync.ErrorParams{
			Code:    "BROADCAST_ERROR",
			Message: err.Error(),
		})
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return ordersync.Success()
	}

	var failure errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&failure); err != nil {
		c.logger.Debug("undecodable error body", slog.String("error", err.Error()))
	}
	if failure.Code == "" {
		failure.Code = codeForStatus(resp.StatusCode)
	}
	if failure.Message == "" {
		failure.Message = fmt.Sprintf("signer returned %s", resp.Status)
	}
	return ordersync.Failure(ordersync.ErrorParams{
		Code:    failure.Code,
		Message: failure.Message,
	})
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusTooManyRequests:
		return "RATE_LIMITED"
	case http.StatusBadRequest:
		return "INVALID_REQUEST"
	default:
		return "BROADCAST_ERROR"
	}
}
