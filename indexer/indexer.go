// Package indexer maintains the websocket subscription to the indexer's
// subaccount channel and turns channel messages into snapshots. It is the
// only component that knows the wire format; everything downstream consumes
// ordersync.Snapshot.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ordersync/ordersync/ordersync"
)

const (
	subaccountsChannel = "v4_subaccounts"

	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second

	// readTimeout bounds how long a healthy connection may stay silent; the
	// indexer heartbeats well inside this.
	readTimeout = 90 * time.Second
)

// SnapshotHandler receives every decoded snapshot in arrival order.
type SnapshotHandler interface {
	OnSnapshot(snap ordersync.Snapshot)
}

// Client owns one subscription to the subaccount channel. Run reconnects
// with exponential backoff until the context ends; after a reconnect the
// channel replays a full snapshot, which downstream reconciliation treats
// like any other.
type Client struct {
	url        string
	subaccount string
	handler    SnapshotHandler
	dialer     *websocket.Dialer
	logger     *slog.Logger
}

type Option func(*Client)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithDialer(dialer *websocket.Dialer) Option {
	return func(c *Client) {
		if dialer != nil {
			c.dialer = dialer
		}
	}
}

func New(url, subaccount string, handler SnapshotHandler, opts ...Option) *Client {
	c := &Client{
		url:        url,
		subaccount: subaccount,
		handler:    handler,
		dialer:     websocket.DefaultDialer,
		logger:     slog.Default().WithGroup("indexer"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run connects and reads until the context is done. Connection errors
// trigger a reconnect with exponential backoff; the backoff resets after a
// successfully decoded message.
func (c *Client) Run(ctx context.Context) error {
	backoff := initialBackoff

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := c.readOnce(ctx, &backoff)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("connection lost, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("backoff", backoff))

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

func (c *Client) readOnce(ctx context.Context, backoff *time.Duration) error {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	sub := map[string]string{
		"type":    "subscribe",
		"channel": subaccountsChannel,
		"id":      c.subaccount,
	}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	c.logger.Info("subscribed",
		slog.String("channel", subaccountsChannel),
		slog.String("subaccount", c.subaccount))

	for {
		if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return err
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		snap, ok, err := DecodeMessage(raw)
		if err != nil {
			c.logger.Warn("undecodable message", slog.String("error", err.Error()))
			continue
		}
		if !ok {
			continue
		}

		*backoff = initialBackoff
		c.handler.OnSnapshot(snap)
	}
}
