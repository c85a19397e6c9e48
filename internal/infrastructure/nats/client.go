package nats

import (
	"context"
	"fmt"
	"sync"
	"time"

	natsgo "github.com/nats-io/nats.go"

	"github.com/nerrad567/gray-logic-iot/internal/device"
)

const (
	defaultConnectTimeout = 5 * time.Second
	defaultReconnectWait  = time.Second
)

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MessageHandler receives a delivery with its subject already converted
// back to '/' notation. A returned error is logged.
type MessageHandler func(subject string, payload []byte) error

// Client wraps a nats.go connection.
//
// Thread Safety: all methods are safe for concurrent use.
type Client struct {
	conn *natsgo.Conn
	url  string

	subMu sync.Mutex
	subs  map[string]*natsgo.Subscription

	loggerMu sync.RWMutex
	logger   Logger
}

// Connect dials url. Reconnects are unlimited once the first connection
// succeeds. Extra options are appended after the defaults.
func Connect(url, name string, opts ...natsgo.Option) (*Client, error) {
	c := &Client{
		url:    url,
		subs:   make(map[string]*natsgo.Subscription),
		logger: noopLogger{},
	}

	defaults := []natsgo.Option{
		natsgo.Name(name),
		natsgo.Timeout(defaultConnectTimeout),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(defaultReconnectWait),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				c.getLogger().Warn("NATS disconnected", "url", url, "error", err)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			c.getLogger().Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	}

	conn, err := natsgo.Connect(url, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, url, err)
	}
	c.conn = conn
	return c, nil
}

// Conn exposes the underlying connection, for JetStream use.
func (c *Client) Conn() *natsgo.Conn {
	return c.conn
}

// URL returns the address the client was dialled with.
func (c *Client) URL() string {
	return c.url
}

// Publish sends payload to a '/'-separated subject and flushes, so a nil
// error means the server received it. ctx bounds the flush.
func (c *Client) Publish(ctx context.Context, subject string, payload []byte) error {
	if subject == "" {
		return ErrInvalidSubject
	}
	natsSubject := Subject(subject)
	if hasWildcard(natsSubject) {
		return fmt.Errorf("%w: %q contains a wildcard", ErrInvalidSubject, subject)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	if err := c.conn.Publish(natsSubject, payload); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultConnectTimeout)
		defer cancel()
	}
	if err := c.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("%w: flush: %w", ErrPublishFailed, err)
	}
	return nil
}

// Subscribe registers handler for an MQTT style filter such as
// "device/+/#". The subscription is confirmed with the server before
// returning.
func (c *Client) Subscribe(filter string, handler MessageHandler) error {
	if filter == "" {
		return ErrInvalidSubject
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}

	natsFilter := Filter(filter)
	sub, err := c.conn.Subscribe(natsFilter, c.wrapHandler(handler))
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, natsFilter, err)
	}
	if err := c.conn.Flush(); err != nil {
		_ = sub.Unsubscribe() //nolint:errcheck // already failing
		return fmt.Errorf("%w: flush: %w", ErrSubscribeFailed, err)
	}

	c.subMu.Lock()
	if old, ok := c.subs[filter]; ok {
		_ = old.Unsubscribe() //nolint:errcheck // replaced
	}
	c.subs[filter] = sub
	c.subMu.Unlock()
	return nil
}

// Unsubscribe removes the subscription registered for filter.
func (c *Client) Unsubscribe(filter string) error {
	c.subMu.Lock()
	sub, ok := c.subs[filter]
	delete(c.subs, filter)
	c.subMu.Unlock()

	if !ok {
		return nil
	}
	return sub.Unsubscribe()
}

// SubscriptionCount returns the number of active subscriptions.
func (c *Client) SubscriptionCount() int {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	return len(c.subs)
}

func (c *Client) wrapHandler(handler MessageHandler) natsgo.MsgHandler {
	return func(msg *natsgo.Msg) {
		subject := device.FromNATSSubject(msg.Subject)
		defer func() {
			if r := recover(); r != nil {
				c.getLogger().Error("NATS handler panic recovered",
					"subject", subject,
					"panic", r,
				)
			}
		}()

		if err := handler(subject, msg.Data); err != nil {
			c.getLogger().Warn("NATS handler returned error",
				"subject", subject,
				"error", err,
			)
		}
	}
}

// HealthCheck verifies the connection is usable.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	if err := c.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("nats health check: %w", err)
	}
	return nil
}

// IsConnected reports whether the connection is currently up.
func (c *Client) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// Close drains subscriptions and closes the connection.
func (c *Client) Close() error {
	if c.conn == nil || c.conn.IsClosed() {
		return nil
	}

	c.subMu.Lock()
	clear(c.subs)
	c.subMu.Unlock()

	if err := c.conn.Drain(); err != nil {
		c.conn.Close()
		return fmt.Errorf("draining nats connection: %w", err)
	}
	return nil
}

// SetLogger sets a logger for connection events and handler failures.
func (c *Client) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}
