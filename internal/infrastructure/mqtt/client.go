package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/config"
)

// Logger receives handler failures. logging.Logger satisfies it.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// MessageHandler handles one inbound message. paho calls it on its own
// goroutine; a returned error is logged and the message is not redelivered.
type MessageHandler func(topic string, payload []byte) error

// Client is a paho client that remembers its subscriptions, restores them
// after a reconnect and keeps a retained online/offline status on
// StatusTopic. It is safe for concurrent use.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig

	connected atomic.Bool

	subMu   sync.RWMutex
	filters map[string]filterSub

	hookMu       sync.RWMutex
	onConnect    func()
	onDisconnect func(error)
	logger       Logger
}

type filterSub struct {
	qos     byte
	handler MessageHandler
}

// Connect dials the broker described by cfg and waits for the first
// connection. Later drops are retried by paho in the background.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := &Client{cfg: cfg, filters: make(map[string]filterSub)}

	opts := buildClientOptions(cfg)
	opts.SetBinaryWill(StatusTopic, statusPayload(cfg.Broker.ClientID, "offline", "unexpected_disconnect"), 1, true)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.connectedHook() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.lostHook(err) })

	c.client = pahomqtt.NewClient(opts)
	if err := wait(c.client.Connect(), connectTimeout, ErrConnectionFailed); err != nil {
		return nil, err
	}
	// The connect hook runs asynchronously and may still be pending.
	c.connected.Store(true)
	return c, nil
}

// wait blocks on token for at most d and wraps any failure in sentinel.
func wait(token pahomqtt.Token, d time.Duration, sentinel error) error {
	if !token.WaitTimeout(d) {
		return fmt.Errorf("%w: no broker response after %v", sentinel, d)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", sentinel, err)
	}
	return nil
}

func (c *Client) connectedHook() {
	c.connected.Store(true)

	c.subMu.RLock()
	for filter, sub := range c.filters {
		c.client.Subscribe(filter, sub.qos, c.deliver(sub.handler))
	}
	c.subMu.RUnlock()

	c.publishStatus("online", "")

	c.hookMu.RLock()
	hook := c.onConnect
	c.hookMu.RUnlock()
	if hook != nil {
		hook()
	}
}

func (c *Client) lostHook(err error) {
	c.connected.Store(false)

	c.hookMu.RLock()
	hook := c.onDisconnect
	c.hookMu.RUnlock()
	if hook != nil {
		hook(err)
	}
}

func (c *Client) publishStatus(status, reason string) pahomqtt.Token {
	return c.client.Publish(StatusTopic, byte(c.cfg.QoS), true, statusPayload(c.cfg.Broker.ClientID, status, reason))
}

// Close marks the service offline and disconnects.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	if c.IsConnected() {
		c.publishStatus("offline", "graceful_shutdown").WaitTimeout(defaultPublishTimeout)
	}
	c.client.Disconnect(quiesceMillis)
	c.connected.Store(false)
	return nil
}

// HealthCheck reports ErrNotConnected while the broker is unreachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports the current connection state.
func (c *Client) IsConnected() bool {
	return c.connected.Load() && c.client.IsConnected()
}

// SetOnConnect registers a callback for the first connect and every reconnect.
func (c *Client) SetOnConnect(fn func()) {
	c.hookMu.Lock()
	c.onConnect = fn
	c.hookMu.Unlock()
}

// SetOnDisconnect registers a callback for a lost connection.
func (c *Client) SetOnDisconnect(fn func(error)) {
	c.hookMu.Lock()
	c.onDisconnect = fn
	c.hookMu.Unlock()
}

// SetLogger sets where handler errors and panics are reported.
func (c *Client) SetLogger(logger Logger) {
	c.hookMu.Lock()
	c.logger = logger
	c.hookMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.hookMu.RLock()
	defer c.hookMu.RUnlock()
	return c.logger
}

// deliver adapts handler to paho, recovering panics so one bad message
// cannot take down the router goroutine.
func (c *Client) deliver(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		topic := msg.Topic()
		defer func() {
			if r := recover(); r != nil {
				if logger := c.getLogger(); logger != nil {
					logger.Error("mqtt handler panicked", "topic", topic, "panic", r)
				}
			}
		}()
		if err := handler(topic, msg.Payload()); err != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Warn("mqtt handler failed", "topic", topic, "error", err)
			}
		}
	}
}
