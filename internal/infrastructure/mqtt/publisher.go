package mqtt

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/nerrad567/gray-logic-iot/internal/command"
	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/config"
)

// Publisher sends device commands over MQTT.
//
// A zero command.Broker uses the primary client. Any other endpoint gets
// its own client, dialled on first use with the primary's settings and
// kept for later publishes. A dial is bounded by the publish context and
// never blocks publishes to other endpoints.
type Publisher struct {
	primary *Client
	cfg     config.MQTTConfig
	dial    func(config.MQTTConfig) (*Client, error)
	dials   singleflight.Group

	mu      sync.Mutex
	clients map[string]*Client
	closed  bool
}

// NewPublisher creates a publisher over a connected primary client.
func NewPublisher(primary *Client) *Publisher {
	return &Publisher{
		primary: primary,
		cfg:     primary.cfg,
		dial:    Connect,
		clients: make(map[string]*Client),
	}
}

// Publish sends payload to subject with the configured QoS.
func (p *Publisher) Publish(ctx context.Context, broker command.Broker, subject string, payload []byte) error {
	client, err := p.clientFor(ctx, broker)
	if err != nil {
		return err
	}
	return client.PublishDefault(ctx, subject, payload)
}

func (p *Publisher) clientFor(ctx context.Context, broker command.Broker) (*Client, error) {
	host, port := p.cfg.Broker.Host, p.cfg.Broker.Port
	if broker.Host != "" {
		host = broker.Host
	}
	if broker.Port != 0 {
		port = broker.Port
	}
	if host == p.cfg.Broker.Host && port == p.cfg.Broker.Port {
		return p.primary, nil
	}

	key := host + ":" + strconv.Itoa(port)

	p.mu.Lock()
	c, ok := p.clients[key]
	p.mu.Unlock()
	if ok {
		return c, nil
	}

	cfg := p.cfg
	cfg.Broker.Host = host
	cfg.Broker.Port = port
	cfg.Broker.ClientID = p.cfg.Broker.ClientID + "-" + key

	// The dial outlives a caller that gives up; a late success is pooled.
	ch := p.dials.DoChan(key, func() (any, error) { return p.connect(key, cfg) })
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Client), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("connecting to %s: %w", key, ctx.Err())
	}
}

func (p *Publisher) connect(key string, cfg config.MQTTConfig) (*Client, error) {
	c, err := p.dial(cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", key, err)
	}
	if logger := p.primary.getLogger(); logger != nil {
		c.SetLogger(logger)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		c.Close() //nolint:errcheck // publisher already closed
		return nil, fmt.Errorf("connecting to %s: %w", key, ErrNotConnected)
	}
	p.clients[key] = c
	return c, nil
}

// Close disconnects every extra endpoint client. The primary client is
// owned by the caller.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true

	var errs []error
	for key, c := range p.clients {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", key, err))
		}
		delete(p.clients, key)
	}
	return errors.Join(errs...)
}
