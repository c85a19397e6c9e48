package nats

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/nerrad567/gray-logic-iot/internal/command"
)

const defaultPort = 4222

// Publisher sends device commands over NATS.
//
// A zero command.Broker uses the primary client. Any other endpoint is
// dialled as nats://host:port on first use and kept for later publishes.
// A dial is bounded by the publish context and never blocks publishes to
// other endpoints.
type Publisher struct {
	primary     *Client
	primaryHost string
	primaryPort int
	name        string
	dial        func(url, name string) (*Client, error)
	dials       singleflight.Group

	mu      sync.Mutex
	clients map[string]*Client
	closed  bool
}

// NewPublisher creates a publisher over a connected primary client.
func NewPublisher(primary *Client, name string) *Publisher {
	host, port := splitURL(primary.URL())
	return &Publisher{
		primary:     primary,
		primaryHost: host,
		primaryPort: port,
		name:        name,
		dial: func(u, n string) (*Client, error) {
			return Connect(u, n)
		},
		clients: make(map[string]*Client),
	}
}

// Publish sends payload to the NATS form of subject.
func (p *Publisher) Publish(ctx context.Context, broker command.Broker, subject string, payload []byte) error {
	client, err := p.clientFor(ctx, broker)
	if err != nil {
		return err
	}
	return client.Publish(ctx, subject, payload)
}

func (p *Publisher) clientFor(ctx context.Context, broker command.Broker) (*Client, error) {
	host, port := p.primaryHost, p.primaryPort
	if broker.Host != "" {
		host = broker.Host
	}
	if broker.Port != 0 {
		port = broker.Port
	}
	if host == p.primaryHost && port == p.primaryPort {
		return p.primary, nil
	}

	key := net.JoinHostPort(host, strconv.Itoa(port))

	p.mu.Lock()
	c, ok := p.clients[key]
	p.mu.Unlock()
	if ok {
		return c, nil
	}

	ch := p.dials.DoChan(key, func() (any, error) { return p.connect(key) })
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

func (p *Publisher) connect(key string) (*Client, error) {
	c, err := p.dial("nats://"+key, p.name)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", key, err)
	}
	c.SetLogger(p.primary.getLogger())

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		c.Close() //nolint:errcheck // publisher already closed
		return nil, fmt.Errorf("connecting to %s: %w", key, ErrNotConnected)
	}
	p.clients[key] = c
	return c, nil
}

// Close closes every extra endpoint client. The primary is owned by the caller.
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

// splitURL extracts host and port from the first server in a NATS URL list.
func splitURL(raw string) (string, int) {
	first, _, _ := strings.Cut(raw, ",")
	u, err := url.Parse(strings.TrimSpace(first))
	if err != nil || u.Hostname() == "" {
		return "", defaultPort
	}
	port := defaultPort
	if p, err := strconv.Atoi(u.Port()); err == nil {
		port = p
	}
	return u.Hostname(), port
}
