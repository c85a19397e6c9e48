package mqtt

import "fmt"

// Subscribe routes messages matching filter to handler. Filters may use
// '+' for one level and a trailing '#'. The subscription is restored after
// every reconnect; subscribing to the same filter again replaces the handler.
func (c *Client) Subscribe(filter string, qos byte, handler MessageHandler) error {
	switch {
	case filter == "":
		return ErrInvalidTopic
	case qos > maxQoS:
		return ErrInvalidQoS
	case handler == nil:
		return fmt.Errorf("%w: nil handler", ErrSubscribeFailed)
	case !c.IsConnected():
		return ErrNotConnected
	}

	c.subMu.Lock()
	c.filters[filter] = filterSub{qos: qos, handler: handler}
	c.subMu.Unlock()

	if err := wait(c.client.Subscribe(filter, qos, c.deliver(handler)), defaultPublishTimeout, ErrSubscribeFailed); err != nil {
		c.forget(filter)
		return err
	}
	return nil
}

// Unsubscribe stops routing filter. Messages already in flight may still
// reach the old handler.
func (c *Client) Unsubscribe(filter string) error {
	if filter == "" {
		return ErrInvalidTopic
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	c.forget(filter)
	return wait(c.client.Unsubscribe(filter), defaultPublishTimeout, ErrUnsubscribeFailed)
}

func (c *Client) forget(filter string) {
	c.subMu.Lock()
	delete(c.filters, filter)
	c.subMu.Unlock()
}

// SubscriptionCount returns the number of remembered filters.
func (c *Client) SubscriptionCount() int {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.filters)
}

// HasSubscription reports whether filter, compared literally, is remembered.
func (c *Client) HasSubscription(filter string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	_, ok := c.filters[filter]
	return ok
}
