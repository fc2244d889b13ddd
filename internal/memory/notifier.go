package memory

import (
	"context"
	"sync"

	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
)

type Published struct {
	Topic    string
	Envelope orders.Envelope
}

// Notifier records every publish.
type Notifier struct {
	mu     sync.Mutex
	sent   []Published
	FailOn error
}

func (n *Notifier) Publish(_ context.Context, topic string, ev orders.Envelope) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.FailOn != nil {
		return n.FailOn
	}
	n.sent = append(n.sent, Published{Topic: topic, Envelope: ev})
	return nil
}

func (n *Notifier) Sent() []Published {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Published(nil), n.sent...)
}
