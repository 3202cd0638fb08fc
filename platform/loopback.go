package platform

import (
	"context"
	"fmt"
	"sync"

	"github.com/lumabot/lumabot/core"
)

// Outbound pairs a sent reply with its delivery address, as observed on the
// loopback adapter's outbox.
type Outbound struct {
	To    Delivery
	Reply *core.Reply
}

// Loopback is an in-process adapter: tests and examples inject inbound
// messages and observe outbound replies on channels.
type Loopback struct {
	name string

	mu      sync.Mutex
	started bool
	stopped bool

	inbox  chan Message
	outbox chan Outbound
}

// NewLoopback creates a loopback adapter with the given platform name.
func NewLoopback(name string, buffer int) *Loopback {
	if buffer <= 0 {
		buffer = 16
	}
	return &Loopback{
		name:   name,
		inbox:  make(chan Message, buffer),
		outbox: make(chan Outbound, buffer),
	}
}

// Name implements Adapter.
func (l *Loopback) Name() string { return l.name }

// Start implements Adapter.
func (l *Loopback) Start(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return fmt.Errorf("loopback %s: already started", l.name)
	}
	l.started = true
	return nil
}

// Stop implements Adapter. Messages closes afterwards.
func (l *Loopback) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return nil
	}
	l.stopped = true
	close(l.inbox)
	return nil
}

// Messages implements Adapter.
func (l *Loopback) Messages() <-chan Message { return l.inbox }

// Send implements Adapter, recording the reply on the outbox.
func (l *Loopback) Send(ctx context.Context, to Delivery, reply *core.Reply) error {
	select {
	case l.outbox <- Outbound{To: to, Reply: reply}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Inject submits an inbound message as if the platform delivered it.
func (l *Loopback) Inject(msg Message) error {
	l.mu.Lock()
	stopped := l.stopped
	l.mu.Unlock()
	if stopped {
		return fmt.Errorf("loopback %s: stopped", l.name)
	}
	msg.Platform = l.name
	l.inbox <- msg
	return nil
}

// Outbox exposes sent replies for assertion.
func (l *Loopback) Outbox() <-chan Outbound { return l.outbox }
