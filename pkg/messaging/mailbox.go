package messaging

import (
	"context"
	"sync"

	"underwriter/pkg/proto"
)

// mailbox is an unbounded FIFO queue. Pops block until an item arrives, the
// mailbox is closed and drained, or the context ends.
type mailbox struct {
	mu     sync.Mutex
	items  []*proto.Envelope
	notify chan struct{}
	closed bool
}

func newMailbox() *mailbox {
	return &mailbox{notify: make(chan struct{}, 1)}
}

func (m *mailbox) push(env *proto.Envelope) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.items = append(m.items, env)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
	return true
}

func (m *mailbox) pop(ctx context.Context) (*proto.Envelope, bool) {
	for {
		m.mu.Lock()
		if len(m.items) > 0 {
			env := m.items[0]
			m.items[0] = nil
			m.items = m.items[1:]
			m.mu.Unlock()
			return env, true
		}
		if m.closed {
			m.mu.Unlock()
			return nil, false
		}
		m.mu.Unlock()

		select {
		case <-m.notify:
		case <-ctx.Done():
			return nil, false
		}
	}
}

func (m *mailbox) close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *mailbox) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// heads returns up to n queued envelopes without removing them.
func (m *mailbox) heads(n int) []*proto.Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n > len(m.items) {
		n = len(m.items)
	}
	out := make([]*proto.Envelope, n)
	for i := 0; i < n; i++ {
		out[i] = m.items[i].Clone()
	}
	return out
}
