package engine

import "sync"

// mailbox is an unbounded multi-producer single-consumer queue. Producers
// never block: put appends under a mutex and pokes the wake channel. Only the
// engine goroutine calls take.
type mailbox struct {
	mu   sync.Mutex
	msgs []message
	wake chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{wake: make(chan struct{}, 1)}
}

func (m *mailbox) put(msg message) {
	m.mu.Lock()
	m.msgs = append(m.msgs, msg)
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// take pops the oldest message, preserving per-producer FIFO order.
func (m *mailbox) take() (message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.msgs) == 0 {
		return message{}, false
	}
	msg := m.msgs[0]
	m.msgs = m.msgs[1:]
	return msg, true
}

func (m *mailbox) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.msgs)
}

// wakeCh returns the channel the consumer selects on while idle.
func (m *mailbox) wakeCh() <-chan struct{} {
	return m.wake
}
