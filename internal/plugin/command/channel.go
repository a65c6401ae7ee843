package command

import (
	"errors"
	"sync"
)

// ErrChannelClosed is returned when sending on a closed channel and is the
// error every pending request resolves with during teardown.
var ErrChannelClosed = errors.New("command channel closed")

// Channel is an unbounded FIFO of envelopes with a single consumer.
//
// Send never blocks. Ready delivers a coalesced signal whenever the channel
// goes from empty to non-empty, so the host can select on it next to its
// other event sources.
type Channel struct {
	mu     sync.Mutex
	queue  []Envelope
	seq    uint64
	closed bool
	ready  chan struct{}
}

// NewChannel creates an open, empty channel.
func NewChannel() *Channel {
	return &Channel{
		ready: make(chan struct{}, 1),
	}
}

// Send enqueues an uncorrelated command.
func (c *Channel) Send(cmd Command) error {
	return c.SendRequest(0, cmd)
}

// SendRequest enqueues a command correlated with requestID.
func (c *Channel) SendRequest(requestID uint64, cmd Command) error {
	if cmd == nil {
		return errors.New("command: nil command")
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrChannelClosed
	}
	c.seq++
	c.queue = append(c.queue, Envelope{Seq: c.seq, RequestID: requestID, Command: cmd})
	c.mu.Unlock()

	select {
	case c.ready <- struct{}{}:
	default:
	}
	return nil
}

// Drain removes and returns every queued envelope in enqueue order.
// Envelopes queued before Close are still returned.
func (c *Channel) Drain() []Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.queue) == 0 {
		return nil
	}
	out := c.queue
	c.queue = nil
	return out
}

// Ready returns a channel that receives a value after new envelopes arrive.
// A signal may be spurious; Drain can return nothing.
func (c *Channel) Ready() <-chan struct{} {
	return c.ready
}

// Len returns the number of queued envelopes.
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Sent returns the number of envelopes accepted so far.
func (c *Channel) Sent() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Close stops accepting new envelopes. It is safe to call more than once.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

// Closed reports whether Close has been called.
func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
