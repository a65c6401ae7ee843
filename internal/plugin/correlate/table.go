// Package correlate pairs asynchronous requests with their responses.
//
// A Table mints request ids and holds one continuation per pending request.
// Ids start at 1 and strictly increase for the lifetime of the table. Every
// entry is removed exactly once, by Resolve, Cancel or Close, and its
// continuation runs at most once.
package correlate

import (
	"fmt"
	"sort"
	"sync"

	"github.com/dshills/extbridge/internal/plugin/wire"
)

// Result is the outcome of a request.
type Result struct {
	Payload wire.Payload
	Err     error
}

// Continuation receives the result of a request. It runs on the goroutine
// that resolved the request, outside the table lock.
type Continuation func(Result)

// MismatchError reports a response for a request id that is not pending.
type MismatchError struct {
	ID uint64
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("correlate: no pending request %d", e.ID)
}

// Table is a concurrency-safe correlation table.
type Table struct {
	mu       sync.Mutex
	next     uint64
	pending  map[uint64]Continuation
	closed   bool
	closeErr error
	resolved uint64
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{
		pending: make(map[uint64]Continuation),
	}
}

// Register adds a pending request and returns its id. After Close, Register
// fails with the error passed to Close.
func (t *Table) Register(cont Continuation) (uint64, error) {
	if cont == nil {
		return 0, fmt.Errorf("correlate: nil continuation")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return 0, t.closeErr
	}
	t.next++
	t.pending[t.next] = cont
	return t.next, nil
}

// Resolve completes a pending request. An unknown or already completed id
// returns *MismatchError.
func (t *Table) Resolve(id uint64, res Result) error {
	t.mu.Lock()
	cont, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
		t.resolved++
	}
	t.mu.Unlock()

	if !ok {
		return &MismatchError{ID: id}
	}
	cont(res)
	return nil
}

// Cancel removes a pending request without running its continuation.
func (t *Table) Cancel(id uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.pending[id]; !ok {
		return false
	}
	delete(t.pending, id)
	return true
}

// Close rejects further registrations and resolves every pending request
// with err, in id order. It returns the number of requests resolved. Calling
// Close again resolves nothing.
func (t *Table) Close(err error) int {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return 0
	}
	t.closed = true
	t.closeErr = err

	ids := make([]uint64, 0, len(t.pending))
	for id := range t.pending {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	conts := make([]Continuation, 0, len(ids))
	for _, id := range ids {
		conts = append(conts, t.pending[id])
		delete(t.pending, id)
	}
	t.resolved += uint64(len(conts))
	t.mu.Unlock()

	for _, cont := range conts {
		cont(Result{Err: err})
	}
	return len(conts)
}

// Pending returns the number of outstanding requests.
func (t *Table) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// LastID returns the most recently minted id, or 0.
func (t *Table) LastID() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.next
}

// Resolved returns how many requests have been completed.
func (t *Table) Resolved() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resolved
}

// Closed reports whether Close has been called.
func (t *Table) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
