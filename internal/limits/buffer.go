package limits

import (
	"bytes"
	"errors"
	"sync"
)

// ErrOutputLimit is returned by OutputBuffer.Write once the shared output
// budget is exhausted. Copy loops treat it as a stop signal.
var ErrOutputLimit = errors.New("output limit exceeded")

// Budget is a byte allowance shared by the stdout and stderr buffers of one
// execution, so the cap applies to their combined size.
type Budget struct {
	mu        sync.Mutex
	remaining int
	tripped   bool
	onTrip    func()
}

// NewBudget creates a budget of max bytes.
func NewBudget(max int) *Budget {
	return &Budget{remaining: max}
}

// OnTrip registers fn to run once, the first time the budget is exceeded.
// The guard uses it to cancel the run context, so a flooding program is torn
// down immediately instead of waiting out its timeout.
func (b *Budget) OnTrip(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onTrip = fn
}

// take reserves up to n bytes and reports whether the full amount fit.
func (b *Budget) take(n int) (int, bool) {
	b.mu.Lock()
	if n <= b.remaining {
		b.remaining -= n
		b.mu.Unlock()
		return n, true
	}
	allowed := b.remaining
	b.remaining = 0
	first := !b.tripped
	b.tripped = true
	onTrip := b.onTrip
	b.mu.Unlock()

	if first && onTrip != nil {
		onTrip()
	}
	return allowed, false
}

// Tripped reports whether any write ran past the budget.
func (b *Budget) Tripped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tripped
}

// NewBuffer returns a capped buffer drawing from this budget.
func (b *Budget) NewBuffer() *OutputBuffer {
	return &OutputBuffer{budget: b}
}

// OutputBuffer accumulates one output stream up to the shared budget.
// Safe for a writer goroutine and a reader after completion; the mutex also
// covers the read-after-cancel case where the demux goroutine may still be
// flushing.
type OutputBuffer struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	budget *Budget
}

// Write stores p up to the remaining budget. Once the budget is exhausted
// it returns ErrOutputLimit so the surrounding copy terminates early.
func (o *OutputBuffer) Write(p []byte) (int, error) {
	allowed, ok := o.budget.take(len(p))
	if allowed > 0 {
		o.mu.Lock()
		o.buf.Write(p[:allowed])
		o.mu.Unlock()
	}
	if !ok {
		return allowed, ErrOutputLimit
	}
	return len(p), nil
}

// WriteString appends s, subject to the budget.
func (o *OutputBuffer) WriteString(s string) (int, error) {
	return o.Write([]byte(s))
}

func (o *OutputBuffer) String() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.buf.String()
}

func (o *OutputBuffer) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.buf.Len()
}
