package ring

import (
	"errors"
	"fmt"
	"time"
)

// Tracker errors.
var (
	// ErrWaitTimeout is returned when a blocking wait on a completion
	// token exceeds the bounded timeout. The device queue is presumed
	// stalled or lost; the engine owning the tracker must treat this as
	// fatal rather than retry.
	ErrWaitTimeout = errors.New("ring: timed out waiting for completion token")

	// ErrNothingOutstanding is returned by WaitOldest when no transfers
	// are registered. Waiting with an empty tracker means the caller's
	// space computation is wrong.
	ErrNothingOutstanding = errors.New("ring: no outstanding transfers to wait on")
)

// Token is the completion handle of one submitted device operation.
// Poll must be non-blocking. Wait blocks up to timeout and reports whether
// the token signaled; a false return with nil error is a timeout, any
// error is a device-level failure.
//
// Tokens from a single queue are expected to signal in submission order.
// The tracker's oldest-first reclamation under-reclaims if the queue
// completes out of order; that ordering is an explicit precondition on the
// command-submission collaborator, not something the tracker detects.
type Token interface {
	Poll() bool
	Wait(timeout time.Duration) (bool, error)
}

// outstanding is one in-flight transfer still consuming its region.
// Entries are kept by value in submission order so reclamation is
// deterministic.
type outstanding struct {
	seq    uint64
	region Region
	token  Token
}

// Tracker maps live staging regions to the completion tokens of the device
// operations consuming them, and releases regions back to the allocator as
// tokens signal. Entries are processed strictly oldest-first.
//
// Tracker is not safe for concurrent use.
type Tracker struct {
	entries     []outstanding
	nextSeq     uint64
	waitTimeout time.Duration

	// release returns a reclaimed region to the allocator.
	release func(Region) error

	reclaimedBytes uint64
}

// NewTracker creates a tracker that releases reclaimed regions through
// release, bounding every blocking token wait by waitTimeout.
func NewTracker(waitTimeout time.Duration, release func(Region) error) *Tracker {
	return &Tracker{
		waitTimeout: waitTimeout,
		release:     release,
	}
}

// Register records region as consumed by the operation behind token.
// Returns the monotonically increasing submission sequence number.
func (t *Tracker) Register(region Region, token Token) uint64 {
	t.nextSeq++
	t.entries = append(t.entries, outstanding{
		seq:    t.nextSeq,
		region: region,
		token:  token,
	})
	return t.nextSeq
}

// Len returns the number of outstanding transfers.
func (t *Tracker) Len() int { return len(t.entries) }

// OutstandingBytes returns the total size of regions still in flight.
func (t *Tracker) OutstandingBytes() uint64 {
	var n uint64
	for _, e := range t.entries {
		n += e.region.Size
	}
	return n
}

// ReclaimedBytes returns the total bytes reclaimed over the tracker's
// lifetime.
func (t *Tracker) ReclaimedBytes() uint64 { return t.reclaimedBytes }

// Flush reclaims completed transfers oldest-first and returns the bytes
// reclaimed by this call.
//
// In non-blocking mode it polls each token and stops at the first that has
// not signaled, preserving the FIFO assumption rather than reordering. In
// blocking mode it waits (bounded) on every token in turn, draining the
// tracker completely; a timeout surfaces as ErrWaitTimeout with the bytes
// reclaimed so far.
func (t *Tracker) Flush(block bool) (uint64, error) {
	var reclaimed uint64
	for len(t.entries) > 0 {
		e := t.entries[0]
		if !e.token.Poll() {
			if !block {
				break
			}
			ok, err := e.token.Wait(t.waitTimeout)
			if err != nil {
				return reclaimed, fmt.Errorf("transfer %d: %w", e.seq, err)
			}
			if !ok {
				return reclaimed, fmt.Errorf("transfer %d after %v: %w",
					e.seq, t.waitTimeout, ErrWaitTimeout)
			}
		}
		if err := t.pop(); err != nil {
			return reclaimed, err
		}
		reclaimed += e.region.Size
	}
	return reclaimed, nil
}

// WaitOldest blocks (bounded) on the single oldest outstanding token and
// reclaims its region. It is the allocator's escape hatch when a reserve
// attempt overlaps the ring tail: reclaiming exactly one region at a time
// keeps blocking allocations from draining more than they need.
func (t *Tracker) WaitOldest() (uint64, error) {
	if len(t.entries) == 0 {
		return 0, ErrNothingOutstanding
	}
	e := t.entries[0]
	if !e.token.Poll() {
		ok, err := e.token.Wait(t.waitTimeout)
		if err != nil {
			return 0, fmt.Errorf("transfer %d: %w", e.seq, err)
		}
		if !ok {
			return 0, fmt.Errorf("transfer %d after %v: %w",
				e.seq, t.waitTimeout, ErrWaitTimeout)
		}
	}
	if err := t.pop(); err != nil {
		return 0, err
	}
	return e.region.Size, nil
}

// pop releases the oldest entry's region and removes the entry.
func (t *Tracker) pop() error {
	e := t.entries[0]
	if err := t.release(e.region); err != nil {
		return fmt.Errorf("reclaim transfer %d: %w", e.seq, err)
	}
	t.entries = t.entries[1:]
	t.reclaimedBytes += e.region.Size
	return nil
}

// Clear drops all entries without waiting or releasing regions. Used after
// the ring buffer has been replaced wholesale during growth, when the old
// regions no longer exist.
func (t *Tracker) Clear() {
	t.entries = nil
}
