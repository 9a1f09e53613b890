package ring

import (
	"errors"
	"testing"
	"time"
)

// fakeToken is a manually signaled completion token. When completeOnWait
// is set, Wait signals the token, simulating the device finishing while
// the host blocks.
type fakeToken struct {
	done           bool
	completeOnWait bool
	waitErr        error
	polls          int
	waits          int
}

func (f *fakeToken) Poll() bool {
	f.polls++
	return f.done
}

func (f *fakeToken) Wait(time.Duration) (bool, error) {
	f.waits++
	if f.waitErr != nil {
		return false, f.waitErr
	}
	if f.completeOnWait {
		f.done = true
	}
	return f.done, nil
}

// trackerHarness wires a tracker to an allocator the way the staging
// device does.
func trackerHarness(t *testing.T, capacity uint64) (*Allocator, *Tracker) {
	t.Helper()
	a := NewAllocator(capacity, 16)
	tr := NewTracker(time.Second, a.Release)
	return a, tr
}

// TestFlushNonBlocking tests that polling flush reclaims completed entries
// oldest-first and stops at the first incomplete one without reordering.
func TestFlushNonBlocking(t *testing.T) {
	a, tr := trackerHarness(t, 1024)

	tokens := []*fakeToken{{done: true}, {done: true}, {}, {done: true}}
	for _, tok := range tokens {
		r, err := a.Reserve(64, 16)
		if err != nil {
			t.Fatalf("Reserve: %v", err)
		}
		tr.Register(r, tok)
	}

	n, err := tr.Flush(false)
	if err != nil {
		t.Fatalf("Flush(false) = %v", err)
	}
	if n != 128 {
		t.Errorf("Flush(false) reclaimed %d bytes, want 128", n)
	}
	if tr.Len() != 2 {
		t.Errorf("Len() = %d after partial flush, want 2", tr.Len())
	}
	// The completed entry behind the incomplete one must not be touched.
	if tokens[3].polls != 0 {
		t.Errorf("token past the first incomplete entry was polled %d times", tokens[3].polls)
	}
}

// TestFlushBlockingDrains tests that blocking flush waits through every
// entry and empties the tracker.
func TestFlushBlockingDrains(t *testing.T) {
	a, tr := trackerHarness(t, 1024)

	for i := 0; i < 3; i++ {
		r, err := a.Reserve(304, 16)
		if err != nil {
			t.Fatalf("Reserve #%d: %v", i, err)
		}
		tr.Register(r, &fakeToken{completeOnWait: true})
	}

	n, err := tr.Flush(true)
	if err != nil {
		t.Fatalf("Flush(true) = %v", err)
	}
	if n != 3*304 {
		t.Errorf("Flush(true) reclaimed %d bytes, want %d", n, 3*304)
	}
	if tr.Len() != 0 {
		t.Errorf("Len() = %d after drain, want 0", tr.Len())
	}
	if a.FreeBytes() != a.Capacity() {
		t.Errorf("FreeBytes() = %d after drain, want %d", a.FreeBytes(), a.Capacity())
	}
}

// TestFlushTimeout tests that an unresponsive token surfaces
// ErrWaitTimeout instead of hanging.
func TestFlushTimeout(t *testing.T) {
	a, tr := trackerHarness(t, 1024)

	r, err := a.Reserve(64, 16)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	tr.Register(r, &fakeToken{}) // never completes

	if _, err := tr.Flush(true); !errors.Is(err, ErrWaitTimeout) {
		t.Errorf("Flush(true) = %v, want ErrWaitTimeout", err)
	}
}

// TestFlushWaitError tests that a device-level wait failure propagates.
func TestFlushWaitError(t *testing.T) {
	a, tr := trackerHarness(t, 1024)

	r, err := a.Reserve(64, 16)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	lost := errors.New("device lost")
	tr.Register(r, &fakeToken{waitErr: lost})

	if _, err := tr.Flush(true); !errors.Is(err, lost) {
		t.Errorf("Flush(true) = %v, want wrapped device error", err)
	}
}

// TestWaitOldest tests single-entry reclamation for blocking allocation.
func TestWaitOldest(t *testing.T) {
	a, tr := trackerHarness(t, 1024)

	r1, err := a.Reserve(304, 16)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	tr.Register(r1, &fakeToken{completeOnWait: true})

	r2, err := a.Reserve(304, 16)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	second := &fakeToken{}
	tr.Register(r2, second)

	n, err := tr.WaitOldest()
	if err != nil {
		t.Fatalf("WaitOldest() = %v", err)
	}
	if n != 304 {
		t.Errorf("WaitOldest() reclaimed %d bytes, want 304", n)
	}
	if tr.Len() != 1 {
		t.Errorf("Len() = %d, want 1", tr.Len())
	}
	if second.waits != 0 {
		t.Errorf("WaitOldest touched the second entry (%d waits)", second.waits)
	}
}

// TestWaitOldestEmpty tests that waiting on an empty tracker is reported
// as a defect rather than a stall.
func TestWaitOldestEmpty(t *testing.T) {
	_, tr := trackerHarness(t, 1024)

	if _, err := tr.WaitOldest(); !errors.Is(err, ErrNothingOutstanding) {
		t.Errorf("WaitOldest() = %v, want ErrNothingOutstanding", err)
	}
}

// TestReuseOnlyAfterCompletion tests the core safety property: a region's
// bytes become reservable again only once its token is observed complete.
func TestReuseOnlyAfterCompletion(t *testing.T) {
	a, tr := trackerHarness(t, 256)

	tok := &fakeToken{}
	r, err := a.Reserve(256, 16)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	tr.Register(r, tok)

	if _, err := a.Reserve(16, 16); !errors.Is(err, ErrWouldOverlap) {
		t.Fatalf("Reserve over live region = %v, want ErrWouldOverlap", err)
	}

	if _, err := tr.Flush(false); err != nil {
		t.Fatalf("Flush(false) = %v", err)
	}
	if _, err := a.Reserve(16, 16); !errors.Is(err, ErrWouldOverlap) {
		t.Fatalf("region reclaimed before token completion")
	}

	tok.done = true
	if _, err := tr.Flush(false); err != nil {
		t.Fatalf("Flush(false) = %v", err)
	}
	if _, err := a.Reserve(16, 16); err != nil {
		t.Errorf("Reserve after completion = %v, want success", err)
	}
}

// TestTrackerStats tests sequence numbering and byte accounting.
func TestTrackerStats(t *testing.T) {
	a, tr := trackerHarness(t, 1024)

	r1, _ := a.Reserve(64, 16)
	r2, _ := a.Reserve(128, 16)
	if seq := tr.Register(r1, &fakeToken{done: true}); seq != 1 {
		t.Errorf("first Register() seq = %d, want 1", seq)
	}
	if seq := tr.Register(r2, &fakeToken{done: true}); seq != 2 {
		t.Errorf("second Register() seq = %d, want 2", seq)
	}

	if got := tr.OutstandingBytes(); got != 192 {
		t.Errorf("OutstandingBytes() = %d, want 192", got)
	}

	if _, err := tr.Flush(false); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if got := tr.ReclaimedBytes(); got != 192 {
		t.Errorf("ReclaimedBytes() = %d, want 192", got)
	}
}
