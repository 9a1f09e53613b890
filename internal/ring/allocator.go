// Package ring implements the byte-range bookkeeping for a staging ring
// buffer: aligned region allocation with wraparound, and FIFO tracking of
// regions still consumed by in-flight device transfers.
package ring

import (
	"errors"
	"fmt"
)

// Allocation errors.
var (
	// ErrRegionTooLarge is returned when a single aligned request exceeds
	// the ring capacity. The caller must grow the ring before retrying.
	ErrRegionTooLarge = errors.New("ring: aligned size exceeds ring capacity")

	// ErrWouldOverlap is returned when the candidate region overlaps a
	// live (unreclaimed) region. The caller must reclaim completed
	// transfers and retry.
	ErrWouldOverlap = errors.New("ring: candidate region overlaps a live region")

	// ErrUnknownRegion is returned when releasing a region that was never
	// reserved, or was already released. This signals a programming defect
	// in the caller, not a runtime condition.
	ErrUnknownRegion = errors.New("ring: release of unknown region")
)

// MinAlignment is the smallest region alignment the allocator accepts.
// Block-compressed texture formats round their transfers to block
// granularity, which is why the floor is 16 bytes rather than 4.
const MinAlignment = 16

// Region is a contiguous byte range inside the ring buffer. Offset and
// Size are always multiples of the alignment they were reserved with.
type Region struct {
	Offset uint64
	Size   uint64
}

// End returns the first byte past the region.
func (r Region) End() uint64 { return r.Offset + r.Size }

// Overlaps reports whether two regions share any byte.
func (r Region) Overlaps(o Region) bool {
	return r.Offset < o.End() && o.Offset < r.End()
}

// String returns a compact half-open interval form for diagnostics.
func (r Region) String() string {
	return fmt.Sprintf("[%d,%d)", r.Offset, r.End())
}

// Allocator hands out aligned regions from a fixed-capacity ring. A region
// stays live (blocking reuse of its bytes) from Reserve until Release.
//
// Allocation never splits a request across the wrap boundary: when the tail
// cannot hold the request, the remaining tail bytes are forfeited for that
// allocation and the candidate wraps to offset 0. Combined with FIFO
// release order this gives FIFO-biased reuse, matching the in-order
// completion of transfers submitted on a single device queue.
//
// Allocator is not safe for concurrent use.
type Allocator struct {
	capacity  uint64
	alignment uint64
	front     uint64

	// live regions in reservation order, oldest first.
	live []Region

	liveBytes uint64
}

// NewAllocator creates an allocator over capacity bytes. The base alignment
// is raised to MinAlignment and capacity is rounded up to it.
func NewAllocator(capacity, alignment uint64) *Allocator {
	if alignment < MinAlignment {
		alignment = MinAlignment
	}
	return &Allocator{
		capacity:  alignUp(capacity, alignment),
		alignment: alignment,
	}
}

// alignUp rounds n up to the next multiple of align.
func alignUp(n, align uint64) uint64 {
	return (n + align - 1) / align * align
}

// Capacity returns the ring capacity in bytes.
func (a *Allocator) Capacity() uint64 { return a.capacity }

// Alignment returns the base alignment in bytes.
func (a *Allocator) Alignment() uint64 { return a.alignment }

// FrontOffset returns the ring cursor, the next position tried in ring
// order.
func (a *Allocator) FrontOffset() uint64 { return a.front }

// FreeBytes returns capacity minus the bytes held by live regions. Free
// bytes are not necessarily allocatable in one piece: the usable span
// depends on where the live regions sit in ring order.
func (a *Allocator) FreeBytes() uint64 { return a.capacity - a.liveBytes }

// LiveCount returns the number of unreclaimed regions.
func (a *Allocator) LiveCount() int { return len(a.live) }

// LiveBytes returns the total size of unreclaimed regions.
func (a *Allocator) LiveBytes() uint64 { return a.liveBytes }

// AlignSize rounds size up to a multiple of align, raising align to the
// base alignment first.
func (a *Allocator) AlignSize(size, align uint64) uint64 {
	if align < a.alignment {
		align = a.alignment
	}
	return alignUp(size, align)
}

// Reserve claims an aligned region of alignedSize bytes at the ring
// cursor. align must be a power of two no smaller than the base alignment,
// and alignedSize a multiple of it (use AlignSize).
//
// Returns ErrRegionTooLarge when the request can never fit, and
// ErrWouldOverlap when it cannot fit until live regions are released.
func (a *Allocator) Reserve(alignedSize, align uint64) (Region, error) {
	if align < a.alignment {
		align = a.alignment
	}
	if alignedSize == 0 || alignedSize > a.capacity {
		return Region{}, fmt.Errorf("%w: size %d, capacity %d",
			ErrRegionTooLarge, alignedSize, a.capacity)
	}

	candidate := alignUp(a.front, align)
	if candidate+alignedSize > a.capacity {
		// Never split across the wrap boundary; forfeit the tail.
		candidate = 0
	}

	r := Region{Offset: candidate, Size: alignedSize}
	for _, l := range a.live {
		if r.Overlaps(l) {
			return Region{}, fmt.Errorf("%w: candidate %s, live %s",
				ErrWouldOverlap, r, l)
		}
	}

	a.front = r.End()
	if a.front == a.capacity {
		a.front = 0
	}
	a.live = append(a.live, r)
	a.liveBytes += r.Size
	return r, nil
}

// Release returns a previously reserved region to the free pool. Regions
// are expected back oldest-first, but any live region is accepted so that
// synchronous downloads can release out of band.
func (a *Allocator) Release(r Region) error {
	for i, l := range a.live {
		if l == r {
			a.live = append(a.live[:i], a.live[i+1:]...)
			a.liveBytes -= r.Size
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownRegion, r)
}

// Reset discards all bookkeeping and adopts a new capacity. Used after the
// ring buffer has been grown, once every live region has been drained.
func (a *Allocator) Reset(newCapacity uint64) {
	a.capacity = alignUp(newCapacity, a.alignment)
	a.front = 0
	a.live = nil
	a.liveBytes = 0
}
