package staging

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/staging/internal/ring"
)

// Device is the staging-transfer engine. It multiplexes short-lived
// host→device and device→host transfers onto a single growable ring of
// host-visible memory, tracks which regions are still consumed by
// in-flight device copies, and reclaims space as their completion tokens
// signal.
//
// Uploads (WriteBuffer, WriteTexture) are asynchronous: the call returns
// once the copy is submitted, and the staged region is recycled later.
// Downloads (ReadBuffer, ReadTexture2D) are synchronous: the call blocks
// until its own token completes because the caller needs the bytes.
//
// Suspension points: any transfer may block inside reservation when the
// ring is full of in-flight regions (it waits, bounded, on the oldest
// token) or when the ring must grow (it waits for all outstanding
// transfers). Latency-sensitive callers can consult FreeBytes before
// committing to a transfer.
//
// Device is NOT safe for concurrent use. The ring, its free-space
// accounting, and the outstanding-transfer queue are single-owner state;
// callers using one Device from multiple goroutines must serialize
// externally.
type Device struct {
	backend Backend
	cfg     Config

	buf   HostBuffer
	alloc *ring.Allocator
	track *ring.Tracker

	closed  bool
	invalid bool

	grows     uint64
	uploads   uint64
	downloads uint64
}

// New creates a staging device over backend. The initial ring is
// allocated immediately; cfg fields default per Config.
func New(backend Backend, cfg Config) (*Device, error) {
	if backend == nil {
		return nil, ErrNilBackend
	}
	cfg = cfg.withDefaults()

	alloc := ring.NewAllocator(cfg.Capacity, cfg.Alignment)
	buf, err := backend.AllocateHostVisible(alloc.Capacity())
	if err != nil {
		return nil, fmt.Errorf("staging: allocate %d byte ring: %w", alloc.Capacity(), err)
	}

	d := &Device{
		backend: backend,
		cfg:     cfg,
		buf:     buf,
		alloc:   alloc,
	}
	d.track = ring.NewTracker(cfg.WaitTimeout, alloc.Release)

	slogger().Debug("staging: device created",
		"capacity", alloc.Capacity(),
		"alignment", alloc.Alignment(),
		"max_capacity", cfg.MaxCapacity)
	return d, nil
}

// Capacity returns the current ring capacity in bytes.
func (d *Device) Capacity() uint64 { return d.alloc.Capacity() }

// FreeBytes returns the bytes not held by in-flight transfers. It lets
// latency-sensitive callers check whether a transfer of a given size may
// block before committing to it. Free bytes are not necessarily
// contiguous in ring order.
func (d *Device) FreeBytes() uint64 { return d.alloc.FreeBytes() }

// Outstanding returns the number of in-flight transfers still holding
// staging regions.
func (d *Device) Outstanding() int { return d.track.Len() }

// Reclaim flushes completed transfers and returns the bytes reclaimed.
// With block=false it polls and stops at the first incomplete transfer;
// with block=true it waits (bounded) for every outstanding transfer,
// which is a documented suspension point. Calling Reclaim(false) between
// transfers bounds tracker growth without ever blocking.
func (d *Device) Reclaim(block bool) (uint64, error) {
	if err := d.usable(); err != nil {
		return 0, err
	}
	n, err := d.track.Flush(block)
	if err != nil {
		return n, d.fatal(fmt.Errorf("staging: reclaim: %w", err))
	}
	if n > 0 {
		slogger().Debug("staging: reclaimed", "bytes", n, "outstanding", d.track.Len())
	}
	return n, nil
}

// WriteBuffer copies data into dst at dstOffset through the staging ring.
// The call returns once the device copy is submitted; completion is
// tracked internally and the staged bytes must not be assumed delivered
// until a later synchronizing operation.
func (d *Device) WriteBuffer(dst any, dstOffset uint64, data []byte) error {
	if err := d.usable(); err != nil {
		return err
	}
	if dst == nil {
		return ErrNilTarget
	}
	if len(data) == 0 {
		return ErrSizeZero
	}

	size := uint64(len(data))
	r, err := d.reserve(size, d.cfg.Alignment)
	if err != nil {
		return fmt.Errorf("staging: write buffer: %w", err)
	}
	if err := d.buf.Write(r.Offset, data); err != nil {
		d.release(r)
		return fmt.Errorf("staging: write buffer: stage at %s: %w", r, err)
	}

	token, err := d.backend.SubmitCopy(&CopyCommand{
		Kind:    CopyBufferUpload,
		Staging: d.buf,
		Target:  dst,
		Buffer:  &BufferCopy{StagingOffset: r.Offset, TargetOffset: dstOffset, Size: size},
	})
	if err != nil {
		d.release(r)
		return fmt.Errorf("staging: write buffer: submit: %w", err)
	}

	seq := d.track.Register(r, token)
	d.uploads++
	slogger().Debug("staging: buffer upload submitted",
		"seq", seq, "region", r.String(), "dst_offset", dstOffset, "size", size)
	return nil
}

// ReadBuffer copies len(dst) bytes from src at srcOffset into dst through
// the staging ring. The call blocks until the device copy completes, up
// to the configured wait timeout.
func (d *Device) ReadBuffer(src any, srcOffset uint64, dst []byte) error {
	if err := d.usable(); err != nil {
		return err
	}
	if src == nil {
		return ErrNilTarget
	}
	if len(dst) == 0 {
		return ErrSizeZero
	}

	size := uint64(len(dst))
	r, err := d.reserve(size, d.cfg.Alignment)
	if err != nil {
		return fmt.Errorf("staging: read buffer: %w", err)
	}

	token, err := d.backend.SubmitCopy(&CopyCommand{
		Kind:    CopyBufferDownload,
		Staging: d.buf,
		Target:  src,
		Buffer:  &BufferCopy{StagingOffset: r.Offset, TargetOffset: srcOffset, Size: size},
	})
	if err != nil {
		d.release(r)
		return fmt.Errorf("staging: read buffer: submit: %w", err)
	}

	if err := d.await(token); err != nil {
		return fmt.Errorf("staging: read buffer: %w", err)
	}
	if err := d.buf.Read(r.Offset, dst); err != nil {
		d.release(r)
		return fmt.Errorf("staging: read buffer: unstage at %s: %w", r, err)
	}
	d.release(r)
	d.downloads++

	// Our token signaled, so in submission order every older transfer has
	// completed too; reclaim them while we are here.
	d.pollReclaim()
	return nil
}

// WriteTexture copies data into the sub-resource region of dst through
// the staging ring. data holds block rows at bytesPerRow pitch (0 means
// tight), rows ordered top-down, images layered at RowsPerImage rows
// each. Like WriteBuffer the call returns at submission.
//
// Block-compressed formats round the staged region to whole blocks and
// raise its alignment to the block size.
func (d *Device) WriteTexture(dst any, region TextureRegion, bytesPerRow uint32, data []byte) error {
	if err := d.usable(); err != nil {
		return err
	}
	if dst == nil {
		return ErrNilTarget
	}
	layout, err := region.layout(bytesPerRow)
	if err != nil {
		return fmt.Errorf("staging: write texture: %w", err)
	}
	if uint64(len(data)) < layout.totalBytes {
		return fmt.Errorf("staging: write texture: need %d bytes at pitch %d, have %d",
			layout.totalBytes, layout.bytesPerRow, len(data))
	}

	r, err := d.reserve(layout.totalBytes, region.Format.TransferAlignment())
	if err != nil {
		return fmt.Errorf("staging: write texture: %w", err)
	}
	if err := d.buf.Write(r.Offset, data[:layout.totalBytes]); err != nil {
		d.release(r)
		return fmt.Errorf("staging: write texture: stage at %s: %w", r, err)
	}

	token, err := d.backend.SubmitCopy(&CopyCommand{
		Kind:    CopyTextureUpload,
		Staging: d.buf,
		Target:  dst,
		Texture: region.copyDesc(r.Offset, layout),
	})
	if err != nil {
		d.release(r)
		return fmt.Errorf("staging: write texture: submit: %w", err)
	}

	seq := d.track.Register(r, token)
	d.uploads++
	slogger().Debug("staging: texture upload submitted",
		"seq", seq, "region", r.String(), "format", region.Format.String(),
		"extent", fmt.Sprintf("%dx%dx%d", region.Size.Width, region.Size.Height, layout.images))
	return nil
}

// ReadTexture2D copies a single level/layer 2D sub-resource region of src
// into dst through the staging ring, blocking until the device copy
// completes. dst receives block rows at bytesPerRow pitch (0 means
// tight). With flipY the rows are written bottom-up, which only makes
// sense for uncompressed formats.
func (d *Device) ReadTexture2D(src any, region TextureRegion, bytesPerRow uint32, flipY bool, dst []byte) error {
	if err := d.usable(); err != nil {
		return err
	}
	if src == nil {
		return ErrNilTarget
	}
	region.Size.DepthOrArrayLayers = 1
	layout, err := region.layout(bytesPerRow)
	if err != nil {
		return fmt.Errorf("staging: read texture: %w", err)
	}
	if uint64(len(dst)) < layout.totalBytes {
		return fmt.Errorf("staging: read texture: need %d bytes at pitch %d, have %d",
			layout.totalBytes, layout.bytesPerRow, len(dst))
	}

	r, err := d.reserve(layout.totalBytes, region.Format.TransferAlignment())
	if err != nil {
		return fmt.Errorf("staging: read texture: %w", err)
	}

	token, err := d.backend.SubmitCopy(&CopyCommand{
		Kind:    CopyTextureDownload,
		Staging: d.buf,
		Target:  src,
		Texture: region.copyDesc(r.Offset, layout),
	})
	if err != nil {
		d.release(r)
		return fmt.Errorf("staging: read texture: submit: %w", err)
	}

	if err := d.await(token); err != nil {
		return fmt.Errorf("staging: read texture: %w", err)
	}
	if err := d.unstageRows(r.Offset, layout, flipY, dst); err != nil {
		d.release(r)
		return fmt.Errorf("staging: read texture: unstage at %s: %w", r, err)
	}
	d.release(r)
	d.downloads++
	d.pollReclaim()
	return nil
}

// unstageRows copies staged pixel rows out to dst, reversing row order
// when flipY is set.
func (d *Device) unstageRows(offset uint64, l texLayout, flipY bool, dst []byte) error {
	if !flipY {
		return d.buf.Read(offset, dst[:l.totalBytes])
	}
	staged := make([]byte, l.totalBytes)
	if err := d.buf.Read(offset, staged); err != nil {
		return err
	}
	pitch := uint64(l.bytesPerRow)
	rows := uint64(l.rowsPerImage)
	for row := uint64(0); row < rows; row++ {
		src := staged[row*pitch : row*pitch+pitch]
		copy(dst[(rows-1-row)*pitch:], src)
	}
	return nil
}

// Close drains outstanding transfers, releases the ring buffer, and
// marks the device closed. Close is idempotent.
func (d *Device) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true

	var drainErr error
	if !d.invalid && d.track.Len() > 0 {
		slogger().Warn("staging: close draining outstanding transfers", "count", d.track.Len())
		if _, err := d.track.Flush(true); err != nil {
			drainErr = fmt.Errorf("staging: close: %w", err)
		}
	}
	d.track.Clear()
	d.buf.Destroy()
	return drainErr
}

// Stats returns a snapshot of engine counters.
func (d *Device) Stats() Stats {
	return Stats{
		Capacity:             d.alloc.Capacity(),
		FreeBytes:            d.alloc.FreeBytes(),
		OutstandingTransfers: d.track.Len(),
		OutstandingBytes:     d.track.OutstandingBytes(),
		ReclaimedBytes:       d.track.ReclaimedBytes(),
		Grows:                d.grows,
		Uploads:              d.uploads,
		Downloads:            d.downloads,
	}
}

// usable rejects operations on closed or invalidated devices.
func (d *Device) usable() error {
	if d.closed {
		return ErrClosed
	}
	if d.invalid {
		return ErrDeviceInvalid
	}
	return nil
}

// reserve claims an aligned staging region of size bytes, reclaiming
// completed transfers and growing the ring as needed. It blocks (bounded)
// on the oldest outstanding token when the ring is full of in-flight
// regions, reclaiming one region at a time so it never waits for more
// than the allocation needs.
func (d *Device) reserve(size, align uint64) (ring.Region, error) {
	alignedSize := d.alloc.AlignSize(size, align)
	if alignedSize > d.cfg.MaxCapacity {
		return ring.Region{}, fmt.Errorf("%w: aligned size %d, max %d",
			ErrCapacityExceeded, alignedSize, d.cfg.MaxCapacity)
	}

	for {
		if alignedSize > d.alloc.Capacity() {
			if err := d.grow(alignedSize); err != nil {
				return ring.Region{}, err
			}
			continue
		}

		r, err := d.alloc.Reserve(alignedSize, align)
		if err == nil {
			return r, nil
		}
		if !errors.Is(err, ring.ErrWouldOverlap) {
			return ring.Region{}, err
		}

		// Cheap path first: reclaim whatever already signaled.
		n, ferr := d.track.Flush(false)
		if ferr != nil {
			return ring.Region{}, d.fatal(ferr)
		}
		if n > 0 {
			continue
		}

		if d.track.Len() == 0 {
			// No space, nothing in flight: the request fits capacity, so
			// this is an accounting defect, not a stall.
			return ring.Region{}, fmt.Errorf("%w: %v", ErrInvalidRegion, err)
		}

		if _, ferr := d.track.WaitOldest(); ferr != nil {
			return ring.Region{}, d.fatal(ferr)
		}
	}
}

// grow replaces the ring with a larger one: capacity doubles until it
// holds minRequired, bounded by MaxCapacity. All outstanding transfers
// are drained first so no live data is migrated, making growth an
// expensive, rare, fully-synchronizing event.
func (d *Device) grow(minRequired uint64) error {
	if minRequired > d.cfg.MaxCapacity {
		return fmt.Errorf("%w: need %d, max %d",
			ErrCapacityExceeded, minRequired, d.cfg.MaxCapacity)
	}
	newCap := d.alloc.Capacity()
	for newCap < minRequired {
		newCap *= 2
	}
	if newCap > d.cfg.MaxCapacity {
		newCap = d.cfg.MaxCapacity
	}

	if _, err := d.track.Flush(true); err != nil {
		return d.fatal(fmt.Errorf("drain before grow: %w", err))
	}

	newBuf, err := d.backend.AllocateHostVisible(newCap)
	if err != nil {
		return fmt.Errorf("staging: grow ring to %d bytes: %w", newCap, err)
	}

	oldCap := d.alloc.Capacity()
	d.buf.Destroy()
	d.buf = newBuf
	d.alloc.Reset(newCap)
	d.track.Clear()
	d.grows++

	slogger().Info("staging: ring grown",
		"old_capacity", oldCap, "new_capacity", newCap, "min_required", minRequired)
	return nil
}

// await blocks on token with the configured bound. Timeouts and device
// errors invalidate the engine.
func (d *Device) await(token Token) error {
	ok, err := token.Wait(d.cfg.WaitTimeout)
	if err != nil {
		d.invalid = true
		return fmt.Errorf("wait: %w", err)
	}
	if !ok {
		d.invalid = true
		return fmt.Errorf("%w: after %v", ErrTransferTimeout, d.cfg.WaitTimeout)
	}
	return nil
}

// release returns a region that never reached the tracker (failed submit,
// or a completed synchronous download) to the allocator.
func (d *Device) release(r ring.Region) {
	if err := d.alloc.Release(r); err != nil {
		// Unknown region here is an accounting defect.
		slogger().Warn("staging: release failed", "region", r.String(), "error", err)
	}
}

// pollReclaim opportunistically flushes completed transfers without
// blocking, logging rather than failing since the caller's own transfer
// already succeeded.
func (d *Device) pollReclaim() {
	if _, err := d.track.Flush(false); err != nil {
		slogger().Warn("staging: opportunistic reclaim failed", "error", err)
	}
}

// fatal invalidates the engine and maps internal errors onto the public
// sentinels.
func (d *Device) fatal(err error) error {
	d.invalid = true
	switch {
	case errors.Is(err, ring.ErrWaitTimeout):
		return fmt.Errorf("%w: %w", ErrTransferTimeout, err)
	case errors.Is(err, ring.ErrUnknownRegion):
		return fmt.Errorf("%w: %w", ErrInvalidRegion, err)
	default:
		return err
	}
}

// TextureRegion describes the texture sub-resource range of a staged
// image transfer.
type TextureRegion struct {
	// Origin is the texel origin of the region.
	Origin gputypes.Origin3D

	// Size is the region extent in texels. DepthOrArrayLayers of 0 is
	// treated as 1.
	Size gputypes.Extent3D

	// MipLevel is the mip level addressed.
	MipLevel uint32

	// ArrayLayer is the array layer addressed.
	ArrayLayer uint32

	// Format drives row pitch, block rounding, and transfer alignment.
	Format Format
}

// texLayout is the resolved staging-side layout of a texture transfer.
type texLayout struct {
	bytesPerRow  uint32
	rowsPerImage uint32
	images       uint32
	totalBytes   uint64
}

// layout resolves the staging layout for the region at the given caller
// pitch (0 means tight).
func (tr TextureRegion) layout(bytesPerRow uint32) (texLayout, error) {
	if tr.Size.Width == 0 || tr.Size.Height == 0 {
		return texLayout{}, ErrRegionEmpty
	}
	tight := tr.Format.RowBytes(tr.Size.Width)
	if bytesPerRow == 0 {
		bytesPerRow = tight
	}
	if bytesPerRow < tight {
		return texLayout{}, fmt.Errorf("bytes per row %d below tight pitch %d", bytesPerRow, tight)
	}
	rows := tr.Format.RowCount(tr.Size.Height)
	images := tr.Size.DepthOrArrayLayers
	if images == 0 {
		images = 1
	}
	return texLayout{
		bytesPerRow:  bytesPerRow,
		rowsPerImage: rows,
		images:       images,
		totalBytes:   uint64(bytesPerRow) * uint64(rows) * uint64(images),
	}, nil
}

// copyDesc builds the backend copy descriptor for this region staged at
// offset.
func (tr TextureRegion) copyDesc(offset uint64, l texLayout) *TextureCopy {
	return &TextureCopy{
		StagingOffset: offset,
		BytesPerRow:   l.bytesPerRow,
		RowsPerImage:  l.rowsPerImage,
		Origin:        tr.Origin,
		Size:          tr.Size,
		MipLevel:      tr.MipLevel,
		ArrayLayer:    tr.ArrayLayer,
	}
}

// Stats contains a snapshot of staging engine counters.
type Stats struct {
	// Capacity is the current ring capacity in bytes.
	Capacity uint64

	// FreeBytes is capacity minus bytes held by in-flight transfers.
	FreeBytes uint64

	// OutstandingTransfers is the number of in-flight transfers.
	OutstandingTransfers int

	// OutstandingBytes is the total size of in-flight regions.
	OutstandingBytes uint64

	// ReclaimedBytes is the lifetime total of reclaimed bytes.
	ReclaimedBytes uint64

	// Grows counts ring growth events.
	Grows uint64

	// Uploads counts submitted upload transfers.
	Uploads uint64

	// Downloads counts completed download transfers.
	Downloads uint64
}

// String returns a human-readable summary of the stats.
func (s Stats) String() string {
	return fmt.Sprintf("Staging[%d/%d KiB free, %d in flight (%d KiB), %d grows, %d up, %d down]",
		s.FreeBytes/1024, s.Capacity/1024,
		s.OutstandingTransfers, s.OutstandingBytes/1024,
		s.Grows, s.Uploads, s.Downloads)
}
