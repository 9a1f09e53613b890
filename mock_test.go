package staging

import (
	"errors"
	"fmt"
	"time"

	"github.com/gogpu/gputypes"
)

func extent(w, h, d uint32) gputypes.Extent3D {
	return gputypes.Extent3D{Width: w, Height: h, DepthOrArrayLayers: d}
}

// memBuffer is an in-memory HostBuffer.
type memBuffer struct {
	data      []byte
	destroyed bool
}

func (b *memBuffer) Size() uint64 { return uint64(len(b.data)) }

func (b *memBuffer) Write(offset uint64, p []byte) error {
	if b.destroyed {
		return errors.New("write to destroyed buffer")
	}
	if offset+uint64(len(p)) > uint64(len(b.data)) {
		return fmt.Errorf("write [%d,%d) out of bounds (size %d)", offset, offset+uint64(len(p)), len(b.data))
	}
	copy(b.data[offset:], p)
	return nil
}

func (b *memBuffer) Read(offset uint64, p []byte) error {
	if b.destroyed {
		return errors.New("read from destroyed buffer")
	}
	if offset+uint64(len(p)) > uint64(len(b.data)) {
		return fmt.Errorf("read [%d,%d) out of bounds (size %d)", offset, offset+uint64(len(p)), len(b.data))
	}
	copy(p, b.data[offset:])
	return nil
}

func (b *memBuffer) Destroy() { b.destroyed = true }

// deviceBuffer is a fake device-local buffer target.
type deviceBuffer struct {
	data []byte
}

// deviceTexture is a fake texture target. It stores the staged block of the
// last upload verbatim, which is enough for round-trip checks at matching
// pitch.
type deviceTexture struct {
	data []byte
}

// mockToken models a fence on an in-order queue: waiting on a token
// completes it and every token submitted before it.
type mockToken struct {
	backend *mockBackend
	index   int
	done    bool

	timeoutOnWait bool
	waitErr       error

	polls int
	waits int
}

func (t *mockToken) Poll() bool {
	t.polls++
	return t.done
}

func (t *mockToken) Wait(time.Duration) (bool, error) {
	t.waits++
	if t.done {
		return true, nil
	}
	if t.waitErr != nil {
		return false, t.waitErr
	}
	if t.timeoutOnWait {
		return false, nil
	}
	t.backend.completeThrough(t.index)
	return true, nil
}

// submittedCopy records one SubmitCopy call for verification.
type submittedCopy struct {
	kind          CopyKind
	stagingOffset uint64
	size          uint64
}

// mockBackend implements Backend over plain byte slices. Copies execute
// eagerly at submit time; tokens control only when regions are reclaimed.
type mockBackend struct {
	ring    *memBuffer
	allocs  []uint64
	submits []submittedCopy
	tokens  []*mockToken

	// failNextWait poisons the next issued token.
	failNextWait error
	// timeoutNextWait makes the next issued token never signal.
	timeoutNextWait bool

	allocErr  error
	submitErr error
}

func (m *mockBackend) AllocateHostVisible(size uint64) (HostBuffer, error) {
	if m.allocErr != nil {
		return nil, m.allocErr
	}
	m.allocs = append(m.allocs, size)
	m.ring = &memBuffer{data: make([]byte, size)}
	return m.ring, nil
}

func (m *mockBackend) SubmitCopy(cmd *CopyCommand) (Token, error) {
	if m.submitErr != nil {
		return nil, m.submitErr
	}
	if err := m.execute(cmd); err != nil {
		return nil, err
	}

	rec := submittedCopy{kind: cmd.Kind}
	if cmd.Buffer != nil {
		rec.stagingOffset = cmd.Buffer.StagingOffset
		rec.size = cmd.Buffer.Size
	} else if cmd.Texture != nil {
		rec.stagingOffset = cmd.Texture.StagingOffset
	}
	m.submits = append(m.submits, rec)

	tok := &mockToken{backend: m, index: len(m.tokens)}
	tok.waitErr = m.failNextWait
	tok.timeoutOnWait = m.timeoutNextWait
	m.failNextWait = nil
	m.timeoutNextWait = false
	m.tokens = append(m.tokens, tok)
	return tok, nil
}

func (m *mockBackend) execute(cmd *CopyCommand) error {
	staging, ok := cmd.Staging.(*memBuffer)
	if !ok {
		return errors.New("staging buffer not allocated by this backend")
	}
	switch cmd.Kind {
	case CopyBufferUpload:
		buf := cmd.Target.(*deviceBuffer)
		c := cmd.Buffer
		copy(buf.data[c.TargetOffset:], staging.data[c.StagingOffset:c.StagingOffset+c.Size])
	case CopyBufferDownload:
		buf := cmd.Target.(*deviceBuffer)
		c := cmd.Buffer
		copy(staging.data[c.StagingOffset:], buf.data[c.TargetOffset:c.TargetOffset+c.Size])
	case CopyTextureUpload:
		tex := cmd.Target.(*deviceTexture)
		n := m.textureBytes(cmd.Texture)
		tex.data = append(tex.data[:0], staging.data[cmd.Texture.StagingOffset:cmd.Texture.StagingOffset+n]...)
	case CopyTextureDownload:
		tex := cmd.Target.(*deviceTexture)
		copy(staging.data[cmd.Texture.StagingOffset:], tex.data)
	default:
		return fmt.Errorf("unexpected copy kind %v", cmd.Kind)
	}
	return nil
}

func (m *mockBackend) textureBytes(t *TextureCopy) uint64 {
	images := t.Size.DepthOrArrayLayers
	if images == 0 {
		images = 1
	}
	return uint64(t.BytesPerRow) * uint64(t.RowsPerImage) * uint64(images)
}

// completeThrough marks tokens 0..index done, preserving queue order.
func (m *mockBackend) completeThrough(index int) {
	for i := 0; i <= index && i < len(m.tokens); i++ {
		m.tokens[i].done = true
	}
}

// pattern fills a deterministic byte sequence for round-trip checks.
func pattern(n int, seed byte) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = seed + byte(i*7)
	}
	return p
}
