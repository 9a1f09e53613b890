package staging

import (
	"fmt"
	"time"

	"github.com/gogpu/gputypes"
)

// Token is the completion handle of one submitted device copy. Poll is
// non-blocking; Wait blocks up to timeout and reports whether the token
// signaled. A false return with a nil error is a timeout; a non-nil error
// is a device-level failure.
//
// Tokens issued by a single queue must signal in submission order. The
// engine's oldest-first reclamation depends on that ordering; a backend
// with out-of-order completion (multiple independent queues) must not be
// used behind one Device.
type Token interface {
	Poll() bool
	Wait(timeout time.Duration) (bool, error)
}

// HostBuffer is a host-visible device allocation: the backing store of the
// staging ring. Write and Read move bytes between host memory and the
// buffer at a byte offset.
type HostBuffer interface {
	// Size returns the allocation size in bytes.
	Size() uint64

	// Write copies p into the buffer at offset.
	Write(offset uint64, p []byte) error

	// Read copies len(p) bytes from the buffer at offset into p.
	Read(offset uint64, p []byte) error

	// Destroy releases the allocation.
	Destroy()
}

// Backend is the narrow device collaborator the engine consumes. It hides
// device/context ownership, command encoding, and queue submission.
//
// Resource handles in copy commands are opaque (any); each backend
// documents and asserts the concrete types it accepts. The wgpu backend
// accepts hal.Buffer and hal.Texture.
type Backend interface {
	// AllocateHostVisible allocates a host-visible buffer of size bytes
	// usable as both copy source and copy destination.
	AllocateHostVisible(size uint64) (HostBuffer, error)

	// SubmitCopy encodes and submits cmd to the device queue, returning
	// the completion token of the submission. The submission must not be
	// cancellable and its token must signal in submission order.
	SubmitCopy(cmd *CopyCommand) (Token, error)
}

// CopyKind identifies the direction and resource class of a staged copy.
type CopyKind uint8

const (
	// CopyBufferUpload copies staging bytes into a device buffer.
	CopyBufferUpload CopyKind = iota

	// CopyBufferDownload copies device buffer bytes into staging.
	CopyBufferDownload

	// CopyTextureUpload copies staging bytes into a texture sub-resource.
	CopyTextureUpload

	// CopyTextureDownload copies a texture sub-resource into staging.
	CopyTextureDownload
)

// String returns the string representation of the copy kind.
func (k CopyKind) String() string {
	switch k {
	case CopyBufferUpload:
		return "BufferUpload"
	case CopyBufferDownload:
		return "BufferDownload"
	case CopyTextureUpload:
		return "TextureUpload"
	case CopyTextureDownload:
		return "TextureDownload"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(k))
	}
}

// BufferCopy describes one staged buffer copy. StagingOffset addresses the
// staging ring; TargetOffset addresses the device buffer.
type BufferCopy struct {
	StagingOffset uint64
	TargetOffset  uint64
	Size          uint64
}

// TextureCopy describes one staged copy between the ring and a texture
// sub-resource. The buffer layout fields describe the data as laid out in
// the staging ring starting at StagingOffset.
type TextureCopy struct {
	// StagingOffset is the byte offset of the pixel data in the ring.
	StagingOffset uint64

	// BytesPerRow is the stride between rows (block rows for compressed
	// formats) in the staging ring.
	BytesPerRow uint32

	// RowsPerImage is the number of rows per image layer.
	RowsPerImage uint32

	// Origin is the texel origin of the copy in the texture.
	Origin gputypes.Origin3D

	// Size is the extent of the copy region in texels.
	Size gputypes.Extent3D

	// MipLevel is the mip level to copy.
	MipLevel uint32

	// ArrayLayer is the array layer to copy.
	ArrayLayer uint32
}

// CopyCommand is one submission to the backend: a copy between the
// staging ring and a device resource.
type CopyCommand struct {
	Kind CopyKind

	// Staging is the ring buffer: copy source for uploads, destination
	// for downloads.
	Staging HostBuffer

	// Target is the device resource on the other side of the copy.
	Target any

	// Buffer describes buffer copies (CopyBufferUpload/Download).
	Buffer *BufferCopy

	// Texture describes texture copies (CopyTextureUpload/Download).
	Texture *TextureCopy
}
