package staging

import "fmt"

// Format identifies the pixel layout of texture transfer data. The engine
// uses it only for size and alignment math: row pitch, block rounding, and
// the minimum transfer alignment a format imposes on its staging region.
type Format uint8

const (
	// FormatRGBA8 is 8-bit-per-channel RGBA.
	FormatRGBA8 Format = iota

	// FormatBGRA8 is 8-bit-per-channel BGRA, common for surface targets.
	FormatBGRA8

	// FormatR8 is single-channel 8-bit, used for masks and coverage.
	FormatR8

	// FormatRGBA32F is 32-bit float RGBA.
	FormatRGBA32F

	// FormatBC7 is BC7 block compression: 4x4 texel blocks, 16 bytes per
	// block. Transfers are rounded to whole blocks.
	FormatBC7
)

// String returns a human-readable name for the format.
func (f Format) String() string {
	switch f {
	case FormatRGBA8:
		return "RGBA8"
	case FormatBGRA8:
		return "BGRA8"
	case FormatR8:
		return "R8"
	case FormatRGBA32F:
		return "RGBA32F"
	case FormatBC7:
		return "BC7"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(f))
	}
}

// BlockDim returns the block footprint in texels. Uncompressed formats are
// 1x1.
func (f Format) BlockDim() (w, h uint32) {
	if f == FormatBC7 {
		return 4, 4
	}
	return 1, 1
}

// BytesPerBlock returns the byte size of one block (one texel for
// uncompressed formats).
func (f Format) BytesPerBlock() uint32 {
	switch f {
	case FormatRGBA8, FormatBGRA8:
		return 4
	case FormatR8:
		return 1
	case FormatRGBA32F:
		return 16
	case FormatBC7:
		return 16
	default:
		return 4
	}
}

// RowBytes returns the tight pitch of one block row spanning width texels.
func (f Format) RowBytes(width uint32) uint32 {
	bw, _ := f.BlockDim()
	return (width + bw - 1) / bw * f.BytesPerBlock()
}

// RowCount returns the number of block rows covering height texels.
func (f Format) RowCount(height uint32) uint32 {
	_, bh := f.BlockDim()
	return (height + bh - 1) / bh
}

// TransferAlignment returns the region alignment this format requires,
// never below MinAlignment. Block-compressed formats align to their block
// size so a staged region always holds whole blocks.
func (f Format) TransferAlignment() uint64 {
	if n := uint64(f.BytesPerBlock()); n > MinAlignment {
		return n
	}
	return MinAlignment
}
