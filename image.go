package staging

import (
	"image"

	"golang.org/x/image/draw"

	"github.com/gogpu/gputypes"
)

// WriteTextureImage uploads img to mip level and array layer of dst,
// converting to tightly packed 8-bit RGBA rows first. Images that are
// already *image.NRGBA with a tight stride upload without conversion.
//
// Like WriteTexture, the call returns at submission.
func (d *Device) WriteTextureImage(dst any, mipLevel, arrayLayer uint32, img image.Image) error {
	if err := d.usable(); err != nil {
		return err
	}
	if img == nil {
		return ErrSizeZero
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return ErrRegionEmpty
	}

	pix := rgbaPixels(img, b, w, h)
	region := TextureRegion{
		Size:       gputypes.Extent3D{Width: uint32(w), Height: uint32(h), DepthOrArrayLayers: 1},
		MipLevel:   mipLevel,
		ArrayLayer: arrayLayer,
		Format:     FormatRGBA8,
	}
	return d.WriteTexture(dst, region, 0, pix)
}

// rgbaPixels returns img's pixels as tight top-down RGBA rows, converting
// through x/image/draw when the source is not already in that layout.
func rgbaPixels(img image.Image, b image.Rectangle, w, h int) []byte {
	if n, ok := img.(*image.NRGBA); ok && n.Stride == w*4 && b == n.Rect {
		return n.Pix
	}
	tmp := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.Copy(tmp, image.Point{}, img, b, draw.Src, nil)
	return tmp.Pix
}
