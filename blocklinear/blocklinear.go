// Package blocklinear implements the block-linear surface layout used by the
// guest GPU's fixed-function engines.
//
// A block-linear surface is divided into GOBs ("groups of bytes") that are
// 64 bytes wide and a power-of-two number of rows tall. GOBs are stored
// block-major: walking the surface visits a full row of GOBs, then, inside
// each GOB, one row of the surface at a time, then the bytes of that row.
// Pixel data is therefore contiguous within a GOB row but strided across
// GOB boundaries.
package blocklinear

// GobWidth is the width of one GOB in bytes.
const GobWidth = 64

// A Surface describes the geometry of one block-linear surface. BlockHeight
// is the GOB height in rows and must be a power of two.
type Surface struct {
	WidthPixels   uint32
	BytesPerPixel uint32
	BlockHeight   uint32
}

// A Subrect selects a rectangle of pixels positioned at (OriginX, OriginY)
// within a surface.
type Subrect struct {
	Width   uint32
	Height  uint32
	OriginX uint32
	OriginY uint32
}

func (s Surface) rowBytes() uint64 {
	return uint64(s.WidthPixels) * uint64(s.BytesPerPixel)
}

func (s Surface) gobsPerRow() uint64 {
	return (s.rowBytes() + GobWidth - 1) / GobWidth
}

func (s Surface) gobBytes() uint64 {
	return GobWidth * uint64(s.BlockHeight)
}

// ByteOffset returns the position of byte xB of row y in the tiled byte
// stream.
func (s Surface) ByteOffset(xB uint64, y uint32) uint64 {
	gobRow := uint64(y) / uint64(s.BlockHeight)
	rowInGob := uint64(y) % uint64(s.BlockHeight)
	gobCol := xB / GobWidth

	gobIndex := gobRow*s.gobsPerRow() + gobCol

	return gobIndex*s.gobBytes() + rowInGob*GobWidth + xB%GobWidth
}

// PixelOffset returns the position of the first byte of pixel (x, y) in the
// tiled byte stream.
func (s Surface) PixelOffset(x, y uint32) uint64 {
	return s.ByteOffset(uint64(x)*uint64(s.BytesPerPixel), y)
}

// SizeBytes returns the padded size of the tiled byte stream for a surface
// of the given height. The surface is padded to whole GOBs in both
// dimensions.
func (s Surface) SizeBytes(height uint32) uint64 {
	gobRows := (uint64(height) + uint64(s.BlockHeight) - 1) /
		uint64(s.BlockHeight)
	return gobRows * s.gobsPerRow() * s.gobBytes()
}

// DeswizzleSubrect copies the pixels of sr, addressed block-linearly within
// the tiled surface, into dst in row-major order with the given byte pitch.
// src must cover the tiled surface up to the last addressed byte and dst
// must cover sr.Height rows of dstPitch bytes. Bytes of dst outside the
// subrect are left untouched.
func DeswizzleSubrect(sr Subrect, tiled Surface, src, dst []byte, dstPitch uint32) {
	bpp := uint64(tiled.BytesPerPixel)

	for y := uint32(0); y < sr.Height; y++ {
		dstRow := uint64(y) * uint64(dstPitch)

		for x := uint32(0); x < sr.Width; x++ {
			srcOff := tiled.PixelOffset(x+sr.OriginX, y+sr.OriginY)
			dstOff := dstRow + uint64(x)*bpp
			copy(dst[dstOff:dstOff+bpp], src[srcOff:srcOff+bpp])
		}
	}
}

// SwizzleSubrect is the inverse of DeswizzleSubrect: it reads the pixels of
// sr from a row-major src with the given byte pitch and writes them to their
// block-linear positions within the tiled surface held in dst.
func SwizzleSubrect(sr Subrect, tiled Surface, src, dst []byte, srcPitch uint32) {
	bpp := uint64(tiled.BytesPerPixel)

	for y := uint32(0); y < sr.Height; y++ {
		srcRow := uint64(y) * uint64(srcPitch)

		for x := uint32(0); x < sr.Width; x++ {
			srcOff := srcRow + uint64(x)*bpp
			dstOff := tiled.PixelOffset(x+sr.OriginX, y+sr.OriginY)
			copy(dst[dstOff:dstOff+bpp], src[srcOff:srcOff+bpp])
		}
	}
}
