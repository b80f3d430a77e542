// Package raster holds the pixel surface every frame is drawn on and the
// codecs used to snapshot it.
//
// Surfaces are *image.NRGBA: channels are stored without alpha
// premultiplication, so pixel filters see the same values a canvas
// getImageData call would.
package raster

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"io"
	"math"
	"net/http"

	"github.com/anthonynsimon/bild/transform"
	"github.com/disintegration/imaging"
)

// JPEGQuality is used for every lossy snapshot.
const JPEGQuality = 90

var ErrUnsupportedType = errors.New("unsupported file type")

// New returns a fully transparent surface of the given size.
func New(width, height int) *image.NRGBA {
	return imaging.New(width, height, color.Transparent)
}

// Clear resets every pixel of the surface to transparent black.
func Clear(dst *image.NRGBA) {
	for i := range dst.Pix {
		dst.Pix[i] = 0
	}
}

// Draw clears dst and draws src stretched over its full bounds.
func Draw(dst *image.NRGBA, src image.Image) {
	Clear(dst)
	db, sb := dst.Bounds(), src.Bounds()
	if db.Dx() != sb.Dx() || db.Dy() != sb.Dy() {
		src = imaging.Resize(src, db.Dx(), db.Dy(), imaging.Linear)
		sb = src.Bounds()
	}
	draw.Draw(dst, db, src, sb.Min, draw.Src)
}

// Clone returns an independent copy of img.
func Clone(img image.Image) *image.NRGBA {
	return imaging.Clone(img)
}

// Encode writes img as PNG when lossless is set, JPEG otherwise.
func Encode(w io.Writer, img image.Image, lossless bool) error {
	if lossless {
		return imaging.Encode(w, img, imaging.PNG)
	}
	return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(JPEGQuality))
}

// Ext is the file extension matching Encode.
func Ext(lossless bool) string {
	if lossless {
		return ".png"
	}
	return ".jpg"
}

// MIMEType is the media type matching Encode.
func MIMEType(lossless bool) string {
	if lossless {
		return "image/png"
	}
	return "image/jpeg"
}

// Decode reads a PNG or JPEG source image, applying its EXIF orientation.
// Anything else is rejected with ErrUnsupportedType.
func Decode(r io.Reader) (image.Image, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	switch http.DetectContentType(data) {
	case "image/png", "image/jpeg":
	default:
		return nil, ErrUnsupportedType
	}
	return imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
}

// Rotate turns img clockwise by degrees about its centre. The result is
// sized to hold the whole rotated image; uncovered corners are transparent.
func Rotate(img image.Image, degrees float64) *image.NRGBA {
	if math.Mod(degrees, 360) == 0 {
		return imaging.Clone(img)
	}
	return imaging.Clone(transform.Rotate(img, degrees, &transform.RotationOptions{ResizeBounds: true}))
}

// DecodeSnapshot decodes a frame previously written by Encode.
func DecodeSnapshot(data []byte) (*image.NRGBA, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return imaging.Clone(img), nil
}
