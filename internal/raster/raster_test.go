package raster

import (
	"bytes"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func TestDecode(t *testing.T) {
	t.Run("png is accepted", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, png.Encode(&buf, solid(4, 3, color.NRGBA{R: 10, A: 255})))

		img, err := Decode(&buf)
		require.NoError(t, err)
		assert.Equal(t, image.Rect(0, 0, 4, 3), img.Bounds())
	})

	t.Run("gif is rejected", func(t *testing.T) {
		var buf bytes.Buffer
		pal := image.NewPaletted(image.Rect(0, 0, 2, 2), color.Palette{color.Black, color.White})
		require.NoError(t, gif.Encode(&buf, pal, nil))

		_, err := Decode(&buf)
		assert.ErrorIs(t, err, ErrUnsupportedType)
	})

	t.Run("text is rejected", func(t *testing.T) {
		_, err := Decode(strings.NewReader("definitely not an image"))
		assert.ErrorIs(t, err, ErrUnsupportedType)
	})
}

func TestDrawStretchesSource(t *testing.T) {
	dst := New(8, 8)
	Draw(dst, solid(2, 2, color.NRGBA{R: 200, G: 100, B: 50, A: 255}))

	for _, p := range []image.Point{{0, 0}, {7, 7}, {3, 5}} {
		assert.Equal(t, color.NRGBA{R: 200, G: 100, B: 50, A: 255}, dst.NRGBAAt(p.X, p.Y))
	}
}

func TestSnapshotLossless(t *testing.T) {
	src := solid(5, 5, color.NRGBA{R: 1, G: 2, B: 3, A: 128})

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, src, true))
	got, err := DecodeSnapshot(buf.Bytes())
	require.NoError(t, err)

	assert.Equal(t, src.Pix, got.Pix)
	assert.Equal(t, ".png", Ext(true))
	assert.Equal(t, "image/jpeg", MIMEType(false))
}

func TestRotate(t *testing.T) {
	src := solid(40, 20, color.NRGBA{R: 9, A: 255})

	same := Rotate(src, 360)
	assert.Equal(t, src.Pix, same.Pix)

	quarter := Rotate(src, 90)
	b := quarter.Bounds()
	assert.InDelta(t, 20, b.Dx(), 1)
	assert.InDelta(t, 40, b.Dy(), 1)
	c := quarter.NRGBAAt(b.Dx()/2, b.Dy()/2)
	assert.Equal(t, uint8(9), c.R)
	assert.Equal(t, uint8(255), c.A)
}
