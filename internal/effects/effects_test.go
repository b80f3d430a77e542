package effects

import (
	"image"
	"image/color"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
)

func noise(w, h int, seed uint64) *image.NRGBA {
	r := rand.New(rand.NewPCG(seed, seed))
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = uint8(r.IntN(256))
	}
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 255
	}
	return img
}

func clone(img *image.NRGBA) *image.NRGBA {
	out := image.NewNRGBA(img.Rect)
	copy(out.Pix, img.Pix)
	return out
}

func TestApplyZeroSettingsIsNoop(t *testing.T) {
	img := noise(17, 9, 1)
	img.Pix[3] = 12 // some translucency must survive as well
	want := clone(img)

	Apply(img, Settings{})
	Apply(img, Settings{SeamlessLoop: true, TransparentBackground: true})

	assert.Equal(t, want.Pix, img.Pix)
	assert.False(t, Settings{SeamlessLoop: true}.Active())
}

func TestPixelGrid(t *testing.T) {
	tests := []struct {
		name          string
		w, h, level   int
		wantX, wantY int
	}{
		{"level zero keeps resolution", 100, 50, 0, 100, 50},
		{"max level reaches five columns", 100, 50, 100, 5, 3},
		{"half way", 100, 100, 50, 53, 53},
		{"over the top is capped", 100, 50, 250, 5, 3},
		{"tiny image never exceeds its own size", 3, 3, 100, 3, 3},
		{"very wide keeps at least one row", 1000, 2, 100, 5, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x, y := PixelGrid(tt.w, tt.h, tt.level)
			assert.Equal(t, tt.wantX, x)
			assert.Equal(t, tt.wantY, y)
		})
	}
}

func TestPixelateProducesBlocks(t *testing.T) {
	img := noise(40, 40, 2)
	Apply(img, Settings{Pixelate: 100})

	// 40 columns collapse into 5, so each 8x8 block is a single colour.
	for by := 0; by < 40; by += 8 {
		for bx := 0; bx < 40; bx += 8 {
			c := img.NRGBAAt(bx, by)
			for y := by; y < by+8; y++ {
				for x := bx; x < bx+8; x++ {
					assert.Equal(t, c, img.NRGBAAt(x, y))
				}
			}
		}
	}
}

func TestReapplyingIsStable(t *testing.T) {
	settings := []Settings{
		{Pixelate: 30},
		{Pixelate: 77, Grayscale: true},
		{Grayscale: true},
		{Pixelate: 100, Grayscale: true, SeamlessLoop: true},
	}
	for _, s := range settings {
		img := noise(31, 23, 3)
		Apply(img, s)
		once := clone(img)
		Apply(img, s)
		assert.Equal(t, once.Pix, img.Pix, "%+v", s)
	}
}

func TestInvertIsAnInvolution(t *testing.T) {
	img := noise(8, 8, 4)
	want := clone(img)

	Apply(img, Settings{Invert: true})
	assert.NotEqual(t, want.Pix, img.Pix)
	Apply(img, Settings{Invert: true})
	assert.Equal(t, want.Pix, img.Pix)
}

func TestEdgeDetect(t *testing.T) {
	t.Run("flat colour has no edges", func(t *testing.T) {
		img := image.NewNRGBA(image.Rect(0, 0, 6, 5))
		for i := 0; i < len(img.Pix); i += 4 {
			copy(img.Pix[i:], []uint8{90, 120, 200, 100})
		}
		Apply(img, Settings{EdgeDetect: true})

		for y := 1; y < 4; y++ {
			for x := 1; x < 5; x++ {
				assert.Equal(t, color.NRGBA{A: 255}, img.NRGBAAt(x, y))
			}
		}
		// Border pixels are left untouched.
		assert.Equal(t, color.NRGBA{R: 90, G: 120, B: 200, A: 100}, img.NRGBAAt(0, 0))
		assert.Equal(t, color.NRGBA{R: 90, G: 120, B: 200, A: 100}, img.NRGBAAt(5, 2))
	})

	t.Run("single bright pixel", func(t *testing.T) {
		img := image.NewNRGBA(image.Rect(0, 0, 5, 5))
		for i := 3; i < len(img.Pix); i += 4 {
			img.Pix[i] = 255
		}
		img.SetNRGBA(2, 2, color.NRGBA{R: 20, G: 20, B: 20, A: 255})
		Apply(img, Settings{EdgeDetect: true})

		assert.Equal(t, color.NRGBA{R: 160, G: 160, B: 160, A: 255}, img.NRGBAAt(2, 2))
		// Neighbours see -20 which saturates at zero.
		assert.Equal(t, color.NRGBA{A: 255}, img.NRGBAAt(1, 1))
	})

	t.Run("not idempotent", func(t *testing.T) {
		img := noise(12, 12, 5)
		Apply(img, Settings{EdgeDetect: true})
		once := clone(img)
		Apply(img, Settings{EdgeDetect: true})
		assert.NotEqual(t, once.Pix, img.Pix)
	})
}

func TestColorFilters(t *testing.T) {
	tests := []struct {
		name string
		in   color.NRGBA
		s    Settings
		want color.NRGBA
	}{
		{"grayscale averages", color.NRGBA{R: 10, G: 20, B: 60, A: 255}, Settings{Grayscale: true}, color.NRGBA{R: 30, G: 30, B: 30, A: 255}},
		{"sepia saturates white", color.NRGBA{R: 255, G: 255, B: 255, A: 255}, Settings{Sepia: true}, color.NRGBA{R: 255, G: 255, B: 239, A: 255}},
		{"invert", color.NRGBA{R: 0, G: 100, B: 255, A: 40}, Settings{Invert: true}, color.NRGBA{R: 255, G: 155, B: 0, A: 40}},
		{"grayscale then invert", color.NRGBA{R: 10, G: 20, B: 60, A: 255}, Settings{Grayscale: true, Invert: true}, color.NRGBA{R: 225, G: 225, B: 225, A: 255}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
			for y := 0; y < 2; y++ {
				for x := 0; x < 2; x++ {
					img.SetNRGBA(x, y, tt.in)
				}
			}
			Apply(img, tt.s)
			assert.Equal(t, tt.want, img.NRGBAAt(1, 1))
		})
	}
}
