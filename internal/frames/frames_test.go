package frames

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct{ lines []string }

func (s *recordingSink) SetStatus(text string) { s.lines = append(s.lines, text) }

func gradient(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: uint8(x + y), A: 255})
		}
	}
	return img
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		w, h     int
		want     Dimensions
		resample bool
	}{
		{"already even", 100, 100, Dimensions{100, 100}, false},
		{"odd sides trimmed", 101, 99, Dimensions{100, 98}, false},
		{"landscape over the limit", 3000, 2000, Dimensions{1620, 1080}, true},
		{"panorama bound by width", 4000, 1000, Dimensions{1920, 480}, true},
		{"portrait bound by height", 1000, 3000, Dimensions{360, 1080}, true},
		{"exact maximum", 1920, 1080, Dimensions{1920, 1080}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _, resample := Normalize(tt.w, tt.h)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.resample, resample)
		})
	}
}

func TestNormalizeInvariants(t *testing.T) {
	r := rand.New(rand.NewPCG(7, 7))
	for i := 0; i < 500; i++ {
		w, h := r.IntN(8000)+2, r.IntN(8000)+2
		d, _, _ := Normalize(w, h)
		assert.Zero(t, d.Width%2, "%dx%d", w, h)
		assert.Zero(t, d.Height%2, "%dx%d", w, h)
		assert.LessOrEqual(t, d.Width, MaxWidth)
		assert.LessOrEqual(t, d.Height, MaxHeight)
	}
}

func TestFragmentStaysInBounds(t *testing.T) {
	for seed := uint64(0); seed < 50; seed++ {
		r := rand.New(rand.NewPCG(seed, seed^0x9e37))
		for i := 0; i < 200; i++ {
			w, h := r.IntN(300)+1, r.IntN(300)+1
			f := NewFragment(r, w, h)
			bounds := image.Rect(0, 0, w, h)

			require.False(t, f.Crop.Empty())
			require.True(t, f.Crop.In(bounds), "crop %v outside %v", f.Crop, bounds)
			pasted := image.Rectangle{Min: f.Paste, Max: f.Paste.Add(f.Crop.Size())}
			require.True(t, pasted.In(bounds), "paste %v outside %v", pasted, bounds)
		}
	}
}

func TestGenerate(t *testing.T) {
	ctx := context.Background()

	t.Run("sequence holds count plus one frames", func(t *testing.T) {
		for _, count := range []int{0, 1, 5} {
			sink := &recordingSink{}
			g := NewGenerator(rand.NewPCG(1, 2), sink, nil)

			seq, err := g.Generate(ctx, gradient(100, 100), count, false)
			require.NoError(t, err)
			assert.Equal(t, count+1, seq.Len())
			assert.Equal(t, Dimensions{100, 100}, seq.Dims)
			assert.NotEmpty(t, seq.ID)
			assert.Equal(t, "Preparing image...", sink.lines[0])
			if count > 0 {
				assert.Equal(t, fmt.Sprintf("Generating frame %d of %d...", count, count), sink.lines[len(sink.lines)-1])
			}
		}
	})

	t.Run("odd source is trimmed to even", func(t *testing.T) {
		g := NewGenerator(rand.NewPCG(3, 4), nil, nil)
		seq, err := g.Generate(ctx, gradient(33, 21), 2, true)
		require.NoError(t, err)

		assert.Equal(t, Dimensions{32, 20}, seq.Dims)
		img, err := seq.Decode(2)
		require.NoError(t, err)
		assert.Equal(t, image.Rect(0, 0, 32, 20), img.Bounds())
		assert.Equal(t, ".png", seq.Ext())
	})

	t.Run("base frame is the source", func(t *testing.T) {
		src := gradient(10, 10)
		g := NewGenerator(rand.NewPCG(5, 6), nil, nil)
		seq, err := g.Generate(ctx, src, 3, true)
		require.NoError(t, err)

		base, err := seq.Decode(0)
		require.NoError(t, err)
		assert.Equal(t, src.Pix, base.Pix)
	})

	t.Run("same seed same frames", func(t *testing.T) {
		a, err := NewGenerator(rand.NewPCG(9, 9), nil, nil).Generate(ctx, gradient(40, 30), 4, true)
		require.NoError(t, err)
		b, err := NewGenerator(rand.NewPCG(9, 9), nil, nil).Generate(ctx, gradient(40, 30), 4, true)
		require.NoError(t, err)
		for i := 0; i < a.Len(); i++ {
			assert.Equal(t, a.Encoded(i), b.Encoded(i))
		}
	})

	t.Run("tiny image", func(t *testing.T) {
		_, err := NewGenerator(rand.NewPCG(1, 1), nil, nil).Generate(ctx, gradient(1, 5), 2, false)
		assert.ErrorIs(t, err, ErrTooSmall)
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := NewGenerator(rand.NewPCG(1, 1), nil, nil).Generate(cctx, gradient(10, 10), 3, false)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestExportIndices(t *testing.T) {
	frames := make([][]byte, 6)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, NewSequence("a", Dimensions{2, 2}, false, frames).ExportIndices())
	assert.Equal(t, []int{1, 2, 3, 4, 5}, NewSequence("b", Dimensions{2, 2}, true, frames).ExportIndices())
}

func TestPlayOrder(t *testing.T) {
	assert.Equal(t, []int{0, 1, 2, 3}, PlayOrder(Indices(4), false))
	assert.Equal(t, []int{0, 1, 2, 3, 2, 1}, PlayOrder(Indices(4), true))
	assert.Equal(t, []int{0, 1}, PlayOrder(Indices(2), true))
	assert.Equal(t, []int{1, 2, 3, 2}, PlayOrder([]int{1, 2, 3}, true))

	for n := 3; n < 40; n++ {
		order := PlayOrder(Indices(n), true)
		require.Len(t, order, 2*n-2)
		for i := range order {
			next := order[(i+1)%len(order)]
			assert.NotEqual(t, order[i], next, "n=%d position %d repeats a frame", n, i)
		}
	}
}
