// Package effects implements the post-processing applied to every frame
// before it is previewed or exported.
package effects

import (
	"image"
	"math"

	"github.com/anthonynsimon/bild/convolution"
	"github.com/anthonynsimon/bild/parallel"
	xdraw "golang.org/x/image/draw"
)

const (
	// MaxPixelate is the top of the pixelate slider.
	MaxPixelate = 100
	// minPixels is the horizontal resolution reached at MaxPixelate.
	minPixels = 5
)

// Settings is one combination of effect toggles. The zero value applies
// nothing. Settings is comparable and is used as part of the render cache key.
type Settings struct {
	SeamlessLoop          bool
	Invert                bool
	Grayscale             bool
	Sepia                 bool
	EdgeDetect            bool
	Pixelate              int
	TransparentBackground bool
}

// Active reports whether Apply would touch any pixel.
func (s Settings) Active() bool {
	return s.Pixelate > 0 || s.EdgeDetect || s.colorFilters()
}

func (s Settings) colorFilters() bool {
	return s.Grayscale || s.Sepia || s.Invert
}

// Apply runs the enabled effects over img in place: pixelation first, then
// edge detection, then grayscale, sepia and invert in that order.
func Apply(img *image.NRGBA, s Settings) {
	if s.Pixelate > 0 {
		pixelate(img, s.Pixelate)
	}
	if !s.EdgeDetect && !s.colorFilters() {
		return
	}
	if s.EdgeDetect {
		detectEdges(img)
	}
	if s.colorFilters() {
		filterColors(img, s)
	}
}

// PixelGrid returns the reduced resolution used for a pixelate level.
func PixelGrid(width, height, level int) (int, int) {
	if level > MaxPixelate {
		level = MaxPixelate
	}
	x := int(math.Round(float64(width) - float64(level)/MaxPixelate*float64(width-minPixels)))
	x = min(max(x, 1), width)
	y := int(math.Round(float64(x*height) / float64(width)))
	y = min(max(y, 1), height)
	return x, y
}

// pixelate shrinks the surface to the pixel grid and blows it back up
// without smoothing. Both passes sample with nearest neighbour, which keeps
// the operation idempotent.
func pixelate(img *image.NRGBA, level int) {
	b := img.Bounds()
	if b.Empty() {
		return
	}
	px, py := PixelGrid(b.Dx(), b.Dy(), level)
	small := image.NewNRGBA(image.Rect(0, 0, px, py))
	xdraw.NearestNeighbor.Scale(small, small.Bounds(), img, b, xdraw.Src, nil)
	xdraw.NearestNeighbor.Scale(img, b, small, small.Bounds(), xdraw.Src, nil)
}

var laplacian = func() *convolution.Kernel {
	k := convolution.NewKernel(3, 3)
	copy(k.Matrix, []float64{
		-1, -1, -1,
		-1, 8, -1,
		-1, -1, -1,
	})
	return k
}()

// detectEdges convolves each colour channel with a Laplacian kernel. The
// outermost rows and columns are left as they were; every interior pixel
// ends up fully opaque.
func detectEdges(img *image.NRGBA) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w < 3 || h < 3 {
		return
	}

	// The kernel runs on the raw straight-alpha bytes, so hand bild a view
	// that shares the pixel buffer instead of converting to premultiplied.
	view := &image.RGBA{Pix: img.Pix, Stride: img.Stride, Rect: image.Rect(0, 0, w, h)}
	out := convolution.Convolve(view, laplacian, &convolution.Options{KeepAlpha: true})

	for y := 1; y < h-1; y++ {
		src := out.Pix[y*out.Stride+4 : y*out.Stride+(w-1)*4]
		dst := img.Pix[y*img.Stride+4 : y*img.Stride+(w-1)*4]
		copy(dst, src)
		for i := 3; i < len(dst); i += 4 {
			dst[i] = 0xff
		}
	}
}

func filterColors(img *image.NRGBA, s Settings) {
	b := img.Bounds()
	w := b.Dx()
	parallel.Line(b.Dy(), func(start, end int) {
		for y := start; y < end; y++ {
			row := img.Pix[y*img.Stride : y*img.Stride+w*4]
			for i := 0; i < len(row); i += 4 {
				r, g, bl := float64(row[i]), float64(row[i+1]), float64(row[i+2])
				if s.Grayscale {
					avg := clamp((r + g + bl) / 3)
					r, g, bl = avg, avg, avg
				}
				if s.Sepia {
					r, g, bl = clamp(0.393*r+0.769*g+0.189*bl),
						clamp(0.349*r+0.686*g+0.168*bl),
						clamp(0.272*r+0.534*g+0.131*bl)
				}
				if s.Invert {
					r, g, bl = 255-r, 255-g, 255-bl
				}
				row[i], row[i+1], row[i+2] = uint8(r), uint8(g), uint8(bl)
			}
		}
	})
}

// clamp rounds to the nearest representable channel value, ties to even,
// and saturates at 255.
func clamp(v float64) float64 {
	return math.Min(255, math.Max(0, math.RoundToEven(v)))
}
