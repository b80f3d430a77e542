// Package gifenc encodes frame lists into animated GIFs on a pool of
// goroutines.
package gifenc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"math"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/ericpauley/go-quantize/quantize"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"
)

// Options configures one encode.
type Options struct {
	Width  int
	Height int
	// Delay between frames in milliseconds.
	Delay int
	// Workers is the number of frames quantized concurrently.
	Workers int
	// Quality is the pixel sampling interval used to build each frame's
	// palette: 1 samples every pixel, larger values are faster and coarser.
	Quality int
	// Transparent reserves a palette slot for fully transparent pixels.
	Transparent bool
}

// Encoder turns frames into an encoded GIF. progress receives the completed
// fraction in [0, 1]; it may be nil.
type Encoder interface {
	Encode(ctx context.Context, frames []image.Image, opts Options, progress func(float64)) ([]byte, error)
}

// Centiseconds converts a frame delay in milliseconds to the GIF unit,
// rounding to the nearest and never below 1.
func Centiseconds(ms int) int {
	return max(1, int(math.Round(float64(ms)/10)))
}

// Pool is the default Encoder.
type Pool struct {
	logger *log.Logger
}

func NewPool(logger *log.Logger) *Pool {
	if logger == nil {
		logger = log.Default()
	}
	return &Pool{logger: logger.WithPrefix("gifenc")}
}

func (p *Pool) Encode(ctx context.Context, frames []image.Image, opts Options, progress func(float64)) ([]byte, error) {
	if len(frames) == 0 {
		return nil, errors.New("no frames to encode")
	}
	if progress == nil {
		progress = func(float64) {}
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}
	p.logger.Info("making a gif", "frames", len(frames), "workers", workers)

	var (
		paletted = make([]*image.Paletted, len(frames))
		delay    = make([]int, len(frames))
		disposal = make([]byte, len(frames))

		mu   sync.Mutex
		done int
		// The final write counts as one more step so 1.0 means finished.
		steps = float64(len(frames) + 1)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, frame := range frames {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			start := time.Now()
			paletted[i] = renderFrame(frame, opts)
			delay[i] = Centiseconds(opts.Delay)
			disposal[i] = gif.DisposalNone
			if opts.Transparent {
				disposal[i] = gif.DisposalBackground
			}
			p.logger.Debug("rendered frame", "index", i, "duration", time.Since(start))

			mu.Lock()
			done++
			progress(float64(done) / steps)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	err := gif.EncodeAll(&buf, &gif.GIF{
		Image:     paletted,
		Delay:     delay,
		Disposal:  disposal,
		LoopCount: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("write gif: %w", err)
	}
	progress(1)
	return buf.Bytes(), nil
}

// renderFrame quantizes img to a median-cut palette and dithers it onto a
// frame of the output size.
func renderFrame(img image.Image, opts Options) *image.Paletted {
	bounds := image.Rect(0, 0, opts.Width, opts.Height)
	numColors := 256
	if opts.Transparent {
		numColors--
	}
	q := quantize.MedianCutQuantizer{}
	palette := q.Quantize(make(color.Palette, 0, numColors), paletteSample(img, opts.Quality))
	if len(palette) == 0 {
		palette = append(palette, color.Black)
	}
	if opts.Transparent {
		palette = append(palette, color.Transparent)
	}

	pimg := image.NewPaletted(bounds, palette)
	xdraw.FloydSteinberg.Draw(pimg, bounds, img, img.Bounds().Min)
	return pimg
}

// paletteSample shrinks img so roughly one pixel in quality is looked at
// when building the palette.
func paletteSample(img image.Image, quality int) image.Image {
	step := int(math.Sqrt(float64(quality)))
	if step <= 1 {
		return img
	}
	b := img.Bounds()
	w, h := max(1, b.Dx()/step), max(1, b.Dy()/step)
	sample := image.NewNRGBA(image.Rect(0, 0, w, h))
	xdraw.NearestNeighbor.Scale(sample, sample.Bounds(), img, b, xdraw.Src, nil)
	return sample
}
