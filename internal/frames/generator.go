// Package frames turns a still image into a sequence of fragmented frames.
package frames

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"math/rand/v2"

	"github.com/charmbracelet/log"
	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"github.com/campbel/fragment/internal/raster"
)

var ErrTooSmall = errors.New("image must be at least 2x2 pixels")

// StatusSink receives human readable progress text.
type StatusSink interface {
	SetStatus(text string)
}

// Fragment is one crop-and-paste step.
type Fragment struct {
	Crop  image.Rectangle
	Paste image.Point
}

// NewFragment picks a random crop inside a width x height raster and a
// random paste position that keeps the crop fully on the raster.
func NewFragment(r *rand.Rand, width, height int) Fragment {
	cw := r.IntN(width) + 1
	ch := r.IntN(height) + 1
	left := r.IntN(width - cw + 1)
	top := r.IntN(height - ch + 1)
	// Never read past the raster, whatever the draws above produced.
	cw = min(cw, width-left)
	ch = min(ch, height-top)

	return Fragment{
		Crop:  image.Rect(left, top, left+cw, top+ch),
		Paste: image.Pt(r.IntN(width-cw+1), r.IntN(height-ch+1)),
	}
}

// Generator produces fragmented frame sequences.
type Generator struct {
	rand   *rand.Rand
	sink   StatusSink
	logger *log.Logger
}

// NewGenerator returns a generator drawing from src. A nil sink discards
// status text.
func NewGenerator(src rand.Source, sink StatusSink, logger *log.Logger) *Generator {
	if logger == nil {
		logger = log.Default()
	}
	return &Generator{
		rand:   rand.New(src),
		sink:   sink,
		logger: logger.WithPrefix("frames"),
	}
}

func (g *Generator) status(format string, args ...any) {
	if g.sink != nil {
		g.sink.SetStatus(fmt.Sprintf(format, args...))
	}
}

// Generate builds count fragmented frames on top of the base image, so the
// sequence holds count+1 frames. Snapshots are JPEG, or PNG when transparent
// is set so the alpha channel survives.
func (g *Generator) Generate(ctx context.Context, src image.Image, count int, transparent bool) (*Sequence, error) {
	if count < 0 {
		return nil, fmt.Errorf("frame count must not be negative, got %d", count)
	}
	g.status("Preparing image...")

	b := src.Bounds()
	dims, scaled, resample := Normalize(b.Dx(), b.Dy())
	if dims.Width < 2 || dims.Height < 2 {
		return nil, ErrTooSmall
	}
	if resample {
		g.status("Image is large, scaling for compatibility...")
		src = imaging.Resize(src, scaled.Width, scaled.Height, imaging.Lanczos)
		b = src.Bounds()
	}
	g.logger.Debug("generating frames", "count", count, "width", dims.Width, "height", dims.Height, "transparent", transparent)

	canvas := raster.New(dims.Width, dims.Height)
	draw.Draw(canvas, canvas.Bounds(), src, b.Min, draw.Src)

	snapshots := make([][]byte, 0, count+1)
	snap := func() error {
		var buf bytes.Buffer
		if err := raster.Encode(&buf, canvas, transparent); err != nil {
			return fmt.Errorf("snapshot frame %d: %w", len(snapshots), err)
		}
		snapshots = append(snapshots, buf.Bytes())
		return nil
	}
	if err := snap(); err != nil {
		return nil, err
	}

	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f := NewFragment(g.rand, dims.Width, dims.Height)
		piece := imaging.Crop(canvas, f.Crop)
		draw.Draw(canvas, piece.Bounds().Add(f.Paste), piece, image.Point{}, draw.Over)
		if err := snap(); err != nil {
			return nil, err
		}
		g.status("Generating frame %d of %d...", i+1, count)
	}

	return NewSequence(uuid.NewString(), dims, transparent, snapshots), nil
}
