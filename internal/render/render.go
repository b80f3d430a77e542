// Package render builds the final GIF for a frame sequence with the current
// effects applied, keeping the last result cached.
package render

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/campbel/fragment/internal/effects"
	"github.com/campbel/fragment/internal/frames"
	"github.com/campbel/fragment/internal/gifenc"
	"github.com/campbel/fragment/internal/raster"
	"github.com/campbel/fragment/internal/status"
)

const (
	Workers = 4
	Quality = 10
)

var (
	ErrNoFrames  = errors.New("no frames to render")
	ErrCancelled = errors.New("render cancelled")
)

// State tracks the pipeline's one encoding slot.
type State int

const (
	Idle State = iota
	Encoding
	Cached
	Cancelled
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Encoding:
		return "encoding"
	case Cached:
		return "cached"
	case Cancelled:
		return "cancelled"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Artifact is an encoded GIF.
type Artifact struct {
	Data   []byte
	Delay  int
	Frames int
}

type cacheKey struct {
	sequence string
	settings effects.Settings
	delay    int
}

// Pipeline renders GIFs. At most one encode runs at a time: starting a new
// render aborts the previous one.
type Pipeline struct {
	encoder gifenc.Encoder
	board   *status.Board
	logger  *log.Logger

	mu       sync.Mutex
	state    State
	key      cacheKey
	artifact *Artifact
	abort    context.CancelFunc
	job      uint64
}

func New(encoder gifenc.Encoder, board *status.Board, logger *log.Logger) *Pipeline {
	if logger == nil {
		logger = log.Default()
	}
	return &Pipeline{
		encoder: encoder,
		board:   board,
		logger:  logger.WithPrefix("render"),
	}
}

func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Invalidate drops the cached artifact.
func (p *Pipeline) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.artifact = nil
	if p.state == Cached {
		p.state = Idle
	}
}

// Abort stops the running encode, if any.
func (p *Pipeline) Abort() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.abort != nil {
		p.abort()
		p.abort = nil
	}
}

// Render returns the GIF for seq with settings and delay, reusing the cached
// artifact when nothing changed since the last render.
func (p *Pipeline) Render(ctx context.Context, seq *frames.Sequence, settings effects.Settings, delay int) (*Artifact, error) {
	if seq.Len() == 0 {
		return nil, ErrNoFrames
	}
	indices := frames.PlayOrder(seq.ExportIndices(), settings.SeamlessLoop)
	if len(indices) == 0 {
		return nil, ErrNoFrames
	}
	key := cacheKey{sequence: seq.ID, settings: settings, delay: delay}

	p.mu.Lock()
	if p.abort != nil {
		p.abort()
		p.abort = nil
	}
	if p.artifact != nil && p.key == key {
		art := p.artifact
		p.mu.Unlock()
		p.logger.Debug("cache hit", "delay", delay)
		return art, nil
	}
	p.job++
	job := p.job
	jobCtx, cancel := context.WithCancel(ctx)
	p.abort = cancel
	p.state = Encoding
	p.mu.Unlock()
	defer cancel()

	p.board.SetRenderingGif(true)
	p.board.SetGifProgress(0)
	p.board.SetStatus("Rendering GIF...")

	data, err := p.encode(jobCtx, seq, indices, settings, delay, cancel)

	p.mu.Lock()
	defer p.mu.Unlock()
	superseded := p.job != job
	if !superseded {
		p.abort = nil
	}
	switch {
	case superseded || p.board.Cancelled() || jobCtx.Err() != nil:
		if !superseded {
			p.state = Cancelled
			p.board.SetRenderingGif(false)
		}
		return nil, ErrCancelled
	case err != nil:
		p.state = Failed
		p.board.SetRenderingGif(false)
		return nil, err
	}

	art := &Artifact{Data: data, Delay: delay, Frames: len(indices)}
	p.key, p.artifact, p.state = key, art, Cached
	p.board.SetRenderingGif(false)
	p.board.SetGifProgress(100)
	p.board.SetStatus("GIF Rendered!")
	return art, nil
}

func (p *Pipeline) encode(ctx context.Context, seq *frames.Sequence, indices []int, settings effects.Settings, delay int, cancel context.CancelFunc) ([]byte, error) {
	// Each distinct frame is processed once; a seamless loop reuses the
	// processed copies on the way back.
	processed := make(map[int]image.Image, seq.Len())
	scratch := raster.New(seq.Dims.Width, seq.Dims.Height)
	input := make([]image.Image, 0, len(indices))
	for _, i := range indices {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, ok := processed[i]
		if !ok {
			src, err := seq.Decode(i)
			if err != nil {
				return nil, err
			}
			raster.Draw(scratch, src)
			effects.Apply(scratch, settings)
			img = raster.Clone(scratch)
			processed[i] = img
		}
		input = append(input, img)
	}

	opts := gifenc.Options{
		Width:       seq.Dims.Width,
		Height:      seq.Dims.Height,
		Delay:       delay,
		Workers:     Workers,
		Quality:     Quality,
		Transparent: seq.Transparent,
	}
	return p.encoder.Encode(ctx, input, opts, func(f float64) {
		if p.board.Cancelled() {
			cancel()
			return
		}
		pct := int(math.Round(f * 100))
		p.board.SetGifProgress(pct)
		p.board.SetStatus(fmt.Sprintf("Rendering GIF: %d%%", pct))
	})
}
