// Package player loops a frame sequence onto a display with the current
// effects applied live.
package player

import (
	"image"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/campbel/fragment/internal/effects"
	"github.com/campbel/fragment/internal/frames"
	"github.com/campbel/fragment/internal/raster"
)

// Display shows one composed frame. The image is only valid for the
// duration of the call.
type Display interface {
	Present(img image.Image) error
}

// Player draws one frame per tick and schedules the next tick after the
// delay. Every change to what or how it plays restarts the loop; ticks
// scheduled by an earlier loop never draw.
type Player struct {
	display Display
	logger  *log.Logger

	mu       sync.Mutex
	frames   []*image.NRGBA
	scratch  *image.NRGBA
	delay    time.Duration
	settings effects.Settings
	busy     bool
	closed   bool

	order []int
	pos   int
	gen   uint64
	timer *time.Timer
}

func New(display Display, delay int, logger *log.Logger) *Player {
	if logger == nil {
		logger = log.Default()
	}
	return &Player{
		display: display,
		delay:   time.Duration(delay) * time.Millisecond,
		logger:  logger.WithPrefix("player"),
	}
}

// SetFrames replaces the sequence being played.
func (p *Player) SetFrames(imgs []*image.NRGBA, dims frames.Dimensions) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = imgs
	p.scratch = nil
	if len(imgs) > 0 {
		p.scratch = raster.New(dims.Width, dims.Height)
	}
	p.restart()
}

// SetDelay changes the time between ticks, in milliseconds.
func (p *Player) SetDelay(delay int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delay = time.Duration(delay) * time.Millisecond
	p.restart()
}

func (p *Player) SetSettings(s effects.Settings) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.settings = s
	p.restart()
}

// SetBusy suspends playback while generation or an export runs.
func (p *Player) SetBusy(busy bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.busy == busy {
		return
	}
	p.busy = busy
	p.restart()
}

// Close stops playback for good.
func (p *Player) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.restart()
}

// Playing reports whether a loop is scheduled.
func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.timer != nil
}

// restart must be called with p.mu held.
func (p *Player) restart() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.gen++
	if p.closed || p.busy || len(p.frames) == 0 {
		return
	}
	p.order = frames.PlayOrder(frames.Indices(len(p.frames)), p.settings.SeamlessLoop)
	p.pos = 0
	gen := p.gen
	p.timer = time.AfterFunc(0, func() { p.tick(gen) })
}

func (p *Player) tick(gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.gen {
		return
	}

	i := p.order[p.pos]
	p.pos = (p.pos + 1) % len(p.order)
	raster.Draw(p.scratch, p.frames[i])
	effects.Apply(p.scratch, p.settings)
	if err := p.display.Present(p.scratch); err != nil {
		p.logger.Warn("present failed", "frame", i, "err", err)
	}
	p.timer = time.AfterFunc(p.delay, func() { p.tick(gen) })
}
