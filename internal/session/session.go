// Package session holds one user's working state: the loaded image, the
// generated sequence, effect settings and delay. It wires the generator,
// player, render pipeline and export orchestrator together.
package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/campbel/fragment/internal/delivery"
	"github.com/campbel/fragment/internal/effects"
	"github.com/campbel/fragment/internal/export"
	"github.com/campbel/fragment/internal/frames"
	"github.com/campbel/fragment/internal/player"
	"github.com/campbel/fragment/internal/raster"
	"github.com/campbel/fragment/internal/render"
	"github.com/campbel/fragment/internal/status"
)

const (
	DefaultFrames = 40
	DefaultDelay  = 100
)

const (
	statusLoaded      = "Image loaded. Ready to generate."
	statusUnsupported = "Unsupported file type."
	statusReady       = "Preview ready. Adjust settings and download your art!"
	statusTooSmall    = "Image is too small to fragment."
	statusGenFailed   = "Error generating frames. See logs."
	statusGenStopped  = "Generation cancelled."
)

var ErrNoSource = errors.New("no image loaded")

type Session struct {
	board     *status.Board
	generator *frames.Generator
	pipeline  *render.Pipeline
	exporter  *export.Orchestrator
	player    *player.Player
	logger    *log.Logger

	unsubscribe func()

	mu        sync.Mutex
	source    image.Image
	seq       *frames.Sequence
	count     int
	delay     int
	settings  effects.Settings
	cancelGen context.CancelFunc
}

// New builds a session. The player may be nil; when set it is suspended
// whenever the board is busy.
func New(board *status.Board, generator *frames.Generator, pipeline *render.Pipeline, exporter *export.Orchestrator, p *player.Player, logger *log.Logger) *Session {
	if logger == nil {
		logger = log.Default()
	}
	s := &Session{
		board:     board,
		generator: generator,
		pipeline:  pipeline,
		exporter:  exporter,
		player:    p,
		logger:    logger.WithPrefix("session"),
		count:     DefaultFrames,
		delay:     DefaultDelay,
	}
	if p != nil {
		p.SetDelay(s.delay)
		s.unsubscribe = board.Subscribe(func(snap status.Snapshot) {
			p.SetBusy(snap.Busy())
		})
	}
	return s
}

// Close stops the player and detaches it from the board.
func (s *Session) Close() {
	s.stopGeneration()
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	if s.player != nil {
		s.player.Close()
	}
}

// Load decodes a PNG or JPEG and makes it the source for the next
// generation. A rejected file changes nothing but the status text.
func (s *Session) Load(r io.Reader) error {
	img, err := raster.Decode(r)
	if err != nil {
		if errors.Is(err, raster.ErrUnsupportedType) {
			s.board.SetStatus(statusUnsupported)
		}
		return err
	}
	s.SetSource(img)
	s.board.SetStatus(statusLoaded)
	return nil
}

func (s *Session) SetSource(img image.Image) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.source = img
}

// Rotate turns the loaded image clockwise before it is fragmented.
func (s *Session) Rotate(degrees float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.source == nil {
		return ErrNoSource
	}
	s.source = raster.Rotate(s.source, degrees)
	return nil
}

func (s *Session) SetFrameCount(n int) error {
	if n < 0 {
		return fmt.Errorf("frame count must not be negative, got %d", n)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count = n
	return nil
}

func (s *Session) FrameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

func (s *Session) Delay() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delay
}

func (s *Session) Settings() effects.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// Sequence is the last generated sequence, or nil.
func (s *Session) Sequence() *frames.Sequence {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// SetSettings changes the effects. The cached GIF no longer matches and is
// dropped; the preview restarts with the new settings.
func (s *Session) SetSettings(settings effects.Settings) {
	s.mu.Lock()
	s.settings = settings
	s.mu.Unlock()
	s.pipeline.Invalidate()
	if s.player != nil {
		s.player.SetSettings(settings)
	}
}

// SetDelay changes the frame delay in milliseconds.
func (s *Session) SetDelay(delay int) {
	s.mu.Lock()
	s.delay = delay
	s.mu.Unlock()
	s.pipeline.Invalidate()
	if s.player != nil {
		s.player.SetDelay(delay)
	}
}

// ResetEffects turns every effect off. The background choice is kept.
func (s *Session) ResetEffects() {
	s.SetSettings(effects.Settings{TransparentBackground: s.Settings().TransparentBackground})
}

// stopInFlight cancels whatever is running before shared state is replaced:
// raise the cancellation flag, abort the encoder, drop the cache.
func (s *Session) stopInFlight() {
	s.stopGeneration()
	s.board.Cancel()
	s.pipeline.Abort()
	s.pipeline.Invalidate()
}

func (s *Session) stopGeneration() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelGen != nil {
		s.cancelGen()
		s.cancelGen = nil
	}
}

// Generate replaces the current sequence with a new one built from the
// loaded image. It fails with status.ErrBusy while a generation or export
// is running.
func (s *Session) Generate(ctx context.Context) (*frames.Sequence, error) {
	s.mu.Lock()
	src, count, transparent := s.source, s.count, s.settings.TransparentBackground
	s.mu.Unlock()
	if src == nil {
		s.board.SetStatus(status.Initial)
		return nil, ErrNoSource
	}

	// Refused while busy, before any state changes.
	if err := s.board.BeginProcessing(); err != nil {
		s.logger.Debug("generate refused", "err", err)
		return nil, err
	}
	s.stopInFlight()
	s.board.Uncancel()
	s.mu.Lock()
	s.seq = nil
	s.mu.Unlock()
	if s.player != nil {
		s.player.SetFrames(nil, frames.Dimensions{})
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.mu.Lock()
	s.cancelGen = cancel
	s.mu.Unlock()

	seq, err := s.generator.Generate(ctx, src, count, transparent)
	if err == nil {
		var imgs []*image.NRGBA
		if imgs, err = seq.DecodeAll(); err == nil {
			s.mu.Lock()
			s.seq = seq
			s.mu.Unlock()
			if s.player != nil {
				s.player.SetFrames(imgs, seq.Dims)
			}
		}
	}

	switch {
	case err == nil:
		s.logger.Info("frames generated", "id", seq.ID, "frames", seq.Len(), "width", seq.Dims.Width, "height", seq.Dims.Height)
		s.board.EndProcessing(statusReady)
		return seq, nil
	case errors.Is(err, context.Canceled):
		s.logger.Debug("generation cancelled")
		s.board.EndProcessing(statusGenStopped)
	case errors.Is(err, frames.ErrTooSmall):
		s.board.EndProcessing(statusTooSmall)
	default:
		s.logger.Error("generation failed", "err", err)
		s.board.EndProcessing(statusGenFailed)
	}
	return nil, err
}

// Export runs one export of the current sequence with the current settings
// and delay.
func (s *Session) Export(ctx context.Context, kind status.Kind) (delivery.Result, error) {
	s.mu.Lock()
	req := export.Request{Sequence: s.seq, Settings: s.settings, Delay: s.delay}
	s.mu.Unlock()
	return s.exporter.Export(ctx, kind, req)
}

// StartOver cancels everything and returns to the initial state with
// default frame count, delay and effects.
func (s *Session) StartOver() {
	s.stopInFlight()
	s.mu.Lock()
	s.source, s.seq = nil, nil
	s.count, s.delay, s.settings = DefaultFrames, DefaultDelay, effects.Settings{}
	s.mu.Unlock()
	if s.player != nil {
		s.player.SetFrames(nil, frames.Dimensions{})
		s.player.SetSettings(effects.Settings{})
		s.player.SetDelay(DefaultDelay)
	}
	s.board.Reset(status.Initial)
}
