// Package status keeps the single state object shared by generation,
// rendering and export: status text, progress, the busy gate and the
// cancellation flag.
package status

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
)

// Kind names an export.
type Kind string

const (
	None  Kind = ""
	Zip   Kind = "zip"
	Gif   Kind = "gif"
	Video Kind = "video"
)

// Initial is the status text of an idle board with nothing loaded.
const Initial = "Select an image to start."

var ErrBusy = errors.New("another operation is in progress")

// Snapshot is a copy of the board at one point in time.
type Snapshot struct {
	Status        string
	Processing    bool
	Exporting     Kind
	RenderingGif  bool
	GifProgress   int
	VideoProgress int
}

// Busy reports whether any generation, export or render is running.
func (s Snapshot) Busy() bool {
	return s.Processing || s.Exporting != None || s.RenderingGif
}

// Board is safe for concurrent use. Subscribers are called synchronously,
// outside the board's lock, after every change.
type Board struct {
	logger *log.Logger

	mu   sync.Mutex
	snap Snapshot
	subs map[int]func(Snapshot)
	next int

	cancelled atomic.Bool
}

func NewBoard(logger *log.Logger) *Board {
	if logger == nil {
		logger = log.Default()
	}
	return &Board{
		logger: logger.WithPrefix("status"),
		snap:   Snapshot{Status: Initial},
		subs:   make(map[int]func(Snapshot)),
	}
}

// Subscribe registers fn and returns a function that removes it.
func (b *Board) Subscribe(fn func(Snapshot)) func() {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = fn
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

func (b *Board) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snap
}

// update applies fn under the lock and notifies subscribers.
func (b *Board) update(fn func(*Snapshot) error) error {
	b.mu.Lock()
	if err := fn(&b.snap); err != nil {
		b.mu.Unlock()
		return err
	}
	snap := b.snap
	subs := make([]func(Snapshot), 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s(snap)
	}
	return nil
}

func (b *Board) SetStatus(text string) {
	b.logger.Debug(text)
	_ = b.update(func(s *Snapshot) error {
		s.Status = text
		return nil
	})
}

func (b *Board) SetGifProgress(p int) {
	_ = b.update(func(s *Snapshot) error {
		s.GifProgress = clampPercent(p)
		return nil
	})
}

func (b *Board) SetVideoProgress(p int) {
	_ = b.update(func(s *Snapshot) error {
		s.VideoProgress = clampPercent(p)
		return nil
	})
}

func (b *Board) SetRenderingGif(on bool) {
	_ = b.update(func(s *Snapshot) error {
		s.RenderingGif = on
		return nil
	})
}

// BeginProcessing marks a generation run as started.
func (b *Board) BeginProcessing() error {
	return b.update(func(s *Snapshot) error {
		if s.Busy() {
			return ErrBusy
		}
		s.Processing = true
		return nil
	})
}

// EndProcessing clears the processing flag and publishes text.
func (b *Board) EndProcessing(text string) {
	_ = b.update(func(s *Snapshot) error {
		s.Processing = false
		s.Status = text
		return nil
	})
}

// BeginExport claims the export slot for kind. Only one export may be in
// flight; a second claim fails with ErrBusy.
func (b *Board) BeginExport(kind Kind) error {
	return b.update(func(s *Snapshot) error {
		if s.Busy() {
			return ErrBusy
		}
		s.Exporting = kind
		s.GifProgress = 0
		s.VideoProgress = 0
		return nil
	})
}

// EndExport releases the export slot and resets progress. The text is
// published only while the slot is still held, so an export unwinding after
// Reset does not overwrite the reset status. An empty text leaves the current
// status in place.
func (b *Board) EndExport(text string) {
	_ = b.update(func(s *Snapshot) error {
		if s.Exporting == None {
			text = ""
		}
		s.Exporting = None
		s.RenderingGif = false
		s.GifProgress = 0
		s.VideoProgress = 0
		if text != "" {
			s.Status = text
		}
		return nil
	})
}

// Reset returns the board to idle with the given status text. The
// cancellation flag is left alone.
func (b *Board) Reset(text string) {
	_ = b.update(func(s *Snapshot) error {
		*s = Snapshot{Status: text}
		return nil
	})
}

// Cancel raises the shared cancellation flag.
func (b *Board) Cancel() { b.cancelled.Store(true) }

// Uncancel lowers the cancellation flag before new work starts.
func (b *Board) Uncancel() { b.cancelled.Store(false) }

func (b *Board) Cancelled() bool { return b.cancelled.Load() }

func clampPercent(p int) int {
	return min(max(p, 0), 100)
}
