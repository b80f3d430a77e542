// Package transcode converts rendered GIFs to MP4 with ffmpeg, either as a
// WASI module hosted in-process or as a host binary. Both expose the same
// small filesystem-plus-exec surface.
package transcode

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

var ErrNotReady = errors.New("transcoder is not loaded")

// Transcoder is an ffmpeg instance with its own private filesystem.
type Transcoder interface {
	// Ready reports whether loading has finished successfully.
	Ready() bool
	WriteFile(name string, data []byte) error
	ListDir(dir string) ([]string, error)
	DeleteFile(name string) error
	ReadFile(name string) ([]byte, error)
	// Exec runs ffmpeg with args; paths in args are relative to the root of
	// the private filesystem.
	Exec(ctx context.Context, args []string) error
	// OnProgress subscribes to completion fractions of the running Exec.
	OnProgress(fn func(float64)) (unsubscribe func())
}

// VideoArgs composites a GIF over a solid background of the output size and
// encodes H.264 yuv420p with the index up front for progressive playback.
func VideoArgs(input, output string, width, height int, background string) []string {
	return []string{
		"-i", input,
		"-filter_complex", fmt.Sprintf("color=c=%s:s=%dx%d,format=rgb24[bg];[bg][0:v]overlay=shortest=1", background, width, height),
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
		output,
	}
}

// workspace is a directory standing in for ffmpeg's filesystem.
type workspace struct {
	root string
}

func newWorkspace() (*workspace, error) {
	root, err := os.MkdirTemp("", "fragment-transcode-")
	if err != nil {
		return nil, err
	}
	return &workspace{root: root}, nil
}

// path confines name to the workspace.
func (w *workspace) path(name string) string {
	return filepath.Join(w.root, filepath.Clean("/"+name))
}

func (w *workspace) WriteFile(name string, data []byte) error {
	return os.WriteFile(w.path(name), data, 0o644)
}

func (w *workspace) ReadFile(name string) ([]byte, error) {
	return os.ReadFile(w.path(name))
}

func (w *workspace) DeleteFile(name string) error {
	return os.Remove(w.path(name))
}

func (w *workspace) ListDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(w.path(dir))
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (w *workspace) close() error {
	return os.RemoveAll(w.root)
}

type progressHub struct {
	mu   sync.Mutex
	subs map[int]func(float64)
	next int
}

func (h *progressHub) OnProgress(fn func(float64)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs == nil {
		h.subs = make(map[int]func(float64))
	}
	id := h.next
	h.next++
	h.subs[id] = fn
	return func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}
}

func (h *progressHub) emit(p float64) {
	h.mu.Lock()
	subs := make([]func(float64), 0, len(h.subs))
	for _, fn := range h.subs {
		subs = append(subs, fn)
	}
	h.mu.Unlock()
	for _, fn := range subs {
		fn(p)
	}
}
