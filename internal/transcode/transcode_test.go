package transcode

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// noopModule is a WASI command whose _start returns immediately.
var noopModule = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	0x01, 0x04, 0x01, 0x60, 0x00, 0x00,
	0x03, 0x02, 0x01, 0x00,
	0x07, 0x0a, 0x01, 0x06, '_', 's', 't', 'a', 'r', 't', 0x00, 0x00,
	0x0a, 0x04, 0x01, 0x02, 0x00, 0x0b,
}

func TestVideoArgs(t *testing.T) {
	args := VideoArgs("animation_100ms.gif", "animation_100ms.mp4", 640, 480, "black")
	assert.Equal(t, []string{
		"-i", "animation_100ms.gif",
		"-filter_complex", "color=c=black:s=640x480,format=rgb24[bg];[bg][0:v]overlay=shortest=1",
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
		"animation_100ms.mp4",
	}, args)
}

func TestProgressWriter(t *testing.T) {
	var got []float64
	pw := &progressWriter{emit: func(p float64) { got = append(got, p) }}

	stderr := "Input #0, gif, from 'animation_100ms.gif':\n" +
		"  Duration: 00:00:02.00, start: 0.000000, bitrate: 12 kb/s\n" +
		"frame=    5 fps=0.0 q=28.0 size=       0kB time=00:00:00.50 bitrate=   0.8kbits/s speed=   1x\r" +
		"frame=   10 fps=0.0 q=28.0 size=       0kB time=00:00:01."
	_, err := pw.Write([]byte(stderr))
	require.NoError(t, err)
	_, err = pw.Write([]byte("00 bitrate=   0.8kbits/s\rframe=   30 time=00:00:03.00 bitrate=1\n"))
	require.NoError(t, err)

	assert.Equal(t, []float64{0.25, 0.5, 1}, got)
	assert.Contains(t, strings.Join(pw.tail, "\n"), "Duration")
}

func TestProgressWriterWithoutDuration(t *testing.T) {
	var got []float64
	pw := &progressWriter{emit: func(p float64) { got = append(got, p) }}
	_, _ = pw.Write([]byte("  Duration: N/A, start: 0\nframe= 1 time=00:00:00.10\n"))
	assert.Empty(t, got)
}

func TestWorkspace(t *testing.T) {
	ws, err := newWorkspace()
	require.NoError(t, err)
	defer ws.close()

	require.NoError(t, ws.WriteFile("b.mp4", []byte("video")))
	require.NoError(t, ws.WriteFile("/a.gif", []byte("gif")))
	// Names cannot climb out of the workspace.
	require.NoError(t, ws.WriteFile("../../escape.txt", []byte("x")))

	names, err := ws.ListDir("/")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.gif", "b.mp4", "escape.txt"}, names)

	data, err := ws.ReadFile("a.gif")
	require.NoError(t, err)
	assert.Equal(t, "gif", string(data))

	require.NoError(t, ws.DeleteFile("a.gif"))
	names, err = ws.ListDir("/")
	require.NoError(t, err)
	assert.Equal(t, []string{"b.mp4", "escape.txt"}, names)
}

func TestProgressHub(t *testing.T) {
	var hub progressHub
	var a, b []float64
	stopA := hub.OnProgress(func(p float64) { a = append(a, p) })
	hub.OnProgress(func(p float64) { b = append(b, p) })

	hub.emit(0.1)
	stopA()
	hub.emit(0.2)

	assert.Equal(t, []float64{0.1}, a)
	assert.Equal(t, []float64{0.1, 0.2}, b)
}

func TestWasm(t *testing.T) {
	ctx := context.Background()

	t.Run("not ready before load", func(t *testing.T) {
		w, err := NewWasm(nil)
		require.NoError(t, err)
		defer w.Close(ctx)

		assert.False(t, w.Ready())
		assert.ErrorIs(t, w.Exec(ctx, []string{"-version"}), ErrNotReady)
	})

	t.Run("invalid module", func(t *testing.T) {
		w, err := NewWasm(nil)
		require.NoError(t, err)
		defer w.Close(ctx)

		assert.Error(t, <-w.Load(ctx, []byte("not wasm")))
		assert.False(t, w.Ready())
	})

	t.Run("runs a module against the workspace", func(t *testing.T) {
		w, err := NewWasm(nil)
		require.NoError(t, err)
		defer w.Close(ctx)

		require.NoError(t, <-w.Load(ctx, noopModule))
		require.True(t, w.Ready())
		require.NoError(t, w.WriteFile("in.gif", []byte("gif")))

		var progress []float64
		stop := w.OnProgress(func(p float64) { progress = append(progress, p) })
		defer stop()

		require.NoError(t, w.Exec(ctx, VideoArgs("in.gif", "out.mp4", 2, 2, "black")))
		assert.Equal(t, []float64{1}, progress)
	})
}

func TestBinaryNotReady(t *testing.T) {
	b, err := NewBinary("definitely-not-ffmpeg-on-this-path", nil)
	require.NoError(t, err)
	defer b.Close()

	assert.Error(t, <-b.Load(context.Background()))
	assert.False(t, b.Ready())
	assert.ErrorIs(t, b.Exec(context.Background(), nil), ErrNotReady)
}
