// Package export packages a generated frame sequence as a ZIP, a GIF or an
// MP4 video and hands the result to delivery. Exports are mutually
// exclusive; the status board holds the busy gate.
package export

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/campbel/fragment/internal/delivery"
	"github.com/campbel/fragment/internal/effects"
	"github.com/campbel/fragment/internal/frames"
	"github.com/campbel/fragment/internal/raster"
	"github.com/campbel/fragment/internal/render"
	"github.com/campbel/fragment/internal/status"
	"github.com/campbel/fragment/internal/transcode"
)

const (
	ZipName = "glitch-images.zip"
	// VideoBackground shows through transparent GIF pixels in the MP4.
	VideoBackground = "black"
)

const (
	statusNoFrames    = "No frames to export. Generate a preview first."
	statusNotLoaded   = "FFmpeg is not loaded yet. Please wait."
	statusZipFailed   = "Error creating ZIP. See logs."
	statusGifFailed   = "Error creating GIF. See logs."
	statusVideoFailed = "Failed to create video. See logs."
	statusCancelled   = "Export cancelled."
)

func GifName(delay int) string   { return fmt.Sprintf("animation_%dms.gif", delay) }
func VideoName(delay int) string { return fmt.Sprintf("animation_%dms.mp4", delay) }

// FrameName is the ZIP entry for sequence index i.
func FrameName(i int, lossless bool) string {
	return fmt.Sprintf("frame_%04d%s", i, raster.Ext(lossless))
}

// IsCancellation reports whether err means the export was abandoned on
// purpose rather than failed.
func IsCancellation(err error) bool {
	return errors.Is(err, render.ErrCancelled) || errors.Is(err, context.Canceled)
}

// Request is what to export.
type Request struct {
	Sequence *frames.Sequence
	Settings effects.Settings
	Delay    int
}

// Job is the export currently in flight.
type Job struct {
	ID      string
	Kind    status.Kind
	Started time.Time
}

// Deliverer hands a finished file to the user.
type Deliverer interface {
	Deliver(ctx context.Context, f delivery.File) (delivery.Result, error)
}

type Orchestrator struct {
	board     *status.Board
	pipeline  *render.Pipeline
	deliverer Deliverer
	logger    *log.Logger

	mu         sync.Mutex
	transcoder transcode.Transcoder
	job        *Job
}

func New(board *status.Board, pipeline *render.Pipeline, deliverer Deliverer, logger *log.Logger) *Orchestrator {
	if logger == nil {
		logger = log.Default()
	}
	return &Orchestrator{
		board:     board,
		pipeline:  pipeline,
		deliverer: deliverer,
		logger:    logger.WithPrefix("export"),
	}
}

// SetTranscoder installs the video transcoder. Video exports are refused
// until one is installed and ready.
func (o *Orchestrator) SetTranscoder(t transcode.Transcoder) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transcoder = t
}

// Job returns the export in flight, if any.
func (o *Orchestrator) Job() (Job, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.job == nil {
		return Job{}, false
	}
	return *o.job, true
}

// Export runs one export of kind. Precondition failures and a busy board
// return before anything changes. Whatever happens afterwards, the export
// slot is released and progress reset before Export returns.
func (o *Orchestrator) Export(ctx context.Context, kind status.Kind, req Request) (delivery.Result, error) {
	if req.Sequence.Len() == 0 || len(req.Sequence.ExportIndices()) == 0 {
		o.board.SetStatus(statusNoFrames)
		return delivery.Result{}, render.ErrNoFrames
	}
	o.mu.Lock()
	tc := o.transcoder
	o.mu.Unlock()
	if kind == status.Video && (tc == nil || !tc.Ready()) {
		o.board.SetStatus(statusNotLoaded)
		return delivery.Result{}, transcode.ErrNotReady
	}

	if err := o.board.BeginExport(kind); err != nil {
		o.logger.Debug("export refused", "kind", kind, "err", err)
		return delivery.Result{}, err
	}
	o.board.Uncancel()

	job := &Job{ID: uuid.NewString(), Kind: kind, Started: time.Now()}
	o.mu.Lock()
	o.job = job
	o.mu.Unlock()
	logger := o.logger.With("job", job.ID, "kind", kind)
	logger.Info("export started", "frames", req.Sequence.Len(), "delay", req.Delay)

	var (
		res   delivery.Result
		err   error
		final string
	)
	defer func() {
		o.mu.Lock()
		o.job = nil
		o.mu.Unlock()
		o.board.EndExport(final)
	}()

	switch kind {
	case status.Zip:
		res, err = o.zip(ctx, req)
		final = "ZIP download started!"
	case status.Gif:
		res, err = o.gif(ctx, req)
		final = "GIF download started!"
	case status.Video:
		res, err = o.video(ctx, tc, req)
		final = "Video download started!"
	default:
		return delivery.Result{}, fmt.Errorf("unknown export kind %q", kind)
	}

	switch {
	case err == nil:
		logger.Info("export finished", "method", res.Method, "duration", time.Since(job.Started))
		return res, nil
	case IsCancellation(err) || o.board.Cancelled() || ctx.Err() != nil:
		final = statusCancelled
		logger.Debug("export cancelled", "err", err)
		if !IsCancellation(err) {
			err = fmt.Errorf("%w: %w", render.ErrCancelled, err)
		}
		return delivery.Result{}, err
	}
	logger.Error("export failed", "err", err)
	switch kind {
	case status.Zip:
		final = statusZipFailed
	case status.Gif:
		final = statusGifFailed
	default:
		final = statusVideoFailed
	}
	return delivery.Result{}, err
}

// checkpoint is consulted after every long step.
func (o *Orchestrator) checkpoint(ctx context.Context) error {
	if o.board.Cancelled() {
		return render.ErrCancelled
	}
	return ctx.Err()
}

func (o *Orchestrator) zip(ctx context.Context, req Request) (delivery.Result, error) {
	o.board.SetStatus("Applying effects and creating ZIP...")
	seq := req.Sequence
	lossless := seq.Transparent

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	scratch := raster.New(seq.Dims.Width, seq.Dims.Height)
	for _, i := range seq.ExportIndices() {
		if err := o.checkpoint(ctx); err != nil {
			return delivery.Result{}, err
		}
		img, err := seq.Decode(i)
		if err != nil {
			return delivery.Result{}, fmt.Errorf("decode frame %d: %w", i, err)
		}
		raster.Draw(scratch, img)
		effects.Apply(scratch, req.Settings)

		w, err := zw.Create(FrameName(i, lossless))
		if err != nil {
			return delivery.Result{}, err
		}
		if err := raster.Encode(w, scratch, lossless); err != nil {
			return delivery.Result{}, fmt.Errorf("encode frame %d: %w", i, err)
		}
	}

	o.board.SetStatus("Generating ZIP file...")
	if err := zw.Close(); err != nil {
		return delivery.Result{}, err
	}
	if err := o.checkpoint(ctx); err != nil {
		return delivery.Result{}, err
	}
	return o.deliverer.Deliver(ctx, delivery.File{Name: ZipName, Type: delivery.TypeZip, Data: buf.Bytes()})
}

func (o *Orchestrator) gif(ctx context.Context, req Request) (delivery.Result, error) {
	art, err := o.pipeline.Render(ctx, req.Sequence, req.Settings, req.Delay)
	if err != nil {
		return delivery.Result{}, err
	}
	if err := o.checkpoint(ctx); err != nil {
		return delivery.Result{}, err
	}
	return o.deliverer.Deliver(ctx, delivery.File{Name: GifName(req.Delay), Type: delivery.TypeGif, Data: art.Data})
}

func (o *Orchestrator) video(ctx context.Context, tc transcode.Transcoder, req Request) (delivery.Result, error) {
	gifName, videoName := GifName(req.Delay), VideoName(req.Delay)
	o.board.SetVideoProgress(0)
	o.board.SetStatus("Rendering GIF for video conversion...")
	art, err := o.pipeline.Render(ctx, req.Sequence, req.Settings, req.Delay)
	if err != nil {
		return delivery.Result{}, err
	}
	if err := o.checkpoint(ctx); err != nil {
		return delivery.Result{}, err
	}

	defer func() {
		if err := removeFiles(tc, gifName, videoName); err != nil {
			o.logger.Warn("transcoder cleanup failed", "err", err)
		}
	}()
	if err := removeFiles(tc, gifName, videoName); err != nil {
		return delivery.Result{}, fmt.Errorf("clear stale files: %w", err)
	}
	if err := tc.WriteFile(gifName, art.Data); err != nil {
		return delivery.Result{}, fmt.Errorf("write gif: %w", err)
	}

	o.board.SetStatus("Converting GIF to MP4...")
	stop := tc.OnProgress(func(p float64) {
		o.board.SetVideoProgress(int(math.Round(p * 100)))
	})
	dims := req.Sequence.Dims
	err = tc.Exec(ctx, transcode.VideoArgs(gifName, videoName, dims.Width, dims.Height, VideoBackground))
	stop()
	if err != nil {
		return delivery.Result{}, fmt.Errorf("transcode: %w", err)
	}
	if err := o.checkpoint(ctx); err != nil {
		return delivery.Result{}, err
	}

	o.board.SetStatus("Finalizing video file...")
	data, err := tc.ReadFile(videoName)
	if err != nil {
		return delivery.Result{}, fmt.Errorf("read video: %w", err)
	}
	return o.deliverer.Deliver(ctx, delivery.File{Name: videoName, Type: delivery.TypeVideo, Data: data})
}

// removeFiles deletes the named files from the transcoder root if present.
func removeFiles(tc transcode.Transcoder, names ...string) error {
	existing, err := tc.ListDir("/")
	if err != nil {
		return err
	}
	var errs []error
	for _, have := range existing {
		for _, name := range names {
			if have == name {
				errs = append(errs, tc.DeleteFile(name))
			}
		}
	}
	return errors.Join(errs...)
}
