package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/campbel/yoshi"
	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/campbel/fragment/internal/delivery"
	"github.com/campbel/fragment/internal/effects"
	"github.com/campbel/fragment/internal/export"
	"github.com/campbel/fragment/internal/frames"
	"github.com/campbel/fragment/internal/gifenc"
	"github.com/campbel/fragment/internal/player"
	"github.com/campbel/fragment/internal/render"
	"github.com/campbel/fragment/internal/server"
	"github.com/campbel/fragment/internal/session"
	"github.com/campbel/fragment/internal/status"
	"github.com/campbel/fragment/internal/transcode"
)

const (
	MinDelay    = 10
	PreviewFile = "preview.png"
)

var (
	logger = log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.Kitchen,
		ReportCaller:    true,
	})

	userAgents = map[string]string{
		"desktop": "fragment/1.0",
		"ios":     "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15",
	}
)

type Options struct {
	Image       string   `yoshi:"-i,--image;Source image (PNG or JPEG);"`
	Frames      int      `yoshi:"-n,--frames;Number of fragmented frames;40"`
	Delay       int      `yoshi:"--delay;Delay between frames in milliseconds;100"`
	Formats     []string `yoshi:"-f,--format;Export format: zip, gif or video;"`
	Out         string   `yoshi:"-o,--out;Output directory;."`
	Seamless    bool     `yoshi:"--seamless;Play forward then backward;false"`
	Invert      bool     `yoshi:"--invert;Invert colors;false"`
	Grayscale   bool     `yoshi:"--grayscale;Grayscale;false"`
	Sepia       bool     `yoshi:"--sepia;Sepia tone;false"`
	Edges       bool     `yoshi:"--edges;Edge detection;false"`
	Pixelate    int      `yoshi:"--pixelate;Pixelation level from 0 to 100;0"`
	Transparent bool     `yoshi:"--transparent;Fragment over a transparent background;false"`
	Rotate      int      `yoshi:"--rotate;Rotate the source clockwise by degrees;0"`
	Seed        int      `yoshi:"--seed;Random seed, 0 picks one;0"`
	FFmpeg      string   `yoshi:"--ffmpeg;ffmpeg executable;ffmpeg"`
	FFmpegWasm  string   `yoshi:"--ffmpeg-wasm;ffmpeg WASI module, used instead of the executable;"`
	Platform    string   `yoshi:"--platform;Delivery platform: desktop or ios;desktop"`
	Share       bool     `yoshi:"--share;The platform has a share sheet;false"`
	Preview     int      `yoshi:"--preview;Play the animation into preview.png for this many seconds;0"`
	Serve       string   `yoshi:"--serve;Serve the HTTP API on this address;"`
	Debug       bool     `yoshi:"-d,--debug;Enable debug mode;false"`
}

func main() {
	yoshi.New("fragment").Run(func(options Options) error {
		if options.Debug {
			logger.SetLevel(log.DebugLevel)
		}
		if err := validate(&options); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		if options.Serve != "" {
			return serve(ctx, options)
		}
		return run(ctx, options)
	})
}

func validate(options *Options) error {
	if options.Serve != "" {
		return nil
	}
	if options.Image == "" {
		return errors.New("no image specified")
	}
	if options.Frames < 0 {
		return fmt.Errorf("frames must not be negative, got %d", options.Frames)
	}
	if options.Delay < MinDelay {
		return fmt.Errorf("delay must be at least %dms, got %d", MinDelay, options.Delay)
	}
	if options.Pixelate < 0 || options.Pixelate > 100 {
		return fmt.Errorf("pixelate must be between 0 and 100, got %d", options.Pixelate)
	}
	if _, ok := userAgents[options.Platform]; !ok {
		return fmt.Errorf("unknown platform %q", options.Platform)
	}
	if len(options.Formats) == 0 {
		options.Formats = []string{string(status.Gif)}
	}
	for _, f := range options.Formats {
		switch status.Kind(f) {
		case status.Zip, status.Gif, status.Video:
		default:
			return fmt.Errorf("unknown format %q", f)
		}
	}
	return nil
}

func settings(options Options) effects.Settings {
	return effects.Settings{
		SeamlessLoop:          options.Seamless,
		Invert:                options.Invert,
		Grayscale:             options.Grayscale,
		Sepia:                 options.Sepia,
		EdgeDetect:            options.Edges,
		Pixelate:              options.Pixelate,
		TransparentBackground: options.Transparent,
	}
}

func run(ctx context.Context, options Options) error {
	if err := os.MkdirAll(options.Out, 0o755); err != nil {
		return err
	}

	// Start loading ffmpeg right away; generation usually takes longer.
	var (
		tc     transcode.Transcoder
		loaded <-chan error
	)
	if slices.Contains(options.Formats, string(status.Video)) {
		t, done, closer, err := loadTranscoder(ctx, options)
		if err != nil {
			return err
		}
		defer closer()
		tc, loaded = t, done
	}

	board := status.NewBoard(logger)
	defer board.Subscribe(logStatus())()

	seed := uint64(options.Seed)
	if seed == 0 {
		seed = rand.Uint64()
	}
	logger.Debug("fragmenting", "seed", seed)

	pipeline := render.New(gifenc.NewPool(logger), board, logger)
	platform := delivery.Platform{UserAgent: userAgents[options.Platform], CanShare: options.Share}
	exporter := export.New(board, pipeline, delivery.New(delivery.Dir{Root: options.Out}, platform, logger), logger)
	if tc != nil {
		exporter.SetTranscoder(tc)
	}

	var p *player.Player
	if options.Preview > 0 {
		p = player.New(player.FileDisplay{Path: filepath.Join(options.Out, PreviewFile)}, options.Delay, logger)
	}
	sess := session.New(board, frames.NewGenerator(rand.NewPCG(seed, seed), board, logger), pipeline, exporter, p, logger)
	defer sess.Close()

	file, err := os.Open(options.Image)
	if err != nil {
		return err
	}
	err = sess.Load(file)
	file.Close()
	if err != nil {
		return err
	}
	if options.Rotate != 0 {
		if err := sess.Rotate(float64(options.Rotate)); err != nil {
			return err
		}
	}
	if err := sess.SetFrameCount(options.Frames); err != nil {
		return err
	}
	sess.SetDelay(options.Delay)
	sess.SetSettings(settings(options))

	if _, err := sess.Generate(ctx); err != nil {
		return err
	}

	if p != nil {
		logger.Info("previewing", "file", filepath.Join(options.Out, PreviewFile), "seconds", options.Preview)
		select {
		case <-time.After(time.Duration(options.Preview) * time.Second):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for _, format := range options.Formats {
		kind := status.Kind(format)
		if kind == status.Video && loaded != nil {
			if err := <-loaded; err != nil {
				logger.Warn("video transcoder unavailable", "err", err)
			}
			loaded = nil
		}
		res, err := sess.Export(ctx, kind)
		if err != nil {
			if export.IsCancellation(err) {
				return ctx.Err()
			}
			return err
		}
		logger.Info("delivered", "format", format, "method", res.Method, "url", res.URL)
	}
	return nil
}

func serve(ctx context.Context, options Options) error {
	tc, done, closer, err := loadTranscoder(ctx, options)
	if err != nil {
		return err
	}
	defer closer()
	go func() {
		if err := <-done; err != nil {
			logger.Warn("video transcoder unavailable, mp4 requests will fail", "err", err)
		}
	}()

	var source func() rand.Source
	if options.Seed != 0 {
		seed := uint64(options.Seed)
		source = func() rand.Source { return rand.NewPCG(seed, seed) }
	}
	srv := server.New(server.Options{
		Transcoder: tc,
		Source:     source,
		Limit:      rate.Every(500 * time.Millisecond),
		Burst:      4,
	}, logger)
	if err := srv.Serve(ctx, options.Serve); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// loadTranscoder starts loading the WASI module when one is configured and
// the host executable otherwise.
func loadTranscoder(ctx context.Context, options Options) (transcode.Transcoder, <-chan error, func(), error) {
	if options.FFmpegWasm != "" {
		module, err := os.ReadFile(options.FFmpegWasm)
		if err != nil {
			return nil, nil, nil, err
		}
		w, err := transcode.NewWasm(logger)
		if err != nil {
			return nil, nil, nil, err
		}
		return w, w.Load(ctx, module), func() { _ = w.Close(context.Background()) }, nil
	}
	b, err := transcode.NewBinary(options.FFmpeg, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	return b, b.Load(ctx), func() { _ = b.Close() }, nil
}

// logStatus prints each new status line once.
func logStatus() func(status.Snapshot) {
	var (
		mu   sync.Mutex
		last string
	)
	return func(s status.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		if s.Status == last {
			return
		}
		last = s.Status
		logger.Info(s.Status)
	}
}
