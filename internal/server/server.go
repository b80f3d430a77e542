// Package server exposes generation and export over HTTP. Every request is
// a fresh session; nothing outlives the response except the current
// fallback video link.
package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/felixge/httpsnoop"
	"golang.org/x/time/rate"

	"github.com/campbel/fragment/internal/delivery"
	"github.com/campbel/fragment/internal/effects"
	"github.com/campbel/fragment/internal/export"
	"github.com/campbel/fragment/internal/frames"
	"github.com/campbel/fragment/internal/gifenc"
	"github.com/campbel/fragment/internal/raster"
	"github.com/campbel/fragment/internal/render"
	"github.com/campbel/fragment/internal/session"
	"github.com/campbel/fragment/internal/status"
	"github.com/campbel/fragment/internal/transcode"
)

const (
	MaxUploadBytes = 32 << 20
	MaxFrames      = 500
	MinDelay       = 10
)

var formats = map[string]status.Kind{
	"gif": status.Gif,
	"zip": status.Zip,
	"mp4": status.Video,
}

type Options struct {
	// Transcoder serves mp4 requests. Without one they fail with 503.
	Transcoder transcode.Transcoder
	// Source seeds each request's fragmentation. Defaults to a random PCG.
	Source func() rand.Source
	// Limit is the sustained request rate; Burst requests may arrive at once.
	Limit rate.Limit
	Burst int
}

type Server struct {
	opts    Options
	blobs   BlobStore
	limiter *rate.Limiter
	logger  *log.Logger

	// video serializes requests that share the transcoder filesystem.
	video sync.Mutex
}

func New(opts Options, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	if opts.Source == nil {
		opts.Source = func() rand.Source { return rand.NewPCG(rand.Uint64(), rand.Uint64()) }
	}
	if opts.Limit == 0 {
		opts.Limit = rate.Inf
	}
	return &Server{
		opts:    opts,
		limiter: rate.NewLimiter(opts.Limit, max(opts.Burst, 1)),
		logger:  logger.WithPrefix("server"),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/generate", s.handleGenerate)
	mux.HandleFunc("GET /blob/{id}", s.handleBlob)
	return s.logRequests(mux)
}

// Serve listens on addr until ctx is done.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.logger.Info("listening", "addr", addr)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdown, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdown)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)
		s.logger.Info("request", "method", r.Method, "path", r.URL.Path, "status", m.Code, "bytes", m.Written, "duration", m.Duration)
	})
}

func (s *Server) handleBlob(w http.ResponseWriter, r *http.Request) {
	f, ok := s.blobs.Get(r.PathValue("id"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", f.Type)
	http.ServeContent(w, r, f.Name, time.Time{}, bytes.NewReader(f.Data))
}

// request is a validated generate request.
type request struct {
	kind     status.Kind
	frames   int
	delay    int
	settings effects.Settings
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow() {
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes)
	if err := r.ParseMultipartForm(MaxUploadBytes); err != nil {
		http.Error(w, "invalid form: "+err.Error(), http.StatusBadRequest)
		return
	}
	file, _, err := r.FormFile("image")
	if err != nil {
		http.Error(w, "missing image", http.StatusBadRequest)
		return
	}
	defer file.Close()
	req, err := parseRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	logger := s.logger.With("format", req.kind, "frames", req.frames, "delay", req.delay)

	board := status.NewBoard(logger)
	pipeline := render.New(gifenc.NewPool(logger), board, logger)
	target := &responseTarget{w: w, blobs: &s.blobs}
	exporter := export.New(board, pipeline, delivery.New(target, delivery.Platform{UserAgent: r.UserAgent()}, logger), logger)
	if s.opts.Transcoder != nil {
		exporter.SetTranscoder(s.opts.Transcoder)
	}
	sess := session.New(board, frames.NewGenerator(s.opts.Source(), board, logger), pipeline, exporter, nil, logger)
	defer sess.Close()

	if err := sess.Load(file); err != nil {
		if errors.Is(err, raster.ErrUnsupportedType) {
			http.Error(w, board.Snapshot().Status, http.StatusUnsupportedMediaType)
			return
		}
		http.Error(w, "could not read image", http.StatusBadRequest)
		return
	}
	_ = sess.SetFrameCount(req.frames)
	sess.SetDelay(req.delay)
	sess.SetSettings(req.settings)

	ctx := r.Context()
	if _, err := sess.Generate(ctx); err != nil {
		if errors.Is(err, frames.ErrTooSmall) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		logger.Error("generate failed", "err", err)
		http.Error(w, board.Snapshot().Status, http.StatusInternalServerError)
		return
	}

	if req.kind == status.Video {
		s.video.Lock()
		defer s.video.Unlock()
	}
	if _, err := sess.Export(ctx, req.kind); err != nil {
		switch {
		case errors.Is(err, transcode.ErrNotReady):
			http.Error(w, board.Snapshot().Status, http.StatusServiceUnavailable)
		case export.IsCancellation(err):
			logger.Debug("request abandoned", "err", err)
		default:
			http.Error(w, board.Snapshot().Status, http.StatusInternalServerError)
		}
	}
}

// parseRequest reads the form fields. A legacy duration in seconds is
// spread evenly over the frames when no delay is given.
func parseRequest(r *http.Request) (request, error) {
	req := request{kind: status.Gif, frames: session.DefaultFrames, delay: session.DefaultDelay}

	if v := r.FormValue("format"); v != "" {
		kind, ok := formats[v]
		if !ok {
			return req, fmt.Errorf("unknown format %q", v)
		}
		req.kind = kind
	}

	var err error
	if req.frames, err = intField(r, "loops", session.DefaultFrames, 0, MaxFrames); err != nil {
		return req, err
	}
	switch {
	case r.FormValue("delay") != "":
		if req.delay, err = intField(r, "delay", session.DefaultDelay, MinDelay, math.MaxInt32); err != nil {
			return req, err
		}
	case r.FormValue("duration") != "":
		seconds, err := strconv.ParseFloat(r.FormValue("duration"), 64)
		if err != nil || seconds <= 0 {
			return req, fmt.Errorf("invalid duration %q", r.FormValue("duration"))
		}
		req.delay = max(MinDelay, int(math.Round(seconds*1000/float64(max(req.frames, 1)))))
	}

	bools := []struct {
		name string
		dst  *bool
	}{
		{"seamless", &req.settings.SeamlessLoop},
		{"invert", &req.settings.Invert},
		{"grayscale", &req.settings.Grayscale},
		{"sepia", &req.settings.Sepia},
		{"edges", &req.settings.EdgeDetect},
		{"transparent", &req.settings.TransparentBackground},
	}
	for _, b := range bools {
		v := r.FormValue(b.name)
		if v == "" {
			continue
		}
		if *b.dst, err = strconv.ParseBool(v); err != nil {
			return req, fmt.Errorf("invalid %s %q", b.name, v)
		}
	}
	if req.settings.Pixelate, err = intField(r, "pixelate", 0, 0, 100); err != nil {
		return req, err
	}
	return req, nil
}

func intField(r *http.Request, name string, def, lo, hi int) (int, error) {
	v := r.FormValue(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < lo || n > hi {
		return 0, fmt.Errorf("invalid %s %q: want an integer in [%d, %d]", name, v, lo, hi)
	}
	return n, nil
}
