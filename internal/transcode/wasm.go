package transcode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"
)

// Wasm runs an ffmpeg build compiled to WASI. The workspace directory is
// mounted as the module's root filesystem.
type Wasm struct {
	*workspace
	progressHub

	runtime  wazero.Runtime
	compiled wazero.CompiledModule
	ready    atomic.Bool
	mu       sync.Mutex
	logger   *log.Logger
}

func NewWasm(logger *log.Logger) (*Wasm, error) {
	if logger == nil {
		logger = log.Default()
	}
	ws, err := newWorkspace()
	if err != nil {
		return nil, err
	}
	return &Wasm{workspace: ws, logger: logger.WithPrefix("ffmpeg.wasm")}, nil
}

// Load compiles module in the background. The channel yields the outcome
// once and is then closed.
func (w *Wasm) Load(ctx context.Context, module []byte) <-chan error {
	done := make(chan error, 1)
	go func() {
		defer close(done)
		start := time.Now()
		r := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().WithCloseOnContextDone(true))
		if _, err := wasi_snapshot_preview1.Instantiate(ctx, r); err != nil {
			_ = r.Close(ctx)
			done <- fmt.Errorf("instantiate wasi: %w", err)
			return
		}
		compiled, err := r.CompileModule(ctx, module)
		if err != nil {
			_ = r.Close(ctx)
			done <- fmt.Errorf("compile ffmpeg module: %w", err)
			return
		}
		w.mu.Lock()
		w.runtime, w.compiled = r, compiled
		w.mu.Unlock()
		w.ready.Store(true)
		w.logger.Debug("ffmpeg module compiled", "duration", time.Since(start))
		done <- nil
	}()
	return done
}

func (w *Wasm) Ready() bool { return w.ready.Load() }

func (w *Wasm) Exec(ctx context.Context, args []string) error {
	if !w.Ready() {
		return ErrNotReady
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	pw := &progressWriter{emit: w.emit}
	cfg := wazero.NewModuleConfig().
		WithName("").
		WithArgs(append([]string{"ffmpeg", "-nostdin", "-hide_banner"}, args...)...).
		WithStdout(io.Discard).
		WithStderr(pw).
		WithSysWalltime().
		WithSysNanotime().
		WithFSConfig(wazero.NewFSConfig().WithDirMount(w.root, "/"))

	w.logger.Debug("exec", "args", strings.Join(args, " "))
	mod, err := w.runtime.InstantiateModule(ctx, w.compiled, cfg)
	if mod != nil {
		_ = mod.Close(ctx)
	}
	if err != nil {
		var exit *sys.ExitError
		if !errors.As(err, &exit) || exit.ExitCode() != 0 {
			return fmt.Errorf("ffmpeg: %w: %s", err, strings.Join(pw.tail, " | "))
		}
	}
	w.emit(1)
	return nil
}

// Close releases the runtime and removes the workspace.
func (w *Wasm) Close(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ready.Store(false)
	var err error
	if w.runtime != nil {
		err = w.runtime.Close(ctx)
	}
	return errors.Join(err, w.close())
}
