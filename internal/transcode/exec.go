package transcode

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
)

// Binary runs a host ffmpeg executable inside the workspace directory.
type Binary struct {
	*workspace
	progressHub

	name   string
	bin    string
	ready  atomic.Bool
	mu     sync.Mutex
	logger *log.Logger
}

func NewBinary(name string, logger *log.Logger) (*Binary, error) {
	if logger == nil {
		logger = log.Default()
	}
	ws, err := newWorkspace()
	if err != nil {
		return nil, err
	}
	return &Binary{workspace: ws, name: name, logger: logger.WithPrefix("ffmpeg")}, nil
}

// Load resolves the executable in the background. The channel yields the
// outcome once and is then closed.
func (b *Binary) Load(ctx context.Context) <-chan error {
	done := make(chan error, 1)
	go func() {
		defer close(done)
		path, err := exec.LookPath(b.name)
		if err != nil {
			done <- fmt.Errorf("find ffmpeg: %w", err)
			return
		}
		if err := exec.CommandContext(ctx, path, "-version").Run(); err != nil {
			done <- fmt.Errorf("probe ffmpeg: %w", err)
			return
		}
		b.bin = path
		b.ready.Store(true)
		b.logger.Debug("ffmpeg ready", "path", path)
		done <- nil
	}()
	return done
}

func (b *Binary) Ready() bool { return b.ready.Load() }

func (b *Binary) Exec(ctx context.Context, args []string) error {
	if !b.Ready() {
		return ErrNotReady
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	pw := &progressWriter{emit: b.emit}
	cmd := exec.CommandContext(ctx, b.bin, append([]string{"-nostdin", "-hide_banner"}, args...)...)
	cmd.Dir = b.root
	cmd.Stderr = pw
	b.logger.Debug("exec", "args", strings.Join(args, " "))
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg: %w: %s", err, strings.Join(pw.tail, " | "))
	}
	b.emit(1)
	return nil
}

// Close removes the workspace.
func (b *Binary) Close() error {
	return b.close()
}
