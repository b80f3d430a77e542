package delivery

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Dir delivers into a directory on the local machine. It has no share
// sheet; links point at a uniquely named copy under Dir/links.
type Dir struct {
	Root string
}

func (d Dir) Download(_ context.Context, f File) error {
	if err := os.MkdirAll(d.Root, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(d.Root, f.Name), f.Data, 0o644)
}

func (d Dir) Share(context.Context, File) error {
	return ErrShareUnavailable
}

func (d Dir) Link(_ context.Context, f File) (string, func(), error) {
	dir := filepath.Join(d.Root, "links")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, err
	}
	path, err := filepath.Abs(filepath.Join(dir, fmt.Sprintf("%s-%s", uuid.NewString(), f.Name)))
	if err != nil {
		return "", nil, err
	}
	if err := os.WriteFile(path, f.Data, 0o644); err != nil {
		return "", nil, err
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(path)}
	return u.String(), func() { _ = os.Remove(path) }, nil
}
