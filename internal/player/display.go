package player

import (
	"image"
	"os"
	"path/filepath"

	"github.com/campbel/fragment/internal/raster"
)

// FileDisplay rewrites a PNG file on every frame. Readers never see a
// partially written file.
type FileDisplay struct {
	Path string
}

func (d FileDisplay) Present(img image.Image) error {
	f, err := os.CreateTemp(filepath.Dir(d.Path), ".preview-*.png")
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())

	if err := raster.Encode(f, img, true); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), d.Path)
}
