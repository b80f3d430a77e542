package frames

import (
	"fmt"
	"image"

	"github.com/campbel/fragment/internal/raster"
)

// Sequence is the immutable output of one generation run. Frame 0 is the
// unfragmented base image.
type Sequence struct {
	ID          string
	Dims        Dimensions
	Transparent bool

	frames [][]byte
}

// NewSequence wraps already encoded frame snapshots.
func NewSequence(id string, dims Dimensions, transparent bool, frames [][]byte) *Sequence {
	return &Sequence{ID: id, Dims: dims, Transparent: transparent, frames: frames}
}

func (s *Sequence) Len() int {
	if s == nil {
		return 0
	}
	return len(s.frames)
}

// Encoded returns the snapshot bytes of frame i.
func (s *Sequence) Encoded(i int) []byte {
	return s.frames[i]
}

// Decode returns frame i as a fresh surface.
func (s *Sequence) Decode(i int) (*image.NRGBA, error) {
	img, err := raster.DecodeSnapshot(s.frames[i])
	if err != nil {
		return nil, fmt.Errorf("decode frame %d: %w", i, err)
	}
	return img, nil
}

// DecodeAll decodes every frame in index order.
func (s *Sequence) DecodeAll() ([]*image.NRGBA, error) {
	out := make([]*image.NRGBA, s.Len())
	for i := range out {
		img, err := s.Decode(i)
		if err != nil {
			return nil, err
		}
		out[i] = img
	}
	return out, nil
}

// Ext is the file extension of the snapshots.
func (s *Sequence) Ext() string {
	return raster.Ext(s.Transparent)
}

// ExportIndices lists the frames that go into an export. With a transparent
// background the base frame carries nothing but the stripped source, so it is
// left out.
func (s *Sequence) ExportIndices() []int {
	start := 0
	if s.Transparent {
		start = 1
	}
	var out []int
	for i := start; i < s.Len(); i++ {
		out = append(out, i)
	}
	return out
}

// PlayOrder returns the order frames are shown in. A seamless loop plays the
// frames forward and then backward, dropping both ends of the reversed run
// so the turnaround frames are not shown twice.
func PlayOrder(indices []int, seamless bool) []int {
	order := append([]int(nil), indices...)
	if !seamless || len(indices) <= 2 {
		return order
	}
	for i := len(indices) - 2; i >= 1; i-- {
		order = append(order, indices[i])
	}
	return order
}

// Indices returns 0..n-1.
func Indices(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
