package frames

import "math"

const (
	MaxWidth  = 1920
	MaxHeight = 1080
)

// Dimensions is the size every frame of a sequence is rendered at. Both
// values are even, since H.264 only accepts even frame sizes.
type Dimensions struct {
	Width  int
	Height int
}

// Normalize derives the output size for a source image. Sources larger than
// MaxWidth x MaxHeight are scaled down uniformly and floored; odd sizes are
// then trimmed by one pixel. The second result is the scaled (pre-trim)
// size and reports whether the source must be resampled.
func Normalize(width, height int) (Dimensions, Dimensions, bool) {
	scaled := Dimensions{Width: width, Height: height}
	resample := false
	if width > MaxWidth || height > MaxHeight {
		scale := math.Min(float64(MaxWidth)/float64(width), float64(MaxHeight)/float64(height))
		scaled = Dimensions{
			Width:  int(math.Floor(float64(width) * scale)),
			Height: int(math.Floor(float64(height) * scale)),
		}
		resample = true
	}

	out := scaled
	if out.Width%2 != 0 {
		out.Width--
	}
	if out.Height%2 != 0 {
		out.Height--
	}
	return out, scaled, resample
}
