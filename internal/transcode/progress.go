package transcode

import (
	"bytes"
	"regexp"
	"strconv"
	"time"
)

var (
	durationRe = regexp.MustCompile(`Duration:\s*(\d+):(\d{2}):(\d{2}(?:\.\d+)?)`)
	timeRe     = regexp.MustCompile(`time=\s*(\d+):(\d{2}):(\d{2}(?:\.\d+)?)`)
)

// progressWriter turns ffmpeg's stderr into completion fractions. ffmpeg
// rewrites its status line with carriage returns, so both \r and \n end a
// line.
type progressWriter struct {
	emit     func(float64)
	pending  []byte
	duration time.Duration
	tail     []string
}

const tailLines = 8

func (w *progressWriter) Write(p []byte) (int, error) {
	w.pending = append(w.pending, p...)
	for {
		i := bytes.IndexAny(w.pending, "\r\n")
		if i < 0 {
			break
		}
		w.line(string(w.pending[:i]))
		w.pending = w.pending[i+1:]
	}
	return len(p), nil
}

func (w *progressWriter) line(s string) {
	if s == "" {
		return
	}
	w.tail = append(w.tail, s)
	if len(w.tail) > tailLines {
		w.tail = w.tail[1:]
	}
	if m := durationRe.FindStringSubmatch(s); m != nil {
		w.duration = clock(m[1:])
		return
	}
	if m := timeRe.FindStringSubmatch(s); m != nil && w.duration > 0 {
		w.emit(min(1, float64(clock(m[1:]))/float64(w.duration)))
	}
}

// clock parses hours, minutes and seconds captures.
func clock(parts []string) time.Duration {
	h, _ := strconv.Atoi(parts[0])
	m, _ := strconv.Atoi(parts[1])
	s, _ := strconv.ParseFloat(parts[2], 64)
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(s*float64(time.Second))
}
