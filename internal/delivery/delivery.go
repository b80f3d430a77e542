// Package delivery hands finished exports to the user in the way that works
// on their platform.
package delivery

import (
	"context"
	"errors"
	"regexp"
	"sync"

	"github.com/charmbracelet/log"
)

var (
	// ErrShareCancelled means the user dismissed the share sheet.
	ErrShareCancelled = errors.New("share cancelled")
	// ErrShareUnavailable means the target cannot share files.
	ErrShareUnavailable = errors.New("share unavailable")
)

const (
	TypeZip   = "application/zip"
	TypeGif   = "image/gif"
	TypeVideo = "video/mp4"
)

// File is one finished artifact.
type File struct {
	Name string
	Type string
	Data []byte
}

// Method is how a file reaches the user.
type Method int

const (
	Download Method = iota
	Share
	Link
)

func (m Method) String() string {
	switch m {
	case Download:
		return "download"
	case Share:
		return "share"
	case Link:
		return "link"
	}
	return "unknown"
}

var iosAgent = regexp.MustCompile(`iPad|iPhone|iPod`)

// Platform describes the receiving device.
type Platform struct {
	UserAgent string
	CanShare  bool
}

func (p Platform) IOS() bool {
	return iosAgent.MatchString(p.UserAgent)
}

// Choose picks the delivery method. iOS cannot be trusted with direct video
// downloads, so videos get a link the user opens and saves; GIFs go to the
// share sheet when there is one. Everything else is downloaded.
func Choose(p Platform, fileType string) Method {
	if !p.IOS() {
		return Download
	}
	switch {
	case fileType == TypeVideo:
		return Link
	case fileType == TypeGif && p.CanShare:
		return Share
	}
	return Download
}

// Target performs the delivery methods.
type Target interface {
	Download(ctx context.Context, f File) error
	Share(ctx context.Context, f File) error
	// Link publishes f and returns its location plus a function that
	// withdraws it again.
	Link(ctx context.Context, f File) (url string, revoke func(), err error)
}

// Result reports what Deliver did.
type Result struct {
	Method Method
	URL    string
}

// Deliverer tracks the fallback link of the last delivery so it can be
// withdrawn before the next one.
type Deliverer struct {
	target   Target
	platform Platform
	logger   *log.Logger

	mu     sync.Mutex
	revoke func()
}

func New(target Target, platform Platform, logger *log.Logger) *Deliverer {
	if logger == nil {
		logger = log.Default()
	}
	return &Deliverer{target: target, platform: platform, logger: logger.WithPrefix("delivery")}
}

// Cleanup withdraws the last fallback link, if any.
func (d *Deliverer) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.revoke != nil {
		d.revoke()
		d.revoke = nil
	}
}

// Deliver sends f to the user. A cancelled share is not an error; an
// unavailable or failed share falls back to a download.
func (d *Deliverer) Deliver(ctx context.Context, f File) (Result, error) {
	d.Cleanup()

	method := Choose(d.platform, f.Type)
	d.logger.Debug("delivering", "file", f.Name, "bytes", len(f.Data), "method", method)
	switch method {
	case Link:
		url, revoke, err := d.target.Link(ctx, f)
		if err != nil {
			return Result{}, err
		}
		d.mu.Lock()
		d.revoke = revoke
		d.mu.Unlock()
		return Result{Method: Link, URL: url}, nil
	case Share:
		err := d.target.Share(ctx, f)
		if err == nil {
			return Result{Method: Share}, nil
		}
		if errors.Is(err, ErrShareCancelled) {
			d.logger.Debug("share was cancelled", "file", f.Name)
			return Result{Method: Share}, nil
		}
		if !errors.Is(err, ErrShareUnavailable) {
			d.logger.Warn("share failed, downloading instead", "file", f.Name, "err", err)
		}
	}
	if err := d.target.Download(ctx, f); err != nil {
		return Result{}, err
	}
	return Result{Method: Download}, nil
}
