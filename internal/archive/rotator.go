package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shirou/gopsutil/disk"
	log "github.com/sirupsen/logrus"
)

var ErrClosed = errors.New("archive closed")

const maxNameAttempts = 1000

type Segment struct {
	CameraID  string
	Path      string
	StartedAt time.Time
}

// Catalog records every segment a rotator opens.
type Catalog interface {
	RecordSegment(ctx context.Context, segment Segment) error
}

type Option func(r *Rotator)

func WithCatalog(c Catalog) Option {
	return func(r *Rotator) {
		r.catalog = c
	}
}

// WithMinFreePercent logs a warning at rotation when the archive volume has
// less free space than p percent.
func WithMinFreePercent(p float64) Option {
	return func(r *Rotator) {
		r.minFree = p
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Rotator) {
		r.now = now
	}
}

// Rotator is the archive output of one camera. At most one segment file is
// open at a time; Rotate closes the current one before creating the next.
type Rotator struct {
	mu       sync.Mutex
	dir      string
	cameraID string
	ext      string
	file     *os.File
	path     string
	sequence int
	written  int64
	closed   bool

	catalog Catalog
	minFree float64
	now     func() time.Time
	usage   func(path string) (*disk.UsageStat, error)
	log     *log.Entry
}

func NewRotator(root, cameraID, ext string, opts ...Option) *Rotator {
	r := &Rotator{
		dir:      filepath.Join(root, cameraID),
		cameraID: cameraID,
		ext:      ext,
		now:      time.Now,
		usage:    disk.Usage,
		log:      log.WithField("camera", cameraID),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Rotate closes the open segment, opens the next one and writes priming at
// its head. priming may be nil.
func (r *Rotator) Rotate(priming []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	err := r.closeFile()
	if err != nil {
		return err
	}

	err = os.MkdirAll(r.dir, 0755)
	if err != nil {
		return fmt.Errorf("failed to create archive directory %s: %w", r.dir, err)
	}
	r.checkDisk()

	started := r.now()
	file, name, err := r.create(started)
	if err != nil {
		return err
	}
	r.file = file
	r.path = name
	r.written = 0

	if len(priming) > 0 {
		_, err = file.Write(priming)
		if err != nil {
			return fmt.Errorf("failed to write priming bytes: %w", err)
		}
	}

	if r.catalog != nil {
		err = r.catalog.RecordSegment(context.Background(), Segment{CameraID: r.cameraID, Path: name, StartedAt: started})
		if err != nil {
			r.log.WithError(err).Warn("segment not recorded in catalog")
		}
	}
	r.log.WithField("segment", name).Debug("segment opened")
	return nil
}

// create opens the next free name for started. A name taken by an earlier
// rotator of the same camera moves the sequence on.
func (r *Rotator) create(started time.Time) (*os.File, string, error) {
	stamp := started.Format("20060102_150405")
	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		r.sequence++
		name := filepath.Join(r.dir, fmt.Sprintf("%s_%04d.%s", stamp, r.sequence, r.ext))
		file, err := os.OpenFile(name, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		switch {
		case err == nil:
			return file, name, nil
		case errors.Is(err, os.ErrExist):
			continue
		default:
			return nil, "", fmt.Errorf("failed to create segment: %w", err)
		}
	}
	return nil, "", fmt.Errorf("failed to create segment: no free name for %s after %d attempts", stamp, maxNameAttempts)
}

// Write appends to the open segment. Data arriving with no segment open is
// dropped.
func (r *Rotator) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return 0, ErrClosed
	}
	if r.file == nil {
		return len(p), nil
	}
	n, err := r.file.Write(p)
	r.written += int64(n)
	return n, err
}

func (r *Rotator) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	return r.closeFile()
}

// Current returns the path of the open segment, empty if none.
func (r *Rotator) Current() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.path
}

func (r *Rotator) closeFile() error {
	if r.file == nil {
		return nil
	}
	file := r.file
	r.file = nil
	r.path = ""

	err := file.Sync()
	if err != nil {
		_ = file.Close()
		return fmt.Errorf("failed to sync segment: %w", err)
	}
	err = file.Close()
	if err != nil {
		return fmt.Errorf("failed to close segment: %w", err)
	}
	return nil
}

func (r *Rotator) checkDisk() {
	if r.minFree <= 0 {
		return
	}
	stat, err := r.usage(r.dir)
	if err != nil {
		r.log.WithError(err).Debug("failed to read archive volume usage")
		return
	}
	if free := 100 - stat.UsedPercent; free < r.minFree {
		r.log.WithField("free_percent", fmt.Sprintf("%.1f", free)).Warn("archive volume low on space")
	}
}
