package cameras

import (
	"context"
	"errors"
)

var ErrPersistence = errors.New("camera directory unavailable")

// Camera is one capture target. URL is kept raw; a malformed value is a
// fault of that camera's worker, not of the directory load.
type Camera struct {
	ID      string
	Name    string
	URL     string
	Enabled bool
}

// Directory loads the configured cameras. Any failure wraps ErrPersistence
// and no partial list is returned.
type Directory interface {
	LoadAll(ctx context.Context) ([]*Camera, error)
}

// Registry is a Directory that can also store cameras.
type Registry interface {
	Directory
	Save(ctx context.Context, camera *Camera) error
}
