package camera

import (
	"context"
	"errors"
	"io"
	"net/url"
	"time"

	"github.com/bilbercode/cam-archive/internal/cameras"
	"github.com/bilbercode/cam-archive/internal/rtsp"
)

var (
	ErrUnsupportedProtocol = errors.New("unsupported protocol")
	ErrMalformedURL        = errors.New("malformed camera url")
	ErrTransportRejected   = errors.New("camera rejected transport setup")
	ErrStreamInterrupted   = errors.New("stream interrupted")
)

type State int

const (
	StateDispatching State = iota
	StateNegotiating
	StateActive
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateDispatching:
		return "dispatching"
	case StateNegotiating:
		return "negotiating"
	case StateActive:
		return "active"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type Status struct {
	CameraID  string    `json:"camera_id"`
	Name      string    `json:"name"`
	State     State     `json:"state"`
	Rotations int       `json:"rotations"`
	Since     time.Time `json:"since"`
	Error     string    `json:"error,omitempty"`
}

// Sink is the archive output of one camera.
type Sink interface {
	io.Writer
	Rotate(priming []byte) error
	Close() error
}

type Receiver interface {
	Play(ctx context.Context) error
	Stop() error
	// Done is closed when delivery ends; Err then holds the read fault,
	// nil when the camera closed the stream cleanly.
	Done() <-chan struct{}
	Err() error
}

type Settings interface {
	RotationSeconds() int
}

type Options struct {
	Settings  Settings
	Sinks     func(camera *cameras.Camera, ext string) Sink
	Clients   func() rtsp.Client
	Receivers func(u *url.URL, w io.Writer) Receiver

	// Ports is the local pool for non-interleaved delivery.
	Ports []int
	// Step is the rotation clock checkpoint.
	Step            time.Duration
	DialTimeout     time.Duration
	TeardownTimeout time.Duration
}

// NegotiatedSession is what the RTSP handshake settled on.
type NegotiatedSession struct {
	Interleaved bool
	SessionID   string
	Ports       []int
	// Priming is nil when the video track has no usable parameter sets.
	Priming []byte
}

// session is one protocol branch of a worker.
type session interface {
	negotiate(ctx context.Context) error
	start(ctx context.Context) error
	rotate() error
	// done is closed when delivery stops on its own.
	done() <-chan struct{}
	cause() error
	teardown() []error
}
