package rtsp

import (
	"context"
	"errors"
	"io"
	"net/url"

	"github.com/pion/sdp/v3"
)

type Method string

const (
	MethodOptions      Method = "OPTIONS"
	MethodDescribe     Method = "DESCRIBE"
	MethodSetup        Method = "SETUP"
	MethodPlay         Method = "PLAY"
	MethodTeardown     Method = "TEARDOWN"
	MethodGetParameter Method = "GET_PARAMETER"
)

func (m Method) String() string {
	return string(m)
}

var (
	ErrNotConnected   = errors.New("not connected")
	ErrNoSession      = errors.New("no session established")
	ErrPortsExhausted = errors.New("port pool exhausted")
	ErrTrackMissing   = errors.New("track missing from session description")
)

// DefaultPorts is the local port pool reserved for non-interleaved delivery:
// video RTP/RTCP then audio RTP/RTCP.
var DefaultPorts = []int{49501, 49502, 49503, 49504}

// SetupReply is the outcome of a single SETUP exchange. A non-2xx code is
// not an error; the caller decides whether to retry.
type SetupReply struct {
	Code        int
	Session     string
	Interleaved bool
}

// Client is the control side of one RTSP session against a camera.
type Client interface {
	Connect(ctx context.Context, u *url.URL) error
	Options(ctx context.Context) (*Response, error)
	Describe(ctx context.Context) (*sdp.SessionDescription, error)
	Setup(ctx context.Context, control string, interleaved bool) (*SetupReply, error)
	// Play starts delivery. Data for channel or port slot i is written to
	// outs[i]; nil or missing slots are discarded.
	Play(ctx context.Context, outs []io.Writer) error
	Teardown(ctx context.Context) error
	SetPorts(ports []int)
	Close() error

	// Done is closed once the control connection is gone.
	Done() <-chan struct{}
	Err() error
}
