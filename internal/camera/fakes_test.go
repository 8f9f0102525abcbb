package camera

import (
	"context"
	"errors"
	"io"
	"net"
	"net/url"
	"sync"
	"testing"

	"github.com/pion/sdp/v3"
	"github.com/stretchr/testify/require"

	"github.com/bilbercode/cam-archive/internal/cameras"
	"github.com/bilbercode/cam-archive/internal/rtsp"
)

const (
	videoSection = "m=video 0 RTP/AVP 96\r\n" +
		"a=rtpmap:96 H264/90000\r\n" +
		"a=fmtp:96 packetization-mode=1;sprop-parameter-sets=Z0IAKQ==,aM4=\r\n" +
		"a=control:trackID=1\r\n"
	audioSection = "m=audio 0 RTP/AVP 8\r\n" +
		"a=rtpmap:8 PCMA/8000\r\n" +
		"a=control:trackID=2\r\n"
	sessionSection = "v=0\r\n" +
		"o=- 0 0 IN IP4 127.0.0.1\r\n" +
		"s=camera\r\n" +
		"t=0 0\r\n"
)

var wantPriming = []byte{0, 0, 0, 1, 0x67, 0x42, 0x00, 0x29, 0, 0, 0, 1, 0x68, 0xce}

type setupCall struct {
	control     string
	interleaved bool
}

type fakeClient struct {
	mu          sync.Mutex
	sdp         string
	setupCodes  []int
	connectErr  error
	teardownErr error
	setups      []setupCall
	outs        []io.Writer
	tornDown    bool
	closed      bool
	done        chan struct{}
	doneOnce    sync.Once
	connected   chan struct{}
	blockDial   bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		sdp:       sessionSection + videoSection + audioSection,
		done:      make(chan struct{}),
		connected: make(chan struct{}),
	}
}

func (f *fakeClient) Connect(ctx context.Context, _ *url.URL) error {
	close(f.connected)
	if f.blockDial {
		<-ctx.Done()
		return &net.OpError{Op: "dial", Net: "tcp", Err: ctx.Err()}
	}
	return f.connectErr
}

func (f *fakeClient) Options(context.Context) (*rtsp.Response, error) {
	return &rtsp.Response{Code: 200}, nil
}

func (f *fakeClient) Describe(context.Context) (*sdp.SessionDescription, error) {
	desc := &sdp.SessionDescription{}
	err := desc.Unmarshal([]byte(f.sdp))
	return desc, err
}

func (f *fakeClient) Setup(_ context.Context, control string, interleaved bool) (*rtsp.SetupReply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setups = append(f.setups, setupCall{control: control, interleaved: interleaved})
	code := 200
	if len(f.setupCodes) > 0 {
		code = f.setupCodes[0]
		f.setupCodes = f.setupCodes[1:]
	}
	reply := &rtsp.SetupReply{Code: code, Interleaved: interleaved}
	if code == 200 {
		reply.Session = "12345678"
	}
	return reply, nil
}

func (f *fakeClient) Play(_ context.Context, outs []io.Writer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outs = outs
	return nil
}

func (f *fakeClient) Teardown(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tornDown = true
	return f.teardownErr
}

func (f *fakeClient) SetPorts([]int) {}

func (f *fakeClient) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.drop()
	return nil
}

func (f *fakeClient) Done() <-chan struct{} {
	return f.done
}

func (f *fakeClient) Err() error {
	return errors.New("connection reset by camera")
}

func (f *fakeClient) drop() {
	f.doneOnce.Do(func() { close(f.done) })
}

func (f *fakeClient) calls() []setupCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]setupCall(nil), f.setups...)
}

type fakeSink struct {
	mu        sync.Mutex
	rotations [][]byte
	closed    bool
	closeErr  error
	written   int
}

func (s *fakeSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.written += len(p)
	return len(p), nil
}

func (s *fakeSink) Rotate(priming []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rotations = append(s.rotations, append([]byte(nil), priming...))
	return nil
}

func (s *fakeSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return s.closeErr
}

func (s *fakeSink) snapshot() ([][]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.rotations...), s.closed
}

type fakeReceiver struct {
	mu      sync.Mutex
	played  bool
	stopped bool
	done    chan struct{}
	err     error
}

func (r *fakeReceiver) Play(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.played = true
	return nil
}

func (r *fakeReceiver) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	return nil
}

func (r *fakeReceiver) Done() <-chan struct{} {
	return r.done
}

func (r *fakeReceiver) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// fail ends delivery with err the way a reset connection does.
func (r *fakeReceiver) fail(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
	close(r.done)
}

type fixedSettings int

func (s fixedSettings) RotationSeconds() int {
	return int(s)
}

func rtspOptions(t *testing.T, client *fakeClient, sink *fakeSink, interval int) Options {
	return Options{
		Settings: fixedSettings(interval),
		Clients:  func() rtsp.Client { return client },
		Sinks: func(*cameras.Camera, string) Sink {
			return sink
		},
		Receivers: func(*url.URL, io.Writer) Receiver {
			t.Fatal("rtsp camera must not build an http receiver")
			return nil
		},
	}
}

func noNetworkOptions(t *testing.T) Options {
	return Options{
		Settings: fixedSettings(1),
		Clients: func() rtsp.Client {
			t.Fatal("client constructed")
			return nil
		},
		Sinks: func(*cameras.Camera, string) Sink {
			t.Fatal("archive output opened")
			return nil
		},
		Receivers: func(*url.URL, io.Writer) Receiver {
			t.Fatal("receiver constructed")
			return nil
		},
	}
}

func requireStopped(t *testing.T, w *Worker) {
	require.Equal(t, StateStopped, w.Status().State)
}
