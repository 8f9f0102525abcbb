package rtsp

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSDP = "v=0\r\n" +
	"o=- 0 0 IN IP4 127.0.0.1\r\n" +
	"s=camera\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"t=0 0\r\n" +
	"a=control:*\r\n" +
	"m=video 0 RTP/AVP 96\r\n" +
	"a=rtpmap:96 H264/90000\r\n" +
	"a=fmtp:96 packetization-mode=1;sprop-parameter-sets=Z0IAKeKQFAe2AtwEBAaQeJEV,aM48gA==\r\n" +
	"a=control:trackID=1\r\n" +
	"m=audio 0 RTP/AVP 8\r\n" +
	"a=rtpmap:8 PCMA/8000\r\n" +
	"a=control:trackID=2\r\n"

type recordedRequest struct {
	method Method
	url    string
	header textproto.MIMEHeader
}

// fakeCamera answers one RTSP connection the way a simple IP camera does.
type fakeCamera struct {
	listener net.Listener

	mu          sync.Mutex
	requests    []recordedRequest
	setupCodes  []int
	describe    int
	silent      bool
	afterPlay   [][]byte
}

func newFakeCamera(t *testing.T) *fakeCamera {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	f := &fakeCamera{listener: l, describe: 200}
	t.Cleanup(func() { _ = l.Close() })
	go f.serve()
	return f
}

func (f *fakeCamera) url(t *testing.T) *url.URL {
	u, err := url.Parse(fmt.Sprintf("rtsp://admin:secret@%s/stream", f.listener.Addr()))
	require.NoError(t, err)
	return u
}

func (f *fakeCamera) recorded() []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedRequest(nil), f.requests...)
}

func (f *fakeCamera) serve() {
	nc, err := f.listener.Accept()
	if err != nil {
		return
	}
	defer nc.Close()

	reader := textproto.NewReader(bufio.NewReader(nc))
	for {
		line, err := reader.ReadLine()
		if err != nil {
			return
		}
		if line == "" {
			continue
		}
		header, err := reader.ReadMIMEHeader()
		if err != nil {
			return
		}
		parts := strings.Fields(line)
		method := Method(parts[0])

		f.mu.Lock()
		f.requests = append(f.requests, recordedRequest{method: method, url: parts[1], header: header})
		silent := f.silent
		f.mu.Unlock()
		if silent {
			continue
		}

		code := 200
		var extra []string
		var body string
		switch method {
		case MethodDescribe:
			code = f.describe
			body = testSDP
			extra = append(extra, "Content-Type: application/sdp",
				fmt.Sprintf("Content-Base: rtsp://%s/stream/", f.listener.Addr()))
		case MethodSetup:
			f.mu.Lock()
			if len(f.setupCodes) > 0 {
				code = f.setupCodes[0]
				f.setupCodes = f.setupCodes[1:]
			}
			f.mu.Unlock()
			if code == 200 {
				extra = append(extra, "Session: 12345678;timeout=60", "Transport: "+header.Get("Transport"))
			}
		}

		res := fmt.Sprintf("RTSP/1.0 %d Status\r\nCSeq: %s\r\n", code, header.Get("CSeq"))
		for _, e := range extra {
			res += e + "\r\n"
		}
		if body != "" {
			res += fmt.Sprintf("Content-Length: %d\r\n", len(body))
		}
		res += "\r\n" + body
		if _, err := nc.Write([]byte(res)); err != nil {
			return
		}

		if method == MethodPlay {
			f.mu.Lock()
			frames := f.afterPlay
			f.mu.Unlock()
			for _, frame := range frames {
				_, _ = nc.Write(frame)
			}
		}
	}
}

func interleavedFrame(channel uint8, payload []byte) []byte {
	frame := []byte{0x24, channel, 0, 0}
	binary.BigEndian.PutUint16(frame[2:], uint16(len(payload)))
	return append(frame, payload...)
}

type chanWriter chan []byte

func (w chanWriter) Write(p []byte) (int, error) {
	w <- append([]byte(nil), p...)
	return len(p), nil
}

func TestClientNegotiatesInterleavedSession(t *testing.T) {
	camera := newFakeCamera(t)
	camera.afterPlay = [][]byte{
		interleavedFrame(1, []byte{0xde, 0xad}),
		interleavedFrame(0, []byte{0x80, 0x60, 0x00, 0x01}),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c := NewClient()
	require.NoError(t, c.Connect(ctx, camera.url(t)))
	defer c.Close()

	_, err := c.Options(ctx)
	require.NoError(t, err)

	desc, err := c.Describe(ctx)
	require.NoError(t, err)

	video, err := FirstTrack(desc, "video")
	require.NoError(t, err)
	assert.Equal(t, "trackID=1", video.Control)
	assert.Contains(t, video.Fmtp, "sprop-parameter-sets")

	audio, err := FirstTrack(desc, "audio")
	require.NoError(t, err)

	reply, err := c.Setup(ctx, video.Control, true)
	require.NoError(t, err)
	assert.Equal(t, 200, reply.Code)
	assert.Equal(t, "12345678", reply.Session)

	_, err = c.Setup(ctx, audio.Control, true)
	require.NoError(t, err)

	video0 := make(chanWriter, 4)
	require.NoError(t, c.Play(ctx, []io.Writer{video0, nil, nil, nil}))

	select {
	case got := <-video0:
		assert.Equal(t, []byte{0x80, 0x60, 0x00, 0x01}, got)
	case <-ctx.Done():
		t.Fatal("no frame delivered to slot 0")
	}

	require.NoError(t, c.Teardown(ctx))
	require.NoError(t, c.Close())

	requests := camera.recorded()
	var methods []Method
	for _, r := range requests {
		methods = append(methods, r.method)
		assert.True(t, strings.HasPrefix(r.header.Get("Authorization"), "Basic "))
		assert.NotContains(t, r.url, "secret")
	}
	assert.Equal(t, []Method{
		MethodOptions, MethodDescribe, MethodSetup, MethodSetup, MethodPlay, MethodTeardown,
	}, methods)

	assert.True(t, strings.HasSuffix(requests[2].url, "/stream/trackID=1"))
	assert.Equal(t, "RTP/AVP/TCP;unicast;interleaved=0-1", requests[2].header.Get("Transport"))
	assert.Equal(t, "RTP/AVP/TCP;unicast;interleaved=2-3", requests[3].header.Get("Transport"))
	assert.Equal(t, "12345678", requests[3].header.Get("Session"))
	assert.Equal(t, "12345678", requests[5].header.Get("Session"))
}

func TestClientSetupReportsRejectionWithoutConsumingTrack(t *testing.T) {
	camera := newFakeCamera(t)
	camera.setupCodes = []int{403}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c := NewClient()
	require.NoError(t, c.Connect(ctx, camera.url(t)))
	defer c.Close()

	reply, err := c.Setup(ctx, "trackID=1", true)
	require.NoError(t, err)
	assert.Equal(t, 403, reply.Code)
	assert.Empty(t, reply.Session)

	reply, err = c.Setup(ctx, "trackID=1", true)
	require.NoError(t, err)
	assert.Equal(t, 200, reply.Code)

	requests := camera.recorded()
	require.Len(t, requests, 2)
	assert.Equal(t, requests[0].header.Get("Transport"), requests[1].header.Get("Transport"))
}

func TestClientDescribeRefused(t *testing.T) {
	camera := newFakeCamera(t)
	camera.describe = 404

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c := NewClient()
	require.NoError(t, c.Connect(ctx, camera.url(t)))
	defer c.Close()

	_, err := c.Describe(ctx)
	assert.ErrorContains(t, err, "404")
}

func TestClientRequestHonoursContext(t *testing.T) {
	camera := newFakeCamera(t)
	camera.silent = true

	c := NewClient()
	require.NoError(t, c.Connect(context.Background(), camera.url(t)))
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Options(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClientRequiresConnection(t *testing.T) {
	c := NewClient()
	_, err := c.Options(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)

	assert.NoError(t, c.Teardown(context.Background()))
	assert.ErrorIs(t, c.Play(context.Background(), nil), ErrNoSession)
	assert.NoError(t, c.Close())
}

func TestControlURL(t *testing.T) {
	c := NewClient().(*client)
	c.base = "rtsp://10.0.0.5/stream/"

	assert.Equal(t, "rtsp://10.0.0.5/stream/trackID=1", c.controlURL("trackID=1"))
	assert.Equal(t, "rtsp://10.0.0.5/stream/", c.controlURL("*"))
	assert.Equal(t, "rtsp://10.0.0.6/a", c.controlURL("rtsp://10.0.0.6/a"))
}

func pipeClient(t *testing.T) (*client, net.Conn) {
	local, remote := net.Pipe()
	t.Cleanup(func() { _ = remote.Close() })
	c := NewClient().(*client)
	c.conn = local
	c.base = "rtsp://10.0.0.2/stream"
	c.keepalive = 20 * time.Millisecond
	return c, remote
}

func warnings(hook *test.Hook) int {
	n := 0
	for _, entry := range hook.AllEntries() {
		if entry.Level <= log.WarnLevel {
			n++
		}
	}
	return n
}

func TestKeepaliveStopsQuietlyOnClosedConnection(t *testing.T) {
	hook := test.NewGlobal()
	defer hook.Reset()

	c, _ := pipeClient(t)
	c.fail(io.EOF)

	assert.False(t, c.ping())
	assert.Zero(t, warnings(hook))
}

func TestKeepaliveWarnsOnUnansweredRequest(t *testing.T) {
	hook := test.NewGlobal()
	defer hook.Reset()

	c, remote := pipeClient(t)
	go func() { _, _ = io.Copy(io.Discard, remote) }()
	defer c.shutdown()

	assert.True(t, c.ping())
	assert.Equal(t, 1, warnings(hook))
}
