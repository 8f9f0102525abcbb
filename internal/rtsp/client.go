package rtsp

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/rtcp"
	"github.com/pion/sdp/v3"
	log "github.com/sirupsen/logrus"

	"github.com/bilbercode/cam-archive/internal/rtsp/transport"
)

const (
	userAgent    = "cam-archive"
	defaultPort  = "554"
	readBuffer   = 4096
	packetBuffer = 65536
)

type client struct {
	sync.Mutex
	writeMu sync.Mutex

	dialer    *net.Dialer
	conn      net.Conn
	base      string
	auth      string
	keepalive time.Duration
	log       *log.Entry

	seq     int64
	session string
	ports   []int
	tracks  int
	slots   map[uint8]int
	udp     map[int]net.PacketConn

	requestQueue                *requestQueue
	interleavedFrameSubscribers map[string]func(channel uint8, payload []byte)

	wg        sync.WaitGroup
	done      chan struct{}
	closeOnce sync.Once
	err       error
}

type requestQueue struct {
	mu    sync.Mutex
	items map[string]func(response *Response)
}

// NewClient returns an unconnected client that reserves DefaultPorts for
// non-interleaved delivery.
func NewClient() Client {
	return &client{
		dialer:                      &net.Dialer{},
		keepalive:                   30 * time.Second,
		log:                         log.NewEntry(log.StandardLogger()),
		ports:                       DefaultPorts,
		slots:                       make(map[uint8]int),
		udp:                         make(map[int]net.PacketConn),
		requestQueue:                newRequestQueue(),
		interleavedFrameSubscribers: make(map[string]func(channel uint8, payload []byte)),
		done:                        make(chan struct{}),
	}
}

func (c *client) SetPorts(ports []int) {
	c.Lock()
	defer c.Unlock()
	c.ports = ports
}

func (c *client) Connect(ctx context.Context, u *url.URL) error {
	if u.Scheme != "rtsp" {
		return fmt.Errorf("unsupported scheme %s", u.Scheme)
	}
	host := u.Host
	if u.Port() == "" {
		host = net.JoinHostPort(u.Hostname(), defaultPort)
	}

	nc, err := c.dialer.DialContext(ctx, "tcp", host)
	if err != nil {
		return fmt.Errorf("failed to dial endpoint %s: %w", host, err)
	}

	target := *u
	if u.User != nil {
		password, _ := u.User.Password()
		c.auth = "Basic " + base64.StdEncoding.EncodeToString([]byte(u.User.Username()+":"+password))
		target.User = nil
	}

	c.Lock()
	c.conn = nc
	c.base = target.String()
	c.log = log.WithField("endpoint", host)
	c.Unlock()

	c.wg.Add(1)
	go c.readLoop()
	return nil
}

func (c *client) Options(ctx context.Context) (*Response, error) {
	res, err := c.do(ctx, MethodOptions, c.baseURL(), nil)
	if err != nil {
		return nil, err
	}
	if !res.OK() {
		return res, fmt.Errorf("camera refused OPTIONS: %d %s", res.Code, res.Message)
	}
	return res, nil
}

func (c *client) Describe(ctx context.Context) (*sdp.SessionDescription, error) {
	header := http.Header{
		"Accept": []string{"application/sdp"},
	}
	res, err := c.do(ctx, MethodDescribe, c.baseURL(), header)
	if err != nil {
		return nil, err
	}
	if !res.OK() {
		return nil, fmt.Errorf("camera refused DESCRIBE: %d %s", res.Code, res.Message)
	}

	if base := res.Header.Get("Content-Base"); base != "" {
		c.Lock()
		c.base = base
		c.Unlock()
	}

	sessionDescription := &sdp.SessionDescription{}
	err = sessionDescription.Unmarshal(res.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse SDP: %w", err)
	}
	return sessionDescription, nil
}

func (c *client) Setup(ctx context.Context, control string, interleaved bool) (*SetupReply, error) {
	c.Lock()
	slot := c.tracks * 2
	ports := c.ports
	c.Unlock()

	var opt transport.Option
	if interleaved {
		opt = transport.New(transport.ProtocolTCP, transport.Interleaved{slot, slot + 1})
	} else {
		if slot+1 >= len(ports) {
			return nil, ErrPortsExhausted
		}
		opt = transport.New(transport.ProtocolUDP, transport.ClientPort{ports[slot], ports[slot+1]})
	}

	header := http.Header{
		"Transport": []string{opt.String()},
	}
	res, err := c.do(ctx, MethodSetup, c.controlURL(control), header)
	if err != nil {
		return nil, fmt.Errorf("failed to setup %s: %w", control, err)
	}

	reply := &SetupReply{Code: res.Code, Session: res.Session(), Interleaved: interleaved}
	if !res.OK() {
		return reply, nil
	}

	c.Lock()
	if reply.Session != "" {
		c.session = reply.Session
	}
	session := c.session
	c.Unlock()
	if session == "" {
		return nil, fmt.Errorf("%w: SETUP %s", ErrNoSession, control)
	}
	reply.Session = session

	if !interleaved {
		err = c.listen(slot, ports[slot], ports[slot+1])
		if err != nil {
			return nil, err
		}
	}

	channels := transport.Interleaved{slot, slot + 1}
	if h, err := transport.Parse(res.Header.Values("Transport")...); err == nil {
		if il, ok := transport.InterleavedChannels(h); ok && interleaved {
			channels = il
		}
	}

	c.Lock()
	if interleaved {
		for i, channel := range channels {
			if i > 1 {
				break
			}
			c.slots[uint8(channel)] = slot + i
		}
	}
	c.tracks++
	c.Unlock()

	return reply, nil
}

func (c *client) Play(ctx context.Context, outs []io.Writer) error {
	c.Lock()
	session := c.session
	listeners := make(map[int]net.PacketConn, len(c.udp))
	for slot, pc := range c.udp {
		listeners[slot] = pc
	}
	c.Unlock()
	if session == "" {
		return ErrNoSession
	}

	c.SubscribeInterleavedFrames(func(channel uint8, payload []byte) {
		c.Lock()
		slot, ok := c.slots[channel]
		c.Unlock()
		if !ok {
			slot = int(channel)
		}
		c.deliver(outs, slot, payload)
	})

	for slot, pc := range listeners {
		c.wg.Add(1)
		go c.readPackets(pc, slot, outs)
	}

	res, err := c.do(ctx, MethodPlay, c.baseURL(), nil)
	if err != nil {
		return fmt.Errorf("failed to request camera to start stream: %w", err)
	}
	if !res.OK() {
		return fmt.Errorf("camera refused PLAY: %d %s", res.Code, res.Message)
	}

	if c.keepalive > 0 {
		c.wg.Add(1)
		go c.keepAlive()
	}
	return nil
}

func (c *client) Teardown(ctx context.Context) error {
	c.Lock()
	session := c.session
	c.Unlock()
	if session == "" {
		return nil
	}

	res, err := c.do(ctx, MethodTeardown, c.baseURL(), nil)
	if err != nil {
		return fmt.Errorf("failed to tear down session %s: %w", session, err)
	}
	if !res.OK() {
		return fmt.Errorf("camera refused TEARDOWN: %d %s", res.Code, res.Message)
	}
	return nil
}

func (c *client) Close() error {
	c.shutdown()
	c.wg.Wait()
	return nil
}

// SubscribeInterleavedFrames registers h for every `$` frame read from the
// control connection and returns its deregistration func.
func (c *client) SubscribeInterleavedFrames(h func(channel uint8, payload []byte)) func() {
	c.Lock()
	defer c.Unlock()
	id := uuid.NewString()
	c.interleavedFrameSubscribers[id] = h
	return func() {
		c.Lock()
		defer c.Unlock()
		delete(c.interleavedFrameSubscribers, id)
	}
}

func (c *client) Done() <-chan struct{} {
	return c.done
}

func (c *client) Err() error {
	c.Lock()
	defer c.Unlock()
	if c.err == nil {
		return net.ErrClosed
	}
	return c.err
}

func (c *client) do(ctx context.Context, method Method, target string, header http.Header) (*Response, error) {
	c.Lock()
	conn := c.conn
	c.seq++
	seq := strconv.FormatInt(c.seq, 10)
	session := c.session
	c.Unlock()
	if conn == nil {
		return nil, ErrNotConnected
	}

	if header == nil {
		header = http.Header{}
	}
	if session != "" && header.Get("Session") == "" {
		header.Set("Session", session)
	}
	if c.auth != "" {
		header.Set("Authorization", c.auth)
	}
	header.Set("User-Agent", userAgent)

	reply := make(chan *Response, 1)
	err := c.requestQueue.Enqueue(seq, func(r *Response) {
		reply <- r
	})
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue request: %w", err)
	}

	request := &Request{
		Version:  "1.0",
		Url:      target,
		Sequence: seq,
		Method:   method,
		Header:   header,
	}
	c.writeMu.Lock()
	err = request.Write(conn)
	c.writeMu.Unlock()
	if err != nil {
		_, _ = c.requestQueue.Dequeue(seq)
		return nil, fmt.Errorf("failed to send %s: %w", method, err)
	}

	select {
	case res := <-reply:
		return res, nil
	case <-ctx.Done():
		_, _ = c.requestQueue.Dequeue(seq)
		return nil, ctx.Err()
	case <-c.done:
		return nil, fmt.Errorf("connection closed during %s: %w", method, c.Err())
	}
}

func (c *client) readLoop() {
	defer c.wg.Done()

	br := bufio.NewReaderSize(c.conn, readBuffer)
	reader := textproto.NewReader(br)
	for {
		first, err := br.Peek(1)
		if err != nil {
			c.fail(err)
			return
		}

		if first[0] == 0x24 {
			header := make([]byte, 4)
			_, err = io.ReadFull(br, header)
			if err != nil {
				c.fail(fmt.Errorf("failed to read interleaved frame header: %w", err))
				return
			}
			length := binary.BigEndian.Uint16(header[2:])
			payload := make([]byte, length)
			_, err = io.ReadFull(br, payload)
			if err != nil {
				c.fail(fmt.Errorf("failed to read interleaved frame payload: %w", err))
				return
			}

			c.Lock()
			handlers := make([]func(uint8, []byte), 0, len(c.interleavedFrameSubscribers))
			for _, h := range c.interleavedFrameSubscribers {
				handlers = append(handlers, h)
			}
			c.Unlock()
			for _, h := range handlers {
				h(header[1], payload)
			}
			continue
		}

		statusLine, err := reader.ReadLine()
		if err != nil {
			c.fail(fmt.Errorf("failed to read RTSP status line: %w", err))
			return
		}
		if statusLine == "" {
			continue
		}
		headers, err := reader.ReadMIMEHeader()
		if err != nil {
			c.fail(fmt.Errorf("failed to read RTSP headers: %w", err))
			return
		}

		var body []byte
		if lengthHeader := headers.Get("Content-Length"); lengthHeader != "" {
			length, err := strconv.Atoi(lengthHeader)
			if err != nil {
				c.fail(fmt.Errorf("failed to parse content-length: %w", err))
				return
			}
			body = make([]byte, length)
			_, err = io.ReadFull(br, body)
			if err != nil {
				c.fail(fmt.Errorf("failed to read body of RTSP: %w", err))
				return
			}
		}

		cSeq := headers.Get("CSeq")
		if !strings.HasPrefix(statusLine, "RTSP/") {
			c.log.WithField("line", statusLine).Debug("ignoring request from camera")
			continue
		}

		version, code, message, err := parseStatusLine(statusLine)
		if err != nil {
			c.fail(err)
			return
		}
		hf, err := c.requestQueue.Dequeue(cSeq)
		if err != nil {
			c.log.WithField("cseq", cSeq).Debug("dropping unsolicited response")
			continue
		}
		hf(&Response{
			Version:  version,
			Code:     code,
			Message:  message,
			Sequence: cSeq,
			Header:   http.Header(headers),
			Body:     body,
		})
	}
}

func (c *client) listen(slot int, ports ...int) error {
	for i, port := range ports {
		pc, err := net.ListenPacket("udp", fmt.Sprintf(":%d", port))
		if err != nil {
			return fmt.Errorf("failed to reserve local port %d: %w", port, err)
		}
		c.Lock()
		c.udp[slot+i] = pc
		c.Unlock()
	}
	return nil
}

func (c *client) readPackets(pc net.PacketConn, slot int, outs []io.Writer) {
	defer c.wg.Done()
	buf := make([]byte, packetBuffer)
	for {
		n, _, err := pc.ReadFrom(buf)
		if err != nil {
			return
		}
		c.deliver(outs, slot, buf[:n])
	}
}

func (c *client) deliver(outs []io.Writer, slot int, payload []byte) {
	if slot < len(outs) && outs[slot] != nil {
		_, err := outs[slot].Write(payload)
		if err != nil {
			c.log.WithError(err).WithField("slot", slot).Debug("output slot rejected data")
		}
		return
	}

	if slot%2 == 1 {
		packets, err := rtcp.Unmarshal(payload)
		if err != nil {
			return
		}
		for _, packet := range packets {
			if sr, ok := packet.(*rtcp.SenderReport); ok {
				c.log.WithField("ssrc", sr.SSRC).WithField("packets", sr.PacketCount).Debug("sender report")
			}
		}
	}
}

func (c *client) keepAlive() {
	defer c.wg.Done()
	timer := time.NewTimer(c.keepalive)
	defer timer.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-timer.C:
			if !c.ping() {
				return
			}
			timer.Reset(c.keepalive)
		}
	}
}

// ping sends one GET_PARAMETER. It reports false once the connection is
// gone, in which case the failure is not worth a warning.
func (c *client) ping() bool {
	ctx, cancel := context.WithTimeout(context.Background(), c.keepalive)
	defer cancel()
	res, err := c.do(ctx, MethodGetParameter, c.baseURL(), nil)
	if err != nil {
		select {
		case <-c.done:
			return false
		default:
		}
		c.log.WithError(err).Warn("keepalive failed")
		return true
	}
	if !res.OK() {
		c.log.WithField("code", res.Code).Debug("keepalive not supported by camera")
	}
	return true
}

func (c *client) fail(err error) {
	c.Lock()
	if c.err == nil {
		c.err = err
	}
	c.Unlock()
	c.shutdown()
}

func (c *client) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.Lock()
		defer c.Unlock()
		if c.conn != nil {
			_ = c.conn.Close()
		}
		for _, pc := range c.udp {
			_ = pc.Close()
		}
	})
}

func (c *client) baseURL() string {
	c.Lock()
	defer c.Unlock()
	return c.base
}

func (c *client) controlURL(control string) string {
	base := c.baseURL()
	switch {
	case control == "" || control == "*":
		return base
	case strings.HasPrefix(control, "rtsp://"):
		return control
	}
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(control, "/")
}

func newRequestQueue() *requestQueue {
	return &requestQueue{
		items: make(map[string]func(response *Response)),
	}
}

func (r *requestQueue) Enqueue(key string, h func(response *Response)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[key]; ok {
		return errors.New("duplicate key")
	}
	r.items[key] = h
	return nil
}

func (r *requestQueue) Dequeue(key string) (func(response *Response), error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.items[key]
	if !ok {
		return nil, errors.New("missing")
	}
	delete(r.items, key)
	return h, nil
}
