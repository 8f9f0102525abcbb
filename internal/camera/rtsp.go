package camera

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	log "github.com/sirupsen/logrus"

	"github.com/bilbercode/cam-archive/internal/cameras"
	"github.com/bilbercode/cam-archive/internal/h264"
	"github.com/bilbercode/cam-archive/internal/rtsp"
)

// outputSlots covers video RTP/RTCP and audio RTP/RTCP. Only the video RTP
// slot is archived.
const outputSlots = 4

type rtspSession struct {
	camera *cameras.Camera
	url    *url.URL
	opts   *Options
	log    *log.Entry

	client     rtsp.Client
	sink       Sink
	negotiated *NegotiatedSession
}

// negotiate runs connect, OPTIONS, DESCRIBE and SETUP for video then audio.
// The video SETUP is tried interleaved first and retried once with the mode
// toggled if the camera answers 403; audio reuses the settled mode.
func (s *rtspSession) negotiate(ctx context.Context) error {
	s.client = s.opts.Clients()
	s.client.SetPorts(s.opts.Ports)

	dialCtx := ctx
	if s.opts.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, s.opts.DialTimeout)
		defer cancel()
	}
	err := s.client.Connect(dialCtx, s.url)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	_, err = s.client.Options(ctx)
	if err != nil {
		return fmt.Errorf("failed to query capabilities: %w", err)
	}

	desc, err := s.client.Describe(ctx)
	if err != nil {
		return fmt.Errorf("failed to describe session: %w", err)
	}
	video, err := rtsp.FirstTrack(desc, "video")
	if err != nil {
		return err
	}
	audio, err := rtsp.FirstTrack(desc, "audio")
	if err != nil {
		return err
	}
	s.log.WithField("video", video.Control).WithField("audio", audio.Control).Debug("tracks described")

	priming := s.priming(video)

	interleaved := true
	reply, err := s.client.Setup(ctx, video.Control, interleaved)
	if err != nil {
		return err
	}
	if reply.Code == http.StatusForbidden {
		s.log.Warn("camera rejected interleaved transport, retrying with the mode toggled")
		transportFallbacks.Inc()
		interleaved = !interleaved
		reply, err = s.client.Setup(ctx, video.Control, interleaved)
		if err != nil {
			return err
		}
	}
	if reply.Code < 200 || reply.Code >= 300 {
		return fmt.Errorf("%w: SETUP %s answered %d", ErrTransportRejected, video.Control, reply.Code)
	}
	sessionID := reply.Session
	s.log.WithField("session", sessionID).WithField("interleaved", interleaved).Debug("video track set up")

	reply, err = s.client.Setup(ctx, audio.Control, interleaved)
	if err != nil {
		return err
	}
	if reply.Code < 200 || reply.Code >= 300 {
		return fmt.Errorf("%w: SETUP %s answered %d", ErrTransportRejected, audio.Control, reply.Code)
	}

	s.negotiated = &NegotiatedSession{
		Interleaved: interleaved,
		SessionID:   sessionID,
		Ports:       s.opts.Ports,
		Priming:     priming,
	}
	return nil
}

func (s *rtspSession) priming(video *rtsp.Track) []byte {
	if video.Fmtp == "" {
		return nil
	}
	sps, pps, err := h264.ParameterSets(video.Fmtp)
	if err != nil {
		if !errors.Is(err, h264.ErrNoParameterSets) {
			s.log.WithError(err).Warn("ignoring unreadable codec parameter sets")
		}
		return nil
	}
	return h264.Priming(sps, pps)
}

func (s *rtspSession) start(ctx context.Context) error {
	s.sink = s.opts.Sinks(s.camera, "h264")
	err := s.sink.Rotate(s.negotiated.Priming)
	if err != nil {
		return fmt.Errorf("failed to open first segment: %w", err)
	}

	outs := make([]io.Writer, outputSlots)
	outs[0] = h264.NewDepacketizer(s.sink)
	err = s.client.Play(ctx, outs)
	if err != nil {
		return err
	}
	s.log.WithField("session", s.negotiated.SessionID).Info("rtsp stream started")
	return nil
}

func (s *rtspSession) rotate() error {
	return s.sink.Rotate(s.negotiated.Priming)
}

func (s *rtspSession) done() <-chan struct{} {
	return s.client.Done()
}

func (s *rtspSession) cause() error {
	return s.client.Err()
}

// teardown asks the camera to stop, then always releases the connection and
// the archive output.
func (s *rtspSession) teardown() []error {
	var errs []error
	if s.client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.TeardownTimeout)
		err := s.client.Teardown(ctx)
		cancel()
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to stop camera session: %w", err))
		}
		err = s.client.Close()
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to close connection: %w", err))
		}
	}
	if s.sink != nil {
		err := s.sink.Close()
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to close archive: %w", err))
		}
	}
	return errs
}
