package camera

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/bilbercode/cam-archive/internal/cameras"
	"github.com/bilbercode/cam-archive/internal/clock"
	"github.com/bilbercode/cam-archive/internal/rtsp"
)

var (
	rotations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name:      "rotations_total",
		Namespace: "cam_archive",
		Help:      "number of archive segments opened",
	}, []string{"camera"})
	workerErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name:      "worker_errors_total",
		Namespace: "cam_archive",
		Help:      "number of faults that stopped or degraded a camera worker",
	}, []string{"camera", "stage"})
	transportFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name:      "transport_fallbacks_total",
		Namespace: "cam_archive",
		Help:      "number of SETUP retries with the transport mode toggled",
	})
	activeWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name:      "workers_active",
		Namespace: "cam_archive",
		Help:      "number of camera workers that have not stopped",
	})
)

// Worker captures one camera from dispatch to teardown.
type Worker struct {
	mu     sync.Mutex
	camera *cameras.Camera
	opts   Options
	status Status
	log    *log.Entry
}

func NewWorker(camera *cameras.Camera, opts Options) *Worker {
	if opts.Step <= 0 {
		opts.Step = clock.Checkpoint
	}
	if opts.TeardownTimeout <= 0 {
		opts.TeardownTimeout = 5 * time.Second
	}
	if len(opts.Ports) == 0 {
		opts.Ports = rtsp.DefaultPorts
	}
	return &Worker{
		camera: camera,
		opts:   opts,
		status: Status{
			CameraID: camera.ID,
			Name:     camera.Name,
			State:    StateDispatching,
			Since:    time.Now(),
		},
		log: log.WithField("camera", camera.ID),
	}
}

func (w *Worker) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// Run blocks until ctx is cancelled or the camera faults. The archive output
// is closed before Run returns. A stop through ctx is not an error.
func (w *Worker) Run(ctx context.Context) error {
	activeWorkers.Inc()
	defer activeWorkers.Dec()

	w.setState(StateDispatching, nil)
	sess, err := w.dispatch()
	if err != nil {
		workerErrors.WithLabelValues(w.camera.ID, "dispatch").Inc()
		w.log.WithError(err).Error("camera configuration fault")
		w.setState(StateStopped, err)
		return err
	}

	w.setState(StateNegotiating, nil)
	stage := "negotiate"
	err = sess.negotiate(ctx)
	if err == nil {
		w.setState(StateActive, nil)
		stage = "stream"
		err = w.stream(ctx, sess)
	}

	switch {
	case err != nil && clock.Cancelled(ctx):
		w.log.WithError(err).Info("camera stopped while " + stage + " was in progress")
		err = nil
	case err != nil:
		workerErrors.WithLabelValues(w.camera.ID, stage).Inc()
		w.log.WithError(err).Error("camera " + stage + " fault")
	}

	for _, fault := range sess.teardown() {
		workerErrors.WithLabelValues(w.camera.ID, "teardown").Inc()
		w.log.WithError(fault).Warn("camera teardown fault")
	}
	w.setState(StateStopped, err)
	w.log.Info("camera stopped")
	return err
}

func (w *Worker) dispatch() (session, error) {
	u, err := url.Parse(w.camera.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedURL, err)
	}

	switch u.Scheme {
	case "rtsp":
		return &rtspSession{camera: w.camera, url: u, opts: &w.opts, log: w.log}, nil
	case "http":
		return &httpSession{camera: w.camera, url: u, opts: &w.opts, log: w.log}, nil
	}
	return nil, fmt.Errorf("%w: protocol %q not implemented", ErrUnsupportedProtocol, u.Scheme)
}

// stream opens segment zero, then rotates once per full interval until ctx
// is cancelled or delivery stops. A cancelled interval never rotates.
func (w *Worker) stream(ctx context.Context, sess session) error {
	err := sess.start(ctx)
	if err != nil {
		return err
	}
	w.rotated()

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-sess.done():
			cancel()
		case <-streamCtx.Done():
		}
	}()

	for clock.Wait(streamCtx, w.opts.Settings.RotationSeconds(), w.opts.Step) {
		err = sess.rotate()
		if err != nil {
			return fmt.Errorf("failed to rotate archive: %w", err)
		}
		w.rotated()
	}

	if ctx.Err() == nil {
		return fmt.Errorf("%w: %w", ErrStreamInterrupted, sess.cause())
	}
	return nil
}

func (w *Worker) rotated() {
	rotations.WithLabelValues(w.camera.ID).Inc()
	w.mu.Lock()
	w.status.Rotations++
	w.mu.Unlock()
}

func (w *Worker) setState(state State, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status.State = state
	w.status.Since = time.Now()
	w.status.Error = ""
	if err != nil {
		w.status.Error = err.Error()
	}
}

type httpSession struct {
	camera   *cameras.Camera
	url      *url.URL
	opts     *Options
	log      *log.Entry
	sink     Sink
	receiver Receiver
	playing  bool
}

func (s *httpSession) negotiate(context.Context) error {
	s.sink = s.opts.Sinks(s.camera, extension(s.url))
	s.receiver = s.opts.Receivers(s.url, s.sink)
	return nil
}

func (s *httpSession) start(ctx context.Context) error {
	err := s.sink.Rotate(nil)
	if err != nil {
		return fmt.Errorf("failed to open first segment: %w", err)
	}
	err = s.receiver.Play(ctx)
	if err != nil {
		return err
	}
	s.playing = true
	s.log.WithField("url", s.url.Redacted()).Info("http stream started")
	return nil
}

func (s *httpSession) rotate() error {
	return s.sink.Rotate(nil)
}

func (s *httpSession) done() <-chan struct{} {
	return s.receiver.Done()
}

func (s *httpSession) cause() error {
	err := s.receiver.Err()
	if err == nil {
		return io.ErrUnexpectedEOF
	}
	return err
}

func (s *httpSession) teardown() []error {
	var errs []error
	if s.playing {
		err := s.receiver.Stop()
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to stop http receiver: %w", err))
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

func extension(u *url.URL) string {
	ext := strings.TrimPrefix(path.Ext(u.Path), ".")
	switch ext {
	case "", "cgi", "php", "html":
		return "mjpeg"
	}
	return ext
}
