package fleet

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/bilbercode/cam-archive/internal/camera"
	"github.com/bilbercode/cam-archive/internal/cameras"
)

// Worker is one camera's capture loop as seen by the controller.
type Worker interface {
	Run(ctx context.Context) error
	Status() camera.Status
}

type Settings interface {
	RotationSeconds() int
	FfmpegPath() string
	VlcPath() string
}

// Controller starts and stops every configured camera together.
type Controller struct {
	directory cameras.Directory
	settings  Settings
	newWorker func(*cameras.Camera) Worker

	mu       sync.Mutex
	running  bool
	stopping bool
	cancel   context.CancelFunc
	group    *errgroup.Group
	workers  []Worker
	runID    string
}

func NewController(directory cameras.Directory, settings Settings, newWorker func(*cameras.Camera) Worker) *Controller {
	return &Controller{
		directory: directory,
		settings:  settings,
		newWorker: newWorker,
	}
}

// Start loads the camera list and runs one worker per camera. It is a no-op
// when the fleet is already running. A directory fault starts nothing and is
// returned; an empty directory leaves the fleet stopped.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		log.WithField("run", c.runID).Warn("fleet is already running")
		return nil
	}

	list, err := c.directory.LoadAll(ctx)
	if err != nil {
		log.WithError(err).Error("failed to load cameras, fleet not started")
		return err
	}
	if len(list) == 0 {
		log.Warn("no cameras configured, fleet not started")
		return nil
	}

	c.runID = uuid.NewString()
	logger := log.WithField("run", c.runID)
	logger.WithFields(log.Fields{
		"ffmpeg":   c.settings.FfmpegPath(),
		"vlc":      c.settings.VlcPath(),
		"rotation": c.settings.RotationSeconds(),
		"cameras":  len(list),
	}).Info("starting fleet")

	var runCtx context.Context
	runCtx, c.cancel = context.WithCancel(ctx)
	c.group = &errgroup.Group{}
	c.workers = make([]Worker, 0, len(list))
	for _, cam := range list {
		w := c.newWorker(cam)
		c.workers = append(c.workers, w)
		c.group.Go(func() error {
			return w.Run(runCtx)
		})
	}
	c.running = true
	return nil
}

// Stop signals every worker and blocks until all of them have returned,
// however each one ends.
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.stopping = true
	cancel, group, runID := c.cancel, c.group, c.runID
	c.mu.Unlock()

	logger := log.WithField("run", runID)
	logger.Info("stopping fleet")
	cancel()
	err := group.Wait()
	if err != nil {
		logger.WithError(err).Debug("fleet had faulted workers")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.group == group {
		c.running = false
		c.stopping = false
		c.cancel = nil
		c.group = nil
		c.workers = nil
	}
	logger.Info("fleet stopped")
}

// IsRunning is a point-in-time read. It is false once Stop has begun.
func (c *Controller) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running && !c.stopping
}

// Snapshot returns the status of each worker of the current run ordered by
// camera id.
func (c *Controller) Snapshot() []camera.Status {
	c.mu.Lock()
	workers := c.workers
	c.mu.Unlock()

	statuses := make([]camera.Status, 0, len(workers))
	for _, w := range workers {
		statuses = append(statuses, w.Status())
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].CameraID < statuses[j].CameraID
	})
	return statuses
}
