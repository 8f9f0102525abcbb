package status

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/bilbercode/cam-archive/internal/camera"
)

type Fleet interface {
	IsRunning() bool
	Snapshot() []camera.Status
}

// Server is the read-only status surface of the fleet.
type Server struct {
	addr   string
	fleet  Fleet
	engine *gin.Engine
}

func NewServer(addr string, fleet Fleet) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLog())

	s := &Server{addr: addr, fleet: fleet, engine: engine}
	compressed := engine.Group("/", gzip.Gzip(gzip.DefaultCompression))
	compressed.GET("/healthz", s.health)
	compressed.GET("/cameras", s.cameras)
	// promhttp negotiates its own compression
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves until ctx is cancelled, then shuts the listener down.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	ec := make(chan error, 1)
	go func() {
		ec <- srv.ListenAndServe()
	}()
	log.WithField("addr", s.addr).Info("status endpoint listening")

	select {
	case err := <-ec:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	if err != nil {
		return err
	}
	log.Info("status endpoint stopped")
	return nil
}

func (s *Server) health(c *gin.Context) {
	running := s.fleet.IsRunning()
	code := http.StatusOK
	if !running {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"running": running})
}

func (s *Server) cameras(c *gin.Context) {
	c.JSON(http.StatusOK, s.fleet.Snapshot())
}

func requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(log.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start),
		}).Debug("status request")
	}
}
