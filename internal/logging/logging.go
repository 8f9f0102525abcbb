package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	log "github.com/sirupsen/logrus"

	"github.com/bilbercode/cam-archive/internal/config"
)

const filePattern = "cam-archive.%Y%m%d.log"

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Setup configures the standard logrus logger. When cfg.Dir is set, output
// also goes to daily rotated files in that directory; the returned closer
// releases the current file.
func Setup(cfg config.Log) (io.Closer, error) {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("failed to parse log level: %w", err)
	}
	log.SetLevel(level)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	if cfg.Dir == "" {
		log.SetOutput(os.Stderr)
		return nopCloser{}, nil
	}

	err = os.MkdirAll(cfg.Dir, 0o755)
	if err != nil {
		return nil, fmt.Errorf("failed to create log dir: %w", err)
	}
	opts := []rotatelogs.Option{
		rotatelogs.WithLinkName(filepath.Join(cfg.Dir, "cam-archive.log")),
	}
	if cfg.MaxAge > 0 {
		opts = append(opts, rotatelogs.WithMaxAge(cfg.MaxAge.Duration()))
	}
	if cfg.RotationTime > 0 {
		opts = append(opts, rotatelogs.WithRotationTime(cfg.RotationTime.Duration()))
	}
	w, err := rotatelogs.New(filepath.Join(cfg.Dir, filePattern), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	log.SetOutput(io.MultiWriter(os.Stderr, w))
	return w, nil
}
