package logging

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bilbercode/cam-archive/internal/config"
)

func restore(t *testing.T) {
	level := log.GetLevel()
	t.Cleanup(func() {
		log.SetOutput(os.Stderr)
		log.SetLevel(level)
	})
}

func TestSetupLevel(t *testing.T) {
	restore(t)
	closer, err := Setup(config.Log{Level: "debug"})
	require.NoError(t, err)
	assert.NoError(t, closer.Close())
	assert.Equal(t, log.DebugLevel, log.GetLevel())
}

func TestSetupBadLevel(t *testing.T) {
	restore(t)
	_, err := Setup(config.Log{Level: "chatty"})
	assert.ErrorContains(t, err, "log level")
}

func TestSetupWritesFiles(t *testing.T) {
	restore(t)
	dir := filepath.Join(t.TempDir(), "logs")
	closer, err := Setup(config.Log{
		Dir:          dir,
		Level:        "info",
		MaxAge:       config.Duration(48 * time.Hour),
		RotationTime: config.Duration(24 * time.Hour),
	})
	require.NoError(t, err)

	log.WithField("camera", "door").Info("camera stopped")
	require.NoError(t, closer.Close())

	files, err := filepath.Glob(filepath.Join(dir, "cam-archive.*.log"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	b, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.Contains(t, string(b), "camera=door")
	assert.Contains(t, string(b), "camera stopped")
}
