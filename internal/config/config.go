package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

type Bootstrap struct {
	Archive  Archive  `toml:"archive"`
	Database Database `toml:"database"`
	Cameras  Cameras  `toml:"cameras"`
	RTSP     RTSP     `toml:"rtsp"`
	Tools    Tools    `toml:"tools"`
	Log      Log      `toml:"log"`
	HTTP     HTTP     `toml:"http"`
}

type Archive struct {
	Dir             string  `toml:"dir"`
	RotationSeconds int     `toml:"rotation_seconds"`
	MinFreePercent  float64 `toml:"min_free_percent"`
}

type Database struct {
	Dsn string `toml:"dsn"`
}

// Cameras.Folder selects the file camera directory instead of the database.
type Cameras struct {
	Folder string `toml:"folder"`
}

type RTSP struct {
	Ports           []int    `toml:"ports"`
	DialTimeout     Duration `toml:"dial_timeout"`
	TeardownTimeout Duration `toml:"teardown_timeout"`
}

type Tools struct {
	Ffmpeg string `toml:"ffmpeg"`
	Vlc    string `toml:"vlc"`
}

type Log struct {
	Dir          string   `toml:"dir"`
	Level        string   `toml:"level"`
	MaxAge       Duration `toml:"max_age"`
	RotationTime Duration `toml:"rotation_time"`
}

type HTTP struct {
	Addr string `toml:"addr"`
}

// Duration reads "90s"-style strings.
type Duration time.Duration

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func DefaultConfig() Bootstrap {
	return Bootstrap{
		Archive: Archive{
			Dir:             "./archive",
			RotationSeconds: 600,
			MinFreePercent:  5,
		},
		Database: Database{
			Dsn: "./data/cam-archive.db",
		},
		RTSP: RTSP{
			Ports:           []int{49501, 49502, 49503, 49504},
			DialTimeout:     Duration(10 * time.Second),
			TeardownTimeout: Duration(5 * time.Second),
		},
		Tools: Tools{
			Ffmpeg: "/usr/bin/ffmpeg",
			Vlc:    "/usr/bin/vlc",
		},
		Log: Log{
			Level:        "info",
			MaxAge:       Duration(7 * 24 * time.Hour),
			RotationTime: Duration(24 * time.Hour),
		},
	}
}

// Load decodes path over DefaultConfig. An empty path yields the defaults.
func Load(path string) (Bootstrap, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	err = toml.Unmarshal(b, &cfg)
	if err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

func (b Bootstrap) Validate() error {
	var errs []error
	if b.Archive.RotationSeconds < 1 {
		errs = append(errs, errors.New("archive.rotation_seconds must be at least 1"))
	}
	if b.Archive.Dir == "" {
		errs = append(errs, errors.New("archive.dir is required"))
	}
	if len(b.RTSP.Ports) != 4 {
		errs = append(errs, fmt.Errorf("rtsp.ports needs 4 entries, got %d", len(b.RTSP.Ports)))
	}
	if b.Cameras.Folder == "" && b.Database.Dsn == "" {
		errs = append(errs, errors.New("either cameras.folder or database.dsn is required"))
	}
	return errors.Join(errs...)
}
