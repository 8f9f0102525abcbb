package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	cli "github.com/jawher/mow.cli"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/bilbercode/cam-archive/internal/archive"
	"github.com/bilbercode/cam-archive/internal/camera"
	"github.com/bilbercode/cam-archive/internal/cameras"
	"github.com/bilbercode/cam-archive/internal/config"
	"github.com/bilbercode/cam-archive/internal/fleet"
	"github.com/bilbercode/cam-archive/internal/logging"
	"github.com/bilbercode/cam-archive/internal/receiver"
	"github.com/bilbercode/cam-archive/internal/rtsp"
	"github.com/bilbercode/cam-archive/internal/status"
	"github.com/bilbercode/cam-archive/internal/store"
)

const (
	appName = "cam-archive"
	appDesc = "continuous camera capture into rotating archive segments"
)

type overrides struct {
	configPath *string
	logLevel   *string
	logDir     *string
	httpAddr   *string
	dsn        *string
	archiveDir *string
	rotation   *int
}

func main() {
	app := cli.App(appName, appDesc)

	o := overrides{
		configPath: app.String(cli.StringOpt{
			Name:   "config",
			Desc:   "TOML configuration file",
			EnvVar: "CAM_ARCHIVE_CONFIG",
			Value:  "",
		}),
		logLevel: app.String(cli.StringOpt{
			Name:   "log.level",
			Desc:   "log level",
			EnvVar: "LOG_LEVEL",
		}),
		logDir: app.String(cli.StringOpt{
			Name:   "log.dir",
			Desc:   "directory for rotated log files",
			EnvVar: "LOG_DIR",
		}),
		httpAddr: app.String(cli.StringOpt{
			Name:   "http.addr",
			Desc:   "status endpoint listen address, empty disables it",
			EnvVar: "HTTP_ADDR",
		}),
		dsn: app.String(cli.StringOpt{
			Name:   "database.dsn",
			Desc:   "postgres DSN or sqlite file",
			EnvVar: "DATABASE_DSN",
		}),
		archiveDir: app.String(cli.StringOpt{
			Name:   "archive.dir",
			Desc:   "root directory of the archive",
			EnvVar: "ARCHIVE_DIR",
		}),
		rotation: app.Int(cli.IntOpt{
			Name:   "rotation.seconds",
			Desc:   "segment length in seconds",
			EnvVar: "ROTATION_SECONDS",
		}),
	}

	app.Command("run", "capture every enabled camera until interrupted", func(cmd *cli.Cmd) {
		cmd.Action = func() {
			err := run(o)
			if err != nil {
				log.WithError(err).Fatal("stopped")
			}
		}
	})

	app.Command("cameras", "manage the camera directory", func(cmd *cli.Cmd) {
		cmd.Command("add", "add or replace a camera", func(cmd *cli.Cmd) {
			id := cmd.StringArg("ID", "", "camera id")
			rawURL := cmd.StringArg("URL", "", "rtsp:// or http:// stream url")
			name := cmd.StringOpt("name", "", "display name")
			disabled := cmd.BoolOpt("disabled", false, "store the camera without capturing it")
			cmd.Action = func() {
				err := addCamera(o, &cameras.Camera{ID: *id, Name: *name, URL: *rawURL, Enabled: !*disabled})
				if err != nil {
					log.WithError(err).Fatal("failed to add camera")
				}
			}
		})
		cmd.Command("list", "list enabled cameras", func(cmd *cli.Cmd) {
			cmd.Action = func() {
				err := listCameras(o, os.Stdout)
				if err != nil {
					log.WithError(err).Fatal("failed to list cameras")
				}
			}
		})
	})

	err := app.Run(os.Args)
	if err != nil {
		log.WithError(err).Panic("failed to execute application")
	}
}

func (o overrides) load() (config.Bootstrap, error) {
	cfg, err := config.Load(*o.configPath)
	if err != nil {
		return cfg, err
	}
	if *o.logLevel != "" {
		cfg.Log.Level = *o.logLevel
	}
	if *o.logDir != "" {
		cfg.Log.Dir = *o.logDir
	}
	if *o.httpAddr != "" {
		cfg.HTTP.Addr = *o.httpAddr
	}
	if *o.dsn != "" {
		cfg.Database.Dsn = *o.dsn
	}
	if *o.archiveDir != "" {
		cfg.Archive.Dir = *o.archiveDir
	}
	if *o.rotation != 0 {
		cfg.Archive.RotationSeconds = *o.rotation
	}
	return cfg, cfg.Validate()
}

// registry opens the camera directory selected by cfg. The database handle is
// nil when cameras live in a folder and no DSN is configured.
func registry(cfg config.Bootstrap) (cameras.Registry, *gorm.DB, error) {
	var db *gorm.DB
	if cfg.Database.Dsn != "" {
		var err error
		db, err = store.Open(cfg.Database.Dsn)
		if err != nil {
			return nil, nil, err
		}
	}
	if cfg.Cameras.Folder != "" {
		dir, err := cameras.NewFileDirectory(cfg.Cameras.Folder)
		return dir, db, err
	}
	return store.NewCameraDirectory(db), db, nil
}

func run(o overrides) error {
	cfg, err := o.load()
	if err != nil {
		return err
	}
	logs, err := logging.Setup(cfg.Log)
	if err != nil {
		return err
	}
	defer logs.Close()

	directory, db, err := registry(cfg)
	if err != nil {
		return err
	}
	var sinkOpts []archive.Option
	sinkOpts = append(sinkOpts, archive.WithMinFreePercent(cfg.Archive.MinFreePercent))
	if db != nil {
		sinkOpts = append(sinkOpts, archive.WithCatalog(store.NewSegmentCatalog(db)))
	}

	settings := config.NewSettings(cfg)
	archiveDir := cfg.Archive.Dir
	workerOpts := camera.Options{
		Settings: settings,
		Sinks: func(cam *cameras.Camera, ext string) camera.Sink {
			return archive.NewRotator(archiveDir, cam.ID, ext, sinkOpts...)
		},
		Clients: rtsp.NewClient,
		Receivers: func(u *url.URL, w io.Writer) camera.Receiver {
			return receiver.NewHTTP(u, w)
		},
		Ports:           cfg.RTSP.Ports,
		DialTimeout:     cfg.RTSP.DialTimeout.Duration(),
		TeardownTimeout: cfg.RTSP.TeardownTimeout.Duration(),
	}
	controller := fleet.NewController(directory, settings, func(cam *cameras.Camera) fleet.Worker {
		return camera.NewWorker(cam, workerOpts)
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = controller.Start(ctx)
	if err != nil {
		return fmt.Errorf("failed to start fleet: %w", err)
	}
	if !controller.IsRunning() {
		log.Warn("nothing to capture")
		return nil
	}

	group, ctx := errgroup.WithContext(ctx)
	if cfg.HTTP.Addr != "" {
		server := status.NewServer(cfg.HTTP.Addr, controller)
		group.Go(func() error {
			return server.Start(ctx)
		})
	}

	group.Go(func() error {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-hup:
			}
			next, err := o.load()
			if err != nil {
				log.WithError(err).Warn("config reload rejected")
				continue
			}
			settings.Apply(next)
			log.WithField("rotation", settings.RotationSeconds()).Info("config reloaded")
		}
	})

	group.Go(func() error {
		<-ctx.Done()
		controller.Stop()
		return nil
	})

	err = group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func addCamera(o overrides, cam *cameras.Camera) error {
	cfg, err := o.load()
	if err != nil {
		return err
	}
	_, err = url.Parse(cam.URL)
	if err != nil {
		return fmt.Errorf("%w: %w", camera.ErrMalformedURL, err)
	}
	dir, _, err := registry(cfg)
	if err != nil {
		return err
	}
	return dir.Save(context.Background(), cam)
}

func listCameras(o overrides, w io.Writer) error {
	cfg, err := o.load()
	if err != nil {
		return err
	}
	dir, _, err := registry(cfg)
	if err != nil {
		return err
	}
	list, err := dir.LoadAll(context.Background())
	if err != nil {
		return err
	}
	for _, cam := range list {
		u, err := url.Parse(cam.URL)
		shown := cam.URL
		if err == nil {
			shown = u.Redacted()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", cam.ID, cam.Name, shown)
	}
	return nil
}
