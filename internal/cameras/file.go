package cameras

import (
	"context"
	"crypto/md5"
	"encoding/gob"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

const fileSuffix = ".cam"

// FileDirectory keeps one gob encoded camera per file in a folder.
type FileDirectory struct {
	sync.Mutex
	folder string
}

func NewFileDirectory(folder string) (*FileDirectory, error) {
	err := os.MkdirAll(folder, 0744)
	if err != nil {
		return nil, fmt.Errorf("failed to create camera directory %s: %w", folder, err)
	}
	return &FileDirectory{folder: folder}, nil
}

func (d *FileDirectory) LoadAll(ctx context.Context) ([]*Camera, error) {
	d.Lock()
	defer d.Unlock()

	dir, err := os.ReadDir(d.folder)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list %s: %w", ErrPersistence, d.folder, err)
	}

	var cameras []*Camera
	for _, entry := range dir {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), fileSuffix) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
		}

		camera, err := readCamera(filepath.Join(d.folder, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
		}
		if camera.Enabled {
			cameras = append(cameras, camera)
		}
	}

	sort.Slice(cameras, func(i, j int) bool { return cameras[i].ID < cameras[j].ID })
	return cameras, nil
}

func (d *FileDirectory) Save(_ context.Context, camera *Camera) error {
	d.Lock()
	defer d.Unlock()

	file, err := os.OpenFile(d.filename(camera.ID), os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("failed to open camera file for writing: %w", err)
	}
	err = gob.NewEncoder(file).Encode(camera)
	_ = file.Close()
	if err != nil {
		return fmt.Errorf("failed to write camera %s: %w", camera.ID, err)
	}
	return nil
}

func (d *FileDirectory) filename(id string) string {
	hash := md5.Sum([]byte(id))
	return filepath.Join(d.folder, hex.EncodeToString(hash[:])+fileSuffix)
}

func readCamera(name string) (*Camera, error) {
	file, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("failed to read entry %s: %w", name, err)
	}
	defer file.Close()

	var camera Camera
	err = gob.NewDecoder(file).Decode(&camera)
	if err != nil {
		return nil, fmt.Errorf("failed to decode entry %s: %w", name, err)
	}
	return &camera, nil
}
