package store

import (
	"context"
	"fmt"

	"github.com/jinzhu/copier"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/bilbercode/cam-archive/internal/cameras"
)

type CameraDirectory struct {
	db *gorm.DB
}

func NewCameraDirectory(db *gorm.DB) *CameraDirectory {
	return &CameraDirectory{db: db}
}

// LoadAll returns every enabled camera ordered by id.
func (d *CameraDirectory) LoadAll(ctx context.Context) ([]*cameras.Camera, error) {
	var rows []cameraRow
	err := d.db.WithContext(ctx).Where("enabled = ?", true).Order("id").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("%w: %w", cameras.ErrPersistence, err)
	}

	out := make([]*cameras.Camera, 0, len(rows))
	for i := range rows {
		camera := &cameras.Camera{}
		err = copier.Copy(camera, &rows[i])
		if err != nil {
			return nil, fmt.Errorf("%w: failed to map camera %s: %w", cameras.ErrPersistence, rows[i].ID, err)
		}
		out = append(out, camera)
	}
	return out, nil
}

func (d *CameraDirectory) Save(ctx context.Context, camera *cameras.Camera) error {
	row := &cameraRow{}
	err := copier.Copy(row, camera)
	if err != nil {
		return fmt.Errorf("failed to map camera %s: %w", camera.ID, err)
	}
	err = d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "url", "enabled", "updated_at"}),
	}).Create(row).Error
	if err != nil {
		return fmt.Errorf("failed to save camera %s: %w", camera.ID, err)
	}
	return nil
}
