package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/bilbercode/cam-archive/internal/archive"
)

type SegmentCatalog struct {
	db *gorm.DB
}

func NewSegmentCatalog(db *gorm.DB) *SegmentCatalog {
	return &SegmentCatalog{db: db}
}

func (c *SegmentCatalog) RecordSegment(ctx context.Context, segment archive.Segment) error {
	err := c.db.WithContext(ctx).Create(&segmentRow{
		CameraID:  segment.CameraID,
		Path:      segment.Path,
		StartedAt: segment.StartedAt,
	}).Error
	if err != nil {
		return fmt.Errorf("failed to record segment %s: %w", segment.Path, err)
	}
	return nil
}

// Segments lists a camera's segments, newest first.
func (c *SegmentCatalog) Segments(ctx context.Context, cameraID string, limit int) ([]archive.Segment, error) {
	var rows []segmentRow
	err := c.db.WithContext(ctx).Where("camera_id = ?", cameraID).
		Order("started_at desc").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list segments of %s: %w", cameraID, err)
	}
	out := make([]archive.Segment, 0, len(rows))
	for _, row := range rows {
		out = append(out, archive.Segment{CameraID: row.CameraID, Path: row.Path, StartedAt: row.StartedAt})
	}
	return out, nil
}
