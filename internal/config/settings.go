package config

import (
	"sync/atomic"
)

// Settings is the live view consulted by running workers. Reads are not
// snapshotted; a reload between two reads is visible to the second.
type Settings struct {
	rotationSeconds atomic.Int64
	ffmpeg          atomic.Value
	vlc             atomic.Value
}

func NewSettings(b Bootstrap) *Settings {
	s := &Settings{}
	s.Apply(b)
	return s
}

func (s *Settings) Apply(b Bootstrap) {
	s.rotationSeconds.Store(int64(b.Archive.RotationSeconds))
	s.ffmpeg.Store(b.Tools.Ffmpeg)
	s.vlc.Store(b.Tools.Vlc)
}

func (s *Settings) RotationSeconds() int {
	return int(s.rotationSeconds.Load())
}

func (s *Settings) FfmpegPath() string {
	v, _ := s.ffmpeg.Load().(string)
	return v
}

func (s *Settings) VlcPath() string {
	v, _ := s.vlc.Load().(string)
	return v
}
