// Package media names and places captured photo and video files.
package media

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	PictureExtension = "jpeg"
	VideoExtension   = "mp4"

	picturesDir = "pictures"
	videosDir   = "videos"
)

// Store hands out unique capture file paths under a media directory.
type Store struct {
	dir string
	now func() time.Time
}

// NewStore creates a store rooted at dir. Directories are created lazily.
func NewStore(dir string) *Store {
	return &Store{dir: dir, now: time.Now}
}

// Dir returns the media root.
func (s *Store) Dir() string {
	return s.dir
}

// PicturePath returns a new path for a still capture.
func (s *Store) PicturePath() (string, error) {
	return s.path(picturesDir, "PhotoCapture_", PictureExtension)
}

// VideoPath returns a new path for a recording.
func (s *Store) VideoPath() (string, error) {
	return s.path(videosDir, "VideoCapture_", VideoExtension)
}

func (s *Store) path(sub, prefix, ext string) (string, error) {
	dir := filepath.Join(s.dir, sub)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("media: create %s: %w", dir, err)
	}
	return filepath.Join(dir, prefix+Timestamp(s.now())+"."+ext), nil
}

// Timestamp formats t as YYYY_MMDD_hhmmss_mmm in local time. The
// millisecond suffix keeps names unique within a second.
func Timestamp(t time.Time) string {
	t = t.Local()
	return fmt.Sprintf("%s_%03d", t.Format("2006_0102_150405"), t.Nanosecond()/int(time.Millisecond))
}
