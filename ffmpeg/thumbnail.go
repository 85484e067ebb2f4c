package ffmpeg

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

const (
	ThumbnailName   = "thumbnail.jpg"
	thumbnailAt     = 5.0
	thumbnailWidth  = 320
	thumbnailHeight = 240
)

// ThumbnailOffset picks the capture time: 5s in, or halfway through
// sources shorter than that.
func ThumbnailOffset(durationSeconds float64) float64 {
	if durationSeconds > 0 && durationSeconds <= thumbnailAt {
		return durationSeconds / 2
	}
	return thumbnailAt
}

// Thumbnail captures a single 320x240 frame of src at atSeconds into dst.
func (t *Tool) Thumbnail(ctx context.Context, src, dst string, atSeconds float64) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	_, stderr, err := t.Ffmpeg(ctx,
		"-hide_banner", "-nostdin", "-y",
		"-ss", fmt.Sprintf("%f", atSeconds),
		"-i", src,
		"-frames:v", "1",
		"-s", fmt.Sprintf("%dx%d", thumbnailWidth, thumbnailHeight),
		dst)
	if err != nil {
		return fmt.Errorf("thumbnail %s: %w: %s", src, err, tail(stderr))
	}
	if _, err := os.Stat(dst); err != nil {
		return fmt.Errorf("thumbnail %s: %w", src, err)
	}
	return nil
}
