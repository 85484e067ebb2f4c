package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"hls-site/media"
)

const (
	SegmentSeconds = 6
	SegmentPattern = "segment%d.ts"
	PlaylistName   = "index.m3u8"
)

type EncodeError struct {
	Variant string
	Stderr  string
	Err     error
}

func (e *EncodeError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("encode %s: %v: %s", e.Variant, e.Err, e.Stderr)
	}
	return fmt.Sprintf("encode %s: %v", e.Variant, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

// HLSArgs builds the ffmpeg arguments that encode src into a VOD HLS
// rendition under variantDir.
func HLSArgs(src string, v media.Variant, variantDir string) []string {
	return []string{
		"-hide_banner", "-nostdin", "-y",
		"-i", src,
		"-vf", fmt.Sprintf("scale=%d:%d", even(v.Width), even(v.Height)),
		"-c:v", "libx264",
		"-b:v", v.VideoBitrate,
		"-c:a", "aac",
		"-b:a", v.AudioBitrate,
		"-hls_time", strconv.Itoa(SegmentSeconds),
		"-hls_playlist_type", "vod",
		"-hls_segment_filename", filepath.Join(variantDir, SegmentPattern),
		filepath.Join(variantDir, PlaylistName),
	}
}

// EncodeVariant encodes one rung of the ladder into outputDir/<name>/.
// Each call only touches its own variant directory.
func (t *Tool) EncodeVariant(ctx context.Context, src string, v media.Variant, outputDir string) (media.Rendition, error) {
	variantDir := filepath.Join(outputDir, v.Name)
	if err := os.MkdirAll(variantDir, 0755); err != nil {
		return media.Rendition{}, &EncodeError{Variant: v.Name, Err: err}
	}

	if t.EncodeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.EncodeTimeout)
		defer cancel()
	}

	_, stderr, err := t.Ffmpeg(ctx, HLSArgs(src, v, variantDir)...)
	if err != nil {
		return media.Rendition{}, &EncodeError{Variant: v.Name, Stderr: tail(stderr), Err: err}
	}

	rendition, err := collectRendition(v, variantDir)
	if err != nil {
		return media.Rendition{}, &EncodeError{Variant: v.Name, Stderr: tail(stderr), Err: err}
	}
	t.log.WithField("variant", v.Name).Infof("encoded %d segments", len(rendition.Segments))
	return rendition, nil
}

// collectRendition checks that the encoder left a playlist and at least one
// segment behind.
func collectRendition(v media.Variant, variantDir string) (media.Rendition, error) {
	playlist := filepath.Join(variantDir, PlaylistName)
	if _, err := os.Stat(playlist); err != nil {
		return media.Rendition{}, fmt.Errorf("missing playlist: %w", err)
	}
	segments, err := filepath.Glob(filepath.Join(variantDir, "segment*.ts"))
	if err != nil {
		return media.Rendition{}, err
	}
	if len(segments) == 0 {
		return media.Rendition{}, errors.New("no segments written")
	}
	return media.Rendition{
		Variant:  v,
		Dir:      variantDir,
		Playlist: playlist,
		Segments: segments,
	}, nil
}

func even(n int) int {
	return n + n%2
}
