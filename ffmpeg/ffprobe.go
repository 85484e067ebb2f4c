package ffmpeg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"hls-site/media"
)

var ErrNoVideoStream = errors.New("no decodable video stream")

type ProbeError struct {
	Path string
	Err  error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("probe %s: %v", e.Path, e.Err)
}

func (e *ProbeError) Unwrap() error { return e.Err }

type ffprobeOutput struct {
	Format struct {
		Duration string `json:"duration"`
		BitRate  string `json:"bit_rate"`
	} `json:"format"`
	Streams []struct {
		Index       int            `json:"index"`
		CodecName   string         `json:"codec_name"`
		CodecType   string         `json:"codec_type"`
		Width       int            `json:"width"`
		Height      int            `json:"height"`
		BitRate     string         `json:"bit_rate"`
		Disposition map[string]int `json:"disposition"`
	} `json:"streams"`
}

// Probe inspects the file at path and reports its video streams and duration.
func (t *Tool) Probe(ctx context.Context, path string) (media.ProbeResult, error) {
	stdout, stderr, err := t.Ffprobe(ctx,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format", "-show_streams",
		path)
	if err != nil {
		if msg := tail(stderr); msg != "" {
			err = fmt.Errorf("%w: %s", err, msg)
		}
		return media.ProbeResult{}, &ProbeError{Path: path, Err: err}
	}
	result, err := ParseProbeJSON(stdout)
	if err != nil {
		return media.ProbeResult{}, &ProbeError{Path: path, Err: err}
	}
	return result, nil
}

// ParseProbeJSON converts raw ffprobe JSON into a ProbeResult. Attached
// pictures (cover art) are not counted as video streams.
func ParseProbeJSON(data []byte) (media.ProbeResult, error) {
	var raw ffprobeOutput
	if err := json.Unmarshal(data, &raw); err != nil {
		return media.ProbeResult{}, fmt.Errorf("parse ffprobe JSON: %w", err)
	}

	result := media.ProbeResult{
		DurationSeconds: parseFloat(raw.Format.Duration),
	}
	for _, s := range raw.Streams {
		if s.CodecType != "video" || s.Disposition["attached_pic"] == 1 {
			continue
		}
		result.Streams = append(result.Streams, media.Stream{
			Index:   s.Index,
			Codec:   s.CodecName,
			Width:   s.Width,
			Height:  s.Height,
			Bitrate: parseBitrate(s.BitRate),
		})
	}
	if len(result.Streams) == 0 {
		return media.ProbeResult{}, ErrNoVideoStream
	}
	return result, nil
}

// parseBitrate returns nil for "", "N/A" and other non-numeric values.
func parseBitrate(s string) *int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n <= 0 {
		return nil
	}
	return &n
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f
}
