package ladder

import (
	"fmt"
	"math"

	"hls-site/media"
)

// MinHeight is the smallest rung that is ever encoded.
const MinHeight = 144

// standard rungs, tallest first
var commonHeights = []int{
	15360, 7680, 4320, 2160, 1440,
	1080, 720, 480, 360, 240, 144,
}

// Fallback is used when the source has no usable stream geometry.
func Fallback() []media.Variant {
	return []media.Variant{
		{Name: "1080p", Width: 1920, Height: 1080, VideoBitrate: DefaultVideoBitrate(1080), AudioBitrate: DefaultAudioBitrate(1080)},
		{Name: "720p", Width: 1280, Height: 720, VideoBitrate: DefaultVideoBitrate(720), AudioBitrate: DefaultAudioBitrate(720)},
		{Name: "480p", Width: 854, Height: 480, VideoBitrate: DefaultVideoBitrate(480), AudioBitrate: DefaultAudioBitrate(480)},
	}
}

func DefaultVideoBitrate(height int) string {
	switch {
	case height >= 1080:
		return "5000k"
	case height >= 720:
		return "2800k"
	case height >= 480:
		return "1400k"
	case height >= 360:
		return "800k"
	}
	return "400k"
}

func DefaultAudioBitrate(height int) string {
	switch {
	case height >= 720:
		return "192k"
	case height >= 480:
		return "128k"
	}
	return "96k"
}

// Heights returns the rung heights for a source whose tallest stream is
// maxHeight, tallest first. A non-standard maxHeight is kept as its own rung.
func Heights(maxHeight int) []int {
	heights := make([]int, 0, len(commonHeights)+1)
	for _, h := range commonHeights {
		if h <= maxHeight && h >= MinHeight {
			heights = append(heights, h)
		}
	}
	if maxHeight >= MinHeight && !contains(heights, maxHeight) {
		heights = append([]int{maxHeight}, heights...)
	}
	return heights
}

// Build derives the variant ladder from probed streams. The result is
// ordered by descending height and holds each height once.
func Build(streams []media.Stream) []media.Variant {
	maxHeight := 0
	for _, s := range streams {
		if s.Height > maxHeight {
			maxHeight = s.Height
		}
	}

	variants := []media.Variant{}
	seen := map[int]bool{}
	for _, h := range Heights(maxHeight) {
		if seen[h] {
			continue
		}
		seen[h] = true
		variants = append(variants, media.Variant{
			Name:         fmt.Sprintf("%dp", h),
			Width:        Width(h),
			Height:       h,
			VideoBitrate: videoBitrate(streams, h),
			AudioBitrate: DefaultAudioBitrate(h),
		})
	}

	if len(variants) == 0 {
		return Fallback()
	}
	return variants
}

// Width assumes a 16:9 frame.
func Width(height int) int {
	return int(math.Round(float64(height) * 16 / 9))
}

// videoBitrate uses the probed bitrate of a stream at exactly this height,
// and the default table otherwise.
func videoBitrate(streams []media.Stream, height int) string {
	for _, s := range streams {
		if s.Height == height && s.Bitrate != nil && *s.Bitrate > 0 {
			return fmt.Sprintf("%dk", int64(math.Round(float64(*s.Bitrate)/1000)))
		}
	}
	return DefaultVideoBitrate(height)
}

func contains(hs []int, h int) bool {
	for _, v := range hs {
		if v == h {
			return true
		}
	}
	return false
}
