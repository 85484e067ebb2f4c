package playlists

import (
	"fmt"
	"strconv"
	"strings"

	"hls-site/media"
)

// MasterName is the file name of the master playlist inside a job's output dir.
const MasterName = "master.m3u8"

// VariantPlaylist is the sub-manifest name inside each variant dir.
const VariantPlaylist = "index.m3u8"

type ManifestError struct {
	Variant string
	Err     error
}

func (e *ManifestError) Error() string {
	return fmt.Sprintf("manifest: variant %s: %v", e.Variant, e.Err)
}

func (e *ManifestError) Unwrap() error { return e.Err }

// ParseKbps parses "2800k" (or a bare "2800") as kilobits per second.
func ParseKbps(s string) (int64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(strings.TrimSuffix(s, "k"), "K")
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("negative bitrate %d", n)
	}
	return n, nil
}

// Bandwidth returns the combined video and audio bitrate in bits/sec.
func Bandwidth(v media.Variant) (int64, error) {
	video, err := ParseKbps(v.VideoBitrate)
	if err != nil {
		return 0, &ManifestError{Variant: v.Name, Err: fmt.Errorf("video bitrate %q: %w", v.VideoBitrate, err)}
	}
	audio, err := ParseKbps(v.AudioBitrate)
	if err != nil {
		return 0, &ManifestError{Variant: v.Name, Err: fmt.Errorf("audio bitrate %q: %w", v.AudioBitrate, err)}
	}
	return video*1000 + audio*1000, nil
}

// BuildMaster renders the master playlist. Variants are emitted in the
// order given; players use the first entry as their default.
func BuildMaster(variants []media.Variant, baseURL string) (string, error) {
	var b strings.Builder
	b.WriteString("#EXTM3U\n#EXT-X-VERSION:3\n")
	for _, v := range variants {
		if v.Name == "" {
			return "", &ManifestError{Variant: v.Name, Err: fmt.Errorf("variant has no name")}
		}
		bandwidth, err := Bandwidth(v)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%dx%d\n", bandwidth, v.Width, v.Height)
		b.WriteString(variantRef(baseURL, v.Name))
		b.WriteString("\n")
	}
	return b.String(), nil
}

func variantRef(baseURL, name string) string {
	ref := name + "/" + VariantPlaylist
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		return ref
	}
	return base + "/" + ref
}
