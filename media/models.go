package media

// Stream is one decodable video stream reported by the prober.
type Stream struct {
	Index  int
	Codec  string
	Width  int
	Height int
	// Bitrate in bits/sec; nil when the container omits it.
	Bitrate *int64
}

type ProbeResult struct {
	Streams         []Stream
	DurationSeconds float64
}

// MaxHeight returns the tallest stream height, 0 if there are no streams.
func (p ProbeResult) MaxHeight() int {
	max := 0
	for _, s := range p.Streams {
		if s.Height > max {
			max = s.Height
		}
	}
	return max
}

// Variant is one rung of the output ladder. Bitrates are ffmpeg-style
// strings such as "2800k".
type Variant struct {
	Name         string `json:"name"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	VideoBitrate string `json:"videoBitrate"`
	AudioBitrate string `json:"audioBitrate"`
}

// Rendition is a variant that has been encoded to disk.
type Rendition struct {
	Variant  Variant
	Dir      string
	Playlist string
	Segments []string
}
