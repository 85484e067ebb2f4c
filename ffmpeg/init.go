package ffmpeg

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Tool drives the ffmpeg and ffprobe binaries.
type Tool struct {
	FFmpegPath    string
	FFprobePath   string
	EncodeTimeout time.Duration

	log *logrus.Entry
}

func New(ffmpegPath, ffprobePath string, encodeTimeout time.Duration, logger *logrus.Logger) *Tool {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Tool{
		FFmpegPath:    ffmpegPath,
		FFprobePath:   ffprobePath,
		EncodeTimeout: encodeTimeout,
		log: logger.WithFields(logrus.Fields{
			"component": "ffmpeg",
		}),
	}
}
