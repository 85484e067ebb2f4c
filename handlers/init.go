package handlers

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"hls-site/jobs"
	"hls-site/pipeline"
)

type Submitter interface {
	Submit(ctx context.Context, up pipeline.Upload) (jobs.Job, error)
}

type JobReader interface {
	Get(ctx context.Context, id string) (jobs.Job, error)
	ListCompleted(ctx context.Context) ([]jobs.Job, error)
}

type Versioner interface {
	Version(ctx context.Context) (string, error)
}

type Config struct {
	Pipeline Submitter
	Jobs     JobReader
	FFmpeg   Versioner

	OutputDir      string
	TempDir        string
	MaxUploadBytes int64

	Logger *logrus.Logger
}

type Handlers struct {
	pipeline Submitter
	jobs     JobReader
	ffmpeg   Versioner

	outputDir      string
	tempDir        string
	maxUploadBytes int64

	log *logrus.Entry
}

func New(cfg Config) *Handlers {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handlers{
		pipeline:       cfg.Pipeline,
		jobs:           cfg.Jobs,
		ffmpeg:         cfg.FFmpeg,
		outputDir:      cfg.OutputDir,
		tempDir:        cfg.TempDir,
		maxUploadBytes: cfg.MaxUploadBytes,
		log: logger.WithFields(logrus.Fields{
			"component": "handlers",
		}),
	}
}

func (h *Handlers) Register(e *echo.Echo) {
	api := e.Group("/api")
	api.POST("/video/upload", h.UploadPost)
	api.GET("/video/status/:id", h.JobStatusGet)
	api.GET("/videos", h.VideosGet)
	api.GET("/status", h.StatusGet)
}

func jsonError(c echo.Context, code int, msg string) error {
	return c.JSON(code, map[string]string{"error": msg})
}

func internalError(c echo.Context) error {
	return jsonError(c, http.StatusInternalServerError, "Internal server error")
}
