package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"hls-site/config"
	"hls-site/database"
	"hls-site/ffmpeg"
	"hls-site/handlers"
	"hls-site/jobs"
	"hls-site/pipeline"
)

const (
	shutdownTimeout = 30 * time.Second
	tempMaxAge      = 24 * time.Hour
)

func main() {

	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, "load .env:", err)
	}

	initLogger(config.GetLogLevel())

	log.Infof("GitSHA: %s", config.GetGitSHA())
	log.Infof("BuildDate: %s", config.GetBuildDate())

	for _, dir := range []string{config.GetOutputDir(), config.GetWorkDir(), config.GetTempDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Panicf("failed to create dir %s: %v", dir, err)
		}
	}

	db, err := database.Open(config.GetDatabasePath(), log)
	if err != nil {
		log.Panicf("failed to open database %s: %v", config.GetDatabasePath(), err)
	}
	defer database.Close(db)

	tracker, err := jobs.NewTracker(db, log)
	if err != nil {
		log.Panicln(err)
	}

	tool := ffmpeg.New(config.GetFFmpegPath(), config.GetFFprobePath(), config.GetEncodeTimeout(), log)

	p := pipeline.New(pipeline.Config{
		Store:             tracker,
		Engine:            tool,
		OutputDir:         config.GetOutputDir(),
		WorkDir:           config.GetWorkDir(),
		PublicPrefix:      config.GetPublicPrefix(),
		PlaylistBaseURL:   config.GetPlaylistBaseURL(),
		Workers:           config.GetWorkers(),
		QueueSize:         config.GetQueueSize(),
		EncodeConcurrency: config.GetEncodeConcurrency(),
		JobTimeout:        config.GetJobTimeout(),
		KeepFailedJobs:    config.GetKeepFailedJobs(),
		Logger:            log,
	})
	p.Start()
	// before serving, so only jobs from a previous run are resumed
	if err := p.Recover(context.Background()); err != nil {
		log.Errorln("recover jobs:", err)
	}

	c, err := startMaintenance(config.GetMaintenanceSchedule(), &maintenance{
		db:         tracker,
		sweeper:    p,
		tempDir:    config.GetTempDir(),
		tempMaxAge: tempMaxAge,
		log:        log.WithField("component", "maintenance"),
	})
	if err != nil {
		log.Panicf("bad maintenance schedule %q: %v", config.GetMaintenanceSchedule(), err)
	}
	defer c.Stop()

	// Initialize Echo
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	// Routes
	handlers.New(handlers.Config{
		Pipeline:       p,
		Jobs:           tracker,
		FFmpeg:         tool,
		OutputDir:      config.GetOutputDir(),
		TempDir:        config.GetTempDir(),
		MaxUploadBytes: config.GetMaxUploadBytes(),
		Logger:         log,
	}).Register(e)
	e.Static(config.GetPublicPrefix(), config.GetOutputDir())

	// Start server
	go func() {
		if err := e.Start(config.GetListenAddr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalln(err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	log.Infoln("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Errorln("http shutdown:", err)
	}
	if err := p.Shutdown(shutdownCtx); err != nil {
		log.Errorln("pipeline shutdown:", err)
	}
}
