package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"

	"hls-site/jobs"
	"hls-site/media"
)

var (
	ErrInvalidUpload = errors.New("invalid upload")
	ErrQueueFull     = errors.New("transcode queue is full")
	ErrClosed        = errors.New("pipeline is shut down")
)

// Engine is the external media tool: probing, per-variant encode and frame
// capture.
type Engine interface {
	Probe(ctx context.Context, path string) (media.ProbeResult, error)
	EncodeVariant(ctx context.Context, src string, v media.Variant, outputDir string) (media.Rendition, error)
	Thumbnail(ctx context.Context, src, dst string, atSeconds float64) error
}

// Store is the job record the pipeline writes to.
type Store interface {
	Create(ctx context.Context, meta jobs.Meta) (jobs.Job, error)
	Get(ctx context.Context, id string) (jobs.Job, error)
	Update(ctx context.Context, id string, p jobs.Patch) (jobs.Job, error)
	Delete(ctx context.Context, id string) error
	ListProcessing(ctx context.Context) ([]jobs.Job, error)
	IDs(ctx context.Context) (map[string]bool, error)
}

type Config struct {
	Store  Store
	Engine Engine

	OutputDir       string
	WorkDir         string
	PublicPrefix    string
	PlaylistBaseURL string

	Workers           int
	QueueSize         int
	EncodeConcurrency int
	JobTimeout        time.Duration

	// KeepFailedJobs marks failed jobs instead of deleting their record.
	KeepFailedJobs bool

	Logger *logrus.Logger
}

// Upload describes a received source file and its metadata.
type Upload struct {
	SourcePath    string
	SourceName    string
	ThumbnailPath string
	ThumbnailName string
	Title         string
	Description   string
}

type task struct {
	ID     string
	Source string
}

type Pipeline struct {
	store  Store
	engine Engine

	outputDir       string
	workDir         string
	publicPrefix    string
	playlistBaseURL string

	workers           int
	encodeConcurrency int
	jobTimeout        time.Duration
	keepFailed        bool

	log *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc

	queue chan task
	wg    sync.WaitGroup

	mu       sync.Mutex
	inFlight map[string]struct{}
	started  bool

	// jobs created at or after this belong to this process
	createdAt time.Time
}

const (
	defaultWorkers    = 2
	defaultQueueSize  = 64
	defaultJobTimeout = 2 * time.Hour
	cleanupTimeout    = 30 * time.Second
)

func New(cfg Config) *Pipeline {
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	concurrency := cfg.EncodeConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	timeout := cfg.JobTimeout
	if timeout <= 0 {
		timeout = defaultJobTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	prefix := "/" + strings.Trim(cfg.PublicPrefix, "/")
	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		store:             cfg.Store,
		engine:            cfg.Engine,
		outputDir:         cfg.OutputDir,
		workDir:           cfg.WorkDir,
		publicPrefix:      prefix,
		playlistBaseURL:   cfg.PlaylistBaseURL,
		workers:           workers,
		encodeConcurrency: concurrency,
		jobTimeout:        timeout,
		keepFailed:        cfg.KeepFailedJobs,
		log: logger.WithFields(logrus.Fields{
			"component": "pipeline",
		}),
		ctx:       ctx,
		cancel:    cancel,
		queue:     make(chan task, queueSize),
		inFlight:  make(map[string]struct{}),
		createdAt: time.Now(),
	}
}

// Submit records a new job and hands it to the worker pool. It returns as
// soon as the job is queued; the transcode itself runs in the background.
func (p *Pipeline) Submit(ctx context.Context, up Upload) (jobs.Job, error) {
	if err := validate(up); err != nil {
		return jobs.Job{}, err
	}

	job, err := p.store.Create(ctx, jobs.Meta{
		Title:       strings.TrimSpace(up.Title),
		Description: strings.TrimSpace(up.Description),
	})
	if err != nil {
		return jobs.Job{}, err
	}
	log := p.log.WithField("job_id", job.ID)

	source, thumbnail, err := p.stage(job.ID, up)
	if err != nil {
		p.rollback(job.ID, log)
		return jobs.Job{}, fmt.Errorf("stage upload: %w", err)
	}
	if thumbnail != "" {
		updated, err := p.store.Update(ctx, job.ID, jobs.SetThumbnail(thumbnail))
		if err != nil {
			p.rollback(job.ID, log)
			return jobs.Job{}, err
		}
		job = updated
	}

	if err := p.enqueue(task{ID: job.ID, Source: source}); err != nil {
		p.rollback(job.ID, log)
		return jobs.Job{}, err
	}
	log.Infof("queued %q", job.Title)
	return job, nil
}

func validate(up Upload) error {
	if strings.TrimSpace(up.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidUpload)
	}
	info, err := os.Stat(up.SourcePath)
	if err != nil {
		return fmt.Errorf("%w: no video provided", ErrInvalidUpload)
	}
	if info.IsDir() || info.Size() == 0 {
		return fmt.Errorf("%w: video is empty", ErrInvalidUpload)
	}
	if up.ThumbnailPath != "" {
		if _, err := imaging.Open(up.ThumbnailPath); err != nil {
			return fmt.Errorf("%w: thumbnail is not a readable image", ErrInvalidUpload)
		}
	}
	return nil
}

// stage moves the source into the job's work dir and a supplied thumbnail
// into its output dir. It returns the staged source path and the public
// thumbnail path ("" when none was supplied).
func (p *Pipeline) stage(id string, up Upload) (string, string, error) {
	sourceName := safeName(up.SourceName, filepath.Base(up.SourcePath), "video")
	source := filepath.Join(p.workDir, id, sourceName)
	if err := moveFile(up.SourcePath, source); err != nil {
		return "", "", err
	}

	if up.ThumbnailPath == "" {
		return source, "", nil
	}
	thumbName := safeName(up.ThumbnailName, filepath.Base(up.ThumbnailPath), "thumb.jpg")
	if err := moveFile(up.ThumbnailPath, filepath.Join(p.outputDir, id, thumbName)); err != nil {
		return "", "", err
	}
	return source, p.publicPath(id, thumbName), nil
}

// rollback undoes a Submit that could not be queued.
func (p *Pipeline) rollback(id string, log *logrus.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	p.removeOutput(id, log)
	p.removeWork(id, log)
	if err := p.store.Delete(ctx, id); err != nil && !errors.Is(err, jobs.ErrNotFound) {
		log.Errorf("rollback: delete record: %v", err)
	}
}

func (p *Pipeline) publicPath(id, name string) string {
	return path.Join(p.publicPrefix, id, name)
}

func (p *Pipeline) jobOutputDir(id string) string {
	return filepath.Join(p.outputDir, id)
}

func (p *Pipeline) jobWorkDir(id string) string {
	return filepath.Join(p.workDir, id)
}

// rungName matches variant directory names such as "720p".
var rungName = regexp.MustCompile(`^[0-9]+p$`)

// safeName picks the first usable base name, rejecting names that would
// collide with the package layout.
func safeName(candidates ...string) string {
	fallback := candidates[len(candidates)-1]
	for _, c := range candidates[:len(candidates)-1] {
		name := filepath.Base(strings.TrimSpace(c))
		if name == "." || name == "/" || name == ".." || name == "" || strings.HasPrefix(name, ".") {
			continue
		}
		if strings.EqualFold(name, "master.m3u8") || rungName.MatchString(name) {
			continue
		}
		return name
	}
	return fallback
}
