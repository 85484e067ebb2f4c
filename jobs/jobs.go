package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var (
	ErrNotFound          = errors.New("job not found")
	ErrInvalidTransition = errors.New("invalid job update")
)

// Job is the read model handed to callers.
type Job struct {
	ID            string
	Title         string
	Description   string
	ThumbnailPath string // empty when none has been recorded
	CreatedAt     time.Time
	State         State
}

func (j Job) Status() Status { return j.State.Status() }

type Meta struct {
	Title       string
	Description string
}

// Patch lists the fields an update wants to change; nil means unchanged.
type Patch struct {
	Status        *Status
	ThumbnailPath *string
	Duration      *Duration
}

func Complete(d Duration, thumbnailPath string) Patch {
	status := StatusCompleted
	p := Patch{Status: &status, Duration: &d}
	if thumbnailPath != "" {
		p.ThumbnailPath = &thumbnailPath
	}
	return p
}

func Fail() Patch {
	status := StatusFailed
	return Patch{Status: &status}
}

func SetThumbnail(path string) Patch {
	return Patch{ThumbnailPath: &path}
}

type jobRow struct {
	ID              string `gorm:"primaryKey"`
	Title           string
	Description     string
	Status          Status `gorm:"index"`
	ThumbnailPath   *string
	DurationSeconds *float64
	DurationMinutes *float64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (jobRow) TableName() string { return "jobs" }

func (r *jobRow) job() Job {
	j := Job{
		ID:          r.ID,
		Title:       r.Title,
		Description: r.Description,
		CreatedAt:   r.CreatedAt,
	}
	if r.ThumbnailPath != nil {
		j.ThumbnailPath = *r.ThumbnailPath
	}
	switch r.Status {
	case StatusCompleted:
		c := Completed{ThumbnailPath: j.ThumbnailPath}
		if r.DurationSeconds != nil {
			c.Duration.Seconds = *r.DurationSeconds
		}
		if r.DurationMinutes != nil {
			c.Duration.Minutes = *r.DurationMinutes
		}
		j.State = c
	case StatusFailed:
		j.State = Failed{}
	default:
		j.State = Processing{}
	}
	return j
}

// Tracker is the durable record of transcode jobs. Writes to one job id are
// serialized; reads of the same id may run concurrently.
type Tracker struct {
	db    *gorm.DB
	locks *keyedLock
	log   *logrus.Entry
}

func NewTracker(db *gorm.DB, logger *logrus.Logger) (*Tracker, error) {
	if err := db.AutoMigrate(&jobRow{}); err != nil {
		return nil, fmt.Errorf("migrate jobs: %w", err)
	}
	return &Tracker{
		db:    db,
		locks: newKeyedLock(),
		log: logger.WithFields(logrus.Fields{
			"component": "jobs",
		}),
	}, nil
}

func (t *Tracker) Create(ctx context.Context, meta Meta) (Job, error) {
	row := jobRow{
		ID:          uuid.Must(uuid.NewV7()).String(),
		Title:       meta.Title,
		Description: meta.Description,
		Status:      StatusProcessing,
		CreatedAt:   time.Now().UTC(),
	}
	if err := t.db.WithContext(ctx).Create(&row).Error; err != nil {
		return Job{}, fmt.Errorf("create job: %w", err)
	}
	t.log.WithField("job_id", row.ID).Debugln("created")
	return row.job(), nil
}

func (t *Tracker) Get(ctx context.Context, id string) (Job, error) {
	unlock := t.locks.RLock(id)
	defer unlock()

	var row jobRow
	err := t.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, fmt.Errorf("get job %s: %w", id, err)
	}
	return row.job(), nil
}

// Update applies p to the job. Terminal jobs only accept a patch that
// changes nothing.
func (t *Tracker) Update(ctx context.Context, id string, p Patch) (Job, error) {
	unlock := t.locks.Lock(id)
	defer unlock()

	var row jobRow
	err := t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&row, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		updates, err := apply(&row, p)
		if err != nil {
			return err
		}
		if len(updates) == 0 {
			return nil
		}
		return tx.Model(&jobRow{}).Where("id = ?", id).Updates(updates).Error
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidTransition) {
			return Job{}, err
		}
		return Job{}, fmt.Errorf("update job %s: %w", id, err)
	}
	t.log.WithFields(logrus.Fields{"job_id": id, "status": row.Status}).Debugln("updated")
	return row.job(), nil
}

// apply validates p against the current row, mutates row and returns the
// columns to write.
func apply(row *jobRow, p Patch) (map[string]interface{}, error) {
	current := row.Status
	target := current
	if p.Status != nil {
		target = *p.Status
	}
	updates := map[string]interface{}{}

	thumbnailChanged := p.ThumbnailPath != nil &&
		(row.ThumbnailPath == nil || *row.ThumbnailPath != *p.ThumbnailPath)
	if thumbnailChanged && row.ThumbnailPath != nil {
		return nil, fmt.Errorf("%w: thumbnail already set", ErrInvalidTransition)
	}

	switch current {
	case StatusFailed:
		if target != StatusFailed || thumbnailChanged || p.Duration != nil {
			return nil, fmt.Errorf("%w: job %s has failed", ErrInvalidTransition, row.ID)
		}
		return updates, nil

	case StatusCompleted:
		if target != StatusCompleted || thumbnailChanged {
			return nil, fmt.Errorf("%w: job %s has completed", ErrInvalidTransition, row.ID)
		}
		if p.Duration != nil && (row.DurationSeconds == nil ||
			*row.DurationSeconds != p.Duration.Seconds ||
			row.DurationMinutes == nil ||
			*row.DurationMinutes != p.Duration.Minutes) {
			return nil, fmt.Errorf("%w: duration already set", ErrInvalidTransition)
		}
		return updates, nil

	case StatusProcessing:
	default:
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, current)
	}

	switch target {
	case StatusProcessing, StatusFailed:
		if p.Duration != nil {
			return nil, fmt.Errorf("%w: duration is only set on completion", ErrInvalidTransition)
		}
		if target == StatusFailed && thumbnailChanged {
			return nil, fmt.Errorf("%w: thumbnail with failure", ErrInvalidTransition)
		}
	case StatusCompleted:
		if p.Duration == nil {
			return nil, fmt.Errorf("%w: completion requires a duration", ErrInvalidTransition)
		}
		seconds, minutes := p.Duration.Seconds, p.Duration.Minutes
		row.DurationSeconds = &seconds
		row.DurationMinutes = &minutes
		updates["duration_seconds"] = seconds
		updates["duration_minutes"] = minutes
	default:
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, target)
	}

	if target != current {
		row.Status = target
		updates["status"] = target
	}
	if thumbnailChanged {
		thumb := *p.ThumbnailPath
		row.ThumbnailPath = &thumb
		updates["thumbnail_path"] = thumb
	}
	return updates, nil
}

func (t *Tracker) Delete(ctx context.Context, id string) error {
	unlock := t.locks.Lock(id)
	defer unlock()

	result := t.db.WithContext(ctx).Delete(&jobRow{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("delete job %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	t.log.WithField("job_id", id).Debugln("deleted")
	return nil
}

// ListCompleted returns completed jobs, newest first.
func (t *Tracker) ListCompleted(ctx context.Context) ([]Job, error) {
	return t.listByStatus(ctx, StatusCompleted)
}

func (t *Tracker) ListProcessing(ctx context.Context) ([]Job, error) {
	return t.listByStatus(ctx, StatusProcessing)
}

func (t *Tracker) listByStatus(ctx context.Context, status Status) ([]Job, error) {
	var rows []jobRow
	err := t.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list %s jobs: %w", status, err)
	}
	out := make([]Job, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].job())
	}
	return out, nil
}

// IDs returns every known job id, whatever its status.
func (t *Tracker) IDs(ctx context.Context) (map[string]bool, error) {
	var ids []string
	if err := t.db.WithContext(ctx).Model(&jobRow{}).Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("list job ids: %w", err)
	}
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out, nil
}

func (t *Tracker) Vacuum(ctx context.Context) error {
	return t.db.WithContext(ctx).Exec("VACUUM").Error
}
