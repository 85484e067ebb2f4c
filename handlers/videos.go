package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"hls-site/jobs"
)

type jobView struct {
	ID            string         `json:"id"`
	Title         string         `json:"title"`
	Description   string         `json:"description"`
	Status        jobs.Status    `json:"status"`
	ThumbnailPath string         `json:"thumbnailPath,omitempty"`
	Duration      *jobs.Duration `json:"duration,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
}

func viewOf(j jobs.Job) jobView {
	v := jobView{
		ID:            j.ID,
		Title:         j.Title,
		Description:   j.Description,
		Status:        j.Status(),
		ThumbnailPath: j.ThumbnailPath,
		CreatedAt:     j.CreatedAt,
	}
	if c, ok := j.State.(jobs.Completed); ok {
		d := c.Duration
		v.Duration = &d
	}
	return v
}

func (h *Handlers) JobStatusGet(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return jsonError(c, http.StatusNotFound, "ID not found")
	}
	job, err := h.jobs.Get(c.Request().Context(), id)
	if errors.Is(err, jobs.ErrNotFound) {
		return jsonError(c, http.StatusNotFound, "Video not found")
	}
	if err != nil {
		h.log.WithField("job_id", id).Errorln(err)
		return internalError(c)
	}
	return c.JSON(http.StatusOK, viewOf(job))
}

// VideosGet lists completed jobs, newest first.
func (h *Handlers) VideosGet(c echo.Context) error {
	list, err := h.jobs.ListCompleted(c.Request().Context())
	if err != nil {
		h.log.Errorln(err)
		return internalError(c)
	}
	views := make([]jobView, 0, len(list))
	for _, j := range list {
		views = append(views, viewOf(j))
	}
	return c.JSON(http.StatusOK, views)
}
