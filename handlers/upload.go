package handlers

import (
	"errors"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/labstack/echo/v4"

	"hls-site/pipeline"
)

const maxFieldBytes = 64 << 10

type uploadResponse struct {
	Message  string `json:"message"`
	UploadID string `json:"uploadId"`
}

// received holds the parts of an upload form. File parts are spooled to
// the temp dir.
type received struct {
	videoPath     string
	videoName     string
	thumbnailPath string
	thumbnailName string
	title         string
	description   string
}

// cleanup removes spooled files that were not moved away by Submit.
func (r *received) cleanup() {
	for _, p := range []string{r.videoPath, r.thumbnailPath} {
		if p != "" {
			os.Remove(p)
		}
	}
}

func (h *Handlers) UploadPost(c echo.Context) error {
	req := c.Request()

	if err := h.preflight(req.ContentLength); err != nil {
		h.log.Warnln(err)
		return jsonError(c, http.StatusInsufficientStorage, "Not enough free space for this upload")
	}
	if h.maxUploadBytes > 0 {
		req.Body = http.MaxBytesReader(c.Response(), req.Body, h.maxUploadBytes)
	}

	form, err := h.receive(req)
	defer form.cleanup()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return jsonError(c, http.StatusRequestEntityTooLarge, "Upload is too large")
		}
		h.log.Errorln("parse upload:", err)
		return jsonError(c, http.StatusBadRequest, "Failed to parse form")
	}
	if form.videoPath == "" {
		return jsonError(c, http.StatusBadRequest, "No video provided")
	}

	job, err := h.pipeline.Submit(req.Context(), pipeline.Upload{
		SourcePath:    form.videoPath,
		SourceName:    form.videoName,
		ThumbnailPath: form.thumbnailPath,
		ThumbnailName: form.thumbnailName,
		Title:         form.title,
		Description:   form.description,
	})
	switch {
	case err == nil:
	case errors.Is(err, pipeline.ErrInvalidUpload):
		return jsonError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, pipeline.ErrQueueFull), errors.Is(err, pipeline.ErrClosed):
		return jsonError(c, http.StatusServiceUnavailable, "Transcoder is busy, try again later")
	default:
		h.log.Errorln("submit:", err)
		return jsonError(c, http.StatusInternalServerError, "Failed to parse form or process upload")
	}

	return c.JSON(http.StatusOK, uploadResponse{
		Message:  "Upload received. Processing will continue in background.",
		UploadID: job.ID,
	})
}

// preflight rejects uploads that would not fit twice on the temp
// filesystem, once spooled and once encoded.
func (h *Handlers) preflight(contentLength int64) error {
	if contentLength <= 0 {
		return nil
	}
	free, err := getFreeSpace(h.tempDir)
	if err != nil {
		h.log.Warnln(err)
		return nil
	}
	if uint64(contentLength)*2 > free {
		return errors.New("insufficient free space")
	}
	return nil
}

// receive streams the multipart body. It always returns a non-nil
// *received so spooled files can be cleaned up.
func (h *Handlers) receive(req *http.Request) (*received, error) {
	r := &received{}
	mr, err := req.MultipartReader()
	if err != nil {
		return r, err
	}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return r, nil
		}
		if err != nil {
			return r, err
		}

		switch part.FormName() {
		case "video", "thumbnail":
			path, n, err := h.spool(part)
			if err != nil {
				part.Close()
				return r, err
			}
			if n == 0 {
				os.Remove(path)
				break
			}
			if part.FormName() == "video" && r.videoPath == "" {
				r.videoPath, r.videoName = path, part.FileName()
			} else if part.FormName() == "thumbnail" && r.thumbnailPath == "" {
				r.thumbnailPath, r.thumbnailName = path, part.FileName()
			} else {
				os.Remove(path)
			}
		case "title":
			r.title, err = readField(part)
		case "description":
			r.description, err = readField(part)
		}
		part.Close()
		if err != nil {
			return r, err
		}
	}
}

func (h *Handlers) spool(src io.Reader) (string, int64, error) {
	if err := os.MkdirAll(h.tempDir, 0755); err != nil {
		return "", 0, err
	}
	f, err := os.CreateTemp(h.tempDir, "upload-*")
	if err != nil {
		return "", 0, err
	}
	n, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(f.Name())
		return "", 0, err
	}
	return f.Name(), n, nil
}

func readField(r io.Reader) (string, error) {
	b, err := io.ReadAll(io.LimitReader(r, maxFieldBytes))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}
