package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"hls-site/jobs"
	"hls-site/pipeline"
)

type fakeSubmitter struct {
	err   error
	calls []pipeline.Upload
	// contents of the spooled video at Submit time
	video []byte
}

func (f *fakeSubmitter) Submit(ctx context.Context, up pipeline.Upload) (jobs.Job, error) {
	f.calls = append(f.calls, up)
	f.video, _ = os.ReadFile(up.SourcePath)
	if f.err != nil {
		return jobs.Job{}, f.err
	}
	return jobs.Job{ID: "job-1", Title: up.Title, State: jobs.Processing{}}, nil
}

type fakeJobs struct {
	byID      map[string]jobs.Job
	completed []jobs.Job
	err       error
}

func (f *fakeJobs) Get(ctx context.Context, id string) (jobs.Job, error) {
	if f.err != nil {
		return jobs.Job{}, f.err
	}
	j, ok := f.byID[id]
	if !ok {
		return jobs.Job{}, jobs.ErrNotFound
	}
	return j, nil
}

func (f *fakeJobs) ListCompleted(ctx context.Context) ([]jobs.Job, error) {
	return f.completed, f.err
}

type fakeVersion string

func (v fakeVersion) Version(ctx context.Context) (string, error) { return string(v), nil }

func newTestServer(t *testing.T, sub *fakeSubmitter, store *fakeJobs, maxBytes int64) (*echo.Echo, string) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	tempDir := t.TempDir()
	h := New(Config{
		Pipeline:       sub,
		Jobs:           store,
		FFmpeg:         fakeVersion("ffmpeg version 6.1"),
		OutputDir:      t.TempDir(),
		TempDir:        tempDir,
		MaxUploadBytes: maxBytes,
		Logger:         logger,
	})
	e := echo.New()
	h.Register(e)
	return e, tempDir
}

func uploadRequest(t *testing.T, fields map[string]string, files map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	for field, content := range files {
		fw, err := w.CreateFormFile(field, field+".bin")
		if err != nil {
			t.Fatal(err)
		}
		fw.Write([]byte(content))
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/video/upload", &body)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	return req
}

func serve(e *echo.Echo, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func assertNoSpooledFiles(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("%d spooled files left in temp dir", len(entries))
	}
}

func TestUploadPost(t *testing.T) {
	sub := &fakeSubmitter{}
	e, tempDir := newTestServer(t, sub, &fakeJobs{}, 1<<20)

	rec := serve(e, uploadRequest(t,
		map[string]string{"title": "Holiday", "description": "beach"},
		map[string]string{"video": "frames"}))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var resp uploadResponse
	decode(t, rec, &resp)
	if resp.UploadID != "job-1" || !strings.Contains(resp.Message, "background") {
		t.Errorf("response = %+v", resp)
	}
	if len(sub.calls) != 1 {
		t.Fatalf("Submit called %d times", len(sub.calls))
	}
	up := sub.calls[0]
	if up.Title != "Holiday" || up.Description != "beach" || up.SourceName != "video.bin" || up.ThumbnailPath != "" {
		t.Errorf("upload = %+v", up)
	}
	if string(sub.video) != "frames" {
		t.Errorf("spooled video = %q", sub.video)
	}
	assertNoSpooledFiles(t, tempDir)
}

func TestUploadPostMissingVideo(t *testing.T) {
	sub := &fakeSubmitter{}
	e, _ := newTestServer(t, sub, &fakeJobs{}, 1<<20)

	for name, files := range map[string]map[string]string{
		"absent": nil,
		"empty":  {"video": ""},
	} {
		rec := serve(e, uploadRequest(t, map[string]string{"title": "x"}, files))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d", name, rec.Code)
		}
	}
	if len(sub.calls) != 0 {
		t.Errorf("Submit called %d times", len(sub.calls))
	}
}

func TestUploadPostErrors(t *testing.T) {
	for _, tc := range []struct {
		err  error
		code int
		body string
	}{
		{fmt.Errorf("%w: title is required", pipeline.ErrInvalidUpload), http.StatusBadRequest, "title is required"},
		{pipeline.ErrQueueFull, http.StatusServiceUnavailable, "busy"},
		{errors.New("disk on fire"), http.StatusInternalServerError, "Failed to parse form or process upload"},
	} {
		sub := &fakeSubmitter{err: tc.err}
		e, tempDir := newTestServer(t, sub, &fakeJobs{}, 1<<20)
		rec := serve(e, uploadRequest(t, map[string]string{"title": "x"},
			map[string]string{"video": "frames", "thumbnail": "png"}))
		if rec.Code != tc.code {
			t.Errorf("%v: status = %d, want %d", tc.err, rec.Code, tc.code)
		}
		if !strings.Contains(rec.Body.String(), tc.body) {
			t.Errorf("%v: body = %s", tc.err, rec.Body)
		}
		if strings.Contains(rec.Body.String(), "disk on fire") {
			t.Errorf("internal error leaked: %s", rec.Body)
		}
		assertNoSpooledFiles(t, tempDir)
	}
}

func TestUploadPostTooLarge(t *testing.T) {
	sub := &fakeSubmitter{}
	e, _ := newTestServer(t, sub, &fakeJobs{}, 16)

	rec := serve(e, uploadRequest(t, map[string]string{"title": "x"},
		map[string]string{"video": strings.Repeat("f", 1024)}))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, body %s", rec.Code, rec.Body)
	}
	if len(sub.calls) != 0 {
		t.Errorf("Submit called %d times", len(sub.calls))
	}
}

func completedJob(id string) jobs.Job {
	return jobs.Job{
		ID:            id,
		Title:         "done",
		ThumbnailPath: "/uploads/" + id + "/thumbnail.jpg",
		CreatedAt:     time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		State: jobs.Completed{
			Duration:      jobs.NewDuration(93.4812),
			ThumbnailPath: "/uploads/" + id + "/thumbnail.jpg",
		},
	}
}

func TestJobStatusGet(t *testing.T) {
	store := &fakeJobs{byID: map[string]jobs.Job{
		"a": completedJob("a"),
		"b": {ID: "b", Title: "busy", State: jobs.Processing{}},
	}}
	e, _ := newTestServer(t, &fakeSubmitter{}, store, 0)

	rec := serve(e, httptest.NewRequest(http.MethodGet, "/api/video/status/a", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got map[string]interface{}
	decode(t, rec, &got)
	if got["status"] != "completed" || got["thumbnailPath"] != "/uploads/a/thumbnail.jpg" {
		t.Errorf("body = %v", got)
	}
	duration, _ := got["duration"].(map[string]interface{})
	if duration["seconds"] != 93.48 || duration["minutes"] != 1.56 {
		t.Errorf("duration = %v", got["duration"])
	}

	rec = serve(e, httptest.NewRequest(http.MethodGet, "/api/video/status/b", nil))
	got = nil
	decode(t, rec, &got)
	if got["status"] != "processing" {
		t.Errorf("body = %v", got)
	}
	if _, ok := got["duration"]; ok {
		t.Errorf("processing job has a duration: %v", got)
	}

	rec = serve(e, httptest.NewRequest(http.MethodGet, "/api/video/status/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown id: status = %d", rec.Code)
	}
	got = nil
	decode(t, rec, &got)
	if got["error"] == nil {
		t.Errorf("unknown id: body = %v", got)
	}
}

func TestJobStatusGetHidesInternalErrors(t *testing.T) {
	store := &fakeJobs{err: errors.New("database is locked at /var/lib/jobs.db")}
	e, _ := newTestServer(t, &fakeSubmitter{}, store, 0)

	rec := serve(e, httptest.NewRequest(http.MethodGet, "/api/video/status/a", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "jobs.db") {
		t.Errorf("internal error leaked: %s", rec.Body)
	}
}

func TestVideosGet(t *testing.T) {
	e, _ := newTestServer(t, &fakeSubmitter{}, &fakeJobs{}, 0)
	rec := serve(e, httptest.NewRequest(http.MethodGet, "/api/videos", nil))
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("empty list: %d %s", rec.Code, rec.Body)
	}

	store := &fakeJobs{completed: []jobs.Job{completedJob("b"), completedJob("a")}}
	e, _ = newTestServer(t, &fakeSubmitter{}, store, 0)
	rec = serve(e, httptest.NewRequest(http.MethodGet, "/api/videos", nil))
	var got []jobView
	decode(t, rec, &got)
	if len(got) != 2 || got[0].ID != "b" || got[1].Status != jobs.StatusCompleted {
		t.Errorf("list = %+v", got)
	}
}

func TestStatusGet(t *testing.T) {
	e, _ := newTestServer(t, &fakeSubmitter{}, &fakeJobs{}, 0)
	rec := serve(e, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got serverStatus
	decode(t, rec, &got)
	if got.FFmpeg != "ffmpeg version 6.1" || got.UsedMiB != "0.00" || got.Build.ID == "" {
		t.Errorf("status = %+v", got)
	}
}
