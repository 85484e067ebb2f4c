package jobs

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"

	"hls-site/database"
)

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	db, err := database.Open(filepath.Join(t.TempDir(), "jobs.db"), logger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { database.Close(db) })
	tracker, err := NewTracker(db, logger)
	if err != nil {
		t.Fatal(err)
	}
	return tracker
}

func TestCreateGet(t *testing.T) {
	ctx := context.Background()
	tracker := newTestTracker(t)

	job, err := tracker.Create(ctx, Meta{Title: "Sunset", Description: "timelapse"})
	if err != nil {
		t.Fatal(err)
	}
	if job.ID == "" || job.Status() != StatusProcessing || job.CreatedAt.IsZero() {
		t.Fatalf("created job = %+v", job)
	}

	got, err := tracker.Get(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "Sunset" || got.Description != "timelapse" || got.ThumbnailPath != "" {
		t.Errorf("Get = %+v", got)
	}
	if _, ok := got.State.(Processing); !ok {
		t.Errorf("state = %T, want Processing", got.State)
	}
}

func TestGetMissing(t *testing.T) {
	tracker := newTestTracker(t)
	if _, err := tracker.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if err := tracker.Delete(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete err = %v, want ErrNotFound", err)
	}
	if _, err := tracker.Update(context.Background(), "nope", Fail()); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update err = %v, want ErrNotFound", err)
	}
}

func TestCompleteLifecycle(t *testing.T) {
	ctx := context.Background()
	tracker := newTestTracker(t)
	job, _ := tracker.Create(ctx, Meta{Title: "a"})

	if _, err := tracker.Update(ctx, job.ID, SetThumbnail("/uploads/a/thumb.png")); err != nil {
		t.Fatal(err)
	}
	d := NewDuration(93.4812)
	done, err := tracker.Update(ctx, job.ID, Complete(d, "/uploads/a/thumb.png"))
	if err != nil {
		t.Fatal(err)
	}
	c, ok := done.State.(Completed)
	if !ok {
		t.Fatalf("state = %T, want Completed", done.State)
	}
	if c.Duration != (Duration{Seconds: 93.48, Minutes: 1.56}) || c.ThumbnailPath != "/uploads/a/thumb.png" {
		t.Errorf("completed = %+v", c)
	}

	// idempotent repeat
	if _, err := tracker.Update(ctx, job.ID, Complete(d, "/uploads/a/thumb.png")); err != nil {
		t.Errorf("repeat completion: %v", err)
	}

	first, _ := tracker.Get(ctx, job.ID)
	second, _ := tracker.Get(ctx, job.ID)
	if first.State != second.State || first.ThumbnailPath != second.ThumbnailPath {
		t.Errorf("Get not stable: %+v vs %+v", first, second)
	}

	for name, p := range map[string]Patch{
		"fail":           Fail(),
		"other duration": Complete(NewDuration(10), ""),
		"new thumbnail":  SetThumbnail("/other.jpg"),
	} {
		if _, err := tracker.Update(ctx, job.ID, p); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("%s after completion: err = %v, want ErrInvalidTransition", name, err)
		}
	}
}

func TestCompletionRequiresDuration(t *testing.T) {
	ctx := context.Background()
	tracker := newTestTracker(t)
	job, _ := tracker.Create(ctx, Meta{Title: "a"})

	status := StatusCompleted
	if _, err := tracker.Update(ctx, job.ID, Patch{Status: &status}); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("err = %v, want ErrInvalidTransition", err)
	}
	d := NewDuration(1)
	if _, err := tracker.Update(ctx, job.ID, Patch{Duration: &d}); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("duration while processing: err = %v, want ErrInvalidTransition", err)
	}
}

func TestFailedIsFinal(t *testing.T) {
	ctx := context.Background()
	tracker := newTestTracker(t)
	job, _ := tracker.Create(ctx, Meta{Title: "a"})

	failed, err := tracker.Update(ctx, job.ID, Fail())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := failed.State.(Failed); !ok {
		t.Fatalf("state = %T, want Failed", failed.State)
	}
	if _, err := tracker.Update(ctx, job.ID, Fail()); err != nil {
		t.Errorf("repeat failure: %v", err)
	}
	for name, p := range map[string]Patch{
		"complete":  Complete(NewDuration(1), ""),
		"thumbnail": SetThumbnail("/t.jpg"),
	} {
		if _, err := tracker.Update(ctx, job.ID, p); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("%s after failure: err = %v, want ErrInvalidTransition", name, err)
		}
	}
}

func TestThumbnailSetOnce(t *testing.T) {
	ctx := context.Background()
	tracker := newTestTracker(t)
	job, _ := tracker.Create(ctx, Meta{Title: "a"})

	if _, err := tracker.Update(ctx, job.ID, SetThumbnail("/a.jpg")); err != nil {
		t.Fatal(err)
	}
	if _, err := tracker.Update(ctx, job.ID, SetThumbnail("/a.jpg")); err != nil {
		t.Errorf("same thumbnail: %v", err)
	}
	if _, err := tracker.Update(ctx, job.ID, SetThumbnail("/b.jpg")); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	tracker := newTestTracker(t)
	job, _ := tracker.Create(ctx, Meta{Title: "a"})
	if err := tracker.Delete(ctx, job.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := tracker.Get(ctx, job.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestListCompleted(t *testing.T) {
	ctx := context.Background()
	tracker := newTestTracker(t)

	done1, _ := tracker.Create(ctx, Meta{Title: "one"})
	tracker.Create(ctx, Meta{Title: "busy"})
	failed, _ := tracker.Create(ctx, Meta{Title: "broken"})
	done2, _ := tracker.Create(ctx, Meta{Title: "two"})

	for _, id := range []string{done1.ID, done2.ID} {
		if _, err := tracker.Update(ctx, id, Complete(NewDuration(12), "")); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := tracker.Update(ctx, failed.ID, Fail()); err != nil {
		t.Fatal(err)
	}

	list, err := tracker.ListCompleted(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("ListCompleted = %+v", list)
	}
	for _, j := range list {
		if j.Status() != StatusCompleted {
			t.Errorf("listed %s with status %s", j.ID, j.Status())
		}
	}

	processing, err := tracker.ListProcessing(ctx)
	if err != nil || len(processing) != 1 || processing[0].Title != "busy" {
		t.Errorf("ListProcessing = %+v, %v", processing, err)
	}

	ids, err := tracker.IDs(ctx)
	if err != nil || len(ids) != 4 || !ids[failed.ID] {
		t.Errorf("IDs = %v, %v", ids, err)
	}
	if err := tracker.Vacuum(ctx); err != nil {
		t.Errorf("Vacuum: %v", err)
	}
}

func TestConcurrentUpdatesSingleTerminal(t *testing.T) {
	ctx := context.Background()
	tracker := newTestTracker(t)
	job, _ := tracker.Create(ctx, Meta{Title: "race"})

	var wg sync.WaitGroup
	results := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := Fail()
			if i%2 == 0 {
				p = Complete(NewDuration(5), "")
			}
			_, err := tracker.Update(ctx, job.ID, p)
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	final, err := tracker.Get(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	ok := 0
	for err := range results {
		if err == nil {
			ok++
		} else if !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	// every accepted update must agree with the final state
	if ok != 10 {
		t.Errorf("%d updates accepted, want 10 (all for %s)", ok, final.Status())
	}
}

func TestNewDuration(t *testing.T) {
	if got := NewDuration(125.456); got != (Duration{Seconds: 125.46, Minutes: 2.09}) {
		t.Errorf("NewDuration = %+v", got)
	}
}
