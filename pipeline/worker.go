package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (p *Pipeline) Start() {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	p.log.Infof("started %d workers", p.workers)
}

// Shutdown stops accepting work and waits for running jobs to observe the
// cancellation. Interrupted jobs stay processing and are picked up again by
// Recover.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.cancel()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// enqueue never blocks; a full queue is reported to the caller.
func (p *Pipeline) enqueue(t task) error {
	select {
	case <-p.ctx.Done():
		return ErrClosed
	default:
	}
	select {
	case p.queue <- t:
		return nil
	default:
		return ErrQueueFull
	}
}

// enqueueWait blocks until there is room in the queue.
func (p *Pipeline) enqueueWait(ctx context.Context, t task) error {
	select {
	case p.queue <- t:
		return nil
	case <-p.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pipeline) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case t := <-p.queue:
			if strings.TrimSpace(t.ID) == "" {
				continue
			}
			if !p.beginWork(t.ID) {
				continue
			}
			p.process(t)
			p.finishWork(t.ID)
		}
	}
}

func (p *Pipeline) beginWork(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.inFlight[id]; exists {
		return false
	}
	p.inFlight[id] = struct{}{}
	return true
}

func (p *Pipeline) finishWork(id string) {
	p.mu.Lock()
	delete(p.inFlight, id)
	p.mu.Unlock()
}

func (p *Pipeline) isInFlight(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.inFlight[id]
	return ok
}

// Recover re-queues jobs left processing by a previous run, meaning jobs
// created before this Pipeline. Jobs whose staged source is gone cannot be
// resumed and go through the failure path.
func (p *Pipeline) Recover(ctx context.Context) error {
	pending, err := p.store.ListProcessing(ctx)
	if err != nil {
		return err
	}
	for _, job := range pending {
		if !job.CreatedAt.Before(p.createdAt) {
			// submitted to this process; Submit owns it
			continue
		}
		log := p.log.WithField("job_id", job.ID)
		source, err := p.stagedSource(job.ID)
		if err != nil {
			p.fail(job.ID, fmt.Errorf("resume: %w", err), log)
			continue
		}
		if err := p.enqueueWait(ctx, task{ID: job.ID, Source: source}); err != nil {
			return err
		}
		log.Infoln("resumed")
	}
	return nil
}

// stagedSource finds the source file Submit moved into the job's work dir.
func (p *Pipeline) stagedSource(id string) (string, error) {
	dir := p.jobWorkDir(id)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if e.Type().IsRegular() {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", fmt.Errorf("no staged source in %s", dir)
}

// SweepOrphans removes output and work directories that no job record
// refers to. It returns the number of directories removed.
func (p *Pipeline) SweepOrphans(ctx context.Context) (int, error) {
	// directories are listed before ids: Submit creates the record first
	var candidates []string
	for _, root := range []string{p.outputDir, p.workDir} {
		entries, err := os.ReadDir(root)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return 0, err
		}
		for _, e := range entries {
			if e.IsDir() {
				candidates = append(candidates, filepath.Join(root, e.Name()))
			}
		}
	}

	ids, err := p.store.IDs(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, dir := range candidates {
		id := filepath.Base(dir)
		if ids[id] || p.isInFlight(id) {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			p.log.WithError(err).Errorf("remove orphan %s", dir)
			continue
		}
		p.log.Infof("removed orphan %s", dir)
		removed++
	}
	return removed, nil
}
