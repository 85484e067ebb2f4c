package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"hls-site/ffmpeg"
	"hls-site/jobs"
	"hls-site/ladder"
	"hls-site/media"
	"hls-site/playlists"
)

// errGone means the job record disappeared while queued.
var errGone = errors.New("job record is gone")

func (p *Pipeline) process(t task) {
	log := p.log.WithField("job_id", t.ID)

	ctx, cancel := context.WithTimeout(p.ctx, p.jobTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			p.fail(t.ID, fmt.Errorf("panic: %v", r), log)
		}
	}()

	err := p.run(ctx, t, log)
	switch {
	case err == nil:
		p.removeWork(t.ID, log)
	case errors.Is(err, errGone):
		log.Debugln("skipped, record is gone")
	case p.ctx.Err() != nil:
		// shutting down; leave the job processing for Recover
		log.WithError(err).Warnln("interrupted")
	default:
		p.fail(t.ID, err, log)
	}
}

func (p *Pipeline) run(ctx context.Context, t task, log *logrus.Entry) error {
	job, err := p.store.Get(ctx, t.ID)
	if errors.Is(err, jobs.ErrNotFound) {
		return errGone
	}
	if err != nil {
		return err
	}
	if job.Status().Terminal() {
		return nil
	}

	outDir := p.jobOutputDir(t.ID)
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return err
	}

	log.Debugln("probe", t.Source)
	probe, err := p.engine.Probe(ctx, t.Source)
	if err != nil {
		return err
	}

	variants := ladder.Build(probe.Streams)
	log.Infof("encoding %d variants", len(variants))
	if err := p.encodeAll(ctx, t.Source, variants, outDir); err != nil {
		return err
	}

	master, err := playlists.BuildMaster(variants, p.playlistBaseURL)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(filepath.Join(outDir, playlists.MasterName), []byte(master)); err != nil {
		return fmt.Errorf("write master playlist: %w", err)
	}

	thumbnail := job.ThumbnailPath
	if thumbnail == "" {
		dst := filepath.Join(outDir, ffmpeg.ThumbnailName)
		if err := p.engine.Thumbnail(ctx, t.Source, dst, ffmpeg.ThumbnailOffset(probe.DurationSeconds)); err != nil {
			return err
		}
		thumbnail = p.publicPath(t.ID, ffmpeg.ThumbnailName)
	}

	if probe.DurationSeconds <= 0 {
		return fmt.Errorf("no duration found for %s", t.Source)
	}
	duration := jobs.NewDuration(probe.DurationSeconds)

	if _, err := p.store.Update(ctx, t.ID, jobs.Complete(duration, thumbnail)); err != nil {
		return err
	}
	log.Infof("completed (%.2fs)", duration.Seconds)
	return nil
}

// encodeAll runs one encode per variant, at most encodeConcurrency at a
// time. The first failure cancels the rest.
func (p *Pipeline) encodeAll(ctx context.Context, src string, variants []media.Variant, outDir string) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.encodeConcurrency)
	for _, v := range variants {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("encode %s: panic: %v", v.Name, r)
				}
			}()
			if err := gctx.Err(); err != nil {
				return err
			}
			rendition, err := p.engine.EncodeVariant(gctx, src, v, outDir)
			if err != nil {
				return err
			}
			p.log.Debugf("%s: %d segments", v.Name, len(rendition.Segments))
			return nil
		})
	}
	return g.Wait()
}

// fail removes everything the job produced, then deletes or marks the
// record according to the configured policy.
func (p *Pipeline) fail(id string, cause error, log *logrus.Entry) {
	log.WithError(cause).Errorln("transcode failed")

	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	p.removeOutput(id, log)
	p.removeWork(id, log)

	if p.keepFailed {
		if _, err := p.store.Update(ctx, id, jobs.Fail()); err != nil && !errors.Is(err, jobs.ErrNotFound) {
			log.WithError(err).Errorln("mark failed")
		}
		return
	}
	if err := p.store.Delete(ctx, id); err != nil && !errors.Is(err, jobs.ErrNotFound) {
		log.WithError(err).Errorln("delete failed job")
	}
}

func (p *Pipeline) removeOutput(id string, log *logrus.Entry) {
	if err := os.RemoveAll(p.jobOutputDir(id)); err != nil {
		log.WithError(err).Errorln("remove output")
	}
}

func (p *Pipeline) removeWork(id string, log *logrus.Entry) {
	if err := os.RemoveAll(p.jobWorkDir(id)); err != nil {
		log.WithError(err).Errorln("remove work dir")
	}
}

// writeFileAtomic writes data next to path and renames it into place, so
// readers never see a partial file.
func writeFileAtomic(path string, data []byte) error {
	f, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+filepath.Base(path))
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Chmod(tmp, 0644); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// moveFile renames src to dst, copying when they are on different
// filesystems.
func moveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}
	return os.Remove(src)
}
