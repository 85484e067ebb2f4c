package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

type vacuumer interface {
	Vacuum(ctx context.Context) error
}

type sweeper interface {
	SweepOrphans(ctx context.Context) (int, error)
}

// maintenance is the periodic housekeeping pass: compact the job database,
// drop output dirs without a record and expire abandoned upload spools.
type maintenance struct {
	db         vacuumer
	sweeper    sweeper
	tempDir    string
	tempMaxAge time.Duration
	log        *logrus.Entry
}

func (m *maintenance) run(ctx context.Context) {
	if err := m.db.Vacuum(ctx); err != nil {
		m.log.Errorln(err)
	}
	n, err := m.sweeper.SweepOrphans(ctx)
	if err != nil {
		m.log.Errorln(err)
	} else if n > 0 {
		m.log.Infof("removed %d orphaned job directories", n)
	}
	if _, err := cleanupTempFiles(m.tempDir, m.tempMaxAge, m.log); err != nil {
		m.log.Errorln(err)
	}
}

// cleanupTempFiles removes spooled uploads older than maxAge.
func cleanupTempFiles(dir string, maxAge time.Duration, log *logrus.Entry) (int, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		info, err := e.Info()
		if err != nil || !info.Mode().IsRegular() || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if err := os.Remove(path); err != nil {
			log.Errorln(err)
			continue
		}
		log.Debugf("removed stale upload %s", path)
		removed++
	}
	return removed, nil
}

func startMaintenance(schedule string, m *maintenance) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		m.run(ctx)
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}
