package scheduler

import (
	"context"
	"fmt"

	"github.com/jholhewres/meetclaw/pkg/meetclaw/dedup"
)

// Job IDs of the built-in maintenance jobs.
const (
	JobDedupSweep = "dedup-sweep"
	JobMediaSync  = "media-sync"
)

// Config enables and schedules the maintenance jobs.
type Config struct {
	Enabled bool `yaml:"enabled"`

	// DedupSchedule sweeps duplicate agents out of active meetings.
	DedupSchedule string `yaml:"dedup_schedule"`

	// MediaSyncSchedule copies recording and transcript URLs onto completed
	// meetings that missed the ready webhooks.
	MediaSyncSchedule string `yaml:"media_sync_schedule"`
}

// DefaultConfig returns the default maintenance schedules.
func DefaultConfig() Config {
	return Config{
		Enabled:           true,
		DedupSchedule:     "@every 1m",
		MediaSyncSchedule: "@every 10m",
	}
}

// Sweeper sweeps every active meeting.
type Sweeper interface {
	SweepActive(ctx context.Context) ([]dedup.Result, error)
}

// MediaSyncer syncs completed meetings.
type MediaSyncer interface {
	SyncCompleted(ctx context.Context) (int, error)
}

// RegisterMaintenance adds the dedup sweep and media sync jobs. A nil
// sweeper or syncer skips its job.
func RegisterMaintenance(s *Scheduler, cfg Config, sweeper Sweeper, syncer MediaSyncer) error {
	def := DefaultConfig()
	if cfg.DedupSchedule == "" {
		cfg.DedupSchedule = def.DedupSchedule
	}
	if cfg.MediaSyncSchedule == "" {
		cfg.MediaSyncSchedule = def.MediaSyncSchedule
	}

	if sweeper != nil {
		err := s.Add(&Job{ID: JobDedupSweep, Schedule: cfg.DedupSchedule, Enabled: cfg.Enabled},
			func(ctx context.Context) (string, error) {
				results, err := sweeper.SweepActive(ctx)
				if err != nil {
					return "", err
				}
				removed := 0
				for _, r := range results {
					removed += len(r.Removed)
				}
				return fmt.Sprintf("%d meetings cleaned, %d agents removed", len(results), removed), nil
			})
		if err != nil {
			return err
		}
	}

	if syncer != nil {
		err := s.Add(&Job{ID: JobMediaSync, Schedule: cfg.MediaSyncSchedule, Enabled: cfg.Enabled},
			func(ctx context.Context) (string, error) {
				n, err := syncer.SyncCompleted(ctx)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("%d meetings updated", n), nil
			})
		if err != nil {
			return err
		}
	}
	return nil
}
