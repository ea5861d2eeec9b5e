package finance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/soyeahso/lucai/internal/config"
	"github.com/soyeahso/lucai/internal/logging"
)

// SnapshotSource is a ledger that can persist balance snapshots.
type SnapshotSource interface {
	UserIDs(ctx context.Context) ([]string, error)
	Summary(ctx context.Context, userID string) (Summary, error)
	SaveSnapshot(ctx context.Context, snap Snapshot) error
}

// Snapshotter periodically records each user's balance so the summary can
// report how it moved since the last run.
type Snapshotter struct {
	src     SnapshotSource
	log     *logging.Logger
	now     func() time.Time
	timeout time.Duration
	observe func(err error)

	mu    sync.Mutex
	sched *cron.Cron
}

// NewSnapshotter creates a Snapshotter over src.
func NewSnapshotter(src SnapshotSource, log *logging.Logger) *Snapshotter {
	return &Snapshotter{
		src:     src,
		log:     log.Sub("snapshots"),
		now:     time.Now,
		timeout: time.Minute,
	}
}

// OnSnapshot registers fn to be called after every per-user attempt with
// its error, nil on success. Call it before Start.
func (s *Snapshotter) OnSnapshot(fn func(err error)) {
	s.observe = fn
}

// Start schedules RunOnce according to spec. Calling Start twice is an error.
func (s *Snapshotter) Start(spec string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sched != nil {
		return fmt.Errorf("snapshotter already started")
	}
	sched := cron.New(cron.WithParser(config.ScheduleParser))
	if _, err := sched.AddFunc(spec, s.tick); err != nil {
		return fmt.Errorf("parse snapshot schedule %q: %w", spec, err)
	}
	sched.Start()
	s.sched = sched
	s.log.Info().Str("schedule", spec).Msg("balance snapshots scheduled")
	return nil
}

// Stop halts the schedule and waits for a running job to finish.
func (s *Snapshotter) Stop() {
	s.mu.Lock()
	sched := s.sched
	s.sched = nil
	s.mu.Unlock()

	if sched != nil {
		<-sched.Stop().Done()
	}
}

func (s *Snapshotter) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	n, err := s.RunOnce(ctx)
	if err != nil {
		s.log.Error().Err(err).Int("written", n).Msg("balance snapshot run failed")
		return
	}
	s.log.Debug().Int("written", n).Msg("balance snapshots written")
}

// RunOnce writes one snapshot per user and returns how many were written.
// A failure for one user does not stop the others; the first error is returned.
func (s *Snapshotter) RunOnce(ctx context.Context) (int, error) {
	users, err := s.src.UserIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list users: %w", err)
	}

	var firstErr error
	written := 0
	at := s.now().UTC()
	for _, userID := range users {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		sum, err := s.src.Summary(ctx, userID)
		if err == nil {
			err = s.src.SaveSnapshot(ctx, sum.Snapshot(userID, at))
		}
		if s.observe != nil {
			s.observe(err)
		}
		if err != nil {
			s.log.Warn().Err(err).Str("userId", userID).Msg("snapshot failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		written++
	}
	return written, firstErr
}
