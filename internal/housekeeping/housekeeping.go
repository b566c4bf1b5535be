// Package housekeeping runs periodic maintenance against the primary store.
package housekeeping

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"orbit/api/internal/metrics"
)

// JoinCodePurger deletes join codes that expired before a cutoff.
type JoinCodePurger interface {
	PurgeJoinCodes(ctx context.Context, expiredBefore time.Time) (int64, error)
}

type Scheduler struct {
	cron       *cron.Cron
	purger     JoinCodePurger
	purgeAfter time.Duration
	timeout    time.Duration
	log        *zap.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

// New builds a scheduler that purges join codes expired for longer than
// purgeAfter on the given cron spec (standard five fields or descriptors
// such as "@daily").
func New(spec string, purger JoinCodePurger, purgeAfter time.Duration, log *zap.Logger, m *metrics.Metrics) (*Scheduler, error) {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Scheduler{
		cron:       cron.New(cron.WithLocation(time.UTC)),
		purger:     purger,
		purgeAfter: purgeAfter,
		timeout:    time.Minute,
		log:        log.Named("housekeeping"),
		metrics:    m,
		now:        time.Now,
	}
	if _, err := s.cron.AddFunc(spec, func() { _, _ = s.PurgeJoinCodes(context.Background()) }); err != nil {
		return nil, fmt.Errorf("schedule join code purge %q: %w", spec, err)
	}
	return s, nil
}

// PurgeJoinCodes runs one purge pass and reports how many codes went.
func (s *Scheduler) PurgeJoinCodes(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cutoff := s.now().Add(-s.purgeAfter)
	purged, err := s.purger.PurgeJoinCodes(ctx, cutoff)
	if err != nil {
		s.log.Warn("purge join codes", zap.Time("cutoff", cutoff), zap.Error(err))
		return 0, err
	}
	s.metrics.JoinCodesPurged(purged)
	if purged > 0 {
		s.log.Info("purged expired join codes", zap.Int64("count", purged), zap.Time("cutoff", cutoff))
	}
	return purged, nil
}

// Schedule adds job on spec. Each run gets the scheduler's timeout; a
// failure is logged and the schedule continues.
func (s *Scheduler) Schedule(spec, name string, job func(ctx context.Context) error) error {
	_, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if err := job(ctx); err != nil {
			s.log.Warn("housekeeping job failed", zap.String("job", name), zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule %s %q: %w", name, spec, err)
	}
	return nil
}

// Entries reports how many jobs are scheduled.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for a running purge to finish or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}
