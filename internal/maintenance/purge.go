// Package maintenance runs background housekeeping on a cron schedule.
//
// Today that is a single job: deleting expired idempotency records so the
// table does not grow with every retried chat turn.
package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/study-mentor-backend/internal/repo"
)

// Scheduler owns the cron runner and the context handed to its jobs.
type Scheduler struct {
	cron     *cron.Cron
	ctx      context.Context
	cancel   context.CancelFunc
	db       *gorm.DB
	schedule string

	// Now is the clock used to decide expiry. Defaults to time.Now in UTC.
	Now func() time.Time
}

// New builds a scheduler that purges expired idempotency records on
// schedule (standard five-field cron or a descriptor such as "@hourly").
// An empty schedule disables the job.
func New(db *gorm.DB, schedule string) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:     cron.New(cron.WithLocation(time.UTC)),
		ctx:      ctx,
		cancel:   cancel,
		db:       db,
		schedule: schedule,
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

// Start registers the purge job and starts the runner. An invalid schedule
// is returned as an error and nothing is started.
func (s *Scheduler) Start() error {
	if s.schedule == "" {
		log.Info().Msg("idempotency purge disabled")
		return nil
	}
	if _, err := s.cron.AddFunc(s.schedule, func() { _, _ = s.PurgeOnce(s.ctx) }); err != nil {
		return err
	}
	s.cron.Start()
	log.Info().Str("schedule", s.schedule).Msg("maintenance scheduler started")
	return nil
}

// PurgeOnce deletes idempotency records that have expired by Now.
func (s *Scheduler) PurgeOnce(ctx context.Context) (int64, error) {
	n, err := repo.PurgeIdempotency(ctx, s.db, s.Now())
	if err != nil {
		log.Error().Err(err).Msg("idempotency purge failed")
		return 0, err
	}
	if n > 0 {
		log.Info().Int64("deleted", n).Msg("expired idempotency records purged")
	}
	return n, nil
}

// Stop waits for a running job to finish and cancels the job context.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.cancel()
}

// Entries reports how many jobs are registered.
func (s *Scheduler) Entries() int { return len(s.cron.Entries()) }
