// Package jobs runs periodic maintenance of attempts and live sessions.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"quiz-delivery-service/internal/logging"
)

const (
	defaultSchedule = "@every 30s"
	defaultIdle     = 15 * time.Minute
)

// Maintainer is the part of the quiz service the sweeper drives.
type Maintainer interface {
	EvictIdle(ctx context.Context, idle time.Duration) int
	FinalizeOverdue(ctx context.Context) (int, error)
}

type Config struct {
	Service Maintainer
	// Schedule is a cron spec or descriptor such as "@every 30s".
	Schedule string
	// IdleAfter is how long an unwatched session is kept.
	IdleAfter time.Duration
}

// Sweeper closes overdue attempts and evicts idle live sessions on a cron
// schedule.
type Sweeper struct {
	svc  Maintainer
	idle time.Duration
	cron *cron.Cron
}

func NewSweeper(c Config) (*Sweeper, error) {
	if c.Schedule == "" {
		c.Schedule = defaultSchedule
	}
	if c.IdleAfter <= 0 {
		c.IdleAfter = defaultIdle
	}

	logger := cron.PrintfLogger(logging.Logger())
	s := &Sweeper{
		svc:  c.Service,
		idle: c.IdleAfter,
		cron: cron.New(cron.WithLogger(logger), cron.WithChain(cron.SkipIfStillRunning(logger), cron.Recover(logger))),
	}
	if _, err := s.cron.AddFunc(c.Schedule, func() { s.Sweep(context.Background()) }); err != nil {
		return nil, fmt.Errorf("schedule sweeper %q: %w", c.Schedule, err)
	}
	return s, nil
}

// Sweep runs one maintenance pass.
func (s *Sweeper) Sweep(ctx context.Context) {
	log := logging.WithContext(ctx).WithField("job", "sweeper")

	closed, err := s.svc.FinalizeOverdue(ctx)
	if err != nil {
		log.WithError(err).Warn("jobs: finalize overdue attempts failed")
	}
	evicted := s.svc.EvictIdle(ctx, s.idle)

	if closed > 0 || evicted > 0 {
		log.WithFields(logrus.Fields{"closed": closed, "evicted": evicted}).Info("jobs: sweep done")
	}
}

// Run starts the schedule and blocks until ctx is done, then waits for a
// running sweep to finish.
func (s *Sweeper) Run(ctx context.Context) error {
	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
	return nil
}
