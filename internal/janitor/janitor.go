package janitor

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/king-of-kingdom/tubegrab/internal/store"
)

// Purger is the part of the rate limiter the janitor trims.
type Purger interface {
	Purge(slack time.Duration) int
}

type Config struct {
	Dir          string
	Interval     time.Duration
	FileMaxAge   time.Duration
	JobMaxAge    time.Duration
	LimiterSlack time.Duration
}

type Result struct {
	Files          int
	Jobs           int
	LimiterEntries int
}

// Janitor periodically reclaims files, job records and limiter entries that
// nobody came back for.
type Janitor struct {
	cfg     Config
	store   store.Store
	limiter Purger
	logger  *log.Logger
	cron    *cron.Cron
	now     func() time.Time
}

func New(cfg Config, st store.Store, limiter Purger, logger *log.Logger) *Janitor {
	cronLogger := cron.PrintfLogger(logger)
	return &Janitor{
		cfg:     cfg,
		store:   st,
		limiter: limiter,
		logger:  logger,
		cron: cron.New(cron.WithChain(
			cron.Recover(cronLogger),
			cron.SkipIfStillRunning(cronLogger),
		)),
		now: time.Now,
	}
}

// Sweep runs one cleanup pass. Failures are logged and skipped.
func (j *Janitor) Sweep() Result {
	now := j.now()
	var res Result
	res.Files, _ = CleanOldFiles(j.cfg.Dir, j.cfg.FileMaxAge, now, j.logger)
	res.Jobs = CleanOldJobs(j.store, j.cfg.JobMaxAge, now, j.logger)
	if j.limiter != nil {
		res.LimiterEntries = j.limiter.Purge(j.cfg.LimiterSlack)
	}
	return res
}

// Start schedules Sweep every cfg.Interval.
func (j *Janitor) Start() error {
	spec := fmt.Sprintf("@every %s", j.cfg.Interval)
	if _, err := j.cron.AddFunc(spec, func() { j.Sweep() }); err != nil {
		return fmt.Errorf("schedule janitor: %w", err)
	}
	j.cron.Start()
	return nil
}

// Stop halts the schedule and waits for a running sweep until ctx expires.
func (j *Janitor) Stop(ctx context.Context) error {
	select {
	case <-j.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
