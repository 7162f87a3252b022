package globelogix

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/heroiclabs/nakama-common/runtime"
	"github.com/robfig/cron/v3"
)

const (
	JobWeeklyCycle     = "weekly_cycle"
	JobDailyCollection = "daily_collection"
)

// Scheduler runs the weekly cycle and the daily contribution collection on cron schedules, in UTC. A job whose
// previous run has not finished is skipped.
type Scheduler struct {
	cron       *cron.Cron
	parser     cron.Parser
	logger     runtime.Logger
	rewards    RewardsSystem
	collection CollectionSystem
	jobTimeout time.Duration
	entries    map[string]cron.EntryID
}

func NewScheduler(logger runtime.Logger, rewards RewardsSystem, collection CollectionSystem, jobTimeout time.Duration) *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if jobTimeout <= 0 {
		jobTimeout = 30 * time.Minute
	}
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		parser:     parser,
		logger:     logger,
		rewards:    rewards,
		collection: collection,
		jobTimeout: jobTimeout,
		entries:    make(map[string]cron.EntryID),
	}
}

// AddWeeklyCycle schedules RunWeeklyCycle.
func (s *Scheduler) AddWeeklyCycle(spec string) error {
	if s.rewards == nil {
		return ErrSystemNotAvailable
	}
	return s.add(JobWeeklyCycle, spec, s.RunWeeklyCycle)
}

// AddDailyCollection schedules CollectDailyContributions.
func (s *Scheduler) AddDailyCollection(spec string) error {
	if s.collection == nil {
		return ErrSystemNotAvailable
	}
	return s.add(JobDailyCollection, spec, s.RunDailyCollection)
}

func (s *Scheduler) add(name, spec string, job func()) error {
	if _, found := s.entries[name]; found {
		return fmt.Errorf("job %s already scheduled", name)
	}
	schedule, err := s.parser.Parse(spec)
	if err != nil {
		return fmt.Errorf("invalid %s schedule %q: %w", name, spec, err)
	}
	s.entries[name] = s.cron.Schedule(schedule, cron.FuncJob(job))
	s.logger.Info("Scheduled %s with %q", name, spec)
	return nil
}

// Next returns the next run time of a scheduled job, or the zero time if it is not scheduled or not started.
func (s *Scheduler) Next(name string) time.Time {
	id, found := s.entries[name]
	if !found {
		return time.Time{}
	}
	return s.cron.Entry(id).Next
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the scheduler and waits for running jobs up to ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) RunWeeklyCycle() {
	ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
	defer cancel()

	logger := s.logger.WithField("job", JobWeeklyCycle)
	result, err := s.rewards.RunWeeklyCycle(ctx, logger)
	if err != nil {
		logger.Error("Weekly cycle failed: %v", err)
		return
	}
	if result.Distribution != nil {
		logger.Info("Weekly cycle %s done, %d players reset, distribution %s: %s", result.PeriodID, result.ResetCount, result.Distribution.Status, result.Distribution.Message)
	}
}

func (s *Scheduler) RunDailyCollection() {
	ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
	defer cancel()

	logger := s.logger.WithField("job", JobDailyCollection)
	if _, err := s.collection.CollectDailyContributions(ctx, logger); err != nil {
		if errors.Is(err, ErrCollectionRunning) {
			logger.Warn("Daily collection skipped, another run is in progress")
			return
		}
		logger.Error("Daily collection failed: %v", err)
	}
}
