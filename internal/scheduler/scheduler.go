package scheduler

import (
	"errors"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"
)

// DefaultInterval is the refresh period used when none is given.
const DefaultInterval = 60 * time.Second

var errAlreadyStarted = errors.New("scheduler: already started")

// Scheduler runs a single job immediately and then on a fixed interval.
// Runs never overlap: a tick that is still resolving causes the next one to be skipped.
type Scheduler struct {
	scheduler *gocron.Scheduler
	interval  time.Duration
	logger    *zap.SugaredLogger

	mu      sync.Mutex
	started bool
}

// New creates a new Scheduler.
func New(interval time.Duration, logger *zap.SugaredLogger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	return &Scheduler{
		scheduler: s,
		interval:  interval,
		logger:    logger,
	}
}

// Interval returns the configured tick period.
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// Start schedules the periodic job and starts the underlying scheduler.
func (s *Scheduler) Start(name string, job func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return errAlreadyStarted
	}

	_, err := s.scheduler.Every(s.interval).StartImmediately().Do(func() {
		s.logger.Debugf("scheduler: running %s", name)
		job()
	})
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	s.started = true
	return nil
}

// Stop stops the scheduler and cancels any future runs.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.scheduler != nil && s.started {
		s.scheduler.Stop()
		s.started = false
	}
}
