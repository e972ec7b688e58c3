package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"flavorfleet/internal/metrics"
	"flavorfleet/internal/service"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const stopTimeout = 30 * time.Second

// Dispatcher promotes due campaigns. service.NotificationService implements it.
type Dispatcher interface {
	DispatchDue(ctx context.Context, now time.Time) (service.DispatchSummary, error)
}

// Scheduler runs the due-campaign dispatch on a fixed interval. A run that overlaps the previous
// one is skipped and a panicking run is recovered.
type Scheduler struct {
	dispatcher Dispatcher
	every      time.Duration
	log        *zap.Logger
	cron       *cron.Cron
	now        func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
}

func NewScheduler(dispatcher Dispatcher, every time.Duration, log *zap.Logger) *Scheduler {
	cl := cronLogger{log: log.Sugar()}
	return &Scheduler{
		dispatcher: dispatcher,
		every:      every,
		log:        log,
		// Recover must sit inside SkipIfStillRunning, otherwise a panic never frees the run slot.
		cron:       cron.New(cron.WithLogger(cl), cron.WithChain(cron.SkipIfStillRunning(cl), cron.Recover(cl))),
		now:        time.Now,
	}
}

// Start schedules the dispatch. cron does not run jobs more often than once per second.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.every < time.Second {
		return fmt.Errorf("schedule interval %s is below one second", s.every)
	}
	runCtx, cancel := context.WithCancel(ctx)
	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.every), func() {
		_, _ = s.RunOnce(runCtx)
	}); err != nil {
		cancel()
		return fmt.Errorf("schedule dispatch: %w", err)
	}
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	s.cron.Start()
	s.log.Info("scheduler started", zap.Duration("every", s.every))
	return nil
}

// Stop waits for a running dispatch to finish, up to a bound, then cancels it.
func (s *Scheduler) Stop() {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-time.After(stopTimeout):
		s.log.Warn("scheduler stop timed out")
	}
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	s.log.Info("scheduler stopped")
}

// RunOnce dispatches everything due now.
func (s *Scheduler) RunOnce(ctx context.Context) (service.DispatchSummary, error) {
	start := time.Now()
	sum, err := s.dispatcher.DispatchDue(ctx, s.now())
	metrics.ObserveSchedulerRun(time.Since(start))
	if err != nil {
		s.log.Error("scheduled dispatch run failed", zap.Error(err))
		return sum, err
	}
	if sum.Due > 0 {
		s.log.Info("scheduled dispatch run",
			zap.Int("due", sum.Due), zap.Int("sent", sum.Sent),
			zap.Int("skipped", sum.Skipped), zap.Int("failed", sum.Failed))
	}
	return sum, nil
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
