// Package scheduler owns the daily re-scrape trigger.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/pricewatch/internal/rescrape"
	"github.com/JakeFAU/pricewatch/internal/session"
	"github.com/JakeFAU/pricewatch/internal/tracker"
)

// ErrBusy is returned by RunNow while a batch is running.
var ErrBusy = errors.New("a batch is already running")

// Planner selects the items due this cycle.
type Planner interface {
	Plan(ctx context.Context, now time.Time) (rescrape.Plan, error)
}

// BatchRunner runs a batch of items.
type BatchRunner interface {
	RunBatch(ctx context.Context, items []tracker.TrackedItem, event, trigger string) tracker.BatchReport
}

// Config controls the daily trigger.
type Config struct {
	// Time is the local time of day, "HH:MM".
	Time     string
	Location *time.Location
	// Topic receives each batch report when a publisher is set.
	Topic string
}

// Service runs one plan-and-scrape batch per day and never overlaps batches.
type Service struct {
	cron      *cron.Cron
	spec      string
	planner   Planner
	runner    BatchRunner
	publisher tracker.Publisher
	topic     string
	clock     tracker.Clock
	logger    *zap.Logger

	mu      sync.Mutex
	started bool
	running bool
	last    *tracker.BatchReport

	runCtx    context.Context
	cancelRun context.CancelFunc
	wg        sync.WaitGroup
}

// New builds a Service. publisher may be nil.
func New(cfg Config, planner Planner, runner BatchRunner, publisher tracker.Publisher, clock tracker.Clock, logger *zap.Logger) (*Service, error) {
	if planner == nil || runner == nil || clock == nil {
		return nil, errors.New("scheduler: planner, runner and clock are required")
	}
	spec, err := CronSpec(cfg.Time)
	if err != nil {
		return nil, err
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("scheduler")
	runCtx, cancel := context.WithCancel(context.Background())
	s := &Service{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cronLogger{logger.Sugar()}),
			cron.WithChain(
				cron.Recover(cronLogger{logger.Sugar()}),
				cron.SkipIfStillRunning(cronLogger{logger.Sugar()}),
			),
		),
		spec:      spec,
		planner:   planner,
		runner:    runner,
		publisher: publisher,
		topic:     cfg.Topic,
		clock:     clock,
		logger:    logger,
		runCtx:    runCtx,
		cancelRun: cancel,
	}
	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		cancel()
		return nil, fmt.Errorf("register daily job: %w", err)
	}
	return s, nil
}

// CronSpec converts "HH:MM" into a five-field daily cron spec.
func CronSpec(hhmm string) (string, error) {
	hour, minute, ok := strings.Cut(strings.TrimSpace(hhmm), ":")
	if !ok {
		return "", fmt.Errorf("scheduler time %q: want HH:MM", hhmm)
	}
	h, err := strconv.Atoi(hour)
	if err != nil || h < 0 || h > 23 || len(hour) > 2 {
		return "", fmt.Errorf("scheduler time %q: bad hour", hhmm)
	}
	m, err := strconv.Atoi(minute)
	if err != nil || m < 0 || m > 59 || len(minute) != 2 {
		return "", fmt.Errorf("scheduler time %q: bad minute", hhmm)
	}
	return fmt.Sprintf("%d %d * * *", m, h), nil
}

// Start begins firing the daily trigger. It is a no-op when already started.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
	s.logger.Info("scheduler started", zap.String("spec", s.spec), zap.Time("next", s.Next()))
}

// Next returns the next scheduled fire time, or zero before Start.
func (s *Service) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// IsRunning reports whether a batch is in flight.
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// LastReport returns the report of the most recent finished batch.
func (s *Service) LastReport() (tracker.BatchReport, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return tracker.BatchReport{}, false
	}
	return *s.last, true
}

// RunNow runs the full scheduled plan immediately and returns its report.
// It fails with ErrBusy when a batch is already running.
func (s *Service) RunNow(ctx context.Context) (tracker.BatchReport, error) {
	if !s.acquire() {
		return tracker.BatchReport{}, ErrBusy
	}
	defer s.release()
	ctx, stop := mergeCancel(ctx, s.runCtx)
	defer stop()
	return s.run(ctx, session.TriggerManual)
}

// Stop halts the trigger, cancels pending items of a running batch and waits
// for the in-flight item to finish or for ctx to expire.
func (s *Service) Stop(ctx context.Context) error {
	cronDone := s.cron.Stop().Done()
	s.cancelRun()

	waited := make(chan struct{})
	go func() {
		<-cronDone
		s.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop scheduler: %w", ctx.Err())
	}
}

func (s *Service) tick() {
	if !s.acquire() {
		s.logger.Warn("daily tick skipped, a batch is already running")
		return
	}
	defer s.release()
	if _, err := s.run(s.runCtx, session.TriggerScheduled); err != nil {
		s.logger.Error("scheduled run failed", zap.Error(err))
	}
}

func (s *Service) run(ctx context.Context, trigger string) (tracker.BatchReport, error) {
	plan, err := s.planner.Plan(ctx, s.clock.Now())
	if err != nil {
		return tracker.BatchReport{}, fmt.Errorf("plan batch: %w", err)
	}
	items := plan.Items()
	if len(items) == 0 {
		s.logger.Info("no scraping needed today", zap.String("event", plan.Event))
	}
	report := s.runner.RunBatch(ctx, items, plan.Event, trigger)

	s.mu.Lock()
	s.last = &report
	s.mu.Unlock()

	if s.publisher != nil && s.topic != "" {
		// A report is worth delivering even when shutdown interrupted the batch.
		pubCtx := context.WithoutCancel(ctx)
		if id, err := s.publisher.Publish(pubCtx, s.topic, report); err != nil {
			s.logger.Warn("batch report publish failed", zap.String("run_id", report.RunID), zap.Error(err))
		} else {
			s.logger.Debug("batch report published", zap.String("run_id", report.RunID), zap.String("message_id", id))
		}
	}
	return report, nil
}

func (s *Service) acquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	s.wg.Add(1)
	return true
}

func (s *Service) release() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	s.wg.Done()
}

// mergeCancel returns a context derived from ctx that is also canceled when
// other is done.
func mergeCancel(ctx, other context.Context) (context.Context, context.CancelFunc) {
	merged, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(other, cancel)
	return merged, func() {
		stop()
		cancel()
	}
}

type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
