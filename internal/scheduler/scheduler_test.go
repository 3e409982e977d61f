package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/pricewatch/internal/publisher/memory"
	"github.com/JakeFAU/pricewatch/internal/rescrape"
	"github.com/JakeFAU/pricewatch/internal/session"
	"github.com/JakeFAU/pricewatch/internal/tracker"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type fakePlanner struct {
	mu    sync.Mutex
	plan  rescrape.Plan
	err   error
	calls int
}

func (p *fakePlanner) Plan(context.Context, time.Time) (rescrape.Plan, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.plan, p.err
}

type fakeRunner struct {
	mu       sync.Mutex
	started  chan struct{}
	release  chan struct{}
	triggers []string
	events   []string
	sawDone  bool
}

func (r *fakeRunner) RunBatch(ctx context.Context, items []tracker.TrackedItem, event, trigger string) tracker.BatchReport {
	r.mu.Lock()
	r.triggers = append(r.triggers, trigger)
	r.events = append(r.events, event)
	r.mu.Unlock()
	if r.started != nil {
		r.started <- struct{}{}
	}
	if r.release != nil {
		select {
		case <-r.release:
		case <-ctx.Done():
			r.mu.Lock()
			r.sawDone = true
			r.mu.Unlock()
		}
	}
	results := make([]tracker.ItemResult, 0, len(items))
	for _, it := range items {
		results = append(results, tracker.ItemResult{ItemID: it.ID, Outcome: tracker.OutcomeRecorded})
	}
	return tracker.BatchReport{RunID: "run-1", Trigger: trigger, EventName: event, Results: results}
}

func duePlan() rescrape.Plan {
	return rescrape.Plan{
		Event: "Prime Day",
		Due: []rescrape.Candidate{
			{Item: tracker.TrackedItem{ID: "a"}, Decision: rescrape.DueNoHistory},
		},
	}
}

func newService(t *testing.T, planner Planner, runner BatchRunner, pub tracker.Publisher) *Service {
	t.Helper()
	svc, err := New(Config{Time: "03:00", Topic: "batches"}, planner, runner, pub,
		fixedClock{now: time.Date(2025, 7, 9, 3, 0, 0, 0, time.UTC)}, zap.NewNop())
	require.NoError(t, err)
	return svc
}

func TestCronSpec(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "03:00", want: "0 3 * * *"},
		{in: "20:35", want: "35 20 * * *"},
		{in: " 7:05 ", want: "5 7 * * *"},
		{in: "24:00", wantErr: true},
		{in: "12:60", wantErr: true},
		{in: "12:5", wantErr: true},
		{in: "noon", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			t.Parallel()
			got, err := CronSpec(tc.in)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Time: "03:00"}, nil, &fakeRunner{}, nil, fixedClock{}, nil)
	require.Error(t, err)
	_, err = New(Config{Time: "3pm"}, &fakePlanner{}, &fakeRunner{}, nil, fixedClock{}, nil)
	require.Error(t, err)
}

func TestRunNowPlansRunsAndPublishes(t *testing.T) {
	t.Parallel()

	planner := &fakePlanner{plan: duePlan()}
	runner := &fakeRunner{}
	pub := memory.New()
	svc := newService(t, planner, runner, pub)

	report, err := svc.RunNow(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, []string{session.TriggerManual}, runner.triggers)
	assert.Equal(t, []string{"Prime Day"}, runner.events)

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "batches", msgs[0].Topic)
	assert.Equal(t, report, msgs[0].Payload)

	last, ok := svc.LastReport()
	require.True(t, ok)
	assert.Equal(t, "run-1", last.RunID)
	assert.False(t, svc.IsRunning())
}

func TestRunNowPlanError(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	svc := newService(t, &fakePlanner{err: errors.New("db down")}, runner, nil)

	_, err := svc.RunNow(context.Background())
	require.ErrorContains(t, err, "db down")
	assert.Empty(t, runner.triggers)
	_, ok := svc.LastReport()
	assert.False(t, ok)
}

func TestRunNowRejectsOverlap(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{started: make(chan struct{}, 1), release: make(chan struct{})}
	svc := newService(t, &fakePlanner{plan: duePlan()}, runner, nil)

	done := make(chan error, 1)
	go func() {
		_, err := svc.RunNow(context.Background())
		done <- err
	}()
	<-runner.started
	require.True(t, svc.IsRunning())

	_, err := svc.RunNow(context.Background())
	require.ErrorIs(t, err, ErrBusy)

	svc.tick()
	runner.mu.Lock()
	assert.Len(t, runner.triggers, 1, "tick must not start a second batch")
	runner.mu.Unlock()

	close(runner.release)
	require.NoError(t, <-done)
	assert.False(t, svc.IsRunning())
}

func TestTickUsesScheduledTrigger(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	pub := memory.New()
	svc := newService(t, &fakePlanner{plan: duePlan()}, runner, pub)

	svc.tick()
	assert.Equal(t, []string{session.TriggerScheduled}, runner.triggers)
	assert.Len(t, pub.Messages(), 1)
}

func TestStopCancelsRunningBatchAndWaits(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{started: make(chan struct{}, 1), release: make(chan struct{})}
	svc := newService(t, &fakePlanner{plan: duePlan()}, runner, nil)
	svc.Start()
	svc.Start()

	done := make(chan struct{})
	go func() {
		_, _ = svc.RunNow(context.Background())
		close(done)
	}()
	<-runner.started

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, svc.Stop(ctx))

	<-done
	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.True(t, runner.sawDone)
	assert.False(t, svc.IsRunning())
}

func TestNextAfterStart(t *testing.T) {
	t.Parallel()

	svc := newService(t, &fakePlanner{}, &fakeRunner{}, nil)
	svc.Start()
	defer func() { _ = svc.Stop(context.Background()) }()

	next := svc.Next()
	require.False(t, next.IsZero())
	assert.Equal(t, 3, next.Hour())
	assert.Equal(t, 0, next.Minute())
}
