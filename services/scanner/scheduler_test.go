package scanner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/scrollDynasty/softforlogic-sub000/lib/loads"
	"github.com/scrollDynasty/softforlogic-sub000/lib/telemetry"
	"github.com/scrollDynasty/softforlogic-sub000/services/alert"
	"github.com/scrollDynasty/softforlogic-sub000/services/dispatch"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu         sync.Mutex
	strategies []ScanStrategy
	batch      []loads.RawLoad
	err        error
}

func (s *fakeSource) FetchBatch(ctx context.Context, strategy ScanStrategy) ([]loads.RawLoad, error) {
	s.mu.Lock()
	s.strategies = append(s.strategies, strategy)
	s.mu.Unlock()
	return s.batch, s.err
}

type fakeDispatcher struct {
	mu      sync.Mutex
	batches [][]loads.RawLoad
	summary dispatch.Summary
}

func (d *fakeDispatcher) ProcessBatch(ctx context.Context, batch []loads.RawLoad, criteria loads.SearchCriteria) dispatch.Summary {
	d.mu.Lock()
	d.batches = append(d.batches, batch)
	d.mu.Unlock()
	return d.summary
}

type fakeRecoverer struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (r *fakeRecoverer) TryRecover(ctx context.Context) error {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	return r.err
}

type nopAlerts struct{}

func (nopAlerts) Raise(ctx context.Context, severity alert.Severity, message string) error {
	return nil
}

func TestSchedulerAppliesStrategyNextTick(t *testing.T) {
	defer telemetry.SetupForTesting("services/scanner")()

	source := &fakeSource{err: errors.New("upstream reset")}
	dispatcher := &fakeDispatcher{}
	recoverer := &fakeRecoverer{}
	scheduler := NewScheduler(source, dispatcher, NewController(), recoverer, nopAlerts{}, Options{})

	ctx := context.Background()

	_, err := scheduler.RunOnce(ctx)
	require.NoError(t, err)
	require.Len(t, source.strategies, 1)
	require.Empty(t, cmp.Diff(BaselineStrategy(), source.strategies[0]))

	// the failed first cycle (success rate 0) must already shape the
	// second cycle's fetch
	_, err = scheduler.RunOnce(ctx)
	require.NoError(t, err)
	require.Len(t, source.strategies, 2)
	conservative := source.strategies[1]
	require.Equal(t, time.Second*8, conservative.Interval)
	require.Equal(t, 1, conservative.Concurrency)
	require.Equal(t, time.Second*45, conservative.Timeout)
	require.True(t, conservative.CaptureDiagnostics)

	// fetch errors never reach the dispatcher
	require.Empty(t, dispatcher.batches)
}

func TestSchedulerDispatchesBatch(t *testing.T) {
	defer telemetry.SetupForTesting("services/scanner")()

	batch := []loads.RawLoad{
		{ExternalID: "L-1", Miles: 300, Deadhead: 20, Rate: 720},
		{ExternalID: "L-2", Miles: 100, Deadhead: 80},
	}
	source := &fakeSource{batch: batch}
	dispatcher := &fakeDispatcher{summary: dispatch.Summary{Attempted: 1, Sent: 1}}
	scheduler := NewScheduler(source, dispatcher, NewController(), &fakeRecoverer{}, nopAlerts{}, Options{})

	_, err := scheduler.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, dispatcher.batches, 1)
	require.Len(t, dispatcher.batches[0], 2)

	cycle := scheduler.LastCycle()
	require.Equal(t, 2, cycle.BatchSize)
	require.Equal(t, dispatch.Summary{Attempted: 1, Sent: 1}, cycle.Summary)
	require.Empty(t, cycle.Error)
}

func TestSchedulerHaltsOnEscalation(t *testing.T) {
	defer telemetry.SetupForTesting("services/scanner")()

	source := &fakeSource{err: errors.New("session expired")}
	recoverer := &fakeRecoverer{err: errors.New("recovery attempts exhausted")}
	scheduler := NewScheduler(source, &fakeDispatcher{}, NewController(), recoverer, nopAlerts{}, Options{})

	// the first failed cycle drops the success rate to zero, which
	// demands recovery; its failure must end the loop
	err := scheduler.Run(context.Background())
	require.Error(t, err)
	require.Equal(t, 1, recoverer.calls)
	require.Len(t, source.strategies, 1)
}

func TestSchedulerStopsOnShutdown(t *testing.T) {
	defer telemetry.SetupForTesting("services/scanner")()

	source := &fakeSource{}
	scheduler := NewScheduler(source, &fakeDispatcher{}, NewController(), &fakeRecoverer{}, nopAlerts{}, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := scheduler.Run(ctx)
	require.NoError(t, err)
	require.Empty(t, source.strategies)
}

type blockingDispatcher struct {
	started chan struct{}
	ctxErr  error
}

func (d *blockingDispatcher) ProcessBatch(ctx context.Context, batch []loads.RawLoad, criteria loads.SearchCriteria) dispatch.Summary {
	close(d.started)
	<-ctx.Done()
	d.ctxErr = ctx.Err()
	return dispatch.Summary{}
}

func TestSchedulerCancelInflight(t *testing.T) {
	defer telemetry.SetupForTesting("services/scanner")()

	source := &fakeSource{batch: []loads.RawLoad{{ExternalID: "L-1"}}}
	dispatcher := &blockingDispatcher{started: make(chan struct{})}
	scheduler := NewScheduler(source, dispatcher, NewController(), &fakeRecoverer{}, nopAlerts{}, Options{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		scheduler.RunOnce(context.Background())
	}()

	<-dispatcher.started
	scheduler.CancelInflight()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatch work survived cancellation")
	}
	require.ErrorIs(t, dispatcher.ctxErr, context.Canceled)
}

func TestGraceContextOutlivesParent(t *testing.T) {
	parent, cancelParent := context.WithCancel(context.Background())
	work, cancelWork := graceContext(parent, time.Millisecond*50)
	defer cancelWork()

	cancelParent()

	// still alive right after the parent died
	select {
	case <-work.Done():
		t.Fatal("work context died with its parent")
	case <-time.After(time.Millisecond * 10):
	}

	// but bounded by the grace period
	select {
	case <-work.Done():
	case <-time.After(time.Second):
		t.Fatal("work context survived past the grace period")
	}
}
