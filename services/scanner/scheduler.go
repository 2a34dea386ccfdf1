package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/scrollDynasty/softforlogic-sub000/lib/loads"
	"github.com/scrollDynasty/softforlogic-sub000/lib/telemetry"
	"github.com/scrollDynasty/softforlogic-sub000/services/alert"
	"github.com/scrollDynasty/softforlogic-sub000/services/dispatch"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = telemetry.Tracer("services/scanner")

// Source fetches one batch of raw loads per tick. Any error counts as
// one failed cycle regardless of partial data.
type Source interface {
	FetchBatch(ctx context.Context, strategy ScanStrategy) ([]loads.RawLoad, error)
}

// Dispatcher drains one batch; implemented by the dispatch pipeline.
type Dispatcher interface {
	ProcessBatch(ctx context.Context, batch []loads.RawLoad, criteria loads.SearchCriteria) dispatch.Summary
}

// Recoverer rebuilds the upstream session. A nil return means scanning
// may continue (recovered, or skipped by cooldown); any error halts
// the scheduler.
type Recoverer interface {
	TryRecover(ctx context.Context) error
}

type Options struct {
	Criteria loads.SearchCriteria
	// ShutdownGrace bounds how long in-flight pipeline work may drain
	// after the shutdown signal.
	ShutdownGrace time.Duration
	// DegradedAlertEvery spaces the periodic warning alerts raised
	// while health sits at DEGRADED or worse.
	DegradedAlertEvery time.Duration
}

// CycleInfo describes the most recent completed tick, for the status
// endpoint.
type CycleInfo struct {
	Time      time.Time        `json:"time"`
	Duration  time.Duration    `json:"duration"`
	BatchSize int              `json:"batch_size"`
	Summary   dispatch.Summary `json:"summary"`
	Error     string           `json:"error,omitempty"`
}

// Scheduler is the single owner of "when to call the upstream". One
// cooperative loop: fetch, dispatch, update metrics, derive the next
// strategy, sleep out the interval.
type Scheduler struct {
	source     Source
	dispatcher Dispatcher
	controller *Controller
	recovery   Recoverer
	alerts     alert.Sink
	opts       Options

	mu                sync.Mutex
	lastCycle         CycleInfo
	lastDegradedAlert time.Time
	cancelWork        context.CancelFunc
}

func NewScheduler(
	source Source,
	dispatcher Dispatcher,
	controller *Controller,
	recovery Recoverer,
	alerts alert.Sink,
	opts Options,
) *Scheduler {
	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = time.Second * 10
	}
	if opts.DegradedAlertEvery <= 0 {
		opts.DegradedAlertEvery = time.Minute * 5
	}
	return &Scheduler{
		source:     source,
		dispatcher: dispatcher,
		controller: controller,
		recovery:   recovery,
		alerts:     alerts,
		opts:       opts,
	}
}

func (s *Scheduler) LastCycle() CycleInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCycle
}

// CancelInflight cancels the current tick's dispatch work, if any.
// Recovery calls this during its stop step so a rebuild never races
// in-flight notifications.
func (s *Scheduler) CancelInflight() {
	s.mu.Lock()
	cancel := s.cancelWork
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// graceContext returns a context that outlives parent cancellation by
// `grace`, so in-flight dispatch work can drain during shutdown.
func graceContext(parent context.Context, grace time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	go func() {
		select {
		case <-parent.Done():
			timer := time.NewTimer(grace)
			defer timer.Stop()
			select {
			case <-timer.C:
				cancel()
			case <-ctx.Done():
			}
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// Run drives scan cycles until the context is cancelled or recovery
// escalates. Metrics from tick k are always folded in, and the next
// strategy derived, before tick k+1 fetches.
func (s *Scheduler) Run(ctx context.Context) error {
	slog.InfoContext(ctx, "scan loop starting")

	for {
		if ctx.Err() != nil {
			slog.InfoContext(ctx, "scan loop stopped")
			return nil
		}

		tickStart := time.Now()
		strategy, err := s.RunOnce(ctx)
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			slog.InfoContext(ctx, "scan loop stopped")
			return nil
		}

		remaining := strategy.Interval - time.Since(tickStart)
		if remaining > 0 {
			select {
			case <-time.After(remaining):
			case <-ctx.Done():
			}
		}
	}
}

// RunOnce executes a single cycle: fetch, dispatch, metrics update and
// (when health demands it) recovery. Returns the strategy the cycle
// ran under; a non-nil error means recovery escalated and scanning
// must halt.
func (s *Scheduler) RunOnce(ctx context.Context) (ScanStrategy, error) {
	strategy := s.controller.Strategy()
	s.tick(ctx, strategy, time.Now())

	metrics := s.controller.Snapshot()
	publishMetrics(ctx, metrics, s.controller.Strategy(), s.LastCycle().Summary.Sent)
	s.maybeAlertDegraded(ctx, metrics)

	if metrics.ShouldTriggerRecovery() && ctx.Err() == nil {
		err := s.recovery.TryRecover(ctx)
		if err != nil && ctx.Err() == nil {
			alertErr := s.alerts.Raise(ctx, alert.SeverityCritical, fmt.Sprintf(
				"scan loop halted: %s", err,
			))
			if alertErr != nil {
				slog.ErrorContext(ctx, "failed to raise halt alert", "err", alertErr)
			}
			return strategy, err
		}
	}

	return strategy, nil
}

// tick runs one fetch+dispatch cycle and folds the outcome into the
// controller.
func (s *Scheduler) tick(ctx context.Context, strategy ScanStrategy, tickStart time.Time) {
	cycleId := uuid.NewString()
	ctx, span := tracer.Start(ctx, "tick")
	defer span.End()
	span.SetAttributes(
		attribute.String("cycle_id", cycleId),
		attribute.Float64("interval_seconds", strategy.Interval.Seconds()),
		attribute.Int("concurrency", strategy.Concurrency),
	)

	fetchCtx, cancelFetch := context.WithTimeout(ctx, strategy.Timeout)
	batch, err := s.source.FetchBatch(fetchCtx, strategy)
	cancelFetch()
	fetchElapsed := time.Since(tickStart)

	cycle := CycleInfo{
		Time:      tickStart,
		BatchSize: len(batch),
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		slog.WarnContext(
			ctx, "scan fetch failed",
			"cycle_id", cycleId,
			"elapsed", fetchElapsed,
			"err", err,
		)
		cycle.Error = err.Error()
		s.controller.UpdateMetrics(fetchElapsed, 0, 1, false)
	} else {
		workCtx, cancelWork := graceContext(ctx, s.opts.ShutdownGrace)
		s.mu.Lock()
		s.cancelWork = cancelWork
		s.mu.Unlock()
		cycle.Summary = s.dispatcher.ProcessBatch(workCtx, batch, s.opts.Criteria)
		s.mu.Lock()
		s.cancelWork = nil
		s.mu.Unlock()
		cancelWork()

		slog.DebugContext(
			ctx, "scan cycle complete",
			"cycle_id", cycleId,
			"elapsed", fetchElapsed,
			"batch", len(batch),
			"attempted", cycle.Summary.Attempted,
			"sent", cycle.Summary.Sent,
		)
		s.controller.UpdateMetrics(fetchElapsed, len(batch), 0, true)
	}

	cycle.Duration = time.Since(tickStart)
	s.mu.Lock()
	s.lastCycle = cycle
	s.mu.Unlock()
}

func (s *Scheduler) maybeAlertDegraded(ctx context.Context, metrics HealthMetrics) {
	level := metrics.Level()
	if level != LevelDegraded && level != LevelCritical {
		return
	}

	s.mu.Lock()
	last := s.lastDegradedAlert
	due := time.Since(last) >= s.opts.DegradedAlertEvery
	if due {
		s.lastDegradedAlert = time.Now()
	}
	s.mu.Unlock()
	if !due {
		return
	}

	err := s.alerts.Raise(ctx, alert.SeverityWarning, fmt.Sprintf(
		"scanner health is %s (success rate %.2f, avg response %s, errors %.1f)",
		level, metrics.SuccessRate, metrics.AvgResponseTime, metrics.ErrorCount,
	))
	if err != nil {
		slog.WarnContext(ctx, "failed to raise degraded alert", "err", err)
	}
}
