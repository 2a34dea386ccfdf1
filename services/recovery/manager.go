package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/scrollDynasty/softforlogic-sub000/lib/telemetry"
	"github.com/scrollDynasty/softforlogic-sub000/services/alert"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = telemetry.Tracer("services/recovery")

type State string

const (
	StateIdle             State = "IDLE"
	StateStopping         State = "STOPPING"
	StateCleaning         State = "CLEANING"
	StateReinitializing   State = "REINITIALIZING"
	StateReauthenticating State = "REAUTHENTICATING"
	StateSelfTesting      State = "SELF_TESTING"
	StateEscalated        State = "ESCALATED"
)

// ErrEscalated means recovery has exhausted its attempts. The caller
// must halt scanning; only an operator restart clears this state.
var ErrEscalated = errors.New("recovery attempts exhausted, operator intervention required")

// Session is the upstream lifecycle consumed by the state machine.
type Session interface {
	Teardown(ctx context.Context) error
	Rebuild(ctx context.Context) error
	Authenticate(ctx context.Context) error
	Probe(ctx context.Context) error
}

type Options struct {
	// MaxAttempts caps full sequence attempts before escalation.
	MaxAttempts int
	// BaseDelay seeds the exponential backoff between attempts.
	BaseDelay time.Duration
	// Cooldown is the minimum spacing between recovery runs so a
	// merely slow upstream doesn't get rebuilt over and over.
	Cooldown time.Duration
	// DiagnosticsDir is swept during CLEANING; empty disables the sweep.
	DiagnosticsDir string
	// DiagnosticsMaxAge bounds what CLEANING keeps.
	DiagnosticsMaxAge time.Duration
	// Stop cancels the scheduler's in-flight work, may be nil.
	Stop func()
}

// Snapshot mirrors the session bookkeeping for the status endpoint.
type Snapshot struct {
	State            State     `json:"state"`
	Attempts         int       `json:"attempts"`
	LastAttempt      time.Time `json:"last_attempt"`
	CooldownDeadline time.Time `json:"cooldown_deadline"`
}

type Manager struct {
	session Session
	alerts  alert.Sink
	opts    Options

	mu               sync.Mutex
	state            State
	attempts         int
	lastAttempt      time.Time
	cooldownDeadline time.Time

	now func() time.Time
}

func NewManager(session Session, alerts alert.Sink, opts Options) *Manager {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = time.Second * 30
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = time.Second * 300
	}
	if opts.DiagnosticsMaxAge <= 0 {
		opts.DiagnosticsMaxAge = time.Hour * 24
	}
	return &Manager{
		session: session,
		alerts:  alerts,
		opts:    opts,
		state:   StateIdle,
		now:     time.Now,
	}
}

func (m *Manager) setState(state State) {
	m.mu.Lock()
	m.state = state
	m.mu.Unlock()
}

func (m *Manager) Status() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		State:            m.state,
		Attempts:         m.attempts,
		LastAttempt:      m.lastAttempt,
		CooldownDeadline: m.cooldownDeadline,
	}
}

// backoffDelay is base * 2^attempts, so delays strictly increase with
// the attempt count.
func backoffDelay(base time.Duration, attempts int) time.Duration {
	return base * (1 << attempts)
}

// TryRecover runs the full recovery sequence with backoff until it
// succeeds or attempts are exhausted. A nil return means either a
// successful recovery or a run skipped by the cooldown; ErrEscalated
// means scanning must halt.
func (m *Manager) TryRecover(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "TryRecover")
	defer span.End()

	m.mu.Lock()
	if m.state == StateEscalated {
		m.mu.Unlock()
		return ErrEscalated
	}
	now := m.now()
	if now.Before(m.cooldownDeadline) {
		deadline := m.cooldownDeadline
		m.mu.Unlock()
		slog.InfoContext(
			ctx, "recovery requested during cooldown, skipping",
			"cooldown_deadline", deadline,
		)
		return nil
	}
	m.cooldownDeadline = now.Add(m.opts.Cooldown)
	m.mu.Unlock()

	for {
		// the cap check is the very first action of each attempt so the
		// retry loop stays bounded no matter which step failed last
		m.mu.Lock()
		attempts := m.attempts
		m.mu.Unlock()
		if attempts >= m.opts.MaxAttempts {
			m.setState(StateEscalated)
			span.SetStatus(codes.Error, "recovery escalated")
			message := fmt.Sprintf(
				"recovery failed %d times, scanning halted until operator restart",
				attempts,
			)
			err := m.alerts.Raise(ctx, alert.SeverityCritical, message)
			if err != nil {
				slog.ErrorContext(ctx, "failed to raise escalation alert", "err", err)
			}
			return ErrEscalated
		}

		err := m.attempt(ctx)
		if err == nil {
			m.mu.Lock()
			m.attempts = 0
			m.state = StateIdle
			m.mu.Unlock()
			slog.InfoContext(ctx, "recovery succeeded")
			return nil
		}
		if ctx.Err() != nil {
			// shutdown observed mid-sequence, leave without escalating
			return ctx.Err()
		}

		m.mu.Lock()
		m.attempts++
		m.lastAttempt = m.now()
		delay := backoffDelay(m.opts.BaseDelay, m.attempts)
		attempts = m.attempts
		m.mu.Unlock()

		slog.WarnContext(
			ctx, "recovery attempt failed",
			"attempt", attempts,
			"retry_in", delay,
			"err", err,
		)
		alertErr := m.alerts.Raise(ctx, alert.SeverityWarning, fmt.Sprintf(
			"recovery attempt %d failed (%s), retrying in %s",
			attempts, err, delay,
		))
		if alertErr != nil {
			slog.WarnContext(ctx, "failed to raise recovery alert", "err", alertErr)
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// attempt runs one pass of the state machine, checking for shutdown at
// every transition boundary.
func (m *Manager) attempt(ctx context.Context) error {
	attemptId := uuid.NewString()
	ctx, span := tracer.Start(ctx, "attempt")
	defer span.End()
	span.SetAttributes(attribute.String("attempt_id", attemptId))

	steps := []struct {
		state State
		run   func(context.Context) error
	}{
		{StateStopping, m.stopScanning},
		{StateCleaning, m.cleanArtifacts},
		{StateReinitializing, m.reinitialize},
		{StateReauthenticating, m.session.Authenticate},
		{StateSelfTesting, m.session.Probe},
	}

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		m.setState(step.state)
		slog.InfoContext(
			ctx, "recovery step",
			"state", step.state,
			"attempt_id", attemptId,
		)
		err := step.run(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(step.state))
			return fmt.Errorf("%s: %w", step.state, err)
		}
	}
	return nil
}

func (m *Manager) stopScanning(ctx context.Context) error {
	if m.opts.Stop != nil {
		m.opts.Stop()
	}
	return nil
}

// cleanArtifacts discards aged diagnostics dumps so a long run of
// capture-on-error cycles doesn't fill the disk.
func (m *Manager) cleanArtifacts(ctx context.Context) error {
	if m.opts.DiagnosticsDir == "" {
		return nil
	}
	entries, err := os.ReadDir(m.opts.DiagnosticsDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	cutoff := m.now().Add(-m.opts.DiagnosticsMaxAge)
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(m.opts.DiagnosticsDir, entry.Name())
		err = os.Remove(path)
		if err != nil {
			slog.WarnContext(ctx, "failed to remove stale artifact", "path", path, "err", err)
		}
	}
	return nil
}

func (m *Manager) reinitialize(ctx context.Context) error {
	// a broken session often cannot be torn down cleanly; the rebuild
	// is what this step is judged on
	err := m.session.Teardown(ctx)
	if err != nil {
		slog.WarnContext(ctx, "session teardown failed", "err", err)
	}
	return m.session.Rebuild(ctx)
}
