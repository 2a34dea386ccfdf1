package recovery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/scrollDynasty/softforlogic-sub000/lib/telemetry"
	"github.com/scrollDynasty/softforlogic-sub000/services/alert"

	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	mu           sync.Mutex
	calls        []string
	teardownErr  error
	rebuildErr   error
	authErr      error
	probeErr     error
	authFailures int
}

func (s *fakeSession) record(name string) {
	s.mu.Lock()
	s.calls = append(s.calls, name)
	s.mu.Unlock()
}

func (s *fakeSession) Teardown(ctx context.Context) error {
	s.record("teardown")
	return s.teardownErr
}

func (s *fakeSession) Rebuild(ctx context.Context) error {
	s.record("rebuild")
	return s.rebuildErr
}

func (s *fakeSession) Authenticate(ctx context.Context) error {
	s.record("authenticate")
	if s.authFailures > 0 {
		s.authFailures--
		return errors.New("login form rejected credentials")
	}
	return s.authErr
}

func (s *fakeSession) Probe(ctx context.Context) error {
	s.record("probe")
	return s.probeErr
}

type countingAlerts struct {
	mu       sync.Mutex
	warnings int
	critical int
}

func (a *countingAlerts) Raise(ctx context.Context, severity alert.Severity, message string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch severity {
	case alert.SeverityCritical:
		a.critical++
	case alert.SeverityWarning:
		a.warnings++
	}
	return nil
}

func fastOptions() Options {
	return Options{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond * 5,
		Cooldown:    time.Minute * 5,
	}
}

func TestBackoffDelays(t *testing.T) {
	base := time.Second * 30
	require.Equal(t, time.Second*60, backoffDelay(base, 1))
	require.Equal(t, time.Second*120, backoffDelay(base, 2))
	require.Equal(t, time.Second*240, backoffDelay(base, 3))
	for n := 0; n < 10; n++ {
		require.Greater(t, backoffDelay(base, n+1), backoffDelay(base, n))
	}
}

func TestRecoverySucceeds(t *testing.T) {
	defer telemetry.SetupForTesting("services/recovery")()

	session := &fakeSession{}
	alerts := &countingAlerts{}
	manager := NewManager(session, alerts, fastOptions())

	err := manager.TryRecover(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"teardown", "rebuild", "authenticate", "probe"}, session.calls)

	status := manager.Status()
	require.Equal(t, StateIdle, status.State)
	require.Zero(t, status.Attempts)
}

func TestRecoveryResetsAttemptsAfterSuccess(t *testing.T) {
	defer telemetry.SetupForTesting("services/recovery")()

	// two failed sequences, then a clean one
	session := &fakeSession{authFailures: 2}
	alerts := &countingAlerts{}
	manager := NewManager(session, alerts, fastOptions())

	err := manager.TryRecover(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, alerts.warnings)
	require.Zero(t, alerts.critical)

	status := manager.Status()
	require.Equal(t, StateIdle, status.State)
	require.Zero(t, status.Attempts)
}

func TestRecoveryEscalates(t *testing.T) {
	defer telemetry.SetupForTesting("services/recovery")()

	session := &fakeSession{probeErr: errors.New("still unauthenticated")}
	alerts := &countingAlerts{}
	manager := NewManager(session, alerts, fastOptions())

	err := manager.TryRecover(context.Background())
	require.ErrorIs(t, err, ErrEscalated)
	require.Equal(t, 3, alerts.warnings)
	require.Equal(t, 1, alerts.critical)
	require.Equal(t, StateEscalated, manager.Status().State)

	// escalated is terminal: no further session calls happen
	callsBefore := len(session.calls)
	err = manager.TryRecover(context.Background())
	require.ErrorIs(t, err, ErrEscalated)
	require.Len(t, session.calls, callsBefore)
	require.Equal(t, 1, alerts.critical)
}

func TestRecoveryCooldownBlocksEntry(t *testing.T) {
	defer telemetry.SetupForTesting("services/recovery")()

	session := &fakeSession{}
	manager := NewManager(session, &countingAlerts{}, fastOptions())

	now := time.Now()
	manager.now = func() time.Time { return now }

	require.NoError(t, manager.TryRecover(context.Background()))
	callsAfterFirst := len(session.calls)

	// still inside the 5 minute cooldown: a skip, not an error
	now = now.Add(time.Minute)
	require.NoError(t, manager.TryRecover(context.Background()))
	require.Len(t, session.calls, callsAfterFirst)

	// past the deadline the sequence runs again
	now = now.Add(time.Minute * 5)
	require.NoError(t, manager.TryRecover(context.Background()))
	require.Greater(t, len(session.calls), callsAfterFirst)
}

func TestRecoveryObservesShutdown(t *testing.T) {
	defer telemetry.SetupForTesting("services/recovery")()

	session := &fakeSession{}
	manager := NewManager(session, &countingAlerts{}, fastOptions())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := manager.TryRecover(ctx)
	require.ErrorIs(t, err, context.Canceled)
	// the first transition boundary already short-circuits
	require.Empty(t, session.calls)
	require.NotEqual(t, StateEscalated, manager.Status().State)
}
