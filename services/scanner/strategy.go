package scanner

import "time"

// ScanStrategy is the tuning the controller derives once per cycle.
// The scheduler reads it at the start of a tick and never mid-tick.
type ScanStrategy struct {
	Interval           time.Duration `json:"interval"`
	Concurrency        int           `json:"concurrency"`
	Timeout            time.Duration `json:"timeout"`
	CaptureDiagnostics bool          `json:"capture_diagnostics"`
	MaxRetries         int           `json:"max_retries"`
	UseFastTransport   bool          `json:"use_fast_transport"`
}

func BaselineStrategy() ScanStrategy {
	return ScanStrategy{
		Interval:         time.Second * 2,
		Concurrency:      3,
		Timeout:          time.Second * 15,
		MaxRetries:       2,
		UseFastTransport: true,
	}
}

// DeriveStrategy maps a metrics snapshot to the tuning for the next
// tick. Conditions are evaluated from least to most severe so that
// when several match, the most conservative one wins.
func DeriveStrategy(m HealthMetrics) ScanStrategy {
	strategy := BaselineStrategy()
	degraded := false

	if m.ErrorCount > 5 {
		strategy.Interval = time.Second * 5
		strategy.Concurrency = 1
		strategy.CaptureDiagnostics = true
		strategy.MaxRetries = 1
		degraded = true
	}
	if m.AvgResponseTime > time.Second*5 {
		strategy.Timeout = time.Second * 30
		if strategy.Interval < time.Second*4 {
			strategy.Interval = time.Second * 4
		}
		degraded = true
	}
	if m.ConsecutiveEmptyScans > 10 {
		strategy.Interval += time.Second * 2
		if strategy.Interval > time.Second*10 {
			strategy.Interval = time.Second * 10
		}
		strategy.UseFastTransport = false
		degraded = true
	}
	if m.SuccessRate < 0.7 {
		strategy.Interval = time.Second * 8
		strategy.Concurrency = 1
		strategy.Timeout = time.Second * 45
		strategy.CaptureDiagnostics = true
		degraded = true
	}

	// the aggressive fast path only kicks in when nothing above matched
	if !degraded && m.SuccessRate > 0.95 && m.AvgResponseTime < time.Second*3 && m.ErrorCount < 2 {
		strategy.Interval = time.Second * 2
		strategy.Concurrency = 5
		strategy.Timeout = time.Second * 15
		strategy.UseFastTransport = true
	}

	return strategy
}
