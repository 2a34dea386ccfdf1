package scanner

import (
	"sync"
	"time"
)

type AdaptationLevel string

const (
	LevelOptimal  AdaptationLevel = "OPTIMAL"
	LevelGood     AdaptationLevel = "GOOD"
	LevelDegraded AdaptationLevel = "DEGRADED"
	LevelCritical AdaptationLevel = "CRITICAL"
)

// HealthMetrics is an immutable snapshot of the controller's rolling
// health state, taken once per tick.
type HealthMetrics struct {
	AvgResponseTime       time.Duration `json:"avg_response_time"`
	SuccessRate           float64       `json:"success_rate"`
	ErrorCount            float64       `json:"error_count"`
	ConsecutiveEmptyScans int           `json:"consecutive_empty_scans"`
	LastLoadsFound        int           `json:"last_loads_found"`
}

func (m HealthMetrics) Level() AdaptationLevel {
	switch {
	case m.SuccessRate > 0.95 && m.AvgResponseTime < time.Second*3:
		return LevelOptimal
	case m.SuccessRate > 0.8 && m.AvgResponseTime < time.Second*5:
		return LevelGood
	case m.SuccessRate > 0.6:
		return LevelDegraded
	default:
		return LevelCritical
	}
}

// ShouldTriggerRecovery reports whether the upstream session looks
// broken enough that adapting scan parameters alone won't help.
func (m HealthMetrics) ShouldTriggerRecovery() bool {
	return m.SuccessRate < 0.3 ||
		m.ErrorCount > 20 ||
		m.AvgResponseTime > time.Second*30 ||
		m.ConsecutiveEmptyScans > 50
}

const successWindowSize = 100

// Controller owns the health metrics. The scheduler is the only
// writer; the status endpoint reads snapshots concurrently, hence the
// mutex.
type Controller struct {
	mu sync.Mutex

	avgResponseTime       time.Duration
	errorCount            float64
	consecutiveEmptyScans int
	lastLoadsFound        int

	successWindow [successWindowSize]bool
	windowLen     int
	windowNext    int
}

func NewController() *Controller {
	return &Controller{}
}

// UpdateMetrics folds one scan cycle's outcome into the rolling state.
func (c *Controller) UpdateMetrics(responseTime time.Duration, loadsFound, errorCount int, success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// exponential smoothing, weight 0.2 on the new sample
	c.avgResponseTime = time.Duration(float64(c.avgResponseTime)*0.8 + float64(responseTime)*0.2)

	if loadsFound == 0 {
		c.consecutiveEmptyScans++
	} else {
		c.consecutiveEmptyScans = 0
	}
	c.lastLoadsFound = loadsFound

	if errorCount > 0 {
		c.errorCount += float64(errorCount)
	} else {
		c.errorCount -= 0.1
		if c.errorCount < 0 {
			c.errorCount = 0
		}
	}

	c.successWindow[c.windowNext] = success
	c.windowNext = (c.windowNext + 1) % successWindowSize
	if c.windowLen < successWindowSize {
		c.windowLen++
	}
}

func (c *Controller) successRateLocked() float64 {
	if c.windowLen == 0 {
		return 1
	}
	succeeded := 0
	for i := 0; i < c.windowLen; i++ {
		if c.successWindow[i] {
			succeeded++
		}
	}
	return float64(succeeded) / float64(c.windowLen)
}

func (c *Controller) Snapshot() HealthMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	return HealthMetrics{
		AvgResponseTime:       c.avgResponseTime,
		SuccessRate:           c.successRateLocked(),
		ErrorCount:            c.errorCount,
		ConsecutiveEmptyScans: c.consecutiveEmptyScans,
		LastLoadsFound:        c.lastLoadsFound,
	}
}

func (c *Controller) Strategy() ScanStrategy {
	c.mu.Lock()
	sampled := c.windowLen > 0
	c.mu.Unlock()

	// hold the baseline until the first cycle reports in; an empty
	// window reads as a perfect success rate, which must not unlock
	// the aggressive path before any evidence exists
	if !sampled {
		return BaselineStrategy()
	}
	return DeriveStrategy(c.Snapshot())
}
