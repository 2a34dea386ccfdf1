package scanner

import (
	"context"

	"go.opentelemetry.io/otel"
)

var meter = otel.Meter("services/scanner")

var intervalGauge, _ = meter.Float64Gauge("scan_interval_seconds")
var successRateGauge, _ = meter.Float64Gauge("scan_success_rate")
var responseTimeGauge, _ = meter.Int64Gauge("scan_avg_response_ms")
var errorCountGauge, _ = meter.Float64Gauge("scan_error_count")
var loadsFoundGauge, _ = meter.Int64Gauge("scan_loads_found")
var levelGauge, _ = meter.Int64Gauge("scan_adaptation_level")
var sentCounter, _ = meter.Int64Counter("scan_notifications_sent_total")

// 0 is best so dashboards can alert on "level > 1".
var levelOrdinal = map[AdaptationLevel]int64{
	LevelOptimal:  0,
	LevelGood:     1,
	LevelDegraded: 2,
	LevelCritical: 3,
}

func publishMetrics(ctx context.Context, metrics HealthMetrics, strategy ScanStrategy, sent int) {
	intervalGauge.Record(ctx, strategy.Interval.Seconds())
	successRateGauge.Record(ctx, metrics.SuccessRate)
	responseTimeGauge.Record(ctx, metrics.AvgResponseTime.Milliseconds())
	errorCountGauge.Record(ctx, metrics.ErrorCount)
	loadsFoundGauge.Record(ctx, int64(metrics.LastLoadsFound))
	levelGauge.Record(ctx, levelOrdinal[metrics.Level()])
	if sent > 0 {
		sentCounter.Add(ctx, int64(sent))
	}
}
