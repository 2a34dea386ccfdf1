package notify

import (
	"context"
	"log/slog"

	"github.com/scrollDynasty/softforlogic-sub000/lib/loads"
	"github.com/scrollDynasty/softforlogic-sub000/lib/profit"
)

// Logger is the dry-run sink, it only logs what would have been sent.
type Logger struct{}

var _ Sink = Logger{}

func (Logger) Notify(ctx context.Context, load loads.RawLoad, analysis profit.Analysis) error {
	slog.InfoContext(
		ctx, "dry-run notification",
		"external_id", load.ExternalID,
		"pickup", load.Pickup,
		"delivery", load.Delivery,
		"rate_per_mile", analysis.RatePerMile,
		"priority", analysis.Priority,
	)
	return nil
}
