package notify

import (
	"context"

	"github.com/scrollDynasty/softforlogic-sub000/lib/loads"
	"github.com/scrollDynasty/softforlogic-sub000/lib/profit"
	"github.com/scrollDynasty/softforlogic-sub000/lib/telemetry"
)

var tracer = telemetry.Tracer("services/notify")

// Sink delivers one notification per new profitable load. Retry and
// rate limiting live inside the sink; callers treat an error as a
// logged per-item failure and move on.
type Sink interface {
	Notify(ctx context.Context, load loads.RawLoad, analysis profit.Analysis) error
}
