package sentstore

import (
	"context"
	"errors"
	"time"

	"github.com/scrollDynasty/softforlogic-sub000/lib/loads"
	"github.com/scrollDynasty/softforlogic-sub000/lib/telemetry"
)

var tracer = telemetry.Tracer("services/sentstore")

// ErrAlreadySent is returned by MarkSent when a record with the same
// fingerprint already exists. The dispatch pipeline treats it as an
// expected outcome, not a failure.
var ErrAlreadySent = errors.New("a record with this fingerprint has already been sent")

// Store is the durable already-sent set. MarkSent must reject a
// duplicate fingerprint at the storage layer so that concurrent
// check-then-insert races (including across process instances) resolve
// to exactly one winner.
type Store interface {
	IsKnown(ctx context.Context, fingerprint loads.Fingerprint, externalID string) (bool, error)
	MarkSent(ctx context.Context, record loads.SentRecord) error
	Recent(ctx context.Context, limit int) ([]loads.SentRecord, error)
	Purge(ctx context.Context, olderThan time.Time) (int64, error)
}
