package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/scrollDynasty/softforlogic-sub000/lib/loads"
	"github.com/scrollDynasty/softforlogic-sub000/lib/profit"
	"github.com/scrollDynasty/softforlogic-sub000/lib/telemetry"
	"github.com/scrollDynasty/softforlogic-sub000/services/notify"
	"github.com/scrollDynasty/softforlogic-sub000/services/sentstore"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

var tracer = telemetry.Tracer("services/dispatch")

const defaultConcurrency = 5

type Options struct {
	// Concurrency bounds simultaneous in-flight notify/persist pairs.
	// The notification and persistence collaborators share per-minute
	// limits upstream, so this stays small.
	Concurrency int
}

// Pipeline turns one raw batch into at-most-one notification per new
// profitable load.
type Pipeline struct {
	estimator   profit.Estimator
	store       sentstore.Store
	sink        notify.Sink
	claims      ClaimCache
	concurrency int
}

func NewPipeline(estimator profit.Estimator, store sentstore.Store, sink notify.Sink, claims ClaimCache, opts Options) *Pipeline {
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if claims == nil {
		claims = NoopClaims{}
	}
	return &Pipeline{
		estimator:   estimator,
		store:       store,
		sink:        sink,
		claims:      claims,
		concurrency: opts.Concurrency,
	}
}

// Summary reports one batch: attempted counts candidates that survived
// filtering and scoring, sent counts those whose notify and persist
// both completed.
type Summary struct {
	Attempted int `json:"attempted"`
	Sent      int `json:"sent"`
}

type candidate struct {
	load        loads.RawLoad
	analysis    profit.Analysis
	fingerprint loads.Fingerprint
}

// ProcessBatch filters, scores, dedups and dispatches one batch.
// Item failures are logged and absorbed; the batch itself never fails.
// Returns once every dispatched item has resolved.
func (p *Pipeline) ProcessBatch(ctx context.Context, batch []loads.RawLoad, criteria loads.SearchCriteria) Summary {
	ctx, span := tracer.Start(ctx, "ProcessBatch")
	defer span.End()

	span.SetAttributes(attribute.Int("batch_size", len(batch)))

	var candidates []candidate
	for _, load := range batch {
		if !criteria.Matches(load) {
			continue
		}
		analysis := p.estimator.Evaluate(load)
		if !analysis.Profitable {
			continue
		}
		candidates = append(candidates, candidate{
			load:        load,
			analysis:    analysis,
			fingerprint: load.Fingerprint(),
		})
	}
	span.SetAttributes(attribute.Int("candidates", len(candidates)))

	// dedupe inside the batch first; notify runs in parallel with
	// persist, so the store constraint alone cannot stop two copies of
	// a load that share one batch from both notifying
	seen := map[loads.Fingerprint]struct{}{}
	var fresh []candidate
	for _, c := range candidates {
		if _, dup := seen[c.fingerprint]; dup {
			continue
		}
		known, err := p.store.IsKnown(ctx, c.fingerprint, c.load.ExternalID)
		if err != nil {
			slog.WarnContext(
				ctx, "failed to check sent store",
				"external_id", c.load.ExternalID,
				"err", err,
			)
			continue
		}
		if known {
			continue
		}
		seen[c.fingerprint] = struct{}{}
		fresh = append(fresh, c)
	}

	sent := make([]bool, len(fresh))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(p.concurrency)
	for i, c := range fresh {
		i, c := i, c
		group.Go(func() error {
			sent[i] = p.dispatchOne(groupCtx, c)
			return nil
		})
	}
	// tasks never return errors, Wait is purely a join
	group.Wait()

	summary := Summary{Attempted: len(candidates)}
	for _, ok := range sent {
		if ok {
			summary.Sent++
		}
	}
	span.SetAttributes(attribute.Int("sent", summary.Sent))
	return summary
}

// dispatchOne notifies and persists one candidate, the two calls
// running in parallel with each other. Success requires both.
func (p *Pipeline) dispatchOne(ctx context.Context, c candidate) bool {
	ctx, span := tracer.Start(ctx, "dispatchOne")
	defer span.End()

	span.SetAttributes(
		attribute.String("external_id", c.load.ExternalID),
		attribute.String("priority", string(c.analysis.Priority)),
	)

	claimed, err := p.claims.Claim(ctx, c.fingerprint)
	if err != nil {
		// the claim cache is best effort, the store constraint below
		// still guarantees at-most-once
		slog.WarnContext(ctx, "claim cache unavailable", "err", err)
	} else if !claimed {
		slog.DebugContext(
			ctx, "fingerprint claimed by another instance",
			"external_id", c.load.ExternalID,
		)
		return false
	}

	record := loads.SentRecord{
		Fingerprint: c.fingerprint,
		ExternalID:  c.load.ExternalID,
		Pickup:      c.load.Pickup,
		Delivery:    c.load.Delivery,
		Rate:        c.load.Rate,
		Miles:       c.load.Miles,
		Deadhead:    c.load.Deadhead,
		Priority:    string(c.analysis.Priority),
		SentAt:      time.Now(),
	}

	var notifyErr, persistErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		persistErr = p.store.MarkSent(ctx, record)
	}()
	notifyErr = p.sink.Notify(ctx, c.load, c.analysis)
	<-done

	if errors.Is(persistErr, sentstore.ErrAlreadySent) {
		// lost the insert race to a sibling or another instance
		slog.DebugContext(
			ctx, "load was already sent",
			"external_id", c.load.ExternalID,
		)
		return false
	}
	if persistErr != nil {
		// does not retract an already delivered notification
		slog.WarnContext(
			ctx, "failed to persist sent record",
			"external_id", c.load.ExternalID,
			"err", persistErr,
		)
	}
	if notifyErr != nil {
		slog.WarnContext(
			ctx, "failed to notify",
			"external_id", c.load.ExternalID,
			"err", notifyErr,
		)
	}
	return notifyErr == nil && persistErr == nil
}
