// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package research fans a topic out to every source adapter concurrently and
// joins the results into a ResearchBundle. A source that fails, times out or
// finds nothing is reported unavailable; the bundle is always returned.
package research

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/lesson-engine/internal/logger"
	"github.com/pdiddy/lesson-engine/internal/sources"
	"github.com/pdiddy/lesson-engine/internal/usage"
	"github.com/pdiddy/lesson-engine/pkg/types"
)

// Defaults for Config fields left zero.
const (
	DefaultAdapterTimeout = 12 * time.Second
	DefaultBaseCount      = 3
	DefaultMaxCount       = 6
)

// Config tunes the aggregator.
type Config struct {
	// AdapterTimeout is the hard deadline for each adapter call. It is also
	// the aggregator's wall-clock bound.
	AdapterTimeout time.Duration

	// BaseCount is the list size requested from multi-item sources when every
	// source is available; MaxCount caps the compensated size.
	BaseCount int
	MaxCount  int
}

// ConfigFrom converts the file configuration.
func ConfigFrom(c types.SourcesConfig) Config {
	return Config{AdapterTimeout: c.AdapterTimeout, BaseCount: c.BaseCount, MaxCount: c.MaxCount}
}

// Aggregator runs one research pass over a fixed set of adapters.
type Aggregator struct {
	adapters []sources.Adapter
	cfg      Config
	sink     usage.Sink
	log      *logger.Logger
}

// New returns an aggregator over adapters. Zero config fields take defaults.
func New(adapters []sources.Adapter, cfg Config, sink usage.Sink, log *logger.Logger) *Aggregator {
	if cfg.AdapterTimeout <= 0 {
		cfg.AdapterTimeout = DefaultAdapterTimeout
	}
	if cfg.BaseCount <= 0 {
		cfg.BaseCount = DefaultBaseCount
	}
	if cfg.MaxCount < cfg.BaseCount {
		cfg.MaxCount = DefaultMaxCount
		if cfg.MaxCount < cfg.BaseCount {
			cfg.MaxCount = cfg.BaseCount
		}
	}
	return &Aggregator{
		adapters: adapters,
		cfg:      cfg,
		sink:     usage.OrNop(sink),
		log:      logger.OrNop(log).With("component", "research"),
	}
}

// Compensation returns the item count to request from multi-item sources
// when unavailable peers are known to be down: one extra item per missing
// source, capped at MaxCount.
func (a *Aggregator) Compensation(unavailable int) int {
	n := a.cfg.BaseCount + unavailable
	if n > a.cfg.MaxCount {
		n = a.cfg.MaxCount
	}
	return n
}

// outcome is one adapter's contribution.
type outcome struct {
	kind   types.SourceKind
	result sources.Result
}

// Research queries every adapter concurrently. It never fails: the bundle
// may be empty, in which case generation proceeds without research.
func (a *Aggregator) Research(ctx context.Context, topic, category, language string) types.ResearchBundle {
	start := time.Now()

	unavailable := 0
	for _, ad := range a.adapters {
		if !ad.Available() {
			unavailable++
		}
	}
	q := sources.Query{Topic: topic, Category: category, Language: language, Count: a.Compensation(unavailable)}
	if unavailable > 0 {
		a.log.Debug("compensating for unavailable sources", "unavailable", unavailable, "count", q.Count)
	}

	outcomes := make([]outcome, len(a.adapters))
	var g errgroup.Group
	for i, ad := range a.adapters {
		g.Go(func() error {
			outcomes[i] = a.fetch(ctx, ad, q)
			return nil
		})
	}
	_ = g.Wait()

	bundle := assemble(outcomes)
	a.log.Info("research complete",
		"topic", topic,
		"summary", bundle.Availability.Summary,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	a.sink.RecordAvailability(topic, bundle.Availability)
	return bundle
}

// fetch runs one adapter under its own deadline. An adapter that does not
// return by the deadline is abandoned and reported as timed out; its
// goroutine finishes in the background.
func (a *Aggregator) fetch(parent context.Context, ad sources.Adapter, q sources.Query) outcome {
	ctx, cancel := context.WithTimeout(parent, a.cfg.AdapterTimeout)
	defer cancel()

	done := make(chan sources.Result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				a.log.Error("source adapter panicked", "source", string(ad.Kind()), "panic", r)
				done <- sources.Result{Reason: types.ReasonHTTPError}
			}
		}()
		done <- ad.Fetch(ctx, q)
	}()

	select {
	case res := <-done:
		if len(res.Items) == 0 && res.Reason == types.ReasonNone {
			res.Reason = types.ReasonEmpty
		}
		return outcome{kind: ad.Kind(), result: res}
	case <-ctx.Done():
		a.log.Warn("source abandoned at deadline", "source", string(ad.Kind()), "timeout", a.cfg.AdapterTimeout.String())
		return outcome{kind: ad.Kind(), result: sources.Result{Reason: types.ReasonTimeout}}
	}
}

// assemble builds the bundle and its availability report. Single-item
// sources contribute at most their first item.
func assemble(outcomes []outcome) types.ResearchBundle {
	b := types.ResearchBundle{
		Items: make(map[types.SourceKind][]types.ResearchItem),
		Availability: types.AvailabilityReport{
			Sources: make(map[types.SourceKind]types.Availability, len(outcomes)),
			Reasons: make(map[types.SourceKind]types.UnavailableReason),
		},
	}
	for _, o := range outcomes {
		items := o.result.Items
		if len(items) > 1 && !o.kind.MultiItem() {
			items = items[:1]
		}
		if len(items) == 0 {
			b.Availability.Sources[o.kind] = types.Unavailable
			b.Availability.Reasons[o.kind] = o.result.Reason
			continue
		}
		b.Items[o.kind] = items
		b.Availability.Sources[o.kind] = types.Available
	}
	b.Availability.Summary = b.Availability.Summarize()
	return b
}

// Researcher is the aggregator's contract as seen by the orchestrator.
type Researcher interface {
	Research(ctx context.Context, topic, category, language string) types.ResearchBundle
}

var _ Researcher = (*Aggregator)(nil)
