// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package usage receives provider attempts and source availability reports
// for observability. Sinks are fire-and-forget: they never fail the caller.
package usage

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/pdiddy/lesson-engine/internal/logger"
	"github.com/pdiddy/lesson-engine/pkg/types"
)

// Sink receives usage events. Implementations must be safe for concurrent use
// and must not block.
type Sink interface {
	RecordAttempt(a types.ProviderAttempt)
	RecordAvailability(topic string, r types.AvailabilityReport)
}

// Nop discards every event.
type Nop struct{}

func (Nop) RecordAttempt(types.ProviderAttempt) {}

func (Nop) RecordAvailability(string, types.AvailabilityReport) {}

// OrNop returns s, or Nop when s is nil.
func OrNop(s Sink) Sink {
	if s == nil {
		return Nop{}
	}
	return s
}

// LogSink writes each event as a structured log entry.
type LogSink struct {
	log *logger.Logger
}

// NewLogSink returns a sink that logs through log.
func NewLogSink(log *logger.Logger) *LogSink {
	return &LogSink{log: logger.OrNop(log).With("component", "usage")}
}

func (s *LogSink) RecordAttempt(a types.ProviderAttempt) {
	kv := []any{
		"provider", a.ProviderID,
		"outcome", string(a.Outcome),
		"duration_ms", a.Duration.Milliseconds(),
	}
	if a.Error != "" {
		kv = append(kv, "error", a.Error)
	}
	s.log.Info("provider attempt", kv...)
}

func (s *LogSink) RecordAvailability(topic string, r types.AvailabilityReport) {
	s.log.Info("research availability",
		"topic", topic,
		"available", r.AvailableCount(),
		"summary", r.Summary,
	)
}

// Multi fans events out to every sink.
type Multi []Sink

func (m Multi) RecordAttempt(a types.ProviderAttempt) {
	for _, s := range m {
		s.RecordAttempt(a)
	}
}

func (m Multi) RecordAvailability(topic string, r types.AvailabilityReport) {
	for _, s := range m {
		s.RecordAvailability(topic, r)
	}
}

// ProviderStats counts attempts per outcome for one provider.
type ProviderStats struct {
	ProviderID string                       `json:"provider_id" yaml:"provider_id"`
	Attempts   int                          `json:"attempts" yaml:"attempts"`
	Outcomes   map[types.AttemptOutcome]int `json:"outcomes" yaml:"outcomes"`

	// Share is this provider's fraction of all successful generations.
	Share float64 `json:"share" yaml:"share"`
}

// SourceStats counts research passes in which a source was available.
type SourceStats struct {
	Source      types.SourceKind                `json:"source" yaml:"source"`
	Passes      int                             `json:"passes" yaml:"passes"`
	Available   int                             `json:"available" yaml:"available"`
	Unavailable map[types.UnavailableReason]int `json:"unavailable,omitempty" yaml:"unavailable,omitempty"`
}

// Report is a snapshot of Stats.
type Report struct {
	Providers []ProviderStats `json:"providers" yaml:"providers"`
	Sources   []SourceStats   `json:"sources" yaml:"sources"`
}

// Stats aggregates events in memory for distribution reports such as
// "groq handled 80% of successful generations".
type Stats struct {
	mu        sync.Mutex
	providers map[string]*ProviderStats
	order     []string
	sources   map[types.SourceKind]*SourceStats
}

// NewStats returns an empty aggregator.
func NewStats() *Stats {
	return &Stats{
		providers: make(map[string]*ProviderStats),
		sources:   make(map[types.SourceKind]*SourceStats),
	}
}

func (s *Stats) RecordAttempt(a types.ProviderAttempt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ps, ok := s.providers[a.ProviderID]
	if !ok {
		ps = &ProviderStats{ProviderID: a.ProviderID, Outcomes: make(map[types.AttemptOutcome]int)}
		s.providers[a.ProviderID] = ps
		s.order = append(s.order, a.ProviderID)
	}
	ps.Attempts++
	ps.Outcomes[a.Outcome]++
}

func (s *Stats) RecordAvailability(_ string, r types.AvailabilityReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for kind, a := range r.Sources {
		ss, ok := s.sources[kind]
		if !ok {
			ss = &SourceStats{Source: kind, Unavailable: make(map[types.UnavailableReason]int)}
			s.sources[kind] = ss
		}
		ss.Passes++
		if a == types.Available {
			ss.Available++
		} else {
			ss.Unavailable[r.Reasons[kind]]++
		}
	}
}

// Report returns a snapshot. Providers appear in first-seen order, sources
// in canonical order.
func (s *Stats) Report() Report {
	s.mu.Lock()
	defer s.mu.Unlock()

	successes := 0
	for _, ps := range s.providers {
		successes += ps.Outcomes[types.OutcomeSuccess]
	}

	var rep Report
	for _, id := range s.order {
		ps := *s.providers[id]
		ps.Outcomes = make(map[types.AttemptOutcome]int, len(s.providers[id].Outcomes))
		for k, v := range s.providers[id].Outcomes {
			ps.Outcomes[k] = v
		}
		if successes > 0 {
			ps.Share = float64(ps.Outcomes[types.OutcomeSuccess]) / float64(successes)
		}
		rep.Providers = append(rep.Providers, ps)
	}

	kinds := make([]types.SourceKind, 0, len(s.sources))
	for k := range s.sources {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kindIndex(kinds[i]) < kindIndex(kinds[j]) })
	for _, k := range kinds {
		ss := *s.sources[k]
		ss.Unavailable = make(map[types.UnavailableReason]int, len(s.sources[k].Unavailable))
		for r, n := range s.sources[k].Unavailable {
			ss.Unavailable[r] = n
		}
		rep.Sources = append(rep.Sources, ss)
	}
	return rep
}

// String renders the report as one line per provider and source.
func (r Report) String() string {
	var b strings.Builder
	for _, p := range r.Providers {
		fmt.Fprintf(&b, "provider %s: %d attempts, %d succeeded, %.0f%% of successful generations\n",
			p.ProviderID, p.Attempts, p.Outcomes[types.OutcomeSuccess], p.Share*100)
	}
	for _, s := range r.Sources {
		fmt.Fprintf(&b, "source %s: available in %d of %d passes\n", s.Source, s.Available, s.Passes)
	}
	return b.String()
}

func kindIndex(k types.SourceKind) int {
	for i, kk := range types.AllSourceKinds {
		if kk == k {
			return i
		}
	}
	return len(types.AllSourceKinds)
}
