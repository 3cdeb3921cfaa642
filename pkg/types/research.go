// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types defines shared data structures for the lesson-engine:
// research items and bundles gathered from external knowledge sources,
// generation requests, persisted content records, provider attempts, and
// per-component configuration.
package types

import (
	"fmt"
	"strings"
	"time"
)

// SourceKind identifies one of the external knowledge sources.
type SourceKind string

const (
	SourceOfficialDocs  SourceKind = "official_docs"
	SourceQAPlatform    SourceKind = "qa_platform"
	SourceCodeSearch    SourceKind = "code_search"
	SourceCommunityBlog SourceKind = "community_blog"
	SourceVideoPlatform SourceKind = "video_platform"
)

// AllSourceKinds lists every source in canonical report order.
var AllSourceKinds = []SourceKind{
	SourceOfficialDocs,
	SourceQAPlatform,
	SourceCodeSearch,
	SourceCommunityBlog,
	SourceVideoPlatform,
}

// MultiItem reports whether the source may contribute an ordered list of
// items to a bundle rather than a single item.
func (k SourceKind) MultiItem() bool {
	return k == SourceQAPlatform || k == SourceCodeSearch
}

// TranscriptSource records where a video transcript came from.
type TranscriptSource string

const (
	TranscriptNone     TranscriptSource = ""
	TranscriptCaptions TranscriptSource = "captions"
	TranscriptSpeech   TranscriptSource = "speech_to_text"
)

// ResearchItem is one normalized, fact-bearing unit retrieved from an
// external source. Items are never persisted on their own; they live inside
// a ResearchBundle and are referenced from a ContentRecord's attribution.
type ResearchItem struct {
	SourceKind SourceKind `json:"source_kind" yaml:"source_kind"`
	Title      string     `json:"title" yaml:"title"`
	URL        string     `json:"url" yaml:"url"`

	// BodyExcerpt is a bounded excerpt of the item body (answer text,
	// repository description, article summary, documentation summary).
	BodyExcerpt string `json:"body_excerpt" yaml:"body_excerpt"`

	// EngagementScore is the source's popularity signal: answer score,
	// repository stars, article reactions, or video views.
	EngagementScore float64 `json:"engagement_score" yaml:"engagement_score"`

	RetrievedAt time.Time `json:"retrieved_at" yaml:"retrieved_at"`

	// Transcript is set for video items when captions or the speech-to-text
	// fallback produced one.
	Transcript       string           `json:"transcript,omitempty" yaml:"transcript,omitempty"`
	TranscriptSource TranscriptSource `json:"transcript_source,omitempty" yaml:"transcript_source,omitempty"`
}

// SourceRef is the attribution kept on a ContentRecord for each research
// item that went into the generation prompt.
type SourceRef struct {
	SourceKind SourceKind `json:"source_kind" yaml:"source_kind"`
	Title      string     `json:"title" yaml:"title"`
	URL        string     `json:"url" yaml:"url"`
}

// Availability is the per-source outcome of one research pass.
type Availability string

const (
	Available   Availability = "available"
	Unavailable Availability = "unavailable"
)

// UnavailableReason explains why a source contributed nothing. It is the
// only form a single-source failure takes; it is never an error.
type UnavailableReason string

const (
	ReasonNone      UnavailableReason = ""
	ReasonTimeout   UnavailableReason = "timeout"
	ReasonEmpty     UnavailableReason = "empty_result"
	ReasonQuota     UnavailableReason = "quota"
	ReasonMalformed UnavailableReason = "malformed_response"
	ReasonHTTPError UnavailableReason = "http_error"
	ReasonDisabled  UnavailableReason = "disabled"
)

// AvailabilityReport summarizes which sources contributed to a bundle.
type AvailabilityReport struct {
	Sources map[SourceKind]Availability      `json:"sources" yaml:"sources"`
	Reasons map[SourceKind]UnavailableReason `json:"reasons,omitempty" yaml:"reasons,omitempty"`
	Summary string                           `json:"summary" yaml:"summary"`
}

// AvailableCount returns the number of sources marked available.
func (r AvailabilityReport) AvailableCount() int {
	n := 0
	for _, a := range r.Sources {
		if a == Available {
			n++
		}
	}
	return n
}

// Summarize renders a one-line description of the report, e.g.
// "3/5 sources available; unavailable: code_search (quota), video_platform (timeout)".
func (r AvailabilityReport) Summarize() string {
	var down []string
	for _, k := range AllSourceKinds {
		a, ok := r.Sources[k]
		if !ok || a == Available {
			continue
		}
		if reason := r.Reasons[k]; reason != ReasonNone {
			down = append(down, fmt.Sprintf("%s (%s)", k, reason))
		} else {
			down = append(down, string(k))
		}
	}
	s := fmt.Sprintf("%d/%d sources available", r.AvailableCount(), len(r.Sources))
	if len(down) > 0 {
		s += "; unavailable: " + strings.Join(down, ", ")
	}
	return s
}

// ResearchBundle is the aggregated output of one research pass. A bundle
// with no items is valid and means generation proceeds AI-only.
type ResearchBundle struct {
	Items        map[SourceKind][]ResearchItem `json:"items" yaml:"items"`
	Availability AvailabilityReport            `json:"availability" yaml:"availability"`
}

// IsEmpty reports whether no source contributed an item.
func (b ResearchBundle) IsEmpty() bool {
	for _, items := range b.Items {
		if len(items) > 0 {
			return false
		}
	}
	return true
}

// Get returns the items contributed by kind, in source order.
func (b ResearchBundle) Get(kind SourceKind) []ResearchItem {
	return b.Items[kind]
}

// Attribution flattens the bundle into source references, ordered by
// canonical source order and then by position within each source.
func (b ResearchBundle) Attribution() []SourceRef {
	var refs []SourceRef
	for _, k := range AllSourceKinds {
		for _, it := range b.Items[k] {
			refs = append(refs, SourceRef{SourceKind: it.SourceKind, Title: it.Title, URL: it.URL})
		}
	}
	return refs
}
