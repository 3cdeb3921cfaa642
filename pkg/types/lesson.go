// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Style selects the structure of the generated lesson. Different styles
// produce fundamentally different payloads, so the style is part of the
// content fingerprint.
type Style string

const (
	StylePractice Style = "practice-focused"
	StyleVideo    Style = "video-based"
	StyleLongForm Style = "long-form"
	StyleCombined Style = "combined"
)

// AllStyles lists the accepted styles.
var AllStyles = []Style{StylePractice, StyleVideo, StyleLongForm, StyleCombined}

// ParseStyle accepts a style name, case-insensitively, with underscores or
// hyphens ("practice_focused" and "Practice-Focused" both work).
func ParseStyle(s string) (Style, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-")
	for _, st := range AllStyles {
		if string(st) == norm {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown style %q: use practice-focused, video-based, long-form, or combined", s)
}

// Valid reports whether s is one of AllStyles.
func (s Style) Valid() bool {
	for _, st := range AllStyles {
		if s == st {
			return true
		}
	}
	return false
}

// Level is the learner's self-reported proficiency.
type Level string

const (
	LevelBeginner     Level = "beginner"
	LevelIntermediate Level = "intermediate"
	LevelAdvanced     Level = "advanced"
)

// ActorProfile tunes tone and difficulty of a generated lesson. It does not
// affect the fingerprint.
type ActorProfile struct {
	Level             Level  `json:"level,omitempty" yaml:"level,omitempty"`
	Goal              string `json:"goal,omitempty" yaml:"goal,omitempty"`
	PreferredLanguage string `json:"preferred_language,omitempty" yaml:"preferred_language,omitempty"`
}

// GenerationRequest is what a caller asks the orchestrator for. It never
// names a provider; the provider chain decides that.
type GenerationRequest struct {
	Topic    string `json:"topic" yaml:"topic"`
	Style    Style  `json:"style" yaml:"style"`
	Sequence int    `json:"sequence" yaml:"sequence"`

	// Category and Language are research hints (e.g. "data-structures",
	// "python"). They steer the source adapters only.
	Category string `json:"category,omitempty" yaml:"category,omitempty"`
	Language string `json:"language,omitempty" yaml:"language,omitempty"`

	Profile *ActorProfile `json:"profile,omitempty" yaml:"profile,omitempty"`
}

// Validate rejects requests the orchestrator cannot fingerprint.
func (r GenerationRequest) Validate() error {
	if strings.TrimSpace(r.Topic) == "" {
		return fmt.Errorf("topic is empty")
	}
	if !r.Style.Valid() {
		return fmt.Errorf("unknown style %q", r.Style)
	}
	if r.Sequence < 0 {
		return fmt.Errorf("sequence must be non-negative, got %d", r.Sequence)
	}
	return nil
}

// VerificationStatus is the review state of a content record.
type VerificationStatus string

const (
	VerificationRejected          VerificationStatus = "rejected"
	VerificationUnreviewed        VerificationStatus = "unreviewed"
	VerificationCommunityApproved VerificationStatus = "community_approved"
	VerificationExpertVerified    VerificationStatus = "expert_verified"
)

// Rank orders statuses for serving: higher is better. Unknown statuses rank
// with rejected.
func (v VerificationStatus) Rank() int {
	switch v {
	case VerificationExpertVerified:
		return 3
	case VerificationCommunityApproved:
		return 2
	case VerificationUnreviewed:
		return 1
	default:
		return 0
	}
}

// ParseVerificationStatus validates a status name.
func ParseVerificationStatus(s string) (VerificationStatus, error) {
	v := VerificationStatus(strings.ToLower(strings.TrimSpace(s)))
	switch v {
	case VerificationRejected, VerificationUnreviewed, VerificationCommunityApproved, VerificationExpertVerified:
		return v, nil
	}
	return "", fmt.Errorf("unknown verification status %q", s)
}

// SourceType records whether external research went into a record.
type SourceType string

const (
	SourceTypeAIOnly      SourceType = "ai_only"
	SourceTypeMultiSource SourceType = "multi_source"
)

// VoteDirection is a quality vote on a content record.
type VoteDirection string

const (
	VoteUp   VoteDirection = "up"
	VoteDown VoteDirection = "down"
)

// ParseVoteDirection validates a vote direction.
func ParseVoteDirection(s string) (VoteDirection, error) {
	switch d := VoteDirection(strings.ToLower(strings.TrimSpace(s))); d {
	case VoteUp, VoteDown:
		return d, nil
	}
	return "", fmt.Errorf("unknown vote direction %q: use up or down", s)
}

// ContentRecord is one persisted generation result. Several records may
// share a fingerprint; ranking picks the one to serve. Records are never
// deleted.
type ContentRecord struct {
	ID          string `json:"id" yaml:"id"`
	Fingerprint string `json:"fingerprint" yaml:"fingerprint"`

	Topic    string `json:"topic" yaml:"topic"`
	Style    Style  `json:"style" yaml:"style"`
	Sequence int    `json:"sequence" yaml:"sequence"`

	// Payload is the style-specific structured lesson, as JSON.
	Payload json.RawMessage `json:"payload" yaml:"-"`

	VotesUp      int                `json:"quality_votes_up" yaml:"quality_votes_up"`
	VotesDown    int                `json:"quality_votes_down" yaml:"quality_votes_down"`
	Verification VerificationStatus `json:"verification_status" yaml:"verification_status"`
	ViewCount    int                `json:"view_count" yaml:"view_count"`

	SourceType   SourceType  `json:"source_type" yaml:"source_type"`
	Attribution  []SourceRef `json:"source_attribution" yaml:"source_attribution"`
	CreatedAt    time.Time   `json:"created_at" yaml:"created_at"`
	ProviderUsed string      `json:"provider_used" yaml:"provider_used"`
}

// NetVotes returns up votes minus down votes.
func (r ContentRecord) NetVotes() int {
	return r.VotesUp - r.VotesDown
}
