// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// AttemptOutcome classifies one call to a generation provider.
type AttemptOutcome string

const (
	OutcomeSuccess     AttemptOutcome = "success"
	OutcomeRateLimited AttemptOutcome = "rate_limited"
	OutcomeError       AttemptOutcome = "error"
	OutcomeTimeout     AttemptOutcome = "timeout"
)

// ProviderAttempt is the in-memory record of one provider call. It feeds
// fallback decisions and usage reporting and is never persisted.
type ProviderAttempt struct {
	ProviderID string         `json:"provider_id" yaml:"provider_id"`
	StartedAt  time.Time      `json:"started_at" yaml:"started_at"`
	Duration   time.Duration  `json:"duration" yaml:"duration"`
	Outcome    AttemptOutcome `json:"outcome" yaml:"outcome"`

	// Error is the failure message for unsuccessful attempts.
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
}
