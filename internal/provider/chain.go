// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package provider drives an ordered chain of text-generation providers.
// Each provider gets exactly one paced attempt per request; the first
// success wins and a failure moves straight to the next provider.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pdiddy/lesson-engine/internal/logger"
	"github.com/pdiddy/lesson-engine/internal/ratelimit"
	"github.com/pdiddy/lesson-engine/internal/usage"
	"github.com/pdiddy/lesson-engine/pkg/types"
)

// DefaultTimeout bounds one attempt when an entry sets none.
const DefaultTimeout = 45 * time.Second

// Errors returned by the chain and by providers.
var (
	// ErrExhausted matches every *ExhaustedError.
	ErrExhausted = errors.New("generation exhausted: every provider failed")

	// ErrRateLimited marks a provider refusing the call for quota reasons.
	ErrRateLimited = errors.New("provider rate limited")

	// ErrEmptyResponse marks a 2xx response without usable text.
	ErrEmptyResponse = errors.New("provider returned an empty response")

	// ErrInvalidJSON marks a response that should have been JSON but is not.
	ErrInvalidJSON = errors.New("provider returned invalid JSON")
)

// FormatKind selects plain text or JSON output.
type FormatKind string

const (
	FormatText FormatKind = "text"
	FormatJSON FormatKind = "json"
)

// ResponseFormat is a hint about the expected output. Providers that support
// structured output enforce Schema; others are asked for JSON in the prompt.
type ResponseFormat struct {
	Kind       FormatKind
	SchemaName string
	Schema     any

	// Validate, when set, checks a well-formed JSON response against the
	// caller's payload shape. A rejection fails the attempt.
	Validate func([]byte) error
}

// Prompt is a provider-agnostic request.
type Prompt struct {
	System string
	User   string
	Format ResponseFormat
}

// Provider completes a prompt with a single call. Implementations must not
// retry internally.
type Provider interface {
	ID() string
	Attempt(ctx context.Context, p Prompt) (string, error)
}

// Entry is one position in the chain.
type Entry struct {
	Provider Provider
	Gate     ratelimit.Gate
	Timeout  time.Duration
}

// Output is the result of a successful Generate.
type Output struct {
	Text       string
	ProviderID string
	Attempts   []types.ProviderAttempt
}

// ExhaustedError reports that every provider failed. It carries the attempt
// records in chain order.
type ExhaustedError struct {
	Attempts []types.ProviderAttempt
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %s", a.ProviderID, a.Outcome))
	}
	return fmt.Sprintf("%s (%s)", ErrExhausted, strings.Join(parts, ", "))
}

// Is makes errors.Is(err, ErrExhausted) true.
func (e *ExhaustedError) Is(target error) bool {
	return target == ErrExhausted
}

// Chain tries providers strictly in order, one at a time.
type Chain struct {
	entries []Entry
	sink    usage.Sink
	log     *logger.Logger
	now     func() time.Time
}

// NewChain returns a chain over entries. Entries without a gate are unpaced.
func NewChain(entries []Entry, sink usage.Sink, log *logger.Logger) *Chain {
	es := make([]Entry, len(entries))
	for i, e := range entries {
		if e.Gate == nil {
			e.Gate = ratelimit.New(0)
		}
		if e.Timeout <= 0 {
			e.Timeout = DefaultTimeout
		}
		es[i] = e
	}
	return &Chain{
		entries: es,
		sink:    usage.OrNop(sink),
		log:     logger.OrNop(log).With("component", "provider_chain"),
		now:     time.Now,
	}
}

// IDs returns the provider ids in chain order.
func (c *Chain) IDs() []string {
	ids := make([]string, len(c.entries))
	for i, e := range c.entries {
		ids[i] = e.Provider.ID()
	}
	return ids
}

// Generate returns the first provider's valid output. When every provider
// fails it returns *ExhaustedError. When ctx ends it returns ctx.Err()
// without trying further providers; attempts made so far are in Output.
func (c *Chain) Generate(ctx context.Context, p Prompt) (Output, error) {
	var out Output
	for _, e := range c.entries {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		id := e.Provider.ID()
		start := c.now()
		text, err := c.attempt(ctx, e, p)
		att := types.ProviderAttempt{
			ProviderID: id,
			StartedAt:  start,
			Duration:   c.now().Sub(start),
			Outcome:    types.OutcomeSuccess,
		}

		if err == nil {
			out.Attempts = append(out.Attempts, att)
			c.sink.RecordAttempt(att)
			c.log.Info("provider succeeded", "provider", id, "duration_ms", att.Duration.Milliseconds())
			out.Text = text
			out.ProviderID = id
			return out, nil
		}

		att.Outcome = classify(err)
		att.Error = err.Error()
		out.Attempts = append(out.Attempts, att)
		c.sink.RecordAttempt(att)

		if ctx.Err() != nil {
			c.log.Warn("generation interrupted", "provider", id, "error", err)
			return out, ctx.Err()
		}
		c.log.Warn("provider failed, falling back", "provider", id, "outcome", string(att.Outcome), "error", err)
	}
	return out, &ExhaustedError{Attempts: out.Attempts}
}

// attempt paces and runs one provider call, then validates its output.
func (c *Chain) attempt(ctx context.Context, e Entry, p Prompt) (string, error) {
	if err := e.Gate.Acquire(ctx); err != nil {
		if errors.Is(err, ratelimit.ErrWouldExceedDeadline) {
			return "", fmt.Errorf("%w: next slot is past the deadline", ErrRateLimited)
		}
		return "", err
	}

	actx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	text, err := e.Provider.Attempt(actx, p)
	if err != nil {
		if actx.Err() != nil && ctx.Err() == nil && !errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
		}
		return "", err
	}
	return normalize(text, p.Format)
}

// normalize rejects empty output and, for JSON, unwraps Markdown fences and
// checks validity.
func normalize(text string, f ResponseFormat) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyResponse
	}
	if f.Kind != FormatJSON {
		return text, nil
	}
	text = stripFences(text)
	if !json.Valid([]byte(text)) {
		return "", ErrInvalidJSON
	}
	if f.Validate != nil {
		if err := f.Validate([]byte(text)); err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidJSON, err)
		}
	}
	return text, nil
}

func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// classify maps an attempt error onto an outcome.
func classify(err error) types.AttemptOutcome {
	switch {
	case errors.Is(err, ErrRateLimited):
		return types.OutcomeRateLimited
	case errors.Is(err, context.DeadlineExceeded):
		return types.OutcomeTimeout
	default:
		return types.OutcomeError
	}
}
