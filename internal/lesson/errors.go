// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package lesson

import (
	"errors"
	"fmt"
	"time"

	"github.com/pdiddy/lesson-engine/internal/provider"
	"github.com/pdiddy/lesson-engine/pkg/types"
)

var (
	// ErrExhausted is returned when every generation provider failed.
	ErrExhausted = provider.ErrExhausted

	// ErrTimeout matches every *TimeoutError.
	ErrTimeout = errors.New("lesson generation deadline exceeded")

	// ErrInvalidRequest wraps request validation failures.
	ErrInvalidRequest = errors.New("invalid generation request")
)

// TimeoutError reports that research plus generation overran the
// orchestrator deadline.
type TimeoutError struct {
	Deadline time.Duration
	State    State
	Attempts []types.ProviderAttempt
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: %s elapsed during %s", ErrTimeout, e.Deadline, e.State)
}

// Is makes errors.Is(err, ErrTimeout) true.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// StoreError is a content store failure, surfaced unmasked.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("content store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// UserMessage returns the text to show an end user for err. Exhaustion and
// timeouts are transient and share one message.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrExhausted), errors.Is(err, ErrTimeout):
		return "content temporarily unavailable, try again shortly"
	case errors.Is(err, ErrInvalidRequest):
		return err.Error()
	default:
		return "something went wrong while preparing this lesson"
	}
}
