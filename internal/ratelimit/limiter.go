// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package ratelimit paces outbound calls per provider. Every source adapter,
// generation provider and transcription backend acquires a slot from its own
// gate before calling out.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrWouldExceedDeadline is returned when the caller's deadline expires
// before the next slot. It matches context.DeadlineExceeded with errors.Is.
var ErrWouldExceedDeadline = fmt.Errorf("rate limit wait would exceed deadline: %w", context.DeadlineExceeded)

// Gate grants call slots. Acquire blocks until the caller may proceed or
// ctx ends.
type Gate interface {
	Acquire(ctx context.Context) error
}

// Limiter enforces a minimum interval between granted calls. Concurrent
// callers are served in the order they called Acquire. A zero interval
// grants immediately.
type Limiter struct {
	interval time.Duration
	lim      *rate.Limiter
}

// New returns a Limiter that grants at most one call per interval.
func New(interval time.Duration) *Limiter {
	l := &Limiter{interval: interval}
	if interval > 0 {
		l.lim = rate.NewLimiter(rate.Every(interval), 1)
	}
	return l
}

// Interval returns the configured minimum interval.
func (l *Limiter) Interval() time.Duration { return l.interval }

// Acquire suspends the caller until interval has elapsed since the last
// granted call. If ctx ends first the reserved slot is released.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if l == nil || l.lim == nil {
		return nil
	}
	if err := l.lim.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		// Wait refuses up front when the deadline falls before the slot.
		return ErrWouldExceedDeadline
	}
	return nil
}

// Factory builds the gate for a provider id.
type Factory func(id string, interval time.Duration) Gate

// LocalFactory builds in-process Limiters.
func LocalFactory(_ string, interval time.Duration) Gate {
	return New(interval)
}

// Registry holds one independent gate per provider id.
type Registry struct {
	mu      sync.Mutex
	gates   map[string]Gate
	factory Factory
}

// NewRegistry returns a Registry that builds gates with factory. A nil
// factory means LocalFactory.
func NewRegistry(factory Factory) *Registry {
	if factory == nil {
		factory = LocalFactory
	}
	return &Registry{gates: make(map[string]Gate), factory: factory}
}

// Register creates the gate for id with the given interval, replacing any
// existing gate.
func (r *Registry) Register(id string, interval time.Duration) Gate {
	g := r.factory(id, interval)
	r.mu.Lock()
	r.gates[id] = g
	r.mu.Unlock()
	return g
}

// Gate returns the gate for id. Unknown ids get an unpaced gate, created
// once and reused.
func (r *Registry) Gate(id string) Gate {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.gates[id]
	if !ok {
		g = r.factory(id, 0)
		r.gates[id] = g
	}
	return g
}

// Acquire waits for a slot on the gate registered for id.
func (r *Registry) Acquire(ctx context.Context, id string) error {
	return r.Gate(id).Acquire(ctx)
}
