// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package sources holds one adapter per external knowledge source. Each
// adapter normalizes its source's responses into types.ResearchItem and
// degrades to "no item" with a reason instead of failing: adapters never
// return errors.
package sources

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/pdiddy/lesson-engine/internal/httputil"
	"github.com/pdiddy/lesson-engine/internal/logger"
	"github.com/pdiddy/lesson-engine/internal/ratelimit"
	"github.com/pdiddy/lesson-engine/pkg/types"
)

// Query carries the research topic and the hints adapters may use.
type Query struct {
	Topic    string
	Category string
	Language string

	// Count is how many items a list-capable source should return. Single
	// item sources ignore it.
	Count int
}

// Result is an adapter's outcome. An empty Items always has a Reason.
type Result struct {
	Items  []types.ResearchItem
	Reason types.UnavailableReason
}

// Adapter fetches research items from one external source. Each source
// (docs, Q&A, code search, blog, video) implements this interface.
type Adapter interface {
	Kind() types.SourceKind

	// Available reports whether the source is enabled and not cooling down
	// after an exhausted quota. The aggregator uses it to compensate with
	// peers before fanning out.
	Available() bool

	// Fetch never fails; problems become Result.Reason.
	Fetch(ctx context.Context, q Query) Result
}

// Deps are the collaborators every adapter needs.
type Deps struct {
	Client    *http.Client
	Gate      ratelimit.Gate
	UserAgent string
	Log       *logger.Logger
}

// base implements the bookkeeping shared by the HTTP adapters: pacing,
// quota cooldown, headers, and reason logging.
type base struct {
	kind      types.SourceKind
	enabled   bool
	client    *http.Client
	gate      ratelimit.Gate
	userAgent string
	cooldown  time.Duration
	log       *logger.Logger
	now       func() time.Time

	mu         sync.Mutex
	quotaUntil time.Time
}

func newBase(kind types.SourceKind, cfg types.SourceConfig, deps Deps) base {
	client := deps.Client
	if client == nil {
		client = http.DefaultClient
	}
	gate := deps.Gate
	if gate == nil {
		gate = ratelimit.New(cfg.MinInterval)
	}
	cooldown := cfg.QuotaCooldown
	if cooldown <= 0 {
		cooldown = 15 * time.Minute
	}
	return base{
		kind:      kind,
		enabled:   cfg.Enabled,
		client:    client,
		gate:      gate,
		userAgent: deps.UserAgent,
		cooldown:  cooldown,
		log:       logger.OrNop(deps.Log).With("source", string(kind)),
		now:       time.Now,
	}
}

func (b *base) Kind() types.SourceKind { return b.kind }

func (b *base) Available() bool {
	if !b.enabled {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.now().Before(b.quotaUntil)
}

// markQuota puts the source into cooldown. A Retry-After longer than the
// configured cooldown wins, and an existing longer cooldown is kept.
func (b *base) markQuota(retryAfter time.Duration) {
	d := b.cooldown
	if retryAfter > d {
		d = retryAfter
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if until := b.now().Add(d); until.After(b.quotaUntil) {
		b.quotaUntil = until
	}
}

// getJSON paces the call, sends the standard headers, and records quota
// exhaustion before returning the error.
func (b *base) getJSON(ctx context.Context, rawURL string, header http.Header, out any) error {
	if err := b.gate.Acquire(ctx); err != nil {
		return err
	}
	h := http.Header{}
	for k, v := range header {
		h[k] = v
	}
	if b.userAgent != "" {
		h.Set("User-Agent", b.userAgent)
	}
	err := httputil.GetJSON(ctx, b.client, rawURL, h, out)
	b.noteQuota(err)
	return err
}

// get is getJSON for raw bodies.
func (b *base) get(ctx context.Context, rawURL string) ([]byte, error) {
	if err := b.gate.Acquire(ctx); err != nil {
		return nil, err
	}
	h := http.Header{}
	if b.userAgent != "" {
		h.Set("User-Agent", b.userAgent)
	}
	body, err := httputil.Get(ctx, b.client, rawURL, h)
	b.noteQuota(err)
	return body, err
}

func (b *base) noteQuota(err error) {
	var se *httputil.StatusError
	if errors.As(err, &se) && se.Quota() {
		b.markQuota(se.RetryAfter)
	}
}

// disabled is the Result for a source switched off in configuration.
func (b *base) disabled() Result {
	return Result{Reason: types.ReasonDisabled}
}

// fail logs why the source produced nothing and returns the matching Result.
func (b *base) fail(ctx context.Context, q Query, err error) Result {
	reason := classify(ctx, err)
	if reason == types.ReasonQuota {
		b.markQuota(0)
	}
	b.log.Warn("source unavailable", "topic", q.Topic, "reason", string(reason), "error", err)
	return Result{Reason: reason}
}

// empty logs an empty result set.
func (b *base) empty(q Query, why string) Result {
	b.log.Info("source returned no usable items", "topic", q.Topic, "reason", string(types.ReasonEmpty), "detail", why)
	return Result{Reason: types.ReasonEmpty}
}

// errQuota is returned by adapters that detect quota exhaustion in a 2xx
// body (e.g. StackExchange quota_remaining).
var errQuota = errors.New("quota exhausted")

// classify maps an adapter error onto an unavailable reason.
func classify(ctx context.Context, err error) types.UnavailableReason {
	switch {
	case err == nil:
		return types.ReasonEmpty
	case errors.Is(err, context.DeadlineExceeded), ctx.Err() != nil:
		return types.ReasonTimeout
	case errors.Is(err, errQuota), httputil.IsQuota(err):
		return types.ReasonQuota
	case errors.Is(err, httputil.ErrMalformed):
		return types.ReasonMalformed
	default:
		return types.ReasonHTTPError
	}
}
