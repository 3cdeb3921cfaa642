// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package lesson serves generated lessons. The orchestrator looks a request
// up by fingerprint first and only researches and generates on a miss.
package lesson

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/pdiddy/lesson-engine/internal/logger"
	"github.com/pdiddy/lesson-engine/internal/provider"
	"github.com/pdiddy/lesson-engine/internal/research"
	"github.com/pdiddy/lesson-engine/pkg/types"
)

// DefaultDeadline bounds research plus generation on a miss.
const DefaultDeadline = 110 * time.Second

// State is a step of one Serve call.
type State string

const (
	StateIdle           State = "idle"
	StateFingerprinting State = "fingerprinting"
	StateStoreLookup    State = "store_lookup"
	StateHitReturn      State = "hit_return"
	StateResearching    State = "researching"
	StateGenerating     State = "generating"
	StatePersisting     State = "persisting"
	StateReturned       State = "returned"
	StateFailed         State = "failed"
)

// Store persists content records. Records are never deleted.
type Store interface {
	FindByFingerprint(ctx context.Context, fingerprint string) ([]types.ContentRecord, error)
	Create(ctx context.Context, rec types.ContentRecord) (types.ContentRecord, error)
	// IncrementView adds one view and returns the new count.
	IncrementView(ctx context.Context, id string) (int, error)
	RecordVote(ctx context.Context, id string, dir types.VoteDirection) (types.ContentRecord, error)
	RecordVerification(ctx context.Context, id string, status types.VerificationStatus) (types.ContentRecord, error)
}

// Generator is the provider chain as seen by the orchestrator.
type Generator interface {
	Generate(ctx context.Context, p provider.Prompt) (provider.Output, error)
}

var _ Generator = (*provider.Chain)(nil)

// Config tunes the orchestrator.
type Config struct {
	Deadline     time.Duration
	SingleFlight bool
}

// ConfigFrom converts the engine config section.
func ConfigFrom(c types.OrchestratorConfig) Config {
	return Config{Deadline: c.Deadline, SingleFlight: c.SingleFlight}
}

// Result is the outcome of Serve.
type Result struct {
	Record types.ContentRecord `json:"record" yaml:"record"`
	Hit    bool                `json:"hit" yaml:"hit"`
	States []State             `json:"states" yaml:"states"`

	// Attempts and Availability are set on a miss only.
	Attempts     []types.ProviderAttempt   `json:"attempts,omitempty" yaml:"attempts,omitempty"`
	Availability *types.AvailabilityReport `json:"availability,omitempty" yaml:"availability,omitempty"`
}

// Orchestrator runs the serve state machine.
type Orchestrator struct {
	store    Store
	research research.Researcher
	gen      Generator
	cfg      Config
	log      *logger.Logger
	tracer   trace.Tracer
	flight   singleflight.Group
	now      func() time.Time
	newID    func() string
}

// New returns an Orchestrator.
func New(store Store, r research.Researcher, gen Generator, cfg Config, log *logger.Logger) *Orchestrator {
	if cfg.Deadline <= 0 {
		cfg.Deadline = DefaultDeadline
	}
	return &Orchestrator{
		store:    store,
		research: r,
		gen:      gen,
		cfg:      cfg,
		log:      logger.OrNop(log).With("component", "orchestrator"),
		tracer:   otel.Tracer("github.com/pdiddy/lesson-engine/internal/lesson"),
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// run tracks the states one Serve call passes through.
type run struct {
	states []State
	span   trace.Span
	log    *logger.Logger
}

func (r *run) enter(s State) {
	r.states = append(r.states, s)
	r.span.AddEvent(string(s))
	r.log.Debug("state", "state", string(s))
}

// miss is what research, generation and persistence produce.
type miss struct {
	record       types.ContentRecord
	attempts     []types.ProviderAttempt
	availability types.AvailabilityReport

	// states is the trace of a shared generation, replayed into each
	// waiting caller's run.
	states []State
}

// Serve returns the best stored lesson for req, generating and persisting
// a new one when nothing servable is stored.
func (o *Orchestrator) Serve(ctx context.Context, req types.GenerationRequest) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	req.Topic = strings.TrimSpace(req.Topic)

	ctx, span := o.tracer.Start(ctx, "lesson.Serve", trace.WithAttributes(
		attribute.String("lesson.topic", req.Topic),
		attribute.String("lesson.style", string(req.Style)),
		attribute.Int("lesson.sequence", req.Sequence),
	))
	defer span.End()

	r := &run{span: span, log: o.log.With("topic", req.Topic, "style", string(req.Style), "sequence", req.Sequence)}
	r.enter(StateIdle)

	res, err := o.serve(ctx, req, r)
	res.States = r.states
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.log.Warn("serve failed", "error", err, "states", r.states)
		return res, err
	}
	span.SetAttributes(
		attribute.Bool("lesson.hit", res.Hit),
		attribute.String("lesson.record_id", res.Record.ID),
	)
	r.log.Info("served lesson", "hit", res.Hit, "record_id", res.Record.ID, "provider", res.Record.ProviderUsed)
	return res, nil
}

func (o *Orchestrator) serve(ctx context.Context, req types.GenerationRequest, r *run) (Result, error) {
	r.enter(StateFingerprinting)
	fp := FingerprintOf(req)
	r.span.SetAttributes(attribute.String("lesson.fingerprint", fp))

	r.enter(StateStoreLookup)
	rec, ok, err := o.lookup(ctx, fp)
	if err != nil {
		r.enter(StateFailed)
		return Result{}, err
	}
	if ok {
		r.enter(StateHitReturn)
		r.enter(StateReturned)
		return Result{Record: rec, Hit: true}, nil
	}

	m, err := o.generateOnce(ctx, req, fp, r)
	res := Result{Attempts: m.attempts}
	if m.availability.Sources != nil {
		res.Availability = &m.availability
	}
	if err != nil {
		r.enter(StateFailed)
		return res, err
	}
	r.enter(StateReturned)
	res.Record = m.record
	return res, nil
}

// lookup returns the best servable record for fp and counts the view.
func (o *Orchestrator) lookup(ctx context.Context, fp string) (types.ContentRecord, bool, error) {
	records, err := o.store.FindByFingerprint(ctx, fp)
	if err != nil {
		return types.ContentRecord{}, false, &StoreError{Op: "find", Err: err}
	}
	best, ok := Best(records)
	if !ok {
		return types.ContentRecord{}, false, nil
	}
	views, err := o.store.IncrementView(ctx, best.ID)
	if err != nil {
		return types.ContentRecord{}, false, &StoreError{Op: "increment view", Err: err}
	}
	best.ViewCount = views
	return best, true, nil
}

// generateOnce runs the miss path, collapsing concurrent misses on the same
// fingerprint when single-flight is enabled. A shared generation is detached
// from every caller's cancellation and bounded only by the orchestrator
// deadline; each caller stops waiting when its own context ends.
func (o *Orchestrator) generateOnce(ctx context.Context, req types.GenerationRequest, fp string, r *run) (miss, error) {
	if !o.cfg.SingleFlight {
		return o.generate(ctx, req, fp, r)
	}
	fctx := context.WithoutCancel(ctx)
	ch := o.flight.DoChan(fp, func() (any, error) {
		fr := &run{span: r.span, log: r.log}
		m, err := o.generate(fctx, req, fp, fr)
		m.states = fr.states
		return m, err
	})

	select {
	case res := <-ch:
		if res.Shared {
			r.log.Debug("joined in-flight generation", "fingerprint", fp)
		}
		m, _ := res.Val.(miss)
		r.states = append(r.states, m.states...)
		return m, res.Err
	case <-ctx.Done():
		r.log.Debug("stopped waiting for in-flight generation", "fingerprint", fp)
		return miss{}, ctx.Err()
	}
}

// generate researches, generates and persists one new variant.
func (o *Orchestrator) generate(ctx context.Context, req types.GenerationRequest, fp string, r *run) (miss, error) {
	var m miss
	dctx, cancel := context.WithTimeout(ctx, o.cfg.Deadline)
	defer cancel()

	r.enter(StateResearching)
	bundle := o.research.Research(dctx, req.Topic, req.Category, req.Language)
	m.availability = bundle.Availability
	if err := o.interrupted(ctx, dctx, StateResearching, nil); err != nil {
		return m, err
	}

	r.enter(StateGenerating)
	prompt, err := BuildPrompt(req, bundle)
	if err != nil {
		return m, fmt.Errorf("building prompt: %w", err)
	}
	out, err := o.gen.Generate(dctx, prompt)
	m.attempts = out.Attempts
	if err != nil {
		if errors.Is(err, ErrExhausted) {
			return m, err
		}
		if ierr := o.interrupted(ctx, dctx, StateGenerating, out.Attempts); ierr != nil {
			return m, ierr
		}
		return m, fmt.Errorf("generating lesson: %w", err)
	}

	r.enter(StatePersisting)
	sourceType := types.SourceTypeAIOnly
	if !bundle.IsEmpty() {
		sourceType = types.SourceTypeMultiSource
	}
	rec := types.ContentRecord{
		ID:           o.newID(),
		Fingerprint:  fp,
		Topic:        req.Topic,
		Style:        req.Style,
		Sequence:     req.Sequence,
		Payload:      json.RawMessage(out.Text),
		Verification: types.VerificationUnreviewed,
		SourceType:   sourceType,
		Attribution:  bundle.Attribution(),
		CreatedAt:    o.now().UTC(),
		ProviderUsed: out.ProviderID,
	}
	created, err := o.store.Create(ctx, rec)
	if err != nil {
		return m, &StoreError{Op: "create", Err: err}
	}
	m.record = created
	return m, nil
}

// interrupted maps a finished deadline context onto the caller-facing error:
// the caller's own cancellation passes through, the orchestrator deadline
// becomes a *TimeoutError.
func (o *Orchestrator) interrupted(parent, dctx context.Context, s State, attempts []types.ProviderAttempt) error {
	if err := parent.Err(); err != nil {
		return err
	}
	if dctx.Err() != nil {
		return &TimeoutError{Deadline: o.cfg.Deadline, State: s, Attempts: attempts}
	}
	return nil
}

// Vote records a quality vote on a record.
func (o *Orchestrator) Vote(ctx context.Context, id string, dir types.VoteDirection) (types.ContentRecord, error) {
	rec, err := o.store.RecordVote(ctx, id, dir)
	if err != nil {
		return rec, &StoreError{Op: "vote", Err: err}
	}
	o.log.Info("recorded vote", "record_id", id, "direction", string(dir), "net", rec.NetVotes())
	return rec, nil
}

// Verify sets the verification status of a record.
func (o *Orchestrator) Verify(ctx context.Context, id string, status types.VerificationStatus) (types.ContentRecord, error) {
	rec, err := o.store.RecordVerification(ctx, id, status)
	if err != nil {
		return rec, &StoreError{Op: "verify", Err: err}
	}
	o.log.Info("recorded verification", "record_id", id, "status", string(status))
	return rec, nil
}

// Variants returns every stored record for req in serving order, rejected
// ones included, without counting a view.
func (o *Orchestrator) Variants(ctx context.Context, req types.GenerationRequest) ([]types.ContentRecord, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	records, err := o.store.FindByFingerprint(ctx, FingerprintOf(req))
	if err != nil {
		return nil, &StoreError{Op: "find", Err: err}
	}
	return Rank(records), nil
}
