// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package lesson

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/lesson-engine/internal/provider"
	"github.com/pdiddy/lesson-engine/internal/research"
	"github.com/pdiddy/lesson-engine/internal/sources"
	"github.com/pdiddy/lesson-engine/internal/store"
	"github.com/pdiddy/lesson-engine/pkg/types"
)

// memStore is an in-memory Store with call counters.
type memStore struct {
	mu      sync.Mutex
	records []types.ContentRecord
	finds   int
	creates int
	findErr error
}

func (m *memStore) FindByFingerprint(_ context.Context, fp string) ([]types.ContentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finds++
	if m.findErr != nil {
		return nil, m.findErr
	}
	var out []types.ContentRecord
	for _, r := range m.records {
		if r.Fingerprint == fp {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) Create(_ context.Context, rec types.ContentRecord) (types.ContentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creates++
	m.records = append(m.records, rec)
	return rec, nil
}

func (m *memStore) IncrementView(_ context.Context, id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.records {
		if m.records[i].ID == id {
			m.records[i].ViewCount++
			return m.records[i].ViewCount, nil
		}
	}
	return 0, errors.New("not found")
}

func (m *memStore) RecordVote(_ context.Context, id string, dir types.VoteDirection) (types.ContentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.records {
		if m.records[i].ID == id {
			if dir == types.VoteUp {
				m.records[i].VotesUp++
			} else {
				m.records[i].VotesDown++
			}
			return m.records[i], nil
		}
	}
	return types.ContentRecord{}, errors.New("not found")
}

func (m *memStore) RecordVerification(_ context.Context, id string, status types.VerificationStatus) (types.ContentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.records {
		if m.records[i].ID == id {
			m.records[i].Verification = status
			return m.records[i], nil
		}
	}
	return types.ContentRecord{}, errors.New("not found")
}

// countingResearcher returns a fixed bundle and counts calls.
type countingResearcher struct {
	bundle types.ResearchBundle
	delay  time.Duration
	calls  atomic.Int32
}

func (c *countingResearcher) Research(ctx context.Context, _, _, _ string) types.ResearchBundle {
	c.calls.Add(1)
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
		}
	}
	return c.bundle
}

// fakeProvider answers every attempt the same way.
type fakeProvider struct {
	id    string
	text  string
	err   error
	delay time.Duration
	calls atomic.Int32
}

func (f *fakeProvider) ID() string { return f.id }

func (f *fakeProvider) Attempt(ctx context.Context, _ provider.Prompt) (string, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.text, f.err
}

func chainOf(ps ...*fakeProvider) *provider.Chain {
	es := make([]provider.Entry, len(ps))
	for i, p := range ps {
		es[i] = provider.Entry{Provider: p}
	}
	return provider.NewChain(es, nil, nil)
}

var bstRequest = types.GenerationRequest{Topic: "Binary Search Trees", Style: types.StylePractice, Sequence: 1}

func TestServeHitMakesNoExternalCalls(t *testing.T) {
	st := &memStore{records: []types.ContentRecord{{
		ID: "r1", Fingerprint: FingerprintOf(bstRequest), Verification: types.VerificationUnreviewed, ViewCount: 4,
	}}}
	res := &countingResearcher{}
	p := &fakeProvider{id: "p1", text: practiceJSON}

	o := New(st, res, chainOf(p), Config{}, nil)
	got, err := o.Serve(context.Background(), bstRequest)
	require.NoError(t, err)

	assert.True(t, got.Hit)
	assert.Equal(t, "r1", got.Record.ID)
	assert.Equal(t, 5, got.Record.ViewCount)
	assert.Zero(t, res.calls.Load())
	assert.Zero(t, p.calls.Load())
	assert.Zero(t, st.creates)
	assert.Equal(t, []State{StateIdle, StateFingerprinting, StateStoreLookup, StateHitReturn, StateReturned}, got.States)
}

func TestServeHitReturnsBestRanked(t *testing.T) {
	fp := FingerprintOf(bstRequest)
	now := time.Now()
	st := &memStore{records: []types.ContentRecord{
		{ID: "unreviewed", Fingerprint: fp, Verification: types.VerificationUnreviewed, VotesUp: 90, CreatedAt: now},
		{ID: "expert", Fingerprint: fp, Verification: types.VerificationExpertVerified, VotesDown: 7, CreatedAt: now.Add(-48 * time.Hour)},
		{ID: "community", Fingerprint: fp, Verification: types.VerificationCommunityApproved, VotesUp: 30, CreatedAt: now},
	}}

	o := New(st, &countingResearcher{}, chainOf(), Config{}, nil)
	got, err := o.Serve(context.Background(), bstRequest)
	require.NoError(t, err)
	assert.Equal(t, "expert", got.Record.ID)
	assert.Equal(t, 1, got.Record.ViewCount)
}

func TestServeAllRejectedGeneratesFreshVariant(t *testing.T) {
	st := &memStore{records: []types.ContentRecord{{
		ID: "bad", Fingerprint: FingerprintOf(bstRequest), Verification: types.VerificationRejected,
	}}}
	p := &fakeProvider{id: "p1", text: practiceJSON}

	o := New(st, &countingResearcher{}, chainOf(p), Config{}, nil)
	got, err := o.Serve(context.Background(), bstRequest)
	require.NoError(t, err)
	assert.False(t, got.Hit)
	assert.NotEqual(t, "bad", got.Record.ID)
	assert.Equal(t, 1, st.creates)
}

func TestServeMissPersistsAIOnly(t *testing.T) {
	st := &memStore{}
	res := &countingResearcher{bundle: types.ResearchBundle{Availability: types.AvailabilityReport{
		Sources: map[types.SourceKind]types.Availability{types.SourceOfficialDocs: types.Unavailable},
		Summary: "0/1 sources available",
	}}}
	p := &fakeProvider{id: "groq", text: practiceJSON}

	o := New(st, res, chainOf(p), Config{}, nil)
	fixed := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	o.now = func() time.Time { return fixed }
	o.newID = func() string { return "rec-1" }

	got, err := o.Serve(context.Background(), bstRequest)
	require.NoError(t, err)

	rec := got.Record
	assert.False(t, got.Hit)
	assert.Equal(t, "rec-1", rec.ID)
	assert.Equal(t, FingerprintOf(bstRequest), rec.Fingerprint)
	assert.Equal(t, types.SourceTypeAIOnly, rec.SourceType)
	assert.Empty(t, rec.Attribution)
	assert.Equal(t, "groq", rec.ProviderUsed)
	assert.Equal(t, types.VerificationUnreviewed, rec.Verification)
	assert.Equal(t, fixed, rec.CreatedAt)
	assert.JSONEq(t, practiceJSON, string(rec.Payload))
	require.NotNil(t, got.Availability)
	assert.Equal(t, "0/1 sources available", got.Availability.Summary)
	assert.Equal(t, []State{StateIdle, StateFingerprinting, StateStoreLookup, StateResearching, StateGenerating, StatePersisting, StateReturned}, got.States)
}

func TestServeExhaustedCreatesNothing(t *testing.T) {
	st := &memStore{}
	p1 := &fakeProvider{id: "p1", err: errors.New("HTTP 503")}
	p2 := &fakeProvider{id: "p2", err: provider.ErrRateLimited}
	p3 := &fakeProvider{id: "p3", text: "I cannot help with that"}

	o := New(st, &countingResearcher{}, chainOf(p1, p2, p3), Config{}, nil)
	got, err := o.Serve(context.Background(), bstRequest)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.NotErrorIs(t, err, ErrTimeout)
	assert.Zero(t, st.creates)
	assert.Len(t, got.Attempts, 3)
	assert.Equal(t, StateFailed, got.States[len(got.States)-1])
	assert.Equal(t, "content temporarily unavailable, try again shortly", UserMessage(err))
}

func TestServeDeadlineIsTimeoutNotExhausted(t *testing.T) {
	st := &memStore{}
	slow := &fakeProvider{id: "slow", text: practiceJSON, delay: time.Hour}

	o := New(st, &countingResearcher{}, chainOf(slow), Config{Deadline: 80 * time.Millisecond}, nil)
	start := time.Now()
	got, err := o.Serve(context.Background(), bstRequest)

	assert.Less(t, time.Since(start), time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.NotErrorIs(t, err, ErrExhausted)
	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, StateGenerating, te.State)
	assert.Zero(t, st.creates)
	assert.Len(t, got.Attempts, 1)
}

func TestServeDeadlineDuringResearch(t *testing.T) {
	res := &countingResearcher{delay: time.Hour}
	p := &fakeProvider{id: "p1", text: practiceJSON}

	o := New(&memStore{}, res, chainOf(p), Config{Deadline: 50 * time.Millisecond}, nil)
	_, err := o.Serve(context.Background(), bstRequest)

	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, StateResearching, te.State)
	assert.Zero(t, p.calls.Load())
}

func TestServeCallerCancelPassesThrough(t *testing.T) {
	slow := &fakeProvider{id: "slow", text: practiceJSON, delay: time.Hour}
	o := New(&memStore{}, &countingResearcher{}, chainOf(slow), Config{Deadline: time.Hour}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)
	_, err := o.Serve(ctx, bstRequest)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrTimeout)
}

func TestServeStoreFailureSurfaces(t *testing.T) {
	st := &memStore{findErr: errors.New("disk full")}
	res := &countingResearcher{}

	o := New(st, res, chainOf(), Config{}, nil)
	_, err := o.Serve(context.Background(), bstRequest)

	var se *StoreError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "find", se.Op)
	assert.Contains(t, err.Error(), "disk full")
	assert.Zero(t, res.calls.Load())
}

func TestServeRejectsInvalidRequest(t *testing.T) {
	o := New(&memStore{}, &countingResearcher{}, chainOf(), Config{}, nil)
	_, err := o.Serve(context.Background(), types.GenerationRequest{Topic: " ", Style: types.StylePractice})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = o.Serve(context.Background(), types.GenerationRequest{Topic: "x", Style: "podcast"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestServeSingleFlightCollapsesConcurrentMisses(t *testing.T) {
	st := &memStore{}
	p := &fakeProvider{id: "p1", text: practiceJSON, delay: 100 * time.Millisecond}
	o := New(st, &countingResearcher{}, chainOf(p), Config{SingleFlight: true}, nil)

	var wg sync.WaitGroup
	results := make([]Result, 4)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := o.Serve(context.Background(), bstRequest)
			assert.NoError(t, err)
			results[i] = r
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), p.calls.Load())
	assert.Equal(t, 1, st.creates)
	for _, r := range results {
		assert.Equal(t, results[0].Record.ID, r.Record.ID)
	}
}

func TestServeSingleFlightSurvivesLeaderCancel(t *testing.T) {
	st := &memStore{}
	p := &fakeProvider{id: "p1", text: practiceJSON, delay: 300 * time.Millisecond}
	o := New(st, &countingResearcher{}, chainOf(p), Config{SingleFlight: true}, nil)

	leaderCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	leaderErr := make(chan error, 1)
	go func() {
		_, err := o.Serve(leaderCtx, bstRequest)
		leaderErr <- err
	}()
	require.Eventually(t, func() bool { return p.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	type outcome struct {
		res Result
		err error
	}
	joined := make(chan outcome, 1)
	go func() {
		res, err := o.Serve(context.Background(), bstRequest)
		joined <- outcome{res, err}
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	assert.ErrorIs(t, <-leaderErr, context.Canceled)
	got := <-joined
	require.NoError(t, got.err)
	assert.False(t, got.res.Hit)
	assert.Equal(t, "p1", got.res.Record.ProviderUsed)
	assert.Contains(t, got.res.States, StatePersisting)
	assert.Equal(t, int32(1), p.calls.Load())

	st.mu.Lock()
	defer st.mu.Unlock()
	assert.Equal(t, 1, st.creates)
}

func TestServeSingleFlightWaiterCancel(t *testing.T) {
	st := &memStore{}
	p := &fakeProvider{id: "p1", text: practiceJSON, delay: 200 * time.Millisecond}
	o := New(st, &countingResearcher{}, chainOf(p), Config{SingleFlight: true}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := o.Serve(ctx, bstRequest)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// The detached generation still persists the lesson.
	assert.Eventually(t, func() bool {
		st.mu.Lock()
		defer st.mu.Unlock()
		return st.creates == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestVoteAndVerifyRouteToStore(t *testing.T) {
	st := &memStore{records: []types.ContentRecord{{ID: "r1", Fingerprint: "fp"}}}
	o := New(st, &countingResearcher{}, chainOf(), Config{}, nil)
	ctx := context.Background()

	rec, err := o.Vote(ctx, "r1", types.VoteUp)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.VotesUp)

	rec, err = o.Verify(ctx, "r1", types.VerificationCommunityApproved)
	require.NoError(t, err)
	assert.Equal(t, types.VerificationCommunityApproved, rec.Verification)

	_, err = o.Vote(ctx, "nope", types.VoteDown)
	var se *StoreError
	assert.ErrorAs(t, err, &se)
}

// docsOnly is a source adapter that returns one documentation item; the
// other kinds it stands in for return nothing.
type docsOnly struct {
	kind  types.SourceKind
	calls atomic.Int32
}

func (d *docsOnly) Kind() types.SourceKind { return d.kind }

func (d *docsOnly) Available() bool { return true }

func (d *docsOnly) Fetch(_ context.Context, q sources.Query) sources.Result {
	d.calls.Add(1)
	if d.kind != types.SourceOfficialDocs {
		return sources.Result{Reason: types.ReasonEmpty}
	}
	return sources.Result{Items: []types.ResearchItem{{
		SourceKind:  types.SourceOfficialDocs,
		Title:       "Binary search tree",
		URL:         "https://docs.example/" + q.Topic,
		BodyExcerpt: "A binary search tree is a rooted binary tree whose keys are ordered.",
		RetrievedAt: time.Now(),
	}}}
}

func TestBinarySearchTreesScenario(t *testing.T) {
	db, err := store.OpenSQLite(filepath.Join(t.TempDir(), "lessons.db"))
	require.NoError(t, err)
	defer db.Close()

	var adapters []sources.Adapter
	var fakes []*docsOnly
	for _, k := range types.AllSourceKinds {
		f := &docsOnly{kind: k}
		fakes = append(fakes, f)
		adapters = append(adapters, f)
	}
	agg := research.New(adapters, research.Config{AdapterTimeout: time.Second}, nil, nil)
	p1 := &fakeProvider{id: "provider_1", text: practiceJSON}
	p2 := &fakeProvider{id: "provider_2", text: practiceJSON}

	o := New(db, agg, chainOf(p1, p2), Config{}, nil)
	ctx := context.Background()

	first, err := o.Serve(ctx, bstRequest)
	require.NoError(t, err)
	assert.False(t, first.Hit)
	assert.Equal(t, types.SourceTypeMultiSource, first.Record.SourceType)
	assert.Equal(t, "provider_1", first.Record.ProviderUsed)
	require.Len(t, first.Record.Attribution, 1)
	assert.Equal(t, types.SourceOfficialDocs, first.Record.Attribution[0].SourceKind)
	assert.Equal(t, 1, first.Availability.AvailableCount())

	stored, err := db.FindByFingerprint(ctx, FingerprintOf(bstRequest))
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, 0, stored[0].ViewCount)

	for _, f := range fakes {
		assert.Equal(t, int32(1), f.calls.Load())
	}

	second, err := o.Serve(ctx, bstRequest)
	require.NoError(t, err)
	assert.True(t, second.Hit)
	assert.Equal(t, first.Record.ID, second.Record.ID)
	assert.Equal(t, stored[0].ViewCount+1, second.Record.ViewCount)

	for _, f := range fakes {
		assert.Equal(t, int32(1), f.calls.Load(), "second call reached %s", f.kind)
	}
	assert.Equal(t, int32(1), p1.calls.Load())
	assert.Zero(t, p2.calls.Load())

	variants, err := o.Variants(ctx, bstRequest)
	require.NoError(t, err)
	require.Len(t, variants, 1)
	assert.Equal(t, 1, variants[0].ViewCount)
}
