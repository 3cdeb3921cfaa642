// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package research

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/lesson-engine/internal/sources"
	"github.com/pdiddy/lesson-engine/internal/usage"
	"github.com/pdiddy/lesson-engine/pkg/types"
)

// fakeAdapter returns a fixed result after an optional delay. A stuck
// adapter ignores its context entirely.
type fakeAdapter struct {
	kind        types.SourceKind
	items       int
	reason      types.UnavailableReason
	delay       time.Duration
	stuck       bool
	unavailable bool
	panics      bool

	calls    atomic.Int32
	gotCount atomic.Int32
}

func (f *fakeAdapter) Kind() types.SourceKind { return f.kind }

func (f *fakeAdapter) Available() bool { return !f.unavailable }

func (f *fakeAdapter) Fetch(ctx context.Context, q sources.Query) sources.Result {
	f.calls.Add(1)
	f.gotCount.Store(int32(q.Count))
	if f.panics {
		panic("boom")
	}
	if f.stuck {
		time.Sleep(time.Hour)
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return sources.Result{Reason: types.ReasonTimeout}
		}
	}
	if f.items == 0 {
		return sources.Result{Reason: f.reason}
	}
	var out []types.ResearchItem
	for i := 0; i < f.items; i++ {
		out = append(out, types.ResearchItem{SourceKind: f.kind, Title: fmt.Sprintf("%s-%d", f.kind, i), URL: fmt.Sprintf("https://%s/%d", f.kind, i)})
	}
	return sources.Result{Items: out}
}

func healthy() []*fakeAdapter {
	out := make([]*fakeAdapter, 0, len(types.AllSourceKinds))
	for _, k := range types.AllSourceKinds {
		out = append(out, &fakeAdapter{kind: k, items: 1})
	}
	return out
}

func asAdapters(fs []*fakeAdapter) []sources.Adapter {
	out := make([]sources.Adapter, len(fs))
	for i, f := range fs {
		out[i] = f
	}
	return out
}

func TestResearchPartialFailure(t *testing.T) {
	for _, failing := range []int{0, 1, 3, 5} {
		t.Run(fmt.Sprintf("%d failing", failing), func(t *testing.T) {
			fakes := healthy()
			reasons := []types.UnavailableReason{types.ReasonHTTPError, types.ReasonQuota, types.ReasonMalformed, types.ReasonEmpty, types.ReasonHTTPError}
			for i := 0; i < failing; i++ {
				fakes[i].items = 0
				fakes[i].reason = reasons[i]
			}

			agg := New(asAdapters(fakes), Config{AdapterTimeout: time.Second}, nil, nil)
			start := time.Now()
			b := agg.Research(context.Background(), "Binary Search Trees", "data-structures", "go")
			assert.Less(t, time.Since(start), time.Second)

			assert.Len(t, b.Availability.Sources, 5)
			assert.Equal(t, 5-failing, b.Availability.AvailableCount())
			assert.Equal(t, failing == 5, b.IsEmpty())
			for i, f := range fakes {
				if i < failing {
					assert.Equal(t, types.Unavailable, b.Availability.Sources[f.kind])
					assert.Equal(t, reasons[i], b.Availability.Reasons[f.kind])
					assert.Empty(t, b.Get(f.kind))
				} else {
					assert.Equal(t, types.Available, b.Availability.Sources[f.kind])
					assert.Len(t, b.Get(f.kind), 1)
				}
			}
			assert.Contains(t, b.Availability.Summary, fmt.Sprintf("%d/5 sources available", 5-failing))
		})
	}
}

func TestResearchRunsConcurrently(t *testing.T) {
	fakes := healthy()
	for _, f := range fakes {
		f.delay = 200 * time.Millisecond
	}
	agg := New(asAdapters(fakes), Config{AdapterTimeout: 2 * time.Second}, nil, nil)

	start := time.Now()
	b := agg.Research(context.Background(), "graphs", "", "")
	elapsed := time.Since(start)

	assert.Equal(t, 5, b.Availability.AvailableCount())
	assert.Less(t, elapsed, 600*time.Millisecond, "adapters ran sequentially")
}

func TestResearchBoundedByAdapterTimeout(t *testing.T) {
	fakes := healthy()
	fakes[1].stuck = true
	fakes[3].delay = time.Hour
	agg := New(asAdapters(fakes), Config{AdapterTimeout: 100 * time.Millisecond}, nil, nil)

	start := time.Now()
	b := agg.Research(context.Background(), "heaps", "", "")
	elapsed := time.Since(start)

	assert.Less(t, elapsed, time.Second)
	assert.Equal(t, types.ReasonTimeout, b.Availability.Reasons[fakes[1].kind])
	assert.Equal(t, types.ReasonTimeout, b.Availability.Reasons[fakes[3].kind])
	assert.Equal(t, 3, b.Availability.AvailableCount())
}

func TestResearchRecoversAdapterPanic(t *testing.T) {
	fakes := healthy()
	fakes[0].panics = true
	agg := New(asAdapters(fakes), Config{AdapterTimeout: time.Second}, nil, nil)

	b := agg.Research(context.Background(), "tries", "", "")
	assert.Equal(t, types.Unavailable, b.Availability.Sources[fakes[0].kind])
	assert.Equal(t, 4, b.Availability.AvailableCount())
}

func TestResearchSingleItemSourcesTruncated(t *testing.T) {
	fakes := healthy()
	fakes[0].items = 3 // official_docs
	fakes[1].items = 3 // qa_platform
	agg := New(asAdapters(fakes), Config{}, nil, nil)

	b := agg.Research(context.Background(), "stacks", "", "")
	assert.Len(t, b.Get(types.SourceOfficialDocs), 1)
	assert.Len(t, b.Get(types.SourceQAPlatform), 3)
}

func TestResearchEmptyResultWithoutReason(t *testing.T) {
	fakes := healthy()
	fakes[2].items = 0
	agg := New(asAdapters(fakes), Config{}, nil, nil)

	b := agg.Research(context.Background(), "queues", "", "")
	assert.Equal(t, types.ReasonEmpty, b.Availability.Reasons[fakes[2].kind])
}

func TestCompensation(t *testing.T) {
	agg := New(nil, Config{BaseCount: 3, MaxCount: 5}, nil, nil)
	assert.Equal(t, 3, agg.Compensation(0))
	assert.Equal(t, 4, agg.Compensation(1))
	assert.Equal(t, 5, agg.Compensation(2))
	assert.Equal(t, 5, agg.Compensation(4))

	defaults := New(nil, Config{}, nil, nil)
	assert.Equal(t, DefaultBaseCount, defaults.Compensation(0))
	assert.Equal(t, DefaultMaxCount, defaults.Compensation(10))
}

func TestResearchCompensatesForUnavailablePeers(t *testing.T) {
	fakes := healthy()
	fakes[3].unavailable = true
	fakes[4].unavailable = true
	agg := New(asAdapters(fakes), Config{BaseCount: 3, MaxCount: 6}, nil, nil)

	agg.Research(context.Background(), "hash maps", "", "")
	assert.Equal(t, int32(5), fakes[1].gotCount.Load())
	assert.Equal(t, int32(5), fakes[2].gotCount.Load())
	// Unavailable adapters are still asked; they answer for themselves.
	assert.Equal(t, int32(1), fakes[3].calls.Load())
}

func TestResearchEmitsAvailability(t *testing.T) {
	stats := usage.NewStats()
	fakes := healthy()
	fakes[4].items = 0
	fakes[4].reason = types.ReasonQuota
	agg := New(asAdapters(fakes), Config{}, stats, nil)

	agg.Research(context.Background(), "sorting", "", "")
	rep := stats.Report()
	require.Len(t, rep.Sources, 5)
	assert.Equal(t, 1, rep.Sources[4].Unavailable[types.ReasonQuota])
}

func TestResearchParentCancelled(t *testing.T) {
	fakes := healthy()
	for _, f := range fakes {
		f.delay = time.Second
	}
	agg := New(asAdapters(fakes), Config{AdapterTimeout: 5 * time.Second}, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	b := agg.Research(ctx, "linked lists", "", "")
	assert.True(t, b.IsEmpty())
	assert.Equal(t, 0, b.Availability.AvailableCount())
}
