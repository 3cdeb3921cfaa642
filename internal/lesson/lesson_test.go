// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package lesson

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/lesson-engine/internal/provider"
	"github.com/pdiddy/lesson-engine/pkg/types"
)

func TestFingerprintDeterministic(t *testing.T) {
	for _, style := range types.AllStyles {
		a := Fingerprint("Binary Search Trees", 1, style)
		b := Fingerprint("Binary Search Trees", 1, style)
		assert.Equal(t, a, b)
		assert.Len(t, a, 64)
	}
}

func TestFingerprintSeparatesStyles(t *testing.T) {
	seen := map[string]types.Style{}
	for _, style := range types.AllStyles {
		fp := Fingerprint("Binary Search Trees", 1, style)
		_, dup := seen[fp]
		assert.False(t, dup, "style %s collides", style)
		seen[fp] = style
	}
}

func TestFingerprintFields(t *testing.T) {
	base := Fingerprint("Graphs", 2, types.StyleLongForm)
	assert.NotEqual(t, base, Fingerprint("Graphs", 3, types.StyleLongForm))
	assert.NotEqual(t, base, Fingerprint("Trees", 2, types.StyleLongForm))
	assert.Equal(t, base, Fingerprint("  graphs ", 2, types.StyleLongForm))
	// Length prefixes keep field boundaries distinct.
	assert.NotEqual(t, Fingerprint("a 1", 1, types.StylePractice), Fingerprint("a", 11, types.StylePractice))
}

func TestNormalizeTopic(t *testing.T) {
	assert.Equal(t, "binary search trees", NormalizeTopic("  Binary\tSearch   TREES\n"))
}

func TestRankPrefersVerification(t *testing.T) {
	now := time.Now()
	records := []types.ContentRecord{
		{ID: "unreviewed", Verification: types.VerificationUnreviewed, VotesUp: 500, CreatedAt: now},
		{ID: "community", Verification: types.VerificationCommunityApproved, VotesUp: 40, CreatedAt: now},
		{ID: "expert", Verification: types.VerificationExpertVerified, VotesDown: 12, CreatedAt: now.Add(-time.Hour)},
	}
	best, ok := Best(records)
	require.True(t, ok)
	assert.Equal(t, "expert", best.ID)

	ranked := Rank(records)
	assert.Equal(t, []string{"expert", "community", "unreviewed"}, ids(ranked))
	assert.Equal(t, "unreviewed", records[0].ID, "input reordered")
}

func TestRankTieBreakers(t *testing.T) {
	now := time.Now()
	records := []types.ContentRecord{
		{ID: "old-popular", Verification: types.VerificationUnreviewed, VotesUp: 5, CreatedAt: now.Add(-time.Hour)},
		{ID: "new", Verification: types.VerificationUnreviewed, VotesUp: 5, CreatedAt: now},
		{ID: "disliked", Verification: types.VerificationUnreviewed, VotesUp: 5, VotesDown: 3, CreatedAt: now},
		{ID: "rejected", Verification: types.VerificationRejected, VotesUp: 99, CreatedAt: now},
	}
	assert.Equal(t, []string{"new", "old-popular", "disliked", "rejected"}, ids(Rank(records)))
}

func TestBestSkipsRejected(t *testing.T) {
	_, ok := Best([]types.ContentRecord{{ID: "r", Verification: types.VerificationRejected}})
	assert.False(t, ok)
	_, ok = Best(nil)
	assert.False(t, ok)
}

func TestSchemaPerStyle(t *testing.T) {
	for _, style := range types.AllStyles {
		s, err := Schema(style)
		require.NoError(t, err, style)
		b, err := json.Marshal(s)
		require.NoError(t, err)
		assert.Contains(t, string(b), `"title"`)
		assert.Contains(t, string(b), `"additionalProperties":false`)
	}
	_, err := Schema("podcast")
	assert.Error(t, err)
	assert.Equal(t, "practice_focused_lesson", schemaName(types.StylePractice))
}

func TestValidatePayload(t *testing.T) {
	assert.NoError(t, ValidatePayload(types.StylePractice, []byte(practiceJSON)))
	assert.Error(t, ValidatePayload(types.StylePractice, []byte(`{"title":"BST","exercises":[]}`)))
	assert.Error(t, ValidatePayload(types.StyleVideo, []byte(`{"title":"  "}`)))
	assert.Error(t, ValidatePayload(types.StyleLongForm, []byte(`{"title":"x"}`)))
	assert.Error(t, ValidatePayload(types.StyleCombined, []byte(`[1,2]`)))
	assert.NoError(t, ValidatePayload(types.StyleCombined, []byte(`{"title":"x","sections":[{"heading":"h","body":"b","code_example":""}]}`)))
}

func TestBuildPromptWithResearch(t *testing.T) {
	bundle := types.ResearchBundle{
		Items: map[types.SourceKind][]types.ResearchItem{
			types.SourceOfficialDocs:  {{SourceKind: types.SourceOfficialDocs, Title: "BST reference", URL: "https://docs.example/bst", BodyExcerpt: "A binary search tree keeps keys ordered."}},
			types.SourceVideoPlatform: {{SourceKind: types.SourceVideoPlatform, Title: "BST in 10 minutes", URL: "https://youtube.com/watch?v=x", EngagementScore: 12000, Transcript: "today we insert", TranscriptSource: types.TranscriptCaptions}},
		},
		Availability: types.AvailabilityReport{Summary: "2/5 sources available"},
	}
	req := types.GenerationRequest{
		Topic: "Binary Search Trees", Style: types.StyleVideo, Sequence: 3, Language: "go",
		Profile: &types.ActorProfile{Level: types.LevelBeginner, Goal: "pass interviews"},
	}

	p, err := BuildPrompt(req, bundle)
	require.NoError(t, err)
	assert.Contains(t, p.System, "lesson 3")
	assert.Contains(t, p.System, "video-based")
	assert.Contains(t, p.System, "level: beginner")
	assert.Contains(t, p.System, "goal: pass interviews")
	assert.Contains(t, p.System, `"watch_guide"`)
	assert.Contains(t, p.User, "Topic: Binary Search Trees")
	assert.Contains(t, p.User, "Programming language: go")
	assert.Contains(t, p.User, "2/5 sources available")
	assert.Contains(t, p.User, "[official_docs] BST reference")
	assert.Contains(t, p.User, "Engagement: 12000")
	assert.Contains(t, p.User, "Transcript (captions):\ntoday we insert")
	assert.Less(t, strings.Index(p.User, "official_docs"), strings.Index(p.User, "video_platform"))
	assert.NotContains(t, p.User, "No external research")

	assert.Equal(t, provider.FormatJSON, p.Format.Kind)
	assert.Equal(t, "video_based_lesson", p.Format.SchemaName)
	require.NotNil(t, p.Format.Validate)
	assert.Error(t, p.Format.Validate([]byte(`{}`)))
}

func TestBuildPromptWithoutResearch(t *testing.T) {
	req := types.GenerationRequest{Topic: "Heaps", Style: types.StylePractice, Sequence: 1}
	p, err := BuildPrompt(req, types.ResearchBundle{})
	require.NoError(t, err)
	assert.Contains(t, p.User, "No external research was available")
	assert.NotContains(t, p.System, "Learner profile")
}

func TestUserMessage(t *testing.T) {
	transient := "content temporarily unavailable, try again shortly"
	assert.Equal(t, transient, UserMessage(&provider.ExhaustedError{}))
	assert.Equal(t, transient, UserMessage(&TimeoutError{Deadline: time.Second, State: StateGenerating}))
	assert.NotEqual(t, transient, UserMessage(&StoreError{Op: "find", Err: assert.AnError}))
	assert.Empty(t, UserMessage(nil))
}

func ids(records []types.ContentRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}

const practiceJSON = `{
	"title": "Binary Search Trees",
	"summary": "Ordered keys in a tree.",
	"objectives": ["insert", "search"],
	"concepts": [{"name": "invariant", "explanation": "left < node < right"}],
	"exercises": [{"prompt": "Insert 5", "difficulty": "easy", "hint": "compare", "solution": "..."}],
	"common_pitfalls": ["unbalanced trees"]
}`
