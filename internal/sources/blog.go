// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package sources

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/pdiddy/lesson-engine/pkg/types"
)

// devAPIBase is the DEV Community API root. Declared as a var so tests can
// substitute an httptest server.
var devAPIBase = "https://dev.to/api"

// BlogAdapter returns the best-received DEV Community article for a topic.
type BlogAdapter struct {
	base
	minReactions int
}

// NewBlogAdapter returns the community blog adapter.
func NewBlogAdapter(cfg types.BlogConfig, deps Deps) *BlogAdapter {
	minReactions := cfg.MinReactions
	if minReactions <= 0 {
		minReactions = 10
	}
	return &BlogAdapter{
		base:         newBase(types.SourceCommunityBlog, cfg.SourceConfig, deps),
		minReactions: minReactions,
	}
}

// blogTags derives candidate DEV tags from the query: the topic squashed
// into one tag, its leading significant term, then the language and
// category hints. DEV tags are lowercase alphanumerics.
func blogTags(q Query) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(s string) {
		tag := tagify(s)
		if tag == "" || seen[tag] {
			return
		}
		seen[tag] = true
		out = append(out, tag)
	}
	ts := significantTerms(q.Topic)
	add(strings.Join(ts, ""))
	if len(ts) > 0 {
		add(ts[0])
	}
	add(q.Language)
	add(q.Category)
	if len(out) > 3 {
		out = out[:3]
	}
	return out
}

func tagify(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Fetch tries each candidate tag and returns the article with the highest
// reactions weighted by topic relevance.
func (a *BlogAdapter) Fetch(ctx context.Context, q Query) Result {
	if !a.enabled {
		return a.disabled()
	}

	var (
		best      *devArticle
		bestScore float64
		lastErr   error
	)
	for _, tag := range blogTags(q) {
		articles, err := a.articles(ctx, tag)
		if err != nil {
			if ctx.Err() != nil || classify(ctx, err) == types.ReasonQuota {
				return a.fail(ctx, q, err)
			}
			lastErr = err
			continue
		}
		for i := range articles {
			art := &articles[i]
			if art.PositiveReactionsCount < a.minReactions {
				continue
			}
			score := float64(art.PositiveReactionsCount) * (1 + relevance(q.Topic, art.Title+" "+art.Description+" "+strings.Join(art.TagList, " ")))
			if score > bestScore {
				best, bestScore = art, score
			}
		}
		if best != nil {
			break
		}
	}

	if best == nil {
		if lastErr != nil {
			return a.fail(ctx, q, lastErr)
		}
		return a.empty(q, fmt.Sprintf("no article with at least %d reactions", a.minReactions))
	}

	body := best.Description
	if body == "" {
		body = best.Title
	}
	return Result{Items: []types.ResearchItem{{
		SourceKind:      types.SourceCommunityBlog,
		Title:           best.Title,
		URL:             best.URL,
		BodyExcerpt:     excerpt(stripHTML(body), maxExcerpt),
		EngagementScore: float64(best.PositiveReactionsCount),
		RetrievedAt:     a.now().UTC(),
	}}}
}

func (a *BlogAdapter) articles(ctx context.Context, tag string) ([]devArticle, error) {
	params := url.Values{
		"tag":      {tag},
		"top":      {"365"},
		"per_page": {"30"},
	}
	var out []devArticle
	if err := a.getJSON(ctx, devAPIBase+"/articles?"+params.Encode(), nil, &out); err != nil {
		return nil, fmt.Errorf("DEV articles for tag %q: %w", tag, err)
	}
	return out, nil
}

// DEV API JSON structures.
type devArticle struct {
	ID                     int      `json:"id"`
	Title                  string   `json:"title"`
	Description            string   `json:"description"`
	URL                    string   `json:"url"`
	TagList                []string `json:"tag_list"`
	PositiveReactionsCount int      `json:"positive_reactions_count"`
	CommentsCount          int      `json:"comments_count"`
	PublishedAt            string   `json:"published_at"`
}
