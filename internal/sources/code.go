// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package sources

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pdiddy/lesson-engine/internal/httputil"
	"github.com/pdiddy/lesson-engine/pkg/types"
)

// githubAPIBase is the GitHub REST API root. Declared as a var so tests can
// substitute an httptest server.
var githubAPIBase = "https://api.github.com"

// CodeSearchAdapter returns popular, recently maintained repositories that
// match the topic. When the strict query finds nothing it relaxes in tiers.
type CodeSearchAdapter struct {
	base
	token        string
	minStars     int
	recencyYears int
}

// NewCodeSearchAdapter returns the code-hosting search adapter.
func NewCodeSearchAdapter(cfg types.CodeSearchConfig, deps Deps) *CodeSearchAdapter {
	minStars := cfg.MinStars
	if minStars <= 0 {
		minStars = 100
	}
	years := cfg.RecencyYears
	if years <= 0 {
		years = 3
	}
	return &CodeSearchAdapter{
		base:         newBase(types.SourceCodeSearch, cfg.SourceConfig, deps),
		token:        cfg.Token,
		minStars:     minStars,
		recencyYears: years,
	}
}

// codeTier is one step of the relaxation ladder.
type codeTier struct {
	name     string
	terms    string
	language string
	minStars int
}

// tiers returns the search ladder: the full query, a simplified query, a
// lower popularity threshold, and finally no language filter.
func (a *CodeSearchAdapter) tiers(q Query) []codeTier {
	full := strings.Join(significantTerms(q.Topic), " ")
	if full == "" {
		full = strings.TrimSpace(q.Topic)
	}
	short := simplify(q.Topic, 2)
	if short == "" {
		short = full
	}
	lower := a.minStars / 10
	if lower < 1 {
		lower = 1
	}
	return []codeTier{
		{name: "full", terms: full, language: q.Language, minStars: a.minStars},
		{name: "simplified", terms: short, language: q.Language, minStars: a.minStars},
		{name: "lower_stars", terms: short, language: q.Language, minStars: lower},
		{name: "any_language", terms: short, minStars: lower},
	}
}

// Fetch walks the tiers until one yields repositories passing the filter.
func (a *CodeSearchAdapter) Fetch(ctx context.Context, q Query) Result {
	if !a.enabled {
		return a.disabled()
	}
	count := q.Count
	if count <= 0 {
		count = 3
	}
	pushedAfter := a.now().AddDate(-a.recencyYears, 0, 0)

	var lastErr error
	for _, tier := range a.tiers(q) {
		if tier.name == "any_language" && q.Language == "" {
			continue
		}
		repos, err := a.search(ctx, tier, pushedAfter, count)
		if err != nil {
			if errors.Is(err, errQuota) || httputil.IsQuota(err) || ctx.Err() != nil {
				return a.fail(ctx, q, err)
			}
			a.log.Debug("code search tier failed", "tier", tier.name, "error", err)
			lastErr = err
			continue
		}
		if len(repos) == 0 {
			a.log.Debug("code search tier empty", "tier", tier.name)
			continue
		}
		a.log.Debug("code search tier matched", "tier", tier.name, "repositories", len(repos))
		return Result{Items: a.items(repos)}
	}
	if lastErr != nil {
		return a.fail(ctx, q, lastErr)
	}
	return a.empty(q, "no repository passed the popularity and recency filter")
}

func (a *CodeSearchAdapter) search(ctx context.Context, tier codeTier, pushedAfter time.Time, count int) ([]ghRepo, error) {
	parts := []string{tier.terms}
	if tier.language != "" {
		parts = append(parts, "language:"+strings.ToLower(tier.language))
	}
	parts = append(parts,
		"stars:>="+strconv.Itoa(tier.minStars),
		"pushed:>="+pushedAfter.Format("2006-01-02"),
	)
	params := url.Values{
		"q":        {strings.Join(parts, " ")},
		"sort":     {"stars"},
		"order":    {"desc"},
		"per_page": {strconv.Itoa(count * 2)},
	}

	header := http.Header{}
	header.Set("Accept", "application/vnd.github+json")
	header.Set("X-GitHub-Api-Version", "2022-11-28")
	if a.token != "" {
		header.Set("Authorization", "Bearer "+a.token)
	}

	var resp ghSearchResponse
	err := a.getJSON(ctx, githubAPIBase+"/search/repositories?"+params.Encode(), header, &resp)
	var se *httputil.StatusError
	if errors.As(err, &se) && se.StatusCode == http.StatusForbidden && strings.Contains(strings.ToLower(se.Body), "rate limit") {
		return nil, fmt.Errorf("%w: %s", errQuota, se.Body)
	}
	if err != nil {
		return nil, fmt.Errorf("GitHub search (%s): %w", tier.name, err)
	}

	// The API honors the qualifiers, but incomplete results and forks slip
	// through, so the filter is applied again here.
	var out []ghRepo
	for _, r := range resp.Items {
		if r.Fork || r.Archived || r.StargazersCount < tier.minStars || r.PushedAt.Before(pushedAfter) {
			continue
		}
		out = append(out, r)
		if len(out) == count {
			break
		}
	}
	return out, nil
}

func (a *CodeSearchAdapter) items(repos []ghRepo) []types.ResearchItem {
	items := make([]types.ResearchItem, 0, len(repos))
	for _, r := range repos {
		body := r.Description
		if len(r.Topics) > 0 {
			body += " Topics: " + strings.Join(r.Topics, ", ") + "."
		}
		if r.Language != "" {
			body += " Language: " + r.Language + "."
		}
		items = append(items, types.ResearchItem{
			SourceKind:      types.SourceCodeSearch,
			Title:           r.FullName,
			URL:             r.HTMLURL,
			BodyExcerpt:     excerpt(body, maxExcerpt),
			EngagementScore: float64(r.StargazersCount),
			RetrievedAt:     a.now().UTC(),
		})
	}
	return items
}

// GitHub search API JSON structures.
type ghSearchResponse struct {
	TotalCount        int      `json:"total_count"`
	IncompleteResults bool     `json:"incomplete_results"`
	Items             []ghRepo `json:"items"`
}

type ghRepo struct {
	FullName        string    `json:"full_name"`
	HTMLURL         string    `json:"html_url"`
	Description     string    `json:"description"`
	Language        string    `json:"language"`
	Topics          []string  `json:"topics"`
	StargazersCount int       `json:"stargazers_count"`
	PushedAt        time.Time `json:"pushed_at"`
	Fork            bool      `json:"fork"`
	Archived        bool      `json:"archived"`
}
