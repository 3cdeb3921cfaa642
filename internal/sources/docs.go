// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package sources

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/pdiddy/lesson-engine/pkg/types"
)

// Endpoints are package vars so tests can substitute httptest servers.
var (
	mdnSearchBase  = "https://developer.mozilla.org/api/v1/search"
	mdnSiteBase    = "https://developer.mozilla.org"
	devdocsBase    = "https://devdocs.io"
	devdocsDocBase = "https://devdocs.io"
)

// devdocsSlugs maps language hints to the DevDocs mirror of the official
// documentation for that language. Web languages are served by MDN.
var devdocsSlugs = map[string]string{
	"python":     "python~3.12",
	"go":         "go",
	"golang":     "go",
	"rust":       "rust",
	"java":       "openjdk~21",
	"c":          "c",
	"c++":        "cpp",
	"cpp":        "cpp",
	"ruby":       "ruby~3.3",
	"php":        "php",
	"kotlin":     "kotlin~1.9",
	"typescript": "typescript",
	"postgresql": "postgresql~16",
	"sql":        "sqlite",
}

// DocsAdapter finds the official documentation page for a topic. When the
// language hint names a language with a DevDocs index, the index entry that
// best matches the topic wins; otherwise MDN site search is used.
type DocsAdapter struct {
	base
}

// NewDocsAdapter returns the official documentation adapter.
func NewDocsAdapter(cfg types.DocsConfig, deps Deps) *DocsAdapter {
	return &DocsAdapter{base: newBase(types.SourceOfficialDocs, cfg.SourceConfig, deps)}
}

// Fetch returns at most one documentation item.
func (a *DocsAdapter) Fetch(ctx context.Context, q Query) Result {
	if !a.enabled {
		return a.disabled()
	}

	if slug, ok := devdocsSlugs[strings.ToLower(strings.TrimSpace(q.Language))]; ok {
		item, err := a.fetchDevDocs(ctx, slug, q.Topic)
		if err != nil {
			if ctx.Err() != nil {
				return a.fail(ctx, q, err)
			}
			a.log.Debug("devdocs lookup failed, falling back to MDN", "slug", slug, "error", err)
		} else if item != nil {
			return Result{Items: []types.ResearchItem{*item}}
		}
	}

	item, err := a.fetchMDN(ctx, q.Topic)
	if err != nil {
		return a.fail(ctx, q, err)
	}
	if item == nil {
		return a.empty(q, "no documentation page matched")
	}
	return Result{Items: []types.ResearchItem{*item}}
}

func (a *DocsAdapter) fetchMDN(ctx context.Context, topic string) (*types.ResearchItem, error) {
	params := url.Values{
		"q":      {topic},
		"locale": {"en-US"},
		"size":   {"5"},
	}
	var resp mdnResponse
	if err := a.getJSON(ctx, mdnSearchBase+"?"+params.Encode(), nil, &resp); err != nil {
		return nil, fmt.Errorf("MDN search: %w", err)
	}

	for _, d := range resp.Documents {
		summary := stripHTML(d.Summary)
		if d.Title == "" || summary == "" || d.MDNURL == "" {
			continue
		}
		return &types.ResearchItem{
			SourceKind:      types.SourceOfficialDocs,
			Title:           d.Title,
			URL:             mdnSiteBase + d.MDNURL,
			BodyExcerpt:     excerpt(summary, maxExcerpt),
			EngagementScore: d.Popularity * 1000,
			RetrievedAt:     a.now().UTC(),
		}, nil
	}
	return nil, nil
}

// fetchDevDocs scores every index entry by topic relevance and returns the
// best entry, or nil when none shares a term with the topic.
func (a *DocsAdapter) fetchDevDocs(ctx context.Context, slug, topic string) (*types.ResearchItem, error) {
	var idx devdocsIndex
	if err := a.getJSON(ctx, fmt.Sprintf("%s/docs/%s/index.json", devdocsBase, slug), nil, &idx); err != nil {
		return nil, fmt.Errorf("DevDocs index %s: %w", slug, err)
	}

	var best *devdocsEntry
	bestScore := 0.0
	for i := range idx.Entries {
		e := &idx.Entries[i]
		score := relevance(topic, e.Name+" "+e.Type)
		// Prefer shorter names among equal scores: they are section
		// headings rather than individual members.
		if score > bestScore || (score == bestScore && score > 0 && best != nil && len(e.Name) < len(best.Name)) {
			best, bestScore = e, score
		}
	}
	if best == nil || bestScore < 0.5 {
		return nil, nil
	}

	return &types.ResearchItem{
		SourceKind:      types.SourceOfficialDocs,
		Title:           best.Name,
		URL:             fmt.Sprintf("%s/%s/%s", devdocsDocBase, slug, best.Path),
		BodyExcerpt:     excerpt(fmt.Sprintf("%s (%s) in the official %s documentation.", best.Name, best.Type, slug), maxExcerpt),
		EngagementScore: bestScore,
		RetrievedAt:     a.now().UTC(),
	}, nil
}

// MDN search API JSON structures.
type mdnResponse struct {
	Documents []mdnDocument `json:"documents"`
}

type mdnDocument struct {
	MDNURL     string  `json:"mdn_url"`
	Title      string  `json:"title"`
	Summary    string  `json:"summary"`
	Popularity float64 `json:"popularity"`
	Score      float64 `json:"score"`
}

// DevDocs index JSON structures.
type devdocsIndex struct {
	Entries []devdocsEntry `json:"entries"`
}

type devdocsEntry struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Type string `json:"type"`
}
