// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package sources

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"github.com/pdiddy/lesson-engine/pkg/types"
)

// timedTextBase serves native caption tracks. Declared as a var so tests can
// substitute an httptest server.
var timedTextBase = "https://video.google.com/timedtext"

// maxTranscript bounds the transcript kept on a video item.
const maxTranscript = 6000

// VideoTranscriber produces a transcript for a video that has no captions.
type VideoTranscriber interface {
	TranscribeVideo(ctx context.Context, videoID string) (string, error)
}

// NewYouTubeService builds a YouTube Data API client authenticated with an
// API key. Extra options (endpoint, HTTP client) are appended.
func NewYouTubeService(ctx context.Context, apiKey string, opts ...option.ClientOption) (*youtube.Service, error) {
	all := append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	svc, err := youtube.NewService(ctx, all...)
	if err != nil {
		return nil, fmt.Errorf("youtube client: %w", err)
	}
	return svc, nil
}

// VideoAdapter ranks YouTube search hits by a weighted score and returns the
// top video with a transcript from captions or, failing that, from the
// speech-to-text fallback.
type VideoAdapter struct {
	base
	svc         *youtube.Service
	transcriber VideoTranscriber
	candidates  int64
	captionLang string
	weights     types.VideoWeights
}

// NewVideoAdapter returns the video platform adapter. A nil svc disables the
// adapter; a nil transcriber disables the fallback.
func NewVideoAdapter(cfg types.VideoConfig, deps Deps, svc *youtube.Service, transcriber VideoTranscriber) *VideoAdapter {
	sc := cfg.SourceConfig
	if svc == nil {
		sc.Enabled = false
	}
	candidates := int64(cfg.MaxCandidates)
	if candidates <= 0 {
		candidates = 8
	}
	lang := cfg.CaptionLanguage
	if lang == "" {
		lang = "en"
	}
	w := cfg.Weights
	if w.Views+w.LikeRatio+w.Authority+w.Relevance+w.Recency <= 0 {
		w = DefaultVideoWeights()
	}
	return &VideoAdapter{
		base:        newBase(types.SourceVideoPlatform, sc, deps),
		svc:         svc,
		transcriber: transcriber,
		candidates:  candidates,
		captionLang: lang,
		weights:     w,
	}
}

// DefaultVideoWeights favors views and relevance over channel size.
func DefaultVideoWeights() types.VideoWeights {
	return types.VideoWeights{Views: 0.30, LikeRatio: 0.20, Authority: 0.15, Relevance: 0.25, Recency: 0.10}
}

// videoCandidate carries the ranking inputs for one search hit.
type videoCandidate struct {
	ID          string
	Title       string
	Description string
	Tags        []string
	ChannelID   string
	PublishedAt time.Time
	Views       uint64
	Likes       uint64
	Subscribers uint64
	Score       float64
}

// Fetch returns at most one video item.
func (a *VideoAdapter) Fetch(ctx context.Context, q Query) Result {
	if !a.enabled {
		return a.disabled()
	}

	cands, err := a.candidatesFor(ctx, q)
	if err != nil {
		return a.fail(ctx, q, err)
	}
	if len(cands) == 0 {
		return a.empty(q, "no video candidates")
	}

	now := a.now()
	for i := range cands {
		cands[i].Score = scoreVideo(a.weights, q.Topic, cands[i], now)
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].Score > cands[j].Score })
	top := cands[0]

	item := types.ResearchItem{
		SourceKind:      types.SourceVideoPlatform,
		Title:           top.Title,
		URL:             "https://www.youtube.com/watch?v=" + top.ID,
		BodyExcerpt:     excerpt(top.Description, maxExcerpt),
		EngagementScore: float64(top.Views),
		RetrievedAt:     now.UTC(),
	}
	item.Transcript, item.TranscriptSource = a.transcript(ctx, top.ID)
	return Result{Items: []types.ResearchItem{item}}
}

// candidatesFor runs search, then loads statistics for videos and channels.
func (a *VideoAdapter) candidatesFor(ctx context.Context, q Query) ([]videoCandidate, error) {
	query := q.Topic
	if q.Language != "" {
		query += " " + q.Language
	}
	query += " tutorial"

	if err := a.gate.Acquire(ctx); err != nil {
		return nil, err
	}
	search, err := a.svc.Search.List([]string{"id", "snippet"}).
		Q(query).
		Type("video").
		MaxResults(a.candidates).
		RelevanceLanguage(a.captionLang).
		Context(ctx).
		Do()
	if err != nil {
		return nil, a.apiError("search", err)
	}

	var ids []string
	for _, r := range search.Items {
		if r.Id != nil && r.Id.VideoId != "" {
			ids = append(ids, r.Id.VideoId)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	if err := a.gate.Acquire(ctx); err != nil {
		return nil, err
	}
	videos, err := a.svc.Videos.List([]string{"snippet", "statistics"}).Id(ids...).Context(ctx).Do()
	if err != nil {
		return nil, a.apiError("videos", err)
	}

	cands := make([]videoCandidate, 0, len(videos.Items))
	channelSet := make(map[string]bool)
	for _, v := range videos.Items {
		if v.Snippet == nil {
			continue
		}
		c := videoCandidate{
			ID:          v.Id,
			Title:       v.Snippet.Title,
			Description: v.Snippet.Description,
			Tags:        v.Snippet.Tags,
			ChannelID:   v.Snippet.ChannelId,
		}
		if t, err := time.Parse(time.RFC3339, v.Snippet.PublishedAt); err == nil {
			c.PublishedAt = t
		}
		if v.Statistics != nil {
			c.Views = v.Statistics.ViewCount
			c.Likes = v.Statistics.LikeCount
		}
		cands = append(cands, c)
		if c.ChannelID != "" {
			channelSet[c.ChannelID] = true
		}
	}
	if len(channelSet) == 0 {
		return cands, nil
	}

	channelIDs := make([]string, 0, len(channelSet))
	for id := range channelSet {
		channelIDs = append(channelIDs, id)
	}
	sort.Strings(channelIDs)

	if err := a.gate.Acquire(ctx); err != nil {
		return nil, err
	}
	channels, err := a.svc.Channels.List([]string{"statistics"}).Id(channelIDs...).Context(ctx).Do()
	if err != nil {
		wrapped := a.apiError("channels", err)
		if errors.Is(wrapped, errQuota) || ctx.Err() != nil {
			return nil, wrapped
		}
		// Authority is one signal of five; rank without it.
		a.log.Debug("channel statistics unavailable", "error", err)
		return cands, nil
	}
	subs := make(map[string]uint64, len(channels.Items))
	for _, ch := range channels.Items {
		if ch.Statistics != nil && !ch.Statistics.HiddenSubscriberCount {
			subs[ch.Id] = ch.Statistics.SubscriberCount
		}
	}
	for i := range cands {
		cands[i].Subscribers = subs[cands[i].ChannelID]
	}
	return cands, nil
}

// apiError maps quota failures from the Data API onto errQuota.
func (a *VideoAdapter) apiError(call string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		if gerr.Code == http.StatusTooManyRequests {
			return fmt.Errorf("%w: youtube %s: %v", errQuota, call, err)
		}
		for _, item := range gerr.Errors {
			switch item.Reason {
			case "quotaExceeded", "rateLimitExceeded", "dailyLimitExceeded":
				return fmt.Errorf("%w: youtube %s: %v", errQuota, call, err)
			}
		}
	}
	return fmt.Errorf("youtube %s: %w", call, err)
}

// scoreVideo combines normalized signals into a score in [0, 1].
func scoreVideo(w types.VideoWeights, topic string, c videoCandidate, now time.Time) float64 {
	total := w.Views + w.LikeRatio + w.Authority + w.Relevance + w.Recency
	if total <= 0 {
		return 0
	}

	views := math.Min(1, math.Log10(1+float64(c.Views))/7)
	likeRatio := 0.0
	if c.Views > 0 {
		// A 5% like ratio is already exceptional.
		likeRatio = math.Min(1, float64(c.Likes)/float64(c.Views)/0.05)
	}
	authority := math.Min(1, math.Log10(1+float64(c.Subscribers))/7)
	rel := relevance(topic, c.Title+" "+c.Description+" "+strings.Join(c.Tags, " "))
	recency := 0.0
	if !c.PublishedAt.IsZero() {
		ageYears := math.Max(0, now.Sub(c.PublishedAt).Hours()/(24*365))
		recency = 1 / (1 + ageYears)
	}

	return (w.Views*views + w.LikeRatio*likeRatio + w.Authority*authority + w.Relevance*rel + w.Recency*recency) / total
}

// transcript prefers native captions and falls back to speech-to-text. A
// failure leaves the item without a transcript.
func (a *VideoAdapter) transcript(ctx context.Context, videoID string) (string, types.TranscriptSource) {
	text, err := a.captions(ctx, videoID)
	if err != nil {
		a.log.Debug("caption lookup failed", "video", videoID, "error", err)
	}
	if text != "" {
		return excerpt(text, maxTranscript), types.TranscriptCaptions
	}
	if a.transcriber == nil {
		return "", types.TranscriptNone
	}

	text, err = a.transcriber.TranscribeVideo(ctx, videoID)
	if err != nil {
		a.log.Info("speech-to-text fallback unavailable", "video", videoID, "error", err)
		return "", types.TranscriptNone
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", types.TranscriptNone
	}
	return excerpt(text, maxTranscript), types.TranscriptSpeech
}

// captions fetches the native caption track. An empty body means the video
// has no track in the requested language.
func (a *VideoAdapter) captions(ctx context.Context, videoID string) (string, error) {
	params := url.Values{"lang": {a.captionLang}, "v": {videoID}}
	body, err := a.get(ctx, timedTextBase+"?"+params.Encode())
	if err != nil {
		return "", err
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return "", nil
	}
	var tt timedText
	if err := xml.Unmarshal(body, &tt); err != nil {
		return "", fmt.Errorf("parsing captions: %w", err)
	}
	parts := make([]string, 0, len(tt.Lines))
	for _, l := range tt.Lines {
		if s := stripHTML(l.Text); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " "), nil
}

// Caption track XML structure.
type timedText struct {
	Lines []timedTextLine `xml:"text"`
}

type timedTextLine struct {
	Start string `xml:"start,attr"`
	Dur   string `xml:"dur,attr"`
	Text  string `xml:",chardata"`
}
