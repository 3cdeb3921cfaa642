// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package sources

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/pdiddy/lesson-engine/internal/httputil"
	"github.com/pdiddy/lesson-engine/pkg/types"
)

// stackExchangeBase is the StackExchange API root. Declared as a var so tests
// can substitute an httptest server.
var stackExchangeBase = "https://api.stackexchange.com/2.3"

// QAAdapter returns accepted, positively scored answers from a StackExchange
// site. Items are ordered by answer score, highest first.
type QAAdapter struct {
	base
	apiKey string
	site   string
}

// NewQAAdapter returns the Q&A platform adapter.
func NewQAAdapter(cfg types.QAConfig, deps Deps) *QAAdapter {
	site := cfg.Site
	if site == "" {
		site = "stackoverflow"
	}
	return &QAAdapter{
		base:   newBase(types.SourceQAPlatform, cfg.SourceConfig, deps),
		apiKey: cfg.APIKey,
		site:   site,
	}
}

// Fetch returns up to q.Count accepted answers.
func (a *QAAdapter) Fetch(ctx context.Context, q Query) Result {
	if !a.enabled {
		return a.disabled()
	}
	count := q.Count
	if count <= 0 {
		count = 3
	}

	questions, err := a.searchQuestions(ctx, q.Topic, q.Language, count)
	if err == nil && len(questions) == 0 && q.Language != "" {
		// Tags are exact-match; an unknown tag hides otherwise good hits.
		questions, err = a.searchQuestions(ctx, q.Topic, "", count)
	}
	if err != nil {
		return a.fail(ctx, q, err)
	}
	if len(questions) == 0 {
		return a.empty(q, "no question with an accepted answer")
	}

	answers, err := a.acceptedAnswers(ctx, questions)
	if err != nil {
		return a.fail(ctx, q, err)
	}
	if len(answers) == 0 {
		return a.empty(q, "accepted answers did not pass the score filter")
	}

	sort.SliceStable(answers, func(i, j int) bool { return answers[i].Score > answers[j].Score })
	if len(answers) > count {
		answers = answers[:count]
	}

	titles := make(map[int]seQuestion, len(questions))
	for _, qu := range questions {
		titles[qu.QuestionID] = qu
	}

	items := make([]types.ResearchItem, 0, len(answers))
	for _, ans := range answers {
		qu := titles[ans.QuestionID]
		link := qu.Link
		if link == "" {
			link = fmt.Sprintf("https://%s.com/a/%d", a.site, ans.AnswerID)
		}
		items = append(items, types.ResearchItem{
			SourceKind:      types.SourceQAPlatform,
			Title:           stripHTML(qu.Title),
			URL:             link,
			BodyExcerpt:     excerpt(stripHTML(ans.Body), maxExcerpt),
			EngagementScore: float64(ans.Score),
			RetrievedAt:     a.now().UTC(),
		})
	}
	return Result{Items: items}
}

// searchQuestions finds positively scored questions with an accepted answer.
func (a *QAAdapter) searchQuestions(ctx context.Context, topic, tag string, count int) ([]seQuestion, error) {
	params := url.Values{
		"order":    {"desc"},
		"sort":     {"votes"},
		"q":        {topic},
		"accepted": {"True"},
		"site":     {a.site},
		"pagesize": {strconv.Itoa(count * 2)},
	}
	if tag != "" {
		params.Set("tagged", strings.ToLower(tag))
	}
	if a.apiKey != "" {
		params.Set("key", a.apiKey)
	}

	var resp seQuestionResponse
	if err := a.call(ctx, stackExchangeBase+"/search/advanced?"+params.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("StackExchange search: %w", err)
	}

	var out []seQuestion
	for _, qu := range resp.Items {
		if qu.Score > 0 && qu.AcceptedAnswerID != 0 {
			out = append(out, qu)
		}
	}
	return out, nil
}

// acceptedAnswers loads the accepted answer of each question and keeps those
// with a positive score.
func (a *QAAdapter) acceptedAnswers(ctx context.Context, questions []seQuestion) ([]seAnswer, error) {
	ids := make([]string, 0, len(questions))
	for _, qu := range questions {
		ids = append(ids, strconv.Itoa(qu.AcceptedAnswerID))
	}
	params := url.Values{
		"order":  {"desc"},
		"sort":   {"votes"},
		"site":   {a.site},
		"filter": {"withbody"},
	}
	if a.apiKey != "" {
		params.Set("key", a.apiKey)
	}

	var resp seAnswerResponse
	reqURL := fmt.Sprintf("%s/answers/%s?%s", stackExchangeBase, strings.Join(ids, ";"), params.Encode())
	if err := a.call(ctx, reqURL, &resp); err != nil {
		return nil, fmt.Errorf("StackExchange answers: %w", err)
	}

	var out []seAnswer
	for _, ans := range resp.Items {
		if ans.IsAccepted && ans.Score > 0 {
			out = append(out, ans)
		}
	}
	return out, nil
}

// seResponse is a decoded StackExchange body: the common wrapper plus items.
type seResponse interface {
	wrapper() *seWrapper
	itemCount() int
}

// call decodes a StackExchange response and turns the wrapper's quota and
// throttle signals into errQuota. A body that spends the last quota unit
// still returns its items; the source goes into cooldown for later calls.
func (a *QAAdapter) call(ctx context.Context, reqURL string, out seResponse) error {
	err := a.getJSON(ctx, reqURL, nil, out)
	var se *httputil.StatusError
	if errors.As(err, &se) && se.StatusCode == http.StatusBadRequest && strings.Contains(se.Body, "throttle") {
		return fmt.Errorf("%w: %s", errQuota, se.Body)
	}
	if err != nil {
		return err
	}
	w := out.wrapper()
	if w.ErrorID != 0 {
		return fmt.Errorf("StackExchange error %d %s: %s", w.ErrorID, w.ErrorName, w.ErrorMessage)
	}
	if w.Backoff > 0 {
		a.log.Debug("StackExchange requested backoff", "seconds", w.Backoff)
	}
	if w.QuotaMax > 0 && w.QuotaRemaining == 0 {
		a.markQuota(0)
		if out.itemCount() == 0 {
			return fmt.Errorf("%w: quota_remaining is 0 of %d", errQuota, w.QuotaMax)
		}
		a.log.Warn("StackExchange quota spent, cooling down after this response", "quota_max", w.QuotaMax)
	}
	return nil
}

// StackExchange API JSON structures.
type seWrapper struct {
	QuotaMax       int    `json:"quota_max"`
	QuotaRemaining int    `json:"quota_remaining"`
	Backoff        int    `json:"backoff"`
	ErrorID        int    `json:"error_id"`
	ErrorName      string `json:"error_name"`
	ErrorMessage   string `json:"error_message"`
}

func (w *seWrapper) wrapper() *seWrapper { return w }

type seQuestionResponse struct {
	seWrapper
	Items []seQuestion `json:"items"`
}

func (r *seQuestionResponse) itemCount() int { return len(r.Items) }

type seQuestion struct {
	QuestionID       int    `json:"question_id"`
	Title            string `json:"title"`
	Link             string `json:"link"`
	Score            int    `json:"score"`
	AcceptedAnswerID int    `json:"accepted_answer_id"`
	IsAnswered       bool   `json:"is_answered"`
}

type seAnswerResponse struct {
	seWrapper
	Items []seAnswer `json:"items"`
}

func (r *seAnswerResponse) itemCount() int { return len(r.Items) }

type seAnswer struct {
	AnswerID   int    `json:"answer_id"`
	QuestionID int    `json:"question_id"`
	Score      int    `json:"score"`
	IsAccepted bool   `json:"is_accepted"`
	Body       string `json:"body"`
}
