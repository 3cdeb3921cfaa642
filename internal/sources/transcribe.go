// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package sources

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/openai/openai-go"
	openaioption "github.com/openai/openai-go/option"
	"google.golang.org/api/option"

	"github.com/pdiddy/lesson-engine/internal/httputil"
	"github.com/pdiddy/lesson-engine/internal/logger"
	"github.com/pdiddy/lesson-engine/internal/ratelimit"
	"github.com/pdiddy/lesson-engine/pkg/types"
)

// ErrBudgetExhausted is returned when the daily transcription budget is spent.
var ErrBudgetExhausted = errors.New("transcription budget exhausted")

// Transcriber turns an audio clip into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error)
}

// AudioClip is a bounded excerpt of a video's audio track.
type AudioClip struct {
	Data     []byte
	MIMEType string
	Duration time.Duration
}

// AudioSource returns at most maxDuration of audio for a video.
type AudioSource interface {
	Audio(ctx context.Context, videoID string, maxDuration time.Duration) (AudioClip, error)
}

// HTTPAudioSource fetches clips from an audio-extraction service at
// {Endpoint}/{videoID}?max_seconds=N. The service reports the clip length in
// the X-Audio-Duration header (seconds); without it the full cap is charged.
type HTTPAudioSource struct {
	Endpoint string
	Client   *http.Client
}

// Audio implements AudioSource.
func (s *HTTPAudioSource) Audio(ctx context.Context, videoID string, maxDuration time.Duration) (AudioClip, error) {
	if s.Endpoint == "" {
		return AudioClip{}, fmt.Errorf("no audio endpoint configured")
	}
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	secs := int(maxDuration / time.Second)
	if secs < 1 {
		secs = 1
	}
	reqURL := strings.TrimRight(s.Endpoint, "/") + "/" + url.PathEscape(videoID) + "?max_seconds=" + strconv.Itoa(secs)

	body, header, err := httputil.Fetch(ctx, client, reqURL, nil)
	if err != nil {
		return AudioClip{}, fmt.Errorf("fetching audio for %s: %w", videoID, err)
	}
	if len(body) == 0 {
		return AudioClip{}, fmt.Errorf("empty audio for %s", videoID)
	}

	clip := AudioClip{Data: body, MIMEType: header.Get("Content-Type"), Duration: maxDuration}
	if d, err := strconv.ParseFloat(header.Get("X-Audio-Duration"), 64); err == nil && d > 0 {
		clip.Duration = time.Duration(d * float64(time.Second))
	}
	if clip.Duration > maxDuration {
		return AudioClip{}, fmt.Errorf("audio for %s is %s, over the %s cap", videoID, clip.Duration, maxDuration)
	}
	return clip, nil
}

// BudgetedTranscriber bounds the speech-to-text fallback: calls are paced by
// their own gate, each video contributes at most PerVideo of audio, and total
// audio per UTC day is capped by Daily.
type BudgetedTranscriber struct {
	backend  Transcriber
	audio    AudioSource
	gate     ratelimit.Gate
	perVideo time.Duration
	daily    time.Duration
	log      *logger.Logger
	now      func() time.Time

	mu   sync.Mutex
	day  string
	used time.Duration
}

// NewBudgetedTranscriber wraps backend with pacing and budgets. Zero caps
// default to one minute per video and thirty minutes per day.
func NewBudgetedTranscriber(backend Transcriber, audio AudioSource, gate ratelimit.Gate, perVideo, daily time.Duration, log *logger.Logger) *BudgetedTranscriber {
	if perVideo <= 0 {
		perVideo = time.Minute
	}
	if daily <= 0 {
		daily = 30 * time.Minute
	}
	if gate == nil {
		gate = ratelimit.New(0)
	}
	return &BudgetedTranscriber{
		backend:  backend,
		audio:    audio,
		gate:     gate,
		perVideo: perVideo,
		daily:    daily,
		log:      logger.OrNop(log).With("component", "transcriber"),
		now:      time.Now,
	}
}

// Close releases the backend's connection when it holds one (the Google
// Cloud Speech client does).
func (t *BudgetedTranscriber) Close() error {
	if c, ok := t.backend.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Remaining returns the audio budget left today.
func (t *BudgetedTranscriber) Remaining() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollover()
	return t.daily - t.used
}

// TranscribeVideo implements VideoTranscriber.
func (t *BudgetedTranscriber) TranscribeVideo(ctx context.Context, videoID string) (string, error) {
	limit, day, err := t.reserve()
	if err != nil {
		return "", err
	}
	charged := limit
	defer func() { t.refund(limit-charged, day) }()

	if err := t.gate.Acquire(ctx); err != nil {
		charged = 0
		return "", err
	}
	clip, err := t.audio.Audio(ctx, videoID, limit)
	if err != nil {
		charged = 0
		return "", err
	}
	charged = clip.Duration

	text, err := t.backend.Transcribe(ctx, clip.Data, clip.MIMEType)
	if err != nil {
		return "", fmt.Errorf("transcribing %s: %w", videoID, err)
	}
	t.log.Debug("video transcribed", "video", videoID, "audio", clip.Duration.String())
	return text, nil
}

// reserve claims up to perVideo from today's budget and returns the day
// it was charged to.
func (t *BudgetedTranscriber) reserve() (time.Duration, string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollover()
	left := t.daily - t.used
	if left <= 0 {
		return 0, t.day, ErrBudgetExhausted
	}
	limit := t.perVideo
	if left < limit {
		limit = left
	}
	t.used += limit
	return limit, t.day, nil
}

// refund returns unused audio to the day it was reserved from. A refund
// after the UTC rollover is dropped; the new day starts full.
func (t *BudgetedTranscriber) refund(d time.Duration, day string) {
	if d <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollover()
	if t.day != day {
		return
	}
	t.used -= d
	if t.used < 0 {
		t.used = 0
	}
}

// rollover resets the budget at the UTC day boundary. Callers hold mu.
func (t *BudgetedTranscriber) rollover() {
	today := t.now().UTC().Format("2006-01-02")
	if today != t.day {
		t.day = today
		t.used = 0
	}
}

// WhisperTranscriber calls an OpenAI-compatible audio transcription
// endpoint (OpenAI, Groq).
type WhisperTranscriber struct {
	client   openai.Client
	model    string
	language string
}

// NewWhisperTranscriber builds a transcriber for the endpoint at baseURL, or
// OpenAI when baseURL is empty.
func NewWhisperTranscriber(apiKey, baseURL, model, language string) (*WhisperTranscriber, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("whisper transcriber: API key is required")
	}
	opts := []openaioption.RequestOption{
		openaioption.WithAPIKey(apiKey),
		openaioption.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, openaioption.WithBaseURL(baseURL))
	}
	if model == "" {
		model = string(openai.AudioModelWhisper1)
	}
	return &WhisperTranscriber{client: openai.NewClient(opts...), model: model, language: language}, nil
}

// Transcribe implements Transcriber.
func (w *WhisperTranscriber) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	params := openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(audio), "clip"+audioExt(mimeType), mimeType),
		Model: openai.AudioModel(w.model),
	}
	if w.language != "" {
		params.Language = openai.String(w.language)
	}
	resp, err := w.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("whisper transcription: %w", err)
	}
	return resp.Text, nil
}

// SpeechTranscriber calls Google Cloud Speech-to-Text synchronous
// recognition, which accepts clips up to one minute.
type SpeechTranscriber struct {
	client       *speech.Client
	languageCode string
}

// NewSpeechTranscriber dials the Speech API with application default
// credentials unless opts say otherwise.
func NewSpeechTranscriber(ctx context.Context, languageCode string, opts ...option.ClientOption) (*SpeechTranscriber, error) {
	c, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("speech client: %w", err)
	}
	if languageCode == "" {
		languageCode = "en-US"
	}
	return &SpeechTranscriber{client: c, languageCode: languageCode}, nil
}

// Close releases the gRPC connection.
func (s *SpeechTranscriber) Close() error {
	return s.client.Close()
}

// Transcribe implements Transcriber.
func (s *SpeechTranscriber) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	req := &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   speechEncoding(mimeType),
			LanguageCode:               s.languageCode,
			EnableAutomaticPunctuation: true,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audio},
		},
	}
	resp, err := s.client.Recognize(ctx, req)
	if err != nil {
		return "", fmt.Errorf("speech recognize: %w", err)
	}
	var parts []string
	for _, r := range resp.GetResults() {
		if alts := r.GetAlternatives(); len(alts) > 0 {
			parts = append(parts, strings.TrimSpace(alts[0].GetTranscript()))
		}
	}
	return strings.Join(parts, " "), nil
}

// speechEncoding maps a MIME type to the Speech API encoding. Unknown types
// are left unspecified so the service sniffs WAV and FLAC headers itself.
func speechEncoding(mimeType string) speechpb.RecognitionConfig_AudioEncoding {
	m := strings.ToLower(mimeType)
	switch {
	case strings.Contains(m, "wav"):
		return speechpb.RecognitionConfig_LINEAR16
	case strings.Contains(m, "flac"):
		return speechpb.RecognitionConfig_FLAC
	case strings.Contains(m, "mpeg"), strings.Contains(m, "mp3"):
		return speechpb.RecognitionConfig_MP3
	case strings.Contains(m, "ogg"), strings.Contains(m, "opus"):
		return speechpb.RecognitionConfig_OGG_OPUS
	case strings.Contains(m, "webm"):
		return speechpb.RecognitionConfig_WEBM_OPUS
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED
	}
}

func audioExt(mimeType string) string {
	m := strings.ToLower(mimeType)
	switch {
	case strings.Contains(m, "wav"):
		return ".wav"
	case strings.Contains(m, "flac"):
		return ".flac"
	case strings.Contains(m, "ogg"), strings.Contains(m, "opus"):
		return ".ogg"
	case strings.Contains(m, "webm"):
		return ".webm"
	case strings.Contains(m, "mp4"), strings.Contains(m, "m4a"):
		return ".m4a"
	default:
		return ".mp3"
	}
}

// NewTranscriber builds the configured speech-to-text fallback. It returns
// a nil *BudgetedTranscriber when transcription is off; callers must not
// store that in a VideoTranscriber interface.
func NewTranscriber(ctx context.Context, cfg types.TranscriptionConfig, client *http.Client, gate ratelimit.Gate, log *logger.Logger) (*BudgetedTranscriber, error) {
	var backend Transcriber
	switch cfg.Backend {
	case types.TranscriptionOff:
		return nil, nil
	case types.TranscriptionWhisper:
		w, err := NewWhisperTranscriber(cfg.APIKey, cfg.BaseURL, cfg.Model, langPrefix(cfg.LanguageCode))
		if err != nil {
			return nil, err
		}
		backend = w
	case types.TranscriptionGCP:
		s, err := NewSpeechTranscriber(ctx, cfg.LanguageCode)
		if err != nil {
			return nil, err
		}
		backend = s
	default:
		return nil, fmt.Errorf("unknown transcription backend %q", cfg.Backend)
	}
	audio := &HTTPAudioSource{Endpoint: cfg.AudioEndpoint, Client: client}
	return NewBudgetedTranscriber(backend, audio, gate, cfg.MaxAudioPerVideo, cfg.DailyBudget, log), nil
}

// langPrefix turns "en-US" into the ISO-639-1 "en" Whisper expects.
func langPrefix(code string) string {
	if code == "" {
		return ""
	}
	return strings.ToLower(strings.SplitN(code, "-", 2)[0])
}
