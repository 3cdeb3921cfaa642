// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package sources

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/lesson-engine/internal/ratelimit"
	"github.com/pdiddy/lesson-engine/pkg/types"
)

type fakeBackend struct {
	calls int
	mime  string
	err   error
}

func (f *fakeBackend) Transcribe(_ context.Context, audio []byte, mimeType string) (string, error) {
	f.calls++
	f.mime = mimeType
	if f.err != nil {
		return "", f.err
	}
	return fmt.Sprintf("%d bytes", len(audio)), nil
}

type fakeAudio struct {
	limits []time.Duration
	clip   time.Duration
	err    error
}

func (f *fakeAudio) Audio(_ context.Context, _ string, maxDuration time.Duration) (AudioClip, error) {
	f.limits = append(f.limits, maxDuration)
	if f.err != nil {
		return AudioClip{}, f.err
	}
	d := f.clip
	if d == 0 || d > maxDuration {
		d = maxDuration
	}
	return AudioClip{Data: []byte("abcd"), MIMEType: "audio/mpeg", Duration: d}, nil
}

func TestBudgetedTranscriberPerVideoCap(t *testing.T) {
	backend := &fakeBackend{}
	audio := &fakeAudio{}
	bt := NewBudgetedTranscriber(backend, audio, ratelimit.New(0), 0, 0, nil)

	text, err := bt.TranscribeVideo(context.Background(), "v1")
	require.NoError(t, err)
	assert.Equal(t, "4 bytes", text)
	assert.Equal(t, "audio/mpeg", backend.mime)
	assert.Equal(t, []time.Duration{time.Minute}, audio.limits)
	assert.Equal(t, 29*time.Minute, bt.Remaining())
}

func TestBudgetedTranscriberDailyBudget(t *testing.T) {
	backend := &fakeBackend{}
	audio := &fakeAudio{}
	bt := NewBudgetedTranscriber(backend, audio, nil, time.Minute, 90*time.Second, nil)
	day := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	bt.now = func() time.Time { return day }

	_, err := bt.TranscribeVideo(context.Background(), "v1")
	require.NoError(t, err)
	_, err = bt.TranscribeVideo(context.Background(), "v2")
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{time.Minute, 30 * time.Second}, audio.limits, "the last clip is trimmed to what is left")

	_, err = bt.TranscribeVideo(context.Background(), "v3")
	assert.ErrorIs(t, err, ErrBudgetExhausted)
	assert.Equal(t, 2, backend.calls)

	day = day.Add(24 * time.Hour)
	assert.Equal(t, 90*time.Second, bt.Remaining())
	_, err = bt.TranscribeVideo(context.Background(), "v3")
	assert.NoError(t, err)
}

func TestBudgetedTranscriberChargesActualAudio(t *testing.T) {
	audio := &fakeAudio{clip: 20 * time.Second}
	bt := NewBudgetedTranscriber(&fakeBackend{}, audio, nil, time.Minute, 10*time.Minute, nil)

	_, err := bt.TranscribeVideo(context.Background(), "short")
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute-20*time.Second, bt.Remaining())
}

func TestBudgetedTranscriberRefundsFailedFetch(t *testing.T) {
	backend := &fakeBackend{}
	audio := &fakeAudio{err: errors.New("extractor down")}
	bt := NewBudgetedTranscriber(backend, audio, nil, time.Minute, 10*time.Minute, nil)

	_, err := bt.TranscribeVideo(context.Background(), "v1")
	require.Error(t, err)
	assert.Equal(t, 10*time.Minute, bt.Remaining())
	assert.Zero(t, backend.calls)
}

func TestBudgetedTranscriberBackendFailureStillCharges(t *testing.T) {
	backend := &fakeBackend{err: errors.New("503")}
	bt := NewBudgetedTranscriber(backend, &fakeAudio{}, nil, time.Minute, 10*time.Minute, nil)

	_, err := bt.TranscribeVideo(context.Background(), "v1")
	require.Error(t, err)
	assert.Equal(t, 9*time.Minute, bt.Remaining(), "audio already sent counts against the budget")
}

func TestHTTPAudioSource(t *testing.T) {
	ts := jsonServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/audio/abc123", r.URL.Path)
		assert.Equal(t, "60", r.URL.Query().Get("max_seconds"))
		w.Header().Set("Content-Type", "audio/ogg")
		w.Header().Set("X-Audio-Duration", "42.5")
		fmt.Fprint(w, "OggS....")
	})

	src := &HTTPAudioSource{Endpoint: ts.URL + "/audio/", Client: ts.Client()}
	clip, err := src.Audio(context.Background(), "abc123", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "audio/ogg", clip.MIMEType)
	assert.Equal(t, 42500*time.Millisecond, clip.Duration)
	assert.Equal(t, []byte("OggS...."), clip.Data)
}

func TestHTTPAudioSourceRejectsOverlongClip(t *testing.T) {
	ts := jsonServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Audio-Duration", "300")
		fmt.Fprint(w, "data")
	})

	src := &HTTPAudioSource{Endpoint: ts.URL, Client: ts.Client()}
	_, err := src.Audio(context.Background(), "abc", time.Minute)
	assert.ErrorContains(t, err, "over the 1m0s cap")
}

func TestNewTranscriberOff(t *testing.T) {
	bt, err := NewTranscriber(context.Background(), types.TranscriptionConfig{}, nil, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, bt)

	_, err = NewTranscriber(context.Background(), types.TranscriptionConfig{Backend: "morse"}, nil, nil, nil)
	assert.Error(t, err)

	_, err = NewTranscriber(context.Background(), types.TranscriptionConfig{Backend: types.TranscriptionWhisper}, nil, nil, nil)
	assert.ErrorContains(t, err, "API key is required")
}

func TestSpeechEncodingAndExt(t *testing.T) {
	assert.Equal(t, ".ogg", audioExt("audio/ogg; codecs=opus"))
	assert.Equal(t, ".mp3", audioExt(""))
	assert.Equal(t, "en", langPrefix("en-US"))
	assert.Equal(t, "", langPrefix(""))
	assert.NotEqual(t, speechEncoding("audio/flac"), speechEncoding("audio/wav"))
}

// audioFunc adapts a function to AudioSource.
type audioFunc func(ctx context.Context, videoID string, maxDuration time.Duration) (AudioClip, error)

func (f audioFunc) Audio(ctx context.Context, videoID string, maxDuration time.Duration) (AudioClip, error) {
	return f(ctx, videoID, maxDuration)
}

func TestBudgetedTranscriberRefundAfterRollover(t *testing.T) {
	day := time.Date(2026, 5, 4, 23, 59, 50, 0, time.UTC)
	var bt *BudgetedTranscriber
	audio := audioFunc(func(ctx context.Context, videoID string, maxDuration time.Duration) (AudioClip, error) {
		if videoID != "v1" {
			return AudioClip{Data: []byte("abcd"), MIMEType: "audio/mpeg", Duration: maxDuration}, nil
		}
		// v1 straddles midnight; v2 is charged to the new day meanwhile.
		day = day.Add(20 * time.Second)
		if _, err := bt.TranscribeVideo(ctx, "v2"); err != nil {
			return AudioClip{}, err
		}
		return AudioClip{}, errors.New("audio endpoint down")
	})
	bt = NewBudgetedTranscriber(&fakeBackend{}, audio, nil, time.Minute, 10*time.Minute, nil)
	bt.now = func() time.Time { return day }

	_, err := bt.TranscribeVideo(context.Background(), "v1")
	require.Error(t, err)
	assert.Equal(t, 9*time.Minute, bt.Remaining(), "a refund from yesterday must not credit today")
}

func TestBudgetedTranscriberRefundSameDay(t *testing.T) {
	audio := &fakeAudio{err: errors.New("audio endpoint down")}
	bt := NewBudgetedTranscriber(&fakeBackend{}, audio, nil, time.Minute, 10*time.Minute, nil)

	_, err := bt.TranscribeVideo(context.Background(), "v1")
	require.Error(t, err)
	assert.Equal(t, 10*time.Minute, bt.Remaining())
}

type closingBackend struct {
	fakeBackend
	closed bool
}

func (c *closingBackend) Close() error {
	c.closed = true
	return nil
}

func TestBudgetedTranscriberClose(t *testing.T) {
	backend := &closingBackend{}
	bt := NewBudgetedTranscriber(backend, &fakeAudio{}, nil, 0, 0, nil)
	require.NoError(t, bt.Close())
	assert.True(t, backend.closed)

	plain := NewBudgetedTranscriber(&fakeBackend{}, &fakeAudio{}, nil, 0, 0, nil)
	assert.NoError(t, plain.Close())
}
