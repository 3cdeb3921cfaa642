// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package lesson

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"

	"github.com/pdiddy/lesson-engine/pkg/types"
)

// Concept is one idea the lesson teaches.
type Concept struct {
	Name        string `json:"name" jsonschema:"description=Short name of the concept"`
	Explanation string `json:"explanation" jsonschema:"description=Plain-language explanation in two to five sentences"`
}

// Exercise is a hands-on task with its solution.
type Exercise struct {
	Prompt     string `json:"prompt" jsonschema:"description=What the learner must do"`
	Difficulty string `json:"difficulty" jsonschema:"enum=easy,enum=medium,enum=hard"`
	Hint       string `json:"hint"`
	Solution   string `json:"solution" jsonschema:"description=Reference solution; code may use Markdown fences"`
}

// Section is a titled block of prose, optionally with code.
type Section struct {
	Heading     string `json:"heading"`
	Body        string `json:"body"`
	CodeExample string `json:"code_example" jsonschema:"description=Runnable example or empty string"`
}

// Segment is a note tied to part of a video.
type Segment struct {
	Heading string `json:"heading"`
	Notes   string `json:"notes"`
}

// CheckQuestion verifies understanding.
type CheckQuestion struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// PracticeLesson is the practice-focused payload.
type PracticeLesson struct {
	Title          string     `json:"title"`
	Summary        string     `json:"summary"`
	Objectives     []string   `json:"objectives"`
	Concepts       []Concept  `json:"concepts"`
	Exercises      []Exercise `json:"exercises" jsonschema:"minItems=1"`
	CommonPitfalls []string   `json:"common_pitfalls"`
}

// VideoLesson is the video-based payload, built around one recommended video.
type VideoLesson struct {
	Title          string          `json:"title"`
	Summary        string          `json:"summary"`
	VideoTitle     string          `json:"video_title" jsonschema:"description=Title of the recommended video or empty string"`
	VideoURL       string          `json:"video_url" jsonschema:"description=URL of the recommended video or empty string"`
	WatchGuide     []Segment       `json:"watch_guide" jsonschema:"minItems=1"`
	CheckQuestions []CheckQuestion `json:"check_questions"`
}

// LongFormLesson is the long-form reading payload.
type LongFormLesson struct {
	Title          string    `json:"title"`
	Summary        string    `json:"summary"`
	Sections       []Section `json:"sections" jsonschema:"minItems=1"`
	KeyTakeaways   []string  `json:"key_takeaways"`
	FurtherReading []string  `json:"further_reading"`
}

// CombinedLesson mixes reading, video notes and practice.
type CombinedLesson struct {
	Title          string          `json:"title"`
	Summary        string          `json:"summary"`
	Sections       []Section       `json:"sections" jsonschema:"minItems=1"`
	WatchGuide     []Segment       `json:"watch_guide"`
	Exercises      []Exercise      `json:"exercises"`
	CheckQuestions []CheckQuestion `json:"check_questions"`
}

// payloadFor returns a zero value of the style's payload type.
func payloadFor(style types.Style) (any, error) {
	switch style {
	case types.StylePractice:
		return &PracticeLesson{}, nil
	case types.StyleVideo:
		return &VideoLesson{}, nil
	case types.StyleLongForm:
		return &LongFormLesson{}, nil
	case types.StyleCombined:
		return &CombinedLesson{}, nil
	}
	return nil, fmt.Errorf("unknown style %q", style)
}

// Schema returns the JSON schema of the style's payload.
func Schema(style types.Style) (*jsonschema.Schema, error) {
	v, err := payloadFor(style)
	if err != nil {
		return nil, err
	}
	r := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	return r.Reflect(v), nil
}

// schemaName is the structured-output name for style, e.g. "practice_focused_lesson".
func schemaName(style types.Style) string {
	return strings.ReplaceAll(string(style), "-", "_") + "_lesson"
}

// ValidatePayload checks that data decodes into the style's payload and
// carries a title.
func ValidatePayload(style types.Style, data []byte) error {
	v, err := payloadFor(style)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decoding %s payload: %w", style, err)
	}
	var title string
	switch p := v.(type) {
	case *PracticeLesson:
		title = p.Title
		if len(p.Exercises) == 0 {
			return fmt.Errorf("practice lesson has no exercises")
		}
	case *VideoLesson:
		title = p.Title
	case *LongFormLesson:
		title = p.Title
		if len(p.Sections) == 0 {
			return fmt.Errorf("long-form lesson has no sections")
		}
	case *CombinedLesson:
		title = p.Title
	}
	if strings.TrimSpace(title) == "" {
		return fmt.Errorf("%s payload has no title", style)
	}
	return nil
}
