// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package lesson

import (
	"bytes"
	"encoding/json"
	"fmt"
	"text/template"

	"github.com/pdiddy/lesson-engine/internal/provider"
	"github.com/pdiddy/lesson-engine/pkg/types"
)

// styleInstructions describes what each style's payload must emphasize.
var styleInstructions = map[types.Style]string{
	types.StylePractice: "Teach through doing. Keep explanations short, then give graded exercises " +
		"that build on each other, each with a hint and a complete reference solution.",
	types.StyleVideo: "Build the lesson around the single best video in the research material. " +
		"Write a watch guide that tells the learner what to look for in each part and " +
		"questions to check understanding afterwards. If no video is available, leave the " +
		"video fields empty and write the guide for a video the learner can search for.",
	types.StyleLongForm: "Write a thorough reading lesson with sections that progress from " +
		"intuition to details, worked code examples, and key takeaways.",
	types.StyleCombined: "Combine short reading sections, notes for the recommended video if one " +
		"is available, and a few exercises with solutions.",
}

var systemPromptTmpl = template.Must(template.New("system").Parse(`You are an experienced programming instructor writing lesson {{.Sequence}} of a learning path.

Lesson style: {{.Style}}.
{{.Instructions}}
{{with .Profile}}
Learner profile:
{{- if .Level}}
- level: {{.Level}}{{end}}
{{- if .Goal}}
- goal: {{.Goal}}{{end}}
{{- if .PreferredLanguage}}
- preferred programming language: {{.PreferredLanguage}}{{end}}
Match vocabulary and difficulty to this learner.
{{end}}
Use the research material in the user message as your primary source when it is present. Prefer it over memory when they disagree, and never invent links.

Respond with a single JSON object that matches this JSON schema exactly. Do not include any text outside the JSON object.
{{.Schema}}
`))

var userPromptTmpl = template.Must(template.New("user").Parse(`Topic: {{.Topic}}
{{- if .Category}}
Category: {{.Category}}{{end}}
{{- if .Language}}
Programming language: {{.Language}}{{end}}
{{if .Items}}
Research material ({{.Summary}}):
{{range .Items}}
[{{.SourceKind}}] {{.Title}}
URL: {{.URL}}
{{- if .EngagementScore}}
Engagement: {{printf "%.0f" .EngagementScore}}{{end}}
{{.BodyExcerpt}}
{{- if .Transcript}}
Transcript ({{.TranscriptSource}}):
{{.Transcript}}{{end}}
{{end}}
{{- else}}
No external research was available for this topic. Write the lesson from your own knowledge and leave link fields empty.
{{end}}`))

// BuildPrompt renders the provider-agnostic prompt for req. The response
// format carries the style's schema and a validator for its payload.
func BuildPrompt(req types.GenerationRequest, bundle types.ResearchBundle) (provider.Prompt, error) {
	schema, err := Schema(req.Style)
	if err != nil {
		return provider.Prompt{}, err
	}
	schemaJSON, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return provider.Prompt{}, fmt.Errorf("encoding schema: %w", err)
	}

	var sys bytes.Buffer
	if err := systemPromptTmpl.Execute(&sys, struct {
		Sequence     int
		Style        types.Style
		Instructions string
		Profile      *types.ActorProfile
		Schema       string
	}{req.Sequence, req.Style, styleInstructions[req.Style], req.Profile, string(schemaJSON)}); err != nil {
		return provider.Prompt{}, fmt.Errorf("rendering system prompt: %w", err)
	}

	var items []types.ResearchItem
	for _, k := range types.AllSourceKinds {
		items = append(items, bundle.Get(k)...)
	}
	var user bytes.Buffer
	if err := userPromptTmpl.Execute(&user, struct {
		Topic    string
		Category string
		Language string
		Items    []types.ResearchItem
		Summary  string
	}{req.Topic, req.Category, req.Language, items, bundle.Availability.Summary}); err != nil {
		return provider.Prompt{}, fmt.Errorf("rendering user prompt: %w", err)
	}

	style := req.Style
	return provider.Prompt{
		System: sys.String(),
		User:   user.String(),
		Format: provider.ResponseFormat{
			Kind:       provider.FormatJSON,
			SchemaName: schemaName(style),
			Schema:     schema,
			Validate: func(b []byte) error {
				return ValidatePayload(style, b)
			},
		},
	}, nil
}
