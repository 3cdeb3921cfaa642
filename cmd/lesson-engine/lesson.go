// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/lesson-engine/internal/lesson"
	"github.com/pdiddy/lesson-engine/pkg/types"
)

var lessonCmd = &cobra.Command{
	Use:   "lesson [topic]",
	Short: "Serve a lesson, generating and storing it on a miss",
	Long: `Lesson returns the best stored lesson for the topic, sequence and style.
Stored variants are ranked by verification status, then net votes, then
recency; serving one increments its view count. When nothing servable is
stored the topic is researched, a lesson is generated through the provider
chain, and the result is persisted for later requests.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLesson,
}

func runLesson(cmd *cobra.Command, args []string) error {
	req, err := requestFromFlags(cmd, args)
	if err != nil {
		return err
	}
	e, err := newEngine(cmd, engineParts{research: true, generate: true, store: true})
	if err != nil {
		return err
	}
	defer e.Close()

	res, err := e.orch.Serve(cmd.Context(), req)
	if showUsage, _ := cmd.Flags().GetBool("usage"); showUsage {
		fmt.Fprint(os.Stderr, e.stats.Report().String())
	}
	if err != nil {
		if msg := lesson.UserMessage(err); msg != "" {
			fmt.Fprintln(os.Stderr, msg)
		}
		return err
	}

	jsonOutput, _ := cmd.Flags().GetBool("json")
	return formatServeOutput(os.Stdout, res, jsonOutput)
}

// requestFromFlags builds a generation request from the positional topic
// or --topic and the request flags.
func requestFromFlags(cmd *cobra.Command, args []string) (types.GenerationRequest, error) {
	topic, _ := cmd.Flags().GetString("topic")
	if len(args) > 0 {
		topic = args[0]
	}
	if strings.TrimSpace(topic) == "" {
		return types.GenerationRequest{}, fmt.Errorf("a topic is required (argument or --topic)")
	}
	styleName, _ := cmd.Flags().GetString("style")
	style, err := types.ParseStyle(styleName)
	if err != nil {
		return types.GenerationRequest{}, err
	}
	seq, _ := cmd.Flags().GetInt("sequence")
	category, _ := cmd.Flags().GetString("category")
	language, _ := cmd.Flags().GetString("language")

	req := types.GenerationRequest{
		Topic:    topic,
		Style:    style,
		Sequence: seq,
		Category: category,
		Language: language,
	}

	level, _ := cmd.Flags().GetString("level")
	goal, _ := cmd.Flags().GetString("goal")
	if level != "" || goal != "" {
		req.Profile = &types.ActorProfile{Level: types.Level(level), Goal: goal, PreferredLanguage: language}
	}
	return req, req.Validate()
}

func addRequestFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("topic", "", "lesson topic (alternative to the positional argument)")
	f.String("style", string(types.StylePractice), "lesson style: practice-focused, video-based, long-form, combined")
	f.Int("sequence", 1, "position of the lesson in its learning path")
	f.String("category", "", "topic category hint for research (e.g. data-structures)")
	f.String("language", "", "programming language hint (e.g. go, python)")
}

func formatServeOutput(w io.Writer, res lesson.Result, jsonOutput bool) error {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	rec := res.Record
	outcome := "generated"
	if res.Hit {
		outcome = "stored"
	}
	fmt.Fprintf(w, "Lesson %s (%s)\n", rec.ID, outcome)
	fmt.Fprintf(w, "  topic:        %s\n", rec.Topic)
	fmt.Fprintf(w, "  style:        %s, sequence %d\n", rec.Style, rec.Sequence)
	fmt.Fprintf(w, "  verification: %s, votes +%d/-%d, views %d\n", rec.Verification, rec.VotesUp, rec.VotesDown, rec.ViewCount)
	fmt.Fprintf(w, "  source:       %s via %s\n", rec.SourceType, rec.ProviderUsed)
	if res.Availability != nil {
		fmt.Fprintf(w, "  research:     %s\n", res.Availability.Summary)
	}
	for _, a := range res.Attempts {
		line := fmt.Sprintf("  attempt:      %s %s (%s)", a.ProviderID, a.Outcome, a.Duration)
		if a.Error != "" {
			line += ": " + a.Error
		}
		fmt.Fprintln(w, line)
	}
	for _, ref := range rec.Attribution {
		fmt.Fprintf(w, "  cites:        [%s] %s %s\n", ref.SourceKind, ref.Title, ref.URL)
	}
	fmt.Fprintln(w)

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, rec.Payload, "", "  "); err != nil {
		_, err = w.Write(rec.Payload)
		return err
	}
	pretty.WriteByte('\n')
	_, err := pretty.WriteTo(w)
	return err
}

func init() {
	addRequestFlags(lessonCmd)
	lessonCmd.Flags().String("level", "", "learner level: beginner, intermediate, advanced")
	lessonCmd.Flags().String("goal", "", "learner goal, used to tailor the lesson")
	lessonCmd.Flags().Bool("json", false, "output the serve result as JSON")
	lessonCmd.Flags().Bool("usage", false, "print provider and source usage to stderr")

	rootCmd.AddCommand(lessonCmd)
}
