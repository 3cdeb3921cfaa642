// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/pdiddy/lesson-engine/pkg/types"
)

var researchCmd = &cobra.Command{
	Use:   "research [topic]",
	Short: "Gather research for a topic without generating a lesson",
	Long: `Research fans out to every source adapter concurrently and prints the
research bundle with its availability report. Unavailable sources are
compensated by asking the list-capable sources for more items.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runResearch,
}

func runResearch(cmd *cobra.Command, args []string) error {
	req, err := requestFromFlags(cmd, args)
	if err != nil {
		return err
	}
	e, err := newEngine(cmd, engineParts{research: true})
	if err != nil {
		return err
	}
	defer e.Close()

	bundle := e.agg.Research(cmd.Context(), req.Topic, req.Category, req.Language)
	if showUsage, _ := cmd.Flags().GetBool("usage"); showUsage {
		fmt.Fprint(os.Stderr, e.stats.Report().String())
	}

	jsonOutput, _ := cmd.Flags().GetBool("json")
	return formatResearchOutput(os.Stdout, bundle, jsonOutput)
}

func formatResearchOutput(w io.Writer, b types.ResearchBundle, jsonOutput bool) error {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(b)
	}

	fmt.Fprintln(w, b.Availability.Summary)
	for _, kind := range types.AllSourceKinds {
		items := b.Items[kind]
		if len(items) == 0 {
			continue
		}
		fmt.Fprintf(w, "\n%s (%d)\n", kind, len(items))
		for _, it := range items {
			fmt.Fprintf(w, "  - %s\n    %s\n", it.Title, it.URL)
			if it.EngagementScore > 0 {
				fmt.Fprintf(w, "    engagement: %.0f\n", it.EngagementScore)
			}
			if it.TranscriptSource != types.TranscriptNone {
				fmt.Fprintf(w, "    transcript: %s, %d chars\n", it.TranscriptSource, len(it.Transcript))
			}
		}
	}
	return nil
}

func init() {
	addRequestFlags(researchCmd)
	researchCmd.Flags().Bool("json", false, "output the research bundle as JSON")
	researchCmd.Flags().Bool("usage", false, "print source usage to stderr")

	rootCmd.AddCommand(researchCmd)
}
