// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/lesson-engine/internal/lesson"
	"github.com/pdiddy/lesson-engine/internal/store"
	"github.com/pdiddy/lesson-engine/pkg/types"
)

// --- fingerprint subcommand ---

var fingerprintCmd = &cobra.Command{
	Use:   "fingerprint [topic]",
	Short: "Print the content fingerprint for a topic, sequence and style",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := requestFromFlags(cmd, args)
		if err != nil {
			return err
		}
		fmt.Println(lesson.FingerprintOf(req))
		return nil
	},
}

// --- show subcommand ---

var showCmd = &cobra.Command{
	Use:   "show [topic]",
	Short: "List stored variants for a topic in serving order",
	Long: `Show lists every stored variant for the topic, sequence and style, ranked
the way lesson serves them. It does not count views.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := requestFromFlags(cmd, args)
		if err != nil {
			return err
		}
		e, err := newEngine(cmd, engineParts{store: true})
		if err != nil {
			return err
		}
		defer e.Close()

		records, err := e.orch.Variants(cmd.Context(), req)
		if err != nil {
			return err
		}
		jsonOutput, _ := cmd.Flags().GetBool("json")
		return formatRecordsOutput(os.Stdout, records, jsonOutput)
	},
}

func formatRecordsOutput(w io.Writer, records []types.ContentRecord, jsonOutput bool) error {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}

	if len(records) == 0 {
		fmt.Fprintln(w, "No stored variants.")
		return nil
	}

	fmt.Fprintf(w, "%-4s  %-36s  %-18s  %5s  %5s  %-12s  %s\n",
		"Rank", "ID", "Verification", "Net", "Views", "Provider", "Created")
	fmt.Fprintln(w, strings.Repeat("-", 110))
	for i, r := range records {
		fmt.Fprintf(w, "%-4d  %-36s  %-18s  %5d  %5d  %-12s  %s\n",
			i+1, r.ID, r.Verification, r.NetVotes(), r.ViewCount, r.ProviderUsed, r.CreatedAt.Format("2006-01-02 15:04"))
	}
	fmt.Fprintf(w, "\n%d variants\n", len(records))
	return nil
}

// --- vote subcommand ---

var voteCmd = &cobra.Command{
	Use:   "vote <record-id> <up|down>",
	Short: "Record a quality vote on a stored lesson",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEngine(cmd, engineParts{store: true})
		if err != nil {
			return err
		}
		defer e.Close()

		rec, err := e.orch.Vote(cmd.Context(), args[0], types.VoteDirection(strings.ToLower(args[1])))
		if err != nil {
			return err
		}
		fmt.Printf("%s: votes +%d/-%d (net %d)\n", rec.ID, rec.VotesUp, rec.VotesDown, rec.NetVotes())
		return nil
	},
}

// --- verify subcommand ---

var verifyCmd = &cobra.Command{
	Use:   "verify <record-id> <status>",
	Short: "Set the verification status of a stored lesson",
	Long: `Verify sets a record's verification status: rejected, unreviewed,
community_approved, or expert_verified. Rejected records are never served.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := types.ParseVerificationStatus(args[1])
		if err != nil {
			return err
		}
		e, err := newEngine(cmd, engineParts{store: true})
		if err != nil {
			return err
		}
		defer e.Close()

		rec, err := e.orch.Verify(cmd.Context(), args[0], status)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %s\n", rec.ID, rec.Verification)
		return nil
	},
}

// --- export subcommand ---

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export every stored lesson to YAML or JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		if format != "yaml" && format != "json" {
			return fmt.Errorf("unsupported format %q: use yaml or json", format)
		}
		e, err := newEngine(cmd, engineParts{store: true})
		if err != nil {
			return err
		}
		defer e.Close()

		records, err := e.store.All(cmd.Context())
		if err != nil {
			return err
		}

		out := io.Writer(os.Stdout)
		if path, _ := cmd.Flags().GetString("output"); path != "" {
			f, err := os.Create(path)
			if err != nil {
				return err
			}
			defer f.Close()
			out = f
		}
		if format == "json" {
			return formatRecordsOutput(out, records, true)
		}
		return store.ExportYAML(out, records)
	},
}

func init() {
	addRequestFlags(fingerprintCmd)
	addRequestFlags(showCmd)
	showCmd.Flags().Bool("json", false, "output variants as JSON")
	exportCmd.Flags().String("format", "yaml", "export format: yaml or json")
	exportCmd.Flags().StringP("output", "o", "", "write to a file instead of stdout")

	rootCmd.AddCommand(fingerprintCmd, showCmd, voteCmd, verifyCmd, exportCmd)
}
