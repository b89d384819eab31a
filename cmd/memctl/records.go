package main

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	httpapi "github.com/fyrsmithlabs/memoryd/internal/http"
	"github.com/fyrsmithlabs/memoryd/internal/memory"
)

var (
	// records command flags
	recLayer         string
	recStatuses      []string
	recKey           string
	recMinConfidence string
	recOutputJSON    bool

	// summary command flags
	sumOutputJSON bool
)

func init() {
	recordsCmd.Flags().StringVar(&recLayer, "layer", "", "Filter by layer: ephemeral, hypothesis, or stable")
	recordsCmd.Flags().StringSliceVar(&recStatuses, "status", nil, "Filter by status (repeatable; default active only)")
	recordsCmd.Flags().StringVar(&recKey, "key", "", "Filter by case-sensitive key substring")
	recordsCmd.Flags().StringVar(&recMinConfidence, "min-confidence", "", "Minimum confidence grade: low, medium, or high")
	recordsCmd.Flags().BoolVar(&recOutputJSON, "json", false, "Output results as JSON")

	summaryCmd.Flags().BoolVar(&sumOutputJSON, "json", false, "Output the summary as JSON")
}

// recordsCmd lists a subject's memory records
var recordsCmd = &cobra.Command{
	Use:   "records <subject-id>",
	Short: "List a subject's memory records",
	Long: `List a subject's memory records, most recently updated first. Without
--status only active records are returned; terminal records must be asked
for explicitly.

Examples:
  # Active records for a subject
  memctl records c1

  # Suspected hypotheses at medium confidence or above
  memctl records c1 --layer hypothesis --status suspected --min-confidence medium

  # Audit resolved and expired records
  memctl records c1 --status resolved --status expired`,
	Args: cobra.ExactArgs(1),
	RunE: runRecords,
}

// summaryCmd shows the aggregated view of a subject
var summaryCmd = &cobra.Command{
	Use:   "summary <subject-id>",
	Short: "Show the aggregated memory summary for a subject",
	Long: `Show the aggregated memory summary for a subject: validated stable
patterns, hypotheses awaiting validation, and the most recent ephemeral
observations.

Examples:
  # Summarize a subject
  memctl summary c1

  # Machine-readable summary
  memctl summary c1 --json`,
	Args: cobra.ExactArgs(1),
	RunE: runSummary,
}

// recordsQuery builds the query string for the records endpoint from the
// command flags.
func recordsQuery(layer string, statuses []string, key, minConfidence string) url.Values {
	q := url.Values{}
	if layer != "" {
		q.Set("layer", layer)
	}
	for _, status := range statuses {
		q.Add("status", status)
	}
	if key != "" {
		q.Set("key", key)
	}
	if minConfidence != "" {
		q.Set("min_confidence", minConfidence)
	}
	return q
}

// runRecords handles the records command
func runRecords(cmd *cobra.Command, args []string) error {
	endpoint := fmt.Sprintf("%s/api/v1/subjects/%s/records", serverURL, url.PathEscape(args[0]))
	if q := recordsQuery(recLayer, recStatuses, recKey, recMinConfidence); len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	var resp httpapi.RecordsResponse
	if err := doJSON(http.MethodGet, endpoint, nil, &resp); err != nil {
		return err
	}

	if recOutputJSON {
		return outputJSON(&resp)
	}

	if resp.Count == 0 {
		fmt.Println("No records found.")
		return nil
	}
	printRecordTable(resp.Records)
	fmt.Printf("\n%d record(s)\n", resp.Count)
	return nil
}

// runSummary handles the summary command
func runSummary(cmd *cobra.Command, args []string) error {
	endpoint := fmt.Sprintf("%s/api/v1/subjects/%s/summary", serverURL, url.PathEscape(args[0]))

	var summary memory.Summary
	if err := doJSON(http.MethodGet, endpoint, nil, &summary); err != nil {
		return err
	}

	if sumOutputJSON {
		return outputJSON(&summary)
	}

	fmt.Printf("Subject: %s\n", summary.SubjectID)
	fmt.Printf("Live records: %d (ephemeral %d, hypothesis %d, stable %d)\n",
		summary.Stats.Total, summary.Stats.Ephemeral, summary.Stats.Hypothesis, summary.Stats.Stable)

	printSummarySection("Stable patterns", summary.StablePatterns)
	printSummarySection("Active hypotheses", summary.ActiveHypotheses)
	printSummarySection("Recent observations", summary.RecentObservations)
	return nil
}

// printSummarySection prints one layer partition of a summary.
func printSummarySection(title string, records []*memory.Record) {
	fmt.Printf("\n%s:\n", title)
	if len(records) == 0 {
		fmt.Println("  (none)")
		return
	}
	for _, rec := range records {
		fmt.Printf("  %s  [%s, evidence %d, updated %s]\n",
			rec.Key, rec.Confidence, rec.EvidenceCount, rec.LastUpdated.Format(time.RFC3339))
	}
}

// printRecordTable prints records as an aligned table.
func printRecordTable(records []*memory.Record) {
	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tLAYER\tKEY\tSTATUS\tCONFIDENCE\tEVIDENCE\tLAST UPDATED")
	for _, rec := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			rec.ID, rec.Layer, rec.Key, rec.Status, rec.Confidence,
			rec.EvidenceCount, rec.LastUpdated.Format(time.RFC3339))
	}
	w.Flush()
}

// printRecord prints one record field by field.
func printRecord(rec *memory.Record) {
	fmt.Printf("  Subject:    %s\n", rec.SubjectID)
	fmt.Printf("  Layer:      %s\n", rec.Layer)
	fmt.Printf("  Key:        %s\n", rec.Key)
	fmt.Printf("  Status:     %s\n", rec.Status)
	fmt.Printf("  Confidence: %s\n", rec.Confidence)
	fmt.Printf("  Evidence:   %d\n", rec.EvidenceCount)
	fmt.Printf("  Updated:    %s\n", rec.LastUpdated.Format(time.RFC3339))
	if rec.ExpiresAt != nil {
		fmt.Printf("  Expires:    %s\n", rec.ExpiresAt.Format(time.RFC3339))
	}
	if rec.LastConfirmed != nil {
		fmt.Printf("  Confirmed:  %s\n", rec.LastConfirmed.Format("2006-01-02"))
	}
}
