package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"

	"github.com/spf13/cobra"

	httpapi "github.com/fyrsmithlabs/memoryd/internal/http"
	"github.com/fyrsmithlabs/memoryd/internal/memory"
)

var (
	// observe command flags
	obLayer      string
	obConfidence string
	obTTLDays    int
	obContent    string
	obOutputJSON bool
)

func init() {
	observeCmd.Flags().StringVar(&obLayer, "layer", "ephemeral", "Memory layer: ephemeral, hypothesis, or stable")
	observeCmd.Flags().StringVar(&obConfidence, "confidence", "", "Confidence grade: low, medium, or high (default low)")
	observeCmd.Flags().IntVar(&obTTLDays, "ttl-days", 0, "Expiry window in days for ephemeral records (default from server)")
	observeCmd.Flags().StringVar(&obContent, "content", "", "Observation payload as a JSON object, or - to read from stdin")
	observeCmd.Flags().BoolVar(&obOutputJSON, "json", false, "Output the resulting record as JSON")
	_ = observeCmd.MarkFlagRequired("content")
}

// observeCmd records one observation for a subject
var observeCmd = &cobra.Command{
	Use:   "observe <subject-id> <key>",
	Short: "Record an observation about a subject",
	Long: `Record an observation about a subject. A repeat observation for the same
(subject, layer, key) merges into the existing record and increments its
evidence count.

Examples:
  # Record an ephemeral observation
  memctl observe c1 likes_dinosaurs --content '{"note":"asked for the dinosaur story again"}'

  # Record a hypothesis with medium confidence
  memctl observe c1 struggles_fractions --layer hypothesis --confidence medium \
    --content '{"signal":"three failed fraction quizzes"}'

  # Read the payload from stdin
  cat observation.json | memctl observe c1 rushes_reading --content -`,
	Args: cobra.ExactArgs(2),
	RunE: runObserve,
}

// runObserve handles the observe command
func runObserve(cmd *cobra.Command, args []string) error {
	raw := []byte(obContent)
	if obContent == "-" {
		var err error
		raw, err = io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read from stdin: %w", err)
		}
	}

	var content map[string]any
	if err := json.Unmarshal(raw, &content); err != nil {
		return fmt.Errorf("content must be a JSON object: %w", err)
	}

	req := httpapi.ObserveRequest{
		Layer:      obLayer,
		Key:        args[1],
		Content:    content,
		Confidence: obConfidence,
		TTLDays:    obTTLDays,
	}

	endpoint := fmt.Sprintf("%s/api/v1/subjects/%s/observations", serverURL, url.PathEscape(args[0]))

	var rec memory.Record
	if err := doJSON(http.MethodPost, endpoint, req, &rec); err != nil {
		return err
	}

	if obOutputJSON {
		return outputJSON(&rec)
	}

	if rec.EvidenceCount == 1 {
		fmt.Printf("Created record %s\n", rec.ID)
	} else {
		fmt.Printf("Merged into record %s (evidence %d)\n", rec.ID, rec.EvidenceCount)
	}
	printRecord(&rec)
	return nil
}
