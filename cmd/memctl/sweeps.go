package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	httpapi "github.com/fyrsmithlabs/memoryd/internal/http"
)

// decayCmd triggers the confidence decay sweep for one subject
var decayCmd = &cobra.Command{
	Use:   "decay <subject-id>",
	Short: "Run the confidence decay sweep for a subject",
	Long: `Run the confidence decay sweep for a subject. Suspected hypotheses that
have gone unreinforced past the staleness window step down one confidence
grade; hypotheses already at low confidence are resolved.

Examples:
  # Decay stale hypotheses for a subject
  memctl decay c1`,
	Args: cobra.ExactArgs(1),
	RunE: runDecay,
}

// cleanupCmd triggers the global expiration sweep
var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Run the global expiration sweep",
	Long: `Run the expiration sweep across all subjects. Active ephemeral records
past their expiry are marked expired; nothing is deleted.

Examples:
  # Expire overdue ephemeral records
  memctl cleanup`,
	Args: cobra.NoArgs,
	RunE: runCleanup,
}

// runDecay handles the decay command
func runDecay(cmd *cobra.Command, args []string) error {
	var resp httpapi.SweepResponse
	req := httpapi.DecaySweepRequest{SubjectID: args[0]}
	if err := doJSON(http.MethodPost, serverURL+"/api/v1/sweeps/decay", req, &resp); err != nil {
		return err
	}

	fmt.Printf("Decay sweep changed %d record(s) for subject %s\n", resp.Changed, args[0])
	return nil
}

// runCleanup handles the cleanup command
func runCleanup(cmd *cobra.Command, args []string) error {
	var resp httpapi.SweepResponse
	if err := doJSON(http.MethodPost, serverURL+"/api/v1/sweeps/expired", nil, &resp); err != nil {
		return err
	}

	fmt.Printf("Expiration sweep changed %d record(s)\n", resp.Changed)
	return nil
}
