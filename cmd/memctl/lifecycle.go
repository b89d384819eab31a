package main

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"

	httpapi "github.com/fyrsmithlabs/memoryd/internal/http"
	"github.com/fyrsmithlabs/memoryd/internal/memory"
)

var (
	// lifecycle command flags
	promoteOutputJSON  bool
	validateOutputJSON bool
)

func init() {
	promoteCmd.Flags().BoolVar(&promoteOutputJSON, "json", false, "Output the resulting record as JSON")
	validateCmd.Flags().BoolVar(&validateOutputJSON, "json", false, "Output the resulting record as JSON")
}

// promoteCmd advances a record one confidence tier
var promoteCmd = &cobra.Command{
	Use:   "promote <record-id>",
	Short: "Promote a record one confidence tier",
	Long: `Promote a record one tier up the confidence ladder: ephemeral becomes a
suspected hypothesis, a suspected hypothesis becomes stable. Promoting a
stable record is an idempotent no-op.

Examples:
  # Promote a record
  memctl promote 4f7c2b8a-19d3-4e6a-9c41-8d2f30a6e5b7`,
	Args: cobra.ExactArgs(1),
	RunE: runPromote,
}

// validateCmd settles a hypothesis with an explicit verdict
var validateCmd = &cobra.Command{
	Use:   "validate <record-id> <validated|rejected>",
	Short: "Validate or reject a hypothesis",
	Long: `Settle a hypothesis with an explicit verdict. "validated" promotes the
record to stable; "rejected" resolves it in place, keeping it for audit.

Examples:
  # Confirm a hypothesis
  memctl validate 4f7c2b8a-19d3-4e6a-9c41-8d2f30a6e5b7 validated

  # Reject a hypothesis
  memctl validate 4f7c2b8a-19d3-4e6a-9c41-8d2f30a6e5b7 rejected`,
	Args: cobra.ExactArgs(2),
	RunE: runValidate,
}

// runPromote handles the promote command
func runPromote(cmd *cobra.Command, args []string) error {
	endpoint := fmt.Sprintf("%s/api/v1/records/%s/promote", serverURL, url.PathEscape(args[0]))

	var rec memory.Record
	if err := doJSON(http.MethodPost, endpoint, nil, &rec); err != nil {
		return err
	}

	if promoteOutputJSON {
		return outputJSON(&rec)
	}

	fmt.Printf("Record %s is now (%s, %s)\n", rec.ID, rec.Layer, rec.Status)
	printRecord(&rec)
	return nil
}

// runValidate handles the validate command
func runValidate(cmd *cobra.Command, args []string) error {
	endpoint := fmt.Sprintf("%s/api/v1/records/%s/validate", serverURL, url.PathEscape(args[0]))

	var rec memory.Record
	if err := doJSON(http.MethodPost, endpoint, httpapi.ValidateRequest{Outcome: args[1]}, &rec); err != nil {
		return err
	}

	if validateOutputJSON {
		return outputJSON(&rec)
	}

	fmt.Printf("Record %s %s: now (%s, %s)\n", rec.ID, args[1], rec.Layer, rec.Status)
	printRecord(&rec)
	return nil
}
