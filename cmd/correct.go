package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/compintel/internal/model"
)

var (
	correctEntity string
	correctField  string
	correctValue  string
	correctReason string
	correctBy     string
)

var correctCmd = &cobra.Command{
	Use:   "correct",
	Short: "Record a human-verified correction and re-reconcile the field",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		consensus, err := env.reconciler.RecordCorrection(ctx, correctEntity, correctField, correctValue, correctReason, correctBy)
		if err != nil {
			return eris.Wrap(err, "record correction")
		}

		if consensus.Status == model.StatusConflicted {
			// A correction outranks everything except a regulatory filing, so
			// a remaining conflict means filings disagree with the operator.
			return eris.Errorf("correction recorded but %s/%s is still conflicted", correctEntity, correctField)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(consensus)
	},
}

func init() {
	correctCmd.Flags().StringVar(&correctEntity, "entity", "", "entity ID (required)")
	correctCmd.Flags().StringVar(&correctField, "field", "", "field key (required)")
	correctCmd.Flags().StringVar(&correctValue, "value", "", "corrected value (required)")
	correctCmd.Flags().StringVar(&correctReason, "reason", "", "why the correction was made")
	correctCmd.Flags().StringVar(&correctBy, "by", "", "who made the correction")
	_ = correctCmd.MarkFlagRequired("entity")
	_ = correctCmd.MarkFlagRequired("field")
	_ = correctCmd.MarkFlagRequired("value")
	rootCmd.AddCommand(correctCmd)
}
