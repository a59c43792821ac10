package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	consensusEntity    string
	consensusField     string
	consensusThreshold float64
	consensusLimit     int
)

var consensusCmd = &cobra.Command{
	Use:   "consensus",
	Short: "Show consensus for an entity, one field, or low-confidence keys",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		switch {
		case consensusEntity != "" && consensusField != "":
			c, err := env.store.GetConsensus(ctx, consensusEntity, consensusField)
			if err != nil {
				return eris.Wrap(err, "get consensus")
			}
			if c == nil {
				zap.L().Warn("no consensus for key",
					zap.String("entity", consensusEntity),
					zap.String("field", consensusField),
				)
				return nil
			}
			return enc.Encode(c)

		case consensusEntity != "":
			list, err := env.store.ListConsensus(ctx, consensusEntity)
			if err != nil {
				return eris.Wrap(err, "list consensus")
			}
			return enc.Encode(list)

		default:
			// Review queue: keys most in need of fresh evidence first.
			list, err := env.store.ListLowConfidence(ctx, consensusThreshold, consensusLimit)
			if err != nil {
				return eris.Wrap(err, "list low confidence")
			}
			return enc.Encode(list)
		}
	},
}

func init() {
	consensusCmd.Flags().StringVar(&consensusEntity, "entity", "", "entity ID")
	consensusCmd.Flags().StringVar(&consensusField, "field", "", "field key")
	consensusCmd.Flags().Float64Var(&consensusThreshold, "below", 40, "confidence threshold for the review queue")
	consensusCmd.Flags().IntVar(&consensusLimit, "limit", 50, "max review queue entries")
	rootCmd.AddCommand(consensusCmd)
}
