package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var qualityEntity string

var qualityCmd = &cobra.Command{
	Use:   "quality",
	Short: "Show the quality rollup for an entity, or the whole corpus",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		if qualityEntity != "" {
			snap, err := env.quality.Snapshot(ctx, qualityEntity)
			if err != nil {
				return eris.Wrap(err, "quality snapshot")
			}
			return enc.Encode(snap)
		}

		corpus, err := env.quality.Corpus(ctx)
		if err != nil {
			return eris.Wrap(err, "quality corpus")
		}
		return enc.Encode(corpus)
	},
}

func init() {
	qualityCmd.Flags().StringVar(&qualityEntity, "entity", "", "entity ID (omit for corpus rollup)")
	rootCmd.AddCommand(qualityCmd)
}
