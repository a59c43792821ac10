package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/compintel/internal/reconcile"
)

var (
	reconcileEntity      string
	reconcileField       string
	reconcileAll         bool
	reconcileConcurrency int
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Reconcile observations into consensus for one key or the whole log",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		if reconcileAll {
			concurrency := reconcileConcurrency
			if concurrency == 0 {
				concurrency = cfg.Reconcile.Concurrency
			}
			result, err := env.reconciler.Sweep(ctx, concurrency)
			if err != nil {
				return eris.Wrap(err, "sweep")
			}
			return enc.Encode(result)
		}

		if reconcileEntity == "" || reconcileField == "" {
			return eris.New("--entity and --field are required without --all")
		}

		consensus, err := env.reconciler.Reconcile(ctx, reconcileEntity, reconcileField)
		if err != nil {
			if eris.Is(err, reconcile.ErrNoObservations) {
				zap.L().Warn("no observations for key",
					zap.String("entity", reconcileEntity),
					zap.String("field", reconcileField),
				)
				return nil
			}
			return eris.Wrap(err, "reconcile")
		}

		return enc.Encode(consensus)
	},
}

func init() {
	reconcileCmd.Flags().StringVar(&reconcileEntity, "entity", "", "entity ID")
	reconcileCmd.Flags().StringVar(&reconcileField, "field", "", "field key")
	reconcileCmd.Flags().BoolVar(&reconcileAll, "all", false, "reconcile every key in the observation log")
	reconcileCmd.Flags().IntVar(&reconcileConcurrency, "concurrency", 0, "sweep worker count (default from config)")
	rootCmd.AddCommand(reconcileCmd)
}
