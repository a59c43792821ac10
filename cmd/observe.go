package main

import (
	"encoding/csv"
	"io"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/compintel/internal/ingest"
	"github.com/sells-group/compintel/internal/model"
)

var (
	observeEntity  string
	observeField   string
	observeValue   string
	observeKind    string
	observeOrigin  string
	observeBy      string
	observeAt      string
	observeCSVPath string
)

var observeCmd = &cobra.Command{
	Use:   "observe",
	Short: "Record one observation, or a CSV batch with --csv",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		if observeCSVPath != "" {
			f, err := os.Open(observeCSVPath)
			if err != nil {
				return eris.Wrap(err, "open csv")
			}
			defer f.Close()

			reqs, err := readObservationCSV(f)
			if err != nil {
				return err
			}

			n, err := env.ingestor.SubmitBatch(ctx, reqs)
			if err != nil {
				return eris.Wrap(err, "submit batch")
			}
			zap.L().Info("batch recorded",
				zap.Int("accepted", n),
				zap.Int("rows", len(reqs)),
				zap.String("csv", observeCSVPath),
			)
			return nil
		}

		observedAt := time.Time{}
		if observeAt != "" {
			observedAt, err = time.Parse(time.RFC3339, observeAt)
			if err != nil {
				return eris.Wrap(err, "parse --observed-at")
			}
		}

		obs, err := env.ingestor.Submit(ctx, ingest.Request{
			EntityID:   observeEntity,
			FieldKey:   observeField,
			Value:      observeValue,
			SourceKind: model.SourceKind(observeKind),
			OriginRef:  observeOrigin,
			EnteredBy:  observeBy,
			ObservedAt: observedAt,
		})
		if err != nil {
			return eris.Wrap(err, "submit observation")
		}

		zap.L().Info("observation recorded",
			zap.String("id", obs.ID),
			zap.String("entity", obs.EntityID),
			zap.String("field", obs.FieldKey),
			zap.String("kind", string(obs.SourceKind)),
			zap.Float64("confidence", obs.Confidence),
		)
		if obs.ParseError != "" {
			zap.L().Warn("value did not parse as numeric",
				zap.String("raw", obs.RawValue),
				zap.String("error", obs.ParseError),
			)
		}
		return nil
	},
}

// readObservationCSV parses rows of
// entity_id,field_key,value,source_kind[,origin_ref,entered_by,observed_at].
// A header row is detected by its first column and skipped.
func readObservationCSV(r io.Reader) ([]ingest.Request, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	var reqs []ingest.Request
	line := 0
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "read csv")
		}
		line++

		if line == 1 && record[0] == "entity_id" {
			continue
		}
		if len(record) < 4 {
			return nil, eris.Errorf("csv line %d: want at least 4 columns, got %d", line, len(record))
		}

		req := ingest.Request{
			EntityID:   record[0],
			FieldKey:   record[1],
			Value:      record[2],
			SourceKind: model.SourceKind(record[3]),
		}
		if len(record) > 4 {
			req.OriginRef = record[4]
		}
		if len(record) > 5 {
			req.EnteredBy = record[5]
		}
		if len(record) > 6 && record[6] != "" {
			ts, err := time.Parse(time.RFC3339, record[6])
			if err != nil {
				return nil, eris.Wrapf(err, "csv line %d: parse observed_at", line)
			}
			req.ObservedAt = ts
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}

func init() {
	observeCmd.Flags().StringVar(&observeEntity, "entity", "", "entity ID")
	observeCmd.Flags().StringVar(&observeField, "field", "", "field key")
	observeCmd.Flags().StringVar(&observeValue, "value", "", "observed value")
	observeCmd.Flags().StringVar(&observeKind, "kind", "", "source kind")
	observeCmd.Flags().StringVar(&observeOrigin, "origin", "", "origin reference (URL, filing ID)")
	observeCmd.Flags().StringVar(&observeBy, "by", "", "who entered the observation")
	observeCmd.Flags().StringVar(&observeAt, "observed-at", "", "observation time, RFC 3339 (default now)")
	observeCmd.Flags().StringVar(&observeCSVPath, "csv", "", "path to CSV batch file")
	rootCmd.AddCommand(observeCmd)
}
