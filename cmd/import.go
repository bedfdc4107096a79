package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/zonestats/internal/ingest"
)

var importFile string

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import scraped listings from a JSON export into the store",
	Long:  "Reads a JSON array or JSON Lines export of scraped listings and upserts them. Zones already assigned in the store are kept; run `zones update` afterwards to classify new listings.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("import"); err != nil {
			return err
		}
		batchSize, _ := cmd.Flags().GetInt("batch-size")

		f, err := os.Open(importFile)
		if err != nil {
			return eris.Wrap(err, "import: open file")
		}
		defer f.Close() //nolint:errcheck

		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		res, err := ingest.Import(ctx, st, f, batchSize)
		if err != nil {
			return eris.Wrap(err, "import")
		}
		return writeJSON(cmd.OutOrStdout(), res)
	},
}

func init() {
	importCmd.Flags().StringVar(&importFile, "file", "", "path to the JSON export (required)")
	importCmd.Flags().Int("batch-size", ingest.DefaultBatchSize, "listings per upsert")
	_ = importCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(importCmd)
}
