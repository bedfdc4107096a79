package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/zonestats/internal/model"
	"github.com/sells-group/zonestats/internal/zone"
)

var zonesCmd = &cobra.Command{
	Use:   "zones",
	Short: "Classify listing locations into zones",
}

// -- zones update --

var zonesUpdateCmd = &cobra.Command{
	Use:   "update",
	Short: "Assign zones to every listing without one",
	Long:  "Scans listings whose zone is missing or Unknown, classifies their location text and writes the result. Listings already holding a real zone are never touched.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		batchSize, _ := cmd.Flags().GetInt("batch-size")
		concurrency, _ := cmd.Flags().GetInt("concurrency")
		asJSON, _ := cmd.Flags().GetBool("json")
		if batchSize > 0 {
			cfg.Zones.BatchSize = batchSize
		}
		if concurrency > 0 {
			cfg.Zones.Concurrency = concurrency
		}
		if err := cfg.Validate("update"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		classifier, err := loadClassifier()
		if err != nil {
			return err
		}

		u := zone.NewUpdater(st, classifier, zone.UpdaterConfig{
			BatchSize:       cfg.Zones.BatchSize,
			Concurrency:     cfg.Zones.Concurrency,
			OpTimeout:       cfg.Zones.OpTimeout(),
			WritesPerSecond: cfg.Zones.WritesPerSecond,
			Retry:           cfg.Retry.Policy(),
			MaxFailures:     cfg.Zones.MaxFailures,
		})

		summary, runErr := u.Run(ctx)
		if summary != nil {
			out := cmd.OutOrStdout()
			if asJSON {
				if err := writeJSON(out, summary); err != nil {
					return err
				}
			} else {
				formatSummary(out, summary)
			}
		}
		if runErr != nil {
			return eris.Wrap(runErr, "zones update")
		}
		return nil
	},
}

func formatSummary(w io.Writer, s *model.UpdateSummary) {
	fmt.Fprintf(w, "Run:        %s\n", s.RunID)
	fmt.Fprintf(w, "Scanned:    %d\n", s.TotalDocuments)
	fmt.Fprintf(w, "Updated:    %d\n", s.UpdatedCount)
	fmt.Fprintf(w, "Unmapped:   %d\n", s.UnmappedCount)
	fmt.Fprintf(w, "Failed:     %d\n", s.FailedCount)
	fmt.Fprintf(w, "Conflicts:  %d\n", s.ConflictCount)
	fmt.Fprintf(w, "Batches:    %d\n", s.Batches)

	if len(s.ZoneDistribution) > 0 {
		fmt.Fprintln(w)
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ZONE\tLISTINGS")
		for _, zc := range s.ZoneDistribution {
			fmt.Fprintf(tw, "%s\t%d\n", zc.Zone, zc.Count)
		}
		tw.Flush() //nolint:errcheck
	}

	for _, f := range s.Failures {
		fmt.Fprintf(w, "failed %s -> %s: %s\n", f.ID, f.Zone, f.Error)
	}
}

// -- zones classify --

var zonesClassifyCmd = &cobra.Command{
	Use:   "classify <location>...",
	Short: "Print the zone each location text classifies to",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		classifier, err := loadClassifier()
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		for _, loc := range args {
			z := classifier.Classify(loc)
			zap.L().Debug("classified", zap.String("location", loc), zap.String("zone", z))
			fmt.Fprintf(tw, "%s\t%s\n", loc, z)
		}
		return tw.Flush()
	},
}

// -- zones list --

var zonesListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the keyword table in match order",
	RunE: func(cmd *cobra.Command, _ []string) error {
		classifier, err := loadClassifier()
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "KEYWORD\tZONE")
		for _, e := range classifier.Table() {
			fmt.Fprintf(tw, "%s\t%s\n", e.Keyword, e.Zone)
		}
		return tw.Flush()
	},
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(v), "encode json")
}

func init() {
	zonesUpdateCmd.Flags().Int("batch-size", 0, "listings per batch (default from config)")
	zonesUpdateCmd.Flags().Int("concurrency", 0, "concurrent writes per batch (default from config)")
	zonesUpdateCmd.Flags().Bool("json", false, "print the run summary as JSON")

	zonesCmd.AddCommand(zonesUpdateCmd, zonesClassifyCmd, zonesListCmd)
	rootCmd.AddCommand(zonesCmd)
}
