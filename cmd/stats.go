package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/zonestats/internal/model"
	"github.com/sells-group/zonestats/internal/stats"
)

var statsCmd = &cobra.Command{
	Use:   "stats [rooms]",
	Short: "Print per-zone price and area statistics",
	Long:  "Aggregates listings whose room count starts with the given number (\"2\" matches \"2 camere\" but not \"20\"). Without an argument every listing is included.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("stats"); err != nil {
			return err
		}
		rooms := ""
		if len(args) == 1 {
			rooms = args[0]
		}
		sortFlag, _ := cmd.Flags().GetString("sort")
		fill, _ := cmd.Flags().GetBool("fill")
		unknown, _ := cmd.Flags().GetBool("unknown")
		asJSON, _ := cmd.Flags().GetBool("json")

		ctx := cmd.Context()
		result, err := computeStats(ctx, rooms, stats.Options{
			Sort:             stats.ParseSortOrder(sortFlag),
			FillMissingZones: fill,
			IncludeUnknown:   unknown,
		})
		if err != nil {
			return eris.Wrap(err, "stats")
		}

		if asJSON {
			return writeJSON(cmd.OutOrStdout(), result)
		}
		formatStats(cmd.OutOrStdout(), result)
		return nil
	},
}

// computeStats opens the store and aggregates one room filter.
func computeStats(ctx context.Context, rooms string, opts stats.Options) ([]model.ZoneStatistics, error) {
	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	defer st.Close() //nolint:errcheck

	classifier, err := loadClassifier()
	if err != nil {
		return nil, err
	}
	return newStatsService(st, classifier).ComputeZoneStatistics(ctx, rooms, opts)
}

func formatStats(w io.Writer, result []model.ZoneStatistics) {
	if len(result) == 0 {
		fmt.Fprintln(w, "No listings matched.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "ZONE\tLISTINGS\tAVG PRICE\tMIN\tMAX\tAVG AREA\tPRICE/AREA\t")
	for _, s := range result {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t\n",
			s.Zone, s.ListingCount, s.AveragePrice, s.MinPrice, s.MaxPrice, s.AverageArea, s.PricePerArea)
	}
	tw.Flush() //nolint:errcheck
}

func init() {
	statsCmd.Flags().String("sort", "zone", "result order: zone or count")
	statsCmd.Flags().Bool("fill", false, "include known zones without listings as zero rows")
	statsCmd.Flags().Bool("unknown", false, "include listings whose zone is Unknown")
	statsCmd.Flags().Bool("json", false, "print JSON instead of a table")
	rootCmd.AddCommand(statsCmd)
}
