package main

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/zonestats/internal/model"
	"github.com/sells-group/zonestats/internal/report"
	"github.com/sells-group/zonestats/internal/stats"
	"github.com/sells-group/zonestats/internal/store"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Operator reports over the listing store",
}

// -- report locations --

var reportLocationsCmd = &cobra.Command{
	Use:   "locations",
	Short: "Count listings per raw location text, most frequent first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("report"); err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")

		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		classifier, err := loadClassifier()
		if err != nil {
			return err
		}

		rows, err := report.Locations(ctx, st, classifier)
		if err != nil {
			return eris.Wrap(err, "report locations")
		}
		if limit > 0 && len(rows) > limit {
			rows = rows[:limit]
		}

		if asJSON {
			return writeJSON(cmd.OutOrStdout(), rows)
		}
		return report.WriteLocations(cmd.OutOrStdout(), rows)
	},
}

// -- report export --

var reportExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export per-zone statistics to an XLSX workbook",
	Long:  "Writes one sheet of zone statistics per room filter, plus the zone distribution of all listings.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("report"); err != nil {
			return err
		}
		out, _ := cmd.Flags().GetString("out")
		rooms, _ := cmd.Flags().GetStringSlice("rooms")
		fill, _ := cmd.Flags().GetBool("fill")

		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		sheets, dist, err := buildExport(ctx, st, rooms, fill)
		if err != nil {
			return eris.Wrap(err, "report export")
		}
		if err := report.SaveWorkbook(out, sheets, dist); err != nil {
			return err
		}

		zap.L().Info("report exported",
			zap.String("path", out),
			zap.Int("sheets", len(sheets)),
		)
		return nil
	},
}

// buildExport computes one statistics sheet per room filter and the overall
// zone distribution. An empty filter covers every listing.
func buildExport(ctx context.Context, st store.Store, rooms []string, fill bool) ([]report.StatsSheet, []model.ZoneCount, error) {
	classifier, err := loadClassifier()
	if err != nil {
		return nil, nil, err
	}
	svc := newStatsService(st, classifier)

	if len(rooms) == 0 {
		rooms = []string{""}
	}
	sheets := make([]report.StatsSheet, 0, len(rooms))
	for _, r := range rooms {
		result, err := svc.ComputeZoneStatistics(ctx, r, stats.Options{FillMissingZones: fill})
		if err != nil {
			return nil, nil, err
		}
		sheets = append(sheets, report.StatsSheet{Name: sheetTitle(r), Stats: result})
	}

	countCtx, cancel := opContext(ctx)
	defer cancel()
	counts, err := st.CountByZone(countCtx)
	if err != nil {
		return nil, nil, store.Unavailable("count by zone", err)
	}
	return sheets, model.SortZoneCounts(counts), nil
}

func sheetTitle(rooms string) string {
	switch rooms {
	case "":
		return "All listings"
	case "1":
		return "1 room"
	default:
		return rooms + " rooms"
	}
}

func init() {
	reportLocationsCmd.Flags().Int("limit", 0, "print only the N most frequent locations")
	reportLocationsCmd.Flags().Bool("json", false, "print JSON instead of text")

	reportExportCmd.Flags().String("out", "zone-stats.xlsx", "output workbook path")
	reportExportCmd.Flags().StringSlice("rooms", []string{"1", "2", "3", "4"}, "room filters, one sheet each")
	reportExportCmd.Flags().Bool("fill", false, "include known zones without listings as zero rows")

	reportCmd.AddCommand(reportLocationsCmd, reportExportCmd)
	rootCmd.AddCommand(reportCmd)
}
