// Package report renders listing reports for operators: raw location
// frequencies and per-zone statistics workbooks.
package report

import (
	"context"
	"fmt"
	"io"

	"github.com/rotisserie/eris"

	"github.com/sells-group/zonestats/internal/store"
	"github.com/sells-group/zonestats/internal/zone"
)

// LocationSource counts listings per raw location string.
type LocationSource interface {
	CountByLocation(ctx context.Context) ([]store.LocationCount, error)
}

// LocationRow is a location count with the zone its text classifies to.
type LocationRow struct {
	store.LocationCount
	Zone string `json:"zone"`
}

// Locations returns location counts, most frequent first, each annotated
// with its classified zone. A nil classifier uses the default table.
func Locations(ctx context.Context, src LocationSource, c *zone.Classifier) ([]LocationRow, error) {
	counts, err := src.CountByLocation(ctx)
	if err != nil {
		return nil, store.Unavailable("count by location", err)
	}
	if c == nil {
		c = zone.NewClassifier(zone.DefaultTable())
	}

	rows := make([]LocationRow, 0, len(counts))
	for _, lc := range counts {
		rows = append(rows, LocationRow{LocationCount: lc, Zone: c.Classify(lc.Location)})
	}
	return rows, nil
}

// WriteLocations prints rows as aligned text.
func WriteLocations(w io.Writer, rows []LocationRow) error {
	total := 0
	for _, r := range rows {
		total += r.Count
		if _, err := fmt.Fprintf(w, "%6d  %-40s  %s\n", r.Count, r.Location, r.Zone); err != nil {
			return eris.Wrap(err, "report: write locations")
		}
	}
	_, err := fmt.Fprintf(w, "%6d  total across %d locations\n", total, len(rows))
	return eris.Wrap(err, "report: write locations")
}
