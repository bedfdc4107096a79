package model

import (
	"sort"

	"github.com/google/uuid"
)

// ZoneStatistics holds the aggregated price and area figures for one zone.
// All values are rounded to whole units and are zero when the zone has no
// valid samples.
type ZoneStatistics struct {
	Zone         string `json:"zone"`
	AveragePrice int64  `json:"average_price"`
	MinPrice     int64  `json:"min_price"`
	MaxPrice     int64  `json:"max_price"`
	AverageArea  int64  `json:"average_area"`
	PricePerArea int64  `json:"price_per_area"`
	ListingCount int64  `json:"listing_count"`
}

// ZoneCount is the number of listings assigned to a zone.
type ZoneCount struct {
	Zone  string `json:"zone"`
	Count int    `json:"count"`
}

// SortZoneCounts converts a zone→count map into a slice sorted by count
// descending, then zone name ascending.
func SortZoneCounts(counts map[string]int) []ZoneCount {
	out := make([]ZoneCount, 0, len(counts))
	for z, c := range counts {
		out = append(out, ZoneCount{Zone: z, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Zone < out[j].Zone
	})
	return out
}

// RecordFailure describes a single listing whose zone could not be written.
type RecordFailure struct {
	ID    string `json:"id"`
	Zone  string `json:"zone"`
	Error string `json:"error"`
}

// UpdateSummary reports the outcome of one zone update pass.
type UpdateSummary struct {
	RunID            uuid.UUID       `json:"run_id"`
	TotalDocuments   int             `json:"total_documents"`
	UpdatedCount     int             `json:"updated_count"`
	UnmappedCount    int             `json:"unmapped_count"`
	FailedCount      int             `json:"failed_count"`
	ConflictCount    int             `json:"conflict_count"`
	Batches          int             `json:"batches"`
	ZoneDistribution []ZoneCount     `json:"zone_distribution"`
	Failures         []RecordFailure `json:"failures,omitempty"`
}
