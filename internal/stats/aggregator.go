// Package stats computes per-zone price and area statistics from listings.
package stats

import (
	"math"
	"sort"
	"strings"

	"github.com/sells-group/zonestats/internal/model"
)

// SortOrder selects the ordering of computed statistics.
type SortOrder int

const (
	// SortByZone orders by zone name ascending.
	SortByZone SortOrder = iota
	// SortByCount orders by listing count descending, then zone name.
	SortByCount
)

// ParseSortOrder maps "count" to SortByCount and anything else to SortByZone.
func ParseSortOrder(s string) SortOrder {
	if strings.EqualFold(strings.TrimSpace(s), "count") {
		return SortByCount
	}
	return SortByZone
}

// Options controls filtering and shaping of the result.
type Options struct {
	RoomFilter       string
	Sort             SortOrder
	FillMissingZones bool // emit a zero row for every known zone without listings
	IncludeUnknown   bool
}

// Aggregator groups listings by assigned zone and summarizes them.
type Aggregator struct {
	converter  *Converter
	knownZones []string
}

// NewAggregator creates an Aggregator. knownZones is the set used when
// FillMissingZones is requested.
func NewAggregator(conv *Converter, knownZones []string) *Aggregator {
	if conv == nil {
		conv = DefaultConverter()
	}
	zones := make([]string, len(knownZones))
	copy(zones, knownZones)
	return &Aggregator{converter: conv, knownZones: zones}
}

// KnownZones returns the zone set used for filling.
func (a *Aggregator) KnownZones() []string {
	out := make([]string, len(a.knownZones))
	copy(out, a.knownZones)
	return out
}

// accumulator keeps unrounded running figures for one zone.
type accumulator struct {
	count    int64
	priceSum float64
	priceMin float64
	priceMax float64
	priceN   int
	areaSum  float64
	areaN    int
}

func (acc *accumulator) addPrice(v float64) {
	if acc.priceN == 0 || v < acc.priceMin {
		acc.priceMin = v
	}
	if acc.priceN == 0 || v > acc.priceMax {
		acc.priceMax = v
	}
	acc.priceSum += v
	acc.priceN++
}

func (acc *accumulator) addArea(v float64) {
	acc.areaSum += v
	acc.areaN++
}

func (acc *accumulator) result(zone string) model.ZoneStatistics {
	s := model.ZoneStatistics{Zone: zone, ListingCount: acc.count}

	var avgPrice, avgArea float64
	if acc.priceN > 0 {
		avgPrice = acc.priceSum / float64(acc.priceN)
		s.AveragePrice = round(avgPrice)
		s.MinPrice = round(acc.priceMin)
		s.MaxPrice = round(acc.priceMax)
	}
	if acc.areaN > 0 {
		avgArea = acc.areaSum / float64(acc.areaN)
		s.AverageArea = round(avgArea)
	}
	if avgPrice > 0 && avgArea > 0 {
		s.PricePerArea = round(avgPrice / avgArea)
	}
	return s
}

// round rounds half away from zero, saturating at the int64 range.
func round(v float64) int64 {
	r := math.Round(v)
	switch {
	case math.IsNaN(r) || r <= 0:
		return 0
	case r >= math.MaxInt64:
		return math.MaxInt64
	}
	return int64(r)
}

// Compute returns statistics for every zone represented among listings that
// match opts.RoomFilter. Malformed prices and areas are left out of their
// samples but still count toward ListingCount. The result is never nil.
func (a *Aggregator) Compute(listings []model.Listing, opts Options) []model.ZoneStatistics {
	groups := make(map[string]*accumulator)
	for i := range listings {
		l := &listings[i]
		if !MatchRoomPrefix(l.RoomCount, opts.RoomFilter) {
			continue
		}
		zone := strings.TrimSpace(l.AssignedZone)
		if zone == "" || (zone == model.UnknownZone && !opts.IncludeUnknown) {
			continue
		}

		acc, ok := groups[zone]
		if !ok {
			acc = &accumulator{}
			groups[zone] = acc
		}
		acc.count++
		if amount, ok := ParseAmount(l.Price.Amount); ok {
			acc.addPrice(a.converter.ToReference(amount, l.Price.Currency))
		}
		if area, ok := ParseArea(l.Area); ok {
			acc.addArea(area)
		}
	}

	var zones []string
	if opts.FillMissingZones {
		zones = a.KnownZones()
		if opts.IncludeUnknown {
			zones = append(zones, model.UnknownZone)
		}
	} else {
		for z := range groups {
			zones = append(zones, z)
		}
	}

	out := make([]model.ZoneStatistics, 0, len(zones))
	seen := make(map[string]bool, len(zones))
	for _, z := range zones {
		if seen[z] {
			continue
		}
		seen[z] = true
		if acc, ok := groups[z]; ok {
			out = append(out, acc.result(z))
		} else {
			out = append(out, model.ZoneStatistics{Zone: z})
		}
	}

	sortStatistics(out, opts.Sort)
	return out
}

func sortStatistics(s []model.ZoneStatistics, order SortOrder) {
	sort.SliceStable(s, func(i, j int) bool {
		if order == SortByCount && s[i].ListingCount != s[j].ListingCount {
			return s[i].ListingCount > s[j].ListingCount
		}
		return s[i].Zone < s[j].Zone
	})
}
