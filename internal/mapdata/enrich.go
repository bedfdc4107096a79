// Package mapdata joins zone statistics onto zone polygons for rendering.
package mapdata

import (
	"strings"

	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/zonestats/internal/model"
)

// DefaultZoneProperty is the feature property holding the canonical zone
// name.
const DefaultZoneProperty = "text"

// Statistic property names attached to every enriched feature.
const (
	PropAveragePrice = "average_price"
	PropMinPrice     = "min_price"
	PropMaxPrice     = "max_price"
	PropAverageArea  = "average_area"
	PropPricePerArea = "price_per_area"
	PropListingCount = "listing_count"
)

// Enrich returns a new collection in which every feature carries the
// statistics of its zone, or zeros when the zone has none. Neither fc nor
// stats is modified; geometries are shared with fc.
func Enrich(fc *geojson.FeatureCollection, stats []model.ZoneStatistics, zoneProperty string) *geojson.FeatureCollection {
	if zoneProperty == "" {
		zoneProperty = DefaultZoneProperty
	}

	byZone := make(map[string]model.ZoneStatistics, len(stats))
	for _, s := range stats {
		byZone[s.Zone] = s
	}

	out := &geojson.FeatureCollection{}
	if fc == nil {
		out.Features = []*geojson.Feature{}
		return out
	}
	out.BBox = fc.BBox
	out.Features = make([]*geojson.Feature, 0, len(fc.Features))

	for _, f := range fc.Features {
		if f == nil {
			continue
		}
		props := make(map[string]interface{}, len(f.Properties)+6)
		for k, v := range f.Properties {
			props[k] = v
		}

		s := byZone[ZoneName(f, zoneProperty)]
		props[PropAveragePrice] = s.AveragePrice
		props[PropMinPrice] = s.MinPrice
		props[PropMaxPrice] = s.MaxPrice
		props[PropAverageArea] = s.AverageArea
		props[PropPricePerArea] = s.PricePerArea
		props[PropListingCount] = s.ListingCount

		out.Features = append(out.Features, &geojson.Feature{
			ID:         f.ID,
			BBox:       f.BBox,
			Geometry:   f.Geometry,
			Properties: props,
		})
	}
	return out
}

// ZoneName returns the trimmed zone name stored under property, or "" if
// the property is missing or not a string.
func ZoneName(f *geojson.Feature, property string) string {
	if f == nil || f.Properties == nil {
		return ""
	}
	v, ok := f.Properties[property].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(v)
}
