// Package model defines the listing and zone statistics types shared across
// the classifier, the aggregator and the store.
package model

import "strings"

// UnknownZone is the zone assigned to listings whose location text matched
// no keyword.
const UnknownZone = "Unknown"

// Price is a listing's asking price as scraped. Amount is kept as text
// because the source data is not reliably numeric.
type Price struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

// Listing is a rental listing. The core only reads it and annotates
// AssignedZone.
type Listing struct {
	ID           string `json:"listing_id"`
	Title        string `json:"title,omitempty"`
	LocationText string `json:"location"`
	Price        Price  `json:"price"`
	Area         string `json:"area,omitempty"`
	RoomCount    string `json:"rooms,omitempty"`
	Floor        string `json:"floor,omitempty"`
	URL          string `json:"url,omitempty"`
	ScrapedAt    int64  `json:"scraped_at,omitempty"`
	AssignedZone string `json:"mapped_zone,omitempty"`
}

// IsResolved reports whether the listing carries a real zone, i.e. neither
// absent nor Unknown.
func (l *Listing) IsResolved() bool {
	return IsResolvedZone(l.AssignedZone)
}

// IsResolvedZone reports whether zone names a real zone.
func IsResolvedZone(zone string) bool {
	z := strings.TrimSpace(zone)
	return z != "" && z != UnknownZone
}

// UnresolvedListing is the projection the batch updater needs: identity and
// the location text to classify.
type UnresolvedListing struct {
	ID           string
	LocationText string
}
