// Package store persists listings and exposes the document-store operations
// the zone updater and the statistics aggregator consume.
package store

import (
	"context"
	"strings"

	"github.com/sells-group/zonestats/internal/model"
)

// ListingFilter specifies criteria for listing rentals.
type ListingFilter struct {
	Zone   string `json:"zone,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// LocationCount is the number of listings sharing one raw location string.
type LocationCount struct {
	Location string `json:"location"`
	Count    int    `json:"count"`
}

// Store defines the persistence interface for listings.
type Store interface {
	// Listings
	UpsertListings(ctx context.Context, listings []model.Listing) (int64, error)
	ListListings(ctx context.Context, filter ListingFilter) ([]model.Listing, error)
	QueryByRoomPrefix(ctx context.Context, prefix string) ([]model.Listing, error)

	// Zone resolution
	FindUnresolved(ctx context.Context, afterID string, limit int) ([]model.UnresolvedListing, error)
	WriteZone(ctx context.Context, id, zone string) (bool, error)
	CountByZone(ctx context.Context) (map[string]int, error)
	CountByLocation(ctx context.Context) ([]LocationCount, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// unresolvedClause selects listings without a real zone.
const unresolvedClause = `(mapped_zone IS NULL OR mapped_zone = '' OR mapped_zone = 'Unknown')`

// listingColumns is the column order shared by inserts and selects.
var listingColumns = []string{
	"id", "title", "location", "price_amount", "price_currency",
	"area", "rooms", "floor", "url", "scraped_at",
}

const selectListing = `SELECT id, title, location, price_amount, price_currency, area, rooms, floor, url, scraped_at, COALESCE(mapped_zone, '') FROM listings`

// roomPatterns returns the exact and LIKE arguments for a room-prefix
// query: "2" matches "2" and "2 ..." but never "20 ...".
func roomPatterns(prefix string) (exact, like string) {
	p := strings.ToLower(strings.TrimSpace(prefix))
	return p, escapeLike(p) + " %"
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// listingRow flattens a listing into listingColumns order.
func listingRow(l model.Listing) []any {
	return []any{
		l.ID, l.Title, l.LocationText, l.Price.Amount, l.Price.Currency,
		l.Area, l.RoomCount, l.Floor, l.URL, l.ScrapedAt,
	}
}

// scanner is satisfied by both pgx.Rows and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanListing(s scanner) (model.Listing, error) {
	var l model.Listing
	err := s.Scan(
		&l.ID, &l.Title, &l.LocationText, &l.Price.Amount, &l.Price.Currency,
		&l.Area, &l.RoomCount, &l.Floor, &l.URL, &l.ScrapedAt, &l.AssignedZone,
	)
	return l, err
}
