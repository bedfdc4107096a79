package ingest

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/zonestats/internal/model"
	"github.com/sells-group/zonestats/internal/store"
)

const arrayExport = `[
  {"_id": {"$oid": "65f0"}, "listing_id": "a1", "title": "Apartament 2 camere",
   "price": {"amount": "450", "currency": "EUR"}, "location": "Timisoara, Cetate",
   "details": {"rooms": "2 camere", "area": "54 m²", "floor": "3"},
   "url": "https://example.ro/a1", "scraped_at": {"$numberLong": "1700000000"}},
  {"listing_id": "a2", "price": {"amount": 2200, "currency": "RON"}, "location": "Fabric",
   "details": {"rooms": 1, "area": "35"}, "scraped_at": 1700000100},
  {"title": "no id"}
]`

const linesExport = `{"listing_id": "b1", "location": "Iosefin", "details": {"rooms": "3 camere"}}
{"listing_id": "b2", "location": "Lipovei", "mapped_zone": "Timisoara, zona Lipovei"}

{"listing_id": "b3", "location": "Soarelui", "scraped_at": "1700000200"}
`

func TestDecode_Array(t *testing.T) {
	listings, skipped, err := Decode(strings.NewReader(arrayExport))
	require.NoError(t, err)
	assert.Equal(t, 1, skipped)
	require.Len(t, listings, 2)

	assert.Equal(t, model.Listing{
		ID:           "a1",
		Title:        "Apartament 2 camere",
		LocationText: "Timisoara, Cetate",
		Price:        model.Price{Amount: "450", Currency: "EUR"},
		Area:         "54 m²",
		RoomCount:    "2 camere",
		Floor:        "3",
		URL:          "https://example.ro/a1",
		ScrapedAt:    1700000000,
	}, listings[0])

	assert.Equal(t, "2200", listings[1].Price.Amount)
	assert.Equal(t, "1", listings[1].RoomCount)
	assert.Equal(t, int64(1700000100), listings[1].ScrapedAt)
}

func TestDecode_Lines(t *testing.T) {
	listings, skipped, err := Decode(strings.NewReader(linesExport))
	require.NoError(t, err)
	assert.Zero(t, skipped)
	require.Len(t, listings, 3)
	assert.Equal(t, "b1", listings[0].ID)
	assert.Equal(t, "3 camere", listings[0].RoomCount)
	assert.Equal(t, "Timisoara, zona Lipovei", listings[1].AssignedZone)
	assert.Equal(t, int64(1700000200), listings[2].ScrapedAt)
}

func TestDecode_Empty(t *testing.T) {
	listings, skipped, err := Decode(strings.NewReader("  \n"))
	require.NoError(t, err)
	assert.Empty(t, listings)
	assert.Zero(t, skipped)
}

func TestDecode_Malformed(t *testing.T) {
	_, _, err := Decode(strings.NewReader(`[{"listing_id": "a1"}, {"listing_id": `))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ingest: decode document 2")
}

func TestFlexInt(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{`1700000000`, 1700000000, false},
		{`"1700000000"`, 1700000000, false},
		{`{"$numberLong": "42"}`, 42, false},
		{`{"$numberInt": 7}`, 7, false},
		{`null`, 0, false},
		{`""`, 0, false},
		{`"soon"`, 0, true},
		{`{"$date": "2024-01-01"}`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var v flexInt
			err := v.UnmarshalJSON([]byte(tt.in))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, int64(v))
		})
	}
}

type recordingUpserter struct {
	batches [][]model.Listing
	failAt  int
}

func (r *recordingUpserter) UpsertListings(_ context.Context, listings []model.Listing) (int64, error) {
	if r.failAt > 0 && len(r.batches)+1 == r.failAt {
		return 0, errors.New("disk full")
	}
	r.batches = append(r.batches, append([]model.Listing(nil), listings...))
	return int64(len(listings)), nil
}

func TestImport_Batches(t *testing.T) {
	up := &recordingUpserter{}
	res, err := Import(context.Background(), up, strings.NewReader(linesExport), 2)
	require.NoError(t, err)

	assert.Equal(t, &Result{Read: 3, Upserted: 3, Batches: 2}, res)
	require.Len(t, up.batches, 2)
	assert.Len(t, up.batches[0], 2)
	assert.Equal(t, "b3", up.batches[1][0].ID)
}

func TestImport_UpsertError(t *testing.T) {
	up := &recordingUpserter{failAt: 2}
	res, err := Import(context.Background(), up, strings.NewReader(linesExport), 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ingest: upsert batch 2")
	assert.Equal(t, int64(2), res.Upserted)
}

func TestImport_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	up := &recordingUpserter{}
	_, err := Import(ctx, up, strings.NewReader(linesExport), 10)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, up.batches)
}

func TestImport_SQLiteKeepsZones(t *testing.T) {
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "ingest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	ctx := context.Background()
	require.NoError(t, st.Migrate(ctx))

	_, err = Import(ctx, st, strings.NewReader(linesExport), 0)
	require.NoError(t, err)

	got, err := st.ListListings(ctx, store.ListingFilter{})
	require.NoError(t, err)
	require.Len(t, got, 3)
	for _, l := range got {
		assert.Empty(t, l.AssignedZone, "imports never assign zones")
	}
}
