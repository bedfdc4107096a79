package stats

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/zonestats/internal/model"
	"github.com/sells-group/zonestats/internal/store"
)

const (
	zoneA = "Timisoara, zona Cetatii"
	zoneB = "Timisoara, zona Fabric"
	zoneC = "Timisoara, zona Lipovei"
)

func listing(zone, amount, currency, area, rooms string) model.Listing {
	return model.Listing{
		AssignedZone: zone,
		Price:        model.Price{Amount: amount, Currency: currency},
		Area:         area,
		RoomCount:    rooms,
	}
}

func TestCompute_CurrencyConversion(t *testing.T) {
	agg := NewAggregator(NewConverter("EUR", map[string]float64{"RON": 4.9}), nil)
	got := agg.Compute([]model.Listing{
		listing(zoneA, "100", "EUR", "50 m²", "2 camere"),
		listing(zoneA, "200", "EUR", "60 m²", "2 camere"),
		listing(zoneA, "300", "RON", "70 m²", "2 camere"),
	}, Options{})

	require.Len(t, got, 1)
	s := got[0]
	assert.Equal(t, zoneA, s.Zone)
	// 300 RON / 4.9 = 61.22 EUR is the smallest sample.
	assert.Equal(t, int64(61), s.MinPrice)
	assert.Equal(t, int64(200), s.MaxPrice)
	assert.Equal(t, int64(120), s.AveragePrice) // mean(100, 200, 61.22) = 120.41
	assert.Equal(t, int64(60), s.AverageArea)
	assert.Equal(t, int64(2), s.PricePerArea) // 120.41 / 60
	assert.Equal(t, int64(3), s.ListingCount)
}

func TestCompute_NoValidArea(t *testing.T) {
	agg := NewAggregator(nil, nil)
	got := agg.Compute([]model.Listing{
		listing(zoneA, "500", "EUR", "", "2"),
		listing(zoneA, "700", "EUR", "n/a", "2"),
	}, Options{})

	require.Len(t, got, 1)
	assert.Equal(t, int64(600), got[0].AveragePrice)
	assert.Equal(t, int64(0), got[0].AverageArea)
	assert.Equal(t, int64(0), got[0].PricePerArea)
	assert.Equal(t, int64(2), got[0].ListingCount)
}

func TestCompute_InvalidPricesExcluded(t *testing.T) {
	agg := NewAggregator(nil, nil)
	got := agg.Compute([]model.Listing{
		listing(zoneA, "", "EUR", "50", ""),
		listing(zoneA, "0", "EUR", "50", ""),
		listing(zoneA, "pret la cerere", "EUR", "50", ""),
		listing(zoneA, "400", "EUR", "50", ""),
	}, Options{})

	require.Len(t, got, 1)
	assert.Equal(t, int64(400), got[0].MinPrice)
	assert.Equal(t, int64(400), got[0].MaxPrice)
	assert.Equal(t, int64(400), got[0].AveragePrice)
	assert.Equal(t, int64(8), got[0].PricePerArea)
	assert.Equal(t, int64(4), got[0].ListingCount, "count reflects membership")
}

func TestCompute_NoValidPrice(t *testing.T) {
	agg := NewAggregator(nil, nil)
	got := agg.Compute([]model.Listing{listing(zoneA, "abc", "EUR", "45 mp", "")}, Options{})

	require.Len(t, got, 1)
	assert.Equal(t, model.ZoneStatistics{Zone: zoneA, AverageArea: 45, ListingCount: 1}, got[0])
}

func TestCompute_RoundsOnlyAtBoundary(t *testing.T) {
	agg := NewAggregator(nil, nil)
	got := agg.Compute([]model.Listing{listing(zoneA, "115", "EUR", "10.45", "")}, Options{})

	require.Len(t, got, 1)
	assert.Equal(t, int64(115), got[0].AveragePrice)
	assert.Equal(t, int64(10), got[0].AverageArea)
	// 115 / 10.45 = 11.0; the rounded figures would give 115 / 10 = 11.5.
	assert.Equal(t, int64(11), got[0].PricePerArea)
}

func TestCompute_OutOfRangeValuesExcluded(t *testing.T) {
	agg := NewAggregator(nil, nil)
	got := agg.Compute([]model.Listing{
		listing(zoneA, "1e19", "EUR", "1e30 m2", ""),
		listing(zoneA, "99999999999999999999", "EUR", "99999999999999999999 m²", ""),
	}, Options{})

	require.Len(t, got, 1)
	s := got[0]
	assert.Equal(t, int64(2), s.ListingCount)
	assert.Zero(t, s.AveragePrice)
	assert.Zero(t, s.MinPrice)
	assert.Zero(t, s.MaxPrice)
	assert.Equal(t, int64(1), s.AverageArea, "only the leading digits of 1e30 parse")
	assert.Zero(t, s.PricePerArea)
}

func TestCompute_ConvertedPriceSaturates(t *testing.T) {
	agg := NewAggregator(NewConverter("EUR", map[string]float64{"XXX": 1e-12}), nil)
	got := agg.Compute([]model.Listing{listing(zoneA, "1000000000000", "XXX", "1", "")}, Options{})

	require.Len(t, got, 1)
	assert.Equal(t, int64(math.MaxInt64), got[0].AveragePrice)
	assert.Equal(t, int64(math.MaxInt64), got[0].MinPrice)
	assert.Equal(t, int64(math.MaxInt64), got[0].MaxPrice)
	assert.Equal(t, int64(math.MaxInt64), got[0].PricePerArea)
}

func TestRound(t *testing.T) {
	assert.Equal(t, int64(0), round(0))
	assert.Equal(t, int64(3), round(2.5))
	assert.Equal(t, int64(0), round(-4))
	assert.Equal(t, int64(0), round(math.NaN()))
	assert.Equal(t, int64(math.MaxInt64), round(1e19))
	assert.Equal(t, int64(math.MaxInt64), round(math.Inf(1)))
}

func TestCompute_RoomFilter(t *testing.T) {
	agg := NewAggregator(nil, nil)
	listings := []model.Listing{
		listing(zoneA, "100", "EUR", "50", "2 camere"),
		listing(zoneA, "900", "EUR", "50", "20 camere"),
		listing(zoneB, "300", "EUR", "50", "12"),
		listing(zoneB, "400", "EUR", "50", "2"),
	}

	got := agg.Compute(listings, Options{RoomFilter: "2"})
	require.Len(t, got, 2)
	assert.Equal(t, int64(100), got[0].AveragePrice)
	assert.Equal(t, int64(1), got[0].ListingCount)
	assert.Equal(t, int64(400), got[1].AveragePrice)
}

func TestCompute_SkipsUnresolved(t *testing.T) {
	agg := NewAggregator(nil, nil)
	listings := []model.Listing{
		listing("", "100", "EUR", "50", ""),
		listing(model.UnknownZone, "200", "EUR", "50", ""),
		listing(zoneA, "300", "EUR", "50", ""),
	}

	got := agg.Compute(listings, Options{})
	require.Len(t, got, 1)
	assert.Equal(t, zoneA, got[0].Zone)

	got = agg.Compute(listings, Options{IncludeUnknown: true})
	require.Len(t, got, 2)
	assert.Equal(t, model.UnknownZone, got[1].Zone)
	assert.Equal(t, int64(200), got[1].AveragePrice)
}

func TestCompute_Sort(t *testing.T) {
	agg := NewAggregator(nil, nil)
	listings := []model.Listing{
		listing(zoneC, "100", "EUR", "50", ""),
		listing(zoneB, "100", "EUR", "50", ""),
		listing(zoneB, "100", "EUR", "50", ""),
		listing(zoneA, "100", "EUR", "50", ""),
	}

	byZone := agg.Compute(listings, Options{Sort: SortByZone})
	assert.Equal(t, []string{zoneA, zoneB, zoneC}, zonesOf(byZone))

	byCount := agg.Compute(listings, Options{Sort: SortByCount})
	assert.Equal(t, []string{zoneB, zoneA, zoneC}, zonesOf(byCount))
}

func TestCompute_FillMissingZones(t *testing.T) {
	agg := NewAggregator(nil, []string{zoneC, zoneA, zoneB})
	listings := []model.Listing{
		listing(zoneA, "100", "EUR", "50", ""),
		listing("Timisoara, zona Noua", "100", "EUR", "50", ""),
		listing(model.UnknownZone, "100", "EUR", "50", ""),
	}

	got := agg.Compute(listings, Options{FillMissingZones: true})
	assert.Equal(t, []string{zoneA, zoneB, zoneC}, zonesOf(got))
	assert.Equal(t, int64(1), got[0].ListingCount)
	assert.Equal(t, model.ZoneStatistics{Zone: zoneB}, got[1])
	assert.Equal(t, model.ZoneStatistics{Zone: zoneC}, got[2])

	withUnknown := agg.Compute(listings, Options{FillMissingZones: true, IncludeUnknown: true})
	assert.Equal(t, []string{zoneA, zoneB, zoneC, model.UnknownZone}, zonesOf(withUnknown))
}

func TestCompute_EmptyInput(t *testing.T) {
	agg := NewAggregator(nil, []string{zoneA})
	got := agg.Compute(nil, Options{})
	assert.NotNil(t, got)
	assert.Empty(t, got)

	filled := agg.Compute(nil, Options{FillMissingZones: true})
	assert.Equal(t, []model.ZoneStatistics{{Zone: zoneA}}, filled)
}

func TestParseSortOrder(t *testing.T) {
	assert.Equal(t, SortByCount, ParseSortOrder("count"))
	assert.Equal(t, SortByCount, ParseSortOrder(" COUNT "))
	assert.Equal(t, SortByZone, ParseSortOrder("zone"))
	assert.Equal(t, SortByZone, ParseSortOrder(""))
}

func zonesOf(s []model.ZoneStatistics) []string {
	out := make([]string, 0, len(s))
	for _, z := range s {
		out = append(out, z.Zone)
	}
	return out
}

type fakeStore struct {
	listings []model.Listing
	err      error
	prefix   string
	deadline time.Time
}

func (f *fakeStore) QueryByRoomPrefix(ctx context.Context, prefix string) ([]model.Listing, error) {
	f.prefix = prefix
	f.deadline, _ = ctx.Deadline()
	return f.listings, f.err
}

func TestService_ComputeZoneStatistics(t *testing.T) {
	st := &fakeStore{listings: []model.Listing{
		listing(zoneA, "100", "EUR", "50", "2 camere"),
		listing(zoneA, "900", "EUR", "50", "20 camere"),
	}}
	svc := NewService(st, NewAggregator(nil, nil))

	got, err := svc.ComputeZoneStatistics(context.Background(), "2", Options{})
	require.NoError(t, err)
	assert.Equal(t, "2", st.prefix)
	require.Len(t, got, 1)
	assert.Equal(t, int64(1), got[0].ListingCount, "filter also applied in memory")
}

func TestService_EmptyIsNotAnError(t *testing.T) {
	svc := NewService(&fakeStore{}, NewAggregator(nil, nil))
	got, err := svc.ComputeZoneStatistics(context.Background(), "3", Options{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestService_StoreFailureIsUnavailable(t *testing.T) {
	cause := errors.New("connection refused")
	svc := NewService(&fakeStore{err: cause}, NewAggregator(nil, nil))

	got, err := svc.ComputeZoneStatistics(context.Background(), "2", Options{})
	require.Error(t, err)
	assert.Nil(t, got)
	assert.True(t, store.IsUnavailable(err))
	assert.ErrorIs(t, err, cause)
}

func TestService_WithTimeoutBoundsQuery(t *testing.T) {
	st := &fakeStore{}
	svc := NewService(st, NewAggregator(nil, nil)).WithTimeout(5 * time.Second)

	before := time.Now()
	_, err := svc.ComputeZoneStatistics(context.Background(), "", Options{})
	require.NoError(t, err)
	require.False(t, st.deadline.IsZero(), "query context should carry a deadline")
	assert.WithinDuration(t, before.Add(5*time.Second), st.deadline, time.Second)
}

func TestService_NoTimeoutKeepsContext(t *testing.T) {
	st := &fakeStore{}
	_, err := NewService(st, NewAggregator(nil, nil)).ComputeZoneStatistics(context.Background(), "", Options{})
	require.NoError(t, err)
	assert.True(t, st.deadline.IsZero())
}
