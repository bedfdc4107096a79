package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/zonestats/internal/mapdata"
	"github.com/sells-group/zonestats/internal/model"
	"github.com/sells-group/zonestats/internal/resilience"
	"github.com/sells-group/zonestats/internal/store"
	"github.com/sells-group/zonestats/internal/zone"
)

type fakeStore struct {
	mu       sync.Mutex
	listings []model.Listing
	err      error
	prefixes []string
	filters  []store.ListingFilter
}

func (f *fakeStore) Ping(context.Context) error { return f.err }

func (f *fakeStore) ListListings(_ context.Context, filter store.ListingFilter) ([]model.Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filters = append(f.filters, filter)
	return f.listings, f.err
}

func (f *fakeStore) QueryByRoomPrefix(_ context.Context, prefix string) ([]model.Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prefixes = append(f.prefixes, prefix)
	return f.listings, f.err
}

func testListings() []model.Listing {
	return []model.Listing{
		{ID: "a1", AssignedZone: zone.ZoneCetatii, Price: model.Price{Amount: "500", Currency: "EUR"}, Area: "50 m²", RoomCount: "2 camere"},
		{ID: "a2", AssignedZone: zone.ZoneCetatii, Price: model.Price{Amount: "2450", Currency: "RON"}, Area: "50 m²", RoomCount: "2 camere"},
		{ID: "a3", AssignedZone: zone.ZoneFabric, Price: model.Price{Amount: "400", Currency: "EUR"}, Area: "40 m²", RoomCount: "2"},
		{ID: "a4", AssignedZone: model.UnknownZone, Price: model.Price{Amount: "300", Currency: "EUR"}, Area: "30", RoomCount: "2 camere"},
		{ID: "a5", AssignedZone: zone.ZoneFabric, Price: model.Price{Amount: "999", Currency: "EUR"}, Area: "99", RoomCount: "20 camere"},
	}
}

func testPolygons(t *testing.T) *geojson.FeatureCollection {
	t.Helper()
	fc, err := mapdata.ParseGeoJSON([]byte(`{"type":"FeatureCollection","features":[
		{"type":"Feature","properties":{"text":"Timisoara, zona Cetatii"},"geometry":{"type":"Point","coordinates":[21.22,45.75]}},
		{"type":"Feature","properties":{"text":"Timisoara, zona Lipovei"},"geometry":{"type":"Point","coordinates":[21.23,45.77]}}
	]}`))
	require.NoError(t, err)
	return fc
}

func newTestServer(t *testing.T, st *fakeStore, polygons *geojson.FeatureCollection) http.Handler {
	t.Helper()
	return New(Deps{Store: st, Polygons: polygons}, Config{
		RequestTimeout: time.Second,
		Breaker:        resilience.BreakerConfig{FailureThreshold: 2, ResetTimeout: time.Minute},
	}).Handler()
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	h := newTestServer(t, &fakeStore{}, nil)
	rec := get(t, h, "/api/health")
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "connected", body["database"])
	assert.Equal(t, "closed", body["breaker"])
}

func TestHealth_StoreDown(t *testing.T) {
	h := newTestServer(t, &fakeStore{err: errors.New("connection refused")}, nil)
	rec := get(t, h, "/api/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"database":"unavailable"`)
}

func TestRentals(t *testing.T) {
	st := &fakeStore{listings: testListings()}
	h := newTestServer(t, st, nil)

	rec := get(t, h, "/api/rentals?zone=Timisoara,%20zona%20Fabric&limit=10&offset=5")
	require.Equal(t, http.StatusOK, rec.Code)

	var got []model.Listing
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Len(t, got, 5)
	assert.Equal(t, store.ListingFilter{Zone: zone.ZoneFabric, Limit: 10, Offset: 5}, st.filters[0])
}

func TestRentals_Empty(t *testing.T) {
	rec := get(t, newTestServer(t, &fakeStore{}, nil), "/api/rentals")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestRentals_BadLimit(t *testing.T) {
	rec := get(t, newTestServer(t, &fakeStore{}, nil), "/api/rentals?limit=abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStats(t *testing.T) {
	st := &fakeStore{listings: testListings()}
	h := newTestServer(t, st, nil)

	rec := get(t, h, "/api/rentals/stats/2")
	require.Equal(t, http.StatusOK, rec.Code)

	var got []model.ZoneStatistics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, zone.ZoneCetatii, got[0].Zone)
	// 500 EUR and 2450 RON (500 EUR).
	assert.Equal(t, int64(500), got[0].AveragePrice)
	assert.Equal(t, int64(10), got[0].PricePerArea)
	assert.Equal(t, int64(2), got[0].ListingCount)
	assert.Equal(t, zone.ZoneFabric, got[1].Zone)
	assert.Equal(t, int64(1), got[1].ListingCount, "20 camere is not a 2-room listing")
	assert.Equal(t, []string{"2"}, st.prefixes)
}

func TestStats_SanitizesRooms(t *testing.T) {
	st := &fakeStore{listings: testListings()}
	h := newTestServer(t, st, nil)

	rec := get(t, h, "/api/rentals/stats/2-camere")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"2"}, st.prefixes)

	rec = get(t, h, "/api/rentals/stats/abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStats_Options(t *testing.T) {
	h := newTestServer(t, &fakeStore{listings: testListings()}, nil)

	rec := get(t, h, "/api/rentals/stats/2?fill=true&unknown=true&sort=count")
	require.Equal(t, http.StatusOK, rec.Code)

	var got []model.ZoneStatistics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Len(t, got, len(zone.DefaultTable().Zones())+1)
	assert.Equal(t, zone.ZoneCetatii, got[0].Zone)
	assert.Equal(t, int64(2), got[0].ListingCount)
}

func TestStats_StoreUnavailable(t *testing.T) {
	h := newTestServer(t, &fakeStore{err: errors.New("connection refused")}, nil)

	rec := get(t, h, "/api/rentals/stats/2")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"error":"listing store unavailable"}`, rec.Body.String())
}

func TestStats_BreakerOpensAfterFailures(t *testing.T) {
	st := &fakeStore{err: errors.New("connection refused")}
	h := newTestServer(t, st, nil)

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusServiceUnavailable, get(t, h, "/api/rentals/stats/2").Code)
	}
	rec := get(t, h, "/api/rentals/stats/2")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Len(t, st.prefixes, 2, "open circuit rejects without calling the store")
}

func TestStats_QueryErrorIsInternal(t *testing.T) {
	st := &fakeStore{err: errors.New(`relation "listings" does not exist`)}
	h := newTestServer(t, st, nil)

	for i := 0; i < 3; i++ {
		rec := get(t, h, "/api/rentals/stats/2")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.JSONEq(t, `{"error":"internal error"}`, rec.Body.String())
	}
	assert.Len(t, st.prefixes, 3, "query errors do not open the circuit")
}

func TestRentals_QueryErrorIsInternal(t *testing.T) {
	h := newTestServer(t, &fakeStore{err: errors.New("can't scan into dest[0]")}, nil)
	assert.Equal(t, http.StatusInternalServerError, get(t, h, "/api/rentals").Code)
}

func TestMap(t *testing.T) {
	h := newTestServer(t, &fakeStore{listings: testListings()}, testPolygons(t))

	rec := get(t, h, "/api/rentals/map")
	require.Equal(t, http.StatusOK, rec.Code)

	var fc geojson.FeatureCollection
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fc))
	require.Len(t, fc.Features, 2)

	cetate := fc.Features[0].Properties
	assert.Equal(t, float64(2), cetate[mapdata.PropListingCount])

	lipovei := fc.Features[1].Properties
	assert.Equal(t, float64(0), lipovei[mapdata.PropListingCount])
	assert.Equal(t, float64(0), lipovei[mapdata.PropAveragePrice])
}

func TestMap_NoPolygons(t *testing.T) {
	h := newTestServer(t, &fakeStore{}, nil)
	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/rentals/map").Code)
	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/rentals/map-static").Code)
}

func TestMap_StoreUnavailable(t *testing.T) {
	h := newTestServer(t, &fakeStore{err: errors.New("i/o timeout")}, testPolygons(t))
	assert.Equal(t, http.StatusServiceUnavailable, get(t, h, "/api/rentals/map").Code)
}

func TestMapStatic(t *testing.T) {
	st := &fakeStore{err: errors.New("down")}
	h := newTestServer(t, st, testPolygons(t))

	rec := get(t, h, "/api/rentals/map-static")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Timisoara, zona Lipovei")
	assert.Empty(t, st.prefixes)
}

func TestClassify(t *testing.T) {
	h := newTestServer(t, &fakeStore{}, nil)

	rec := get(t, h, "/api/zones/classify?location=Cet%C4%83%C8%9Bea")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"location":"Cetățea","zone":"Timisoara, zona Cetatii"}`, rec.Body.String())

	rec = get(t, h, "/api/zones/classify")
	assert.JSONEq(t, `{"location":"","zone":"Unknown"}`, rec.Body.String())
}

func TestCORS(t *testing.T) {
	h := newTestServer(t, &fakeStore{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestDigitsOnly(t *testing.T) {
	assert.Equal(t, "2", digitsOnly("2"))
	assert.Equal(t, "23", digitsOnly("2;DROP3"))
	assert.Equal(t, "", digitsOnly("٢"))
}
