package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"unicode"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/zonestats/internal/mapdata"
	"github.com/sells-group/zonestats/internal/model"
	"github.com/sells-group/zonestats/internal/stats"
	"github.com/sells-group/zonestats/internal/store"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()

	resp := map[string]string{
		"status":   "ok",
		"database": "connected",
		"breaker":  s.store.breaker.State().String(),
	}
	if err := s.store.Ping(ctx); err != nil {
		zap.L().Warn("health check: store unreachable", zap.Error(err))
		resp["status"] = "degraded"
		resp["database"] = "unavailable"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRentals(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()

	q := r.URL.Query()
	filter := store.ListingFilter{Zone: strings.TrimSpace(q.Get("zone"))}
	var err error
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	if filter.Offset, err = intParam(q.Get("offset")); err != nil {
		writeError(w, http.StatusBadRequest, "invalid offset")
		return
	}

	listings, err := s.store.ListListings(ctx, filter)
	if err != nil {
		s.storeError(w, "list rentals", err)
		return
	}
	if listings == nil {
		listings = []model.Listing{}
	}
	writeJSON(w, http.StatusOK, listings)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	rooms := digitsOnly(chi.URLParam(r, "rooms"))
	if rooms == "" {
		writeError(w, http.StatusBadRequest, "rooms must contain a number")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()

	q := r.URL.Query()
	opts := stats.Options{
		Sort:             stats.ParseSortOrder(q.Get("sort")),
		FillMissingZones: boolParam(q.Get("fill")),
		IncludeUnknown:   boolParam(q.Get("unknown")),
	}
	result, err := s.stats.ComputeZoneStatistics(ctx, rooms, opts)
	if err != nil {
		s.storeError(w, "zone statistics", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleMap(w http.ResponseWriter, r *http.Request) {
	if s.polygons == nil {
		writeError(w, http.StatusNotFound, "zone polygons not configured")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()

	rooms := digitsOnly(r.URL.Query().Get("rooms"))
	result, err := s.stats.ComputeZoneStatistics(ctx, rooms, stats.Options{Sort: stats.SortByCount})
	if err != nil {
		s.storeError(w, "map statistics", err)
		return
	}
	writeJSON(w, http.StatusOK, mapdata.Enrich(s.polygons, result, s.cfg.ZoneProperty))
}

func (s *Server) handleMapStatic(w http.ResponseWriter, _ *http.Request) {
	if s.polygons == nil {
		writeError(w, http.StatusNotFound, "zone polygons not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.polygons)
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	location := r.URL.Query().Get("location")
	writeJSON(w, http.StatusOK, map[string]string{
		"location": location,
		"zone":     s.classifier.Classify(location),
	})
}

// storeError reports store failures as 503 and anything else as 500. No
// placeholder data is served in either case.
func (s *Server) storeError(w http.ResponseWriter, op string, err error) {
	zap.L().Error("api: "+op+" failed", zap.String("component", "api"), zap.Error(err))
	if store.IsUnavailable(err) {
		writeError(w, http.StatusServiceUnavailable, "listing store unavailable")
		return
	}
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func digitsOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if r < unicode.MaxASCII && unicode.IsDigit(r) {
			return r
		}
		return -1
	}, s)
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, strconv.ErrSyntax
	}
	return n, nil
}

func boolParam(s string) bool {
	b, _ := strconv.ParseBool(s)
	return b
}
