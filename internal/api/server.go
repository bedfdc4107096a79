// Package api serves listings, zone statistics and enriched zone polygons
// over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/sells-group/zonestats/internal/model"
	"github.com/sells-group/zonestats/internal/resilience"
	"github.com/sells-group/zonestats/internal/stats"
	"github.com/sells-group/zonestats/internal/store"
	"github.com/sells-group/zonestats/internal/zone"
)

// Store is the read side of the listing store used by the API.
type Store interface {
	Ping(ctx context.Context) error
	ListListings(ctx context.Context, filter store.ListingFilter) ([]model.Listing, error)
	QueryByRoomPrefix(ctx context.Context, prefix string) ([]model.Listing, error)
}

// Config holds the API's tunables.
type Config struct {
	CORSOrigins    []string
	ZoneProperty   string
	RequestTimeout time.Duration
	Breaker        resilience.BreakerConfig
}

// Deps are the collaborators the API serves from.
type Deps struct {
	Store      Store
	Aggregator *stats.Aggregator
	Classifier *zone.Classifier
	Polygons   *geojson.FeatureCollection // nil disables the map routes
}

// Server holds the HTTP handlers.
type Server struct {
	store      *guardedStore
	stats      *stats.Service
	classifier *zone.Classifier
	polygons   *geojson.FeatureCollection
	cfg        Config
}

const defaultRequestTimeout = 10 * time.Second

// New creates a Server. Store calls go through a circuit breaker.
func New(deps Deps, cfg Config) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.Breaker.OnStateChange == nil {
		cfg.Breaker.OnStateChange = func(from, to resilience.State) {
			zap.L().Warn("store circuit breaker state change",
				zap.String("component", "api"),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		}
	}
	if cfg.Breaker.Trips == nil {
		cfg.Breaker.Trips = func(err error) bool {
			return store.IsUnavailable(err) || resilience.IsTransient(err)
		}
	}
	if deps.Classifier == nil {
		deps.Classifier = zone.NewClassifier(zone.DefaultTable())
	}
	if deps.Aggregator == nil {
		deps.Aggregator = stats.NewAggregator(nil, deps.Classifier.Zones())
	}

	gs := &guardedStore{inner: deps.Store, breaker: resilience.NewBreaker(cfg.Breaker)}
	return &Server{
		store:      gs,
		stats:      stats.NewService(gs, deps.Aggregator),
		classifier: deps.Classifier,
		polygons:   deps.Polygons,
		cfg:        cfg,
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	origins := s.cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/rentals", s.handleRentals)
		r.Get("/rentals/stats/{rooms}", s.handleStats)
		r.Get("/rentals/map", s.handleMap)
		r.Get("/rentals/map-static", s.handleMapStatic)
		r.Get("/zones/classify", s.handleClassify)
	})
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// guardedStore routes store calls through a circuit breaker. Connectivity
// failures come back as store unavailability; other errors pass through.
type guardedStore struct {
	inner   Store
	breaker *resilience.Breaker
}

func (g *guardedStore) Ping(ctx context.Context) error {
	err := g.breaker.Execute(ctx, g.inner.Ping)
	return store.Classify("ping", err)
}

func (g *guardedStore) ListListings(ctx context.Context, filter store.ListingFilter) ([]model.Listing, error) {
	out, err := resilience.ExecuteVal(ctx, g.breaker, func(ctx context.Context) ([]model.Listing, error) {
		return g.inner.ListListings(ctx, filter)
	})
	return out, store.Classify("list listings", err)
}

func (g *guardedStore) QueryByRoomPrefix(ctx context.Context, prefix string) ([]model.Listing, error) {
	out, err := resilience.ExecuteVal(ctx, g.breaker, func(ctx context.Context) ([]model.Listing, error) {
		return g.inner.QueryByRoomPrefix(ctx, prefix)
	})
	return out, store.Classify("query rooms", err)
}
