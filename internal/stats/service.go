package stats

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/zonestats/internal/model"
	"github.com/sells-group/zonestats/internal/store"
)

// Store is the document store surface the statistics service needs.
type Store interface {
	QueryByRoomPrefix(ctx context.Context, prefix string) ([]model.Listing, error)
}

// Service computes statistics over listings read from a Store.
type Service struct {
	store   Store
	agg     *Aggregator
	timeout time.Duration
}

// NewService creates a Service.
func NewService(st Store, agg *Aggregator) *Service {
	return &Service{store: st, agg: agg}
}

// WithTimeout bounds each store query by d. Zero leaves the caller's
// context as is.
func (s *Service) WithTimeout(d time.Duration) *Service {
	s.timeout = d
	return s
}

// ComputeZoneStatistics loads the listings matching roomFilter and
// aggregates them. An empty store yields an empty result; a store that
// cannot be reached yields an error matching store.ErrUnavailable. Other
// store errors are returned unclassified.
func (s *Service) ComputeZoneStatistics(ctx context.Context, roomFilter string, opts Options) ([]model.ZoneStatistics, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	listings, err := s.store.QueryByRoomPrefix(ctx, roomFilter)
	if err != nil {
		zap.L().Error("query listings for statistics failed",
			zap.String("component", "stats"),
			zap.String("room_filter", roomFilter),
			zap.Error(err),
		)
		return nil, store.Classify("query rooms", err)
	}

	opts.RoomFilter = roomFilter
	return s.agg.Compute(listings, opts), nil
}
