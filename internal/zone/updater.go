package zone

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/zonestats/internal/model"
	"github.com/sells-group/zonestats/internal/resilience"
	"github.com/sells-group/zonestats/internal/store"
)

// Store is the document store surface the updater needs.
type Store interface {
	FindUnresolved(ctx context.Context, afterID string, limit int) ([]model.UnresolvedListing, error)
	WriteZone(ctx context.Context, id, zone string) (bool, error)
	CountByZone(ctx context.Context) (map[string]int, error)
}

// UpdaterConfig controls batch size, parallelism and store call bounds.
type UpdaterConfig struct {
	BatchSize       int
	Concurrency     int
	OpTimeout       time.Duration
	WritesPerSecond float64 // 0 = unthrottled
	Retry           resilience.Policy
	MaxFailures     int // failures kept in the summary; the count is always exact
}

const (
	defaultBatchSize   = 500
	defaultConcurrency = 8
	defaultOpTimeout   = 10 * time.Second
	defaultMaxFailures = 100
)

func (c UpdaterConfig) withDefaults() UpdaterConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.Concurrency <= 0 {
		c.Concurrency = defaultConcurrency
	}
	if c.OpTimeout <= 0 {
		c.OpTimeout = defaultOpTimeout
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = defaultMaxFailures
	}
	return c
}

// Updater assigns zones to unresolved listings in bounded batches.
type Updater struct {
	store      Store
	classifier *Classifier
	cfg        UpdaterConfig
	limiter    *rate.Limiter
}

// NewUpdater creates an Updater. A nil classifier uses the default table.
func NewUpdater(st Store, c *Classifier, cfg UpdaterConfig) *Updater {
	if c == nil {
		c = defaultClassifier
	}
	cfg = cfg.withDefaults()
	u := &Updater{store: st, classifier: c, cfg: cfg}
	if cfg.WritesPerSecond > 0 {
		burst := int(cfg.WritesPerSecond)
		if burst < 1 {
			burst = 1
		}
		u.limiter = rate.NewLimiter(rate.Limit(cfg.WritesPerSecond), burst)
	}
	return u
}

// batchResult collects per-record outcomes from concurrent writers.
type batchResult struct {
	updated   atomic.Int64
	conflicts atomic.Int64
	failed    atomic.Int64

	mu       sync.Mutex
	failures []model.RecordFailure
}

// Run makes one pass over the unresolved listings. It always returns the
// summary accumulated so far; the error is ctx.Err() when the pass was
// cancelled between batches, or a store.ErrUnavailable failure when the
// store could not be read.
func (u *Updater) Run(ctx context.Context) (*model.UpdateSummary, error) {
	summary := &model.UpdateSummary{RunID: uuid.New()}
	log := zap.L().With(
		zap.String("component", "zone_updater"),
		zap.String("run_id", summary.RunID.String()),
	)
	log.Info("zone update pass starting",
		zap.Int("batch_size", u.cfg.BatchSize),
		zap.Int("concurrency", u.cfg.Concurrency),
	)

	start := time.Now()
	afterID := ""
	for {
		if err := ctx.Err(); err != nil {
			log.Warn("zone update pass cancelled", zap.Int("batches", summary.Batches))
			return summary, err
		}

		page, err := u.fetchPage(ctx, afterID)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return summary, ctxErr
			}
			log.Error("fetch unresolved failed", zap.String("after_id", afterID), zap.Error(err))
			return summary, store.Unavailable("find unresolved", err)
		}
		if len(page) == 0 {
			break
		}

		u.runBatch(ctx, page, summary)
		summary.Batches++
		afterID = page[len(page)-1].ID

		log.Info("zone update batch done",
			zap.Int("batch", summary.Batches),
			zap.Int("size", len(page)),
			zap.Int("updated", summary.UpdatedCount),
			zap.Int("unmapped", summary.UnmappedCount),
			zap.Int("failed", summary.FailedCount),
		)

		if len(page) < u.cfg.BatchSize {
			break
		}
	}

	counts, err := callStore(ctx, u.policy("count by zone"), u.cfg.OpTimeout, u.store.CountByZone)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return summary, ctxErr
		}
		return summary, store.Unavailable("count by zone", err)
	}
	summary.ZoneDistribution = model.SortZoneCounts(counts)

	log.Info("zone update pass complete",
		zap.Int("total", summary.TotalDocuments),
		zap.Int("updated", summary.UpdatedCount),
		zap.Int("unmapped", summary.UnmappedCount),
		zap.Int("failed", summary.FailedCount),
		zap.Int("conflicts", summary.ConflictCount),
		zap.Duration("elapsed", time.Since(start)),
	)
	return summary, nil
}

func (u *Updater) fetchPage(ctx context.Context, afterID string) ([]model.UnresolvedListing, error) {
	return callStore(ctx, u.policy("find unresolved"), u.cfg.OpTimeout,
		func(ctx context.Context) ([]model.UnresolvedListing, error) {
			return u.store.FindUnresolved(ctx, afterID, u.cfg.BatchSize)
		})
}

// runBatch classifies a page and writes resolved zones through a bounded
// pool. Writes run detached from ctx cancellation so a started batch
// settles completely; cancellation takes effect at the next boundary.
func (u *Updater) runBatch(ctx context.Context, page []model.UnresolvedListing, summary *model.UpdateSummary) {
	writeCtx := context.WithoutCancel(ctx)
	res := &batchResult{}

	var g errgroup.Group
	g.SetLimit(u.cfg.Concurrency)

	for _, rec := range page {
		summary.TotalDocuments++
		zone := u.classifier.Classify(rec.LocationText)
		if zone == model.UnknownZone {
			summary.UnmappedCount++
			continue
		}

		g.Go(func() error {
			u.writeOne(writeCtx, rec.ID, zone, res)
			return nil
		})
	}
	_ = g.Wait()

	summary.UpdatedCount += int(res.updated.Load())
	summary.ConflictCount += int(res.conflicts.Load())
	summary.FailedCount += int(res.failed.Load())
	for _, f := range res.failures {
		if len(summary.Failures) >= u.cfg.MaxFailures {
			break
		}
		summary.Failures = append(summary.Failures, f)
	}
}

func (u *Updater) writeOne(ctx context.Context, id, zone string, res *batchResult) {
	if u.limiter != nil {
		if err := u.limiter.Wait(ctx); err != nil {
			res.fail(id, zone, eris.Wrap(err, "zone: rate limit"))
			return
		}
	}

	claimed, err := callStore(ctx, u.policy("write zone"), u.cfg.OpTimeout,
		func(ctx context.Context) (bool, error) {
			return u.store.WriteZone(ctx, id, zone)
		})
	switch {
	case err != nil:
		zap.L().Warn("zone write failed",
			zap.String("component", "zone_updater"),
			zap.String("listing_id", id),
			zap.String("zone", zone),
			zap.Error(err),
		)
		res.fail(id, zone, err)
	case !claimed:
		res.conflicts.Add(1)
	default:
		res.updated.Add(1)
	}
}

func (r *batchResult) fail(id, zone string, err error) {
	r.failed.Add(1)
	r.mu.Lock()
	r.failures = append(r.failures, model.RecordFailure{ID: id, Zone: zone, Error: err.Error()})
	r.mu.Unlock()
}

func (u *Updater) policy(op string) resilience.Policy {
	p := u.cfg.Retry
	if p.OnRetry == nil {
		p.OnRetry = resilience.LogRetry(op)
	}
	return p
}

// callStore runs fn under a per-call timeout with retries. A call that hits
// its own deadline is marked transient so the retry policy picks it up.
func callStore[T any](ctx context.Context, p resilience.Policy, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	return resilience.DoVal(ctx, p, func(ctx context.Context) (T, error) {
		opCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		v, err := fn(opCtx)
		if err != nil && ctx.Err() == nil && errors.Is(opCtx.Err(), context.DeadlineExceeded) {
			err = resilience.Transient(err)
		}
		return v, err
	})
}
