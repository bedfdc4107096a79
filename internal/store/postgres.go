package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/zonestats/internal/db"
	"github.com/sells-group/zonestats/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS listings (
	id              TEXT PRIMARY KEY,
	title           TEXT NOT NULL DEFAULT '',
	location        TEXT NOT NULL DEFAULT '',
	price_amount    TEXT NOT NULL DEFAULT '',
	price_currency  TEXT NOT NULL DEFAULT '',
	area            TEXT NOT NULL DEFAULT '',
	rooms           TEXT NOT NULL DEFAULT '',
	floor           TEXT NOT NULL DEFAULT '',
	url             TEXT NOT NULL DEFAULT '',
	scraped_at      BIGINT NOT NULL DEFAULT 0,
	mapped_zone     TEXT,
	zone_updated_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_listings_mapped_zone ON listings(mapped_zone);
CREATE INDEX IF NOT EXISTS idx_listings_rooms ON listings(LOWER(TRIM(rooms)));
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// UpsertListings inserts or refreshes listings by id. mapped_zone is never
// written here; only the zone updater assigns zones. A repeated id within
// the batch keeps its last occurrence.
func (s *PostgresStore) UpsertListings(ctx context.Context, listings []model.Listing) (int64, error) {
	listings = lastByID(listings)
	rows := make([][]any, 0, len(listings))
	for _, l := range listings {
		rows = append(rows, listingRow(l))
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:         "listings",
		Columns:       listingColumns,
		ConflictKeys:  []string{"id"},
		SkipUnchanged: true,
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: upsert listings")
	}
	return n, nil
}

// lastByID drops earlier duplicates of an id, keeping first-seen order.
// A single INSERT ... ON CONFLICT cannot touch the same row twice.
func lastByID(listings []model.Listing) []model.Listing {
	pos := make(map[string]int, len(listings))
	out := make([]model.Listing, 0, len(listings))
	for _, l := range listings {
		if i, ok := pos[l.ID]; ok {
			out[i] = l
			continue
		}
		pos[l.ID] = len(out)
		out = append(out, l)
	}
	return out
}

func (s *PostgresStore) ListListings(ctx context.Context, filter ListingFilter) ([]model.Listing, error) {
	query := selectListing + ` WHERE ($1 = '' OR mapped_zone = $1) ORDER BY id`
	args := []any{filter.Zone}
	if filter.Limit > 0 {
		query += ` LIMIT $2 OFFSET $3`
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list listings")
	}
	return collectListings(rows, "postgres: list listings")
}

func (s *PostgresStore) QueryByRoomPrefix(ctx context.Context, prefix string) ([]model.Listing, error) {
	exact, like := roomPatterns(prefix)
	var (
		rows pgx.Rows
		err  error
	)
	if exact == "" {
		rows, err = s.pool.Query(ctx, selectListing+` ORDER BY id`)
	} else {
		rows, err = s.pool.Query(ctx,
			selectListing+` WHERE LOWER(TRIM(rooms)) = $1 OR LOWER(TRIM(rooms)) LIKE $2 ESCAPE '\' ORDER BY id`,
			exact, like,
		)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: query rooms %q", prefix)
	}
	return collectListings(rows, "postgres: query rooms")
}

func (s *PostgresStore) FindUnresolved(ctx context.Context, afterID string, limit int) ([]model.UnresolvedListing, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, location FROM listings WHERE `+unresolvedClause+` AND id > $1 ORDER BY id LIMIT $2`,
		afterID, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find unresolved")
	}
	defer rows.Close()

	var out []model.UnresolvedListing
	for rows.Next() {
		var u model.UnresolvedListing
		if err := rows.Scan(&u.ID, &u.LocationText); err != nil {
			return nil, eris.Wrap(err, "postgres: scan unresolved")
		}
		out = append(out, u)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate unresolved")
}

// WriteZone assigns zone to listing id only if the listing is still
// unresolved. It reports false when another writer got there first.
func (s *PostgresStore) WriteZone(ctx context.Context, id, zone string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE listings SET mapped_zone = $2, zone_updated_at = now() WHERE id = $1 AND `+unresolvedClause,
		id, zone,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: write zone %s", id)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) CountByZone(ctx context.Context) (map[string]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT mapped_zone, COUNT(*) FROM listings WHERE mapped_zone IS NOT NULL AND mapped_zone <> '' GROUP BY mapped_zone`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count by zone")
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var zone string
		var n int64
		if err := rows.Scan(&zone, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan zone count")
		}
		counts[zone] = int(n)
	}
	return counts, eris.Wrap(rows.Err(), "postgres: iterate zone counts")
}

func (s *PostgresStore) CountByLocation(ctx context.Context) ([]LocationCount, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT location, COUNT(*) AS n FROM listings GROUP BY location ORDER BY n DESC, location`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count by location")
	}
	defer rows.Close()

	var out []LocationCount
	for rows.Next() {
		var lc LocationCount
		var n int64
		if err := rows.Scan(&lc.Location, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan location count")
		}
		lc.Count = int(n)
		out = append(out, lc)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate location counts")
}

func collectListings(rows pgx.Rows, op string) ([]model.Listing, error) {
	defer rows.Close()
	var out []model.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, eris.Wrapf(err, "%s: scan", op)
		}
		out = append(out, l)
	}
	return out, eris.Wrapf(rows.Err(), "%s: iterate", op)
}
