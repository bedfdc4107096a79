package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/zonestats/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
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
	scraped_at      INTEGER NOT NULL DEFAULT 0,
	mapped_zone     TEXT,
	zone_updated_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_listings_mapped_zone ON listings(mapped_zone);
CREATE INDEX IF NOT EXISTS idx_listings_rooms ON listings(rooms);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) UpsertListings(ctx context.Context, listings []model.Listing) (int64, error) {
	if len(listings) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin upsert")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO listings (id, title, location, price_amount, price_currency, area, rooms, floor, url, scraped_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			location = excluded.location,
			price_amount = excluded.price_amount,
			price_currency = excluded.price_currency,
			area = excluded.area,
			rooms = excluded.rooms,
			floor = excluded.floor,
			url = excluded.url,
			scraped_at = excluded.scraped_at`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare upsert")
	}
	defer stmt.Close()

	var n int64
	for _, l := range listings {
		res, err := stmt.ExecContext(ctx, listingRow(l)...)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert listing %s", l.ID)
		}
		affected, _ := res.RowsAffected()
		n += affected
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit upsert")
	}
	return n, nil
}

func (s *SQLiteStore) ListListings(ctx context.Context, filter ListingFilter) ([]model.Listing, error) {
	query := selectListing + ` WHERE (? = '' OR mapped_zone = ?) ORDER BY id`
	args := []any{filter.Zone, filter.Zone}
	if filter.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list listings")
	}
	return collectSQLListings(rows, "sqlite: list listings")
}

func (s *SQLiteStore) QueryByRoomPrefix(ctx context.Context, prefix string) ([]model.Listing, error) {
	exact, like := roomPatterns(prefix)
	var (
		rows *sql.Rows
		err  error
	)
	if exact == "" {
		rows, err = s.db.QueryContext(ctx, selectListing+` ORDER BY id`)
	} else {
		rows, err = s.db.QueryContext(ctx,
			selectListing+` WHERE LOWER(TRIM(rooms)) = ? OR LOWER(TRIM(rooms)) LIKE ? ESCAPE '\' ORDER BY id`,
			exact, like,
		)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: query rooms %q", prefix)
	}
	return collectSQLListings(rows, "sqlite: query rooms")
}

func (s *SQLiteStore) FindUnresolved(ctx context.Context, afterID string, limit int) ([]model.UnresolvedListing, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, location FROM listings WHERE `+unresolvedClause+` AND id > ? ORDER BY id LIMIT ?`,
		afterID, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find unresolved")
	}
	defer rows.Close()

	var out []model.UnresolvedListing
	for rows.Next() {
		var u model.UnresolvedListing
		if err := rows.Scan(&u.ID, &u.LocationText); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan unresolved")
		}
		out = append(out, u)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate unresolved")
}

func (s *SQLiteStore) WriteZone(ctx context.Context, id, zone string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE listings SET mapped_zone = ?, zone_updated_at = ? WHERE id = ? AND `+unresolvedClause,
		zone, time.Now().UTC(), id,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: write zone %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n == 1, nil
}

func (s *SQLiteStore) CountByZone(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT mapped_zone, COUNT(*) FROM listings WHERE mapped_zone IS NOT NULL AND mapped_zone <> '' GROUP BY mapped_zone`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count by zone")
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var zone string
		var n int
		if err := rows.Scan(&zone, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan zone count")
		}
		counts[zone] = n
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: iterate zone counts")
}

func (s *SQLiteStore) CountByLocation(ctx context.Context) ([]LocationCount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT location, COUNT(*) AS n FROM listings GROUP BY location ORDER BY n DESC, location`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count by location")
	}
	defer rows.Close()

	var out []LocationCount
	for rows.Next() {
		var lc LocationCount
		if err := rows.Scan(&lc.Location, &lc.Count); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan location count")
		}
		out = append(out, lc)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate location counts")
}

func collectSQLListings(rows *sql.Rows, op string) ([]model.Listing, error) {
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
