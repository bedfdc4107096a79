package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// UpsertConfig describes a bulk merge into Table keyed by ConflictKeys.
type UpsertConfig struct {
	Table        string   // target table, optionally schema-qualified
	Columns      []string // columns supplied by each row, in row order
	ConflictKeys []string // columns of the unique constraint
	UpdateCols   []string // columns refreshed on conflict; nil = every non-key column

	// SkipUnchanged leaves conflicting rows alone when none of UpdateCols
	// differ, so the returned count is rows inserted or actually changed.
	SkipUnchanged bool
}

// mergePlan holds the generated statements for one UpsertConfig.
type mergePlan struct {
	tempTable string
	create    string
	merge     string
}

func (cfg UpsertConfig) plan() (mergePlan, error) {
	if len(cfg.Columns) == 0 {
		return mergePlan{}, eris.New("db: upsert: no columns specified")
	}
	if len(cfg.ConflictKeys) == 0 {
		return mergePlan{}, eris.New("db: upsert: no conflict keys specified")
	}

	update := cfg.UpdateCols
	if update == nil {
		keys := make(map[string]bool, len(cfg.ConflictKeys))
		for _, k := range cfg.ConflictKeys {
			keys[k] = true
		}
		for _, c := range cfg.Columns {
			if !keys[c] {
				update = append(update, c)
			}
		}
	}

	target := sanitizeTable(cfg.Table)
	temp := "_tmp_upsert_" + strings.ReplaceAll(cfg.Table, ".", "_")
	cols := quoteAndJoin(cfg.Columns)

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s)",
		target, cols, cols, pgx.Identifier{temp}.Sanitize(), quoteAndJoin(cfg.ConflictKeys))

	if len(update) == 0 {
		b.WriteString(" DO NOTHING")
	} else {
		sets := make([]string, len(update))
		excluded := make([]string, len(update))
		for i, c := range update {
			id := pgx.Identifier{c}.Sanitize()
			sets[i] = id + " = EXCLUDED." + id
			excluded[i] = "EXCLUDED." + id
		}
		b.WriteString(" DO UPDATE SET ")
		b.WriteString(strings.Join(sets, ", "))
		if cfg.SkipUnchanged {
			fmt.Fprintf(&b, " WHERE (%s) IS DISTINCT FROM (%s)",
				qualified(target, update), strings.Join(excluded, ", "))
		}
	}

	return mergePlan{
		tempTable: temp,
		create: fmt.Sprintf("CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
			pgx.Identifier{temp}.Sanitize(), target),
		merge: b.String(),
	}, nil
}

// BulkUpsert copies rows into a temp table and merges them into the target
// in one transaction. It returns the number of rows inserted or updated.
func BulkUpsert(ctx context.Context, pool Pool, cfg UpsertConfig, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	p, err := cfg.plan()
	if err != nil {
		return 0, err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "db: upsert: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, p.create); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: create temp table for %s", cfg.Table)
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{p.tempTable}, cfg.Columns, pgx.CopyFromRows(rows)); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: copy %d rows for %s", len(rows), cfg.Table)
	}

	tag, err := tx.Exec(ctx, p.merge)
	if err != nil {
		return 0, eris.Wrapf(err, "db: upsert: merge into %s", cfg.Table)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "db: upsert: commit tx")
	}
	return tag.RowsAffected(), nil
}

// sanitizeTable quotes a table name, keeping a schema prefix separate.
func sanitizeTable(table string) string {
	if schema, name, ok := strings.Cut(table, "."); ok {
		return pgx.Identifier{schema, name}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}

func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}

// qualified prefixes each column with the quoted table.
func qualified(table string, cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = table + "." + pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(out, ", ")
}
