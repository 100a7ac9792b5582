package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// StagedUpsert loads rows into table through a temp staging table and folds
// them in with INSERT ... ON CONFLICT, all inside the caller's transaction so
// it can be combined with other statements (a pre-delete, sibling tables)
// atomically. Every column outside keyCols is updated on conflict. Used for
// rate-card ingestion, where a re-ingested sheet carries mostly the same
// entries and row-at-a-time inserts would hammer the pool.
func StagedUpsert(ctx context.Context, tx pgx.Tx, table string, cols, keyCols []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(cols) == 0 || len(keyCols) == 0 {
		return 0, eris.Errorf("db: upsert %s: columns and conflict keys are required", table)
	}

	staging := pgx.Identifier{"_staging_" + table}
	createSQL := fmt.Sprintf(
		"CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		staging.Sanitize(), pgx.Identifier{table}.Sanitize(),
	)
	if _, err := tx.Exec(ctx, createSQL); err != nil {
		return 0, eris.Wrapf(err, "db: upsert %s: create staging table", table)
	}

	if _, err := tx.CopyFrom(ctx, staging, cols, pgx.CopyFromRows(rows)); err != nil {
		return 0, eris.Wrapf(err, "db: upsert %s: COPY into staging table", table)
	}

	tag, err := tx.Exec(ctx, foldSQL(table, staging.Sanitize(), cols, keyCols))
	if err != nil {
		return 0, eris.Wrapf(err, "db: upsert %s: fold staging rows", table)
	}
	return tag.RowsAffected(), nil
}

// foldSQL builds the INSERT ... SELECT ... ON CONFLICT DO UPDATE statement
// that moves staged rows into the target table.
func foldSQL(table, staging string, cols, keyCols []string) string {
	isKey := make(map[string]bool, len(keyCols))
	for _, k := range keyCols {
		isKey[k] = true
	}

	var sets []string
	for _, c := range cols {
		if isKey[c] {
			continue
		}
		q := pgx.Identifier{c}.Sanitize()
		sets = append(sets, q+" = EXCLUDED."+q)
	}

	return fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) DO UPDATE SET %s",
		pgx.Identifier{table}.Sanitize(),
		quoteAndJoin(cols), quoteAndJoin(cols),
		staging,
		quoteAndJoin(keyCols),
		strings.Join(sets, ", "),
	)
}

func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
