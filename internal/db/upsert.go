package db

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// Dialect selects the placeholder style of generated SQL.
type Dialect int

const (
	// Postgres uses $1, $2, ... placeholders.
	Postgres Dialect = iota
	// SQLite uses ? placeholders.
	SQLite
)

// UpsertConfig describes a single-row INSERT ... ON CONFLICT DO UPDATE.
type UpsertConfig struct {
	Table        string   // target table
	Columns      []string // all columns being inserted, in argument order
	ConflictKeys []string // columns forming the unique constraint
	UpdateCols   []string // columns replaced on conflict; nil = all non-conflict columns
}

// UpsertSQL builds the statement for cfg. Both dialects accept the
// EXCLUDED pseudo-table, so a conflicting write replaces the listed columns.
func UpsertSQL(cfg UpsertConfig, d Dialect) (string, error) {
	if len(cfg.Columns) == 0 {
		return "", eris.New("db: upsert: no columns specified")
	}
	if len(cfg.ConflictKeys) == 0 {
		return "", eris.New("db: upsert: no conflict keys specified")
	}

	updateCols := cfg.UpdateCols
	if updateCols == nil {
		conflict := make(map[string]bool, len(cfg.ConflictKeys))
		for _, k := range cfg.ConflictKeys {
			conflict[k] = true
		}
		for _, c := range cfg.Columns {
			if !conflict[c] {
				updateCols = append(updateCols, c)
			}
		}
	}

	placeholders := make([]string, len(cfg.Columns))
	for i := range cfg.Columns {
		if d == SQLite {
			placeholders[i] = "?"
		} else {
			placeholders[i] = fmt.Sprintf("$%d", i+1)
		}
	}

	var sets []string
	for _, col := range updateCols {
		q := quote(col)
		sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", q, q))
	}

	action := "DO NOTHING"
	if len(sets) > 0 {
		action = "DO UPDATE SET " + strings.Join(sets, ", ")
	}

	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) %s",
		quote(cfg.Table),
		quoteAndJoin(cfg.Columns),
		strings.Join(placeholders, ", "),
		quoteAndJoin(cfg.ConflictKeys),
		action,
	), nil
}

// MustUpsertSQL is UpsertSQL for statically known configs.
func MustUpsertSQL(cfg UpsertConfig, d Dialect) string {
	s, err := UpsertSQL(cfg, d)
	if err != nil {
		panic(err)
	}
	return s
}

func quote(ident string) string {
	return pgx.Identifier{ident}.Sanitize()
}

func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quote(c)
	}
	return strings.Join(quoted, ", ")
}
