package consolidate

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/callbatch/internal/model"
)

// sqliteCodec stores a snapshot as a single "entries" table:
// (<key_field> TEXT PRIMARY KEY, observed TEXT, fields TEXT as JSON).
type sqliteCodec struct {
	keyField string
}

func (sqliteCodec) name() string { return "sqlite" }

func quoteIdent(s string) string {
	if s == "" {
		s = "key"
	}
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func (c sqliteCodec) read(ctx context.Context, path string) ([]model.Entry, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open snapshot")
	}
	defer db.Close() //nolint:errcheck

	// Columns are read by position so a renamed key column still loads.
	rows, err := db.QueryContext(ctx, `SELECT * FROM entries`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query entries")
	}
	defer rows.Close() //nolint:errcheck

	cols, err := rows.Columns()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: columns")
	}
	if len(cols) != 3 {
		return nil, eris.Errorf("sqlite: entries has %d columns, want 3", len(cols))
	}

	var out []model.Entry
	for rows.Next() {
		var key, observed string
		var fields sql.NullString
		if err := rows.Scan(&key, &observed, &fields); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan entry")
		}
		t, err := time.Parse(time.RFC3339Nano, observed)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: parse observed for %s", key)
		}
		e := model.Entry{Key: key, Observed: t}
		if fields.Valid && fields.String != "" {
			if err := json.Unmarshal([]byte(fields.String), &e.Fields); err != nil {
				return nil, eris.Wrapf(err, "sqlite: decode fields for %s", key)
			}
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate entries")
}

func (c sqliteCodec) write(ctx context.Context, path string, entries []model.Entry) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return eris.Wrap(err, "sqlite: open snapshot")
	}
	defer db.Close() //nolint:errcheck
	db.SetMaxOpenConns(1)

	ddl := `CREATE TABLE entries (` + quoteIdent(c.keyField) + ` TEXT PRIMARY KEY, observed TEXT NOT NULL, fields TEXT)`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return eris.Wrap(err, "sqlite: create entries")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO entries VALUES (?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare insert")
	}
	defer stmt.Close() //nolint:errcheck

	for _, e := range entries {
		fields, err := json.Marshal(e.Fields)
		if err != nil {
			return eris.Wrapf(err, "sqlite: encode fields for %s", e.Key)
		}
		if _, err := stmt.ExecContext(ctx, e.Key, e.Observed.UTC().Format(time.RFC3339Nano), string(fields)); err != nil {
			return eris.Wrapf(err, "sqlite: insert %s", e.Key)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit")
}
