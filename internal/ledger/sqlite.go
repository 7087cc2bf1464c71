package ledger

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/callbatch/internal/model"
)

// SQLite implements Ledger using modernc.org/sqlite.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLite, error) {
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
			_ = db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLite{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS consumed_sources (
	source      TEXT PRIMARY KEY,
	kind        TEXT NOT NULL,
	rows        INTEGER NOT NULL DEFAULT 0,
	consumed_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	step         TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	started_at   DATETIME NOT NULL,
	completed_at DATETIME,
	rows         INTEGER NOT NULL DEFAULT 0,
	error        TEXT
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
CREATE INDEX IF NOT EXISTS idx_consumed_sources_consumed_at ON consumed_sources(consumed_at);
`

func (s *SQLite) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) Consumed(ctx context.Context, source string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM consumed_sources WHERE source = ?`, source,
	).Scan(&n)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: consumed %s", source)
	}
	return n > 0, nil
}

func (s *SQLite) MarkConsumed(ctx context.Context, source string, kind model.SourceKind, rows int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO consumed_sources (source, kind, rows, consumed_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(source) DO NOTHING`,
		source, string(kind), rows, time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: mark consumed %s", source)
}

func (s *SQLite) ListConsumed(ctx context.Context, limit int) ([]model.ConsumedSource, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source, kind, rows, consumed_at FROM consumed_sources ORDER BY consumed_at DESC, source LIMIT ?`,
		normalizeLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list consumed")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.ConsumedSource
	for rows.Next() {
		var c model.ConsumedSource
		var kind string
		if err := rows.Scan(&c.Source, &kind, &c.Rows, &c.ConsumedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan consumed")
		}
		c.Kind = model.SourceKind(kind)
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list consumed iterate")
}

func (s *SQLite) StartRun(ctx context.Context, step string) (string, error) {
	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, step, status, started_at) VALUES (?, ?, ?, ?)`,
		id, step, string(model.RunStatusRunning), time.Now().UTC(),
	)
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: start run for %s", step)
	}
	return id, nil
}

func (s *SQLite) CompleteRun(ctx context.Context, runID string, rows int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, completed_at = ?, rows = ? WHERE id = ?`,
		string(model.RunStatusComplete), time.Now().UTC(), rows, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(res, runID)
}

func (s *SQLite) FailRun(ctx context.Context, runID string, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, completed_at = ?, error = ? WHERE id = ?`,
		string(model.RunStatusFailed), time.Now().UTC(), errMsg, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail run %s", runID)
	}
	return checkRowsAffected(res, runID)
}

func (s *SQLite) ListRuns(ctx context.Context, limit int) ([]model.Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, step, status, started_at, completed_at, rows, error
		 FROM runs ORDER BY started_at DESC LIMIT ?`,
		normalizeLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Run
	for rows.Next() {
		var r model.Run
		var status string
		var completedAt sql.NullTime
		var errStr sql.NullString
		if err := rows.Scan(&r.ID, &r.Step, &status, &r.StartedAt, &completedAt, &r.Rows, &errStr); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		r.Status = model.RunStatus(status)
		if completedAt.Valid {
			t := completedAt.Time
			r.CompletedAt = &t
		}
		r.Error = errStr.String
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func checkRowsAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("sqlite: run %s not found", id)
	}
	return nil
}
