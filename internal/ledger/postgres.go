package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/callbatch/internal/model"
)

// Pool is the subset of pgxpool.Pool the ledger uses. pgxmock satisfies it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres implements Ledger using a pgx pool.
type Postgres struct {
	pool    Pool
	closeFn func()
}

// NewPostgres creates a Postgres ledger with a small connection pool.
func NewPostgres(ctx context.Context, connString string) (*Postgres, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	pgxCfg.MaxConns = 4
	pgxCfg.MinConns = 1
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
	return &Postgres{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS consumed_sources (
	source      TEXT PRIMARY KEY,
	kind        TEXT NOT NULL,
	rows        INTEGER NOT NULL DEFAULT 0,
	consumed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	step         TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	started_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at TIMESTAMPTZ,
	rows         BIGINT NOT NULL DEFAULT 0,
	error        TEXT
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
CREATE INDEX IF NOT EXISTS idx_consumed_sources_consumed_at ON consumed_sources(consumed_at);
`

func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (p *Postgres) Close() error {
	if p.closeFn != nil {
		p.closeFn()
	}
	return nil
}

func (p *Postgres) Consumed(ctx context.Context, source string) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM consumed_sources WHERE source = $1)`, source,
	).Scan(&exists)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: consumed %s", source)
	}
	return exists, nil
}

func (p *Postgres) MarkConsumed(ctx context.Context, source string, kind model.SourceKind, rows int) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO consumed_sources (source, kind, rows, consumed_at) VALUES ($1, $2, $3, now())
		 ON CONFLICT (source) DO NOTHING`,
		source, string(kind), rows,
	)
	return eris.Wrapf(err, "postgres: mark consumed %s", source)
}

func (p *Postgres) ListConsumed(ctx context.Context, limit int) ([]model.ConsumedSource, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT source, kind, rows, consumed_at FROM consumed_sources ORDER BY consumed_at DESC, source LIMIT $1`,
		normalizeLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list consumed")
	}
	defer rows.Close()

	var out []model.ConsumedSource
	for rows.Next() {
		var c model.ConsumedSource
		var kind string
		if err := rows.Scan(&c.Source, &kind, &c.Rows, &c.ConsumedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan consumed")
		}
		c.Kind = model.SourceKind(kind)
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list consumed iterate")
}

func (p *Postgres) StartRun(ctx context.Context, step string) (string, error) {
	id := uuid.New().String()
	_, err := p.pool.Exec(ctx,
		`INSERT INTO runs (id, step, status, started_at) VALUES ($1, $2, $3, now())`,
		id, step, string(model.RunStatusRunning),
	)
	if err != nil {
		return "", eris.Wrapf(err, "postgres: start run for %s", step)
	}
	return id, nil
}

func (p *Postgres) CompleteRun(ctx context.Context, runID string, rows int64) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE runs SET status = $1, completed_at = now(), rows = $2 WHERE id = $3`,
		string(model.RunStatusComplete), rows, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: run %s not found", runID)
	}
	return nil
}

func (p *Postgres) FailRun(ctx context.Context, runID string, errMsg string) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE runs SET status = $1, completed_at = now(), error = $2 WHERE id = $3`,
		string(model.RunStatusFailed), errMsg, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: run %s not found", runID)
	}
	return nil
}

func (p *Postgres) ListRuns(ctx context.Context, limit int) ([]model.Run, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, step, status, started_at, completed_at, rows, error
		 FROM runs ORDER BY started_at DESC LIMIT $1`,
		normalizeLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var out []model.Run
	for rows.Next() {
		var r model.Run
		var status string
		var completedAt *time.Time
		var errStr *string
		if err := rows.Scan(&r.ID, &r.Step, &status, &r.StartedAt, &completedAt, &r.Rows, &errStr); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		r.Status = model.RunStatus(status)
		r.CompletedAt = completedAt
		if errStr != nil {
			r.Error = *errStr
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}
