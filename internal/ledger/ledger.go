// Package ledger records which input files were already ingested and the
// history of step runs. It replaces renaming consumed files on disk.
package ledger

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/callbatch/internal/model"
)

// Ledger is the bookkeeping store shared by every step.
type Ledger interface {
	Migrate(ctx context.Context) error
	Close() error

	// Consumed reports whether source was already merged into a store.
	Consumed(ctx context.Context, source string) (bool, error)
	// MarkConsumed records source as merged. Marking twice is a no-op.
	MarkConsumed(ctx context.Context, source string, kind model.SourceKind, rows int) error
	// ListConsumed returns consumed sources, most recent first.
	ListConsumed(ctx context.Context, limit int) ([]model.ConsumedSource, error)

	// StartRun records the start of a step and returns its run id.
	StartRun(ctx context.Context, step string) (string, error)
	CompleteRun(ctx context.Context, runID string, rows int64) error
	FailRun(ctx context.Context, runID string, errMsg string) error
	// ListRuns returns runs, most recent first. limit <= 0 means 100.
	ListRuns(ctx context.Context, limit int) ([]model.Run, error)
}

// Config selects and configures a Ledger backend.
type Config struct {
	Driver      string // "sqlite" (default) or "postgres"
	DatabaseURL string // file path for sqlite, DSN for postgres
}

// New creates the configured backend and runs its migration.
func New(ctx context.Context, cfg Config) (Ledger, error) {
	var (
		l   Ledger
		err error
	)
	switch cfg.Driver {
	case "", "sqlite":
		dsn := cfg.DatabaseURL
		if dsn == "" {
			dsn = "callbatch.db"
		}
		l, err = NewSQLite(dsn)
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, eris.New("ledger: postgres requires store.database_url")
		}
		l, err = NewPostgres(ctx, cfg.DatabaseURL)
	default:
		return nil, eris.Errorf("ledger: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := l.Migrate(ctx); err != nil {
		_ = l.Close()
		return nil, err
	}
	return l, nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	return limit
}
