// Package consolidate keeps one entry per key across repeated ingest runs and
// rewrites the whole snapshot atomically after each merge.
package consolidate

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/callbatch/internal/model"
)

// codec reads and writes a full snapshot at a path.
type codec interface {
	name() string
	read(ctx context.Context, path string) ([]model.Entry, error)
	write(ctx context.Context, path string, entries []model.Entry) error
}

// Store is a consolidated snapshot file keyed by one field.
type Store struct {
	path     string
	keyField string
	codec    codec
	log      *zap.Logger
}

// Open returns a Store for path. The format follows the extension: ".parquet"
// selects the columnar codec, anything else a single-table SQLite file whose
// key column is named keyField. Nothing is read until Load.
func Open(path, keyField string) *Store {
	var c codec
	if strings.EqualFold(filepath.Ext(path), ".parquet") {
		c = parquetCodec{}
	} else {
		c = sqliteCodec{keyField: keyField}
	}
	return &Store{
		path:     path,
		keyField: keyField,
		codec:    c,
		log: zap.L().With(
			zap.String("component", "consolidate"),
			zap.String("path", path),
			zap.String("key_field", keyField),
		),
	}
}

// Path returns the snapshot location.
func (s *Store) Path() string { return s.path }

// KeyField returns the name of the key column.
func (s *Store) KeyField() string { return s.keyField }

// Load reads the snapshot. A missing, empty or unreadable snapshot yields an
// empty slice and a warning; Load never fails.
func (s *Store) Load(ctx context.Context) []model.Entry {
	info, err := os.Stat(s.path)
	if err != nil {
		s.log.Warn("consolidate: store not found, starting empty", zap.Error(err))
		return nil
	}
	if info.Size() == 0 {
		s.log.Warn("consolidate: store is empty, starting empty")
		return nil
	}

	entries, err := s.codec.read(ctx, s.path)
	if err != nil {
		s.log.Warn("consolidate: store unreadable, treating as empty",
			zap.String("codec", s.codec.name()),
			zap.Error(err),
		)
		return nil
	}

	s.log.Debug("consolidate: loaded", zap.Int("entries", len(entries)))
	return entries
}

// Persist replaces the snapshot with entries. The new content is written to a
// temporary file in the same directory and renamed over the target, so a
// failure leaves the previous snapshot untouched.
func (s *Store) Persist(ctx context.Context, entries []model.Entry) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "consolidate: create dir %s", dir)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(s.path)+"-*")
	if err != nil {
		return eris.Wrap(err, "consolidate: create temp file")
	}
	tmpPath := tmp.Name()
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return eris.Wrap(err, "consolidate: close temp file")
	}

	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
			_ = os.Remove(tmpPath + "-journal")
		}
	}()

	if err := s.codec.write(ctx, tmpPath, entries); err != nil {
		return eris.Wrapf(err, "consolidate: write %s snapshot", s.codec.name())
	}
	if err := syncFile(tmpPath); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return eris.Wrapf(err, "consolidate: rename into %s", s.path)
	}
	committed = true
	syncDir(dir)

	s.log.Info("consolidate: persisted", zap.Int("entries", len(entries)))
	return nil
}

func syncFile(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return eris.Wrap(err, "consolidate: reopen temp file")
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return eris.Wrap(err, "consolidate: sync temp file")
	}
	return eris.Wrap(f.Close(), "consolidate: close synced file")
}

// syncDir flushes the directory entry after a rename. Some platforms do not
// support it, so failures are ignored.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
