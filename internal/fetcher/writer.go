package fetcher

import (
	"encoding/csv"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"

	"github.com/sells-group/callbatch/internal/model"
)

// WriteOptions configures WriteDelimited.
type WriteOptions struct {
	Delimiter rune // default ','
	// BOM prefixes the file with a UTF-8 byte order mark so spreadsheet
	// tools detect the encoding.
	BOM bool
}

// WriteDelimited writes header and rows to path. The file is built under a
// temporary name in the same directory and renamed into place, so readers
// never observe a partial file.
func WriteDelimited(path string, header []string, rows [][]string, opts WriteOptions) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "write: create dir %s", dir)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return eris.Wrap(err, "write: create temp file")
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if opts.BOM {
		if _, err := tmp.WriteString("\ufeff"); err != nil {
			return eris.Wrap(err, "write: bom")
		}
	}

	w := csv.NewWriter(tmp)
	if opts.Delimiter != 0 {
		w.Comma = opts.Delimiter
	}
	if err := w.Write(header); err != nil {
		return eris.Wrap(err, "write: header")
	}
	if err := w.WriteAll(rows); err != nil {
		return eris.Wrap(err, "write: rows")
	}

	if err := tmp.Sync(); err != nil {
		return eris.Wrap(err, "write: sync")
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "write: close")
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return eris.Wrap(err, "write: chmod")
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return eris.Wrapf(err, "write: rename into %s", path)
	}
	committed = true

	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

// WriteTable writes a table with its header through WriteDelimited.
func WriteTable(path string, tbl *model.Table, opts WriteOptions) error {
	rows := make([][]string, len(tbl.Rows))
	for i, r := range tbl.Rows {
		rows[i] = r
	}
	return WriteDelimited(path, tbl.Header.Names(), rows, opts)
}
