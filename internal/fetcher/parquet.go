package fetcher

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/parquet-go/parquet-go"
	"github.com/rotisserie/eris"

	"github.com/sells-group/callbatch/internal/model"
)

// IsParquet reports whether path names a parquet file.
func IsParquet(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".parquet")
}

// readParquet loads a flat parquet file as text rows. Nested columns are
// named by their dotted path. Nulls read as "".
func readParquet(path string, opts TableOptions) (*model.Table, ReadStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, ReadStats{}, eris.Wrapf(err, "parquet: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	info, err := f.Stat()
	if err != nil {
		return nil, ReadStats{}, eris.Wrapf(err, "parquet: stat %s", path)
	}
	pf, err := parquet.OpenFile(f, info.Size())
	if err != nil {
		return nil, ReadStats{}, eris.Wrapf(err, "parquet: read footer %s", path)
	}

	leaves := pf.Schema().Columns()
	names := make([]string, len(leaves))
	for i, p := range leaves {
		names[i] = strings.Join(p, ".")
	}
	if len(opts.Columns) > 0 {
		names = opts.Columns
	}

	var rows []model.Record
	buf := make([]parquet.Row, 512)
	for _, rg := range pf.RowGroups() {
		rr := rg.Rows()
		for {
			n, err := rr.ReadRows(buf)
			for _, row := range buf[:n] {
				rec := make(model.Record, len(leaves))
				for _, v := range row {
					c := v.Column()
					if c >= 0 && c < len(rec) && !v.IsNull() {
						rec[c] = valueText(v)
					}
				}
				rows = append(rows, rec)
			}
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				_ = rr.Close()
				return nil, ReadStats{}, eris.Wrapf(err, "parquet: read rows %s", path)
			}
			if n == 0 {
				break
			}
		}
		if err := rr.Close(); err != nil {
			return nil, ReadStats{}, eris.Wrapf(err, "parquet: close row group %s", path)
		}
	}
	return &model.Table{Header: model.NewHeader(names), Rows: rows}, ReadStats{Rows: len(rows)}, nil
}

func valueText(v parquet.Value) string {
	switch v.Kind() {
	case parquet.Boolean:
		return strconv.FormatBool(v.Boolean())
	case parquet.Int32:
		return strconv.FormatInt(int64(v.Int32()), 10)
	case parquet.Int64:
		return strconv.FormatInt(v.Int64(), 10)
	case parquet.Float:
		return strconv.FormatFloat(float64(v.Float()), 'f', -1, 32)
	case parquet.Double:
		return strconv.FormatFloat(v.Double(), 'f', -1, 64)
	case parquet.ByteArray, parquet.FixedLenByteArray:
		return string(v.ByteArray())
	default:
		return v.String()
	}
}
