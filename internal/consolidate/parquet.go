package consolidate

import (
	"context"
	"os"
	"sort"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/rotisserie/eris"

	"github.com/sells-group/callbatch/internal/model"
)

type parquetField struct {
	Name  string `parquet:"name"`
	Value string `parquet:"value"`
}

type parquetRow struct {
	Key        string         `parquet:"key"`
	ObservedMs int64          `parquet:"observed_ms"`
	Fields     []parquetField `parquet:"fields"`
}

type parquetCodec struct{}

func (parquetCodec) name() string { return "parquet" }

func (parquetCodec) read(_ context.Context, path string) ([]model.Entry, error) {
	rows, err := parquet.ReadFile[parquetRow](path)
	if err != nil {
		return nil, eris.Wrap(err, "parquet: read snapshot")
	}
	out := make([]model.Entry, 0, len(rows))
	for _, r := range rows {
		e := model.Entry{Key: r.Key, Observed: time.UnixMilli(r.ObservedMs).UTC()}
		if len(r.Fields) > 0 {
			e.Fields = make(map[string]string, len(r.Fields))
			for _, f := range r.Fields {
				e.Fields[f.Name] = f.Value
			}
		}
		out = append(out, e)
	}
	return out, nil
}

func (parquetCodec) write(_ context.Context, path string, entries []model.Entry) error {
	rows := make([]parquetRow, len(entries))
	for i, e := range entries {
		r := parquetRow{Key: e.Key, ObservedMs: e.Observed.UnixMilli()}
		names := make([]string, 0, len(e.Fields))
		for n := range e.Fields {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			r.Fields = append(r.Fields, parquetField{Name: n, Value: e.Fields[n]})
		}
		rows[i] = r
	}

	f, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "parquet: create file")
	}
	if err := parquet.Write(f, rows); err != nil {
		_ = f.Close()
		return eris.Wrap(err, "parquet: write rows")
	}
	return eris.Wrap(f.Close(), "parquet: close file")
}
