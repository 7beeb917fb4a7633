package connector

import (
	"bytes"
	"io"
	"sort"

	"github.com/parquet-go/parquet-go"
	"github.com/pkg/errors"
	"github.com/stanstork/datafactory/internal/apperrors"
	"github.com/stanstork/datafactory/internal/models"
)

const parquetBatchSize = 256

// NewParquetSink writes <destination>.parquet files into a directory. Every
// column is stored as an optional UTF-8 string, so nil cells survive as nulls.
func NewParquetSink(cfg models.ConnectorConfig) (Sink, error) {
	s, _, err := newFileSink("parquet", ".parquet", cfg)
	if err != nil {
		return nil, err
	}
	s.encode = encodeParquet
	s.decode = decodeParquet
	return s, nil
}

// parquetSchema returns the schema for the columns and, for each dataset
// column, the index of its leaf. Group fields are ordered by name.
func parquetSchema(columns []string) (*parquet.Schema, []int, error) {
	if len(columns) == 0 {
		return nil, nil, apperrors.Validationf("parquet output needs at least one column")
	}
	group := make(parquet.Group, len(columns))
	for _, col := range columns {
		if _, dup := group[col]; dup {
			return nil, nil, apperrors.Validationf("duplicate column %q", col)
		}
		group[col] = parquet.Optional(parquet.String())
	}

	sorted := append([]string(nil), columns...)
	sort.Strings(sorted)
	leaf := make(map[string]int, len(sorted))
	for i, col := range sorted {
		leaf[col] = i
	}
	index := make([]int, len(columns))
	for i, col := range columns {
		index[i] = leaf[col]
	}
	return parquet.NewSchema("row", group), index, nil
}

func encodeParquet(w io.Writer, ds *Dataset) error {
	schema, index, err := parquetSchema(ds.Columns)
	if err != nil {
		return err
	}
	writer := parquet.NewWriter(w, schema)

	batch := make([]parquet.Row, 0, parquetBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if _, err := writer.WriteRows(batch); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	for _, src := range ds.Rows {
		row := make(parquet.Row, len(ds.Columns))
		for i, col := range index {
			var cell interface{}
			if i < len(src) {
				cell = src[i]
			}
			if cell == nil {
				row[col] = parquet.NullValue().Level(0, 0, col)
			} else {
				row[col] = parquet.ByteArrayValue([]byte(formatValue(cell))).Level(0, 1, col)
			}
		}
		batch = append(batch, row)
		if len(batch) == parquetBatchSize {
			if err := flush(); err != nil {
				return errors.Wrap(err, "write parquet rows")
			}
		}
	}
	if err := flush(); err != nil {
		return errors.Wrap(err, "write parquet rows")
	}
	return errors.Wrap(writer.Close(), "close parquet writer")
}

// decodeParquet reads a flat parquet file back. Columns come out in leaf
// order, which is alphabetical for files this sink wrote.
func decodeParquet(r io.Reader) (*Dataset, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "read parquet file")
	}
	reader := parquet.NewReader(bytes.NewReader(raw))
	defer reader.Close()

	paths := reader.Schema().Columns()
	ds := &Dataset{Columns: make([]string, len(paths)), Rows: [][]interface{}{}}
	for i, path := range paths {
		ds.Columns[i] = path[len(path)-1]
	}

	buf := make([]parquet.Row, parquetBatchSize)
	for {
		n, err := reader.ReadRows(buf)
		for _, values := range buf[:n] {
			row := make([]interface{}, len(paths))
			for _, v := range values {
				if c := v.Column(); c >= 0 && c < len(row) && !v.IsNull() {
					row[c] = string(v.ByteArray())
				}
			}
			ds.Rows = append(ds.Rows, row)
		}
		if err == io.EOF {
			return ds, nil
		}
		if err != nil {
			return nil, errors.Wrap(err, "read parquet rows")
		}
		if n == 0 {
			return ds, nil
		}
	}
}
