package connector

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"
	"github.com/stanstork/datafactory/internal/apperrors"
	"github.com/stanstork/datafactory/internal/models"
)

type csvSourceConfig struct {
	FilePath  string `mapstructure:"file_path"`
	Delimiter string `mapstructure:"delimiter"`
}

type fileSinkConfig struct {
	Directory string `mapstructure:"directory"`
	Delimiter string `mapstructure:"delimiter"`
}

func delimiter(kind, s string) (rune, error) {
	if s == "" {
		return ',', nil
	}
	r, size := utf8.DecodeRuneInString(s)
	if size != len(s) || r == utf8.RuneError || r == '"' || r == '\n' || r == '\r' {
		return 0, apperrors.Configurationf("%s delimiter %q must be a single character", kind, s)
	}
	return r, nil
}

// NewCSVSource reads a CSV file whose first record is the header.
func NewCSVSource(cfg models.ConnectorConfig) (Source, error) {
	var c csvSourceConfig
	if err := decodeConfig("csv", cfg, &c); err != nil {
		return nil, err
	}
	if err := required("csv", map[string]string{"file_path": c.FilePath}); err != nil {
		return nil, err
	}
	comma, err := delimiter("csv", c.Delimiter)
	if err != nil {
		return nil, err
	}
	return &csvSource{path: c.FilePath, comma: comma}, nil
}

type csvSource struct {
	path  string
	comma rune
}

func (s *csvSource) Read(_ context.Context, _ string) (*Dataset, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", s.path)
	}
	defer f.Close()
	return decodeCSV(f, s.comma)
}

func (s *csvSource) Close() error { return nil }

func decodeCSV(r io.Reader, comma rune) (*Dataset, error) {
	reader := csv.NewReader(r)
	reader.Comma = comma
	reader.FieldsPerRecord = 0

	header, err := reader.Read()
	if err == io.EOF {
		return &Dataset{Columns: []string{}, Rows: [][]interface{}{}}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read csv header")
	}

	ds := &Dataset{Columns: header, Rows: [][]interface{}{}}
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "read csv record")
		}
		row := make([]interface{}, len(record))
		for i, v := range record {
			row[i] = v
		}
		ds.Rows = append(ds.Rows, row)
	}
	return ds, nil
}

func encodeCSV(w io.Writer, ds *Dataset, comma rune) error {
	writer := csv.NewWriter(w)
	writer.Comma = comma
	if err := writer.Write(ds.Columns); err != nil {
		return err
	}
	record := make([]string, len(ds.Columns))
	for _, row := range ds.Rows {
		for i := range record {
			record[i] = ""
			if i < len(row) {
				record[i] = formatValue(row[i])
			}
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func formatValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}

// fileSink writes one file per destination into a directory.
type fileSink struct {
	dir    string
	ext    string
	encode func(io.Writer, *Dataset) error
	decode func(io.Reader) (*Dataset, error)
}

func newFileSink(kind, ext string, cfg models.ConnectorConfig) (*fileSink, fileSinkConfig, error) {
	var c fileSinkConfig
	if err := decodeConfig(kind, cfg, &c); err != nil {
		return nil, c, err
	}
	if err := required(kind, map[string]string{"directory": c.Directory}); err != nil {
		return nil, c, err
	}
	return &fileSink{dir: c.Directory, ext: ext}, c, nil
}

func NewCSVSink(cfg models.ConnectorConfig) (Sink, error) {
	s, c, err := newFileSink("csv", ".csv", cfg)
	if err != nil {
		return nil, err
	}
	comma, err := delimiter("csv", c.Delimiter)
	if err != nil {
		return nil, err
	}
	s.encode = func(w io.Writer, ds *Dataset) error { return encodeCSV(w, ds, comma) }
	s.decode = func(r io.Reader) (*Dataset, error) { return decodeCSV(r, comma) }
	return s, nil
}

func NewJSONSink(cfg models.ConnectorConfig) (Sink, error) {
	s, _, err := newFileSink("json", ".json", cfg)
	if err != nil {
		return nil, err
	}
	s.encode = encodeJSON
	s.decode = decodeJSON
	return s, nil
}

func (s *fileSink) Write(_ context.Context, ds *Dataset, destination string) (int64, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return 0, errors.Wrapf(err, "create directory %s", s.dir)
	}
	path := filepath.Join(s.dir, destination+s.ext)

	// write to a temp file first so readers never see a partial object
	tmp, err := os.CreateTemp(s.dir, "."+destination+"-*"+s.ext)
	if err != nil {
		return 0, errors.Wrapf(err, "create %s", path)
	}
	defer os.Remove(tmp.Name())

	if err := s.encode(tmp, ds); err != nil {
		tmp.Close()
		return 0, errors.Wrapf(err, "write %s", path)
	}
	if err := tmp.Close(); err != nil {
		return 0, errors.Wrapf(err, "write %s", path)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return 0, errors.Wrapf(err, "replace %s", path)
	}
	return int64(ds.Len()), nil
}

func (s *fileSink) Objects(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, errors.Wrapf(err, "list %s", s.dir)
	}
	objects := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != s.ext {
			continue
		}
		objects = append(objects, strings.TrimSuffix(name, s.ext))
	}
	sort.Strings(objects)
	return objects, nil
}

func (s *fileSink) Preview(_ context.Context, object string, limit int) (*Dataset, error) {
	if strings.ContainsAny(object, `/\`) || object == ".." {
		return nil, apperrors.Validationf("invalid object name %q", object)
	}
	f, err := os.Open(filepath.Join(s.dir, object+s.ext))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.NotFoundf("object %q not found", object)
		}
		return nil, errors.Wrapf(err, "open %s", object)
	}
	defer f.Close()
	ds, err := s.decode(f)
	if err != nil {
		return nil, err
	}
	return ds.Limit(limit), nil
}

func (s *fileSink) Close() error { return nil }

type jsonSourceConfig struct {
	FilePath string `mapstructure:"file_path"`
}

// NewJSONSource reads a file holding a JSON array of objects.
func NewJSONSource(cfg models.ConnectorConfig) (Source, error) {
	var c jsonSourceConfig
	if err := decodeConfig("json", cfg, &c); err != nil {
		return nil, err
	}
	if err := required("json", map[string]string{"file_path": c.FilePath}); err != nil {
		return nil, err
	}
	return &jsonSource{path: c.FilePath}, nil
}

type jsonSource struct {
	path string
}

func (s *jsonSource) Read(_ context.Context, _ string) (*Dataset, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", s.path)
	}
	defer f.Close()
	return decodeJSON(f)
}

func (s *jsonSource) Close() error { return nil }

// decodeJSON turns an array of objects into a dataset whose columns are
// the sorted union of the object keys.
func decodeJSON(r io.Reader) (*Dataset, error) {
	var records []map[string]interface{}
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, errors.Wrap(err, "decode json records")
	}

	seen := make(map[string]struct{})
	columns := []string{}
	for _, rec := range records {
		for k := range rec {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				columns = append(columns, k)
			}
		}
	}
	sort.Strings(columns)

	ds := &Dataset{Columns: columns, Rows: make([][]interface{}, 0, len(records))}
	for _, rec := range records {
		row := make([]interface{}, len(columns))
		for i, col := range columns {
			row[i] = rec[col]
		}
		ds.Rows = append(ds.Rows, row)
	}
	return ds, nil
}

func encodeJSON(w io.Writer, ds *Dataset) error {
	records := make([]map[string]interface{}, 0, ds.Len())
	for _, row := range ds.Rows {
		rec := make(map[string]interface{}, len(ds.Columns))
		for i, col := range ds.Columns {
			if i < len(row) {
				rec[col] = row[i]
			} else {
				rec[col] = nil
			}
		}
		records = append(records, rec)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}
