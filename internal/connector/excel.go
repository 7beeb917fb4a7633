package connector

import (
	"context"

	"github.com/pkg/errors"
	"github.com/stanstork/datafactory/internal/models"
	"github.com/xuri/excelize/v2"
)

type excelSourceConfig struct {
	FilePath  string `mapstructure:"file_path"`
	SheetName string `mapstructure:"sheet_name"`
}

// NewExcelSource reads one worksheet of an .xlsx workbook. The first row is
// the header; sheet_name defaults to the first sheet in the workbook.
func NewExcelSource(cfg models.ConnectorConfig) (Source, error) {
	var c excelSourceConfig
	if err := decodeConfig("excel", cfg, &c); err != nil {
		return nil, err
	}
	if err := required("excel", map[string]string{"file_path": c.FilePath}); err != nil {
		return nil, err
	}
	return &excelSource{path: c.FilePath, sheet: c.SheetName}, nil
}

type excelSource struct {
	path  string
	sheet string
}

func (s *excelSource) Read(_ context.Context, _ string) (*Dataset, error) {
	f, err := excelize.OpenFile(s.path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", s.path)
	}
	defer f.Close()

	sheet := s.sheet
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, errors.Errorf("workbook %s has no sheets", s.path)
		}
		sheet = sheets[0]
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, errors.Wrapf(err, "read sheet %q", sheet)
	}
	if len(rows) == 0 {
		return &Dataset{Columns: []string{}, Rows: [][]interface{}{}}, nil
	}

	ds := &Dataset{Columns: rows[0], Rows: make([][]interface{}, 0, len(rows)-1)}
	for _, cells := range rows[1:] {
		// trailing empty cells are trimmed by excelize
		row := make([]interface{}, len(ds.Columns))
		for i := range row {
			if i < len(cells) {
				row[i] = cells[i]
			} else {
				row[i] = ""
			}
		}
		ds.Rows = append(ds.Rows, row)
	}
	return ds, nil
}

func (s *excelSource) Close() error { return nil }
