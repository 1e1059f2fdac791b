package parser

import (
	"errors"
	"io"

	"github.com/RezaEskandarii/csvimport/custom_errors"
	"github.com/xuri/excelize/v2"
)

type xlsxRows struct {
	rows *excelize.Rows
}

func (x *xlsxRows) Read() ([]string, error) {
	for x.rows.Next() {
		cols, err := x.rows.Columns()
		if err != nil {
			return nil, err
		}
		if isBlank(cols) {
			continue
		}
		return cols, nil
	}
	if err := x.rows.Error(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func isBlank(cols []string) bool {
	for _, c := range cols {
		if c != "" {
			return false
		}
	}
	return true
}

// NewXLSXReader reads the first worksheet of a workbook; its first non-blank row is the header.
func NewXLSXReader(source string, r io.Reader) (*Reader, error) {
	if r == nil {
		return nil, custom_errors.NewParseError(source, 0, errors.New("nil source"))
	}
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, custom_errors.NewParseError(source, 0, err)
	}

	sheet := f.GetSheetName(0)
	if sheet == "" {
		_ = f.Close()
		return nil, custom_errors.NewParseError(source, 0, errors.New("workbook has no sheets"))
	}

	rows, err := f.Rows(sheet)
	if err != nil {
		_ = f.Close()
		return nil, custom_errors.NewParseError(source, 0, err)
	}

	closer := func() error {
		rowsErr := rows.Close()
		if err := f.Close(); err != nil {
			return err
		}
		return rowsErr
	}
	return newReader(source, &xlsxRows{rows: rows}, closer)
}
