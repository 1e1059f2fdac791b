// Package parser streams tabular sources into header-keyed records.
//
// A Reader is single-pass: once the records are consumed it cannot be rewound,
// the source has to be opened again.
package parser

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"

	"github.com/RezaEskandarii/csvimport/custom_errors"
	"github.com/RezaEskandarii/csvimport/types"
)

const utf8BOM = "\uFEFF"

var errEmptySource = errors.New("empty source: no header line")

// Record maps a header name to the trimmed value of one data line.
// Headers without a value on the line are absent from the map.
type Record map[string]string

// Get returns the value for name and whether the line carried it.
func (r Record) Get(name string) (string, bool) {
	v, ok := r[name]
	return v, ok
}

type recordSource interface {
	Read() ([]string, error)
}

type Reader struct {
	source     string
	src        recordSource
	header     []string
	current    Record
	line       int
	err        error
	done       bool
	errYielded bool
	closer     func() error
}

// New opens a reader for the given format (types.FormatCSV or types.FormatXLSX).
func New(format, source string, r io.Reader) (*Reader, error) {
	switch format {
	case types.FormatCSV, "":
		return NewCSVReader(source, r)
	case types.FormatXLSX:
		return NewXLSXReader(source, r)
	default:
		return nil, custom_errors.NewParseError(source, 0, fmt.Errorf("unsupported format %q", format))
	}
}

// NewCSVReader reads the header line of a comma separated source.
func NewCSVReader(source string, r io.Reader) (*Reader, error) {
	if r == nil {
		return nil, custom_errors.NewParseError(source, 0, errors.New("nil source"))
	}
	cr := csv.NewReader(r)
	// ragged lines are mapped positionally instead of rejected
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = false
	return newReader(source, cr, nil)
}

func newReader(source string, src recordSource, closer func() error) (*Reader, error) {
	reader := &Reader{source: source, src: src, closer: closer}

	header, err := src.Read()
	if err != nil {
		_ = reader.Close()
		if errors.Is(err, io.EOF) {
			return nil, custom_errors.NewParseError(source, 0, errEmptySource)
		}
		return nil, custom_errors.NewParseError(source, 1, err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], utf8BOM)
	}
	reader.header = make([]string, len(header))
	for i, h := range header {
		reader.header[i] = strings.TrimSpace(h)
	}
	reader.line = 1
	return reader, nil
}

// Header returns the trimmed field names of the first line.
func (r *Reader) Header() []string {
	out := make([]string, len(r.header))
	copy(out, r.header)
	return out
}

// HasColumns reports whether every required name is present in the header.
func (r *Reader) HasColumns(required ...string) bool {
	present := make(map[string]struct{}, len(r.header))
	for _, h := range r.header {
		present[h] = struct{}{}
	}
	for _, col := range required {
		if _, ok := present[col]; !ok {
			return false
		}
	}
	return true
}

// Next advances to the next record. It returns false at the end of the source
// or on the first error, which is then available from Err.
func (r *Reader) Next() bool {
	if r.done {
		return false
	}

	fields, err := r.src.Read()
	if err != nil {
		if !errors.Is(err, io.EOF) {
			r.err = custom_errors.NewParseError(r.source, r.errorLine(err), err)
		}
		r.finish()
		return false
	}

	r.line++
	n := min(len(r.header), len(fields))
	record := make(Record, n)
	for i := 0; i < n; i++ {
		record[r.header[i]] = strings.TrimSpace(fields[i])
	}
	r.current = record
	return true
}

// Record returns the record read by the last successful call to Next.
func (r *Reader) Record() Record {
	return r.current
}

func (r *Reader) Err() error {
	return r.err
}

// All yields the remaining records. A read error is yielded once, as the last element.
func (r *Reader) All() iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		for r.Next() {
			if !yield(r.Record(), nil) {
				return
			}
		}
		if r.err != nil && !r.errYielded {
			r.errYielded = true
			yield(nil, r.err)
		}
	}
}

// Close releases resources held by the underlying decoder. It does not close the io.Reader.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	closer := r.closer
	r.closer = nil
	return closer()
}

func (r *Reader) finish() {
	r.done = true
	r.current = nil
	if err := r.Close(); err != nil && r.err == nil {
		r.err = custom_errors.NewParseError(r.source, 0, err)
	}
}

func (r *Reader) errorLine(err error) int {
	var csvErr *csv.ParseError
	if errors.As(err, &csvErr) {
		return csvErr.Line
	}
	return r.line + 1
}

// ValidateColumns reads only the header line of a CSV source and reports
// whether it contains all required columns. Missing columns are not an error.
func ValidateColumns(source string, r io.Reader, required []string) (bool, error) {
	reader, err := NewCSVReader(source, r)
	if err != nil {
		return false, err
	}
	defer reader.Close()
	return reader.HasColumns(required...), nil
}
