package task

import (
	"github.com/RezaEskandarii/csvimport/internal/parser"
	"github.com/RezaEskandarii/csvimport/types"
)

// columnSetters is the fixed mapping from source headers to row fields.
// Headers outside the table are ignored.
var columnSetters = map[string]func(row *types.Row, value *string){
	"name":       func(row *types.Row, value *string) { row.Name = value },
	"role":       func(row *types.Row, value *string) { row.Role = value },
	"location":   func(row *types.Row, value *string) { row.Location = value },
	"extra_info": func(row *types.Row, value *string) { row.ExtraInfo = value },
}

// toRow maps a parsed record; a header without a value leaves the field nil.
func toRow(ordinal int, record parser.Record) types.Row {
	row := types.Row{Ordinal: ordinal}
	for header, set := range columnSetters {
		if value, ok := record.Get(header); ok {
			set(&row, &value)
		}
	}
	return row
}
