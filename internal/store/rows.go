package store

import (
	"cmp"
	"slices"

	"github.com/RezaEskandarii/csvimport/internal/state"
	"github.com/RezaEskandarii/csvimport/types"
)

// NormalizeRows stamps jobID on every row, numbers rows without an ordinal by
// position and drops repeated ordinals, keeping the first occurrence.
func NormalizeRows(jobID int64, rows []types.Row) []types.Row {
	out := make([]types.Row, 0, len(rows))
	seen := make(map[int]struct{}, len(rows))
	for i, row := range rows {
		row.JobID = jobID
		if row.Ordinal <= 0 {
			row.Ordinal = i + 1
		}
		if _, ok := seen[row.Ordinal]; ok {
			continue
		}
		seen[row.Ordinal] = struct{}{}
		out = append(out, row)
	}
	slices.SortStableFunc(out, func(a, b types.Row) int {
		return cmp.Compare(a.Ordinal, b.Ordinal)
	})
	return out
}

// Chunk splits rows into batches of at most size rows.
func Chunk(rows []types.Row, size int) [][]types.Row {
	if len(rows) == 0 {
		return nil
	}
	if size <= 0 {
		return [][]types.Row{rows}
	}
	var batches [][]types.Row
	for start := 0; start < len(rows); start += size {
		end := min(start+size, len(rows))
		batches = append(batches, rows[start:end])
	}
	return batches
}

// StatusesAsStrings converts statuses for driver arguments.
func StatusesAsStrings(statuses []state.JobStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
