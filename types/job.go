package types

import (
	"time"

	"github.com/RezaEskandarii/csvimport/internal/state"
)

// Source formats accepted by the importer.
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

// Job is one uploaded source and its processing outcome.
type Job struct {
	ID          int64           `json:"id"`
	OwnerID     *int64          `json:"owner_id"`
	SourceRef   string          `json:"file_path"`
	Format      string          `json:"format"`
	FileName    string          `json:"original_filename"`
	Status      state.JobStatus `json:"status"`
	ErrorDetail *string         `json:"error_message"`
	Attempts    int             `json:"attempts"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Row is one parsed data record of a job. Nil fields are absent in the source.
type Row struct {
	ID        int64
	JobID     int64
	Ordinal   int
	Name      *string
	Role      *string
	Location  *string
	ExtraInfo *string
}

type User struct {
	ID       int64
	Username string
	Password string
}
